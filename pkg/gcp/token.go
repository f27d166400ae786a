package gcp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	DefaultTokenURI = "https://oauth2.googleapis.com/token"

	// StorageFullControlScope grants read/write on bucket contents.
	StorageFullControlScope = "https://www.googleapis.com/auth/devstorage.full_control"

	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	assertionLifetime  = time.Hour
)

// ErrNoAccessToken means the token endpoint answered without an access token.
// Callers must abort the storage operation that needed it.
var ErrNoAccessToken = errors.New("gcp: token endpoint returned no access token")

// Token is a short-lived bearer token for the storage API.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
}

// TokenProvider exchanges a signed service-account assertion for a bearer
// token. It keeps no token cache: every call performs one exchange.
type TokenProvider struct {
	account    ServiceAccount
	key        *rsa.PrivateKey
	tokenURI   string
	scope      string
	httpClient *http.Client
	now        func() time.Time
}

// NewTokenProvider builds a provider for the given service account.
func NewTokenProvider(account ServiceAccount, httpClient *http.Client) (*TokenProvider, error) {
	key, err := account.RSAKey()
	if err != nil {
		return nil, err
	}
	tokenURI := account.TokenURI
	if tokenURI == "" {
		tokenURI = DefaultTokenURI
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &TokenProvider{
		account:    account,
		key:        key,
		tokenURI:   tokenURI,
		scope:      StorageFullControlScope,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// Issuer returns the service-account email used as JWT issuer.
func (p *TokenProvider) Issuer() string { return p.account.ClientEmail }

// Key returns the parsed private key so the URL signer can share it.
func (p *TokenProvider) Key() *rsa.PrivateKey { return p.key }

// Assertion builds the RS256 JWT sent to the token endpoint.
func (p *TokenProvider) Assertion() (string, error) {
	iat := p.now()
	claims := jwt.MapClaims{
		"iss":   p.account.ClientEmail,
		"scope": p.scope,
		"aud":   p.tokenURI,
		"iat":   iat.Unix(),
		"exp":   iat.Add(assertionLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["typ"] = "JWT"
	signed, err := token.SignedString(p.key)
	if err != nil {
		return "", fmt.Errorf("gcp: sign assertion: %w", err)
	}
	return signed, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Token performs a single assertion exchange.
func (p *TokenProvider) Token(ctx context.Context) (*Token, error) {
	assertion, err := p.Assertion()
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("gcp: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gcp: token exchange: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gcp: read token response: %w", err)
	}

	var tr tokenResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &tr); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("gcp: decode token response: %w", err)
		}
	}

	if tr.AccessToken == "" {
		if tr.Error != "" {
			return nil, fmt.Errorf("%w (status %d): %s %s", ErrNoAccessToken, resp.StatusCode, tr.Error, tr.ErrorDescription)
		}
		return nil, fmt.Errorf("%w (status %d)", ErrNoAccessToken, resp.StatusCode)
	}

	expiresIn := time.Duration(tr.ExpiresIn) * time.Second
	if expiresIn <= 0 {
		expiresIn = assertionLifetime
	}
	return &Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		ExpiresAt:   p.now().Add(expiresIn),
	}, nil
}

// TokenWithRetry retries a transport-level failure once. A missing access
// token is never retried.
func (p *TokenProvider) TokenWithRetry(ctx context.Context) (*Token, error) {
	tok, err := p.Token(ctx)
	if err == nil || !isTransient(err) {
		return tok, err
	}
	return p.Token(ctx)
}

func isTransient(err error) bool {
	if errors.Is(err, ErrNoAccessToken) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
