package gcp

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// ErrMissingCredentials is returned when the service account is incomplete.
var ErrMissingCredentials = errors.New("gcp: service account client_email and private_key are required")

// ServiceAccount is the subset of a Google service-account key file this
// service needs.
type ServiceAccount struct {
	ProjectID   string `json:"project_id"`
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ParseServiceAccountJSON decodes a service-account key file.
func ParseServiceAccountJSON(data []byte) (ServiceAccount, error) {
	var sa ServiceAccount
	if err := json.Unmarshal(data, &sa); err != nil {
		return ServiceAccount{}, fmt.Errorf("gcp: decode service account: %w", err)
	}
	return sa, sa.Validate()
}

// Validate checks that the account can be used for signing.
func (sa ServiceAccount) Validate() error {
	if strings.TrimSpace(sa.ClientEmail) == "" || strings.TrimSpace(sa.PrivateKey) == "" {
		return ErrMissingCredentials
	}
	return nil
}

// RSAKey parses the PEM private key (PKCS8 or PKCS1). Keys copied from env
// vars often carry literal "\n" sequences, which are normalized first.
func (sa ServiceAccount) RSAKey() (*rsa.PrivateKey, error) {
	if err := sa.Validate(); err != nil {
		return nil, err
	}
	pemData := strings.ReplaceAll(sa.PrivateKey, `\n`, "\n")
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("gcp: parse private key: %w", err)
	}
	return key, nil
}
