package gcp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenProvider_ExchangesSignedAssertion(t *testing.T) {
	var tokenURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseForm()) {
			return
		}
		assert.Equal(t, jwtBearerGrantType, r.PostForm.Get("grant_type"))

		parsed, err := jwt.Parse(r.PostForm.Get("assertion"), func(tok *jwt.Token) (interface{}, error) {
			assert.Equal(t, jwt.SigningMethodRS256, tok.Method)
			return &testPrivateKey(t).PublicKey, nil
		})
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		claims := parsed.Claims.(jwt.MapClaims)
		assert.Equal(t, "uploader@studio-test.iam.gserviceaccount.com", claims["iss"])
		assert.Equal(t, StorageFullControlScope, claims["scope"])
		assert.Equal(t, tokenURI, claims["aud"])
		assert.Equal(t, float64(3600), claims["exp"].(float64)-claims["iat"].(float64))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ya29.test","token_type":"Bearer","expires_in":3599}`))
	}))
	defer srv.Close()
	tokenURI = srv.URL + "/token"

	p, err := NewTokenProvider(testAccount(t, tokenURI), srv.Client())
	require.NoError(t, err)
	now := time.Now()
	p.now = func() time.Time { return now }

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ya29.test", tok.AccessToken)
	assert.Equal(t, now.Add(3599*time.Second), tok.ExpiresAt)
}

func TestTokenProvider_NoAccessTokenIsFatal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid JWT Signature."}`))
	}))
	defer srv.Close()

	p, err := NewTokenProvider(testAccount(t, srv.URL), srv.Client())
	require.NoError(t, err)

	_, err = p.TokenWithRetry(context.Background())
	require.ErrorIs(t, err, ErrNoAccessToken)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestTokenProvider_EmptyBodyIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p, err := NewTokenProvider(testAccount(t, srv.URL), srv.Client())
	require.NoError(t, err)

	_, err = p.Token(context.Background())
	require.ErrorIs(t, err, ErrNoAccessToken)
}

type flakyTransport struct {
	failures int32
	calls    int32
	next     http.RoundTripper
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.RoundTrip(r)
}

func TestTokenProvider_RetriesTransportErrorOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"ya29.retry","expires_in":3600}`))
	}))
	defer srv.Close()

	transport := &flakyTransport{failures: 1, next: http.DefaultTransport}
	p, err := NewTokenProvider(testAccount(t, srv.URL), &http.Client{Transport: transport})
	require.NoError(t, err)

	tok, err := p.TokenWithRetry(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ya29.retry", tok.AccessToken)
	assert.Equal(t, int32(2), atomic.LoadInt32(&transport.calls))

	transport.failures = 10
	atomic.StoreInt32(&transport.calls, 0)
	_, err = p.TokenWithRetry(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection reset"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&transport.calls))
}
