package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

var ErrObjectNotFound = errors.New("object not found")

// Storage is a GCS bucket client. Requests are authorized with tokens from
// a TokenProvider; download URLs are signed locally by a URLSigner.
type Storage struct {
	bucket     string
	client     *storage.Client
	signer     *URLSigner
	publicBase string
}

// tokenSource feeds TokenProvider tokens to the storage client transport.
// The transport asks for a token on every request, so each call is a fresh
// exchange.
type tokenSource struct {
	ctx    context.Context
	tokens *TokenProvider
}

func (ts tokenSource) Token() (*oauth2.Token, error) {
	tok, err := ts.tokens.TokenWithRetry(ts.ctx)
	if err != nil {
		return nil, err
	}
	tokenType := tok.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{AccessToken: tok.AccessToken, TokenType: tokenType, Expiry: tok.ExpiresAt}, nil
}

// NewStorage wires a bucket client from a service account. Extra options
// are passed to storage.NewClient after the token source.
func NewStorage(ctx context.Context, bucket string, account ServiceAccount, opts ...option.ClientOption) (*Storage, error) {
	tokens, err := NewTokenProvider(account, nil)
	if err != nil {
		return nil, err
	}
	signer, err := NewURLSigner(bucket, account.ClientEmail, tokens.Key())
	if err != nil {
		return nil, err
	}

	clientOpts := append([]option.ClientOption{
		option.WithTokenSource(tokenSource{ctx: context.WithoutCancel(ctx), tokens: tokens}),
	}, opts...)
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}

	return &Storage{
		bucket:     bucket,
		client:     client,
		signer:     signer,
		publicBase: "https://" + StorageHost,
	}, nil
}

// Close releases the underlying client.
func (s *Storage) Close() error {
	return s.client.Close()
}

// Upload writes data byte-for-byte to path, replacing any existing object.
func (s *Storage) Upload(ctx context.Context, path, contentType string, data []byte) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType
	// single request; images fit in memory already
	w.ChunkSize = 0

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: upload %q: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: upload %q: %w", path, err)
	}
	return nil
}

// Download returns the object contents.
func (s *Storage) Download(ctx context.Context, path string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("gcs: %w: %s", ErrObjectNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs: download %q: %w", path, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs: read %q: %w", path, err)
	}
	return data, nil
}

// Delete removes the object. A missing object is not an error.
func (s *Storage) Delete(ctx context.Context, path string) error {
	err := s.client.Bucket(s.bucket).Object(path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs: delete %q: %w", path, err)
	}
	return nil
}

// PublicURL is the permanent URL of an object in a publicly readable prefix.
func (s *Storage) PublicURL(path string) string {
	return s.publicBase + "/" + s.bucket + "/" + escapeV4(path, true)
}

// SignedURL returns a V4 signed GET URL valid for `minutes`.
func (s *Storage) SignedURL(_ context.Context, path string, minutes int) (string, time.Time, error) {
	signed, err := s.signer.Sign(path, minutes)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed.URL, signed.ExpiresAt, nil
}
