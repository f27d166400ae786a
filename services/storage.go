package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	aws_pkg "github.com/yashrajoria/fotofacil-backend/pkg/aws"
)

// ObjectStore is the storage backend for originals, renditions and the
// watermark asset.
type ObjectStore interface {
	Upload(ctx context.Context, path, contentType string, data []byte) error
	Download(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	PublicURL(path string) string
	SignedURL(ctx context.Context, path string, minutes int) (string, time.Time, error)
}

// DeliveryURLMinutes is the validity of download links handed to buyers.
const DeliveryURLMinutes = 60

// SignedLink is a download URL for one object.
type SignedLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
	Signed    bool      `json:"signed"`
}

// SigningService issues signed GET URLs. When allowUnsigned is set a signing
// failure degrades to the public object URL instead of failing.
type SigningService struct {
	store         ObjectStore
	allowUnsigned bool
	metrics       aws_pkg.Recorder
	logger        *zap.Logger
}

func NewSigningService(store ObjectStore, allowUnsigned bool, metrics aws_pkg.Recorder, logger *zap.Logger) *SigningService {
	return &SigningService{store: store, allowUnsigned: allowUnsigned, metrics: metrics, logger: logger}
}

// Sign validates an admin-supplied path and signs it.
func (s *SigningService) Sign(ctx context.Context, path string, minutes int) (*SignedLink, *ServiceError) {
	path = strings.TrimSpace(path)
	if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "..") {
		return nil, validationError("path must be a relative object path")
	}
	if minutes <= 0 {
		minutes = DeliveryURLMinutes
	}
	link, err := s.issue(ctx, path, minutes)
	if err != nil {
		return nil, upstreamError(CodeSigning, "Failed to sign URL", err)
	}
	return link, nil
}

func (s *SigningService) issue(ctx context.Context, path string, minutes int) (*SignedLink, error) {
	url, expires, err := s.store.SignedURL(ctx, path, minutes)
	if err == nil {
		return &SignedLink{URL: url, ExpiresAt: expires, Signed: true}, nil
	}
	if !s.allowUnsigned {
		s.logger.Error("failed to sign url", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	s.logger.Warn("signing failed, serving unsigned public url",
		zap.String("path", path),
		zap.Error(err),
	)
	recordCount(s.metrics, aws_pkg.MetricUnsignedFallbacks, nil)
	return &SignedLink{URL: s.store.PublicURL(path), Signed: false}, nil
}

func recordCount(r aws_pkg.Recorder, name string, dims map[string]string) {
	if r == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.RecordCount(ctx, name, dims)
	}()
}
