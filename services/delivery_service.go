package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/models"
	aws_pkg "github.com/yashrajoria/fotofacil-backend/pkg/aws"
	"github.com/yashrajoria/fotofacil-backend/repository"
)

// DeliveryFile is one purchased original.
type DeliveryFile struct {
	PhotoID      uuid.UUID `json:"photo_id"`
	Filename     string    `json:"filename"`
	URL          string    `json:"url"`
	URLExpiresAt time.Time `json:"url_expires_at"`
}

// Delivery is the unlocked content of a paid order.
type Delivery struct {
	OrderID     uuid.UUID      `json:"order_id"`
	ExpiresAt   time.Time      `json:"expires_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	Files       []DeliveryFile `json:"files"`
}

type DeliveryService struct {
	orders  repository.OrderRepository
	signer  *SigningService
	metrics aws_pkg.Recorder
	logger  *zap.Logger
	now     func() time.Time
}

func NewDeliveryService(orders repository.OrderRepository, signer *SigningService, metrics aws_pkg.Recorder, logger *zap.Logger) *DeliveryService {
	return &DeliveryService{
		orders:  orders,
		signer:  signer,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// ValidateDelivery checks (order, token) and returns short-lived links to
// the originals. Checks run in a fixed order: existence, token, payment,
// expiry.
func (s *DeliveryService) ValidateDelivery(ctx context.Context, rawOrderID, token string) (*Delivery, *ServiceError) {
	orderID, err := uuid.Parse(rawOrderID)
	if err != nil {
		return nil, s.reject(notFound(CodeOrderNotFound, "Order not found. Check the link and try again."))
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, s.reject(notFound(CodeOrderNotFound, "Order not found. Check the link and try again."))
	}
	if err != nil {
		return nil, internalError("Failed to load order", err)
	}

	if order.DeliveryToken == nil || subtle.ConstantTimeCompare([]byte(*order.DeliveryToken), []byte(token)) != 1 {
		return nil, s.reject(forbidden(CodeInvalidToken, "This download link is not valid."))
	}
	if order.Status != models.OrderStatusPaid {
		return nil, s.reject(forbidden(CodePaymentNotConfirmed, "Payment for this order has not been confirmed yet."))
	}
	now := s.now()
	if order.DeliveryExpiresAt == nil || now.After(*order.DeliveryExpiresAt) {
		return nil, s.reject(forbidden(CodeLinkExpired, "This download link has expired. Please contact support to receive a new one."))
	}

	files := make([]DeliveryFile, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Photo == nil {
			return nil, internalError("Order item has no photo", errors.New(item.PhotoID.String()))
		}
		originalPath := OriginalPathFor(item.Photo)
		if originalPath == "" {
			return nil, internalError("Original file is missing", errors.New(item.PhotoID.String()))
		}
		link, err := s.signer.issue(ctx, originalPath, DeliveryURLMinutes)
		if err != nil {
			return nil, upstreamError(CodeSigning, "Failed to prepare download links", err)
		}
		files = append(files, DeliveryFile{
			PhotoID:      item.PhotoID,
			Filename:     item.Photo.Filename,
			URL:          link.URL,
			URLExpiresAt: link.ExpiresAt,
		})
	}

	deliveredAt := order.DeliveredAt
	first, err := s.orders.MarkDelivered(ctx, order.ID, now.UTC())
	if err != nil {
		s.logger.Warn("failed to record delivery", zap.String("order_id", order.ID.String()), zap.Error(err))
	} else if first {
		t := now.UTC()
		deliveredAt = &t
		s.logger.Info("order delivered", zap.String("order_id", order.ID.String()), zap.Int("files", len(files)))
	}
	recordCount(s.metrics, aws_pkg.MetricDeliveriesServed, nil)

	return &Delivery{
		OrderID:     order.ID,
		ExpiresAt:   *order.DeliveryExpiresAt,
		DeliveredAt: deliveredAt,
		Files:       files,
	}, nil
}

func (s *DeliveryService) reject(serr *ServiceError) *ServiceError {
	recordCount(s.metrics, aws_pkg.MetricDeliveryRejected, map[string]string{"Reason": serr.Code})
	return serr
}

// OriginalPathFor returns the private path of a photo's original. Rows
// without a stored path fall back to rewriting the watermarked location.
// Watermarked copies are re-encoded as JPEG, so the rewritten path takes the
// extension of the stored filename, which keeps the original's.
func OriginalPathFor(p *models.Photo) string {
	if p.OriginalPath != "" {
		return p.OriginalPath
	}
	src := p.WatermarkedPath
	if src == "" {
		src = p.WatermarkedURL
	}
	i := strings.Index(src, watermarkedPrefix+"/")
	if i < 0 {
		return ""
	}
	rel := src[i+len(watermarkedPrefix)+1:]
	if ext := path.Ext(p.Filename); ext != "" {
		rel = strings.TrimSuffix(rel, path.Ext(rel)) + ext
	}
	return originalsPrefix + "/" + rel
}
