package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/models"
	aws_pkg "github.com/yashrajoria/fotofacil-backend/pkg/aws"
	"github.com/yashrajoria/fotofacil-backend/repository"
	"github.com/yashrajoria/fotofacil-backend/watermark"
)

// Protection states reported for the public rendition.
const (
	ProtectionWatermarked        = "watermarked"
	ProtectionNone               = "none"
	ProtectionUnwatermarkedVideo = "unwatermarked_video"
	ProtectionUnprotected        = "unprotected"
)

const (
	originalsPrefix   = "originals"
	watermarkedPrefix = "watermarked"
	maxBaseNameLen    = 50
)

// ErrWatermarkUnavailable means the protected rendition could not be produced.
var ErrWatermarkUnavailable = errors.New("watermark unavailable")

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// UploadConfig holds the pipeline policies.
type UploadConfig struct {
	// FailOpen publishes the unmodified original at the protected path when
	// the watermark cannot be applied.
	FailOpen   bool
	BatchDelay time.Duration
}

// UploadInput is one file handed to the pipeline.
type UploadInput struct {
	Data        []byte
	Filename    string
	ContentType string
	Collection  string
	EventID     *uuid.UUID
	Watermark   bool
	UploadedBy  string
}

// UploadResult describes the stored artifacts of one upload.
type UploadResult struct {
	PhotoID       *uuid.UUID `json:"photo_id,omitempty"`
	OriginalURL   string     `json:"original_url"`
	ProtectedURL  string     `json:"protected_url"`
	OriginalPath  string     `json:"original_path"`
	ProtectedPath string     `json:"protected_path"`
	Filename      string     `json:"filename"`
	ContentType   string     `json:"content_type"`
	Size          int64      `json:"size"`
	Protection    string     `json:"protection"`
}

// BatchItemResult reports the outcome of one file in a batch.
type BatchItemResult struct {
	Filename string        `json:"filename"`
	Success  bool          `json:"success"`
	Result   *UploadResult `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
}

// DeleteResult tells whether a photo was removed or only disabled.
type DeleteResult struct {
	PhotoID     uuid.UUID `json:"photo_id"`
	Deleted     bool      `json:"deleted"`
	Deactivated bool      `json:"deactivated"`
}

type UploadService struct {
	store      ObjectStore
	signer     *SigningService
	photos     repository.PhotoRepository
	watermarks repository.WatermarkRepository
	cfg        UploadConfig
	metrics    aws_pkg.Recorder
	logger     *zap.Logger
	now        func() time.Time
	randomID   func() string
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewUploadService(
	store ObjectStore,
	signer *SigningService,
	photos repository.PhotoRepository,
	watermarks repository.WatermarkRepository,
	cfg UploadConfig,
	metrics aws_pkg.Recorder,
	logger *zap.Logger,
) *UploadService {
	return &UploadService{
		store:      store,
		signer:     signer,
		photos:     photos,
		watermarks: watermarks,
		cfg:        cfg,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
		randomID:   func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
		sleep:      sleepContext,
	}
}

// Upload stores the original privately and publishes a protected rendition.
func (s *UploadService) Upload(ctx context.Context, in UploadInput) (*UploadResult, *ServiceError) {
	if serr := validateUpload(in); serr != nil {
		return nil, serr
	}
	isVideo := strings.HasPrefix(in.ContentType, "video/")

	name, ext := s.storedName(in.Filename, in.ContentType)
	originalPath := objectPath(originalsPrefix, in.Collection, in.EventID, name+ext)

	log := s.logger.With(zap.String("original_path", originalPath), zap.String("collection", in.Collection))

	if err := s.store.Upload(ctx, originalPath, in.ContentType, in.Data); err != nil {
		log.Error("failed to upload original", zap.Error(err))
		recordCount(s.metrics, aws_pkg.MetricUploadFailures, map[string]string{"Stage": "original"})
		return nil, upstreamError(CodeStorage, "Failed to store original", err)
	}

	protectedData := in.Data
	protectedType := in.ContentType
	protectedExt := ext
	protection := ProtectionNone

	switch {
	case isVideo:
		protection = ProtectionUnwatermarkedVideo
		log.Warn("video published without watermark")
		recordCount(s.metrics, aws_pkg.MetricUnwatermarkedVideo, nil)
	case in.Watermark:
		rendered, err := s.render(ctx, in.Data)
		switch {
		case err == nil:
			protectedData = rendered
			protectedType = "image/jpeg"
			protectedExt = ".jpg"
			protection = ProtectionWatermarked
		case s.cfg.FailOpen:
			protection = ProtectionUnprotected
			log.Warn("watermark failed, publishing unprotected original", zap.Error(err))
			recordCount(s.metrics, aws_pkg.MetricWatermarkFallbacks, nil)
		default:
			log.Error("watermark failed, original left orphaned", zap.Error(err))
			recordCount(s.metrics, aws_pkg.MetricUploadFailures, map[string]string{"Stage": "watermark"})
			return nil, &ServiceError{
				StatusCode: http.StatusServiceUnavailable,
				Code:       CodeWatermarkUnavailable,
				Message:    "Watermark could not be applied; upload aborted",
				Err:        err,
			}
		}
	}

	protectedPath := objectPath(watermarkedPrefix, in.Collection, in.EventID, name+protectedExt)
	if err := s.store.Upload(ctx, protectedPath, protectedType, protectedData); err != nil {
		log.Error("failed to upload protected rendition, original left orphaned",
			zap.String("protected_path", protectedPath),
			zap.Error(err),
		)
		recordCount(s.metrics, aws_pkg.MetricUploadFailures, map[string]string{"Stage": "protected"})
		return nil, upstreamError(CodeStorage, "Failed to store protected rendition", err)
	}

	result := &UploadResult{
		ProtectedURL:  s.store.PublicURL(protectedPath),
		OriginalPath:  originalPath,
		ProtectedPath: protectedPath,
		Filename:      name + ext,
		ContentType:   in.ContentType,
		Size:          int64(len(in.Data)),
		Protection:    protection,
	}
	if link, err := s.signer.issue(ctx, originalPath, DeliveryURLMinutes); err != nil {
		log.Warn("could not sign original url", zap.Error(err))
	} else {
		result.OriginalURL = link.URL
	}

	if in.Collection == models.CollectionFotoFacil && in.EventID != nil {
		id, serr := s.registerPhoto(ctx, in, result)
		if serr != nil {
			return nil, serr
		}
		result.PhotoID = &id
	}

	recordCount(s.metrics, aws_pkg.MetricUploads, map[string]string{"Protection": protection})
	log.Info("upload stored",
		zap.String("protected_path", protectedPath),
		zap.String("protection", protection),
		zap.Int64("size", result.Size),
	)
	return result, nil
}

// UploadBatch runs files one after another with a pause between them. A
// failing file never stops the rest.
func (s *UploadService) UploadBatch(ctx context.Context, inputs []UploadInput) []BatchItemResult {
	results := make([]BatchItemResult, 0, len(inputs))
	for i, in := range inputs {
		if i > 0 && s.cfg.BatchDelay > 0 {
			if err := s.sleep(ctx, s.cfg.BatchDelay); err != nil {
				for _, rest := range inputs[i:] {
					results = append(results, BatchItemResult{Filename: rest.Filename, Error: "batch cancelled", Code: CodeInternal})
				}
				return results
			}
		}

		res, serr := s.Upload(ctx, in)
		if serr != nil {
			results = append(results, BatchItemResult{Filename: in.Filename, Error: serr.Message, Code: serr.Code})
			continue
		}
		results = append(results, BatchItemResult{Filename: in.Filename, Success: true, Result: res})
	}
	return results
}

// DeletePhoto removes a photo and its objects, or only disables it when an
// order references it.
func (s *UploadService) DeletePhoto(ctx context.Context, id uuid.UUID) (*DeleteResult, *ServiceError) {
	photo, err := s.photos.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound(CodeNotFound, "Photo not found")
	}
	if err != nil {
		return nil, internalError("Failed to load photo", err)
	}

	referenced, err := s.photos.IsReferenced(ctx, id)
	if err != nil {
		return nil, internalError("Failed to check photo references", err)
	}
	if referenced {
		if err := s.photos.Deactivate(ctx, id); err != nil {
			return nil, internalError("Failed to disable photo", err)
		}
		s.logger.Info("photo referenced by orders, disabled instead of deleted", zap.String("photo_id", id.String()))
		return &DeleteResult{PhotoID: id, Deactivated: true}, nil
	}

	for _, p := range []string{photo.OriginalPath, photo.WatermarkedPath} {
		if p == "" {
			continue
		}
		if err := s.store.Delete(ctx, p); err != nil {
			s.logger.Error("failed to delete object", zap.String("path", p), zap.Error(err))
			return nil, upstreamError(CodeStorage, "Failed to delete stored files", err)
		}
	}
	if err := s.photos.Delete(ctx, id); err != nil {
		return nil, internalError("Failed to delete photo", err)
	}
	return &DeleteResult{PhotoID: id, Deleted: true}, nil
}

// ReplaceWatermark swaps the studio seal. The object is written first and the
// record replaced afterwards with a bumped version.
func (s *UploadService) ReplaceWatermark(ctx context.Context, data []byte, uploadedBy string) (*models.WatermarkAsset, *ServiceError) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || format != "png" {
		return nil, validationError("watermark must be a PNG image")
	}

	if err := s.store.Upload(ctx, models.WatermarkAssetPath, "image/png", data); err != nil {
		s.logger.Error("failed to upload watermark", zap.Error(err))
		return nil, upstreamError(CodeStorage, "Failed to store watermark", err)
	}

	asset := &models.WatermarkAsset{
		Path:        models.WatermarkAssetPath,
		ContentType: "image/png",
		SizeBytes:   int64(len(data)),
		Width:       cfg.Width,
		Height:      cfg.Height,
		UploadedBy:  uploadedBy,
		UploadedAt:  s.now().UTC(),
	}
	if err := s.watermarks.Replace(ctx, asset); err != nil {
		return nil, internalError("Failed to save watermark record", err)
	}
	s.logger.Info("watermark replaced", zap.Int("version", asset.Version), zap.String("uploaded_by", uploadedBy))
	return asset, nil
}

func (s *UploadService) GetWatermark(ctx context.Context) (*models.WatermarkAsset, *ServiceError) {
	asset, err := s.watermarks.Get(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFound(CodeNotFound, "No watermark configured")
	}
	if err != nil {
		return nil, internalError("Failed to load watermark", err)
	}
	return asset, nil
}

func (s *UploadService) render(ctx context.Context, original []byte) ([]byte, error) {
	asset, err := s.watermarks.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatermarkUnavailable, err)
	}
	raw, err := s.store.Download(ctx, asset.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatermarkUnavailable, err)
	}
	mark, err := watermark.LoadMark(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatermarkUnavailable, err)
	}
	return watermark.Apply(original, mark)
}

func (s *UploadService) registerPhoto(ctx context.Context, in UploadInput, res *UploadResult) (uuid.UUID, *ServiceError) {
	order, err := s.photos.NextDisplayOrder(ctx, *in.EventID)
	if err != nil {
		return uuid.Nil, internalError("Failed to register photo", err)
	}
	photo := &models.Photo{
		ID:              uuid.New(),
		EventID:         *in.EventID,
		OriginalPath:    res.OriginalPath,
		WatermarkedPath: res.ProtectedPath,
		WatermarkedURL:  res.ProtectedURL,
		Filename:        res.Filename,
		ContentType:     res.ContentType,
		SizeBytes:       res.Size,
		Active:          true,
		DisplayOrder:    order,
	}
	if err := s.photos.Create(ctx, photo); err != nil {
		s.logger.Error("failed to register photo", zap.String("original_path", res.OriginalPath), zap.Error(err))
		return uuid.Nil, internalError("Failed to register photo", err)
	}
	return photo.ID, nil
}

// storedName returns "{millis}-{random}-{sanitized}" and the lower-case
// extension including the dot.
func (s *UploadService) storedName(filename, contentType string) (string, string) {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" || len(ext) > 6 {
		ext = extensionFor(contentType)
	}
	return fmt.Sprintf("%d-%s-%s", s.now().UnixMilli(), s.randomID(), SanitizeBaseName(filename)), ext
}

// SanitizeBaseName lower-cases the name without extension and keeps only
// [a-z0-9_-].
func SanitizeBaseName(filename string) string {
	base := strings.TrimSuffix(path.Base(strings.ReplaceAll(filename, "\\", "/")), path.Ext(filename))
	base = unsafeNameChars.ReplaceAllString(strings.ToLower(base), "-")
	base = strings.Trim(base, "-")
	if len(base) > maxBaseNameLen {
		base = strings.Trim(base[:maxBaseNameLen], "-")
	}
	if base == "" {
		return "file"
	}
	return base
}

func objectPath(prefix, collection string, eventID *uuid.UUID, name string) string {
	if eventID != nil {
		return path.Join(prefix, collection, eventID.String(), name)
	}
	return path.Join(prefix, collection, name)
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/webm":
		return ".webm"
	}
	return ".bin"
}

func validateUpload(in UploadInput) *ServiceError {
	if len(in.Data) == 0 {
		return validationError("file is empty")
	}
	if in.Collection != models.CollectionFotoFacil && in.Collection != models.CollectionPortfolio {
		return validationError("collection must be fotofacil or portfolio")
	}
	if !strings.HasPrefix(in.ContentType, "image/") && !strings.HasPrefix(in.ContentType, "video/") {
		return validationError("only image and video files are accepted")
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
