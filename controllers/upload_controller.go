package controllers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/fotofacil-backend/common/middleware"
	"github.com/yashrajoria/fotofacil-backend/models"
	"github.com/yashrajoria/fotofacil-backend/services"
)

// UploadService is the admin media pipeline.
type UploadService interface {
	Upload(ctx context.Context, in services.UploadInput) (*services.UploadResult, *services.ServiceError)
	UploadBatch(ctx context.Context, inputs []services.UploadInput) []services.BatchItemResult
	DeletePhoto(ctx context.Context, id uuid.UUID) (*services.DeleteResult, *services.ServiceError)
	ReplaceWatermark(ctx context.Context, data []byte, uploadedBy string) (*models.WatermarkAsset, *services.ServiceError)
	GetWatermark(ctx context.Context) (*models.WatermarkAsset, *services.ServiceError)
}

// URLSigner signs admin-requested object paths.
type URLSigner interface {
	Sign(ctx context.Context, path string, minutes int) (*services.SignedLink, *services.ServiceError)
}

type UploadController struct {
	Service  UploadService
	Signer   URLSigner
	MaxBytes int64
	Logger   *zap.Logger
}

func NewUploadController(svc UploadService, signer URLSigner, maxBytes int64, logger *zap.Logger) *UploadController {
	return &UploadController{Service: svc, Signer: signer, MaxBytes: maxBytes, Logger: logger}
}

type signRequest struct {
	Path           string `json:"path" binding:"required"`
	ExpiresMinutes int    `json:"expires_minutes" binding:"omitempty,min=1,max=10080"`
}

var errFileTooLarge = errors.New("file too large")

// Upload handles POST /admin/uploads.
func (uc *UploadController) Upload(ctx *gin.Context) {
	uc.limitBody(ctx, 1)

	fh, err := ctx.FormFile("file")
	if err != nil {
		uc.formError(ctx, err, "file is required")
		return
	}
	in, err := uc.readInput(ctx, fh)
	if err != nil {
		uc.formError(ctx, err, err.Error())
		return
	}

	res, svcErr := uc.Service.Upload(ctx.Request.Context(), in)
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusCreated, res)
}

// UploadBatch handles POST /admin/uploads/batch. Files are processed one by
// one and a failure only affects its own entry.
func (uc *UploadController) UploadBatch(ctx *gin.Context) {
	uc.limitBody(ctx, 20)

	form, err := ctx.MultipartForm()
	if err != nil {
		uc.formError(ctx, err, "multipart form required")
		return
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "at least one file is required", "code": services.CodeValidation})
		return
	}

	inputs := make([]services.UploadInput, 0, len(files))
	for _, fh := range files {
		in, err := uc.readInput(ctx, fh)
		if err != nil {
			uc.formError(ctx, err, err.Error())
			return
		}
		inputs = append(inputs, in)
	}

	results := uc.Service.UploadBatch(ctx.Request.Context(), inputs)
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	ctx.JSON(http.StatusOK, gin.H{
		"results":   results,
		"total":     len(results),
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

// DeletePhoto handles DELETE /admin/photos/:id.
func (uc *UploadController) DeletePhoto(ctx *gin.Context) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo id", "code": services.CodeValidation})
		return
	}
	res, svcErr := uc.Service.DeletePhoto(ctx.Request.Context(), id)
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

// SignURL handles POST /admin/storage/sign.
func (uc *UploadController) SignURL(ctx *gin.Context) {
	var req signRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": services.CodeValidation, "details": err.Error()})
		return
	}
	link, svcErr := uc.Signer.Sign(ctx.Request.Context(), req.Path, req.ExpiresMinutes)
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, link)
}

// ReplaceWatermark handles PUT /admin/watermark.
func (uc *UploadController) ReplaceWatermark(ctx *gin.Context) {
	uc.limitBody(ctx, 1)

	fh, err := ctx.FormFile("file")
	if err != nil {
		uc.formError(ctx, err, "file is required")
		return
	}
	data, err := readFile(fh, uc.MaxBytes)
	if err != nil {
		uc.formError(ctx, err, err.Error())
		return
	}

	uploadedBy, _ := middleware.GetUserID(ctx)
	asset, svcErr := uc.Service.ReplaceWatermark(ctx.Request.Context(), data, uploadedBy)
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, asset)
}

// GetWatermark handles GET /admin/watermark.
func (uc *UploadController) GetWatermark(ctx *gin.Context) {
	asset, svcErr := uc.Service.GetWatermark(ctx.Request.Context())
	if svcErr != nil {
		writeError(ctx, svcErr)
		return
	}
	ctx.JSON(http.StatusOK, asset)
}

func (uc *UploadController) limitBody(ctx *gin.Context, files int64) {
	if uc.MaxBytes > 0 {
		// Multipart framing adds a little on top of the file bytes.
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, uc.MaxBytes*files+1<<20)
	}
}

func (uc *UploadController) readInput(ctx *gin.Context, fh *multipart.FileHeader) (services.UploadInput, error) {
	data, err := readFile(fh, uc.MaxBytes)
	if err != nil {
		return services.UploadInput{}, err
	}

	in := services.UploadInput{
		Data:        data,
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Collection:  ctx.PostForm("collection"),
		Watermark:   true,
	}
	if in.ContentType == "" || in.ContentType == "application/octet-stream" {
		in.ContentType = http.DetectContentType(data)
	}
	if raw := ctx.PostForm("watermark"); raw != "" {
		wm, err := strconv.ParseBool(raw)
		if err != nil {
			return services.UploadInput{}, errors.New("watermark must be a boolean")
		}
		in.Watermark = wm
	}
	if raw := ctx.PostForm("event_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return services.UploadInput{}, errors.New("invalid event_id")
		}
		in.EventID = &id
	}
	in.UploadedBy, _ = middleware.GetUserID(ctx)
	return in, nil
}

func (uc *UploadController) formError(ctx *gin.Context, err error, msg string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || errors.Is(err, errFileTooLarge) {
		ctx.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the upload size limit", "code": services.CodeValidation})
		return
	}
	uc.Logger.Debug("rejected upload form", zap.Error(err))
	ctx.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": services.CodeValidation})
}

func readFile(fh *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 && fh.Size > maxBytes {
		return nil, errFileTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errors.New("cannot read uploaded file")
	}
	defer f.Close()
	return io.ReadAll(f)
}
