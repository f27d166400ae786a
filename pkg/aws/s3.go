package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MaxPresignMinutes is the longest validity S3 accepts for a presigned URL.
const MaxPresignMinutes = 7 * 24 * 60

var (
	// ErrObjectNotFound is returned by Download for a missing key.
	ErrObjectNotFound = errors.New("object not found")
	// ErrInvalidExpiry is returned for presign windows outside 1..MaxPresignMinutes.
	ErrInvalidExpiry = fmt.Errorf("presigned URL validity must be between 1 and %d minutes", MaxPresignMinutes)
)

// S3API is the subset of the S3 client the storage needs.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Storage stores photo objects in a single S3 bucket. Originals and
// renditions share the bucket; privacy of originals relies on the bucket
// policy exposing only the watermarked/ prefix.
type S3Storage struct {
	bucket     string
	publicBase string
	client     S3API
	uploader   *manager.Uploader
	presigner  *s3.PresignClient
	now        func() time.Time
}

// NewS3Storage builds an S3Storage from an SDK config. publicBase may be empty,
// in which case virtual-hosted bucket URLs are used.
func NewS3Storage(cfg sdkaws.Config, bucket, publicBase string) *S3Storage {
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		// LocalStack and MinIO need path-style addressing.
		o.UsePathStyle = UsesCustomEndpoint(cfg)
	})
	if publicBase == "" {
		publicBase = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, cfg.Region)
	}
	return &S3Storage{
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		client:     client,
		uploader:   manager.NewUploader(client),
		presigner:  s3.NewPresignClient(client),
		now:        time.Now,
	}
}

// Upload writes data to key through the multipart-aware upload manager.
func (s *S3Storage) Upload(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      sdkaws.String(s.bucket),
		Key:         sdkaws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: sdkaws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: sdkaws.String(s.bucket),
		Key:    sdkaws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("s3 download %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("s3 download %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes key. S3 treats deleting a missing key as success.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: sdkaws.String(s.bucket),
		Key:    sdkaws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) PublicURL(key string) string {
	return s.publicBase + "/" + strings.TrimLeft(key, "/")
}

// SignedURL presigns a GET for key valid for the given number of minutes.
func (s *S3Storage) SignedURL(ctx context.Context, key string, minutes int) (string, time.Time, error) {
	if minutes < 1 || minutes > MaxPresignMinutes {
		return "", time.Time{}, ErrInvalidExpiry
	}
	ttl := time.Duration(minutes) * time.Minute
	issued := s.now()

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: sdkaws.String(s.bucket),
		Key:    sdkaws.String(key),
	}, func(o *s3.PresignOptions) {
		o.Expires = ttl
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign get object: %w", err)
	}
	return req.URL, issued.Add(ttl), nil
}
