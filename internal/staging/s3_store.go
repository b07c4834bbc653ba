package staging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	observemetrics "github.com/wolfman30/conversation-relay/internal/observability/metrics"
	"github.com/wolfman30/conversation-relay/pkg/logging"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner is the subset of s3.PresignClient used to mint fetchable URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config wires an S3Store.
type Config struct {
	Client    S3API
	Presigner Presigner
	Bucket    string
	Prefix    string
	URLTTL    time.Duration
	Logger    *logging.Logger
	Metrics   *observemetrics.EnrichmentMetrics
	Now       func() time.Time
}

// S3Store stages attachments under a temporary prefix and hands out
// presigned GET URLs for them.
type S3Store struct {
	client    S3API
	presigner Presigner
	bucket    string
	prefix    string
	ttl       time.Duration
	logger    *logging.Logger
	metrics   *observemetrics.EnrichmentMetrics
	now       func() time.Time
}

// NewS3Store creates a store. Staging fails with ErrNotConfigured when the
// bucket or client is missing.
func NewS3Store(cfg Config) *S3Store {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = "staging"
	}
	return &S3Store{
		client:    cfg.Client,
		presigner: cfg.Presigner,
		bucket:    cfg.Bucket,
		prefix:    prefix,
		ttl:       cfg.URLTTL,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
}

// Enabled returns true if the store has somewhere to write.
func (s *S3Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.client != nil
}

// Stage uploads the attachment and returns a URL valid for the configured TTL.
func (s *S3Store) Stage(ctx context.Context, att Attachment) (*StagedResource, error) {
	if !s.Enabled() || s.presigner == nil {
		return nil, &Error{Op: "stage", Err: ErrNotConfigured}
	}

	key := fmt.Sprintf("%s/%s/%s", s.prefix, uuid.NewString(), sanitizeFileName(att.FileName))
	if err := s.put(ctx, key, att); err != nil {
		s.metrics.ObserveStaging("stage", err)
		return nil, &Error{Op: "stage", Key: key, Err: err}
	}

	presigned, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		if delErr := s.delete(ctx, key); delErr != nil {
			s.logger.Warn("failed to remove staged object after presign failure", "error", delErr, "key", key)
		}
		s.metrics.ObserveStaging("stage", err)
		return nil, &Error{Op: "presign", Key: key, Err: err}
	}

	s.metrics.ObserveStaging("stage", nil)
	s.logger.Debug("staged attachment", "key", key, "content_type", att.ContentType)
	return &StagedResource{
		Key:       key,
		URL:       presigned.URL,
		ExpiresAt: s.now().Add(s.ttl),
	}, nil
}

// Release deletes the staged object. Nil or already released resources are a no-op.
func (s *S3Store) Release(ctx context.Context, res *StagedResource) error {
	if res == nil || res.released || res.Key == "" {
		return nil
	}
	if !s.Enabled() {
		res.released = true
		return nil
	}
	if err := s.delete(ctx, res.Key); err != nil {
		s.metrics.ObserveStaging("release", err)
		return &Error{Op: "release", Key: res.Key, Err: err}
	}
	res.released = true
	s.metrics.ObserveStaging("release", nil)
	return nil
}

// Upload stores an attachment permanently under the attachments key space.
func (s *S3Store) Upload(ctx context.Context, key string, att Attachment) error {
	if !s.Enabled() {
		return &Error{Op: "upload", Key: key, Err: ErrNotConfigured}
	}
	if err := s.put(ctx, key, att); err != nil {
		return &Error{Op: "upload", Key: key, Err: err}
	}
	return nil
}

// Remove deletes stored objects, continuing past individual failures.
func (s *S3Store) Remove(ctx context.Context, keys ...string) error {
	if !s.Enabled() {
		return nil
	}
	var errs []error
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if err := s.delete(ctx, key); err != nil {
			errs = append(errs, &Error{Op: "remove", Key: key, Err: err})
		}
	}
	return errors.Join(errs...)
}

// AttachmentKey builds the permanent object key for a message attachment.
func AttachmentKey(prefix string, messageID uuid.UUID, index int, fileName string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "attachments"
	}
	return fmt.Sprintf("%s/%s/%d-%s", prefix, messageID, index, sanitizeFileName(fileName))
}

func (s *S3Store) put(ctx context.Context, key string, att Attachment) error {
	contentType := strings.TrimSpace(att.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(att.Data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(att.Data))),
	})
	return err
}

func (s *S3Store) delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}
