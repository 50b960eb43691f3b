package content

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"go.uber.org/zap"
)

// S3Config configures the S3 content store.
type S3Config struct {
	Region   string `yaml:"region"`
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"` // optional, for S3-compatible stores
}

// S3Store stores blobs in an S3 (or S3-compatible) bucket. S3 has no
// precondition on PUT, so create-if-absent is read-then-write: the digest
// comparison still arbitrates collisions, and the metadata store's unique
// index remains the final linearization point.
type S3Store struct {
	client s3iface.S3API
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Store creates a store backed by the configured bucket.
func NewS3Store(cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	awsCfg := aws.NewConfig().WithRegion(cfg.Region)
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return &S3Store{
		client: s3.New(sess),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger,
	}, nil
}

// NewS3StoreWithClient creates a store over an existing client. For tests.
func NewS3StoreWithClient(client s3iface.S3API, bucket, prefix string, logger *zap.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Get returns the stored bytes, or ErrNotFound.
func (s *S3Store) Get(ctx context.Context, path string) ([]byte, error) {
	key, err := s.key(path)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get s3 object %s: %w", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3 object %s: %w", path, err)
	}
	return data, nil
}

// GetDownloadURL returns a time-limited presigned GET URL for the object.
func (s *S3Store) GetDownloadURL(ctx context.Context, path string) (string, error) {
	key, err := s.key(path)
	if err != nil {
		return "", err
	}
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(15 * time.Minute)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", path, err)
	}
	return url, nil
}

// Put creates the object if absent, comparing digests on collision.
func (s *S3Store) Put(ctx context.Context, path string, content []byte, contentType string) (PutResult, error) {
	key, err := s.key(path)
	if err != nil {
		return PutConflict, err
	}

	existing, err := s.Get(ctx, path)
	if err == nil {
		if sha256.Sum256(existing) == sha256.Sum256(content) {
			return PutAlreadyExists, nil
		}
		s.logger.Warn("content conflict", zap.String("path", path))
		return PutConflict, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return PutConflict, err
	}

	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return PutConflict, fmt.Errorf("failed to put s3 object %s: %w", path, err)
	}

	s.logger.Debug("stored blob", zap.String("path", path), zap.Int("size", len(content)))
	return PutSuccess, nil
}

// Delete removes the object. S3 deletes are idempotent already.
func (s *S3Store) Delete(ctx context.Context, path string) error {
	key, err := s.key(path)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("failed to delete s3 object %s: %w", path, err)
	}
	return nil
}

func (s *S3Store) key(path string) (string, error) {
	if err := validatePath(path); err != nil {
		return "", err
	}
	if s.prefix == "" {
		return path, nil
	}
	return s.prefix + "/" + path, nil
}

func isNoSuchKey(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
}
