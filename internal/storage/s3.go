package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store persists artifacts in an S3 bucket. Objects are private; chained
// workflow steps receive presigned URLs instead of public locations.
type S3Store struct {
	client        *s3.Client
	presigner     *s3.PresignClient
	bucket        string
	publicBaseURL string
}

// S3Options configures the S3 store.
type S3Options struct {
	Bucket string
	Region string
	// PublicBaseURL, when set, is used to build the stored location for
	// completed outputs (e.g. a CDN in front of the bucket). When empty the
	// bare object key is stored and readers presign on demand.
	PublicBaseURL string
}

// NewS3Store builds an S3-backed ObjectStore using ambient AWS credentials.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("storage: s3 bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)
	return &S3Store{
		client:        client,
		presigner:     s3.NewPresignClient(client),
		bucket:        opts.Bucket,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
	}, nil
}

// Upload writes data at key and returns the stored location.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleanKey),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("storage: put object: %w", err)
	}
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + cleanKey, nil
	}
	return cleanKey, nil
}

// SignedURL returns a presigned GET URL for key valid for ttl.
func (s *S3Store) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleanKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("storage: presign: %w", err)
	}
	return req.URL, nil
}

var _ ObjectStore = (*S3Store)(nil)
