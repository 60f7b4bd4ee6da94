// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ProfileSpaces Contributors

// Package photos stores profile photos in an S3-compatible bucket.
package photos

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/samber/oops"

	"github.com/profilespaces/profilespaces/internal/profile"
)

// Config selects the bucket and how to reach it.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // empty for AWS; host:port or URL for MinIO and friends

	AccessKey string
	SecretKey string

	// PublicBaseURL prefixes object keys in photo URLs. When empty, URLs point
	// at the bucket through Endpoint or the regional AWS host.
	PublicBaseURL string

	ForcePathStyle bool
}

// ObjectAPI is the subset of the S3 client the store uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store implements profile.PhotoStore.
type S3Store struct {
	api     ObjectAPI
	bucket  string
	baseURL string
}

var _ profile.PhotoStore = (*S3Store)(nil)

// New builds an S3 client from cfg. Static credentials are used when both
// keys are set; otherwise the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*S3Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, oops.Code("PHOTOS_INVALID_CONFIG").Errorf("bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(awshttp.NewBuildableClient().WithTimeout(30 * time.Second)),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, oops.Code("PHOTOS_INVALID_CONFIG").With("operation", "load aws config").Wrap(err)
	}

	endpoint := normalizeEndpoint(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = defaultBaseURL(cfg.Bucket, region, endpoint, cfg.ForcePathStyle)
	}
	return NewWithClient(client, cfg.Bucket, base)
}

// NewWithClient wraps an existing client. baseURL prefixes keys in URL.
func NewWithClient(api ObjectAPI, bucket, baseURL string) (*S3Store, error) {
	if api == nil {
		return nil, oops.Code("PHOTOS_INVALID_CONFIG").Errorf("s3 client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, oops.Code("PHOTOS_INVALID_CONFIG").Errorf("bucket is required")
	}
	return &S3Store{api: api, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return ""
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}

func defaultBaseURL(bucket, region, endpoint string, pathStyle bool) string {
	if endpoint == "" {
		return "https://" + bucket + ".s3." + region + ".amazonaws.com"
	}
	if pathStyle {
		return endpoint + "/" + bucket
	}
	scheme, host, _ := strings.Cut(endpoint, "://")
	return scheme + "://" + bucket + "." + host
}

// Save uploads body under key.
func (s *S3Store) Save(ctx context.Context, key, contentType string, body io.Reader, size int64) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	if _, err := s.api.PutObject(ctx, in); err != nil {
		return oops.Code("PHOTO_PUT_FAILED").
			With("bucket", s.bucket).
			With("key", key).
			Wrap(err)
	}
	return nil
}

// Delete removes key. Deleting a missing object succeeds.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return oops.Code("PHOTO_DELETE_FAILED").
			With("bucket", s.bucket).
			With("key", key).
			Wrap(err)
	}
	return nil
}

// URL returns the public address of key.
func (s *S3Store) URL(key string) string {
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}
