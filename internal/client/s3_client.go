package client

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/gaole-2025/rizzify-sub000/internal/config"
)

// ObjectStore defines the interface for object storage operations
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	GetPublicURL(key string) string
}

// S3Client implements ObjectStore for any S3-compatible endpoint (R2,
// MinIO, AWS). One instance per bucket.
type S3Client struct {
	s3Client   *s3.Client
	bucketName string
	publicURL  string
}

// NewS3Client creates a storage client for one bucket. Explicit static
// credentials win; without them the ambient AWS credential chain (env,
// shared config, instance role) is used.
func NewS3Client(cfg *config.StorageConfig, bucket, publicURL string) (*S3Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	options := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		options.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws credential chain: %w", err)
		}
		options.Credentials = awsCfg.Credentials
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &S3Client{
		s3Client:   s3.New(options),
		bucketName: bucket,
		publicURL:  strings.TrimRight(publicURL, "/"),
	}, nil
}

// Upload streams body to the bucket under key and returns the public URL.
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.bucketName),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	}

	_, err := c.s3Client.PutObject(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to upload to storage: %w", err)
	}

	return c.GetPublicURL(key), nil
}

// GetPublicURL returns the public CDN URL for a key
func (c *S3Client) GetPublicURL(key string) string {
	if c.publicURL != "" {
		return fmt.Sprintf("%s/%s", c.publicURL, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", c.bucketName, key)
}

// IsConfigured returns true if the client has valid configuration
func (c *S3Client) IsConfigured() bool {
	return c.s3Client != nil && c.bucketName != ""
}
