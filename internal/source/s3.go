package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/skuflow-io/skuflow/internal/config"
)

// Sentinel errors for object storage access.
var (
	// ErrCredentialsMissing is returned when object storage is configured
	// without credentials.
	ErrCredentialsMissing = errors.New("object storage credentials are required")

	// ErrInvalidObjectURI is returned for s3 URIs without a bucket and key.
	ErrInvalidObjectURI = errors.New("object URI must be s3://bucket/key")
)

// S3Config holds object storage connection settings.
type S3Config struct {
	EndpointURL     string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

// LoadS3Config loads object storage configuration from environment variables.
// An empty endpoint means object storage is not configured.
func LoadS3Config() *S3Config {
	return &S3Config{
		EndpointURL:     config.GetEnvStr("SOURCE_ENDPOINT_URL", ""),
		Region:          config.GetEnvStr("SOURCE_REGION", ""),
		AccessKeyID:     config.GetEnvStr("SOURCE_ACCESS_KEY_ID", ""),
		SecretAccessKey: config.GetEnvStr("SOURCE_SECRET_ACCESS_KEY", ""),
		UseSSL:          config.GetEnvBool("SOURCE_USE_SSL", false),
	}
}

// Enabled reports whether object storage is configured at all.
func (c *S3Config) Enabled() bool {
	return c.EndpointURL != ""
}

// S3Opener opens s3://bucket/key URIs against a MinIO/S3-compatible store.
// Each Open issues an independent GetObject, so the same URI can be streamed
// twice for the two-pass pipeline.
type S3Opener struct {
	client *minio.Client
}

// NewS3Opener creates an opener from config using the minio-go SDK.
func NewS3Opener(cfg *S3Config) (*S3Opener, error) {
	if cfg == nil || cfg.EndpointURL == "" {
		return nil, fmt.Errorf("%w: endpoint URL is required", ErrUnsupportedScheme)
	}

	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, ErrCredentialsMissing
	}

	// The SDK wants a bare host; derive SSL from the URL scheme when present.
	endpoint := cfg.EndpointURL
	useSSL := cfg.UseSSL

	if parsed, err := url.Parse(cfg.EndpointURL); err == nil && parsed.Host != "" {
		endpoint = parsed.Host

		if parsed.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return &S3Opener{client: client}, nil
}

// Open streams the object at uri.
func (o *S3Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := splitObjectURI(uri)
	if err != nil {
		return nil, err
	}

	obj, err := o.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open s3://%s/%s: %w", bucket, key, err)
	}

	return obj, nil
}

// splitObjectURI parses s3://bucket/key into its parts.
func splitObjectURI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	if trimmed == uri {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidObjectURI, uri)
	}

	bucket, key, found := strings.Cut(trimmed, "/")
	if !found || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidObjectURI, uri)
	}

	return bucket, key, nil
}
