// Package delivery publishes finished artifacts to object storage and
// hands back a time-limited download link.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// DefaultURLTTL is how long a presigned link stays valid.
const DefaultURLTTL = time.Hour

// ObjectPutter is the S3 upload call used by [S3Publisher]. The
// [s3.Client] type satisfies it.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// GetPresigner signs download URLs. The [s3.PresignClient] type satisfies it.
type GetPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Link is a published artifact.
type Link struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// S3Publisher uploads artifacts to one bucket. Objects are left for the
// bucket's lifecycle policy to expire.
type S3Publisher struct {
	client    ObjectPutter
	presigner GetPresigner
	bucket    string
	ttl       time.Duration
	now       func() time.Time
}

// NewS3Publisher creates a publisher from already configured clients.
func NewS3Publisher(client ObjectPutter, presigner GetPresigner, bucket string, ttl time.Duration) *S3Publisher {
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &S3Publisher{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		ttl:       ttl,
		now:       time.Now,
	}
}

// NewS3PublisherFromEnv loads AWS credentials from the default chain.
// region overrides the configured region when set.
func NewS3PublisherFromEnv(ctx context.Context, bucket, region string, ttl time.Duration) (*S3Publisher, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return NewS3Publisher(client, s3.NewPresignClient(client), bucket, ttl), nil
}

// Bucket returns the target bucket name.
func (p *S3Publisher) Bucket() string {
	return p.bucket
}

// Publish uploads the file at path under key and returns a presigned GET link.
func (p *S3Publisher) Publish(ctx context.Context, key, path, contentType string) (*Link, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		slog.Error("artifact upload failed", "bucket", p.bucket, "key", key, "code", errorCode(err), "error", err)
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}
	slog.Info("artifact uploaded", "bucket", p.bucket, "key", key, "bytes", st.Size())

	expires := p.now().Add(p.ttl)
	req, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to presign GET object: %w", err)
	}

	return &Link{URL: req.URL, Key: key, ExpiresAt: expires}, nil
}

// errorCode returns the S3 error code, e.g. "AccessDenied" or "NoSuchBucket".
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
