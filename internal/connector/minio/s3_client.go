package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Objects are streamed with an unknown length, so minio-go buffers and sends
// them as multipart uploads of this size.
const partSize = 16 << 20

// S3Client stores batches in an S3-compatible bucket through minio-go.
type S3Client struct {
	client *minio.Client
	region string
}

// NewS3Client validates cfg and builds the minio-go client. No request is
// made until Ping.
func NewS3Client(cfg *Config) (*S3Client, error) {
	if cfg == nil {
		return nil, storeError("connect", CodeEndpointUnreachable, errors.New("config is required"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	host, secure, err := splitEndpoint(cfg.EndpointURL)
	if err != nil {
		return nil, storeError("connect", CodeEndpointUnreachable, err)
	}
	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure || cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, storeError("connect", CodeEndpointUnreachable, err)
	}
	return &S3Client{client: client, region: cfg.Region}, nil
}

// splitEndpoint accepts either a bare host:port or a URL.
func splitEndpoint(raw string) (host string, secure bool, err error) {
	if !strings.Contains(raw, "://") {
		return raw, false, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint URL %q has no host", raw)
	}
	return u.Host, u.Scheme == "https", nil
}

// Ping lists buckets, which fails fast on bad credentials or an unreachable
// endpoint.
func (s *S3Client) Ping(ctx context.Context) error {
	if _, err := s.client.ListBuckets(ctx); err != nil {
		return classify("ping", err)
	}
	return nil
}

func (s *S3Client) EnsureBucket(ctx context.Context, bucket string) error {
	if bucket == "" {
		return storeError("ensure bucket", CodeBucketNotFound, errors.New("bucket name is required"))
	}
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return classify("ensure bucket", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return classify("ensure bucket", err)
		}
	}
	return nil
}

func (s *S3Client) PutStream(ctx context.Context, bucket, key string, r io.Reader, contentType string) (int64, error) {
	if key == "" {
		return 0, storeError("put", CodeSinkWriteFailed, errors.New("object key is required"))
	}
	info, err := s.client.PutObject(ctx, bucket, key, r, -1, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    partSize,
	})
	if err != nil {
		return 0, classify("put", err)
	}
	return info.Size, nil
}

// Locate presigns a GET URL valid for expiry.
func (s *S3Client) Locate(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, expiry, nil)
	if err != nil {
		return "", storeError("locate", CodePresignFailed, err)
	}
	return u.String(), nil
}

func classify(op string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return storeError(op, CodeTimeout, err)
	}
	code := CodeSinkWriteFailed
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchBucket":
		code = CodeBucketNotFound
	case "AccessDenied":
		code = CodePermissionDenied
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		code = CodeAuthInvalid
	default:
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") {
			code = CodeEndpointUnreachable
		} else if strings.Contains(msg, "timeout") {
			code = CodeTimeout
		}
	}
	return storeError(op, code, err)
}
