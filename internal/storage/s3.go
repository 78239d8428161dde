// Package storage publishes rendered PDFs to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"pdfapi/internal/domain"
	u "pdfapi/internal/utils"
)

// API is the subset of the S3 client used here.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Store uploads objects and reports their public URL.
type Store struct {
	client      API
	bucket      string
	endpoint    string
	publicBase  string
	pathStyle   bool
	region      string
	acl         types.ObjectCannedACL
	conditional bool
}

// New builds an S3 client from the storage section. A custom endpoint and
// static credentials are used when configured; otherwise the default AWS
// credential chain applies.
func New(ctx context.Context, cfg u.Config) (*Store, error) {
	sc := cfg.Storage

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(sc.Region)}
	if sc.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(sc.AccessKeyID, sc.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if sc.Endpoint != "" {
			o.BaseEndpoint = aws.String(sc.Endpoint)
		}
		o.UsePathStyle = sc.UsePathStyle
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client API, cfg u.Config) *Store {
	sc := cfg.Storage
	return &Store{
		client:      client,
		bucket:      sc.Bucket,
		endpoint:    strings.TrimRight(sc.Endpoint, "/"),
		publicBase:  strings.TrimRight(sc.PublicBaseURL, "/"),
		pathStyle:   sc.UsePathStyle,
		region:      sc.Region,
		acl:         types.ObjectCannedACL(sc.ACL),
		conditional: sc.ConditionalWrite,
	}
}

// Bucket is the configured bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Conditional reports whether uploads refuse to overwrite existing keys.
func (s *Store) Conditional() bool { return s.conditional }

// Upload stores body under key with a public-read ACL and returns the URL it
// is reachable at. With conditional writes enabled an existing key yields
// domain.ErrObjectExists. There is no internal retry.
func (s *Store) Upload(ctx context.Context, bucket, key string, body []byte, contentType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if s.acl != "" {
		in.ACL = s.acl
	}
	if s.conditional {
		in.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		if s.conditional && isPreconditionFailed(err) {
			return "", fmt.Errorf("%w: %s", domain.ErrObjectExists, key)
		}
		return "", fmt.Errorf("%w: %w", domain.ErrUpload, err)
	}
	return s.PublicURL(bucket, key), nil
}

// Exists reports whether key is present in the configured bucket.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: head %s: %w", domain.ErrUpload, key, err)
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// PublicURL returns the address an uploaded object is served from.
func (s *Store) PublicURL(bucket, key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	switch {
	case s.publicBase != "":
		return s.publicBase + "/" + escaped
	case s.endpoint != "" && s.pathStyle:
		return fmt.Sprintf("%s/%s/%s", s.endpoint, bucket, escaped)
	case s.endpoint != "":
		if ep, err := url.Parse(s.endpoint); err == nil && ep.Host != "" {
			return fmt.Sprintf("%s://%s.%s/%s", ep.Scheme, bucket, ep.Host, escaped)
		}
		return fmt.Sprintf("%s/%s/%s", s.endpoint, bucket, escaped)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.region, escaped)
	}
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	return httpStatus(err) == http.StatusPreconditionFailed
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return httpStatus(err) == http.StatusNotFound
}

func httpStatus(err error) int {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}
