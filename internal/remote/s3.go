package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	apperrors "github.com/okamitimo233/NeriPlayer-sub001/internal/errors"
)

// S3Store is a Store backed by an S3-compatible bucket (AWS S3, MinIO,
// or any provider with conditional-write support). The object ETag is
// the version token: Put sends If-Match for updates and If-None-Match:*
// for creates, so a stale token is rejected by the provider rather than
// silently overwriting another device's write.
type S3Store struct {
	client *s3.Client
	bucket string
}

// S3Config holds the connection settings for an S3-compatible store.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// NewS3Store creates a store for the given bucket. A custom endpoint
// enables MinIO and other S3-compatible services; path-style addressing
// is used for the same reason.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithBaseEndpoint(cfg.Endpoint),
		awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     cfg.AccessKey,
					SecretAccessKey: cfg.SecretKey,
				}, nil
			})),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

// Fetch downloads the object at path and returns its content and ETag.
func (s *S3Store) Fetch(ctx context.Context, path string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", path, classify(err))
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return &Object{
		Content: content,
		Token:   aws.ToString(out.ETag),
	}, nil
}

// Put uploads content at path. An empty prevToken creates the object
// only if nothing exists there; a non-empty token updates only while the
// remote ETag still matches.
func (s *S3Store) Put(ctx context.Context, path string, content []byte, prevToken string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(content),
	}

	if prevToken == "" {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = aws.String(prevToken)
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		return "", fmt.Errorf("putting %s: %w", path, classify(err))
	}

	return aws.ToString(out.ETag), nil
}

// classify maps provider errors onto the sentinel taxonomy so the sync
// engine can dispatch with errors.Is without knowing about S3.
func classify(err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return apperrors.ErrRemoteNotFound
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound":
		return apperrors.ErrRemoteNotFound

	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		"ExpiredToken", "TokenRefreshRequired":
		return fmt.Errorf("%w: %s", apperrors.ErrUnauthorized, apiErr.ErrorCode())

	case "PreconditionFailed", "ConditionalRequestConflict":
		return apperrors.ErrTokenMismatch
	}

	return err
}
