package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Config holds the connection settings for an S3 compatible bucket.
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint switches to path-style addressing against a compatible service such as MinIO or R2.
	Endpoint string
}

// NewS3Client builds an S3 client. Static credentials are used when both keys are set,
// otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("artifact: load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// S3Store keeps artifacts as objects in a bucket.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Store creates a bucket-backed artifact store. prefix is prepended to every object key.
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(ref string) string {
	return s.prefix + ref
}

func (s *S3Store) Save(ctx context.Context, r io.Reader, suggestedName string) (string, error) {
	ref := NewRef(suggestedName)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(ref)),
		Body:        r,
		ContentType: aws.String(ContentType(suggestedName)),
	})
	if err != nil {
		return "", fmt.Errorf("artifact: s3 put: %w", err)
	}

	return ref, nil
}

func (s *S3Store) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	if !ValidRef(ref) {
		return nil, fmt.Errorf("%w: malformed reference %q", ErrNotFound, ref)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}

		return nil, fmt.Errorf("artifact: s3 get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("artifact: s3 read body: %w", err)
	}

	return data, nil
}

// Delete removes the object. S3 deletes succeed for missing keys, so existence is checked first.
func (s *S3Store) Delete(ctx context.Context, ref string) error {
	if !ValidRef(ref) {
		return fmt.Errorf("%w: malformed reference %q", ErrNotFound, ref)
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}

		return fmt.Errorf("artifact: s3 head: %w", err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		return fmt.Errorf("artifact: s3 delete: %w", err)
	}

	return nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})

	return err
}

func isS3NotFound(err error) bool {
	var (
		noSuchKey *types.NoSuchKey
		notFound  *types.NotFound
	)

	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}
