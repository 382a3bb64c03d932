package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yairfalse/ferry/telemetry"
	"github.com/yairfalse/ferry/types"
)

// S3API is the part of the S3 client the exporter uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Exporter writes tree documents to a bucket so another host can push
// them.
type S3Exporter struct {
	client S3API
	bucket string
	prefix string
	logger *telemetry.Logger
}

// NewS3Exporter returns an exporter writing under prefix in bucket.
func NewS3Exporter(client S3API, bucket, prefix string) *S3Exporter {
	return &S3Exporter{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: telemetry.NewLogger("storage"),
	}
}

// S3Options configures NewS3ExporterFromEnv.
type S3Options struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
}

// NewS3ExporterFromEnv builds an exporter from the default AWS credential
// chain. A non-empty Endpoint selects an S3 compatible store with path
// style addressing.
func NewS3ExporterFromEnv(ctx context.Context, opts S3Options) (*S3Exporter, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Exporter(client, opts.Bucket, opts.Prefix), nil
}

// Key returns the object key of the document for tenant and runID.
func (x *S3Exporter) Key(tenant, runID string) string {
	if tenant == "" {
		tenant = "unknown"
	}
	return path.Join(x.prefix, tenant, runID+".json")
}

// Export uploads tree and returns its object key.
func (x *S3Exporter) Export(ctx context.Context, tree *types.Tree) (string, error) {
	if tree == nil {
		return "", errors.New("nil tree")
	}
	if tree.Metadata.RunID == "" {
		return "", errors.New("tree has no run id")
	}
	body, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode tree: %w", err)
	}

	key := x.Key(tree.Metadata.SourceTenant, tree.Metadata.RunID)
	_, err = x.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(x.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		x.logger.LogStorageError(ctx, "s3_put", err)
		return "", fmt.Errorf("failed to upload s3://%s/%s: %w", x.bucket, key, err)
	}

	x.logger.WithContext(ctx).Info().
		Str("bucket", x.bucket).
		Str("key", key).
		Int("bytes", len(body)).
		Msg("tree exported")
	return key, nil
}

// Import downloads the document for tenant and runID.
func (x *S3Exporter) Import(ctx context.Context, tenant, runID string) (*types.Tree, error) {
	key := x.Key(tenant, runID)
	out, err := x.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(x.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, x.bucket, key)
		}
		return nil, fmt.Errorf("failed to download s3://%s/%s: %w", x.bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", x.bucket, key, err)
	}
	tree := &types.Tree{}
	if err := json.Unmarshal(data, tree); err != nil {
		return nil, fmt.Errorf("failed to decode s3://%s/%s: %w", x.bucket, key, err)
	}
	return tree, nil
}
