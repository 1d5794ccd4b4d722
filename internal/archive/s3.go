// Package archive uploads settled plans to S3-compatible object storage
// (AWS S3, MinIO, Cloudflare R2) for audit.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/goker/goker-ledger/internal/model"
)

// Config holds the connection parameters for the archive bucket.
type Config struct {
	// Endpoint is the S3-compatible endpoint URL. Leave empty for AWS S3.
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// Archiver stores a copy of a settlement plan.
type Archiver interface {
	Archive(ctx context.Context, plan *model.SettlementPlan) error
}

// objectPutter is the subset of *s3.Client the archiver needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each plan as a JSON object under
// plans/{session_id}/{plan_id}.json.
type S3Archiver struct {
	client objectPutter
	bucket string
}

// New creates an S3Archiver with static credentials, an optional custom
// endpoint and optional path-style addressing.
func New(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("archive: region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket), nil
}

func newWithClient(client objectPutter, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket}
}

// Archive uploads the plan as a single PutObject request.
func (a *S3Archiver) Archive(ctx context.Context, plan *model.SettlementPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("archive: marshal plan %s: %w", plan.ID, err)
	}
	key := Key(plan)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put object %s: %w", key, err)
	}
	return nil
}

// Key returns the object key for a plan.
func Key(plan *model.SettlementPlan) string {
	return fmt.Sprintf("plans/%s/%s.json", plan.SessionID, plan.ID)
}

// normaliseEndpoint prepends https:// when the endpoint has no scheme.
func normaliseEndpoint(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" {
		return endpoint
	}
	return "https://" + endpoint
}

var _ Archiver = (*S3Archiver)(nil)
