// Package mirror copies completed artifacts to an S3-compatible bucket.
package mirror

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/biofetch/internal/logctx"
	"github.com/italolelis/biofetch/internal/storage"
	"github.com/italolelis/biofetch/internal/telemetry"
)

// ObjectPutter is the subset of the S3 client the mirror needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type Uploader struct {
	client    ObjectPutter
	bucket    string
	prefix    string
	telemetry *telemetry.Telemetry
}

// New builds an uploader from cfg. Without static keys the default AWS
// credential chain is used. A custom endpoint switches to path-style
// addressing for S3-compatible stores.
func New(ctx context.Context, cfg Config, tel *telemetry.Telemetry) (*Uploader, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}

	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewUploader(client, cfg.Bucket, cfg.Prefix, tel), nil
}

func NewUploader(client ObjectPutter, bucket, prefix string, tel *telemetry.Telemetry) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), telemetry: tel}
}

// Key returns the object key of job's artifact.
func (u *Uploader) Key(job *storage.Job) string {
	name := job.AccessionID
	if job.FilePath != nil {
		name = filepath.Base(*job.FilePath)
	}

	return path.Join(u.prefix, job.Repository, name)
}

// Upload copies the artifact of a completed job to the bucket.
func (u *Uploader) Upload(ctx context.Context, job *storage.Job) error {
	if job.Status != storage.StatusCompleted || job.FilePath == nil {
		return fmt.Errorf("job %s has no artifact", job.ID)
	}

	f, err := os.Open(*job.FilePath)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat artifact: %w", err)
	}

	metadata := map[string]string{"job-id": job.ID, "accession": job.AccessionID}
	if job.Checksum != nil {
		metadata["checksum"] = *job.Checksum
	}

	key := u.Key(job)

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("application/octet-stream"),
		Metadata:      metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	logctx.LoggerFromContext(ctx).Info("artifact mirrored",
		"job_id", job.ID, "bucket", u.bucket, "key", key, "size", humanize.Bytes(uint64(info.Size())))

	return nil
}

// JobCompleted mirrors the artifact; failures are logged and counted.
func (u *Uploader) JobCompleted(ctx context.Context, job *storage.Job) {
	if err := u.Upload(ctx, job); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to mirror artifact", "job_id", job.ID, "err", err)
		u.telemetry.RecordArtifactMirror("error")

		return
	}

	u.telemetry.RecordArtifactMirror("success")
}

// JobFailed is a no-op: failed jobs have no artifact.
func (u *Uploader) JobFailed(context.Context, *storage.Job) {}
