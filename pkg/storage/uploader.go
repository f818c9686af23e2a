// Package storage archives finished composites to S3.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mdcvision/dumpwatch/pkg/errors"
)

// s3API is the slice of the S3 client the uploader uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Uploader pushes session composites to an S3 bucket.
type Uploader struct {
	s3Client s3API
	bucket   string
	factory  string
}

// NewUploader creates an S3 uploader using the default credential chain.
func NewUploader(ctx context.Context, bucket, region, factoryID string) (*Uploader, error) {
	slog.Info("s3_uploader_init", "bucket", bucket, "region", region)

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &Uploader{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
		factory:  factoryID,
	}, nil
}

// Upload stores a local file under composites/{factory}/{date}/{name}.
func (u *Uploader) Upload(ctx context.Context, localPath string) error {
	key := u.keyFor(localPath, time.Now())
	slog.Info("s3_upload_start", "bucket", u.bucket, "s3_key", key)

	// A retried archive of the same composite skips the transfer. An Exists
	// failure falls through to the upload attempt.
	if exists, err := u.Exists(ctx, key); err == nil && exists {
		slog.Info("s3_object_already_archived", "s3_key", key)
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		slog.Error("local_file_open_failed", "path", localPath, "error", err)
		return errors.Wrap(err, "failed to open file for upload")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "failed to stat file for upload")
	}

	_, err = u.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("image/jpeg"),
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return errors.Wrap(err, "failed to upload object to S3")
	}

	slog.Info("s3_upload_complete", "s3_key", key, "size_bytes", info.Size())
	return nil
}

// Exists checks whether an object is already archived.
func (u *Uploader) Exists(ctx context.Context, key string) (bool, error) {
	_, err := u.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if err.Error() == "NotFound" {
			return false, nil
		}
		slog.Error("s3_head_object_failed", "s3_key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}

func (u *Uploader) keyFor(localPath string, now time.Time) string {
	return fmt.Sprintf("composites/%s/%s/%s",
		u.factory, now.Format("2006-01-02"), filepath.Base(localPath))
}
