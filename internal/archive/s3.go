// Package archive uploads export snapshots to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sdko-org/libproxy/internal/config"
	"github.com/sirupsen/logrus"
)

// Archiver stores a named snapshot and returns its storage location.
type Archiver interface {
	Store(ctx context.Context, name string, content []byte, contentType string) (string, error)
}

type S3Archive struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
	log      *logrus.Entry
}

func NewS3Archive(logger *logrus.Logger, cfg *config.Config) *S3Archive {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.S3Region),
		Credentials:      credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
	}

	sess := session.Must(session.NewSession(awsConfig))

	return &S3Archive{
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.S3Bucket,
		prefix:   "exports",
		log:      logger.WithField("component", "archive"),
	}
}

func (a *S3Archive) Store(ctx context.Context, name string, content []byte, contentType string) (string, error) {
	key := path.Join(a.prefix, time.Now().UTC().Format("2006/01"), name)

	_, err := a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}

	location := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	a.log.WithFields(logrus.Fields{
		"key":  key,
		"size": len(content),
	}).Info("Stored export snapshot")
	return location, nil
}
