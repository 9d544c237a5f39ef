// Package archivestore keeps a copy of every successfully imported archive
// in an S3-compatible bucket.
package archivestore

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const archiveContentType = "application/zip"

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Settings describe the bucket and how to reach it. Endpoint is only needed
// for S3-compatible stores such as MinIO; empty keys fall back to the
// default AWS credential chain.
type Settings struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// ArchiveStore uploads archives under per-user, per-day keys.
type ArchiveStore struct {
	client objectPutter
	bucket string
	now    func() time.Time
}

// Key builds the object key for an archive uploaded by userID at moment d.
func Key(userID int64, d time.Time) string {
	return fmt.Sprintf("imports/%d/%04d/%02d/%02d/%v.zip", userID, d.Year(), int(d.Month()), d.Day(), uuid.New())
}

// Put stores payload and returns the key it was written under.
func (s *ArchiveStore) Put(ctx context.Context, userID int64, payload []byte) (string, error) {
	key := Key(userID, s.now().UTC())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String(archiveContentType),
	})
	if err != nil {
		return "", fmt.Errorf("in internal/archivestore/archivestore.go/Put(): error while `s.client.PutObject()` calling: %w", err)
	}

	return key, nil
}

func newWithClient(client objectPutter, bucket string) *ArchiveStore {
	return &ArchiveStore{
		client: client,
		bucket: bucket,
		now:    time.Now,
	}
}

// New builds an S3 client from settings.
func New(ctx context.Context, settings Settings) (*ArchiveStore, error) {
	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(settings.Region),
	}
	if settings.AccessKey != "" {
		loadOptions = append(loadOptions, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			settings.AccessKey,
			settings.SecretKey,
			"",
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("in internal/archivestore/archivestore.go/New(): error while `config.LoadDefaultConfig()` calling: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if settings.Endpoint != "" {
			o.BaseEndpoint = aws.String(settings.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newWithClient(client, settings.Bucket), nil
}
