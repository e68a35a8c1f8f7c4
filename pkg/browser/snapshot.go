package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
)

// SnapshotSink stores diagnostic captures of rendered pages.
type SnapshotSink interface {
	Save(ctx context.Context, name string, html, png []byte) error
}

// snapshotKey builds a stable, filesystem-safe base name.
func snapshotKey(name string, at time.Time) string {
	return slug.Make(name) + "-" + at.UTC().Format("20060102T150405Z")
}

// DirSink writes snapshots to a local directory.
type DirSink struct {
	now func() time.Time
	dir string
}

// NewDirSink creates a sink rooted at dir.
func NewDirSink(dir string) *DirSink {
	return &DirSink{dir: dir, now: time.Now}
}

// Save writes <key>.html and, when present, <key>.png.
func (d *DirSink) Save(_ context.Context, name string, html, png []byte) error {
	if err := os.MkdirAll(d.dir, 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	base := filepath.Join(d.dir, snapshotKey(name, d.now()))
	if err := os.WriteFile(base+".html", html, 0o600); err != nil {
		return err
	}
	if len(png) == 0 {
		return nil
	}
	return os.WriteFile(base+".png", png, 0o600)
}

// S3Config locates an S3-compatible bucket (AWS, R2, MinIO).
type S3Config struct {
	Bucket    string
	Prefix    string
	Endpoint  string // empty for AWS
	Region    string
	AccessKey string // empty uses the default credential chain
	SecretKey string
}

// S3Sink uploads snapshots to an S3-compatible bucket.
type S3Sink struct {
	client *s3.Client
	now    func() time.Time
	bucket string
	prefix string
}

// NewS3Sink builds a client from cfg.
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("snapshot bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load S3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, now: time.Now}, nil
}

// Save uploads <prefix><key>.html and <prefix><key>.png.
func (s *S3Sink) Save(ctx context.Context, name string, html, png []byte) error {
	key := s.prefix + snapshotKey(name, s.now())
	if err := s.put(ctx, key+".html", "text/html; charset=utf-8", html); err != nil {
		return err
	}
	if len(png) == 0 {
		return nil
	}
	return s.put(ctx, key+".png", "image/png", png)
}

func (s *S3Sink) put(ctx context.Context, key, contentType string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload snapshot %s: %w", key, err)
	}
	return nil
}
