package s3archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TaskFox/internal/pkg/tasksync"
)

// objectPutter is the subset of the S3 client used by the archiver.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes fetched snapshots to S3 as gzip compressed JSON.
type Archiver struct {
	client objectPutter
	config *Config
}

var _ tasksync.SnapshotArchiver = (*Archiver)(nil)

// NewArchiver creates an archiver from cfg. The archive must be enabled.
func NewArchiver(ctx context.Context, cfg *Config) (*Archiver, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("snapshot archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	log.Infof("[S3Archive] Snapshot archive enabled for bucket: %s", cfg.BucketName)
	return &Archiver{client: client, config: cfg}, nil
}

// Archive uploads one snapshot keyed by provider, user and run start.
func (a *Archiver) Archive(ctx context.Context, userID uint, provider string, runStart time.Time, snap *tasksync.Snapshot) error {
	body, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	key := a.config.ObjectKey(provider, userID, runStart)

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.config.BucketName),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
		ContentLength:   aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"user-id":       strconv.FormatUint(uint64(userID), 10),
			"provider":      provider,
			"upload-source": "taskfox-sync",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot to S3: %w", err)
	}

	log.Debugf("[S3Archive] Archived snapshot s3://%s/%s (%d bytes)", a.config.BucketName, key, len(body))
	return nil
}

func encodeSnapshot(snap *tasksync.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
