package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// S3Config configures the S3-compatible raw record backend.
type S3Config struct {
	EndpointURL     string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// Prefix is prepended to every object key, default "raw".
	Prefix string
}

// S3Store keeps raw records in an S3-compatible bucket under
// {prefix}/{project}/{key}.json.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Store creates an S3-backed store and ensures the bucket exists.
func NewS3Store(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if cfg.EndpointURL == "" {
		return nil, fmt.Errorf("s3 endpoint URL is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "raw"
	}

	u, err := url.Parse(cfg.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("invalid s3 endpoint URL: %w", err)
	}
	endpoint := u.Host
	if endpoint == "" {
		endpoint = cfg.EndpointURL
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: u.Scheme == "https",
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("created raw storage bucket", zap.String("bucket", cfg.Bucket))
	}

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

func (s *S3Store) Put(ctx context.Context, project, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.objectKey(project, key),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("upload raw record %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, project, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(project, key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetch raw record %s/%s: %w", project, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read raw record %s/%s: %w", project, key, err)
	}
	return data, nil
}

func (s *S3Store) List(ctx context.Context, projects []string) ([]Ref, error) {
	filter := projectFilter(projects)

	var refs []Ref
	opts := minio.ListObjectsOptions{Prefix: s.prefix + "/", Recursive: true}
	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return nil, fmt.Errorf("list raw records: %w", info.Err)
		}
		if !strings.HasSuffix(info.Key, ".json") {
			continue
		}
		rel := strings.TrimPrefix(info.Key, s.prefix+"/")
		parts := strings.SplitN(rel, "/", 2)
		if len(parts) != 2 {
			continue
		}
		project := parts[0]
		if filter != nil {
			if _, ok := filter[project]; !ok {
				continue
			}
		}
		refs = append(refs, Ref{
			Project: project,
			Key:     strings.TrimSuffix(parts[1], ".json"),
		})
	}
	return refs, nil
}

func (s *S3Store) objectKey(project, key string) string {
	return fmt.Sprintf("%s/%s/%s.json", s.prefix, project, key)
}
