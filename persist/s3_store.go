package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"southwinds.dev/memo/internal/debug"
)

const (
	ctxTimeout = 10 * time.Second
)

// S3BlobStore implements BlobStore on an S3 compatible object store through the MinIO client.
//
// Object layout:
//
//	bucket/
//	└── [keyPrefix/]
//	    └── <remote directory>/
//	        └── vault.json     # serialised vault, the only object the sync layer writes
//
// Directories do not exist in S3, so CreateDirectory only validates the path.
type S3BlobStore struct {
	// client is the MinIO client used to interact with the object store.
	client *minio.Client

	// bucketName is the name of the bucket holding the vault objects.
	bucketName string

	// keyPrefix is an optional prefix for every object key, allowing a bucket to be shared.
	keyPrefix string
}

// S3Config contains the configuration required to connect to S3 (MinIO).
type S3Config struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
	Bucket          string `json:"bucket" yaml:"bucket"`
	KeyPrefix       string `json:"key_prefix" yaml:"key_prefix"`
	UseSSL          bool   `json:"use_ssl" yaml:"use_ssl"`
	Region          string `json:"region" yaml:"region"`
}

// NewS3BlobStore initializes a new S3BlobStore using the provided configuration and makes sure
// the bucket exists.
//
// Errors:
//   - Returns an error if the MinIO client fails to initialize or the bucket cannot be created.
func NewS3BlobStore(ctx context.Context, config S3Config) (*S3BlobStore, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &S3BlobStore{
		client:     client,
		bucketName: config.Bucket,
		keyPrefix:  strings.Trim(config.KeyPrefix, "/"),
	}

	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()

	if err = store.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return store, nil
}

// NewS3BlobStoreFromConfig initializes a new S3BlobStore from the given BlobStoreConfig.
func NewS3BlobStoreFromConfig(ctx context.Context, config BlobStoreConfig) (*S3BlobStore, error) {
	if config.Type != StoreTypeS3 {
		return nil, fmt.Errorf("invalid store type for MinIO: %s", config.Type)
	}

	configBytes, err := json.Marshal(config.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	var s3Config S3Config
	if err = json.Unmarshal(configBytes, &s3Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal S3 config: %w", err)
	}

	return NewS3BlobStore(ctx, s3Config)
}

func (s3s *S3BlobStore) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error {
	objectName := s3s.buildPath(path)

	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()

	if !opts.Overwrite {
		exists, err := s3s.objectExists(ctx, objectName)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("object %q: %w", path, ErrAlreadyExists)
		}
	}

	info, err := s3s.client.PutObject(
		ctx,
		s3s.bucketName,
		objectName,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				"data-type":  "memo-vault",
				"updated-at": time.Now().UTC().Format(time.RFC3339),
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", objectName, err)
	}

	debug.Print("S3BlobStore.Upload: %s etag=%s size=%d\n", objectName, cleanETag(info.ETag), info.Size)
	return nil
}

func (s3s *S3BlobStore) Download(ctx context.Context, path string) ([]byte, error) {
	objectName := s3s.buildPath(path)

	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()

	object, err := s3s.client.GetObject(ctx, s3s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("object %q: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s: %w", objectName, err)
	}
	defer object.Close()

	// GetObject is lazy; a missing key only surfaces on the first read
	data, err := io.ReadAll(object)
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("object %q: %w", path, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", objectName, err)
	}
	return data, nil
}

func (s3s *S3BlobStore) Exists(ctx context.Context, path string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()
	return s3s.objectExists(ctx, s3s.buildPath(path))
}

func (s3s *S3BlobStore) Delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()

	err := s3s.client.RemoveObject(ctx, s3s.bucketName, s3s.buildPath(path), minio.RemoveObjectOptions{})
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (s3s *S3BlobStore) CreateDirectory(ctx context.Context, path string) error {
	if strings.Contains(path, "..") {
		return fmt.Errorf("invalid directory %q", path)
	}
	return nil
}

// Ping checks that the bucket is reachable
func (s3s *S3BlobStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ctxTimeout)
	defer cancel()

	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to ping S3: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s3s.bucketName)
	}
	return nil
}

func (s3s *S3BlobStore) GetType() string {
	return string(StoreTypeS3)
}

func (s3s *S3BlobStore) buildPath(components ...string) string {
	var parts []string

	if s3s.keyPrefix != "" {
		parts = append(parts, s3s.keyPrefix)
	}

	for _, component := range components {
		component = strings.Trim(component, "/")
		if component != "" {
			parts = append(parts, component)
		}
	}

	return strings.Join(parts, "/")
}

func (s3s *S3BlobStore) ensureBucket(ctx context.Context) error {
	exists, err := s3s.client.BucketExists(ctx, s3s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check if bucket exists: %w", err)
	}

	if !exists {
		err = s3s.client.MakeBucket(ctx, s3s.bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

func (s3s *S3BlobStore) objectExists(ctx context.Context, objectName string) (bool, error) {
	_, err := s3s.client.StatObject(ctx, s3s.bucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", objectName, err)
	}
	return true, nil
}

func cleanETag(etag string) string {
	return strings.Trim(etag, "\"")
}

func isNotFoundError(err error) bool {
	var errResp minio.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp.Code == "NoSuchKey" || errResp.Code == "NotFound"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
