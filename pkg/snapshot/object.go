package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/Sternrassler/pncp-sync/pkg/record"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ObjectConfig configures an S3-compatible snapshot bucket.
type ObjectConfig struct {
	// Endpoint is host:port or a URL. An https scheme enables TLS.
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
}

// ObjectStore keeps each collection as <prefix>/<name>.json in a bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
	region string
	logger zerolog.Logger
}

// NewObjectStore creates a MinIO/S3 backed store. It does not contact the
// server; call EnsureBucket to verify connectivity.
func NewObjectStore(cfg ObjectConfig) (*ObjectStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}

	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		region: cfg.Region,
		logger: log.With().Str("component", "snapshot").Str("bucket", cfg.Bucket).Logger(),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info().Msg("Snapshot bucket created")
	return nil
}

// Key returns the object key holding the named collection.
func (s *ObjectStore) Key(name string) string {
	if s.prefix == "" {
		return name + ".json"
	}
	return path.Join(s.prefix, name+".json")
}

// Load implements Store.
func (s *ObjectStore) Load(ctx context.Context, name string) ([]record.Record, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.Key(name), minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return []record.Record{}, nil
		}
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	defer obj.Close()

	// GetObject is lazy: a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return []record.Record{}, nil
		}
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}

	records, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return records, nil
}

// Save implements Store.
func (s *ObjectStore) Save(ctx context.Context, name string, records []record.Record) error {
	data, err := Encode(records)
	if err == nil {
		_, err = s.client.PutObject(ctx, s.bucket, s.Key(name), bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "application/json"})
	}
	recordSave("object", err)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}

	s.logger.Debug().Str("collection", name).Int("records", len(records)).Msg("Snapshot saved")
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
