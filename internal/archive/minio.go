// Package archive mirrors accepted uploads into S3-compatible object
// storage. Mirroring is best-effort: the local staged file stays the
// authoritative artifact.
package archive

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Config locates the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Timeout   time.Duration
}

// Mirror uploads files to a MinIO bucket behind a circuit breaker.
type Mirror struct {
	client  *minio.Client
	bucket  string
	fs      afero.Fs
	timeout time.Duration
	breaker *Breaker
	logger  *zap.Logger
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	return raw, false, nil
}

// NewMirror connects to the endpoint and checks the bucket exists.
func NewMirror(ctx context.Context, cfg Config, fsys afero.Fs, logger *zap.Logger) (*Mirror, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}
	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("archive")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &Mirror{
		client:  client,
		bucket:  cfg.Bucket,
		fs:      fsys,
		timeout: cfg.Timeout,
		breaker: NewBreaker(5, 30*time.Second, logger),
		logger:  logger,
	}, nil
}

// Archive copies the file at path to an object named after its base name.
func (m *Mirror) Archive(ctx context.Context, path, contentType string) error {
	return m.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		f, err := m.fs.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()

		fi, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		key := filepath.Base(path)
		info, err := m.client.PutObject(ctx, m.bucket, key, f, fi.Size(), minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return fmt.Errorf("put object %s: %w", key, err)
		}
		m.logger.Debug("archived", zap.String("key", key), zap.Int64("bytes", info.Size))
		return nil
	})
}

// Ping reports whether the bucket is reachable.
func (m *Mirror) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}

// Health fails while the breaker is open, otherwise it pings the bucket.
func (m *Mirror) Health(ctx context.Context) error {
	if err := m.breaker.health(); err != nil {
		return err
	}
	return m.Ping(ctx)
}
