package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gradebook/records-api/internal/config"
)

const scheme = "s3"

// ObjectStorage keeps uploaded files. Objects are addressed by reference
// strings of the form s3://bucket/key.
type ObjectStorage interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, ref string) error
	Type() string
}

type Ref struct {
	Bucket string
	Key    string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s://%s/%s", scheme, r.Bucket, r.Key)
}

func ParseRef(ref string) (Ref, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid storage reference %q: %w", ref, err)
	}
	if u.Scheme != scheme || u.Host == "" {
		return Ref{}, fmt.Errorf("invalid storage reference %q: expected %s://bucket/key", ref, scheme)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return Ref{}, fmt.Errorf("invalid storage reference %q: missing key", ref)
	}
	return Ref{Bucket: u.Host, Key: key}, nil
}

// New builds the backend selected by the configuration.
func New(cfg *config.Config) (ObjectStorage, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case "s3":
		return NewS3Storage(
			WithEndpoint(sc.Endpoint),
			WithRegion(sc.Region),
			WithBucket(sc.Bucket),
			WithAccessKey(sc.AccessKey),
			WithSecretKey(sc.SecretKey),
			WithSSL(sc.UseSSL),
		)
	case "minio", "":
		return NewMinioStorage(
			WithEndpoint(sc.Endpoint),
			WithRegion(sc.Region),
			WithBucket(sc.Bucket),
			WithAccessKey(sc.AccessKey),
			WithSecretKey(sc.SecretKey),
			WithSSL(sc.UseSSL),
		)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}
