package storage

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

type minioStorage struct {
	cfg    *options
	client *minio.Client
}

func NewMinioStorage(opts ...Option) (*minioStorage, error) {
	cfg := newOptions(opts...)

	client, err := minio.New(cfg.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.accessKey, cfg.secretAccessKey, ""),
		Secure: cfg.useSSL,
		Region: cfg.region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}

	return &minioStorage{cfg: cfg, client: client}, nil
}

func (s *minioStorage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.cfg.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", errors.Wrapf(err, "failed to upload %s", key)
	}
	return Ref{Bucket: s.cfg.bucket, Key: key}.String(), nil
}

func (s *minioStorage) SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, r.Bucket, r.Key, ttl, nil)
	if err != nil {
		return "", errors.Wrapf(err, "failed to sign %s", ref)
	}
	return u.String(), nil
}

// Delete treats a missing object as already deleted.
func (s *minioStorage) Delete(ctx context.Context, ref string) error {
	r, err := ParseRef(ref)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, r.Bucket, r.Key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return errors.Wrapf(err, "failed to delete %s", ref)
	}
	return nil
}

func (s *minioStorage) Type() string {
	return "minio"
}
