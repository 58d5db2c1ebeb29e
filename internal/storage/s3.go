package storage

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

type s3Storage struct {
	cfg      *options
	client   *s3.S3
	uploader *s3manager.Uploader
}

func NewS3Storage(opts ...Option) (*s3Storage, error) {
	cfg := newOptions(opts...)

	awsConfig := &aws.Config{
		Region:           aws.String(cfg.region),
		DisableSSL:       aws.Bool(!cfg.useSSL),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.endpoint)
	}
	if cfg.accessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.accessKey, cfg.secretAccessKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create aws session")
	}

	return &s3Storage{
		cfg:      cfg,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

// Put streams the body with a multipart upload, so size is only a hint.
func (s *s3Storage) Put(ctx context.Context, key string, body io.Reader, _ int64, contentType string) (string, error) {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.cfg.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to upload %s", key)
	}
	return Ref{Bucket: s.cfg.bucket, Key: key}.String(), nil
}

func (s *s3Storage) SignedURL(_ context.Context, ref string, ttl time.Duration) (string, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return "", err
	}
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.Key),
	})
	u, err := req.Presign(ttl)
	if err != nil {
		return "", errors.Wrapf(err, "failed to sign %s", ref)
	}
	return u, nil
}

func (s *s3Storage) Delete(ctx context.Context, ref string) error {
	r, err := ParseRef(ref)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.Key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil
		}
		return errors.Wrapf(err, "failed to delete %s", ref)
	}
	return nil
}

func (s *s3Storage) Type() string {
	return "s3"
}
