package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"studyshelf/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// markerSegment is the path segment that precedes the object key in
// storage URLs, e.g. .../object/public/materials/<key>.
const markerSegment = "materials"

// Store wraps the S3 client together with the bucket it operates on.
type Store struct {
	Client *s3.Client
	Bucket string
	cfg    *config.Config
}

// NewStore creates a Store against an S3-compatible endpoint.
func NewStore(cfg *config.Config) (*Store, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.S3URL,
				SigningRegion:     cfg.S3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3Key, cfg.S3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return &Store{Client: s3.NewFromConfig(awsCfg), Bucket: cfg.S3Bucket, cfg: cfg}, nil
}

// Upload stores data under key and returns the public link.
func (s *Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.Bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", s.cfg.S3URL, s.Bucket, key), nil
}

// Download fetches an object as a stream. The caller must close the reader.
func (s *Store) Download(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, 0, err
	}
	var length int64 = -1
	if out.ContentLength != nil {
		length = *out.ContentLength
	}
	return out.Body, length, nil
}

// Delete removes an object. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
	})
	return err
}

// Presign produces a short-lived signed URL for key. It is used as an
// existence probe: signing fails when the object is absent only for
// stores that validate the key, so callers follow up with a HEAD.
func (s *Store) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
	}); err != nil {
		return "", err
	}
	presigner := s3.NewPresignClient(s.Client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.Bucket,
		Key:    &key,
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// KeyFromURL extracts the object key embedded in a storage URL.
//
// It handles patterns like .../object/public/materials/<key> and
// .../object/sign/materials/<key>: everything after the marker segment
// is the key. The second return value is false when the input is not a
// parseable URL or carries no marker segment, in which case the input
// should be treated as an opaque external address.
func KeyFromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "", false
	}
	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	for i, p := range parts {
		if p == markerSegment && i+1 < len(parts) {
			return strings.Join(parts[i+1:], "/"), true
		}
	}
	return "", false
}
