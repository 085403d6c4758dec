package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore keeps files in an S3 compatible bucket under owner/repo/path.
// It keeps no history; the commit message is stored as object metadata.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore connects to endpoint and creates bucket when missing.
func NewObjectStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*ObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	store := NewObjectStoreWithClient(client, bucket)
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func NewObjectStoreWithClient(client *minio.Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *ObjectStore) Read(ctx context.Context, loc Location) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(loc), minio.GetObjectOptions{})
	if err != nil {
		return "", mapObjectError(loc, err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		return "", mapObjectError(loc, err)
	}
	return string(body), nil
}

func (s *ObjectStore) Exists(ctx context.Context, loc Location) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectKey(loc), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	err = mapObjectError(loc, err)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *ObjectStore) Create(ctx context.Context, loc Location, body, message string) error {
	exists, err := s.Exists(ctx, loc)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyExists
	}
	return s.put(ctx, loc, body, message)
}

func (s *ObjectStore) Update(ctx context.Context, loc Location, body, message string) error {
	exists, err := s.Exists(ctx, loc)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return s.put(ctx, loc, body, message)
}

func (s *ObjectStore) Delete(ctx context.Context, loc Location, _ string) error {
	exists, err := s.Exists(ctx, loc)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey(loc), minio.RemoveObjectOptions{}); err != nil {
		return mapObjectError(loc, err)
	}
	return nil
}

func (s *ObjectStore) put(ctx context.Context, loc Location, body, message string) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey(loc), strings.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/yaml",
		UserMetadata: map[string]string{"commit-message": message},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", loc, err)
	}
	return nil
}

func objectKey(loc Location) string {
	return loc.Owner + "/" + loc.Repo + "/" + strings.TrimPrefix(loc.Path, "/")
}

func mapObjectError(loc Location, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	}
	return fmt.Errorf("read %s: %w", loc, err)
}
