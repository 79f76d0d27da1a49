package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"fineledger/pkg/platform/sentinel"
)

// MinioStore keeps evidence in an object-storage bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and ensures the bucket exists.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
		}
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, appealID, fileName, contentType string, r io.Reader, size int64) (Blob, error) {
	key := NewKey(appealID)
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"filename": fileName,
		},
	})
	if err != nil {
		return Blob{}, fmt.Errorf("put evidence object: %w", err)
	}
	return Blob{
		Key:         key,
		FileName:    fileName,
		ContentType: contentType,
		SizeBytes:   info.Size,
	}, nil
}

func (s *MinioStore) Get(ctx context.Context, key string) (Blob, io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Blob{}, nil, fmt.Errorf("get evidence object: %w", err)
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return Blob{}, nil, sentinel.ErrNotFound
		}
		return Blob{}, nil, fmt.Errorf("stat evidence object: %w", err)
	}
	return Blob{
		Key:         key,
		FileName:    stat.UserMetadata["Filename"],
		ContentType: stat.ContentType,
		SizeBytes:   stat.Size,
	}, obj, nil
}

func (s *MinioStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove evidence object: %w", err)
	}
	return nil
}
