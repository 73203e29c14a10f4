package storage

import (
	"DriveVault/config"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements BlobStore on a single MinIO/S3 bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore builds a BlobStore from a MinIO client and bucket.
func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

// Bucket returns the bucket every key is resolved against.
func (s *MinioStore) Bucket() string {
	return s.bucket
}

// PutObject uploads an object to MinIO.
func (s *MinioStore) PutObject(ctx context.Context, key string, reader io.Reader, size int64, opts PutOptions) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	return err
}

// StatObject returns blob metadata or ErrObjectNotFound.
func (s *MinioStore) StatObject(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return ObjectInfo{}, ErrObjectNotFound
		}
		return ObjectInfo{}, err
	}
	return ObjectInfo{
		Key:         key,
		Size:        stat.Size,
		ContentType: stat.ContentType,
	}, nil
}

// RemoveObject deletes an object from MinIO. S3 semantics already make a
// missing key a no-op; NoSuchKey from stricter backends is folded in too.
func (s *MinioStore) RemoveObject(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && isNoSuchKey(err) {
		return nil
	}
	return err
}

// PresignedGetObject returns a presigned URL for downloading an object.
func (s *MinioStore) PresignedGetObject(
	ctx context.Context,
	key string,
	expiry time.Duration,
	params map[string]string,
) (string, error) {
	values := url.Values{}
	for k, v := range params {
		if v == "" {
			continue
		}
		values.Set(k, v)
	}
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, values)
	if err != nil {
		return "", err
	}
	return signed.String(), nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// NewMinioClient builds a MinIO client from config. Region is pinned so
// presigning never needs a bucket-location round trip.
func NewMinioClient() (*minio.Client, error) {
	return minio.New(fmt.Sprintf("%s:%s", config.AppConfig.MinioHost, config.AppConfig.MinioPort), &minio.Options{
		Creds:  credentials.NewStaticV4(config.AppConfig.MinioUsername, config.AppConfig.MinioPassword, ""),
		Secure: config.AppConfig.MinioUseSSL,
		Region: config.AppConfig.MinioRegion,
	})
}

// InitMinio initializes the MinIO client and makes sure the bucket exists.
func InitMinio() *MinioStore {
	client, err := NewMinioClient()
	if err != nil {
		log.Fatalln("minio error:", err)
	}
	ctx := context.Background()
	bucket := config.AppConfig.BucketName
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		log.Fatalln("check bucket fail:", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: config.AppConfig.MinioRegion}); err != nil {
			log.Fatalln("create bucket fail:", err)
		}
	}
	log.Println("init minio success")
	return NewMinioStore(client, bucket)
}
