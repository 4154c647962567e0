package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/noah-isme/classroom-roster/pkg/config"
)

// AllowedPhotoTypes maps accepted photo content types to file extensions.
var AllowedPhotoTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// PhotoStorage keeps student photos in a MinIO bucket.
type PhotoStorage struct {
	client   *minio.Client
	bucket   string
	endpoint string
}

// NewPhotoStorage connects to MinIO and makes sure the bucket exists.
func NewPhotoStorage(ctx context.Context, cfg config.PhotosConfig) (*PhotoStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}

	return &PhotoStorage{
		client:   client,
		bucket:   cfg.Bucket,
		endpoint: fmt.Sprintf("%s://%s", scheme, cfg.Endpoint),
	}, nil
}

// UploadPhoto stores the photo of one student and returns its URL. Uploading
// again for the same student overwrites the previous object of that type.
func (s *PhotoStorage) UploadPhoto(ctx context.Context, ownerID, studentID string, photo *Photo) (string, error) {
	objectName, err := PhotoObjectName(ownerID, studentID, photo.ContentType)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(photo.Data), int64(len(photo.Data)), minio.PutObjectOptions{
		ContentType: photo.ContentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, objectName), nil
}

// DeletePhoto removes a photo previously returned by UploadPhoto.
func (s *PhotoStorage) DeletePhoto(ctx context.Context, ref string) error {
	prefix := fmt.Sprintf("%s/%s/", s.endpoint, s.bucket)
	if !strings.HasPrefix(ref, prefix) {
		return nil
	}
	objectName := strings.TrimPrefix(ref, prefix)
	return s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

// PhotoObjectName builds the bucket key for a student photo.
func PhotoObjectName(ownerID, studentID, contentType string) (string, error) {
	ext, ok := AllowedPhotoTypes[contentType]
	if !ok {
		return "", fmt.Errorf("photo type not allowed: %s", contentType)
	}
	if ownerID == "" || studentID == "" {
		return "", fmt.Errorf("owner and student id required")
	}
	return fmt.Sprintf("students/%s/%s%s", ownerID, studentID, ext), nil
}
