// Package documents keeps intake attachments in S3-compatible object storage.
package documents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxUploadBytes caps a single attachment.
const MaxUploadBytes = 25 << 20

var (
	ErrTooLarge        = errors.New("document exceeds the upload size limit")
	ErrUnsupportedType = errors.New("document content type is not allowed")
	ErrEmptyDocument   = errors.New("document is empty")
)

var allowedContentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"image/png":  true,
	"image/jpeg": true,
	"text/plain": true,
	"text/csv":   true,
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Store struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
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

// Upload describes a single attachment to store.
type Upload struct {
	IntakeID    string
	DocumentID  string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

func (u Upload) Validate() error {
	if u.Size <= 0 {
		return ErrEmptyDocument
	}
	if u.Size > MaxUploadBytes {
		return ErrTooLarge
	}
	if !allowedContentTypes[NormalizeContentType(u.ContentType)] {
		return ErrUnsupportedType
	}
	return nil
}

// Put stores the upload and returns its object key.
func (s *Store) Put(ctx context.Context, upload Upload) (string, error) {
	if err := upload.Validate(); err != nil {
		return "", err
	}
	key := ObjectKey(upload.IntakeID, upload.DocumentID, upload.FileName)
	_, err := s.client.PutObject(ctx, s.bucket, key, upload.Body, upload.Size, minio.PutObjectOptions{
		ContentType: NormalizeContentType(upload.ContentType),
		UserMetadata: map[string]string{
			"intake-id": upload.IntakeID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// PresignedURL returns a time-limited download link that forces the original
// file name.
func (s *Store) PresignedURL(ctx context.Context, objectKey, fileName string, expiry time.Duration) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", SafeFileName(fileName)))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", objectKey, err)
	}
	return u.String(), nil
}

func (s *Store) Remove(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", objectKey, err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	return nil
}

// ObjectKey lays documents out per intake: intakes/<intake>/<document>/<file>.
func ObjectKey(intakeID, documentID, fileName string) string {
	return path.Join("intakes", intakeID, documentID, SafeFileName(fileName))
}

// SafeFileName strips directories and characters that are unsafe in object
// keys and Content-Disposition headers.
func SafeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		return "document"
	}
	return cleaned
}

func NormalizeContentType(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
