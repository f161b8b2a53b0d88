package blob

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dealhub/internal/model"
)

// PresignExpiry: срок жизни подписанной ссылки на вложение, когда
// у бакета нет публичного базового URL.
const PresignExpiry = 7 * 24 * time.Hour

// MinioStore реализует Store для MinIO и S3-совместимых хранилищ.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

var _ Store = (*MinioStore)(nil)

// NewMinioStore подключается к MinIO и создаёт бакет, если его нет.
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool, publicBaseURL string) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

func (m *MinioStore) Put(ctx context.Context, obj Object) (model.Attachment, error) {
	key := time.Now().UTC().Format("2006/01/02/") + uuid.New().String() + strings.ToLower(filepath.Ext(obj.Name))
	size := obj.Size
	if size <= 0 {
		size = -1
	}
	info, err := m.client.PutObject(ctx, m.bucket, key, obj.Body, size, minio.PutObjectOptions{
		ContentType:        obj.MIMEType,
		ContentDisposition: "attachment; filename*=UTF-8''" + url.PathEscape(obj.Name),
	})
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return model.Attachment{}, ErrTooLarge
		}
		return model.Attachment{}, fmt.Errorf("put object: %w", err)
	}
	u, err := m.link(ctx, key)
	if err != nil {
		return model.Attachment{}, err
	}
	return model.Attachment{URL: u, Name: obj.Name, MimeType: obj.MIMEType, Size: info.Size}, nil
}

func (m *MinioStore) link(ctx context.Context, key string) (string, error) {
	if m.baseURL != "" {
		return m.baseURL + "/" + key, nil
	}
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, PresignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return u.String(), nil
}
