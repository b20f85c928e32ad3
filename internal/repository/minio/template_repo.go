package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/minio/minio-go/v7"
)

// TemplateRepo хранит изображения шаблонов в MinIO и скачивает их в локальный кэш по требованию.
type TemplateRepo struct {
	mc       *minio.Client
	cfg      *cfg.MinIOCfg
	cacheDir string
}

func NewTemplateRepo(mc *minio.Client, cfg *cfg.MinIOCfg, cacheDir string) *TemplateRepo {
	return &TemplateRepo{
		mc:       mc,
		cfg:      cfg,
		cacheDir: cacheDir,
	}
}

// Materialize скачивает объект шаблона в кэш-директорию, если его там ещё нет.
func (t *TemplateRepo) Materialize(ctx context.Context, template domain.Template) (domain.ResourceLocator, error) {
	local := filepath.Join(t.cacheDir, filepath.Clean("/"+template.ImageRef))

	if _, err := os.Stat(local); err == nil {
		return domain.ResourceLocator(local), nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	if err := t.mc.FGetObject(ctx, t.cfg.BucketName, template.ImageRef, local, minio.GetObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", fmt.Errorf("%w: %s/%s", e.ErrTemplateNotFound, t.cfg.BucketName, template.ImageRef)
		}
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return domain.ResourceLocator(local), nil
}

// Upload загружает изображение в MinIO и возвращает ключ объекта.
func (t *TemplateRepo) Upload(ctx context.Context, image *domain.TemplateImage) (string, error) {
	bucket := image.Bucket
	if bucket == "" {
		bucket = t.cfg.BucketName
	}

	info, err := t.mc.PutObject(ctx, bucket, image.ObjectKey, bytes.NewReader(image.Bytes), image.Size, minio.PutObjectOptions{
		ContentType: image.ContentType,
	})
	if err != nil {
		return "", e.Wrap(whereami.WhereAmI(), err)
	}

	return info.Key, nil
}

// Delete удаляет объект из MinIO и локальную копию, если она есть.
func (t *TemplateRepo) Delete(ctx context.Context, key string) error {
	if err := t.mc.RemoveObject(ctx, t.cfg.BucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	local := filepath.Join(t.cacheDir, filepath.Clean("/"+key))
	if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
