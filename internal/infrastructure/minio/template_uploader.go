package minio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/infrastructure"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/jitter"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
)

const cleanupAttempts = 3

// TemplateUploader загружает изображения галереи в MinIO.
type TemplateUploader struct {
	repo        usecase.TemplateImageRepository
	bucket      string
	concurrency int
	logger      logger.Logger
	baseBackoff time.Duration
}

func NewTemplateUploader(repo usecase.TemplateImageRepository, cfg *cfg.MinIOCfg, logger logger.Logger) *TemplateUploader {
	concurrency := cfg.UploadConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	return &TemplateUploader{
		repo:        repo,
		bucket:      cfg.BucketName,
		concurrency: concurrency,
		logger:      logger,
		baseBackoff: time.Second,
	}
}

// UploadTemplates загружает изображения параллельно с ограничением одновременных операций.
// Ключи возвращаются в порядке входных данных. При первой ошибке остальные загрузки
// отменяются, а уже загруженные объекты удаляются.
func (m *TemplateUploader) UploadTemplates(ctx context.Context, uploads []usecase.TemplateImageUpload) ([]string, error) {
	const op = "TemplateUploader.UploadTemplates"

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make([]string, len(uploads))
	sem := make(chan struct{}, m.concurrency)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, upload := range uploads {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			key, err := m.upload(ctx, upload)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			keys[i] = key
		}()
	}
	wg.Wait()

	if firstErr == nil {
		if err := ctx.Err(); err != nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		uploaded := make([]string, 0, len(keys))
		for _, key := range keys {
			if key != "" {
				uploaded = append(uploaded, key)
			}
		}
		m.cleanup(uploaded)
		return nil, e.Wrap(op, firstErr)
	}

	return keys, nil
}

func (m *TemplateUploader) upload(ctx context.Context, upload usecase.TemplateImageUpload) (string, error) {
	if _, err := infrastructure.GetExtensionFromMIME(upload.MimeType); err != nil {
		return "", fmt.Errorf("invalid mime type %s for %s: %w", upload.MimeType, upload.TemplateName, err)
	}

	image := domain.NewTemplateImage(m.bucket, upload.ImageRef, upload.Data, upload.MimeType)
	key, err := m.repo.Upload(ctx, image)
	if err != nil {
		return "", fmt.Errorf("upload %s failed: %w", upload.TemplateName, err)
	}

	m.logger.Infof("template %s uploaded as %s", upload.TemplateName, key)
	return key, nil
}

// cleanup удаляет загруженные объекты с экспоненциальной задержкой и jitter.
func (m *TemplateUploader) cleanup(keys []string) {
	if len(keys) == 0 {
		return
	}
	m.logger.Infof("cleaning up %d uploaded templates", len(keys))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, key := range keys {
		for attempt := 0; attempt < cleanupAttempts; attempt++ {
			err := m.repo.Delete(ctx, key)
			if err == nil {
				break
			}
			if attempt == cleanupAttempts-1 {
				m.logger.Warnf("failed to delete %s: %v", key, err)
				break
			}

			delay := jitter.ExponentialBackoff(m.baseBackoff, 10*m.baseBackoff, attempt, jitter.DefaultJitter)
			if err := jitter.Sleep(ctx, delay); err != nil {
				m.logger.Warnf("cleanup interrupted, key=%v", key)
				return
			}
		}
	}
}
