package usecase

import (
	"context"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/domain"
)

// TemplateStore материализует изображение шаблона в локальный ресурс, пригодный для декодирования.
type TemplateStore interface {
	Materialize(ctx context.Context, template domain.Template) (domain.ResourceLocator, error)
}

type TemplateImageRepository interface {
	Upload(ctx context.Context, image *domain.TemplateImage) (string, error)
	Delete(ctx context.Context, key string) error
}

// EmbeddingCacheRepository — внешний кэш эмбеддингов шаблонов.
type EmbeddingCacheRepository interface {
	Get(ctx context.Context, key domain.EmbeddingCacheKey) (domain.EmbeddingVector, bool, error)
	Set(ctx context.Context, key domain.EmbeddingCacheKey, vector domain.EmbeddingVector) error
}

type TemplateIndexRepository interface {
	Upsert(ctx context.Context, embeddings []domain.TemplateEmbedding) error
}

// OutboxRepository — outbox-таблица событий о сопоставлениях.
type OutboxRepository interface {
	Create(ctx context.Context, event *OutboxEvent) (*OutboxEvent, error)
	GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkAsProcessed(ctx context.Context, id int64) error
	// Release возвращает событие в pending для повторной отправки.
	Release(ctx context.Context, id int64) error
	MarkAsFailed(ctx context.Context, id int64, reason string) error
	// ReleaseStale возвращает в pending события, застрявшие в processing дольше olderThan.
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
}
