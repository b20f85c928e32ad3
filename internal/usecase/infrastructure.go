package usecase

import (
	"context"

	"github.com/DRSN-tech/template-matcher/internal/domain"
)

// Preprocessor превращает изображение в тензор фиксированной формы.
type Preprocessor interface {
	Preprocess(ctx context.Context, locator domain.ResourceLocator) (*domain.Tensor, error)
}

// EmbeddingModel — загруженная функция эмбеддинга.
type EmbeddingModel interface {
	Embed(ctx context.Context, tensor *domain.Tensor) (domain.EmbeddingVector, error)
	Version() string
	Dimension() int
}

// ModelLoader выполняет дорогую однократную загрузку модели.
type ModelLoader interface {
	Load(ctx context.Context) (EmbeddingModel, error)
}

// EmbeddingProvider владеет жизненным циклом модели и предоставляет embed.
type EmbeddingProvider interface {
	ID() string
	State() domain.ProviderState
	ModelVersion() string
	Embed(ctx context.Context, tensor *domain.Tensor) (domain.EmbeddingVector, error)
}

// TemplateGallery — фиксированная упорядоченная галерея шаблонов с кэшем эмбеддингов.
type TemplateGallery interface {
	ListAll() []domain.Template
	GetEmbedding(ctx context.Context, template domain.Template, provider EmbeddingProvider) (*domain.TemplateEmbedding, error)
}

// MatchEventRecorder публикует событие о принятом решении.
type MatchEventRecorder interface {
	Record(ctx context.Context, event *domain.MatchEvent) error
}

// MessageProducer отправляет события во внешний брокер.
type MessageProducer interface {
	EncodeMatchEvent(event *domain.MatchEvent) ([]byte, error)
	WriteRawMessage(ctx context.Context, req *WriteRawMessageReq) error
}
