// Package gallery хранит фиксированную галерею шаблонов и кэширует их эмбеддинги.
package gallery

import (
	"context"
	"fmt"
	"sync"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
)

// cacheKey — эмбеддинг шаблона действителен только для того экземпляра провайдера,
// которым он вычислен.
type cacheKey struct {
	providerID   string
	templateName string
}

// Gallery — упорядоченный неизменяемый набор шаблонов.
// Вычисленные эмбеддинги кэшируются на время жизни процесса.
type Gallery struct {
	templates    []domain.Template
	store        usecase.TemplateStore
	preprocessor usecase.Preprocessor
	cache        usecase.EmbeddingCacheRepository // опционально
	index        usecase.TemplateIndexRepository  // опционально
	logger       logger.Logger

	mu         sync.Mutex
	locators   map[string]domain.ResourceLocator
	embeddings map[cacheKey]*domain.TemplateEmbedding

	// computeMu не даёт считать один и тот же эмбеддинг дважды
	computeMu sync.Mutex
}

// NewGallery создаёт галерею. cache и index могут быть nil.
func NewGallery(
	templates []domain.Template,
	store usecase.TemplateStore,
	preprocessor usecase.Preprocessor,
	cache usecase.EmbeddingCacheRepository,
	index usecase.TemplateIndexRepository,
	logger logger.Logger,
) (*Gallery, error) {
	seen := make(map[string]struct{}, len(templates))
	for _, t := range templates {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: empty template name", e.ErrInvalidManifest)
		}
		if _, ok := seen[t.Name]; ok {
			return nil, fmt.Errorf("%w: %q", e.ErrDuplicateTemplate, t.Name)
		}
		seen[t.Name] = struct{}{}
	}

	return &Gallery{
		templates:    append([]domain.Template(nil), templates...),
		store:        store,
		preprocessor: preprocessor,
		cache:        cache,
		index:        index,
		logger:       logger.With("component", "gallery"),
		locators:     make(map[string]domain.ResourceLocator, len(templates)),
		embeddings:   make(map[cacheKey]*domain.TemplateEmbedding, len(templates)),
	}, nil
}

// ListAll возвращает шаблоны в порядке объявления.
func (g *Gallery) ListAll() []domain.Template {
	return append([]domain.Template(nil), g.templates...)
}

// Resolve материализует изображение шаблона в локальный ресурс.
// Результат запоминается: каждый шаблон скачивается не больше одного раза.
func (g *Gallery) Resolve(ctx context.Context, t domain.Template) (domain.ResourceLocator, error) {
	const op = "Gallery.Resolve"

	g.mu.Lock()
	loc, ok := g.locators[t.Name]
	g.mu.Unlock()
	if ok {
		return loc, nil
	}

	loc, err := g.store.Materialize(ctx, t)
	if err != nil {
		return "", e.Wrap(op, err)
	}

	g.mu.Lock()
	g.locators[t.Name] = loc
	g.mu.Unlock()

	return loc, nil
}

// GetEmbedding возвращает эмбеддинг шаблона для данного экземпляра провайдера.
// Порядок поиска: кэш процесса, внешний кэш (по версии модели и дайджесту изображения), вычисление.
// Ошибки не кэшируются.
func (g *Gallery) GetEmbedding(
	ctx context.Context,
	t domain.Template,
	provider usecase.EmbeddingProvider,
) (*domain.TemplateEmbedding, error) {
	const op = "Gallery.GetEmbedding"

	key := cacheKey{providerID: provider.ID(), templateName: t.Name}
	if emb, ok := g.lookup(key); ok {
		return emb, nil
	}

	g.computeMu.Lock()
	defer g.computeMu.Unlock()

	if emb, ok := g.lookup(key); ok {
		return emb, nil
	}

	log := g.logger.With("template", t.Name, "provider", key.providerID)
	modelVersion := provider.ModelVersion()

	loc, err := g.Resolve(ctx, t)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	extKey, useCache := g.externalKey(t, loc, modelVersion, log)
	if useCache {
		if vector, ok := g.fromCache(ctx, extKey, log); ok {
			return g.remember(key, t, vector, modelVersion), nil
		}
	}

	tensor, err := g.preprocessor.Preprocess(ctx, loc)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	vector, err := provider.Embed(ctx, tensor)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	if err := domain.ValidateVector(vector); err != nil {
		return nil, e.Wrap(op, err)
	}
	log.Debugf("template embedding computed (dimension %d)", len(vector))

	if useCache {
		if err := g.cache.Set(ctx, extKey, vector); err != nil {
			log.Warnf("failed to write embedding cache: %v", err)
		}
	}

	return g.remember(key, t, vector, modelVersion), nil
}

// Warmup последовательно вычисляет эмбеддинги всех шаблонов в порядке объявления.
// Ошибки отдельных шаблонов логируются. Если настроен индекс, успешные векторы
// сохраняются в него. Возвращает число шаблонов с эмбеддингом.
func (g *Gallery) Warmup(ctx context.Context, provider usecase.EmbeddingProvider) (int, error) {
	const op = "Gallery.Warmup"

	embeddings := make([]domain.TemplateEmbedding, 0, len(g.templates))
	for _, t := range g.templates {
		if err := ctx.Err(); err != nil {
			return len(embeddings), e.Wrap(op, err)
		}

		emb, err := g.GetEmbedding(ctx, t, provider)
		if err != nil {
			g.logger.With("template", t.Name).Warnf("warmup: template skipped: %v", err)
			continue
		}
		embeddings = append(embeddings, *emb)
	}
	g.logger.Infof("warmup finished: %d/%d templates embedded", len(embeddings), len(g.templates))

	if g.index != nil && len(embeddings) > 0 {
		if err := g.index.Upsert(ctx, embeddings); err != nil {
			return len(embeddings), e.Wrap(op, err)
		}
	}

	return len(embeddings), nil
}

func (g *Gallery) lookup(key cacheKey) (*domain.TemplateEmbedding, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	emb, ok := g.embeddings[key]
	if !ok {
		return nil, false
	}

	return copyEmbedding(emb), true
}

func (g *Gallery) remember(key cacheKey, t domain.Template, vector domain.EmbeddingVector, modelVersion string) *domain.TemplateEmbedding {
	emb := domain.NewTemplateEmbedding(t, vector.Clone(), modelVersion)

	g.mu.Lock()
	g.embeddings[key] = emb
	g.mu.Unlock()

	return copyEmbedding(emb)
}

// externalKey строит ключ внешнего кэша. false — кэш не настроен или дайджест не посчитан.
func (g *Gallery) externalKey(t domain.Template, loc domain.ResourceLocator, modelVersion string, log logger.Logger) (domain.EmbeddingCacheKey, bool) {
	if g.cache == nil || modelVersion == "" {
		return domain.EmbeddingCacheKey{}, false
	}

	digest, err := imageDigest(t, loc)
	if err != nil {
		log.Warnf("embedding cache skipped: %v", err)
		return domain.EmbeddingCacheKey{}, false
	}

	return domain.NewEmbeddingCacheKey(modelVersion, t.Name, digest), true
}

// fromCache читает внешний кэш. Ошибки считаются промахом.
func (g *Gallery) fromCache(ctx context.Context, key domain.EmbeddingCacheKey, log logger.Logger) (domain.EmbeddingVector, bool) {
	vector, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		log.Warnf("embedding cache read failed: %v", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if err := domain.ValidateVector(vector); err != nil {
		log.Warnf("cached embedding ignored: %v", err)
		return nil, false
	}
	log.Debugf("template embedding loaded from cache")

	return vector, true
}

func copyEmbedding(emb *domain.TemplateEmbedding) *domain.TemplateEmbedding {
	return domain.NewTemplateEmbedding(emb.Template, emb.Vector.Clone(), emb.ModelVersion)
}
