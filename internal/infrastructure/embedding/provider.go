// Package embedding владеет жизненным циклом модели эмбеддингов.
package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/google/uuid"
)

// Provider — единственный на процесс владелец загруженной модели.
// Загрузка выполняется не больше одного раза; состояние Failed терминально,
// для повторной попытки нужно создать новый экземпляр.
type Provider struct {
	id          string
	loader      usecase.ModelLoader
	loadTimeout time.Duration
	logger      logger.Logger

	mu    sync.RWMutex
	state domain.ProviderState
	done  chan struct{} // закрывается по завершении загрузки
	model usecase.EmbeddingModel
	err   error

	// embedMu не допускает конкурентных вызовов функции эмбеддинга
	embedMu sync.Mutex
}

func NewProvider(loader usecase.ModelLoader, loadTimeout time.Duration, logger logger.Logger) *Provider {
	id := uuid.NewString()

	return &Provider{
		id:          id,
		loader:      loader,
		loadTimeout: loadTimeout,
		logger:      logger.With("provider", id),
		state:       domain.ProviderUninitialized,
	}
}

// ID возвращает идентификатор экземпляра. Входит в ключ кэша эмбеддингов галереи.
func (p *Provider) ID() string {
	return p.id
}

func (p *Provider) State() domain.ProviderState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Err возвращает причину перехода в Failed.
func (p *Provider) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// ModelVersion возвращает версию загруженной модели или пустую строку до Ready.
func (p *Provider) ModelVersion() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return ""
	}
	return p.model.Version()
}

// Dimension возвращает размерность эмбеддингов загруженной модели.
func (p *Provider) Dimension() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return 0
	}
	return p.model.Dimension()
}

// Initialize загружает модель. Повторный вызов в Ready ничего не делает,
// вызов во время Loading ожидает уже идущую загрузку, вызов в Failed
// возвращает исходную ошибку. Загрузка не привязана к контексту первого вызывающего:
// отмена ctx прерывает только ожидание.
func (p *Provider) Initialize(ctx context.Context) error {
	const op = "Provider.Initialize"

	p.mu.Lock()
	switch p.state {
	case domain.ProviderReady:
		p.mu.Unlock()
		return nil
	case domain.ProviderFailed:
		err := p.err
		p.mu.Unlock()
		return e.Wrap(op, err)
	case domain.ProviderUninitialized:
		p.state = domain.ProviderLoading
		p.done = make(chan struct{})
		go p.load(context.WithoutCancel(ctx))
	}
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return e.Wrap(op, ctx.Err())
	}

	if err := p.Err(); err != nil {
		return e.Wrap(op, err)
	}

	return nil
}

func (p *Provider) load(ctx context.Context) {
	if p.loadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.loadTimeout)
		defer cancel()
	}

	p.logger.Infof("loading embedding model")
	start := time.Now()
	model, err := p.loader.Load(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	defer close(p.done)

	if err != nil {
		p.state = domain.ProviderFailed
		p.err = fmt.Errorf("%w: %w", e.ErrProviderFailed, err)
		p.logger.Errorf(err, "embedding model load failed")
		return
	}

	p.model = model
	p.state = domain.ProviderReady
	p.logger.Infof("embedding model %s loaded in %v (dimension %d)", model.Version(), time.Since(start), model.Dimension())
}

// Embed вычисляет эмбеддинг тензора. До Ready возвращает e.ErrNotReady.
func (p *Provider) Embed(ctx context.Context, tensor *domain.Tensor) (domain.EmbeddingVector, error) {
	const op = "Provider.Embed"

	p.mu.RLock()
	state, model := p.state, p.model
	p.mu.RUnlock()

	if state != domain.ProviderReady {
		return nil, e.Wrap(op, e.Wrap("state "+state.String(), e.ErrNotReady))
	}

	log := p.logger.With("stage", "embed")
	log.Debugf("embed start")
	p.embedMu.Lock()
	vector, err := model.Embed(ctx, tensor)
	p.embedMu.Unlock()
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if dim := model.Dimension(); dim > 0 && len(vector) != dim {
		return nil, e.Wrap(op, e.Wrap(fmt.Sprintf("got %d, want %d", len(vector), dim), e.ErrDimensionMismatch))
	}
	log.Debugf("embed end (dimension %d)", len(vector))

	return vector, nil
}
