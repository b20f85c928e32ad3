package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/google/uuid"
)

// Стадии сопоставления: Idle → Preprocessing → Embedding → ComparingTemplates → Decided | Failed.
const (
	stagePreprocess = "preprocess"
	stageEmbed      = "embed"
	stageCompare    = "compare"
	stageDecide     = "decide"
)

// MatchUseCase координирует сопоставление одного входного изображения с галереей шаблонов.
type MatchUseCase struct {
	preprocessor Preprocessor
	provider     EmbeddingProvider
	gallery      TemplateGallery
	recorder     MatchEventRecorder
	threshold    float64
	logger       logger.Logger

	// mu сериализует сопоставления: функция эмбеддинга не вызывается конкурентно,
	// а в памяти одновременно находится не больше одного входного тензора.
	mu sync.Mutex
}

func NewMatchUC(
	preprocessor Preprocessor,
	provider EmbeddingProvider,
	gallery TemplateGallery,
	recorder MatchEventRecorder,
	threshold float64,
	logger logger.Logger,
) *MatchUseCase {
	return &MatchUseCase{
		preprocessor: preprocessor,
		provider:     provider,
		gallery:      gallery,
		recorder:     recorder,
		threshold:    threshold,
		logger:       logger,
	}
}

// Match сопоставляет входное изображение с каждым шаблоном галереи в порядке объявления.
// Провайдер должен быть уже готов: инициализацию запускает вызывающая сторона.
// Ошибки входного изображения фатальны (e.ErrMatchFailure), ошибки отдельных шаблонов
// исключают шаблон из сравнения. Если исключены все шаблоны, возвращается e.ErrNoUsableTemplates.
func (m *MatchUseCase) Match(ctx context.Context, input domain.ResourceLocator) (*domain.MatchResult, error) {
	const op = "MatchUseCase.Match"

	m.mu.Lock()
	defer m.mu.Unlock()

	if state := m.provider.State(); state != domain.ProviderReady {
		return nil, e.Wrap(op, e.Wrap("provider state "+state.String(), e.ErrNotReady))
	}

	log := m.logger.With("provider", m.provider.ID(), "input", string(input))

	// Preprocessing
	log.Debugf("%s: preprocessing input", stagePreprocess)
	tensor, err := m.preprocessor.Preprocess(ctx, input)
	if err != nil {
		log.Warnf("%s: input preprocessing failed: %v", stagePreprocess, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, e.Wrap(op, ctxErr)
		}
		return nil, e.Wrap(op, e.MatchFailure(stagePreprocess, err))
	}

	// Embedding
	log.Debugf("%s: embedding input", stageEmbed)
	inputVector, err := m.provider.Embed(ctx, tensor)
	if err != nil {
		log.Warnf("%s: input embedding failed: %v", stageEmbed, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, e.Wrap(op, ctxErr)
		}
		if errors.Is(err, e.ErrNotReady) {
			return nil, e.Wrap(op, err)
		}
		return nil, e.Wrap(op, e.MatchFailure(stageEmbed, err))
	}
	if err := domain.ValidateVector(inputVector); err != nil {
		return nil, e.Wrap(op, e.MatchFailure(stageEmbed, err))
	}

	// ComparingTemplates
	scored, err := m.compareTemplates(ctx, inputVector, log)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	// Decided
	res := domain.SelectBest(scored, m.threshold)
	decided := log.With("stage", stageDecide, "matched", res.Matched, "score", res.Score)
	if res.Template != nil {
		decided.Infof("matched template %q (%d%%)", res.Template.Name, res.DisplayScore)
	} else {
		decided.Infof("no template matched (best %d%%)", res.DisplayScore)
	}

	m.recordEvent(ctx, res)

	return res, nil
}

// Templates возвращает галерею в порядке объявления.
func (m *MatchUseCase) Templates() []domain.Template {
	return m.gallery.ListAll()
}

// ProviderStatus возвращает текущее состояние провайдера эмбеддингов.
func (m *MatchUseCase) ProviderStatus() ProviderStatus {
	return NewProviderStatus(m.provider.ID(), m.provider.State(), m.provider.ModelVersion())
}

// compareTemplates последовательно считает оценки по всем шаблонам галереи.
// Отмена ctx прерывает сравнение целиком: результат по части галереи не возвращается.
func (m *MatchUseCase) compareTemplates(
	ctx context.Context,
	input domain.EmbeddingVector,
	log logger.Logger,
) ([]domain.ScoredTemplate, error) {
	templates := m.gallery.ListAll()

	scored := make([]domain.ScoredTemplate, 0, len(templates))
	var failures []error
	for _, t := range templates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tlog := log.With("stage", stageCompare, "template", t.Name)

		emb, err := m.gallery.GetEmbedding(ctx, t, m.provider)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, e.ErrNotReady) {
				return nil, err
			}
			tlog.Warnf("template excluded: %v", err)
			failures = append(failures, e.Wrap(t.Name, err))
			continue
		}

		score, err := domain.MatchScore(input, emb.Vector)
		if err != nil {
			tlog.Warnf("template excluded: %v", err)
			failures = append(failures, e.Wrap(t.Name, err))
			continue
		}

		tlog.With("score", score).Debugf("template scored")
		scored = append(scored, domain.ScoredTemplate{Template: t, Score: score})
	}

	if len(templates) > 0 && len(scored) == 0 {
		return nil, errors.Join(append([]error{e.ErrNoUsableTemplates}, failures...)...)
	}

	return scored, nil
}

// recordEvent публикует событие о решении. Ошибки не влияют на результат сопоставления.
func (m *MatchUseCase) recordEvent(ctx context.Context, res *domain.MatchResult) {
	if m.recorder == nil {
		return
	}

	event := domain.NewMatchEvent(uuid.NewString(), res, m.provider.ModelVersion(), time.Now().UTC())
	if err := m.recorder.Record(ctx, event); err != nil {
		m.logger.Warnf("failed to record match event %s: %v", event.EventID, err)
	}
}
