package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
)

type fakeModel struct {
	dim int
	out domain.EmbeddingVector
}

func (m *fakeModel) Embed(_ context.Context, _ *domain.Tensor) (domain.EmbeddingVector, error) {
	return m.out, nil
}
func (m *fakeModel) Version() string { return "fake-v1" }
func (m *fakeModel) Dimension() int  { return m.dim }

type fakeLoader struct {
	calls atomic.Int32
	gate  chan struct{}
	model usecase.EmbeddingModel
	err   error
}

func (l *fakeLoader) Load(ctx context.Context) (usecase.EmbeddingModel, error) {
	l.calls.Add(1)
	if l.gate != nil {
		select {
		case <-l.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.model, nil
}

func testTensor(t *testing.T) *domain.Tensor {
	t.Helper()
	tensor, err := domain.NewTensor(1, 1, 3, []float32{0.1, 0.2, 0.3})
	if err != nil {
		t.Fatalf("NewTensor: %v", err)
	}
	return tensor
}

func TestEmbedBeforeReady(t *testing.T) {
	p := NewProvider(&fakeLoader{}, 0, logger.NewDiscardLogger())

	if p.State() != domain.ProviderUninitialized {
		t.Fatalf("expected uninitialized, got %s", p.State())
	}

	_, err := p.Embed(context.Background(), testTensor(t))
	if !errors.Is(err, e.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestInitializeIdempotent(t *testing.T) {
	loader := &fakeLoader{model: &fakeModel{dim: 3, out: domain.EmbeddingVector{1, 2, 3}}}
	p := NewProvider(loader, time.Second, logger.NewDiscardLogger())

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}

	if got := loader.calls.Load(); got != 1 {
		t.Errorf("expected exactly one load, got %d", got)
	}
	if p.State() != domain.ProviderReady {
		t.Errorf("expected ready, got %s", p.State())
	}
	if p.ModelVersion() != "fake-v1" || p.Dimension() != 3 {
		t.Errorf("unexpected model info %q/%d", p.ModelVersion(), p.Dimension())
	}

	vec, err := p.Embed(context.Background(), testTensor(t))
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestInitializeConcurrentCallersShareLoad(t *testing.T) {
	loader := &fakeLoader{
		gate:  make(chan struct{}),
		model: &fakeModel{dim: 3, out: domain.EmbeddingVector{1, 2, 3}},
	}
	p := NewProvider(loader, time.Second, logger.NewDiscardLogger())

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.Initialize(context.Background())
		}()
	}

	deadline := time.After(time.Second)
	for p.State() != domain.ProviderLoading {
		select {
		case <-deadline:
			t.Fatal("provider never entered loading state")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(loader.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Initialize: %v", err)
		}
	}
	if got := loader.calls.Load(); got != 1 {
		t.Errorf("expected exactly one load, got %d", got)
	}
}

func TestInitializeFailureIsTerminal(t *testing.T) {
	loadErr := errors.New("model artifact unavailable")
	loader := &fakeLoader{err: loadErr}
	p := NewProvider(loader, time.Second, logger.NewDiscardLogger())

	err := p.Initialize(context.Background())
	if !errors.Is(err, e.ErrProviderFailed) || !errors.Is(err, loadErr) {
		t.Fatalf("expected ErrProviderFailed wrapping load error, got %v", err)
	}
	if p.State() != domain.ProviderFailed {
		t.Fatalf("expected failed, got %s", p.State())
	}

	loader.err = nil
	loader.model = &fakeModel{dim: 3}
	if err := p.Initialize(context.Background()); !errors.Is(err, e.ErrProviderFailed) {
		t.Errorf("expected failed provider to stay failed, got %v", err)
	}
	if got := loader.calls.Load(); got != 1 {
		t.Errorf("failed provider must not reload, got %d loads", got)
	}

	if _, err := p.Embed(context.Background(), testTensor(t)); !errors.Is(err, e.ErrNotReady) {
		t.Errorf("expected ErrNotReady from failed provider, got %v", err)
	}
}

func TestInitializeCallerCancellationDoesNotAbortLoad(t *testing.T) {
	loader := &fakeLoader{
		gate:  make(chan struct{}),
		model: &fakeModel{dim: 3},
	}
	p := NewProvider(loader, time.Second, logger.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Initialize(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(loader.gate)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize after cancelled wait: %v", err)
	}
	if p.State() != domain.ProviderReady {
		t.Errorf("expected ready, got %s", p.State())
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	loader := &fakeLoader{model: &fakeModel{dim: 4, out: domain.EmbeddingVector{1, 2, 3}}}
	p := NewProvider(loader, time.Second, logger.NewDiscardLogger())
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := p.Embed(context.Background(), testTensor(t)); !errors.Is(err, e.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestProvidersHaveDistinctIDs(t *testing.T) {
	a := NewProvider(&fakeLoader{}, 0, logger.NewDiscardLogger())
	b := NewProvider(&fakeLoader{}, 0, logger.NewDiscardLogger())
	if a.ID() == b.ID() {
		t.Error("expected distinct provider ids")
	}
}
