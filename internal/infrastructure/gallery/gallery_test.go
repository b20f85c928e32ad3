package gallery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
)

type fakeStore struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]error
	dir     string // если задан, Materialize пишет файл с содержимым из content
	content map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{calls: map[string]int{}, fail: map[string]error{}}
}

// newFileStore материализует шаблоны в реальные файлы, содержимое по умолчанию — ImageRef.
func newFileStore(t *testing.T) *fakeStore {
	s := newFakeStore()
	s.dir = t.TempDir()
	s.content = map[string]string{}
	return s
}

func (s *fakeStore) Materialize(_ context.Context, t domain.Template) (domain.ResourceLocator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[t.Name]++
	if err, ok := s.fail[t.Name]; ok {
		return "", err
	}
	if s.dir == "" {
		return domain.ResourceLocator("/templates/" + t.ImageRef), nil
	}

	data, ok := s.content[t.ImageRef]
	if !ok {
		data = t.ImageRef
	}
	path := filepath.Join(s.dir, t.ImageRef)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return "", err
	}
	return domain.ResourceLocator(path), nil
}

type fakePreprocessor struct {
	calls int
}

func (p *fakePreprocessor) Preprocess(_ context.Context, loc domain.ResourceLocator) (*domain.Tensor, error) {
	p.calls++
	data := make([]float32, 3)
	data[0] = float32(len(loc))
	return domain.NewTensor(1, 1, 3, data)
}

type fakeProvider struct {
	id      string
	version string
	calls   int
	err     error
	vector  domain.EmbeddingVector
}

func (p *fakeProvider) ID() string                  { return p.id }
func (p *fakeProvider) State() domain.ProviderState { return domain.ProviderReady }
func (p *fakeProvider) ModelVersion() string        { return p.version }

func (p *fakeProvider) Embed(_ context.Context, tensor *domain.Tensor) (domain.EmbeddingVector, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if p.vector != nil {
		return p.vector.Clone(), nil
	}
	return domain.EmbeddingVector{tensor.Data[0], 1}, nil
}

type fakeCache struct {
	data map[domain.EmbeddingCacheKey]domain.EmbeddingVector
	sets int
	err  error
}

func (c *fakeCache) Get(_ context.Context, key domain.EmbeddingCacheKey) (domain.EmbeddingVector, bool, error) {
	if c.err != nil {
		return nil, false, c.err
	}
	v, ok := c.data[key]
	return v.Clone(), ok, nil
}

func (c *fakeCache) Set(_ context.Context, key domain.EmbeddingCacheKey, v domain.EmbeddingVector) error {
	c.sets++
	if c.data == nil {
		c.data = map[domain.EmbeddingCacheKey]domain.EmbeddingVector{}
	}
	c.data[key] = v.Clone()
	return nil
}

type fakeIndex struct {
	upserted []domain.TemplateEmbedding
}

func (i *fakeIndex) Upsert(_ context.Context, embeddings []domain.TemplateEmbedding) error {
	i.upserted = append(i.upserted, embeddings...)
	return nil
}

func testTemplates() []domain.Template {
	return []domain.Template{
		domain.NewTemplate("cat", "cat.png"),
		domain.NewTemplate("dog", "dog.png"),
		domain.NewTemplate("bird", "bird.png"),
	}
}

func newTestGallery(t *testing.T, store usecase.TemplateStore, pre usecase.Preprocessor,
	cache usecase.EmbeddingCacheRepository, index usecase.TemplateIndexRepository) *Gallery {
	t.Helper()
	g, err := NewGallery(testTemplates(), store, pre, cache, index, logger.NewDiscardLogger())
	if err != nil {
		t.Fatalf("NewGallery: %v", err)
	}
	return g
}

func TestListAllPreservesOrder(t *testing.T) {
	g := newTestGallery(t, newFakeStore(), &fakePreprocessor{}, nil, nil)

	got := g.ListAll()
	want := []string{"cat", "dog", "bird"}
	for i, name := range want {
		if got[i].Name != name {
			t.Fatalf("ListAll()[%d] = %q, want %q", i, got[i].Name, name)
		}
	}

	got[0].Name = "mutated"
	if g.ListAll()[0].Name != "cat" {
		t.Fatal("ListAll must return a copy")
	}
}

func TestNewGalleryRejectsDuplicates(t *testing.T) {
	templates := []domain.Template{
		domain.NewTemplate("cat", "a.png"),
		domain.NewTemplate("cat", "b.png"),
	}

	_, err := NewGallery(templates, newFakeStore(), &fakePreprocessor{}, nil, nil, logger.NewDiscardLogger())
	if !errors.Is(err, e.ErrDuplicateTemplate) {
		t.Fatalf("err = %v, want ErrDuplicateTemplate", err)
	}
}

func TestGetEmbeddingIsCached(t *testing.T) {
	store := newFakeStore()
	pre := &fakePreprocessor{}
	provider := &fakeProvider{id: "p1", version: "v1"}
	g := newTestGallery(t, store, pre, nil, nil)
	cat := testTemplates()[0]

	first, err := g.GetEmbedding(context.Background(), cat, provider)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	first.Vector[0] = -42

	second, err := g.GetEmbedding(context.Background(), cat, provider)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}

	if provider.calls != 1 || pre.calls != 1 || store.calls["cat"] != 1 {
		t.Errorf("embed=%d preprocess=%d materialize=%d, want 1 each", provider.calls, pre.calls, store.calls["cat"])
	}
	if second.Vector[0] == -42 {
		t.Error("cached vector was mutated through a returned copy")
	}
	if second.ModelVersion != "v1" || second.Template.Name != "cat" {
		t.Errorf("embedding = %+v", second)
	}
}

func TestGetEmbeddingKeyedByProviderInstance(t *testing.T) {
	store := newFakeStore()
	g := newTestGallery(t, store, &fakePreprocessor{}, nil, nil)
	cat := testTemplates()[0]

	p1 := &fakeProvider{id: "p1", version: "v1"}
	p2 := &fakeProvider{id: "p2", version: "v1"}

	for _, p := range []*fakeProvider{p1, p2, p1, p2} {
		if _, err := g.GetEmbedding(context.Background(), cat, p); err != nil {
			t.Fatalf("GetEmbedding: %v", err)
		}
	}

	if p1.calls != 1 || p2.calls != 1 {
		t.Errorf("p1 calls = %d, p2 calls = %d, want 1 each", p1.calls, p2.calls)
	}
	if store.calls["cat"] != 1 {
		t.Errorf("materialize calls = %d, want 1", store.calls["cat"])
	}
}

func TestGetEmbeddingFailureIsNotCached(t *testing.T) {
	store := newFakeStore()
	store.fail["dog"] = e.ErrTemplateNotFound
	provider := &fakeProvider{id: "p1", version: "v1"}
	g := newTestGallery(t, store, &fakePreprocessor{}, nil, nil)
	dog := testTemplates()[1]

	if _, err := g.GetEmbedding(context.Background(), dog, provider); !errors.Is(err, e.ErrTemplateNotFound) {
		t.Fatalf("err = %v, want ErrTemplateNotFound", err)
	}

	delete(store.fail, "dog")
	if _, err := g.GetEmbedding(context.Background(), dog, provider); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if store.calls["dog"] != 2 {
		t.Errorf("materialize calls = %d, want 2", store.calls["dog"])
	}
}

func TestGetEmbeddingPropagatesNotReady(t *testing.T) {
	provider := &fakeProvider{id: "p1", err: e.ErrNotReady}
	g := newTestGallery(t, newFakeStore(), &fakePreprocessor{}, nil, nil)

	_, err := g.GetEmbedding(context.Background(), testTemplates()[0], provider)
	if !errors.Is(err, e.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestGetEmbeddingRejectsDegenerateVector(t *testing.T) {
	provider := &fakeProvider{id: "p1", vector: domain.EmbeddingVector{0, 0}}
	g := newTestGallery(t, newFakeStore(), &fakePreprocessor{}, nil, nil)

	_, err := g.GetEmbedding(context.Background(), testTemplates()[0], provider)
	if !errors.Is(err, e.ErrDegenerateVector) {
		t.Fatalf("err = %v, want ErrDegenerateVector", err)
	}
}

func newGallery(t *testing.T, templates []domain.Template, store usecase.TemplateStore, cache usecase.EmbeddingCacheRepository) *Gallery {
	t.Helper()
	g, err := NewGallery(templates, store, &fakePreprocessor{}, cache, nil, logger.NewDiscardLogger())
	if err != nil {
		t.Fatalf("NewGallery: %v", err)
	}
	return g
}

func TestGetEmbeddingUsesExternalCache(t *testing.T) {
	cache := &fakeCache{}
	store := newFileStore(t)
	cat := domain.NewTemplate("cat", "cat.png")

	// первый процесс вычисляет и сохраняет эмбеддинг
	first := &fakeProvider{id: "p1", version: "v1", vector: domain.EmbeddingVector{0.3, 0.4}}
	if _, err := newGallery(t, []domain.Template{cat}, store, cache).GetEmbedding(context.Background(), cat, first); err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if first.calls != 1 || cache.sets != 1 {
		t.Fatalf("miss should compute and store: embed=%d sets=%d", first.calls, cache.sets)
	}

	// новый процесс с той же моделью и тем же изображением берёт вектор из кэша
	second := &fakeProvider{id: "p2", version: "v1"}
	emb, err := newGallery(t, []domain.Template{cat}, store, cache).GetEmbedding(context.Background(), cat, second)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if second.calls != 0 {
		t.Errorf("cache hit should skip embedding, embed calls = %d", second.calls)
	}
	if emb.Vector[0] != 0.3 || emb.Vector[1] != 0.4 {
		t.Errorf("vector = %v", emb.Vector)
	}
}

func TestGetEmbeddingExternalCacheMissesOnNewImage(t *testing.T) {
	tests := []struct {
		name    string
		updated domain.Template
		content map[string]string
	}{
		{
			name:    "image ref changed",
			updated: domain.NewTemplate("cat", "another-cat.png"),
		},
		{
			name:    "image replaced in store",
			updated: domain.NewTemplate("cat", "cat.png"),
			content: map[string]string{"cat.png": "re-uploaded bytes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := &fakeCache{}
			cat := domain.NewTemplate("cat", "cat.png")

			first := &fakeProvider{id: "p1", version: "v1", vector: domain.EmbeddingVector{18, 1}}
			if _, err := newGallery(t, []domain.Template{cat}, newFileStore(t), cache).GetEmbedding(context.Background(), cat, first); err != nil {
				t.Fatalf("GetEmbedding: %v", err)
			}

			store := newFileStore(t)
			for ref, data := range tt.content {
				store.content[ref] = data
			}
			second := &fakeProvider{id: "p2", version: "v1", vector: domain.EmbeddingVector{2, 7}}
			emb, err := newGallery(t, []domain.Template{tt.updated}, store, cache).GetEmbedding(context.Background(), tt.updated, second)
			if err != nil {
				t.Fatalf("GetEmbedding: %v", err)
			}

			if second.calls != 1 {
				t.Errorf("new image must be embedded, embed calls = %d", second.calls)
			}
			if emb.Vector[0] != 2 || emb.Vector[1] != 7 {
				t.Errorf("stale vector served: %v", emb.Vector)
			}
		})
	}
}

func TestGetEmbeddingCacheErrorIsMiss(t *testing.T) {
	cache := &fakeCache{err: errors.New("connection refused")}
	provider := &fakeProvider{id: "p1", version: "v1"}
	g := newTestGallery(t, newFileStore(t), &fakePreprocessor{}, cache, nil)

	if _, err := g.GetEmbedding(context.Background(), testTemplates()[0], provider); err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("embed calls = %d, want 1", provider.calls)
	}
}

func TestWarmupSkipsFailuresAndIndexes(t *testing.T) {
	store := newFakeStore()
	store.fail["dog"] = e.ErrTemplateNotFound
	index := &fakeIndex{}
	provider := &fakeProvider{id: "p1", version: "v1"}
	g := newTestGallery(t, store, &fakePreprocessor{}, nil, index)

	n, err := g.Warmup(context.Background(), provider)
	if err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if n != 2 {
		t.Fatalf("embedded = %d, want 2", n)
	}

	if len(index.upserted) != 2 || index.upserted[0].Template.Name != "cat" || index.upserted[1].Template.Name != "bird" {
		t.Fatalf("upserted = %+v", index.upserted)
	}

	// после прогрева эмбеддинги берутся из кэша
	if _, err := g.GetEmbedding(context.Background(), testTemplates()[2], provider); err != nil {
		t.Fatal(err)
	}
	if provider.calls != 2 {
		t.Errorf("embed calls = %d, want 2", provider.calls)
	}
}
