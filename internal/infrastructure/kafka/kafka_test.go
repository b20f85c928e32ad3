package kafka

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/cfg"
	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type fakeOutboxRepo struct {
	pending   []*usecase.OutboxEvent
	processed []int64
	released  []int64
	failed    map[int64]string
	inflight  map[int64]*usecase.OutboxEvent
}

func (r *fakeOutboxRepo) Create(_ context.Context, event *usecase.OutboxEvent) (*usecase.OutboxEvent, error) {
	r.pending = append(r.pending, event)
	return event, nil
}

func (r *fakeOutboxRepo) GetAndMarkAsProcessing(_ context.Context, limit int) ([]*usecase.OutboxEvent, error) {
	n := min(limit, len(r.pending))
	batch := r.pending[:n]
	r.pending = r.pending[n:]
	if r.inflight == nil {
		r.inflight = make(map[int64]*usecase.OutboxEvent)
	}
	for _, event := range batch {
		r.inflight[event.ID] = event
	}
	return batch, nil
}

func (r *fakeOutboxRepo) MarkAsProcessed(_ context.Context, id int64) error {
	r.processed = append(r.processed, id)
	return nil
}

func (r *fakeOutboxRepo) Release(_ context.Context, id int64) error {
	r.released = append(r.released, id)
	r.pending = append(r.pending, r.inflight[id])
	return nil
}

func (r *fakeOutboxRepo) MarkAsFailed(_ context.Context, id int64, reason string) error {
	if r.failed == nil {
		r.failed = make(map[int64]string)
	}
	r.failed[id] = reason
	return nil
}

func (r *fakeOutboxRepo) ReleaseStale(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func newEvents(keys ...string) []*usecase.OutboxEvent {
	events := make([]*usecase.OutboxEvent, 0, len(keys))
	for i, key := range keys {
		event := usecase.NewOutboxEvent(fmt.Sprintf("evt-%d", i+1), usecase.MatchDecided, key, []byte(key))
		event.ID = int64(i + 1)
		events = append(events, event)
	}
	return events
}

type fakeProducer struct {
	sent []*usecase.WriteRawMessageReq
	fail map[string]error
}

func (p *fakeProducer) EncodeMatchEvent(*domain.MatchEvent) ([]byte, error) {
	return nil, errors.New("not used")
}

func (p *fakeProducer) WriteRawMessage(_ context.Context, req *usecase.WriteRawMessageReq) error {
	if err, ok := p.fail[req.Key]; ok {
		return err
	}
	p.sent = append(p.sent, req)
	return nil
}

func TestProcessBatchSettlesEvents(t *testing.T) {
	repo := &fakeOutboxRepo{pending: newEvents("drake", "no-match", "flaky", "rejected")}
	producer := &fakeProducer{fail: map[string]error{
		"flaky":    errors.New("dial tcp: connection refused"),
		"rejected": errors.New("[10] Message Size Too Large"),
	}}
	w := NewOutboxWorker(repo, logger.NewDiscardLogger(), producer, "")

	hasMore, err := w.processBatch(context.Background())
	if err != nil {
		t.Fatalf("processBatch: %v", err)
	}
	if hasMore {
		t.Error("partial batch should not report more work")
	}

	if len(producer.sent) != 2 || producer.sent[0].Key != "drake" || producer.sent[1].Key != "no-match" {
		t.Fatalf("sent = %+v", producer.sent)
	}
	if len(repo.processed) != 2 || repo.processed[0] != 1 || repo.processed[1] != 2 {
		t.Errorf("processed = %v, want [1 2]", repo.processed)
	}
	if len(repo.released) != 1 || repo.released[0] != 3 {
		t.Errorf("released = %v, want [3]", repo.released)
	}
	if _, ok := repo.failed[4]; !ok || len(repo.failed) != 1 {
		t.Errorf("failed = %v, want event 4", repo.failed)
	}
}

func TestProcessBatchHasMore(t *testing.T) {
	keys := make([]string, batchSize+3)
	for i := range keys {
		keys[i] = fmt.Sprintf("template-%d", i)
	}
	repo := &fakeOutboxRepo{pending: newEvents(keys...)}
	producer := &fakeProducer{}
	w := NewOutboxWorker(repo, logger.NewDiscardLogger(), producer, "")

	w.drain(context.Background())

	if len(producer.sent) != len(keys) {
		t.Fatalf("sent %d events, want %d", len(producer.sent), len(keys))
	}
	if len(repo.pending) != 0 {
		t.Errorf("pending = %d, want 0", len(repo.pending))
	}
}

func TestDrainStopsOnRetryableFailure(t *testing.T) {
	keys := make([]string, batchSize)
	for i := range keys {
		keys[i] = "down"
	}
	repo := &fakeOutboxRepo{pending: newEvents(keys...)}
	producer := &fakeProducer{fail: map[string]error{"down": errors.New("broker not available")}}
	w := NewOutboxWorker(repo, logger.NewDiscardLogger(), producer, "")

	w.drain(context.Background())

	if len(repo.released) != batchSize {
		t.Errorf("released = %d, want %d", len(repo.released), batchSize)
	}
	if len(repo.pending) != batchSize {
		t.Errorf("pending = %d, want all events back in the queue", len(repo.pending))
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("read: i/o timeout"), true},
		{context.DeadlineExceeded, true},
		{errors.New("[3] Unknown Topic Or Partition"), false},
	}

	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestEncodeMatchEvent(t *testing.T) {
	p, err := NewProducer(logger.NewDiscardLogger(), &cfg.KafkaCfg{Brokers: []string{"localhost:9092"}, Topic: "t"})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	decidedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload, err := p.EncodeMatchEvent(&domain.MatchEvent{
		EventID:      "e1",
		Matched:      true,
		TemplateName: "two-buttons",
		Score:        0.875,
		DisplayScore: 88,
		ModelVersion: "mobilenet-v2",
		DecidedAt:    decidedAt,
	})
	if err != nil {
		t.Fatalf("EncodeMatchEvent: %v", err)
	}

	var got structpb.Struct
	if err := proto.Unmarshal(payload, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	fields := got.GetFields()
	if fields["template_name"].GetStringValue() != "two-buttons" ||
		!fields["matched"].GetBoolValue() ||
		fields["display_score"].GetNumberValue() != 88 ||
		fields["decided_at"].GetStringValue() != "2026-03-01T12:00:00Z" {
		t.Fatalf("decoded event = %v", fields)
	}
}
