package converter

import (
	"testing"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/usecase"
)

func TestOutboxEventRoundTrip(t *testing.T) {
	conv := NewOutboxEventConverter()
	processed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entity := &usecase.OutboxEvent{
		ID:          7,
		EventID:     "evt",
		EventType:   usecase.MatchDecided,
		AggregateID: "drake-hotline-bling",
		Payload:     []byte{1, 2, 3},
		Status:      usecase.Processing,
		CreatedAt:   processed.Add(-time.Minute),
		ProcessedAt: &processed,
	}

	model := conv.ToModel(entity)
	if model.EventType != "match_decided" || model.Status != "processing" {
		t.Fatalf("model = %+v", model)
	}

	got := conv.ToArrEntity([]*OutboxEventModel{model})
	if len(got) != 1 {
		t.Fatalf("got %d entities", len(got))
	}
	if got[0].EventType != usecase.MatchDecided || got[0].AggregateID != entity.AggregateID || !got[0].ProcessedAt.Equal(processed) {
		t.Fatalf("entity = %+v", got[0])
	}

	if conv.ToModel(nil) != nil || conv.ToEntity(nil) != nil {
		t.Error("nil input must give nil output")
	}
}
