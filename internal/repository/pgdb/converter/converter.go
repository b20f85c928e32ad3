package converter

import (
	"github.com/DRSN-tech/template-matcher/internal/usecase"
)

// OutboxEventConverter преобразует сущности OutboxEvent между usecase и моделью PostgreSQL.
type OutboxEventConverter struct{}

func NewOutboxEventConverter() OutboxEventConverter {
	return OutboxEventConverter{}
}

func (OutboxEventConverter) ToModel(entity *usecase.OutboxEvent) *OutboxEventModel {
	if entity == nil {
		return nil
	}

	return &OutboxEventModel{
		ID:          entity.ID,
		EventID:     entity.EventID,
		EventType:   string(entity.EventType),
		AggregateID: entity.AggregateID,
		Payload:     entity.Payload,
		Status:      string(entity.Status),
		CreatedAt:   entity.CreatedAt,
		ProcessedAt: entity.ProcessedAt,
	}
}

func (OutboxEventConverter) ToEntity(model *OutboxEventModel) *usecase.OutboxEvent {
	if model == nil {
		return nil
	}

	return &usecase.OutboxEvent{
		ID:          model.ID,
		EventID:     model.EventID,
		EventType:   usecase.OutboxEventType(model.EventType),
		AggregateID: model.AggregateID,
		Payload:     model.Payload,
		Status:      usecase.OutboxStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		ProcessedAt: model.ProcessedAt,
	}
}

func (c OutboxEventConverter) ToArrEntity(models []*OutboxEventModel) []*usecase.OutboxEvent {
	result := make([]*usecase.OutboxEvent, 0, len(models))
	for _, model := range models {
		result = append(result, c.ToEntity(model))
	}

	return result
}
