package usecase

import (
	"time"

	"github.com/DRSN-tech/template-matcher/internal/domain"
)

// PROVIDER

// ProviderStatus — состояние провайдера эмбеддингов для внешних потребителей.
type ProviderStatus struct {
	ProviderID   string
	State        domain.ProviderState
	ModelVersion string
}

// TEMPLATES

// TemplateImageUpload — изображение шаблона для загрузки в хранилище.
type TemplateImageUpload struct {
	TemplateName string
	ImageRef     string // ключ объекта, совпадает с image в манифесте
	Data         []byte
	MimeType     string
}

// OUTBOX

type OutboxStatus string

const (
	Pending    OutboxStatus = "pending"
	Processing OutboxStatus = "processing"
	Processed  OutboxStatus = "processed"
	Failed     OutboxStatus = "failed" // брокер отклонил событие без возможности повтора
)

// OutboxChannel — канал LISTEN/NOTIFY, по которому OutboxWorker узнаёт о новых событиях.
const OutboxChannel = "outbox_pending"

type OutboxEventType string

const (
	MatchDecided OutboxEventType = "match_decided"
)

// OutboxEvent — событие, ожидающее отправки в Kafka.
type OutboxEvent struct {
	ID          int64
	EventID     string
	EventType   OutboxEventType
	AggregateID string
	Payload     []byte
	Status      OutboxStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// INFRASTUCTURE

// WriteRawMessageReq — готовое к отправке сообщение.
type WriteRawMessageReq struct {
	Key     string
	Payload []byte
}

// MAPPERS

func NewProviderStatus(providerID string, state domain.ProviderState, modelVersion string) ProviderStatus {
	return ProviderStatus{
		ProviderID:   providerID,
		State:        state,
		ModelVersion: modelVersion,
	}
}

func NewOutboxEvent(eventID string, eventType OutboxEventType, aggregateID string, payload []byte) *OutboxEvent {
	return &OutboxEvent{
		EventID:     eventID,
		EventType:   eventType,
		AggregateID: aggregateID,
		Payload:     payload,
		Status:      Pending,
		CreatedAt:   time.Now().UTC(),
	}
}

func NewWriteRawMessageReq(key string, payload []byte) *WriteRawMessageReq {
	return &WriteRawMessageReq{
		Key:     key,
		Payload: payload,
	}
}

func NewTemplateImageUpload(templateName, imageRef string, data []byte, mimeType string) TemplateImageUpload {
	return TemplateImageUpload{
		TemplateName: templateName,
		ImageRef:     imageRef,
		Data:         data,
		MimeType:     mimeType,
	}
}
