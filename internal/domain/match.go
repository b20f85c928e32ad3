package domain

import "time"

// ScoredTemplate — шаблон и его оценка сходства со входным изображением.
type ScoredTemplate struct {
	Template Template
	Score    float64
}

// MatchResult — итог одного сопоставления. Не изменяется и не сохраняется ядром.
type MatchResult struct {
	Matched      bool
	Template     *Template // nil, если совпадение не найдено
	Score        float64
	DisplayScore int64 // процент, округлённый до целого
	Candidates   []ScoredTemplate
}

// MatchEvent — уведомление о принятом решении для внешних потребителей.
type MatchEvent struct {
	EventID      string
	Matched      bool
	TemplateName string
	Score        float64
	DisplayScore int64
	ModelVersion string
	DecidedAt    time.Time
}

func NewMatchEvent(eventID string, res *MatchResult, modelVersion string, decidedAt time.Time) *MatchEvent {
	event := &MatchEvent{
		EventID:      eventID,
		Matched:      res.Matched,
		Score:        res.Score,
		DisplayScore: res.DisplayScore,
		ModelVersion: modelVersion,
		DecidedAt:    decidedAt,
	}
	if res.Template != nil {
		event.TemplateName = res.Template.Name
	}

	return event
}
