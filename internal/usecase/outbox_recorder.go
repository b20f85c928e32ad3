package usecase

import (
	"context"

	"github.com/DRSN-tech/template-matcher/internal/domain"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/tr"
	transaction "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/jackc/pgx/v5"
)

const noMatchAggregate = "no-match"

// OutboxRecorder записывает события о сопоставлениях в outbox-таблицу в рамках транзакции.
// Отправку в Kafka выполняет OutboxWorker.
type OutboxRecorder struct {
	outboxRepo OutboxRepository
	dbPool     transaction.Transactional
	producer   MessageProducer
}

func NewOutboxRecorder(outboxRepo OutboxRepository, dbPool transaction.Transactional, producer MessageProducer) *OutboxRecorder {
	return &OutboxRecorder{
		outboxRepo: outboxRepo,
		dbPool:     dbPool,
		producer:   producer,
	}
}

// Record кодирует событие и сохраняет его в outbox.
func (o *OutboxRecorder) Record(ctx context.Context, event *domain.MatchEvent) (err error) {
	const op = "OutboxRecorder.Record"

	payload, err := o.producer.EncodeMatchEvent(event)
	if err != nil {
		return e.Wrap(op, err)
	}

	ctx, tx, err := transaction.NewTransaction(ctx, pgx.TxOptions{}, o.dbPool)
	if err != nil {
		return e.Wrap(op, err)
	}
	defer func() {
		if err != nil && tx.IsActive() {
			tx.Rollback(ctx)
		}
	}()
	ctx = tr.WithTx(ctx, tx.Transaction())

	if _, err = o.outboxRepo.Create(ctx, NewOutboxEvent(event.EventID, MatchDecided, aggregateID(event), payload)); err != nil {
		return e.Wrap(op, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return e.Wrap(op, err)
	}

	return nil
}

// aggregateID — ключ партиционирования: события одного шаблона попадают в одну партицию.
func aggregateID(event *domain.MatchEvent) string {
	if event.TemplateName == "" {
		return noMatchAggregate
	}
	return event.TemplateName
}
