package pgdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/tr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// OutboxEventRepo хранит события о сопоставлениях до их отправки в Kafka.
type OutboxEventRepo struct {
	pool *pgxpool.Pool
	conv converter.OutboxEventConverter
}

func NewOutboxEventRepo(pool *pgxpool.Pool, conv converter.OutboxEventConverter) *OutboxEventRepo {
	return &OutboxEventRepo{
		pool: pool,
		conv: conv,
	}
}

// Create сохраняет событие в транзакции из контекста и уведомляет OutboxWorker через NOTIFY.
func (o *OutboxEventRepo) Create(ctx context.Context, event *usecase.OutboxEvent) (*usecase.OutboxEvent, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	model := o.conv.ToModel(event)
	query := `
		INSERT INTO outbox_events (
			event_id,
			event_type,
			aggregate_id,
			payload,
			status,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at;
	`

	if err := tx.QueryRow(ctx, query,
		model.EventID,
		model.EventType,
		model.AggregateID,
		model.Payload,
		model.Status,
		model.CreatedAt,
	).Scan(&model.ID, &model.CreatedAt); err != nil {
		if postgresDuplicate(err) {
			return nil, fmt.Errorf("%s: match event %s already exists", whereami.WhereAmI(), event.EventID)
		}

		return nil, fmt.Errorf("%s: failed to insert event: %w", whereami.WhereAmI(), err)
	}

	_, err = tx.Exec(ctx, "NOTIFY "+usecase.OutboxChannel)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return o.conv.ToEntity(model), nil
}

// GetAndMarkAsProcessing забирает пачку ожидающих событий, пропуская заблокированные другими воркерами.
func (o *OutboxEventRepo) GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*usecase.OutboxEvent, error) {
	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", whereami.WhereAmI(), err)
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	query := `
		UPDATE outbox_events
        SET status = $1, processing_started_at = now()
        WHERE id IN (
            SELECT id FROM outbox_events
            WHERE status = $2
            ORDER BY created_at
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id, event_id, event_type, aggregate_id, payload, status, created_at, processed_at
	`

	rows, err := tx.Query(ctx, query, usecase.Processing, usecase.Pending, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to query pending events: %w", whereami.WhereAmI(), err)
	}
	defer rows.Close()

	var models []*converter.OutboxEventModel
	for rows.Next() {
		var model converter.OutboxEventModel
		var processedAt sql.NullTime

		err := rows.Scan(
			&model.ID,
			&model.EventID,
			&model.EventType,
			&model.AggregateID,
			&model.Payload,
			&model.Status,
			&model.CreatedAt,
			&processedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to scan event: %w", whereami.WhereAmI(), err)
		}

		if processedAt.Valid {
			model.ProcessedAt = &processedAt.Time
		}

		models = append(models, &model)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows iterator error: %w", whereami.WhereAmI(), err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", whereami.WhereAmI(), err)
	}

	return o.conv.ToArrEntity(models), nil
}

// MarkAsProcessed фиксирует успешную отправку. Событие, уже переведённое
// другим воркером, не считается ошибкой.
func (o *OutboxEventRepo) MarkAsProcessed(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_events
		SET status = $1, processed_at = now()
		WHERE id = $2 AND status = $3
	`

	if _, err := o.pool.Exec(ctx, query, usecase.Processed, id, usecase.Processing); err != nil {
		return fmt.Errorf("%s: failed to mark event %d as processed: %w", whereami.WhereAmI(), id, err)
	}

	return nil
}

func (o *OutboxEventRepo) Release(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox_events
		SET status = $1, processing_started_at = NULL, attempts = attempts + 1
		WHERE id = $2 AND status = $3
	`

	if _, err := o.pool.Exec(ctx, query, usecase.Pending, id, usecase.Processing); err != nil {
		return fmt.Errorf("%s: failed to release event %d: %w", whereami.WhereAmI(), id, err)
	}

	return nil
}

func (o *OutboxEventRepo) MarkAsFailed(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE outbox_events
		SET status = $1, last_error = $2, attempts = attempts + 1
		WHERE id = $3 AND status = $4
	`

	if _, err := o.pool.Exec(ctx, query, usecase.Failed, reason, id, usecase.Processing); err != nil {
		return fmt.Errorf("%s: failed to mark event %d as failed: %w", whereami.WhereAmI(), id, err)
	}

	return nil
}

func (o *OutboxEventRepo) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE outbox_events
		SET status = $1, processing_started_at = NULL
		WHERE status = $2 AND processing_started_at < $3
	`

	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := o.pool.Exec(ctx, query, usecase.Pending, usecase.Processing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to release stale events: %w", whereami.WhereAmI(), err)
	}

	return result.RowsAffected(), nil
}
