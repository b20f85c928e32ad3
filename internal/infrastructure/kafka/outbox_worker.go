package kafka

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/DRSN-tech/template-matcher/internal/usecase"
	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/DRSN-tech/template-matcher/pkg/jitter"
	"github.com/DRSN-tech/template-matcher/pkg/logger"
	"github.com/jackc/pgx/v5"
)

const (
	batchSize = 10

	waitTimeout   = 30 * time.Second
	sweepInterval = time.Minute
	staleAfter    = 5 * time.Minute

	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// OutboxWorker переносит события о сопоставлениях из outbox-таблицы в Kafka.
// Новые события приходят через LISTEN, раз в sweepInterval воркер возвращает
// в очередь зависшие события и дочитывает остатки.
type OutboxWorker struct {
	repo      usecase.OutboxRepository
	logger    logger.Logger
	producer  usecase.MessageProducer
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	dbConnStr string
}

func NewOutboxWorker(
	repo usecase.OutboxRepository,
	logger logger.Logger,
	producer usecase.MessageProducer,
	dbConnStr string,
) *OutboxWorker {
	return &OutboxWorker{
		repo:      repo,
		logger:    logger.With("component", "outbox"),
		producer:  producer,
		stop:      make(chan struct{}),
		dbConnStr: dbConnStr,
	}
}

func (w *OutboxWorker) Start(ctx context.Context) {
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.sweep(ctx)
	}()

	go func() {
		defer w.wg.Done()
		w.listen(ctx)
	}()
}

// Stop останавливает воркер и дожидается завершения горутин. Повторный вызов безопасен.
func (w *OutboxWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

func (w *OutboxWorker) sweep(ctx context.Context) {
	w.logger.Infof("Draining pending outbox events on startup...")
	w.drain(ctx)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infof("Worker stopped by context cancellation")
			return
		case <-w.stop:
			w.logger.Infof("Worker stopped")
			return
		case <-ticker.C:
			released, err := w.repo.ReleaseStale(ctx, staleAfter)
			if err != nil {
				w.logger.Warnf("release stale events failed: %v", err)
			} else if released > 0 {
				w.logger.Infof("Released %d stale outbox events", released)
			}
			w.drain(ctx)
		}
	}
}

// drain обрабатывает пачки, пока они приходят полными и без ошибок отправки.
func (w *OutboxWorker) drain(ctx context.Context) {
	for {
		hasMore, err := w.processBatch(ctx)
		if err != nil {
			w.logger.Warnf("batch processing failed: %v", err)
			return
		}
		if !hasMore {
			return
		}
	}
}

func (w *OutboxWorker) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, w.dbConnStr)
	if err != nil {
		return nil, e.Wrap("failed to connect for LISTEN", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+usecase.OutboxChannel); err != nil {
		conn.Close(ctx)
		return nil, e.Wrap("failed to LISTEN", err)
	}

	w.logger.Infof("Subscribed to '%s' channel", usecase.OutboxChannel)
	return conn, nil
}

// listen ждёт NOTIFY и переподключается с экспоненциальной задержкой при потере соединения.
func (w *OutboxWorker) listen(ctx context.Context) {
	var conn *pgx.Conn
	defer func() {
		if conn != nil {
			conn.Close(context.Background())
		}
	}()

	for attempt := 0; ; {
		if conn == nil {
			var err error
			if conn, err = w.connect(ctx); err != nil {
				delay := jitter.ExponentialBackoff(reconnectBase, reconnectMax, attempt, jitter.DefaultJitter)
				w.logger.Warnf("LISTEN connect failed (attempt %d), retrying in %v: %v", attempt+1, delay, err)
				attempt++
				if !w.sleep(ctx, delay) {
					return
				}
				continue
			}
			attempt = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
		notif, err := conn.WaitForNotification(waitCtx)
		cancel()

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				continue
			}
			w.logger.Warnf("Connection lost: %v. Reconnecting...", err)
			conn.Close(context.Background())
			conn = nil
			continue
		}

		if notif != nil && notif.Channel == usecase.OutboxChannel {
			w.logger.Debugf("Received outbox notification, draining outbox events")
			w.drain(ctx)
		}
	}
}

// sleep ждёт d и возвращает false, если воркер остановлен раньше.
func (w *OutboxWorker) sleep(ctx context.Context, d time.Duration) bool {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	return jitter.Sleep(ctx, d) == nil
}

// processBatch отправляет пачку событий. hasMore означает, что пачка была полной
// и отправлена целиком: возвращённые в очередь события ждут следующего прохода.
func (w *OutboxWorker) processBatch(ctx context.Context) (bool, error) {
	events, err := w.repo.GetAndMarkAsProcessing(ctx, batchSize)
	if err != nil {
		return false, err
	}

	published := 0
	for _, event := range events {
		if err := w.publish(ctx, event); err != nil {
			w.settleFailure(ctx, event, err)
			continue
		}
		published++

		if err := w.repo.MarkAsProcessed(ctx, event.ID); err != nil {
			w.logger.Warnf("mark processed failed: %v", err)
		}
	}

	return len(events) == batchSize && published == len(events), nil
}

func (w *OutboxWorker) publish(ctx context.Context, event *usecase.OutboxEvent) error {
	return w.producer.WriteRawMessage(ctx, usecase.NewWriteRawMessageReq(event.AggregateID, event.Payload))
}

// settleFailure возвращает событие в очередь при временной ошибке брокера,
// иначе помечает его как failed.
func (w *OutboxWorker) settleFailure(ctx context.Context, event *usecase.OutboxEvent, err error) {
	log := w.logger.With("event_id", event.EventID)

	if isRetryableError(err) {
		log.Warnf("Temporary Kafka failure, will retry: %v", err)
		if err := w.repo.Release(ctx, event.ID); err != nil {
			log.Warnf("release failed: %v", err)
		}
		return
	}

	log.Errorf(err, "Permanent Kafka failure, event dropped")
	if err := w.repo.MarkAsFailed(ctx, event.ID, err.Error()); err != nil {
		log.Warnf("mark failed failed: %v", err)
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	retryablePhrases := []string{
		"connection refused",
		"i/o timeout",
		"network is unreachable",
		"broker not available",
		"leader not available",
		"connection reset",
		"broken pipe",
		"no such host",
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(errStr, phrase) {
			return true
		}
	}
	return false
}
