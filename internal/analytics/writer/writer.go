package writer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/orderflow-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/orderflow-backend/pkg/bigquery"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 10 * time.Second
	finalFlushTimeout    = 5 * time.Second
)

// maxBufferFactor bounds retained rows to batch size times this factor; the
// oldest rows are dropped first.
const maxBufferFactor = 4

// Config controls the analytics writer behavior.
type Config struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	RetryPolicy   RetryPolicy
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter owns a row buffer that is flushed when it reaches the batch
// size or when the flush ticker fires, whichever comes first.
type BigQueryWriter struct {
	client    tableInserter
	table     string
	batchSize int
	interval  time.Duration
	retry     RetryPolicy
	logg      *logger.Logger

	mu      sync.Mutex
	buffer  []types.EventRow
	dropped int64
	flushMu sync.Mutex
}

// New creates a new BigQueryWriter backed by a shared client.
func New(client *pkgbigquery.Client, cfg Config, logg *logger.Logger) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	return newWriter(client, cfg, logg)
}

func newWriter(client tableInserter, cfg Config, logg *logger.Logger) (*BigQueryWriter, error) {
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, errors.New("events table is required")
	}

	retry := cfg.RetryPolicy.withDefaults()
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}

	return &BigQueryWriter{
		client:    client,
		table:     table,
		batchSize: batchSize,
		interval:  interval,
		retry:     retry,
		logg:      logg,
	}, nil
}

// Add buffers row and flushes inline once the batch is full. Flush failures
// keep the rows buffered for the next attempt and are only logged.
func (w *BigQueryWriter) Add(ctx context.Context, row types.EventRow) {
	w.mu.Lock()
	w.buffer = append(w.buffer, row)
	full := len(w.buffer) >= w.batchSize
	w.mu.Unlock()

	if !full {
		return
	}
	if err := w.Flush(ctx); err != nil {
		w.logg.Warn(w.logg.WithFields(ctx, map[string]any{
			"table": w.table,
			"error": err.Error(),
		}), "analytics batch flush failed; rows kept for retry")
	}
}

// Run flushes on every tick until ctx is canceled, then flushes what is left.
func (w *BigQueryWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
			defer cancel()
			if err := w.Flush(final); err != nil {
				w.logg.Error(ctx, "final analytics flush failed", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil && ctx.Err() == nil {
				w.logg.Warn(w.logg.WithField(ctx, "error", err.Error()), "periodic analytics flush failed")
			}
		}
	}
}

// Flush writes buffered rows immediately.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	pending := w.buffer
	w.buffer = nil
	w.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}

	rows := make([]any, len(pending))
	for i := range pending {
		rows[i] = &pending[i]
	}
	if err := w.retry.insert(ctx, w.client, w.table, rows); err != nil {
		w.requeue(pending)
		return err
	}
	w.logg.Debug(w.logg.WithField(ctx, "rows", len(pending)), "analytics rows flushed")
	return nil
}

// Buffered reports how many rows wait for the next flush.
func (w *BigQueryWriter) Buffered() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buffer)
}

// Dropped reports how many rows were discarded because the buffer overflowed
// while BigQuery was failing.
func (w *BigQueryWriter) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *BigQueryWriter) requeue(rows []types.EventRow) {
	w.mu.Lock()
	defer w.mu.Unlock()
	merged := append(rows, w.buffer...)
	limit := w.batchSize * maxBufferFactor
	if over := len(merged) - limit; over > 0 {
		w.dropped += int64(over)
		merged = merged[over:]
	}
	w.buffer = merged
}
