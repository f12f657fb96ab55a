package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const defaultSlowQuery = 250 * time.Millisecond

// queryLogger routes gorm's own logging into the service logger. Only failed
// and slow statements are written; record-not-found is a normal outcome.
type queryLogger struct {
	logg  *logger.Logger
	slow  time.Duration
	level gormlogger.LogLevel
}

func newQueryLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if slow <= 0 {
		slow = defaultSlowQuery
	}
	level := gormlogger.Warn
	if logg == nil {
		level = gormlogger.Silent
	}
	return &queryLogger{logg: logg, slow: slow, level: level}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *q
	next.level = level
	return &next
}

func (q *queryLogger) Info(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Info {
		q.logg.Info(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Warn {
		q.logg.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Error {
		q.logg.Error(ctx, "db.error", fmt.Errorf(msg, args...))
	}
}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	slow := elapsed >= q.slow
	if !failed && !slow && q.level < gormlogger.Info {
		return
	}

	sql, rows := fc()
	ctx = q.logg.WithFields(ctx, map[string]any{
		"sql":         sql,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})
	switch {
	case failed && q.level >= gormlogger.Error:
		q.logg.Error(ctx, "db.query_failed", err)
	case slow && q.level >= gormlogger.Warn:
		q.logg.Warn(ctx, "db.query_slow")
	case q.level >= gormlogger.Info:
		q.logg.Debug(ctx, "db.query")
	}
}
