package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

func newBufferedQueryLogger(slow time.Duration) (gormlogger.Interface, *bytes.Buffer) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{
		ServiceName: "db-test",
		Level:       zerolog.DebugLevel,
		Format:      "json",
		Output:      &buf,
	})
	return newQueryLogger(logg, slow), &buf
}

func TestQueryLoggerWritesFailedAndSlowOnly(t *testing.T) {
	ql, buf := newBufferedQueryLogger(100 * time.Millisecond)
	ctx := context.Background()
	stmt := func() (string, int64) { return "SELECT 1", 1 }

	ql.Trace(ctx, time.Now(), stmt, nil)
	if buf.Len() != 0 {
		t.Fatalf("fast successful query should not log, got %s", buf.String())
	}

	ql.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	if buf.Len() != 0 {
		t.Fatalf("record not found should not log, got %s", buf.String())
	}

	ql.Trace(ctx, time.Now(), stmt, errors.New("relation does not exist"))
	if !strings.Contains(buf.String(), "db.query_failed") {
		t.Fatalf("expected failed query log, got %s", buf.String())
	}
	buf.Reset()

	ql.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	out := buf.String()
	if !strings.Contains(out, "db.query_slow") || !strings.Contains(out, `"sql":"SELECT 1"`) {
		t.Fatalf("expected slow query log with sql, got %s", out)
	}
}

func TestQueryLoggerSilentMode(t *testing.T) {
	ql, buf := newBufferedQueryLogger(0)
	silent := ql.LogMode(gormlogger.Silent)

	silent.Trace(context.Background(), time.Now().Add(-time.Hour), func() (string, int64) { return "SELECT 1", 0 }, errors.New("boom"))
	if buf.Len() != 0 {
		t.Fatalf("silent logger wrote %s", buf.String())
	}

	ql.Trace(context.Background(), time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 2", 0 }, nil)
	if !strings.Contains(buf.String(), "db.query_slow") {
		t.Fatal("LogMode must not mutate the original logger")
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	ql := newQueryLogger(nil, 0)
	ql.Trace(context.Background(), time.Now().Add(-time.Hour), func() (string, int64) {
		t.Fatal("statement should not be rendered")
		return "", 0
	}, errors.New("boom"))
}
