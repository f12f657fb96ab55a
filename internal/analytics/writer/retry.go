package writer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// RetryPolicy controls how many times a BigQuery insert is attempted.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff <= 0 {
		p.MaximumBackoff = defaultMaximumBackoff
	}
	p.MaximumBackoff = max(p.MaximumBackoff, p.InitialBackoff)
	return p
}

// insert calls InsertRows until it succeeds, fails permanently or runs out of
// attempts. Backoff doubles between attempts.
func (p RetryPolicy) insert(ctx context.Context, client tableInserter, table string, rows []any) error {
	backoff := p.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := client.InsertRows(ctx, table, rows)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxAttempts || !retryable(err) {
			return fmt.Errorf("insert %s rows: %w", table, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, p.MaximumBackoff)
	}
}

// retryable reports whether err is worth another insert. Aggregate errors are
// retryable only when every member is, since a bad row fails the same way
// again.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	var multi *cbigquery.MultiError
	if errors.As(err, &multi) {
		return multi != nil && allRetryable(*multi)
	}
	var putErr *cbigquery.PutMultiError
	if errors.As(err, &putErr) {
		if putErr == nil || len(*putErr) == 0 {
			return false
		}
		return !slices.ContainsFunc(*putErr, func(row cbigquery.RowInsertionError) bool {
			return !allRetryable(row.Errors)
		})
	}
	var rowErr *cbigquery.RowInsertionError
	if errors.As(err, &rowErr) {
		return rowErr != nil && allRetryable(rowErr.Errors)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableHTTP(apiErr.Code)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return retryableGRPC(st.Code())
	}
	return false
}

func allRetryable(errs []error) bool {
	return len(errs) > 0 && !slices.ContainsFunc(errs, func(err error) bool { return !retryable(err) })
}

func retryableHTTP(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusRequestTimeout,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func retryableGRPC(code codes.Code) bool {
	switch code {
	case codes.Aborted, codes.DeadlineExceeded, codes.Internal,
		codes.ResourceExhausted, codes.Unavailable:
		return true
	}
	return false
}
