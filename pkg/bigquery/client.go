package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/multierr"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// Client streams analytics rows into one dataset. Every table it writes to
// must exist when the client starts; nothing here creates schema.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	events  string

	mu        sync.Mutex
	inserters map[string]*bigquery.Inserter
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	events := strings.TrimSpace(cfg.EventsTable)
	if events == "" {
		return nil, errTableNameRequired
	}

	bq, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	c := &Client{
		client:    bq,
		dataset:   bq.Dataset(datasetID),
		events:    events,
		inserters: map[string]*bigquery.Inserter{},
	}
	if err := c.verify(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"dataset": datasetID,
		"table":   events,
	}), "bigquery client initialized")
	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(gcp.CredentialsJSON))}
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		return []option.ClientOption{option.WithCredentialsFile(gcp.ApplicationCredentials)}
	}
	return nil
}

// verify reports the dataset first; table lookups are pointless without it.
// Missing tables are collected so one boot log names all of them.
func (c *Client) verify(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return describeMetadata("dataset", c.dataset.DatasetID, err)
	}

	var errs error
	for _, name := range c.tables() {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			errs = multierr.Append(errs, describeMetadata("table", name, err))
		}
	}
	return errs
}

func (c *Client) tables() []string {
	return []string{c.events}
}

// Ping re-checks dataset and table metadata.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errClientNotInitialized
	}
	return c.verify(ctx)
}

// InsertRows streams rows into table. Rows implementing bigquery.ValueSaver
// supply their own insert id, which BigQuery uses for best-effort dedupe.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return c.inserter(table).Put(ctx, rows)
}

func (c *Client) inserter(table string) *bigquery.Inserter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ins, ok := c.inserters[table]; ok {
		return ins
	}
	ins := c.dataset.Table(table).Inserter()
	c.inserters[table] = ins
	return ins
}

// EventsTable returns the order events table name.
func (c *Client) EventsTable() string {
	if c == nil {
		return ""
	}
	return c.events
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func describeMetadata(kind, name string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%s %q does not exist", kind, name)
		case http.StatusForbidden:
			return fmt.Errorf("%s %q is not readable with the configured credentials", kind, name)
		}
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}
