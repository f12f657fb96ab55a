package bigquery

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

func TestClientOptions(t *testing.T) {
	cases := []struct {
		name string
		gcp  config.GCPConfig
		want int
	}{
		{"json wins over file", config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds"}, 1},
		{"file only", config.GCPConfig{ApplicationCredentials: "/tmp/creds"}, 1},
		{"ambient credentials", config.GCPConfig{}, 0},
		{"blank json ignored", config.GCPConfig{CredentialsJSON: "   "}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := len(clientOptions(tc.gcp)); got != tc.want {
				t.Fatalf("expected %d options, got %d", tc.want, got)
			}
		})
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "bigquery-test"})
	ctx := context.Background()

	if _, err := NewClient(ctx, config.GCPConfig{}, config.BigQueryConfig{Dataset: "d", EventsTable: "t"}, logg); !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected project id error, got %v", err)
	}
	gcp := config.GCPConfig{ProjectID: "proj"}
	if _, err := NewClient(ctx, gcp, config.BigQueryConfig{EventsTable: "t"}, logg); !errors.Is(err, errDatasetRequired) {
		t.Fatalf("expected dataset error, got %v", err)
	}
	if _, err := NewClient(ctx, gcp, config.BigQueryConfig{Dataset: "d", EventsTable: " "}, logg); !errors.Is(err, errTableNameRequired) {
		t.Fatalf("expected table error, got %v", err)
	}
}

func TestNilClientGuards(t *testing.T) {
	var c *Client
	if err := c.InsertRows(context.Background(), "order_events", []any{1}); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected errClientNotInitialized, got %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errClientNotInitialized) {
		t.Fatalf("expected errClientNotInitialized from ping, got %v", err)
	}
	if c.EventsTable() != "" {
		t.Fatal("nil client has no table")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op, got %v", err)
	}
}

func TestDescribeMetadata(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&googleapi.Error{Code: http.StatusNotFound}, `table "order_events" does not exist`},
		{&googleapi.Error{Code: http.StatusForbidden}, "not readable"},
		{errors.New("boom"), `checking table "order_events": boom`},
	}
	for _, tc := range cases {
		got := describeMetadata("table", "order_events", tc.err).Error()
		if !strings.Contains(got, tc.want) {
			t.Fatalf("describeMetadata(%v) = %q, want substring %q", tc.err, got, tc.want)
		}
	}
}
