package pubsub

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
)

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "orderflow-prod"}

	if got := c.resourceName("topics", "of-order-events"); got != "projects/orderflow-prod/topics/of-order-events" {
		t.Fatalf("unexpected topic name %q", got)
	}
	full := "projects/other/topics/shared"
	if got := c.resourceName("topics", full); got != full {
		t.Fatalf("full topic names should pass through, got %q", got)
	}
	if got := c.resourceName("subscriptions", full); got == full {
		t.Fatalf("a topic resource must not pass as a subscription")
	}
	if got := c.resourceName("subscriptions", " of-order-events-sub "); got != "projects/orderflow-prod/subscriptions/of-order-events-sub" {
		t.Fatalf("unexpected subscription name %q", got)
	}
	if got := c.resourceName("subscriptions", ""); got != "" {
		t.Fatalf("blank subscription should resolve to empty, got %q", got)
	}
	if got := (&Client{}).resourceName("topics", "x"); got != "" {
		t.Fatalf("missing project should resolve to empty, got %q", got)
	}
}

func TestRequirementsCompactBlankAndDuplicates(t *testing.T) {
	if !(Requirements{Topics: []string{" "}, Subscriptions: []string{""}}).empty() {
		t.Fatal("blank names should not count as requirements")
	}
	got := compact([]string{"orders", " orders ", "", "payments"})
	if strings.Join(got, ",") != "orders,payments" {
		t.Fatalf("unexpected compacted names %v", got)
	}
}

func TestDescribeLookup(t *testing.T) {
	if err := describeLookup("topic", "t", nil); err != nil {
		t.Fatalf("nil lookup error should pass, got %v", err)
	}
	err := describeLookup("topic", "t", status.Error(codes.NotFound, "gone"))
	if err == nil || !strings.Contains(err.Error(), `topic "t" does not exist`) {
		t.Fatalf("unexpected not found error %v", err)
	}
	cause := status.Error(codes.Unavailable, "down")
	if err := describeLookup("subscription", "s", cause); !errors.Is(err, cause) {
		t.Fatalf("transport errors should wrap the cause, got %v", err)
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.Publisher("topic") != nil || c.Subscription("sub") != nil || c.OrdersSubscription() != nil {
		t.Fatal("nil client must return nil handles")
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client should be a no-op, got %v", err)
	}
}

func TestNewClientValidatesInputs(t *testing.T) {
	ctx := context.Background()
	if _, err := NewClient(ctx, config.GCPConfig{}, config.PubSubConfig{}, Requirements{Topics: []string{"t"}}, nil); !errors.Is(err, errProjectIDRequired) {
		t.Fatalf("expected errProjectIDRequired, got %v", err)
	}
	if _, err := NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, Requirements{}, nil); err == nil {
		t.Fatal("expected error without any requirement")
	}
}
