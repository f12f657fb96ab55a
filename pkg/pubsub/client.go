package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/multierr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/orderflow-backend/pkg/config"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Requirements names the topics and subscriptions a binary depends on.
// NewClient and Ping fail when any of them is missing. Names may be short
// ids or full resource names.
type Requirements struct {
	Topics        []string
	Subscriptions []string
}

func (r Requirements) empty() bool {
	return len(compact(r.Topics)) == 0 && len(compact(r.Subscriptions)) == 0
}

// Client wraps the Pub/Sub v2 client with per-topic publisher reuse.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	required  Requirements

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient creates a Pub/Sub v2 client and verifies every required resource
// exists. PUBSUB_EMULATOR_HOST is honoured by the underlying library.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, required Requirements, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if required.empty() {
		return nil, errors.New("pubsub client needs at least one topic or subscription")
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		projectID:  gcp.ProjectID,
		cfg:        cfg,
		required:   required,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.verify(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	logg.Info(logg.WithFields(ctx, map[string]any{
		"project_id":    gcp.ProjectID,
		"topics":        compact(required.Topics),
		"subscriptions": compact(required.Subscriptions),
	}), "pubsub client initialized")
	return c, nil
}

// verify checks every required resource and reports all missing ones.
func (c *Client) verify(ctx context.Context) error {
	var errs error
	for _, name := range compact(c.required.Topics) {
		errs = multierr.Append(errs, c.checkTopic(ctx, name))
	}
	for _, name := range compact(c.required.Subscriptions) {
		errs = multierr.Append(errs, c.checkSubscription(ctx, name))
	}
	return errs
}

func (c *Client) checkTopic(ctx context.Context, name string) error {
	fullName := c.resourceName("topics", name)
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	return describeLookup("topic", name, err)
}

func (c *Client) checkSubscription(ctx context.Context, name string) error {
	fullName := c.resourceName("subscriptions", name)
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: fullName})
	return describeLookup("subscription", name, err)
}

func describeLookup(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	case status.Code(err) == codes.PermissionDenied:
		return fmt.Errorf("no permission to read %s %q: %w", kind, name, err)
	}
	return fmt.Errorf("checking %s %q: %w", kind, name, err)
}

// Subscription returns a v2 Subscriber handle for name.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.resourceName("subscriptions", name)
	if fullName == "" {
		return nil
	}
	return c.client.Subscriber(fullName)
}

// OrdersSubscription returns the subscriber for order and payment events.
func (c *Client) OrdersSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.cfg.OrdersSubscription)
}

// Publisher returns the shared publisher for topic. Publishers batch in the
// background, so one per topic is kept for the life of the client and
// flushed on Close.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.resourceName("topics", name)
	if fullName == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[fullName]; ok {
		return p
	}
	p := c.client.Publisher(fullName)
	if c.publishers == nil {
		c.publishers = map[string]*pubsub.Publisher{}
	}
	c.publishers[fullName] = p
	return p
}

// Ping re-checks the required topics and subscriptions.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.verify(ctx)
}

// Close flushes outstanding publishes and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}

// resourceName expands a short id to projects/<project>/<kind>/<id>. Full
// resource names of the same kind pass through unchanged.
func (c *Client) resourceName(kind, name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}

func compact(names []string) []string {
	out := make([]string, 0, len(names))
	seen := map[string]struct{}{}
	for _, name := range names {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
