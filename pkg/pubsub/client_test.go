package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/angelmondragon/afm-storefront/pkg/config"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		project, kind, name, want string
	}{
		{"afm-prod", "topics", "afm-order-events", "projects/afm-prod/topics/afm-order-events"},
		{"afm-prod", "topics", " projects/other/topics/x ", "projects/other/topics/x"},
		{"afm-prod", "subscriptions", "orders-sub", "projects/afm-prod/subscriptions/orders-sub"},
		{"", "topics", "afm-order-events", ""},
		{"afm-prod", "topics", "  ", ""},
	}
	for _, tc := range cases {
		if got := resourceName(tc.project, tc.kind, tc.name); got != tc.want {
			t.Fatalf("resourceName(%q, %q, %q) = %q, want %q", tc.project, tc.kind, tc.name, got, tc.want)
		}
	}
}

func TestTopicNamesSkipsBlank(t *testing.T) {
	got := topicNames(config.PubSubConfig{OrdersTopic: "orders", CartsTopic: " "})
	if len(got) != 1 || got[0] != "orders" {
		t.Fatalf("unexpected topics %v", got)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("orders") != nil {
		t.Fatal("expected nil handles from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}
