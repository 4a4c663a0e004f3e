package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/config"
)

func TestTopicResourceName(t *testing.T) {
	cases := []struct {
		name      string
		projectID string
		topic     string
		want      string
	}{
		{name: "bare id", projectID: "shop", topic: "orders", want: "projects/shop/topics/orders"},
		{name: "trims", projectID: " shop ", topic: " orders ", want: "projects/shop/topics/orders"},
		{name: "full name", projectID: "other", topic: "projects/shop/topics/orders", want: "projects/shop/topics/orders"},
		{name: "blank topic", projectID: "shop", topic: "", want: ""},
		{name: "no project", projectID: "", topic: "orders", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TopicResourceName(tc.projectID, tc.topic); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{OrdersTopic: "orders"}, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewClient(context.Background(), config.GCPConfig{ProjectID: "shop"}, config.PubSubConfig{}, nil); err != errNoTopic {
		t.Fatalf("expected topic error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.Publisher("orders") != nil {
		t.Fatalf("expected nil publisher")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error")
	}
}
