package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"requestline/internal/config"
	"requestline/internal/engine"
)

func TestWebhookDispatcherStopsOnCancel(t *testing.T) {
	d := &webhookDispatcher{
		engine:   engine.Engine{},
		webhooks: []config.WebhookConfig{},
		client:   &http.Client{},
		cursors:  make(map[int]int64),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * defaultWebhookInterval):
		t.Fatalf("dispatcher kept running after cancel")
	}
}

func TestStatusFilter(t *testing.T) {
	all := newStatusFilter(nil)
	if !all.match("created") || !all.match("completed") {
		t.Fatalf("empty filter must match everything")
	}
	only := newStatusFilter([]string{"completed", " "})
	if !only.match("completed") || only.match("created") {
		t.Fatalf("filter must match configured statuses only")
	}
}
