package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"requestline/internal/config"
	"requestline/internal/domain"
	"requestline/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher tails the step log and posts new entries to configured
// URLs. Each hook keeps its own cursor; a failed delivery stalls that hook
// until the target recovers, never losing entries.
type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

func startWebhookDispatcher(ctx context.Context, e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go d.run(ctx)
}

// run polls until the context is cancelled, so a stopped server does not
// leave a ticker goroutine hammering a closed database.
func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *webhookDispatcher) dispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if ctx.Err() != nil {
			return
		}
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	steps, err := d.engine.Repo.StepsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		log.Printf("webhook: fetch steps failed: %v", err)
		return
	}
	if len(steps) == 0 {
		return
	}
	filter := newStatusFilter(hook.Events)
	for _, step := range steps {
		if !filter.match(step.Status) {
			d.setCursor(idx, step.ID)
			continue
		}
		if err := d.postStep(ctx, hook, step); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, step.ID)
	}
}

func (d *webhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	// New hooks start at the tip; historical steps are not replayed.
	cur, err := d.engine.Repo.LatestStepID(ctx)
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookStep struct {
	ID        int64  `json:"id"`
	RequestID string `json:"request_id"`
	Seq       int    `json:"seq"`
	ActorID   string `json:"actor_id,omitempty"`
	Content   string `json:"content"`
	Status    string `json:"status"`
	TS        string `json:"ts"`
}

func (d *webhookDispatcher) postStep(ctx context.Context, hook config.WebhookConfig, step domain.Step) error {
	body := webhookStep{
		ID:        step.ID,
		RequestID: step.RequestID,
		Seq:       step.Seq,
		Content:   step.Content,
		Status:    step.Status,
		TS:        step.TS,
	}
	if step.ActorID != nil {
		body.ActorID = *step.ActorID
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Requestline-Request", step.RequestID)
	req.Header.Set("X-Requestline-Delivery", fmt.Sprintf("%d", step.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Requestline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

// statusFilter limits deliveries to steps whose status snapshot matches one
// of the configured values. Empty means all.
type statusFilter struct {
	all bool
	set map[string]struct{}
}

func newStatusFilter(values []string) statusFilter {
	if len(values) == 0 {
		return statusFilter{all: true}
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		key := strings.TrimSpace(v)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return statusFilter{all: true}
	}
	return statusFilter{set: set}
}

func (f statusFilter) match(status string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[status]
	return ok
}
