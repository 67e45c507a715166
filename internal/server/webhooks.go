package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/config"
	"github.com/dylanstrategy/swipe-flow-cards-9e97da56-sub002/internal/journal"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher posts journal entries to configured URLs. Each hook
// keeps its own cursor, starting at the newest entry when the dispatcher
// first sees it, and stops at the first failed delivery so the next tick
// retries in order.
type WebhookDispatcher struct {
	journal  *journal.Journal
	webhooks []config.WebhookConfig
	client   *http.Client
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	cursors map[int]int64
}

func NewWebhookDispatcher(j *journal.Journal, hooks []config.WebhookConfig, logger zerolog.Logger) *WebhookDispatcher {
	return &WebhookDispatcher{
		journal:  j,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		interval: defaultWebhookInterval,
		log:      logger.With().Str("component", "webhooks").Logger(),
		cursors:  make(map[int]int64),
	}
}

// WithInterval overrides the polling interval.
func (d *WebhookDispatcher) WithInterval(interval time.Duration) *WebhookDispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Run polls until ctx is done. It returns nil on cancellation.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	if d.journal == nil || len(d.webhooks) == 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchAll runs one delivery pass over every enabled hook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	entries, err := d.journal.Entries(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.log.Error().Err(err).Msg("fetch journal entries failed")
		return
	}
	filter := newEventFilter(hook.Events)
	for _, entry := range entries {
		if !filter.match(string(entry.Kind)) {
			d.setCursor(idx, entry.Seq)
			continue
		}
		if err := d.post(ctx, hook, entry); err != nil {
			d.log.Warn().Err(err).Str("url", hook.URL).Int64("seq", entry.Seq).Msg("webhook delivery failed")
			return
		}
		d.setCursor(idx, entry.Seq)
	}
}

func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.journal.Latest(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("init webhook cursor failed")
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, entry journal.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Swipeflow-Event", string(entry.Kind))
	req.Header.Set("X-Swipeflow-Delivery", fmt.Sprintf("%d", entry.Seq))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Swipeflow-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(kinds []string) eventFilter {
	set := make(map[string]struct{}, len(kinds))
	for _, k := range kinds {
		if key := strings.TrimSpace(k); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(kind string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[kind]
	return ok
}
