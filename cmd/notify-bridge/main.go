package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/multisig-custody/backend/internal/config"
	"github.com/multisig-custody/backend/internal/db"
	"github.com/multisig-custody/backend/internal/events"
	"go.uber.org/zap"
)

// Notify Bridge subscribes to multi-sig events on Redis and forwards each
// one to the configured webhook, tagged with its tenant.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.NotifyWebhookURL == "" {
		log.Fatal("NOTIFY_WEBHOOK_URL is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriber := events.NewRedisSubscriber(rdb, log)
	fwd := newForwarder(cfg.NotifyWebhookURL, 10*time.Second, log)

	if err := subscriber.Subscribe(ctx, events.StreamMultiSig, func(event events.Event) {
		fwd.forward(ctx, event)
	}); err != nil {
		log.Fatal("failed to subscribe", zap.Error(err))
	}

	log.Info("notify-bridge started", zap.String("stream", events.StreamMultiSig))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notify-bridge")
	cancel()
}

type forwarder struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

func newForwarder(url string, timeout time.Duration, log *zap.Logger) *forwarder {
	return &forwarder{url: url, client: &http.Client{Timeout: timeout}, log: log}
}

// forward posts the event as JSON. Failures are logged and dropped.
func (f *forwarder) forward(ctx context.Context, event events.Event) {
	if err := f.post(ctx, event); err != nil {
		f.log.Warn("failed to forward notification",
			zap.String("type", event.Type),
			zap.String("tenant_id", event.TenantID),
			zap.Error(err),
		)
		return
	}
	f.log.Debug("notification forwarded", zap.String("type", event.Type))
}

func (f *forwarder) post(ctx context.Context, event events.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", event.TenantID)
	req.Header.Set("X-Event-Type", event.Type)

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
