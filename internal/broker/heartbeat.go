package broker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/rounaksalim95/pubsub-broker/internal/metrics"
	"github.com/rounaksalim95/pubsub-broker/internal/protocol"
	"github.com/rounaksalim95/pubsub-broker/internal/registry"
)

// Ticker runs the periodic heartbeat / failure-detector loop. It runs on
// its own goroutine, distinct from the dispatcher's NATS subscription
// callback; all registry access is serialized through registry.Registry's
// own mutex, never held across the broadcast send.
type Ticker struct {
	registry    *registry.Registry
	broadcaster Broadcaster
	metrics     *metrics.Registry
	logger      *zap.Logger
	interval    time.Duration
}

// NewTicker builds a heartbeat ticker.
func NewTicker(reg *registry.Registry, broadcaster Broadcaster, m *metrics.Registry, logger *zap.Logger, interval time.Duration) *Ticker {
	return &Ticker{registry: reg, broadcaster: broadcaster, metrics: m, logger: logger, interval: interval}
}

// Run blocks, ticking every interval until ctx is canceled.
func (t *Ticker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	t.broadcastHeartbeat()

	// Collect expired addresses first, then reap each independently so
	// the registry is never mutated while its client table is being
	// scanned.
	expired := t.registry.Tick()
	for _, addr := range expired {
		t.registry.ReapClient(addr)
		t.metrics.ClientsReaped.Inc()
		t.logger.Info("reaped unresponsive client", zap.String("addr", addr))
	}

	t.metrics.ClientsActive.Set(float64(t.registry.ClientCount()))
	t.metrics.PublishersActive.Set(float64(t.registry.PublisherCount()))
}

func (t *Ticker) broadcastHeartbeat() {
	data, err := json.Marshal(protocol.NewHeartbeat())
	if err != nil {
		t.logger.Error("marshal heartbeat", zap.Error(err))
		return
	}
	if err := t.broadcaster.Broadcast(protocol.TopicSubject(protocol.BrokerCmd), data); err != nil {
		t.logger.Error("broadcast heartbeat", zap.Error(err))
		return
	}
	t.metrics.HeartbeatsSent.Inc()
}
