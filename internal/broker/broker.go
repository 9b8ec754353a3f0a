package broker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rounaksalim95/pubsub-broker/internal/transport"
)

// Broker wires the dispatcher and ticker to the control/broadcast
// transport and owns the process lifecycle.
type Broker struct {
	transport  *transport.BrokerTransport
	dispatcher *Dispatcher
	ticker     *Ticker
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	sub    unsubscriber
}

type unsubscriber interface {
	Unsubscribe() error
}

// New builds a Broker.
func New(tr *transport.BrokerTransport, dispatcher *Dispatcher, ticker *Ticker, logger *zap.Logger) *Broker {
	return &Broker{transport: tr, dispatcher: dispatcher, ticker: ticker, logger: logger}
}

// Run subscribes to the control subject, starts the heartbeat ticker, and
// blocks until ctx is canceled or a client issues a shutdown request.
func (b *Broker) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	sub, err := b.transport.ServeControl(
		func(raw []byte) ([]byte, bool) {
			return b.dispatcher.Handle(raw)
		},
		func() {
			// Invoked by ServeControl only after the shutdown reply has
			// been handed to the connection and flushed, so the caller
			// always observes its reply before the connection drops.
			go b.Stop()
		},
	)
	if err != nil {
		cancel()
		return fmt.Errorf("serve control: %w", err)
	}

	b.mu.Lock()
	b.cancel = cancel
	b.sub = sub
	b.mu.Unlock()

	go b.ticker.Run(runCtx)

	b.logger.Info("broker dispatcher started")
	<-runCtx.Done()
	return nil
}

// Stop unsubscribes from the control subject, stops the heartbeat ticker,
// and closes the transport connection. Safe to call more than once.
func (b *Broker) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	sub := b.sub
	b.cancel = nil
	b.sub = nil
	b.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	b.transport.Close()
	b.logger.Info("broker stopped")
}
