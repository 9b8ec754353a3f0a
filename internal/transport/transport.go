// Package transport realizes the broker's request/reply control channel
// and publish/subscribe broadcast channel on top of NATS
// (github.com/nats-io/nats.go). Control requests ride NATS request-reply
// on a single subject; relayed publications and heartbeats ride ordinary
// publish/subscribe with the topic folded into the subject, so NATS's own
// subject matching plays the role of a topic-prefix filter.
package transport

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rounaksalim95/pubsub-broker/internal/config"
	"github.com/rounaksalim95/pubsub-broker/internal/protocol"
)

// BrokerTransport is the broker side of the fabric: it answers control
// requests and broadcasts publications/heartbeats.
type BrokerTransport struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewBrokerTransport connects to NATS with the broker's reconnection
// policy and connection-event logging.
func NewBrokerTransport(cfg config.NATSConfig, logger *zap.Logger) (*BrokerTransport, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			logger.Error("nats error", zap.Error(err))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	return &BrokerTransport{conn: conn, logger: logger}, nil
}

// Broadcast publishes payload on subject, satisfying broker.Broadcaster.
func (t *BrokerTransport) Broadcast(subject string, payload []byte) error {
	return t.conn.Publish(subject, payload)
}

// Handler processes one raw control request and returns the raw reply to
// send back, plus whether the dispatcher wants the broker to shut down
// after the reply ships.
type Handler func(request []byte) (reply []byte, shutdown bool)

// ServeControl subscribes to the control subject and invokes handler for
// every request, responding on the same message (NATS request-reply). If
// handler reports shutdown, onShutdown is only invoked once the reply has
// been handed to msg.Respond and the connection flushed, so a caller that
// tears the connection down from onShutdown (see broker.Broker.Stop) can
// never race ahead of the reply actually shipping.
func (t *BrokerTransport) ServeControl(handler Handler, onShutdown func()) (*nats.Subscription, error) {
	return t.conn.Subscribe(protocol.ControlSubject, func(msg *nats.Msg) {
		reply, shutdown := handler(msg.Data)
		if err := msg.Respond(reply); err != nil {
			t.logger.Error("respond to control request failed", zap.Error(err))
		}
		if !shutdown {
			return
		}
		if err := t.conn.Flush(); err != nil {
			t.logger.Error("flush shutdown reply failed", zap.Error(err))
		}
		if onShutdown != nil {
			onShutdown()
		}
	})
}

// Close tears down the NATS connection.
func (t *BrokerTransport) Close() {
	t.conn.Close()
}

// ClientTransport is the client side of the fabric: it issues control
// requests and receives broadcast publications/heartbeats.
type ClientTransport struct {
	conn     *nats.Conn
	incoming chan *nats.Msg
	timeout  time.Duration
}

// NewClientTransport connects to NATS for client use.
func NewClientTransport(cfg config.NATSConfig) (*ClientTransport, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &ClientTransport{
		conn:     conn,
		incoming: make(chan *nats.Msg, 256),
		timeout:  timeout,
	}, nil
}

// SubscribeTopic routes every broadcast on topic's subject into the
// shared incoming channel consumed by Notify.
func (c *ClientTransport) SubscribeTopic(topic string) error {
	_, err := c.conn.ChanSubscribe(protocol.TopicSubject(topic), c.incoming)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Messages returns the channel every subscribed topic's broadcasts
// arrive on.
func (c *ClientTransport) Messages() <-chan *nats.Msg {
	return c.incoming
}

// Request performs one control round-trip, enforcing REQ/REP's strict
// alternation by construction (nats.Conn.Request blocks this goroutine
// until the reply arrives or the timeout elapses).
func (c *ClientTransport) Request(payload []byte) ([]byte, error) {
	msg, err := c.conn.Request(protocol.ControlSubject, payload, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("control request: %w", err)
	}
	return msg.Data, nil
}

// Close tears down the NATS connection.
func (c *ClientTransport) Close() {
	c.conn.Close()
}
