// Package pubsubclient is the client runtime: the registration handshake,
// publish/subscribe primitives, the background heartbeat responder folded
// into Notify, and a timeout-capable receive.
package pubsubclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rounaksalim95/pubsub-broker/internal/config"
	"github.com/rounaksalim95/pubsub-broker/internal/netutil"
	"github.com/rounaksalim95/pubsub-broker/internal/protocol"
	"github.com/rounaksalim95/pubsub-broker/internal/transport"
)

// Client is a single-threaded-cooperative handle to the broker: its API
// calls must not be invoked concurrently from multiple goroutines, since
// a request/reply round trip and Notify's broadcast wait share the same
// control channel.
type Client struct {
	addr      string
	transport *transport.ClientTransport
	logger    *zap.Logger
}

// New connects to the broker's transport, registers this process as a
// client, subscribes to the reserved control topic, and verifies the
// registration with an immediate ping before returning.
func New(cfg config.NATSConfig, logger *zap.Logger) (*Client, error) {
	tr, err := transport.NewClientTransport(cfg)
	if err != nil {
		return nil, err
	}

	if err := tr.SubscribeTopic(protocol.BrokerCmd); err != nil {
		tr.Close()
		return nil, err
	}

	c := &Client{addr: netutil.LocalIP(), transport: tr, logger: logger}

	if err := c.register(); err != nil {
		tr.Close()
		return nil, err
	}

	if ok, err := c.Ping(); err != nil || !ok {
		tr.Close()
		if err != nil {
			return nil, fmt.Errorf("client init ping failed: %w", err)
		}
		return nil, fmt.Errorf("client init ping failed: broker rejected ping")
	}

	return c, nil
}

// Addr returns this client's self-identifier (its discovered local IPv4
// by default).
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) register() error {
	req := protocol.Envelope{Type: protocol.TypeClientReg, Addr: c.addr}
	_, err := c.roundTrip(req)
	return err
}

// RegisterPub registers this client as a publisher for topic with the
// given ownership strength and history retention depth.
func (c *Client) RegisterPub(topic string, ownStr, history int) (bool, error) {
	req := protocol.Envelope{
		Type:       protocol.TypePubReg,
		Addr:       c.addr,
		Topic:      topic,
		OwnStr:     ownStr,
		HistoryCnt: history,
	}
	reply, err := c.roundTrip(req)
	if err != nil {
		return false, err
	}
	return reply.Result, nil
}

// RegisterSub asks the broker for the strongest publisher on topic
// meeting the requested history depth. It subscribes the transport
// filter to topic regardless of outcome, so a late-registering publisher
// still reaches this client. The returned bool reports whether a
// matching publisher was found; the history snapshot is nil on a miss.
func (c *Client) RegisterSub(topic string, history int) ([]json.RawMessage, bool, error) {
	req := protocol.Envelope{Type: protocol.TypeSubReg, Topic: topic, HistoryCnt: history}
	reply, err := c.roundTrip(req)
	if err != nil {
		return nil, false, err
	}

	if err := c.transport.SubscribeTopic(topic); err != nil {
		return nil, false, err
	}

	if !reply.Result {
		return nil, false, nil
	}
	return reply.History, true, nil
}

// Publish sends content on topic as this client's publisher.
func (c *Client) Publish(topic string, content any) (bool, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return false, fmt.Errorf("marshal publish content: %w", err)
	}
	req := protocol.Envelope{Type: protocol.TypePub, Addr: c.addr, Topic: topic, Content: raw}
	reply, err := c.roundTrip(req)
	if err != nil {
		return false, err
	}
	return reply.Result, nil
}

// Disconnect tells the broker this client no longer publishes on topic.
func (c *Client) Disconnect(topic string) error {
	req := protocol.Envelope{Type: protocol.TypeDisconnect, Addr: c.addr, Topic: topic}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = c.transport.Request(data)
	return err
}

// Ping answers a heartbeat (or proactively refreshes liveness) on the
// control channel.
func (c *Client) Ping() (bool, error) {
	req := protocol.Envelope{Type: protocol.TypePing, Addr: c.addr}
	reply, err := c.roundTrip(req)
	if err != nil {
		return false, err
	}
	return reply.Result, nil
}

// ShutdownBroker asks the broker to terminate.
func (c *Client) ShutdownBroker() (bool, error) {
	req := protocol.Envelope{Type: protocol.TypeShutdown}
	reply, err := c.roundTrip(req)
	if err != nil {
		return false, err
	}
	return reply.Result, nil
}

// Close tears down this client's transport connection.
func (c *Client) Close() {
	c.transport.Close()
}

func (c *Client) roundTrip(req protocol.Envelope) (protocol.Envelope, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("marshal request: %w", err)
	}

	raw, err := c.transport.Request(data)
	if err != nil {
		return protocol.Envelope{}, err
	}

	var reply protocol.Envelope
	if err := json.Unmarshal(raw, &reply); err != nil {
		return protocol.Envelope{}, fmt.Errorf("unmarshal reply: %w", err)
	}
	return reply, nil
}

// Notify blocks until a broadcast matching topic arrives or timeoutMs
// elapses (0 means block indefinitely). Non-matching broadcasts are
// handled in place: a BROKER_CMD heartbeat triggers a ping round-trip;
// anything else is silently drained. An absolute deadline is tracked so
// spurious non-matching wake-ups never extend the effective timeout.
func (c *Client) Notify(topic string, timeoutMs int) (json.RawMessage, bool, error) {
	var deadline time.Time
	hasDeadline := timeoutMs > 0
	if hasDeadline {
		deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	}

	for {
		var timeoutCh <-chan time.Time
		var timer *time.Timer
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, false, nil
			}
			timer = time.NewTimer(remaining)
			timeoutCh = timer.C
		}

		select {
		case msg := <-c.transport.Messages():
			if timer != nil {
				timer.Stop()
			}
			arrivedTopic := strings.TrimPrefix(msg.Subject, "topics.")

			if arrivedTopic == protocol.BrokerCmd {
				if _, err := c.Ping(); err != nil {
					c.logger.Warn("ping in response to heartbeat failed", zap.Error(err))
				}
				continue
			}

			if arrivedTopic != topic {
				continue
			}

			var pub protocol.Publication
			if err := json.Unmarshal(msg.Data, &pub); err != nil {
				c.logger.Warn("malformed publication", zap.Error(err))
				continue
			}
			return pub.Content, true, nil

		case <-timeoutCh:
			return nil, false, nil
		}
	}
}
