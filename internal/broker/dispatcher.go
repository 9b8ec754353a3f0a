// Package broker implements the control-request dispatcher and the
// heartbeat-driven failure detector.
package broker

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/rounaksalim95/pubsub-broker/internal/metrics"
	"github.com/rounaksalim95/pubsub-broker/internal/protocol"
	"github.com/rounaksalim95/pubsub-broker/internal/registry"
)

// Broadcaster is the narrow transport dependency the dispatcher and
// ticker need: the ability to publish a payload on a subject. Keeping
// this as an interface (rather than depending on *transport.BrokerTransport
// directly) keeps the dispatcher unit-testable without a live NATS
// connection.
type Broadcaster interface {
	Broadcast(subject string, payload []byte) error
}

// Dispatcher processes one control request at a time and mutates the
// registry accordingly.
type Dispatcher struct {
	registry    *registry.Registry
	broadcaster Broadcaster
	metrics     *metrics.Registry
	logger      *zap.Logger
}

// NewDispatcher builds a Dispatcher over the given registry and
// broadcaster.
func NewDispatcher(reg *registry.Registry, broadcaster Broadcaster, m *metrics.Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: reg, broadcaster: broadcaster, metrics: m, logger: logger}
}

// Handle decodes one raw control request, mutates the registry, and
// returns the raw reply to send. shutdown is true iff the caller should
// tear down the broker after the reply ships.
func (d *Dispatcher) Handle(raw []byte) (reply []byte, shutdown bool) {
	var req protocol.Envelope
	if err := json.Unmarshal(raw, &req); err != nil {
		d.logger.Warn("malformed control request", zap.Error(err))
		return d.marshal(protocol.Envelope{Type: protocol.TypeUnknown, Result: false}), false
	}

	switch req.Type {
	case protocol.TypeClientReg:
		d.registry.RegisterClient(req.Addr)
		d.metrics.Registrations.Inc()
		return d.marshal(protocol.Envelope{Type: protocol.TypeClientReg, Result: true}), false

	case protocol.TypePubReg:
		ok := d.registry.RegisterPublisher(req.Addr, req.Topic, req.OwnStr, req.HistoryCnt)
		if ok {
			d.metrics.PublisherRegistrations.Inc()
		}
		return d.marshal(protocol.Envelope{Type: protocol.TypePubReg, Result: ok}), false

	case protocol.TypeSubReg:
		want := req.HistoryCnt
		p := d.registry.FindPublisher(req.Topic, &want, nil)
		if p == nil {
			return d.marshal(protocol.Envelope{Type: protocol.TypeSubReg, Result: false}), false
		}
		return d.marshal(protocol.Envelope{
			Type:    protocol.TypeSubReg,
			Result:  true,
			History: p.History.Snapshot(),
		}), false

	case protocol.TypePub:
		ok, relay := d.registry.AppendPublish(req.Addr, req.Topic, req.Content)
		if !ok {
			d.metrics.PublishRejected.Inc()
			return d.marshal(protocol.Envelope{Type: protocol.TypePub, Result: false}), false
		}
		d.metrics.PublishAccepted.Inc()
		if relay {
			d.relay(req.Topic, req.Content)
		}
		return d.marshal(protocol.Envelope{Type: protocol.TypePub, Result: true}), false

	case protocol.TypeDisconnect:
		d.registry.RemovePublisher(req.Addr, req.Topic)
		return []byte("ACK"), false

	case protocol.TypePing:
		ok := d.registry.Ping(req.Addr)
		return d.marshal(protocol.Envelope{Type: protocol.TypePing, Result: ok}), false

	case protocol.TypeShutdown:
		return d.marshal(protocol.Envelope{Type: protocol.TypeShutdown, Result: true}), true

	default:
		d.metrics.UnknownRequests.Inc()
		return d.marshal(protocol.Envelope{Type: protocol.TypeUnknown, Result: false}), false
	}
}

func (d *Dispatcher) relay(topic string, content json.RawMessage) {
	pub := protocol.Publication{Topic: topic, Content: content}
	data, err := json.Marshal(pub)
	if err != nil {
		d.logger.Error("marshal publication", zap.Error(err))
		return
	}
	if err := d.broadcaster.Broadcast(protocol.TopicSubject(topic), data); err != nil {
		d.logger.Error("broadcast publication", zap.Error(err), zap.String("topic", topic))
		return
	}
	d.metrics.Relayed.Inc()
}

func (d *Dispatcher) marshal(env protocol.Envelope) []byte {
	data, err := json.Marshal(env)
	if err != nil {
		d.logger.Error("marshal reply", zap.Error(err))
		return []byte(`{"type":"unknown","result":false}`)
	}
	return data
}
