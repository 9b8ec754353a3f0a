// Package protocol defines the tagged request/reply messages exchanged
// between the broker and its clients, and the NATS subject names the
// transport layer uses to carry them.
package protocol

import "encoding/json"

// BrokerCmd is the reserved topic name used for broker-originated
// control broadcasts (currently just heartbeats).
const BrokerCmd = "BROKER_CMD"

// InitCount is the liveness counter a client registration starts (and
// resets to on every ping).
const InitCount = 2

// ControlSubject is the single NATS subject every control request/reply
// round-trips on; the Type field inside the envelope dispatches it.
const ControlSubject = "broker.control"

// TopicSubject maps a pub/sub topic name to the NATS subject publications
// and subscriptions for it travel on.
func TopicSubject(topic string) string {
	return "topics." + topic
}

// Request types, matched against Envelope.Type by the dispatcher.
const (
	TypeClientReg  = "client_reg"
	TypePubReg     = "pub_reg"
	TypeSubReg     = "sub_reg"
	TypePub        = "pub"
	TypeDisconnect = "disconnect"
	TypePing       = "ping"
	TypeShutdown   = "shutdown"
	TypeUnknown    = "unknown"
	TypeHeartbeat  = "heartbeat"
)

// Envelope is the superset of fields used across all request/reply
// message shapes; unused fields are omitted on the wire via omitempty.
// Keeping one struct, rather than one type per variant plus an any-typed
// union, keeps decoding a single json.Unmarshal while staying statically
// typed.
type Envelope struct {
	Type string `json:"type"`

	// client_reg, pub_reg, pub, disconnect, ping
	Addr string `json:"addr,omitempty"`

	// pub_reg, sub_reg, pub, disconnect
	Topic string `json:"topic,omitempty"`

	// pub_reg: OwnStr and HistoryCnt (retention depth).
	// sub_reg: HistoryCnt is the requested minimum history depth; a
	// depth of 0 is omitted on the wire and decodes back to 0.
	OwnStr     int `json:"ownStr,omitempty"`
	HistoryCnt int `json:"history_cnt,omitempty"`

	// pub
	Content json.RawMessage `json:"content,omitempty"`

	// replies
	Result  bool              `json:"result"`
	History []json.RawMessage `json:"history,omitempty"`
}

// Heartbeat is the payload broadcast on BrokerCmd every tick.
type Heartbeat struct {
	Type string `json:"type"`
}

// NewHeartbeat builds the broker's periodic liveness broadcast payload.
func NewHeartbeat() Heartbeat {
	return Heartbeat{Type: TypeHeartbeat}
}

// Publication is the two-part broadcast payload relayed on a topic
// subject: the transport frames it as (subject=TopicSubject(Topic),
// payload=json(Publication)) so subscribers filtering on subject never
// need to inspect the body to know the topic.
type Publication struct {
	Topic   string          `json:"topic"`
	Content json.RawMessage `json:"content"`
}
