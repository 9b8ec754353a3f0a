package broker

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/rounaksalim95/pubsub-broker/internal/metrics"
	"github.com/rounaksalim95/pubsub-broker/internal/protocol"
	"github.com/rounaksalim95/pubsub-broker/internal/registry"
)

type fakeBroadcaster struct {
	subjects []string
	payloads [][]byte
}

func (f *fakeBroadcaster) Broadcast(subject string, payload []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, payload)
	return nil
}

// testMetrics is shared by every test in the package: metrics.NewRegistry
// registers its collectors with the default Prometheus registry, so a
// second call in the same process panics on duplicate registration.
var testMetrics = metrics.NewRegistry()

func newTestDispatcher() (*Dispatcher, *registry.Registry, *fakeBroadcaster) {
	reg := registry.New()
	fb := &fakeBroadcaster{}
	return NewDispatcher(reg, fb, testMetrics, zap.NewNop()), reg, fb
}

func envelope(t *testing.T, raw []byte) protocol.Envelope {
	t.Helper()
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	return env
}

func TestDispatchClientRegAndPubReg(t *testing.T) {
	d, _, _ := newTestDispatcher()

	reply, shutdown := d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypeClientReg, Addr: "A"}))
	if shutdown {
		t.Fatal("client_reg must not shut down the broker")
	}
	if env := envelope(t, reply); !env.Result {
		t.Fatalf("client_reg should succeed, got %+v", env)
	}

	reply, _ = d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypePubReg, Addr: "A", Topic: "t", OwnStr: 1}))
	if env := envelope(t, reply); !env.Result {
		t.Fatalf("pub_reg for a registered client should succeed, got %+v", env)
	}

	reply, _ = d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypePubReg, Addr: "ghost", Topic: "t"}))
	if env := envelope(t, reply); env.Result {
		t.Fatal("pub_reg from an unregistered client must fail")
	}
}

func TestDispatchPublishRelaysOnlyFromHead(t *testing.T) {
	d, _, fb := newTestDispatcher()

	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypeClientReg, Addr: "A"}))
	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypeClientReg, Addr: "B"}))
	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypePubReg, Addr: "A", Topic: "t", OwnStr: 1, HistoryCnt: 3}))
	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypePubReg, Addr: "B", Topic: "t", OwnStr: 5}))

	content, _ := json.Marshal("x")
	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypePub, Addr: "A", Topic: "t", Content: content}))
	if len(fb.subjects) != 0 {
		t.Fatalf("A is not head, expected no broadcast, got %v", fb.subjects)
	}

	content, _ = json.Marshal("z")
	reply, _ := d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypePub, Addr: "B", Topic: "t", Content: content}))
	if env := envelope(t, reply); !env.Result {
		t.Fatal("B's publish should be accepted")
	}
	if len(fb.subjects) != 1 || fb.subjects[0] != protocol.TopicSubject("t") {
		t.Fatalf("expected exactly one broadcast on topic subject, got %v", fb.subjects)
	}

	var pub protocol.Publication
	if err := json.Unmarshal(fb.payloads[0], &pub); err != nil {
		t.Fatalf("unmarshal broadcast payload: %v", err)
	}
	if pub.Topic != "t" || string(pub.Content) != `"z"` {
		t.Fatalf("unexpected broadcast payload: %+v", pub)
	}
}

func TestDispatchSubRegHonorsHistoryBar(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypeClientReg, Addr: "A"}))
	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypeClientReg, Addr: "B"}))
	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypePubReg, Addr: "A", Topic: "t", OwnStr: 1, HistoryCnt: 3}))
	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypePubReg, Addr: "B", Topic: "t", OwnStr: 5, HistoryCnt: 0}))

	reply, _ := d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypeSubReg, Topic: "t", HistoryCnt: 0}))
	env := envelope(t, reply)
	if !env.Result || len(env.History) != 0 {
		t.Fatalf("sub_reg(history=0) should match B with an empty history, got %+v", env)
	}

	reply, _ = d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypeSubReg, Topic: "t", HistoryCnt: 2}))
	env = envelope(t, reply)
	if !env.Result {
		t.Fatalf("sub_reg(history=2) should match A, got %+v", env)
	}
}

func TestDispatchDisconnectRepliesRawACK(t *testing.T) {
	d, _, _ := newTestDispatcher()
	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypeClientReg, Addr: "A"}))
	d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypePubReg, Addr: "A", Topic: "t"}))

	reply, _ := d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypeDisconnect, Addr: "A", Topic: "t"}))
	if string(reply) != "ACK" {
		t.Fatalf("disconnect must reply the literal ACK, got %q", reply)
	}
}

func TestDispatchUnknownType(t *testing.T) {
	d, _, _ := newTestDispatcher()
	reply, shutdown := d.Handle(mustJSON(t, protocol.Envelope{Type: "bogus"}))
	if shutdown {
		t.Fatal("unknown type must not shut down the broker")
	}
	env := envelope(t, reply)
	if env.Type != protocol.TypeUnknown || env.Result {
		t.Fatalf("expected unknown/false, got %+v", env)
	}
}

func TestDispatchShutdownRequestsTeardown(t *testing.T) {
	d, _, _ := newTestDispatcher()
	reply, shutdown := d.Handle(mustJSON(t, protocol.Envelope{Type: protocol.TypeShutdown}))
	if !shutdown {
		t.Fatal("shutdown request should signal teardown")
	}
	if env := envelope(t, reply); !env.Result {
		t.Fatalf("shutdown should reply result=true, got %+v", env)
	}
}

func mustJSON(t *testing.T, env protocol.Envelope) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
