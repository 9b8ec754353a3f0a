package registry

import (
	"encoding/json"
	"testing"
)

func raw(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// The strongest publisher meeting the requested history depth wins.
func TestStrengthOrderedSelection(t *testing.T) {
	r := New()
	r.RegisterClient("A")
	r.RegisterClient("B")

	if ok := r.RegisterPublisher("A", "t", 1, 3); !ok {
		t.Fatal("A pub_reg should succeed")
	}
	if ok := r.RegisterPublisher("B", "t", 5, 0); !ok {
		t.Fatal("B pub_reg should succeed")
	}

	zero := 0
	p := r.FindPublisher("t", &zero, nil)
	if p == nil || p.Addr != "B" {
		t.Fatalf("expected B as strongest match for history>=0, got %+v", p)
	}

	two := 2
	p = r.FindPublisher("t", &two, nil)
	if p == nil || p.Addr != "A" {
		t.Fatalf("expected A to satisfy history>=2 (B fails the bar), got %+v", p)
	}
}

// Equal-strength publishers tie-break by insertion order.
func TestTieBreakByInsertionOrder(t *testing.T) {
	r := New()
	r.RegisterClient("A")
	r.RegisterClient("B")
	r.RegisterPublisher("A", "t", 5, 0)
	r.RegisterPublisher("B", "t", 5, 0)

	p := r.FindPublisher("t", nil, nil)
	if p == nil || p.Addr != "A" {
		t.Fatalf("expected stable insertion-order winner A, got %+v", p)
	}
}

// The publisher sequence stays non-increasing in strength.
func TestSequenceStaysOrdered(t *testing.T) {
	r := New()
	r.RegisterClient("A")
	r.RegisterClient("B")
	r.RegisterClient("C")
	r.RegisterPublisher("A", "t", 3, 0)
	r.RegisterPublisher("B", "t", 7, 0)
	r.RegisterPublisher("C", "t", 1, 0)

	last := int(^uint(0) >> 1) // max int
	for _, addr := range []string{"B", "A", "C"} {
		p := r.FindPublisher("t", nil, &addr)
		if p == nil {
			t.Fatalf("expected publisher %s", addr)
		}
	}

	// Walk the sequence head-first via repeated FindPublisher with no
	// address filter is insufficient to inspect order directly, so
	// verify by publishing from each address and checking head-relay
	// gating reflects descending strength.
	_ = last
	okA, relayA := r.AppendPublish("A", "t", raw("x"))
	okB, relayB := r.AppendPublish("B", "t", raw("y"))
	okC, relayC := r.AppendPublish("C", "t", raw("z"))
	if !okA || !okB || !okC {
		t.Fatalf("all publishes should be accepted")
	}
	if relayA || relayC || !relayB {
		t.Fatalf("only the strongest (B) should relay: A=%v B=%v C=%v", relayA, relayB, relayC)
	}
}

// Relay gating by head strength, with history appended on every publish
// regardless of whether it was relayed.
func TestRelayGatingAndHistory(t *testing.T) {
	r := New()
	r.RegisterClient("A")
	r.RegisterClient("B")
	r.RegisterPublisher("A", "t", 1, 3)
	r.RegisterPublisher("B", "t", 5, 0)

	ok, relay := r.AppendPublish("A", "t", raw("x"))
	if !ok || relay {
		t.Fatalf("A is not head, should not relay: ok=%v relay=%v", ok, relay)
	}
	ok, relay = r.AppendPublish("A", "t", raw("y"))
	if !ok || relay {
		t.Fatalf("A still not head: ok=%v relay=%v", ok, relay)
	}
	ok, relay = r.AppendPublish("B", "t", raw("z"))
	if !ok || !relay {
		t.Fatalf("B is head, should relay: ok=%v relay=%v", ok, relay)
	}

	addrA := "A"
	pa := r.FindPublisher("t", nil, &addrA)
	if pa.History.Len() != 2 {
		t.Fatalf("A's history should have 2 entries, got %d", pa.History.Len())
	}
}

// A publisher registration from an unknown client is rejected.
func TestUnknownClientRejected(t *testing.T) {
	r := New()
	if ok := r.RegisterPublisher("ghost", "t", 0, 0); ok {
		t.Fatal("pub_reg from unregistered client must fail")
	}
	zero := 0
	if p := r.FindPublisher("t", &zero, nil); p != nil {
		t.Fatalf("no publisher should have been created, got %+v", p)
	}
}

// Disconnect is idempotent.
func TestDisconnectIdempotent(t *testing.T) {
	r := New()
	r.RegisterClient("A")
	r.RegisterPublisher("A", "t", 1, 0)

	r.RemovePublisher("A", "t")
	r.RemovePublisher("A", "t") // no-op, must not panic

	if p := r.FindPublisher("t", nil, nil); p != nil {
		t.Fatalf("expected no publisher left, got %+v", p)
	}
}

// Repeated client registration is idempotent — it neither creates nor
// removes publishers, only resets liveness.
func TestClientRegIdempotent(t *testing.T) {
	r := New()
	r.RegisterClient("A")
	r.RegisterPublisher("A", "t", 1, 0)

	r.RegisterClient("A") // re-register

	if p := r.FindPublisher("t", nil, nil); p == nil {
		t.Fatal("re-registering a client must not remove its publishers")
	}
	if !r.IsClient("A") {
		t.Fatal("client should still be registered")
	}
}

// Failure detection reaps a client and its publishers.
func TestTickAndReapRemovesPublishers(t *testing.T) {
	r := New()
	r.RegisterClient("C")
	r.RegisterPublisher("C", "t", 1, 0)

	// INIT_COUNT is 2: two ticks with no ping should expire the client.
	expired := r.Tick()
	if len(expired) != 0 {
		t.Fatalf("client should survive first tick, got expired=%v", expired)
	}
	expired = r.Tick()
	if len(expired) != 1 || expired[0] != "C" {
		t.Fatalf("client should expire on second tick, got %v", expired)
	}
	r.ReapClient("C")

	if r.IsClient("C") {
		t.Fatal("client should have been reaped")
	}
	if p := r.FindPublisher("t", nil, nil); p != nil {
		t.Fatalf("reaping must remove the client's publishers, got %+v", p)
	}
}

// A ping between Tick's scan and ReapClient should save the client.
func TestPingSurvivesPendingReap(t *testing.T) {
	r := New()
	r.RegisterClient("C")
	r.Tick()
	expired := r.Tick()
	if len(expired) != 1 {
		t.Fatalf("expected C to be collected as expired, got %v", expired)
	}

	if ok := r.Ping("C"); !ok {
		t.Fatal("ping should still succeed before reap executes")
	}

	r.ReapClient("C")
	if !r.IsClient("C") {
		t.Fatal("a client that pinged before reap executed must survive")
	}
}
