package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"linewire/internal/testsupport"
	"linewire/internal/transport"
	"linewire/internal/wire"
)

func newTestConn(t *testing.T, opts ...transport.Option) (*testsupport.Script, *transport.Conn) {
	t.Helper()
	script, stream := testsupport.NewScript(t)
	conn := transport.NewConn(stream, opts...)
	t.Cleanup(func() { _ = conn.Close() })
	return script, conn
}

func requestAsync(t *testing.T, conn *transport.Conn, body any) <-chan result {
	t.Helper()
	out := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		frame, err := conn.Request(ctx, body)
		out <- result{frame: frame, err: err}
	}()
	return out
}

type result struct {
	frame wire.Frame
	err   error
}

func TestRequestResponseRoundTrip(t *testing.T) {
	script, conn := newTestConn(t)

	done := requestAsync(t, conn, map[string]any{"type": "ping"})

	req := script.NextRequest()
	if req["type"] != "ping" {
		t.Fatalf("daemon saw request %#v", req)
	}
	script.Respond(script.RequestID(req), `{"ok":true}`)

	res := <-done
	if res.err != nil {
		t.Fatalf("Request: %v", res.err)
	}
	if string(res.frame.Data) != `{"ok":true}` {
		t.Fatalf("data = %s", res.frame.Data)
	}
}

func TestResponsesRoutedByIDNotOrder(t *testing.T) {
	script, conn := newTestConn(t)

	doneA := requestAsync(t, conn, map[string]any{"type": "ping", "seq": 1})
	reqA := script.NextRequest()
	doneB := requestAsync(t, conn, map[string]any{"type": "ping", "seq": 2})
	reqB := script.NextRequest()

	// Answer B first; each waiter must still receive its own response.
	script.Respond(script.RequestID(reqB), `{"for":"b"}`)
	script.Respond(script.RequestID(reqA), `{"for":"a"}`)

	resB := <-doneB
	resA := <-doneA
	if resA.err != nil || resB.err != nil {
		t.Fatalf("Request errors: %v / %v", resA.err, resB.err)
	}
	if string(resA.frame.Data) != `{"for":"a"}` {
		t.Fatalf("waiter A got %s", resA.frame.Data)
	}
	if string(resB.frame.Data) != `{"for":"b"}` {
		t.Fatalf("waiter B got %s", resB.frame.Data)
	}
}

func TestUnknownIDDoesNotReachWaiters(t *testing.T) {
	script, conn := newTestConn(t)

	done := requestAsync(t, conn, map[string]any{"type": "ping"})
	req := script.NextRequest()

	script.Respond(uuid.NewString(), `{"impostor":true}`)
	script.Respond(script.RequestID(req), `{"ok":true}`)

	res := <-done
	if res.err != nil {
		t.Fatalf("Request: %v", res.err)
	}
	if string(res.frame.Data) != `{"ok":true}` {
		t.Fatalf("waiter received %s", res.frame.Data)
	}

	waitForStat(t, conn, func(s transport.Stats) bool { return s.UnmatchedResponses == 1 })
}

func TestEventsArriveInWireOrder(t *testing.T) {
	script, conn := newTestConn(t)

	done := requestAsync(t, conn, map[string]any{"type": "ping"})
	req := script.NextRequest()

	script.PushEvent(`{"seq":1}`)
	script.Respond(script.RequestID(req), `{"ok":true}`)
	script.PushEvent(`{"seq":2}`)
	script.PushEvent(`{"seq":3}`)

	if res := <-done; res.err != nil {
		t.Fatalf("Request: %v", res.err)
	}

	for want := 1; want <= 3; want++ {
		ev := nextEvent(t, conn)
		var payload struct {
			Seq int `json:"seq"`
		}
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if payload.Seq != want {
			t.Fatalf("event seq = %d, want %d", payload.Seq, want)
		}
	}
}

func TestMalformedLineBetweenResponses(t *testing.T) {
	script, conn := newTestConn(t)

	doneA := requestAsync(t, conn, map[string]any{"type": "ping"})
	reqA := script.NextRequest()
	doneB := requestAsync(t, conn, map[string]any{"type": "ping"})
	reqB := script.NextRequest()

	script.Respond(script.RequestID(reqA), `{"first":true}`)
	script.Push(`{this is not json`)
	script.Respond(script.RequestID(reqB), `{"second":true}`)

	resA := <-doneA
	resB := <-doneB
	if resA.err != nil || resB.err != nil {
		t.Fatalf("Request errors: %v / %v", resA.err, resB.err)
	}
	if string(resA.frame.Data) != `{"first":true}` || string(resB.frame.Data) != `{"second":true}` {
		t.Fatalf("payloads: %s / %s", resA.frame.Data, resB.frame.Data)
	}

	waitForStat(t, conn, func(s transport.Stats) bool { return s.LinesDiscarded == 1 })
}

func TestFrameWithoutRoutingFieldsIsSkipped(t *testing.T) {
	script, conn := newTestConn(t)

	done := requestAsync(t, conn, map[string]any{"type": "ping"})
	req := script.NextRequest()

	script.Push(`{"type":"version","data":{"version":"0.23.2"}}`)
	script.Respond(script.RequestID(req), `{"ok":true}`)

	if res := <-done; res.err != nil {
		t.Fatalf("Request: %v", res.err)
	}
	waitForStat(t, conn, func(s transport.Stats) bool { return s.LinesDiscarded == 1 })
}

func TestEOFStopsListenerAndPendingRequestKeepsWaiting(t *testing.T) {
	script, conn := newTestConn(t)

	id := uuid.New()
	if err := conn.Send(id, map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	script.NextRequest()
	script.Close()

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop on EOF")
	}

	// The slot was never fulfilled; awaiting now reports the dead
	// connection instead of blocking forever.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := conn.Await(ctx, id); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("Await after EOF = %v, want ErrClosed", err)
	}
}

func TestAbandonedRequestLeavesSlotUntilResponse(t *testing.T) {
	script, conn := newTestConn(t)

	id := uuid.New()
	if err := conn.Send(id, map[string]any{"type": "slow"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := script.NextRequest()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := conn.Await(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("Await = %v, want context.Canceled", err)
	}

	if got := conn.Stats().InFlight; got != 1 {
		t.Fatalf("in-flight after abandonment = %d, want 1", got)
	}

	// The eventual answer retires the slot unread.
	script.Respond(script.RequestID(req), `{"late":true}`)
	waitForStat(t, conn, func(s transport.Stats) bool { return s.InFlight == 0 })
}

// The daemon can answer before the sender reaches Await; the response must
// wait in the registry, not vanish.
func TestResponseBeforeAwaitIsDelivered(t *testing.T) {
	script, conn := newTestConn(t)

	id := uuid.New()
	if err := conn.Send(id, map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := script.NextRequest()
	script.Respond(script.RequestID(req), `{"ok":true}`)

	// The listener handles lines in order, so once this marker event comes
	// out the response above has already been routed.
	script.PushEvent(`{"marker":true}`)
	nextEvent(t, conn)

	if got := conn.Stats().InFlight; got != 1 {
		t.Fatalf("in-flight before Await = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := conn.Await(ctx, id)
	if err != nil {
		t.Fatalf("Await after early response: %v", err)
	}
	if string(frame.Data) != `{"ok":true}` {
		t.Fatalf("data = %s", frame.Data)
	}
	if got := conn.Stats().InFlight; got != 0 {
		t.Fatalf("in-flight after Await = %d, want 0", got)
	}
}

func TestDuplicateResponseCountedUnmatched(t *testing.T) {
	script, conn := newTestConn(t)

	id := uuid.New()
	if err := conn.Send(id, map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := script.NextRequest()
	wireID := script.RequestID(req)
	script.Respond(wireID, `{"first":true}`)
	script.Respond(wireID, `{"second":true}`)

	waitForStat(t, conn, func(s transport.Stats) bool { return s.UnmatchedResponses == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := conn.Await(ctx, id)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if string(frame.Data) != `{"first":true}` {
		t.Fatalf("data = %s, want the first answer", frame.Data)
	}
}

func TestEventBufferOverflowDropsNewest(t *testing.T) {
	script, conn := newTestConn(t, transport.WithEventBuffer(1))

	script.PushEvent(`{"seq":1}`)
	waitForStat(t, conn, func(s transport.Stats) bool { return s.EventsDelivered == 1 })
	script.PushEvent(`{"seq":2}`)
	waitForStat(t, conn, func(s transport.Stats) bool { return s.EventsDropped == 1 })

	ev := nextEvent(t, conn)
	var payload struct {
		Seq int `json:"seq"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if payload.Seq != 1 {
		t.Fatalf("surviving event seq = %d, want 1", payload.Seq)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	_, conn := newTestConn(t)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Send(uuid.New(), map[string]any{"type": "ping"}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("Send after close = %v, want ErrClosed", err)
	}
	// Idempotent.
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCloseEndsEventStream(t *testing.T) {
	script, conn := newTestConn(t)
	script.PushEvent(`{"seq":1}`)
	nextEvent(t, conn)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("event channel not closed after Close")
	}
}

// Scenario: send {id:"R1", type:"ping"} by pinning the correlation id; the
// daemon's {id:"R1", data:{ok:true}} reaches the pinned waiter.
func TestPinnedCorrelationID(t *testing.T) {
	script, conn := newTestConn(t)

	id := uuid.New()
	if err := conn.Send(id, map[string]any{"type": "ping"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := script.NextRequest()
	if got := script.RequestID(req); got != id.String() {
		t.Fatalf("wire id = %q, want %q", got, id)
	}
	script.Respond(id.String(), `{"ok":true}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := conn.Await(ctx, id)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if string(frame.Data) != `{"ok":true}` {
		t.Fatalf("data = %s", frame.Data)
	}
}

// Scenario: an unsolicited {type:"event", data:{kind:"tick"}} shows up as the
// subscriber's next event with that exact payload.
func TestUnsolicitedEventDelivery(t *testing.T) {
	script, conn := newTestConn(t)

	script.PushEvent(`{"kind":"tick"}`)
	ev := nextEvent(t, conn)
	if ev.Type != "event" {
		t.Fatalf("event type = %q", ev.Type)
	}
	if string(ev.Data) != `{"kind":"tick"}` {
		t.Fatalf("event data = %s", ev.Data)
	}
}

func TestCustomEventType(t *testing.T) {
	script, conn := newTestConn(t, transport.WithEventType("IncomingMessage"))

	script.Push(`{"type":"IncomingMessage","data":{"from":"+12025551212"}}`)
	ev := nextEvent(t, conn)
	if ev.Type != "IncomingMessage" {
		t.Fatalf("event type = %q", ev.Type)
	}

	// The default tag is no longer special and gets discarded.
	script.Push(`{"type":"event","data":{}}`)
	waitForStat(t, conn, func(s transport.Stats) bool { return s.LinesDiscarded == 1 })
}

func TestDialAgainstUnixSocket(t *testing.T) {
	daemon := testsupport.StartDaemon(t, func(req map[string]any) []string {
		id, _ := req["id"].(string)
		return []string{`{"id":"` + id + `","data":{"echo":"` + req["type"].(string) + `"}}`}
	})

	conn, err := transport.Dial(daemon.Path())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	frame, err := conn.Request(ctx, map[string]any{"type": "ping"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(frame.Data) != `{"echo":"ping"}` {
		t.Fatalf("data = %s", frame.Data)
	}
}

func TestDialMissingSocketFails(t *testing.T) {
	if _, err := transport.Dial("/nonexistent/linewire.sock"); err == nil {
		t.Fatal("expected dial error")
	}
}

func nextEvent(t *testing.T, conn *transport.Conn) wire.Event {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		if !ok {
			t.Fatal("event channel closed early")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an event")
	}
	return wire.Event{}
}

func waitForStat(t *testing.T, conn *transport.Conn, ok func(transport.Stats) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ok(conn.Stats()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held; stats = %#v", conn.Stats())
}
