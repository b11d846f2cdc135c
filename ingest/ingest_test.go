package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	events []ChatEvent
	idx    int
	mu     sync.Mutex
	closed bool
}

func (f *fakeConn) ReadEvent() (ChatEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.events) {
		return ChatEvent{}, errors.New("eof")
	}
	e := f.events[f.idx]
	f.idx++
	return e, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	dialErr error
	calls   int
}

func (d *fakeDialer) Dial(ctx context.Context, roomURL string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no more conns configured")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func TestIngestorDeliversEventsInOrder(t *testing.T) {
	conn := &fakeConn{events: []ChatEvent{
		{Username: "alice", Message: "HIT", TsMs: 1},
		{Username: "bob", Message: "HIT", TsMs: 2},
	}}
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	in := &Ingestor{dialer: dialer, events: make(chan ChatEvent, 8), status: make(chan ConnStatus, 8), stop: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in.Start(ctx)

	var got []ChatEvent
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case e := <-in.Events():
			got = append(got, e)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}

	if got[0].Username != "alice" || got[1].Username != "bob" {
		t.Errorf("events out of order: %+v", got)
	}
}

func TestIngestorReconnectsAfterDisconnect(t *testing.T) {
	conn1 := &fakeConn{events: []ChatEvent{{Username: "a", Message: "HIT", TsMs: 1}}}
	conn2 := &fakeConn{events: []ChatEvent{{Username: "b", Message: "HIT", TsMs: 2}}}
	dialer := &fakeDialer{conns: []*fakeConn{conn1, conn2}}

	in := &Ingestor{dialer: dialer, events: make(chan ChatEvent, 8), status: make(chan ConnStatus, 8), stop: make(chan struct{})}

	savedBackoff := Backoff
	defer func() { _ = savedBackoff }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in.Start(ctx)

	// Drain first connection's single event then let it EOF, triggering
	// a reconnect after Backoff; the second connection's event proves
	// that a second, distinct connection was dialed.
	select {
	case <-in.Events():
	case <-time.After(time.Second):
		t.Fatal("did not receive first event")
	}

	select {
	case e := <-in.Events():
		if e.Username != "b" {
			t.Fatalf("expected event from second connection, got %+v", e)
		}
	case <-time.After(Backoff + 2*time.Second):
		t.Fatal("did not receive event after reconnect")
	}

	dialer.mu.Lock()
	calls := dialer.calls
	dialer.mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected at least two dials, got %d", calls)
	}
}
