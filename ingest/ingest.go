// Package ingest maintains one logical connection to the upstream chat
// room and normalizes its messages into ChatEvent values. Reconnection
// is handled internally with bounded attempts and a fixed backoff,
// following the gorilla/websocket transport pattern the rest of this
// codebase uses for the subscriber-facing side.
package ingest

import (
	"context"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ChatEvent is a normalized chat message from the upstream room.
type ChatEvent struct {
	Username string
	Message  string
	TsMs     int64
}

// ConnStatus reports upstream connectivity changes.
type ConnStatus struct {
	Connected bool
	Terminal  bool // true once MaxReconnectAttempts is exhausted
}

const (
	MaxReconnectAttempts = 10
	Backoff               = 5 * time.Second
)

// Dialer abstracts the upstream transport so tests can substitute a
// fake without opening a real socket. Production code uses
// websocketDialer, a thin wrapper over gorilla/websocket.
type Dialer interface {
	Dial(ctx context.Context, roomURL string) (Conn, error)
}

// Conn is the minimal surface the ingestor needs from a live
// connection.
type Conn interface {
	ReadEvent() (ChatEvent, error)
	Close() error
}

// Ingestor owns at most one live upstream connection at a time and
// guarantees that even under concurrent Start() callers.
type Ingestor struct {
	dialer  Dialer
	roomURL string

	events chan ChatEvent
	status chan ConnStatus

	connecting int32 // atomic bool
	connected  int32 // atomic bool

	reconnectAttempts int32

	mu      sync.Mutex
	started bool
	stop    chan struct{}
}

// New builds an Ingestor for the given room URL using the default
// gorilla/websocket dialer.
func New(roomURL string) *Ingestor {
	return &Ingestor{
		dialer:  websocketDialer{},
		roomURL: roomURL,
		events:  make(chan ChatEvent, 256),
		status:  make(chan ConnStatus, 8),
		stop:    make(chan struct{}),
	}
}

// Events returns the channel of normalized chat messages. Messages are
// never filtered, deduplicated, or reordered.
func (in *Ingestor) Events() <-chan ChatEvent { return in.events }

// Status returns the channel of connectivity transitions.
func (in *Ingestor) Status() <-chan ConnStatus { return in.status }

// Start is idempotent: calling it more than once has no additional
// effect while a connection attempt is already running or connected.
func (in *Ingestor) Start(ctx context.Context) {
	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return
	}
	in.started = true
	in.mu.Unlock()

	go in.run(ctx)
}

// Stop tears down the ingestor and closes the upstream connection if
// any is live.
func (in *Ingestor) Stop() {
	close(in.stop)
}

func (in *Ingestor) run(ctx context.Context) {
	for {
		select {
		case <-in.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !atomic.CompareAndSwapInt32(&in.connecting, 0, 1) {
			// another connect attempt is already in flight; never
			// spawn a second reconnect while one is pending.
			return
		}

		conn, err := in.dialer.Dial(ctx, in.roomURL)
		atomic.StoreInt32(&in.connecting, 0)

		if err != nil {
			log.Printf("⚠️  chat ingestor: dial failed: %v", err)
			if !in.scheduleReconnect(ctx) {
				return
			}
			continue
		}

		atomic.StoreInt32(&in.connected, 1)
		atomic.StoreInt32(&in.reconnectAttempts, 0)
		in.publishStatus(ConnStatus{Connected: true})

		in.readLoop(conn)

		atomic.StoreInt32(&in.connected, 0)
		in.publishStatus(ConnStatus{Connected: false})

		if !in.scheduleReconnect(ctx) {
			return
		}
	}
}

func (in *Ingestor) readLoop(conn Conn) {
	defer conn.Close()
	for {
		select {
		case <-in.stop:
			return
		default:
		}

		evt, err := conn.ReadEvent()
		if err != nil {
			log.Printf("⚠️  chat ingestor: transport closed: %v", err)
			return
		}

		select {
		case in.events <- evt:
		case <-in.stop:
			return
		}
	}
}

// scheduleReconnect waits Backoff and reports whether the caller
// should keep trying. After MaxReconnectAttempts consecutive failures
// it emits a terminal status and returns false.
func (in *Ingestor) scheduleReconnect(ctx context.Context) bool {
	attempts := atomic.AddInt32(&in.reconnectAttempts, 1)
	if attempts > MaxReconnectAttempts {
		log.Printf("❌ chat ingestor: max reconnect attempts reached (%d)", MaxReconnectAttempts)
		in.publishStatus(ConnStatus{Connected: false, Terminal: true})
		return false
	}

	select {
	case <-time.After(Backoff):
		return true
	case <-in.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (in *Ingestor) publishStatus(s ConnStatus) {
	select {
	case in.status <- s:
	default:
		// status is advisory; drop rather than block the run loop
	}
}

// websocketDialer is the production Dialer backed by
// github.com/gorilla/websocket.
type websocketDialer struct{}

func (websocketDialer) Dial(ctx context.Context, roomURL string) (Conn, error) {
	u, err := url.Parse(roomURL)
	if err != nil {
		return nil, err
	}
	dialer := websocket.DefaultDialer
	c, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

type wireChatEvent struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	TsMs     int64  `json:"ts"`
}

func (c *wsConn) ReadEvent() (ChatEvent, error) {
	var wire wireChatEvent
	if err := c.conn.ReadJSON(&wire); err != nil {
		return ChatEvent{}, err
	}
	return ChatEvent{Username: wire.Username, Message: wire.Message, TsMs: wire.TsMs}, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
