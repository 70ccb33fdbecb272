package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"linewire/internal/logging"
	"linewire/internal/wire"
)

// ErrClosed reports use of a connection after it stopped, either through
// Close or because the daemon went away.
var ErrClosed = errors.New("connection closed")

const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
)

const (
	defaultDialTimeout = 2 * time.Second
	defaultEventBuffer = 32
)

// Option adjusts connection construction.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	eventType   string
	eventBuffer int
	dialTimeout time.Duration
}

// WithLogger attaches a structured logger; the default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventType overrides the discriminator identifying pushed events.
func WithEventType(eventType string) Option {
	return func(o *options) { o.eventType = eventType }
}

// WithEventBuffer sets the event channel capacity. Events arriving while the
// buffer is full are dropped, never queued unboundedly.
func WithEventBuffer(n int) Option {
	return func(o *options) { o.eventBuffer = n }
}

// WithDialTimeout bounds the socket connect in Dial.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// Conn is a live daemon connection. It owns the outbound half of the stream;
// the listener goroutine spawned at construction owns the inbound half.
// Conn is safe for concurrent use.
type Conn struct {
	socket    net.Conn
	writeMu   sync.Mutex
	reg       *registry
	events    chan wire.Event
	eventType string
	logger    *slog.Logger

	state atomic.Int32
	done  chan struct{}

	eventsDelivered atomic.Uint64
	eventsDropped   atomic.Uint64
	linesDiscarded  atomic.Uint64
	unmatched       atomic.Uint64
}

// Dial connects to the daemon socket at path and starts the listener.
func Dial(path string, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)
	socket, err := net.DialTimeout("unix", path, o.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return newConn(socket, o), nil
}

// NewConn wraps an already-established bidirectional stream. The transport
// only needs newline-delimited JSON both ways, so tests and alternative
// channels can supply any net.Conn.
func NewConn(socket net.Conn, opts ...Option) *Conn {
	return newConn(socket, buildOptions(opts))
}

func buildOptions(opts []Option) *options {
	o := &options{
		eventType:   wire.DefaultEventType,
		eventBuffer: defaultEventBuffer,
		dialTimeout: defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.eventBuffer <= 0 {
		o.eventBuffer = defaultEventBuffer
	}
	if o.dialTimeout <= 0 {
		o.dialTimeout = defaultDialTimeout
	}
	return o
}

func newConn(socket net.Conn, o *options) *Conn {
	c := &Conn{
		socket:    socket,
		reg:       newRegistry(),
		events:    make(chan wire.Event, o.eventBuffer),
		eventType: o.eventType,
		logger:    logging.NewComponentLogger(o.logger, "transport"),
		done:      make(chan struct{}),
	}
	go c.listen()
	return c
}

// Request sends body with a freshly minted correlation id and blocks until
// the daemon answers, ctx expires, or the connection dies. The returned
// frame is the full response document; a daemon-reported failure inside it
// is delivered like any other answer and left to the caller to interpret.
func (c *Conn) Request(ctx context.Context, body any) (wire.Frame, error) {
	id := uuid.New()
	if err := c.Send(id, body); err != nil {
		return wire.Frame{}, err
	}
	return c.Await(ctx, id)
}

// Send registers a delivery slot for id and writes the framed request. The
// slot exists before any byte reaches the socket, so an answer arriving
// faster than this function returns still finds its waiter. Write failures
// are terminal for the connection; the slot is rolled back and the error
// returned as-is.
func (c *Conn) Send(id uuid.UUID, body any) error {
	if c.state.Load() != stateOpen {
		return ErrClosed
	}

	line, err := wire.EncodeRequest(id.String(), body)
	if err != nil {
		return err
	}

	if err := c.reg.register(id); err != nil {
		return err
	}

	c.writeMu.Lock()
	_, err = c.socket.Write(line)
	c.writeMu.Unlock()
	if err != nil {
		c.reg.remove(id)
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// Await takes ownership of the delivery slot for id and blocks for its
// response. Abandoning the wait leaves the slot registered; the eventual
// response retires it unread.
func (c *Conn) Await(ctx context.Context, id uuid.UUID) (wire.Frame, error) {
	ch, err := c.reg.take(id)
	if err != nil {
		return wire.Frame{}, err
	}

	select {
	case frame := <-ch:
		return frame, nil
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	case <-c.done:
		// The listener is gone; nothing will ever fulfill this slot.
		return wire.Frame{}, ErrClosed
	}
}

// Events exposes pushed events in wire arrival order. The channel is closed
// when the connection ends; it is a single-pass stream with exactly one
// intended consumer.
func (c *Conn) Events() <-chan wire.Event {
	return c.events
}

// Close shuts the connection down and waits for the listener to exit.
// Pending requests fail with ErrClosed. Close is idempotent.
func (c *Conn) Close() error {
	if !c.state.CompareAndSwap(stateOpen, stateClosing) {
		<-c.done
		return nil
	}
	err := c.socket.Close()
	<-c.done
	return err
}

// Done is closed once the listener has stopped, whether through Close or a
// dead stream.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Stats is a point-in-time snapshot of connection counters.
type Stats struct {
	InFlight           int
	EventsDelivered    uint64
	EventsDropped      uint64
	LinesDiscarded     uint64
	UnmatchedResponses uint64
}

// Stats reports current connection counters.
func (c *Conn) Stats() Stats {
	return Stats{
		InFlight:           c.reg.outstanding(),
		EventsDelivered:    c.eventsDelivered.Load(),
		EventsDropped:      c.eventsDropped.Load(),
		LinesDiscarded:     c.linesDiscarded.Load(),
		UnmatchedResponses: c.unmatched.Load(),
	}
}
