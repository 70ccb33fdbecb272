package transport

import (
	"bufio"
	"errors"
	"io"
	"net"

	"github.com/google/uuid"

	"linewire/internal/logging"
	"linewire/internal/wire"
)

// listener is the sole reader of the inbound half. It pulls one line at a
// time, classifies it, and routes it; a bad line is dropped, never fatal.
// The loop ends on read failure or once the connection leaves the open
// state, and tears down the event stream on the way out.
func (c *Conn) listen() {
	defer func() {
		c.state.Store(stateClosed)
		close(c.events)
		close(c.done)
	}()

	reader := bufio.NewReader(c.socket)
	for c.state.Load() == stateOpen {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			c.dispatch(line)
		}
		if err != nil {
			switch {
			case c.state.Load() != stateOpen:
				// Close already tore down the socket; expected.
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				c.logger.Debug("daemon closed the stream")
			default:
				c.logger.Warn("read failed, stopping listener", logging.Error(err))
			}
			return
		}
	}
}

func (c *Conn) dispatch(line []byte) {
	frame, err := wire.Decode(line)
	if err != nil {
		if errors.Is(err, wire.ErrEmptyLine) {
			return
		}
		c.linesDiscarded.Add(1)
		c.logger.Warn("discarding undecodable line", logging.Error(err))
		return
	}

	switch frame.Classify(c.eventType) {
	case wire.KindResponse:
		c.dispatchResponse(frame)
	case wire.KindEvent:
		c.dispatchEvent(frame)
	default:
		c.linesDiscarded.Add(1)
		c.logger.Warn("discarding frame with no routing fields",
			logging.String(logging.FieldEventType, frame.Type))
	}
}

func (c *Conn) dispatchResponse(frame wire.Frame) {
	id, err := uuid.Parse(frame.ID)
	if err != nil {
		c.linesDiscarded.Add(1)
		c.logger.Warn("discarding response with malformed correlation id",
			logging.String(logging.FieldCorrelationID, frame.ID))
		return
	}
	if !c.reg.fulfill(id, frame) {
		// A daemon answering an id we never issued, or an answer racing an
		// abandoned request that already drained.
		c.unmatched.Add(1)
		c.logger.Warn("response matches no outstanding request",
			logging.String(logging.FieldCorrelationID, frame.ID))
	}
}

func (c *Conn) dispatchEvent(frame wire.Frame) {
	ev := wire.Event{Type: frame.Type, Data: frame.Data}
	select {
	case c.events <- ev:
		c.eventsDelivered.Add(1)
	default:
		c.eventsDropped.Add(1)
		c.logger.Warn("event buffer full, dropping event",
			logging.String(logging.FieldEventType, ev.Type))
	}
}
