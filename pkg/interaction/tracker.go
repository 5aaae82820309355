package interaction

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bpclient/bpclient-go/pkg/wire"
)

// MaxDrainPasses bounds the number of sweeps DrainAll makes over the
// pending table.
const MaxDrainPasses = 3

// Sender writes one encoded frame to the connection.
type Sender interface {
	SendText(ctx context.Context, data []byte) error
}

// Call is a request awaiting its reply.
type Call struct {
	// ID is the correlation Id of the request.
	ID uint32

	// Request is the message as sent.
	Request wire.Message

	// Sent is when the call was registered.
	Sent time.Time

	tracker *Tracker
	done    chan struct{}
	reply   wire.Message
	err     error
}

func newCall(t *Tracker, msg wire.Message) *Call {
	return &Call{
		ID:      msg.ID,
		Request: msg,
		Sent:    time.Now(),
		tracker: t,
		done:    make(chan struct{}),
	}
}

// resolve must be called exactly once, by whoever removed the call from the
// pending table (or never inserted it).
func (c *Call) resolve(reply wire.Message, err error) {
	c.reply = reply
	c.err = err
	close(c.done)
}

// Done is closed once the call is resolved.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the resolution. Only valid after Done is closed.
func (c *Call) Result() (wire.Message, error) {
	return c.reply, c.err
}

// Wait blocks until the call is resolved or ctx ends. A cancelled wait
// withdraws the call so a late reply is treated as unmatched.
// Wait may be called more than once and always returns the same result.
func (c *Call) Wait(ctx context.Context) (wire.Message, error) {
	select {
	case <-c.done:
		return c.reply, c.err
	case <-ctx.Done():
	}

	if c.tracker != nil && c.tracker.take(c.ID, c) {
		c.resolve(wire.Message{}, ctx.Err())
	}
	// Someone else took it and is resolving it now.
	<-c.done
	return c.reply, c.err
}

// Tracker owns the Id counter and the pending-request table of a session.
type Tracker struct {
	sender Sender
	nextID atomic.Uint32

	mu          sync.Mutex
	pending     map[uint32]*Call
	closed      bool
	closeReason string
}

// NewTracker creates a tracker writing through sender.
func NewTracker(sender Sender) *Tracker {
	t := &Tracker{
		sender:  sender,
		pending: make(map[uint32]*Call),
	}
	t.nextID.Store(1)
	return t
}

// NextID returns the next correlation Id. Ids start at 1, strictly increase
// and skip 0 on wrap-around.
func (t *Tracker) NextID() uint32 {
	for {
		id := t.nextID.Add(1) - 1
		if id != wire.EventID {
			return id
		}
	}
}

// Send stamps payload with a fresh Id and sends it.
func (t *Tracker) Send(ctx context.Context, payload wire.Payload) *Call {
	return t.SendMessage(ctx, wire.Message{ID: t.NextID(), Payload: payload})
}

// SendMessage sends a message that already carries its Id. The call is
// registered before the frame is written; a write failure resolves it with
// a *TransportError.
func (t *Tracker) SendMessage(ctx context.Context, msg wire.Message) *Call {
	call := newCall(t, msg)

	if msg.ID == wire.EventID {
		call.resolve(wire.Message{}, ErrReservedID)
		return call
	}

	data, err := wire.EncodeFrame(msg)
	if err != nil {
		call.resolve(wire.Message{}, err)
		return call
	}

	t.mu.Lock()
	if t.closed {
		reason := t.closeReason
		t.mu.Unlock()
		call.resolve(wire.Message{}, &ConnectionClosedError{Reason: reason})
		return call
	}
	if _, dup := t.pending[msg.ID]; dup {
		t.mu.Unlock()
		call.resolve(wire.Message{}, ErrDuplicateID)
		return call
	}
	t.pending[msg.ID] = call
	t.mu.Unlock()

	if err := t.sender.SendText(ctx, data); err != nil {
		if t.take(msg.ID, call) {
			call.resolve(wire.Message{}, &TransportError{ID: msg.ID, Err: err})
		}
	}
	return call
}

// HandleMessage resolves the call waiting for msg.ID. It returns false for
// events (Id 0) and for replies nobody is waiting for; the caller routes
// those as events. An Error reply resolves the call with a *wire.ServerError.
func (t *Tracker) HandleMessage(msg wire.Message) bool {
	return t.Resolve(msg) != nil
}

// Resolve is HandleMessage returning the resolved call, or nil.
func (t *Tracker) Resolve(msg wire.Message) *Call {
	if msg.ID == wire.EventID {
		return nil
	}

	t.mu.Lock()
	call, ok := t.pending[msg.ID]
	if ok {
		delete(t.pending, msg.ID)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}

	if e, isErr := msg.Payload.(*wire.Error); isErr {
		call.resolve(msg, wire.NewServerError(msg.ID, e))
	} else {
		call.resolve(msg, nil)
	}
	return call
}

// DrainAll closes the tracker and resolves every pending call with a
// *ConnectionClosedError. Sends attempted afterwards fail the same way.
// It returns the number of calls resolved.
func (t *Tracker) DrainAll(reason string) int {
	t.mu.Lock()
	t.closed = true
	t.closeReason = reason
	t.mu.Unlock()

	n := 0
	for pass := 0; pass < MaxDrainPasses; pass++ {
		t.mu.Lock()
		calls := t.pending
		t.pending = make(map[uint32]*Call)
		t.mu.Unlock()

		if len(calls) == 0 {
			break
		}
		for _, c := range calls {
			c.resolve(wire.Message{}, &ConnectionClosedError{Reason: reason})
			n++
		}
	}
	return n
}

// Pending returns the number of unresolved calls.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Closed reports whether DrainAll has run.
func (t *Tracker) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// take removes id from the table if it still maps to call.
func (t *Tracker) take(id uint32, call *Call) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending[id] != call {
		return false
	}
	delete(t.pending, id)
	return true
}
