package event

import (
	"sync"
)

// Dispatcher delivers published events to every subscriber.
type Dispatcher struct {
	mu     sync.Mutex
	subs   []*mailbox
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with no subscribers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// mailbox is an unbounded FIFO drained by one goroutine.
type mailbox struct {
	handler Handler

	mu      sync.Mutex
	queue   []Event
	stopped bool
	dropped bool
	wake    chan struct{}
	quit    chan struct{}
}

// Subscribe registers h and returns a function that unregisters it. Events
// still queued for h when it is unregistered are dropped. Subscribing to a
// closed dispatcher returns a no-op.
func (d *Dispatcher) Subscribe(h Handler) (unsubscribe func()) {
	m := &mailbox{
		handler: h,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return func() {}
	}
	d.subs = append(d.subs, m)
	d.wg.Add(1)
	d.mu.Unlock()

	go m.run(&d.wg)

	var once sync.Once
	return func() {
		once.Do(func() {
			d.remove(m)
			m.stop(false)
		})
	}
}

// Publish queues e for every current subscriber, in subscription order.
// It never blocks on a handler.
func (d *Dispatcher) Publish(e Event) {
	d.mu.Lock()
	subs := d.subs
	d.mu.Unlock()

	for _, m := range subs {
		m.push(e)
	}
}

// Len returns the number of subscribers.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs)
}

// Close delivers what is already queued, stops every mailbox and waits for
// the handlers to return. It must not be called from a handler.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.closed = true
	subs := d.subs
	d.subs = nil
	d.mu.Unlock()

	for _, m := range subs {
		m.stop(true)
	}
	d.wg.Wait()
}

func (d *Dispatcher) remove(m *mailbox) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Copy on write; Publish may hold the old slice.
	subs := make([]*mailbox, 0, len(d.subs))
	for _, s := range d.subs {
		if s != m {
			subs = append(subs, s)
		}
	}
	d.subs = subs
}

func (m *mailbox) push(e Event) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, e)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// stop ends the mailbox. With flush, queued events are still delivered.
func (m *mailbox) stop(flush bool) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if !flush {
		m.queue = nil
		m.dropped = true
	}
	m.mu.Unlock()
	close(m.quit)
}

func (m *mailbox) run(wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()

		for _, e := range batch {
			if m.isDropped() {
				return
			}
			m.handler(e)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-m.wake:
		case <-m.quit:
			m.mu.Lock()
			empty := len(m.queue) == 0
			m.mu.Unlock()
			if empty {
				return
			}
		}
	}
}

func (m *mailbox) isDropped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}
