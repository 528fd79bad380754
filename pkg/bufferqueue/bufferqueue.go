// Package bufferqueue implements the single-producer / multi-consumer
// FIFO that sits between a media ingest thread and the RTP sessions
// reading from it. One Producer accepts opaque elements in order; any
// number of Consumers attach to it and each advances through the
// sequence independently. An element's payload is released through the
// producer's destructor exactly once, when the slowest consumer that
// still owes it has passed.
package bufferqueue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Put once the Producer has been unref'd.
var ErrClosed = errors.New("bufferqueue: producer closed")

// Destructor releases a payload once no consumer still owes it.
type Destructor func(payload interface{})

type element struct {
	seq         uint64
	payload     interface{}
	seenByCount int
}

// Producer is the write side of the queue. It is created with a
// reference count of one; Unref drops it. The zero value is not usable,
// use NewProducer.
type Producer struct {
	mu         sync.Mutex
	cond       *sync.Cond
	destructor Destructor
	userCtx    interface{}

	elements []*element
	nextSeq  uint64
	refCount int
	closed   bool // true once refCount has reached zero

	consumers map[*Consumer]struct{}
}

// NewProducer creates a Producer with no elements and no consumers and
// a reference count of one. destructor is invoked exactly once per
// payload, when the last consumer that owed it has passed it, or
// immediately if no consumer was ever attached to see it.
func NewProducer(destructor Destructor, userCtx interface{}) *Producer {
	p := &Producer{
		destructor: destructor,
		userCtx:    userCtx,
		consumers:  make(map[*Consumer]struct{}),
		refCount:   1,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// UserCtx returns the opaque context supplied to NewProducer.
func (p *Producer) UserCtx() interface{} { return p.userCtx }

// Put appends payload as a new element, waking any consumer blocked in
// GetWait. It fails only once the Producer has been unref'd.
func (p *Producer) Put(payload interface{}) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}

	seq := p.nextSeq
	p.nextSeq++
	seenBy := len(p.consumers)

	if seenBy == 0 {
		// No consumer was attached to observe this put; it can never be
		// seen, so it is released immediately.
		p.mu.Unlock()
		if p.destructor != nil {
			p.destructor(payload)
		}
		return nil
	}

	p.elements = append(p.elements, &element{seq: seq, payload: payload, seenByCount: seenBy})
	p.cond.Broadcast()
	p.mu.Unlock()
	return nil
}

// Unref drops the Producer's reference count. When it reaches zero, the
// Producer stops accepting puts and signals EOF to every consumer
// (GetWait unblocks, Get/Closed observe end-of-stream once each
// consumer's position has caught up). If no consumer is attached at
// that point, every remaining element is released immediately.
func (p *Producer) Unref() {
	p.mu.Lock()
	if p.refCount == 0 {
		p.mu.Unlock()
		return
	}
	p.refCount--
	if p.refCount > 0 {
		p.mu.Unlock()
		return
	}

	p.closed = true
	var toDestroy []*element
	if len(p.consumers) == 0 {
		toDestroy = p.elements
		p.elements = nil
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	p.runDestructors(toDestroy)
}

// Closed reports whether the Producer has been fully unref'd. A closed
// Producer never accepts further Puts.
func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// indexOfLocked returns the slice index holding seq, if present. Callers
// must hold p.mu. Elements form a contiguous run of sequence numbers, so
// this is O(1) arithmetic rather than a search.
func (p *Producer) indexOfLocked(seq uint64) (int, bool) {
	if len(p.elements) == 0 {
		return 0, false
	}
	front := p.elements[0].seq
	back := p.elements[len(p.elements)-1].seq
	if seq < front || seq > back {
		return 0, false
	}
	return int(seq - front), true
}

// purgeFrontLocked pops every fully-seen element from the front of the
// queue and returns them for destructor invocation outside the lock.
func (p *Producer) purgeFrontLocked() []*element {
	var purged []*element
	for len(p.elements) > 0 && p.elements[0].seenByCount <= 0 {
		purged = append(purged, p.elements[0])
		p.elements = p.elements[1:]
	}
	return purged
}

func (p *Producer) runDestructors(elems []*element) {
	if p.destructor == nil {
		return
	}
	for _, e := range elems {
		p.destructor(e.payload)
	}
}

// Consumer reads from a Producer at its own pace. Positions are
// monotonically non-decreasing; a Consumer never rewinds.
type Consumer struct {
	producer *Producer
	position uint64
	userCtx  interface{}
	freed    bool
}

// NewConsumer attaches a fresh Consumer to p. Its position starts at
// the Producer's current sequence counter, so it observes only
// elements put after attachment.
func NewConsumer(p *Producer, userCtx interface{}) *Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := &Consumer{producer: p, position: p.nextSeq, userCtx: userCtx}
	p.consumers[c] = struct{}{}
	return c
}

// UserCtx returns the opaque context supplied to NewConsumer.
func (c *Consumer) UserCtx() interface{} { return c.userCtx }

// Get returns the payload at the consumer's current position without
// advancing. ok is false when nothing is available yet; the caller
// should consult Closed to tell a genuine end-of-stream from "not
// produced yet".
func (c *Consumer) Get() (payload interface{}, ok bool) {
	p := c.producer
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.freed {
		return nil, false
	}
	idx, found := p.indexOfLocked(c.position)
	if !found {
		return nil, false
	}
	return p.elements[idx].payload, true
}

// GetWait blocks until an element is available at the consumer's
// position, the producer reaches EOF, or ctx is done.
func (c *Consumer) GetWait(ctx context.Context) (payload interface{}, ok bool) {
	p := c.producer

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.mu.Lock()
			p.cond.Broadcast()
			p.mu.Unlock()
		case <-done:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if c.freed {
			return nil, false
		}
		if idx, found := p.indexOfLocked(c.position); found {
			return p.elements[idx].payload, true
		}
		if p.closed {
			return nil, false
		}
		if ctx.Err() != nil {
			return nil, false
		}
		p.cond.Wait()
	}
}

// Move advances the consumer past its current element, decrementing
// that element's seen-by count. Elements whose seen-by count reaches
// zero are released in order from the front of the queue, along with
// any older elements that were already fully seen. It returns true if
// a next element is already available.
func (c *Consumer) Move() bool {
	p := c.producer
	p.mu.Lock()

	if c.freed {
		p.mu.Unlock()
		return false
	}

	if idx, found := p.indexOfLocked(c.position); found {
		p.elements[idx].seenByCount--
		c.position++
	}

	purged := p.purgeFrontLocked()
	_, next := p.indexOfLocked(c.position)
	p.mu.Unlock()

	p.runDestructors(purged)
	return next
}

// Unseen returns the number of elements at positions >= the consumer's
// current position that the producer still holds.
func (c *Consumer) Unseen() int {
	p := c.producer
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.elements) == 0 {
		return 0
	}
	front := p.elements[0].seq
	back := p.elements[len(p.elements)-1].seq
	if c.position > back {
		return 0
	}
	if c.position <= front {
		return len(p.elements)
	}
	return int(back-c.position) + 1
}

// Closed reports whether the consumer has reached end-of-stream: the
// producer is closed and no element remains at or after its position.
func (c *Consumer) Closed() bool {
	p := c.producer
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.freed {
		return true
	}
	if !p.closed {
		return false
	}
	_, found := p.indexOfLocked(c.position)
	return !found
}

// Free detaches the consumer, behaving as if it advanced past every
// remaining element so that fully-seen elements can be released, then
// decrements the producer's consumer count. It is safe to call Free
// more than once.
func (c *Consumer) Free() {
	p := c.producer
	p.mu.Lock()

	if c.freed {
		p.mu.Unlock()
		return
	}
	c.freed = true

	for _, e := range p.elements {
		if e.seq >= c.position {
			e.seenByCount--
		}
	}
	c.position = p.nextSeq
	delete(p.consumers, c)

	purged := p.purgeFrontLocked()
	p.cond.Broadcast()
	p.mu.Unlock()

	p.runDestructors(purged)
}
