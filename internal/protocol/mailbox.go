package protocol

import (
	"context"
	"errors"
	"sync"
)

// ErrMailboxClosed is returned once a mailbox has been closed and drained.
var ErrMailboxClosed = errors.New("mailbox closed")

// Envelope carries a message and, for requests, the channel the answer goes
// to. Reply is buffered so the receiver never blocks answering.
type Envelope struct {
	Message Message
	Reply   chan Response
}

// Respond answers the envelope if the sender asked for a reply.
func (e Envelope) Respond(r Response) {
	if e.Reply != nil {
		e.Reply <- r
	}
}

// Mailbox is an unbounded FIFO queue. Post never blocks, so contexts can send
// to each other without deadlocking; messages from one sender are received in
// the order posted.
type Mailbox struct {
	mu     sync.Mutex
	queue  []Envelope
	signal chan struct{}
	closed bool
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{signal: make(chan struct{}, 1)}
}

// Post enqueues env. It reports false if the mailbox is closed.
func (m *Mailbox) Post(env Envelope) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, env)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// Send posts a message that expects no reply.
func (m *Mailbox) Send(msg Message) bool {
	return m.Post(Envelope{Message: msg})
}

// Receive blocks until an envelope is available, the mailbox is closed and
// empty, or ctx is done.
func (m *Mailbox) Receive(ctx context.Context) (Envelope, error) {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			env := m.queue[0]
			m.queue[0] = Envelope{}
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return env, nil
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return Envelope{}, ErrMailboxClosed
		}

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-m.signal:
		}
	}
}

// Close stops accepting posts. Queued envelopes can still be received.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of queued envelopes.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Request posts msg and waits for the answer.
func Request(ctx context.Context, mb *Mailbox, msg Message) (Response, error) {
	reply := make(chan Response, 1)
	if !mb.Post(Envelope{Message: msg, Reply: reply}) {
		return Response{}, ErrMailboxClosed
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
