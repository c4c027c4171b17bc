package stream

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Sink receives the messages of a subscription. Deliver is called from the
// subscription's reader goroutine and must not block; it must not call
// Close on the subscription it is attached to.
type Sink interface {
	Deliver(msg Message)
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(msg Message)

// Deliver calls f
func (f SinkFunc) Deliver(msg Message) {
	f(msg)
}

// MultiSink fans every message out to each of its sinks in order
type MultiSink []Sink

// Deliver hands msg to every sink in order
func (m MultiSink) Deliver(msg Message) {
	for _, s := range m {
		if s != nil {
			s.Deliver(msg)
		}
	}
}

// ChanSink is a bounded queue. Messages that do not fit are dropped and counted.
type ChanSink struct {
	ch      chan Message
	dropped atomic.Int64
}

// NewChanSink creates a sink buffering up to size messages
func NewChanSink(size int) *ChanSink {
	if size <= 0 {
		size = 1
	}
	return &ChanSink{ch: make(chan Message, size)}
}

// Deliver enqueues msg, dropping it when the buffer is full
func (s *ChanSink) Deliver(msg Message) {
	select {
	case s.ch <- msg:
	default:
		s.dropped.Add(1)
	}
}

// C returns the receive side of the queue
func (s *ChanSink) C() <-chan Message {
	return s.ch
}

// Dropped is the number of messages discarded because the queue was full
func (s *ChanSink) Dropped() int64 {
	return s.dropped.Load()
}

// RingSink keeps the last N messages
type RingSink struct {
	mu   sync.Mutex
	buf  []Message
	next int
	full bool
}

// NewRingSink creates a sink keeping the last size messages
func NewRingSink(size int) *RingSink {
	if size < 0 {
		size = 0
	}
	return &RingSink{buf: make([]Message, size)}
}

// Deliver records msg, evicting the oldest when full
func (r *RingSink) Deliver(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = msg
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// Messages returns the retained messages, oldest first
func (r *RingSink) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Message(nil), r.buf[:r.next]...)
	}
	out := make([]Message, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// LogSink writes each message to a zerolog logger at debug level
type LogSink struct {
	Logger zerolog.Logger
}

// Deliver logs msg at debug level
func (s LogSink) Deliver(msg Message) {
	event := s.Logger.Debug().
		Str("channel", msg.Channel).
		Str("product_id", msg.ProductID).
		Int64("sequence_num", msg.Sequence)
	if msg.Ticker != nil {
		event = event.
			Str("price", msg.Ticker.Price).
			Str("best_bid", msg.Ticker.BestBid).
			Str("best_ask", msg.Ticker.BestAsk)
	}
	event.Msg("stream message")
}
