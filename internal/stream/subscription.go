package stream

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ksred/klear-gateway/internal/apierror"
	"github.com/ksred/klear-gateway/internal/metrics"
)

// State is the lifecycle state of a subscription
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

type controlFrame struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids,omitempty"`
	Channel    string   `json:"channel"`
	JWT        string   `json:"jwt,omitempty"`
}

// Subscription is the handle to one streaming connection
type Subscription struct {
	id         string
	key        string
	channel    string
	products   []string
	productSet map[string]struct{}
	createdAt  time.Time

	manager *Manager
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	sinks   []Sink
	holders int
	state   State
	err     error
	recent  *RingSink

	delivered  atomic.Int64
	done       chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
}

func newSubscription(m *Manager, conn *websocket.Conn, key string, products []string, channel string) *Subscription {
	set := make(map[string]struct{}, len(products))
	for _, p := range products {
		set[p] = struct{}{}
	}
	return &Subscription{
		id:         uuid.NewString(),
		key:        key,
		channel:    channel,
		products:   products,
		productSet: set,
		createdAt:  time.Now().UTC(),
		manager:    m,
		conn:       conn,
		holders:    1,
		state:      StateOpen,
		recent:     NewRingSink(m.cfg.RecentMessages),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
}

// ID returns the subscription id
func (s *Subscription) ID() string {
	return s.id
}

// Channel returns the subscribed channel
func (s *Subscription) Channel() string {
	return s.channel
}

// Products returns a copy of the subscribed product ids
func (s *Subscription) Products() []string {
	return append([]string(nil), s.products...)
}

// State returns whether the subscription is open or closed
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the subscription is closed, by either side
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err is nil while open and after a caller initiated close. After a remote
// drop it is a StreamDisconnected error.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Recent returns the last messages delivered, oldest first
func (s *Subscription) Recent() []Message {
	return s.recent.Messages()
}

// Close unsubscribes and releases the connection for every holder. It is
// safe to call more than once and returns after the reader goroutine has exited.
func (s *Subscription) Close() {
	s.shutdown(nil)
	<-s.readerDone
}

func (s *Subscription) attach(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

// Holders reports how many Subscribe calls still hold the subscription
func (s *Subscription) Holders() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return 0
	}
	return s.holders
}

// join adds a holder and its sink. It fails once the subscription is closed.
func (s *Subscription) join(sink Sink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.holders++
	if sink != nil {
		s.sinks = append(s.sinks, sink)
	}
	return true
}

// leave drops a holder and reports whether it was the last one
func (s *Subscription) leave() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.holders--
	return s.holders <= 0
}

func (s *Subscription) subscribe() error {
	if err := s.writeControl("subscribe", s.products, s.channel); err != nil {
		return err
	}
	if s.manager.cfg.Heartbeats {
		return s.writeControl("subscribe", nil, channelHeartbeats)
	}
	return nil
}

func (s *Subscription) writeControl(kind string, products []string, channel string) error {
	f := controlFrame{Type: kind, ProductIDs: products, Channel: channel}
	if tokens := s.manager.cfg.Tokens; tokens != nil {
		token, err := tokens.StreamToken()
		if err != nil {
			return err
		}
		f.JWT = token
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.manager.cfg.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(f)
}

// shutdown closes the subscription exactly once. A nil cause means the
// caller asked for it.
func (s *Subscription) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.err = cause
		s.mu.Unlock()
		s.manager.detach(s)

		if cause == nil {
			if err := s.writeControl("unsubscribe", s.products, s.channel); err == nil {
				s.writeMu.Lock()
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(s.manager.cfg.WriteTimeout))
				s.writeMu.Unlock()
			}
		}
		s.conn.Close()
		s.manager.release(s)
		close(s.done)

		event := log.Info()
		if cause != nil {
			event = log.Warn().Err(cause)
		}
		event.
			Str("component", "stream").
			Str("subscription_id", s.id).
			Int64("delivered", s.delivered.Load()).
			Msg("subscription closed")
	})
}

func (s *Subscription) read() {
	defer close(s.readerDone)

	for {
		if timeout := s.manager.cfg.ReadTimeout; timeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.State() == StateClosed {
				return
			}
			s.shutdown(disconnected(err))
			return
		}

		msgs, err := decodeFrame(data)
		if err != nil {
			var remote *remoteError
			if errors.As(err, &remote) {
				s.shutdown(disconnected(err))
				return
			}
			log.Debug().Err(err).Str("subscription_id", s.id).Msg("skipping undecodable stream frame")
			continue
		}
		for _, msg := range msgs {
			if _, ok := s.productSet[msg.ProductID]; !ok {
				continue
			}
			s.deliver(msg)
		}
	}
}

func (s *Subscription) deliver(msg Message) {
	s.recent.Deliver(msg)

	s.mu.Lock()
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		sink.Deliver(msg)
	}
	if tap := s.manager.cfg.Tap; tap != nil {
		tap.Deliver(msg)
	}

	s.delivered.Add(1)
	metrics.StreamMessagesTotal.WithLabelValues(msg.Channel).Inc()
}

func disconnected(err error) error {
	return &apierror.Error{
		Kind:    apierror.StreamDisconnected,
		Message: "stream disconnected: " + err.Error(),
		Err:     err,
	}
}

// Info is a point in time view of a subscription
type Info struct {
	ID         string        `json:"subscription_id"`
	Channel    string        `json:"channel"`
	ProductIDs []string      `json:"product_ids"`
	State      State         `json:"state"`
	Error      string        `json:"error,omitempty"`
	ErrorKind  apierror.Kind `json:"error_kind,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	Holders    int           `json:"holders"`
	Delivered  int64         `json:"delivered"`
	Recent     []Message     `json:"recent_messages,omitempty"`
}

// Info snapshots the subscription, including recent messages when withRecent is set
func (s *Subscription) Info(withRecent bool) Info {
	info := Info{
		ID:         s.id,
		Channel:    s.channel,
		ProductIDs: s.Products(),
		State:      s.State(),
		CreatedAt:  s.createdAt,
		Holders:    s.Holders(),
		Delivered:  s.delivered.Load(),
	}
	if err := s.Err(); err != nil {
		info.Error = err.Error()
		info.ErrorKind = apierror.KindOf(err)
	}
	if withRecent {
		info.Recent = s.Recent()
	}
	return info
}
