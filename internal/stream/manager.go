package stream

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/ksred/klear-gateway/internal/apierror"
	"github.com/ksred/klear-gateway/internal/metrics"
)

const (
	defaultChannel        = "ticker"
	defaultWriteTimeout   = 5 * time.Second
	defaultRecentMessages = 100
	maxClosedRetained     = 100
)

var supportedChannels = map[string]bool{
	"ticker":        true,
	"ticker_batch":  true,
	"level2":        true,
	"market_trades": true,
	"candles":       true,
}

var errManagerClosed = apierror.New(apierror.UpstreamUnavailable, "stream manager is shut down")

// TokenSource mints the token sent with each subscribe frame
type TokenSource interface {
	StreamToken() (string, error)
}

// Config configures a Manager. Zero values mean: ticker channel, no
// subscription limit, no read timeout and no heartbeats.
type Config struct {
	URL              string
	Tokens           TokenSource
	DefaultChannel   string
	MaxSubscriptions int
	RecentMessages   int
	Heartbeats       bool
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// Tap receives the messages of every subscription in addition to its own sinks
	Tap Sink
}

// Request names the products and channel of a subscription
type Request struct {
	ProductIDs []string
	Channel    string
}

// Manager owns every streaming subscription of the process. Each
// subscription has its own connection and reader goroutine.
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer
	flight singleflight.Group

	mu        sync.Mutex
	subs      map[string]*Subscription
	open      map[string]*Subscription
	closedIDs []string
	pending   int
	closed    bool
}

// NewManager creates a manager with cfg, filling unset fields with defaults
func NewManager(cfg Config) *Manager {
	if cfg.DefaultChannel == "" {
		cfg.DefaultChannel = defaultChannel
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.RecentMessages == 0 {
		cfg.RecentMessages = defaultRecentMessages
	}
	return &Manager{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		subs: make(map[string]*Subscription),
		open: make(map[string]*Subscription),
	}
}

// Subscribe opens a subscription, or joins the open one for the same
// channel and product set, and returns once the subscribe frame is sent.
// Each call holds the subscription until a matching Close(id).
// Messages reach sink from a background goroutine; sink may be nil.
func (m *Manager) Subscribe(ctx context.Context, req Request, sink Sink) (*Subscription, error) {
	products, channel, err := m.normalize(req)
	if err != nil {
		return nil, err
	}
	key := channel + ":" + strings.Join(products, ",")

	ran := false
	v, err, _ := m.flight.Do(key, func() (interface{}, error) {
		ran = true
		return m.openSubscription(ctx, key, products, channel, sink)
	})
	if err != nil {
		return nil, apierror.Translate(err)
	}

	sub := v.(*Subscription)
	if !ran && !sub.join(sink) {
		// closed between being opened and joined
		return m.Subscribe(ctx, req, sink)
	}
	return sub, nil
}

func (m *Manager) normalize(req Request) ([]string, string, error) {
	channel := strings.TrimSpace(req.Channel)
	if channel == "" {
		channel = m.cfg.DefaultChannel
	}
	if !supportedChannels[channel] {
		return nil, "", apierror.Invalid("unsupported channel %q", channel)
	}

	seen := make(map[string]bool, len(req.ProductIDs))
	products := make([]string, 0, len(req.ProductIDs))
	for _, id := range req.ProductIDs {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" {
			return nil, "", apierror.Invalid("product ids must not be empty")
		}
		if !seen[id] {
			seen[id] = true
			products = append(products, id)
		}
	}
	if len(products) == 0 {
		return nil, "", apierror.Invalid("at least one product_id is required")
	}
	sort.Strings(products)
	return products, channel, nil
}

func (m *Manager) openSubscription(ctx context.Context, key string, products []string, channel string, sink Sink) (*Subscription, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errManagerClosed
	}
	if existing, ok := m.open[key]; ok && existing.join(sink) {
		m.mu.Unlock()
		return existing, nil
	}
	if limit := m.cfg.MaxSubscriptions; limit > 0 && len(m.open)+m.pending >= limit {
		m.mu.Unlock()
		return nil, apierror.Invalid("subscription limit of %d reached", limit)
	}
	m.pending++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.pending--
		m.mu.Unlock()
	}()

	conn, resp, err := m.dialer.DialContext(ctx, m.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", m.cfg.URL)
	}

	sub := newSubscription(m, conn, key, products, channel)
	sub.attach(sink)
	if err := sub.subscribe(); err != nil {
		conn.Close()
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return nil, errManagerClosed
	}
	m.subs[sub.id] = sub
	m.open[key] = sub
	m.mu.Unlock()

	metrics.OpenSubscriptions.Inc()
	go sub.read()

	log.Info().
		Str("component", "stream").
		Str("subscription_id", sub.id).
		Str("channel", channel).
		Strs("product_ids", products).
		Msg("subscription opened")
	return sub, nil
}

// detach stops new callers from joining sub. It runs before any close I/O.
func (m *Manager) detach(sub *Subscription) {
	m.mu.Lock()
	if m.open[sub.key] == sub {
		delete(m.open, sub.key)
	}
	m.mu.Unlock()
}

// release records a closed subscription. Closed subscriptions stay visible
// for inspection until pruned.
func (m *Manager) release(sub *Subscription) {
	m.mu.Lock()
	m.closedIDs = append(m.closedIDs, sub.id)
	for len(m.closedIDs) > maxClosedRetained {
		delete(m.subs, m.closedIDs[0])
		m.closedIDs = m.closedIDs[1:]
	}
	m.mu.Unlock()

	metrics.OpenSubscriptions.Dec()
}

// Get returns the subscription with id, open or recently closed
func (m *Manager) Get(id string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	return sub, ok
}

// List returns all known subscriptions, oldest first
func (m *Manager) List() []*Subscription {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].createdAt.Before(subs[j].createdAt) })
	return subs
}

// Close drops one holder of the subscription with id and closes the
// connection when the last holder leaves. Closing an already closed
// subscription is a no-op.
func (m *Manager) Close(id string) error {
	sub, ok := m.Get(id)
	if !ok {
		return apierror.New(apierror.NotFound, "subscription %s not found", id)
	}
	if sub.leave() {
		sub.Close()
	}
	return nil
}

// Shutdown closes every open subscription and rejects new ones
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	open := make([]*Subscription, 0, len(m.open))
	for _, sub := range m.open {
		open = append(open, sub)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range open {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			sub.Close()
		}(sub)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Str("component", "stream").Int("closed", len(open)).Msg("stream manager shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
