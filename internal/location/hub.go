package location

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"github.com/joeblew999/plat-map/internal/logger"
	"github.com/joeblew999/plat-map/internal/metrics"
)

var (
	ErrNilListener   = errors.New("location: nil listener")
	ErrNotComparable = errors.New("location: listener type is not comparable")
)

// Hub holds one subscription to a Feed and fans every event out to its
// listeners in registration order. The feed subscription is active exactly
// while at least one listener is registered.
type Hub struct {
	feed Feed
	log  *slog.Logger

	// subMu serializes registration changes together with the feed calls they trigger.
	subMu sync.Mutex

	mu sync.RWMutex
	// listeners is replaced, never modified in place, so delivery can iterate
	// a snapshot without holding the lock.
	listeners []Listener

	loc    *locationSink
	status *statusSink
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.log = l
		}
	}
}

// NewHub creates a hub over feed. Nothing is subscribed until the first listener.
func NewHub(feed Feed, opts ...Option) *Hub {
	h := &Hub{feed: feed, log: logger.L()}
	h.loc = &locationSink{h: h}
	h.status = &statusSink{h: h}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AddListener registers l. Registering a listener twice is a no-op. Adding the
// first listener subscribes to the GPS and network providers with no time or
// distance filter, and to status events. If that fails, l is not registered.
func (h *Hub) AddListener(l Listener) error {
	if err := checkListener(l); err != nil {
		return err
	}
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	if slices.Contains(h.listeners, l) {
		h.mu.Unlock()
		return nil
	}
	next := make([]Listener, len(h.listeners), len(h.listeners)+1)
	copy(next, h.listeners)
	next = append(next, l)
	h.listeners = next
	h.mu.Unlock()

	metrics.LocationListeners.Set(float64(len(next)))
	h.log.Debug("location_listener_added", "count", len(next))

	if len(next) == 1 {
		if err := h.subscribe(); err != nil {
			h.mu.Lock()
			h.listeners = nil
			h.mu.Unlock()
			metrics.LocationListeners.Set(0)
			return err
		}
	}
	return nil
}

// RemoveListener unregisters l if present. Removing the last listener
// unsubscribes from the feed.
func (h *Hub) RemoveListener(l Listener) error {
	if checkListener(l) != nil {
		return nil
	}
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	i := slices.Index(h.listeners, l)
	if i < 0 {
		h.mu.Unlock()
		return nil
	}
	next := make([]Listener, 0, len(h.listeners)-1)
	next = append(next, h.listeners[:i]...)
	next = append(next, h.listeners[i+1:]...)
	h.listeners = next
	h.mu.Unlock()

	metrics.LocationListeners.Set(float64(len(next)))
	h.log.Debug("location_listener_removed", "count", len(next))

	if len(next) == 0 {
		return h.unsubscribe()
	}
	return nil
}

// checkListener rejects listeners the hub cannot compare with ==.
func checkListener(l Listener) error {
	if l == nil {
		return ErrNilListener
	}
	if t := reflect.TypeOf(l); !t.Comparable() {
		return fmt.Errorf("%w: %s", ErrNotComparable, t)
	}
	return nil
}

// Len returns the number of registered listeners.
func (h *Hub) Len() int {
	return len(h.snapshot())
}

// Close removes every listener and drops the feed subscription if it is active.
func (h *Hub) Close() error {
	h.subMu.Lock()
	defer h.subMu.Unlock()

	h.mu.Lock()
	had := len(h.listeners)
	h.listeners = nil
	h.mu.Unlock()

	metrics.LocationListeners.Set(0)
	if had == 0 {
		return nil
	}
	return h.unsubscribe()
}

func (h *Hub) subscribe() error {
	for _, p := range []Provider{ProviderGPS, ProviderNetwork} {
		if err := h.feed.RequestLocationUpdates(p, 0, 0, h.loc); err != nil {
			h.feed.RemoveUpdates(h.loc)
			return fmt.Errorf("subscribing to %s updates: %w", p, err)
		}
	}
	if err := h.feed.AddStatusListener(h.status); err != nil {
		h.feed.RemoveUpdates(h.loc)
		return fmt.Errorf("subscribing to status events: %w", err)
	}
	metrics.LocationSubscriptionsTotal.WithLabelValues("subscribe").Inc()
	h.log.Info("location_feed_subscribed")
	return nil
}

func (h *Hub) unsubscribe() error {
	err := errors.Join(
		h.feed.RemoveUpdates(h.loc),
		h.feed.RemoveStatusListener(h.status),
	)
	metrics.LocationSubscriptionsTotal.WithLabelValues("unsubscribe").Inc()
	if err != nil {
		h.log.Warn("location_feed_unsubscribe_error", "err", err)
		return fmt.Errorf("unsubscribing from location feed: %w", err)
	}
	h.log.Info("location_feed_unsubscribed")
	return nil
}

func (h *Hub) snapshot() []Listener {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listeners
}

type locationSink struct{ h *Hub }

func (s *locationSink) OnLocation(f Fix) {
	metrics.LocationFixesTotal.WithLabelValues(string(f.Provider)).Inc()
	for _, l := range s.h.snapshot() {
		l.OnLocationChanged(f)
	}
}

type statusSink struct{ h *Hub }

func (s *statusSink) OnStatus(st Status) {
	metrics.LocationStatusEventsTotal.Inc()
	for _, l := range s.h.snapshot() {
		l.OnStatusChanged(st)
	}
}
