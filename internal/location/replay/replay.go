// Package replay provides a location.Feed that plays back a recorded track.
//
// Points come from a GeoJSON file (Point, MultiPoint, LineString and
// MultiLineString geometries, in feature order). Fixes are delivered to GPS
// subscribers from the feed's own goroutine at a fixed interval; network
// subscribers get nothing. Playback starts with the first location
// subscription and stops when the last one is removed.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-map/internal/location"
	"github.com/joeblew999/plat-map/internal/logger"
)

// Feed replays a fixed list of points.
type Feed struct {
	points   []orb.Point
	interval time.Duration
	loop     bool
	accuracy float64
	now      func() time.Time
	log      *slog.Logger

	mu     sync.Mutex
	sinks  map[location.LocationSink]map[location.Provider]bool
	status []location.StatusSink
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Feed.
type Option func(*Feed)

// WithInterval sets the delay between fixes. Default is one second; values
// that are not positive keep the default.
func WithInterval(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithLoop restarts the track after the last point.
func WithLoop(loop bool) Option {
	return func(f *Feed) { f.loop = loop }
}

// WithAccuracy sets the accuracy reported on every fix, in meters.
func WithAccuracy(m float64) Option {
	return func(f *Feed) { f.accuracy = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.log = l
		}
	}
}

// New creates a feed over points, given as (lon, lat).
func New(points []orb.Point, opts ...Option) *Feed {
	f := &Feed{
		points:   points,
		interval: time.Second,
		accuracy: 5,
		now:      time.Now,
		log:      logger.L(),
		sinks:    make(map[location.LocationSink]map[location.Provider]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FromGeoJSON parses a FeatureCollection into a feed.
func FromGeoJSON(data []byte, opts ...Option) (*Feed, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}
	var points []orb.Point
	for _, feat := range fc.Features {
		points = appendPoints(points, feat.Geometry)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("geojson track has no points")
	}
	return New(points, opts...), nil
}

// Load reads a GeoJSON track from disk.
func Load(path string, opts ...Option) (*Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading track: %w", err)
	}
	return FromGeoJSON(data, opts...)
}

func appendPoints(dst []orb.Point, g orb.Geometry) []orb.Point {
	switch g := g.(type) {
	case orb.Point:
		return append(dst, g)
	case orb.MultiPoint:
		return append(dst, g...)
	case orb.LineString:
		return append(dst, g...)
	case orb.MultiLineString:
		for _, ls := range g {
			dst = append(dst, ls...)
		}
	}
	return dst
}

// Points returns the number of points in the track.
func (f *Feed) Points() int { return len(f.points) }

func (f *Feed) RequestLocationUpdates(p location.Provider, minTime time.Duration, minDistance float64, s location.LocationSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	providers, ok := f.sinks[s]
	if !ok {
		providers = make(map[location.Provider]bool)
		f.sinks[s] = providers
	}
	providers[p] = true
	if f.cancel == nil {
		f.startLocked()
	}
	return nil
}

func (f *Feed) RemoveUpdates(s location.LocationSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.sinks, s)
	if len(f.sinks) == 0 && f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return nil
}

func (f *Feed) AddStatusListener(s location.StatusSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.status {
		if existing == s {
			return nil
		}
	}
	f.status = append(f.status, s)
	return nil
}

func (f *Feed) RemoveStatusListener(s location.StatusSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.status {
		if existing == s {
			f.status = append(f.status[:i:i], f.status[i+1:]...)
			break
		}
	}
	return nil
}

// Close stops playback and waits for the delivery goroutine to exit.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	done := f.done
	f.mu.Unlock()

	if done != nil {
		<-done
	}
	return nil
}

func (f *Feed) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	done := make(chan struct{})
	f.done = done
	go func() {
		defer close(done)
		f.run(ctx)

		// A finished, non-looping replay can be started again by the next request.
		f.mu.Lock()
		if f.done == done && f.cancel != nil {
			f.cancel()
			f.cancel = nil
		}
		f.mu.Unlock()
	}()
}

func (f *Feed) run(ctx context.Context) {
	f.log.Info("replay_started", "points", len(f.points), "interval", f.interval)
	defer f.emitStatus(location.StatusStopped)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	first := true
	var prev orb.Point
	for i := 0; ; i++ {
		if i == len(f.points) {
			if !f.loop || len(f.points) == 0 {
				f.log.Info("replay_finished")
				return
			}
			i = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if first {
			f.emitStatus(location.StatusStarted)
		}
		fix := location.Fix{
			Provider: location.ProviderGPS,
			Point:    f.points[i],
			Accuracy: f.accuracy,
			Time:     f.now(),
		}
		if !first {
			fix.Speed = geo.Distance(prev, fix.Point) / f.interval.Seconds()
			fix.Bearing = geo.Bearing(prev, fix.Point)
		}
		prev = fix.Point

		if !f.deliver(ctx, fix) {
			return
		}
		if first {
			first = false
			f.emitStatus(location.StatusFirstFix)
		}
	}
}

func (f *Feed) deliver(ctx context.Context, fix location.Fix) bool {
	f.mu.Lock()
	targets := make([]location.LocationSink, 0, len(f.sinks))
	for s, providers := range f.sinks {
		if providers[location.ProviderGPS] {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		if ctx.Err() != nil {
			return false
		}
		s.OnLocation(fix)
	}
	return true
}

func (f *Feed) emitStatus(st location.Status) {
	f.mu.Lock()
	targets := append([]location.StatusSink(nil), f.status...)
	f.mu.Unlock()
	for _, s := range targets {
		s.OnStatus(st)
	}
}

var _ location.Feed = (*Feed)(nil)
