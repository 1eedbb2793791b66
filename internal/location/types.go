// Package location multiplexes a single platform location feed to many listeners.
package location

import (
	"time"

	"github.com/paulmach/orb"
)

// Provider names a platform location source.
type Provider string

const (
	ProviderGPS     Provider = "gps"
	ProviderNetwork Provider = "network"
)

// Fix is a single location report. Point is (lon, lat) in degrees.
type Fix struct {
	Provider Provider  `json:"provider"`
	Point    orb.Point `json:"point"`
	Altitude float64   `json:"altitude,omitempty"` // meters
	Accuracy float64   `json:"accuracy,omitempty"` // meters
	Speed    float64   `json:"speed,omitempty"`    // m/s
	Bearing  float64   `json:"bearing,omitempty"`  // degrees true
	Time     time.Time `json:"time"`
}

func (f Fix) Lon() float64 { return f.Point.Lon() }
func (f Fix) Lat() float64 { return f.Point.Lat() }

// Status is a receiver status event code.
type Status int

const (
	StatusStarted         Status = 1
	StatusStopped         Status = 2
	StatusFirstFix        Status = 3
	StatusSatelliteStatus Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusStarted:
		return "started"
	case StatusStopped:
		return "stopped"
	case StatusFirstFix:
		return "first_fix"
	case StatusSatelliteStatus:
		return "satellite_status"
	}
	return "unknown"
}

// Listener receives fan-out from a Hub. Implementations must be comparable
// (pointer types in practice); the hub uses == to reject duplicates and
// AddListener returns ErrNotComparable for other types.
type Listener interface {
	OnLocationChanged(f Fix)
	OnStatusChanged(s Status)
}

// ListenerFuncs adapts plain functions to Listener. Use it by pointer.
type ListenerFuncs struct {
	Location func(Fix)
	Status   func(Status)
}

func (l *ListenerFuncs) OnLocationChanged(f Fix) {
	if l.Location != nil {
		l.Location(f)
	}
}

func (l *ListenerFuncs) OnStatusChanged(s Status) {
	if l.Status != nil {
		l.Status(s)
	}
}

// LocationSink receives raw fixes from a Feed.
type LocationSink interface {
	OnLocation(f Fix)
}

// StatusSink receives raw status events from a Feed.
type StatusSink interface {
	OnStatus(s Status)
}

// Feed is the platform location service. Sinks are called on whatever
// goroutine the feed delivers on.
type Feed interface {
	RequestLocationUpdates(p Provider, minTime time.Duration, minDistance float64, s LocationSink) error
	RemoveUpdates(s LocationSink) error
	AddStatusListener(s StatusSink) error
	RemoveStatusListener(s StatusSink) error
}
