// Package layer implements the persistent, hierarchical unit of map content.
//
// A Layer owns a directory on disk holding its config.json, delegates drawing
// to an optional Renderer and reports changes to its parent. Parents are
// plain handles; what they can receive is discovered with type assertions
// against ChangeNotifiable and DrawProgressNotifiable. Group is the variant
// that owns child layers.
package layer

import (
	"math"

	"github.com/paulmach/orb"
)

// Zoom bounds used when a persisted config omits maxLevel/minLevel.
const (
	DefaultMaxZoom = 25
	DefaultMinZoom = 0
)

// ConfigFile is the fixed name of the configuration file inside a layer directory.
const ConfigFile = "config.json"

// Config document keys.
const (
	KeyName     = "name"
	KeyType     = "type"
	KeyMaxLevel = "maxLevel"
	KeyMinLevel = "minLevel"
	KeyVisible  = "visible"
	KeyLayers   = "layers"
	KeyPath     = "path"
	KeyID       = "id"
)

// Type identifies the concrete layer variant. It is persisted and restored verbatim.
type Type int

const (
	TypeUnknown      Type = 0
	TypeGroup        Type = 1 << 0
	TypeLocalTMS     Type = 1 << 1
	TypeRemoteTMS    Type = 1 << 2
	TypeLocalVector  Type = 1 << 3
	TypeRemoteVector Type = 1 << 4
	TypeTrack        Type = 1 << 5
)

func (t Type) String() string {
	switch t {
	case TypeGroup:
		return "group"
	case TypeLocalTMS:
		return "local_tms"
	case TypeRemoteTMS:
		return "remote_tms"
	case TypeLocalVector:
		return "local_vector"
	case TypeRemoteVector:
		return "remote_vector"
	case TypeTrack:
		return "track"
	}
	return "unknown"
}

// ParseType is the inverse of Type.String.
func ParseType(s string) (Type, bool) {
	for _, t := range []Type{TypeGroup, TypeLocalTMS, TypeRemoteTMS, TypeLocalVector, TypeRemoteVector, TypeTrack} {
		if t.String() == s {
			return t, true
		}
	}
	return TypeUnknown, false
}

// Display is the drawing surface handed to renderers.
type Display interface {
	Bound() orb.Bound
	Zoom() float64
}

// Renderer draws a layer onto a display. CancelDraw is a best-effort signal.
type Renderer interface {
	RunDraw(d Display)
	CancelDraw()
}

// Parent is the upward reference a layer holds. It does not own the layer.
type Parent interface {
	ID() int
}

// ChangeNotifiable is implemented by parents that track their children.
type ChangeNotifiable interface {
	OnLayerChanged(n Node)
	OnLayerDeleted(id int)
}

// DrawProgressNotifiable is implemented by parents that receive draw progress.
type DrawProgressNotifiable interface {
	OnDrawFinished(id int, percent float64)
}

// Persistable converts an entity to and from a Document and stores it on disk.
type Persistable interface {
	ToJSON() (Document, error)
	FromJSON(doc Document) error
	Save() error
	Load() error
}

// Node is the contract shared by every layer variant.
type Node interface {
	Parent
	Persistable
	Renderer
	DrawProgressNotifiable

	Name() string
	SetName(name string)
	Type() Type
	Visible() bool
	SetVisible(visible bool)
	MinZoom() float64
	SetMinZoom(z float64)
	MaxZoom() float64
	SetMaxZoom(z float64)
	Path() string
	Extents() orb.Bound
	Parent() Parent
	SetParent(p Parent)
	Delete() error
}

// EmptyExtent returns a bound that contains nothing. Extending it with any
// point yields a bound around that point.
func EmptyExtent() orb.Bound {
	return orb.Bound{
		Min: orb.Point{math.Inf(1), math.Inf(1)},
		Max: orb.Point{math.Inf(-1), math.Inf(-1)},
	}
}

// ChangeKind describes what happened to a child of a Group.
type ChangeKind string

const (
	Created ChangeKind = "created"
	Changed ChangeKind = "changed"
	Deleted ChangeKind = "deleted"
)

// ChangeEvent is reported to a Group observer.
type ChangeEvent struct {
	Kind    ChangeKind
	GroupID int
	ID      int
	Name    string
}
