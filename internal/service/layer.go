package service

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/joeblew999/plat-map/internal/layer"
	"github.com/joeblew999/plat-map/internal/logger"
)

var (
	ErrLayerNotFound = errors.New("layer not found")
	ErrInvalidLayer  = errors.New("invalid layer")
)

// LayerService manages the layer tree rooted at <dataDir>/map.
type LayerService struct {
	root *layer.Group
	bus  *EventBus
	log  *slog.Logger
}

// NewLayerService loads the root group, creating it on first use.
// Change events from the root are published on bus, which may be nil.
func NewLayerService(dataDir string, bus *EventBus) (*LayerService, error) {
	log := logger.L()
	root := layer.NewGroup(filepath.Join(dataDir, "map"), layer.WithName("map"), layer.WithLogger(log))
	err := root.Load()
	switch {
	case errors.Is(err, layer.ErrNotFound):
		if err := root.Save(); err != nil {
			return nil, fmt.Errorf("creating layer root: %w", err)
		}
		log.Info("layer_root_created", "path", root.Path())
	case err != nil:
		return nil, fmt.Errorf("loading layer root: %w", err)
	}

	s := &LayerService{root: root, bus: bus, log: log}
	root.Observe(s.publish)
	return s, nil
}

// Root returns the top-level group.
func (s *LayerService) Root() *layer.Group { return s.root }

func (s *LayerService) publish(ev layer.ChangeEvent) {
	s.log.Info("layer_event", "action", string(ev.Kind), "group", ev.GroupID, "id", ev.ID, "name", ev.Name)
	if s.bus == nil {
		return
	}
	s.bus.Publish(Event{
		Resource: "layers",
		Action:   string(ev.Kind),
		GroupID:  ev.GroupID,
		ID:       ev.ID,
		Name:     ev.Name,
	})
}

// List returns the top-level layers in draw order.
func (s *LayerService) List() []LayerInfo {
	children := s.root.Children()
	out := make([]LayerInfo, 0, len(children))
	for _, c := range children {
		out = append(out, Info(c))
	}
	return out
}

// Get returns one top-level layer.
func (s *LayerService) Get(id int) (LayerInfo, error) {
	n, err := s.node(id)
	if err != nil {
		return LayerInfo{}, err
	}
	return Info(n), nil
}

// Create adds a top-level layer and persists it.
func (s *LayerService) Create(in LayerCreate) (LayerInfo, error) {
	typ := layer.TypeLocalVector
	if in.Type != "" {
		t, ok := layer.ParseType(in.Type)
		if !ok {
			return LayerInfo{}, fmt.Errorf("%w: unknown type %q", ErrInvalidLayer, in.Type)
		}
		typ = t
	}
	n, err := s.root.CreateLayer(in.Name, typ)
	if err != nil {
		return LayerInfo{}, err
	}
	return Info(n), nil
}

// Update applies p. Zoom changes are saved here because the zoom setters do
// not notify the group; name and visibility changes are saved by the group.
func (s *LayerService) Update(id int, p LayerPatch) (LayerInfo, error) {
	n, err := s.node(id)
	if err != nil {
		return LayerInfo{}, err
	}

	minZoom, maxZoom := n.MinZoom(), n.MaxZoom()
	if p.MinZoom != nil {
		minZoom = *p.MinZoom
	}
	if p.MaxZoom != nil {
		maxZoom = *p.MaxZoom
	}
	if minZoom > maxZoom {
		return LayerInfo{}, fmt.Errorf("%w: minZoom %v above maxZoom %v", ErrInvalidLayer, minZoom, maxZoom)
	}

	if p.MinZoom != nil || p.MaxZoom != nil {
		n.SetMinZoom(minZoom)
		n.SetMaxZoom(maxZoom)
		if p.Name == nil && p.Visible == nil {
			if err := n.Save(); err != nil {
				return LayerInfo{}, err
			}
			s.publish(layer.ChangeEvent{Kind: layer.Changed, GroupID: s.root.ID(), ID: n.ID(), Name: n.Name()})
		}
	}
	if p.Name != nil {
		n.SetName(*p.Name)
	}
	if p.Visible != nil {
		n.SetVisible(*p.Visible)
	}
	return Info(n), nil
}

// Delete removes a top-level layer and its files.
func (s *LayerService) Delete(id int) error {
	n, err := s.node(id)
	if err != nil {
		return err
	}
	return n.Delete()
}

func (s *LayerService) node(id int) (layer.Node, error) {
	n, ok := s.root.Child(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrLayerNotFound, id)
	}
	return n, nil
}

// Info converts a layer, and a group's children, to its API view.
func Info(n layer.Node) LayerInfo {
	info := LayerInfo{
		ID:      n.ID(),
		Name:    n.Name(),
		Type:    n.Type().String(),
		Visible: n.Visible(),
		MinZoom: n.MinZoom(),
		MaxZoom: n.MaxZoom(),
		Path:    n.Path(),
	}
	if b := n.Extents(); !b.IsEmpty() {
		info.Extent = []float64{b.Min.Lon(), b.Min.Lat(), b.Max.Lon(), b.Max.Lat()}
	}
	if g, ok := n.(*layer.Group); ok {
		for _, c := range g.Children() {
			info.Children = append(info.Children, Info(c))
		}
	}
	return info
}
