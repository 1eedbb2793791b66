package layer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb"
)

// Factory builds an unloaded child of the given type.
type Factory func(path string, typ Type, opts ...Option) Node

// DefaultFactory builds groups for TypeGroup and base layers for everything else.
func DefaultFactory(path string, typ Type, opts ...Option) Node {
	if typ == TypeGroup {
		return NewGroup(path, opts...)
	}
	return New(path, append([]Option{WithType(typ)}, opts...)...)
}

// Group is a layer that owns an ordered list of children.
type Group struct {
	*Layer

	cmu      sync.RWMutex
	children []Node
	factory  Factory
	observer func(ChangeEvent)

	createMu sync.Mutex
}

// NewGroup creates a group stored under path.
func NewGroup(path string, opts ...Option) *Group {
	g := &Group{
		Layer:   New(path, append([]Option{WithType(TypeGroup)}, opts...)...),
		factory: DefaultFactory,
	}
	g.bind(g)
	return g
}

// SetFactory replaces the factory used by Load and CreateLayer.
func (g *Group) SetFactory(f Factory) {
	g.cmu.Lock()
	g.factory = f
	g.cmu.Unlock()
}

// Observe registers fn to receive child change events. Only one observer is kept.
func (g *Group) Observe(fn func(ChangeEvent)) {
	g.cmu.Lock()
	g.observer = fn
	g.cmu.Unlock()
}

// Children returns a snapshot in draw order.
func (g *Group) Children() []Node {
	g.cmu.RLock()
	defer g.cmu.RUnlock()
	out := make([]Node, len(g.children))
	copy(out, g.children)
	return out
}

// Child returns the child with the given id.
func (g *Group) Child(id int) (Node, bool) {
	g.cmu.RLock()
	defer g.cmu.RUnlock()
	for _, c := range g.children {
		if c.ID() == id {
			return c, true
		}
	}
	return nil, false
}

// NextID returns one more than the largest child id.
func (g *Group) NextID() int {
	g.cmu.RLock()
	defer g.cmu.RUnlock()
	next := 0
	for _, c := range g.children {
		if c.ID() >= next {
			next = c.ID() + 1
		}
	}
	return next
}

// Add appends n and makes the group its parent.
func (g *Group) Add(n Node) error {
	g.cmu.Lock()
	for _, c := range g.children {
		if c.ID() == n.ID() {
			g.cmu.Unlock()
			return fmt.Errorf("%w: %d", ErrDuplicateID, n.ID())
		}
	}
	g.children = append(g.children, n)
	g.cmu.Unlock()

	n.SetParent(g)
	return nil
}

// Remove detaches the child without touching its files.
func (g *Group) Remove(id int) (Node, bool) {
	g.cmu.Lock()
	var removed Node
	for i, c := range g.children {
		if c.ID() == id {
			removed = c
			g.children = append(g.children[:i:i], g.children[i+1:]...)
			break
		}
	}
	g.cmu.Unlock()

	if removed == nil {
		return nil, false
	}
	if removed.Parent() == Parent(g) {
		removed.SetParent(nil)
	}
	return removed, true
}

// CreateLayer makes a new child directory, saves the child and the group.
func (g *Group) CreateLayer(name string, typ Type) (Node, error) {
	g.createMu.Lock()
	defer g.createMu.Unlock()

	if err := os.MkdirAll(g.Path(), 0755); err != nil {
		return nil, fmt.Errorf("creating group directory: %w", err)
	}
	dir, err := os.MkdirTemp(g.Path(), "layer_")
	if err != nil {
		return nil, fmt.Errorf("creating layer directory: %w", err)
	}

	g.cmu.RLock()
	factory := g.factory
	g.cmu.RUnlock()

	n := factory(dir, typ, WithID(g.NextID()), WithName(name), WithLogger(g.log))
	if err := n.Save(); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := g.Add(n); err != nil {
		os.RemoveAll(dir)
		return nil, err
	}
	if err := g.Save(); err != nil {
		return nil, err
	}
	g.report(ChangeEvent{Kind: Created, ID: n.ID(), Name: n.Name()})
	return n, nil
}

// OnLayerChanged persists the child, reports it and passes the change upward.
func (g *Group) OnLayerChanged(n Node) {
	if err := n.Save(); err != nil {
		g.log.Error("layer_save_error", "group", g.ID(), "id", n.ID(), "err", err)
	}
	g.report(ChangeEvent{Kind: Changed, ID: n.ID(), Name: n.Name()})
	g.notifyChanged(g.Parent())
}

// OnLayerDeleted drops the child, persists the group and passes the change upward.
func (g *Group) OnLayerDeleted(id int) {
	n, ok := g.Remove(id)
	if !ok {
		return
	}
	if err := g.Save(); err != nil && !errors.Is(err, ErrDeleted) {
		g.log.Error("group_save_error", "group", g.ID(), "err", err)
	}
	g.report(ChangeEvent{Kind: Deleted, ID: id, Name: n.Name()})
	g.notifyChanged(g.Parent())
}

func (g *Group) report(ev ChangeEvent) {
	g.cmu.RLock()
	fn := g.observer
	g.cmu.RUnlock()
	if fn != nil {
		ev.GroupID = g.ID()
		fn(ev)
	}
}

// RunDraw draws visible children whose zoom range contains the display zoom.
func (g *Group) RunDraw(d Display) {
	if g.Deleted() {
		return
	}
	zoom := d.Zoom()
	for _, c := range g.Children() {
		if !c.Visible() || zoom < c.MinZoom() || zoom > c.MaxZoom() {
			continue
		}
		c.RunDraw(d)
	}
}

func (g *Group) CancelDraw() {
	for _, c := range g.Children() {
		c.CancelDraw()
	}
}

// Extents is the union of the children's extents.
func (g *Group) Extents() orb.Bound {
	ext := EmptyExtent()
	for _, c := range g.Children() {
		b := c.Extents()
		if b.IsEmpty() {
			continue
		}
		if ext.IsEmpty() {
			ext = b
		} else {
			ext = ext.Union(b)
		}
	}
	return ext
}

// ToJSON adds the child directory list to the base document.
func (g *Group) ToJSON() (Document, error) {
	doc, err := g.Layer.ToJSON()
	if err != nil {
		return nil, err
	}
	children := g.Children()
	refs := make([]any, 0, len(children))
	for _, c := range children {
		rel, err := filepath.Rel(g.Path(), c.Path())
		if err != nil {
			return nil, fmt.Errorf("child %d: %w", c.ID(), err)
		}
		refs = append(refs, map[string]any{KeyPath: filepath.ToSlash(rel), KeyID: c.ID()})
	}
	doc[KeyLayers] = refs
	return doc, nil
}

// FromJSON loads every referenced child before applying the group's own fields.
// Children whose directory is gone are skipped. A child keeps its stored id;
// references without one get the next free id.
func (g *Group) FromJSON(doc Document) error {
	refs, err := childRefs(doc)
	if err != nil {
		return err
	}
	if _, err := decodeConfig(doc); err != nil {
		return err
	}

	g.cmu.RLock()
	factory := g.factory
	g.cmu.RUnlock()

	next := 0
	for _, r := range refs {
		if r.hasID && r.id >= next {
			next = r.id + 1
		}
	}

	children := make([]Node, 0, len(refs))
	for _, r := range refs {
		id := r.id
		if !r.hasID {
			id = next
			next++
		}
		path := filepath.Join(g.Path(), filepath.FromSlash(r.path))
		child, err := ReadDocument(filepath.Join(path, ConfigFile))
		if errors.Is(err, ErrNotFound) {
			g.log.Warn("layer_missing", "group", g.ID(), "path", path)
			continue
		}
		if err != nil {
			return fmt.Errorf("child %s: %w", r.path, err)
		}
		typ, err := child.Int(KeyType)
		if err != nil {
			return fmt.Errorf("child %s: %w", r.path, err)
		}
		n := factory(path, Type(typ), WithID(id), WithLogger(g.log))
		if err := n.Load(); err != nil {
			return fmt.Errorf("child %s: %w", r.path, err)
		}
		children = append(children, n)
	}

	if err := g.Layer.FromJSON(doc); err != nil {
		return err
	}

	g.cmu.Lock()
	old := g.children
	g.children = children
	g.cmu.Unlock()

	for _, c := range old {
		if c.Parent() == Parent(g) {
			c.SetParent(nil)
		}
	}
	for _, c := range children {
		c.SetParent(g)
	}
	return nil
}

type childRef struct {
	path  string
	id    int
	hasID bool
}

// childRefs decodes the layers list. Every path must stay inside the group
// directory and name a distinct child; stored ids must be distinct and non-negative.
func childRefs(doc Document) ([]childRef, error) {
	v, ok := doc[KeyLayers]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, &FieldError{Field: KeyLayers, Got: v}
	}
	refs := make([]childRef, 0, len(list))
	paths := make(map[string]bool, len(list))
	ids := make(map[int]bool, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, &FieldError{Field: KeyLayers, Got: item}
		}
		ref := Document(m)
		p, err := ref.String(KeyPath)
		if err != nil {
			return nil, err
		}
		local := filepath.Clean(filepath.FromSlash(p))
		if !filepath.IsLocal(local) || local == "." || paths[local] {
			return nil, &FieldError{Field: KeyLayers, Got: p}
		}
		paths[local] = true

		r := childRef{path: p}
		if _, ok := ref[KeyID]; ok {
			if r.id, err = ref.Int(KeyID); err != nil {
				return nil, err
			}
			if r.id < 0 || ids[r.id] {
				return nil, &FieldError{Field: KeyID, Got: m[KeyID]}
			}
			ids[r.id] = true
			r.hasID = true
		}
		refs = append(refs, r)
	}
	return refs, nil
}

func (g *Group) Save() error { return g.save(g.ToJSON) }

func (g *Group) Load() error { return g.load(g.FromJSON) }

// Delete removes every child, then the group directory.
func (g *Group) Delete() error {
	g.Layer.CancelDraw()
	for _, c := range g.Children() {
		c.SetParent(nil)
		if err := c.Delete(); err != nil && !errors.Is(err, ErrDeleted) {
			c.SetParent(g)
			return err
		}
		g.Remove(c.ID())
	}
	return g.Layer.Delete()
}

var (
	_ Node             = (*Layer)(nil)
	_ Node             = (*Group)(nil)
	_ ChangeNotifiable = (*Group)(nil)
)
