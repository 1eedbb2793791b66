package layer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-map/internal/logger"
	"github.com/joeblew999/plat-map/internal/metrics"
)

// Layer is the base map layer. Variants embed it and call bind so that
// parent callbacks receive the variant rather than the embedded base.
type Layer struct {
	mu       sync.RWMutex
	id       int
	name     string
	typ      Type
	visible  bool
	minZoom  float64
	maxZoom  float64
	path     string
	renderer Renderer
	extents  orb.Bound
	parent   Parent
	deleted  bool

	// ioMu serializes Save, Load and Delete.
	ioMu sync.Mutex
	// drawMu guards the OnDrawFinished forwarding path only.
	drawMu sync.Mutex

	self Node
	log  *slog.Logger
}

// Option configures a Layer at construction.
type Option func(*Layer)

// WithID sets the identifier. It cannot change afterwards.
func WithID(id int) Option {
	return func(l *Layer) { l.id = id }
}

// WithType sets the variant discriminant.
func WithType(t Type) Option {
	return func(l *Layer) { l.typ = t }
}

// WithName sets the initial name.
func WithName(name string) Option {
	return func(l *Layer) { l.name = name }
}

// WithRenderer sets the renderer the layer delegates drawing to.
func WithRenderer(r Renderer) Option {
	return func(l *Layer) { l.renderer = r }
}

// WithLogger overrides the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Layer) {
		if log != nil {
			l.log = log
		}
	}
}

// New creates a layer stored under path. Nothing is written until Save.
func New(path string, opts ...Option) *Layer {
	l := &Layer{
		path:    path,
		visible: true,
		minZoom: DefaultMinZoom,
		maxZoom: DefaultMaxZoom,
		extents: EmptyExtent(),
		log:     logger.L(),
	}
	l.self = l
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// bind makes n the value passed to parent callbacks.
func (l *Layer) bind(n Node) { l.self = n }

func (l *Layer) ID() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.id
}

func (l *Layer) Type() Type {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.typ
}

func (l *Layer) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// SetName updates the name and notifies the parent. Empty and duplicate names are allowed.
func (l *Layer) SetName(name string) {
	l.mu.Lock()
	l.name = name
	p := l.parent
	l.mu.Unlock()
	l.notifyChanged(p)
}

func (l *Layer) Visible() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.visible
}

// SetVisible updates visibility and notifies the parent, even if the value is unchanged.
func (l *Layer) SetVisible(visible bool) {
	l.mu.Lock()
	l.visible = visible
	p := l.parent
	l.mu.Unlock()
	l.notifyChanged(p)
}

func (l *Layer) MinZoom() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minZoom
}

// SetMinZoom does not validate against MaxZoom.
func (l *Layer) SetMinZoom(z float64) {
	l.mu.Lock()
	l.minZoom = z
	l.mu.Unlock()
}

func (l *Layer) MaxZoom() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.maxZoom
}

func (l *Layer) SetMaxZoom(z float64) {
	l.mu.Lock()
	l.maxZoom = z
	l.mu.Unlock()
}

func (l *Layer) Path() string { return l.path }

// ConfigPath returns the location of the configuration file.
func (l *Layer) ConfigPath() string {
	return filepath.Join(l.path, ConfigFile)
}

func (l *Layer) Extents() orb.Bound {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.extents
}

// SetExtents is used by variants once they know their data bounds.
func (l *Layer) SetExtents(b orb.Bound) {
	l.mu.Lock()
	l.extents = b
	l.mu.Unlock()
}

func (l *Layer) SetRenderer(r Renderer) {
	l.mu.Lock()
	l.renderer = r
	l.mu.Unlock()
}

func (l *Layer) Parent() Parent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.parent
}

// SetParent replaces the upward reference. The parent is not told about the
// child; registering it is the group's job.
func (l *Layer) SetParent(p Parent) {
	l.mu.Lock()
	l.parent = p
	l.mu.Unlock()
}

// Deleted reports whether Delete completed.
func (l *Layer) Deleted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.deleted
}

func (l *Layer) notifyChanged(p Parent) {
	if g, ok := p.(ChangeNotifiable); ok {
		g.OnLayerChanged(l.self)
	}
}

// RunDraw delegates to the renderer, if any.
func (l *Layer) RunDraw(d Display) {
	l.mu.RLock()
	r, deleted := l.renderer, l.deleted
	l.mu.RUnlock()
	if r != nil && !deleted {
		r.RunDraw(d)
	}
}

// CancelDraw delegates to the renderer, if any.
func (l *Layer) CancelDraw() {
	l.mu.RLock()
	r := l.renderer
	l.mu.RUnlock()
	if r != nil {
		r.CancelDraw()
	}
}

// OnDrawFinished forwards draw progress to a parent that can receive it.
// Renderers may call it from several goroutines.
func (l *Layer) OnDrawFinished(id int, percent float64) {
	l.drawMu.Lock()
	defer l.drawMu.Unlock()

	if v, ok := l.Parent().(DrawProgressNotifiable); ok {
		v.OnDrawFinished(id, percent)
	}
}

// ToJSON emits the five persisted keys.
func (l *Layer) ToJSON() (Document, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Document{
		KeyName:     l.name,
		KeyType:     int(l.typ),
		KeyMaxLevel: l.maxZoom,
		KeyMinLevel: l.minZoom,
		KeyVisible:  l.visible,
	}, nil
}

type config struct {
	typ     Type
	name    string
	maxZoom float64
	minZoom float64
	visible bool
}

func decodeConfig(doc Document) (config, error) {
	var c config
	t, err := doc.Int(KeyType)
	if err != nil {
		return c, err
	}
	c.typ = Type(t)
	if c.name, err = doc.String(KeyName); err != nil {
		return c, err
	}
	if c.maxZoom, err = doc.FloatOr(KeyMaxLevel, DefaultMaxZoom); err != nil {
		return c, err
	}
	if c.minZoom, err = doc.FloatOr(KeyMinLevel, DefaultMinZoom); err != nil {
		return c, err
	}
	if c.visible, err = doc.Bool(KeyVisible); err != nil {
		return c, err
	}
	return c, nil
}

// FromJSON validates the whole document before changing any field, so a
// failed call leaves the layer untouched.
func (l *Layer) FromJSON(doc Document) error {
	c, err := decodeConfig(doc)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.typ = c.typ
	l.name = c.name
	l.maxZoom = c.maxZoom
	l.minZoom = c.minZoom
	l.visible = c.visible
	l.mu.Unlock()
	return nil
}

// Save writes the configuration file, creating the directory if needed.
func (l *Layer) Save() error { return l.save(l.ToJSON) }

// Load reads the configuration file. Errors match ErrNotFound, ErrCorrupt or
// ErrIncompatibleSchema.
func (l *Layer) Load() error { return l.load(l.FromJSON) }

func (l *Layer) save(encode func() (Document, error)) error {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()

	if l.Deleted() {
		return ErrDeleted
	}

	doc, err := encode()
	if err != nil {
		return fmt.Errorf("encoding layer %s: %w", l.path, err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding layer %s: %w", l.path, err)
	}
	if err := os.MkdirAll(l.path, 0755); err != nil {
		return fmt.Errorf("creating layer directory: %w", err)
	}
	if err := os.WriteFile(l.ConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("writing layer config: %w", err)
	}

	metrics.LayerSavesTotal.Inc()
	l.log.Debug("layer_saved", "path", l.path, "id", l.ID())
	return nil
}

func (l *Layer) load(decode func(Document) error) error {
	l.ioMu.Lock()
	defer l.ioMu.Unlock()

	err := func() error {
		if l.Deleted() {
			return ErrDeleted
		}
		doc, err := ReadDocument(l.ConfigPath())
		if err != nil {
			return err
		}
		if err := decode(doc); err != nil {
			return fmt.Errorf("layer %s: %w", l.path, err)
		}
		return nil
	}()
	if err != nil {
		metrics.LayerLoadFailuresTotal.WithLabelValues(reason(err)).Inc()
		l.log.Debug("layer_load_error", "path", l.path, "reason", reason(err), "err", err)
		return err
	}
	l.log.Debug("layer_loaded", "path", l.path, "id", l.ID())
	return nil
}

// Delete cancels drawing, removes the layer directory and tells the parent.
// If files are left behind it returns a *DeleteError, the layer stays usable
// and the parent is not told.
func (l *Layer) Delete() error {
	l.CancelDraw()

	l.ioMu.Lock()
	if l.Deleted() {
		l.ioMu.Unlock()
		return ErrDeleted
	}
	if err := removeAll(l.path); err != nil {
		l.ioMu.Unlock()
		metrics.LayerDeletesTotal.WithLabelValues("partial").Inc()
		l.log.Warn("layer_delete_partial", "path", l.path, "err", err)
		return err
	}
	l.mu.Lock()
	l.deleted = true
	id, p := l.id, l.parent
	l.mu.Unlock()
	l.ioMu.Unlock()

	metrics.LayerDeletesTotal.WithLabelValues("ok").Inc()
	l.log.Info("layer_deleted", "path", l.path, "id", id)

	if g, ok := p.(ChangeNotifiable); ok {
		g.OnLayerDeleted(id)
	}
	return nil
}

// osRemoveAll is replaced in tests to simulate files that cannot be removed.
var osRemoveAll = os.RemoveAll

func removeAll(path string) error {
	err := osRemoveAll(path)
	if err == nil {
		return nil
	}
	if _, statErr := os.Lstat(path); errors.Is(statErr, fs.ErrNotExist) {
		return nil
	}
	return &DeleteError{Path: path, Err: err}
}
