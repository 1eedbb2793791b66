package layer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
)

func newTestGroup(t *testing.T) *Group {
	t.Helper()
	g := NewGroup(filepath.Join(t.TempDir(), "map"), WithName("root"))
	if err := g.Save(); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestGroupCreateAndReload(t *testing.T) {
	g := newTestGroup(t)

	a, err := g.CreateLayer("Roads", TypeLocalTMS)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := g.CreateLayer("Overlays", TypeGroup)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID() != 0 || sub.ID() != 1 {
		t.Fatalf("ids=%d,%d want 0,1", a.ID(), sub.ID())
	}
	if _, err := sub.(*Group).CreateLayer("Pins", TypeLocalVector); err != nil {
		t.Fatal(err)
	}
	// Persist the nested group's child list.
	a.SetVisible(false)

	reloaded := NewGroup(g.Path())
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	children := reloaded.Children()
	if len(children) != 2 {
		t.Fatalf("children=%d, want 2", len(children))
	}
	if children[0].Name() != "Roads" || children[0].Visible() || children[0].Type() != TypeLocalTMS {
		t.Fatalf("first child name=%q visible=%v type=%v", children[0].Name(), children[0].Visible(), children[0].Type())
	}
	nested, ok := children[1].(*Group)
	if !ok {
		t.Fatalf("second child is %T, want *Group", children[1])
	}
	if len(nested.Children()) != 1 || nested.Children()[0].Name() != "Pins" {
		t.Fatalf("nested children not restored")
	}
	if children[0].Parent() != Parent(reloaded) {
		t.Fatalf("child parent not set on load")
	}
}

func TestGroupOnLayerChangedPersists(t *testing.T) {
	g := newTestGroup(t)
	var events []ChangeEvent
	g.Observe(func(ev ChangeEvent) { events = append(events, ev) })

	n, err := g.CreateLayer("Roads", TypeLocalTMS)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Kind != Created || events[0].Name != "Roads" {
		t.Fatalf("create events=%+v", events)
	}
	events = nil

	n.SetName("Streets")

	onDisk := New(n.Path())
	if err := onDisk.Load(); err != nil {
		t.Fatal(err)
	}
	if onDisk.Name() != "Streets" {
		t.Fatalf("persisted name=%q, want Streets", onDisk.Name())
	}
	if len(events) != 1 || events[0].Kind != Changed || events[0].ID != n.ID() || events[0].Name != "Streets" {
		t.Fatalf("events=%+v", events)
	}
}

func TestGroupChildDelete(t *testing.T) {
	g := newTestGroup(t)
	up := &recordingParent{id: 100}
	g.SetParent(up)
	var events []ChangeEvent
	g.Observe(func(ev ChangeEvent) { events = append(events, ev) })

	n, err := g.CreateLayer("Temp", TypeLocalVector)
	if err != nil {
		t.Fatal(err)
	}
	events = nil

	if err := n.Delete(); err != nil {
		t.Fatal(err)
	}
	if _, ok := g.Child(n.ID()); ok {
		t.Fatalf("deleted child still in group")
	}
	if len(events) != 1 || events[0].Kind != Deleted {
		t.Fatalf("events=%+v", events)
	}
	if len(up.changed) != 1 || up.changed[0] != Node(g) {
		t.Fatalf("grandparent changed calls=%v", up.changed)
	}

	doc, err := ReadDocument(filepath.Join(g.Path(), ConfigFile))
	if err != nil {
		t.Fatal(err)
	}
	if refs, _ := childRefs(doc); len(refs) != 0 {
		t.Fatalf("group config still references %v", refs)
	}
}

func TestGroupDeleteRemovesEverything(t *testing.T) {
	g := newTestGroup(t)
	up := &recordingParent{}
	g.SetParent(up)
	for _, name := range []string{"a", "b"} {
		if _, err := g.CreateLayer(name, TypeLocalTMS); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.Delete(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(g.Path()); !os.IsNotExist(err) {
		t.Fatalf("group directory still present")
	}
	if len(g.Children()) != 0 {
		t.Fatalf("children left: %d", len(g.Children()))
	}
	if len(up.deleted) != 1 {
		t.Fatalf("parent deleted calls=%v, want one", up.deleted)
	}
}

func TestGroupLoadSkipsMissingChild(t *testing.T) {
	g := newTestGroup(t)
	a, _ := g.CreateLayer("keep", TypeLocalTMS)
	b, _ := g.CreateLayer("gone", TypeLocalTMS)
	if err := os.RemoveAll(b.Path()); err != nil {
		t.Fatal(err)
	}

	reloaded := NewGroup(g.Path())
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Children()) != 1 || reloaded.Children()[0].Name() != a.Name() {
		t.Fatalf("children=%v", reloaded.Children())
	}
}

func TestGroupAddDuplicateID(t *testing.T) {
	g := NewGroup(t.TempDir())
	if err := g.Add(New(t.TempDir(), WithID(1))); err != nil {
		t.Fatal(err)
	}
	err := g.Add(New(t.TempDir(), WithID(1)))
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err=%v, want ErrDuplicateID", err)
	}
	if g.NextID() != 2 {
		t.Fatalf("next id=%d, want 2", g.NextID())
	}
}

func TestGroupRunDrawFiltersByZoomAndVisibility(t *testing.T) {
	g := NewGroup(t.TempDir())
	inRange, hidden, outOfRange := &countingRenderer{}, &countingRenderer{}, &countingRenderer{}

	a := New(t.TempDir(), WithID(0), WithRenderer(inRange))
	b := New(t.TempDir(), WithID(1), WithRenderer(hidden))
	b.SetVisible(false)
	c := New(t.TempDir(), WithID(2), WithRenderer(outOfRange))
	c.SetMinZoom(14)
	for _, n := range []Node{a, b, c} {
		if err := g.Add(n); err != nil {
			t.Fatal(err)
		}
	}

	g.RunDraw(testDisplay{zoom: 10})
	if inRange.draws != 1 || hidden.draws != 0 || outOfRange.draws != 0 {
		t.Fatalf("draws in=%d hidden=%d out=%d", inRange.draws, hidden.draws, outOfRange.draws)
	}

	g.CancelDraw()
	if inRange.cancels != 1 || hidden.cancels != 1 || outOfRange.cancels != 1 {
		t.Fatalf("cancel did not reach every child")
	}
}

func TestGroupExtentsUnion(t *testing.T) {
	g := NewGroup(t.TempDir())
	if !g.Extents().IsEmpty() {
		t.Fatalf("empty group extents not empty")
	}
	a := New(t.TempDir(), WithID(0))
	a.SetExtents(orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}})
	b := New(t.TempDir(), WithID(1))
	b.SetExtents(orb.Bound{Min: orb.Point{-2, 0.5}, Max: orb.Point{0.5, 3}})
	c := New(t.TempDir(), WithID(2))
	for _, n := range []Node{a, b, c} {
		g.Add(n)
	}

	want := orb.Bound{Min: orb.Point{-2, 0}, Max: orb.Point{1, 3}}
	if got := g.Extents(); got != want {
		t.Fatalf("extents=%v, want %v", got, want)
	}
}

func TestGroupForwardsDrawProgress(t *testing.T) {
	up := &recordingParent{}
	g := NewGroup(t.TempDir())
	g.SetParent(up)
	child := New(t.TempDir(), WithID(0))
	g.Add(child)

	child.OnDrawFinished(0, 42)
	if len(up.progress) != 1 || up.progress[0] != 42 {
		t.Fatalf("progress=%v, want [42]", up.progress)
	}
}

func writeGroupConfig(t *testing.T, dir, layers string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	data := `{"name":"map","type":1,"visible":true,"layers":` + layers + `}`
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestGroupLoadRejectsForeignChildPaths(t *testing.T) {
	tests := []struct {
		name   string
		layers string
	}{
		{"parent dir", `[{"path":"../victim"}]`},
		{"absolute", `[{"path":"/tmp/victim"}]`},
		{"group itself", `[{"path":"."}]`},
		{"duplicate", `[{"path":"a"},{"path":"./a"}]`},
		{"duplicate id", `[{"path":"a","id":3},{"path":"b","id":3}]`},
		{"negative id", `[{"path":"a","id":-1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			victim := New(filepath.Join(root, "victim"), WithName("victim"))
			if err := victim.Save(); err != nil {
				t.Fatal(err)
			}
			for _, name := range []string{"a", "b"} {
				if err := New(filepath.Join(root, "map", name), WithName(name)).Save(); err != nil {
					t.Fatal(err)
				}
			}
			writeGroupConfig(t, filepath.Join(root, "map"), tt.layers)

			g := NewGroup(filepath.Join(root, "map"))
			err := g.Load()
			if !errors.Is(err, ErrIncompatibleSchema) {
				t.Fatalf("err=%v, want ErrIncompatibleSchema", err)
			}
			if len(g.Children()) != 0 {
				t.Fatalf("children loaded from a rejected config")
			}
			if err := g.Delete(); err != nil {
				t.Fatal(err)
			}
			if _, err := os.Stat(victim.ConfigPath()); err != nil {
				t.Fatalf("layer outside the group was touched: %v", err)
			}
		})
	}
}

func TestGroupKeepsChildIDsAcrossReload(t *testing.T) {
	g := newTestGroup(t)
	a, _ := g.CreateLayer("a", TypeLocalTMS)
	b, _ := g.CreateLayer("b", TypeLocalTMS)
	c, _ := g.CreateLayer("c", TypeLocalTMS)
	if err := a.Delete(); err != nil {
		t.Fatal(err)
	}

	reloaded := NewGroup(g.Path())
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	for _, want := range []Node{b, c} {
		got, ok := reloaded.Child(want.ID())
		if !ok || got.Name() != want.Name() {
			t.Fatalf("id %d after reload: %v, want %q", want.ID(), got, want.Name())
		}
	}
	if reloaded.NextID() != 3 {
		t.Fatalf("next id=%d, want 3", reloaded.NextID())
	}
}

func TestGroupLoadAssignsMissingIDs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "map")
	for _, name := range []string{"a", "b"} {
		if err := New(filepath.Join(root, name), WithName(name)).Save(); err != nil {
			t.Fatal(err)
		}
	}
	writeGroupConfig(t, root, `[{"path":"a"},{"path":"b","id":4}]`)

	g := NewGroup(root)
	if err := g.Load(); err != nil {
		t.Fatal(err)
	}
	if n, ok := g.Child(4); !ok || n.Name() != "b" {
		t.Fatalf("stored id not kept")
	}
	if n, ok := g.Child(5); !ok || n.Name() != "a" {
		t.Fatalf("missing id not assigned after the largest stored id")
	}
}
