package server

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testTrack = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[13.40,52.50],[13.41,52.51],[13.42,52.52]]}}
]}`

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	trackFile := filepath.Join(dir, "track.geojson")
	if err := os.WriteFile(trackFile, []byte(testTrack), 0644); err != nil {
		t.Fatal(err)
	}

	srv, err := New(Config{
		Host:      "127.0.0.1",
		Port:      "0",
		DataDir:   dir,
		TrackFile: trackFile,
		Interval:  10 * time.Millisecond,
		Loop:      true,
		Record:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		if err := srv.Close(); err != nil {
			t.Error(err)
		}
	})
	return srv, ts
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(body)
}

func TestServerRecordsReplay(t *testing.T) {
	srv, ts := newTestServer(t)

	if n := srv.Services().Hub.Len(); n != 2 {
		t.Fatalf("hub listeners=%d, want recorder and cache", n)
	}

	waitFor(t, "last fix", func() bool {
		code, _ := get(t, ts.URL+"/api/v1/location/last")
		return code == http.StatusOK
	})
	waitFor(t, "recorded fixes", func() bool {
		n, err := srv.Services().Track.Count(context.Background())
		return err == nil && n >= 2
	})

	code, body := get(t, ts.URL+"/api/v1/info")
	if code != http.StatusOK || !strings.Contains(body, `"plat-map"`) || !strings.Contains(body, `"track"`) {
		t.Fatalf("info status=%d body=%s", code, body)
	}

	code, body = get(t, ts.URL+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, "platmap_location_fixes_total") {
		t.Fatalf("metrics status=%d", code)
	}
}

func TestLocationStream(t *testing.T) {
	srv, ts := newTestServer(t)
	hub := srv.Services().Hub

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/location/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if n := hub.Len(); n != 3 {
		t.Fatalf("hub listeners=%d, want 3 while streaming", n)
	}

	sc := bufio.NewScanner(resp.Body)
	found := false
	for sc.Scan() {
		if strings.Contains(sc.Text(), `"location"`) {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("no location signal in stream: %v", sc.Err())
	}

	cancel()
	resp.Body.Close()
	waitFor(t, "stream listener removal", func() bool { return hub.Len() == 2 })
}

func TestRootAndLayers(t *testing.T) {
	_, ts := newTestServer(t)

	code, body := get(t, ts.URL+"/")
	if code != http.StatusOK || !strings.Contains(body, "running") {
		t.Fatalf("root status=%d body=%s", code, body)
	}
	if code, _ := get(t, ts.URL+"/nope"); code != http.StatusNotFound {
		t.Fatalf("unknown path status=%d", code)
	}

	resp, err := http.Post(ts.URL+"/api/v1/layers", "application/json", strings.NewReader(`{"name":"Roads","type":"track"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status=%d", resp.StatusCode)
	}
	code, body = get(t, ts.URL+"/api/v1/layers")
	if code != http.StatusOK || !strings.Contains(body, `"Roads"`) {
		t.Fatalf("list status=%d body=%s", code, body)
	}
}

func TestOpenAPIWithoutLocation(t *testing.T) {
	srv, err := New(Config{Host: "localhost", Port: "8086", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Close()
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	doc := srv.OpenAPI()
	if doc.Paths["/api/v1/layers/{id}"] == nil || doc.Paths["/api/v1/location/stream"] == nil {
		t.Fatalf("paths missing from OpenAPI document")
	}
}
