package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenAPIDocLeavesDataDirAlone(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "data")
	opts := &Options{Host: "localhost", Port: 8086, DataDir: dataDir, Interval: "1s", LastFixTTL: "10m", Record: true}

	doc, err := openAPIDoc(opts)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Paths["/api/v1/layers"] == nil {
		t.Fatalf("layers path missing from OpenAPI document")
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Fatalf("data dir created: %v", err)
	}
	if opts.DataDir != dataDir || !opts.Record {
		t.Fatalf("options modified: %+v", opts)
	}
}

func TestLoadLayer(t *testing.T) {
	if _, err := loadLayer(t.TempDir()); err == nil {
		t.Fatal("expected error for a directory without a layer")
	}
}
