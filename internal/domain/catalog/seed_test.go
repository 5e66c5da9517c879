package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseSeed_YAML(t *testing.T) {
	data := []byte(`
- code: J00
  description: Rinofaringitis aguda [resfriado común]
  category: ORDINARY
- code: S61
  description: Herida de la muñeca y de la mano
  category: INCIDENT
  active: false
`)
	entries, err := ParseSeed(".yaml", data)
	if err != nil {
		t.Fatalf("ParseSeed() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Description != "Rinofaringitis aguda [resfriado común]" {
		t.Errorf("unexpected description %q", entries[0].Description)
	}
	if !entries[0].Entry().Active {
		t.Error("expected active default")
	}
	if entries[1].Entry().Active {
		t.Error("expected explicit active=false to be kept")
	}
}

func TestLoadSeedFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "codes.json")
	content := `[{"code":"M54","description":"Dorsalgia","category":"ORDINARY"}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	entries, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("LoadSeedFile() error: %v", err)
	}
	if len(entries) != 1 || entries[0].Code != "M54" {
		t.Errorf("unexpected entries %+v", entries)
	}
}

func TestParseSeed_UnsupportedFormat(t *testing.T) {
	if _, err := ParseSeed(".csv", []byte("J00,x")); err == nil {
		t.Error("expected error for csv seed")
	}
}
