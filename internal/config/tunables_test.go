package config

import (
	"os"
	"path/filepath"
	"testing"

	multierror "github.com/hashicorp/go-multierror"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected defaults to validate cleanly, got %v", err)
	}
}

func TestValidateCollectsMultipleErrors(t *testing.T) {
	bad := Default()
	bad.NucleationDataCountThreshold = 0
	bad.NucleationStackThreshold = -1
	bad.NumStationsPerNode = 0

	err := bad.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("expected *multierror.Error, got %T", err)
	}
	if got := len(merr.WrappedErrors()); got != 3 {
		t.Fatalf("expected 3 collected errors, got %d: %v", got, err)
	}
}

func TestLiveGetSetIdempotent(t *testing.T) {
	l := NewLive(Default())
	first := l.Get()
	l.Set(Default())
	second := l.Get()
	if first != second {
		t.Fatal("expected re-applying identical tunables to leave Get() unchanged")
	}
}

func TestLoadInitializeLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "init.json")
	if err := os.WriteFile(path, []byte(`{"NucleationStackThreshold": 4.0}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tun, err := LoadInitialize(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tun.NucleationStackThreshold != 4.0 {
		t.Fatalf("expected overridden value 4.0, got %f", tun.NucleationStackThreshold)
	}
	if tun.NucleationDataCountThreshold != Default().NucleationDataCountThreshold {
		t.Fatal("expected untouched fields to keep their default values")
	}
}

func TestLoadInitializeRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "init.json")
	if err := os.WriteFile(path, []byte(`{"NucleationStackThreshold": -1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadInitialize(path); err == nil {
		t.Fatal("expected validation failure for negative stack threshold")
	}
}

func TestLoadBootstrapRequiresCmdGlass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "glass.json")
	if err := os.WriteFile(path, []byte(`{"Cmd":"NotGlass"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBootstrap(path); err == nil {
		t.Fatal("expected error for wrong Cmd discriminator")
	}
}

func TestLoadBootstrapRequiresGridFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "glass.json")
	body := `{"Cmd":"Glass","InitializeFile":"init.json","StationList":"stations.json"}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadBootstrap(path); err == nil {
		t.Fatal("expected error for missing GridFiles")
	}
}

func TestLoadBootstrapDefaultsConfigDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "glass.json")
	body := `{"Cmd":"Glass","InitializeFile":"init.json","StationList":"stations.json","GridFiles":["grid.json"]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	b, err := LoadBootstrap(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.ConfigDirectory != "./" {
		t.Fatalf("expected default config directory, got %q", b.ConfigDirectory)
	}
}
