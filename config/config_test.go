package config

import (
	"strings"
	"testing"

	"github.com/gnomeswarm/datastore/storage"
)

func TestDefaultMatchesNoConfigFileFallback(t *testing.T) {
	d := Default()
	if d.Autosave {
		t.Fatal("expected autosave off by default")
	}
	if d.MaxConnectedSwarms != 8 {
		t.Fatalf("expected 8 max connected swarms, got %d", d.MaxConnectedSwarms)
	}
	if d.MaxUploadBytesPerSecond != 8192 {
		t.Fatalf("expected 8192 B/s default, got %d", d.MaxUploadBytesPerSecond)
	}
	if d.StoreDataOnDisk.Kind != storage.Everything {
		t.Fatalf("expected Everything by default, got %v", d.StoreDataOnDisk.Kind)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	src := `# sample config
AUTOSAVE
MAX_CONNECTED_SWARMS 3
MAX_UPLOAD_BYTES_PER_SECOND 65536
STORE_DATA_ON_DISK 0
`
	cfg, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Autosave {
		t.Fatal("expected AUTOSAVE to be enabled")
	}
	if cfg.MaxConnectedSwarms != 3 {
		t.Fatalf("expected 3, got %d", cfg.MaxConnectedSwarms)
	}
	if cfg.MaxUploadBytesPerSecond != 65536 {
		t.Fatalf("expected 65536, got %d", cfg.MaxUploadBytesPerSecond)
	}
	if cfg.StoreDataOnDisk.Kind != storage.Datastore {
		t.Fatalf("expected Datastore policy, got %v", cfg.StoreDataOnDisk.Kind)
	}
}

func TestParsePreservesUnrecognisedDirectivesInExtra(t *testing.T) {
	src := "MAX_PEERS_PER_SWARM 4\nFOO bar baz\n"
	cfg, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Extra["MAX_PEERS_PER_SWARM"] != "4" {
		t.Fatalf("expected Extra to carry the unrecognised directive's argument, got %q", cfg.Extra["MAX_PEERS_PER_SWARM"])
	}
	if cfg.Extra["FOO"] != "bar baz" {
		t.Fatalf("expected multi-token argument preserved, got %q", cfg.Extra["FOO"])
	}
}

func TestParseRejectsInvalidStoreDataOnDiskValue(t *testing.T) {
	_, err := Parse(strings.NewReader("STORE_DATA_ON_DISK 7\n"))
	if err == nil {
		t.Fatal("expected an error for an out-of-range STORE_DATA_ON_DISK value")
	}
}

func TestParseRejectsMissingNumericArgument(t *testing.T) {
	_, err := Parse(strings.NewReader("MAX_CONNECTED_SWARMS\n"))
	if err == nil {
		t.Fatal("expected an error when MAX_CONNECTED_SWARMS has no argument")
	}
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	src := "\n# comment\n   \nAUTOSAVE\n# trailing\n"
	cfg, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Autosave {
		t.Fatal("expected AUTOSAVE to still be parsed around comments and blank lines")
	}
}
