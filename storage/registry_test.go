package storage

import (
	"path/filepath"
	"testing"
)

func TestDirLayoutJoinsRootFounderAndSwarmName(t *testing.T) {
	got := DirLayout("/data", 0x1, "my-swarm")
	want := filepath.Join("/data", "0000000000000001", "my-swarm")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDirLayoutDistinguishesDifferentFounders(t *testing.T) {
	a := DirLayout("/data", 1, "same-name")
	b := DirLayout("/data", 2, "same-name")
	if a == b {
		t.Fatal("expected different founders to land in different directories")
	}
}
