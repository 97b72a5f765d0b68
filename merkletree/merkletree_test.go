package merkletree

import (
	"errors"
	"testing"
)

// intLeaf is a trivial Hashable used only by these tests.
type intLeaf int

func (v intLeaf) Hash() uint64 { return uint64(v) + 1 }

func TestAppendGrowsLen(t *testing.T) {
	tree := New[intLeaf]()
	if tree.Len() != 0 {
		t.Fatal("new tree should be empty")
	}
	for i := 0; i < 9; i++ {
		if err := tree.Append(intLeaf(i)); err != nil {
			t.Fatal(err)
		}
	}
	if tree.Len() != 9 {
		t.Fatalf("expected len 9, got %d", tree.Len())
	}
	for i := 0; i < 9; i++ {
		v, err := tree.ReadAt(i)
		if err != nil {
			t.Fatal(err)
		}
		if v != intLeaf(i) {
			t.Fatalf("index %d: got %v", i, v)
		}
	}
}

func TestAppendThenPopRestoresHash(t *testing.T) {
	tree := New[intLeaf]()
	for i := 0; i < 6; i++ {
		before := tree.Hash()
		if err := tree.Append(intLeaf(i)); err != nil {
			t.Fatal(err)
		}
		v, err := tree.Pop()
		if err != nil {
			t.Fatal(err)
		}
		if v != intLeaf(i) {
			t.Fatalf("popped %v, want %v", v, intLeaf(i))
		}
		if tree.Hash() != before {
			t.Fatalf("hash not restored after append+pop at step %d", i)
		}
		if err := tree.Append(intLeaf(i)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestInsertAtShiftsSuccessors(t *testing.T) {
	tree := New[intLeaf]()
	for i := 0; i < 5; i++ {
		tree.Append(intLeaf(i))
	}
	if err := tree.InsertAt(2, intLeaf(99)); err != nil {
		t.Fatal(err)
	}
	want := []intLeaf{0, 1, 99, 2, 3, 4}
	if tree.Len() != len(want) {
		t.Fatalf("expected len %d, got %d", len(want), tree.Len())
	}
	for i, w := range want {
		v, err := tree.ReadAt(i)
		if err != nil {
			t.Fatal(err)
		}
		if v != w {
			t.Fatalf("index %d: got %v, want %v", i, v, w)
		}
	}
}

func TestRemoveAtReturnsOriginalAndShifts(t *testing.T) {
	tree := New[intLeaf]()
	for i := 0; i < 5; i++ {
		tree.Append(intLeaf(i))
	}
	removed, err := tree.RemoveAt(1)
	if err != nil {
		t.Fatal(err)
	}
	if removed != intLeaf(1) {
		t.Fatalf("removed %v, want 1", removed)
	}
	want := []intLeaf{0, 2, 3, 4}
	if tree.Len() != len(want) {
		t.Fatalf("expected len %d, got %d", len(want), tree.Len())
	}
	for i, w := range want {
		v, _ := tree.ReadAt(i)
		if v != w {
			t.Fatalf("index %d: got %v, want %v", i, v, w)
		}
	}
}

func TestRemoveAtToEmpty(t *testing.T) {
	tree := New[intLeaf]()
	tree.Append(intLeaf(7))
	if _, err := tree.RemoveAt(0); err != nil {
		t.Fatal(err)
	}
	if tree.Len() != 0 {
		t.Fatalf("expected len 0, got %d", tree.Len())
	}
}

func TestBuildShellMatchesRealTreeHash(t *testing.T) {
	real := New[intLeaf]()
	for i := 0; i < 13; i++ {
		real.Append(intLeaf(i))
	}
	hashes := real.AllHashes()
	shell := BuildShell[intLeaf](hashes)
	if shell.Hash() != real.Hash() {
		t.Fatal("shell rebuilt from hashes does not match the real tree's hash")
	}
	if shell.Len() != real.Len() {
		t.Fatalf("shell len %d != real len %d", shell.Len(), real.Len())
	}
}

func TestReplaceAtTightensShellOnMatchingHash(t *testing.T) {
	real := New[intLeaf]()
	for i := 0; i < 4; i++ {
		real.Append(intLeaf(i))
	}
	shell := BuildShell[intLeaf](real.AllHashes())

	if _, err := shell.ReadAt(2); !errors.Is(err, ErrNotMaterialized) {
		t.Fatalf("expected ErrNotMaterialized, got %v", err)
	}
	if _, err := shell.ReplaceAt(2, intLeaf(99)); !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}
	if _, err := shell.ReplaceAt(2, intLeaf(2)); err != nil {
		t.Fatal(err)
	}
	v, err := shell.ReadAt(2)
	if err != nil {
		t.Fatal(err)
	}
	if v != intLeaf(2) {
		t.Fatalf("got %v after tightening", v)
	}
	if shell.Hash() != real.Hash() {
		t.Fatal("hash changed after tightening a shell leaf with the correct value")
	}
}

func TestTakeAtLeavesShellAndPreservesLen(t *testing.T) {
	tree := New[intLeaf]()
	for i := 0; i < 5; i++ {
		tree.Append(intLeaf(i))
	}
	before := tree.Hash()
	taken, err := tree.TakeAt(2)
	if err != nil {
		t.Fatal(err)
	}
	if taken != intLeaf(2) {
		t.Fatalf("took %v, want 2", taken)
	}
	if tree.Len() != 5 {
		t.Fatalf("len changed after TakeAt: %d", tree.Len())
	}
	if tree.Hash() != before {
		t.Fatal("hash changed by TakeAt -- it must only move bytes, not change the hash")
	}
	if _, err := tree.ReadAt(2); !errors.Is(err, ErrNotMaterialized) {
		t.Fatalf("expected ErrNotMaterialized after take, got %v", err)
	}
	if _, err := tree.ReplaceAt(2, intLeaf(2)); err != nil {
		t.Fatal(err)
	}
	if tree.Hash() != before {
		t.Fatal("hash changed after reinstalling the taken value")
	}
}

func TestShellCollapsesWholeTree(t *testing.T) {
	tree := New[intLeaf]()
	for i := 0; i < 6; i++ {
		tree.Append(intLeaf(i))
	}
	h := tree.Hash()
	tree.Shell()
	if tree.Len() != 0 {
		t.Fatalf("expected len 0 after Shell, got %d", tree.Len())
	}
	if tree.Hash() != h {
		t.Fatal("Shell must preserve the root hash")
	}
}

func TestIndexingErrors(t *testing.T) {
	tree := New[intLeaf]()
	if _, err := tree.ReadAt(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange on empty tree, got %v", err)
	}
	tree.Append(intLeaf(1))
	if _, err := tree.ReadAt(1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := tree.InsertAt(5, intLeaf(2)); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func fullTree(t *testing.T) *Tree[intLeaf] {
	t.Helper()
	tree := New[intLeaf]()
	for i := 0; i < MaxLen; i++ {
		if err := tree.Append(intLeaf(i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	return tree
}

func TestAppendRejectsPastMaxLen(t *testing.T) {
	tree := fullTree(t)
	if err := tree.Append(intLeaf(-1)); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestInsertAtDiscardsOverflowWhenFull(t *testing.T) {
	tree := fullTree(t)
	last, err := tree.ReadAt(MaxLen - 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := tree.InsertAt(0, intLeaf(-1)); err != nil {
		t.Fatal(err)
	}
	if tree.Len() != MaxLen {
		t.Fatalf("expected len to stay at MaxLen, got %d", tree.Len())
	}
	first, err := tree.ReadAt(0)
	if err != nil {
		t.Fatal(err)
	}
	if first != intLeaf(-1) {
		t.Fatalf("expected inserted value at 0, got %v", first)
	}
	if _, err := tree.ReadAt(MaxLen - 1); err != nil {
		t.Fatal(err)
	}
	newLast, err := tree.ReadAt(MaxLen - 1)
	if err != nil {
		t.Fatal(err)
	}
	if newLast == last {
		t.Fatal("expected the original last leaf to have been pushed out and discarded")
	}
}
