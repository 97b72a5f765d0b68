package syncmsg

import (
	"reflect"
	"testing"
)

func TestFragmentSingleFrameForSmallMessage(t *testing.T) {
	m := Message{Type: TypeAppendData, CID: 1, Data: mustLeaf(t, []byte("small"))}
	frames, err := Fragment(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	got, err := Decode(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Requirements, m.Requirements) || string(got.Data.RefBytes()) != "small" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func bigGuardList(n int) []Guard {
	g := make([]Guard, n)
	for i := range g {
		g[i] = Guard{CID: uint16(i), Hash: uint64(i) * 7}
	}
	return g
}

func TestFragmentMultiFrameRoundTrip(t *testing.T) {
	m := Message{
		Type:         TypeAppendData,
		CID:          2,
		Requirements: Requirements{Pre: bigGuardList(248)},
	}
	frames, err := Fragment(m)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 1 header + 2 continuations for this payload size, got %d frames", len(frames))
	}

	r, err := StartReassembly(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	if r.Complete() {
		t.Fatal("should not be complete before any continuation arrives")
	}
	// Feed continuations out of order.
	if err := r.AddContinuation(frames[2]); err != nil {
		t.Fatal(err)
	}
	if r.Complete() {
		t.Fatal("should still be missing one continuation")
	}
	if err := r.AddContinuation(frames[1]); err != nil {
		t.Fatal(err)
	}
	if !r.Complete() {
		t.Fatal("expected reassembly complete")
	}

	got, err := r.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Requirements.Pre) != 248 {
		t.Fatalf("expected 248 pre guards, got %d", len(got.Requirements.Pre))
	}
	for i, g := range got.Requirements.Pre {
		if g != m.Requirements.Pre[i] {
			t.Fatalf("guard %d mismatch: got %+v want %+v", i, g, m.Requirements.Pre[i])
		}
	}
}

func TestReassemblyRejectsUnknownContinuation(t *testing.T) {
	m := Message{Type: TypeAppendData, CID: 2, Requirements: Requirements{Pre: bigGuardList(248)}}
	frames, err := Fragment(m)
	if err != nil {
		t.Fatal(err)
	}
	r, err := StartReassembly(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	bogus := append([]byte{}, frames[1]...)
	bogus[len(bogus)-1] ^= 0xFF
	if err := r.AddContinuation(bogus); err == nil {
		t.Fatal("expected rejection of a continuation whose hash does not match the header's table")
	}
}

func TestFinishFailsWhenIncomplete(t *testing.T) {
	m := Message{Type: TypeAppendData, CID: 2, Requirements: Requirements{Pre: bigGuardList(248)}}
	frames, err := Fragment(m)
	if err != nil {
		t.Fatal(err)
	}
	r, err := StartReassembly(frames[0])
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Finish(); err == nil {
		t.Fatal("expected error finishing before all continuations arrive")
	}
}
