package content

import (
	"errors"
	"testing"

	"github.com/gnomeswarm/datastore/leaf"
	"github.com/gnomeswarm/datastore/swarmerr"
)

func mustLeaf(t *testing.T, b []byte) leaf.Data {
	t.Helper()
	d, err := leaf.New(b)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestLinkRoundTrip(t *testing.T) {
	l := Link{FounderID: 42, SwarmName: "my-swarm", LinkedContentID: 7}
	enc := l.Encode()
	got, err := DecodeLink(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.FounderID != l.FounderID || got.SwarmName != l.SwarmName || got.LinkedContentID != l.LinkedContentID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, l)
	}
	if got.Transform != nil {
		t.Fatal("expected no transform info")
	}
}

func TestLinkReadDataOnlyAtZero(t *testing.T) {
	c := NewLink(Link{FounderID: 1, SwarmName: "s", LinkedContentID: 2})
	if _, err := c.ReadData(0); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ReadData(1); !errors.Is(err, swarmerr.ErrIndexing) {
		t.Fatalf("expected ErrIndexing, got %v", err)
	}
}

func TestDataTypeStability(t *testing.T) {
	c := NewData(5)
	if err := c.PushData(mustLeaf(t, []byte("a"))); err != nil {
		t.Fatal(err)
	}
	next := NewData(5)
	if err := next.PushData(mustLeaf(t, []byte("b"))); err != nil {
		t.Fatal(err)
	}
	if err := c.Update(next); err != nil {
		t.Fatal(err)
	}

	wrongType := NewData(6)
	if err := c.Update(wrongType); !errors.Is(err, swarmerr.ErrDatatypeMismatch) {
		t.Fatalf("expected ErrDatatypeMismatch, got %v", err)
	}
}

func TestUpdateRefusesLinkWithInFlightTransform(t *testing.T) {
	link := Link{FounderID: 1, SwarmName: "s", LinkedContentID: 2, Transform: NewTransformInfo(5, nil, 1, 0xABCD, 0, "")}
	c := NewLink(link)
	next := NewData(5)
	if err := c.Update(next); !errors.Is(err, swarmerr.ErrTransformInProgress) {
		t.Fatalf("expected ErrTransformInProgress, got %v", err)
	}
	got, ok := c.AsLink()
	if !ok || got.Transform == nil {
		t.Fatal("expected the Link and its TransformInfo to survive the refused update")
	}
}

func TestPushOnLinkFails(t *testing.T) {
	c := NewLink(Link{FounderID: 1, SwarmName: "s", LinkedContentID: 2})
	if err := c.PushData(mustLeaf(t, []byte("x"))); !errors.Is(err, swarmerr.ErrNotData) {
		t.Fatalf("expected ErrNotData, got %v", err)
	}
}

func TestPromotionHappyPath(t *testing.T) {
	a := mustLeaf(t, []byte("a"))
	b := mustLeaf(t, []byte("b"))
	cc := mustLeaf(t, []byte("c"))

	wantRoot := merkleRootOf(t, []leaf.Data{a, b, cc})

	ti := NewTransformInfo(9, nil, 3, wantRoot, 1, "promo")
	link := Content{link: &Link{FounderID: 1, SwarmName: "s", LinkedContentID: 2, Transform: ti}}

	if _, _, err := ti.InsertHashGroup(0, 1, []uint64{a.Hash(), b.Hash(), cc.Hash()}); err != nil {
		t.Fatal(err)
	}
	for i, d := range []leaf.Data{a, b, cc} {
		if _, _, err := ti.InsertDataFrame(uint16(i), d); err != nil {
			t.Fatal(err)
		}
	}
	if !ti.ReadyToPromote() {
		t.Fatal("expected transform to be ready")
	}
	if err := link.LinkToData(); err != nil {
		t.Fatal(err)
	}
	if link.IsLink() {
		t.Fatal("expected content to be Data after promotion")
	}
	if link.DataType() != 9 {
		t.Fatalf("expected dataType 9, got %d", link.DataType())
	}
}

func merkleRootOf(t *testing.T, leaves []leaf.Data) uint64 {
	t.Helper()
	c := NewData(0)
	for _, l := range leaves {
		if err := c.PushData(l); err != nil {
			t.Fatal(err)
		}
	}
	return c.TreeHash()
}

func TestEncodeDecodeInitialData(t *testing.T) {
	c := NewData(3)
	if err := c.PushData(mustLeaf(t, []byte("hello"))); err != nil {
		t.Fatal(err)
	}
	enc, err := c.EncodeInitial()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeInitial(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.DataType() != 3 {
		t.Fatalf("expected dataType 3, got %d", got.DataType())
	}
	v, err := got.ReadData(0)
	if err != nil {
		t.Fatal(err)
	}
	if string(v.RefBytes()) != "hello" {
		t.Fatalf("got %q", v.RefBytes())
	}
}

func TestEncodeDecodeInitialEmptyData(t *testing.T) {
	c := NewData(0)
	enc, err := c.EncodeInitial()
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != 1 {
		t.Fatalf("expected 1-byte encoding for empty data, got %d bytes", len(enc))
	}
	got, err := DecodeInitial(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.DataHashes()) != 0 {
		t.Fatalf("expected zero leaves, got %d", len(got.DataHashes()))
	}
}
