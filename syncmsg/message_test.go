package syncmsg

import (
	"bytes"
	"testing"

	"github.com/gnomeswarm/datastore/leaf"
)

func mustLeaf(t *testing.T, b []byte) leaf.Data {
	t.Helper()
	d, err := leaf.New(b)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := Message{
		Type:         TypeAppendData,
		CID:          7,
		Requirements: Requirements{Pre: []Guard{{CID: 7, Hash: 99}}},
		Data:         mustLeaf(t, []byte("hello")),
	}
	enc, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != m.Type || got.CID != m.CID {
		t.Fatalf("mismatch: %+v", got)
	}
	if len(got.Requirements.Pre) != 1 || got.Requirements.Pre[0] != m.Requirements.Pre[0] {
		t.Fatalf("requirements mismatch: %+v", got.Requirements)
	}
	if !bytes.Equal(got.Data.RefBytes(), m.Data.RefBytes()) {
		t.Fatalf("data mismatch: %q", got.Data.RefBytes())
	}
}

func TestChangeContentPrefixRoundTrip(t *testing.T) {
	m := Message{Type: TypeChangeContent, CID: 3, DataType: 9, Op: OpPopAndRebuild}
	enc, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.CID != 3 || got.DataType != 9 || got.Op != OpPopAndRebuild {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestUserDefinedPrefixRoundTrip(t *testing.T) {
	m := Message{Type: Type(17), CID: 4, DID: 5}
	enc, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != Type(17) || !got.Type.IsUserDefined() {
		t.Fatalf("expected user-defined type 17, got %v", got.Type)
	}
	if got.CID != 4 || got.DID != 5 {
		t.Fatalf("mismatch: %+v", got)
	}
}

func TestTypeStringNamesReservedOps(t *testing.T) {
	if TypeAppendShelledDatas.String() != "AppendShelledDatas" {
		t.Fatalf("got %q", TypeAppendShelledDatas.String())
	}
	if Type(12).String() == "" {
		t.Fatal("expected non-empty name for user-defined type")
	}
}
