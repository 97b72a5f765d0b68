package syncmsg

import "testing"

func TestRequirementsRoundTrip(t *testing.T) {
	r := Requirements{
		Pre:  []Guard{{CID: 1, Hash: 10}, {CID: 2, Hash: 20}},
		Post: []Guard{{CID: 1, Hash: 11}},
	}
	enc, err := r.Encode()
	if err != nil {
		t.Fatal(err)
	}
	enc = append(enc, 0xAB, 0xCD) // trailing data payload bytes
	got, rest, err := DecodeRequirements(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Pre) != 2 || got.Pre[0] != r.Pre[0] || got.Pre[1] != r.Pre[1] {
		t.Fatalf("pre mismatch: %+v", got.Pre)
	}
	if len(got.Post) != 1 || got.Post[0] != r.Post[0] {
		t.Fatalf("post mismatch: %+v", got.Post)
	}
	if len(rest) != 2 || rest[0] != 0xAB || rest[1] != 0xCD {
		t.Fatalf("expected trailing bytes preserved, got %v", rest)
	}
}

func TestRequirementsEmpty(t *testing.T) {
	r := Requirements{}
	enc, err := r.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != 2 {
		t.Fatalf("expected 2-byte encoding for empty requirements, got %d", len(enc))
	}
	got, rest, err := DecodeRequirements(enc)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Pre) != 0 || len(got.Post) != 0 {
		t.Fatal("expected empty guard lists")
	}
	if len(rest) != 0 {
		t.Fatal("expected no trailing bytes")
	}
}

func TestRequirementsRejectsOversizeList(t *testing.T) {
	guards := make([]Guard, MaxGuards+1)
	r := Requirements{Pre: guards}
	if _, err := r.Encode(); err == nil {
		t.Fatal("expected error for oversize guard list")
	}
}
