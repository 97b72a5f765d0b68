// Package syncmsg implements SyncRequirements and SyncMessage (§4.F): the
// pre/post hash-guarded message envelope exchanged between swarm peers,
// its wire framing, and its fragmentation/reassembly across multiple
// ≤1024-byte frames.
package syncmsg

import (
	"encoding/binary"
	"fmt"
)

// MaxGuards is the largest number of entries a pre or post guard list may
// hold (§3).
const MaxGuards = 255

// Guard is one (ContentID, expectedHash) pair. A Hash of 0 in a pre-guard
// means "slot must be absent".
type Guard struct {
	CID  uint16
	Hash uint64
}

// Requirements is the pre/post hash-guard pair carried by every
// SyncMessage.
type Requirements struct {
	Pre  []Guard
	Post []Guard
}

// Encode serializes Requirements per §6: preLen(1) || pre_entries ||
// postLen(1) || post_entries, each entry c_id(2) || hash(8).
func (r Requirements) Encode() ([]byte, error) {
	if len(r.Pre) > MaxGuards || len(r.Post) > MaxGuards {
		return nil, fmt.Errorf("syncmsg: guard list exceeds %d entries", MaxGuards)
	}
	out := make([]byte, 0, 1+len(r.Pre)*10+1+len(r.Post)*10)
	out = append(out, byte(len(r.Pre)))
	out = appendGuards(out, r.Pre)
	out = append(out, byte(len(r.Post)))
	out = appendGuards(out, r.Post)
	return out, nil
}

func appendGuards(out []byte, guards []Guard) []byte {
	for _, g := range guards {
		var cid [2]byte
		binary.BigEndian.PutUint16(cid[:], g.CID)
		out = append(out, cid[:]...)
		var h [8]byte
		binary.BigEndian.PutUint64(h[:], g.Hash)
		out = append(out, h[:]...)
	}
	return out
}

// DecodeRequirements parses the wire layout produced by Encode, returning
// the unconsumed tail of b (the message's data payload).
func DecodeRequirements(b []byte) (Requirements, []byte, error) {
	if len(b) < 1 {
		return Requirements{}, nil, fmt.Errorf("syncmsg: requirements truncated")
	}
	preLen := int(b[0])
	b = b[1:]
	pre, b, err := readGuards(b, preLen)
	if err != nil {
		return Requirements{}, nil, err
	}
	if len(b) < 1 {
		return Requirements{}, nil, fmt.Errorf("syncmsg: requirements truncated (post length)")
	}
	postLen := int(b[0])
	b = b[1:]
	post, b, err := readGuards(b, postLen)
	if err != nil {
		return Requirements{}, nil, err
	}
	return Requirements{Pre: pre, Post: post}, b, nil
}

func readGuards(b []byte, n int) ([]Guard, []byte, error) {
	if len(b) < n*10 {
		return nil, nil, fmt.Errorf("syncmsg: guard list truncated")
	}
	out := make([]Guard, n)
	for i := 0; i < n; i++ {
		out[i] = Guard{
			CID:  binary.BigEndian.Uint16(b[0:2]),
			Hash: binary.BigEndian.Uint64(b[2:10]),
		}
		b = b[10:]
	}
	return out, b, nil
}
