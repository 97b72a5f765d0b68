package protocol

import (
	"encoding/binary"

	"github.com/gnomeswarm/datastore/leaf"
	"github.com/gnomeswarm/datastore/swarmerr"
)

// Every response frame: kind(1) || part_no(1) || total_parts(1) || payload.
// When total_parts > 0, the header frame's payload begins with
// total_parts*8 bytes of per-continuation hashes, mirroring §6's generic
// frame format exactly (this protocol reuses that envelope rather than
// inventing its own).
const (
	maxFrameSize  = 1024
	framePrefix   = 3
	hashesOverhead = 8
)

func decodeFrame(b []byte) (kind Kind, partNo, totalParts uint8, payload []byte, err error) {
	if len(b) < framePrefix {
		return 0, 0, 0, nil, swarmerr.ErrShortFrame
	}
	return Kind(b[0]), b[1], b[2], b[framePrefix:], nil
}

func encodeFrameHeader(kind Kind, partNo, totalParts uint8) []byte {
	return []byte{byte(kind), partNo, totalParts}
}

// Fragment splits payload into one or more response frames for kind. A
// payload that fits in a single frame is returned as one frame with
// part_no=0, total_parts=0. Otherwise a header frame (part_no=0,
// total_parts=k) records one hash per continuation, followed by k
// continuation frames (part_no=1..k).
func Fragment(kind Kind, payload []byte) ([][]byte, error) {
	single := append(encodeFrameHeader(kind, 0, 0), payload...)
	if len(single) <= maxFrameSize {
		return [][]byte{single}, nil
	}

	usable := maxFrameSize - framePrefix
	k := (len(payload) + usable - 1) / usable
	if k > 255 {
		return nil, swarmerr.ErrTooManyParts
	}

	continuations := make([][]byte, k)
	for i := 0; i < k; i++ {
		start := i * usable
		end := start + usable
		if end > len(payload) {
			end = len(payload)
		}
		frame := append(encodeFrameHeader(kind, uint8(i+1), uint8(k)), payload[start:end]...)
		if len(frame) > maxFrameSize {
			return nil, swarmerr.ErrFrameTooLarge
		}
		continuations[i] = frame
	}

	header := encodeFrameHeader(kind, 0, uint8(k))
	for _, c := range continuations {
		var h [8]byte
		binary.BigEndian.PutUint64(h[:], leaf.Hash64(c))
		header = append(header, h[:]...)
	}
	if len(header) > maxFrameSize {
		return nil, swarmerr.ErrFrameTooLarge
	}

	frames := make([][]byte, 0, k+1)
	frames = append(frames, header)
	frames = append(frames, continuations...)
	return frames, nil
}

// Reassembler collects out-of-order continuation frames for one
// in-flight response, matching each to its slot by the hash recorded in
// the header frame rather than by the continuation's own claimed part_no.
type Reassembler struct {
	kind     Kind
	expected map[uint64]int
	chunks   [][]byte
	filled   int
}

// StartReassembly parses a header frame (part_no=0, total_parts>0) and
// returns a Reassembler ready to accept its continuations.
func StartReassembly(header []byte) (*Reassembler, error) {
	kind, partNo, totalParts, payload, err := decodeFrame(header)
	if err != nil {
		return nil, err
	}
	if partNo != 0 || totalParts == 0 {
		return nil, swarmerr.ErrUnknownFrame
	}
	if len(payload) < int(totalParts)*hashesOverhead {
		return nil, swarmerr.ErrShortFrame
	}
	r := &Reassembler{
		kind:     kind,
		expected: make(map[uint64]int, totalParts),
		chunks:   make([][]byte, totalParts),
	}
	for i := 0; i < int(totalParts); i++ {
		h := binary.BigEndian.Uint64(payload[i*hashesOverhead : (i+1)*hashesOverhead])
		r.expected[h] = i
	}
	return r, nil
}

// AddContinuation inserts one continuation frame into its matching slot,
// identified by the frame's own hash.
func (r *Reassembler) AddContinuation(frame []byte) error {
	kind, partNo, _, payload, err := decodeFrame(frame)
	if err != nil {
		return err
	}
	if kind != r.kind || partNo == 0 {
		return swarmerr.ErrUnknownFrame
	}
	slot, ok := r.expected[leaf.Hash64(frame)]
	if !ok {
		return swarmerr.ErrReassemblyMismatch
	}
	if r.chunks[slot] == nil {
		r.filled++
	}
	r.chunks[slot] = payload
	return nil
}

// Complete reports whether every continuation slot has been filled.
func (r *Reassembler) Complete() bool { return r.filled == len(r.chunks) }

// Finish concatenates the collected continuation payloads in slot order.
func (r *Reassembler) Finish() ([]byte, error) {
	if !r.Complete() {
		return nil, swarmerr.ErrReassemblyIncomplete
	}
	var out []byte
	for _, c := range r.chunks {
		out = append(out, c...)
	}
	return out, nil
}
