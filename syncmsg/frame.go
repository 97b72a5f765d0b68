package syncmsg

import (
	"encoding/binary"
	"fmt"

	"github.com/gnomeswarm/datastore/leaf"
	"github.com/gnomeswarm/datastore/swarmerr"
)

// maxFrameSize is the hard wire ceiling on any single frame (§6).
const maxFrameSize = 1024

// singleFrameThreshold is the combined size of the type prefix plus the
// Requirements and Data payload below which a message fits in one frame
// with no fragmentation.
const singleFrameThreshold = 893

// headerHashOverhead is the per-continuation-frame cost, in bytes, of
// the hash the header frame must record for it.
const headerHashOverhead = 8

// continuationUsable is the payload capacity of a single continuation
// frame.
const continuationUsable = 1021

// Fragment splits m into the wire frames needed to carry it: a single
// frame if it fits under singleFrameThreshold, otherwise a header frame
// (part_no=0) recording the hash of every continuation frame followed by
// the continuation frames themselves (part_no=1..k).
func Fragment(m Message) ([][]byte, error) {
	prefix := m.encodeTypePrefix()
	payload, err := m.EncodePayload()
	if err != nil {
		return nil, err
	}

	if len(prefix)+len(payload) <= singleFrameThreshold {
		frame, err := m.Encode()
		if err != nil {
			return nil, err
		}
		return [][]byte{frame}, nil
	}

	k, headerCap := chooseK(len(payload))
	if k > 255 {
		return nil, swarmerr.ErrTooManyParts
	}

	firstChunk := payload[:headerCap]
	rest := payload[headerCap:]

	frames := make([][]byte, k+1)
	contHashes := make([]uint64, k)
	for i := 0; i < k; i++ {
		start := i * continuationUsable
		end := start + continuationUsable
		if end > len(rest) {
			end = len(rest)
		}
		f := append(append([]byte{}, prefix...), byte(i+1), byte(k))
		f = append(f, rest[start:end]...)
		if len(f) > maxFrameSize {
			return nil, swarmerr.ErrFrameTooLarge
		}
		frames[i+1] = f
		contHashes[i] = leaf.Hash64(f)
	}

	header := append(append([]byte{}, prefix...), 0, byte(k))
	for _, h := range contHashes {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], h)
		header = append(header, b[:]...)
	}
	header = append(header, firstChunk...)
	if len(header) > maxFrameSize {
		return nil, swarmerr.ErrFrameTooLarge
	}
	frames[0] = header
	return frames, nil
}

// chooseK finds the smallest number of continuation frames that, along
// with one header frame, can carry payloadLen bytes, and returns the
// header frame's resulting usable chunk capacity.
func chooseK(payloadLen int) (k int, headerCap int) {
	for k = 1; ; k++ {
		headerCap = singleFrameThreshold - headerHashOverhead*k
		if headerCap < 0 {
			headerCap = 0
		}
		if payloadLen <= headerCap+k*continuationUsable {
			return k, headerCap
		}
		if k > 1000 {
			return k, headerCap // unreachable in practice; guards against an infinite loop
		}
	}
}

// FrameKind peeks a frame's part_no/total_parts without fully decoding its
// payload, letting a caller route it to Decode (part_no==0, total_parts==0)
// or to a Reassembler (part_no==0, total_parts>0: header; otherwise: a
// continuation needing an already-started Reassembler).
func FrameKind(b []byte) (partNo, totalParts uint8, err error) {
	_, n, err := decodeTypePrefix(b)
	if err != nil {
		return 0, 0, err
	}
	if len(b) < n+2 {
		return 0, 0, fmt.Errorf("syncmsg: frame truncated before part_no/total_parts")
	}
	return b[n], b[n+1], nil
}

// Reassembler accumulates the continuation frames of one fragmented
// message, keyed by the per-frame hash the header frame declared.
type Reassembler struct {
	header   Message
	total    int
	expected map[uint64]int // frame hash -> part index (1-based)
	chunks   [][]byte       // index 0 holds the header's own leading chunk
}

// StartReassembly parses a header frame (part_no=0). If totalParts is 0
// the message was never fragmented and the caller should use Decode
// instead; StartReassembly returns an error in that case.
func StartReassembly(headerFrame []byte) (*Reassembler, error) {
	m, n, err := decodeTypePrefix(headerFrame)
	if err != nil {
		return nil, err
	}
	b := headerFrame[n:]
	if len(b) < 2 {
		return nil, fmt.Errorf("syncmsg: header frame truncated")
	}
	partNo, totalParts := b[0], b[1]
	b = b[2:]
	if partNo != 0 {
		return nil, fmt.Errorf("syncmsg: not a header frame (part_no=%d)", partNo)
	}
	if totalParts == 0 {
		return nil, fmt.Errorf("syncmsg: message is unfragmented, use Decode")
	}
	k := int(totalParts)
	if len(b) < k*headerHashOverhead {
		return nil, fmt.Errorf("syncmsg: header frame truncated in hash table")
	}
	expected := make(map[uint64]int, k)
	for i := 0; i < k; i++ {
		h := binary.BigEndian.Uint64(b[i*8 : i*8+8])
		expected[h] = i + 1
	}
	b = b[k*headerHashOverhead:]

	chunks := make([][]byte, k+1)
	chunks[0] = b
	return &Reassembler{header: m, total: k, expected: expected, chunks: chunks}, nil
}

// AddContinuation files one continuation frame by matching its hash
// against the header's declared set. Returns swarmerr.ErrReassemblyMismatch
// if frame's hash names no outstanding slot.
func (r *Reassembler) AddContinuation(frame []byte) error {
	h := leaf.Hash64(frame)
	idx, ok := r.expected[h]
	if !ok {
		return swarmerr.ErrReassemblyMismatch
	}
	_, n, err := decodeTypePrefix(frame)
	if err != nil {
		return err
	}
	b := frame[n:]
	if len(b) < 2 {
		return fmt.Errorf("syncmsg: continuation frame truncated")
	}
	r.chunks[idx] = b[2:]
	return nil
}

// Expected returns the set of continuation-frame hashes this Reassembler
// is still (or was ever) waiting on, letting a caller index them in a
// global hash→slot map as the spec describes.
func (r *Reassembler) Expected() []uint64 {
	out := make([]uint64, 0, len(r.expected))
	for h := range r.expected {
		out = append(out, h)
	}
	return out
}

// Complete reports whether every continuation slot has been filled.
func (r *Reassembler) Complete() bool {
	for i := 1; i <= r.total; i++ {
		if r.chunks[i] == nil {
			return false
		}
	}
	return true
}

// Finish concatenates the accumulated chunks in hash-declared order and
// parses the resulting Requirements and Data payload. Returns
// swarmerr.ErrReassemblyIncomplete if any continuation is still missing.
func (r *Reassembler) Finish() (Message, error) {
	if !r.Complete() {
		return Message{}, swarmerr.ErrReassemblyIncomplete
	}
	var payload []byte
	for i := 0; i <= r.total; i++ {
		payload = append(payload, r.chunks[i]...)
	}
	req, rest, err := DecodeRequirements(payload)
	if err != nil {
		return Message{}, err
	}
	m := r.header
	m.Requirements = req
	if len(rest) > 0 {
		d, err := leaf.New(rest)
		if err != nil {
			return Message{}, err
		}
		m.Data = d
	}
	return m, nil
}
