// Package protocol implements the sync request/response protocol (§4.I):
// a neighbor asks for a slice of another peer's Datastore by Kind, and the
// responder streams back framed payload bytes reassembled by (part_no,
// total_parts), reusing the same generic frame envelope syncmsg uses for
// SyncMessages.
package protocol

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gnomeswarm/datastore/appdata"
	"github.com/gnomeswarm/datastore/log"
	"github.com/gnomeswarm/datastore/metrics"
	"github.com/gnomeswarm/datastore/swarmerr"
	"github.com/holiman/uint256"
)

var moduleLog = log.Default().Module("protocol")

// Kind identifies a sync request method (§4.I).
type Kind uint8

const (
	// KindDatastore asks for the full layered hash list.
	KindDatastore Kind = iota
	// KindAllFirstPages asks for the first page of every CID.
	KindAllFirstPages
	// KindHashes asks for 128-hash groups covering the requested page ids.
	KindHashes
	// KindPages asks for specific pages.
	KindPages
	// KindAllPages asks for everything under the named CIDs.
	KindAllPages
)

var kindNames = map[Kind]string{
	KindDatastore:     "Datastore",
	KindAllFirstPages: "AllFirstPages",
	KindHashes:        "Hashes",
	KindPages:         "Pages",
	KindAllPages:      "AllPages",
}

// String returns the request kind's name, or "Kind(n)" for an unknown value.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Request is one client-to-neighbor sync request.
type Request struct {
	Kind     Kind
	CID      uint16
	DataType uint8
	PageIDs  []uint16
	CIDs     []uint16 // AllPages
}

// Encode serializes a Request: kind(1) || c_id(2) || d_type(1) ||
// n(2) || page_ids/cids(2 each). PageIDs and CIDs share the trailing list
// slot since a single Request only ever uses one of them.
func (r Request) Encode() []byte {
	list := r.PageIDs
	if r.Kind == KindAllPages {
		list = r.CIDs
	}
	b := make([]byte, 6+2*len(list))
	b[0] = byte(r.Kind)
	binary.BigEndian.PutUint16(b[1:3], r.CID)
	b[3] = r.DataType
	binary.BigEndian.PutUint16(b[4:6], uint16(len(list)))
	for i, id := range list {
		binary.BigEndian.PutUint16(b[6+2*i:8+2*i], id)
	}
	return b
}

// DecodeRequest parses a Request encoded by Encode.
func DecodeRequest(b []byte) (Request, error) {
	if len(b) < 6 {
		return Request{}, swarmerr.ErrShortFrame
	}
	r := Request{
		Kind:     Kind(b[0]),
		CID:      binary.BigEndian.Uint16(b[1:3]),
		DataType: b[3],
	}
	n := int(binary.BigEndian.Uint16(b[4:6]))
	if len(b) < 6+2*n {
		return Request{}, swarmerr.ErrShortFrame
	}
	list := make([]uint16, n)
	for i := range list {
		list[i] = binary.BigEndian.Uint16(b[6+2*i : 8+2*i])
	}
	if r.Kind == KindAllPages {
		r.CIDs = list
	} else {
		r.PageIDs = list
	}
	return r, nil
}

// Handler answers a Request against a local ApplicationData, returning the
// full (unframed) response payload.
type Handler func(ad *appdata.ApplicationData, req Request) ([]byte, error)

// DefaultTimeout bounds how long SendRequest waits for a responder.
const DefaultTimeout = 10 * time.Second

// MaxConcurrentRequestsPerPeer mirrors the Req/Resp protocol's per-peer,
// per-method concurrency cap.
const MaxConcurrentRequestsPerPeer = 2

type pendingKey struct {
	peer string
	kind Kind
}

// Protocol dispatches sync requests to a Handler per Kind, enforcing a
// per-peer concurrency cap and request timeout. All methods are safe for
// concurrent use.
type Protocol struct {
	mu       sync.RWMutex
	ad       *appdata.ApplicationData
	handlers map[Kind]Handler
	timeout  time.Duration

	pendingMu sync.Mutex
	pending   map[pendingKey]int

	sendFunc func(peer string, req Request) ([][]byte, error)
}

// New returns a Protocol serving requests against ad with the default
// handler set (see RegisterDefaults) and DefaultTimeout.
func New(ad *appdata.ApplicationData) *Protocol {
	p := &Protocol{
		ad:       ad,
		handlers: make(map[Kind]Handler),
		timeout:  DefaultTimeout,
		pending:  make(map[pendingKey]int),
	}
	RegisterDefaults(p)
	return p
}

// SetTimeout overrides the per-request timeout.
func (p *Protocol) SetTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
}

// HandleRequest registers (or replaces) the handler for kind.
func (p *Protocol) HandleRequest(kind Kind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = h
}

// SetSendFunc installs the function used by SendRequest to deliver a
// request to a remote peer and collect its response frames. In production
// this goes out over the gossip substrate; tests inject a local stub.
func (p *Protocol) SetSendFunc(fn func(peer string, req Request) ([][]byte, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendFunc = fn
}

func (p *Protocol) acquire(peer string, kind Kind) error {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	key := pendingKey{peer: peer, kind: kind}
	if p.pending[key] >= MaxConcurrentRequestsPerPeer {
		return swarmerr.ErrTooManyRequests
	}
	p.pending[key]++
	return nil
}

func (p *Protocol) release(peer string, kind Kind) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	key := pendingKey{peer: peer, kind: kind}
	if p.pending[key] > 0 {
		p.pending[key]--
	}
	if p.pending[key] == 0 {
		delete(p.pending, key)
	}
}

// SendRequest issues req to peer via the installed send function, waits
// (bounded by the configured timeout) for the response frames, and
// reassembles them into the full response payload.
func (p *Protocol) SendRequest(peer string, req Request) ([]byte, error) {
	p.mu.RLock()
	sendFn := p.sendFunc
	timeout := p.timeout
	p.mu.RUnlock()
	if sendFn == nil {
		return nil, swarmerr.ErrNoHandler
	}

	if err := p.acquire(peer, req.Kind); err != nil {
		return nil, err
	}
	defer p.release(peer, req.Kind)

	type result struct {
		frames [][]byte
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		frames, err := sendFn(peer, req)
		ch <- result{frames, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return reassembleFrames(r.frames)
	case <-time.After(timeout):
		moduleLog.Warn("request timed out", "peer", peer, "kind", req.Kind, "c_id", req.CID)
		return nil, swarmerr.ErrRequestTimeout
	}
}

// Serve answers a request locally, against this Protocol's ApplicationData,
// producing the wire frames of the response ready for transmission.
func (p *Protocol) Serve(req Request) ([][]byte, error) {
	p.mu.RLock()
	h, ok := p.handlers[req.Kind]
	p.mu.RUnlock()
	if !ok {
		return nil, swarmerr.ErrNoHandler
	}
	payload, err := h(p.ad, req)
	if err != nil {
		return nil, err
	}
	metrics.RequestsServed.Inc()
	return Fragment(req.Kind, payload)
}

func reassembleFrames(frames [][]byte) ([]byte, error) {
	if len(frames) == 0 {
		return nil, swarmerr.ErrReassemblyIncomplete
	}
	if len(frames) == 1 {
		_, partNo, totalParts, payload, err := decodeFrame(frames[0])
		if err != nil {
			return nil, err
		}
		if partNo != 0 || totalParts != 0 {
			return nil, swarmerr.ErrUnknownFrame
		}
		return payload, nil
	}
	r, err := StartReassembly(frames[0])
	if err != nil {
		return nil, err
	}
	for _, f := range frames[1:] {
		if err := r.AddContinuation(f); err != nil {
			return nil, err
		}
	}
	if !r.Complete() {
		return nil, swarmerr.ErrReassemblyIncomplete
	}
	return r.Finish()
}

// estimatedResponseSize sums n page-sized contributions using uint256
// arithmetic rather than plain uint64, so a maliciously large request
// (e.g. AllPages naming many thousands of CIDs, each multiplied by a
// worst-case page count) cannot silently wrap a narrower accumulator
// before the size check below catches it.
func estimatedResponseSize(counts []int, perItem int) (uint64, bool) {
	total := new(uint256.Int)
	item := new(uint256.Int).SetUint64(uint64(perItem))
	for _, n := range counts {
		term := new(uint256.Int).SetUint64(uint64(n))
		term.Mul(term, item)
		total.Add(total, term)
	}
	if !total.IsUint64() {
		return 0, false
	}
	return total.Uint64(), true
}
