// Package appdata implements ApplicationData (§4.G): the per-swarm owner
// of one Datastore, the routing table that turns a processed SyncMessage
// into a guarded Datastore mutation, and the reassembly table that
// collects a message's continuation frames before it can be routed at
// all.
package appdata

import (
	"github.com/gnomeswarm/datastore/content"
	"github.com/gnomeswarm/datastore/datastore"
	"github.com/gnomeswarm/datastore/leaf"
	"github.com/gnomeswarm/datastore/log"
	"github.com/gnomeswarm/datastore/metrics"
	"github.com/gnomeswarm/datastore/swarmerr"
	"github.com/gnomeswarm/datastore/syncmsg"
)

var moduleLog = log.Default().Module("appdata")

// UserDefinedHandler lets the embedding application supply semantics for
// the UserDefined op-code range (0-247). It returns a rollback closure to
// invoke if the post-guard fails, and is free to do nothing at all (the
// zero handler leaves the Datastore untouched and still participates in
// the guard protocol).
type UserDefinedHandler func(a *ApplicationData, m syncmsg.Message) (rollback func(), err error)

// ApplicationData owns one swarm's Datastore and routes SyncMessages into
// it.
type ApplicationData struct {
	ds          *datastore.Datastore
	reassembly  map[uint16]*syncmsg.Reassembler
	hashIndex   map[uint64]uint16
	nextSlot    uint16
	userDefined UserDefinedHandler
}

// New returns a fresh ApplicationData over a brand-new, empty Datastore.
func New() *ApplicationData {
	return FromDatastore(datastore.New())
}

// FromDatastore wraps an already-populated Datastore (typically one just
// reconstructed by the storage package's Load) in a fresh ApplicationData,
// with no in-flight reassembly state.
func FromDatastore(ds *datastore.Datastore) *ApplicationData {
	return &ApplicationData{
		ds:         ds,
		reassembly: make(map[uint16]*syncmsg.Reassembler),
		hashIndex:  make(map[uint64]uint16),
	}
}

// Len returns the number of Contents in the owned Datastore.
func (a *ApplicationData) Len() int { return a.ds.Len() }

// Peek returns the Content at cid without removing it, for read-only
// callers such as the persistence layer's flush routine.
func (a *ApplicationData) Peek(cid int) (content.Content, error) {
	return a.ds.Peek(cid)
}

// Append adds a new Content, returning its freshly assigned CID. Used by
// the persistence layer's Load to rebuild a Datastore from disk without
// going through the guarded message protocol.
func (a *ApplicationData) Append(c content.Content) (int, error) {
	return a.ds.Append(c)
}

// DataType returns the dataType recorded for cid, whether or not that
// Content is currently materialized.
func (a *ApplicationData) DataType(cid int) (uint8, error) {
	return a.ds.DataTypeAt(cid)
}

// Take moves the Content at cid out of the Datastore, leaving a shell
// behind, for the broadcast package's promotion-completion path: a
// Link→Data promotion is driven by TransformInfo, a parallel path from
// ordinary guarded SyncMessage processing (§4.E/§4.J data flow), so it
// bypasses Process's guard protocol the same way storage's Peek/Append do.
func (a *ApplicationData) Take(cid int) (content.Content, error) {
	return a.ds.Take(cid)
}

// Update reinstalls next at cid after a caller (broadcast) has taken it
// out via Take, enforcing the usual dataType-stability invariant.
func (a *ApplicationData) Update(cid int, next content.Content) error {
	return a.ds.Update(cid, next)
}

// SetUserDefinedHandler installs the application-layer hook invoked for
// UserDefined messages (type byte 0-247).
func (a *ApplicationData) SetUserDefinedHandler(h UserDefinedHandler) {
	a.userDefined = h
}

// RootHash returns the owned Datastore's root hash.
func (a *ApplicationData) RootHash() uint64 { return a.ds.Hash() }

// ContentRootHash returns the root hash of the Content at cid.
func (a *ApplicationData) ContentRootHash(cid int) (uint64, error) {
	return a.ds.ContentRootHash(cid)
}

// AllContentRootHashes returns the full (dataType, hash) list, paginated
// for gossip (§4.D).
func (a *ApplicationData) AllContentRootHashes() [][]datastore.TypedHash {
	return a.ds.AllTypedRootHashes()
}

// HandleFrame feeds one wire frame into the reassembly table. It returns a
// complete Message once every frame of that message has arrived (nil,
// nil otherwise), or an error if the frame is malformed or matches no
// outstanding reassembly slot.
func (a *ApplicationData) HandleFrame(frame []byte) (*syncmsg.Message, error) {
	partNo, totalParts, err := syncmsg.FrameKind(frame)
	if err != nil {
		return nil, err
	}
	if partNo == 0 {
		if totalParts == 0 {
			m, err := syncmsg.Decode(frame)
			if err != nil {
				return nil, err
			}
			return &m, nil
		}
		r, err := syncmsg.StartReassembly(frame)
		if err != nil {
			return nil, err
		}
		slot := a.allocSlot()
		a.reassembly[slot] = r
		for _, h := range r.Expected() {
			a.hashIndex[h] = slot
		}
		metrics.ReassemblySlotsOpen.Inc()
		return nil, nil
	}

	h := leaf.Hash64(frame)
	slot, ok := a.hashIndex[h]
	if !ok {
		return nil, swarmerr.ErrReassemblyMismatch
	}
	r := a.reassembly[slot]
	if err := r.AddContinuation(frame); err != nil {
		return nil, err
	}
	delete(a.hashIndex, h)
	if !r.Complete() {
		return nil, nil
	}
	m, err := r.Finish()
	delete(a.reassembly, slot)
	metrics.ReassemblySlotsOpen.Dec()
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (a *ApplicationData) allocSlot() uint16 {
	for {
		if _, taken := a.reassembly[a.nextSlot]; !taken {
			s := a.nextSlot
			a.nextSlot++
			return s
		}
		a.nextSlot++
	}
}

// Serve is the boundary §7 describes as having "no one to report to": it
// feeds frame through HandleFrame and, once a Message is fully
// reassembled, Process, logging and discarding a malformed frame or a
// guard-failed message rather than surfacing the error, since a wire
// peer offering bad input gets no crash and no reply -- just silence.
// It returns the applied Message, or nil if frame didn't complete one or
// was discarded.
func (a *ApplicationData) Serve(frame []byte) *syncmsg.Message {
	m, err := a.HandleFrame(frame)
	if err != nil {
		moduleLog.Warn("discarding malformed frame", "err", err)
		return nil
	}
	if m == nil {
		return nil
	}
	if err := a.Process(*m); err != nil {
		moduleLog.Warn("discarding message", "type", m.Type, "c_id", m.CID, "err", err)
		return nil
	}
	return m
}

// Process applies a fully reassembled Message: pre-guard, apply, post-guard,
// rolling back the mutation if the post-guard fails. Returns
// swarmerr.ErrGuardMismatch if either guard fails.
func (a *ApplicationData) Process(m syncmsg.Message) error {
	if err := a.checkGuards(m.Requirements.Pre); err != nil {
		metrics.MessagesDiscarded.Inc()
		return err
	}
	rollback, err := a.apply(m)
	if err != nil {
		metrics.MessagesDiscarded.Inc()
		return err
	}
	if err := a.checkGuards(m.Requirements.Post); err != nil {
		if rollback != nil {
			rollback()
		}
		metrics.MessagesRolledBack.Inc()
		return swarmerr.ErrGuardMismatch
	}
	metrics.MessagesProcessed.Inc()
	return nil
}

func (a *ApplicationData) checkGuards(guards []syncmsg.Guard) error {
	for _, g := range guards {
		if g.Hash == 0 {
			if int(g.CID) < a.ds.Len() {
				return swarmerr.ErrGuardMismatch
			}
			continue
		}
		h, err := a.ds.ContentRootHash(int(g.CID))
		if err != nil || h != g.Hash {
			return swarmerr.ErrGuardMismatch
		}
	}
	return nil
}

// apply performs the mutation named by m.Type and returns a rollback
// closure per §4.F's per-type rollback table.
func (a *ApplicationData) apply(m syncmsg.Message) (rollback func(), err error) {
	switch m.Type {
	case syncmsg.TypeAppendShelledDatas:
		return a.applyAppendShelledDatas(m)
	case syncmsg.TypeAppendContent:
		return a.applyAppendContent(m)
	case syncmsg.TypeChangeContent:
		return a.applyChangeContent(m)
	case syncmsg.TypeAppendData:
		return a.applyAppendData(m)
	case syncmsg.TypeRemoveData:
		return a.applyRemoveData(m)
	case syncmsg.TypeUpdateData:
		return a.applyUpdateData(m)
	case syncmsg.TypeInsertData:
		return a.applyInsertData(m)
	case syncmsg.TypeExtendData:
		return a.applyExtendData(m)
	default:
		if a.userDefined == nil {
			return func() {}, nil
		}
		return a.userDefined(a, m)
	}
}

// applyAppendShelledDatas implements SetManifest generalized to any c_id:
// install Data at cid, appending if cid is the next free slot, else
// replacing the existing Content there (§4.F's "append if empty, else
// update").
func (a *ApplicationData) applyAppendShelledDatas(m syncmsg.Message) (func(), error) {
	next, err := content.DecodeInitial(m.Data.RefBytes())
	if err != nil {
		return nil, err
	}
	cid := int(m.CID)
	if cid == a.ds.Len() {
		if _, err := a.ds.Append(next); err != nil {
			return nil, err
		}
		return func() { a.ds.Pop() }, nil
	}
	old, err := a.ds.Take(cid)
	if err != nil {
		return nil, err
	}
	if err := a.ds.Update(cid, next); err != nil {
		return nil, err
	}
	return func() { a.ds.Update(cid, old) }, nil
}

func (a *ApplicationData) applyAppendContent(m syncmsg.Message) (func(), error) {
	c := content.NewData(m.DataType)
	if _, err := a.ds.Append(c); err != nil {
		return nil, err
	}
	return func() { a.ds.Pop() }, nil
}

// applyChangeContent replaces the Content at c_id with the one decoded
// from m.Data, preserving dataType. Op names the rebuild strategy the
// sender used to produce the replacement; the receiver's effect is the
// same replace-at-cid regardless of which strategy produced it. Routed
// through content.Content.Update (rather than replacing the datastore slot
// directly) so a Link still carrying an in-flight TransformInfo refuses
// the overwrite instead of silently losing its promotion.
func (a *ApplicationData) applyChangeContent(m syncmsg.Message) (func(), error) {
	cid := int(m.CID)
	old, err := a.ds.Take(cid)
	if err != nil {
		return nil, err
	}
	rollbackVal := old
	next, err := content.DecodeInitial(m.Data.RefBytes())
	if err != nil {
		a.ds.Update(cid, rollbackVal)
		return nil, err
	}
	if err := old.Update(next); err != nil {
		a.ds.Update(cid, rollbackVal)
		return nil, err
	}
	if err := a.ds.Update(cid, old); err != nil {
		a.ds.Update(cid, rollbackVal)
		return nil, err
	}
	return func() { a.ds.Update(cid, rollbackVal) }, nil
}

func (a *ApplicationData) applyAppendData(m syncmsg.Message) (func(), error) {
	cid := int(m.CID)
	c, err := a.ds.Take(cid)
	if err != nil {
		return nil, err
	}
	if err := c.PushData(m.Data); err != nil {
		a.ds.Update(cid, c)
		return nil, err
	}
	if err := a.ds.Update(cid, c); err != nil {
		return nil, err
	}
	return func() {
		c, err := a.ds.Take(cid)
		if err != nil {
			return
		}
		c.PopData()
		a.ds.Update(cid, c)
	}, nil
}

func (a *ApplicationData) applyRemoveData(m syncmsg.Message) (func(), error) {
	cid, did := int(m.CID), int(m.DID)
	c, err := a.ds.Take(cid)
	if err != nil {
		return nil, err
	}
	removed, err := c.RemoveData(did)
	if err != nil {
		a.ds.Update(cid, c)
		return nil, err
	}
	if err := a.ds.Update(cid, c); err != nil {
		return nil, err
	}
	return func() {
		c, err := a.ds.Take(cid)
		if err != nil {
			return
		}
		if did == len(c.DataHashes()) {
			c.PushData(removed) // Insert only accepts existing indices
		} else {
			c.Insert(did, removed)
		}
		a.ds.Update(cid, c)
	}, nil
}

func (a *ApplicationData) applyUpdateData(m syncmsg.Message) (func(), error) {
	cid, did := int(m.CID), int(m.DID)
	c, err := a.ds.Take(cid)
	if err != nil {
		return nil, err
	}
	old, err := c.UpdateData(did, m.Data)
	if err != nil {
		a.ds.Update(cid, c)
		return nil, err
	}
	if err := a.ds.Update(cid, c); err != nil {
		return nil, err
	}
	return func() {
		c, err := a.ds.Take(cid)
		if err != nil {
			return
		}
		c.UpdateData(did, old)
		a.ds.Update(cid, c)
	}, nil
}

func (a *ApplicationData) applyInsertData(m syncmsg.Message) (func(), error) {
	cid, did := int(m.CID), int(m.DID)
	c, err := a.ds.Take(cid)
	if err != nil {
		return nil, err
	}
	if err := c.Insert(did, m.Data); err != nil {
		a.ds.Update(cid, c)
		return nil, err
	}
	if err := a.ds.Update(cid, c); err != nil {
		return nil, err
	}
	return func() {
		c, err := a.ds.Take(cid)
		if err != nil {
			return
		}
		c.RemoveData(did)
		a.ds.Update(cid, c)
	}, nil
}

// applyExtendData appends bytes to an existing leaf, not exceeding
// leaf.MaxSize.
func (a *ApplicationData) applyExtendData(m syncmsg.Message) (func(), error) {
	cid, did := int(m.CID), int(m.DID)
	c, err := a.ds.Take(cid)
	if err != nil {
		return nil, err
	}
	old, err := c.ReadData(did)
	if err != nil {
		a.ds.Update(cid, c)
		return nil, err
	}
	extended := append(append([]byte{}, old.RefBytes()...), m.Data.RefBytes()...)
	grown, err := leaf.New(extended)
	if err != nil {
		a.ds.Update(cid, c)
		return nil, err
	}
	if _, err := c.UpdateData(did, grown); err != nil {
		a.ds.Update(cid, c)
		return nil, err
	}
	if err := a.ds.Update(cid, c); err != nil {
		return nil, err
	}
	return func() {
		c, err := a.ds.Take(cid)
		if err != nil {
			return
		}
		c.UpdateData(did, old)
		a.ds.Update(cid, c)
	}, nil
}
