// Package datastore implements Datastore, the top-level binary Merkle tree
// of Contents (§4.D). It reuses the same append-only tree algorithms as
// ContentTree (package merkletree) with Content as the leaf type, and adds
// CID allocation and the take-and-reinstall pattern used to mutate a
// Content without holding a cross-component lock.
package datastore

import (
	"github.com/gnomeswarm/datastore/content"
	"github.com/gnomeswarm/datastore/leaf"
	"github.com/gnomeswarm/datastore/merkletree"
	"github.com/gnomeswarm/datastore/metrics"
	"github.com/gnomeswarm/datastore/swarmerr"
)

// ManifestCID is the reserved Content ID holding the ApplicationManifest.
const ManifestCID = 0

// emptyDatastoreHash is the root hash of a brand new Datastore before any
// Content has been installed, per the "empty datastore, install manifest"
// scenario: the hash of the single byte 255, H(byte(255)).
var emptyDatastoreHash = leaf.Hash64([]byte{255})

// TypedHash pairs a Content's dataType with its root hash, as reported by
// AllTypedRootHashes.
type TypedHash struct {
	DataType uint8
	Hash     uint64
}

// Datastore is the swarm-wide binary Merkle tree of Contents.
type Datastore struct {
	tree  *merkletree.Tree[content.Content]
	types []uint8 // parallel to tree positions; dataType at last install
}

// New returns a brand new, empty Datastore.
func New() *Datastore {
	return &Datastore{tree: merkletree.NewShell[content.Content](emptyDatastoreHash)}
}

// Len returns the number of Contents currently held.
func (d *Datastore) Len() int { return d.tree.Len() }

// Hash returns the Datastore's root hash.
func (d *Datastore) Hash() uint64 { return d.tree.Hash() }

// Append adds a new Content, returning its freshly assigned CID.
func (d *Datastore) Append(c content.Content) (int, error) {
	if d.tree.Len() >= merkletree.MaxLen {
		return 0, swarmerr.ErrDatastoreFull
	}
	if err := d.tree.Append(c); err != nil {
		return 0, translateTreeErr(err)
	}
	d.types = append(d.types, c.DataType())
	metrics.ContentCount.Set(int64(d.tree.Len()))
	return d.tree.Len() - 1, nil
}

// Pop removes and returns the last-appended Content. Used to roll back a
// just-completed AddContent whose post-guard failed.
func (d *Datastore) Pop() (content.Content, error) {
	c, err := d.tree.Pop()
	if err != nil {
		return content.Content{}, translateTreeErr(err)
	}
	d.types = d.types[:len(d.types)-1]
	metrics.ContentCount.Set(int64(d.tree.Len()))
	return c, nil
}

// Take moves the Content at cid out of the Datastore, leaving behind a
// shell (an Empty placeholder carrying the outgoing root hash) at the same
// structural position. Callers mutate the returned Content and reinstall it
// via Update; the dataType side record is left untouched so a concurrent
// reader of AllTypedRootHashes still sees the right type for the shelled
// slot.
func (d *Datastore) Take(cid int) (content.Content, error) {
	c, err := d.tree.TakeAt(cid)
	if err != nil {
		return content.Content{}, translateTreeErr(err)
	}
	return c, nil
}

// Peek returns the Content at cid without removing it, for callers (such as
// the persistence layer) that only need to read the current value.
// ErrHashMismatch is returned if the slot is currently shelled (a bare
// Empty placeholder with no materialized Content).
func (d *Datastore) Peek(cid int) (content.Content, error) {
	c, err := d.tree.ReadAt(cid)
	if err != nil {
		return content.Content{}, translateTreeErr(err)
	}
	return c, nil
}

// Update installs next at cid, enforcing the dataType-stability invariant:
// once a slot is Data-valued, it may only become Data of the same
// dataType; a Link may become anything. This check only needs the
// persisted dataType side record, so it still works against a shelled slot
// (one currently Take()n out). The separate rule that a Link with an
// in-flight TransformInfo may not be overwritten is enforced by
// content.Content.Update at the point a caller holds the actual old value
// from Take, since a shelled slot no longer carries that information here.
func (d *Datastore) Update(cid int, next content.Content) error {
	if cid < 0 || cid >= d.tree.Len() {
		return swarmerr.ErrIndexing
	}
	oldType := d.types[cid]
	if oldType != content.LinkDataType {
		if next.IsLink() || next.DataType() != oldType {
			return swarmerr.ErrDatatypeMismatch
		}
	}
	if _, err := d.tree.ReplaceAt(cid, next); err != nil {
		return translateTreeErr(err)
	}
	d.types[cid] = next.DataType()
	return nil
}

// DataTypeAt returns the dataType recorded for cid, whether or not that
// slot is currently materialized. Used by the persistence layer, which
// needs a Content's dataType even when its tree is shelled.
func (d *Datastore) DataTypeAt(cid int) (uint8, error) {
	if cid < 0 || cid >= len(d.types) {
		return 0, swarmerr.ErrIndexing
	}
	return d.types[cid], nil
}

// ContentRootHash returns the root hash of the Content at cid, whether or
// not it is currently materialized (shelled).
func (d *Datastore) ContentRootHash(cid int) (uint64, error) {
	h, err := d.tree.HashAt(cid)
	if err != nil {
		return 0, translateTreeErr(err)
	}
	return h, nil
}

// AllTypedRootHashes returns the full (dataType, rootHash) list, chunked
// into 128-entry pages (one DGram-sized page, per §4.D).
func (d *Datastore) AllTypedRootHashes() [][]TypedHash {
	hashes := d.tree.AllHashes()
	flat := make([]TypedHash, len(hashes))
	for i, h := range hashes {
		flat[i] = TypedHash{DataType: d.types[i], Hash: h}
	}
	return chunk(flat, 128)
}

func chunk(in []TypedHash, size int) [][]TypedHash {
	if len(in) == 0 {
		return nil
	}
	var out [][]TypedHash
	for i := 0; i < len(in); i += size {
		end := i + size
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[i:end])
	}
	return out
}

func translateTreeErr(err error) error {
	switch err {
	case merkletree.ErrIndexOutOfRange:
		return swarmerr.ErrIndexing
	case merkletree.ErrHashMismatch:
		return swarmerr.ErrHashMismatch
	case merkletree.ErrFull:
		return swarmerr.ErrDatastoreFull
	case merkletree.ErrEmpty:
		return swarmerr.ErrContentEmpty
	case merkletree.ErrNotMaterialized:
		return swarmerr.ErrHashMismatch
	default:
		return err
	}
}
