// Package content implements Content, the tagged union stored at each
// Datastore slot (§4.C), and ContentTree, the per-Content binary Merkle
// tree of Data leaves (§4.B) built atop the generic package merkletree.
package content

import (
	"github.com/gnomeswarm/datastore/leaf"
	"github.com/gnomeswarm/datastore/merkletree"
	"github.com/gnomeswarm/datastore/swarmerr"
)

// LinkDataType is the reserved dataType tag identifying a Link (§6, GLOSSARY).
const LinkDataType uint8 = 255

// ContentTree is the per-Content binary Merkle tree of Data leaves.
type ContentTree = merkletree.Tree[leaf.Data]

// Link is a reference from this swarm to a Content in another (gnome,
// swarm, contentId), with an optional in-flight promotion.
type Link struct {
	FounderID       uint64
	SwarmName       string
	LinkedContentID uint16
	Transform       *TransformInfo
}

// Content is the tagged union stored at each Datastore slot: either a Link
// or a typed Data payload.
type Content struct {
	link *Link        // non-nil iff this Content is a Link
	typ  uint8        // dataType; meaningless when link != nil
	tree *ContentTree // non-nil iff this Content is Data
}

// NewLink constructs a Content in the Link variant.
func NewLink(l Link) Content {
	cp := l
	return Content{link: &cp}
}

// NewData constructs a Content in the Data variant with an empty tree.
func NewData(dataType uint8) Content {
	return Content{typ: dataType, tree: merkletree.New[leaf.Data]()}
}

// NewDataWithTree constructs a Content in the Data variant over an
// existing tree (used by promotion and by persistence loading).
func NewDataWithTree(dataType uint8, tree *ContentTree) Content {
	return Content{typ: dataType, tree: tree}
}

// NewDataShell constructs a Data Content whose tree is an unmaterialized
// shell carrying only hash, with no leaves read back yet. Used by the
// persistence loader to represent a CID before its pages have been
// verified (or when they fail verification).
func NewDataShell(dataType uint8, hash uint64) Content {
	return Content{typ: dataType, tree: merkletree.NewShell[leaf.Data](hash)}
}

// BuildShellTree replays placeholder appends for hashes, producing a tree
// with the same shape (and therefore the same root hash) that a tree
// filled leaf-by-leaf with those hashes would have. Exposed for the
// persistence loader, which verifies each page's hash before installing
// it via ReplaceAt.
func BuildShellTree(hashes []uint64) *ContentTree {
	return merkletree.BuildShell[leaf.Data](hashes)
}

// IsLink reports whether this Content is currently a Link.
func (c Content) IsLink() bool { return c.link != nil }

// DataType returns the Content's dataType. For a Link this is always
// LinkDataType.
func (c Content) DataType() uint8 {
	if c.link != nil {
		return LinkDataType
	}
	return c.typ
}

// AsLink returns the Link descriptor and true if this Content is a Link.
func (c Content) AsLink() (Link, bool) {
	if c.link == nil {
		return Link{}, false
	}
	return *c.link, true
}

// ReadData returns the Data leaf at dID. On a Link, dID must be 0 and the
// serialized Link descriptor is returned as a Data value; any other index
// fails IndexingError.
func (c Content) ReadData(dID int) (leaf.Data, error) {
	if c.link != nil {
		if dID != 0 {
			return leaf.Data{}, swarmerr.ErrIndexing
		}
		return leaf.New(c.link.Encode())
	}
	v, err := c.tree.ReadAt(dID)
	if err != nil {
		return leaf.Data{}, translateTreeErr(err)
	}
	return v, nil
}

// UpdateData replaces the Data leaf at dID, returning the prior value. On a
// Link, dID must be 0 and the new bytes must decode to another Link
// descriptor -- update_data can replace one Link with another but can never
// promote a Link to Data (that goes through TransformInfo/LinkToData).
func (c *Content) UpdateData(dID int, data leaf.Data) (leaf.Data, error) {
	if c.link != nil {
		if dID != 0 {
			return leaf.Data{}, swarmerr.ErrIndexing
		}
		newLink, err := DecodeLink(data.RefBytes())
		if err != nil {
			return leaf.Data{}, err
		}
		old, _ := leaf.New(c.link.Encode())
		c.link = &newLink
		return old, nil
	}
	old, err := c.tree.ReplaceAt(dID, data)
	if err != nil {
		return leaf.Data{}, translateTreeErr(err)
	}
	return old, nil
}

// PushData appends a Data leaf. Only valid on a Data content.
func (c *Content) PushData(data leaf.Data) error {
	if c.link != nil {
		return swarmerr.ErrNotData
	}
	if err := c.tree.Append(data); err != nil {
		return translateTreeErr(err)
	}
	return nil
}

// PopData removes and returns the rightmost Data leaf. Only valid on a Data
// content.
func (c *Content) PopData() (leaf.Data, error) {
	if c.link != nil {
		return leaf.Data{}, swarmerr.ErrNotData
	}
	v, err := c.tree.Pop()
	if err != nil {
		return leaf.Data{}, translateTreeErr(err)
	}
	return v, nil
}

// Insert inserts a Data leaf at dID, shifting successors right. Only valid
// on a Data content.
func (c *Content) Insert(dID int, data leaf.Data) error {
	if c.link != nil {
		return swarmerr.ErrNotData
	}
	if err := c.tree.InsertAt(dID, data); err != nil {
		return translateTreeErr(err)
	}
	return nil
}

// RemoveData removes the Data leaf at dID, shifting successors left, and
// returns the value that was there. Only valid on a Data content.
func (c *Content) RemoveData(dID int) (leaf.Data, error) {
	if c.link != nil {
		return leaf.Data{}, swarmerr.ErrNotData
	}
	v, err := c.tree.RemoveAt(dID)
	if err != nil {
		return leaf.Data{}, translateTreeErr(err)
	}
	return v, nil
}

// Shell forgets all Data leaves, keeping only the root hash. A no-op on a
// Link, which holds no leaf tree.
func (c *Content) Shell() {
	if c.tree != nil {
		c.tree.Shell()
	}
}

// Hash returns the Content's root hash: for Data, the dataType folded with
// the tree's root hash (so a dataType change is visible in the hash even if
// the tree is untouched); for a Link, the hash of its wire encoding.
func (c Content) Hash() uint64 {
	if c.link != nil {
		b, _ := leaf.New(c.link.Encode())
		return b.Hash()
	}
	return merkletree.Combine(uint64(c.typ), c.tree.Hash())
}

// DataHashes returns the hash of every leaf in the Content's tree, in
// order. Returns nil on a Link.
func (c Content) DataHashes() []uint64 {
	if c.link != nil {
		return nil
	}
	return c.tree.AllHashes()
}

// TreeHash returns the bare tree root hash (without the dataType fold
// applied by Hash), matching the root_hash a TransformInfo advertises for a
// pending promotion. Returns 0 on a Link.
func (c Content) TreeHash() uint64 {
	if c.link != nil {
		return 0
	}
	return c.tree.Hash()
}

// Update replaces this Content with next, enforcing the dataType-stability
// invariant: once a slot is Data-valued, it may only become Data of the
// same dataType. A Link may become anything. Refuses to overwrite a Link
// that still carries an in-flight TransformInfo -- the caller must finish
// or abandon the promotion first.
func (c *Content) Update(next Content) error {
	if c.link != nil && c.link.Transform != nil {
		return swarmerr.ErrTransformInProgress
	}
	if c.link == nil && (next.link != nil || next.typ != c.typ) {
		return swarmerr.ErrDatatypeMismatch
	}
	*c = next
	return nil
}

// LinkToData completes a Link to Data promotion: the Link's TransformInfo
// must be present and have every data slot filled (see TransformInfo.
// ReadyToPromote). On success the Content becomes Data{dataType, tree} and
// the Link is gone.
func (c *Content) LinkToData() error {
	if c.link == nil || c.link.Transform == nil {
		return swarmerr.ErrLinkNonTransformative
	}
	tree, err := c.link.Transform.BuildTree()
	if err != nil {
		return err
	}
	c.typ = c.link.Transform.DataType
	c.tree = tree
	c.link = nil
	return nil
}

func translateTreeErr(err error) error {
	switch err {
	case merkletree.ErrIndexOutOfRange:
		return swarmerr.ErrIndexing
	case merkletree.ErrHashMismatch:
		return swarmerr.ErrHashMismatch
	case merkletree.ErrFull:
		return swarmerr.ErrContentFull
	case merkletree.ErrEmpty:
		return swarmerr.ErrContentEmpty
	case merkletree.ErrNotMaterialized:
		return swarmerr.ErrHashMismatch
	default:
		return err
	}
}
