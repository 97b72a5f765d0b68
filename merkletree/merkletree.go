// Package merkletree implements the append-only, left-filled binary Merkle
// tree used for both a Content's leaf layer (leaves are leaf.Data) and the
// Datastore's own layer (leaves are Content). The two callers share one
// generic implementation via the Hashable constraint: any leaf type that can
// report its own 64-bit hash can be stored.
//
// The tree never rebalances. Each Append either promotes the current root to
// a wider shape or descends into the rightmost subtree that is not already a
// perfect power-of-two shape, so the structure built by N sequential
// Appends is always the same regardless of what was appended -- which is
// what lets a reconstructed shell (see BuildShell) match the hash of a tree
// that was actually filled leaf by leaf.
package merkletree

import (
	"encoding/binary"
	"errors"

	"github.com/gnomeswarm/datastore/leaf"
)

// MaxLen is the largest number of leaves a tree may hold (§4.B/§4.D).
const MaxLen = 65535

var (
	// ErrIndexOutOfRange is returned by any indexed operation when i is
	// not a valid structural position.
	ErrIndexOutOfRange = errors.New("merkletree: index out of range")

	// ErrNotMaterialized is returned by ReadAt when the leaf at the
	// requested index is an Empty placeholder -- a structural position
	// with a known hash but no bytes.
	ErrNotMaterialized = errors.New("merkletree: leaf not materialized")

	// ErrHashMismatch is returned when tightening an Empty placeholder
	// with a value whose hash does not match the placeholder's hash.
	ErrHashMismatch = errors.New("merkletree: value hash does not match placeholder")

	// ErrFull is returned by Append when the tree already holds MaxLen
	// leaves.
	ErrFull = errors.New("merkletree: tree is full")

	// ErrEmpty is returned by Pop when the tree holds no leaves.
	ErrEmpty = errors.New("merkletree: tree is empty")
)

// Hashable is the constraint every leaf type must satisfy.
type Hashable interface {
	Hash() uint64
}

// Combine folds two child hashes into their parent's hash. It is the H(a,b)
// used throughout the wire-level hashing (interior nodes, content hashes,
// guard hashes) -- a big-endian concatenation folded through leaf.Hash64,
// reusing the same Keccak-256 truncation as a leaf's own hash.
func Combine(a, b uint64) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], a)
	binary.BigEndian.PutUint64(buf[8:16], b)
	return leaf.Hash64(buf[:])
}

// node is the recursive sum type behind every tree and subtree: Empty,
// Filled, or Hashed, exactly mirroring the ContentTree variants.
type node[T Hashable] interface {
	hash() uint64
	count() int
}

// emptyNode is a hash-only placeholder. cnt is 1 when it occupies a single
// structural leaf position (a shell waiting for bytes, or for a sibling
// value); it is 0 only for the degenerate "nothing has ever been stored
// here" tree, which is never nested inside a hashedNode.
type emptyNode[T Hashable] struct {
	h     uint64
	cnt   int
	taken bool   // left by TakeAt: ReplaceAt installs any value here
	prior uint64 // priorHash of the filledNode that TakeAt moved out
}

func (n emptyNode[T]) hash() uint64 { return n.h }
func (n emptyNode[T]) count() int   { return n.cnt }

// filledNode holds a single materialized leaf. priorHash is the hash this
// position had before the value was installed here (0 for a brand new
// tree); it is only ever observed again if this exact node is later popped
// back off as the tree's sole remaining leaf, which is how Pop restores the
// hash the tree had immediately before the matching Append.
type filledNode[T Hashable] struct {
	v         T
	priorHash uint64
}

func (n filledNode[T]) hash() uint64 { return n.v.Hash() }
func (n filledNode[T]) count() int   { return 1 }

// hashedNode is an interior node. cnt is the total number of structural
// leaves beneath it (always >= 2).
type hashedNode[T Hashable] struct {
	h           uint64
	cnt         int
	left, right node[T]
}

func (n *hashedNode[T]) hash() uint64 { return n.h }
func (n *hashedNode[T]) count() int   { return n.cnt }

func newHashed[T Hashable](left, right node[T]) *hashedNode[T] {
	return &hashedNode[T]{
		h:     Combine(left.hash(), right.hash()),
		cnt:   left.count() + right.count(),
		left:  left,
		right: right,
	}
}

func isPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// Tree is an append-only binary Merkle tree over leaves of type T.
type Tree[T Hashable] struct {
	root node[T]
}

// New returns a brand new, empty tree.
func New[T Hashable]() *Tree[T] {
	return &Tree[T]{root: emptyNode[T]{}}
}

// NewShell returns a tree with no materialized leaves and no known
// structural count, carrying only an externally known root hash. This is
// used when a Content or Datastore has not yet been loaded from disk, or
// has not yet been received over the wire.
func NewShell[T Hashable](hash uint64) *Tree[T] {
	return &Tree[T]{root: emptyNode[T]{h: hash}}
}

// BuildShell replays N appends of Empty placeholders, one per hash, so the
// resulting tree has the exact shape (and therefore the exact root hash) a
// tree filled leaf-by-leaf with those hashes would have. It is how the
// persistence loader reconstructs a Content's shape from stored page
// hashes before the corresponding bytes have been read back in.
func BuildShell[T Hashable](hashes []uint64) *Tree[T] {
	t := New[T]()
	for _, h := range hashes {
		t.root = appendLeaf[T](t.root, emptyNode[T]{h: h, cnt: 1})
	}
	return t
}

// Len returns the tree's structural leaf count -- Empty placeholders count
// just as much as materialized leaves.
func (t *Tree[T]) Len() int { return t.root.count() }

// Hash returns the tree's root hash.
func (t *Tree[T]) Hash() uint64 { return t.root.hash() }

// Shell collapses the entire tree down to a single Empty placeholder
// carrying the current root hash, discarding all materialized leaves and
// the structural count. Used by Content.Shell when a Content is evicted
// from memory but its hash must still be verifiable.
func (t *Tree[T]) Shell() {
	t.root = emptyNode[T]{h: t.root.hash()}
}

// Append adds v as the new rightmost leaf.
func (t *Tree[T]) Append(v T) error {
	if t.root.count() >= MaxLen {
		return ErrFull
	}
	newLeaf := filledNode[T]{v: v, priorHash: t.root.hash()}
	t.root = appendLeaf[T](t.root, newLeaf)
	return nil
}

func appendLeaf[T Hashable](n node[T], newLeaf node[T]) node[T] {
	switch cur := n.(type) {
	case emptyNode[T]:
		return newLeaf
	case filledNode[T]:
		return newHashed[T](cur, newLeaf)
	case *hashedNode[T]:
		if isPow2(cur.cnt) {
			return newHashed[T](cur, newLeaf)
		}
		newRight := appendLeaf[T](cur.right, newLeaf)
		return &hashedNode[T]{
			h:     Combine(cur.left.hash(), newRight.hash()),
			cnt:   cur.cnt + 1,
			left:  cur.left,
			right: newRight,
		}
	default:
		panic("merkletree: unreachable node type")
	}
}

// Pop removes and returns the current rightmost leaf, restoring the root
// hash the tree had immediately before that leaf was appended.
func (t *Tree[T]) Pop() (T, error) {
	newRoot, v, err := popLeaf[T](t.root)
	if err != nil {
		var zero T
		return zero, err
	}
	t.root = newRoot
	return v, nil
}

func popLeaf[T Hashable](n node[T]) (node[T], T, error) {
	switch cur := n.(type) {
	case emptyNode[T]:
		var zero T
		return n, zero, ErrEmpty
	case filledNode[T]:
		return emptyNode[T]{h: cur.priorHash}, cur.v, nil
	case *hashedNode[T]:
		newRight, v, err := popLeaf[T](cur.right)
		if err != nil {
			var zero T
			return n, zero, err
		}
		if newRight.count() == 0 {
			return cur.left, v, nil
		}
		return &hashedNode[T]{
			h:     Combine(cur.left.hash(), newRight.hash()),
			cnt:   cur.cnt - 1,
			left:  cur.left,
			right: newRight,
		}, v, nil
	default:
		panic("merkletree: unreachable node type")
	}
}

// ReadAt returns the materialized value at index i. It fails with
// ErrNotMaterialized if that position is an Empty placeholder.
func (t *Tree[T]) ReadAt(i int) (T, error) {
	return readAt[T](t.root, i)
}

func readAt[T Hashable](n node[T], i int) (T, error) {
	var zero T
	switch cur := n.(type) {
	case emptyNode[T]:
		if cur.cnt == 0 || i != 0 {
			return zero, ErrIndexOutOfRange
		}
		return zero, ErrNotMaterialized
	case filledNode[T]:
		if i != 0 {
			return zero, ErrIndexOutOfRange
		}
		return cur.v, nil
	case *hashedNode[T]:
		lc := cur.left.count()
		if i < 0 || i >= cur.cnt {
			return zero, ErrIndexOutOfRange
		}
		if i < lc {
			return readAt[T](cur.left, i)
		}
		return readAt[T](cur.right, i-lc)
	default:
		panic("merkletree: unreachable node type")
	}
}

// HashAt returns the hash of the leaf at index i, whether or not it is
// materialized.
func (t *Tree[T]) HashAt(i int) (uint64, error) {
	return hashAt[T](t.root, i)
}

func hashAt[T Hashable](n node[T], i int) (uint64, error) {
	switch cur := n.(type) {
	case emptyNode[T]:
		if cur.cnt == 0 || i != 0 {
			return 0, ErrIndexOutOfRange
		}
		return cur.h, nil
	case filledNode[T]:
		if i != 0 {
			return 0, ErrIndexOutOfRange
		}
		return cur.hash(), nil
	case *hashedNode[T]:
		lc := cur.left.count()
		if i < 0 || i >= cur.cnt {
			return 0, ErrIndexOutOfRange
		}
		if i < lc {
			return hashAt[T](cur.left, i)
		}
		return hashAt[T](cur.right, i-lc)
	default:
		panic("merkletree: unreachable node type")
	}
}

// ReplaceAt installs newValue at index i, returning the value that was
// there before. Replacing into an Empty placeholder succeeds only if
// newValue.Hash() matches the placeholder's recorded hash; the position is
// then tightened to Filled. A placeholder left by TakeAt is the exception:
// it accepts any value, so a taken value can be reinstalled after it has
// been changed.
func (t *Tree[T]) ReplaceAt(i int, newValue T) (T, error) {
	newRoot, old, err := replaceAt[T](t.root, i, newValue)
	if err != nil {
		return old, err
	}
	t.root = newRoot
	return old, nil
}

func replaceAt[T Hashable](n node[T], i int, newValue T) (node[T], T, error) {
	var zero T
	switch cur := n.(type) {
	case emptyNode[T]:
		if cur.cnt == 0 || i != 0 {
			return n, zero, ErrIndexOutOfRange
		}
		if cur.taken {
			return filledNode[T]{v: newValue, priorHash: cur.prior}, zero, nil
		}
		if newValue.Hash() != cur.h {
			return n, zero, ErrHashMismatch
		}
		return filledNode[T]{v: newValue, priorHash: cur.h}, zero, nil
	case filledNode[T]:
		if i != 0 {
			return n, zero, ErrIndexOutOfRange
		}
		old := cur.v
		return filledNode[T]{v: newValue, priorHash: cur.priorHash}, old, nil
	case *hashedNode[T]:
		lc := cur.left.count()
		if i < 0 || i >= cur.cnt {
			return n, zero, ErrIndexOutOfRange
		}
		if i < lc {
			newLeft, old, err := replaceAt[T](cur.left, i, newValue)
			if err != nil {
				return n, zero, err
			}
			return &hashedNode[T]{
				h:     Combine(newLeft.hash(), cur.right.hash()),
				cnt:   cur.cnt,
				left:  newLeft,
				right: cur.right,
			}, old, nil
		}
		newRight, old, err := replaceAt[T](cur.right, i-lc, newValue)
		if err != nil {
			return n, zero, err
		}
		return &hashedNode[T]{
			h:     Combine(cur.left.hash(), newRight.hash()),
			cnt:   cur.cnt,
			left:  cur.left,
			right: newRight,
		}, old, nil
	default:
		panic("merkletree: unreachable node type")
	}
}

// TakeAt replaces the value at index i with an Empty placeholder carrying
// that value's hash, returning the value that was there. Unlike Shell, this
// leaves every sibling position untouched and the tree's structural count
// unchanged -- it is how Datastore.Take moves a Content out while leaving
// its shell behind. ReplaceAt at i then reinstalls any value, changed or
// not.
func (t *Tree[T]) TakeAt(i int) (T, error) {
	newRoot, old, err := shellAt[T](t.root, i)
	if err != nil {
		return old, err
	}
	t.root = newRoot
	return old, nil
}

func shellAt[T Hashable](n node[T], i int) (node[T], T, error) {
	var zero T
	switch cur := n.(type) {
	case emptyNode[T]:
		return n, zero, ErrNotMaterialized
	case filledNode[T]:
		if i != 0 {
			return n, zero, ErrIndexOutOfRange
		}
		return emptyNode[T]{h: cur.v.Hash(), cnt: 1, taken: true, prior: cur.priorHash}, cur.v, nil
	case *hashedNode[T]:
		lc := cur.left.count()
		if i < 0 || i >= cur.cnt {
			return n, zero, ErrIndexOutOfRange
		}
		if i < lc {
			newLeft, old, err := shellAt[T](cur.left, i)
			if err != nil {
				return n, zero, err
			}
			return &hashedNode[T]{
				h:     Combine(newLeft.hash(), cur.right.hash()),
				cnt:   cur.cnt,
				left:  newLeft,
				right: cur.right,
			}, old, nil
		}
		newRight, old, err := shellAt[T](cur.right, i-lc)
		if err != nil {
			return n, zero, err
		}
		return &hashedNode[T]{
			h:     Combine(cur.left.hash(), newRight.hash()),
			cnt:   cur.cnt,
			left:  cur.left,
			right: newRight,
		}, old, nil
	default:
		panic("merkletree: unreachable node type")
	}
}

// InsertAt shifts the leaf at i and every successor one position to the
// right by repeated replace, then installs v at i. If the tree was already
// at MaxLen, the leaf that would overflow past the end is discarded;
// otherwise the tree grows by one. i must be a valid existing index.
func (t *Tree[T]) InsertAt(i int, v T) error {
	n := t.root.count()
	if i < 0 || i >= n {
		return ErrIndexOutOfRange
	}
	overflow, err := t.ReadAt(n - 1)
	if err != nil {
		return err
	}
	for j := n - 1; j > i; j-- {
		prev, err := t.ReadAt(j - 1)
		if err != nil {
			return err
		}
		if _, err := t.ReplaceAt(j, prev); err != nil {
			return err
		}
	}
	if _, err := t.ReplaceAt(i, v); err != nil {
		return err
	}
	if n < MaxLen {
		return t.Append(overflow)
	}
	return nil
}

// RemoveAt removes the leaf at index i, shifting every successor one
// position to the left, and returns the value that was at i.
func (t *Tree[T]) RemoveAt(i int) (T, error) {
	var zero T
	n := t.root.count()
	if i < 0 || i >= n {
		return zero, ErrIndexOutOfRange
	}
	popped, err := t.Pop()
	if err != nil {
		return zero, err
	}
	for j := n - 2; j >= i; j-- {
		cur, err := t.ReadAt(j)
		if err != nil {
			return zero, err
		}
		if _, err := t.ReplaceAt(j, popped); err != nil {
			return zero, err
		}
		popped = cur
	}
	return popped, nil
}

// AllHashes returns the hash of every structural leaf, in order, whether or
// not each is materialized. Used to build page-hash listings and sync
// fragments without needing every leaf's bytes in hand.
func (t *Tree[T]) AllHashes() []uint64 {
	out := make([]uint64, 0, t.root.count())
	collectHashes[T](t.root, &out)
	return out
}

func collectHashes[T Hashable](n node[T], out *[]uint64) {
	switch cur := n.(type) {
	case emptyNode[T]:
		if cur.cnt > 0 {
			*out = append(*out, cur.h)
		}
	case filledNode[T]:
		*out = append(*out, cur.hash())
	case *hashedNode[T]:
		collectHashes[T](cur.left, out)
		collectHashes[T](cur.right, out)
	}
}
