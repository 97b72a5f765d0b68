package content

import (
	"github.com/gnomeswarm/datastore/leaf"
	"github.com/gnomeswarm/datastore/merkletree"
	"github.com/gnomeswarm/datastore/swarmerr"
)

// hashGroupSize is the number of data-hashes carried by a single
// hash-streaming frame (§4.E, mirrored by the Hashes(...) request in §4.I).
const hashGroupSize = 128

// TransformInfo tracks an in-flight Link to Data promotion: the
// hash-streaming phase (receiving the expected per-leaf hashes in groups of
// 128) followed by the data-streaming phase (receiving the leaf bytes
// themselves, one frame per leaf).
type TransformInfo struct {
	DataType    uint8
	Tags        []byte
	Size        uint16
	RootHash    uint64
	BroadcastID uint8
	Description string

	totalHashParts uint16
	hashGroups     map[uint16][]uint64 // part_no -> hashes for that group
	expected       []uint64            // flattened once hash-streaming completes; nil until then

	dataSlots map[uint16]leaf.Data // leaf position -> received bytes
}

// NewTransformInfo creates a TransformInfo in the Advertising state: no
// hashes or data received yet.
func NewTransformInfo(dataType uint8, tags []byte, size uint16, rootHash uint64, broadcastID uint8, description string) *TransformInfo {
	return &TransformInfo{
		DataType:    dataType,
		Tags:        tags,
		Size:        size,
		RootHash:    rootHash,
		BroadcastID: broadcastID,
		Description: description,
		hashGroups:  make(map[uint16][]uint64),
		dataSlots:   make(map[uint16]leaf.Data),
	}
}

// groupCount returns how many 128-hash groups are needed to cover Size
// leaves.
func (ti *TransformInfo) groupCount() uint16 {
	n := ti.Size / hashGroupSize
	if ti.Size%hashGroupSize != 0 {
		n++
	}
	return n
}

// InsertHashGroup absorbs one hash-streaming frame. partNo is the group
// index (0-based), totalParts is the advertised total group count, and
// hashes is that group's data-hashes (up to 128). A frame whose partNo does
// not fit [0,totalParts) is buffered anyway under its own slot; the gap
// accounting is driven by totalParts, matching "a frame whose part_no is
// not yet expected is buffered".
//
// Once every group 0..totalParts-1 has arrived, the flattened hash sequence
// is checked against RootHash; a mismatch aborts the promotion by returning
// swarmerr.ErrHashMismatch, and the caller is expected to revert the Link
// to carrying no TransformInfo.
func (ti *TransformInfo) InsertHashGroup(partNo, totalParts uint16, hashes []uint64) (missingHashGroups, missingDataParts []uint16, err error) {
	if ti.expected != nil {
		return ti.missingHashGroups(), ti.missingDataParts(), nil
	}
	ti.totalHashParts = totalParts
	cp := make([]uint64, len(hashes))
	copy(cp, hashes)
	ti.hashGroups[partNo] = cp

	if uint16(len(ti.hashGroups)) < totalParts {
		return ti.missingHashGroups(), ti.missingDataParts(), nil
	}
	for i := uint16(0); i < totalParts; i++ {
		if _, ok := ti.hashGroups[i]; !ok {
			return ti.missingHashGroups(), ti.missingDataParts(), nil
		}
	}

	flattened := make([]uint64, 0, ti.Size)
	for i := uint16(0); i < totalParts; i++ {
		flattened = append(flattened, ti.hashGroups[i]...)
	}
	if uint16(len(flattened)) > ti.Size {
		flattened = flattened[:ti.Size]
	}
	shell := merkletree.BuildShell[hashLeaf](flattened)
	if shell.Hash() != ti.RootHash {
		return nil, nil, swarmerr.ErrHashMismatch
	}
	ti.expected = flattened
	return ti.missingHashGroups(), ti.missingDataParts(), nil
}

// InsertDataFrame absorbs one data-streaming frame. partNo is the leaf
// position. The frame is silently discarded (not absorbed) if its bytes
// hash does not equal the expected hash at that position -- the slot stays
// missing for a later re-request.
func (ti *TransformInfo) InsertDataFrame(partNo uint16, data leaf.Data) (missingHashGroups, missingDataParts []uint16, err error) {
	if ti.expected == nil {
		return ti.missingHashGroups(), ti.missingDataParts(), swarmerr.ErrLinkNonTransformative
	}
	if int(partNo) >= len(ti.expected) {
		return ti.missingHashGroups(), ti.missingDataParts(), swarmerr.ErrIndexing
	}
	if data.Hash() == ti.expected[partNo] {
		ti.dataSlots[partNo] = data
	}
	return ti.missingHashGroups(), ti.missingDataParts(), nil
}

// missingHashGroups lists group indices not yet received.
func (ti *TransformInfo) missingHashGroups() []uint16 {
	if ti.expected != nil {
		return nil
	}
	var out []uint16
	for i := uint16(0); i < ti.totalHashParts; i++ {
		if _, ok := ti.hashGroups[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// missingDataParts lists leaf positions not yet received. Empty until the
// hash-streaming phase has completed (there is nothing to request before
// the expected hashes are known).
func (ti *TransformInfo) missingDataParts() []uint16 {
	if ti.expected == nil {
		return nil
	}
	var out []uint16
	for i := range ti.expected {
		if _, ok := ti.dataSlots[uint16(i)]; !ok {
			out = append(out, uint16(i))
		}
	}
	return out
}

// ReadyToPromote reports whether every data slot has been filled.
func (ti *TransformInfo) ReadyToPromote() bool {
	return ti.expected != nil && len(ti.dataSlots) == len(ti.expected)
}

// BuildTree materializes the promoted ContentTree from the received leaf
// data, in position order, and verifies its root matches RootHash.
func (ti *TransformInfo) BuildTree() (*merkletree.Tree[leaf.Data], error) {
	if !ti.ReadyToPromote() {
		return nil, swarmerr.ErrLinkNonTransformative
	}
	tree := merkletree.New[leaf.Data]()
	for i := range ti.expected {
		if err := tree.Append(ti.dataSlots[uint16(i)]); err != nil {
			return nil, err
		}
	}
	if tree.Hash() != ti.RootHash {
		return nil, swarmerr.ErrHashMismatch
	}
	return tree, nil
}

// hashLeaf adapts a bare uint64 hash into merkletree.Hashable so
// BuildShell can verify a flattened hash sequence against RootHash without
// needing real Data bytes.
type hashLeaf uint64

func (h hashLeaf) Hash() uint64 { return uint64(h) }
