package content

import (
	"encoding/binary"
	"fmt"

	"github.com/gnomeswarm/datastore/leaf"
	"github.com/gnomeswarm/datastore/swarmerr"
)

// Encode serializes a Link per §6: 255 || gnomeId(8) || contentId(2) ||
// swarmNameLen(1) || swarmName(...) || [TransformInfo].
func (l Link) Encode() []byte {
	name := []byte(l.SwarmName)
	out := make([]byte, 0, 1+8+2+1+len(name))
	out = append(out, LinkDataType)
	var gnomeID [8]byte
	binary.BigEndian.PutUint64(gnomeID[:], l.FounderID)
	out = append(out, gnomeID[:]...)
	var cid [2]byte
	binary.BigEndian.PutUint16(cid[:], l.LinkedContentID)
	out = append(out, cid[:]...)
	out = append(out, byte(len(name)))
	out = append(out, name...)
	if l.Transform != nil {
		out = append(out, l.Transform.Encode()...)
	}
	return out
}

// DecodeLink parses a Link from its wire encoding (the leading 255 tag
// byte is consumed, so callers may pass either the full Content byte
// stream or just the Link body -- whichever is present is tolerated).
func DecodeLink(b []byte) (Link, error) {
	if len(b) > 0 && b[0] == LinkDataType {
		b = b[1:]
	}
	if len(b) < 8+2+1 {
		return Link{}, fmt.Errorf("content: link encoding too short")
	}
	founderID := binary.BigEndian.Uint64(b[0:8])
	linkedID := binary.BigEndian.Uint16(b[8:10])
	nameLen := int(b[10])
	b = b[11:]
	if len(b) < nameLen {
		return Link{}, fmt.Errorf("content: link swarm name truncated")
	}
	name := string(b[:nameLen])
	b = b[nameLen:]

	l := Link{FounderID: founderID, SwarmName: name, LinkedContentID: linkedID}
	if len(b) > 0 {
		ti, err := DecodeTransformInfo(b)
		if err != nil {
			return Link{}, err
		}
		l.Transform = ti
	}
	return l, nil
}

// Encode serializes a TransformInfo per §6: d_type(1) || size(2) ||
// tagsLen(1) || tags(tagsLen) || root_hash(8) || broadcast_id(1) ||
// description(UTF-8, to end).
func (ti *TransformInfo) Encode() []byte {
	out := make([]byte, 0, 1+2+1+len(ti.Tags)+8+1+len(ti.Description))
	out = append(out, ti.DataType)
	var size [2]byte
	binary.BigEndian.PutUint16(size[:], ti.Size)
	out = append(out, size[:]...)
	out = append(out, byte(len(ti.Tags)))
	out = append(out, ti.Tags...)
	var root [8]byte
	binary.BigEndian.PutUint64(root[:], ti.RootHash)
	out = append(out, root[:]...)
	out = append(out, ti.BroadcastID)
	out = append(out, []byte(ti.Description)...)
	return out
}

// DecodeTransformInfo parses the TransformInfo wire layout. The returned
// value starts in the Advertising state -- no hash groups or data slots.
func DecodeTransformInfo(b []byte) (*TransformInfo, error) {
	if len(b) < 1+2+1 {
		return nil, fmt.Errorf("content: transform info encoding too short")
	}
	dataType := b[0]
	size := binary.BigEndian.Uint16(b[1:3])
	tagsLen := int(b[3])
	b = b[4:]
	if len(b) < tagsLen+8+1 {
		return nil, fmt.Errorf("content: transform info truncated")
	}
	tags := append([]byte(nil), b[:tagsLen]...)
	b = b[tagsLen:]
	rootHash := binary.BigEndian.Uint64(b[0:8])
	broadcastID := b[8]
	description := string(b[9:])
	return NewTransformInfo(dataType, tags, size, rootHash, broadcastID, description), nil
}

// EncodeInitial serializes a freshly introduced Content as carried inside a
// SyncMessage payload (§6): first byte 255 for a Link (its full Link
// encoding follows), or the dataType byte followed by the first leaf's
// bytes for Data. Only the first leaf is represented -- this is the
// narrow wire shape used to introduce a Content via AddContent/
// SetManifest/AppendData, not a full tree dump.
func (c Content) EncodeInitial() ([]byte, error) {
	if c.link != nil {
		return c.link.Encode(), nil
	}
	out := []byte{c.typ}
	if c.tree.Len() > 0 {
		v, err := c.tree.ReadAt(0)
		if err != nil {
			return nil, err
		}
		out = append(out, v.RefBytes()...)
	}
	return out, nil
}

// DecodeInitial parses the narrow wire shape produced by EncodeInitial.
func DecodeInitial(b []byte) (Content, error) {
	if len(b) == 0 {
		return Content{}, swarmerr.ErrIndexing
	}
	if b[0] == LinkDataType {
		l, err := DecodeLink(b)
		if err != nil {
			return Content{}, err
		}
		return NewLink(l), nil
	}
	c := NewData(b[0])
	if len(b) > 1 {
		d, err := leaf.New(b[1:])
		if err != nil {
			return Content{}, err
		}
		if err := c.PushData(d); err != nil {
			return Content{}, err
		}
	}
	return c, nil
}
