package syncmsg

import (
	"encoding/binary"
	"fmt"

	"github.com/gnomeswarm/datastore/leaf"
	"github.com/gnomeswarm/datastore/swarmerr"
)

// Type is the discriminant byte that opens every sync-message frame
// (§6). The eight high values name fixed operations; every other byte
// (0-247) is a caller-chosen UserDefined op code carried verbatim.
type Type uint8

const (
	TypeAppendShelledDatas Type = 255 // (c_id)
	TypeAppendContent      Type = 254 // (d_type)
	TypeChangeContent      Type = 253 // (c_id, d_type, op)
	TypeAppendData         Type = 252 // (c_id)
	TypeRemoveData         Type = 251 // (c_id, d_id)
	TypeUpdateData         Type = 250 // (c_id, d_id)
	TypeInsertData         Type = 249 // (c_id, d_id)
	TypeExtendData         Type = 248 // (c_id, d_id)
)

var typeNames = map[Type]string{
	TypeAppendShelledDatas: "AppendShelledDatas",
	TypeAppendContent:      "AppendContent",
	TypeChangeContent:      "ChangeContent",
	TypeAppendData:         "AppendData",
	TypeRemoveData:         "RemoveData",
	TypeUpdateData:         "UpdateData",
	TypeInsertData:         "InsertData",
	TypeExtendData:         "ExtendData",
}

// String implements fmt.Stringer, naming UserDefined op codes by number.
func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("UserDefined(%d)", uint8(t))
}

// IsUserDefined reports whether t is a caller-chosen op code (0-247)
// rather than one of the eight reserved operations.
func (t Type) IsUserDefined() bool { return uint8(t) <= 247 }

// ChangeOp is the operation sub-discriminant carried by a ChangeContent
// message (§6). The four values are bit flags in the source protocol but
// are mutually exclusive in practice; each selects a distinct rebuild
// strategy for the target Content.
type ChangeOp uint8

const (
	OpDirectRebuild          ChangeOp = 1
	OpDropAndAppend          ChangeOp = 2
	OpPopAndAppendConverted  ChangeOp = 4
	OpPopAndRebuild          ChangeOp = 8
)

// Message is one SyncMessage: a discriminated operation, its hash guards,
// and an optional Data payload. Which of CID, DID, DataType, and Op are
// meaningful depends on Type; see the Type constants above.
type Message struct {
	Type         Type
	CID          uint16
	DID          uint16
	DataType     uint8
	Op           ChangeOp
	Requirements Requirements
	Data         leaf.Data
}

// paramLen returns the number of bytes Type's inline parameters
// occupy after the discriminant byte itself.
func (t Type) paramLen() int {
	switch t {
	case TypeAppendShelledDatas, TypeAppendData:
		return 2 // c_id
	case TypeAppendContent:
		return 1 // d_type
	case TypeChangeContent:
		return 4 // c_id, d_type, op
	case TypeRemoveData, TypeUpdateData, TypeInsertData, TypeExtendData:
		return 4 // c_id, d_id
	default:
		return 4 // UserDefined: c_id, d_id
	}
}

// encodeTypePrefix renders the discriminant byte plus its inline
// parameters (§6's "type(1..5)").
func (m Message) encodeTypePrefix() []byte {
	switch m.Type {
	case TypeAppendShelledDatas, TypeAppendData:
		b := make([]byte, 3)
		b[0] = byte(m.Type)
		binary.BigEndian.PutUint16(b[1:3], m.CID)
		return b
	case TypeAppendContent:
		return []byte{byte(m.Type), m.DataType}
	case TypeChangeContent:
		b := make([]byte, 5)
		b[0] = byte(m.Type)
		binary.BigEndian.PutUint16(b[1:3], m.CID)
		b[3] = m.DataType
		b[4] = byte(m.Op)
		return b
	default: // RemoveData, UpdateData, InsertData, ExtendData, UserDefined
		b := make([]byte, 5)
		b[0] = byte(m.Type)
		binary.BigEndian.PutUint16(b[1:3], m.CID)
		binary.BigEndian.PutUint16(b[3:5], m.DID)
		return b
	}
}

// decodeTypePrefix parses the leading discriminant and its inline
// parameters from b, returning a partially populated Message and the
// number of bytes consumed.
func decodeTypePrefix(b []byte) (Message, int, error) {
	if len(b) < 1 {
		return Message{}, 0, fmt.Errorf("syncmsg: empty frame")
	}
	t := Type(b[0])
	n := 1 + t.paramLen()
	if len(b) < n {
		return Message{}, 0, fmt.Errorf("syncmsg: frame truncated in type prefix")
	}
	m := Message{Type: t}
	switch t {
	case TypeAppendShelledDatas, TypeAppendData:
		m.CID = binary.BigEndian.Uint16(b[1:3])
	case TypeAppendContent:
		m.DataType = b[1]
	case TypeChangeContent:
		m.CID = binary.BigEndian.Uint16(b[1:3])
		m.DataType = b[3]
		m.Op = ChangeOp(b[4])
	default:
		m.CID = binary.BigEndian.Uint16(b[1:3])
		m.DID = binary.BigEndian.Uint16(b[3:5])
	}
	return m, n, nil
}

// EncodePayload renders the Requirements and Data that follow the type
// prefix, in the order fragmentation chunks them.
func (m Message) EncodePayload() ([]byte, error) {
	req, err := m.Requirements.Encode()
	if err != nil {
		return nil, err
	}
	return append(req, m.Data.RefBytes()...), nil
}

// Encode renders the full single-frame wire form of m: type prefix,
// part_no=0, total_parts=0, payload. Callers whose payload may exceed a
// single frame should use Fragment instead.
func (m Message) Encode() ([]byte, error) {
	payload, err := m.EncodePayload()
	if err != nil {
		return nil, err
	}
	out := append(m.encodeTypePrefix(), 0, 0)
	out = append(out, payload...)
	if len(out) > maxFrameSize {
		return nil, swarmerr.ErrFrameTooLarge
	}
	return out, nil
}

// Decode parses a single, unfragmented frame produced by Encode. Frames
// belonging to a multi-part message must go through Reassembler instead.
func Decode(b []byte) (Message, error) {
	m, n, err := decodeTypePrefix(b)
	if err != nil {
		return Message{}, err
	}
	b = b[n:]
	if len(b) < 2 {
		return Message{}, fmt.Errorf("syncmsg: frame truncated before part_no/total_parts")
	}
	partNo, totalParts := b[0], b[1]
	b = b[2:]
	if partNo != 0 || totalParts != 0 {
		return Message{}, fmt.Errorf("syncmsg: frame is part of a fragmented message, use Reassembler")
	}
	req, rest, err := DecodeRequirements(b)
	if err != nil {
		return Message{}, err
	}
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
