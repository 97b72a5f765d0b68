package protocol

import (
	"encoding/binary"

	"github.com/gnomeswarm/datastore/appdata"
	"github.com/gnomeswarm/datastore/swarmerr"
)

// RegisterDefaults installs the five §4.I handlers on p, each answering
// directly against p's ApplicationData.
func RegisterDefaults(p *Protocol) {
	p.HandleRequest(KindDatastore, handleDatastore)
	p.HandleRequest(KindAllFirstPages, handleAllFirstPages)
	p.HandleRequest(KindHashes, handleHashes)
	p.HandleRequest(KindPages, handlePages)
	p.HandleRequest(KindAllPages, handleAllPages)
}

func putUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func putUint64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }

// handleDatastore answers KindDatastore: the full (dataType, rootHash)
// list across every CID, flattened from ApplicationData's own 128-entry
// pagination.
func handleDatastore(ad *appdata.ApplicationData, _ Request) ([]byte, error) {
	pages := ad.AllContentRootHashes()
	out := make([]byte, 2, 2+ad.Len()*9)
	var n uint16
	for _, page := range pages {
		for _, th := range page {
			out = append(out, th.DataType)
			var h [8]byte
			putUint64(h[:], th.Hash)
			out = append(out, h[:]...)
			n++
		}
	}
	putUint16(out[0:2], n)
	return out, nil
}

// handleAllFirstPages answers KindAllFirstPages: page 0 of every CID that
// currently has a materialized page 0. Links (whose "page 0" is their Link
// descriptor) are included; shelled CIDs, and any other CID with no
// readable page 0, are silently skipped (the requester already knows the
// top-level hash from a prior Datastore request and can follow up with a
// targeted Pages request).
func handleAllFirstPages(ad *appdata.ApplicationData, _ Request) ([]byte, error) {
	var out []byte
	var n uint16
	for cid := 0; cid < ad.Len(); cid++ {
		c, err := ad.Peek(cid)
		if err != nil {
			continue
		}
		v, err := c.ReadData(0)
		if err != nil {
			continue
		}
		raw := v.RefBytes()
		entry := make([]byte, 4+len(raw))
		putUint16(entry[0:2], uint16(cid))
		putUint16(entry[2:4], uint16(len(raw)))
		copy(entry[4:], raw)
		out = append(out, entry...)
		n++
	}
	head := make([]byte, 2)
	putUint16(head, n)
	return append(head, out...), nil
}

// handleHashes answers Hashes(c_id, d_type, page_ids): the hash recorded
// for each requested page id of one CID, in request order. Up to 128 ids
// per request per §4.I; larger lists are the caller's responsibility to
// split across several requests.
func handleHashes(ad *appdata.ApplicationData, req Request) ([]byte, error) {
	c, err := ad.Peek(int(req.CID))
	if err != nil {
		return nil, err
	}
	hashes := c.DataHashes()
	out := make([]byte, 2, 2+len(req.PageIDs)*10)
	var n uint16
	for _, id := range req.PageIDs {
		if int(id) >= len(hashes) {
			continue
		}
		var entry [10]byte
		putUint16(entry[0:2], id)
		putUint64(entry[2:10], hashes[id])
		out = append(out, entry[:]...)
		n++
	}
	putUint16(out[0:2], n)
	return out, nil
}

// handlePages answers Pages(c_id, d_type, page_ids): the raw bytes of
// each requested page of one CID.
func handlePages(ad *appdata.ApplicationData, req Request) ([]byte, error) {
	c, err := ad.Peek(int(req.CID))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 2)
	var n uint16
	for _, id := range req.PageIDs {
		v, err := c.ReadData(int(id))
		if err != nil {
			continue
		}
		raw := v.RefBytes()
		entry := make([]byte, 4+len(raw))
		putUint16(entry[0:2], id)
		putUint16(entry[2:4], uint16(len(raw)))
		copy(entry[4:], raw)
		out = append(out, entry...)
		n++
	}
	putUint16(out[0:2], n)
	return out, nil
}

// handleAllPages answers AllPages([c_ids]): every page of every named
// CID. estimatedResponseSize guards against a request naming enough CIDs
// (each up to 65535 pages) that a naive byte-count would overflow a
// narrower accumulator before the handler ever touches disk.
func handleAllPages(ad *appdata.ApplicationData, req Request) ([]byte, error) {
	counts := make([]int, len(req.CIDs))
	for i, cid := range req.CIDs {
		c, err := ad.Peek(int(cid))
		if err != nil {
			continue
		}
		counts[i] = len(c.DataHashes())
	}
	if _, ok := estimatedResponseSize(counts, 1024); !ok {
		return nil, swarmerr.ErrFrameTooLarge
	}

	head := make([]byte, 2)
	putUint16(head, uint16(len(req.CIDs)))
	out := head
	for _, cid := range req.CIDs {
		c, err := ad.Peek(int(cid))
		if err != nil {
			out = append(out, encodeCIDPages(cid, nil, nil)...)
			continue
		}
		hashes := c.DataHashes()
		var pages [][]byte
		for i := range hashes {
			v, err := c.ReadData(i)
			if err != nil {
				pages = append(pages, nil)
				continue
			}
			pages = append(pages, v.RefBytes())
		}
		out = append(out, encodeCIDPages(cid, hashes, pages)...)
	}
	return out, nil
}

func encodeCIDPages(cid uint16, hashes []uint64, pages [][]byte) []byte {
	b := make([]byte, 4)
	putUint16(b[0:2], cid)
	putUint16(b[2:4], uint16(len(pages)))
	for _, p := range pages {
		entry := make([]byte, 2+len(p))
		putUint16(entry[0:2], uint16(len(p)))
		copy(entry[2:], p)
		b = append(b, entry...)
	}
	return b
}
