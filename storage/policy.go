package storage

// Kind names one of the six per-swarm storage policies (§4.H).
type Kind uint8

const (
	// Discard persists nothing at all for this swarm.
	Discard Kind = iota
	// Datastore persists only the top-level (dataType, rootHash) row per
	// CID -- no page bytes, no .hdr/.dat files.
	Datastore
	// SelectMainPages persists only the page IDs named in PageIDs, for
	// every CID.
	SelectMainPages
	// MainPages persists only page 0 of every CID.
	MainPages
	// SelectedContents persists full pages for the CIDs named in CIDs;
	// other CIDs fall back to a Datastore-style hash-only row when
	// IncludeOthers is set, or are discarded entirely otherwise.
	SelectedContents
	// Everything persists every page of every CID.
	Everything
)

// Policy configures what Flush persists for one swarm.
type Policy struct {
	Kind          Kind
	PageIDs       []uint16 // SelectMainPages
	CIDs          []uint16 // SelectedContents
	IncludeOthers bool     // SelectedContents: whether non-listed CIDs get a hash-only row
}

// decision is the per-CID outcome of applying a Policy.
type decision struct {
	storeRow     bool // write the (dataType, hash) row to datastore.sync
	pagesEnabled bool // write any page bytes to .dat at all
	maxPageID    int  // -1 = no cap; else only pageID <= maxPageID gets real bytes
	onlyPages    map[uint16]bool // non-nil: only these page IDs get real bytes
}

func (p Policy) decide(cid uint16) decision {
	switch p.Kind {
	case Discard:
		return decision{storeRow: false}
	case Datastore:
		return decision{storeRow: true, pagesEnabled: false}
	case SelectMainPages:
		only := make(map[uint16]bool, len(p.PageIDs))
		for _, id := range p.PageIDs {
			only[id] = true
		}
		return decision{storeRow: true, pagesEnabled: true, maxPageID: -1, onlyPages: only}
	case MainPages:
		return decision{storeRow: true, pagesEnabled: true, maxPageID: 0}
	case SelectedContents:
		for _, c := range p.CIDs {
			if c == cid {
				return decision{storeRow: true, pagesEnabled: true, maxPageID: -1}
			}
		}
		if p.IncludeOthers {
			return decision{storeRow: true, pagesEnabled: false}
		}
		return decision{storeRow: false}
	case Everything:
		return decision{storeRow: true, pagesEnabled: true, maxPageID: -1}
	default:
		return decision{storeRow: false}
	}
}

func (d decision) wantsPage(pageID uint16) bool {
	if !d.pagesEnabled {
		return false
	}
	if d.onlyPages != nil {
		return d.onlyPages[pageID]
	}
	if d.maxPageID < 0 {
		return true
	}
	return int(pageID) <= d.maxPageID
}
