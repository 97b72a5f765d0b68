package broadcast

import (
	"sync"

	"github.com/gnomeswarm/datastore/appdata"
	"github.com/gnomeswarm/datastore/content"
	"github.com/gnomeswarm/datastore/log"
	"github.com/gnomeswarm/datastore/metrics"
	"github.com/gnomeswarm/datastore/swarmerr"
)

var moduleLog = log.Default().Module("broadcast")

// Receiver feeds incoming broadcast Frames into the TransformInfo of the
// Link at their target CID, promoting it to Data once every hash and data
// slot has arrived, per one ApplicationData.
type Receiver struct {
	ad *appdata.ApplicationData

	mu       sync.Mutex
	inFlight map[int]bool // CIDs with a promotion currently tracked in PromotionsActive
}

// NewReceiver returns a Receiver driving promotions against ad.
func NewReceiver(ad *appdata.ApplicationData) *Receiver {
	return &Receiver{ad: ad, inFlight: make(map[int]bool)}
}

// markInFlight records cid as having an observed in-progress promotion,
// reporting it to PromotionsActive exactly once until it resolves.
func (r *Receiver) markInFlight(cid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inFlight[cid] {
		r.inFlight[cid] = true
		metrics.PromotionsActive.Inc()
	}
}

// clearInFlight reports a previously marked cid as resolved (promoted or
// aborted).
func (r *Receiver) clearInFlight(cid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[cid] {
		delete(r.inFlight, cid)
		metrics.PromotionsActive.Dec()
	}
}

// HandleFrame absorbs one Frame targeting cid. It returns the Link's
// dataType plus the missing hash-group and missing data-part indices
// (§4.E's "missing-data enquiry"), so the caller can issue targeted
// re-requests via the protocol package's Hashes/Pages methods. A hash
// mismatch aborts only this promotion: the Link reverts to carrying no
// TransformInfo and ErrHashMismatch is returned.
func (r *Receiver) HandleFrame(cid int, f Frame) (dataType uint8, missingHashGroups, missingDataParts []uint16, err error) {
	c, err := r.ad.Peek(cid)
	if err != nil {
		return 0, nil, nil, err
	}
	link, ok := c.AsLink()
	if !ok || link.Transform == nil {
		return 0, nil, nil, swarmerr.ErrLinkNonTransformative
	}
	ti := link.Transform
	r.markInFlight(cid)

	if f.IsHash {
		missingHashGroups, missingDataParts, err = ti.InsertHashGroup(f.PartNo, f.TotalParts, f.Hashes)
	} else {
		missingHashGroups, missingDataParts, err = ti.InsertDataFrame(f.PartNo, f.Data)
	}
	if err != nil {
		moduleLog.Warn("aborting promotion after hash mismatch", "c_id", cid, "err", err)
		if abortErr := r.abort(cid); abortErr != nil {
			return ti.DataType, missingHashGroups, missingDataParts, abortErr
		}
		return ti.DataType, missingHashGroups, missingDataParts, err
	}

	if ti.ReadyToPromote() {
		if promoteErr := r.promote(cid); promoteErr != nil {
			return ti.DataType, missingHashGroups, missingDataParts, promoteErr
		}
	}
	return ti.DataType, missingHashGroups, missingDataParts, nil
}

// promote completes a ready TransformInfo: takes the Link out, converts it
// to Data, and reinstalls it at the same CID. On failure the Content is
// reinstalled unchanged (still a Link, still carrying its TransformInfo)
// so the caller may retry or abort explicitly.
func (r *Receiver) promote(cid int) error {
	c, err := r.ad.Take(cid)
	if err != nil {
		return err
	}
	if err := c.LinkToData(); err != nil {
		_ = r.ad.Update(cid, c)
		return err
	}
	if err := r.ad.Update(cid, c); err != nil {
		return err
	}
	r.clearInFlight(cid)
	metrics.PromotionsCompleted.Inc()
	return nil
}

// abort cancels an in-flight promotion, reverting the Link at cid to
// carry no TransformInfo (used once the broadcast hashes fail to verify
// against the advertised root).
func (r *Receiver) abort(cid int) error {
	c, err := r.ad.Take(cid)
	if err != nil {
		return err
	}
	link, ok := c.AsLink()
	if !ok {
		return r.ad.Update(cid, c)
	}
	link.Transform = nil
	r.clearInFlight(cid)
	return r.ad.Update(cid, content.NewLink(link))
}
