package refdata

import "sync/atomic"

// UnresolvedCounts tallies per-table attribution misses. One instance is
// created per run, so concurrent runs never see each other's numbers; the
// counters are atomic because source workers within a run share it.
type UnresolvedCounts struct {
	channel    atomic.Int64
	sku        atomic.Int64
	promo      atomic.Int64
	influencer atomic.Int64
}

func (u *UnresolvedCounts) CountChannel()    { u.channel.Add(1) }
func (u *UnresolvedCounts) CountSKU()        { u.sku.Add(1) }
func (u *UnresolvedCounts) CountPromo()      { u.promo.Add(1) }
func (u *UnresolvedCounts) CountInfluencer() { u.influencer.Add(1) }

// Snapshot returns the counts keyed by mapping table name.
func (u *UnresolvedCounts) Snapshot() map[string]int64 {
	return map[string]int64{
		TableChannelMap:    u.channel.Load(),
		TableSKUMap:        u.sku.Load(),
		TablePromoBudget:   u.promo.Load(),
		TableInfluencerMap: u.influencer.Load(),
	}
}
