package chain

import (
	"encoding/json"

	"github.com/meridian-network/meridian-chain/internal/log"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// pruneLocked removes block data strictly below the retention horizon:
// finalized height minus the retention window, clipped to the lowest height
// the fork-choice arena still references. Runs incrementally, at most
// gcBatch blocks per call; the floor catches up across successive
// finalizations. Finality is what makes this safe: nothing below a finalized
// block can ever be re-validated or re-applied.
func (c *Chain) pruneLocked(finalizedHeight uint64) {
	// Finality kills every fork below it; release those fork-choice nodes
	// first so the horizon clip reflects only live state.
	c.fc.PruneBelow(finalizedHeight)

	if c.retention == 0 || finalizedHeight < c.retention {
		return
	}
	horizon := finalizedHeight - c.retention
	if minTracked, ok := c.fc.MinTrackedHeight(); ok && horizon > minTracked {
		horizon = minTracked
	}
	floor := c.store.GetGCFloor()
	if horizon <= floor {
		return
	}

	victims := c.collectPruneVictimsLocked(floor, horizon)
	if len(victims) == 0 {
		// Nothing retained in the window: just advance the floor.
		c.commitFloorLocked(horizon)
		return
	}

	w, err := c.store.BeginBlockWrite()
	if err != nil {
		log.GC.Error().Err(err).Msg("gc batch open failed")
		return
	}
	defer w.Discard()
	pruned := 0
	var prunedWeight uint64
	for _, v := range victims {
		// Canonical victims carry the weight the recovered fork-choice root
		// must keep counting; fork victims never contributed to any score.
		if canon, ok := c.store.CanonicalHashAt(v.height); ok && canon == v.hash {
			prunedWeight += c.store.GetWeight(v.hash)
		}
		if err := w.DeleteBlockData(v.hash, c.protocol.NumShards); err != nil {
			log.GC.Error().Err(err).Str("block", v.hash.Short()).Msg("gc stage failed")
			return
		}
		pruned++
	}
	if prunedWeight > 0 {
		if err := w.SetPrunedWeight(c.store.GetPrunedWeight() + prunedWeight); err != nil {
			log.GC.Error().Err(err).Msg("gc pruned-weight stage failed")
			return
		}
	}

	// The floor only advances once the window is fully swept. A full batch
	// means more blocks may remain: keep the floor and resume on the next
	// trigger, where the scan skips what this batch already deleted.
	newFloor := horizon
	if len(victims) == c.gcBatch {
		newFloor = floor
	}
	if err := w.SetGCFloor(newFloor); err != nil {
		log.GC.Error().Err(err).Msg("gc floor stage failed")
		return
	}
	if err := w.Commit(); err != nil {
		log.GC.Error().Err(err).Msg("gc commit failed")
		return
	}

	c.counters.Pruned += uint64(pruned)
	c.orphans.EvictBelow(c.head.Height)

	log.GC.Info().
		Uint64("horizon", horizon).
		Uint64("floor", newFloor).
		Int("pruned", pruned).
		Msg("pruned blocks below retention horizon")
}

type pruneVictim struct {
	hash   types.Hash
	height uint64
}

// collectPruneVictimsLocked scans stored blocks in [floor, horizon) across
// every fork, bounded by the batch size. The canonical head can never appear
// here: the horizon sits below the finalized height, which sits below the
// head.
func (c *Chain) collectPruneVictimsLocked(floor, horizon uint64) []pruneVictim {
	var victims []pruneVictim
	err := c.store.db.ForEach(prefixBlock, func(key, value []byte) error {
		var blk block.Block
		if err := json.Unmarshal(value, &blk); err != nil {
			// Skip rather than stall the whole sweep on one bad record.
			log.GC.Warn().Err(err).Msg("undecodable block during gc sweep")
			return nil
		}
		h := blk.Header.Height
		if h < floor || h >= horizon {
			return nil
		}
		victims = append(victims, pruneVictim{hash: blk.Hash(), height: h})
		if len(victims) >= c.gcBatch {
			return errSweepFull
		}
		return nil
	})
	if err != nil && err != errSweepFull {
		log.GC.Error().Err(err).Msg("gc sweep failed")
	}
	return victims
}

// errSweepFull stops the prefix scan once the batch is full.
var errSweepFull = &sweepFullError{}

type sweepFullError struct{}

func (*sweepFullError) Error() string { return "gc sweep batch full" }

func (c *Chain) commitFloorLocked(horizon uint64) {
	w, err := c.store.BeginBlockWrite()
	if err != nil {
		log.GC.Error().Err(err).Msg("gc floor batch open failed")
		return
	}
	defer w.Discard()
	if err := w.SetGCFloor(horizon); err != nil {
		log.GC.Error().Err(err).Msg("gc floor stage failed")
		return
	}
	if err := w.Commit(); err != nil {
		log.GC.Error().Err(err).Msg("gc floor commit failed")
	}
}
