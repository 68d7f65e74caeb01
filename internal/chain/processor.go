package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/meridian-network/meridian-chain/internal/consensus"
	"github.com/meridian-network/meridian-chain/internal/epoch"
	"github.com/meridian-network/meridian-chain/internal/fetch"
	"github.com/meridian-network/meridian-chain/internal/log"
	"github.com/meridian-network/meridian-chain/internal/runner"
	"github.com/meridian-network/meridian-chain/internal/storage"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// ProcessBlock runs the full acceptance pipeline for one block. chunks may
// carry any bodies that arrived with the block; missing ones are fetched.
// Returns nil once the block is durably accepted, ErrAwaitingChunks when it
// is parked for fetching, and a terminal error otherwise. Accepting a block
// may cascade into accepting orphans that were waiting for it.
func (c *Chain) ProcessBlock(blk *block.Block, sender string, chunks []*block.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processLocked(blk, sender, chunks)
}

func (c *Chain) processLocked(blk *block.Block, sender string, chunks []*block.Chunk) error {
	if c.fin.Halted() {
		return ErrHalted
	}
	if blk == nil || blk.Header == nil {
		c.counters.Rejected++
		return consensus.Malformed("nil block from %s", sender)
	}
	hash := blk.Hash()

	if status, ok := c.store.GetStatus(hash); ok && status >= types.StatusAccepted {
		return fmt.Errorf("%w: %s", ErrKnownBlock, hash.Short())
	}
	if p, ok := c.pending[hash]; ok {
		// Already parked: forward any bodies that came with this copy.
		c.deliverToPendingLocked(p, hash, chunks)
		return ErrAwaitingChunks
	}
	if blk.IsGenesis() {
		c.counters.Rejected++
		return consensus.Malformed("unsolicited genesis block from %s", sender)
	}

	parent, err := c.store.GetBlock(blk.Header.PrevHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.orphanLocked(blk, sender, chunks)
		}
		return err
	}

	ep, err := c.epochForChild(parent.Header, blk.Header.PrevHash)
	if err != nil {
		return fmt.Errorf("resolve epoch for %s: %w", hash.Short(), err)
	}

	if err := c.validator.ValidateBlock(blk, parent.Header, ep); err != nil {
		c.counters.Rejected++
		log.Chain.Warn().
			Str("block", hash.Short()).
			Str("sender", sender).
			Err(err).
			Msg("block rejected")
		return err
	}

	if err := c.fin.CheckSafety(hash, blk.Header.Height, blk.Header.PrevHash, c.fc.AncestorAt); err != nil {
		c.haltLocked(err)
		return err
	}

	have, missing, err := c.collectChunksLocked(blk, chunks)
	if err != nil {
		c.counters.Rejected++
		return err
	}
	if len(missing) > 0 {
		c.parkLocked(blk, sender, hash, have, missing)
		return ErrAwaitingChunks
	}

	ordered := make([]*block.Chunk, c.protocol.NumShards)
	for shard, ch := range have {
		ordered[shard] = ch
	}
	return c.acceptLocked(blk, ordered, parent, ep)
}

// collectChunksLocked matches provided chunk bodies against the block's
// declared chunk headers. Bodies that contradict their declared header are a
// terminal error; absent bodies are reported as missing.
func (c *Chain) collectChunksLocked(blk *block.Block, chunks []*block.Chunk) (map[types.ShardID]*block.Chunk, []types.ShardID, error) {
	have := make(map[types.ShardID]*block.Chunk, c.protocol.NumShards)
	for _, ch := range chunks {
		if ch == nil || ch.Header == nil {
			continue
		}
		want := blk.ChunkHeader(ch.Header.ShardID)
		if want == nil {
			continue
		}
		if err := ch.ValidateAgainstHeader(want); err != nil {
			return nil, nil, consensus.MalformedWrap(err, "chunk body")
		}
		have[ch.Header.ShardID] = ch
	}

	var missing []types.ShardID
	for shard := types.ShardID(0); uint32(shard) < c.protocol.NumShards; shard++ {
		if _, ok := have[shard]; ok {
			continue
		}
		if stored, err := c.store.GetChunk(blk.Hash(), shard); err == nil {
			have[shard] = stored
			continue
		}
		missing = append(missing, shard)
	}
	return have, missing, nil
}

// parkLocked holds a validated block while its chunk bodies are fetched.
func (c *Chain) parkLocked(blk *block.Block, sender string, hash types.Hash,
	have map[types.ShardID]*block.Chunk, missing []types.ShardID) {

	c.pending[hash] = &pendingBlock{blk: blk, sender: sender, chunks: have}

	producers := make(map[types.ShardID]string, len(missing))
	for _, shard := range missing {
		if hdr := blk.ChunkHeader(shard); hdr != nil {
			producers[shard] = hex.EncodeToString(hdr.ProducerID)
		}
	}
	c.fetcher.Want(hash, missing, producers)

	log.Chain.Debug().
		Str("block", hash.Short()).
		Int("missing", len(missing)).
		Msg("block parked awaiting chunks")
}

func (c *Chain) deliverToPendingLocked(p *pendingBlock, hash types.Hash, chunks []*block.Chunk) {
	for _, ch := range chunks {
		if ch == nil || ch.Header == nil {
			continue
		}
		if _, ok := p.chunks[ch.Header.ShardID]; ok {
			continue
		}
		// Deliver through the coordinator so its bookkeeping stays accurate.
		c.mu.Unlock()
		_ = c.fetcher.Deliver(hash, ch)
		c.mu.Lock()
	}
}

// orphanLocked buffers a block whose parent is unknown, together with any
// chunk bodies that came with it.
func (c *Chain) orphanLocked(blk *block.Block, sender string, chunks []*block.Chunk) error {
	hash := blk.Hash()
	if err := c.orphans.Add(blk, sender, chunks); err != nil {
		c.counters.Rejected++
		log.Orphans.Warn().
			Str("block", hash.Short()).
			Str("sender", sender).
			Err(err).
			Msg("orphan dropped")
		return err
	}
	c.counters.Orphaned++
	log.Orphans.Debug().
		Str("block", hash.Short()).
		Str("parent", blk.Header.PrevHash.Short()).
		Str("sender", sender).
		Msg("block buffered as orphan")
	return fmt.Errorf("%w: parent %s", consensus.ErrUnknownParent, blk.Header.PrevHash.Short())
}

// acceptLocked applies the block's chunks, advances fork choice, finality,
// and the epoch schedule, and commits everything in one atomic write. On
// success it cascades into any orphans waiting for this block.
func (c *Chain) acceptLocked(blk *block.Block, chunks []*block.Chunk, parent *block.Block, ep *epoch.Info) error {
	hash := blk.Hash()
	height := blk.Header.Height
	parentHash := blk.Header.PrevHash

	// Each chunk must consume exactly the receipts the parent's application
	// routed to its shard, in that order.
	for shard := types.ShardID(0); uint32(shard) < c.protocol.NumShards; shard++ {
		expected, err := c.store.GetRoutedReceipts(parentHash, shard)
		if err != nil {
			return err
		}
		if err := matchIncomingReceipts(chunks[shard].InReceipts, expected); err != nil {
			c.counters.Rejected++
			return consensus.MalformedWrap(err, fmt.Sprintf("shard %d incoming receipts", shard))
		}
	}

	priorRoots := make([]types.Hash, c.protocol.NumShards)
	for shard := types.ShardID(0); uint32(shard) < c.protocol.NumShards; shard++ {
		root, err := c.store.GetStateRoot(parentHash, shard)
		if err != nil {
			return fmt.Errorf("parent state root shard %d: %w", shard, err)
		}
		priorRoots[shard] = root
	}

	results, err := c.runner.ApplyBlock(context.Background(), hash, height, priorRoots, chunks)
	if err != nil {
		c.counters.Rejected++
		var fault *runner.StateTransitionFault
		if errors.As(err, &fault) {
			log.Chain.Error().
				Str("block", hash.Short()).
				Uint32("shard", uint32(fault.Shard)).
				Msg("block rejected on state transition fault")
		}
		return err
	}
	routed := runner.RouteReceipts(results, c.protocol.NumShards)

	// Approvals carried by this block endorse its parent.
	parentEp, err := c.epochByID(parent.Header.EpochID)
	if err != nil {
		return err
	}
	parentWeight, approvers, err := c.tallyApprovalsLocked(blk, parentHash, height, parentEp)
	if err != nil {
		c.counters.Rejected++
		return err
	}

	w, err := c.store.BeginBlockWrite()
	if err != nil {
		return err
	}
	defer w.Discard()
	if err := c.stageBlockLocked(w, blk, chunks, results, routed); err != nil {
		return err
	}
	if err := w.SetWeight(parentHash, parentWeight); err != nil {
		return err
	}
	if len(approvers) > 0 {
		if err := w.SetApprovers(parentHash, approvers); err != nil {
			return err
		}
	}

	// Fork choice learns the block before the head and finality decisions.
	if err := c.ensureTrackedLocked(parentHash, parent.Header.Height); err != nil {
		return err
	}
	if err := c.fc.AddBlock(hash, parentHash, height, 0); err != nil && !errors.Is(err, consensus.ErrDuplicateBlock) {
		return err
	}
	if parentWeight > 0 {
		if err := c.fc.AddWeight(parentHash, c.deltaWeightLocked(parentHash, parentWeight)); err != nil {
			return err
		}
	}

	finalized, finalizedHeight, finalizedNow, err := c.advanceFinalityLocked(w, parentHash, height-1, parent.Header.PrevHash, parentWeight, parentEp)
	if err != nil {
		return err
	}

	if err := c.updateHeadLocked(w); err != nil {
		return err
	}

	if ep.IsBoundary(height) {
		if err := c.stageEpochTransitionLocked(w, blk, ep, parentWeight); err != nil {
			return err
		}
	}

	if err := w.Commit(); err != nil {
		return fmt.Errorf("commit block %s: %w", hash.Short(), err)
	}

	c.counters.Accepted++
	log.Chain.Info().
		Str("block", hash.Short()).
		Uint64("height", height).
		Str("head", c.head.Hash.Short()).
		Msg("block accepted")

	if finalizedNow {
		c.counters.Finalized++
		log.Chain.Info().
			Str("block", finalized.Short()).
			Uint64("height", finalizedHeight).
			Msg("block finalized")
		c.pruneLocked(finalizedHeight)
	}

	if err := c.net.BroadcastBlock(blk); err != nil {
		log.Chain.Warn().Err(err).Msg("block broadcast failed")
	}

	c.cascadeOrphansLocked(hash, height)
	return nil
}

// tallyApprovalsLocked folds the approvals a block carries for its parent
// into the parent's persisted approver set and returns the new total weight
// plus the updated bitmask. Each epoch validator is counted once no matter
// how often its approval is replayed: weight is derived from the set, never
// accumulated. Approvals for anything other than the direct parent are a
// protocol violation.
func (c *Chain) tallyApprovalsLocked(blk *block.Block, parentHash types.Hash, height uint64, parentEp *epoch.Info) (uint64, []byte, error) {
	mask := c.store.GetApprovers(parentHash)
	for _, a := range block.DedupeApprovals(blk.Approvals) {
		if a.BlockHash != parentHash || a.Height != height-1 {
			return 0, nil, consensus.Malformed("approval targets %s at %d, block endorses parent %s at %d",
				a.BlockHash.Short(), a.Height, parentHash.Short(), height-1)
		}
		idx, ok := parentEp.ValidatorIndex(a.ValidatorID)
		if !ok {
			return 0, nil, consensus.Malformed("approval from validator outside epoch %s", parentEp.ID)
		}
		if hasApprover(mask, idx) {
			continue
		}
		if _, err := c.validator.ValidateApproval(a, parentEp); err != nil {
			return 0, nil, err
		}
		mask = setApprover(mask, idx)
	}
	return approvedWeight(parentEp, mask), mask, nil
}

// hasApprover reports whether validator index i is marked in the bitmask.
func hasApprover(mask []byte, i int) bool {
	return i/8 < len(mask) && mask[i/8]&(1<<uint(i%8)) != 0
}

// setApprover marks validator index i, growing the mask as needed.
func setApprover(mask []byte, i int) []byte {
	if i/8 >= len(mask) {
		grown := make([]byte, i/8+1)
		copy(grown, mask)
		mask = grown
	}
	mask[i/8] |= 1 << uint(i%8)
	return mask
}

// approvedWeight sums the weight of every validator marked in the mask.
func approvedWeight(ep *epoch.Info, mask []byte) uint64 {
	var total uint64
	for i := range ep.Validators {
		if hasApprover(mask, i) {
			total += ep.Validators[i].Weight
		}
	}
	return total
}

func (c *Chain) deltaWeightLocked(hash types.Hash, newTotal uint64) uint64 {
	old := c.store.GetWeight(hash)
	if newTotal <= old {
		return 0
	}
	return newTotal - old
}

// ensureTrackedLocked re-roots the fork-choice arena at a stored block that
// predates this process (possible after recovery, when a side fork extends a
// block below the re-seeded root's branch).
func (c *Chain) ensureTrackedLocked(hash types.Hash, height uint64) error {
	if c.fc.Has(hash) {
		return nil
	}
	c.fc.AddRoot(hash, height, c.store.GetWeight(hash), 0)
	return nil
}

// stageBlockLocked stages the block body, chunk bodies, execution outputs,
// and status into the write.
func (c *Chain) stageBlockLocked(w *BlockWrite, blk *block.Block, chunks []*block.Chunk,
	results []runner.ShardResult, routed [][]*block.Receipt) error {

	hash := blk.Hash()
	if err := w.PutBlock(blk); err != nil {
		return err
	}
	for _, ch := range chunks {
		if err := w.PutChunk(hash, ch); err != nil {
			return err
		}
	}
	for _, res := range results {
		if err := w.PutStateRoot(hash, res.Shard, res.NewStateRoot); err != nil {
			return err
		}
	}
	for shard, receipts := range routed {
		if len(receipts) == 0 {
			continue
		}
		if err := w.PutRoutedReceipts(hash, types.ShardID(shard), receipts); err != nil {
			return err
		}
	}
	return w.SetStatus(hash, types.StatusAccepted)
}

// advanceFinalityLocked records the parent's quorum, if any, and stages the
// finality state when it changes.
func (c *Chain) advanceFinalityLocked(w *BlockWrite, parentHash types.Hash, parentHeight uint64,
	grandparent types.Hash, parentWeight uint64, parentEp *epoch.Info) (types.Hash, uint64, bool, error) {

	if !c.fin.HasQuorum(parentWeight, parentEp.TotalWeight()) {
		return types.Hash{}, 0, false, nil
	}
	before := c.fin.State()
	finalized, finalizedHeight, finalizedNow := c.fin.RecordQuorum(parentHash, parentHeight, grandparent)
	after := c.fin.State()
	if after != before {
		if err := w.SetFinality(after); err != nil {
			return finalized, finalizedHeight, finalizedNow, err
		}
	}
	if finalizedNow {
		if err := w.SetStatus(finalized, types.StatusFinalized); err != nil {
			return finalized, finalizedHeight, finalizedNow, err
		}
	}
	return finalized, finalizedHeight, finalizedNow, nil
}

// updateHeadLocked recomputes the best tip and stages canonical index
// changes for any head switch, walking the new branch back to the fork
// point.
func (c *Chain) updateHeadLocked(w *BlockWrite) error {
	tip, ok := c.fc.Head()
	if !ok || tip == c.head {
		return nil
	}

	oldHeight := c.head.Height
	for h := oldHeight; h > tip.Height; h-- {
		if err := w.DeleteCanonical(h); err != nil {
			return err
		}
	}
	for h := tip.Height; ; h-- {
		hash, ok := c.fc.AncestorAt(tip.Hash, h)
		if !ok {
			break
		}
		if existing, ok := c.store.CanonicalHashAt(h); ok && existing == hash {
			break
		}
		if err := w.SetCanonical(h, hash); err != nil {
			return err
		}
		if h == 0 {
			break
		}
	}
	if err := w.SetHead(tip.Hash, tip.Height); err != nil {
		return err
	}

	if tip.Hash != c.head.Hash && c.head.Height >= tip.Height {
		log.Forkchoice.Info().
			Str("old", c.head.Hash.Short()).
			Str("new", tip.Hash.Short()).
			Uint64("height", tip.Height).
			Msg("head switched forks")
	}
	c.head = tip
	return nil
}

// stageEpochTransitionLocked computes the next epoch from this branch's
// history and stages it atomically with the boundary block.
func (c *Chain) stageEpochTransitionLocked(w *BlockWrite, blk *block.Block, ep *epoch.Info, boundaryParentWeight uint64) error {
	history, err := c.buildHistoryLocked(blk, ep, boundaryParentWeight)
	if err != nil {
		return err
	}
	next, err := c.epochMgr.ComputeNextEpoch(ep, history)
	if err != nil {
		return fmt.Errorf("epoch transition at height %d: %w", blk.Header.Height, err)
	}
	if err := w.PutEpochInfo(next); err != nil {
		return err
	}
	c.epochs[next.ID] = next
	log.Epoch.Info().
		Uint64("index", next.Index).
		Uint64("first_height", next.FirstHeight).
		Int("validators", len(next.Validators)).
		Msg("next epoch computed")
	return nil
}

// buildHistoryLocked walks this block's branch back to the epoch's first
// height and summarizes each block for the epoch manager.
func (c *Chain) buildHistoryLocked(blk *block.Block, ep *epoch.Info, parentWeight uint64) (*epoch.History, error) {
	mask := make([]bool, c.protocol.NumShards)
	for i := range mask {
		mask[i] = true
	}

	var summaries []epoch.BlockSummary
	cur := blk
	for {
		weight := c.store.GetWeight(cur.Hash())
		if cur.Hash() == blk.Header.PrevHash {
			// The parent's new weight is staged but not committed yet.
			weight = parentWeight
		}
		summaries = append(summaries, epoch.BlockSummary{
			Hash:           cur.Hash(),
			Height:         cur.Header.Height,
			Proposer:       cur.Header.ProposerID,
			ChunkMask:      mask,
			ApprovedWeight: weight,
		})
		if cur.Header.Height <= ep.FirstHeight || cur.IsGenesis() {
			break
		}
		parent, err := c.store.GetBlock(cur.Header.PrevHash)
		if err != nil {
			return nil, fmt.Errorf("epoch history at height %d: %w", cur.Header.Height-1, err)
		}
		cur = parent
	}

	// Walked tip-to-first; the manager wants height order.
	for i, j := 0, len(summaries)-1; i < j; i, j = i+1, j-1 {
		summaries[i], summaries[j] = summaries[j], summaries[i]
	}
	return &epoch.History{
		EpochID:       ep.ID,
		LastBlockHash: blk.Hash(),
		Blocks:        summaries,
	}, nil
}

// cascadeOrphansLocked resubmits every orphan that was waiting on the newly
// accepted block, breadth-first, so C-then-P arrival orders resolve as soon
// as the missing ancestor lands. Chunk bodies that arrived with the orphan
// go back in with it; nothing is re-fetched that was already delivered.
func (c *Chain) cascadeOrphansLocked(accepted types.Hash, acceptedHeight uint64) {
	queue := c.orphans.ChildrenOf(accepted)
	for len(queue) > 0 {
		child := queue[0]
		queue = queue[1:]

		err := c.processLocked(child.Block, child.Sender, child.Chunks)
		switch {
		case err == nil:
			queue = append(queue, c.orphans.ChildrenOf(child.Block.Hash())...)
		case errors.Is(err, ErrAwaitingChunks):
			// Parked; its own completion will cascade further.
		default:
			log.Orphans.Debug().
				Str("block", child.Block.Hash().Short()).
				Err(err).
				Msg("orphan rejected on resubmission")
		}
	}
	c.orphans.EvictBelow(acceptedHeight)
}

// DeliverChunk feeds an unsolicited or requested chunk body to the fetch
// coordinator. Chunks for blocks that are not awaiting bodies are dropped.
func (c *Chain) DeliverChunk(blockHash types.Hash, chunk *block.Chunk) error {
	if c.fin.Halted() {
		return ErrHalted
	}
	if chunk == nil || chunk.Header == nil {
		return consensus.Malformed("nil chunk")
	}

	c.mu.Lock()
	p, parked := c.pending[blockHash]
	if parked {
		want := p.blk.ChunkHeader(chunk.Header.ShardID)
		if want == nil {
			c.mu.Unlock()
			return consensus.Malformed("chunk for unknown shard %d of block %s", chunk.Header.ShardID, blockHash.Short())
		}
		if err := chunk.ValidateAgainstHeader(want); err != nil {
			c.mu.Unlock()
			return consensus.MalformedWrap(err, "fetched chunk")
		}
	}
	c.mu.Unlock()

	// The coordinator fires onChunksFetched synchronously when this was the
	// last missing body; that callback takes the chain lock itself.
	return c.fetcher.Deliver(blockHash, chunk)
}

// onChunksFetched resumes a parked block once all its chunk bodies arrived.
func (c *Chain) onChunksFetched(blockHash types.Hash, fetched []*block.Chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[blockHash]
	if !ok {
		return
	}
	delete(c.pending, blockHash)

	for _, ch := range fetched {
		p.chunks[ch.Header.ShardID] = ch
	}
	chunks := make([]*block.Chunk, 0, len(p.chunks))
	for shard := types.ShardID(0); uint32(shard) < c.protocol.NumShards; shard++ {
		ch, ok := p.chunks[shard]
		if !ok {
			log.Chain.Error().
				Str("block", blockHash.Short()).
				Uint32("shard", uint32(shard)).
				Msg("fetch completed with a shard still missing")
			return
		}
		chunks = append(chunks, ch)
	}

	if err := c.processLocked(p.blk, p.sender, chunks); err != nil && !errors.Is(err, ErrAwaitingChunks) {
		log.Chain.Warn().
			Str("block", blockHash.Short()).
			Err(err).
			Msg("parked block rejected after chunk fetch")
	}
}

// onFetchStalled records a stalled fetch. The block stays parked: a late
// chunk delivery still completes it.
func (c *Chain) onFetchStalled(e *fetch.StalledError) {
	log.Fetch.Warn().
		Str("block", e.Block.Short()).
		Uint32("shard", uint32(e.Shard)).
		Msg("chunk fetch stalled, waiting for late delivery")
}

// ProcessApproval handles an approval received on its own rather than
// embedded in a block. A quorum reached this way advances finality exactly
// as one carried by a child block would.
func (c *Chain) ProcessApproval(a *block.Approval) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fin.Halted() {
		return ErrHalted
	}
	if a == nil {
		return consensus.Malformed("nil approval")
	}

	target, err := c.store.GetBlock(a.BlockHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: approval for %s", consensus.ErrUnknownParent, a.BlockHash.Short())
		}
		return err
	}
	if a.Height != target.Header.Height {
		return consensus.Malformed("approval height %d, block height %d", a.Height, target.Header.Height)
	}

	ep, err := c.epochByID(target.Header.EpochID)
	if err != nil {
		return err
	}
	if _, err := c.validator.ValidateApproval(a, ep); err != nil {
		return err
	}
	idx, ok := ep.ValidatorIndex(a.ValidatorID)
	if !ok {
		return consensus.Malformed("approval from validator outside epoch %s", ep.ID)
	}

	mask := c.store.GetApprovers(a.BlockHash)
	if hasApprover(mask, idx) {
		// Replay of an already counted approval: no weight change, nothing
		// to persist.
		return nil
	}
	mask = setApprover(mask, idx)
	total := approvedWeight(ep, mask)

	w, err := c.store.BeginBlockWrite()
	if err != nil {
		return err
	}
	defer w.Discard()
	if err := w.SetWeight(a.BlockHash, total); err != nil {
		return err
	}
	if err := w.SetApprovers(a.BlockHash, mask); err != nil {
		return err
	}
	if c.fc.Has(a.BlockHash) {
		if err := c.fc.AddWeight(a.BlockHash, c.deltaWeightLocked(a.BlockHash, total)); err != nil {
			return err
		}
	}

	finalized, finalizedHeight, finalizedNow, err := c.advanceFinalityLocked(
		w, a.BlockHash, target.Header.Height, target.Header.PrevHash, total, ep)
	if err != nil {
		return err
	}

	if err := c.updateHeadLocked(w); err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}

	if finalizedNow {
		c.counters.Finalized++
		log.Chain.Info().
			Str("block", finalized.Short()).
			Uint64("height", finalizedHeight).
			Msg("block finalized on standalone approval")
		c.pruneLocked(finalizedHeight)
	}
	if err := c.net.BroadcastApproval(a); err != nil {
		log.Chain.Warn().Err(err).Msg("approval broadcast failed")
	}
	return nil
}

// haltLocked latches the chain after a safety violation. No further blocks
// or approvals are processed until a restart.
func (c *Chain) haltLocked(err error) {
	c.fin.Halt()
	log.Chain.Error().
		Err(err).
		Msg("SAFETY VIOLATION: chain halted, operator intervention required")
}

// matchIncomingReceipts verifies that a chunk consumes exactly the expected
// receipt sequence.
func matchIncomingReceipts(got, expected []*block.Receipt) error {
	if len(got) != len(expected) {
		return fmt.Errorf("consumes %d receipts, %d outstanding", len(got), len(expected))
	}
	for i := range got {
		if got[i].ID != expected[i].ID {
			return fmt.Errorf("receipt %d: id %s, expected %s", i, got[i].ID.Short(), expected[i].ID.Short())
		}
	}
	return nil
}
