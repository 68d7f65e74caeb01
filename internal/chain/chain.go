package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/meridian-network/meridian-chain/config"
	"github.com/meridian-network/meridian-chain/internal/consensus"
	"github.com/meridian-network/meridian-chain/internal/epoch"
	"github.com/meridian-network/meridian-chain/internal/execution"
	"github.com/meridian-network/meridian-chain/internal/fetch"
	"github.com/meridian-network/meridian-chain/internal/log"
	"github.com/meridian-network/meridian-chain/internal/network"
	"github.com/meridian-network/meridian-chain/internal/orphan"
	"github.com/meridian-network/meridian-chain/internal/runner"
	"github.com/meridian-network/meridian-chain/internal/storage"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

var (
	// ErrHalted is returned for every submission after a safety violation
	// latched the chain. Only a restart clears it.
	ErrHalted = errors.New("chain halted after safety violation")

	// ErrKnownBlock marks a duplicate submission of an already accepted block.
	ErrKnownBlock = errors.New("block already known")

	// ErrAwaitingChunks is returned when a block is held back until its
	// missing chunk bodies arrive. Not a failure: the block resumes on its
	// own once the fetch coordinator completes.
	ErrAwaitingChunks = errors.New("block accepted pending chunk fetch")
)

// pendingBlock is a structurally valid block parked until every chunk body
// is available.
type pendingBlock struct {
	blk    *block.Block
	sender string
	chunks map[types.ShardID]*block.Chunk
}

// Counters are the chain's processing counters, monotonically increasing
// since startup.
type Counters struct {
	Accepted  uint64
	Rejected  uint64
	Orphaned  uint64
	Finalized uint64
	Pruned    uint64
}

// Chain is the block-processing core: it validates incoming blocks, drives
// per-shard state transitions, tracks forks, advances finality, rotates
// epochs, and persists every accepted block atomically. All mutating entry
// points serialize on one mutex; heavy per-shard execution runs inside the
// runner's worker pool while the lock is held, so acceptance of one block is
// a single indivisible step.
type Chain struct {
	mu sync.Mutex

	protocol config.ProtocolConfig
	genesis  types.Hash

	store     *Store
	validator *consensus.Validator
	fc        *consensus.ForkChoice
	fin       *consensus.Finalizer
	orphans   *orphan.Pool
	fetcher   *fetch.Coordinator
	runner    *runner.Runner
	epochMgr  epoch.Manager
	net       network.Sender

	epochs map[types.EpochID]*epoch.Info
	head   consensus.ChainTip

	pending map[types.Hash]*pendingBlock

	retention uint64
	gcBatch   int

	counters Counters
}

// New opens or initializes a chain over the given database. A fresh database
// is seeded from genesis; an existing one recovers the persisted tip,
// finality state, and epoch schedule.
func New(db storage.DB, gen *config.Genesis, cfg *config.Config,
	engine execution.Engine, net network.Sender) (*Chain, error) {

	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	if net == nil {
		net = network.NopSender{}
	}

	store := NewStore(db)
	finState, err := store.GetFinality()
	if err != nil {
		return nil, err
	}

	c := &Chain{
		protocol:  gen.Protocol,
		store:     store,
		validator: consensus.NewValidator(crypto.SchnorrVerifier{}, gen.Protocol.NumShards, gen.Protocol.MaxGasPerChunk, gen.Protocol.MaxBlockSize),
		fc:        consensus.NewForkChoice(),
		fin:       consensus.NewFinalizer(gen.Protocol.FinalityNum, gen.Protocol.FinalityDen, finState),
		orphans:   orphan.NewPool(cfg.Orphans.MaxBlocks, cfg.Orphans.MaxPerSender, cfg.Orphans.ExpiryHeights),
		runner:    runner.New(engine, cfg.Workers),
		epochMgr:  epoch.NewRotatingManager(gen.Protocol.NumShards),
		net:       net,
		epochs:    make(map[types.EpochID]*epoch.Info),
		pending:   make(map[types.Hash]*pendingBlock),
		retention: cfg.GC.RetentionWindow,
		gcBatch:   cfg.GC.BatchSize,
	}
	c.fetcher = fetch.NewCoordinator(net, cfg.Fetch.Timeout, cfg.Fetch.MaxRetries,
		c.onChunksFetched, c.onFetchStalled)

	if _, _, ok := store.GetHead(); ok {
		if err := c.recover(); err != nil {
			return nil, fmt.Errorf("recover chain: %w", err)
		}
	} else {
		if err := c.initGenesis(gen); err != nil {
			return nil, fmt.Errorf("init genesis: %w", err)
		}
	}
	return c, nil
}

// Close stops the fetch coordinator.
func (c *Chain) Close() {
	c.fetcher.Close()
}

// initGenesis writes the genesis block, epoch 0, and the initial shard state
// roots in one atomic batch.
func (c *Chain) initGenesis(gen *config.Genesis) error {
	validators, err := genesisValidators(gen)
	if err != nil {
		return err
	}
	ep0, err := epoch.GenesisInfo(validators, c.protocol.NumShards, c.protocol.EpochLength, gen.ChainID)
	if err != nil {
		return err
	}

	genesisBlk := block.NewBlock(&block.Header{
		Version:   block.CurrentVersion,
		PrevHash:  types.Hash{},
		Height:    0,
		EpochID:   ep0.ID,
		Timestamp: gen.Timestamp,
	}, nil)
	hash := genesisBlk.Hash()

	roots, err := genesisStateRoots(gen)
	if err != nil {
		return err
	}

	w, err := c.store.BeginBlockWrite()
	if err != nil {
		return err
	}
	defer w.Discard()
	if err := w.PutBlock(genesisBlk); err != nil {
		return err
	}
	for shard := types.ShardID(0); uint32(shard) < c.protocol.NumShards; shard++ {
		if err := w.PutStateRoot(hash, shard, roots[shard]); err != nil {
			return err
		}
	}
	if err := w.PutEpochInfo(ep0); err != nil {
		return err
	}
	if err := w.SetStatus(hash, types.StatusAccepted); err != nil {
		return err
	}
	if err := w.SetCanonical(0, hash); err != nil {
		return err
	}
	if err := w.SetHead(hash, 0); err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}

	c.genesis = hash
	c.epochs[ep0.ID] = ep0
	c.fc.AddRoot(hash, 0, 0, 0)
	c.head = consensus.ChainTip{Hash: hash, Height: 0}

	log.Chain.Info().
		Str("hash", hash.Short()).
		Str("epoch", ep0.ID.String()).
		Uint32("shards", c.protocol.NumShards).
		Msg("chain initialized from genesis")
	return nil
}

// recover rebuilds in-memory state from the persisted canonical chain. The
// fork-choice arena is re-seeded from the last finalized block (or the GC
// floor) up to the stored head; competing forks above the root are learned
// again as their blocks arrive.
func (c *Chain) recover() error {
	headHash, headHeight, _ := c.store.GetHead()

	// With pruning, the oldest retained canonical block stands in for genesis.
	floor := c.store.GetGCFloor()
	genesisHash, ok := c.store.CanonicalHashAt(floor)
	if !ok {
		return fmt.Errorf("canonical chain has no block at gc floor %d", floor)
	}
	c.genesis = genesisHash

	state := c.fin.State()
	rootHeight := floor
	if state.HasFinalized && state.FinalizedHeight > rootHeight {
		rootHeight = state.FinalizedHeight
	}
	rootHash, ok := c.store.CanonicalHashAt(rootHeight)
	if !ok {
		return fmt.Errorf("canonical chain has no block at root height %d", rootHeight)
	}

	// The root's base re-seeds the endorsement weight accumulated below it:
	// the pruned-weight record covers everything the garbage collector
	// deleted, stored per-block weights cover the retained stretch. Without
	// it, recovered tip scores would not match their pre-restart values.
	base := c.store.GetPrunedWeight()
	for h := floor; h < rootHeight; h++ {
		if hash, ok := c.store.CanonicalHashAt(h); ok {
			base += c.store.GetWeight(hash)
		}
	}
	c.fc.AddRoot(rootHash, rootHeight, c.store.GetWeight(rootHash), base)
	for h := rootHeight + 1; h <= headHeight; h++ {
		hash, ok := c.store.CanonicalHashAt(h)
		if !ok {
			return fmt.Errorf("canonical index gap at height %d", h)
		}
		blk, err := c.store.GetBlock(hash)
		if err != nil {
			return err
		}
		if err := c.fc.AddBlock(hash, blk.Header.PrevHash, h, 0); err != nil {
			return err
		}
		if weight := c.store.GetWeight(hash); weight > 0 {
			if err := c.fc.AddWeight(hash, weight); err != nil {
				return err
			}
		}
	}

	if tip, ok := c.fc.Head(); ok {
		c.head = tip
	} else {
		c.head = consensus.ChainTip{Hash: headHash, Height: headHeight}
	}

	headBlk, err := c.store.GetBlock(headHash)
	if err != nil {
		return err
	}
	ep, err := c.epochByID(headBlk.Header.EpochID)
	if err != nil {
		return fmt.Errorf("epoch of stored head: %w", err)
	}

	log.Chain.Info().
		Str("head", headHash.Short()).
		Uint64("height", headHeight).
		Uint64("epoch_index", ep.Index).
		Bool("finalized", state.HasFinalized).
		Uint64("finalized_height", state.FinalizedHeight).
		Msg("chain recovered from storage")
	return nil
}

// epochByID resolves an epoch through the in-memory cache, falling back to
// storage. Missing epochs are an invariant breach: every epoch is persisted
// atomically with the block that triggered its computation.
func (c *Chain) epochByID(id types.EpochID) (*epoch.Info, error) {
	if info, ok := c.epochs[id]; ok {
		return info, nil
	}
	info, err := c.store.GetEpochInfo(id)
	if err != nil {
		return nil, err
	}
	c.epochs[id] = info
	return info, nil
}

// epochForChild returns the epoch governing the child of the given parent
// block. Within an epoch the child inherits the parent's epoch; past the
// boundary it moves to the successor, whose id is derived from the parent
// (the outgoing epoch's last block) and was persisted when that parent was
// accepted.
func (c *Chain) epochForChild(parentHdr *block.Header, parentHash types.Hash) (*epoch.Info, error) {
	parentEp, err := c.epochByID(parentHdr.EpochID)
	if err != nil {
		return nil, err
	}
	if parentHdr.Height+1 <= parentEp.LastHeight() {
		return parentEp, nil
	}
	nextID := epoch.ComputeID(parentEp.ID, parentHash)
	return c.epochByID(nextID)
}

// Head returns the current canonical tip.
func (c *Chain) Head() consensus.ChainTip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// GenesisHash returns the genesis block hash.
func (c *Chain) GenesisHash() types.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.genesis
}

// Finality returns the current finality state.
func (c *Chain) Finality() consensus.FinalityState {
	return c.fin.State()
}

// Halted reports whether a safety violation stopped the chain.
func (c *Chain) Halted() bool {
	return c.fin.Halted()
}

// Tips returns every fork tip currently tracked, best first.
func (c *Chain) Tips() []consensus.ChainTip {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fc.Tips()
}

// Status returns a block's lifecycle status. Blocks parked in the orphan
// pool or awaiting chunks report their in-memory state; everything else
// comes from storage.
func (c *Chain) Status(hash types.Hash) (types.BlockStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[hash]; ok {
		return types.StatusPending, true
	}
	if c.orphans.Has(hash) {
		return types.StatusOrphan, true
	}
	return c.store.GetStatus(hash)
}

// Block retrieves an accepted block by hash.
func (c *Chain) Block(hash types.Hash) (*block.Block, error) {
	return c.store.GetBlock(hash)
}

// BlockByHeight retrieves the canonical block at a height.
func (c *Chain) BlockByHeight(height uint64) (*block.Block, error) {
	return c.store.GetBlockByHeight(height)
}

// Chunk retrieves a stored chunk body.
func (c *Chain) Chunk(blockHash types.Hash, shard types.ShardID) (*block.Chunk, error) {
	return c.store.GetChunk(blockHash, shard)
}

// StateRoot returns the post-state root of (block, shard).
func (c *Chain) StateRoot(blockHash types.Hash, shard types.ShardID) (types.Hash, error) {
	return c.store.GetStateRoot(blockHash, shard)
}

// Counters returns a snapshot of the processing counters.
func (c *Chain) Counters() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters
}

// OrphanStats exposes the orphan pool counters.
func (c *Chain) OrphanStats() orphan.Stats {
	return c.orphans.Stats()
}

// FetchStats exposes the chunk fetch counters.
func (c *Chain) FetchStats() fetch.Stats {
	return c.fetcher.Stats()
}

func genesisValidators(gen *config.Genesis) ([]epoch.Validator, error) {
	out := make([]epoch.Validator, 0, len(gen.Validators))
	for i, v := range gen.Validators {
		key, err := hex.DecodeString(v.PubKey)
		if err != nil {
			return nil, fmt.Errorf("validator %d pubkey: %w", i, err)
		}
		out = append(out, epoch.Validator{PubKey: key, Weight: v.Weight})
	}
	return out, nil
}

func genesisStateRoots(gen *config.Genesis) ([]types.Hash, error) {
	roots := make([]types.Hash, gen.Protocol.NumShards)
	for i, s := range gen.ShardStateRoots {
		root, err := types.HexToHash(s)
		if err != nil {
			return nil, fmt.Errorf("shard %d state root: %w", i, err)
		}
		roots[i] = root
	}
	return roots, nil
}
