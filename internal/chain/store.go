package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/meridian-network/meridian-chain/internal/consensus"
	"github.com/meridian-network/meridian-chain/internal/epoch"
	"github.com/meridian-network/meridian-chain/internal/storage"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// Key prefixes and state keys for the chain store.
var (
	prefixBlock    = []byte("b/") // b/<hash(32)> -> block JSON
	prefixHeight   = []byte("h/") // h/<height(8)> -> hash(32), canonical chain only
	prefixChunk    = []byte("c/") // c/<hash(32)><shard(4)> -> chunk JSON
	prefixRoot     = []byte("r/") // r/<hash(32)><shard(4)> -> state root(32)
	prefixReceipts = []byte("o/") // o/<hash(32)><shard(4)> -> routed outgoing receipts JSON
	prefixWeight   = []byte("w/") // w/<hash(32)> -> endorsement weight(8)
	prefixApprover = []byte("a/") // a/<hash(32)> -> approver bitmask over epoch validator indices
	prefixStatus   = []byte("t/") // t/<hash(32)> -> status(1)
	prefixEpoch    = []byte("e/") // e/<epoch_id(32)> -> epoch info JSON

	keyHead         = []byte("s/head")
	keyHeight       = []byte("s/height")
	keyFinality     = []byte("s/finality")
	keyEpochTip     = []byte("s/epoch")
	keyGCFloor      = []byte("s/gc")
	keyPrunedWeight = []byte("s/pruned_weight") // canonical endorsement weight below the gc floor
)

// Store is the chain store facade: the only component permitted to mutate
// persisted chain state. All mutation for one block's acceptance is staged
// into a single BlockWrite and committed atomically; point reads always see
// fully committed blocks.
type Store struct {
	db storage.DB
}

// NewStore creates a chain store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

// BeginBlockWrite opens the write batch for one block's acceptance.
func (s *Store) BeginBlockWrite() (*BlockWrite, error) {
	batcher, ok := s.db.(storage.Batcher)
	if !ok {
		return nil, fmt.Errorf("storage backend does not support atomic batches")
	}
	return &BlockWrite{batch: batcher.NewBatch()}, nil
}

// GetBlock retrieves a block by its hash.
func (s *Store) GetBlock(hash types.Hash) (*block.Block, error) {
	data, err := s.db.Get(blockKey(hash))
	if err != nil {
		return nil, fmt.Errorf("block get: %w", err)
	}
	var blk block.Block
	if err := json.Unmarshal(data, &blk); err != nil {
		return nil, fmt.Errorf("block unmarshal: %w", err)
	}
	return &blk, nil
}

// HasBlock checks if a block exists by hash.
func (s *Store) HasBlock(hash types.Hash) (bool, error) {
	return s.db.Has(blockKey(hash))
}

// GetBlockByHeight retrieves the canonical block at the given height.
func (s *Store) GetBlockByHeight(height uint64) (*block.Block, error) {
	hashBytes, err := s.db.Get(heightKey(height))
	if err != nil {
		return nil, fmt.Errorf("height index get: %w", err)
	}
	if len(hashBytes) != types.HashSize {
		return nil, fmt.Errorf("corrupt height index: got %d bytes, want %d", len(hashBytes), types.HashSize)
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return s.GetBlock(hash)
}

// CanonicalHashAt returns the canonical block hash at the given height.
func (s *Store) CanonicalHashAt(height uint64) (types.Hash, bool) {
	hashBytes, err := s.db.Get(heightKey(height))
	if err != nil || len(hashBytes) != types.HashSize {
		return types.Hash{}, false
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return hash, true
}

// GetChunk retrieves one shard's chunk body for a block.
func (s *Store) GetChunk(blockHash types.Hash, shard types.ShardID) (*block.Chunk, error) {
	data, err := s.db.Get(shardKey(prefixChunk, blockHash, shard))
	if err != nil {
		return nil, fmt.Errorf("chunk get: %w", err)
	}
	var ch block.Chunk
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("chunk unmarshal: %w", err)
	}
	return &ch, nil
}

// HasChunk checks if a chunk body is stored for (block, shard).
func (s *Store) HasChunk(blockHash types.Hash, shard types.ShardID) (bool, error) {
	return s.db.Has(shardKey(prefixChunk, blockHash, shard))
}

// GetStateRoot returns the post-state root recorded for (block, shard).
func (s *Store) GetStateRoot(blockHash types.Hash, shard types.ShardID) (types.Hash, error) {
	data, err := s.db.Get(shardKey(prefixRoot, blockHash, shard))
	if err != nil {
		return types.Hash{}, fmt.Errorf("state root get: %w", err)
	}
	if len(data) != types.HashSize {
		return types.Hash{}, fmt.Errorf("corrupt state root: got %d bytes", len(data))
	}
	var root types.Hash
	copy(root[:], data)
	return root, nil
}

// GetRoutedReceipts returns the outgoing receipts that applying the given
// block routed to the given destination shard. These are owned by that
// shard and consumed by the next block's chunk.
func (s *Store) GetRoutedReceipts(blockHash types.Hash, shard types.ShardID) ([]*block.Receipt, error) {
	data, err := s.db.Get(shardKey(prefixReceipts, blockHash, shard))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("receipts get: %w", err)
	}
	var receipts []*block.Receipt
	if err := json.Unmarshal(data, &receipts); err != nil {
		return nil, fmt.Errorf("receipts unmarshal: %w", err)
	}
	return receipts, nil
}

// GetWeight returns the accumulated endorsement weight for a block.
func (s *Store) GetWeight(hash types.Hash) uint64 {
	data, err := s.db.Get(weightKey(hash))
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// GetApprovers returns a block's approver bitmask: one bit per validator
// index of the epoch the block's approvals are judged against. The returned
// slice is a copy, safe for the caller to grow and mutate.
func (s *Store) GetApprovers(hash types.Hash) []byte {
	data, err := s.db.Get(approverKey(hash))
	if err != nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// GetStatus returns a block's acceptance status.
func (s *Store) GetStatus(hash types.Hash) (types.BlockStatus, bool) {
	data, err := s.db.Get(statusKey(hash))
	if err != nil || len(data) != 1 {
		return 0, false
	}
	return types.BlockStatus(data[0]), true
}

// GetEpochInfo retrieves a persisted epoch by id.
func (s *Store) GetEpochInfo(id types.EpochID) (*epoch.Info, error) {
	data, err := s.db.Get(epochKey(id))
	if err != nil {
		return nil, fmt.Errorf("epoch get: %w", err)
	}
	var info epoch.Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("epoch unmarshal: %w", err)
	}
	return &info, nil
}

// GetLatestEpochID returns the most recently computed epoch id.
func (s *Store) GetLatestEpochID() (types.EpochID, bool) {
	data, err := s.db.Get(keyEpochTip)
	if err != nil || len(data) != types.HashSize {
		return types.EpochID{}, false
	}
	var id types.EpochID
	copy(id[:], data)
	return id, true
}

// GetFinality returns the persisted finality state.
// A fresh store returns the zero state.
func (s *Store) GetFinality() (consensus.FinalityState, error) {
	data, err := s.db.Get(keyFinality)
	if err != nil {
		if err == storage.ErrNotFound {
			return consensus.FinalityState{}, nil
		}
		return consensus.FinalityState{}, fmt.Errorf("finality get: %w", err)
	}
	return consensus.DecodeFinalityState(data)
}

// GetHead returns the canonical head hash and height.
// Returns ok=false for a fresh store.
func (s *Store) GetHead() (types.Hash, uint64, bool) {
	hashBytes, err := s.db.Get(keyHead)
	if err != nil || len(hashBytes) != types.HashSize {
		return types.Hash{}, 0, false
	}
	heightBytes, err := s.db.Get(keyHeight)
	if err != nil || len(heightBytes) != 8 {
		return types.Hash{}, 0, false
	}
	var hash types.Hash
	copy(hash[:], hashBytes)
	return hash, binary.BigEndian.Uint64(heightBytes), true
}

// GetGCFloor returns the height below which everything was pruned.
func (s *Store) GetGCFloor() uint64 {
	data, err := s.db.Get(keyGCFloor)
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// GetPrunedWeight returns the summed endorsement weight of canonical blocks
// whose per-block weight records were garbage-collected. Recovery seeds the
// fork-choice root's base from it so scores survive restarts.
func (s *Store) GetPrunedWeight() uint64 {
	data, err := s.db.Get(keyPrunedWeight)
	if err != nil || len(data) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(data)
}

// BlockWrite stages all mutation for one block's acceptance. Nothing is
// visible until Commit; a crash before Commit leaves the store exactly as
// it was.
type BlockWrite struct {
	batch storage.Batch
}

// PutBlock stages the block body.
func (w *BlockWrite) PutBlock(blk *block.Block) error {
	data, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("block marshal: %w", err)
	}
	return w.batch.Put(blockKey(blk.Hash()), data)
}

// PutChunk stages one chunk body.
func (w *BlockWrite) PutChunk(blockHash types.Hash, ch *block.Chunk) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("chunk marshal: %w", err)
	}
	return w.batch.Put(shardKey(prefixChunk, blockHash, ch.Header.ShardID), data)
}

// PutStateRoot stages one shard's post-state root.
func (w *BlockWrite) PutStateRoot(blockHash types.Hash, shard types.ShardID, root types.Hash) error {
	return w.batch.Put(shardKey(prefixRoot, blockHash, shard), root.Bytes())
}

// PutRoutedReceipts stages the receipts this block routed to one shard.
func (w *BlockWrite) PutRoutedReceipts(blockHash types.Hash, shard types.ShardID, receipts []*block.Receipt) error {
	data, err := json.Marshal(receipts)
	if err != nil {
		return fmt.Errorf("receipts marshal: %w", err)
	}
	return w.batch.Put(shardKey(prefixReceipts, blockHash, shard), data)
}

// SetWeight stages the accumulated endorsement weight for a block.
func (w *BlockWrite) SetWeight(hash types.Hash, weight uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], weight)
	return w.batch.Put(weightKey(hash), buf[:])
}

// SetApprovers stages the approver bitmask for a block.
func (w *BlockWrite) SetApprovers(hash types.Hash, mask []byte) error {
	return w.batch.Put(approverKey(hash), mask)
}

// SetStatus stages a block's acceptance status.
func (w *BlockWrite) SetStatus(hash types.Hash, status types.BlockStatus) error {
	return w.batch.Put(statusKey(hash), []byte{byte(status)})
}

// SetCanonical stages the canonical height index entry.
func (w *BlockWrite) SetCanonical(height uint64, hash types.Hash) error {
	return w.batch.Put(heightKey(height), hash.Bytes())
}

// DeleteCanonical removes a canonical height index entry (head switch to a
// shorter fork).
func (w *BlockWrite) DeleteCanonical(height uint64) error {
	return w.batch.Delete(heightKey(height))
}

// SetHead stages the canonical head pointer.
func (w *BlockWrite) SetHead(hash types.Hash, height uint64) error {
	if err := w.batch.Put(keyHead, hash.Bytes()); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return w.batch.Put(keyHeight, buf[:])
}

// PutEpochInfo stages a computed epoch, keyed by id, and advances the
// latest-epoch pointer. Persisting this atomically with the triggering
// block is what makes epoch transitions crash-safe.
func (w *BlockWrite) PutEpochInfo(info *epoch.Info) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("epoch marshal: %w", err)
	}
	if err := w.batch.Put(epochKey(info.ID), data); err != nil {
		return err
	}
	return w.batch.Put(keyEpochTip, types.Hash(info.ID).Bytes())
}

// SetFinality stages the finality-state singleton.
func (w *BlockWrite) SetFinality(state consensus.FinalityState) error {
	data, err := state.Encode()
	if err != nil {
		return fmt.Errorf("finality marshal: %w", err)
	}
	return w.batch.Put(keyFinality, data)
}

// SetGCFloor stages the prune horizon.
func (w *BlockWrite) SetGCFloor(height uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return w.batch.Put(keyGCFloor, buf[:])
}

// SetPrunedWeight stages the cumulative canonical weight below the floor.
func (w *BlockWrite) SetPrunedWeight(weight uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], weight)
	return w.batch.Put(keyPrunedWeight, buf[:])
}

// DeleteBlockData stages removal of a pruned block's body, chunks, roots,
// receipts, and weight. The status key is overwritten, not removed, so the
// node can still answer that the block was garbage-collected.
func (w *BlockWrite) DeleteBlockData(hash types.Hash, numShards uint32) error {
	if err := w.batch.Delete(blockKey(hash)); err != nil {
		return err
	}
	for shard := types.ShardID(0); uint32(shard) < numShards; shard++ {
		if err := w.batch.Delete(shardKey(prefixChunk, hash, shard)); err != nil {
			return err
		}
		if err := w.batch.Delete(shardKey(prefixRoot, hash, shard)); err != nil {
			return err
		}
		if err := w.batch.Delete(shardKey(prefixReceipts, hash, shard)); err != nil {
			return err
		}
	}
	if err := w.batch.Delete(weightKey(hash)); err != nil {
		return err
	}
	if err := w.batch.Delete(approverKey(hash)); err != nil {
		return err
	}
	return w.batch.Put(statusKey(hash), []byte{byte(types.StatusGarbageCollected)})
}

// Commit atomically applies everything staged in this write.
func (w *BlockWrite) Commit() error {
	return w.batch.Commit()
}

// Discard drops everything staged. Safe after Commit, so acceptance paths
// defer it unconditionally and error returns never leak an open batch.
func (w *BlockWrite) Discard() {
	w.batch.Discard()
}

func blockKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixBlock)+types.HashSize)
	copy(key, prefixBlock)
	copy(key[len(prefixBlock):], hash[:])
	return key
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

func shardKey(prefix []byte, hash types.Hash, shard types.ShardID) []byte {
	key := make([]byte, len(prefix)+types.HashSize+4)
	copy(key, prefix)
	copy(key[len(prefix):], hash[:])
	binary.BigEndian.PutUint32(key[len(prefix)+types.HashSize:], uint32(shard))
	return key
}

func weightKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixWeight)+types.HashSize)
	copy(key, prefixWeight)
	copy(key[len(prefixWeight):], hash[:])
	return key
}

func approverKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixApprover)+types.HashSize)
	copy(key, prefixApprover)
	copy(key[len(prefixApprover):], hash[:])
	return key
}

func statusKey(hash types.Hash) []byte {
	key := make([]byte, len(prefixStatus)+types.HashSize)
	copy(key, prefixStatus)
	copy(key[len(prefixStatus):], hash[:])
	return key
}

func epochKey(id types.EpochID) []byte {
	key := make([]byte, len(prefixEpoch)+types.HashSize)
	copy(key, prefixEpoch)
	copy(key[len(prefixEpoch):], id[:])
	return key
}
