// Package node assembles a runnable chain core: storage, the block
// processing chain, and its serializing actor. It can be embedded in any
// binary; the daemon is a thin wrapper around it.
package node

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/meridian-network/meridian-chain/config"
	"github.com/meridian-network/meridian-chain/internal/chain"
	"github.com/meridian-network/meridian-chain/internal/execution"
	"github.com/meridian-network/meridian-chain/internal/log"
	"github.com/meridian-network/meridian-chain/internal/network"
	"github.com/meridian-network/meridian-chain/internal/storage"
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/crypto"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// inboxCapacity bounds queued submissions before backpressure drops them.
const inboxCapacity = 1024

// approveInterval is how often a validating node re-checks the head for a
// block it has not endorsed yet.
const approveInterval = 500 * time.Millisecond

// Node is a fully initialized chain core.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis

	db    storage.DB
	ch    *chain.Chain
	actor *chain.Actor

	validatorKey *crypto.PrivateKey
	net          network.Sender

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New performs all setup (logging, storage, genesis or recovery) but starts
// no goroutines; call Start for that. net may be nil for a node without a
// transport.
func New(cfg *config.Config, gen *config.Genesis, net network.Sender) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if net == nil {
		net = network.NopSender{}
	}

	dbPath := filepath.Join(cfg.DataDir, string(cfg.Network), "chaindata")
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewBadger(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// Chain keys live under their own namespace so future subsystems can
	// share the badger instance without key collisions.
	chainDB := storage.NewPrefixDB(db, []byte("chain/"))

	ch, err := chain.New(chainDB, gen, cfg, execution.NewHashEngine(), net)
	if err != nil {
		db.Close()
		return nil, err
	}

	n := &Node{
		cfg:     cfg,
		genesis: gen,
		db:      db,
		ch:      ch,
		actor:   chain.NewActor(ch, inboxCapacity),
		net:     net,
	}

	if cfg.Validator.Enabled {
		key, err := loadValidatorKey(cfg.Validator.KeyFile)
		if err != nil {
			ch.Close()
			db.Close()
			return nil, fmt.Errorf("validator key: %w", err)
		}
		n.validatorKey = key
		log.Chain.Info().
			Str("pubkey", hex.EncodeToString(key.PublicKey())).
			Msg("validator signing enabled")
	}
	return n, nil
}

// Start launches the processing actor and, for a validating node, the
// approval loop.
func (n *Node) Start() error {
	n.ctx, n.cancel = context.WithCancel(context.Background())

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.actor.Run(n.ctx)
	}()

	if n.validatorKey != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.approveLoop(n.ctx)
		}()
	}

	head := n.ch.Head()
	log.Chain.Info().
		Str("network", string(n.cfg.Network)).
		Str("head", head.Hash.Short()).
		Uint64("height", head.Height).
		Msg("node started")
	return nil
}

// Stop shuts everything down in reverse order of Start.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	n.ch.Close()
	if n.validatorKey != nil {
		n.validatorKey.Zero()
	}
	if err := n.db.Close(); err != nil {
		log.Storage.Error().Err(err).Msg("closing storage")
	}
	log.Chain.Info().Msg("node stopped")
}

// Chain exposes the block-processing core.
func (n *Node) Chain() *chain.Chain {
	return n.ch
}

// SubmitBlock hands a received block to the processing actor.
func (n *Node) SubmitBlock(blk *block.Block, sender string, chunks []*block.Chunk) bool {
	return n.actor.SubmitBlock(blk, sender, chunks)
}

// SubmitChunk hands a received chunk body to the processing actor.
func (n *Node) SubmitChunk(blockHash types.Hash, ch *block.Chunk) bool {
	return n.actor.SubmitChunk(blockHash, ch)
}

// SubmitApproval hands a received approval to the processing actor.
func (n *Node) SubmitApproval(a *block.Approval) bool {
	return n.actor.SubmitApproval(a)
}

// approveLoop signs and gossips an approval for each new head this validator
// observes. A head is endorsed at most once.
func (n *Node) approveLoop(ctx context.Context) {
	ticker := time.NewTicker(approveInterval)
	defer ticker.Stop()

	var lastApproved types.Hash
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n.ch.Halted() {
			return
		}
		head := n.ch.Head()
		if head.Hash == lastApproved || head.Hash.IsZero() {
			continue
		}

		a := &block.Approval{
			ValidatorID: n.validatorKey.PublicKey(),
			BlockHash:   head.Hash,
			Height:      head.Height,
		}
		if err := a.Sign(n.validatorKey); err != nil {
			log.Chain.Error().Err(err).Msg("signing approval")
			continue
		}
		lastApproved = head.Hash

		n.actor.SubmitApproval(a)
		if err := n.net.BroadcastApproval(a); err != nil {
			log.Chain.Warn().Err(err).Msg("approval broadcast failed")
		}
	}
}

// loadValidatorKey reads a 32-byte hex-encoded secret from disk.
func loadValidatorKey(path string) (*crypto.PrivateKey, error) {
	if path == "" {
		return nil, fmt.Errorf("validator enabled but no key file configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode key hex: %w", err)
	}
	return crypto.PrivateKeyFromBytes(raw)
}
