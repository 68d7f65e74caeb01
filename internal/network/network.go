// Package network defines the transport collaborator contract. The wire
// protocol and peer management live outside this repository; the core only
// requests chunks, broadcasts what it accepts, and receives inbound
// blocks/chunks/approvals through the node's submit methods.
package network

import (
	"github.com/meridian-network/meridian-chain/pkg/block"
	"github.com/meridian-network/meridian-chain/pkg/types"
)

// Sender is the outbound half of the transport.
type Sender interface {
	// RequestChunk asks one peer for one chunk of one block.
	RequestChunk(peer string, blockHash types.Hash, shard types.ShardID) error
	// BroadcastBlock announces an accepted block to the network.
	BroadcastBlock(blk *block.Block) error
	// BroadcastApproval gossips a locally signed approval.
	BroadcastApproval(a *block.Approval) error
	// PeersWithBlock lists peers that announced possession of the block,
	// for chunk-fetch fallback. Order is the transport's preference order.
	PeersWithBlock(blockHash types.Hash) []string
}

// NopSender discards everything. Used by tools and tests that run the core
// without a transport.
type NopSender struct{}

// RequestChunk implements Sender.
func (NopSender) RequestChunk(string, types.Hash, types.ShardID) error { return nil }

// BroadcastBlock implements Sender.
func (NopSender) BroadcastBlock(*block.Block) error { return nil }

// BroadcastApproval implements Sender.
func (NopSender) BroadcastApproval(*block.Approval) error { return nil }

// PeersWithBlock implements Sender.
func (NopSender) PeersWithBlock(types.Hash) []string { return nil }
