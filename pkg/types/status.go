package types

// BlockStatus tracks what the node has decided about a block. The block
// itself is immutable; only its status advances.
type BlockStatus uint8

const (
	// StatusPending: structurally valid but not yet applied (chunks may be missing).
	StatusPending BlockStatus = iota
	// StatusOrphan: parent not known locally; parked in the orphan pool.
	StatusOrphan
	// StatusAccepted: applied to shard state and part of the local block DAG.
	StatusAccepted
	// StatusFinalized: irreversible under the two-phase endorsement rule.
	StatusFinalized
	// StatusGarbageCollected: pruned below the retention horizon.
	StatusGarbageCollected
)

// String returns the status name for logs and JSON.
func (s BlockStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOrphan:
		return "orphan"
	case StatusAccepted:
		return "accepted"
	case StatusFinalized:
		return "finalized"
	case StatusGarbageCollected:
		return "gc"
	default:
		return "unknown"
	}
}
