// Package consensus implements header/chunk validation, fork choice, and
// the two-phase finality rule.
package consensus

import (
	"errors"
	"fmt"

	"github.com/meridian-network/meridian-chain/pkg/types"
)

// ErrUnknownParent marks a block whose parent is not yet known locally.
// This is NOT a protocol violation: adversarial or merely unlucky reordering
// delivers children first, and those blocks go to the orphan pool.
var ErrUnknownParent = errors.New("parent block not known")

// MalformedError is a protocol violation attributable to whoever sent the
// block: bad signature, bad structure, wrong producer. Malformed blocks are
// rejected permanently and never retried.
type MalformedError struct {
	Reason string
	Sender string // Peer attribution for reputation scoring; may be empty.
	Err    error  // Underlying cause, if any.
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed block: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed block: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Malformed builds a MalformedError with a formatted reason.
func Malformed(format string, args ...any) *MalformedError {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}

// MalformedWrap wraps an underlying error as a protocol violation.
func MalformedWrap(err error, reason string) *MalformedError {
	return &MalformedError{Reason: reason, Err: err}
}

// IsMalformed reports whether err is (or wraps) a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// SafetyViolationError reports a fork that conflicts with a finalized block.
// Under the assumed fault threshold this cannot happen; observing one means
// the threshold was broken and the node halts new acceptance pending
// operator intervention.
type SafetyViolationError struct {
	Finalized       types.Hash
	FinalizedHeight uint64
	Conflicting     types.Hash
}

// Error implements the error interface.
func (e *SafetyViolationError) Error() string {
	return fmt.Sprintf("safety violation: block %s conflicts with finalized %s at height %d",
		e.Conflicting.Short(), e.Finalized.Short(), e.FinalizedHeight)
}

// IsSafetyViolation reports whether err is (or wraps) a SafetyViolationError.
func IsSafetyViolation(err error) bool {
	var sv *SafetyViolationError
	return errors.As(err, &sv)
}
