package chain

import (
	"errors"
	"fmt"
)

// Sentinel errors for chain building.
var (
	// ErrInvalidSpec indicates a modifier spec with an empty name or an
	// out-of-range strength.
	ErrInvalidSpec = errors.New("invalid modifier spec")

	// ErrNoBase indicates the graph has no base stage to chain from.
	ErrNoBase = errors.New("graph has no base node")

	// ErrMultipleBases indicates more than one base stage.
	ErrMultipleBases = errors.New("graph has multiple base nodes")

	// ErrBrokenChain indicates the existing modifier nodes do not form one
	// linear chain hanging off the base.
	ErrBrokenChain = errors.New("modifier nodes do not form a linear chain")
)

// InvalidSpecError identifies the spec that failed validation.
type InvalidSpecError struct {
	// Index is the position of the spec in the requested chain.
	Index int
	// Spec is the offending spec.
	Spec ModifierSpec
	// Err is the underlying validation error.
	Err error
}

// Error implements the error interface.
func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("modifier %d (%q): %v", e.Index, e.Spec.Name, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *InvalidSpecError) Unwrap() error {
	return e.Err
}

// Is reports ErrInvalidSpec.
func (e *InvalidSpecError) Is(target error) bool {
	return target == ErrInvalidSpec
}

// ChainError wraps a structural failure with the node where it was found.
type ChainError struct {
	// NodeID is the node being examined, empty when not node-specific.
	NodeID string
	// Err is ErrNoBase, ErrMultipleBases, ErrBrokenChain or a validation error.
	Err error
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("chain: %v", e.Err)
	}
	return fmt.Sprintf("chain at node %s: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ChainError) Unwrap() error {
	return e.Err
}
