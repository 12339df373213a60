package nodegraph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for graph construction.
var (
	// ErrEmptyID indicates a node was added without an identifier.
	ErrEmptyID = errors.New("node ID cannot be empty")

	// ErrDuplicateNode indicates a node id is already present.
	ErrDuplicateNode = errors.New("duplicate node ID")
)

// Sentinel errors for graph validation.
var (
	// ErrSelfReference indicates a node input references the node itself.
	ErrSelfReference = errors.New("node references itself")

	// ErrDanglingReference indicates an input references a missing node.
	ErrDanglingReference = errors.New("reference to missing node")

	// ErrInvalidSlot indicates a reference to a negative output slot.
	ErrInvalidSlot = errors.New("invalid output slot")

	// ErrCycle indicates the reference graph is not acyclic.
	ErrCycle = errors.New("reference cycle")
)

// Sentinel errors for workflow files and parameters.
var (
	// ErrMalformedWorkflow indicates the workflow JSON is not a node map.
	ErrMalformedWorkflow = errors.New("malformed workflow")

	// ErrNoPromptNode indicates a prompt was supplied but the graph has no
	// text encoder to carry it.
	ErrNoPromptNode = errors.New("no prompt node in graph")
)

// ReferenceError describes a bad reference held by one node input.
type ReferenceError struct {
	// NodeID is the node holding the reference.
	NodeID string
	// Input is the input name.
	Input string
	// Target is the referenced slot.
	Target Ref
	// Err is ErrSelfReference, ErrDanglingReference or ErrInvalidSlot.
	Err error
}

// Error implements the error interface.
func (e *ReferenceError) Error() string {
	return fmt.Sprintf("node %s input %q -> [%s, %d]: %v", e.NodeID, e.Input, e.Target.Node, e.Target.Slot, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ReferenceError) Unwrap() error {
	return e.Err
}

// CycleError lists the nodes on one reference cycle.
type CycleError struct {
	// Path is the cycle, first node repeated at the end.
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("reference cycle: %s", strings.Join(e.Path, " -> "))
}

// Unwrap returns ErrCycle for errors.Is support.
func (e *CycleError) Unwrap() error {
	return ErrCycle
}
