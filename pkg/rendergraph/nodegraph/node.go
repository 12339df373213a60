// Package nodegraph models the job graphs submitted to an image worker.
//
// A graph is a map of nodes keyed by identifier. Each node carries an open
// class tag (the worker's node type) and a set of named inputs. An input is
// either a literal value or a reference to one output slot of another node.
// Graphs round-trip through the worker's JSON API format, see MarshalJSON.
package nodegraph

import "reflect"

// Worker node classes the builder and parameter helpers know about.
const (
	ClassBase        = "CheckpointLoaderSimple"
	ClassModifier    = "LoraLoader"
	ClassSampler     = "KSampler"
	ClassTextEncode  = "CLIPTextEncode"
	ClassSaveImage   = "SaveImage"
	ClassLatentSD3   = "EmptySD3LatentImage"
	ClassLatentImage = "EmptyLatentImage"
)

// Output slots shared by base and modifier stages.
const (
	// SlotPrimary is the model output.
	SlotPrimary = 0
	// SlotSecondary is the text-encoder output.
	SlotSecondary = 1
)

// Input names used by modifier stages.
const (
	InputModel         = "model"
	InputClip          = "clip"
	InputModifierName  = "lora_name"
	InputModelStrength = "strength_model"
	InputClipStrength  = "strength_clip"
)

// Kind is the closed classification of a node, derived from its class.
type Kind int

const (
	// KindOther is any node that is neither a base nor a modifier stage.
	KindOther Kind = iota
	// KindBase loads the base checkpoint and heads the modifier chain.
	KindBase
	// KindModifier is one stage of the modifier chain.
	KindModifier
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBase:
		return "base"
	case KindModifier:
		return "modifier"
	default:
		return "other"
	}
}

// KindOf maps a worker class tag to its Kind.
func KindOf(class string) Kind {
	switch class {
	case ClassBase:
		return KindBase
	case ClassModifier:
		return KindModifier
	default:
		return KindOther
	}
}

// Ref points at one output slot of another node.
type Ref struct {
	Node string
	Slot int
}

// Input is either a literal value or a Ref. The zero value is a nil literal.
type Input struct {
	ref   *Ref
	value any
}

// Literal returns an input holding v.
func Literal(v any) Input {
	return Input{value: v}
}

// RefTo returns an input referencing slot of node.
func RefTo(node string, slot int) Input {
	return Input{ref: &Ref{Node: node, Slot: slot}}
}

// IsRef reports whether the input is a reference.
func (in Input) IsRef() bool {
	return in.ref != nil
}

// Ref returns the referenced slot and true, or the zero Ref and false for literals.
func (in Input) Ref() (Ref, bool) {
	if in.ref == nil {
		return Ref{}, false
	}
	return *in.ref, true
}

// Value returns the literal value. It is nil for references.
func (in Input) Value() any {
	return in.value
}

// Equal reports whether two inputs hold the same reference or deeply equal
// literals.
func (in Input) Equal(other Input) bool {
	if in.ref != nil || other.ref != nil {
		if in.ref == nil || other.ref == nil {
			return false
		}
		return *in.ref == *other.ref
	}
	return reflect.DeepEqual(in.value, other.value)
}

// Node is a single worker operation.
type Node struct {
	ID     string
	Class  string
	Title  string
	Inputs map[string]Input
}

// NewNode returns a node with an empty input set.
func NewNode(id, class string) *Node {
	return &Node{ID: id, Class: class, Inputs: make(map[string]Input)}
}

// Kind returns the node's classification.
func (n *Node) Kind() Kind {
	return KindOf(n.Class)
}

// Set assigns an input and returns the node for chaining.
func (n *Node) Set(name string, in Input) *Node {
	if n.Inputs == nil {
		n.Inputs = make(map[string]Input)
	}
	n.Inputs[name] = in
	return n
}

// RefInput returns the reference held by the named input, if any.
func (n *Node) RefInput(name string) (Ref, bool) {
	in, ok := n.Inputs[name]
	if !ok {
		return Ref{}, false
	}
	return in.Ref()
}

// References returns every reference held by the node's inputs.
func (n *Node) References() []Ref {
	var refs []Ref
	for _, in := range n.Inputs {
		if r, ok := in.Ref(); ok {
			refs = append(refs, r)
		}
	}
	return refs
}

func (n *Node) clone() *Node {
	c := &Node{ID: n.ID, Class: n.Class, Title: n.Title, Inputs: make(map[string]Input, len(n.Inputs))}
	for name, in := range n.Inputs {
		if in.ref != nil {
			r := *in.ref
			in.ref = &r
		}
		c.Inputs[name] = in
	}
	return c
}
