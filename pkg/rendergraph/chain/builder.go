// Package chain builds the variable-length modifier chain of a job graph.
//
// A job graph has exactly one base stage. Modifier stages hang off it in a
// single line, each consuming the previous stage's primary and secondary
// outputs. Every other node that used the chain reads from its tail.
//
// Rebuilding replaces the whole chain: old modifier nodes are removed and
// their ids retired, fresh nodes are created in spec order, and consumers
// of the old tail are redirected to the new tail. The chain's own nodes are
// excluded from rewiring, so no stage ever ends up referencing itself.
//
// Example:
//
//	specs, _ := chain.ParseSpecs([]string{"detail.safetensors:0.8", "style.safetensors"})
//	job, err := chain.NewBuilder().Build(template, specs)
package chain

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/nodegraph"
)

// Layout is the chain found in a graph.
type Layout struct {
	// Base is the id of the base stage.
	Base string
	// Modifiers are the modifier ids from base to tail.
	Modifiers []string
}

// Tail returns the id of the last stage, the base when there are no modifiers.
func (l Layout) Tail() string {
	if len(l.Modifiers) == 0 {
		return l.Base
	}
	return l.Modifiers[len(l.Modifiers)-1]
}

// Builder rebuilds modifier chains.
type Builder struct {
	logger *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for rewiring diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns a copy of base carrying the chain described by specs.
// base is not modified.
func (b *Builder) Build(base *nodegraph.Graph, specs []ModifierSpec) (*nodegraph.Graph, error) {
	g := base.Clone()
	if err := b.rebuild(g, specs); err != nil {
		return nil, err
	}
	return g, nil
}

// Rebuild replaces the chain in g. On error g is left unchanged.
func (b *Builder) Rebuild(g *nodegraph.Graph, specs []ModifierSpec) error {
	work := g.Clone()
	if err := b.rebuild(work, specs); err != nil {
		return err
	}
	g.Replace(work)
	return nil
}

func (b *Builder) rebuild(g *nodegraph.Graph, specs []ModifierSpec) error {
	if err := ValidateSpecs(specs); err != nil {
		return err
	}

	layout, err := Inspect(g)
	if err != nil {
		return err
	}

	retired := map[string]bool{layout.Tail(): true}
	for _, id := range layout.Modifiers {
		retired[id] = true
		g.Remove(id)
	}

	tail := layout.Base
	fresh := make(map[string]bool, len(specs))
	for i, s := range specs {
		n := nodegraph.NewNode(g.NextID(), nodegraph.ClassModifier)
		n.Title = fmt.Sprintf("Load LoRA %d: %s", i+1, s.Name)
		n.Set(nodegraph.InputModifierName, nodegraph.Literal(s.Name)).
			Set(nodegraph.InputModelStrength, nodegraph.Literal(s.ModelStrength)).
			Set(nodegraph.InputClipStrength, nodegraph.Literal(s.ClipStrength)).
			Set(nodegraph.InputModel, nodegraph.RefTo(tail, nodegraph.SlotPrimary)).
			Set(nodegraph.InputClip, nodegraph.RefTo(tail, nodegraph.SlotSecondary))
		if err := g.Add(n); err != nil {
			return &ChainError{NodeID: n.ID, Err: err}
		}
		fresh[n.ID] = true
		tail = n.ID
	}

	// The rewire set is fixed before any input changes.
	var rewire []*nodegraph.Node
	for _, n := range g.Nodes() {
		if !fresh[n.ID] {
			rewire = append(rewire, n)
		}
	}

	for _, n := range rewire {
		for name, in := range n.Inputs {
			r, ok := in.Ref()
			if !ok || !retired[r.Node] || r.Node == tail {
				continue
			}
			if r.Slot != nodegraph.SlotPrimary && r.Slot != nodegraph.SlotSecondary {
				continue
			}
			n.Inputs[name] = nodegraph.RefTo(tail, r.Slot)
			b.logger.Debug("rewired input",
				slog.String("node_id", n.ID),
				slog.String("input", name),
				slog.String("from", r.Node),
				slog.String("to", tail),
				slog.Int("slot", r.Slot),
			)
		}
	}

	if err := g.Validate(); err != nil {
		return &ChainError{Err: err}
	}

	b.logger.Debug("modifier chain built",
		slog.String("base", layout.Base),
		slog.Int("removed", len(layout.Modifiers)),
		slog.Int("modifiers", len(specs)),
		slog.String("tail", tail),
	)
	return nil
}

// Inspect locates the base stage and walks the modifier chain hanging off it.
func Inspect(g *nodegraph.Graph) (Layout, error) {
	bases := g.NodesOfKind(nodegraph.KindBase)
	switch len(bases) {
	case 0:
		return Layout{}, &ChainError{Err: ErrNoBase}
	case 1:
	default:
		return Layout{}, &ChainError{NodeID: bases[1].ID, Err: ErrMultipleBases}
	}

	mods := g.NodesOfKind(nodegraph.KindModifier)
	remaining := make(map[string]bool, len(mods))
	for _, n := range mods {
		remaining[n.ID] = true
	}

	layout := Layout{Base: bases[0].ID}
	cur := layout.Base
	for len(remaining) > 0 {
		var next []*nodegraph.Node
		for _, n := range mods {
			if !remaining[n.ID] {
				continue
			}
			if r, ok := n.RefInput(nodegraph.InputModel); ok && r == (nodegraph.Ref{Node: cur, Slot: nodegraph.SlotPrimary}) {
				next = append(next, n)
			}
		}
		if len(next) == 0 {
			break
		}
		if len(next) > 1 {
			return Layout{}, &ChainError{NodeID: cur, Err: fmt.Errorf("%w: %d stages consume %s", ErrBrokenChain, len(next), cur)}
		}
		n := next[0]
		if r, ok := n.RefInput(nodegraph.InputClip); !ok || r != (nodegraph.Ref{Node: cur, Slot: nodegraph.SlotSecondary}) {
			return Layout{}, &ChainError{NodeID: n.ID, Err: fmt.Errorf("%w: clip input does not follow model input", ErrBrokenChain)}
		}
		layout.Modifiers = append(layout.Modifiers, n.ID)
		delete(remaining, n.ID)
		cur = n.ID
	}

	for _, n := range mods {
		if remaining[n.ID] {
			return Layout{}, &ChainError{NodeID: n.ID, Err: fmt.Errorf("%w: stage not reachable from base", ErrBrokenChain)}
		}
	}
	return layout, nil
}
