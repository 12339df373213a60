package chain

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/rendergraph/pkg/rendergraph/nodegraph"
)

// template returns a base stage with a sampler and two text encoders
// consuming it, plus a decoder on the base's third slot.
func template() *nodegraph.Graph {
	return nodegraph.New().
		MustAdd(nodegraph.NewNode("4", nodegraph.ClassBase).Set("ckpt_name", nodegraph.Literal("base.safetensors"))).
		MustAdd(nodegraph.NewNode("6", nodegraph.ClassTextEncode).Set("clip", nodegraph.RefTo("4", 1)).Set("text", nodegraph.Literal("pos"))).
		MustAdd(nodegraph.NewNode("7", nodegraph.ClassTextEncode).Set("clip", nodegraph.RefTo("4", 1)).Set("text", nodegraph.Literal(""))).
		MustAdd(nodegraph.NewNode("3", nodegraph.ClassSampler).
			Set("model", nodegraph.RefTo("4", 0)).
			Set("positive", nodegraph.RefTo("6", 0)).
			Set("negative", nodegraph.RefTo("7", 0))).
		MustAdd(nodegraph.NewNode("8", nodegraph.ClassSampler).Set("samples", nodegraph.RefTo("3", 0)).Set("vae", nodegraph.RefTo("4", 2)))
}

func specs(n int) []ModifierSpec {
	out := make([]ModifierSpec, n)
	for i := range out {
		out[i] = ModifierSpec{Name: fmt.Sprintf("lora%d.safetensors", i+1), ModelStrength: 0.5, ClipStrength: 0.25}
	}
	return out
}

func ref(t *testing.T, g *nodegraph.Graph, id, input string) nodegraph.Ref {
	t.Helper()
	n, ok := g.Node(id)
	require.True(t, ok, "node %s", id)
	r, ok := n.RefInput(input)
	require.True(t, ok, "node %s input %s", id, input)
	return r
}

// assertChainShape checks the chain properties that must hold for any length.
func assertChainShape(t *testing.T, g *nodegraph.Graph, want []ModifierSpec) Layout {
	t.Helper()

	require.NoError(t, g.Validate())
	layout, err := Inspect(g)
	require.NoError(t, err)
	require.Len(t, layout.Modifiers, len(want))

	prev := layout.Base
	for i, id := range layout.Modifiers {
		n, _ := g.Node(id)
		assert.Equal(t, want[i].Name, n.Inputs[nodegraph.InputModifierName].Value())
		assert.Equal(t, want[i].ModelStrength, n.Inputs[nodegraph.InputModelStrength].Value())
		assert.Equal(t, want[i].ClipStrength, n.Inputs[nodegraph.InputClipStrength].Value())
		assert.Equal(t, nodegraph.Ref{Node: prev, Slot: 0}, ref(t, g, id, nodegraph.InputModel))
		assert.Equal(t, nodegraph.Ref{Node: prev, Slot: 1}, ref(t, g, id, nodegraph.InputClip))
		prev = id
	}

	tail := layout.Tail()
	assert.Equal(t, nodegraph.Ref{Node: tail, Slot: 0}, ref(t, g, "3", "model"))
	assert.Equal(t, nodegraph.Ref{Node: tail, Slot: 1}, ref(t, g, "6", "clip"))
	assert.Equal(t, nodegraph.Ref{Node: tail, Slot: 1}, ref(t, g, "7", "clip"))
	assert.Equal(t, nodegraph.Ref{Node: "4", Slot: 2}, ref(t, g, "8", "vae"))

	// Only the tail has consumers outside the chain.
	chainIDs := map[string]bool{layout.Base: true}
	for _, id := range layout.Modifiers {
		chainIDs[id] = true
	}
	for _, id := range append([]string{layout.Base}, layout.Modifiers...) {
		if id == tail {
			continue
		}
		for _, slot := range []int{0, 1} {
			for _, consumer := range g.Consumers(nodegraph.Ref{Node: id, Slot: slot}) {
				assert.True(t, chainIDs[consumer], "node %s consumes non-tail stage %s", consumer, id)
			}
		}
	}
	return layout
}

func TestBuild_ChainLengths(t *testing.T) {
	for _, n := range []int{0, 1, 3, 5} {
		t.Run(fmt.Sprintf("%d modifiers", n), func(t *testing.T) {
			base := template()

			g, err := NewBuilder().Build(base, specs(n))
			require.NoError(t, err)

			layout := assertChainShape(t, g, specs(n))
			assert.Equal(t, "4", layout.Base)

			// Fresh ids above every id in the template.
			for _, id := range layout.Modifiers {
				_, inBase := base.Node(id)
				assert.False(t, inBase, "id %s reused", id)
			}

			// The input graph is untouched.
			assert.Equal(t, 5, base.Len())
			assert.Equal(t, nodegraph.Ref{Node: "4", Slot: 0}, ref(t, base, "3", "model"))
		})
	}
}

func TestRebuild_FiveThenTwo(t *testing.T) {
	g := template()
	b := NewBuilder()

	require.NoError(t, b.Rebuild(g, specs(5)))
	first, err := Inspect(g)
	require.NoError(t, err)
	require.Len(t, first.Modifiers, 5)

	require.NoError(t, b.Rebuild(g, specs(2)))
	second := assertChainShape(t, g, specs(2))

	assert.Len(t, g.NodesOfKind(nodegraph.KindModifier), 2)
	assert.Equal(t, second.Modifiers[1], ref(t, g, "3", "model").Node)

	// Retired ids are never reissued.
	for _, old := range first.Modifiers {
		assert.NotContains(t, second.Modifiers, old)
	}
}

func TestRebuild_ToZeroRestoresBaseReferences(t *testing.T) {
	g := template()
	b := NewBuilder()

	require.NoError(t, b.Rebuild(g, specs(3)))
	require.NoError(t, b.Rebuild(g, nil))

	assertChainShape(t, g, nil)
	assert.Equal(t, nodegraph.Ref{Node: "4", Slot: 0}, ref(t, g, "3", "model"))
	assert.Empty(t, g.NodesOfKind(nodegraph.KindModifier))
}

func TestRebuild_SameSpecsIsIdempotentInShape(t *testing.T) {
	g := template()
	b := NewBuilder()
	want := specs(3)

	require.NoError(t, b.Rebuild(g, want))
	first := canonical(t, g)
	require.NoError(t, b.Rebuild(g, want))
	second := canonical(t, g)

	assert.Empty(t, cmp.Diff(first, second))
	assert.Len(t, g.NodesOfKind(nodegraph.KindModifier), 3)
}

func TestRebuild_NeverCreatesSelfReferences(t *testing.T) {
	g := template()
	b := NewBuilder()

	for _, n := range []int{1, 4, 0, 2, 2, 6, 1} {
		require.NoError(t, b.Rebuild(g, specs(n)))
		for _, node := range g.Nodes() {
			for _, r := range node.References() {
				assert.NotEqual(t, node.ID, r.Node, "node %s references itself", node.ID)
			}
		}
	}
}

func TestRebuild_InvalidSpecLeavesGraphUnchanged(t *testing.T) {
	tests := []struct {
		name string
		spec ModifierSpec
	}{
		{"empty name", ModifierSpec{Name: " ", ModelStrength: 1, ClipStrength: 1}},
		{"model too strong", ModifierSpec{Name: "a", ModelStrength: 101, ClipStrength: 1}},
		{"clip too weak", ModifierSpec{Name: "a", ModelStrength: 1, ClipStrength: -100.5}},
		{"nan", ModifierSpec{Name: "a", ModelStrength: math.NaN(), ClipStrength: 1}},
		{"inf", ModifierSpec{Name: "a", ModelStrength: 1, ClipStrength: math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := template()
			b := NewBuilder()
			require.NoError(t, b.Rebuild(g, specs(2)))
			before := shape(g)
			highWater := g.HighWater()

			err := b.Rebuild(g, append(specs(1), tt.spec))

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidSpec)
			var specErr *InvalidSpecError
			require.True(t, errors.As(err, &specErr))
			assert.Equal(t, 1, specErr.Index)

			assert.Empty(t, cmp.Diff(before, shape(g)))
			assert.Equal(t, highWater, g.HighWater())
		})
	}
}

func TestRebuild_StrengthBoundsInclusive(t *testing.T) {
	g := template()
	s := []ModifierSpec{{Name: "edge", ModelStrength: MaxStrength, ClipStrength: -MaxStrength}}

	require.NoError(t, NewBuilder().Rebuild(g, s))
	assertChainShape(t, g, s)
}

func TestInspect_Errors(t *testing.T) {
	t.Run("no base", func(t *testing.T) {
		g := nodegraph.New().MustAdd(nodegraph.NewNode("1", nodegraph.ClassSampler))
		_, err := Inspect(g)
		assert.ErrorIs(t, err, ErrNoBase)
	})

	t.Run("multiple bases", func(t *testing.T) {
		g := template().MustAdd(nodegraph.NewNode("40", nodegraph.ClassBase))
		_, err := Inspect(g)
		assert.ErrorIs(t, err, ErrMultipleBases)
	})

	t.Run("branching chain", func(t *testing.T) {
		g := template().
			MustAdd(nodegraph.NewNode("20", nodegraph.ClassModifier).Set("model", nodegraph.RefTo("4", 0)).Set("clip", nodegraph.RefTo("4", 1))).
			MustAdd(nodegraph.NewNode("21", nodegraph.ClassModifier).Set("model", nodegraph.RefTo("4", 0)).Set("clip", nodegraph.RefTo("4", 1)))
		_, err := Inspect(g)
		assert.ErrorIs(t, err, ErrBrokenChain)

		var chainErr *ChainError
		require.True(t, errors.As(err, &chainErr))
		assert.Equal(t, "4", chainErr.NodeID)
	})

	t.Run("detached modifier", func(t *testing.T) {
		g := template().
			MustAdd(nodegraph.NewNode("20", nodegraph.ClassModifier).Set("model", nodegraph.RefTo("3", 0)).Set("clip", nodegraph.RefTo("4", 1)))
		_, err := Inspect(g)
		assert.ErrorIs(t, err, ErrBrokenChain)
	})

	t.Run("clip mismatch", func(t *testing.T) {
		g := template().
			MustAdd(nodegraph.NewNode("20", nodegraph.ClassModifier).Set("model", nodegraph.RefTo("4", 0)).Set("clip", nodegraph.RefTo("6", 0)))
		_, err := Inspect(g)
		assert.ErrorIs(t, err, ErrBrokenChain)
	})
}

func TestRebuild_BrokenChainLeavesGraphUnchanged(t *testing.T) {
	g := template().MustAdd(nodegraph.NewNode("40", nodegraph.ClassBase))
	before := shape(g)

	err := NewBuilder().Rebuild(g, specs(2))

	assert.ErrorIs(t, err, ErrMultipleBases)
	assert.Empty(t, cmp.Diff(before, shape(g)))
}

func TestRebuild_ExistingChainFromWorkflow(t *testing.T) {
	g := template()
	// A chain saved in a workflow file with non-sequential ids.
	g.MustAdd(nodegraph.NewNode("12", nodegraph.ClassModifier).Set("model", nodegraph.RefTo("4", 0)).Set("clip", nodegraph.RefTo("4", 1)))
	g.MustAdd(nodegraph.NewNode("11", nodegraph.ClassModifier).Set("model", nodegraph.RefTo("12", 0)).Set("clip", nodegraph.RefTo("12", 1)))
	n, _ := g.Node("3")
	n.Set("model", nodegraph.RefTo("11", 0))
	for _, id := range []string{"6", "7"} {
		enc, _ := g.Node(id)
		enc.Set("clip", nodegraph.RefTo("11", 1))
	}

	layout, err := Inspect(g)
	require.NoError(t, err)
	assert.Equal(t, []string{"12", "11"}, layout.Modifiers)

	require.NoError(t, NewBuilder().Rebuild(g, specs(1)))
	after := assertChainShape(t, g, specs(1))
	assert.Equal(t, []string{"13"}, after.Modifiers)
}

type nodeShape struct {
	Class  string
	Inputs map[string]string
}

// shape renders a graph into comparable values keyed by node id.
func shape(g *nodegraph.Graph) map[string]nodeShape {
	return relabel(g, func(id string) string { return id })
}

// canonical is shape with modifier ids replaced by their chain position.
func canonical(t *testing.T, g *nodegraph.Graph) map[string]nodeShape {
	t.Helper()
	layout, err := Inspect(g)
	require.NoError(t, err)
	pos := make(map[string]string, len(layout.Modifiers))
	for i, id := range layout.Modifiers {
		pos[id] = fmt.Sprintf("mod%d", i+1)
	}
	return relabel(g, func(id string) string {
		if p, ok := pos[id]; ok {
			return p
		}
		return id
	})
}

func relabel(g *nodegraph.Graph, label func(string) string) map[string]nodeShape {
	out := make(map[string]nodeShape, g.Len())
	for _, n := range g.Nodes() {
		s := nodeShape{Class: n.Class, Inputs: make(map[string]string, len(n.Inputs))}
		for name, in := range n.Inputs {
			if r, ok := in.Ref(); ok {
				s.Inputs[name] = fmt.Sprintf("ref(%s,%d)", label(r.Node), r.Slot)
				continue
			}
			s.Inputs[name] = fmt.Sprintf("%v", in.Value())
		}
		out[label(n.ID)] = s
	}
	return out
}
