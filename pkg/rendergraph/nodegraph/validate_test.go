package nodegraph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidGraph(t *testing.T) {
	assert.NoError(t, sampleGraph().Validate())
}

func TestValidate_SelfReference(t *testing.T) {
	g := sampleGraph()
	n, _ := g.Node("3")
	n.Set("model", RefTo("3", 0))

	err := g.Validate()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSelfReference)

	var refErr *ReferenceError
	require.True(t, errors.As(err, &refErr))
	assert.Equal(t, "3", refErr.NodeID)
	assert.Equal(t, "model", refErr.Input)
}

func TestValidate_DanglingReference(t *testing.T) {
	g := sampleGraph()
	g.Remove("6")

	err := g.Validate()

	assert.ErrorIs(t, err, ErrDanglingReference)
	assert.NotErrorIs(t, err, ErrCycle)
}

func TestValidate_InvalidSlot(t *testing.T) {
	g := sampleGraph()
	n, _ := g.Node("3")
	n.Set("model", RefTo("4", -1))

	assert.ErrorIs(t, g.Validate(), ErrInvalidSlot)
}

func TestValidate_CycleReportsPath(t *testing.T) {
	g := New().
		MustAdd(NewNode("1", ClassSampler).Set("in", RefTo("3", 0))).
		MustAdd(NewNode("2", ClassSampler).Set("in", RefTo("1", 0))).
		MustAdd(NewNode("3", ClassSampler).Set("in", RefTo("2", 0))).
		MustAdd(NewNode("4", ClassSampler).Set("in", RefTo("3", 0)))

	err := g.Validate()

	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.ErrorIs(t, err, ErrCycle)
	assert.Equal(t, []string{"1", "2", "3", "1"}, cycleErr.Path)
}

func TestValidate_JoinsErrors(t *testing.T) {
	g := New().
		MustAdd(NewNode("1", ClassSampler).Set("a", RefTo("1", 0)).Set("b", RefTo("9", 0)))

	err := g.Validate()

	assert.ErrorIs(t, err, ErrSelfReference)
	assert.ErrorIs(t, err, ErrDanglingReference)
}

func TestTopoOrder(t *testing.T) {
	order, err := sampleGraph().TopoOrder()

	require.NoError(t, err)
	assert.Equal(t, []string{"4", "6", "3"}, order)
}

func TestTopoOrder_Cycle(t *testing.T) {
	g := New().
		MustAdd(NewNode("1", ClassSampler).Set("in", RefTo("2", 0))).
		MustAdd(NewNode("2", ClassSampler).Set("in", RefTo("1", 0)))

	_, err := g.TopoOrder()
	assert.ErrorIs(t, err, ErrCycle)
}
