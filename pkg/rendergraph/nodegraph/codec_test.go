package nodegraph

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFile(t *testing.T) {
	g, err := FromFile(filepath.Join("testdata", "workflow_api.json"))
	require.NoError(t, err)

	assert.Equal(t, 7, g.Len())
	require.NoError(t, g.Validate())

	sampler, ok := g.Node("3")
	require.True(t, ok)
	assert.Equal(t, ClassSampler, sampler.Class)
	assert.Equal(t, "KSampler", sampler.Title)

	r, ok := sampler.RefInput("model")
	require.True(t, ok)
	assert.Equal(t, Ref{Node: "4", Slot: 0}, r)

	assert.Equal(t, int64(156680208700286), sampler.Inputs["seed"].Value())
	assert.Equal(t, 4.5, sampler.Inputs["cfg"].Value())
	assert.Equal(t, "dpmpp_2m", sampler.Inputs["sampler_name"].Value())

	bases := g.NodesOfKind(KindBase)
	require.Len(t, bases, 1)
	assert.Equal(t, "4", bases[0].ID)
}

func TestFromFile_Missing(t *testing.T) {
	_, err := FromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not an object", `[1, 2]`},
		{"missing class", `{"1": {"inputs": {}}}`},
		{"bad json", `{"1": `},
		{"empty", ``},
		{"trailing garbage", `{} x`},
		{"input not json", `{"1": {"class_type": "KSampler", "inputs": {"seed": tru}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMalformedWorkflow)
		})
	}
}

func TestMarshal_WireFormat(t *testing.T) {
	g := New().
		MustAdd(NewNode("4", ClassBase).Set("ckpt_name", Literal("base.safetensors"))).
		MustAdd(&Node{ID: "10", Class: ClassModifier, Title: "Load LoRA 1: detail", Inputs: map[string]Input{
			InputModel:         RefTo("4", 0),
			InputClip:          RefTo("4", 1),
			InputModelStrength: Literal(0.8),
		}})

	data, err := json.Marshal(g)
	require.NoError(t, err)

	var wire map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	mod := wire["10"]
	assert.Equal(t, ClassModifier, mod["class_type"])
	assert.Equal(t, map[string]any{"title": "Load LoRA 1: detail"}, mod["_meta"])
	inputs := mod["inputs"].(map[string]any)
	assert.Equal(t, []any{"4", float64(0)}, inputs[InputModel])
	assert.Equal(t, []any{"4", float64(1)}, inputs[InputClip])
	assert.Equal(t, 0.8, inputs[InputModelStrength])

	_, hasMeta := wire["4"]["_meta"]
	assert.False(t, hasMeta)
}

func TestMarshal_RoundTripPreservesShape(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "workflow_api.json"))
	require.NoError(t, err)

	g, err := Parse(data)
	require.NoError(t, err)
	encoded, err := json.Marshal(g)
	require.NoError(t, err)

	again, err := Parse(encoded)
	require.NoError(t, err)

	require.Equal(t, g.IDs(), again.IDs())
	for _, id := range g.IDs() {
		a, _ := g.Node(id)
		b, _ := again.Node(id)
		assert.Equal(t, a.Class, b.Class)
		assert.Equal(t, a.Title, b.Title)
		require.Len(t, b.Inputs, len(a.Inputs))
		for name, in := range a.Inputs {
			assert.True(t, in.Equal(b.Inputs[name]), "node %s input %s", id, name)
		}
	}
}

func TestInput_UnmarshalNonReferenceArrays(t *testing.T) {
	var in Input

	require.NoError(t, json.Unmarshal([]byte(`["a", "b"]`), &in))
	assert.False(t, in.IsRef())
	assert.Equal(t, []any{"a", "b"}, in.Value())

	require.NoError(t, json.Unmarshal([]byte(`["a", 1, 2]`), &in))
	assert.False(t, in.IsRef())

	require.NoError(t, json.Unmarshal([]byte(`["7", 2]`), &in))
	r, ok := in.Ref()
	require.True(t, ok)
	assert.Equal(t, Ref{Node: "7", Slot: 2}, r)
}
