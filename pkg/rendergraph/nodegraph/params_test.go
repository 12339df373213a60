package nodegraph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWorkflow(t *testing.T) *Graph {
	t.Helper()
	g, err := FromFile(filepath.Join("testdata", "workflow_api.json"))
	require.NoError(t, err)
	return g
}

func TestApply_AllParams(t *testing.T) {
	g := loadWorkflow(t)
	seed := int64(42)

	err := Apply(g, Params{
		Prompt:         "a cat on the moon",
		Seed:           &seed,
		OutputDir:      "lizards",
		FilenamePrefix: "dream",
		Width:          832,
		Height:         1216,
	})
	require.NoError(t, err)

	positive, _ := g.Node("6")
	negative, _ := g.Node("7")
	assert.Equal(t, "a cat on the moon", positive.Inputs["text"].Value())
	assert.Equal(t, "", negative.Inputs["text"].Value())

	sampler, _ := g.Node("3")
	assert.Equal(t, int64(42), sampler.Inputs["seed"].Value())

	save, _ := g.Node("9")
	assert.Equal(t, "lizards/dream", save.Inputs["filename_prefix"].Value())

	latent, _ := g.Node("5")
	assert.Equal(t, int64(832), latent.Inputs["width"].Value())
	assert.Equal(t, int64(1216), latent.Inputs["height"].Value())
}

func TestApply_ZeroParamsLeaveTemplate(t *testing.T) {
	g := loadWorkflow(t)

	require.NoError(t, Apply(g, Params{}))

	sampler, _ := g.Node("3")
	assert.Equal(t, int64(156680208700286), sampler.Inputs["seed"].Value())
	save, _ := g.Node("9")
	assert.Equal(t, "ComfyUI", save.Inputs["filename_prefix"].Value())
}

func TestApply_PromptFallsBackToFirstNonEmptyEncoder(t *testing.T) {
	g := New().
		MustAdd(NewNode("1", ClassTextEncode).Set("text", Literal(""))).
		MustAdd(NewNode("2", ClassTextEncode).Set("text", Literal("old prompt")))

	require.NoError(t, Apply(g, Params{Prompt: "new"}))

	first, _ := g.Node("1")
	second, _ := g.Node("2")
	assert.Equal(t, "", first.Inputs["text"].Value())
	assert.Equal(t, "new", second.Inputs["text"].Value())
}

func TestApply_PromptWithoutEncoder(t *testing.T) {
	g := New().MustAdd(NewNode("1", ClassBase))

	assert.ErrorIs(t, Apply(g, Params{Prompt: "x"}), ErrNoPromptNode)
}
