package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ideas() Vars {
	v := Vars{"style": "oil painting"}
	v.Set("ideas", "1. a red barn\n2. a blue lake", []string{"a red barn", "a blue lake"})
	return v
}

// TestExpand tests placeholder replacement.
func TestExpand(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "whole output", input: "${style}", expected: "oil painting"},
		{name: "item", input: "${ideas.2}, ${style}", expected: "a blue lake, oil painting"},
		{name: "adjacent", input: "${ideas.1}${ideas.2}", expected: "a red barna blue lake"},
		{name: "multiline value", input: "list: ${ideas}", expected: "list: 1. a red barn\n2. a blue lake"},
		{name: "no placeholders", input: "a fox for $5", expected: "a fox for $5"},
		{name: "bare dollar name is not a placeholder", input: "$style", expected: "$style"},
		{name: "empty", input: "", expected: ""},
		{name: "dotted name without index", input: "${ideas.x}", expected: "${ideas.x}"},
	}

	exp := NewExpander()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := exp.Expand(tt.input, ideas())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// TestExpand_Missing tests each MissingAction.
func TestExpand_Missing(t *testing.T) {
	const input = "${ideas.3} and ${nope} with ${style}"

	got, err := NewExpander().Expand(input, ideas())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUndefined)
	var uv *UndefinedVariableError
	require.ErrorAs(t, err, &uv)
	assert.Equal(t, []string{"ideas.3", "nope"}, uv.Names)
	assert.Equal(t, "undefined prompt variables: ideas.3, nope", err.Error())
	assert.Equal(t, "${ideas.3} and ${nope} with oil painting", got)

	got, err = NewExpander(WithMissingAction(MissingKeep)).Expand(input, ideas())
	require.NoError(t, err)
	assert.Equal(t, "${ideas.3} and ${nope} with oil painting", got)

	got, err = NewExpander(WithMissingAction(MissingEmpty)).Expand(input, ideas())
	require.NoError(t, err)
	assert.Equal(t, " and  with oil painting", got)
}

func TestUndefinedVariableError_Single(t *testing.T) {
	err := &UndefinedVariableError{Names: []string{"x"}}
	assert.Equal(t, "undefined prompt variable: x", err.Error())
}

func TestPackageExpand(t *testing.T) {
	assert.Equal(t, "oil painting ${nope}", Expand("${style} ${nope}", ideas()))
	assert.Equal(t, "${style}", Expand("${style}", nil))
}

func TestReferences(t *testing.T) {
	refs := References("${ideas-2.3} in ${style}, not $bare or ${ideas.x}")
	assert.Equal(t, []Ref{{Source: "ideas-2", Item: 3}, {Source: "style"}}, refs)
	assert.Equal(t, "ideas-2.3", refs[0].String())
	assert.Equal(t, "style", refs[1].String())

	assert.Empty(t, References("plain text"))
}

func TestVarsSet(t *testing.T) {
	v := Vars{}
	v.Set("c", "whole", []string{"one", "two"})
	assert.Equal(t, Vars{"c": "whole", "c.1": "one", "c.2": "two"}, v)
}
