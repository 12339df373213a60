/*
Package prompt expands references to earlier task output in prompt text.

# Placeholders

Two forms are supported:

  - ${task} is the whole output of a task
  - ${task.N} is item N (1-based) of a numbered-list output

Only the brace form is recognised. Prompt text often contains a bare "$"
and is left alone.

# Basic Usage

	vars := prompt.Vars{}
	vars.Set("ideas", output, []string{"a red barn", "a blue lake"})

	text, err := prompt.NewExpander().Expand("${ideas.2}, golden hour", vars)
	// text: "a blue lake, golden hour"

# Missing Values

The default Expander returns an *UndefinedVariableError, which matches
ErrUndefined. Configure it with WithMissingAction to keep or drop unknown
placeholders instead. The package-level Expand keeps them.

References lists the placeholders of a prompt so callers can check them
before any value exists.
*/
package prompt
