package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrUndefined matches every *UndefinedVariableError.
var ErrUndefined = errors.New("undefined prompt variable")

// placeholder matches ${name} and ${name.N}. Names may contain dashes so
// task ids like "ideas-2" work.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_][A-Za-z0-9_-]*)(?:\.([0-9]+))?\}`)

// Vars maps placeholder names to text. Item N of source s is stored as
// "s.N".
type Vars map[string]string

// Set adds output under id and each item under id.N (1-based).
func (v Vars) Set(id, output string, items []string) {
	v[id] = output
	for i, item := range items {
		v[id+"."+strconv.Itoa(i+1)] = item
	}
}

// Expander replaces placeholders in prompt text.
// It is safe for concurrent use after construction.
type Expander struct {
	missing MissingAction
}

// NewExpander creates an Expander. Default: MissingError.
func NewExpander(opts ...Option) *Expander {
	e := &Expander{missing: MissingError}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand replaces every placeholder in s with its value in vars.
//
// With MissingError the partially expanded text is returned together with
// an *UndefinedVariableError naming every missing placeholder.
func (e *Expander) Expand(s string, vars Vars) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	out := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if val, ok := vars[name]; ok {
			return val
		}
		switch e.missing {
		case MissingEmpty:
			return ""
		case MissingError:
			missing = append(missing, name)
		}
		return match
	})

	if len(missing) > 0 {
		return out, &UndefinedVariableError{Names: missing}
	}
	return out, nil
}

// Ref is one placeholder found in a prompt.
type Ref struct {
	// Source is the name before the optional item index.
	Source string
	// Item is the 1-based item index, zero for the whole text.
	Item int
}

// String returns the placeholder name.
func (r Ref) String() string {
	if r.Item == 0 {
		return r.Source
	}
	return r.Source + "." + strconv.Itoa(r.Item)
}

// References lists the placeholders in s in order of appearance.
func References(s string) []Ref {
	var refs []Ref
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		r := Ref{Source: m[1]}
		if m[2] != "" {
			r.Item, _ = strconv.Atoi(m[2])
		}
		refs = append(refs, r)
	}
	return refs
}

// UndefinedVariableError names placeholders that had no value.
type UndefinedVariableError struct {
	Names []string
}

// Error implements the error interface.
func (e *UndefinedVariableError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("undefined prompt variable: %s", e.Names[0])
	}
	return fmt.Sprintf("undefined prompt variables: %s", strings.Join(e.Names, ", "))
}

// Is reports ErrUndefined.
func (e *UndefinedVariableError) Is(target error) bool {
	return target == ErrUndefined
}

var defaultExpander = NewExpander(WithMissingAction(MissingKeep))

// Expand replaces placeholders in s, leaving unknown ones as they are.
func Expand(s string, vars Vars) string {
	out, _ := defaultExpander.Expand(s, vars)
	return out
}
