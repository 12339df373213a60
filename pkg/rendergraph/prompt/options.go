package prompt

// MissingAction specifies how to handle placeholders without a value.
type MissingAction int

const (
	// MissingError reports undefined placeholders. This is the default.
	MissingError MissingAction = iota

	// MissingKeep leaves the placeholder text as it is.
	MissingKeep

	// MissingEmpty replaces the placeholder with an empty string.
	MissingEmpty
)

// Option configures an Expander.
type Option func(*Expander)

// WithMissingAction sets how undefined placeholders are handled.
//
// Default: MissingError
//
// Example:
//
//	exp := NewExpander(WithMissingAction(MissingEmpty))
//	out, _ := exp.Expand("a ${missing} fox", nil)
//	// out: "a  fox"
func WithMissingAction(action MissingAction) Option {
	return func(e *Expander) {
		e.missing = action
	}
}
