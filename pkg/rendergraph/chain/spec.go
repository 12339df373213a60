package chain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxStrength bounds the absolute value of a modifier strength. It matches
// the range the worker's LoRA loader accepts.
const MaxStrength = 100.0

// ModifierSpec describes one stage of the modifier chain.
type ModifierSpec struct {
	// Name is the modifier file name as the worker knows it.
	Name string
	// ModelStrength scales the model branch.
	ModelStrength float64
	// ClipStrength scales the text-encoder branch.
	ClipStrength float64
}

// Spec returns a ModifierSpec with both strengths at 1.0.
func Spec(name string) ModifierSpec {
	return ModifierSpec{Name: name, ModelStrength: 1, ClipStrength: 1}
}

// Validate checks the name and strength bounds.
func (s ModifierSpec) Validate() error {
	switch {
	case strings.TrimSpace(s.Name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidSpec)
	case !validStrength(s.ModelStrength):
		return fmt.Errorf("%w: model strength %v outside [-%v, %v]", ErrInvalidSpec, s.ModelStrength, MaxStrength, MaxStrength)
	case !validStrength(s.ClipStrength):
		return fmt.Errorf("%w: clip strength %v outside [-%v, %v]", ErrInvalidSpec, s.ClipStrength, MaxStrength, MaxStrength)
	}
	return nil
}

// String formats the spec as name:model:clip.
func (s ModifierSpec) String() string {
	return s.Name + ":" + formatStrength(s.ModelStrength) + ":" + formatStrength(s.ClipStrength)
}

// ValidateSpecs checks every spec and reports the first failure as an
// *InvalidSpecError.
func ValidateSpecs(specs []ModifierSpec) error {
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			return &InvalidSpecError{Index: i, Spec: s, Err: err}
		}
	}
	return nil
}

// ParseSpec parses "name", "name:strength" or "name:model:clip".
// A single strength applies to both branches.
func ParseSpec(text string) (ModifierSpec, error) {
	parts := strings.Split(strings.TrimSpace(text), ":")
	spec := Spec(strings.TrimSpace(parts[0]))

	var err error
	switch len(parts) {
	case 1:
	case 2:
		if spec.ModelStrength, err = parseStrength(parts[1]); err != nil {
			return ModifierSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, text, err)
		}
		spec.ClipStrength = spec.ModelStrength
	case 3:
		if spec.ModelStrength, err = parseStrength(parts[1]); err != nil {
			return ModifierSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, text, err)
		}
		if spec.ClipStrength, err = parseStrength(parts[2]); err != nil {
			return ModifierSpec{}, fmt.Errorf("%w: %q: %v", ErrInvalidSpec, text, err)
		}
	default:
		return ModifierSpec{}, fmt.Errorf("%w: %q: too many fields", ErrInvalidSpec, text)
	}

	if err := spec.Validate(); err != nil {
		return ModifierSpec{}, err
	}
	return spec, nil
}

// ParseSpecs parses a list of spec strings, skipping blank entries.
func ParseSpecs(texts []string) ([]ModifierSpec, error) {
	specs := make([]ModifierSpec, 0, len(texts))
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		s, err := ParseSpec(text)
		if err != nil {
			return nil, &InvalidSpecError{Index: len(specs), Spec: ModifierSpec{Name: text}, Err: err}
		}
		specs = append(specs, s)
	}
	return specs, nil
}

func parseStrength(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func validStrength(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && math.Abs(f) <= MaxStrength
}

func formatStrength(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
