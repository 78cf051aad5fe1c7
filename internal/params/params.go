// Package params implements the typed parameter schema shared by model
// definitions, the web form layer and the task wire format. A Spec declares
// a parameter; WithValue produces a validated Value carrying the Spec.
package params

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies a parameter variant.
type Kind string

const (
	KindInteger Kind = "integer"
	KindFloat   Kind = "float"
	KindRange   Kind = "range"
	KindString  Kind = "string"
	KindBoolean Kind = "boolean"
	KindSelect  Kind = "select"
)

// ValidationError reports a rejected parameter value. It is user-visible:
// the web frontend re-renders the form with the error text.
type ValidationError struct {
	Param  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter %q: %s (value %v)", e.Param, e.Reason, e.Value)
}

// MissingError reports a parameter absent from a submission. Only boolean
// parameters tolerate absence (unchecked checkboxes send no key).
type MissingError struct {
	Param string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("parameter %q: missing value", e.Param)
}

// Spec is a parameter declaration: name, kind, constraints and a default.
// Specs are loaded from model definition files and never mutated.
type Spec struct {
	Name        string   `toml:"name" yaml:"name" json:"name" validate:"required"`
	Kind        Kind     `toml:"type" yaml:"type" json:"type" validate:"required,oneof=integer float range string boolean select"`
	Description string   `toml:"description" yaml:"description" json:"description"`
	Units       string   `toml:"units" yaml:"units" json:"units"`
	Min         *float64 `toml:"min" yaml:"min" json:"min,omitempty"`
	Max         *float64 `toml:"max" yaml:"max" json:"max,omitempty"`
	Step        *float64 `toml:"step" yaml:"step" json:"step,omitempty"`
	RangeStart  float64  `toml:"range_start" yaml:"range_start" json:"range_start,omitempty"`
	RangeEnd    float64  `toml:"range_end" yaml:"range_end" json:"range_end,omitempty"`
	RangeStep   float64  `toml:"range_step" yaml:"range_step" json:"range_step,omitempty"`
	Options     []string `toml:"options" yaml:"options" json:"options,omitempty"`
	Default     any      `toml:"default" yaml:"default" json:"default,omitempty"`
	Hidden      bool     `toml:"hidden" yaml:"hidden" json:"hidden,omitempty"`
	HelpText    string   `toml:"help_text" yaml:"help_text" json:"help_text,omitempty"`
}

// Value is a Spec instantiated with a validated value. Exactly one arm is
// meaningful per kind: Number (integer/float), Range (range), Text
// (string/select), Flag (boolean).
type Value struct {
	Spec   *Spec
	Number float64
	Range  [2]float64
	Text   string
	Flag   bool
}

// Serialized is the name+value wire form of a parameter value, used in the
// task dict and the persisted snapshot.
type Serialized struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// WithValue validates raw against the spec and returns the value-bearing
// copy. Failures are *ValidationError.
func (s *Spec) WithValue(raw any) (Value, error) {
	switch s.Kind {
	case KindInteger:
		n, err := toFloat(raw)
		if err != nil {
			return Value{}, &ValidationError{Param: s.Name, Value: raw, Reason: "not an integer"}
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, &ValidationError{Param: s.Name, Value: raw, Reason: "not a finite number"}
		}
		if math.Trunc(n) != n {
			return Value{}, &ValidationError{Param: s.Name, Value: raw, Reason: "not an integer"}
		}
		if err := s.checkBounds(n); err != nil {
			return Value{}, err
		}
		return Value{Spec: s, Number: n}, nil

	case KindFloat:
		n, err := toFloat(raw)
		if err != nil {
			return Value{}, &ValidationError{Param: s.Name, Value: raw, Reason: "not a number"}
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return Value{}, &ValidationError{Param: s.Name, Value: raw, Reason: "not a finite number"}
		}
		if err := s.checkBounds(n); err != nil {
			return Value{}, err
		}
		return Value{Spec: s, Number: n}, nil

	case KindRange:
		start, end, err := toRange(raw)
		if err != nil {
			return Value{}, &ValidationError{Param: s.Name, Value: raw, Reason: err.Error()}
		}
		if start > end {
			return Value{}, &ValidationError{Param: s.Name, Value: raw,
				Reason: fmt.Sprintf("starts after it ends (%v-%v)", start, end)}
		}
		if start < s.RangeStart {
			return Value{}, &ValidationError{Param: s.Name, Value: raw,
				Reason: fmt.Sprintf("start value %v less than minimum %v", start, s.RangeStart)}
		}
		if end > s.RangeEnd {
			return Value{}, &ValidationError{Param: s.Name, Value: raw,
				Reason: fmt.Sprintf("end value %v greater than maximum %v", end, s.RangeEnd)}
		}
		return Value{Spec: s, Range: [2]float64{start, end}}, nil

	case KindString:
		return Value{Spec: s, Text: toString(raw)}, nil

	case KindBoolean:
		b, err := toBool(raw)
		if err != nil {
			return Value{}, &ValidationError{Param: s.Name, Value: raw, Reason: "not a boolean"}
		}
		return Value{Spec: s, Flag: b}, nil

	case KindSelect:
		text := toString(raw)
		for _, opt := range s.Options {
			if opt == text {
				return Value{Spec: s, Text: text}, nil
			}
		}
		return Value{}, &ValidationError{Param: s.Name, Value: raw, Reason: "not in option set"}

	default:
		return Value{}, &ValidationError{Param: s.Name, Value: raw,
			Reason: fmt.Sprintf("unknown parameter kind %q", s.Kind)}
	}
}

// NonExistValue is the value used when a submission omits the parameter
// key entirely. Unchecked HTML checkboxes send no key, so booleans resolve
// to false; every other kind is genuinely missing.
func (s *Spec) NonExistValue() (Value, error) {
	if s.Kind == KindBoolean {
		return Value{Spec: s, Flag: false}, nil
	}
	return Value{}, &MissingError{Param: s.Name}
}

// DefaultValue returns the declared default as a validated Value. A select
// without a declared default falls back to its first option.
func (s *Spec) DefaultValue() (Value, error) {
	if s.Default == nil {
		if s.Kind == KindSelect && len(s.Options) > 0 {
			return s.WithValue(s.Options[0])
		}
		if s.Kind == KindBoolean {
			return Value{Spec: s, Flag: false}, nil
		}
		return Value{}, &MissingError{Param: s.Name}
	}
	return s.WithValue(s.Default)
}

// Serialize returns the name+value pair for the wire and the snapshot.
func (v Value) Serialize() Serialized {
	return Serialized{Name: v.Spec.Name, Value: v.wireValue()}
}

func (v Value) wireValue() any {
	switch v.Spec.Kind {
	case KindInteger:
		return int64(v.Number)
	case KindFloat:
		return v.Number
	case KindRange:
		return []float64{v.Range[0], v.Range[1]}
	case KindBoolean:
		return v.Flag
	default:
		return v.Text
	}
}

// Deserialize reconstructs a Value from its wire form, validating the
// payload against the spec. The name must match the spec.
func (s *Spec) Deserialize(d Serialized) (Value, error) {
	if d.Name != s.Name {
		return Value{}, &ValidationError{Param: s.Name, Value: d.Name,
			Reason: fmt.Sprintf("wrong parameter (called %q for %q)", s.Name, d.Name)}
	}
	return s.WithValue(d.Value)
}

// checkBounds enforces optional Min/Max on numeric kinds.
func (s *Spec) checkBounds(n float64) error {
	if s.Min != nil && n < *s.Min {
		return &ValidationError{Param: s.Name, Value: n,
			Reason: fmt.Sprintf("value %v out of range (min %v)", n, *s.Min)}
	}
	if s.Max != nil && n > *s.Max {
		return &ValidationError{Param: s.Name, Value: n,
			Reason: fmt.Sprintf("value %v out of range (max %v)", n, *s.Max)}
	}
	return nil
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to number", raw)
	}
}

func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", raw)
	}
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "on", "yes", "checked":
			return true, nil
		case "false", "0", "off", "no", "":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", v)
	case float64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case int64:
		return v != 0, nil
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", raw)
	}
}

// toRange accepts a two-element numeric sequence or a hyphen-delimited
// string.
func toRange(raw any) (float64, float64, error) {
	switch v := raw.(type) {
	case string:
		parts := strings.SplitN(v, "-", 2)
		if len(parts) != 2 {
			return 0, 0, fmt.Errorf("expected \"start-end\", got %q", v)
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad range start %q", parts[0])
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return 0, 0, fmt.Errorf("bad range end %q", parts[1])
		}
		return start, end, nil
	case []float64:
		if len(v) != 2 {
			return 0, 0, fmt.Errorf("expected two elements, got %d", len(v))
		}
		return v[0], v[1], nil
	case [2]float64:
		return v[0], v[1], nil
	case []any:
		if len(v) != 2 {
			return 0, 0, fmt.Errorf("expected two elements, got %d", len(v))
		}
		start, err := toFloat(v[0])
		if err != nil {
			return 0, 0, err
		}
		end, err := toFloat(v[1])
		if err != nil {
			return 0, 0, err
		}
		return start, end, nil
	default:
		return 0, 0, fmt.Errorf("cannot convert %T to range", raw)
	}
}
