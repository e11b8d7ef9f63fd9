package task

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies which variant a parameter value carries.
type Kind string

const (
	KindInteger Kind = "integer"
	KindFloat   Kind = "float"
	KindRange   Kind = "range"
	KindBoolean Kind = "boolean"
	KindString  Kind = "string"
	KindSelect  Kind = "select"
)

// ValidationError reports a parameter value that fails its schema.
type ValidationError struct {
	Param   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter %s: %s", e.Param, e.Message)
}

// Value is a tagged union over the parameter kinds. Only the field
// matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Int   int64
	Float float64
	From  float64 // range lower bound
	To    float64 // range upper bound
	Bool  bool
	Str   string // string and select
}

// IntValue constructs an integer value.
func IntValue(v int64) Value { return Value{Kind: KindInteger, Int: v} }

// FloatValue constructs a float value.
func FloatValue(v float64) Value { return Value{Kind: KindFloat, Float: v} }

// RangeValue constructs a range value spanning [from, to].
func RangeValue(from, to float64) Value { return Value{Kind: KindRange, From: from, To: to} }

// BoolValue constructs a boolean value.
func BoolValue(v bool) Value { return Value{Kind: KindBoolean, Bool: v} }

// StringValue constructs a string value.
func StringValue(v string) Value { return Value{Kind: KindString, Str: v} }

// SelectValue constructs a select value.
func SelectValue(v string) Value { return Value{Kind: KindSelect, Str: v} }

// Native returns the value as a plain Go value suitable for JSON
// encoding into a model parameter file.
func (v Value) Native() any {
	switch v.Kind {
	case KindInteger:
		return v.Int
	case KindFloat:
		return v.Float
	case KindRange:
		return []float64{v.From, v.To}
	case KindBoolean:
		return v.Bool
	default:
		return v.Str
	}
}

// Display renders the value for human consumption (report tables, logs).
func (v Value) Display() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindRange:
		return fmt.Sprintf("%s to %s",
			strconv.FormatFloat(v.From, 'g', -1, 64),
			strconv.FormatFloat(v.To, 'g', -1, 64))
	case KindBoolean:
		if v.Bool {
			return "yes"
		}
		return "no"
	default:
		return v.Str
	}
}

// Equal compares two values under parameter-value semantics.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInteger:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindRange:
		return v.From == o.From && v.To == o.To
	case KindBoolean:
		return v.Bool == o.Bool
	default:
		return v.Str == o.Str
	}
}

// wireValue is the on-wire representation: {"type": kind, "value": ...}.
type wireValue struct {
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(v.Native())
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.Kind, Value: raw})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch w.Type {
	case KindInteger:
		if err := json.Unmarshal(w.Value, &v.Int); err != nil {
			return fmt.Errorf("integer value: %w", err)
		}
	case KindFloat:
		if err := json.Unmarshal(w.Value, &v.Float); err != nil {
			return fmt.Errorf("float value: %w", err)
		}
	case KindRange:
		var pair []float64
		if err := json.Unmarshal(w.Value, &pair); err != nil {
			return fmt.Errorf("range value: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("range value: want 2 elements, got %d", len(pair))
		}
		v.From, v.To = pair[0], pair[1]
	case KindBoolean:
		if err := json.Unmarshal(w.Value, &v.Bool); err != nil {
			return fmt.Errorf("boolean value: %w", err)
		}
	case KindString, KindSelect:
		if err := json.Unmarshal(w.Value, &v.Str); err != nil {
			return fmt.Errorf("string value: %w", err)
		}
	default:
		return fmt.Errorf("unknown parameter kind %q", w.Type)
	}
	v.Kind = w.Type
	return nil
}

// ParameterSpec describes one parameter of a model: its kind, constraint
// set, default and presentation metadata. Loaded from model descriptors.
type ParameterSpec struct {
	Name        string   `yaml:"name"`
	Kind        Kind     `yaml:"kind"`
	Description string   `yaml:"description"`
	Units       string   `yaml:"units,omitempty"`
	HelpText    string   `yaml:"help_text,omitempty"`
	Default     *float64 `yaml:"default,omitempty"`
	DefaultBool *bool    `yaml:"default_bool,omitempty"`
	DefaultStr  string   `yaml:"default_str,omitempty"`
	RangeStart  *float64 `yaml:"range_start,omitempty"`
	RangeEnd    *float64 `yaml:"range_end,omitempty"`
	Step        *float64 `yaml:"step,omitempty"`
	Options     []string `yaml:"options,omitempty"`
}

// DefaultValue returns the schema default for this parameter, or the
// zero value of its kind when no default is declared.
func (p *ParameterSpec) DefaultValue() Value {
	switch p.Kind {
	case KindInteger:
		if p.Default != nil {
			return IntValue(int64(*p.Default))
		}
		return IntValue(0)
	case KindFloat:
		if p.Default != nil {
			return FloatValue(*p.Default)
		}
		return FloatValue(0)
	case KindRange:
		from, to := 0.0, 0.0
		if p.RangeStart != nil {
			from = *p.RangeStart
		}
		if p.RangeEnd != nil {
			to = *p.RangeEnd
		}
		return RangeValue(from, to)
	case KindBoolean:
		if p.DefaultBool != nil {
			return BoolValue(*p.DefaultBool)
		}
		return BoolValue(false)
	case KindSelect:
		if p.DefaultStr == "" && len(p.Options) > 0 {
			return SelectValue(p.Options[0])
		}
		return SelectValue(p.DefaultStr)
	default:
		return StringValue(p.DefaultStr)
	}
}

// Validate checks a value against this parameter's kind and constraints.
func (p *ParameterSpec) Validate(v Value) error {
	if v.Kind != p.Kind {
		return &ValidationError{Param: p.Name,
			Message: fmt.Sprintf("kind mismatch: got %s, want %s", v.Kind, p.Kind)}
	}

	switch p.Kind {
	case KindInteger:
		return p.checkBounds(float64(v.Int))
	case KindFloat:
		return p.checkBounds(v.Float)
	case KindRange:
		if v.From > v.To {
			return &ValidationError{Param: p.Name,
				Message: fmt.Sprintf("range start %g exceeds end %g", v.From, v.To)}
		}
		if err := p.checkBounds(v.From); err != nil {
			return err
		}
		return p.checkBounds(v.To)
	case KindSelect:
		for _, opt := range p.Options {
			if opt == v.Str {
				return nil
			}
		}
		return &ValidationError{Param: p.Name,
			Message: fmt.Sprintf("%q is not one of: %s", v.Str, strings.Join(p.Options, ", "))}
	}
	return nil
}

func (p *ParameterSpec) checkBounds(v float64) error {
	if p.RangeStart != nil && v < *p.RangeStart {
		return &ValidationError{Param: p.Name,
			Message: fmt.Sprintf("%g is below the minimum of %g", v, *p.RangeStart)}
	}
	if p.RangeEnd != nil && v > *p.RangeEnd {
		return &ValidationError{Param: p.Name,
			Message: fmt.Sprintf("%g is above the maximum of %g", v, *p.RangeEnd)}
	}
	return p.checkStep(v)
}

// checkStep verifies the value sits on the step grid anchored at the
// range start (or zero). The tolerance absorbs float representation
// error from form parsing.
func (p *ParameterSpec) checkStep(v float64) error {
	if p.Step == nil || *p.Step <= 0 {
		return nil
	}
	base := 0.0
	if p.RangeStart != nil {
		base = *p.RangeStart
	}
	steps := (v - base) / *p.Step
	if math.Abs(steps-math.Round(steps)) > 1e-9 {
		return &ValidationError{Param: p.Name,
			Message: fmt.Sprintf("%g is not a multiple of %g from %g", v, *p.Step, base)}
	}
	return nil
}

// ParseForm converts a raw HTML form string into a Value of this
// parameter's kind. An absent boolean (unchecked checkbox) should be
// passed as the empty string.
func (p *ParameterSpec) ParseForm(raw string) (Value, error) {
	switch p.Kind {
	case KindInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Value{}, &ValidationError{Param: p.Name, Message: "not a valid integer"}
		}
		return IntValue(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return Value{}, &ValidationError{Param: p.Name, Message: "not a valid number"}
		}
		return FloatValue(f), nil
	case KindRange:
		// Submitted as "from:to".
		parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
		if len(parts) != 2 {
			return Value{}, &ValidationError{Param: p.Name, Message: "range must be start:end"}
		}
		from, err1 := strconv.ParseFloat(parts[0], 64)
		to, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			return Value{}, &ValidationError{Param: p.Name, Message: "range bounds must be numbers"}
		}
		return RangeValue(from, to), nil
	case KindBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "", "false", "off", "0", "no":
			return BoolValue(false), nil
		default:
			return BoolValue(true), nil
		}
	case KindSelect:
		return SelectValue(raw), nil
	default:
		return StringValue(raw), nil
	}
}
