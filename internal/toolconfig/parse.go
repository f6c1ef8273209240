package toolconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValidationError reports why a document is not a usable tool configuration.
type ValidationError struct {
	Problems []string
	Err      error // underlying decode or schema error, if any
}

func (e *ValidationError) Error() string {
	return "toolconfig: invalid configuration: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return e.Err }

type parseOptions struct {
	allowSharedIDs bool
}

// ParseOption configures Parse.
type ParseOption func(*parseOptions)

// AllowSharedIDs lets the same input, output or action id appear in more than
// one section. State and results are keyed by bare id, so a later section's
// field shadows an earlier one.
func AllowSharedIDs(allow bool) ParseOption {
	return func(o *parseOptions) { o.allowSharedIDs = allow }
}

// schemaCheck is swapped in tests.
var schemaCheck = validateSchema

// Parse decodes and validates a tool configuration. Any failure is returned as
// a *ValidationError; callers should substitute Fallback().
func Parse(data []byte, opts ...ParseOption) (*Config, error) {
	var o parseOptions
	for _, opt := range opts {
		opt(&o)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Problems: []string{"malformed JSON: " + err.Error()}, Err: err}
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return nil, &ValidationError{Problems: []string{"/: expected a JSON object"}}
	}
	problems, err := schemaCheck(doc)
	if err != nil {
		return nil, &ValidationError{Problems: []string{"schema: " + err.Error()}, Err: err}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&cfg); err != nil {
		return nil, &ValidationError{Problems: []string{"decode: " + err.Error()}, Err: err}
	}
	if problems := Check(&cfg, o.allowSharedIDs); len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return &cfg, nil
}

// Check applies the rules a JSON Schema cannot express: id uniqueness, options
// for select and radio, numeric bounds and default value types.
// It also catches structural problems in configs built in Go rather than parsed.
func Check(cfg *Config, allowSharedIDs bool) []string {
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if cfg.ID == "" {
		add("/id: missing")
	}
	if cfg.Title == "" {
		add("/title: missing")
	}
	if len(cfg.Sections) == 0 {
		add("/sections: at least one section is required")
	}

	seen := map[string]map[string]int{"input": {}, "output": {}, "action": {}}
	claim := func(kind, id string, section int, where string) {
		if id == "" {
			return
		}
		prev, ok := seen[kind][id]
		switch {
		case !ok:
			seen[kind][id] = section
		case prev == section:
			add("%s: duplicate %s id %q in section", where, kind, id)
		case !allowSharedIDs:
			add("%s: %s id %q already used in section %d", where, kind, id, prev)
		}
	}

	for si, s := range cfg.Sections {
		for ii, in := range s.Inputs {
			where := fmt.Sprintf("/sections/%d/inputs/%d", si, ii)
			if in.ID == "" {
				add("%s/id: missing", where)
			}
			if in.Label == "" {
				add("%s/label: missing", where)
			}
			claim("input", in.ID, si, where)
			problems = append(problems, checkInput(in, where)...)
		}
		for oi, out := range s.Outputs {
			where := fmt.Sprintf("/sections/%d/outputs/%d", si, oi)
			if out.ID == "" {
				add("%s/id: missing", where)
			}
			claim("output", out.ID, si, where)
			if out.GridSize != nil && out.GridSize.Cells() <= 0 {
				add("%s/gridSize: rows and cols must be positive", where)
			}
		}
		for ai, a := range s.Actions {
			where := fmt.Sprintf("/sections/%d/actions/%d", si, ai)
			checkAction(a, where, add)
			claim("action", a.ID, si, where)
		}
	}
	for ai, a := range cfg.GlobalActions {
		where := fmt.Sprintf("/globalActions/%d", ai)
		checkAction(a, where, add)
		claim("action", a.ID, -1, where)
	}
	return problems
}

func checkAction(a Action, where string, add func(string, ...any)) {
	if a.ID == "" {
		add("%s/id: missing", where)
	}
	if strings.TrimSpace(a.Logic) == "" {
		add("%s/logic: missing", where)
	}
}

func checkInput(in Input, where string) []string {
	var problems []string
	if in.Type.HasOptions() && len(in.Options) == 0 {
		problems = append(problems, fmt.Sprintf("%s/options: required for %s inputs", where, in.Type))
	}
	if in.Min != nil && in.Max != nil && *in.Min > *in.Max {
		problems = append(problems, fmt.Sprintf("%s: min %v exceeds max %v", where, *in.Min, *in.Max))
	}
	if in.DefaultValue == nil {
		return problems
	}
	ok := true
	switch {
	case in.Type.Numeric():
		_, ok = AsNumber(in.DefaultValue)
	case in.Type == InputCheckbox:
		_, ok = in.DefaultValue.(bool)
	default:
		switch in.DefaultValue.(type) {
		case string, float64, json.Number, int:
		default:
			ok = false
		}
	}
	if !ok {
		problems = append(problems, fmt.Sprintf("%s/defaultValue: %v does not match input type %s", where, in.DefaultValue, in.Type))
	}
	return problems
}

// AsNumber converts a JSON-decoded value to a float64. Numeric strings are
// accepted; booleans and other types are not.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Format is a parsed output format specifier.
type Format struct {
	Kind     FormatKind
	Decimals int // for FormatFixed
}

// FormatKind enumerates output formats.
type FormatKind int

const (
	FormatNone FormatKind = iota
	FormatCurrency
	FormatPercent
	FormatFixed
)

// DefaultFixedDecimals is used by "fixed" with no or an unreadable digit count.
const DefaultFixedDecimals = 2

// ParseFormat parses "currency", "percent", "fixed" or "fixed:<N>". Anything
// else, including the empty string, is FormatNone: values render unformatted.
func ParseFormat(s string) Format {
	s = strings.TrimSpace(s)
	switch {
	case s == "currency":
		return Format{Kind: FormatCurrency}
	case s == "percent":
		return Format{Kind: FormatPercent}
	case s == "fixed" || strings.HasPrefix(s, "fixed:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "fixed:"))
		if err != nil || n < 0 || n > 20 {
			n = DefaultFixedDecimals
		}
		return Format{Kind: FormatFixed, Decimals: n}
	}
	return Format{Kind: FormatNone}
}
