package toolconfig

// FallbackID identifies the configuration returned by Fallback.
const FallbackID = "fallback-calculator"

// Fallback returns the deterministic two-number adder shown when a model
// response cannot be used as a tool. Each call returns a fresh copy.
func Fallback() *Config {
	return &Config{
		ID:          FallbackID,
		Type:        ToolCalculator,
		Title:       "Simple Calculator",
		Description: "Error occurred, showing fallback calculator",
		Sections: []Section{{
			ID: "main",
			Inputs: []Input{
				{ID: "num1", Type: InputNumber, Label: "Number 1", DefaultValue: 0.0},
				{ID: "num2", Type: InputNumber, Label: "Number 2", DefaultValue: 0.0},
			},
			Actions: []Action{{
				ID:    "add",
				Label: "Add",
				Type:  ActionPrimary,
				Logic: "results.result = Number(inputs.num1) + Number(inputs.num2);",
			}},
			Outputs: []Output{
				{ID: "result", Type: OutputNumber, Label: "Result", Copyable: true},
			},
		}},
	}
}

// ParseOrFallback parses data and substitutes Fallback on any failure. The
// parse error is returned alongside so callers can log it; the returned
// config is never nil.
func ParseOrFallback(data []byte, opts ...ParseOption) (*Config, error) {
	cfg, err := Parse(data, opts...)
	if err != nil {
		return Fallback(), err
	}
	return cfg, nil
}
