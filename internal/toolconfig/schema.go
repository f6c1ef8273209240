package toolconfig

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	invopopSchema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// marshalFunc is the JSON marshaler used by JSONSchema. Package-level so
// tests can inject a failing marshaler.
var marshalFunc = func(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// JSONSchema returns the JSON Schema of Config, reflected from the Go types.
// Extra properties are allowed so that harmless additions from a model do not
// fail validation.
func JSONSchema() string {
	reflector := invopopSchema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&Config{})
	schema.Title = "ToolConfig"
	schema.Description = "Interactive tool: ordered sections of inputs, outputs and actions whose logic runs against inputs and writes results."

	raw, err := marshalFunc(schema)
	if err != nil {
		return ""
	}
	return string(raw)
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		src := JSONSchema()
		if src == "" {
			compileErr = fmt.Errorf("toolconfig: schema generation failed")
			return
		}
		compiled, compileErr = jsonschema.CompileString("toolconfig.json", src)
	})
	return compiled, compileErr
}

// validateSchema checks the decoded document against the reflected schema and
// returns one problem per failing leaf, sorted by location.
func validateSchema(doc interface{}) ([]string, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	err = schema.Validate(doc)
	if err == nil {
		return nil, nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, fmt.Errorf("toolconfig: schema validation: %w", err)
	}
	var problems []string
	collectLeaves(verr, &problems)
	sort.Strings(problems)
	return problems, nil
}

func collectLeaves(e *jsonschema.ValidationError, out *[]string) {
	if len(e.Causes) == 0 {
		loc := e.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*out = append(*out, fmt.Sprintf("%s: %s", loc, strings.TrimSpace(e.Message)))
		return
	}
	for _, c := range e.Causes {
		collectLeaves(c, out)
	}
}
