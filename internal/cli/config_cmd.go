package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"toolchat/internal/config"
)

// ConfigOptions holds options for the config command.
type ConfigOptions struct {
	Path   string // config file; "" means config.Path()
	Action string // "get", "set", or "unset"
	Key    string // dot notation, e.g. "gateway.port"
	Value  string // value to set (for set action)
}

// RunConfig runs the config subcommand: non-interactive get/set/unset on the
// JSON config file. A missing file reads as the defaults, and an unset key
// falls back to its default. Changes are validated before they are written.
// Returns the exit code.
func RunConfig(opts ConfigOptions, stdout, stderr io.Writer) int {
	path := opts.Path
	if path == "" {
		path = configPath()
	}
	doc, err := loadDocument(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch opts.Action {
	case "get":
		return runConfigGet(doc, opts.Key, stdout, stderr)
	case "set":
		if err := setValueAtPathFn(doc, splitKey(opts.Key), parseValue(opts.Value)); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	case "unset":
		if err := unsetValueAtPath(doc, splitKey(opts.Key)); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintf(stderr, "Error: unknown action %q (use 'get', 'set', or 'unset')\n", opts.Action)
		return 1
	}

	if err := saveDocument(path, doc); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

// loadDocument reads the config as a generic map, starting from the
// defaults so every known key can be read.
func loadDocument(path string) (map[string]any, error) {
	base, err := json.Marshal(config.Default())
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(base, &doc); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var file map[string]any
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	merge(doc, file)
	return doc, nil
}

// merge copies src over dst, descending into objects present in both.
func merge(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				merge(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}

// saveDocument validates doc as a config and writes it.
func saveDocument(path string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	cfg := config.Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	config.CleanPaths(cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// runConfigGet prints the value at key.
func runConfigGet(doc map[string]any, key string, stdout, stderr io.Writer) int {
	value := getValueAtPath(doc, splitKey(key))
	if value == nil {
		fmt.Fprintf(stderr, "Error: path %q not found in config\n", key)
		return 1
	}

	switch v := value.(type) {
	case string:
		fmt.Fprintln(stdout, v)
	case float64:
		if v == float64(int64(v)) {
			fmt.Fprintf(stdout, "%d\n", int64(v))
		} else {
			fmt.Fprintf(stdout, "%g\n", v)
		}
	case bool:
		fmt.Fprintf(stdout, "%t\n", v)
	default:
		jsonBytes, _ := json.Marshal(v)
		fmt.Fprintln(stdout, string(jsonBytes))
	}
	return 0
}

func splitKey(key string) []string {
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}

// parseValue reads numbers, booleans and JSON arrays or objects; anything
// else stays a string.
func parseValue(raw string) any {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") {
		var v any
		if json.Unmarshal([]byte(raw), &v) == nil {
			return v
		}
	}
	return raw
}

// getValueAtPath retrieves a value from a nested map using a path.
func getValueAtPath(data map[string]any, path []string) any {
	if len(path) == 0 {
		return nil
	}
	value, exists := data[path[0]]
	if !exists || len(path) == 1 {
		return value
	}
	next, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return getValueAtPath(next, path[1:])
}

// setValueAtPath sets a value in a nested map using a path, creating
// intermediate objects.
func setValueAtPath(data map[string]any, path []string, value any) error {
	if len(path) == 0 {
		return errors.New("empty path")
	}
	if len(path) == 1 {
		data[path[0]] = value
		return nil
	}
	next, ok := data[path[0]].(map[string]any)
	if !ok {
		next = make(map[string]any)
		data[path[0]] = next
	}
	return setValueAtPath(next, path[1:], value)
}

// unsetValueAtPath removes a value from a nested map using a path.
func unsetValueAtPath(data map[string]any, path []string) error {
	if len(path) == 0 {
		return errors.New("empty path")
	}
	if len(path) == 1 {
		delete(data, path[0])
		return nil
	}
	value, exists := data[path[0]]
	if !exists {
		return fmt.Errorf("path %q not found", strings.Join(path, "."))
	}
	next, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("path %q is not an object", strings.Join(path[:len(path)-1], "."))
	}
	return unsetValueAtPath(next, path[1:])
}
