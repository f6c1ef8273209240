package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"toolchat/internal/numfmt"
	"toolchat/internal/toolconfig"
)

// Placeholder is shown for an output whose result is absent.
const Placeholder = "No result yet"

// Absent reports whether v counts as "no result": nil only. Zero, false and
// the empty string are results.
func Absent(v any) bool { return v == nil }

// asNumber reports whether v is a numeric result. Numeric strings do not count.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// FormatValue renders a result for display. The output format applies only
// to numbers; other values render as text, with objects and arrays as
// indented JSON.
func FormatValue(v any, format string) string {
	if Absent(v) {
		return ""
	}
	if f, ok := asNumber(v); ok {
		return FormatNumber(f, toolconfig.ParseFormat(format))
	}
	return plain(v)
}

// FormatNumber applies a parsed format to a number.
func FormatNumber(f float64, format toolconfig.Format) string {
	switch format.Kind {
	case toolconfig.FormatCurrency:
		return numfmt.Currency(f)
	case toolconfig.FormatPercent:
		return numfmt.Percent(f)
	case toolconfig.FormatFixed:
		return numfmt.ToFixed(f, format.Decimals)
	}
	return numfmt.String(f)
}

// plain renders a value the way a script's String() would, except that
// objects and arrays become indented JSON.
func plain(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case map[string]any, []any:
		return prettyJSON(x)
	}
	if f, ok := asNumber(v); ok {
		return numfmt.String(f)
	}
	return fmt.Sprint(v)
}

// inline renders a value on one line: compact JSON for objects and arrays.
func inline(v any) string {
	switch x := v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(JSONSafe(x))
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
	return plain(v)
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(JSONSafe(v), "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// JSONSafe replaces NaN and infinities, which encoding/json rejects, with
// nil the way JSON.stringify does. Maps and slices are copied.
func JSONSafe(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = JSONSafe(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = JSONSafe(e)
		}
		return out
	}
	return v
}

// CopyText is the clipboard text of a copyable output: indented JSON for
// objects and arrays, plain text otherwise. Absent values copy nothing.
func CopyText(v any) string {
	return plain(v)
}
