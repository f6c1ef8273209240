package toolscript

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"toolchat/internal/numfmt"
)

// Value is a script value: undefinedType, nil (null), bool, float64,
// string, *object, *array, *dateValue, *closure or *native.
type Value = any

type undefinedType struct{}

var undefined Value = undefinedType{}

type object struct {
	keys   []string
	props  map[string]Value
	class  string // "Object", or the error constructor name
	frozen bool
}

func newObject() *object {
	return &object{props: map[string]Value{}, class: "Object"}
}

func (o *object) get(key string) (Value, bool) {
	v, ok := o.props[key]
	return v, ok
}

func (o *object) set(key string, v Value) {
	if o.frozen {
		return
	}
	if _, ok := o.props[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.props[key] = v
}

func (o *object) delete(key string) {
	if o.frozen {
		return
	}
	if _, ok := o.props[key]; !ok {
		return
	}
	delete(o.props, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// ownKeys returns keys in property order: integer-like keys ascending, then
// the rest in insertion order.
func (o *object) ownKeys() []string {
	var ints []string
	var rest []string
	for _, k := range o.keys {
		if _, ok := arrayIndex(k); ok {
			ints = append(ints, k)
		} else {
			rest = append(rest, k)
		}
	}
	if len(ints) == 0 {
		return rest
	}
	sort.Slice(ints, func(i, j int) bool {
		a, _ := arrayIndex(ints[i])
		b, _ := arrayIndex(ints[j])
		return a < b
	})
	return append(ints, rest...)
}

type array struct {
	elems  []Value
	frozen bool
}

func newArray(elems []Value) *array {
	if elems == nil {
		elems = []Value{}
	}
	return &array{elems: elems}
}

// dateValue holds milliseconds since the epoch; NaN marks an invalid date.
type dateValue struct {
	ms  float64
	loc *time.Location
}

func (d *dateValue) location() *time.Location {
	if d.loc == nil {
		return time.UTC
	}
	return d.loc
}

type closure struct {
	fn  *FuncLit
	env *env
}

type nativeFn func(it *interp, this Value, args []Value) (Value, error)

type native struct {
	name      string
	call      nativeFn
	construct nativeFn
	statics   *object
	bound     *boundCall
}

type boundCall struct {
	target Value
	this   Value
	args   []Value
}

func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return undefined
}

func isNullish(v Value) bool {
	return v == nil || v == undefined
}

func isCallable(v Value) bool {
	switch v.(type) {
	case *closure, *native:
		return true
	}
	return false
}

func typeOf(v Value) string {
	switch v.(type) {
	case undefinedType:
		return "undefined"
	case nil:
		return "object"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case *closure, *native:
		return "function"
	}
	return "object"
}

func truthy(v Value) bool {
	switch x := v.(type) {
	case undefinedType, nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case string:
		return x != ""
	}
	return true
}

func toString(v Value) string {
	switch x := v.(type) {
	case undefinedType:
		return "undefined"
	case nil:
		return "null"
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		return numfmt.String(x)
	case string:
		return x
	case *array:
		return joinArray(x, ",", map[*array]bool{})
	case *object:
		if x.class != "Object" {
			return errorString(x)
		}
		return "[object Object]"
	case *dateValue:
		if math.IsNaN(x.ms) {
			return "Invalid Date"
		}
		return msToTime(x.ms, x.location()).Format("Mon Jan 02 2006 15:04:05 GMT-0700")
	case *closure:
		name := x.fn.Name
		return "function " + name + "() { [code] }"
	case *native:
		return "function " + x.name + "() { [native code] }"
	}
	return fmt.Sprint(v)
}

func errorString(o *object) string {
	name := toString(propOr(o, "name", o.class))
	msg, _ := o.get("message")
	if m := toStringOr(msg, ""); m != "" {
		return name + ": " + m
	}
	return name
}

func propOr(o *object, key string, def Value) Value {
	if v, ok := o.get(key); ok {
		return v
	}
	return def
}

func toStringOr(v Value, def string) string {
	if v == nil || v == undefined {
		return def
	}
	return toString(v)
}

func joinArray(a *array, sep string, seen map[*array]bool) string {
	if seen[a] {
		return ""
	}
	seen[a] = true
	defer delete(seen, a)
	parts := make([]string, len(a.elems))
	for i, e := range a.elems {
		switch x := e.(type) {
		case undefinedType, nil:
		case *array:
			parts[i] = joinArray(x, ",", seen)
		default:
			parts[i] = toString(x)
		}
	}
	return strings.Join(parts, sep)
}

func toNumber(v Value) float64 {
	switch x := v.(type) {
	case undefinedType:
		return math.NaN()
	case nil:
		return 0
	case bool:
		if x {
			return 1
		}
		return 0
	case float64:
		return x
	case string:
		return stringToNumber(x)
	case *dateValue:
		return x.ms
	case *array, *object:
		return stringToNumber(toString(x))
	}
	return math.NaN()
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
	}
	for _, c := range s {
		if !(isDigit(c) || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-') {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func toInteger(v Value) float64 {
	n := toNumber(v)
	if math.IsNaN(n) {
		return 0
	}
	return math.Trunc(n)
}

func toInt32(v Value) int32 {
	n := toNumber(v)
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0
	}
	return int32(uint32(int64(math.Mod(math.Trunc(n), 4294967296))))
}

func toUint32(v Value) uint32 {
	return uint32(toInt32(v))
}

// toPrimitive converts objects for operators. Dates prefer their string
// form unless a number is wanted.
func toPrimitive(v Value, preferNumber bool) Value {
	switch x := v.(type) {
	case *dateValue:
		if preferNumber {
			return x.ms
		}
		return toString(x)
	case *array, *object, *closure, *native:
		return toString(x)
	}
	return v
}

func strictEquals(a, b Value) bool {
	switch x := a.(type) {
	case undefinedType:
		return b == undefined
	case nil:
		return b == nil
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return a == b
}

func looseEquals(a, b Value) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	if isObjectLike(a) && isObjectLike(b) {
		return a == b
	}
	if !isObjectLike(a) && !isObjectLike(b) && typeOf(a) == typeOf(b) {
		return strictEquals(a, b)
	}
	switch x := a.(type) {
	case bool:
		return looseEquals(toNumber(x), b)
	case *array, *object, *dateValue, *closure, *native:
		return looseEquals(toPrimitive(x, false), b)
	}
	switch y := b.(type) {
	case bool:
		return looseEquals(a, toNumber(y))
	case *array, *object, *dateValue, *closure, *native:
		return looseEquals(a, toPrimitive(y, false))
	}
	// number vs string
	return toNumber(a) == toNumber(b)
}

func isObjectLike(v Value) bool {
	switch v.(type) {
	case *array, *object, *dateValue, *closure, *native:
		return true
	}
	return false
}

// propertyKey converts a computed member key to its string form.
func propertyKey(v Value) string {
	return toString(v)
}

// arrayIndex parses a canonical non-negative integer key.
func arrayIndex(key string) (int, bool) {
	if key == "" || len(key) > 10 || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n := 0
	for _, c := range key {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

func msToTime(ms float64, loc *time.Location) time.Time {
	return time.UnixMilli(int64(ms)).In(loc)
}

// fromGo converts host data into script values. Map keys are visited in
// sorted order so property order is deterministic.
func fromGo(v any) Value {
	switch x := v.(type) {
	case nil:
		return nil
	case undefinedType, *array, *object, *dateValue, *closure, *native:
		return x
	case bool:
		return x
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint:
		return float64(x)
	case uint64:
		return float64(x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		return x
	case time.Time:
		return &dateValue{ms: float64(x.UnixMilli())}
	case []any:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = fromGo(e)
		}
		return newArray(elems)
	case []string:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = e
		}
		return newArray(elems)
	case []float64:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = e
		}
		return newArray(elems)
	case []bool:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = e
		}
		return newArray(elems)
	case []map[string]any:
		elems := make([]Value, len(x))
		for i, e := range x {
			elems[i] = fromGo(e)
		}
		return newArray(elems)
	case map[string]any:
		o := newObject()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			o.set(k, fromGo(x[k]))
		}
		return o
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return fromGo(m)
	}
	return fmt.Sprint(v)
}

// toGo converts a script value into plain host data. Properties holding
// undefined and functions are omitted, dates become RFC 3339 strings with
// milliseconds, and cycles become nil.
func toGo(v Value) any {
	return exportValue(v, map[any]bool{})
}

func exportValue(v Value, seen map[any]bool) any {
	switch x := v.(type) {
	case undefinedType, nil:
		return nil
	case bool, float64, string:
		return x
	case *dateValue:
		if math.IsNaN(x.ms) {
			return nil
		}
		return isoString(x.ms)
	case *array:
		if seen[x] {
			return nil
		}
		seen[x] = true
		defer delete(seen, x)
		out := make([]any, len(x.elems))
		for i, e := range x.elems {
			if isCallable(e) {
				continue
			}
			out[i] = exportValue(e, seen)
		}
		return out
	case *object:
		if seen[x] {
			return nil
		}
		seen[x] = true
		defer delete(seen, x)
		out := make(map[string]any, len(x.keys))
		for _, k := range x.ownKeys() {
			e := x.props[k]
			if e == undefined || isCallable(e) {
				continue
			}
			out[k] = exportValue(e, seen)
		}
		return out
	}
	return nil
}

func isoString(ms float64) string {
	return msToTime(ms, time.UTC).Format("2006-01-02T15:04:05.000Z")
}
