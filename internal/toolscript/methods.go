package toolscript

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"toolchat/internal/numfmt"
)

var (
	stringMethods   map[string]nativeFn
	arrayMethods    map[string]nativeFn
	numberMethods   map[string]nativeFn
	functionMethods map[string]nativeFn
	objectMethods   map[string]nativeFn
)

func init() {
	stringMethods = map[string]nativeFn{
		"charAt":            strCharAt,
		"charCodeAt":        strCharCodeAt,
		"codePointAt":       strCharCodeAt,
		"at":                strAt,
		"indexOf":           strIndexOf,
		"lastIndexOf":       strLastIndexOf,
		"includes":          strIncludes,
		"startsWith":        strStartsWith,
		"endsWith":          strEndsWith,
		"slice":             strSlice,
		"substring":         strSubstring,
		"substr":            strSubstr,
		"toUpperCase":       strMap(strings.ToUpper),
		"toLowerCase":       strMap(strings.ToLower),
		"toLocaleUpperCase": strMap(strings.ToUpper),
		"toLocaleLowerCase": strMap(strings.ToLower),
		"trim":              strMap(strings.TrimSpace),
		"trimStart":         strMap(func(s string) string { return strings.TrimLeftFunc(s, isJSSpace) }),
		"trimEnd":           strMap(func(s string) string { return strings.TrimRightFunc(s, isJSSpace) }),
		"padStart":          strPad(true),
		"padEnd":            strPad(false),
		"repeat":            strRepeat,
		"split":             strSplit,
		"replace":           strReplace(false),
		"replaceAll":        strReplace(true),
		"concat":            strConcat,
		"localeCompare":     strLocaleCompare,
		"normalize":         strNormalize,
		"toString":          strValueOf,
		"valueOf":           strValueOf,
	}
	arrayMethods = map[string]nativeFn{
		"push":          arrPush,
		"pop":           arrPop,
		"shift":         arrShift,
		"unshift":       arrUnshift,
		"slice":         arrSlice,
		"splice":        arrSplice,
		"concat":        arrConcat,
		"join":          arrJoin,
		"reverse":       arrReverse,
		"toReversed":    arrToReversed,
		"indexOf":       arrIndexOf,
		"lastIndexOf":   arrLastIndexOf,
		"includes":      arrIncludes,
		"find":          arrFind(false, false),
		"findIndex":     arrFind(true, false),
		"findLast":      arrFind(false, true),
		"findLastIndex": arrFind(true, true),
		"filter":        arrFilter,
		"map":           arrMap,
		"forEach":       arrForEach,
		"reduce":        arrReduce(false),
		"reduceRight":   arrReduce(true),
		"some":          arrSome,
		"every":         arrEvery,
		"sort":          arrSort(false),
		"toSorted":      arrSort(true),
		"fill":          arrFill,
		"flat":          arrFlat,
		"flatMap":       arrFlatMap,
		"at":            arrAt,
		"keys":          arrKeys,
		"values":        arrValues,
		"entries":       arrEntries,
		"toString":      arrToString,
	}
	numberMethods = map[string]nativeFn{
		"toFixed":        numToFixed,
		"toString":       numToString,
		"toLocaleString": numToLocaleString,
		"toPrecision":    numToPrecision,
		"valueOf":        numValueOf,
	}
	functionMethods = map[string]nativeFn{
		"call":  fnCall,
		"apply": fnApply,
		"bind":  fnBind,
	}
	objectMethods = map[string]nativeFn{
		"hasOwnProperty": objHasOwnProperty,
		"toString": func(_ *interp, this Value, _ []Value) (Value, error) {
			return toString(this), nil
		},
	}
}

func method(name string, fn nativeFn) *native {
	return &native{name: name, call: fn}
}

// getProp reads a property, including the built-in methods of primitives.
func (it *interp) getProp(v Value, key string) (Value, error) {
	switch x := v.(type) {
	case undefinedType, nil:
		return nil, typeErr("Cannot read properties of %s (reading '%s')", toString(v), key)
	case *object:
		if p, ok := x.props[key]; ok {
			return p, nil
		}
		if fn, ok := objectMethods[key]; ok {
			return method(key, fn), nil
		}
	case *array:
		if key == "length" {
			return float64(len(x.elems)), nil
		}
		if i, ok := arrayIndex(key); ok {
			if i < len(x.elems) {
				return x.elems[i], nil
			}
			return undefined, nil
		}
		if fn, ok := arrayMethods[key]; ok {
			return method(key, fn), nil
		}
	case string:
		if key == "length" {
			return float64(utf8.RuneCountInString(x)), nil
		}
		if i, ok := arrayIndex(key); ok {
			rs := []rune(x)
			if i < len(rs) {
				return string(rs[i]), nil
			}
			return undefined, nil
		}
		if fn, ok := stringMethods[key]; ok {
			return method(key, fn), nil
		}
	case float64:
		if fn, ok := numberMethods[key]; ok {
			return method(key, fn), nil
		}
	case bool:
		if key == "toString" || key == "valueOf" {
			return method(key, func(_ *interp, this Value, _ []Value) (Value, error) {
				if key == "toString" {
					return toString(this), nil
				}
				return this, nil
			}), nil
		}
	case *dateValue:
		if fn, ok := dateMethods[key]; ok {
			return method(key, fn), nil
		}
	case *native:
		if x.statics != nil {
			if p, ok := x.statics.props[key]; ok {
				return p, nil
			}
		}
		if key == "name" {
			return x.name, nil
		}
		if fn, ok := functionMethods[key]; ok {
			return method(key, fn), nil
		}
	case *closure:
		switch key {
		case "name":
			return x.fn.Name, nil
		case "length":
			n := 0
			for _, p := range x.fn.Params {
				if _, ok := p.(*Ident); !ok {
					break
				}
				n++
			}
			return float64(n), nil
		}
		if fn, ok := functionMethods[key]; ok {
			return method(key, fn), nil
		}
	}
	return undefined, nil
}

func setProp(obj Value, key string, v Value) error {
	switch x := obj.(type) {
	case undefinedType, nil:
		return typeErr("Cannot set properties of %s (setting '%s')", toString(obj), key)
	case *object:
		x.set(key, v)
	case *array:
		if x.frozen {
			return nil
		}
		if key == "length" {
			n := toNumber(v)
			if n < 0 || n != math.Trunc(n) || n > maxArrayLength {
				return rangeErr("Invalid array length")
			}
			return resize(x, int(n))
		}
		if i, ok := arrayIndex(key); ok {
			if i >= len(x.elems) {
				if err := resize(x, i+1); err != nil {
					return err
				}
			}
			x.elems[i] = v
		}
	}
	return nil
}

func resize(a *array, n int) error {
	if n > maxArrayLength {
		return rangeErr("Invalid array length")
	}
	if n <= len(a.elems) {
		a.elems = a.elems[:n]
		return nil
	}
	for len(a.elems) < n {
		a.elems = append(a.elems, undefined)
	}
	return nil
}

// relIndex resolves a possibly negative position against length n,
// clamping to [0, n].
func relIndex(v Value, n int, def int) int {
	if v == undefined {
		return def
	}
	f := toInteger(v)
	if f < 0 {
		f += float64(n)
		if f < 0 {
			f = 0
		}
	}
	if f > float64(n) {
		f = float64(n)
	}
	return int(f)
}

func isJSSpace(r rune) bool {
	return unicode.IsSpace(r) || r == '\uFEFF'
}

// ===========================================================================
// String methods
// ===========================================================================

func thisString(this Value) []rune {
	return []rune(toString(this))
}

func strMap(f func(string) string) nativeFn {
	return func(_ *interp, this Value, _ []Value) (Value, error) {
		return f(toString(this)), nil
	}
}

func strValueOf(_ *interp, this Value, _ []Value) (Value, error) {
	return toString(this), nil
}

func strCharAt(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	i := int(toInteger(arg(args, 0)))
	if i < 0 || i >= len(rs) {
		return "", nil
	}
	return string(rs[i]), nil
}

func strCharCodeAt(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	i := int(toInteger(arg(args, 0)))
	if i < 0 || i >= len(rs) {
		return math.NaN(), nil
	}
	return float64(rs[i]), nil
}

func strAt(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	i := int(toInteger(arg(args, 0)))
	if i < 0 {
		i += len(rs)
	}
	if i < 0 || i >= len(rs) {
		return undefined, nil
	}
	return string(rs[i]), nil
}

func runeIndex(hay, needle []rune, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+len(needle) <= len(hay); i++ {
		if string(hay[i:i+len(needle)]) == string(needle) {
			return i
		}
	}
	return -1
}

func strIndexOf(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	from := int(toInteger(arg(args, 1)))
	return float64(runeIndex(rs, []rune(toString(arg(args, 0))), from)), nil
}

func strLastIndexOf(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	needle := []rune(toString(arg(args, 0)))
	start := len(rs) - len(needle)
	if f := toNumber(arg(args, 1)); !math.IsNaN(f) && int(f) < start {
		start = int(f)
	}
	for i := start; i >= 0; i-- {
		if string(rs[i:i+len(needle)]) == string(needle) {
			return float64(i), nil
		}
	}
	return -1.0, nil
}

func strIncludes(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	from := int(toInteger(arg(args, 1)))
	return runeIndex(rs, []rune(toString(arg(args, 0))), from) >= 0, nil
}

func strStartsWith(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	pos := relIndex(arg(args, 1), len(rs), 0)
	return strings.HasPrefix(string(rs[pos:]), toString(arg(args, 0))), nil
}

func strEndsWith(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	end := relIndex(arg(args, 1), len(rs), len(rs))
	return strings.HasSuffix(string(rs[:end]), toString(arg(args, 0))), nil
}

func strSlice(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	start := relIndex(arg(args, 0), len(rs), 0)
	end := relIndex(arg(args, 1), len(rs), len(rs))
	if start >= end {
		return "", nil
	}
	return string(rs[start:end]), nil
}

func strSubstring(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	clamp := func(v Value, def int) int {
		if v == undefined {
			return def
		}
		f := toInteger(v)
		if f < 0 {
			return 0
		}
		if f > float64(len(rs)) {
			return len(rs)
		}
		return int(f)
	}
	start, end := clamp(arg(args, 0), 0), clamp(arg(args, 1), len(rs))
	if start > end {
		start, end = end, start
	}
	return string(rs[start:end]), nil
}

func strSubstr(_ *interp, this Value, args []Value) (Value, error) {
	rs := thisString(this)
	start := relIndex(arg(args, 0), len(rs), 0)
	n := len(rs) - start
	if v := arg(args, 1); v != undefined {
		n = int(math.Min(math.Max(toInteger(v), 0), float64(n)))
	}
	return string(rs[start : start+n]), nil
}

func strPad(atStart bool) nativeFn {
	return func(_ *interp, this Value, args []Value) (Value, error) {
		s := toString(this)
		target := int(toInteger(arg(args, 0)))
		fill := " "
		if v := arg(args, 1); v != undefined {
			fill = toString(v)
		}
		n := utf8.RuneCountInString(s)
		if target <= n || fill == "" {
			return s, nil
		}
		if target > maxArrayLength {
			return nil, rangeErr("Invalid string length")
		}
		var pad []rune
		fr := []rune(fill)
		for len(pad) < target-n {
			pad = append(pad, fr[len(pad)%len(fr)])
		}
		if atStart {
			return string(pad) + s, nil
		}
		return s + string(pad), nil
	}
}

func strRepeat(_ *interp, this Value, args []Value) (Value, error) {
	s := toString(this)
	n := toInteger(arg(args, 0))
	if n < 0 || math.IsInf(n, 0) || n*float64(len(s)) > maxArrayLength {
		return nil, rangeErr("Invalid count value: %s", toString(arg(args, 0)))
	}
	return strings.Repeat(s, int(n)), nil
}

func strSplit(_ *interp, this Value, args []Value) (Value, error) {
	s := toString(this)
	limit := -1
	if v := arg(args, 1); v != undefined {
		limit = int(toUint32(v))
	}
	var parts []string
	switch sep := arg(args, 0); {
	case sep == undefined:
		parts = []string{s}
	case toString(sep) == "":
		for _, r := range s {
			parts = append(parts, string(r))
		}
	default:
		parts = strings.Split(s, toString(sep))
	}
	if limit >= 0 && len(parts) > limit {
		parts = parts[:limit]
	}
	out := make([]Value, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return newArray(out), nil
}

// strReplace substitutes string patterns. The replacement may be a function
// or a string using $& for the match.
func strReplace(all bool) nativeFn {
	return func(it *interp, this Value, args []Value) (Value, error) {
		s := toString(this)
		pattern := toString(arg(args, 0))
		repl := arg(args, 1)
		var sb strings.Builder
		rest, offset := s, 0
		for {
			i := strings.Index(rest, pattern)
			if i < 0 {
				break
			}
			sb.WriteString(rest[:i])
			pos := utf8.RuneCountInString(s[:offset+i])
			if isCallable(repl) {
				v, err := it.call(repl, undefined, []Value{pattern, float64(pos), s}, Pos{})
				if err != nil {
					return nil, err
				}
				sb.WriteString(toString(v))
			} else {
				sb.WriteString(strings.ReplaceAll(toString(repl), "$&", pattern))
			}
			adv := i + len(pattern)
			if pattern == "" {
				if i < len(rest) {
					_, size := utf8.DecodeRuneInString(rest)
					sb.WriteString(rest[:size])
					adv = size
				} else {
					rest, offset = "", offset+len(rest)
					break
				}
			}
			rest, offset = rest[adv:], offset+adv
			if !all {
				break
			}
		}
		sb.WriteString(rest)
		return sb.String(), nil
	}
}

func strConcat(_ *interp, this Value, args []Value) (Value, error) {
	var sb strings.Builder
	sb.WriteString(toString(this))
	for _, a := range args {
		sb.WriteString(toString(a))
	}
	return sb.String(), nil
}

var collator = collate.New(language.English)

func strLocaleCompare(_ *interp, this Value, args []Value) (Value, error) {
	return float64(collator.CompareString(toString(this), toString(arg(args, 0)))), nil
}

func strNormalize(_ *interp, this Value, args []Value) (Value, error) {
	s := toString(this)
	form := "NFC"
	if v := arg(args, 0); v != undefined {
		form = toString(v)
	}
	switch form {
	case "NFC":
		return norm.NFC.String(s), nil
	case "NFD":
		return norm.NFD.String(s), nil
	case "NFKC":
		return norm.NFKC.String(s), nil
	case "NFKD":
		return norm.NFKD.String(s), nil
	}
	return nil, rangeErr("The normalization form should be one of NFC, NFD, NFKC, NFKD.")
}

// ===========================================================================
// Array methods
// ===========================================================================

func thisArray(this Value, name string) (*array, error) {
	a, ok := this.(*array)
	if !ok {
		return nil, typeErr("Array.prototype.%s called on non-array", name)
	}
	return a, nil
}

func callback(args []Value, name string) (Value, error) {
	fn := arg(args, 0)
	if !isCallable(fn) {
		return nil, typeErr("%s is not a function", toString(fn))
	}
	return fn, nil
}

func arrPush(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "push")
	if err != nil {
		return nil, err
	}
	if !a.frozen {
		if len(a.elems)+len(args) > maxArrayLength {
			return nil, rangeErr("Invalid array length")
		}
		a.elems = append(a.elems, args...)
	}
	return float64(len(a.elems)), nil
}

func arrPop(_ *interp, this Value, _ []Value) (Value, error) {
	a, err := thisArray(this, "pop")
	if err != nil {
		return nil, err
	}
	if len(a.elems) == 0 || a.frozen {
		return undefined, nil
	}
	v := a.elems[len(a.elems)-1]
	a.elems = a.elems[:len(a.elems)-1]
	return v, nil
}

func arrShift(_ *interp, this Value, _ []Value) (Value, error) {
	a, err := thisArray(this, "shift")
	if err != nil {
		return nil, err
	}
	if len(a.elems) == 0 || a.frozen {
		return undefined, nil
	}
	v := a.elems[0]
	a.elems = append([]Value(nil), a.elems[1:]...)
	return v, nil
}

func arrUnshift(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "unshift")
	if err != nil {
		return nil, err
	}
	if !a.frozen {
		a.elems = append(append([]Value(nil), args...), a.elems...)
	}
	return float64(len(a.elems)), nil
}

func arrSlice(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "slice")
	if err != nil {
		return nil, err
	}
	n := len(a.elems)
	start, end := relIndex(arg(args, 0), n, 0), relIndex(arg(args, 1), n, n)
	if start >= end {
		return newArray(nil), nil
	}
	return newArray(append([]Value(nil), a.elems[start:end]...)), nil
}

func arrSplice(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "splice")
	if err != nil {
		return nil, err
	}
	n := len(a.elems)
	start := relIndex(arg(args, 0), n, 0)
	count := n - start
	if len(args) == 0 {
		count = 0
	} else if len(args) > 1 {
		count = int(math.Min(math.Max(toInteger(args[1]), 0), float64(n-start)))
	}
	removed := append([]Value(nil), a.elems[start:start+count]...)
	if a.frozen {
		return nil, typeErr("Cannot modify a frozen array")
	}
	var insert []Value
	if len(args) > 2 {
		insert = args[2:]
	}
	next := make([]Value, 0, n-count+len(insert))
	next = append(next, a.elems[:start]...)
	next = append(next, insert...)
	next = append(next, a.elems[start+count:]...)
	a.elems = next
	return newArray(removed), nil
}

func arrConcat(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "concat")
	if err != nil {
		return nil, err
	}
	out := append([]Value(nil), a.elems...)
	for _, v := range args {
		if other, ok := v.(*array); ok {
			out = append(out, other.elems...)
		} else {
			out = append(out, v)
		}
	}
	return newArray(out), nil
}

func arrJoin(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "join")
	if err != nil {
		return nil, err
	}
	sep := ","
	if v := arg(args, 0); v != undefined {
		sep = toString(v)
	}
	return joinArray(a, sep, map[*array]bool{}), nil
}

func arrToString(_ *interp, this Value, _ []Value) (Value, error) {
	return toString(this), nil
}

func arrReverse(_ *interp, this Value, _ []Value) (Value, error) {
	a, err := thisArray(this, "reverse")
	if err != nil {
		return nil, err
	}
	if !a.frozen {
		for i, j := 0, len(a.elems)-1; i < j; i, j = i+1, j-1 {
			a.elems[i], a.elems[j] = a.elems[j], a.elems[i]
		}
	}
	return a, nil
}

func arrToReversed(it *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "toReversed")
	if err != nil {
		return nil, err
	}
	return arrReverse(it, newArray(append([]Value(nil), a.elems...)), args)
}

func arrIndexOf(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "indexOf")
	if err != nil {
		return nil, err
	}
	for i := relIndex(arg(args, 1), len(a.elems), 0); i < len(a.elems); i++ {
		if strictEquals(a.elems[i], arg(args, 0)) {
			return float64(i), nil
		}
	}
	return -1.0, nil
}

func arrLastIndexOf(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "lastIndexOf")
	if err != nil {
		return nil, err
	}
	for i := len(a.elems) - 1; i >= 0; i-- {
		if strictEquals(a.elems[i], arg(args, 0)) {
			return float64(i), nil
		}
	}
	return -1.0, nil
}

// sameValueZero is strict equality with NaN equal to itself.
func sameValueZero(a, b Value) bool {
	x, xok := a.(float64)
	y, yok := b.(float64)
	if xok && yok && math.IsNaN(x) && math.IsNaN(y) {
		return true
	}
	return strictEquals(a, b)
}

func arrIncludes(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "includes")
	if err != nil {
		return nil, err
	}
	for i := relIndex(arg(args, 1), len(a.elems), 0); i < len(a.elems); i++ {
		if sameValueZero(a.elems[i], arg(args, 0)) {
			return true, nil
		}
	}
	return false, nil
}

// each calls fn(element, index, array) in order until stop returns true.
func (it *interp) each(a *array, fn Value, reverse bool, stop func(i int, v, r Value) bool) error {
	n := len(a.elems)
	for k := 0; k < n; k++ {
		i := k
		if reverse {
			i = n - 1 - k
		}
		if i >= len(a.elems) {
			continue
		}
		v := a.elems[i]
		r, err := it.call(fn, undefined, []Value{v, float64(i), a}, Pos{})
		if err != nil {
			return err
		}
		if stop(i, v, r) {
			return nil
		}
	}
	return nil
}

func arrFind(wantIndex, fromEnd bool) nativeFn {
	return func(it *interp, this Value, args []Value) (Value, error) {
		a, err := thisArray(this, "find")
		if err != nil {
			return nil, err
		}
		fn, err := callback(args, "find")
		if err != nil {
			return nil, err
		}
		var found Value = undefined
		if wantIndex {
			found = -1.0
		}
		err = it.each(a, fn, fromEnd, func(i int, v, r Value) bool {
			if !truthy(r) {
				return false
			}
			if wantIndex {
				found = float64(i)
			} else {
				found = v
			}
			return true
		})
		return found, err
	}
}

func arrFilter(it *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "filter")
	if err != nil {
		return nil, err
	}
	fn, err := callback(args, "filter")
	if err != nil {
		return nil, err
	}
	var out []Value
	err = it.each(a, fn, false, func(_ int, v, r Value) bool {
		if truthy(r) {
			out = append(out, v)
		}
		return false
	})
	return newArray(out), err
}

func arrMap(it *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "map")
	if err != nil {
		return nil, err
	}
	fn, err := callback(args, "map")
	if err != nil {
		return nil, err
	}
	out := make([]Value, 0, len(a.elems))
	err = it.each(a, fn, false, func(_ int, _, r Value) bool {
		out = append(out, r)
		return false
	})
	return newArray(out), err
}

func arrForEach(it *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "forEach")
	if err != nil {
		return nil, err
	}
	fn, err := callback(args, "forEach")
	if err != nil {
		return nil, err
	}
	return undefined, it.each(a, fn, false, func(int, Value, Value) bool { return false })
}

func arrSome(it *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "some")
	if err != nil {
		return nil, err
	}
	fn, err := callback(args, "some")
	if err != nil {
		return nil, err
	}
	found := false
	err = it.each(a, fn, false, func(_ int, _, r Value) bool {
		found = truthy(r)
		return found
	})
	return found, err
}

func arrEvery(it *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "every")
	if err != nil {
		return nil, err
	}
	fn, err := callback(args, "every")
	if err != nil {
		return nil, err
	}
	all := true
	err = it.each(a, fn, false, func(_ int, _, r Value) bool {
		all = truthy(r)
		return !all
	})
	return all, err
}

func arrReduce(fromEnd bool) nativeFn {
	return func(it *interp, this Value, args []Value) (Value, error) {
		a, err := thisArray(this, "reduce")
		if err != nil {
			return nil, err
		}
		fn, err := callback(args, "reduce")
		if err != nil {
			return nil, err
		}
		idx := make([]int, len(a.elems))
		for i := range idx {
			idx[i] = i
			if fromEnd {
				idx[i] = len(a.elems) - 1 - i
			}
		}
		var acc Value
		if len(args) > 1 {
			acc = args[1]
		} else {
			if len(idx) == 0 {
				return nil, typeErr("Reduce of empty array with no initial value")
			}
			acc = a.elems[idx[0]]
			idx = idx[1:]
		}
		for _, i := range idx {
			if i >= len(a.elems) {
				continue
			}
			if acc, err = it.call(fn, undefined, []Value{acc, a.elems[i], float64(i), a}, Pos{}); err != nil {
				return nil, err
			}
		}
		return acc, nil
	}
}

// arrSort sorts stably; undefined sorts last and the default order compares
// string forms.
func arrSort(copyFirst bool) nativeFn {
	return func(it *interp, this Value, args []Value) (Value, error) {
		a, err := thisArray(this, "sort")
		if err != nil {
			return nil, err
		}
		cmp := arg(args, 0)
		if cmp != undefined && !isCallable(cmp) {
			return nil, typeErr("The comparison function must be either a function or undefined")
		}
		target := a
		if copyFirst {
			target = newArray(append([]Value(nil), a.elems...))
		} else if a.frozen {
			return nil, typeErr("Cannot assign to read only property '0' of object")
		}
		var defined, undef []Value
		for _, v := range target.elems {
			if v == undefined {
				undef = append(undef, v)
			} else {
				defined = append(defined, v)
			}
		}
		var sortErr error
		sort.SliceStable(defined, func(i, j int) bool {
			if sortErr != nil {
				return false
			}
			if cmp == undefined {
				return toString(defined[i]) < toString(defined[j])
			}
			r, err := it.call(cmp, undefined, []Value{defined[i], defined[j]}, Pos{})
			if err != nil {
				sortErr = err
				return false
			}
			return toNumber(r) < 0
		})
		if sortErr != nil {
			return nil, sortErr
		}
		target.elems = append(defined, undef...)
		return target, nil
	}
}

func arrFill(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "fill")
	if err != nil {
		return nil, err
	}
	if a.frozen {
		return a, nil
	}
	n := len(a.elems)
	start, end := relIndex(arg(args, 1), n, 0), relIndex(arg(args, 2), n, n)
	for i := start; i < end; i++ {
		a.elems[i] = arg(args, 0)
	}
	return a, nil
}

func flatten(elems []Value, depth int, out []Value) []Value {
	for _, v := range elems {
		if inner, ok := v.(*array); ok && depth > 0 {
			out = flatten(inner.elems, depth-1, out)
			continue
		}
		out = append(out, v)
	}
	return out
}

func arrFlat(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "flat")
	if err != nil {
		return nil, err
	}
	depth := 1
	if v := arg(args, 0); v != undefined {
		d := toInteger(v)
		if d > 64 {
			d = 64
		}
		depth = int(d)
	}
	return newArray(flatten(a.elems, depth, nil)), nil
}

func arrFlatMap(it *interp, this Value, args []Value) (Value, error) {
	mapped, err := arrMap(it, this, args)
	if err != nil {
		return nil, err
	}
	return newArray(flatten(mapped.(*array).elems, 1, nil)), nil
}

func arrAt(_ *interp, this Value, args []Value) (Value, error) {
	a, err := thisArray(this, "at")
	if err != nil {
		return nil, err
	}
	i := int(toInteger(arg(args, 0)))
	if i < 0 {
		i += len(a.elems)
	}
	if i < 0 || i >= len(a.elems) {
		return undefined, nil
	}
	return a.elems[i], nil
}

func arrKeys(_ *interp, this Value, _ []Value) (Value, error) {
	a, err := thisArray(this, "keys")
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(a.elems))
	for i := range a.elems {
		out[i] = float64(i)
	}
	return newArray(out), nil
}

func arrValues(_ *interp, this Value, _ []Value) (Value, error) {
	a, err := thisArray(this, "values")
	if err != nil {
		return nil, err
	}
	return newArray(append([]Value(nil), a.elems...)), nil
}

func arrEntries(_ *interp, this Value, _ []Value) (Value, error) {
	a, err := thisArray(this, "entries")
	if err != nil {
		return nil, err
	}
	out := make([]Value, len(a.elems))
	for i, v := range a.elems {
		out[i] = newArray([]Value{float64(i), v})
	}
	return newArray(out), nil
}

// ===========================================================================
// Number methods
// ===========================================================================

func thisNumber(this Value) float64 {
	return toNumber(this)
}

func numValueOf(_ *interp, this Value, _ []Value) (Value, error) {
	return thisNumber(this), nil
}

func numToFixed(_ *interp, this Value, args []Value) (Value, error) {
	d := toInteger(arg(args, 0))
	if d < 0 || d > 100 {
		return nil, rangeErr("toFixed() digits argument must be between 0 and 100")
	}
	v := thisNumber(this)
	if math.Abs(v) >= 1e21 {
		return toString(v), nil
	}
	return numfmt.ToFixed(v, int(d)), nil
}

func numToString(_ *interp, this Value, args []Value) (Value, error) {
	v := thisNumber(this)
	radix := 10
	if r := arg(args, 0); r != undefined {
		radix = int(toInteger(r))
	}
	if radix < 2 || radix > 36 {
		return nil, rangeErr("toString() radix must be between 2 and 36")
	}
	if radix == 10 || math.IsNaN(v) || math.IsInf(v, 0) {
		return toString(v), nil
	}
	return formatRadix(v, radix), nil
}

func formatRadix(v float64, radix int) string {
	neg := v < 0
	v = math.Abs(v)
	ip := math.Floor(v)
	frac := v - ip
	s := strconv.FormatUint(uint64(ip), radix)
	if ip >= 1<<63 {
		s = strconv.FormatFloat(ip, 'f', 0, 64)
	}
	if frac > 0 {
		var sb strings.Builder
		sb.WriteByte('.')
		for i := 0; i < 52 && frac > 0; i++ {
			frac *= float64(radix)
			d := int(frac)
			sb.WriteString(strconv.FormatInt(int64(d), radix))
			frac -= float64(d)
		}
		s += sb.String()
	}
	if neg {
		s = "-" + s
	}
	return s
}

func numToPrecision(_ *interp, this Value, args []Value) (Value, error) {
	v := thisNumber(this)
	if arg(args, 0) == undefined || math.IsNaN(v) || math.IsInf(v, 0) {
		return toString(v), nil
	}
	p := int(toInteger(arg(args, 0)))
	if p < 1 || p > 100 {
		return nil, rangeErr("toPrecision() argument must be between 1 and 100")
	}
	if v == 0 {
		return numfmt.ToFixed(0, p-1), nil
	}
	e := int(math.Floor(math.Log10(math.Abs(v))))
	// rounding may carry into the next power of ten
	if r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'e', p-1, 64), 64); math.Abs(r) >= math.Pow(10, float64(e+1)) {
		e++
	}
	if e < -6 || e >= p {
		s := strconv.FormatFloat(v, 'e', p-1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[0]
		digits := strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		return mant + "e" + string(sign) + digits, nil
	}
	return strconv.FormatFloat(v, 'f', p-1-e, 64), nil
}

func numToLocaleString(_ *interp, this Value, args []Value) (Value, error) {
	v := thisNumber(this)
	opts, _ := arg(args, 1).(*object)
	return localeNumber(v, opts), nil
}

// ===========================================================================
// Function and object methods
// ===========================================================================

func fnCall(it *interp, this Value, args []Value) (Value, error) {
	var rest []Value
	if len(args) > 1 {
		rest = args[1:]
	}
	return it.call(this, arg(args, 0), rest, Pos{})
}

func fnApply(it *interp, this Value, args []Value) (Value, error) {
	var list []Value
	if a, ok := arg(args, 1).(*array); ok {
		list = append(list, a.elems...)
	}
	return it.call(this, arg(args, 0), list, Pos{})
}

func fnBind(_ *interp, this Value, args []Value) (Value, error) {
	if !isCallable(this) {
		return nil, typeErr("Bind must be called on a function")
	}
	var rest []Value
	if len(args) > 1 {
		rest = append(rest, args[1:]...)
	}
	return &native{name: "bound", bound: &boundCall{target: this, this: arg(args, 0), args: rest}}, nil
}

func objHasOwnProperty(_ *interp, this Value, args []Value) (Value, error) {
	key := propertyKey(arg(args, 0))
	switch o := this.(type) {
	case *object:
		_, ok := o.props[key]
		return ok, nil
	case *array:
		i, ok := arrayIndex(key)
		return (ok && i < len(o.elems)) || key == "length", nil
	}
	return false, nil
}
