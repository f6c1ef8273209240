package toolscript

import (
	"math"
	"math/bits"
	"sort"
	"strconv"
	"strings"

	"toolchat/internal/numfmt"
)

func fn(name string, call nativeFn) *native {
	return &native{name: name, call: call}
}

func ctor(name string, call, construct nativeFn, statics map[string]Value) *native {
	return &native{name: name, call: call, construct: construct, statics: objectOf(statics)}
}

// objectOf builds an object with keys in sorted order.
func objectOf(props map[string]Value) *object {
	o := newObject()
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		o.set(k, props[k])
	}
	return o
}

// globals returns a fresh global scope, so runs never share mutable state.
func (it *interp) globals() *env {
	g := newEnv(nil, true)
	def := func(name string, v Value) { g.vars[name] = &binding{v: v} }
	konst := func(name string, v Value) { g.vars[name] = &binding{v: v, constant: true} }

	konst("undefined", undefined)
	konst("NaN", math.NaN())
	konst("Infinity", math.Inf(1))

	def("Math", mathObject())
	def("JSON", objectOf(map[string]Value{
		"stringify": fn("stringify", jsonStringify),
		"parse":     fn("parse", jsonParse),
	}))
	def("Number", numberCtor())
	def("String", ctor("String", stringCall, stringCall, map[string]Value{
		"fromCharCode": fn("fromCharCode", func(_ *interp, _ Value, args []Value) (Value, error) {
			var sb strings.Builder
			for _, a := range args {
				sb.WriteRune(rune(toUint32(a) & 0xFFFF))
			}
			return sb.String(), nil
		}),
	}))
	def("Boolean", ctor("Boolean", booleanCall, booleanCall, nil))
	def("Array", arrayCtor())
	def("Object", objectCtor())
	def("Date", dateCtor())
	def("Function", fn("Function", func(*interp, Value, []Value) (Value, error) {
		return nil, newError(KindError, Pos{}, "code generation from strings is not allowed")
	}))
	def("parseInt", fn("parseInt", parseIntFn))
	def("parseFloat", fn("parseFloat", parseFloatFn))
	def("isNaN", fn("isNaN", func(_ *interp, _ Value, args []Value) (Value, error) {
		return math.IsNaN(toNumber(arg(args, 0))), nil
	}))
	def("isFinite", fn("isFinite", func(_ *interp, _ Value, args []Value) (Value, error) {
		n := toNumber(arg(args, 0))
		return !math.IsNaN(n) && !math.IsInf(n, 0), nil
	}))
	for _, kind := range []string{KindError, KindType, KindRange, KindReference, KindSyntax} {
		def(kind, errorCtor(kind))
	}

	def("round", fn("round", func(_ *interp, _ Value, args []Value) (Value, error) {
		d := 2
		if v := arg(args, 1); v != undefined {
			d = int(toInteger(v))
		}
		return numfmt.Round(toNumber(arg(args, 0)), d), nil
	}))
	def("formatCurrency", fn("formatCurrency", func(_ *interp, _ Value, args []Value) (Value, error) {
		return numfmt.Currency(toNumber(arg(args, 0))), nil
	}))
	def("formatPercent", fn("formatPercent", func(_ *interp, _ Value, args []Value) (Value, error) {
		return numfmt.Percent(toNumber(arg(args, 0))), nil
	}))
	return g
}

func errorCtor(kind string) *native {
	mk := func(_ *interp, _ Value, args []Value) (Value, error) {
		return makeError(kind, toStringOr(arg(args, 0), "")), nil
	}
	return ctor(kind, mk, mk, nil)
}

func stringCall(_ *interp, _ Value, args []Value) (Value, error) {
	if len(args) == 0 {
		return "", nil
	}
	return toString(args[0]), nil
}

func booleanCall(_ *interp, _ Value, args []Value) (Value, error) {
	return truthy(arg(args, 0)), nil
}

// ===========================================================================
// Math
// ===========================================================================

func math1(name string, f func(float64) float64) *native {
	return fn(name, func(_ *interp, _ Value, args []Value) (Value, error) {
		return f(toNumber(arg(args, 0))), nil
	})
}

func jsRound(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Floor(x + 0.5)
}

func jsSign(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return x
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

func mathObject() *object {
	minmax := func(name string, init float64, better func(a, b float64) bool) *native {
		return fn(name, func(_ *interp, _ Value, args []Value) (Value, error) {
			best := init
			for _, a := range args {
				n := toNumber(a)
				if math.IsNaN(n) {
					return math.NaN(), nil
				}
				if better(n, best) {
					best = n
				}
			}
			return best, nil
		})
	}
	return objectOf(map[string]Value{
		"PI":      math.Pi,
		"E":       math.E,
		"LN2":     math.Ln2,
		"LN10":    math.Ln10,
		"LOG2E":   math.Log2E,
		"LOG10E":  math.Log10E,
		"SQRT2":   math.Sqrt2,
		"SQRT1_2": math.Sqrt2 / 2,
		"abs":     math1("abs", math.Abs),
		"floor":   math1("floor", math.Floor),
		"ceil":    math1("ceil", math.Ceil),
		"round":   math1("round", jsRound),
		"trunc":   math1("trunc", math.Trunc),
		"sign":    math1("sign", jsSign),
		"sqrt":    math1("sqrt", math.Sqrt),
		"cbrt":    math1("cbrt", math.Cbrt),
		"exp":     math1("exp", math.Exp),
		"expm1":   math1("expm1", math.Expm1),
		"log":     math1("log", math.Log),
		"log2":    math1("log2", math.Log2),
		"log10":   math1("log10", math.Log10),
		"log1p":   math1("log1p", math.Log1p),
		"sin":     math1("sin", math.Sin),
		"cos":     math1("cos", math.Cos),
		"tan":     math1("tan", math.Tan),
		"asin":    math1("asin", math.Asin),
		"acos":    math1("acos", math.Acos),
		"atan":    math1("atan", math.Atan),
		"sinh":    math1("sinh", math.Sinh),
		"cosh":    math1("cosh", math.Cosh),
		"tanh":    math1("tanh", math.Tanh),
		"fround":  math1("fround", func(x float64) float64 { return float64(float32(x)) }),
		"clz32": math1("clz32", func(x float64) float64 {
			return float64(bits.LeadingZeros32(toUint32(x)))
		}),
		"atan2": fn("atan2", func(_ *interp, _ Value, args []Value) (Value, error) {
			return math.Atan2(toNumber(arg(args, 0)), toNumber(arg(args, 1))), nil
		}),
		"pow": fn("pow", func(_ *interp, _ Value, args []Value) (Value, error) {
			return math.Pow(toNumber(arg(args, 0)), toNumber(arg(args, 1))), nil
		}),
		"hypot": fn("hypot", func(_ *interp, _ Value, args []Value) (Value, error) {
			sum := 0.0
			for _, a := range args {
				n := toNumber(a)
				sum += n * n
			}
			return math.Sqrt(sum), nil
		}),
		"max": minmax("max", math.Inf(-1), func(a, b float64) bool { return a > b }),
		"min": minmax("min", math.Inf(1), func(a, b float64) bool { return a < b }),
		"random": fn("random", func(it *interp, _ Value, _ []Value) (Value, error) {
			return it.rand(), nil
		}),
	})
}

// ===========================================================================
// Number
// ===========================================================================

func numberCtor() *native {
	call := func(_ *interp, _ Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return 0.0, nil
		}
		return toNumber(toPrimitive(args[0], true)), nil
	}
	isInt := func(v Value) bool {
		n, ok := v.(float64)
		return ok && !math.IsInf(n, 0) && n == math.Trunc(n)
	}
	return ctor("Number", call, call, map[string]Value{
		"MAX_SAFE_INTEGER":  float64(1<<53 - 1),
		"MIN_SAFE_INTEGER":  -float64(1<<53 - 1),
		"EPSILON":           math.Pow(2, -52),
		"MAX_VALUE":         math.MaxFloat64,
		"MIN_VALUE":         math.SmallestNonzeroFloat64,
		"POSITIVE_INFINITY": math.Inf(1),
		"NEGATIVE_INFINITY": math.Inf(-1),
		"NaN":               math.NaN(),
		"isInteger": fn("isInteger", func(_ *interp, _ Value, args []Value) (Value, error) {
			return isInt(arg(args, 0)), nil
		}),
		"isSafeInteger": fn("isSafeInteger", func(_ *interp, _ Value, args []Value) (Value, error) {
			v := arg(args, 0)
			return isInt(v) && math.Abs(v.(float64)) <= 1<<53-1, nil
		}),
		"isFinite": fn("isFinite", func(_ *interp, _ Value, args []Value) (Value, error) {
			n, ok := arg(args, 0).(float64)
			return ok && !math.IsNaN(n) && !math.IsInf(n, 0), nil
		}),
		"isNaN": fn("isNaN", func(_ *interp, _ Value, args []Value) (Value, error) {
			n, ok := arg(args, 0).(float64)
			return ok && math.IsNaN(n), nil
		}),
		"parseFloat": fn("parseFloat", parseFloatFn),
		"parseInt":   fn("parseInt", parseIntFn),
	})
}

func parseIntFn(_ *interp, _ Value, args []Value) (Value, error) {
	s := strings.TrimLeftFunc(toString(arg(args, 0)), isJSSpace)
	sign := 1.0
	if s != "" && (s[0] == '+' || s[0] == '-') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	radix := int(toInt32(arg(args, 1)))
	if radix != 0 && (radix < 2 || radix > 36) {
		return math.NaN(), nil
	}
	if (radix == 0 || radix == 16) && len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
		radix = 16
	}
	if radix == 0 {
		radix = 10
	}
	result, digits := 0.0, 0
	for _, c := range s {
		d := digitValue(c)
		if d < 0 || d >= radix {
			break
		}
		result = result*float64(radix) + float64(d)
		digits++
	}
	if digits == 0 {
		return math.NaN(), nil
	}
	return sign * result, nil
}

func digitValue(c rune) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	}
	return -1
}

// parseFloatFn parses the longest decimal prefix.
func parseFloatFn(_ *interp, _ Value, args []Value) (Value, error) {
	s := strings.TrimLeftFunc(toString(arg(args, 0)), isJSSpace)
	body := strings.TrimLeft(s, "+-")
	if strings.HasPrefix(body, "Infinity") && len(s)-len(body) <= 1 {
		if strings.HasPrefix(s, "-") {
			return math.Inf(-1), nil
		}
		return math.Inf(1), nil
	}
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := 0
	for end < len(s) && isDigit(rune(s[end])) {
		end++
		digits++
	}
	if end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && isDigit(rune(s[end])) {
			end++
			digits++
		}
	}
	if digits == 0 {
		return math.NaN(), nil
	}
	if end < len(s) && (s[end] == 'e' || s[end] == 'E') {
		exp := end + 1
		if exp < len(s) && (s[exp] == '+' || s[exp] == '-') {
			exp++
		}
		if exp < len(s) && isDigit(rune(s[exp])) {
			for exp < len(s) && isDigit(rune(s[exp])) {
				exp++
			}
			end = exp
		}
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil {
		return math.NaN(), nil
	}
	return f, nil
}

// localeNumber renders a number the way toLocaleString does for en-US,
// honoring the fraction digit and style options.
func localeNumber(v float64, opts *object) string {
	style := "decimal"
	minFrac, maxFrac := -1, -1
	currency := "USD"
	if opts != nil {
		if s, ok := opts.get("style"); ok {
			style = toString(s)
		}
		if c, ok := opts.get("currency"); ok {
			currency = strings.ToUpper(toString(c))
		}
		if n, ok := opts.get("minimumFractionDigits"); ok {
			minFrac = int(toInteger(n))
		}
		if n, ok := opts.get("maximumFractionDigits"); ok {
			maxFrac = int(toInteger(n))
		}
	}
	defMin, defMax := 0, 3
	switch style {
	case "currency":
		defMin, defMax = 2, 2
	case "percent":
		v *= 100
		defMin, defMax = 0, 0
	}
	if minFrac < 0 {
		minFrac = defMin
	}
	if maxFrac < 0 {
		maxFrac = defMax
	}
	if maxFrac < minFrac {
		maxFrac = minFrac
	}
	minFrac, maxFrac = min(minFrac, 20), min(maxFrac, 20)
	switch style {
	case "currency":
		sign := ""
		if v < 0 {
			sign, v = "-", -v
		}
		prefix := currency + " "
		if currency == "USD" {
			prefix = "$"
		}
		return sign + prefix + numfmt.Grouped(v, minFrac, maxFrac)
	case "percent":
		return numfmt.Grouped(v, minFrac, maxFrac) + "%"
	}
	return numfmt.Grouped(v, minFrac, maxFrac)
}

// ===========================================================================
// Array and Object
// ===========================================================================

func arrayCtor() *native {
	build := func(_ *interp, _ Value, args []Value) (Value, error) {
		if len(args) == 1 {
			if n, ok := args[0].(float64); ok {
				if n < 0 || n != math.Trunc(n) || n > maxArrayLength {
					return nil, rangeErr("Invalid array length")
				}
				elems := make([]Value, int(n))
				for i := range elems {
					elems[i] = undefined
				}
				return newArray(elems), nil
			}
		}
		return newArray(append([]Value(nil), args...)), nil
	}
	return ctor("Array", build, build, map[string]Value{
		"isArray": fn("isArray", func(_ *interp, _ Value, args []Value) (Value, error) {
			_, ok := arg(args, 0).(*array)
			return ok, nil
		}),
		"of": fn("of", func(_ *interp, _ Value, args []Value) (Value, error) {
			return newArray(append([]Value(nil), args...)), nil
		}),
		"from": fn("from", arrayFrom),
	})
}

func arrayFrom(it *interp, _ Value, args []Value) (Value, error) {
	var items []Value
	switch src := arg(args, 0).(type) {
	case *array:
		items = append(items, src.elems...)
	case string:
		for _, r := range src {
			items = append(items, string(r))
		}
	case *object:
		n := toInteger(propOr(src, "length", 0.0))
		if n < 0 || n > maxArrayLength {
			return nil, rangeErr("Invalid array length")
		}
		for i := 0; i < int(n); i++ {
			items = append(items, propOr(src, strconv.Itoa(i), undefined))
		}
	case undefinedType, nil:
		return nil, typeErr("%s is not iterable", toString(src))
	}
	mapFn := arg(args, 1)
	if mapFn == undefined {
		return newArray(items), nil
	}
	if !isCallable(mapFn) {
		return nil, typeErr("%s is not a function", toString(mapFn))
	}
	for i, v := range items {
		r, err := it.call(mapFn, undefined, []Value{v, float64(i)}, Pos{})
		if err != nil {
			return nil, err
		}
		items[i] = r
	}
	return newArray(items), nil
}

func objectCtor() *native {
	build := func(_ *interp, _ Value, args []Value) (Value, error) {
		if v := arg(args, 0); isObjectLike(v) {
			return v, nil
		}
		return newObject(), nil
	}
	entries := func(v Value) ([]string, []Value, error) {
		switch x := v.(type) {
		case undefinedType, nil:
			return nil, nil, typeErr("Cannot convert undefined or null to object")
		case *object:
			keys := x.ownKeys()
			vals := make([]Value, len(keys))
			for i, k := range keys {
				vals[i] = x.props[k]
			}
			return keys, vals, nil
		case *array:
			keys := enumerableKeys(x)
			return keys, append([]Value(nil), x.elems...), nil
		case string:
			keys := enumerableKeys(x)
			vals := make([]Value, 0, len(keys))
			for _, r := range x {
				vals = append(vals, string(r))
			}
			return keys, vals, nil
		}
		return nil, nil, nil
	}
	return ctor("Object", build, build, map[string]Value{
		"keys": fn("keys", func(_ *interp, _ Value, args []Value) (Value, error) {
			keys, _, err := entries(arg(args, 0))
			if err != nil {
				return nil, err
			}
			out := make([]Value, len(keys))
			for i, k := range keys {
				out[i] = k
			}
			return newArray(out), nil
		}),
		"values": fn("values", func(_ *interp, _ Value, args []Value) (Value, error) {
			_, vals, err := entries(arg(args, 0))
			if err != nil {
				return nil, err
			}
			return newArray(vals), nil
		}),
		"entries": fn("entries", func(_ *interp, _ Value, args []Value) (Value, error) {
			keys, vals, err := entries(arg(args, 0))
			if err != nil {
				return nil, err
			}
			out := make([]Value, len(keys))
			for i, k := range keys {
				out[i] = newArray([]Value{k, vals[i]})
			}
			return newArray(out), nil
		}),
		"assign": fn("assign", func(_ *interp, _ Value, args []Value) (Value, error) {
			target := arg(args, 0)
			if isNullish(target) {
				return nil, typeErr("Cannot convert undefined or null to object")
			}
			for _, src := range args[1:] {
				if isNullish(src) {
					continue
				}
				keys, vals, err := entries(src)
				if err != nil {
					return nil, err
				}
				for i, k := range keys {
					if err := setProp(target, k, vals[i]); err != nil {
						return nil, err
					}
				}
			}
			return target, nil
		}),
		"fromEntries": fn("fromEntries", func(_ *interp, _ Value, args []Value) (Value, error) {
			list, err := iterate(arg(args, 0))
			if err != nil {
				return nil, err
			}
			o := newObject()
			for _, e := range list {
				pair, ok := e.(*array)
				if !ok {
					return nil, typeErr("Iterator value %s is not an entry object", toString(e))
				}
				o.set(propertyKey(arg(pair.elems, 0)), arg(pair.elems, 1))
			}
			return o, nil
		}),
		"freeze": fn("freeze", func(_ *interp, _ Value, args []Value) (Value, error) {
			switch x := arg(args, 0).(type) {
			case *object:
				x.frozen = true
			case *array:
				x.frozen = true
			}
			return arg(args, 0), nil
		}),
		"isFrozen": fn("isFrozen", func(_ *interp, _ Value, args []Value) (Value, error) {
			switch x := arg(args, 0).(type) {
			case *object:
				return x.frozen, nil
			case *array:
				return x.frozen, nil
			}
			return true, nil
		}),
	})
}
