package toolscript

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

type stringifier struct {
	it       *interp
	replacer Value
	indent   string
	stack    map[any]bool
}

func jsonStringify(it *interp, _ Value, args []Value) (Value, error) {
	s := &stringifier{it: it, stack: map[any]bool{}}
	if r := arg(args, 1); isCallable(r) {
		s.replacer = r
	}
	switch sp := arg(args, 2).(type) {
	case float64:
		n := int(math.Min(math.Max(sp, 0), 10))
		s.indent = strings.Repeat(" ", n)
	case string:
		if utf8.RuneCountInString(sp) > 10 {
			sp = string([]rune(sp)[:10])
		}
		s.indent = sp
	}
	var sb strings.Builder
	ok, err := s.write(&sb, "", arg(args, 0), "")
	if err != nil {
		return nil, err
	}
	if !ok {
		return undefined, nil
	}
	return sb.String(), nil
}

// write serializes v and reports false when v has no JSON form.
func (s *stringifier) write(sb *strings.Builder, key string, v Value, gap string) (bool, error) {
	if d, ok := v.(*dateValue); ok {
		if math.IsNaN(d.ms) {
			v = nil
		} else {
			v = isoString(d.ms)
		}
	}
	if s.replacer != nil {
		r, err := s.it.call(s.replacer, undefined, []Value{key, v}, Pos{})
		if err != nil {
			return false, err
		}
		v = r
	}
	switch x := v.(type) {
	case undefinedType, *closure, *native:
		return false, nil
	case nil:
		sb.WriteString("null")
	case bool:
		sb.WriteString(toString(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			sb.WriteString("null")
		} else {
			sb.WriteString(toString(x))
		}
	case string:
		writeQuoted(sb, x)
	case *array:
		if s.stack[x] {
			return false, typeErr("Converting circular structure to JSON")
		}
		s.stack[x] = true
		defer delete(s.stack, x)
		if len(x.elems) == 0 {
			sb.WriteString("[]")
			return true, nil
		}
		inner := gap + s.indent
		sb.WriteByte('[')
		for i, e := range x.elems {
			if i > 0 {
				sb.WriteByte(',')
			}
			s.newline(sb, inner)
			ok, err := s.write(sb, strconv.Itoa(i), e, inner)
			if err != nil {
				return false, err
			}
			if !ok {
				sb.WriteString("null")
			}
		}
		s.newline(sb, gap)
		sb.WriteByte(']')
	case *object:
		if s.stack[x] {
			return false, typeErr("Converting circular structure to JSON")
		}
		s.stack[x] = true
		defer delete(s.stack, x)
		inner := gap + s.indent
		sb.WriteByte('{')
		n := 0
		for _, k := range x.ownKeys() {
			var item strings.Builder
			ok, err := s.write(&item, k, x.props[k], inner)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
			if n > 0 {
				sb.WriteByte(',')
			}
			s.newline(sb, inner)
			writeQuoted(sb, k)
			sb.WriteByte(':')
			if s.indent != "" {
				sb.WriteByte(' ')
			}
			sb.WriteString(item.String())
			n++
		}
		if n > 0 {
			s.newline(sb, gap)
		}
		sb.WriteByte('}')
	}
	return true, nil
}

func (s *stringifier) newline(sb *strings.Builder, gap string) {
	if s.indent == "" {
		return
	}
	sb.WriteByte('\n')
	sb.WriteString(gap)
}

func writeQuoted(sb *strings.Builder, str string) {
	sb.WriteByte('"')
	for _, r := range str {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\b':
			sb.WriteString(`\b`)
		case '\f':
			sb.WriteString(`\f`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				sb.WriteString(`\u00`)
				sb.WriteString(strconv.FormatInt(int64(r>>4), 16))
				sb.WriteString(strconv.FormatInt(int64(r&0xF), 16))
				continue
			}
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
}

// jsonParse decodes text token by token so object keys keep their order.
func jsonParse(_ *interp, _ Value, args []Value) (Value, error) {
	text := toString(arg(args, 0))
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, newError(KindSyntax, Pos{}, "%s is not valid JSON", shorten(text))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, newError(KindSyntax, Pos{}, "unexpected non-whitespace character after JSON")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			o := newObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, errors.New("object key is not a string")
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				o.set(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return o, nil
		case '[':
			var elems []Value
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				elems = append(elems, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return newArray(elems), nil
		}
		return nil, errors.New("unexpected delimiter")
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	case string:
		return t, nil
	case bool:
		return t, nil
	case nil:
		return nil, nil
	}
	return nil, errors.New("unexpected token")
}

func shorten(s string) string {
	if utf8.RuneCountInString(s) > 32 {
		return "\"" + string([]rune(s)[:32]) + "...\""
	}
	return "\"" + s + "\""
}
