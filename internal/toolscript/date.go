package toolscript

import (
	"math"
	"strings"
	"time"
)

const maxTimeMs = 8.64e15

var dateMethods map[string]nativeFn

func init() {
	dateMethods = map[string]nativeFn{
		"getTime":            dateGetTime,
		"valueOf":            dateGetTime,
		"getFullYear":        dateGetter(false, func(t time.Time) int { return t.Year() }),
		"getMonth":           dateGetter(false, func(t time.Time) int { return int(t.Month()) - 1 }),
		"getDate":            dateGetter(false, func(t time.Time) int { return t.Day() }),
		"getDay":             dateGetter(false, func(t time.Time) int { return int(t.Weekday()) }),
		"getHours":           dateGetter(false, func(t time.Time) int { return t.Hour() }),
		"getMinutes":         dateGetter(false, func(t time.Time) int { return t.Minute() }),
		"getSeconds":         dateGetter(false, func(t time.Time) int { return t.Second() }),
		"getMilliseconds":    dateGetter(false, func(t time.Time) int { return t.Nanosecond() / 1e6 }),
		"getUTCFullYear":     dateGetter(true, func(t time.Time) int { return t.Year() }),
		"getUTCMonth":        dateGetter(true, func(t time.Time) int { return int(t.Month()) - 1 }),
		"getUTCDate":         dateGetter(true, func(t time.Time) int { return t.Day() }),
		"getUTCDay":          dateGetter(true, func(t time.Time) int { return int(t.Weekday()) }),
		"getUTCHours":        dateGetter(true, func(t time.Time) int { return t.Hour() }),
		"getUTCMinutes":      dateGetter(true, func(t time.Time) int { return t.Minute() }),
		"getUTCSeconds":      dateGetter(true, func(t time.Time) int { return t.Second() }),
		"getTimezoneOffset":  dateGetter(false, tzOffset),
		"setFullYear":        dateSetter(0),
		"setMonth":           dateSetter(1),
		"setDate":            dateSetter(2),
		"setHours":           dateSetter(3),
		"setMinutes":         dateSetter(4),
		"setSeconds":         dateSetter(5),
		"setMilliseconds":    dateSetter(6),
		"setTime":            dateSetTime,
		"toISOString":        dateISO,
		"toJSON":             dateJSON,
		"toString":           dateFormat("Mon Jan 02 2006 15:04:05 GMT-0700"),
		"toDateString":       dateFormat("Mon Jan 02 2006"),
		"toTimeString":       dateFormat("15:04:05 GMT-0700"),
		"toLocaleDateString": dateFormat("1/2/2006"),
		"toLocaleTimeString": dateFormat("3:04:05 PM"),
		"toLocaleString":     dateFormat("1/2/2006, 3:04:05 PM"),
	}
}

// tzOffset returns minutes behind UTC, positive west of Greenwich.
func tzOffset(t time.Time) int {
	_, off := t.Zone()
	return -off / 60
}

func thisDate(this Value) (*dateValue, error) {
	d, ok := this.(*dateValue)
	if !ok {
		return nil, typeErr("this is not a Date object.")
	}
	return d, nil
}

func dateGetTime(_ *interp, this Value, _ []Value) (Value, error) {
	d, err := thisDate(this)
	if err != nil {
		return nil, err
	}
	return d.ms, nil
}

func dateGetter(utc bool, get func(time.Time) int) nativeFn {
	return func(_ *interp, this Value, _ []Value) (Value, error) {
		d, err := thisDate(this)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(d.ms) {
			return math.NaN(), nil
		}
		loc := d.location()
		if utc {
			loc = time.UTC
		}
		return float64(get(msToTime(d.ms, loc))), nil
	}
}

// dateSetter replaces local components starting at field (0 = year ... 6 =
// milliseconds) with the call arguments, normalizing overflow.
func dateSetter(field int) nativeFn {
	return func(_ *interp, this Value, args []Value) (Value, error) {
		d, err := thisDate(this)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(d.ms) && field != 0 {
			return math.NaN(), nil
		}
		comps := [7]float64{1970, 0, 1, 0, 0, 0, 0}
		if !math.IsNaN(d.ms) {
			comps = components(msToTime(d.ms, d.location()))
		}
		limit := map[int]int{0: 3, 1: 2, 2: 1, 3: 4, 4: 3, 5: 2, 6: 1}[field]
		for i := 0; i < limit && i < len(args); i++ {
			comps[field+i] = toNumber(args[i])
		}
		if len(args) == 0 {
			comps[field] = math.NaN()
		}
		d.ms = makeTime(comps, d.location())
		return d.ms, nil
	}
}

func dateSetTime(_ *interp, this Value, args []Value) (Value, error) {
	d, err := thisDate(this)
	if err != nil {
		return nil, err
	}
	d.ms = timeClip(toNumber(arg(args, 0)))
	return d.ms, nil
}

func dateISO(_ *interp, this Value, _ []Value) (Value, error) {
	d, err := thisDate(this)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(d.ms) {
		return nil, rangeErr("Invalid time value")
	}
	return isoString(d.ms), nil
}

func dateJSON(_ *interp, this Value, _ []Value) (Value, error) {
	d, err := thisDate(this)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(d.ms) {
		return nil, nil
	}
	return isoString(d.ms), nil
}

func dateFormat(layout string) nativeFn {
	return func(_ *interp, this Value, _ []Value) (Value, error) {
		d, err := thisDate(this)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(d.ms) {
			return "Invalid Date", nil
		}
		return msToTime(d.ms, d.location()).Format(layout), nil
	}
}

func components(t time.Time) [7]float64 {
	return [7]float64{
		float64(t.Year()), float64(t.Month() - 1), float64(t.Day()),
		float64(t.Hour()), float64(t.Minute()), float64(t.Second()),
		float64(t.Nanosecond() / 1e6),
	}
}

// makeTime builds epoch milliseconds from possibly out-of-range components.
func makeTime(c [7]float64, loc *time.Location) float64 {
	for _, v := range c {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > 1e9 {
			return math.NaN()
		}
	}
	t := time.Date(int(c[0]), time.Month(int(c[1])+1), int(c[2]),
		int(c[3]), int(c[4]), int(c[5]), int(c[6])*1e6, loc)
	return timeClip(float64(t.UnixMilli()))
}

func timeClip(ms float64) float64 {
	if math.IsNaN(ms) || math.Abs(ms) > maxTimeMs {
		return math.NaN()
	}
	return math.Trunc(ms)
}

func dateCtor() *native {
	call := func(it *interp, _ Value, _ []Value) (Value, error) {
		return toString(&dateValue{ms: float64(it.now().UnixMilli()), loc: it.loc}), nil
	}
	construct := func(it *interp, _ Value, args []Value) (Value, error) {
		d := &dateValue{loc: it.loc}
		switch {
		case len(args) == 0:
			d.ms = float64(it.now().UnixMilli())
		case len(args) == 1:
			switch v := toPrimitive(args[0], true).(type) {
			case string:
				d.ms = parseDate(v, it.loc)
			default:
				d.ms = timeClip(toNumber(v))
			}
		default:
			comps := [7]float64{0, 0, 1, 0, 0, 0, 0}
			for i := 0; i < 7 && i < len(args); i++ {
				comps[i] = toNumber(args[i])
			}
			if y := comps[0]; y >= 0 && y <= 99 && y == math.Trunc(y) {
				comps[0] = 1900 + y
			}
			d.ms = makeTime(comps, it.loc)
		}
		return d, nil
	}
	return ctor("Date", call, construct, map[string]Value{
		"now": fn("now", func(it *interp, _ Value, _ []Value) (Value, error) {
			return float64(it.now().UnixMilli()), nil
		}),
		"parse": fn("parse", func(it *interp, _ Value, args []Value) (Value, error) {
			return parseDate(toString(arg(args, 0)), it.loc), nil
		}),
		"UTC": fn("UTC", func(_ *interp, _ Value, args []Value) (Value, error) {
			comps := [7]float64{math.NaN(), 0, 1, 0, 0, 0, 0}
			for i := 0; i < 7 && i < len(args); i++ {
				comps[i] = toNumber(args[i])
			}
			return makeTime(comps, time.UTC), nil
		}),
	})
}

var (
	// Date-only ISO forms are UTC.
	utcLayouts = []string{"2006-01-02", "2006-01", "2006"}
	// Forms carrying their own offset.
	zonedLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04Z07:00",
		"Mon Jan 02 2006 15:04:05 GMT-0700",
		time.RFC1123,
		time.RFC1123Z,
	}
	// Everything else is local time.
	localLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006/1/2",
		"2006/1/2 15:04:05",
		"1/2/2006",
		"1/2/2006 15:04:05",
		"1/2/2006, 3:04:05 PM",
		"Jan 2, 2006",
		"January 2, 2006",
		"Jan 2 2006",
		"2 Jan 2006",
		"Mon Jan 02 2006",
		"Mon Jan 02 2006 15:04:05",
	}
)

// parseDate accepts ISO 8601 and the common human-readable forms; anything
// else is an invalid date.
func parseDate(s string, loc *time.Location) float64 {
	s = strings.TrimSpace(s)
	for _, l := range utcLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return timeClip(float64(t.UnixMilli()))
		}
	}
	for _, l := range zonedLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return timeClip(float64(t.UnixMilli()))
		}
	}
	for _, l := range localLayouts {
		if t, err := time.ParseInLocation(l, s, loc); err == nil {
			return timeClip(float64(t.UnixMilli()))
		}
	}
	return math.NaN()
}
