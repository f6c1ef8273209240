// Package numfmt formats numbers the way tool outputs display them.
package numfmt

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// Currency formats v as US dollars with two decimals and digit grouping,
// e.g. 1234.5 -> "$1,234.50" and -3 -> "-$3.00".
func Currency(v float64) string {
	if math.IsNaN(v) {
		return "$NaN"
	}
	if math.IsInf(v, 0) {
		if v < 0 {
			return "-$∞"
		}
		return "$∞"
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	grouped := Grouped(v, 2, 2)
	if strings.Trim(grouped, "0.,") == "" {
		sign = ""
	}
	return sign + "$" + grouped
}

// Grouped formats v with digit grouping and between minFrac and maxFrac
// decimals, e.g. Grouped(1234.5, 0, 3) -> "1,234.5".
func Grouped(v float64, minFrac, maxFrac int) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	if math.IsInf(v, 0) {
		if v < 0 {
			return "-∞"
		}
		return "∞"
	}
	if maxFrac < minFrac {
		maxFrac = minFrac
	}
	// Round the shortest decimal form once, halves up, so the printer never
	// re-rounds: 2.25 with one decimal is 2.3.
	neg := v < 0
	rounded, _ := strconv.ParseFloat(roundHalfUp(strconv.FormatFloat(math.Abs(v), 'f', -1, 64), maxFrac), 64)
	if neg && rounded != 0 {
		rounded = -rounded
	}
	return printer.Sprint(number.Decimal(rounded,
		number.MinFractionDigits(minFrac), number.MaxFractionDigits(maxFrac)))
}

// Percent formats a ratio: 0.5 -> "50.00%".
func Percent(v float64) string {
	return ToFixed(v*100, 2) + "%"
}

// ToFixed formats v with exactly n decimals. Ties round away from zero on the
// exact binary value, so 2.25 gives "2.3" while 1.005 gives "1.00".
// Negative zero prints as zero.
func ToFixed(v float64, n int) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	if math.IsInf(v, 1) {
		return "Infinity"
	}
	if math.IsInf(v, -1) {
		return "-Infinity"
	}
	if n < 0 {
		n = 0
	}
	if math.Abs(v) >= 1e21 {
		return String(v)
	}
	// 1100 digits hold any float64 exactly.
	exact := new(big.Float).SetFloat64(math.Abs(v)).Text('f', 1100)
	out := roundHalfUp(exact, n)
	if v < 0 {
		out = "-" + out
	}
	return out
}

// roundHalfUp rounds a non-negative decimal string to n fraction digits,
// rounding a 5 or more in the first dropped digit up.
func roundHalfUp(dec string, n int) string {
	intPart, frac, _ := strings.Cut(dec, ".")
	for len(frac) <= n {
		frac += "0"
	}
	digits := []byte(intPart + frac[:n])
	if frac[n] >= '5' {
		i := len(digits) - 1
		for ; i >= 0; i-- {
			if digits[i] != '9' {
				digits[i]++
				break
			}
			digits[i] = '0'
		}
		if i < 0 {
			digits = append([]byte{'1'}, digits...)
		}
	}
	split := len(digits) - n
	if n == 0 {
		return string(digits)
	}
	return string(digits[:split]) + "." + string(digits[split:])
}

// Round rounds v to d decimals, halves rounding up: floor(v*10^d + 0.5) / 10^d.
func Round(v float64, d int) float64 {
	p := math.Pow(10, float64(d))
	return math.Floor(v*p+0.5) / p
}

// String renders v the way a script prints a number: integers without a
// fraction, shortest round-trip digits otherwise, and exponent notation
// outside [1e-6, 1e21).
func String(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	case v == 0:
		return "0"
	}
	abs := math.Abs(v)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	s := strconv.FormatFloat(v, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[0]
	digits := strings.TrimLeft(exp[1:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + string(sign) + digits
}
