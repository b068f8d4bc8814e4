package property

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatValue renders the item's numeric value using the item format. A
// format with the sexagesimal suffix 'm' renders degrees:minutes:seconds;
// anything else is passed to the printf machinery verbatim.
func (n *NumberValue) FormatValue() string {
	return FormatNumber(n.Format, n.Value)
}

// FormatTarget renders the requested target value.
func (n *NumberValue) FormatTarget() string {
	return FormatNumber(n.Format, n.Target)
}

// FormatNumber renders value under a printf-style format. The conversion
// 'm' is sexagesimal: the precision selects the rendering, e.g. "%12.9m"
// gives "d:mm:ss.ss" right-aligned in 12 columns.
func FormatNumber(format string, value float64) string {
	if format == "" {
		return strconv.FormatFloat(value, 'g', -1, 64)
	}
	if strings.HasSuffix(format, "m") && strings.HasPrefix(format, "%") {
		width, prec := parseWidthPrec(format[1 : len(format)-1])
		s := Sexagesimal(value, prec)
		if width > len(s) {
			s = strings.Repeat(" ", width-len(s)) + s
		}
		return s
	}
	return fmt.Sprintf(format, value)
}

func parseWidthPrec(spec string) (width, prec int) {
	prec = 9
	if spec == "" {
		return 0, prec
	}
	if i := strings.IndexByte(spec, '.'); i >= 0 {
		if v, err := strconv.Atoi(spec[:i]); err == nil {
			width = v
		}
		if v, err := strconv.Atoi(spec[i+1:]); err == nil {
			prec = v
		}
	} else if v, err := strconv.Atoi(spec); err == nil {
		// A bare "%3m" style spec selects the layout, not the width.
		prec = v
	}
	return width, prec
}

// Sexagesimal renders value as degrees, minutes and seconds. The precision
// selects the layout: 3 -> "d:mm", 5 -> "d:mm.m", 6 -> "d:mm:ss",
// 8 -> "d:mm:ss.s", anything else -> "d:mm:ss.ss".
func Sexagesimal(value float64, prec int) string {
	sign := ""
	if math.Signbit(value) {
		sign = "-"
		value = -value
	}
	switch prec {
	case 3:
		d := int(value)
		m := int(math.Round((value - float64(d)) * 60))
		if m == 60 {
			d, m = d+1, 0
		}
		return fmt.Sprintf("%s%d:%02d", sign, d, m)
	case 5:
		d := int(value)
		m := (value - float64(d)) * 60
		if m >= 59.95 {
			d, m = d+1, 0
		}
		return fmt.Sprintf("%s%d:%04.1f", sign, d, m)
	case 6:
		d := int(value)
		rest := (value - float64(d)) * 60
		m := int(rest)
		s := int(math.Round((rest - float64(m)) * 60))
		if s == 60 {
			m, s = m+1, 0
		}
		if m == 60 {
			d, m = d+1, 0
		}
		return fmt.Sprintf("%s%d:%02d:%02d", sign, d, m, s)
	case 8:
		d := int(value)
		rest := (value - float64(d)) * 60
		m := int(rest)
		s := (rest - float64(m)) * 60
		if s >= 59.95 {
			m, s = m+1, 0
		}
		if m == 60 {
			d, m = d+1, 0
		}
		return fmt.Sprintf("%s%d:%02d:%04.1f", sign, d, m, s)
	default:
		d := int(value)
		rest := (value - float64(d)) * 60
		m := int(rest)
		s := (rest - float64(m)) * 60
		if s >= 59.995 {
			m, s = m+1, 0
		}
		if m == 60 {
			d, m = d+1, 0
		}
		return fmt.Sprintf("%s%d:%02d:%05.2f", sign, d, m, s)
	}
}

// ParseNumber parses a numeric string independently of the process locale.
// Plain decimals go through the ASCII float parser; a comma decimal
// separator is tolerated; colon or space separated input is parsed as
// sexagesimal degrees:minutes:seconds.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	if strings.ContainsAny(s, ": ") {
		return parseSexagesimal(s)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return v, nil
}

func parseSexagesimal(s string) (float64, error) {
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ' ' })
	if len(parts) == 0 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid sexagesimal value %q", s)
	}
	var value, scale float64 = 0, 1
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.ReplaceAll(part, ",", "."), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid sexagesimal value %q: %w", s, err)
		}
		value += v / scale
		scale *= 60
	}
	if neg {
		value = -value
	}
	return value, nil
}

// InRange reports whether v satisfies min <= v <= max.
func (n *NumberValue) InRange(v float64) bool {
	return v >= n.Min && v <= n.Max
}

// Clip clamps v into [min, max].
func (n *NumberValue) Clip(v float64) float64 {
	if v < n.Min {
		return n.Min
	}
	if v > n.Max {
		return n.Max
	}
	return v
}
