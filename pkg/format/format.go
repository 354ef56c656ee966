// Package format renders dates and numbers for display.
package format

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultDateLayout is used when Date is given an empty layout.
const DefaultDateLayout = "YYYY-MM-DD"

// Date formats t using a token layout. The tokens YYYY, MM, DD, HH, mm
// and ss are each replaced once (first occurrence only), in that order.
// Everything else is copied as is:
//
//	format.Date(t, "YYYY-MM-DD HH:mm:ss") // "2024-12-24 13:45:30"
//	format.Date(t, "YYYY年MM月DD日")       // "2024年12月24日"
func Date(t time.Time, layout string) string {
	if layout == "" {
		layout = DefaultDateLayout
	}
	r := []struct{ token, value string }{
		{"YYYY", fmt.Sprintf("%d", t.Year())},
		{"MM", fmt.Sprintf("%02d", int(t.Month()))},
		{"DD", fmt.Sprintf("%02d", t.Day())},
		{"HH", fmt.Sprintf("%02d", t.Hour())},
		{"mm", fmt.Sprintf("%02d", t.Minute())},
		{"ss", fmt.Sprintf("%02d", t.Second())},
	}
	out := layout
	for _, x := range r {
		out = strings.Replace(out, x.token, x.value, 1)
	}
	return out
}

// NumberOption configures Number.
type NumberOption func(*numberConfig)

type numberConfig struct {
	decimals  int
	prefix    string
	suffix    string
	separator string
}

// WithDecimals sets the number of fraction digits (default 2).
func WithDecimals(n int) NumberOption {
	return func(c *numberConfig) {
		if n >= 0 {
			c.decimals = n
		}
	}
}

// WithPrefix sets text placed before the number, e.g. a currency sign.
func WithPrefix(s string) NumberOption {
	return func(c *numberConfig) {
		c.prefix = s
	}
}

// WithSuffix sets text placed after the number.
func WithSuffix(s string) NumberOption {
	return func(c *numberConfig) {
		c.suffix = s
	}
}

// WithSeparator sets the thousands separator (default ",").
func WithSeparator(s string) NumberOption {
	return func(c *numberConfig) {
		c.separator = s
	}
}

var printer = message.NewPrinter(language.English)

// Number rounds n to a fixed number of decimals and groups the integer
// part in thousands. Ties round away from zero:
//
//	format.Number(1234567.89)                         // "1,234,567.89"
//	format.Number(1234567.89, format.WithDecimals(0)) // "1,234,568"
//	format.Number(1234567.89, format.WithPrefix("¥")) // "¥1,234,567.89"
func Number(n float64, opts ...NumberOption) string {
	cfg := numberConfig{decimals: 2, separator: ","}
	for _, opt := range opts {
		opt(&cfg)
	}

	grouped := printer.Sprintf("%.*f", cfg.decimals, roundHalfAway(n, cfg.decimals))
	integer, fraction, hasFraction := strings.Cut(grouped, ".")
	if cfg.separator != "," {
		integer = strings.ReplaceAll(integer, ",", cfg.separator)
	}

	var b strings.Builder
	b.WriteString(cfg.prefix)
	b.WriteString(integer)
	if hasFraction {
		b.WriteByte('.')
		b.WriteString(fraction)
	}
	b.WriteString(cfg.suffix)
	return b.String()
}

// roundHalfAway resolves exact ties away from zero, which %f would
// round to even. Other values are left for %f to round.
func roundHalfAway(n float64, decimals int) float64 {
	p := math.Pow10(decimals)
	scaled := n * p
	if math.IsInf(scaled, 0) {
		return n
	}
	if _, frac := math.Modf(math.Abs(scaled)); frac == 0.5 {
		return math.Round(scaled) / p
	}
	return n
}
