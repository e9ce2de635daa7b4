// Package template renders notification titles and messages by
// substituting {{key}} placeholders from a typed data bag, and holds the
// registry mapping event types to their title/message templates.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var placeholderRe = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindDate
)

// Value is one renderable scalar. Keeping the set closed (string, number,
// date) instead of accepting any preserves type safety while keeping the
// free-form data bag the templates rely on.
type Value struct {
	kind valueKind
	str  string
	num  float64
	ts   time.Time
}

// String wraps a string value.
func String(s string) Value { return Value{kind: kindString, str: s} }

// Number wraps a numeric value.
func Number(n float64) Value { return Value{kind: kindNumber, num: n} }

// Int wraps an integer value.
func Int(n int) Value { return Value{kind: kindNumber, num: float64(n)} }

// Date wraps a timestamp value.
func Date(t time.Time) Value { return Value{kind: kindDate, ts: t} }

// Data is the substitution bag for one notification.
type Data map[string]Value

// format stringifies a value for the given key. The key named "amount"
// is a currency and always renders with two decimal places.
func (v Value) format(key string) string {
	switch v.kind {
	case kindNumber:
		if key == "amount" {
			return fmt.Sprintf("%.2f", v.num)
		}
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case kindDate:
		return v.ts.Format(time.RFC3339)
	default:
		return v.str
	}
}

// Render substitutes every {{identifier}} token in tmpl with the matching
// value from data. Tokens with no matching key render as the empty string
// rather than erroring. A single left-to-right pass is made and values are
// not re-scanned, so rendering already-rendered text is a no-op.
func Render(tmpl string, data Data) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(token string) string {
		key := token[2 : len(token)-2]
		v, ok := data[key]
		if !ok {
			return ""
		}
		return v.format(key)
	})
}
