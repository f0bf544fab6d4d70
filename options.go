package deepdelta

import (
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// StringMode selects how string values are compared.
type StringMode uint8

const (
	// StringOrdinal compares strings byte-for-byte. The default.
	StringOrdinal StringMode = iota
	// StringOrdinalIgnoreCase compares strings byte-for-byte after simple
	// Unicode case folding.
	StringOrdinalIgnoreCase
	// StringCulture compares strings using the collation rules of the
	// configured language.
	StringCulture
	// StringCultureIgnoreCase is StringCulture with case differences
	// ignored.
	StringCultureIgnoreCase
)

// Options holds the immutable configuration for a single comparison, diff,
// or delta computation. Options values are never mutated mid-traversal and
// may be shared freely between concurrent calls.
type Options struct {
	stringMode StringMode
	lang       language.Tag
	collator   *collate.Collator

	floatEpsilon   float64
	doubleEpsilon  float64
	decimalEpsilon float64
	treatNaNEqual  bool
}

// Option adjusts an Options value. Zero or more Options can be passed to
// New, NewContext, or the package-level entry points.
type Option func(*Options)

// Strings sets the string comparison mode. Culture modes collate under
// language.Und unless Language is also set.
func Strings(mode StringMode) Option {
	return func(o *Options) { o.stringMode = mode }
}

// Language sets the language whose collation rules the culture string modes
// use.
func Language(tag language.Tag) Option {
	return func(o *Options) { o.lang = tag }
}

// FloatEpsilon sets the tolerance for float32 members. Zero means exact
// equality (with +0.0 equal to -0.0). Negative values are treated as zero.
func FloatEpsilon(eps float64) Option {
	return func(o *Options) { o.floatEpsilon = max(0, eps) }
}

// DoubleEpsilon sets the tolerance for float64 members. Zero means exact
// equality. Negative values are treated as zero.
func DoubleEpsilon(eps float64) Option {
	return func(o *Options) { o.doubleEpsilon = max(0, eps) }
}

// DecimalEpsilon sets the tolerance for members flagged Decimal in their
// descriptor. Zero means exact equality. Negative values are treated as
// zero.
func DecimalEpsilon(eps float64) Option {
	return func(o *Options) { o.decimalEpsilon = max(0, eps) }
}

// TreatNaNEqual makes two NaN values compare equal to each other. A NaN
// never equals a non-NaN value regardless of this setting.
func TreatNaNEqual() Option {
	return func(o *Options) { o.treatNaNEqual = true }
}

func newOptions(opts []Option) *Options {
	o := &Options{lang: language.Und}
	for _, opt := range opts {
		opt(o)
	}
	switch o.stringMode {
	case StringCulture:
		o.collator = collate.New(o.lang)
	case StringCultureIgnoreCase:
		o.collator = collate.New(o.lang, collate.IgnoreCase)
	}
	return o
}

// stringsEqual compares two strings under the configured mode.
func (o *Options) stringsEqual(a, b string) bool {
	switch o.stringMode {
	case StringOrdinalIgnoreCase:
		return strings.EqualFold(a, b)
	case StringCulture, StringCultureIgnoreCase:
		return o.collator.CompareString(a, b) == 0
	default:
		return a == b
	}
}
