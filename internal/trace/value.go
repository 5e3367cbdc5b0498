package trace

import (
	"slices"
	"unicode/utf16"
)

// Value is a node of the canonical form. Only the types below implement it.
type Value interface {
	traceValue()
}

// String is a text value, NFC-normalized when encoded.
type String string

// Int is an integer value.
type Int int64

// Bool is a boolean value.
type Bool bool

// Array is an ordered list of values.
type Array []Value

// Object is a map of values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (String) traceValue() {}
func (Int) traceValue()    {}
func (Bool) traceValue()   {}
func (Array) traceValue()  {}
func (Object) traceValue() {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units), which
// differs from Go's byte-wise string order outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)
	return keys
}

func compareKeys(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}
