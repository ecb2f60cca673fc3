// Package schema defines the typed input records read from the catalog and
// the listening logs, and the per-field decoder that maps loosely typed JSON
// onto them.
//
// Every field is optional. A field that is missing or JSON null decodes to
// nil. A field whose JSON kind does not fit the declared type also decodes to
// nil and is reported as coerced, so a single bad value never rejects the
// whole record.
package schema

import (
	"bytes"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Object is one decoded JSON object, keyed by the raw field name.
type Object map[string]json.RawMessage

// Decoder extracts typed fields from an Object. Field names are matched
// case-insensitively. When an object carries the same name in several
// casings, the key spelled exactly as requested wins; otherwise the
// lexicographically smallest key does.
type Decoder struct {
	fields  map[string][]field
	coerced []string
}

type field struct {
	name  string
	value json.RawMessage
}

// NewDecoder prepares obj for typed field access.
func NewDecoder(obj Object) *Decoder {
	fields := make(map[string][]field, len(obj))
	for _, k := range slices.Sorted(maps.Keys(obj)) {
		key := strings.ToLower(k)
		fields[key] = append(fields[key], field{name: k, value: obj[k]})
	}
	return &Decoder{fields: fields}
}

// Coerced returns the names of fields that were present with a value of the
// wrong JSON kind and were therefore decoded as null.
func (d *Decoder) Coerced() []string {
	return d.coerced
}

func (d *Decoder) raw(name string) (json.RawMessage, bool) {
	candidates := d.fields[strings.ToLower(name)]
	if len(candidates) == 0 {
		return nil, false
	}
	v := candidates[0].value
	for _, c := range candidates[1:] {
		if c.name == name {
			v = c.value
			break
		}
	}
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil, false
	}
	return v, true
}

func (d *Decoder) coerce(name string) {
	d.coerced = append(d.coerced, name)
}

// String decodes a string field. Scalars of other kinds keep their JSON text
// (the number 26 becomes "26"); nested objects and arrays keep their raw JSON.
func (d *Decoder) String(name string) *string {
	v, ok := d.raw(name)
	if !ok {
		return nil
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			d.coerce(name)
			return nil
		}
		return &s
	}
	s := string(v)
	return &s
}

// Int32 decodes an integral JSON number that fits in 32 bits.
func (d *Decoder) Int32(name string) *int32 {
	v, ok := d.raw(name)
	if !ok {
		return nil
	}
	if !isNumber(v) {
		d.coerce(name)
		return nil
	}
	n, err := strconv.ParseInt(string(v), 10, 32)
	if err != nil {
		d.coerce(name)
		return nil
	}
	i := int32(n)
	return &i
}

// Int64 decodes an integral JSON number that fits in 64 bits.
func (d *Decoder) Int64(name string) *int64 {
	v, ok := d.raw(name)
	if !ok {
		return nil
	}
	if !isNumber(v) {
		d.coerce(name)
		return nil
	}
	n, err := strconv.ParseInt(string(v), 10, 64)
	if err != nil {
		d.coerce(name)
		return nil
	}
	return &n
}

// Float64 decodes any JSON number.
func (d *Decoder) Float64(name string) *float64 {
	v, ok := d.raw(name)
	if !ok {
		return nil
	}
	if !isNumber(v) {
		d.coerce(name)
		return nil
	}
	f, err := strconv.ParseFloat(string(v), 64)
	if err != nil {
		d.coerce(name)
		return nil
	}
	return &f
}

func isNumber(v json.RawMessage) bool {
	c := v[0]
	return c == '-' || (c >= '0' && c <= '9')
}
