package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Field is a single name/value pair used to build records.
type Field struct {
	Name  string
	Value any
}

// Record is one flat requisition row: an ordered mapping of field names to values.
// Values are always stored as string, int64 or decimal.Decimal.
type Record struct {
	fields []string
	values map[string]any
}

// NewRecord builds a record from the provided fields, in order.
func NewRecord(fields ...Field) Record {
	r := Record{values: make(map[string]any, len(fields))}
	for _, f := range fields {
		r.Set(f.Name, f.Value)
	}
	return r
}

// Set assigns a value, appending the field name when it is new.
func (r *Record) Set(name string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, exists := r.values[name]; !exists {
		r.fields = append(r.fields, name)
	}
	r.values[name] = normalizeValue(value)
}

// Get returns the stored value for a field.
func (r Record) Get(name string) (any, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Text returns the serialized text of a field, or "" when absent.
func (r Record) Text(name string) string {
	v, ok := r.values[name]
	if !ok {
		return ""
	}
	return FormatValue(v)
}

// Fields returns field names in first-set order.
func (r Record) Fields() []string {
	out := make([]string, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len reports the number of fields.
func (r Record) Len() int {
	return len(r.fields)
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := Record{
		fields: make([]string, len(r.fields)),
		values: make(map[string]any, len(r.values)),
	}
	copy(out.fields, r.fields)
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

// Equal reports field-for-field equality. Numeric values compare as numbers,
// so int64(1) equals decimal 1.0. Field order is ignored.
func (r Record) Equal(other Record) bool {
	if len(r.values) != len(other.values) {
		return false
	}
	for name, v := range r.values {
		ov, ok := other.values[name]
		if !ok || !valuesEqual(v, ov) {
			return false
		}
	}
	return true
}

// String renders the record for logs and test failures.
func (r Record) String() string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.fields {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s: %s", name, FormatValue(r.values[name]))
	}
	buf.WriteByte('}')
	return buf.String()
}

// MarshalJSON writes the record as a JSON object keeping field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		switch v := r.values[name].(type) {
		case string:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			buf.Write(encoded)
		default:
			buf.WriteString(FormatValue(v))
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object keeping key order. Numbers become int64
// when integral and decimal.Decimal otherwise.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("record must be a JSON object")
	}

	*r = NewRecord()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected record key %v", keyTok)
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode field %s: %w", key, err)
		}
		r.Set(key, value)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// FormatValue renders a stored value as its literal text. Decimals always carry
// at least one fractional digit, so 1200 is written as 1200.0.
func FormatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case decimal.Decimal:
		if t.IsInteger() {
			return t.StringFixed(1)
		}
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// normalizeUint keeps values past the int64 range as decimals instead of wrapping.
func normalizeUint(v uint64) any {
	if v > math.MaxInt64 {
		return decimal.NewFromUint64(v)
	}
	return int64(v)
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return decimal.NewFromFloat32(t)
	case float64:
		return decimal.NewFromFloat(t)
	case decimal.Decimal:
		return t
	case *decimal.Decimal:
		if t == nil {
			return ""
		}
		return *t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if d, err := decimal.NewFromString(t.String()); err == nil {
			return d
		}
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case int64:
		return decimal.NewFromInt(t), true
	case decimal.Decimal:
		return t, true
	default:
		return decimal.Decimal{}, false
	}
}

func valuesEqual(a, b any) bool {
	da, aNumeric := asDecimal(a)
	db, bNumeric := asDecimal(b)
	if aNumeric || bNumeric {
		return aNumeric && bNumeric && da.Equal(db)
	}
	as, _ := a.(string)
	bs, _ := b.(string)
	return as == bs
}
