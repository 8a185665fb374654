package domain

import (
	"bytes"
	"encoding/json"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Fields holds canonical applicant data. Values are string or
// decimal.Decimal; decimals are written as JSON numbers and every JSON
// number decodes back into a decimal.
type Fields map[string]any

// Has reports whether key holds a non-blank value.
func (f Fields) Has(key string) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// String renders the value at key as text.
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case decimal.Decimal:
		return v.String()
	case json.Number:
		return v.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Decimal returns the value at key when it was coerced to a number.
func (f Fields) Decimal(key string) (decimal.Decimal, bool) {
	d, ok := f[key].(decimal.Decimal)
	return d, ok
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (f Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	out := make(map[string]any, len(f))
	for k, v := range f {
		if d, ok := v.(decimal.Decimal); ok {
			out[k] = json.Number(d.String())
			continue
		}
		out[k] = v
	}
	return json.Marshal(out)
}

func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out := make(Fields, len(raw))
	for k, v := range raw {
		if n, ok := v.(json.Number); ok {
			if d, ok := ParseDecimal(n.String()); ok {
				out[k] = d
			} else {
				out[k] = n.String()
			}
			continue
		}
		out[k] = v
	}
	*f = out
	return nil
}

// Numbers outside these bounds are kept as text and fail validation.
const (
	maxDecimalExp    = 18
	maxDecimalDigits = 34
	maxDecimalText   = 64
)

// ParseDecimal parses s as a decimal within the accepted range. The text
// length is checked first so oversized input is never parsed.
func ParseDecimal(s string) (decimal.Decimal, bool) {
	if len(s) > maxDecimalText {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !DecimalInRange(d) {
		return decimal.Decimal{}, false
	}
	return d, true
}

// DecimalInRange reports whether d has at most 34 significant digits and
// an exponent within ±18, so rendering it stays small.
func DecimalInRange(d decimal.Decimal) bool {
	if e := d.Exponent(); e > maxDecimalExp || e < -maxDecimalExp {
		return false
	}
	return len(new(big.Int).Abs(d.Coefficient()).Text(10)) <= maxDecimalDigits
}
