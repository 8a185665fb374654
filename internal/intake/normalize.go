// Package intake turns raw product submissions into canonical, validated
// field sets.
package intake

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bankintake/internal/domain"
)

// Canonical is a normalized submission. It carries no status and no
// generated reference number.
type Canonical struct {
	Family          domain.Family
	ProductType     domain.ProductType
	ReferenceNumber string
	Fields          domain.Fields
}

var referenceKeys = []string{"referenceNumber", "refNo"}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "02/01/2006", "02-01-2006"}

// Normalize maps raw submitted fields onto the canonical record of a product
// type. Unknown keys are dropped; blank optional fields take family defaults.
func Normalize(family domain.Family, pt domain.ProductType, raw map[string]any) (Canonical, error) {
	if !family.Valid() {
		return Canonical{}, fmt.Errorf("unknown product family %q", family)
	}
	if pt.Family() != family {
		ve := &domain.ValidationError{}
		ve.AddInvalid("productType", fmt.Sprintf("%q is not a %s product", pt, family))
		return Canonical{}, ve
	}
	out := Canonical{Family: family, ProductType: pt, Fields: domain.Fields{}}
	for _, key := range referenceKeys {
		if ref := scalar(raw[key]); ref != "" {
			out.ReferenceNumber = ref
			break
		}
	}
	for _, a := range aliases[family] {
		if !a.appliesTo(pt) {
			continue
		}
		v, ok := firstValue(raw, a.Sources)
		if !ok {
			continue
		}
		out.Fields[a.Canonical] = coerce(a.Canonical, v)
	}
	for name, def := range defaults[family] {
		if !out.Fields.Has(name) {
			out.Fields[name] = def
		}
	}
	if family == domain.FamilyLoan {
		out.Fields["loanType"] = pt.Label()
	}
	return out, nil
}

func firstValue(raw map[string]any, sources []string) (any, bool) {
	for _, src := range sources {
		v, ok := raw[src]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		if scalar(v) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func coerce(name string, v any) any {
	if numericFields[name] {
		if d, ok := toDecimal(v); ok {
			return d
		}
		return scalar(v)
	}
	s := scalar(v)
	switch {
	case dateFields[name]:
		return normalizeDate(s)
	case upperFields[name]:
		return strings.ToUpper(s)
	case lowerFields[name]:
		return strings.ToLower(s)
	case digitFields[name]:
		return strings.NewReplacer(" ", "", "-", "").Replace(s)
	case name == "investmentType":
		return squash(s)
	}
	return s
}

func toDecimal(v any) (decimal.Decimal, bool) {
	var d decimal.Decimal
	switch n := v.(type) {
	case decimal.Decimal:
		d = n
	case json.Number:
		return domain.ParseDecimal(n.String())
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, false
		}
		d = decimal.NewFromFloat(n)
	case int:
		d = decimal.NewFromInt(int64(n))
	case int64:
		d = decimal.NewFromInt(n)
	case string:
		return domain.ParseDecimal(strings.TrimSpace(n))
	default:
		return decimal.Decimal{}, false
	}
	return d, domain.DecimalInRange(d)
}

// scalar renders a raw JSON or form value as trimmed text. Objects and
// arrays are not field values and render empty.
func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case decimal.Decimal:
		return x.String()
	}
	return ""
}

func normalizeDate(s string) string {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return s
}

// squash lowercases and drops spaces, dashes and underscores.
func squash(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(s)))
}
