package intake

import (
	"fmt"
	"strings"

	"bankintake/internal/domain"
)

var familySuffix = map[domain.Family]string{
	domain.FamilyAccount:    "account",
	domain.FamilyLoan:       "loan",
	domain.FamilyCard:       "card",
	domain.FamilyInvestment: "plan",
}

// LookupType matches a product type code or display label within a family,
// ignoring case, spaces and the family word ("Car Loan", "car", "carLoan").
func LookupType(family domain.Family, s string) (domain.ProductType, bool) {
	key := squash(s)
	if key == "" {
		return "", false
	}
	suffix := familySuffix[family]
	for _, pt := range domain.ProductTypes(family) {
		label := squash(pt.Label())
		if key == squash(string(pt)) || key == label || key == strings.TrimSuffix(label, suffix) {
			return pt, true
		}
	}
	return "", false
}

// ResolveType reads the product type out of a raw submission. Investment
// submissions always resolve to the single investment product.
func ResolveType(family domain.Family, raw map[string]any) (domain.ProductType, error) {
	if family == domain.FamilyInvestment {
		return domain.ProductInvestmentPlan, nil
	}
	keys := typeKeys[family]
	if len(keys) == 0 {
		return "", fmt.Errorf("unknown product family %q", family)
	}
	for _, key := range keys {
		v := scalar(raw[key])
		if v == "" {
			continue
		}
		if pt, ok := LookupType(family, v); ok {
			return pt, nil
		}
		ve := &domain.ValidationError{}
		ve.AddInvalid(key, fmt.Sprintf("unknown %s type %q", family, v))
		return "", ve
	}
	ve := &domain.ValidationError{}
	ve.AddMissing(keys[0])
	return "", ve
}
