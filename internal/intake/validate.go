package intake

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"bankintake/internal/domain"
)

var (
	phonePattern   = regexp.MustCompile(`^\d{10}$`)
	emailPattern   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	pincodePattern = regexp.MustCompile(`^\d{6}$`)
	aadhaarPattern = regexp.MustCompile(`^\d{12}$`)
	panPattern     = regexp.MustCompile(`^[A-Z]{5}\d{4}[A-Z]$`)
)

type formatRule struct {
	field string
	check func(v string) bool
	msg   string
}

var formatRules = []formatRule{
	{"phone", phonePattern.MatchString, "must be exactly 10 digits"},
	{"authMobile", phonePattern.MatchString, "must be exactly 10 digits"},
	{"email", emailPattern.MatchString, "must be a valid email address"},
	{"authEmail", emailPattern.MatchString, "must be a valid email address"},
	{"pincode", pincodePattern.MatchString, "must be exactly 6 digits"},
	{"aadhaar", aadhaarPattern.MatchString, "must be exactly 12 digits"},
	{"pan", panPattern.MatchString, "must match the PAN format AAAAA9999A"},
	{"dob", isDate, "must be a date in YYYY-MM-DD format"},
	{"nomineeDOB", isDate, "must be a date in YYYY-MM-DD format"},
}

var numericOrder = []string{"loanAmount", "carPrice", "goldWeight", "propertyValue", "income", "annualLimit"}

func isDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// Validate checks canonical fields against the rules of a product type and
// reports every problem at once. It is pure.
func Validate(pt domain.ProductType, fields domain.Fields) error {
	ve := &domain.ValidationError{}
	if !pt.Valid() {
		ve.AddInvalid("productType", fmt.Sprintf("unknown product type %q", pt))
		return ve
	}
	for _, name := range Required(pt) {
		if !fields.Has(name) {
			ve.AddMissing(name)
		}
	}
	for _, r := range formatRules {
		if fields.Has(r.field) && !r.check(fields.String(r.field)) {
			ve.AddInvalid(r.field, r.msg)
		}
	}
	for _, name := range numericOrder {
		if !fields.Has(name) {
			continue
		}
		d, ok := fields.Decimal(name)
		if !ok {
			ve.AddInvalid(name, "must be a number")
			continue
		}
		if d.IsNegative() {
			ve.AddInvalid(name, "must not be negative")
			continue
		}
		if name == "loanAmount" {
			if floor, ok := minAmounts[pt.Family()]; ok && d.LessThan(floor) {
				ve.AddInvalid(name, "must be at least "+floor.String())
			}
		}
	}
	if fields.Has("investmentType") && !oneOf(fields.String("investmentType"), investmentTypes) {
		ve.AddInvalid("investmentType", fmt.Sprintf("must be one of %v", investmentTypes))
	}
	for _, name := range []string{"goal", "remarks"} {
		if limit := maxLengths[name]; fields.Has(name) && utf8.RuneCountInString(fields.String(name)) > limit {
			ve.AddInvalid(name, fmt.Sprintf("must be at most %d characters", limit))
		}
	}
	return ve.Err()
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
