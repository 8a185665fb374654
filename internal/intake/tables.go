package intake

import (
	"github.com/shopspring/decimal"

	"bankintake/internal/domain"
)

// Alias maps alternate submitted names onto one canonical field. The first
// non-blank source wins. Types, when set, limits the alias to those product
// types.
type Alias struct {
	Canonical string
	Sources   []string
	Types     []domain.ProductType
}

func (a Alias) appliesTo(pt domain.ProductType) bool {
	if len(a.Types) == 0 {
		return true
	}
	for _, t := range a.Types {
		if t == pt {
			return true
		}
	}
	return false
}

func field(name string, sources ...string) Alias {
	if len(sources) == 0 {
		sources = []string{name}
	}
	return Alias{Canonical: name, Sources: sources}
}

func only(a Alias, types ...domain.ProductType) Alias {
	a.Types = types
	return a
}

var (
	applicantName = field("applicantName", "applicantName", "fullName", "fullname", "name")
	phone         = field("phone", "phone", "contactPhone", "mobile")
	email         = field("email", "email", "contactEmail")
)

var aliases = map[domain.Family][]Alias{
	domain.FamilyAccount: {
		applicantName,
		field("fatherName"),
		field("dob", "dob", "dateOfBirth"),
		phone,
		email,
		field("address"),
		field("state"),
		field("district"),
		field("city"),
		field("pincode", "pincode", "pinCode"),
		field("aadhaar", "aadhaar", "aadhaarFull", "aadhar"),
		field("pan", "personalPan", "pan"),
		field("branch"),
		field("nomineeName"),
		field("nomineeRelation"),
		field("nomineeDOB", "nomineeDOB", "nomineeDob"),
		only(field("businessName"), domain.ProductCurrent),
		only(field("businessType"), domain.ProductCurrent),
		only(field("registrationNumber"), domain.ProductCurrent),
		only(field("natureOfBusiness"), domain.ProductCurrent),
		only(field("gstNumber"), domain.ProductCurrent),
		only(field("panCompany"), domain.ProductCurrent),
		only(field("authName"), domain.ProductCurrent),
		only(field("authDesignation"), domain.ProductCurrent),
		only(field("authMobile"), domain.ProductCurrent),
		only(field("authEmail"), domain.ProductCurrent),
	},
	domain.FamilyLoan: {
		field("applicantName", "applicantName", "fullName", "fullname", "name", "ownerName", "studentName"),
		phone,
		email,
		field("loanAmount", "loanAmount", "amount"),
		field("tenure"),
		only(field("ownerName", "ownerName", "name"), domain.ProductBusinessLoan),
		only(field("businessName"), domain.ProductBusinessLoan),
		only(field("businessType"), domain.ProductBusinessLoan),
		only(field("carBrand"), domain.ProductCarLoan),
		only(field("carModel"), domain.ProductCarLoan),
		only(field("carPrice"), domain.ProductCarLoan),
		only(field("studentName", "studentName", "name"), domain.ProductEducationLoan),
		only(field("course"), domain.ProductEducationLoan),
		only(field("institution"), domain.ProductEducationLoan),
		only(field("goldWeight"), domain.ProductGoldLoan),
		only(field("goldPurity"), domain.ProductGoldLoan),
		only(field("propertyType"), domain.ProductHomeLoan),
		only(field("propertyValue"), domain.ProductHomeLoan),
		only(field("loanPurpose"), domain.ProductHomeLoan),
	},
	domain.FamilyCard: {
		applicantName,
		field("accountNumber", "accountNumber", "account"),
		field("dob", "dob", "dateOfBirth"),
		email,
		phone,
		field("address"),
		field("cardType"),
		only(field("income", "income", "annualIncome"), domain.ProductCreditCard),
		only(field("annualLimit"), domain.ProductCreditCard),
		only(field("pan", "pan", "personalPan"), domain.ProductCreditCard),
		only(field("aadhaar", "aadhaar", "aadhar"), domain.ProductCreditCard),
	},
	domain.FamilyInvestment: {
		field("applicantName", "applicantName", "name", "fullname", "fullName"),
		email,
		phone,
		field("loanAmount", "amount", "loanAmount", "investmentAmount"),
		field("accountNumber", "accountNumber", "account"),
		field("investmentType"),
		field("tenure"),
		field("goal"),
		field("remarks"),
	},
}

// Defaults never cover required fields.
var defaults = map[domain.Family]map[string]string{
	domain.FamilyAccount:    {"branch": "Main Branch"},
	domain.FamilyCard:       {"cardType": "Standard"},
	domain.FamilyInvestment: {"goal": "Not specified", "remarks": "None"},
}

var numericFields = map[string]bool{
	"loanAmount":    true,
	"carPrice":      true,
	"goldWeight":    true,
	"propertyValue": true,
	"income":        true,
	"annualLimit":   true,
}

var dateFields = map[string]bool{
	"dob":        true,
	"nomineeDOB": true,
}

var upperFields = map[string]bool{"pan": true, "panCompany": true, "gstNumber": true}

var lowerFields = map[string]bool{"email": true, "authEmail": true}

// digitFields drop spaces and dashes before format checks.
var digitFields = map[string]bool{"phone": true, "authMobile": true, "pincode": true, "aadhaar": true}

var commonRequired = map[domain.Family][]string{
	domain.FamilyAccount:    {"applicantName", "fatherName", "dob", "phone", "email", "address", "state", "district", "city", "pincode", "aadhaar", "pan"},
	domain.FamilyLoan:       {"applicantName", "phone", "email", "loanAmount"},
	domain.FamilyCard:       {"applicantName", "accountNumber", "dob", "email", "phone", "address"},
	domain.FamilyInvestment: {"applicantName", "email", "phone", "loanAmount", "accountNumber", "investmentType", "tenure"},
}

var typeRequired = map[domain.ProductType][]string{
	domain.ProductSavings:       {"nomineeName", "nomineeRelation"},
	domain.ProductCurrent:       {"businessName", "businessType"},
	domain.ProductBusinessLoan:  {"ownerName", "businessName", "businessType"},
	domain.ProductCarLoan:       {"carBrand", "carModel", "carPrice"},
	domain.ProductEducationLoan: {"studentName", "course", "institution"},
	domain.ProductGoldLoan:      {"goldWeight", "goldPurity"},
	domain.ProductHomeLoan:      {"propertyType", "propertyValue", "loanPurpose"},
	domain.ProductCreditCard:    {"income", "pan"},
}

var minAmounts = map[domain.Family]decimal.Decimal{
	domain.FamilyLoan:       decimal.NewFromInt(1000),
	domain.FamilyInvestment: decimal.NewFromInt(1000),
}

var investmentTypes = []string{"mutualfund", "sip", "goldbond", "nps", "stocks"}

var maxLengths = map[string]int{"goal": 500, "remarks": 1000}

// typeKeys are the body keys that carry the product type, most specific first.
var typeKeys = map[domain.Family][]string{
	domain.FamilyAccount:    {"accountType", "productType", "type"},
	domain.FamilyLoan:       {"loanType", "productType", "type"},
	domain.FamilyCard:       {"applicationType", "productType", "cardKind", "type"},
	domain.FamilyInvestment: {"productType", "applicationType"},
}

// Aliases exposes the alias table of a family.
func Aliases(f domain.Family) []Alias {
	return aliases[f]
}

// Required lists the fields a product type must carry, family-wide fields first.
func Required(pt domain.ProductType) []string {
	out := append([]string(nil), commonRequired[pt.Family()]...)
	return append(out, typeRequired[pt]...)
}
