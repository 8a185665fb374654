package domain

import (
	"strings"
	"time"
)

type Family string

const (
	FamilyAccount    Family = "account"
	FamilyLoan       Family = "loan"
	FamilyCard       Family = "card"
	FamilyInvestment Family = "investment"
)

// Families lists every product family in display order.
var Families = []Family{FamilyAccount, FamilyLoan, FamilyCard, FamilyInvestment}

func (f Family) Valid() bool {
	switch f {
	case FamilyAccount, FamilyLoan, FamilyCard, FamilyInvestment:
		return true
	}
	return false
}

// Plural is the collection name used in URLs and document stores.
func (f Family) Plural() string {
	return string(f) + "s"
}

// FamilyFromPlural accepts either the singular or the plural form.
func FamilyFromPlural(s string) (Family, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, f := range Families {
		if s == string(f) || s == f.Plural() {
			return f, true
		}
	}
	return "", false
}

type ProductType string

const (
	ProductSavings        ProductType = "savings"
	ProductCurrent        ProductType = "current"
	ProductBusinessLoan   ProductType = "businessLoan"
	ProductCarLoan        ProductType = "carLoan"
	ProductEducationLoan  ProductType = "educationLoan"
	ProductGoldLoan       ProductType = "goldLoan"
	ProductHomeLoan       ProductType = "homeLoan"
	ProductDebitCard      ProductType = "debitCard"
	ProductCreditCard     ProductType = "creditCard"
	ProductInvestmentPlan ProductType = "investmentPlan"
)

type productInfo struct {
	family Family
	label  string
}

var products = map[ProductType]productInfo{
	ProductSavings:        {FamilyAccount, "Savings Account"},
	ProductCurrent:        {FamilyAccount, "Current Account"},
	ProductBusinessLoan:   {FamilyLoan, "Business Loan"},
	ProductCarLoan:        {FamilyLoan, "Car Loan"},
	ProductEducationLoan:  {FamilyLoan, "Education Loan"},
	ProductGoldLoan:       {FamilyLoan, "Gold Loan"},
	ProductHomeLoan:       {FamilyLoan, "Home Loan"},
	ProductDebitCard:      {FamilyCard, "Debit Card"},
	ProductCreditCard:     {FamilyCard, "Credit Card"},
	ProductInvestmentPlan: {FamilyInvestment, "Investment Plan"},
}

var productOrder = []ProductType{
	ProductSavings, ProductCurrent,
	ProductBusinessLoan, ProductCarLoan, ProductEducationLoan, ProductGoldLoan, ProductHomeLoan,
	ProductDebitCard, ProductCreditCard,
	ProductInvestmentPlan,
}

func (p ProductType) Valid() bool {
	_, ok := products[p]
	return ok
}

// Family returns the owning family, or "" for an unknown type.
func (p ProductType) Family() Family {
	return products[p].family
}

// Label is the human-facing name, e.g. "Car Loan".
func (p ProductType) Label() string {
	if info, ok := products[p]; ok {
		return info.label
	}
	return string(p)
}

// ProductTypes returns the product types of a family in declaration order.
func ProductTypes(f Family) []ProductType {
	var out []ProductType
	for _, p := range productOrder {
		if products[p].family == f {
			out = append(out, p)
		}
	}
	return out
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

type Application struct {
	ID              string      `json:"id"`
	ReferenceNumber string      `json:"referenceNumber"`
	Family          Family      `json:"productFamily" enum:"account,loan,card,investment"`
	ProductType     ProductType `json:"productType"`
	ApplicantName   string      `json:"applicantName"`
	Fields          Fields      `json:"applicantFields"`
	Status          Status      `json:"status" enum:"pending,approved,rejected"`
	SubmittedAt     time.Time   `json:"submittedAt" format:"date-time"`
	DecidedAt       *time.Time  `json:"decidedAt,omitempty" format:"date-time"`
	DecidedBy       string      `json:"decidedBy,omitempty"`
	UpdatedAt       time.Time   `json:"updatedAt" format:"date-time"`
}

const (
	EventSubmitted = "application.submitted"
	EventApproved  = "application.approved"
	EventRejected  = "application.rejected"
)

type Event struct {
	ID            string         `json:"id"`
	TS            time.Time      `json:"ts" format:"date-time"`
	Type          string         `json:"type"`
	ApplicationID string         `json:"applicationId"`
	Family        Family         `json:"productFamily"`
	ActorID       string         `json:"actorId"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// DecisionEvent maps a terminal status to its audit event type.
func DecisionEvent(s Status) string {
	if s == StatusApproved {
		return EventApproved
	}
	return EventRejected
}
