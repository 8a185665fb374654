package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusPending, false},
		{StatusApproved, StatusRejected, false},
		{StatusApproved, StatusApproved, false},
		{StatusRejected, StatusApproved, false},
		{StatusRejected, StatusPending, false},
	}
	for _, tc := range cases {
		err := EnsureTransition(tc.from, tc.to)
		if tc.ok {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
			continue
		}
		require.Error(t, err, "%s -> %s", tc.from, tc.to)
		assert.True(t, errors.Is(err, ErrInvalidTransition))
		var te *TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, tc.from, te.From)
	}
}

func TestProductTypesBelongToOneFamily(t *testing.T) {
	seen := map[ProductType]bool{}
	for _, f := range Families {
		types := ProductTypes(f)
		require.NotEmpty(t, types, f)
		for _, p := range types {
			assert.False(t, seen[p], "%s listed twice", p)
			seen[p] = true
			assert.Equal(t, f, p.Family())
		}
	}
	assert.Len(t, seen, 10)
	assert.Equal(t, "Car Loan", ProductCarLoan.Label())
	assert.Equal(t, Family(""), ProductType("boatLoan").Family())
}

func TestFamilyFromPlural(t *testing.T) {
	f, ok := FamilyFromPlural("Loans")
	require.True(t, ok)
	assert.Equal(t, FamilyLoan, f)
	f, ok = FamilyFromPlural("investment")
	require.True(t, ok)
	assert.Equal(t, FamilyInvestment, f)
	_, ok = FamilyFromPlural("mortgages")
	assert.False(t, ok)
}

func TestFieldsJSONKeepsNumbersExact(t *testing.T) {
	in := Fields{
		"applicantName": "Asha",
		"loanAmount":    decimal.RequireFromString("250000.50"),
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"applicantName":"Asha","loanAmount":250000.50}`, string(data))

	var out Fields
	require.NoError(t, json.Unmarshal(data, &out))
	amount, ok := out.Decimal("loanAmount")
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("250000.5")))
	assert.Equal(t, "Asha", out.String("applicantName"))
}

func TestParseDecimalBounds(t *testing.T) {
	for _, in := range []string{"500000", "250000.50", "1e18", "0.000000000000000001", "-12.5"} {
		_, ok := ParseDecimal(in)
		assert.True(t, ok, in)
	}
	for _, in := range []string{"1e50000000", "1e19", "1e-19", strings.Repeat("9", 35), "abc", ""} {
		_, ok := ParseDecimal(in)
		assert.False(t, ok, in)
	}
}

func TestFieldsJSONKeepsOutOfRangeNumbersAsText(t *testing.T) {
	var out Fields
	require.NoError(t, json.Unmarshal([]byte(`{"loanAmount":1e50000000}`), &out))
	_, ok := out.Decimal("loanAmount")
	assert.False(t, ok)
	assert.Equal(t, "1e50000000", out.String("loanAmount"))
}

func TestFieldsHas(t *testing.T) {
	f := Fields{"a": "  ", "b": "x", "c": decimal.Zero, "d": nil}
	assert.False(t, f.Has("a"))
	assert.True(t, f.Has("b"))
	assert.True(t, f.Has("c"))
	assert.False(t, f.Has("d"))
	assert.False(t, f.Has("missing"))
}

func TestValidationErrorErr(t *testing.T) {
	var ve ValidationError
	assert.NoError(t, ve.Err())
	ve.AddMissing("phone")
	ve.AddInvalid("email", "must be a valid email address")
	err := ve.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "missing required fields: phone; email must be a valid email address", err.Error())
}
