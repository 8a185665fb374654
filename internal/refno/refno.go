// Package refno produces human-readable application reference numbers.
//
// Numbers are collision resistant, not unique: the store's unique index is
// the authority and callers regenerate on a duplicate.
package refno

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync/atomic"
	"time"

	"bankintake/internal/domain"
)

type Style string

const (
	// StyleDated renders PREFIX-YYYYMMDD-NNNN.
	StyleDated Style = "dated"
	// StyleEpoch renders PREFIX<epoch-millis>NNN.
	StyleEpoch Style = "epoch"
)

type Scheme struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	Style  Style  `mapstructure:"style" yaml:"style"`
}

// DefaultSchemes returns the stock prefix and style per family.
func DefaultSchemes() map[domain.Family]Scheme {
	return map[domain.Family]Scheme{
		domain.FamilyAccount:    {Prefix: "LNDB", Style: StyleDated},
		domain.FamilyLoan:       {Prefix: "LN", Style: StyleEpoch},
		domain.FamilyCard:       {Prefix: "CRD", Style: StyleEpoch},
		domain.FamilyInvestment: {Prefix: "INV", Style: StyleEpoch},
	}
}

type Generator struct {
	Schemes map[domain.Family]Scheme
	Now     func() time.Time
	Intn    func(n int) int

	lastMillis atomic.Int64
}

func New(schemes map[domain.Family]Scheme) *Generator {
	if len(schemes) == 0 {
		schemes = DefaultSchemes()
	}
	return &Generator{
		Schemes: schemes,
		Now:     time.Now,
		Intn:    rand.IntN,
	}
}

func (g *Generator) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func (g *Generator) intn(n int) int {
	if g.Intn != nil {
		return g.Intn(n)
	}
	return rand.IntN(n)
}

// Generate returns a fresh reference number for the family.
func (g *Generator) Generate(f domain.Family) string {
	s, ok := g.Schemes[f]
	if !ok {
		s = DefaultSchemes()[f]
	}
	if s.Prefix == "" {
		s.Prefix = "APP"
	}
	switch s.Style {
	case StyleDated:
		return fmt.Sprintf("%s-%s-%04d", s.Prefix, g.now().UTC().Format("20060102"), g.intn(10000))
	default:
		return fmt.Sprintf("%s%d%03d", s.Prefix, g.stamp(), g.intn(1000))
	}
}

// stamp returns the clock in milliseconds, never repeating a value within
// this generator so a tight loop does not reuse an epoch.
func (g *Generator) stamp() int64 {
	for {
		now := g.now().UnixMilli()
		prev := g.lastMillis.Load()
		if now <= prev {
			now = prev + 1
		}
		if g.lastMillis.CompareAndSwap(prev, now) {
			return now
		}
	}
}

var validPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{3,39}$`)

// Valid reports whether a client-supplied reference number is acceptable.
func Valid(s string) bool {
	return validPattern.MatchString(s)
}
