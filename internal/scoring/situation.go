package scoring

import (
	"fmt"
	"strings"
)

// Fraction is a situation multiplier written as "0", "2/3", "1", "4/3" or "2".
type Fraction string

type ratio struct{ num, den int }

var situationFractions = map[Fraction]ratio{
	"0":   {0, 1},
	"2/3": {2, 3},
	"1":   {1, 1},
	"4/3": {4, 3},
	"2":   {2, 1},
}

// Fractions lists the allowed multipliers in ascending order.
func Fractions() []Fraction {
	return []Fraction{"0", "2/3", "1", "4/3", "2"}
}

// ParseFraction normalizes and checks a multiplier.
func ParseFraction(s string) (Fraction, error) {
	f := Fraction(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if _, ok := situationFractions[f]; !ok {
		return "", fmt.Errorf("invalid situation fraction %q", s)
	}
	return f, nil
}

// Apply returns weight × fraction. Multiplying before dividing keeps
// 3 × 2/3 exactly 2.
func (f Fraction) Apply(weight float64) float64 {
	r, ok := situationFractions[f]
	if !ok {
		return 0
	}
	return weight * float64(r.num) / float64(r.den)
}
