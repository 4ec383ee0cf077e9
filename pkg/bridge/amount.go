package bridge

import (
	"errors"
	"fmt"
	"math/big"
	"slices"
)

// Monetary values are unbounded non-negative integers. All arithmetic
// stays in math/big, crossing through floats is forbidden.

// ErrEmptyAmount is returned for empty monetary strings.
var ErrEmptyAmount = errors.New("empty amount")

// ParseAmount parses a non-negative integer expressed as a decimal string.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, ErrEmptyAmount
	}
	if s[0] == '+' || s[0] == '-' {
		return nil, fmt.Errorf("amount %q must be an unsigned decimal", s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", s)
	}
	return v, nil
}

// FormatAmount renders a big integer as its decimal string. A nil value
// formats as "0".
func FormatAmount(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

// MulDivFloor computes floor(x * num / den) without overflow.
func MulDivFloor(x *big.Int, num, den int64) *big.Int {
	r := new(big.Int).Mul(x, big.NewInt(num))
	return r.Quo(r, big.NewInt(den))
}

// CeilDiv computes ceil(x / den) for non-negative x and positive den.
func CeilDiv(x *big.Int, den int64) *big.Int {
	d := big.NewInt(den)
	r := new(big.Int).Add(x, new(big.Int).Sub(d, big.NewInt(1)))
	return r.Quo(r, d)
}

// Median returns the median of xs: the middle element for odd counts, the
// floored mean of the two middle elements for even counts. The input slice
// is not modified. It panics on an empty input, callers guard the size.
func Median(xs []*big.Int) *big.Int {
	if len(xs) == 0 {
		panic("median of an empty set")
	}
	sorted := make([]*big.Int, len(xs))
	copy(sorted, xs)
	slices.SortFunc(sorted, func(a, b *big.Int) int { return a.Cmp(b) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return new(big.Int).Set(sorted[mid])
	}
	sum := new(big.Int).Add(sorted[mid-1], sorted[mid])
	return sum.Quo(sum, big.NewInt(2))
}
