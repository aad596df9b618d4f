package core

// Monetary amounts are int64 cents throughout; fractional shares are float64
// values in [-1, 1] expressing a share of an expense's fixed-amount basis
// (e.g. -1.0 offsets the whole basis).

// SettleFraction converts a fractional share into a settled amount against
// the given basis. The product is truncated toward zero, not rounded.
func SettleFraction(fraction float64, basis int64) int64 {
	return int64(fraction * float64(basis))
}

// ValidFraction reports whether f is a usable share value.
func ValidFraction(f float64) bool {
	return f >= -1.0 && f <= 1.0
}
