package ops

import (
	"fmt"
	"math"
)

// Floor returns the largest integral value not greater than x. It rounds
// toward negative infinity, so Floor(-2.5) is -3. Every finite x has a
// floor; magnitudes of 2^53 and above are already integral and come back
// unchanged.
func Floor(x float64) (float64, error) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, fmt.Errorf("floor of %v is not an integer", x)
	}
	return math.Floor(x), nil
}

// NRoot returns x raised to 1/n. It uses a fractional exponent rather than
// integer root extraction, so any negative x with n > 1 has no real result.
func NRoot(n int, x float64) (float64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("root degree must be positive, got %d", n)
	}
	r := math.Pow(x, 1/float64(n))
	if math.IsNaN(r) {
		return 0, fmt.Errorf("degree-%d root of %v is not a real number", n, x)
	}
	return r, nil
}
