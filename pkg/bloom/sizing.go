package bloom

import (
	"math"
	"math/bits"
)

// Sizing bounds for OptimalSize.
const (
	MinOptimalBits = 1 << 10
	MaxOptimalBits = 1 << 40

	// MaxOptimalK is four because functions beyond the fourth reuse a
	// hash word and set no new bits.
	MaxOptimalK = 4
)

// IsPowerOfTwo reports whether n is a non-zero power of two.
func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n. NextPowerOfTwo(0) is 1.
func NextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << (64 - bits.LeadingZeros64(n-1))
}

// OptimalSize returns the filter size and hash count for n expected elements
// at false-positive rate p:
//
//	bits = -n*ln(p)/(ln2)^2, rounded up to a power of two
//	k    = round(bits/n * ln2)
//
// bits is clamped to [MinOptimalBits, MaxOptimalBits] and k to [1, MaxOptimalK].
// p outside (0, 1) is treated as the nearest bound: p <= 0 yields the
// largest filter, p >= 1 the smallest.
func OptimalSize(n uint64, p float64) (uint64, uint8) {
	if n == 0 {
		n = 1
	}

	var raw float64
	switch {
	case p <= 0:
		raw = MaxOptimalBits
	case p >= 1:
		raw = MinOptimalBits
	default:
		raw = math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	}

	var m uint64
	switch {
	case raw >= MaxOptimalBits:
		m = MaxOptimalBits
	case raw <= MinOptimalBits:
		m = MinOptimalBits
	default:
		m = NextPowerOfTwo(uint64(raw))
	}

	k := math.Round(float64(m) / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	if k > MaxOptimalK {
		k = MaxOptimalK
	}
	return m, uint8(k)
}

// EstimatedFPRate returns the theoretical false-positive rate of a filter of
// m bits and k functions holding n elements: (1 - e^(-k*n/m))^k.
func EstimatedFPRate(m uint64, k uint8, n uint64) float64 {
	if m == 0 {
		return 1
	}
	return math.Pow(1-math.Exp(-float64(k)*float64(n)/float64(m)), float64(k))
}
