package kms

import "math"

// toFixed16_16 converts a floating-point buffer coordinate to the kernel's
// 16.16 fixed-point representation, per spec.md's design note:
// round(x * 65536) saturating to the int32 range.
func toFixed16_16(x float64) uint32 {
	v := math.Round(x * 65536)
	if v > math.MaxInt32 {
		v = math.MaxInt32
	}
	if v < math.MinInt32 {
		v = math.MinInt32
	}
	return uint32(int32(v))
}

// saturatingAddI32 adds b to a, clamping to the int32 range instead of
// wrapping, matching the Rust source's `saturating_add`.
func saturatingAddI32(a, b int32) int32 {
	sum := int64(a) + int64(b)
	if sum > math.MaxInt32 {
		return math.MaxInt32
	}
	if sum < math.MinInt32 {
		return math.MinInt32
	}
	return int32(sum)
}
