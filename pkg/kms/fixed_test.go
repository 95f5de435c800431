package kms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFixed16_16(t *testing.T) {
	assert.Equal(t, uint32(0), toFixed16_16(0))
	assert.Equal(t, uint32(1<<16), toFixed16_16(1))
	assert.Equal(t, uint32(3<<15), toFixed16_16(1.5))
}

func TestToFixed16_16Saturates(t *testing.T) {
	assert.Equal(t, uint32(math.MaxInt32), toFixed16_16(1e12))
	assert.Equal(t, uint32(int32(math.MinInt32)), toFixed16_16(-1e12))
}

func TestSaturatingAddI32(t *testing.T) {
	assert.Equal(t, int32(3), saturatingAddI32(1, 2))
	assert.Equal(t, int32(math.MaxInt32), saturatingAddI32(math.MaxInt32, 10))
	assert.Equal(t, int32(math.MinInt32), saturatingAddI32(math.MinInt32, -10))
}
