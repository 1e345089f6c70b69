package morton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_Grid128(t *testing.T) {
	t.Parallel()
	const n = 128
	for x := uint32(0); x < n; x++ {
		for y := uint32(0); y < n; y++ {
			for z := uint32(0); z < n; z++ {
				idx := Encode(x, y, z)
				gx, gy, gz := Decode(idx)
				if gx != x || gy != y || gz != z {
					t.Fatalf("Decode(Encode(%d,%d,%d)) = (%d,%d,%d)", x, y, z, gx, gy, gz)
				}
			}
		}
	}
}

func TestRoundTrip_MaxCorners(t *testing.T) {
	t.Parallel()
	const m = MaxResolution - 1
	for _, c := range [][3]uint32{{m, 0, 0}, {0, m, 0}, {0, 0, m}, {m, m, m}, {513, 7, 1000}} {
		gx, gy, gz := Decode(Encode(c[0], c[1], c[2]))
		assert.Equal(t, c, [3]uint32{gx, gy, gz})
	}
}

func TestEncode_DenseBijection(t *testing.T) {
	t.Parallel()
	const n = 16
	seen := make([]bool, n*n*n)
	for x := uint32(0); x < n; x++ {
		for y := uint32(0); y < n; y++ {
			for z := uint32(0); z < n; z++ {
				idx := Encode(x, y, z)
				require.Less(t, idx, uint32(n*n*n))
				require.False(t, seen[idx], "index %d produced twice", idx)
				seen[idx] = true
			}
		}
	}
}

func TestEncode_BitOrder(t *testing.T) {
	t.Parallel()
	assert.Equal(t, uint32(1), Encode(1, 0, 0))
	assert.Equal(t, uint32(2), Encode(0, 1, 0))
	assert.Equal(t, uint32(4), Encode(0, 0, 1))
	assert.Equal(t, uint32(8), Encode(2, 0, 0))
	assert.Equal(t, uint32(7), Encode(1, 1, 1))
}

func TestIsPowerOfTwo(t *testing.T) {
	t.Parallel()
	assert.True(t, IsPowerOfTwo(1))
	assert.True(t, IsPowerOfTwo(128))
	assert.False(t, IsPowerOfTwo(0))
	assert.False(t, IsPowerOfTwo(96))
	assert.False(t, IsPowerOfTwo(-4))
}
