package occupancy

import "math/bits"

// Bitfield packs one occupancy bit per grid cell, eight cells per byte, in
// the same flat order as the density grid (cascade major, Morton minor).
type Bitfield []byte

// NewBitfield returns an all-empty bitfield covering cells cells.
func NewBitfield(cells int) Bitfield {
	return make(Bitfield, (cells+7)/8)
}

// Get reports whether cell i is occupied.
func (b Bitfield) Get(i int) bool {
	return b[i>>3]&(1<<(uint(i)&7)) != 0
}

// Count returns the number of occupied cells.
func (b Bitfield) Count() int {
	n := 0
	for _, v := range b {
		n += bits.OnesCount8(v)
	}
	return n
}

// Clone returns an independent copy.
func (b Bitfield) Clone() Bitfield {
	out := make(Bitfield, len(b))
	copy(out, b)
	return out
}

// pack rebuilds dst from density: a cell is occupied when its estimate is
// strictly greater than thresh. Cells marked -1 are never occupied because
// thresh is clamped to be non-negative.
func pack(dst Bitfield, density []float64, thresh float64) {
	for i := range dst {
		var v byte
		base := i << 3
		for j := 0; j < 8 && base+j < len(density); j++ {
			if density[base+j] > thresh {
				v |= 1 << uint(j)
			}
		}
		dst[i] = v
	}
}
