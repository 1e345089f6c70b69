// Package morton maps 3D voxel coordinates to bit-interleaved linear indices.
package morton

// MaxResolution is the largest grid resolution per axis: 10 bits per coordinate.
const MaxResolution = 1 << 10

// expandBits spreads the low 10 bits of v so two zero bits sit between each.
func expandBits(v uint32) uint32 {
	v = (v * 0x00010001) & 0xFF0000FF
	v = (v * 0x00000101) & 0x0F00F00F
	v = (v * 0x00000011) & 0xC30C30C3
	v = (v * 0x00000005) & 0x49249249
	return v
}

// compactBits is the inverse of expandBits.
func compactBits(v uint32) uint32 {
	v &= 0x49249249
	v = (v | (v >> 2)) & 0xC30C30C3
	v = (v | (v >> 4)) & 0x0F00F00F
	v = (v | (v >> 8)) & 0xFF0000FF
	v = (v | (v >> 16)) & 0x0000FFFF
	return v
}

// Encode interleaves x, y, z (each < MaxResolution) into x0 y0 z0 x1 y1 z1 ... order.
func Encode(x, y, z uint32) uint32 {
	return expandBits(x) | expandBits(y)<<1 | expandBits(z)<<2
}

// Decode returns the coordinates for a Morton index produced by Encode.
func Decode(index uint32) (x, y, z uint32) {
	return compactBits(index), compactBits(index >> 1), compactBits(index >> 2)
}

// IsPowerOfTwo reports whether n is a positive power of two. A Morton index
// over [0, n)^3 is dense in [0, n^3) only for such n.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
