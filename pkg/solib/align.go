package solib

import "golang.org/x/exp/constraints"

// Align rounds a up to a multiple of b, b must be a power of two.
func Align[I constraints.Integer](a, b I) I {
	return (a + b - 1) &^ (b - 1)
}

// Aligned returns true if a is a multiple of b, b must be a power of two.
func Aligned[I constraints.Integer](a, b I) bool {
	return a&(b-1) == 0
}

// Congruent returns true if a and b agree on the bits selected by mask.
func Congruent[I constraints.Integer](a, b, mask I) bool {
	return a&mask == b&mask
}

// TruncatePtr truncates addr to ptrSize bytes.
func TruncatePtr(addr uint64, ptrSize int) uint64 {
	if ptrSize >= 8 {
		return addr
	}
	return addr & (1<<(uint(ptrSize)*8) - 1)
}
