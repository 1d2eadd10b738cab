package internal

// Mask XORs bytes with key in place, starting at key position 0.
// Applying it twice with the same key restores the input.
func Mask(bytes []byte, key [4]byte) {
	MaskOffset(bytes, key, 0)
}

// MaskOffset masks bytes as if they started at payload position offset and
// returns the key position for the byte that follows them.
func MaskOffset(bytes []byte, key [4]byte, offset int) int {
	pos := offset & 3
	for i := range bytes {
		bytes[i] ^= key[pos]
		pos = (pos + 1) & 3
	}
	return pos
}
