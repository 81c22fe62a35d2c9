// Package keystream implements the repeating-key XOR used to disguise the
// handshake region of a probe. It shapes traffic; it does not encrypt it.
package keystream

// XOR writes src[i] ^ key[i%len(key)] into dst and returns len(src).
// dst must hold at least len(src) bytes; dst and src may be the same slice.
func XOR(dst, src, key []byte) int {
	if len(key) == 0 {
		panic("keystream: empty key")
	}
	if len(dst) < len(src) {
		panic("keystream: dst shorter than src")
	}
	k := len(key)
	for i, b := range src {
		dst[i] = b ^ key[i%k]
	}
	return len(src)
}

// Apply returns a new slice holding src transformed with key.
// Applying it twice with the same key yields the original bytes.
func Apply(src, key []byte) []byte {
	out := make([]byte, len(src))
	XOR(out, src, key)
	return out
}

// Reverse returns a byte-reversed copy of b.
func Reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
