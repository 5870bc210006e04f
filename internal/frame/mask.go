package frame

import "encoding/binary"

// Mask XORs p in place with key. Masking and unmasking are the same operation.
func Mask(p []byte, key [4]byte) {
	k := binary.BigEndian.Uint32(key[:])

	// whole words first, then the tail byte by byte
	for len(p) >= 4 {
		v := binary.BigEndian.Uint32(p)
		binary.BigEndian.PutUint32(p, v^k)
		p = p[4:]
	}

	for i := range p {
		p[i] ^= key[i%4]
	}
}
