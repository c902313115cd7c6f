package mutator

import (
	"crypto/rand"
	"encoding/binary"
)

// randUint64 draws from crypto/rand. A failing system RNG is unrecoverable.
func randUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("mutator: crypto/rand unavailable: " + err.Error())
	}
	return binary.BigEndian.Uint64(b[:])
}

// randIntn returns a uniform value in [0, n) without modulo bias.
func randIntn(n int) int {
	if n <= 1 {
		return 0
	}
	max := uint64(n)
	limit := ^uint64(0) - (^uint64(0) % max)
	for {
		v := randUint64()
		if v < limit {
			return int(v % max)
		}
	}
}

// randRange returns a uniform value in [lo, hi].
func randRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + randIntn(hi-lo+1)
}

// randBytes returns n bytes from crypto/rand.
func randBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("mutator: crypto/rand unavailable: " + err.Error())
	}
	return b
}
