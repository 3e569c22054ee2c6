package ebtest

import (
	"crypto/sha256"
	"math/rand/v2"
	"testing"
)

// RandomMessagesForTest returns n pseudorandom messages of sz bytes each,
// derived from a seed based on the test name,
// so that a failing test sees the same messages on every run.
func RandomMessagesForTest(t testing.TB, n, sz int) [][]byte {
	// Sha256 happens to be the right size for the chacha8 seed.
	seed := sha256.Sum256([]byte(t.Name()))
	chacha := rand.NewChaCha8(seed)

	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, sz)
		if _, err := chacha.Read(out[i]); err != nil {
			panic(err)
		}
	}

	return out
}
