package adapters

import (
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// RandomSource selects how Computation derives the secret tau for a
// contribution: either an entropy string (hashed into a tau) or an
// explicit 32-byte seed, matching rand_source ∈ {Entropy(string),
// Seed([u8; 32])}.
type RandomSource struct {
	entropy string
	seed    [32]byte
	hasSeed bool
}

// EntropySource derives tau deterministically from an opaque entropy
// string (e.g. mixed OS randomness plus user-supplied text).
func EntropySource(s string) RandomSource {
	return RandomSource{entropy: s}
}

// SeedSource derives tau deterministically from an explicit 32-byte
// seed, used by the client's offline and scripted-test modes.
func SeedSource(seed [32]byte) RandomSource {
	return RandomSource{seed: seed, hasSeed: true}
}

// tau derives the scalar fed to GenerateContribution. The field
// reduction happens inside GenerateContribution itself, so the digest
// need not be pre-reduced here.
func (r RandomSource) tau() *big.Int {
	h, _ := blake2b.New256(nil)
	if r.hasSeed {
		h.Write(r.seed[:])
	} else {
		h.Write([]byte(r.entropy))
	}
	return new(big.Int).SetBytes(h.Sum(nil))
}
