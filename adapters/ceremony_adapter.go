// Package adapters implements the black-box cryptographic contracts: a
// deterministic per-chunk initialization, a contributor-side compute
// step, a verifier-side recomputation, and a round-level aggregation,
// all built on the BLS12-381/KZG powers-of-tau primitives in the
// crypto package. It generalizes that package's single global
// ceremony into one independent CeremonyState per (round, chunk).
package adapters

import (
	"bytes"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
	"github.com/trusted-setup/phase1-coordinator/crypto"
)

// DefaultDegree bounds the SRS size (degree+1 G1 points) accumulated
// per chunk. Scaling this to the production ceremony's dimensions is an
// environment-level knob, not a protocol change.
const DefaultDegree = 4

// Environment carries the ceremony-wide parameters an adapter needs to
// behave deterministically for a given (round, chunk) pair.
type Environment struct {
	Domain string
	Degree int
}

// NewEnvironment builds an Environment at DefaultDegree.
func NewEnvironment(domain string) Environment {
	return Environment{Domain: domain, Degree: DefaultDegree}
}

func challengeHash(challenge []byte) [64]byte {
	return blake2b.Sum512(challenge)
}

// ChallengeHash returns the 64-byte blake2b-512 hash used throughout
// this package as the prelude/continuity digest. Exported so the
// client package can compute the same digests over a contribution
// file it builds locally (contribution_file_hash, contribution_hash)
// without duplicating the hash choice.
func ChallengeHash(data []byte) []byte {
	h := challengeHash(data)
	return h[:]
}

// Initialization writes the starting challenge for a chunk.
type Initialization struct{}

// Run produces the deterministic starting challenge for (env, h, c): the
// generator-seeded SRS state, identical on every call for the same
// degree since it carries no participant randomness.
func (Initialization) Run(env Environment, h ceremony.RoundHeight, chunkID uint64) (challenge []byte, hash []byte, err error) {
	powers := make([]*crypto.BlsG1Point, env.Degree+1)
	g1 := crypto.BlsG1Generator()
	for i := range powers {
		powers[i] = g1
	}
	challenge = encodeState(powers, crypto.BlsG2Generator())
	h64 := challengeHash(challenge)
	return challenge, h64[:], nil
}

// Computation produces a contributor's response to a challenge.
type Computation struct{}

// ContributeMasp appends the participant's contribution after the
// 64-byte challenge-hash prelude: the file format Verification and the
// client's own hashing/signing step both expect.
func (Computation) ContributeMasp(env Environment, challenge []byte, participantID string, round int, rand RandomSource) ([]byte, error) {
	powers, tauG2, err := decodeState(challenge, env.Degree)
	if err != nil {
		return nil, err
	}
	contrib := crypto.GenerateContribution(participantID, rand.tau(), powers, tauG2, round)

	prelude := challengeHash(challenge)
	out := make([]byte, 0, len(prelude)+contributionLen(env.Degree))
	out = append(out, prelude[:]...)
	out = append(out, encodeContribution(contrib)...)
	return out, nil
}

// Verification recomputes and checks a contributor's response.
type Verification struct{}

// Run checks that response was computed over prev (the 64-byte prelude
// must match prev's hash), that the embedded contribution carries a
// valid proof of knowledge and a tau^1 power consistent with its tau^0
// power (higher powers are not cross-checked), and that
// its tau^0 term is unchanged from prev (the invariant every honest
// GenerateContribution call preserves). It returns the verified next
// challenge bytes the following participant builds on.
func (Verification) Run(env Environment, prev, response []byte) (next []byte, err error) {
	want := 64 + contributionLen(env.Degree)
	if len(response) != want {
		return nil, ceremony.NewError(ceremony.ErrContributionVerificationFailed, "response has the wrong length")
	}

	prelude := response[:64]
	expected := challengeHash(prev)
	if !bytes.Equal(prelude, expected[:]) {
		return nil, ceremony.NewError(ceremony.ErrContributionVerificationFailed, "response does not build on the given challenge")
	}

	contrib, err := decodeContribution(response[64:], env.Degree)
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyContribution(contrib, env.Degree) {
		return nil, ceremony.NewError(ceremony.ErrContributionVerificationFailed, "invalid proof of knowledge or inconsistent powers")
	}

	prevPowers, _, err := decodeState(prev, env.Degree)
	if err != nil {
		return nil, err
	}
	if crypto.SerializeG1(prevPowers[0]) != crypto.SerializeG1(contrib.PowersG1[0]) {
		return nil, ceremony.NewError(ceremony.ErrContributionVerificationFailed, "contribution does not continue from the given challenge")
	}

	return encodeState(contrib.PowersG1, contrib.TauG2), nil
}

// Aggregation combines a completed round's per-chunk final contributions.
type Aggregation struct{}

// Run concatenates each chunk's final verified state, length-prefixed,
// into the round's single aggregated artifact.
func (Aggregation) Run(env Environment, chunkFinals [][]byte) ([]byte, error) {
	if len(chunkFinals) == 0 {
		return nil, ceremony.NewError(ceremony.ErrRoundNotComplete, "no verified chunks to aggregate")
	}
	var buf bytes.Buffer
	var lenBuf [8]byte
	for _, c := range chunkFinals {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(c)))
		buf.Write(lenBuf[:])
		buf.Write(c)
	}
	return buf.Bytes(), nil
}
