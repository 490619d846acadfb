package adapters

import (
	"github.com/trusted-setup/phase1-coordinator/ceremony"
	"github.com/trusted-setup/phase1-coordinator/crypto"
)

// stateLen is the wire size of an encoded SRS state (the accumulated G1
// powers plus the running [tau]G2) for a given degree.
func stateLen(degree int) int {
	return (degree+1)*crypto.BLSPubkeySize + crypto.BLSSignatureSize
}

// contributionLen is the wire size of an encoded Contribution: the
// resulting state plus its discrete-log proof of knowledge.
func contributionLen(degree int) int {
	return stateLen(degree) + crypto.BLSPubkeySize + crypto.BLSSignatureSize
}

func encodeState(powers []*crypto.BlsG1Point, tauG2 *crypto.BlsG2Point) []byte {
	out := make([]byte, 0, stateLen(len(powers)-1))
	for _, p := range powers {
		b := crypto.SerializeG1(p)
		out = append(out, b[:]...)
	}
	b2 := crypto.SerializeG2(tauG2)
	return append(out, b2[:]...)
}

func decodeState(data []byte, degree int) ([]*crypto.BlsG1Point, *crypto.BlsG2Point, error) {
	if len(data) != stateLen(degree) {
		return nil, nil, ceremony.NewError(ceremony.ErrContributionVerificationFailed, "malformed ceremony state encoding")
	}
	powers := make([]*crypto.BlsG1Point, degree+1)
	for i := range powers {
		var b [crypto.BLSPubkeySize]byte
		copy(b[:], data[i*crypto.BLSPubkeySize:(i+1)*crypto.BLSPubkeySize])
		powers[i] = crypto.DeserializeG1(b)
		if powers[i] == nil {
			return nil, nil, ceremony.NewError(ceremony.ErrContributionVerificationFailed, "invalid G1 point in ceremony state")
		}
	}
	var b2 [crypto.BLSSignatureSize]byte
	copy(b2[:], data[len(powers)*crypto.BLSPubkeySize:])
	tauG2 := crypto.DeserializeG2(b2)
	if tauG2 == nil {
		return nil, nil, ceremony.NewError(ceremony.ErrContributionVerificationFailed, "invalid G2 point in ceremony state")
	}
	return powers, tauG2, nil
}

func encodeContribution(c *crypto.Contribution) []byte {
	out := encodeState(c.PowersG1, c.TauG2)
	pg1 := crypto.SerializeG1(c.ProofG1)
	pg2 := crypto.SerializeG2(c.ProofG2)
	out = append(out, pg1[:]...)
	return append(out, pg2[:]...)
}

func decodeContribution(data []byte, degree int) (*crypto.Contribution, error) {
	if len(data) != contributionLen(degree) {
		return nil, ceremony.NewError(ceremony.ErrContributionVerificationFailed, "malformed contribution encoding")
	}
	sLen := stateLen(degree)
	powers, tauG2, err := decodeState(data[:sLen], degree)
	if err != nil {
		return nil, err
	}
	var pg1 [crypto.BLSPubkeySize]byte
	copy(pg1[:], data[sLen:sLen+crypto.BLSPubkeySize])
	var pg2 [crypto.BLSSignatureSize]byte
	copy(pg2[:], data[sLen+crypto.BLSPubkeySize:])
	proofG1 := crypto.DeserializeG1(pg1)
	proofG2 := crypto.DeserializeG2(pg2)
	if proofG1 == nil || proofG2 == nil {
		return nil, ceremony.NewError(ceremony.ErrContributionVerificationFailed, "invalid proof-of-knowledge point")
	}
	return &crypto.Contribution{
		PowersG1: powers,
		TauG2:    tauG2,
		ProofG1:  proofG1,
		ProofG2:  proofG2,
	}, nil
}
