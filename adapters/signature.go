package adapters

import (
	"crypto/ed25519"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

// Signature wraps the Ed25519 sign/verify contract used by contributors
// and verifiers over canonical ContributionState encodings.
type Signature struct{}

// Sign returns the 0x-prefixed hex encoding of the Ed25519 signature
// over message.
func (Signature) Sign(priv ed25519.PrivateKey, message string) string {
	sig := ed25519.Sign(priv, []byte(message))
	return hexutil.Encode(sig)
}

// Verify reports whether sigHex is a valid Ed25519 signature by pub
// over message.
func (Signature) Verify(pub ed25519.PublicKey, message, sigHex string) bool {
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, []byte(message), sig)
}

const canonicalStateDomain = "phase1-contribution-state:"

// CanonicalMessage builds the domain-separated JSON encoding of a
// ContributionState that ContributionFileSignature is computed over.
func CanonicalMessage(state ceremony.ContributionState) (string, error) {
	buf, err := json.Marshal(state)
	if err != nil {
		return "", ceremony.WrapError(ceremony.ErrUnknown, "encode contribution state", err)
	}
	return canonicalStateDomain + string(buf), nil
}
