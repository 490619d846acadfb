package client

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

// Keypair is the minimal stable on-disk representation spec.md's
// Non-goals leave unspecified beyond "some keypair file format
// exists": one line of 0x-hex Ed25519 seed, one line of 0x-hex
// Ed25519 public key. No mnemonic recovery — that stays out of scope.
type Keypair struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// PublicKeyHex is the identity this keypair contributes under — the
// "pubkey" string threaded through every REST call in spec.md §6.
func (k Keypair) PublicKeyHex() string {
	return hexutil.Encode(k.Public)
}

// GenerateKeypair produces a fresh Ed25519 keypair from the system
// CSPRNG. export-keypair's mnemonic-derived path is out of scope per
// spec.md §1; this is the direct-generation fallback a contributor
// uses when no mnemonic tooling is available.
func GenerateKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, ceremony.WrapError(ceremony.ErrUnknown, "generate keypair", err)
	}
	return Keypair{Private: priv, Public: pub}, nil
}

// WriteKeypairFile writes k to path as two hex lines (seed, public
// key), matching the CLI's `export-keypair` → `./keypair` contract.
func WriteKeypairFile(path string, k Keypair) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return ceremony.WrapError(ceremony.ErrUnknown, "open keypair file", err)
	}
	defer f.Close()
	seed := k.Private.Seed()
	if _, err := fmt.Fprintln(f, hexutil.Encode(seed)); err != nil {
		return ceremony.WrapError(ceremony.ErrUnknown, "write keypair seed", err)
	}
	if _, err := fmt.Fprintln(f, hexutil.Encode(k.Public)); err != nil {
		return ceremony.WrapError(ceremony.ErrUnknown, "write keypair pubkey", err)
	}
	return nil
}

// ReadKeypairFile loads a keypair previously written by
// WriteKeypairFile.
func ReadKeypairFile(path string) (Keypair, error) {
	f, err := os.Open(path)
	if err != nil {
		return Keypair{}, ceremony.WrapError(ceremony.ErrUnknown, "open keypair file", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return Keypair{}, ceremony.NewError(ceremony.ErrUnknown, "keypair file missing seed line")
	}
	seed, err := hexutil.Decode(scanner.Text())
	if err != nil || len(seed) != ed25519.SeedSize {
		return Keypair{}, ceremony.NewError(ceremony.ErrUnknown, "keypair file has an invalid seed")
	}
	priv := ed25519.NewKeyFromSeed(seed)

	if !scanner.Scan() {
		return Keypair{}, ceremony.NewError(ceremony.ErrUnknown, "keypair file missing public key line")
	}
	pub, err := hexutil.Decode(scanner.Text())
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return Keypair{}, ceremony.NewError(ceremony.ErrUnknown, "keypair file has an invalid public key")
	}
	return Keypair{Private: priv, Public: ed25519.PublicKey(pub)}, nil
}
