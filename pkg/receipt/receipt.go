// Package receipt mints secp256k1 signed attestations of verification.
//
// After a document verifies, the verifier signs a Receipt with its own secp256k1 key.
// The signature is recoverable, so an on-chain consumer that knows the verifier address can
// check a receipt with ecrecover without the verifier publishing its public key separately.
package receipt

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/DIMO-Network/enclave-attestation/pkg/attest"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of an [R || S || V] signature.
const SignatureLength = crypto.SignatureLength

// Receipt binds the verified identity of an enclave to the time it was verified.
type Receipt struct {
	ModuleID string `json:"moduleId"`
	// Timestamp is the document timestamp in milliseconds.
	Timestamp uint64 `json:"timestamp"`
	// PCRDigest is keccak256 over the concatenated PCR values.
	PCRDigest common.Hash `json:"pcrDigest"`
	// EnclaveKeyDigest is keccak256 over the public_key bound into the document.
	// It is the zero hash when the document carried no public key.
	EnclaveKeyDigest common.Hash `json:"enclaveKeyDigest"`
	// VerifiedAt is the verification time in milliseconds.
	VerifiedAt uint64 `json:"verifiedAt"`
}

// FromIdentity builds a receipt for a verified identity.
func FromIdentity(identity *attest.Identity, verifiedAt uint64) Receipt {
	r := Receipt{
		ModuleID:   identity.ModuleID,
		Timestamp:  identity.Timestamp,
		PCRDigest:  crypto.Keccak256Hash(identity.PCRs...),
		VerifiedAt: verifiedAt,
	}
	if identity.PublicKey != nil {
		r.EnclaveKeyDigest = crypto.Keccak256Hash(identity.PublicKey)
	}
	return r
}

// Hash returns keccak256(keccak256(moduleID) || timestamp || pcrDigest || enclaveKeyDigest || verifiedAt)
// with both integers as 8-byte big endian.
func (r Receipt) Hash() common.Hash {
	var timestamp, verifiedAt [8]byte
	binary.BigEndian.PutUint64(timestamp[:], r.Timestamp)
	binary.BigEndian.PutUint64(verifiedAt[:], r.VerifiedAt)
	return crypto.Keccak256Hash(
		crypto.Keccak256([]byte(r.ModuleID)),
		timestamp[:],
		r.PCRDigest.Bytes(),
		r.EnclaveKeyDigest.Bytes(),
		verifiedAt[:],
	)
}

// Sign returns the recoverable signature of the receipt hash with V in {27, 28}.
func (r Receipt) Sign(key *ecdsa.PrivateKey) ([]byte, error) {
	if key == nil {
		return nil, errors.New("private key is nil")
	}
	sig, err := crypto.Sign(r.Hash().Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign receipt: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over the receipt.
func (r Receipt) RecoverSigner(sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: expected %d bytes, got %d", SignatureLength, len(sig))
	}
	adjusted := make([]byte, len(sig))
	copy(adjusted, sig)
	if adjusted[crypto.RecoveryIDOffset] >= 27 {
		adjusted[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(r.Hash().Bytes(), adjusted)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
