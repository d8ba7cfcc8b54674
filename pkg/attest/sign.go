package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const sigContext = "Signature1"

var (
	// protectedHeader is the bstr wrapped protected header {1: -35}.
	protectedHeader = []byte{0xa1, 0x01, 0x38, 0x22}

	// prologue is the fixed start of every document up to the payload length.
	prologue = []byte{0x84, 0x44, 0xa1, 0x01, 0x38, 0x22, 0xa0, 0x59}
)

const (
	prologueLen = 8
	// headerLen is the prologue plus the 2-byte payload length.
	headerLen = prologueLen + 2
	// trailerLen is the signature bstr head plus the signature.
	trailerLen = 2 + SignatureSize
)

// Signer signs the SHA-384 digest of a Sig_structure.
type Signer interface {
	// Sign returns a SignatureSize byte r||s signature over digest.
	Sign(digest []byte) ([]byte, error)
}

// SigStructure builds the COSE Sig_structure for a Signature1 message:
// array(4), "Signature1", bstr protected, empty external aad, bstr payload.
// The payload is always written with a 2-byte length head, matching the document layout.
func SigStructure(protected, payload []byte) ([]byte, error) {
	return sigStructure(protected, payload, true)
}

// sigStructure writes the payload head as 59 LL LL when fixedHead is set and with a
// minimal head otherwise, as standard COSE encoders do. Both agree from 256 bytes up.
func sigStructure(protected, payload []byte, fixedHead bool) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	payloadHead := 3
	if !fixedHead {
		payloadHead = headSize(len(payload))
	}
	size := 1 + bytesSize(len(sigContext)) + bytesSize(len(protected)) + 1 + payloadHead + len(payload)
	w := newWriter(size)
	if err := w.writeByte(majorArray | 4); err != nil {
		return nil, err
	}
	if err := w.writeText(sigContext); err != nil {
		return nil, err
	}
	if err := w.writeBytes(protected); err != nil {
		return nil, err
	}
	if err := w.writeByte(majorBytes); err != nil {
		return nil, err
	}
	if fixedHead {
		if err := w.write([]byte{majorBytes | 25, byte(len(payload) >> 8), byte(len(payload))}); err != nil {
			return nil, err
		}
	} else if err := w.writeHead(majorBytes, len(payload)); err != nil {
		return nil, err
	}
	if err := w.write(payload); err != nil {
		return nil, err
	}
	if err := w.expectOffset(size); err != nil {
		return nil, err
	}
	return w.buf, nil
}

// SigStructureDigest returns the SHA-384 digest of SigStructure(protected, payload).
func SigStructureDigest(protected, payload []byte) ([]byte, error) {
	return sigStructureDigest(protected, payload, true)
}

func sigStructureDigest(protected, payload []byte, fixedHead bool) ([]byte, error) {
	preimage, err := sigStructure(protected, payload, fixedHead)
	if err != nil {
		return nil, err
	}
	digest := sha512.Sum384(preimage)
	return digest[:], nil
}

// P384Signer signs with an ECDSA P-384 private key.
type P384Signer struct {
	key  *ecdsa.PrivateKey
	rand io.Reader
}

// NewP384Signer returns a signer for key, which must be on the P-384 curve.
func NewP384Signer(key *ecdsa.PrivateKey) (*P384Signer, error) {
	if key == nil {
		return nil, errors.New("signing key is nil")
	}
	if key.Curve != elliptic.P384() {
		return nil, fmt.Errorf("signing key curve %s is not P-384", key.Curve.Params().Name)
	}
	return &P384Signer{key: key, rand: rand.Reader}, nil
}

// Public returns the public half of the signing key.
func (s *P384Signer) Public() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// Sign returns the fixed width r||s signature over digest.
func (s *P384Signer) Sign(digest []byte) ([]byte, error) {
	r, ss, err := ecdsa.Sign(s.rand, s.key, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	sig := make([]byte, SignatureSize)
	r.FillBytes(sig[:SignatureSize/2])
	ss.FillBytes(sig[SignatureSize/2:])
	return sig, nil
}

// verifySignature checks a raw r||s signature over digest.
func verifySignature(pub *ecdsa.PublicKey, digest, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	r := new(big.Int).SetBytes(sig[:SignatureSize/2])
	s := new(big.Int).SetBytes(sig[SignatureSize/2:])
	return ecdsa.Verify(pub, digest, r, s)
}
