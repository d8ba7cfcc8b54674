package attest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"fmt"
	"time"
)

// Policy holds the caller's expectations for an attestation document.
type Policy struct {
	// ExpectedPCRs are compared slot by slot against the document. A nil entry matches any value.
	// When ExpectedPCRs is empty no PCR is pinned.
	ExpectedPCRs [][]byte
	// MaxAge is the largest allowed distance between the document timestamp and now,
	// in either direction, and is the only allowance for clock skew. An age equal to MaxAge is accepted.
	// Zero disables the freshness check.
	MaxAge time.Duration
	// MinCPUs is the minimum CPU count the enclave must report in its resource claim.
	MinCPUs uint64
	// MinMemoryMiB is the minimum memory the enclave must report in its resource claim.
	MinMemoryMiB uint64
}

// Identity is what a successful verification proves about the enclave.
type Identity struct {
	ModuleID string
	// Timestamp is the document creation time in milliseconds since the Unix epoch.
	Timestamp uint64
	PCRs      [][]byte
	// SigningKey is the leaf certificate key that signed the document.
	SigningKey *ecdsa.PublicKey
	// Certificate is the parsed leaf certificate.
	Certificate *x509.Certificate
	PublicKey   []byte
	UserData    []byte
	Nonce       []byte
	// Resources is set when the policy required a resource claim.
	Resources *Resources
}

// Time returns Timestamp as a time.Time.
func (i *Identity) Time() time.Time {
	return time.UnixMilli(int64(i.Timestamp)) //nolint:gosec // timestamps are well below 2^63
}

// Verifier checks documents against a trusted root certificate.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	roots *x509.CertPool
	now   func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides the clock used for certificate validity and freshness checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier returns a Verifier that trusts only trustedRoot.
func NewVerifier(trustedRoot *x509.Certificate, opts ...VerifierOption) *Verifier {
	roots := x509.NewCertPool()
	roots.AddCert(trustedRoot)
	v := &Verifier{roots: roots, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the certificate chain, the signature, the PCRs, the timestamp and the
// resource claim, in that order. The first failure is returned and is terminal.
func (v *Verifier) Verify(doc *Document, policy Policy) (*Identity, error) {
	now := v.now()

	leaf, err := v.verifyChain(doc, now)
	if err != nil {
		return nil, err
	}
	signingKey, err := leafKey(leaf)
	if err != nil {
		return nil, err
	}
	if err := verifyDocumentSignature(doc, signingKey); err != nil {
		return nil, err
	}
	if err := checkPCRs(doc.PCRs, policy.ExpectedPCRs); err != nil {
		return nil, err
	}
	if err := checkFreshness(doc.Timestamp, now, policy.MaxAge); err != nil {
		return nil, err
	}
	resources, err := checkResources(doc.UserData, policy)
	if err != nil {
		return nil, err
	}

	return &Identity{
		ModuleID:    doc.ModuleID,
		Timestamp:   doc.Timestamp,
		PCRs:        doc.PCRs,
		SigningKey:  signingKey,
		Certificate: leaf,
		PublicKey:   doc.PublicKey,
		UserData:    doc.UserData,
		Nonce:       doc.Nonce,
		Resources:   resources,
	}, nil
}

// verifyChain validates the leaf certificate against the trusted root through the CA bundle.
func (v *Verifier) verifyChain(doc *Document, now time.Time) (*x509.Certificate, error) {
	leaf, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse certificate: %w", ErrCertificateChainInvalid, err)
	}
	intermediates := x509.NewCertPool()
	for i, der := range doc.CABundle {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse cabundle entry %d: %w", ErrCertificateChainInvalid, i, err)
		}
		intermediates.AddCert(cert)
	}
	opts := x509.VerifyOptions{
		Intermediates: intermediates,
		Roots:         v.roots,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCertificateChainInvalid, err)
	}
	return leaf, nil
}

func leafKey(leaf *x509.Certificate) (*ecdsa.PublicKey, error) {
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, leaf.PublicKey)
	}
	if pub.Curve != elliptic.P384() {
		return nil, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, pub.Curve.Params().Name)
	}
	return pub, nil
}

func verifyDocumentSignature(doc *Document, pub *ecdsa.PublicKey) error {
	if len(doc.payload) == 0 || len(doc.protected) == 0 {
		return fmt.Errorf("%w: document carries no signed payload", ErrSignatureInvalid)
	}
	digest, err := sigStructureDigest(doc.protected, doc.payload, !doc.minimalHead)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	if !verifySignature(pub, digest, doc.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}

func checkPCRs(pcrs, expected [][]byte) error {
	if len(expected) == 0 {
		return nil
	}
	for i, want := range expected {
		if want == nil {
			continue
		}
		if i >= len(pcrs) || !bytes.Equal(pcrs[i], want) {
			return &PCRMismatchError{Index: i}
		}
	}
	return nil
}

func checkFreshness(timestamp uint64, now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	age := now.UnixMilli() - int64(timestamp) //nolint:gosec // timestamps are well below 2^63
	limit := maxAge.Milliseconds()
	switch {
	case age > limit:
		return fmt.Errorf("%w: age %s exceeds %s", ErrAttestationExpired, time.Duration(age)*time.Millisecond, maxAge)
	case -age > limit:
		return fmt.Errorf("%w: %s ahead of now", ErrTimestampInFuture, time.Duration(-age)*time.Millisecond)
	}
	return nil
}

func checkResources(userData []byte, policy Policy) (*Resources, error) {
	if policy.MinCPUs == 0 && policy.MinMemoryMiB == 0 {
		return nil, nil
	}
	if userData == nil {
		return nil, ErrResourcesMissing
	}
	res, err := DecodeResources(userData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResourcesMissing, err)
	}
	if res.CPUs < policy.MinCPUs {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientCPUs, res.CPUs, policy.MinCPUs)
	}
	if res.MemoryMiB < policy.MinMemoryMiB {
		return nil, fmt.Errorf("%w: have %d MiB, need %d MiB", ErrInsufficientMemory, res.MemoryMiB, policy.MinMemoryMiB)
	}
	return &res, nil
}
