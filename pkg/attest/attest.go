// Package attest encodes, decodes and verifies COSE_Sign1 attestation documents.
package attest

import (
	"fmt"
	"time"
)

// KeyMaterial is the certificate chain and signing key an attester signs with.
// Mock material and hardware issued material both satisfy it.
type KeyMaterial interface {
	// LeafCertificate returns the DER encoded certificate of the signing key.
	LeafCertificate() []byte
	// CABundle returns the DER encoded chain for the leaf certificate.
	CABundle() [][]byte
	// Signer returns the signer for the leaf certificate key.
	Signer() Signer
}

// PCRSource supplies the PCR values bound into each document.
type PCRSource interface {
	PCRs() ([][]byte, error)
}

// StaticPCRs is a fixed set of PCR values.
type StaticPCRs [][]byte

// PCRs returns a copy of the values.
func (s StaticPCRs) PCRs() ([][]byte, error) {
	pcrs := make([][]byte, len(s))
	for i, pcr := range s {
		if len(pcr) != PCRLength {
			return nil, fmt.Errorf("%w: pcr %d is %d bytes, expected %d", ErrInvalidInput, i, len(pcr), PCRLength)
		}
		pcrs[i] = append([]byte(nil), pcr...)
	}
	return pcrs, nil
}

// MockPCRs returns n placeholder PCR values where every byte of slot i is i.
// These are not measurements and must not be used outside of mock deployments.
func MockPCRs(n int) StaticPCRs {
	pcrs := make(StaticPCRs, n)
	for i := range pcrs {
		pcr := make([]byte, PCRLength)
		for j := range pcr {
			pcr[j] = byte(i)
		}
		pcrs[i] = pcr
	}
	return pcrs
}

// Attester produces signed documents for a single enclave identity.
type Attester struct {
	moduleID string
	keys     KeyMaterial
	pcrs     PCRSource
	now      func() time.Time
}

// AttesterOption configures an Attester.
type AttesterOption func(*Attester)

// WithAttesterClock overrides the clock used for document timestamps.
func WithAttesterClock(now func() time.Time) AttesterOption {
	return func(a *Attester) {
		a.now = now
	}
}

// NewAttester returns an Attester for moduleID.
func NewAttester(moduleID string, keys KeyMaterial, pcrs PCRSource, opts ...AttesterOption) *Attester {
	a := &Attester{
		moduleID: moduleID,
		keys:     keys,
		pcrs:     pcrs,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ModuleID returns the module id bound into every document.
func (a *Attester) ModuleID() string {
	return a.moduleID
}

// Attest returns a signed document binding the optional publicKey, userData and nonce.
// A nil field is encoded as absent, an empty one as present and empty.
func (a *Attester) Attest(publicKey, userData, nonce []byte) ([]byte, error) {
	pcrs, err := a.pcrs.PCRs()
	if err != nil {
		return nil, fmt.Errorf("failed to read pcrs: %w", err)
	}
	in := &EncodeInput{
		ModuleID:    a.moduleID,
		Timestamp:   uint64(a.now().UnixMilli()), //nolint:gosec // wall clock is after 1970
		PCRs:        pcrs,
		Certificate: a.keys.LeafCertificate(),
		CABundle:    a.keys.CABundle(),
		PublicKey:   publicKey,
		UserData:    userData,
		Nonce:       nonce,
	}
	return Encode(in, a.keys.Signer())
}
