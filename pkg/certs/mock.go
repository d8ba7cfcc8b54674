package certs

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	_ "embed"
	"fmt"
)

// MockModuleID is the module id of the mock leaf certificate.
const MockModuleID = "i-00000000000000000-enc0000000000000000"

var (
	//go:embed mock/root.pem
	mockRootPEM []byte
	//go:embed mock/leaf.pem
	mockLeafPEM []byte
	//go:embed mock/leaf.key.pem
	mockKeyPEM []byte
)

// Mock returns the compiled in P-384 mock chain. The CA bundle holds only the mock root.
// Documents signed with it prove nothing about the hardware and are only for
// environments without an attestation device.
func Mock() (*Static, error) {
	pair, err := tls.X509KeyPair(mockLeafPEM, mockKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load mock key pair: %w", err)
	}
	rootDERs, err := decodeCertificates(mockRootPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mock root: %w", err)
	}
	if len(rootDERs) != 1 {
		return nil, fmt.Errorf("mock root has %d certificates, expected 1", len(rootDERs))
	}
	root, err := x509.ParseCertificate(rootDERs[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse mock root: %w", err)
	}
	key, ok := pair.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected mock key type %T", pair.PrivateKey)
	}
	return NewStatic(pair.Certificate[0], rootDERs, root, key)
}
