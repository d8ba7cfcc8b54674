// Package certs provides the key material attestation documents are signed with.
package certs

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/DIMO-Network/enclave-attestation/pkg/attest"
	"github.com/DIMO-Network/enclave-attestation/pkg/config"
)

var _ attest.KeyMaterial = (*Static)(nil)

// Static is key material held in memory.
type Static struct {
	leaf   []byte
	bundle [][]byte
	root   *x509.Certificate
	signer *attest.P384Signer
}

// NewStatic returns key material for a leaf certificate, its CA bundle, the trusted root and the leaf key.
func NewStatic(leafDER []byte, bundle [][]byte, root *x509.Certificate, key *ecdsa.PrivateKey) (*Static, error) {
	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse leaf certificate: %w", err)
	}
	signer, err := attest.NewP384Signer(key)
	if err != nil {
		return nil, err
	}
	if !signer.Public().Equal(leaf.PublicKey) {
		return nil, errors.New("signing key does not match leaf certificate")
	}
	if root == nil {
		return nil, errors.New("root certificate is nil")
	}
	return &Static{
		leaf:   leafDER,
		bundle: bundle,
		root:   root,
		signer: signer,
	}, nil
}

// LeafCertificate returns the DER encoded leaf certificate.
func (s *Static) LeafCertificate() []byte {
	return s.leaf
}

// CABundle returns the DER encoded CA bundle.
func (s *Static) CABundle() [][]byte {
	return s.bundle
}

// Signer returns the P-384 signer for the leaf key.
func (s *Static) Signer() attest.Signer {
	return s.signer
}

// Root returns the root certificate verifiers should trust.
func (s *Static) Root() *x509.Certificate {
	return s.root
}

// Load returns key material for the given settings.
func Load(settings *config.KeyMaterialConfig) (*Static, error) {
	if settings.Mock {
		return Mock()
	}
	cert, err := tls.LoadX509KeyPair(settings.CertFile, settings.KeyFile)
	if err != nil {
		return nil, err
	}
	bundle := cert.Certificate[1:]
	if settings.CABundleFile != "" {
		extra, err := readCertificates(settings.CABundleFile)
		if err != nil {
			return nil, err
		}
		bundle = append(bundle, extra...)
	}

	var root *x509.Certificate
	switch {
	case settings.RootFile != "":
		if root, err = LoadRoot(settings.RootFile); err != nil {
			return nil, err
		}
	case len(bundle) > 0:
		if root, err = x509.ParseCertificate(bundle[len(bundle)-1]); err != nil {
			return nil, fmt.Errorf("failed to parse root certificate: %w", err)
		}
	default:
		return nil, errors.New("no root certificate configured")
	}

	key, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", cert.PrivateKey)
	}
	return NewStatic(cert.Certificate[0], bundle, root, key)
}

// LoadRoot reads a single PEM root certificate from path.
func LoadRoot(path string) (*x509.Certificate, error) {
	roots, err := readCertificates(path)
	if err != nil {
		return nil, err
	}
	if len(roots) != 1 {
		return nil, fmt.Errorf("root file %s has %d certificates, expected 1", path, len(roots))
	}
	root, err := x509.ParseCertificate(roots[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse root certificate: %w", err)
	}
	return root, nil
}

func readCertificates(path string) ([][]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from settings
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return decodeCertificates(data)
}

func decodeCertificates(data []byte) ([][]byte, error) {
	var ders [][]byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		ders = append(ders, block.Bytes)
	}
	if len(ders) == 0 && len(bytes.TrimSpace(data)) > 0 {
		return nil, errors.New("no PEM certificates found")
	}
	return ders, nil
}
