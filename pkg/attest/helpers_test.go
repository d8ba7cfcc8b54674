package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testTimestamp is 2025-01-01T00:00:00Z in milliseconds.
const testTimestamp uint64 = 1735689600000

var (
	chainNotBefore = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	chainNotAfter  = time.Date(2124, 1, 1, 0, 0, 0, 0, time.UTC)
)

type testChain struct {
	root    *x509.Certificate
	rootDER []byte
	leafDER []byte
	key     *ecdsa.PrivateKey
	signer  *P384Signer
}

// chains are shared across tests, generating P-384 keys is not free.
var (
	defaultChain = sync.OnceValue(func() *testChain { return mustChain(elliptic.P384()) })
	foreignChain = sync.OnceValue(func() *testChain { return mustChain(elliptic.P384()) })
)

func mustChain(leafCurve elliptic.Curve) *testChain {
	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		panic(err)
	}
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test root"},
		NotBefore:             chainNotBefore,
		NotAfter:              chainNotAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		IsCA:                  true,
		BasicConstraintsValid: true,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		panic(err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		panic(err)
	}

	leafKey, err := ecdsa.GenerateKey(leafCurve, rand.Reader)
	if err != nil {
		panic(err)
	}
	leafTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "test-module"},
		NotBefore:             chainNotBefore,
		NotAfter:              chainNotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, root, &leafKey.PublicKey, rootKey)
	if err != nil {
		panic(err)
	}

	chain := &testChain{root: root, rootDER: rootDER, leafDER: leafDER, key: leafKey}
	if leafCurve == elliptic.P384() {
		chain.signer, err = NewP384Signer(leafKey)
		if err != nil {
			panic(err)
		}
	}
	return chain
}

func testInput(chain *testChain) *EncodeInput {
	return &EncodeInput{
		ModuleID:    "test-module",
		Timestamp:   testTimestamp,
		PCRs:        MockPCRs(MockPCRCount),
		Certificate: chain.leafDER,
		CABundle:    [][]byte{chain.rootDER},
	}
}

func encodeTest(t *testing.T, in *EncodeInput) []byte {
	t.Helper()
	doc, err := Encode(in, defaultChain().signer)
	require.NoError(t, err)
	return doc
}

func fixedClock(ms uint64) func() time.Time {
	return func() time.Time {
		return time.UnixMilli(int64(ms)) //nolint:gosec // test timestamps are small
	}
}

type signerFunc func(digest []byte) ([]byte, error)

func (f signerFunc) Sign(digest []byte) ([]byte, error) { return f(digest) }
