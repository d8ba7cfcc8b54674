package attest

import (
	"bytes"
	"crypto/elliptic"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeTest(t *testing.T, doc []byte) *Document {
	t.Helper()
	decoded, err := Decode(doc)
	require.NoError(t, err)
	return decoded
}

func testVerifier() *Verifier {
	return NewVerifier(defaultChain().root, WithClock(fixedClock(testTimestamp)))
}

func TestVerify(t *testing.T) {
	t.Parallel()
	chain := defaultChain()
	in := testInput(chain)
	in.PublicKey = []byte("enclave key")
	in.Nonce = []byte{}

	identity, err := testVerifier().Verify(decodeTest(t, encodeTest(t, in)), Policy{
		ExpectedPCRs: MockPCRs(MockPCRCount),
		MaxAge:       time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, in.ModuleID, identity.ModuleID)
	assert.Equal(t, in.Timestamp, identity.Timestamp)
	assert.Equal(t, in.PCRs, identity.PCRs)
	assert.True(t, chain.key.PublicKey.Equal(identity.SigningKey))
	assert.Equal(t, chain.leafDER, identity.Certificate.Raw)
	assert.Equal(t, in.PublicKey, identity.PublicKey)
	assert.Nil(t, identity.UserData)
	assert.NotNil(t, identity.Nonce)
	assert.Empty(t, identity.Nonce)
	assert.Nil(t, identity.Resources)
}

func TestVerifyTampered(t *testing.T) {
	t.Parallel()
	in := testInput(defaultChain())
	in.Nonce = []byte("challenge")
	doc := encodeTest(t, in)
	pcrs := pcrsOffset(t, doc)
	timestamp := bytes.Index(doc, []byte("\x69timestamp")) + 10
	nonce := bytes.LastIndex(doc, []byte("challenge"))

	tests := []struct {
		name   string
		offset int
	}{
		{"pcr value", pcrs + 4},
		{"last pcr byte", pcrs + 16*51},
		{"timestamp", timestamp + 8},
		{"nonce", nonce},
		{"signature", len(doc) - 1},
		{"first signature byte", len(doc) - SignatureSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tampered := bytes.Clone(doc)
			tampered[tt.offset] ^= 0x01
			decoded := decodeTest(t, tampered)

			_, err := testVerifier().Verify(decoded, Policy{})
			require.ErrorIs(t, err, ErrSignatureInvalid)
			var cryptoErr CryptoError
			require.ErrorAs(t, err, &cryptoErr)
		})
	}
}

func TestVerifyEveryByteFlipped(t *testing.T) {
	t.Parallel()
	in := testInput(defaultChain())
	in.PublicKey = []byte("enclave key")
	in.Nonce = []byte("challenge")
	doc := encodeTest(t, in)
	verifier := testVerifier()

	for _, mask := range []byte{0x01, 0x80} {
		for offset := range doc {
			tampered := bytes.Clone(doc)
			tampered[offset] ^= mask
			decoded, err := Decode(tampered)
			if err != nil {
				var decodeErr DecodeError
				require.ErrorAs(t, err, &decodeErr, "offset %d mask %#x", offset, mask)
				continue
			}
			_, err = verifier.Verify(decoded, Policy{})
			var cryptoErr CryptoError
			require.ErrorAs(t, err, &cryptoErr, "offset %d mask %#x", offset, mask)
		}
	}
}

func TestVerifyChain(t *testing.T) {
	t.Parallel()
	doc := decodeTest(t, encodeTest(t, testInput(defaultChain())))

	_, err := NewVerifier(foreignChain().root, WithClock(fixedClock(testTimestamp))).Verify(doc, Policy{})
	require.ErrorIs(t, err, ErrCertificateChainInvalid)

	expired := fixedClock(uint64(chainNotAfter.Add(time.Hour).UnixMilli())) //nolint:gosec // positive
	_, err = NewVerifier(defaultChain().root, WithClock(expired)).Verify(doc, Policy{})
	require.ErrorIs(t, err, ErrCertificateChainInvalid)

	noBundle := *doc
	noBundle.CABundle = nil
	_, err = testVerifier().Verify(&noBundle, Policy{})
	require.NoError(t, err, "the trusted root does not need to be in the bundle")

	badCert := *doc
	badCert.Certificate = []byte{0x30, 0x00}
	_, err = testVerifier().Verify(&badCert, Policy{})
	require.ErrorIs(t, err, ErrCertificateChainInvalid)
}

func TestVerifyUnsupportedKey(t *testing.T) {
	t.Parallel()
	p256 := mustChain(elliptic.P256())
	in := testInput(p256)
	doc := decodeTest(t, encodeTest(t, in))

	_, err := NewVerifier(p256.root, WithClock(fixedClock(testTimestamp))).Verify(doc, Policy{})
	require.ErrorIs(t, err, ErrUnsupportedKey)
}

func TestVerifyPCRs(t *testing.T) {
	t.Parallel()
	doc := decodeTest(t, encodeTest(t, testInput(defaultChain())))
	verifier := testVerifier()

	for slot := range MockPCRCount {
		expected := MockPCRs(MockPCRCount)
		expected[slot][PCRLength-1] ^= 0xff
		_, err := verifier.Verify(doc, Policy{ExpectedPCRs: expected})
		require.ErrorIs(t, err, ErrPCRMismatch)
		var pcrErr *PCRMismatchError
		require.ErrorAs(t, err, &pcrErr)
		assert.Equal(t, slot, pcrErr.Index)
	}

	wildcard := make([][]byte, 3)
	wildcard[2] = MockPCRs(3)[2]
	_, err := verifier.Verify(doc, Policy{ExpectedPCRs: wildcard})
	require.NoError(t, err)

	tooMany := append([][]byte(MockPCRs(MockPCRCount)), make([]byte, PCRLength))
	_, err = verifier.Verify(doc, Policy{ExpectedPCRs: tooMany})
	var pcrErr *PCRMismatchError
	require.ErrorAs(t, err, &pcrErr)
	assert.Equal(t, MockPCRCount, pcrErr.Index)
}

func TestVerifyFreshness(t *testing.T) {
	t.Parallel()
	doc := decodeTest(t, encodeTest(t, testInput(defaultChain())))
	maxAge := 5 * time.Minute
	ms := uint64(maxAge.Milliseconds()) //nolint:gosec // positive

	tests := []struct {
		name    string
		now     uint64
		maxAge  time.Duration
		wantErr error
	}{
		{name: "same instant", now: testTimestamp, maxAge: maxAge},
		{name: "exactly max age", now: testTimestamp + ms, maxAge: maxAge},
		{name: "one ms past max age", now: testTimestamp + ms + 1, maxAge: maxAge, wantErr: ErrAttestationExpired},
		{name: "future within max age", now: testTimestamp - ms, maxAge: maxAge},
		{name: "future beyond max age", now: testTimestamp - ms - 1, maxAge: maxAge, wantErr: ErrTimestampInFuture},
		{name: "disabled", now: testTimestamp + 365*24*3600*1000, maxAge: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			verifier := NewVerifier(defaultChain().root, WithClock(fixedClock(tt.now)))
			_, err := verifier.Verify(doc, Policy{MaxAge: tt.maxAge})
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			var policyErr PolicyError
			require.ErrorAs(t, err, &policyErr)
		})
	}
}

func TestVerifyResources(t *testing.T) {
	t.Parallel()
	claim, err := EncodeResources(Resources{CPUs: 4, MemoryMiB: 2048})
	require.NoError(t, err)

	tests := []struct {
		name     string
		userData []byte
		policy   Policy
		wantErr  error
	}{
		{name: "no policy ignores claim", userData: nil, policy: Policy{}},
		{name: "satisfied", userData: claim, policy: Policy{MinCPUs: 2, MinMemoryMiB: 1024}},
		{name: "exact", userData: claim, policy: Policy{MinCPUs: 4, MinMemoryMiB: 2048}},
		{name: "too few cpus", userData: claim, policy: Policy{MinCPUs: 8}, wantErr: ErrInsufficientCPUs},
		{name: "too little memory", userData: claim, policy: Policy{MinMemoryMiB: 4096}, wantErr: ErrInsufficientMemory},
		{name: "missing claim", userData: nil, policy: Policy{MinCPUs: 1}, wantErr: ErrResourcesMissing},
		{name: "malformed claim", userData: []byte{0x01}, policy: Policy{MinCPUs: 1}, wantErr: ErrResourcesMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := testInput(defaultChain())
			in.UserData = tt.userData
			doc := decodeTest(t, encodeTest(t, in))

			identity, err := testVerifier().Verify(doc, tt.policy)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.policy.MinCPUs > 0 || tt.policy.MinMemoryMiB > 0 {
				require.NotNil(t, identity.Resources)
				assert.Equal(t, Resources{CPUs: 4, MemoryMiB: 2048}, *identity.Resources)
			}
		})
	}
}

func TestVerifyOrder(t *testing.T) {
	t.Parallel()
	doc := encodeTest(t, testInput(defaultChain()))
	doc[len(doc)-1] ^= 0x01
	decoded := decodeTest(t, doc)

	// a bad signature wins over every policy failure
	expected := MockPCRs(MockPCRCount)
	expected[0][0] ^= 0xff
	verifier := NewVerifier(defaultChain().root, WithClock(fixedClock(testTimestamp+uint64(time.Hour.Milliseconds()))))
	_, err := verifier.Verify(decoded, Policy{ExpectedPCRs: expected, MaxAge: time.Second, MinCPUs: 1})
	require.ErrorIs(t, err, ErrSignatureInvalid)

	// the chain is checked before the signature
	_, err = NewVerifier(foreignChain().root, WithClock(fixedClock(testTimestamp))).Verify(decoded, Policy{})
	require.ErrorIs(t, err, ErrCertificateChainInvalid)
	require.False(t, errors.Is(err, ErrSignatureInvalid))
}
