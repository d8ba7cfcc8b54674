package attest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	t.Parallel()
	in := testInput(defaultChain())
	doc := encodeTest(t, in)

	payloadLen := payloadSize(in)
	require.Len(t, doc, headerLen+payloadLen+trailerLen)
	assert.Equal(t, prologue, doc[:prologueLen])
	assert.Equal(t, uint16(payloadLen), binary.BigEndian.Uint16(doc[prologueLen:headerLen])) //nolint:gosec // small
	assert.Equal(t, byte(0xa9), doc[headerLen], "payload must be a 9 entry map")
	assert.Equal(t, []byte{0x58, 0x60}, doc[len(doc)-trailerLen:len(doc)-SignatureSize])

	// absent optional fields end the payload with three nulls
	payload := doc[headerLen : headerLen+payloadLen]
	assert.True(t, bytes.HasSuffix(payload, []byte{0x65, 'n', 'o', 'n', 'c', 'e', 0xf6}))
	assert.Contains(t, string(payload), "\x69timestamp\x1b")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	chain := defaultChain()
	tests := []struct {
		name      string
		publicKey []byte
		userData  []byte
		nonce     []byte
	}{
		{name: "all absent"},
		{name: "all present", publicKey: []byte("public key"), userData: []byte("user data"), nonce: []byte("nonce")},
		{name: "present but empty", publicKey: []byte{}, userData: []byte{}, nonce: []byte{}},
		{name: "mixed", publicKey: bytes.Repeat([]byte{0xab}, 300), nonce: []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := testInput(chain)
			in.PublicKey, in.UserData, in.Nonce = tt.publicKey, tt.userData, tt.nonce
			doc := encodeTest(t, in)

			decoded, err := Decode(doc)
			require.NoError(t, err)
			assert.Equal(t, in.ModuleID, decoded.ModuleID)
			assert.Equal(t, DigestSHA384, decoded.Digest)
			assert.Equal(t, in.Timestamp, decoded.Timestamp)
			assert.Equal(t, in.PCRs, decoded.PCRs)
			assert.Equal(t, in.Certificate, decoded.Certificate)
			assert.Equal(t, in.CABundle, decoded.CABundle)
			assert.Len(t, decoded.Signature, SignatureSize)
			assert.Equal(t, doc[headerLen:len(doc)-trailerLen], decoded.Payload())
			assert.Equal(t, protectedHeader, decoded.Protected())

			for _, f := range []struct {
				name      string
				want, got []byte
			}{
				{"public_key", tt.publicKey, decoded.PublicKey},
				{"user_data", tt.userData, decoded.UserData},
				{"nonce", tt.nonce, decoded.Nonce},
			} {
				if f.want == nil {
					assert.Nil(t, f.got, f.name)
					continue
				}
				assert.NotNil(t, f.got, f.name)
				assert.Equal(t, f.want, f.got, f.name)
			}
		})
	}
}

func TestEncodeFieldSizeLimits(t *testing.T) {
	t.Parallel()
	chain := defaultChain()

	in := testInput(chain)
	in.UserData = make([]byte, MaxFieldSize+1)
	_, err := Encode(in, chain.signer)
	require.ErrorIs(t, err, ErrInputTooLarge)

	in = testInput(chain)
	in.Nonce = make([]byte, MaxFieldSize+1)
	_, err = Encode(in, chain.signer)
	require.ErrorIs(t, err, ErrInputTooLarge)

	// a field at the limit passes the field check but can not fit next to the rest of the payload
	in = testInput(chain)
	in.PublicKey = make([]byte, MaxFieldSize)
	_, err = Encode(in, chain.signer)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
	require.NotErrorIs(t, err, ErrInputTooLarge)
}

func TestEncodePayloadBoundary(t *testing.T) {
	t.Parallel()
	chain := defaultChain()
	base := payloadSize(testInput(chain))
	// user_data of length n replaces a 1 byte null with a 3 byte head and n bytes
	n := MaxPayloadSize - base - 2
	require.Greater(t, n, 0xff)

	in := testInput(chain)
	in.UserData = bytes.Repeat([]byte{0x5a}, n)
	doc, err := Encode(in, chain.signer)
	require.NoError(t, err)
	require.Len(t, doc, MaxDocumentSize)
	assert.Equal(t, []byte{0xff, 0xff}, doc[prologueLen:headerLen])

	decoded, err := Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, in.UserData, decoded.UserData)

	in.UserData = append(in.UserData, 0x5a)
	_, err = Encode(in, chain.signer)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestEncodeOptionalHeads(t *testing.T) {
	t.Parallel()
	tests := []struct {
		length int
		head   []byte
	}{
		{0, []byte{0x40}},
		{23, []byte{0x57}},
		{24, []byte{0x58, 0x18}},
		{255, []byte{0x58, 0xff}},
		{256, []byte{0x59, 0x01, 0x00}},
	}
	for _, tt := range tests {
		in := testInput(defaultChain())
		in.Nonce = bytes.Repeat([]byte{0x11}, tt.length)
		doc := encodeTest(t, in)

		payloadEnd := len(doc) - trailerLen
		headStart := payloadEnd - tt.length - len(tt.head)
		assert.Equal(t, tt.head, doc[headStart:payloadEnd-tt.length], "nonce of %d bytes", tt.length)
		assert.Equal(t, headerLen+payloadSize(in)+trailerLen, len(doc))
	}
}

func TestEncodeInvalidInput(t *testing.T) {
	t.Parallel()
	chain := defaultChain()

	in := testInput(chain)
	in.PCRs[3] = make([]byte, PCRLength-1)
	_, err := Encode(in, chain.signer)
	require.ErrorIs(t, err, ErrInvalidInput)

	in = testInput(chain)
	in.Certificate = nil
	_, err = Encode(in, chain.signer)
	require.ErrorIs(t, err, ErrInvalidInput)

	var inputErr InputError
	require.ErrorAs(t, err, &inputErr)
}

func TestEncodeManyPCRs(t *testing.T) {
	t.Parallel()
	in := testInput(defaultChain())
	in.PCRs = MockPCRs(32)
	doc := encodeTest(t, in)

	decoded, err := Decode(doc)
	require.NoError(t, err)
	require.Len(t, decoded.PCRs, 32)
	assert.Equal(t, bytes.Repeat([]byte{31}, PCRLength), decoded.PCRs[31])
}

func TestEncodeSignerFailure(t *testing.T) {
	t.Parallel()
	in := testInput(defaultChain())

	_, err := Encode(in, signerFunc(func([]byte) ([]byte, error) {
		return nil, errors.New("device unavailable")
	}))
	require.ErrorContains(t, err, "device unavailable")

	_, err = Encode(in, signerFunc(func([]byte) ([]byte, error) {
		return make([]byte, SignatureSize-1), nil
	}))
	require.ErrorIs(t, err, ErrSigningFailed)
}

func TestSigStructure(t *testing.T) {
	t.Parallel()
	payload := []byte{0xa0}
	preimage, err := SigStructure(protectedHeader, payload)
	require.NoError(t, err)

	want := []byte{0x84, 0x6a}
	want = append(want, "Signature1"...)
	want = append(want, 0x44, 0xa1, 0x01, 0x38, 0x22, 0x40, 0x59, 0x00, 0x01, 0xa0)
	assert.Equal(t, want, preimage)

	_, err = SigStructure(protectedHeader, make([]byte, MaxPayloadSize+1))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestHex(t *testing.T) {
	t.Parallel()
	doc := encodeTest(t, testInput(defaultChain()))

	encoded := EncodeHex(doc)
	assert.Equal(t, strings.ToLower(encoded), encoded)
	decoded, err := DecodeHex(" 0x" + strings.ToUpper(encoded) + "\n")
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)

	_, err = DecodeHex("abc")
	require.ErrorIs(t, err, ErrInvalidHex)
	_, err = DecodeHex("zz")
	require.ErrorIs(t, err, ErrInvalidHex)

	empty, err := DecodeHex("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
