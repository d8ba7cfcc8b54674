package attest

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Decode parses a document produced by Encode.
// The layout is fixed: any deviation in the prologue, field order or value types is an error,
// and a partially decoded document is never returned.
func Decode(document []byte) (*Document, error) {
	if len(document) < headerLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the %d byte header", ErrMalformedDocument, len(document), headerLen)
	}
	if !bytes.Equal(document[:prologueLen], prologue) {
		return nil, fmt.Errorf("%w: unexpected prologue %x", ErrMalformedDocument, document[:prologueLen])
	}
	payloadLen := int(binary.BigEndian.Uint16(document[prologueLen:headerLen]))
	if len(document) != headerLen+payloadLen+trailerLen {
		return nil, fmt.Errorf("%w: document is %d bytes, payload length %d requires %d",
			ErrLengthMismatch, len(document), payloadLen, headerLen+payloadLen+trailerLen)
	}
	payload := document[headerLen : headerLen+payloadLen]
	trailer := document[headerLen+payloadLen:]
	if trailer[0] != majorBytes|24 || trailer[1] != SignatureSize {
		return nil, fmt.Errorf("%w: unexpected signature head %x", ErrMalformedDocument, trailer[:2])
	}

	doc, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	doc.Signature = bytes.Clone(trailer[2:])
	doc.protected = bytes.Clone(protectedHeader)
	doc.payload = bytes.Clone(payload)
	return doc, nil
}

func decodePayload(payload []byte) (*Document, error) {
	r := &reader{buf: payload}
	fields, err := r.readTyped(majorMap, "payload")
	if err != nil {
		return nil, err
	}
	if fields != payloadFields {
		return nil, fmt.Errorf("%w: payload has %d fields, expected %d", ErrUnexpectedField, fields, payloadFields)
	}

	doc := &Document{}
	if err := r.expectKey(keyModuleID); err != nil {
		return nil, err
	}
	if doc.ModuleID, err = r.readText(keyModuleID); err != nil {
		return nil, err
	}

	if err := r.expectKey(keyDigest); err != nil {
		return nil, err
	}
	if doc.Digest, err = r.readText(keyDigest); err != nil {
		return nil, err
	}
	if doc.Digest != DigestSHA384 {
		return nil, fmt.Errorf("%w: digest %q", ErrUnexpectedField, doc.Digest)
	}

	if err := r.expectKey(keyTimestamp); err != nil {
		return nil, err
	}
	if doc.Timestamp, err = r.readTyped(majorUint, keyTimestamp); err != nil {
		return nil, err
	}

	if err := r.expectKey(keyPCRs); err != nil {
		return nil, err
	}
	if doc.PCRs, err = readPCRs(r); err != nil {
		return nil, err
	}

	if err := r.expectKey(keyCertificate); err != nil {
		return nil, err
	}
	cert, err := r.readBytes(keyCertificate)
	if err != nil {
		return nil, err
	}
	doc.Certificate = bytes.Clone(cert)

	if err := r.expectKey(keyCABundle); err != nil {
		return nil, err
	}
	if doc.CABundle, err = readCABundle(r); err != nil {
		return nil, err
	}

	for _, f := range []struct {
		key string
		dst *[]byte
	}{
		{keyPublicKey, &doc.PublicKey},
		{keyUserData, &doc.UserData},
		{keyNonce, &doc.Nonce},
	} {
		if err := r.expectKey(f.key); err != nil {
			return nil, err
		}
		value, err := r.readOptional(f.key)
		if err != nil {
			return nil, err
		}
		*f.dst = bytes.Clone(value)
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing payload bytes", ErrUnexpectedField, r.remaining())
	}
	return doc, nil
}

func readPCRs(r *reader) ([][]byte, error) {
	count, err := r.readTyped(majorMap, keyPCRs)
	if err != nil {
		return nil, err
	}
	// every entry takes at least 50 bytes, which bounds the allocation below
	if count > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: %d pcrs in %d bytes", ErrMalformedDocument, count, r.remaining())
	}
	pcrs := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		index, err := r.readTyped(majorUint, "pcr index")
		if err != nil {
			return nil, err
		}
		if index != i {
			return nil, fmt.Errorf("%w: got index %d at position %d", ErrPCRIndexMismatch, index, i)
		}
		value, err := r.readBytes("pcr value")
		if err != nil {
			return nil, err
		}
		if len(value) != PCRLength {
			return nil, fmt.Errorf("%w: pcr %d is %d bytes, expected %d", ErrPCRLengthMismatch, i, len(value), PCRLength)
		}
		pcrs = append(pcrs, bytes.Clone(value))
	}
	return pcrs, nil
}

func readCABundle(r *reader) ([][]byte, error) {
	count, err := r.readTyped(majorArray, keyCABundle)
	if err != nil {
		return nil, err
	}
	if count > uint64(r.remaining()) {
		return nil, fmt.Errorf("%w: %d certificates in %d bytes", ErrMalformedDocument, count, r.remaining())
	}
	bundle := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		cert, err := r.readBytes("cabundle entry")
		if err != nil {
			return nil, err
		}
		bundle = append(bundle, bytes.Clone(cert))
	}
	return bundle, nil
}
