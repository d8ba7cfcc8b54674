package attest

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// payload keys in the order they are written.
const (
	keyModuleID    = "module_id"
	keyDigest      = "digest"
	keyTimestamp   = "timestamp"
	keyPCRs        = "pcrs"
	keyCertificate = "certificate"
	keyCABundle    = "cabundle"
	keyPublicKey   = "public_key"
	keyUserData    = "user_data"
	keyNonce       = "nonce"

	payloadFields = 9
)

func keySize(key string) int {
	return bytesSize(len(key))
}

// payloadSize computes the exact payload length for in.
func payloadSize(in *EncodeInput) int {
	size := headSize(payloadFields)
	size += keySize(keyModuleID) + bytesSize(len(in.ModuleID))
	size += keySize(keyDigest) + bytesSize(len(DigestSHA384))
	size += keySize(keyTimestamp) + 9
	size += keySize(keyPCRs) + headSize(len(in.PCRs))
	for i := range in.PCRs {
		size += headSize(i) + bytesSize(PCRLength)
	}
	size += keySize(keyCertificate) + bytesSize(len(in.Certificate))
	size += keySize(keyCABundle) + headSize(len(in.CABundle))
	for _, cert := range in.CABundle {
		size += bytesSize(len(cert))
	}
	size += keySize(keyPublicKey) + optionalSize(in.PublicKey)
	size += keySize(keyUserData) + optionalSize(in.UserData)
	size += keySize(keyNonce) + optionalSize(in.Nonce)
	return size
}

func validateInput(in *EncodeInput) error {
	for _, f := range []struct {
		name  string
		value []byte
	}{
		{keyPublicKey, in.PublicKey},
		{keyUserData, in.UserData},
		{keyNonce, in.Nonce},
	} {
		if len(f.value) > MaxFieldSize {
			return fmt.Errorf("%w: %s is %d bytes, max %d", ErrInputTooLarge, f.name, len(f.value), MaxFieldSize)
		}
	}
	for i, pcr := range in.PCRs {
		if len(pcr) != PCRLength {
			return fmt.Errorf("%w: pcr %d is %d bytes, expected %d", ErrInvalidInput, i, len(pcr), PCRLength)
		}
	}
	if len(in.Certificate) == 0 {
		return fmt.Errorf("%w: missing certificate", ErrInvalidInput)
	}
	return nil
}

// Encode builds and signs an attestation document.
// The document size is computed up front and the buffer is allocated once.
func Encode(in *EncodeInput, signer Signer) ([]byte, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	payloadLen := payloadSize(in)
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, payloadLen, MaxPayloadSize)
	}
	total := headerLen + payloadLen + trailerLen

	w := newWriter(total)
	if err := w.write(prologue); err != nil {
		return nil, err
	}
	var lenField [2]byte
	binary.BigEndian.PutUint16(lenField[:], uint16(payloadLen)) //nolint:gosec // checked against MaxPayloadSize
	if err := w.write(lenField[:]); err != nil {
		return nil, err
	}
	if err := writePayload(w, in); err != nil {
		return nil, err
	}
	if err := w.expectOffset(headerLen + payloadLen); err != nil {
		return nil, err
	}

	digest, err := SigStructureDigest(protectedHeader, w.buf[headerLen:headerLen+payloadLen])
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign attestation document: %w", err)
	}
	if len(sig) != SignatureSize {
		return nil, fmt.Errorf("%w: signer returned %d bytes, expected %d", ErrSigningFailed, len(sig), SignatureSize)
	}
	if err := w.writeBytes(sig); err != nil {
		return nil, err
	}
	if err := w.expectOffset(total); err != nil {
		return nil, err
	}
	return w.buf, nil
}

func writePayload(w *writer, in *EncodeInput) error {
	steps := []func() error{
		func() error { return w.writeHead(majorMap, payloadFields) },
		func() error { return w.writeText(keyModuleID) },
		func() error { return w.writeText(in.ModuleID) },
		func() error { return w.writeText(keyDigest) },
		func() error { return w.writeText(DigestSHA384) },
		func() error { return w.writeText(keyTimestamp) },
		func() error { return w.writeUint64(in.Timestamp) },
		func() error { return w.writeText(keyPCRs) },
		func() error { return writePCRs(w, in.PCRs) },
		func() error { return w.writeText(keyCertificate) },
		func() error { return w.writeBytes(in.Certificate) },
		func() error { return w.writeText(keyCABundle) },
		func() error { return writeCABundle(w, in.CABundle) },
		func() error { return w.writeText(keyPublicKey) },
		func() error { return w.writeOptional(in.PublicKey) },
		func() error { return w.writeText(keyUserData) },
		func() error { return w.writeOptional(in.UserData) },
		func() error { return w.writeText(keyNonce) },
		func() error { return w.writeOptional(in.Nonce) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func writePCRs(w *writer, pcrs [][]byte) error {
	if err := w.writeHead(majorMap, len(pcrs)); err != nil {
		return err
	}
	for i, pcr := range pcrs {
		if err := w.writeHead(majorUint, i); err != nil {
			return err
		}
		if err := w.writeBytes(pcr); err != nil {
			return err
		}
	}
	return nil
}

func writeCABundle(w *writer, bundle [][]byte) error {
	if err := w.writeHead(majorArray, len(bundle)); err != nil {
		return err
	}
	for _, cert := range bundle {
		if err := w.writeBytes(cert); err != nil {
			return err
		}
	}
	return nil
}

// EncodeHex returns the lowercase hex form of a document.
func EncodeHex(document []byte) string {
	return hex.EncodeToString(document)
}

// DecodeHex parses a hex encoded document or field. Surrounding whitespace and a 0x prefix are ignored.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}
	return b, nil
}
