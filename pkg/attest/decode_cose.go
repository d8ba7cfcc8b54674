package attest

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// coseSign1Tag is the CBOR tag (18) hardware documents may carry in front of the COSE_Sign1 array.
const coseSign1Tag = 0xd2

// DecodeCOSE parses a hardware issued attestation document.
// Unlike Decode it accepts any CBOR map order and PCR count, so it can read documents
// that were not produced by Encode. The result verifies with Verifier.Verify like any other Document.
func DecodeCOSE(document []byte) (*Document, error) {
	if len(document) > 0 && document[0] == coseSign1Tag {
		document = document[1:]
	}
	var coseSign1 COSESign1
	if err := cbor.Unmarshal(document, &coseSign1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	if err := validateSyntactic(coseSign1); err != nil {
		return nil, fmt.Errorf("syntactic validation failed: %w", err)
	}
	doc, err := validateSemantic(coseSign1.Payload)
	if err != nil {
		return nil, fmt.Errorf("semantic validation failed: %w", err)
	}
	doc.Signature = bytes.Clone(coseSign1.Signature)
	doc.protected = bytes.Clone(coseSign1.Protected)
	doc.payload = bytes.Clone(coseSign1.Payload)
	doc.minimalHead = true
	return doc, nil
}

// validateSyntactic checks the COSE envelope of the attestation document.
func validateSyntactic(coseSign1 COSESign1) error {
	if len(coseSign1.Protected) != len(protectedHeader) {
		return fmt.Errorf("%w: protected header is %d bytes, expected %d", ErrMalformedDocument, len(coseSign1.Protected), len(protectedHeader))
	}

	var protectedMap map[int]int
	if err := cbor.Unmarshal(coseSign1.Protected, &protectedMap); err != nil {
		return fmt.Errorf("%w: failed to parse protected header: %w", ErrMalformedDocument, err)
	}
	if alg, ok := protectedMap[1]; !ok {
		return fmt.Errorf("%w: missing algorithm in protected header", ErrMalformedDocument)
	} else if alg != AlgorithmES384 {
		return fmt.Errorf("%w: algorithm %d, expected %d (ES384)", ErrMalformedDocument, alg, AlgorithmES384)
	}

	if len(coseSign1.Unprotected) != 0 {
		return fmt.Errorf("%w: unprotected header has %d items", ErrMalformedDocument, len(coseSign1.Unprotected))
	}
	if len(coseSign1.Payload) == 0 {
		return fmt.Errorf("%w: payload is empty", ErrMalformedDocument)
	}
	if len(coseSign1.Payload) > MaxPayloadSize {
		return fmt.Errorf("%w: payload is %d bytes", ErrLengthMismatch, len(coseSign1.Payload))
	}
	if len(coseSign1.Signature) != SignatureSize {
		return fmt.Errorf("%w: signature is %d bytes, expected %d", ErrLengthMismatch, len(coseSign1.Signature), SignatureSize)
	}
	return nil
}

// validateSemantic parses the payload and checks the mandatory fields.
func validateSemantic(payload []byte) (*Document, error) {
	var raw nsmDocument
	if err := cbor.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse attestation document: %w", ErrUnexpectedField, err)
	}

	switch {
	case raw.ModuleID == "":
		return nil, fmt.Errorf("%w: missing module_id", ErrUnexpectedField)
	case raw.Digest != DigestSHA384:
		return nil, fmt.Errorf("%w: digest %q", ErrUnexpectedField, raw.Digest)
	case raw.Timestamp == 0:
		return nil, fmt.Errorf("%w: missing timestamp", ErrUnexpectedField)
	case len(raw.PCRs) == 0:
		return nil, fmt.Errorf("%w: missing pcrs", ErrUnexpectedField)
	case len(raw.Certificate) == 0:
		return nil, fmt.Errorf("%w: missing certificate", ErrUnexpectedField)
	case len(raw.CABundle) == 0:
		return nil, fmt.Errorf("%w: missing cabundle", ErrUnexpectedField)
	}
	for _, field := range [][]byte{raw.PublicKey, raw.UserData, raw.Nonce} {
		if len(field) > MaxFieldSize {
			return nil, fmt.Errorf("%w: optional field is %d bytes", ErrUnexpectedField, len(field))
		}
	}

	pcrs, err := orderPCRs(raw.PCRs)
	if err != nil {
		return nil, err
	}
	return &Document{
		ModuleID:    raw.ModuleID,
		Digest:      raw.Digest,
		Timestamp:   raw.Timestamp,
		PCRs:        pcrs,
		Certificate: raw.Certificate,
		CABundle:    raw.CABundle,
		PublicKey:   raw.PublicKey,
		UserData:    raw.UserData,
		Nonce:       raw.Nonce,
	}, nil
}

// orderPCRs turns the PCR map into a slice. Indices must be contiguous from 0,
// so n distinct keys that are all below n fill every slot.
func orderPCRs(pcrMap map[int][]byte) ([][]byte, error) {
	pcrs := make([][]byte, len(pcrMap))
	for index, value := range pcrMap {
		if index < 0 || index >= len(pcrMap) {
			return nil, fmt.Errorf("%w: index %d in a set of %d", ErrPCRIndexMismatch, index, len(pcrMap))
		}
		if len(value) != PCRLength {
			return nil, fmt.Errorf("%w: pcr %d is %d bytes, expected %d", ErrPCRLengthMismatch, index, len(value), PCRLength)
		}
		pcrs[index] = value
	}
	return pcrs, nil
}
