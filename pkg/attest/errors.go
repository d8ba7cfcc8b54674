package attest

import "fmt"

// InputError is returned when caller supplied data can not be encoded.
type InputError string

func (e InputError) Error() string { return string(e) }

// DecodeError is returned when a document does not match the expected layout.
type DecodeError string

func (e DecodeError) Error() string { return string(e) }

// CryptoError is returned when a certificate or signature check fails.
type CryptoError string

func (e CryptoError) Error() string { return string(e) }

// PolicyError is returned when a well formed and correctly signed document is
// rejected by the verification policy.
type PolicyError string

func (e PolicyError) Error() string { return string(e) }

// InternalError is returned when the attester itself is unable to complete a request.
type InternalError string

func (e InternalError) Error() string { return string(e) }

const (
	// ErrInputTooLarge is returned when public_key, user_data or nonce exceed MaxFieldSize.
	ErrInputTooLarge = InputError("input field too large")
	// ErrPayloadTooLarge is returned when the encoded payload does not fit the 16-bit length field.
	ErrPayloadTooLarge = InputError("payload too large")
	// ErrInvalidInput is returned for structurally invalid encoder inputs such as a wrong PCR length.
	ErrInvalidInput = InputError("invalid input")
	// ErrInvalidHex is returned when a hex encoded document or field can not be decoded.
	ErrInvalidHex = InputError("invalid hex encoding")

	// ErrMalformedDocument is returned when the fixed COSE prologue or a CBOR head is invalid.
	ErrMalformedDocument = DecodeError("malformed attestation document")
	// ErrLengthMismatch is returned when the document length disagrees with its payload length.
	ErrLengthMismatch = DecodeError("attestation document length mismatch")
	// ErrUnexpectedField is returned when a payload key or value type is not the expected one.
	ErrUnexpectedField = DecodeError("unexpected field in attestation document")
	// ErrPCRIndexMismatch is returned when a PCR entry is out of order.
	ErrPCRIndexMismatch = DecodeError("pcr index mismatch")
	// ErrPCRLengthMismatch is returned when a PCR value is not PCRLength bytes.
	ErrPCRLengthMismatch = DecodeError("pcr length mismatch")

	// ErrCertificateChainInvalid is returned when the leaf certificate does not chain to the trusted root.
	ErrCertificateChainInvalid = CryptoError("certificate chain invalid")
	// ErrUnsupportedKey is returned when the leaf certificate key is not a P-384 ECDSA key.
	ErrUnsupportedKey = CryptoError("unsupported leaf certificate key")
	// ErrSignatureInvalid is returned when the COSE signature does not verify.
	ErrSignatureInvalid = CryptoError("signature invalid")

	// ErrPCRMismatch is returned when a PCR differs from the expected value.
	ErrPCRMismatch = PolicyError("pcr mismatch")
	// ErrAttestationExpired is returned when the document is older than the allowed max age.
	ErrAttestationExpired = PolicyError("attestation expired")
	// ErrTimestampInFuture is returned when the document is newer than now plus the allowed max age.
	ErrTimestampInFuture = PolicyError("attestation timestamp in the future")
	// ErrInsufficientCPUs is returned when the attested enclave reports fewer CPUs than required.
	ErrInsufficientCPUs = PolicyError("insufficient cpus")
	// ErrInsufficientMemory is returned when the attested enclave reports less memory than required.
	ErrInsufficientMemory = PolicyError("insufficient memory")

	// ErrResourcesMissing is returned when a resource policy is set but user_data carries no resource claim.
	ErrResourcesMissing = PolicyError("resource claim missing")

	// ErrSigningFailed is returned when the signing key could not produce a signature.
	ErrSigningFailed = InternalError("signing failed")
	// ErrLayout is returned when a write does not land on its precomputed offset.
	ErrLayout = InternalError("attestation document layout mismatch")
)

// PCRMismatchError names the first PCR slot that differs from the policy.
type PCRMismatchError struct {
	Index int
}

func (e *PCRMismatchError) Error() string {
	return fmt.Sprintf("%s: pcr %d", ErrPCRMismatch, e.Index)
}

// Unwrap allows errors.Is(err, ErrPCRMismatch).
func (e *PCRMismatchError) Unwrap() error {
	return ErrPCRMismatch
}
