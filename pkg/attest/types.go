package attest

const (
	// DigestSHA384 is the only digest algorithm this package produces or accepts.
	DigestSHA384 = "SHA384"
	// PCRLength is the size of a SHA-384 PCR value.
	PCRLength = 48
	// MockPCRCount is the number of PCR slots emitted by the mock attester.
	MockPCRCount = 16
	// MaxFieldSize is the largest public_key, user_data or nonce that can be bound into a document.
	MaxFieldSize = 0xffff
	// MaxPayloadSize is the largest payload that fits the 16-bit payload length field.
	MaxPayloadSize = 0xffff
	// SignatureSize is the size of a raw P-384 r||s signature.
	SignatureSize = 96
	// MaxDocumentSize is the size of a document carrying the largest payload.
	MaxDocumentSize = 10 + MaxPayloadSize + 2 + SignatureSize
	// AlgorithmES384 is the COSE algorithm identifier for ECDSA P-384 with SHA-384.
	AlgorithmES384 = -35
)

// COSESign1 represents a COSE_Sign1 message structure.
type COSESign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[string]interface{}
	Payload     []byte
	Signature   []byte
}

// nsmDocument is the CBOR payload of a hardware issued attestation document.
// Map order in hardware documents is not fixed, so it is only used by DecodeCOSE.
type nsmDocument struct {
	ModuleID    string         `cbor:"module_id"`
	Digest      string         `cbor:"digest"`
	Timestamp   uint64         `cbor:"timestamp"`
	PCRs        map[int][]byte `cbor:"pcrs"`
	Certificate []byte         `cbor:"certificate"`
	CABundle    [][]byte       `cbor:"cabundle"`
	PublicKey   []byte         `cbor:"public_key"`
	UserData    []byte         `cbor:"user_data"`
	Nonce       []byte         `cbor:"nonce"`
}

// Document is a decoded attestation document.
// Optional fields are nil when absent and non-nil (possibly empty) when present.
type Document struct {
	// ModuleID is the identifier of the issuing enclave instance.
	ModuleID string
	// Digest is the digest function used for the PCR values.
	Digest string
	// Timestamp is the creation time in milliseconds since the Unix epoch.
	Timestamp uint64
	// PCRs holds the PCR values ordered by index.
	PCRs [][]byte
	// Certificate is the DER encoded leaf certificate that signed the document.
	Certificate []byte
	// CABundle is the DER encoded chain for Certificate.
	CABundle [][]byte
	// PublicKey is an optional caller supplied key bound into the document.
	PublicKey []byte
	// UserData is optional caller supplied data bound into the document.
	UserData []byte
	// Nonce is an optional caller supplied nonce bound into the document.
	Nonce []byte
	// Signature is the raw r||s signature over the COSE Sig_structure.
	Signature []byte

	protected []byte
	payload   []byte
	// minimalHead is set for documents read by DecodeCOSE, whose signers encode the
	// payload head minimally instead of with the fixed document layout.
	minimalHead bool
}

// Protected returns the protected header bytes the signature covers.
func (d *Document) Protected() []byte {
	return d.protected
}

// Payload returns the raw payload bytes the signature covers.
func (d *Document) Payload() []byte {
	return d.payload
}

// EncodeInput holds everything bound into an attestation document.
type EncodeInput struct {
	ModuleID    string
	Timestamp   uint64
	PCRs        [][]byte
	Certificate []byte
	CABundle    [][]byte
	PublicKey   []byte
	UserData    []byte
	Nonce       []byte
}
