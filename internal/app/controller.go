package app

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/DIMO-Network/enclave-attestation/pkg/attest"
	"github.com/DIMO-Network/enclave-attestation/pkg/receipt"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

const (
	queryPublicKey = "public_key"
	queryUserData  = "user_data"
	queryNonce     = "nonce"

	contentTypeCBOR = "application/cbor"
)

// VerifyResponse describes the enclave identity proven by a document.
// Optional fields are null when absent from the document and "" when present but empty.
type VerifyResponse struct {
	ModuleID  string   `json:"moduleId"`
	Timestamp uint64   `json:"timestamp"`
	PCRs      []string `json:"pcrs"`
	// SigningKey is the uncompressed leaf certificate public key.
	SigningKey string            `json:"signingKey"`
	PublicKey  *string           `json:"publicKey"`
	UserData   *string           `json:"userData"`
	Nonce      *string           `json:"nonce"`
	Resources  *attest.Resources `json:"resources,omitempty"`
	Receipt    *ReceiptResponse  `json:"receipt,omitempty"`
}

// ReceiptResponse is a verification receipt with its recoverable signature.
type ReceiptResponse struct {
	receipt.Receipt
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}

// Controller serves attestation documents and verifies them.
type Controller struct {
	attester   *attest.Attester
	verifier   *attest.Verifier
	policy     attest.Policy
	receiptKey *ecdsa.PrivateKey
	logger     *zerolog.Logger
	now        func() time.Time
}

// NewController creates a new Controller. receiptKey may be nil.
func NewController(attester *attest.Attester, verifier *attest.Verifier, policy attest.Policy, receiptKey *ecdsa.PrivateKey, logger *zerolog.Logger) *Controller {
	return &Controller{
		attester:   attester,
		verifier:   verifier,
		policy:     policy,
		receiptKey: receiptKey,
		logger:     logger,
		now:        time.Now,
	}
}

// GetAttestationRaw godoc
// @Summary Get a binary attestation document
// @Description Get a signed attestation document binding the optional hex encoded public_key, user_data and nonce
// @Tags attestation
// @Produce application/cbor
// @Param public_key query string false "hex encoded public key"
// @Param user_data query string false "hex encoded user data"
// @Param nonce query string false "hex encoded nonce"
// @Success 200 {file} binary
// @Router /attestation/raw [get]
func (c *Controller) GetAttestationRaw(ctx *fiber.Ctx) error {
	document, err := c.attest(ctx)
	if err != nil {
		return err
	}
	ctx.Set(fiber.HeaderContentType, contentTypeCBOR)
	return ctx.Send(document)
}

// GetAttestationHex godoc
// @Summary Get a hex encoded attestation document
// @Description Same as /attestation/raw with the document hex encoded
// @Tags attestation
// @Produce plain
// @Param public_key query string false "hex encoded public key"
// @Param user_data query string false "hex encoded user data"
// @Param nonce query string false "hex encoded nonce"
// @Success 200 {string} string
// @Router /attestation/hex [get]
func (c *Controller) GetAttestationHex(ctx *fiber.Ctx) error {
	document, err := c.attest(ctx)
	if err != nil {
		return err
	}
	return ctx.SendString(attest.EncodeHex(document))
}

func (c *Controller) attest(ctx *fiber.Ctx) ([]byte, error) {
	var fields [3][]byte
	for i, name := range []string{queryPublicKey, queryUserData, queryNonce} {
		field, err := optionalQueryHex(ctx, name)
		if err != nil {
			documentsTotal.WithLabelValues(resultInputError).Inc()
			return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		fields[i] = field
	}

	document, err := c.attester.Attest(fields[0], fields[1], fields[2])
	if err != nil {
		var inputErr attest.InputError
		if errors.As(err, &inputErr) {
			documentsTotal.WithLabelValues(resultInputError).Inc()
			return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		documentsTotal.WithLabelValues(resultInternalError).Inc()
		c.logger.Error().Err(err).Str("category", resultInternalError).Msg("Failed to create attestation document.")
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to create attestation document.")
	}
	documentsTotal.WithLabelValues(resultOK).Inc()
	return document, nil
}

// optionalQueryHex returns nil when the parameter is absent and an empty slice when it is present but empty.
func optionalQueryHex(ctx *fiber.Ctx, name string) ([]byte, error) {
	if !ctx.Context().QueryArgs().Has(name) {
		return nil, nil
	}
	value, err := attest.DecodeHex(ctx.Query(name))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return value, nil
}

// VerifyRaw godoc
// @Summary Verify a binary attestation document
// @Description Verify the certificate chain, signature, PCRs, freshness and resources of a document
// @Tags verify
// @Accept application/cbor
// @Produce json
// @Success 200 {object} VerifyResponse
// @Failure 400 {object} codeResp
// @Failure 401 {object} codeResp
// @Router /verify/raw [post]
func (c *Controller) VerifyRaw(ctx *fiber.Ctx) error {
	return c.verify(ctx, ctx.Body())
}

// VerifyHex godoc
// @Summary Verify a hex encoded attestation document
// @Description Same as /verify/raw with the document hex encoded
// @Tags verify
// @Accept plain
// @Produce json
// @Success 200 {object} VerifyResponse
// @Failure 400 {object} codeResp
// @Failure 401 {object} codeResp
// @Router /verify/hex [post]
func (c *Controller) VerifyHex(ctx *fiber.Ctx) error {
	document, err := attest.DecodeHex(string(ctx.Body()))
	if err != nil {
		verificationsTotal.WithLabelValues(resultDecodeError).Inc()
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.verify(ctx, document)
}

func (c *Controller) verify(ctx *fiber.Ctx, document []byte) error {
	doc, err := decodeDocument(document)
	if err != nil {
		verificationsTotal.WithLabelValues(resultDecodeError).Inc()
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	identity, err := c.verifier.Verify(doc, c.policy)
	if err != nil {
		status, result, message := classifyVerifyError(err)
		verificationsTotal.WithLabelValues(result).Inc()
		c.logger.Warn().Err(err).Str("category", result).Str("moduleId", doc.ModuleID).Msg("Attestation document rejected.")
		return fiber.NewError(status, message)
	}

	resp, err := c.identityResponse(identity)
	if err != nil {
		verificationsTotal.WithLabelValues(resultInternalError).Inc()
		c.logger.Error().Err(err).Str("category", resultInternalError).Msg("Failed to build verification response.")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to build verification response.")
	}
	verificationsTotal.WithLabelValues(resultOK).Inc()
	return ctx.JSON(resp)
}

// decodeDocument accepts the fixed layout produced by this service and falls back to
// generic COSE decoding for hardware issued documents.
func decodeDocument(document []byte) (*attest.Document, error) {
	doc, err := attest.Decode(document)
	if err == nil {
		return doc, nil
	}
	if coseDoc, coseErr := attest.DecodeCOSE(document); coseErr == nil {
		return coseDoc, nil
	}
	return nil, err
}

// classifyVerifyError maps a verification failure to a status code, a metrics result and a
// client message. Messages carry only the failure category.
func classifyVerifyError(err error) (int, string, string) {
	var (
		pcrErr    *attest.PCRMismatchError
		cryptoErr attest.CryptoError
		policyErr attest.PolicyError
	)
	switch {
	case errors.As(err, &pcrErr):
		return fiber.StatusUnauthorized, resultPolicyError, pcrErr.Error()
	case errors.As(err, &cryptoErr):
		return fiber.StatusUnauthorized, resultCryptoError, string(cryptoErr)
	case errors.As(err, &policyErr):
		return fiber.StatusUnauthorized, resultPolicyError, string(policyErr)
	default:
		return fiber.StatusInternalServerError, resultInternalError, "Internal error."
	}
}

func (c *Controller) identityResponse(identity *attest.Identity) (*VerifyResponse, error) {
	signingKey, err := identity.SigningKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to encode signing key: %w", err)
	}
	resp := &VerifyResponse{
		ModuleID:   identity.ModuleID,
		Timestamp:  identity.Timestamp,
		PCRs:       make([]string, len(identity.PCRs)),
		SigningKey: hex.EncodeToString(signingKey.Bytes()),
		PublicKey:  optionalHex(identity.PublicKey),
		UserData:   optionalHex(identity.UserData),
		Nonce:      optionalHex(identity.Nonce),
		Resources:  identity.Resources,
	}
	for i, pcr := range identity.PCRs {
		resp.PCRs[i] = hex.EncodeToString(pcr)
	}
	if c.receiptKey == nil {
		return resp, nil
	}

	rcpt := receipt.FromIdentity(identity, uint64(c.now().UnixMilli())) //nolint:gosec // wall clock is after 1970
	sig, err := rcpt.Sign(c.receiptKey)
	if err != nil {
		return nil, err
	}
	resp.Receipt = &ReceiptResponse{
		Receipt:   rcpt,
		Hash:      rcpt.Hash().Hex(),
		Signature: "0x" + hex.EncodeToString(sig),
	}
	return resp, nil
}

func optionalHex(b []byte) *string {
	if b == nil {
		return nil
	}
	s := hex.EncodeToString(b)
	return &s
}
