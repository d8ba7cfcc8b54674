// Package wellknown provides fiber controllers for well-known endpoints.
package wellknown

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
)

// KeysResponse is the response for the keys endpoint.
type KeysResponse struct {
	PublicKey       string `json:"publicKey"`
	EthereumAddress string `json:"ethereumAddress"`
}

// RegisterRoutes adds the well-known routes to a fiber app.
func RegisterRoutes(app *fiber.App, controller *Controller) {
	wellKnown := app.Group("/.well-known")
	wellKnown.Get("root-certificate", controller.GetRootCertificate)
	if controller.receiptKey != nil {
		wellKnown.Get("keys", controller.GetKeys)
	}
}

// Controller is a controller for well-known endpoints.
type Controller struct {
	receiptKey *ecdsa.PublicKey
	rootPEM    []byte
}

// NewController creates a new Controller. receiptKey may be nil when receipts are disabled.
func NewController(receiptKey *ecdsa.PublicKey, root *x509.Certificate) *Controller {
	return &Controller{
		receiptKey: receiptKey,
		rootPEM:    pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Raw}),
	}
}

// GetKeys godoc
// @Summary Get receipt signing key
// @Description Get the public key and Ethereum address that sign verification receipts
// @Tags keys
// @Produce json
// @Success 200 {object} KeysResponse
// @Router /.well-known/keys [get]
func (c *Controller) GetKeys(ctx *fiber.Ctx) error {
	keyResponse := KeysResponse{
		PublicKey:       "0x" + hex.EncodeToString(crypto.FromECDSAPub(c.receiptKey)),
		EthereumAddress: crypto.PubkeyToAddress(*c.receiptKey).Hex(),
	}
	return ctx.JSON(keyResponse)
}

// GetRootCertificate godoc
// @Summary Get trusted root certificate
// @Description Get the PEM encoded root certificate attestation documents chain to
// @Tags attestation
// @Produce application/x-pem-file
// @Success 200 {string} string
// @Router /.well-known/root-certificate [get]
func (c *Controller) GetRootCertificate(ctx *fiber.Ctx) error {
	ctx.Set(fiber.HeaderContentType, "application/x-pem-file")
	return ctx.Send(c.rootPEM)
}
