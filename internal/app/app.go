package app

import (
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"strings"

	"github.com/DIMO-Network/enclave-attestation/pkg/attest"
	"github.com/DIMO-Network/enclave-attestation/pkg/wellknown"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"
)

const (
	// bodyLimit fits the largest hex encoded document with room for whitespace.
	bodyLimit = 512 * 1024
	// readBufferSize fits a request line carrying public_key, user_data and nonce
	// hex encoded at MaxFieldSize each, plus the headers.
	readBufferSize = 3*2*attest.MaxFieldSize + 16*1024
)

// Options holds the dependencies of the attestation web server.
type Options struct {
	Attester *attest.Attester
	Verifier *attest.Verifier
	Policy   attest.Policy
	// Root is served on the well-known endpoint so clients can pin it.
	Root *x509.Certificate
	// ReceiptKey signs verification receipts. Receipts are disabled when nil.
	ReceiptKey *ecdsa.PrivateKey
}

// CreateAttestationWebServer creates the attestation and verification API.
func CreateAttestationWebServer(logger *zerolog.Logger, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return ErrorHandler(c, err, logger)
		},
		DisableStartupMessage: true,
		BodyLimit:             bodyLimit,
		ReadBufferSize:        readBufferSize,
	})
	ctrl := NewController(opts.Attester, opts.Verifier, opts.Policy, opts.ReceiptKey, logger)

	var receiptPub *ecdsa.PublicKey
	if opts.ReceiptKey != nil {
		receiptPub = &opts.ReceiptKey.PublicKey
	}
	wellKnownCtrl := wellknown.NewController(receiptPub, opts.Root)

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(cors.New())
	app.Get("/", HealthCheck)
	wellknown.RegisterRoutes(app, wellKnownCtrl)

	attestation := app.Group("/attestation")
	attestation.Get("/raw", ctrl.GetAttestationRaw)
	attestation.Get("/hex", ctrl.GetAttestationHex)

	verify := app.Group("/verify")
	verify.Post("/raw", ctrl.VerifyRaw)
	verify.Post("/hex", ctrl.VerifyHex)
	return app
}

// HealthCheck godoc
// @Summary Show the status of server.
// @Description get the status of server.
// @Tags root
// @Accept */*
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func HealthCheck(ctx *fiber.Ctx) error {
	res := map[string]any{
		"data": "Server is up and running",
	}

	return ctx.JSON(res)
}

// ErrorHandler custom handler to log recovered errors using our logger and return json instead of string.
func ErrorHandler(ctx *fiber.Ctx, err error, logger *zerolog.Logger) error {
	code := fiber.StatusInternalServerError // Default 500 statuscode
	message := "Internal error."

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	// don't log not found errors
	if code != fiber.StatusNotFound {
		logger.Err(err).Int("httpStatusCode", code).
			Str("httpPath", strings.TrimPrefix(ctx.Path(), "/")).
			Str("httpMethod", ctx.Method()).
			Msg("caught an error from http request")
	}

	return ctx.Status(code).JSON(codeResp{Code: code, Message: message})
}

type codeResp struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}
