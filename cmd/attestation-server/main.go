package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/DIMO-Network/enclave-attestation/internal/app"
	"github.com/DIMO-Network/enclave-attestation/internal/config"
	"github.com/DIMO-Network/enclave-attestation/pkg/attest"
	"github.com/DIMO-Network/enclave-attestation/pkg/certs"
	"github.com/DIMO-Network/enclave-attestation/pkg/server"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const ephemeralValidity = 365 * 24 * time.Hour

// @title                       Enclave Attestation API
// @version                     1.0
func main() {
	logger := server.DefaultLogger("attestation-server")

	// create a flag for the settings file
	settingsFile := flag.String("settings", "settings.yaml", "settings file")
	flag.Parse()
	settings, err := config.Load(*settingsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't load settings.")
	}
	if err := server.SetLevel(settings.LogLevel); err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse log level.")
	}

	keys, err := loadKeyMaterial(&settings, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load key material.")
	}
	pcrs, err := loadPCRs(settings.PCRs)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load PCRs.")
	}
	policy, err := settings.Policy.Policy()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load verification policy.")
	}
	receiptKey, err := loadReceiptKey(settings.ReceiptKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load receipt key.")
	}
	if receiptKey != nil {
		logger.Info().Str("address", crypto.PubkeyToAddress(receiptKey.PublicKey).Hex()).Msg("Verification receipts enabled.")
	}

	attester := attest.NewAttester(settings.ModuleID, keys, pcrs)
	webApp := app.CreateAttestationWebServer(logger, app.Options{
		Attester:   attester,
		Verifier:   attest.NewVerifier(keys.Root()),
		Policy:     policy,
		Root:       keys.Root(),
		ReceiptKey: receiptKey,
	})
	monApp := CreateMonitoringServer()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	runner := server.NewRunner(ctx)

	logger.Info().Str("port", strconv.Itoa(settings.MonPort)).Msgf("Starting monitoring server")
	runner.Listen(monApp, ":"+strconv.Itoa(settings.MonPort))

	if settings.VSockPort != 0 {
		listener, err := server.ListenVSock(settings.VSockPort)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to listen on vsock.")
		}
		logger.Info().Uint32("port", settings.VSockPort).Str("moduleId", attester.ModuleID()).Msgf("Starting attestation server on vsock")
		runner.Serve(webApp, listener)
	} else {
		logger.Info().Str("port", strconv.Itoa(settings.Port)).Str("moduleId", attester.ModuleID()).Msgf("Starting attestation server")
		runner.Listen(webApp, ":"+strconv.Itoa(settings.Port))
	}

	err = runner.Wait()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to run servers.")
	}
}

// CreateMonitoringServer creates the prometheus metrics server.
func CreateMonitoringServer() *fiber.App {
	monApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	monApp.Get("/", func(c *fiber.Ctx) error { return nil })
	monApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return monApp
}

func loadKeyMaterial(settings *config.Settings, logger *zerolog.Logger) (*certs.Static, error) {
	switch {
	case settings.KeyMaterial.Mock:
		logger.Warn().Msg("Using mock key material. Documents prove nothing about the hardware.")
		return certs.Mock()
	case settings.KeyMaterial.Ephemeral:
		logger.Warn().Msg("Using ephemeral key material. Documents prove nothing about the hardware.")
		return certs.Generate(settings.ModuleID, time.Now().Add(-time.Minute), ephemeralValidity)
	}
	return certs.Load(&settings.KeyMaterial)
}

func loadPCRs(pcrHexes []string) (attest.PCRSource, error) {
	if len(pcrHexes) == 0 {
		return attest.MockPCRs(attest.MockPCRCount), nil
	}
	pcrs := make(attest.StaticPCRs, len(pcrHexes))
	for i, pcrHex := range pcrHexes {
		pcr, err := attest.DecodeHex(pcrHex)
		if err != nil {
			return nil, fmt.Errorf("pcr %d: %w", i, err)
		}
		pcrs[i] = pcr
	}
	// reject bad lengths at startup
	if _, err := pcrs.PCRs(); err != nil {
		return nil, err
	}
	return pcrs, nil
}

func loadReceiptKey(keyHex string) (*ecdsa.PrivateKey, error) {
	if keyHex == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt key: %w", err)
	}
	return key, nil
}
