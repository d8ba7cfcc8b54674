package main

import (
	"context"
	"crypto/x509"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/DIMO-Network/enclave-attestation/pkg/attest"
	"github.com/DIMO-Network/enclave-attestation/pkg/certs"
	"github.com/DIMO-Network/enclave-attestation/pkg/client"
	"github.com/DIMO-Network/enclave-attestation/pkg/config"
	"github.com/DIMO-Network/enclave-attestation/pkg/server"
	"github.com/DIMO-Network/enclave-attestation/pkg/watchdog"
	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// attestation-client challenges an attestation server and verifies its document.
// Policy is read from POLICY_* and watchdog settings from WATCHDOG_* environment variables.
func main() {
	logger := server.DefaultLogger("attestation-client")

	serverURL := flag.String("url", "http://localhost:8080", "attestation server base URL")
	rootFile := flag.String("root", "", "PEM root certificate to trust; the mock root when empty")
	vsockCID := flag.Uint("vsock-cid", 0, "dial the server over vsock with this CID instead of TCP")
	vsockPort := flag.Uint("vsock-port", 0, "vsock port of the server")
	watch := flag.Bool("watch", false, "keep re-attesting the server until it fails")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()
	if err := server.SetLevel(*logLevel); err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse log level.")
	}

	root, err := loadRoot(*rootFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load root certificate.")
	}
	policySettings, err := env.ParseAsWithOptions[config.PolicySettings](env.Options{Prefix: "POLICY_"})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse policy settings.")
	}
	policy, err := policySettings.Policy()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load verification policy.")
	}

	var httpClient *http.Client
	if *vsockCID != 0 {
		httpClient = client.NewVSockHTTPClient(uint32(*vsockCID), uint32(*vsockPort)) //nolint:gosec // flag values are small
	}
	attClient := client.New(*serverURL, httpClient, attest.NewVerifier(root), policy)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithContext(ctx)

	if !*watch {
		identity, err := attClient.Attest(ctx, nil, nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("Attestation failed.")
		}
		logIdentity(logger.Info(), identity).Msg("Attestation verified.")
		return
	}

	watchSettings, err := env.ParseAsWithOptions[config.WatchdogSettings](env.Options{Prefix: "WATCHDOG_"})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to parse watchdog settings.")
	}
	dog, err := watchdog.New(attClient, watchSettings, watchdog.WithOnVerified(func(identity *attest.Identity) {
		logIdentity(logger.Info(), identity).Msg("Attestation verified.")
	}))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create watchdog.")
	}
	if err := dog.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Watchdog stopped.")
	}
}

func loadRoot(path string) (*x509.Certificate, error) {
	if path != "" {
		return certs.LoadRoot(path)
	}
	mock, err := certs.Mock()
	if err != nil {
		return nil, err
	}
	return mock.Root(), nil
}

func logIdentity(event *zerolog.Event, identity *attest.Identity) *zerolog.Event {
	pcrs := zerolog.Arr()
	for _, pcr := range identity.PCRs {
		pcrs.Str(hex.EncodeToString(pcr))
	}
	return event.Str("moduleId", identity.ModuleID).
		Time("timestamp", identity.Time()).
		Array("pcrs", pcrs)
}
