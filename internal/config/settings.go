package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/DIMO-Network/enclave-attestation/pkg/certs"
	"github.com/DIMO-Network/enclave-attestation/pkg/config"
	"github.com/DIMO-Network/shared"
	"github.com/caarlos0/env/v11"
	"github.com/gofrs/uuid"
)

// Settings contains the application config
type Settings struct {
	Environment string `env:"ENVIRONMENT" yaml:"ENVIRONMENT"`
	LogLevel    string `env:"LOG_LEVEL"   yaml:"LOG_LEVEL"`
	Port        int    `env:"PORT"        yaml:"PORT"`
	MonPort     int    `env:"MON_PORT"    yaml:"MON_PORT"`

	// VSockPort serves the API on a vsock listener instead of Port when set.
	VSockPort uint32 `env:"VSOCK_PORT" yaml:"VSOCK_PORT"`
	// ModuleID is bound into every document. A random id is generated when empty.
	ModuleID string `env:"MODULE_ID" yaml:"MODULE_ID"`
	// PCRs are the hex encoded measurements bound into documents. Mock values are used when empty.
	PCRs []string `env:"PCRS" yaml:"PCRS"`
	// ReceiptKey is the hex encoded secp256k1 key for verification receipts. Receipts are off when empty.
	ReceiptKey string `env:"RECEIPT_KEY" yaml:"RECEIPT_KEY"`

	KeyMaterial config.KeyMaterialConfig `envPrefix:"KEY_MATERIAL_" yaml:"KEY_MATERIAL"`
	Policy      config.PolicySettings    `envPrefix:"POLICY_"       yaml:"POLICY"`
}

// Load reads settings from the settings file, or from the environment when the file does not exist.
func Load(settingsFile string) (Settings, error) {
	var settings Settings
	_, err := os.Stat(settingsFile)
	switch {
	case err == nil:
		settings, err = shared.LoadConfig[Settings](settingsFile)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to load settings file: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		settings, err = env.ParseAs[Settings]()
		if err != nil {
			return Settings{}, fmt.Errorf("failed to parse environment variables: %w", err)
		}
	default:
		return Settings{}, fmt.Errorf("failed to stat settings file: %w", err)
	}
	if settings.ModuleID == "" {
		settings.ModuleID = defaultModuleID(settings.KeyMaterial.Mock)
	}
	return settings, nil
}

func defaultModuleID(mock bool) string {
	if mock {
		return certs.MockModuleID
	}
	return "enclave-" + uuid.Must(uuid.NewV4()).String()
}
