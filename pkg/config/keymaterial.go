package config

// KeyMaterialConfig contains the settings for the attestation certificate chain and signing key.
type KeyMaterialConfig struct {
	// Mock uses the compiled in mock certificate chain and key. The file settings are ignored.
	Mock bool `env:"MOCK" yaml:"mock"`
	// Ephemeral generates a fresh root and leaf at startup. Verifiers must fetch the root from this instance.
	Ephemeral bool `env:"EPHEMERAL" yaml:"ephemeral"`
	// CertFile is the path to the PEM leaf certificate, optionally followed by its chain.
	CertFile string `env:"CERT_FILE" yaml:"certFile"`
	// KeyFile is the path to the PEM P-384 private key for the leaf certificate.
	KeyFile string `env:"KEY_FILE" yaml:"keyFile"`
	// CABundleFile is the path to additional PEM certificates placed in the document cabundle.
	CABundleFile string `env:"CA_BUNDLE_FILE" yaml:"caBundleFile"`
	// RootFile is the path to the PEM root certificate verifiers trust.
	// If empty the last certificate of the bundle is used.
	RootFile string `env:"ROOT_FILE" yaml:"rootFile"`
}
