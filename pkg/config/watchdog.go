package config

import "time"

// WatchdogSettings contains the settings for continuously re-attesting a remote enclave.
type WatchdogSettings struct {
	// ModuleID pins the module id of the watched enclave. Empty pins the id of the first document.
	ModuleID string `env:"MODULE_ID" yaml:"moduleId"`
	// Interval is the time between attestations.
	Interval time.Duration `env:"INTERVAL" yaml:"interval" envDefault:"30s"`
	// MaxFailures is the number of consecutive failed attestations tolerated before the watchdog stops.
	MaxFailures int `env:"MAX_FAILURES" yaml:"maxFailures"`
}
