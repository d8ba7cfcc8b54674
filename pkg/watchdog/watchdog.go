// Package watchdog re-attests a remote enclave on an interval and stops when its identity can no longer be proven.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/DIMO-Network/enclave-attestation/pkg/attest"
	"github.com/DIMO-Network/enclave-attestation/pkg/config"
	"github.com/rs/zerolog"
)

// WatchdogError is a typed error for watchdog-related errors.
type WatchdogError string

func (e WatchdogError) Error() string { return string(e) }

const (
	// ErrAttesterRequired is returned when no attester is given.
	ErrAttesterRequired = WatchdogError("attester is required")
	// ErrIntervalRequired is returned when the interval is not positive.
	ErrIntervalRequired = WatchdogError("interval must be positive")
	// ErrAttestationFailed is returned when more than MaxFailures consecutive attestations fail.
	ErrAttestationFailed = WatchdogError("enclave attestation failed")
	// ErrModuleIDMismatch is returned when a document is signed by a different enclave than expected.
	ErrModuleIDMismatch = WatchdogError("module ID mismatch")
)

// Attester proves the identity of a remote enclave.
type Attester interface {
	Attest(ctx context.Context, publicKey, userData []byte) (*attest.Identity, error)
}

// Watchdog is a struct that handles re-attesting an enclave.
type Watchdog struct {
	attester   Attester
	settings   config.WatchdogSettings
	onVerified func(*attest.Identity)
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithOnVerified registers fn to be called with every verified identity.
func WithOnVerified(fn func(*attest.Identity)) Option {
	return func(w *Watchdog) {
		w.onVerified = fn
	}
}

// New creates a new watchdog.
func New(attester Attester, settings config.WatchdogSettings, opts ...Option) (*Watchdog, error) {
	if attester == nil {
		return nil, ErrAttesterRequired
	}
	if settings.Interval <= 0 {
		return nil, ErrIntervalRequired
	}
	w := &Watchdog{attester: attester, settings: settings}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start attests immediately and then once per interval until ctx is cancelled.
// It returns an error when the enclave changes module id or when more than
// MaxFailures consecutive attestations fail. If the context is cancelled, the
// watchdog stops without error.
func (w *Watchdog) Start(ctx context.Context) error {
	logger := zerolog.Ctx(ctx).With().Str("component", "watchdog").Logger()
	ticker := time.NewTicker(w.settings.Interval)
	defer ticker.Stop()

	moduleID := w.settings.ModuleID
	failures := 0
	for {
		identity, err := w.attester.Attest(ctx, nil, nil)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			failures++
			logger.Warn().Err(err).Int("failures", failures).Msg("attestation failed")
			if failures > w.settings.MaxFailures {
				return fmt.Errorf("%w after %d attempts: %w", ErrAttestationFailed, failures, err)
			}
		default:
			if moduleID == "" {
				moduleID = identity.ModuleID
			}
			if identity.ModuleID != moduleID {
				return fmt.Errorf("%w: got %s, expected %s", ErrModuleIDMismatch, identity.ModuleID, moduleID)
			}
			failures = 0
			logger.Debug().Str("moduleId", identity.ModuleID).Uint64("timestamp", identity.Timestamp).Msg("attestation verified")
			if w.onVerified != nil {
				w.onVerified(identity)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

