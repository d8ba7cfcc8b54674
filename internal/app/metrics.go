package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK            = "ok"
	resultInputError    = "input_error"
	resultDecodeError   = "decode_error"
	resultCryptoError   = "crypto_error"
	resultPolicyError   = "policy_error"
	resultInternalError = "internal_error"
)

var (
	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attestation",
		Name:      "documents_total",
		Help:      "Attestation documents requested, by result.",
	}, []string{"result"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attestation",
		Name:      "verifications_total",
		Help:      "Attestation documents verified, by result.",
	}, []string{"result"})
)
