package config

import (
	"fmt"
	"time"

	"github.com/DIMO-Network/enclave-attestation/pkg/attest"
)

// PolicySettings is the configuration for verifying attestation documents.
type PolicySettings struct {
	// ExpectedPCRs are hex encoded PCR values by index. An empty entry matches any value.
	ExpectedPCRs []string `env:"EXPECTED_PCRS" yaml:"expectedPcrs"`
	// MaxAge is the maximum age of a document. Zero disables the check.
	MaxAge time.Duration `env:"MAX_AGE" yaml:"maxAge"`
	// MinCPUs is the minimum number of CPUs the enclave must claim.
	MinCPUs uint64 `env:"MIN_CPUS" yaml:"minCpus"`
	// MinMemoryMiB is the minimum memory the enclave must claim.
	MinMemoryMiB uint64 `env:"MIN_MEMORY_MIB" yaml:"minMemoryMib"`
}

// Policy converts the settings into an attest.Policy.
func (p *PolicySettings) Policy() (attest.Policy, error) {
	var expected [][]byte
	if len(p.ExpectedPCRs) > 0 {
		expected = make([][]byte, len(p.ExpectedPCRs))
	}
	for i, pcrHex := range p.ExpectedPCRs {
		if pcrHex == "" {
			continue
		}
		pcr, err := attest.DecodeHex(pcrHex)
		if err != nil {
			return attest.Policy{}, fmt.Errorf("expected pcr %d: %w", i, err)
		}
		if len(pcr) != attest.PCRLength {
			return attest.Policy{}, fmt.Errorf("expected pcr %d is %d bytes, expected %d", i, len(pcr), attest.PCRLength)
		}
		expected[i] = pcr
	}
	return attest.Policy{
		ExpectedPCRs: expected,
		MaxAge:       p.MaxAge,
		MinCPUs:      p.MinCPUs,
		MinMemoryMiB: p.MinMemoryMiB,
	}, nil
}
