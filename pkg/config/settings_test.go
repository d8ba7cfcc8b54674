package config

import (
	"strings"
	"testing"
	"time"

	"github.com/DIMO-Network/enclave-attestation/pkg/attest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicySettings(t *testing.T) {
	t.Parallel()
	pcr0 := strings.Repeat("00", attest.PCRLength)
	pcr2 := "0x" + strings.Repeat("02", attest.PCRLength)

	settings := PolicySettings{
		ExpectedPCRs: []string{pcr0, "", pcr2},
		MaxAge:       time.Minute,
		MinCPUs:      2,
		MinMemoryMiB: 512,
	}
	policy, err := settings.Policy()
	require.NoError(t, err)
	require.Len(t, policy.ExpectedPCRs, 3)
	assert.Equal(t, attest.MockPCRs(1)[0], policy.ExpectedPCRs[0])
	assert.Nil(t, policy.ExpectedPCRs[1])
	assert.Equal(t, attest.MockPCRs(3)[2], policy.ExpectedPCRs[2])
	assert.Equal(t, time.Minute, policy.MaxAge)
	assert.Equal(t, uint64(2), policy.MinCPUs)
	assert.Equal(t, uint64(512), policy.MinMemoryMiB)
}

func TestPolicySettingsEmpty(t *testing.T) {
	t.Parallel()
	policy, err := (&PolicySettings{}).Policy()
	require.NoError(t, err)
	assert.Nil(t, policy.ExpectedPCRs)
}

func TestPolicySettingsErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pcr  string
	}{
		{name: "short", pcr: strings.Repeat("00", attest.PCRLength-1)},
		{name: "not hex", pcr: strings.Repeat("zz", attest.PCRLength)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := (&PolicySettings{ExpectedPCRs: []string{tt.pcr}}).Policy()
			require.Error(t, err)
		})
	}
}
