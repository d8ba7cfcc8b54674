package attest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Resources is the resource claim an enclave binds into user_data so verifiers
// can enforce a minimum enclave size.
type Resources struct {
	CPUs      uint64 `cbor:"cpus"       json:"cpus"`
	MemoryMiB uint64 `cbor:"memory_mib" json:"memoryMib"`
}

var resourcesDecMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

// EncodeResources returns the CBOR form of res for use as user_data.
func EncodeResources(res Resources) ([]byte, error) {
	b, err := cbor.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resources: %w", err)
	}
	return b, nil
}

// DecodeResources parses a resource claim produced by EncodeResources.
func DecodeResources(userData []byte) (Resources, error) {
	var res Resources
	if err := resourcesDecMode.Unmarshal(userData, &res); err != nil {
		return Resources{}, fmt.Errorf("failed to unmarshal resources: %w", err)
	}
	return res, nil
}
