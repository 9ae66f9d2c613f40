//go:build cgo

package device

import (
	"fmt"

	"github.com/notargets/gocca"
)

// NewOCCAFromProps creates an OCCA backend, preferring parallel modes and
// falling back to Serial. Useful for examples and benchmarks; production
// callers that care about device selection should initialize gocca
// themselves and use NewOCCA.
func NewOCCAFromProps() (*OCCA, error) {
	backends := []string{
		`{"mode": "OpenMP"}`,
		`{"mode": "CUDA", "device_id": 0}`,
		`{"mode": "Serial"}`,
	}

	for _, props := range backends {
		dev, err := gocca.NewDevice(props)
		if err == nil {
			return NewOCCA(dev), nil
		}
	}
	return nil, fmt.Errorf("no OCCA backend available")
}
