//go:build cgo

package device

import (
	"math"
	"testing"
)

func TestOCCAKernelRejectsOversizedLaunchArgs(t *testing.T) {
	// The launch-arg range check runs before any device interaction, so a
	// zero-value kernel is enough to exercise it.
	k := &occaKernel{name: "big"}
	if err := k.Run(math.MaxInt32+1, 1); err == nil {
		t.Error("expected error for work size beyond int32")
	}
	if err := k.Run(1, math.MaxInt32+1); err == nil {
		t.Error("expected error for pass count beyond int32")
	}
}
