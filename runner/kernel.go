package runner

import (
	"fmt"

	"github.com/notargets/shuttle/analysis"
	"github.com/notargets/shuttle/device"
)

// Kernel pairs an executable kernel body with its analyzable form: the call
// graph of routines the body comprises. The first routine is the body
// itself; the rest are its callees. The executable side is either a Go
// callable (Host backend) or OKL source (OCCA backend); the session picks
// whichever the device can build.
type Kernel struct {
	name     string
	fn       device.KernelFunc
	source   string
	routines []*analysis.Routine
}

// NewKernel creates a kernel from a Go callable. At least the body routine
// must be supplied:
//
//	runner.NewKernel("scale", fn,
//		analysis.NewRoutine("scale").Reads("in").Writes("out"))
func NewKernel(name string, fn device.KernelFunc, routines ...*analysis.Routine) *Kernel {
	return &Kernel{name: name, fn: fn, routines: routines}
}

// Source attaches OKL source so the kernel can also run on an OCCA device.
func (k *Kernel) Source(source string) *Kernel {
	k.source = source
	return k
}

// Name returns the kernel name.
func (k *Kernel) Name() string { return k.name }

func (k *Kernel) validate() error {
	if k.name == "" {
		return fmt.Errorf("kernel has no name")
	}
	if len(k.routines) == 0 {
		return fmt.Errorf("kernel %s has no routines - the first routine is the kernel body", k.name)
	}
	if k.fn == nil && k.source == "" {
		return fmt.Errorf("kernel %s has neither a callable nor source", k.name)
	}
	return nil
}

func (k *Kernel) root() string { return k.routines[0].Name }
