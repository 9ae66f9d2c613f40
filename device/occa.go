//go:build cgo

package device

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/notargets/gocca"
)

// OCCA adapts a gocca device to the Device interface so a session can
// schedule transfers around kernels running on a real accelerator backend
// (Serial, OpenMP, CUDA, ...). Kernels on this backend are compiled from
// OKL source rather than bound to a Go callable.
type OCCA struct {
	dev *gocca.OCCADevice
}

// NewOCCA wraps an already-initialized gocca device. Device selection and
// initialization stay with the caller.
func NewOCCA(dev *gocca.OCCADevice) *OCCA {
	return &OCCA{dev: dev}
}

func (o *OCCA) Name() string { return o.dev.Mode() }

func (o *OCCA) Finish() { o.dev.Finish() }

func (o *OCCA) Malloc(bytes int64, src unsafe.Pointer) (Memory, error) {
	if bytes <= 0 {
		return nil, fmt.Errorf("malloc of %d bytes", bytes)
	}
	mem := o.dev.Malloc(bytes, src, nil)
	if mem == nil {
		return nil, fmt.Errorf("device malloc of %d bytes failed", bytes)
	}
	return &occaMemory{mem: mem, bytes: bytes}, nil
}

// BuildKernelFromSource compiles OKL source into a kernel bound to the
// given memory arguments. The kernel entry point must accept the arguments
// in the order given, followed by two trailing ints: the work size and the
// pass index.
func (o *OCCA) BuildKernelFromSource(source, name string, args []Arg) (Kernel, error) {
	var kernel *gocca.OCCAKernel
	var err error

	if o.dev.Mode() == "OpenMP" {
		// Workaround for OCCA bug: OpenMP doesn't get default -O3 flag
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = o.dev.BuildKernelFromString(source, name, props)
	} else {
		kernel, err = o.dev.BuildKernelFromString(source, name, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kernel %s: %w", name, err)
	}
	if kernel == nil {
		return nil, fmt.Errorf("kernel build returned nil for %s", name)
	}

	mems := make([]*gocca.OCCAMemory, 0, len(args))
	for _, a := range args {
		om, ok := a.Mem.(*occaMemory)
		if !ok {
			kernel.Free()
			return nil, fmt.Errorf("kernel %s: argument %s is not OCCA memory", name, a.Name)
		}
		mems = append(mems, om.mem)
	}

	return &occaKernel{name: name, kernel: kernel, dev: o.dev, mems: mems}, nil
}

type occaMemory struct {
	mem   *gocca.OCCAMemory
	bytes int64
}

func (m *occaMemory) CopyFrom(src unsafe.Pointer, bytes int64) {
	m.mem.CopyFrom(src, bytes)
}

func (m *occaMemory) CopyTo(dst unsafe.Pointer, bytes int64) {
	m.mem.CopyTo(dst, bytes)
}

func (m *occaMemory) Bytes() int64 { return m.bytes }

func (m *occaMemory) Free() { m.mem.Free() }

type occaKernel struct {
	name   string
	kernel *gocca.OCCAKernel
	dev    *gocca.OCCADevice
	mems   []*gocca.OCCAMemory
}

func (k *occaKernel) Run(work, passCount int) error {
	if work <= 0 {
		return fmt.Errorf("kernel %s: work size %d", k.name, work)
	}
	if passCount <= 0 {
		return fmt.Errorf("kernel %s: pass count %d", k.name, passCount)
	}
	// Launch args are OKL ints; a work size beyond int32 would truncate.
	if work > math.MaxInt32 || passCount > math.MaxInt32 {
		return fmt.Errorf("kernel %s: work size %d or pass count %d exceeds int32 launch args", k.name, work, passCount)
	}
	for pass := 0; pass < passCount; pass++ {
		args := make([]interface{}, 0, len(k.mems)+2)
		for _, m := range k.mems {
			args = append(args, m)
		}
		args = append(args, int32(work), int32(pass))
		if err := k.kernel.RunWithArgs(args...); err != nil {
			return fmt.Errorf("kernel %s pass %d failed: %w", k.name, pass, err)
		}
		// Passes must not overlap: later passes may read earlier writes.
		k.dev.Finish()
	}
	return nil
}

func (k *occaKernel) Free() { k.kernel.Free() }
