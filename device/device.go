// Package device abstracts the execution backend a kernel session drives:
// memory allocation, host↔device copies, and repeated kernel launches. Two
// backends are provided: an in-process serial Host backend that executes Go
// kernel callables against mirror memory, and an OCCA adapter over gocca
// for real accelerator devices.
package device

import (
	"fmt"
	"unsafe"
)

// DataType identifies the element type of a buffer.
type DataType int

const (
	Float32 DataType = iota + 1
	Float64
	Int32
	Int64
)

// SizeOf returns the size in bytes of one element of the data type, or 0
// for an unknown type. A zero size propagates into a zero-byte allocation
// request, which every backend rejects, so a miswired type surfaces as an
// error instead of a mis-sized transfer.
func SizeOf(dt DataType) int64 {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	default:
		return 0
	}
}

func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("DataType(%d)", int(dt))
	}
}

// Memory is one device-resident allocation, the mirror of a host buffer.
// Copies are synchronous and complete before returning.
type Memory interface {
	// CopyFrom copies bytes from host memory at src into the allocation.
	CopyFrom(src unsafe.Pointer, bytes int64)

	// CopyTo copies bytes from the allocation into host memory at dst.
	CopyTo(dst unsafe.Pointer, bytes int64)

	// Bytes returns the allocation size.
	Bytes() int64

	// Free releases the allocation.
	Free()
}

// Kernel is a compiled kernel bound to its device memory arguments.
type Kernel interface {
	// Run executes the kernel body passCount times over a work range of
	// work items. Passes run strictly sequentially: pass k+1 never begins
	// before pass k's writes are complete. No transfers happen inside Run.
	Run(work, passCount int) error

	// Free releases the compiled kernel.
	Free()
}

// Device is the narrow surface a session needs from a backend.
type Device interface {
	// Name identifies the backend ("host", "Serial", "CUDA", ...).
	Name() string

	// Malloc allocates bytes of device memory. If src is non-nil the
	// allocation is initialized from it, otherwise contents are undefined.
	Malloc(bytes int64, src unsafe.Pointer) (Memory, error)

	// Finish blocks until all queued device work has completed.
	Finish()
}

// Arg names one device memory argument of a kernel, with its element type.
type Arg struct {
	Name string
	Mem  Memory
	Type DataType
}
