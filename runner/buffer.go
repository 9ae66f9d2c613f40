package runner

import (
	"fmt"
	"unsafe"

	"github.com/notargets/shuttle/analysis"
	"github.com/notargets/shuttle/device"
	"gonum.org/v1/gonum/mat"
)

// Residency is the sync state of a buffer's host copy and device mirror.
type Residency int

const (
	// HostOnly: data exists on the host, mirror never populated.
	HostOnly Residency = iota
	// DeviceOnly: device-resident temporary, no host copy at all.
	DeviceOnly
	// Synced: host copy and mirror hold the same contents.
	Synced
	// HostDirty: host copy modified since last sync to device.
	HostDirty
	// DeviceDirty: mirror modified since last sync to host.
	DeviceDirty
)

func (r Residency) String() string {
	switch r {
	case HostOnly:
		return "host-only"
	case DeviceOnly:
		return "device-only"
	case Synced:
		return "synced"
	case HostDirty:
		return "host-dirty"
	case DeviceDirty:
		return "device-dirty"
	default:
		return fmt.Sprintf("Residency(%d)", int(r))
	}
}

// Buffer describes one host array and its device mirror. The host array
// stays owned by the caller; the buffer exclusively owns the mirror's
// lifecycle and the dirty-state bookkeeping. Access mode is filled in by
// session analysis and fixed for the buffer's lifetime.
type Buffer struct {
	name   string
	host   interface{}
	matrix *mat.Dense
	temp   bool

	dtype device.DataType
	elems int64

	hostPtr unsafe.Pointer
	scratch []float64 // column-major staging for matrix bindings

	mode  analysis.AccessMode
	exact bool
	state Residency
	mem   device.Memory

	err error // deferred bind error, surfaced at session construction
}

// Bind creates a buffer over a caller-owned slice. The element type and
// size are inferred from the slice. Supported: []float32, []float64,
// []int32, []int64.
func Bind(name string, host interface{}) *Buffer {
	b := &Buffer{name: name, host: host, state: HostOnly}
	switch h := host.(type) {
	case []float32:
		b.dtype = device.Float32
		b.elems = int64(len(h))
		if len(h) > 0 {
			b.hostPtr = unsafe.Pointer(&h[0])
		}
	case []float64:
		b.dtype = device.Float64
		b.elems = int64(len(h))
		if len(h) > 0 {
			b.hostPtr = unsafe.Pointer(&h[0])
		}
	case []int32:
		b.dtype = device.Int32
		b.elems = int64(len(h))
		if len(h) > 0 {
			b.hostPtr = unsafe.Pointer(&h[0])
		}
	case []int64:
		b.dtype = device.Int64
		b.elems = int64(len(h))
		if len(h) > 0 {
			b.hostPtr = unsafe.Pointer(&h[0])
		}
	default:
		b.err = fmt.Errorf("buffer %s: unsupported host type %T", name, host)
		return b
	}
	if b.elems == 0 {
		b.err = fmt.Errorf("buffer %s: empty host slice", name)
	}
	return b
}

// BindMatrix creates a buffer over a gonum dense matrix. The mirror holds
// the matrix in column-major order; kernels index it as col*rows+row.
func BindMatrix(name string, m *mat.Dense) *Buffer {
	b := &Buffer{name: name, matrix: m, state: HostOnly, dtype: device.Float64}
	if m == nil {
		b.err = fmt.Errorf("buffer %s: nil matrix", name)
		return b
	}
	rows, cols := m.Dims()
	b.elems = int64(rows * cols)
	if b.elems == 0 {
		b.err = fmt.Errorf("buffer %s: empty matrix", name)
		return b
	}
	b.scratch = make([]float64, b.elems)
	b.hostPtr = unsafe.Pointer(&b.scratch[0])
	return b
}

// Temp creates a device-only scratch buffer. It has no host side and never
// participates in transfers.
func Temp(name string, dtype device.DataType, elems int) *Buffer {
	b := &Buffer{name: name, temp: true, dtype: dtype, elems: int64(elems), state: DeviceOnly}
	if elems <= 0 {
		b.err = fmt.Errorf("buffer %s: temp size %d", name, elems)
	}
	return b
}

// Name returns the buffer's name.
func (b *Buffer) Name() string { return b.name }

// Mode returns the access mode computed by session analysis.
func (b *Buffer) Mode() analysis.AccessMode { return b.mode }

// State returns the current residency state.
func (b *Buffer) State() Residency { return b.state }

// Elems returns the number of logical elements.
func (b *Buffer) Elems() int64 { return b.elems }

// Type returns the element type.
func (b *Buffer) Type() device.DataType { return b.dtype }

func (b *Buffer) bytes() int64 { return b.elems * device.SizeOf(b.dtype) }

// pushToDevice copies host contents into the mirror.
func (b *Buffer) pushToDevice() error {
	if b.temp {
		return fmt.Errorf("buffer %s is device-only", b.name)
	}
	if b.matrix != nil {
		rows, cols := b.matrix.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				b.scratch[j*rows+i] = b.matrix.At(i, j)
			}
		}
	}
	b.mem.CopyFrom(b.hostPtr, b.bytes())
	return nil
}

// pullToHost copies mirror contents back into the host array.
func (b *Buffer) pullToHost() error {
	if b.temp {
		return fmt.Errorf("buffer %s is device-only", b.name)
	}
	b.mem.CopyTo(b.hostPtr, b.bytes())
	if b.matrix != nil {
		rows, cols := b.matrix.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				b.matrix.Set(i, j, b.scratch[j*rows+i])
			}
		}
	}
	return nil
}
