package device

import (
	"fmt"
	"unsafe"
)

// KernelFunc is the executable form of a kernel body on the Host backend:
// one call per work item per pass. The pass context carries the pass index
// and typed views of the device mirrors; the function must touch buffers
// only through those views, never through the host arrays they mirror.
type KernelFunc func(p *Pass, gid int)

// Host is an in-process serial backend. Mirror memory lives in ordinary Go
// allocations and kernels are Go callables, but the transfer discipline is
// identical to a real device: kernels see only mirror contents, so a host
// array is invisible to them until it has been copied in.
type Host struct{}

// NewHost creates a Host backend.
func NewHost() *Host {
	return &Host{}
}

func (h *Host) Name() string { return "host" }

// Finish is a no-op: host execution is synchronous.
func (h *Host) Finish() {}

// Malloc allocates bytes of mirror memory, initialized from src when src is
// non-nil. Backing storage is []uint64 so every element type view is
// aligned.
func (h *Host) Malloc(bytes int64, src unsafe.Pointer) (Memory, error) {
	if bytes <= 0 {
		return nil, fmt.Errorf("malloc of %d bytes", bytes)
	}
	m := &hostMemory{
		raw:   make([]uint64, (bytes+7)/8),
		bytes: bytes,
	}
	if src != nil {
		m.CopyFrom(src, bytes)
	}
	return m, nil
}

// BuildKernel binds a kernel callable to its memory arguments. Every
// argument must be Host memory.
func (h *Host) BuildKernel(name string, fn KernelFunc, args []Arg) (Kernel, error) {
	if fn == nil {
		return nil, fmt.Errorf("kernel %s has no callable body", name)
	}
	views := make(map[string]hostView, len(args))
	for _, a := range args {
		hm, ok := a.Mem.(*hostMemory)
		if !ok {
			return nil, fmt.Errorf("kernel %s: argument %s is not host memory", name, a.Name)
		}
		views[a.Name] = hostView{mem: hm, dtype: a.Type}
	}
	return &hostKernel{name: name, fn: fn, views: views}, nil
}

type hostMemory struct {
	raw   []uint64
	bytes int64
}

func (m *hostMemory) view() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&m.raw[0])), m.bytes)
}

func (m *hostMemory) CopyFrom(src unsafe.Pointer, bytes int64) {
	copy(m.view()[:bytes], unsafe.Slice((*byte)(src), bytes))
}

func (m *hostMemory) CopyTo(dst unsafe.Pointer, bytes int64) {
	copy(unsafe.Slice((*byte)(dst), bytes), m.view()[:bytes])
}

func (m *hostMemory) Bytes() int64 { return m.bytes }

func (m *hostMemory) Free() { m.raw = nil }

type hostView struct {
	mem   *hostMemory
	dtype DataType
}

type hostKernel struct {
	name  string
	fn    KernelFunc
	views map[string]hostView
}

func (k *hostKernel) Run(work, passCount int) error {
	if work <= 0 {
		return fmt.Errorf("kernel %s: work size %d", k.name, work)
	}
	if passCount <= 0 {
		return fmt.Errorf("kernel %s: pass count %d", k.name, passCount)
	}
	for pass := 0; pass < passCount; pass++ {
		p := &Pass{id: pass, count: passCount, work: work, views: k.views}
		for gid := 0; gid < work; gid++ {
			k.fn(p, gid)
		}
	}
	return nil
}

func (k *hostKernel) Free() { k.views = nil }

// Pass is the per-invocation execution context handed to a kernel callable.
// It exposes the current pass index read-only and typed views of the device
// mirrors. A Pass is valid only for the duration of the call that received
// it.
type Pass struct {
	id    int
	count int
	work  int
	views map[string]hostView
}

// ID returns the 0-based pass index, incremented by one per pass and reset
// at the start of each multi-pass run.
func (p *Pass) ID() int { return p.id }

// Count returns the total number of passes in the current run.
func (p *Pass) Count() int { return p.count }

// Work returns the work range of the current run.
func (p *Pass) Work() int { return p.work }

// Float64 returns the float64 view of a mirror. A missing name or a type
// mismatch panics: inside a kernel body that is the moral equivalent of an
// out-of-bounds device access, not a recoverable condition.
func (p *Pass) Float64(name string) []float64 {
	v := p.lookup(name, Float64)
	return unsafe.Slice((*float64)(unsafe.Pointer(&v.mem.raw[0])), v.mem.bytes/8)
}

// Float32 returns the float32 view of a mirror.
func (p *Pass) Float32(name string) []float32 {
	v := p.lookup(name, Float32)
	return unsafe.Slice((*float32)(unsafe.Pointer(&v.mem.raw[0])), v.mem.bytes/4)
}

// Int32 returns the int32 view of a mirror.
func (p *Pass) Int32(name string) []int32 {
	v := p.lookup(name, Int32)
	return unsafe.Slice((*int32)(unsafe.Pointer(&v.mem.raw[0])), v.mem.bytes/4)
}

// Int64 returns the int64 view of a mirror.
func (p *Pass) Int64(name string) []int64 {
	v := p.lookup(name, Int64)
	return unsafe.Slice((*int64)(unsafe.Pointer(&v.mem.raw[0])), v.mem.bytes/8)
}

func (p *Pass) lookup(name string, want DataType) hostView {
	v, ok := p.views[name]
	if !ok {
		panic(fmt.Sprintf("kernel references unbound buffer %s", name))
	}
	if v.dtype != want {
		panic(fmt.Sprintf("buffer %s is %s, viewed as %s", name, v.dtype, want))
	}
	return v
}
