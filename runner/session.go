// Package runner schedules host↔device transfers around kernel executions.
//
// A Session binds a kernel to a fixed set of buffers, analyzes the kernel's
// buffer accesses once, and then decides per execution which buffers must
// move. In implicit mode (the default) a per-buffer dirty-state tracker
// emits the transfers; in explicit mode the caller issues every transfer
// with Put and Get. Multi-pass execution fuses N kernel passes into one
// device-resident run with a single sync at each end.
package runner

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/notargets/shuttle/analysis"
	"github.com/notargets/shuttle/device"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type goKernelBuilder interface {
	BuildKernel(name string, fn device.KernelFunc, args []device.Arg) (device.Kernel, error)
}

type sourceKernelBuilder interface {
	BuildKernelFromSource(source, name string, args []device.Arg) (device.Kernel, error)
}

// Session drives one kernel against one device. A single caller thread
// drives it synchronously; Execute, ExecutePasses, Put and Get all block
// until the device work and any transfers complete. The device mirrors it
// allocates are exclusively its own and are released by Free.
type Session struct {
	dev      device.Device
	id       string
	logger   zerolog.Logger
	kernel   device.Kernel
	buffers  map[string]*Buffer
	names    []string // sorted, for deterministic implicit transfer order
	explicit bool
	executed bool
	err      error

	toDeviceCount map[string]int
	toHostCount   map[string]int
}

// NewSession analyzes the kernel, allocates a device mirror for every
// buffer, and compiles the kernel against those mirrors. The buffer set is
// fixed for the session's lifetime.
func NewSession(dev device.Device, k *Kernel, buffers ...*Buffer) (*Session, error) {
	if err := k.validate(); err != nil {
		return nil, err
	}

	s := &Session{
		dev:           dev,
		id:            uuid.NewString(),
		buffers:       make(map[string]*Buffer, len(buffers)),
		toDeviceCount: make(map[string]int),
		toHostCount:   make(map[string]int),
	}
	s.logger = log.With().
		Str("session", s.id).
		Str("kernel", k.name).
		Str("device", dev.Name()).
		Logger()

	for _, b := range buffers {
		if b.err != nil {
			return nil, b.err
		}
		if _, dup := s.buffers[b.name]; dup {
			return nil, fmt.Errorf("duplicate buffer %s", b.name)
		}
		s.buffers[b.name] = b
		s.names = append(s.names, b.name)
	}
	sort.Strings(s.names)

	// Access modes are computed once and cached for the session's lifetime.
	modes, err := analysis.Analyze(k.root(), k.routines, s.names)
	if err != nil {
		return nil, fmt.Errorf("kernel %s analysis failed: %w", k.name, err)
	}
	for name, res := range modes {
		b := s.buffers[name]
		b.mode = res.Mode
		b.exact = res.Exact
	}

	args := make([]device.Arg, 0, len(s.names))
	for _, name := range s.names {
		b := s.buffers[name]
		mem, err := dev.Malloc(b.bytes(), nil)
		if err != nil {
			s.freeMirrors()
			return nil, fmt.Errorf("failed to allocate mirror for %s: %w", name, err)
		}
		b.mem = mem
		args = append(args, device.Arg{Name: name, Mem: mem, Type: b.dtype})
	}

	s.kernel, err = s.compile(k, args)
	if err != nil {
		s.freeMirrors()
		return nil, err
	}

	s.logger.Debug().Int("buffers", len(s.names)).Msg("session created")
	return s, nil
}

func (s *Session) compile(k *Kernel, args []device.Arg) (device.Kernel, error) {
	if k.fn != nil {
		if bld, ok := s.dev.(goKernelBuilder); ok {
			return bld.BuildKernel(k.name, k.fn, args)
		}
	}
	if k.source != "" {
		if bld, ok := s.dev.(sourceKernelBuilder); ok {
			return bld.BuildKernelFromSource(k.source, k.name, args)
		}
	}
	return nil, fmt.Errorf("device %s cannot build kernel %s", s.dev.Name(), k.name)
}

// SetExplicit switches the session between implicit and explicit transfer
// scheduling. The mode is fixed once the first execution has run; toggling
// after that is rejected.
func (s *Session) SetExplicit(on bool) error {
	if s.executed {
		return fmt.Errorf("transfer mode cannot change after first execution")
	}
	s.explicit = on
	return nil
}

// Explicit reports whether explicit mode is enabled.
func (s *Session) Explicit() bool { return s.explicit }

// Err returns the first error recorded by a chained operation, or nil.
// Chained operations that fail are skipped; subsequent valid operations
// still run.
func (s *Session) Err() error { return s.err }

// Put copies the named buffers host→device immediately, in the order
// given, and marks them synced. In explicit mode this is the only way data
// reaches the device.
func (s *Session) Put(names ...string) *Session {
	for _, name := range names {
		b, ok := s.buffers[name]
		if !ok {
			s.fail(fmt.Errorf("put: unknown buffer %s", name))
			continue
		}
		if err := s.apply(Directive{Buffer: b, Dir: ToDevice, Origin: s.origin()}); err != nil {
			s.fail(err)
			continue
		}
		b.state = Synced
	}
	return s
}

// Get makes the named buffers' host copies current. In implicit mode the
// copy happens only when the mirror is dirty; in explicit mode the copy is
// unconditional, in the order given.
func (s *Session) Get(names ...string) *Session {
	for _, name := range names {
		b, ok := s.buffers[name]
		if !ok {
			s.fail(fmt.Errorf("get: unknown buffer %s", name))
			continue
		}
		if !s.explicit && b.state != DeviceDirty {
			continue
		}
		if err := s.apply(Directive{Buffer: b, Dir: ToHost, Origin: s.origin()}); err != nil {
			s.fail(err)
			continue
		}
		b.state = Synced
	}
	return s
}

// MarkDirty declares that the caller has modified the named buffers' host
// arrays since the last sync. The tracker will re-push them before the
// next execution that reads them. A pending device-side result for the
// same buffer is abandoned.
func (s *Session) MarkDirty(names ...string) *Session {
	for _, name := range names {
		b, ok := s.buffers[name]
		if !ok {
			s.fail(fmt.Errorf("mark dirty: unknown buffer %s", name))
			continue
		}
		if b.temp {
			s.fail(fmt.Errorf("mark dirty: buffer %s is device-only", name))
			continue
		}
		b.state = HostDirty
	}
	return s
}

// Flush syncs every device-dirty buffer back to the host. Equivalent to
// a Get of all transferable buffers, used at the end of an implicit-mode
// sequence.
func (s *Session) Flush() *Session {
	for _, name := range s.names {
		if s.buffers[name].temp {
			continue
		}
		s.Get(name)
	}
	return s
}

// Execute runs a single pass over work items. In implicit mode the tracker
// schedules transfers around the pass; in explicit mode no transfers
// happen at all. The work size must be positive; an invalid request is
// rejected before any device interaction.
func (s *Session) Execute(work int) *Session {
	return s.run(work, 1, false)
}

// ExecutePasses runs passCount passes over work items inside one
// device-resident execution: exactly one host→device sync per read buffer
// before pass 0 and one device→host sync per written buffer after the
// final pass, regardless of passCount. The kernel body observes the pass
// index 0..passCount-1 through its pass context. passCount is fixed at
// call time; a device-computed termination condition cannot use this path
// and must fall back to explicit mode with a host-visible flag.
func (s *Session) ExecutePasses(work, passCount int) *Session {
	return s.run(work, passCount, true)
}

func (s *Session) run(work, passCount int, fused bool) *Session {
	if work <= 0 {
		s.fail(fmt.Errorf("work size must be positive, got %d", work))
		return s
	}
	if passCount <= 0 {
		s.fail(fmt.Errorf("pass count must be positive, got %d", passCount))
		return s
	}

	if !s.explicit {
		var pre []Directive
		if fused {
			pre = s.fusedPre()
		} else {
			pre = s.implicitPre()
		}
		for _, d := range pre {
			if err := s.apply(d); err != nil {
				s.fail(err)
				return s
			}
			d.Buffer.state = Synced
		}
	}

	s.executed = true
	kernelLaunches.Inc()
	if fused {
		fusedPasses.Add(float64(passCount))
	}

	if err := s.kernel.Run(work, passCount); err != nil {
		s.fail(fmt.Errorf("execution failed: %w", err))
		return s
	}
	s.dev.Finish()

	if !s.explicit {
		var post []Directive
		if fused {
			post = s.fusedPost()
		} else {
			post = s.implicitPost()
		}
		for _, d := range post {
			if err := s.apply(d); err != nil {
				s.fail(err)
				return s
			}
			d.Buffer.state = Synced
		}
	}

	s.logger.Debug().Int("work", work).Int("passes", passCount).Bool("fused", fused).Msg("executed")
	return s
}

// Transfers returns how many transfers in the given direction the session
// has performed for a buffer, from either origin.
func (s *Session) Transfers(name string, dir Direction) int {
	if dir == ToDevice {
		return s.toDeviceCount[name]
	}
	return s.toHostCount[name]
}

// State returns the residency state of a buffer, or HostOnly for an
// unknown name.
func (s *Session) State(name string) Residency {
	if b, ok := s.buffers[name]; ok {
		return b.state
	}
	return HostOnly
}

// Buffer returns a bound buffer by name.
func (s *Session) Buffer(name string) (*Buffer, bool) {
	b, ok := s.buffers[name]
	return b, ok
}

// Free releases the compiled kernel and every device mirror. The session
// must not be used afterwards.
func (s *Session) Free() {
	if s.kernel != nil {
		s.kernel.Free()
		s.kernel = nil
	}
	s.freeMirrors()
}

func (s *Session) freeMirrors() {
	for _, b := range s.buffers {
		if b.mem != nil {
			b.mem.Free()
			b.mem = nil
		}
	}
}

// apply performs one transfer directive immediately.
func (s *Session) apply(d Directive) error {
	b := d.Buffer
	var err error
	if d.Dir == ToDevice {
		err = b.pushToDevice()
	} else {
		err = b.pullToHost()
	}
	if err != nil {
		return err
	}

	if d.Dir == ToDevice {
		s.toDeviceCount[b.name]++
		transfersToDevice.Inc()
	} else {
		s.toHostCount[b.name]++
		transfersToHost.Inc()
	}
	transferBytes.Add(float64(b.bytes()))

	s.logger.Debug().
		Str("buffer", b.name).
		Str("direction", d.Dir.String()).
		Str("origin", d.Origin.String()).
		Int64("bytes", b.bytes()).
		Msg("transfer")
	return nil
}

func (s *Session) origin() Origin {
	if s.explicit {
		return Explicit
	}
	return Implicit
}

func (s *Session) fail(err error) {
	s.logger.Warn().Err(err).Msg("operation rejected")
	if s.err == nil {
		s.err = err
	}
}
