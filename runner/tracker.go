package runner

// Implicit-mode transfer scheduling. Directives are computed fresh for
// every execution from each buffer's access mode and residency state, and
// are consumed immediately; nothing here persists across invocations
// except the residency states themselves.

// implicitPre schedules host→device transfers before a single-pass
// execution. A buffer the kernel reads is pushed when its host copy is the
// fresh one (HostOnly or HostDirty), and always when its access mode was
// only reached conservatively, since then the analysis could not prove the
// host copy stayed clean between invocations. Re-pushing a clean buffer is
// a performance defect, never a correctness one; fused execution exists so
// callers can escape it.
func (s *Session) implicitPre() []Directive {
	var out []Directive
	for _, name := range s.names {
		b := s.buffers[name]
		if b.temp || !b.mode.Reads() {
			continue
		}
		if b.state == HostOnly || b.state == HostDirty || !b.exact {
			out = append(out, Directive{Buffer: b, Dir: ToDevice, Origin: Implicit})
		}
	}
	return out
}

// implicitPost handles residency after a single-pass execution. A written
// buffer with a proven access mode holds its result only on the device;
// the copy back happens lazily, when the caller observes it with Get or
// Flush. A conservatively-analyzed buffer is synced back eagerly instead:
// its host copy must be current before the next invocation re-pushes it,
// or the re-push would clobber the device result with stale data.
func (s *Session) implicitPost() []Directive {
	var out []Directive
	for _, name := range s.names {
		b := s.buffers[name]
		if b.temp || !b.mode.Writes() {
			continue
		}
		if b.exact {
			b.state = DeviceDirty
			continue
		}
		out = append(out, Directive{Buffer: b, Dir: ToHost, Origin: Implicit})
	}
	return out
}

// fusedPre schedules the single start-of-session sync of a multi-pass
// execution: at most one host→device transfer per read buffer, regardless
// of how many passes follow. A DeviceDirty buffer is never pushed; its
// host copy is the stale one, and pushing it would overwrite a result
// that exists only on the device.
func (s *Session) fusedPre() []Directive {
	var out []Directive
	for _, name := range s.names {
		b := s.buffers[name]
		if b.temp || !b.mode.Reads() || b.state == DeviceDirty {
			continue
		}
		out = append(out, Directive{Buffer: b, Dir: ToDevice, Origin: Implicit})
	}
	return out
}

// fusedPost schedules the single end-of-session sync: one device→host
// transfer per written buffer. Afterwards every involved buffer is Synced.
func (s *Session) fusedPost() []Directive {
	var out []Directive
	for _, name := range s.names {
		b := s.buffers[name]
		if b.temp || !b.mode.Writes() {
			continue
		}
		out = append(out, Directive{Buffer: b, Dir: ToHost, Origin: Implicit})
	}
	return out
}
