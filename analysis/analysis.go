// Package analysis computes per-buffer access modes for a kernel body.
//
// A kernel body is described as a call graph of routines, each declaring
// the buffer accesses it performs and the routines it calls. Analysis sees
// only code reachable from the body; it never sees the host-side call site
// that drives the kernel. The result is sound but not complete: whenever an
// access cannot be classified (an unclassified touch, or a call through a
// site the graph cannot name), the buffer defaults to ReadWrite.
package analysis

import "fmt"

// AccessMode describes how a kernel body uses a buffer within one
// invocation. Read and Write are bits so that modes join by union.
type AccessMode int

const (
	None      AccessMode = 0
	Read      AccessMode = 1 << 0
	Write     AccessMode = 1 << 1
	ReadWrite AccessMode = Read | Write
)

func (m AccessMode) String() string {
	switch m {
	case None:
		return "none"
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "readwrite"
	default:
		return fmt.Sprintf("AccessMode(%d)", int(m))
	}
}

// Reads reports whether the mode includes a read.
func (m AccessMode) Reads() bool { return m&Read != 0 }

// Writes reports whether the mode includes a write.
func (m AccessMode) Writes() bool { return m&Write != 0 }

// Join returns the union of two access modes.
func (m AccessMode) Join(other AccessMode) AccessMode { return m | other }

// Access is one buffer reference observed in a routine. Unclassified
// accesses (mode unknown at the reference site) carry Unknown=true.
type Access struct {
	Buffer  string
	Mode    AccessMode
	Unknown bool
}

// Routine is one node of the kernel call graph: a named body of code with
// its declared buffer accesses and outgoing calls. Routines are built
// fluently, in declaration order:
//
//	analysis.NewRoutine("smooth").Reads("in").Writes("out").Calls("clamp")
type Routine struct {
	Name     string
	Accesses []Access
	CallList []string

	// IndirectCalls marks a call through a site the graph cannot name
	// (function value, dispatch table). The callee is invisible, so every
	// bound buffer must be assumed touched.
	IndirectCalls bool
}

// NewRoutine creates an empty routine with the given name.
func NewRoutine(name string) *Routine {
	return &Routine{Name: name}
}

// Reads declares read accesses to the named buffers.
func (r *Routine) Reads(buffers ...string) *Routine {
	for _, b := range buffers {
		r.Accesses = append(r.Accesses, Access{Buffer: b, Mode: Read})
	}
	return r
}

// Writes declares write accesses to the named buffers.
func (r *Routine) Writes(buffers ...string) *Routine {
	for _, b := range buffers {
		r.Accesses = append(r.Accesses, Access{Buffer: b, Mode: Write})
	}
	return r
}

// ReadsWrites declares read-modify-write accesses to the named buffers.
func (r *Routine) ReadsWrites(buffers ...string) *Routine {
	for _, b := range buffers {
		r.Accesses = append(r.Accesses, Access{Buffer: b, Mode: ReadWrite})
	}
	return r
}

// Touches declares accesses whose mode cannot be classified, e.g. a buffer
// reference flowing into a conditional path the analysis cannot resolve.
// Touched buffers analyze as ReadWrite and are not considered proven.
func (r *Routine) Touches(buffers ...string) *Routine {
	for _, b := range buffers {
		r.Accesses = append(r.Accesses, Access{Buffer: b, Mode: ReadWrite, Unknown: true})
	}
	return r
}

// Calls declares direct calls to other routines in the graph.
func (r *Routine) Calls(names ...string) *Routine {
	r.CallList = append(r.CallList, names...)
	return r
}

// Indirect marks this routine as containing at least one indirect call.
func (r *Routine) Indirect() *Routine {
	r.IndirectCalls = true
	return r
}

// Result is the analyzed access mode for one buffer. Exact is false when
// the mode was reached conservatively: an unclassified access, or an
// indirect call anywhere in the reachable graph. Inexact buffers cannot be
// trusted to stay clean between invocations.
type Result struct {
	Mode  AccessMode
	Exact bool
}

// Analyze walks the call graph from the root routine to a fixed point and
// returns the joined access mode for every buffer in bound. Buffers never
// referenced analyze as {None, true}. An unknown root or call target is an
// error: the graph is the whole world the analyzer is allowed to see, so a
// dangling name means the kernel description is incomplete.
func Analyze(root string, routines []*Routine, bound []string) (map[string]Result, error) {
	index := make(map[string]*Routine, len(routines))
	for _, r := range routines {
		if r.Name == "" {
			return nil, fmt.Errorf("routine with empty name")
		}
		if _, dup := index[r.Name]; dup {
			return nil, fmt.Errorf("duplicate routine %s", r.Name)
		}
		index[r.Name] = r
	}

	if _, ok := index[root]; !ok {
		return nil, fmt.Errorf("root routine %s not defined", root)
	}

	// Reachability: plain worklist, visited set breaks call cycles.
	visited := make(map[string]bool)
	work := []string{root}
	indirect := false
	var reachable []*Routine
	for len(work) > 0 {
		name := work[len(work)-1]
		work = work[:len(work)-1]
		if visited[name] {
			continue
		}
		visited[name] = true

		r, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("routine %s calls undefined routine %s", callerOf(index, visited, name), name)
		}
		reachable = append(reachable, r)
		indirect = indirect || r.IndirectCalls
		work = append(work, r.CallList...)
	}

	results := make(map[string]Result, len(bound))
	for _, b := range bound {
		results[b] = Result{Mode: None, Exact: true}
	}

	for _, r := range reachable {
		for _, a := range r.Accesses {
			res, ok := results[a.Buffer]
			if !ok {
				return nil, fmt.Errorf("routine %s accesses unbound buffer %s", r.Name, a.Buffer)
			}
			res.Mode = res.Mode.Join(a.Mode)
			if a.Unknown {
				res.Exact = false
			}
			results[a.Buffer] = res
		}
	}

	// An indirect call may touch anything: force every bound buffer to
	// conservative ReadWrite.
	if indirect {
		for b := range results {
			results[b] = Result{Mode: ReadWrite, Exact: false}
		}
	}

	return results, nil
}

// callerOf finds a visited routine that names target in its call list, for
// error reporting only.
func callerOf(index map[string]*Routine, visited map[string]bool, target string) string {
	for name, r := range index {
		if !visited[name] {
			continue
		}
		for _, c := range r.CallList {
			if c == target {
				return name
			}
		}
	}
	return "?"
}
