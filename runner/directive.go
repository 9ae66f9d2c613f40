package runner

import "fmt"

// Direction of a transfer directive.
type Direction int

const (
	ToDevice Direction = iota
	ToHost
)

func (d Direction) String() string {
	if d == ToDevice {
		return "to-device"
	}
	return "to-host"
}

// Origin records who requested a transfer: the implicit tracker or the
// caller.
type Origin int

const (
	Implicit Origin = iota
	Explicit
)

func (o Origin) String() string {
	if o == Implicit {
		return "implicit"
	}
	return "explicit"
}

// Directive is one scheduled transfer. Directives are computed and consumed
// per invocation; they are never persisted or reordered.
type Directive struct {
	Buffer *Buffer
	Dir    Direction
	Origin Origin
}

func (d Directive) String() string {
	return fmt.Sprintf("%s %s (%s)", d.Buffer.Name(), d.Dir, d.Origin)
}
