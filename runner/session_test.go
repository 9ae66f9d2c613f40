package runner

import (
	"testing"

	"github.com/notargets/shuttle/analysis"
	"github.com/notargets/shuttle/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// addOne builds a kernel computing out[i] = in[i] + 1.
func addOne() *Kernel {
	fn := func(p *device.Pass, gid int) {
		p.Float64("out")[gid] = p.Float64("in")[gid] + 1
	}
	return NewKernel("addOne", fn,
		analysis.NewRoutine("addOne").Reads("in").Writes("out"))
}

func TestSessionRoundTripLaw(t *testing.T) {
	in := []float64{1, 2, 3, 4}
	out := make([]float64, 4)

	s, err := NewSession(device.NewHost(), addOne(), Bind("in", in), Bind("out", out))
	require.NoError(t, err)
	defer s.Free()

	before := append([]float64(nil), in...)
	s.Put("in").Get("in")
	require.NoError(t, s.Err())
	assert.Equal(t, before, in, "put;get on an unmodified buffer must not change host content")
}

func TestImplicitSingleTransferForProvenReadOnly(t *testing.T) {
	in := []float64{1, 2, 3, 4}
	out := make([]float64, 4)

	s, err := NewSession(device.NewHost(), addOne(), Bind("in", in), Bind("out", out))
	require.NoError(t, err)
	defer s.Free()

	for i := 0; i < 5; i++ {
		s.Execute(4)
	}
	require.NoError(t, s.Err())

	assert.Equal(t, 1, s.Transfers("in", ToDevice),
		"proven read-only buffer must be pushed exactly once across repeated invocations")
	assert.Equal(t, 0, s.Transfers("in", ToHost))

	// Written results stay on the device until observed.
	assert.Equal(t, DeviceDirty, s.State("out"))
	assert.Equal(t, 0, s.Transfers("out", ToHost))

	s.Get("out")
	require.NoError(t, s.Err())
	assert.Equal(t, 1, s.Transfers("out", ToHost))
	assert.Equal(t, Synced, s.State("out"))
	assert.Equal(t, []float64{2, 3, 4, 5}, out)
}

func TestConservativeModeRetransfersEveryInvocation(t *testing.T) {
	cfg := []float64{7, 7, 7, 7}

	// The access to cfg cannot be classified, so analysis defaults it to
	// ReadWrite without proof and the tracker re-pushes it every time.
	fn := func(p *device.Pass, gid int) {
		p.Float64("cfg")[gid] += 1
	}
	k := NewKernel("bump", fn,
		analysis.NewRoutine("bump").Touches("cfg"))

	s, err := NewSession(device.NewHost(), k, Bind("cfg", cfg))
	require.NoError(t, err)
	defer s.Free()

	const invocations = 4
	for i := 0; i < invocations; i++ {
		s.Execute(4)
	}
	require.NoError(t, s.Err())

	assert.Equal(t, invocations, s.Transfers("cfg", ToDevice),
		"conservative buffer is pushed once per invocation")
	assert.Equal(t, invocations, s.Transfers("cfg", ToHost),
		"conservative buffer is synced back once per invocation")
	assert.Equal(t, []float64{11, 11, 11, 11}, cfg,
		"eager sync keeps the host copy current between conservative invocations")
}

func TestMarkDirtyForcesRepush(t *testing.T) {
	in := []float64{1, 2, 3, 4}
	out := make([]float64, 4)

	s, err := NewSession(device.NewHost(), addOne(), Bind("in", in), Bind("out", out))
	require.NoError(t, err)
	defer s.Free()

	s.Execute(4).Execute(4)
	require.NoError(t, s.Err())
	require.Equal(t, 1, s.Transfers("in", ToDevice))

	in[0] = 100
	s.MarkDirty("in").Execute(4).Get("out")
	require.NoError(t, s.Err())

	assert.Equal(t, 2, s.Transfers("in", ToDevice))
	assert.Equal(t, 101.0, out[0])
}

func TestInvalidRequestsRejectedBeforeDeviceWork(t *testing.T) {
	in := []float64{1}
	out := make([]float64, 1)
	ran := false

	fn := func(p *device.Pass, gid int) {
		ran = true
		p.Float64("out")[gid] = p.Float64("in")[gid]
	}
	k := NewKernel("copy", fn,
		analysis.NewRoutine("copy").Reads("in").Writes("out"))

	s, err := NewSession(device.NewHost(), k, Bind("in", in), Bind("out", out))
	require.NoError(t, err)
	defer s.Free()

	t.Run("ZeroWork", func(t *testing.T) {
		s.Execute(0)
		assert.Error(t, s.Err())
		assert.False(t, ran, "kernel must not run for a rejected request")
		assert.Equal(t, 0, s.Transfers("in", ToDevice), "no transfer may precede validation")
		assert.Equal(t, HostOnly, s.State("in"))
	})

	t.Run("ZeroPasses", func(t *testing.T) {
		s.ExecutePasses(1, 0)
		assert.False(t, ran)
		assert.Equal(t, 0, s.Transfers("in", ToDevice))
	})

	t.Run("NegativeWork", func(t *testing.T) {
		s.ExecutePasses(-3, 2)
		assert.False(t, ran)
	})
}

func TestExplicitModeToggleRejectedAfterFirstExecution(t *testing.T) {
	in := []float64{1, 2}
	out := make([]float64, 2)

	s, err := NewSession(device.NewHost(), addOne(), Bind("in", in), Bind("out", out))
	require.NoError(t, err)
	defer s.Free()

	require.NoError(t, s.SetExplicit(true))
	require.NoError(t, s.SetExplicit(false), "toggling before the first execution is allowed")

	s.Execute(2)
	require.NoError(t, s.Err())

	assert.Error(t, s.SetExplicit(true))
	assert.Error(t, s.SetExplicit(false))
}

func TestExplicitModeOmittedPutLeavesStaleData(t *testing.T) {
	in := []float64{10, 20, 30}
	out := make([]float64, 3)

	s, err := NewSession(device.NewHost(), addOne(), Bind("in", in), Bind("out", out))
	require.NoError(t, err)
	defer s.Free()

	require.NoError(t, s.SetExplicit(true))

	s.Put("in").Execute(3).Get("out")
	require.NoError(t, s.Err())
	require.Equal(t, []float64{11, 21, 31}, out)

	// Host-side update without the required Put: the kernel must keep
	// observing the stale device copy. No fault is raised anywhere; the
	// bug is visible only by comparing contents.
	in[0], in[1], in[2] = 100, 200, 300
	s.Execute(3).Get("out")
	require.NoError(t, s.Err())
	assert.Equal(t, []float64{11, 21, 31}, out,
		"kernel observed the stale device copy, not the updated host array")

	// The forgotten transfer, once issued, repairs the sequence.
	s.Put("in").Execute(3).Get("out")
	require.NoError(t, s.Err())
	assert.Equal(t, []float64{101, 201, 301}, out)
}

func TestExplicitModeSuppressesImplicitTransfers(t *testing.T) {
	in := []float64{5}
	out := make([]float64, 1)

	s, err := NewSession(device.NewHost(), addOne(), Bind("in", in), Bind("out", out))
	require.NoError(t, err)
	defer s.Free()

	require.NoError(t, s.SetExplicit(true))

	s.Execute(1)
	require.NoError(t, s.Err())
	assert.Equal(t, 0, s.Transfers("in", ToDevice), "execute must not emit implicit directives")
	assert.Equal(t, 0, s.Transfers("out", ToHost))
}

func TestFluentChainingReturnsSameSession(t *testing.T) {
	in := []float64{1}
	out := make([]float64, 1)

	s, err := NewSession(device.NewHost(), addOne(), Bind("in", in), Bind("out", out))
	require.NoError(t, err)
	defer s.Free()

	chained := s.Put("in").Execute(1).Get("out")
	require.NoError(t, s.Err())
	assert.Same(t, s, chained)
	assert.Equal(t, []float64{2}, out)
}

func TestUnknownBufferNamesAreRejected(t *testing.T) {
	in := []float64{1}
	out := make([]float64, 1)

	s, err := NewSession(device.NewHost(), addOne(), Bind("in", in), Bind("out", out))
	require.NoError(t, err)
	defer s.Free()

	s.Put("nope")
	assert.Error(t, s.Err())
}

func TestFlushSyncsAllDirtyBuffers(t *testing.T) {
	in := []float64{1, 2}
	out := make([]float64, 2)

	s, err := NewSession(device.NewHost(), addOne(), Bind("in", in), Bind("out", out))
	require.NoError(t, err)
	defer s.Free()

	s.Execute(2)
	require.Equal(t, DeviceDirty, s.State("out"))

	s.Flush()
	require.NoError(t, s.Err())
	assert.Equal(t, Synced, s.State("out"))
	assert.Equal(t, []float64{2, 3}, out)
}

func TestSessionConstructionErrors(t *testing.T) {
	t.Run("BadBuffer", func(t *testing.T) {
		_, err := NewSession(device.NewHost(), addOne(),
			Bind("in", "not a slice"), Bind("out", make([]float64, 1)))
		require.Error(t, err)
	})

	t.Run("DuplicateBuffer", func(t *testing.T) {
		_, err := NewSession(device.NewHost(), addOne(),
			Bind("in", make([]float64, 1)), Bind("in", make([]float64, 1)))
		require.Error(t, err)
	})

	t.Run("NoRoutines", func(t *testing.T) {
		k := NewKernel("bare", func(p *device.Pass, gid int) {})
		_, err := NewSession(device.NewHost(), k)
		require.Error(t, err)
	})

	t.Run("KernelTouchesUnboundBuffer", func(t *testing.T) {
		k := NewKernel("stray", func(p *device.Pass, gid int) {},
			analysis.NewRoutine("stray").Reads("ghost"))
		_, err := NewSession(device.NewHost(), k)
		require.Error(t, err)
	})
}
