package app

import (
	"sync"
	"testing"

	"github.com/dkeye/Rendezvous/internal/core"
	"github.com/dkeye/Rendezvous/internal/domain"
	"github.com/stretchr/testify/require"
)

// fakeConn records every frame it accepts. full simulates a saturated buffer.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrConnClosed
	}
	if f.full {
		return core.ErrBackpressure
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) envelopes(t *testing.T) []core.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Envelope, 0, len(f.frames))
	for _, fr := range f.frames {
		env, err := core.DecodeEnvelope(fr)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func (f *fakeConn) types(t *testing.T) []core.EventType {
	t.Helper()
	var out []core.EventType
	for _, env := range f.envelopes(t) {
		out = append(out, env.Type)
	}
	return out
}

func (f *fakeConn) last(t *testing.T) core.Envelope {
	t.Helper()
	envs := f.envelopes(t)
	require.NotEmpty(t, envs, "no frames received")
	return envs[len(envs)-1]
}

func (f *fakeConn) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func register(t *testing.T, reg *Registry, id domain.ConnID) *fakeConn {
	t.Helper()
	fc := &fakeConn{}
	require.NoError(t, reg.Register(id, fc, nil))
	return fc
}
