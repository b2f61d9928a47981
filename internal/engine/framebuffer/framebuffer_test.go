package framebuffer

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/nativegfx/internal/engine/clearstate"
	"github.com/Faultbox/nativegfx/internal/gpu"
)

func newTestManager(t *testing.T, maxViews uint16) (*Manager, *gpu.Recorder) {
	t.Helper()
	dev := gpu.NewRecorder(gpu.Caps{MaxViews: maxViews}, 800, 600)
	m := NewManager(dev, 800, 600)
	t.Cleanup(m.Close)
	return m, dev
}

func newTarget(t *testing.T, m *Manager, dev *gpu.Recorder, w, h uint16, opts ...Option) *Data {
	t.Helper()
	fb, tex, err := dev.CreateFrameBuffer(w, h, true)
	require.NoError(t, err)
	return m.CreateNew(fb, w, h, append(opts, WithColorTexture(tex))...)
}

// panicErr runs fn and returns the error it panicked with, if any.
func panicErr(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	fn()
	return nil
}

func TestBackBufferBoundOnCreate(t *testing.T) {
	m, _ := newTestManager(t, 16)

	bb := m.BackBuffer()
	require.NotNil(t, bb)
	assert.Same(t, bb, m.Bound())
	assert.True(t, bb.IsDefaultBackBuffer())
	assert.True(t, bb.ActAsBackBuffer())
	assert.False(t, m.IsRenderingToTarget())
	assert.Equal(t, gpu.ViewID(0), bb.ViewID())
	assert.Equal(t, 1, m.Len())
}

func TestViewIDsStrictlyIncreaseUntilLimit(t *testing.T) {
	const maxViews = 8
	m, dev := newTestManager(t, maxViews)

	last := m.BackBuffer().ViewID()
	for i := 1; i < maxViews; i++ {
		d := newTarget(t, m, dev, 64, 64)
		assert.Greater(t, uint16(d.ViewID()), uint16(last))
		assert.Less(t, uint16(d.ViewID()), uint16(maxViews))
		last = d.ViewID()
	}
	assert.Equal(t, maxViews, m.Len())

	err := panicErr(func() { m.CreateNew(gpu.FrameBufferHandle(99), 8, 8) })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrViewsExhausted))
	assert.Equal(t, maxViews, m.Len())
}

func TestUseViewIDOutOfRangePanics(t *testing.T) {
	m, _ := newTestManager(t, 4)

	err := panicErr(func() { m.BackBuffer().UseViewID(4) })
	assert.ErrorIs(t, err, ErrViewsExhausted)
}

func TestSetUpViewCommands(t *testing.T) {
	m, dev := newTestManager(t, 16)
	fb, _, err := dev.CreateFrameBuffer(256, 128, true)
	require.NoError(t, err)
	dev.ClearLog()

	d := m.CreateNew(fb, 256, 128)

	cmds := dev.Commands()
	require.Len(t, cmds, 5)
	assert.Equal(t, gpu.OpSetViewFrameBuffer, cmds[0].Op)
	assert.Equal(t, fb, cmds[0].FrameBuffer)
	assert.Equal(t, d.ViewID(), cmds[0].View)
	assert.Equal(t, gpu.OpSetViewClear, cmds[1].Op)
	assert.Equal(t, gpu.OpDiscard, cmds[2].Op)
	assert.Equal(t, gpu.OpTouch, cmds[3].Op)
	assert.Equal(t, gpu.OpSetViewRect, cmds[4].Op)
	assert.Equal(t, [4]uint16{0, 0, 256, 128}, cmds[4].Rect)
	assert.Equal(t, d.ViewID(), cmds[4].View)
}

func TestBindClearUnbindScenario(t *testing.T) {
	m, dev := newTestManager(t, 16)
	a := newTarget(t, m, dev, 256, 256)

	m.Bind(a)
	assert.Same(t, a, m.Bound())
	assert.True(t, m.IsRenderingToTarget())

	broadcasts := 0
	tk := a.ClearState().AddUpdateCallback(func() { broadcasts++ })
	defer tk.Release()
	dev.ClearLog()

	a.ViewClearState().UpdateColor(1, 0, 0, 1)

	assert.Equal(t, 1, broadcasts)
	clears := dev.CommandsFor(gpu.OpSetViewClear, a.ViewID())
	require.Len(t, clears, 1)
	assert.Equal(t, uint32(0xff0000ff), clears[0].Color)

	m.Unbind(a)
	assert.Same(t, m.BackBuffer(), m.Bound())
	assert.False(t, m.IsRenderingToTarget())
}

func TestUnbindIgnoresArgument(t *testing.T) {
	m, dev := newTestManager(t, 16)
	a := newTarget(t, m, dev, 32, 32)
	b := newTarget(t, m, dev, 32, 32)

	m.Bind(a)
	m.Unbind(b)
	assert.Same(t, m.BackBuffer(), m.Bound())

	m.Bind(b)
	m.Unbind(nil)
	assert.Same(t, m.BackBuffer(), m.Bound())
	assert.False(t, m.IsRenderingToTarget())
}

func TestActAsBackBufferTarget(t *testing.T) {
	m, dev := newTestManager(t, 16)
	xr := newTarget(t, m, dev, 32, 32, WithActAsBackBuffer(true))

	m.Bind(xr)
	assert.False(t, m.IsRenderingToTarget())
	assert.False(t, xr.IsDefaultBackBuffer())
}

func TestResetReassignsLazily(t *testing.T) {
	m, dev := newTestManager(t, 16)
	a := newTarget(t, m, dev, 64, 64)
	b := newTarget(t, m, dev, 64, 64)
	c := newTarget(t, m, dev, 64, 64)
	m.Bind(c)

	m.Reset()

	assert.Same(t, m.BackBuffer(), m.Bound())
	assert.False(t, m.BackBuffer().NeedsViewID(), "back buffer is rebound by reset")
	assert.Equal(t, gpu.ViewID(0), m.BackBuffer().ViewID())
	for _, d := range []*Data{a, b, c} {
		assert.True(t, d.NeedsViewID())
		assert.Equal(t, ViewPendingReassignment, d.Assignment())
	}

	dev.ClearLog()
	m.Bind(b)
	assert.False(t, b.NeedsViewID())
	assert.Equal(t, gpu.ViewID(1), b.ViewID())
	// non back buffer targets are fully set up again
	attach := dev.CommandsFor(gpu.OpSetViewFrameBuffer, 1)
	require.Len(t, attach, 1)
	assert.Equal(t, b.Handle(), attach[0].FrameBuffer)
	assert.Len(t, dev.CommandsFor(gpu.OpSetViewRect, 1), 1)

	m.Bind(a)
	assert.Equal(t, gpu.ViewID(2), a.ViewID())

	// binding again within the epoch keeps the id
	m.Bind(b)
	assert.Equal(t, gpu.ViewID(1), b.ViewID())

	// never rebound, still pending
	assert.True(t, c.NeedsViewID())
}

func TestResetBackBufferReusesViewOnly(t *testing.T) {
	m, dev := newTestManager(t, 16)
	dev.ClearLog()

	m.Reset()

	assert.Empty(t, dev.CommandsFor(gpu.OpSetViewFrameBuffer, 0))
	assert.Len(t, dev.CommandsFor(gpu.OpSetViewClear, 0), 1)
	assert.Len(t, dev.CommandsFor(gpu.OpTouch, 0), 1)
}

func TestSharedClearStateAcrossTargets(t *testing.T) {
	m, dev := newTestManager(t, 16)
	shared := clearstate.New()
	a := newTarget(t, m, dev, 64, 64, WithSharedClearState(shared))
	b := newTarget(t, m, dev, 64, 64, WithSharedClearState(shared))
	assert.Same(t, shared, a.ClearState())
	assert.Same(t, shared, b.ClearState())
	dev.ClearLog()

	shared.UpdateColor(0, 1, 0, 1)

	ca := dev.CommandsFor(gpu.OpSetViewClear, a.ViewID())
	cb := dev.CommandsFor(gpu.OpSetViewClear, b.ViewID())
	require.Len(t, ca, 1)
	require.Len(t, cb, 1)
	assert.Equal(t, ca[0].Color, cb[0].Color)
	assert.Equal(t, ca[0].Depth, cb[0].Depth)
	assert.Equal(t, ca[0].Stencil, cb[0].Stencil)
	assert.Equal(t, ca[0].Flags, cb[0].Flags)

	// a deleted target stops following the shared state
	m.Delete(a)
	dev.ClearLog()
	shared.UpdateDepth(0)
	assert.Empty(t, dev.CommandsFor(gpu.OpSetViewClear, a.ViewID()))
	assert.Len(t, dev.CommandsFor(gpu.OpSetViewClear, b.ViewID()), 1)
}

func TestClearValuesOption(t *testing.T) {
	dev := gpu.NewRecorder(gpu.Caps{MaxViews: 4}, 100, 100)
	v := clearstate.DefaultValues()
	v.Red, v.Green, v.Blue = 0, 0, 0
	m := NewManager(dev, 100, 100, WithClearValues(v))
	defer m.Close()

	clears := dev.CommandsFor(gpu.OpSetViewClear, 0)
	require.NotEmpty(t, clears)
	assert.Equal(t, uint32(0x000000ff), clears[len(clears)-1].Color)
}

func TestDestroyOnce(t *testing.T) {
	m, dev := newTestManager(t, 16)
	d := newTarget(t, m, dev, 32, 32)
	fb := d.Handle()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Destroy()
		}()
	}
	wg.Wait()
	m.Delete(d)
	m.Close()

	assert.True(t, d.Destroyed())
	assert.Equal(t, 1, dev.FrameBufferDestroyCount(fb))
}

func TestDeleteBoundTargetRebindsBackBuffer(t *testing.T) {
	m, dev := newTestManager(t, 16)
	d := newTarget(t, m, dev, 32, 32)
	m.Bind(d)

	m.Delete(d)

	assert.Same(t, m.BackBuffer(), m.Bound())
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, dev.FrameBufferDestroyCount(d.Handle()))
}

func TestDeleteBackBufferIgnored(t *testing.T) {
	m, _ := newTestManager(t, 16)

	m.Delete(m.BackBuffer())
	m.Delete(nil)

	assert.False(t, m.BackBuffer().Destroyed())
	assert.Equal(t, 1, m.Len())
}

func TestResetSkipsDeletedTargets(t *testing.T) {
	m, dev := newTestManager(t, 16)
	d := newTarget(t, m, dev, 32, 32)
	m.Delete(d)

	m.Reset()

	assert.False(t, d.NeedsViewID())
	assert.Equal(t, 1, m.Len())
}

func TestCloseDestroysEverything(t *testing.T) {
	dev := gpu.NewRecorder(gpu.Caps{MaxViews: 16}, 64, 64)
	m := NewManager(dev, 64, 64)
	var targets []*Data
	for i := 0; i < 3; i++ {
		targets = append(targets, newTarget(t, m, dev, 16, 16))
	}

	m.Close()

	assert.Equal(t, 0, m.Len())
	assert.True(t, m.BackBuffer().Destroyed())
	for _, d := range targets {
		assert.Equal(t, 1, dev.FrameBufferDestroyCount(d.Handle()))
	}
	fbs, _, _, _ := dev.LiveHandles()
	assert.Zero(t, fbs)
}

func TestResizeBackBuffer(t *testing.T) {
	m, dev := newTestManager(t, 16)
	dev.ClearLog()

	m.ResizeBackBuffer(1024, 768)

	w, h := m.BackBuffer().Size()
	assert.Equal(t, uint16(1024), w)
	assert.Equal(t, uint16(768), h)
	rects := dev.CommandsFor(gpu.OpSetViewRect, 0)
	require.Len(t, rects, 1)
	assert.Equal(t, [4]uint16{0, 0, 1024, 768}, rects[0].Rect)
}

func TestViewAssignmentString(t *testing.T) {
	assert.Equal(t, "assigned", ViewAssigned.String())
	assert.Equal(t, "pending", ViewPendingReassignment.String())
	assert.Equal(t, "ViewAssignment(9)", ViewAssignment(9).String())
}
