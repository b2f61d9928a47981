package framebuffer

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/nativegfx/internal/engine/clearstate"
	"github.com/Faultbox/nativegfx/internal/gpu"
	"github.com/Faultbox/nativegfx/internal/logger"
	"github.com/Faultbox/nativegfx/pkg/weaktable"
)

type createOptions struct {
	sharedClear     *clearstate.ClearState
	clearValues     clearstate.Values
	actAsBackBuffer bool
	colorTexture    gpu.TextureHandle
}

// Option configures a new render target.
type Option func(*createOptions)

// WithSharedClearState makes the target follow state instead of owning its
// own clear state.
func WithSharedClearState(state *clearstate.ClearState) Option {
	return func(o *createOptions) { o.sharedClear = state }
}

// WithClearValues sets the initial values of an owned clear state.
func WithClearValues(v clearstate.Values) Option {
	return func(o *createOptions) { o.clearValues = v }
}

// WithActAsBackBuffer marks the target as presented directly (swap chain, XR).
func WithActAsBackBuffer(act bool) Option {
	return func(o *createOptions) { o.actAsBackBuffer = act }
}

// WithColorTexture records the texture attached to the frame buffer.
func WithColorTexture(tex gpu.TextureHandle) Option {
	return func(o *createOptions) { o.colorTexture = tex }
}

// Manager owns every render target, hands out view ids and tracks the bound
// target. It must only be used from the render thread.
type Manager struct {
	dev gpu.Device
	log *zap.Logger

	nextID            uint16
	bound             *Data
	backBuffer        *Data
	targets           *weaktable.Table[*Data]
	renderingToTarget bool
}

// NewManager creates a manager whose default back buffer has the given size
// and binds it.
func NewManager(dev gpu.Device, width, height uint16, opts ...Option) *Manager {
	m := &Manager{
		dev:     dev,
		log:     logger.Named("framebuffer"),
		targets: weaktable.New(func(d *Data) { d.Destroy() }),
	}
	opts = append(opts, WithActAsBackBuffer(true))
	m.backBuffer = m.CreateNew(gpu.InvalidFrameBuffer, width, height, opts...)
	m.bound = m.backBuffer
	m.log.Debug("frame buffer manager ready",
		zap.Uint16("max_views", dev.Caps().MaxViews),
		zap.Uint16("width", width),
		zap.Uint16("height", height),
	)
	return m
}

// CreateNew registers a render target on a fresh view id. The returned
// pointer stays valid until the target is deleted or the manager closes.
func (m *Manager) CreateNew(handle gpu.FrameBufferHandle, width, height uint16, opts ...Option) *Data {
	o := createOptions{
		clearValues:  clearstate.DefaultValues(),
		colorTexture: gpu.InvalidTexture,
	}
	for _, opt := range opts {
		opt(&o)
	}

	d := newData(m.dev, handle, m.GetNewViewID(), width, height, o)
	d.ticket = m.targets.Insert(d)

	m.log.Debug("render target created",
		zap.Uint16("handle", uint16(handle)),
		zap.Uint16("view", uint16(d.viewID)),
		zap.Uint16("width", width),
		zap.Uint16("height", height),
		zap.Bool("shared_clear", o.sharedClear != nil),
		zap.Bool("act_as_back_buffer", o.actAsBackBuffer),
	)
	return d
}

// Bind makes target the current render target, assigning it a new view id
// first if a reset invalidated the old one.
func (m *Manager) Bind(target *Data) {
	m.bound = target

	if target.NeedsViewID() {
		id := m.GetNewViewID()
		if target == m.backBuffer {
			target.UseViewID(id)
		} else {
			// the frame buffer attachment does not survive a reset
			target.SetUpView(id)
		}
		m.log.Debug("view reassigned", zap.Uint16("view", uint16(id)), zap.Bool("back_buffer", target == m.backBuffer))
	}

	m.renderingToTarget = !target.actAsBackBuffer
}

// Unbind returns to the default back buffer. The argument is ignored: some
// callers (XR session handoff) cannot tell which target is bound.
func (m *Manager) Unbind(_ *Data) {
	m.Bind(m.backBuffer)
	m.renderingToTarget = false
}

// Bound returns the current render target.
func (m *Manager) Bound() *Data { return m.bound }

// BackBuffer returns the default back buffer target.
func (m *Manager) BackBuffer() *Data { return m.backBuffer }

// IsRenderingToTarget reports whether the bound target is an off-screen
// target that will be sampled later.
func (m *Manager) IsRenderingToTarget() bool { return m.renderingToTarget }

// GetNewViewID returns the next view id of the current epoch. Running past
// the device limit is a leak or misconfiguration and panics.
func (m *Manager) GetNewViewID() gpu.ViewID {
	limit := m.dev.Caps().MaxViews
	if m.nextID >= limit {
		m.log.Error("view ids exhausted", zap.Uint16("max_views", limit), zap.Int("targets", m.targets.Len()))
		panic(fmt.Errorf("%w: limit %d", ErrViewsExhausted, limit))
	}
	id := gpu.ViewID(m.nextID)
	m.nextID++
	return id
}

// Reset starts a new view epoch after a device reset. Targets keep their old
// ids until they are next bound; the back buffer is bound right away.
func (m *Manager) Reset() {
	m.nextID = 0
	m.targets.ApplyToAll(func(d *Data) {
		d.assignment = ViewPendingReassignment
	})
	m.log.Debug("view ids reset", zap.Int("targets", m.targets.Len()))
	m.Unbind(m.bound)
}

// Delete destroys a render target. The default back buffer cannot be
// deleted; deleting the bound target rebinds the back buffer.
func (m *Manager) Delete(target *Data) {
	if target == nil {
		return
	}
	if target == m.backBuffer {
		m.log.Warn("ignoring delete of default back buffer")
		return
	}
	if target == m.bound {
		m.Unbind(target)
	}
	target.Destroy()
	m.log.Debug("render target deleted", zap.Uint16("handle", uint16(target.handle)))
}

// ResizeBackBuffer updates the default back buffer dimensions.
func (m *Manager) ResizeBackBuffer(width, height uint16) {
	m.backBuffer.Resize(width, height)
}

// Len returns the number of live targets, back buffer included.
func (m *Manager) Len() int { return m.targets.Len() }

// Close destroys every target, the back buffer included.
func (m *Manager) Close() {
	m.targets.Clear()
	m.bound = nil
}
