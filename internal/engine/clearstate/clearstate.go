// Package clearstate keeps clear color/depth/stencil state and re-applies it
// to every view slot that uses it.
package clearstate

import (
	"github.com/Faultbox/nativegfx/internal/gpu"
	"github.com/Faultbox/nativegfx/pkg/weaktable"
)

// Values is a plain clear configuration.
type Values struct {
	Red     float32
	Green   float32
	Blue    float32
	Alpha   float32
	Depth   float32
	Stencil uint8
	Flags   gpu.ClearFlags
}

// DefaultValues returns the clear configuration new render targets start with.
func DefaultValues() Values {
	return Values{
		Red:   68.0 / 255.0,
		Green: 51.0 / 255.0,
		Blue:  85.0 / 255.0,
		Alpha: 1,
		Depth: 1,
		Flags: gpu.ClearColor | gpu.ClearDepth,
	}
}

// Color packs the color as RGBA8 with red in the most significant byte.
func (v Values) Color() uint32 {
	return uint32(toByte(v.Red))<<24 |
		uint32(toByte(v.Green))<<16 |
		uint32(toByte(v.Blue))<<8 |
		uint32(toByte(v.Alpha))
}

func toByte(f float32) uint8 {
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return 255
	}
	return uint8(f * 255)
}

// ClearState is one logical clear configuration that may be shared by many
// views. Every effective mutation notifies the registered callbacks.
type ClearState struct {
	Values

	callbacks *weaktable.Table[func()]
}

// New creates a clear state with default values.
func New() *ClearState {
	return NewFrom(DefaultValues())
}

// NewFrom creates a clear state starting from v.
func NewFrom(v Values) *ClearState {
	return &ClearState{
		Values:    v,
		callbacks: weaktable.New[func()](nil),
	}
}

// UpdateColor sets the clear color if any component differs.
func (c *ClearState) UpdateColor(r, g, b, a float32) {
	if r == c.Red && g == c.Green && b == c.Blue && a == c.Alpha {
		return
	}
	c.Red, c.Green, c.Blue, c.Alpha = r, g, b, a
	c.Update()
}

// UpdateDepth sets the clear depth if it differs.
func (c *ClearState) UpdateDepth(depth float32) {
	if depth == c.Depth {
		return
	}
	c.Depth = depth
	c.Update()
}

// UpdateStencil sets the clear stencil value if it differs.
func (c *ClearState) UpdateStencil(stencil uint8) {
	if stencil == c.Stencil {
		return
	}
	c.Stencil = stencil
	c.Update()
}

// UpdateFlags sets the clear flags. Flags always overwrite and notify.
func (c *ClearState) UpdateFlags(flags gpu.ClearFlags) {
	c.Flags = flags
	c.Update()
}

// AddUpdateCallback registers fn. The callback stays registered until the
// returned ticket is released.
func (c *ClearState) AddUpdateCallback(fn func()) *weaktable.Ticket {
	return c.callbacks.Insert(fn)
}

// Update notifies every registered callback.
func (c *ClearState) Update() {
	c.callbacks.ApplyToAll(func(fn func()) { fn() })
}

// Observers returns the number of registered callbacks.
func (c *ClearState) Observers() int {
	return c.callbacks.Len()
}

// ViewClearState applies a (possibly shared) ClearState to one view slot.
type ViewClearState struct {
	dev    gpu.Device
	viewID gpu.ViewID
	state  *ClearState
	ticket *weaktable.Ticket
}

// NewView binds state to view. The state is applied on the next UpdateViewID
// or state change.
func NewView(dev gpu.Device, view gpu.ViewID, state *ClearState) *ViewClearState {
	v := &ViewClearState{
		dev:    dev,
		viewID: view,
		state:  state,
	}
	v.ticket = state.AddUpdateCallback(v.apply)
	return v
}

// UpdateColor forwards to the shared state.
func (v *ViewClearState) UpdateColor(r, g, b, a float32) { v.state.UpdateColor(r, g, b, a) }

// UpdateDepth forwards to the shared state.
func (v *ViewClearState) UpdateDepth(depth float32) { v.state.UpdateDepth(depth) }

// UpdateStencil forwards to the shared state.
func (v *ViewClearState) UpdateStencil(stencil uint8) { v.state.UpdateStencil(stencil) }

// UpdateFlags forwards to the shared state.
func (v *ViewClearState) UpdateFlags(flags gpu.ClearFlags) { v.state.UpdateFlags(flags) }

// UpdateViewID retargets the view and re-applies the state to it.
func (v *ViewClearState) UpdateViewID(view gpu.ViewID) {
	v.viewID = view
	v.apply()
}

// ViewID returns the view slot currently targeted.
func (v *ViewClearState) ViewID() gpu.ViewID { return v.viewID }

// State returns the underlying clear state.
func (v *ViewClearState) State() *ClearState { return v.state }

// Close stops receiving state updates.
func (v *ViewClearState) Close() {
	v.ticket.Release()
}

func (v *ViewClearState) apply() {
	s := v.state
	v.dev.SetViewClear(v.viewID, s.Flags, s.Color(), s.Depth, s.Stencil)
	v.dev.Discard()
	v.dev.Touch(v.viewID)
}
