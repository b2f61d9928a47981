// Package framebuffer manages render targets and the view slots they render
// through.
package framebuffer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Faultbox/nativegfx/internal/engine/clearstate"
	"github.com/Faultbox/nativegfx/internal/gpu"
	"github.com/Faultbox/nativegfx/pkg/weaktable"
)

// ErrViewsExhausted is the panic value (wrapped) raised when a view id would
// reach the device limit. It means targets leak upstream.
var ErrViewsExhausted = errors.New("framebuffer: view ids exhausted")

// ViewAssignment tracks whether a target's view id is still valid.
type ViewAssignment uint8

const (
	// ViewAssigned means the view id is valid for the current epoch.
	ViewAssigned ViewAssignment = iota
	// ViewPendingReassignment means a reset invalidated the view id; the
	// next Bind assigns a fresh one.
	ViewPendingReassignment
)

func (a ViewAssignment) String() string {
	switch a {
	case ViewAssigned:
		return "assigned"
	case ViewPendingReassignment:
		return "pending"
	}
	return fmt.Sprintf("ViewAssignment(%d)", uint8(a))
}

// Data is one render target: a frame buffer handle, or the default back
// buffer, bound to a view slot.
type Data struct {
	dev gpu.Device

	handle          gpu.FrameBufferHandle
	colorTexture    gpu.TextureHandle
	viewID          gpu.ViewID
	width           uint16
	height          uint16
	actAsBackBuffer bool
	assignment      ViewAssignment

	// ownedClear is nil when the clear state is shared with other targets.
	ownedClear *clearstate.ClearState
	viewClear  *clearstate.ViewClearState

	ticket   *weaktable.Ticket
	disposed atomic.Bool
}

func newData(dev gpu.Device, handle gpu.FrameBufferHandle, view gpu.ViewID, width, height uint16, o createOptions) *Data {
	d := &Data{
		dev:             dev,
		handle:          handle,
		colorTexture:    o.colorTexture,
		viewID:          view,
		width:           width,
		height:          height,
		actAsBackBuffer: o.actAsBackBuffer,
	}

	state := o.sharedClear
	if state == nil {
		d.ownedClear = clearstate.NewFrom(o.clearValues)
		state = d.ownedClear
	}
	d.viewClear = clearstate.NewView(dev, view, state)

	d.SetUpView(view)
	return d
}

// UseViewID moves the target to view and re-applies its clear state there.
// It panics if view is outside the device limit.
func (d *Data) UseViewID(view gpu.ViewID) {
	if limit := d.dev.Caps().MaxViews; uint16(view) >= limit {
		panic(fmt.Errorf("%w: view %d, limit %d", ErrViewsExhausted, view, limit))
	}
	d.assignment = ViewAssigned
	d.viewID = view
	d.viewClear.UpdateViewID(view)
}

// SetUpView attaches the frame buffer to view, assigns it and sets the view
// rectangle to the whole target.
func (d *Data) SetUpView(view gpu.ViewID) {
	d.dev.SetViewFrameBuffer(view, d.handle)
	d.UseViewID(view)
	d.dev.SetViewRect(d.viewID, 0, 0, d.width, d.height)
}

// Resize updates the target dimensions. An assigned view gets its rectangle
// updated immediately.
func (d *Data) Resize(width, height uint16) {
	d.width, d.height = width, height
	if d.assignment == ViewAssigned {
		d.dev.SetViewRect(d.viewID, 0, 0, width, height)
	}
}

// IsDefaultBackBuffer reports whether the target renders to the back buffer.
func (d *Data) IsDefaultBackBuffer() bool {
	return !d.handle.IsValid()
}

// NeedsViewID reports whether a reset left the target without a valid view.
func (d *Data) NeedsViewID() bool {
	return d.assignment == ViewPendingReassignment
}

// Assignment returns the view assignment state.
func (d *Data) Assignment() ViewAssignment { return d.assignment }

// Handle returns the frame buffer handle.
func (d *Data) Handle() gpu.FrameBufferHandle { return d.handle }

// ColorTexture returns the color attachment, if the target has one.
func (d *Data) ColorTexture() gpu.TextureHandle { return d.colorTexture }

// ViewID returns the current view slot.
func (d *Data) ViewID() gpu.ViewID { return d.viewID }

// Size returns the target dimensions.
func (d *Data) Size() (width, height uint16) { return d.width, d.height }

// ActAsBackBuffer reports whether the target is presented directly rather
// than sampled as a texture. Such targets never get their projection flipped.
func (d *Data) ActAsBackBuffer() bool { return d.actAsBackBuffer }

// ViewClearState returns the clear state bound to this target's view.
func (d *Data) ViewClearState() *clearstate.ViewClearState { return d.viewClear }

// ClearState returns the target's clear state, shared or owned.
func (d *Data) ClearState() *clearstate.ClearState { return d.viewClear.State() }

// Destroyed reports whether Destroy has run.
func (d *Data) Destroyed() bool { return d.disposed.Load() }

// Destroy releases the target: it leaves its manager, stops following its
// clear state and destroys the frame buffer handle. Only the first call has
// any effect.
func (d *Data) Destroy() {
	if d.disposed.Swap(true) {
		return
	}
	d.ticket.Release()
	d.viewClear.Close()
	if d.handle.IsValid() {
		d.dev.DestroyFrameBuffer(d.handle)
	}
}
