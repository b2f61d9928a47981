package window

import "github.com/veandco/go-sdl2/sdl"

// EventType classifies window events.
type EventType int

const (
	EventNone EventType = iota
	EventQuit
	EventResize
	EventKeyDown
)

// Event is a processed window event.
type Event struct {
	Type   EventType
	Key    sdl.Scancode
	Width  int
	Height int
}

// PollEvents drains the SDL event queue into dst and returns it.
func (w *Window) PollEvents(dst []Event) []Event {
	dst = dst[:0]
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			dst = append(dst, Event{Type: EventQuit})

		case *sdl.WindowEvent:
			if e.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
				width, height := w.DrawableSize()
				dst = append(dst, Event{Type: EventResize, Width: width, Height: height})
			}

		case *sdl.KeyboardEvent:
			if e.Type == sdl.KEYDOWN && e.Repeat == 0 {
				dst = append(dst, Event{Type: EventKeyDown, Key: e.Keysym.Scancode})
			}
		}
	}
	return dst
}
