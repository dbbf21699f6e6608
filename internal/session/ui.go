package session

import "github.com/tuxx/lockgate/internal/output"

// Drawable is a UI-owned surface. All methods run on the UI goroutine.
type Drawable interface {
	// Configure tells the drawable its acknowledged size; it may now render.
	Configure(width, height uint32)
	Destroy()
}

// UI is the single-threaded UI collaborator.
type UI interface {
	// RunOnUI queues fn to run on the UI goroutine. It must not block.
	RunOnUI(fn func())

	// NewDrawable creates the drawable for o. Called on the UI goroutine.
	NewDrawable(o output.Output) (Drawable, error)
}
