package canvasbridge

import (
	"context"

	"github.com/wippyai/canvas-bridge/message"
	"github.com/wippyai/canvas-bridge/pointer"
)

// Canvas is the drawing resource a surface hands to its module.
type Canvas struct {
	Handle uint32
	Width  int
	Height int
}

// Sandbox is an isolated surface that hosts one compute module at a time.
// Implementations must serialize all calls into the module and share no
// mutable memory with the host. Module output is published on the channel
// the sandbox was created with.
type Sandbox interface {
	ID() string
	Canvas() Canvas

	// Load instantiates the module and runs its initializer with the canvas.
	Load(ctx context.Context) error
	// Dispatch delivers one mapped pointer event to the loaded module.
	Dispatch(ctx context.Context, ev pointer.Mapped) error
	// Deliver hands a host-to-module message to the loaded module.
	Deliver(ctx context.Context, m message.Message) error
	// Resize changes the canvas size and notifies the module.
	Resize(ctx context.Context, width, height int) error
	// Unload runs the module's dispose hook and releases the instance.
	Unload(ctx context.Context) error
	// Close destroys the surface. It returns a teardown_timeout error if
	// resources had to be force-released.
	Close(ctx context.Context) error
}

// SandboxFactory creates a sandbox bound to a channel.
type SandboxFactory func(ctx context.Context, ch *message.Channel) (Sandbox, error)
