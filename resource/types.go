package resource

import (
	"errors"
)

// ErrClosed is returned by Insert after the table has been closed.
var ErrClosed = errors.New("resource table closed")

// Handle is an opaque reference to a resource in a table.
// Handle 0 is reserved and always invalid. Handles are never reused within a
// table, so a stale handle can only miss, never alias a newer resource.
type Handle uint32

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event represents a resource lifecycle event.
type Event[T any] struct {
	Value  T
	Handle Handle
	Type   EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer[T any] interface {
	OnResourceEvent(Event[T])
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc[T any] func(Event[T])

func (f ObserverFunc[T]) OnResourceEvent(e Event[T]) { f(e) }

// Dropper is implemented by values that release resources when removed
// from a table. Drop is called exactly once per inserted value.
type Dropper interface {
	Drop()
}
