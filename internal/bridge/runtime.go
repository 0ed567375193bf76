// Package bridge moves asynchronous native events into a single-threaded
// scripting runtime.
//
// Native callbacks never touch the runtime. They copy their payload into an
// Event, which a Context queues until the runtime's next frame tick, where the
// queue is drained in FIFO order and every task is dispatched exactly once
// through the Context's Dispatcher.
package bridge

// Value is an opaque value owned by the scripting runtime.
type Value any

// Ref is a strong reference held inside the scripting runtime on behalf of Go
// code. A referenced value is immune to the runtime's own collection.
type Ref int

// NoRef marks the absence of a reference.
const NoRef Ref = 0

// FrameEvent is the host runtime event fired once per frame.
const FrameEvent = "enterFrame"

// Runtime is the scripting runtime surface the bridge depends on.
// Implementations must leave no transient values behind on their internal
// stack when a call returns, whether it succeeded or not.
type Runtime interface {
	// Root resolves a coroutine handle to the root runtime.
	// Returns nil if the handle is invalid.
	Root() Runtime

	// NewDispatcher invokes the runtime's dispatcher factory.
	NewDispatcher() (Value, error)

	// Retain stores v in the runtime's registry and returns a reference to it.
	// Returns NoRef if v cannot be retained.
	Retain(v Value) Ref

	// Release drops a reference obtained from Retain.
	Release(ref Ref)

	// Lookup returns the value held by ref.
	Lookup(ref Ref) (Value, bool)

	// NewRecord creates an event record whose "name" field is set to name.
	NewRecord(name string) Value

	// SetField sets key on record. v may be a string, bool, number, []byte or Value.
	SetField(record Value, key string, v any) bool

	// IsListener reports whether v can receive events named eventName.
	IsListener(v Value, eventName string) bool

	// Truthy reports whether v counts as true in the runtime.
	Truthy(v Value) bool

	// Call invokes obj:method(args...) and returns its first result.
	Call(obj Value, method string, args ...any) (Value, error)

	// Subscribe adds fn as a listener of the host runtime event eventName.
	// The returned function removes it again.
	Subscribe(eventName string, fn func()) (func(), error)
}

// rootOf returns the root runtime of rt, or nil.
func rootOf(rt Runtime) (root Runtime) {
	if rt == nil {
		return nil
	}
	defer func() {
		if recover() != nil {
			root = nil
		}
	}()
	return rt.Root()
}
