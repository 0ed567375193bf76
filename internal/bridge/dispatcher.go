package bridge

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// Dispatcher owns a runtime-native event dispatcher object and adds, removes
// and dispatches to script listeners by event name.
//
// If the dispatcher object could not be created, the Dispatcher is inert:
// every method returns failure and none of them panic.
type Dispatcher struct {
	rt  Runtime
	ref Ref
	log *logiface.Logger[logiface.Event]
}

// NewDispatcher creates a dispatcher object in the root runtime of rt and
// keeps it alive with a registry reference.
func NewDispatcher(rt Runtime, log *logiface.Logger[logiface.Event]) *Dispatcher {
	d := &Dispatcher{log: log}
	root := rootOf(rt)
	if root == nil {
		log.Warning().Log("bridge: no root runtime, event dispatcher is inert")
		return d
	}
	obj, err := protect(root.NewDispatcher)
	if err != nil || obj == nil {
		log.Warning().Err(err).Log("bridge: failed to create event dispatcher")
		return d
	}
	ref := root.Retain(obj)
	if ref == NoRef {
		log.Warning().Log("bridge: failed to retain event dispatcher")
		return d
	}
	d.rt = root
	d.ref = ref
	return d
}

// Runtime returns the root runtime the dispatcher lives in, or nil if inert.
func (d *Dispatcher) Runtime() Runtime {
	if d.Inert() {
		return nil
	}
	return d.rt
}

// Inert reports whether the dispatcher has no underlying dispatcher object.
func (d *Dispatcher) Inert() bool {
	return d == nil || d.rt == nil || d.ref == NoRef
}

// AddListener adds listener for events named name.
func (d *Dispatcher) AddListener(name string, listener Value) bool {
	return d.listen("addEventListener", name, listener)
}

// RemoveListener removes listener from events named name.
func (d *Dispatcher) RemoveListener(name string, listener Value) bool {
	return d.listen("removeEventListener", name, listener)
}

func (d *Dispatcher) listen(method, name string, listener Value) bool {
	if d.Inert() || name == "" || listener == nil {
		return false
	}
	ok, _ := protect(func() (bool, error) {
		return d.rt.IsListener(listener, name), nil
	})
	if !ok {
		return false
	}
	result, err := d.call(method, name, listener)
	if err != nil {
		return false
	}
	accepted, _ := protect(func() (bool, error) {
		return d.rt.Truthy(result), nil
	})
	return accepted
}

// DispatchWithResult dispatches record to the listeners of its name and
// returns the value the listeners produced.
func (d *Dispatcher) DispatchWithResult(record Value) (Value, bool) {
	if d.Inert() || record == nil {
		return nil, false
	}
	result, err := d.call("dispatchEvent", record)
	if err != nil {
		d.log.Debug().Err(err).Log("bridge: dispatch failed")
		return nil, false
	}
	return result, true
}

// DispatchNameWithResult dispatches a minimal record {name = name}.
func (d *Dispatcher) DispatchNameWithResult(name string) (Value, bool) {
	if d.Inert() || name == "" {
		return nil, false
	}
	record, err := protect(func() (Value, error) {
		return d.rt.NewRecord(name), nil
	})
	if err != nil || record == nil {
		return nil, false
	}
	return d.DispatchWithResult(record)
}

// DispatchWithoutResult dispatches record and discards the listeners' result.
func (d *Dispatcher) DispatchWithoutResult(record Value) bool {
	_, ok := d.DispatchWithResult(record)
	return ok
}

// DispatchNameWithoutResult dispatches {name = name} and discards the result.
func (d *Dispatcher) DispatchNameWithoutResult(name string) bool {
	_, ok := d.DispatchNameWithResult(name)
	return ok
}

// Close releases the registry reference. The dispatcher is inert afterwards.
func (d *Dispatcher) Close() {
	if d.Inert() {
		return
	}
	rt, ref := d.rt, d.ref
	d.rt, d.ref = nil, NoRef
	protect(func() (struct{}, error) {
		rt.Release(ref)
		return struct{}{}, nil
	})
}

// call invokes method on the dispatcher object.
func (d *Dispatcher) call(method string, args ...any) (Value, error) {
	return protect(func() (Value, error) {
		obj, ok := d.rt.Lookup(d.ref)
		if !ok || obj == nil {
			return nil, fmt.Errorf("dispatcher reference %d is gone", d.ref)
		}
		return d.rt.Call(obj, method, args...)
	})
}

// protect runs fn, converting a panic into an error.
func protect[T any](fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result, err = zero, fmt.Errorf("runtime panic: %v", r)
		}
	}()
	return fn()
}
