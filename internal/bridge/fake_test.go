package bridge

import (
	"errors"
	"slices"
)

// fakeRuntime is an in-memory Runtime. Coroutine handles point at their root.
type fakeRuntime struct {
	parent         *fakeRuntime
	invalid        bool
	failDispatcher bool
	panicOnCall    bool

	refs    map[Ref]Value
	nextRef Ref
	subs    map[string][]*fakeSub
}

type fakeSub struct {
	fn func()
}

type fakeDispatcher struct {
	listeners map[string][]*fakeListener
}

type fakeListener struct {
	fn func(record map[string]any) Value
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		refs: make(map[Ref]Value),
		subs: make(map[string][]*fakeSub),
	}
}

func (r *fakeRuntime) thread() *fakeRuntime {
	return &fakeRuntime{parent: r}
}

func (r *fakeRuntime) Root() Runtime {
	if r.invalid {
		return nil
	}
	if r.parent != nil {
		return r.parent
	}
	return r
}

func (r *fakeRuntime) NewDispatcher() (Value, error) {
	if r.failDispatcher {
		return nil, errors.New("system.newEventDispatcher is unavailable")
	}
	return &fakeDispatcher{listeners: make(map[string][]*fakeListener)}, nil
}

func (r *fakeRuntime) Retain(v Value) Ref {
	r.nextRef++
	r.refs[r.nextRef] = v
	return r.nextRef
}

func (r *fakeRuntime) Release(ref Ref) {
	delete(r.refs, ref)
}

func (r *fakeRuntime) Lookup(ref Ref) (Value, bool) {
	v, ok := r.refs[ref]
	return v, ok
}

func (r *fakeRuntime) NewRecord(name string) Value {
	return map[string]any{"name": name}
}

func (r *fakeRuntime) SetField(record Value, key string, v any) bool {
	m, ok := record.(map[string]any)
	if !ok {
		return false
	}
	m[key] = v
	return true
}

func (r *fakeRuntime) IsListener(v Value, eventName string) bool {
	_, ok := v.(*fakeListener)
	return ok
}

func (r *fakeRuntime) Truthy(v Value) bool {
	b, ok := v.(bool)
	return v != nil && (!ok || b)
}

func (r *fakeRuntime) Call(obj Value, method string, args ...any) (Value, error) {
	if r.panicOnCall {
		panic("lua: attempt to call a nil value")
	}
	d, ok := obj.(*fakeDispatcher)
	if !ok {
		return nil, errors.New("not a dispatcher")
	}
	switch method {
	case "addEventListener":
		name, l := args[0].(string), args[1].(*fakeListener)
		if slices.Contains(d.listeners[name], l) {
			return false, nil
		}
		d.listeners[name] = append(d.listeners[name], l)
		return true, nil
	case "removeEventListener":
		name, l := args[0].(string), args[1].(*fakeListener)
		if !slices.Contains(d.listeners[name], l) {
			return false, nil
		}
		d.listeners[name] = slices.DeleteFunc(d.listeners[name], func(x *fakeListener) bool { return x == l })
		return true, nil
	case "dispatchEvent":
		record := args[0].(map[string]any)
		var result Value
		for _, l := range slices.Clone(d.listeners[record["name"].(string)]) {
			if v := l.fn(record); v != nil {
				result = v
			}
		}
		return result, nil
	}
	return nil, errors.New("unknown method " + method)
}

func (r *fakeRuntime) Subscribe(eventName string, fn func()) (func(), error) {
	sub := &fakeSub{fn: fn}
	r.subs[eventName] = append(r.subs[eventName], sub)
	return func() {
		r.subs[eventName] = slices.DeleteFunc(r.subs[eventName], func(s *fakeSub) bool { return s == sub })
	}, nil
}

// fire dispatches a host runtime event to its subscribers.
func (r *fakeRuntime) fire(eventName string) {
	for _, sub := range slices.Clone(r.subs[eventName]) {
		sub.fn()
	}
}

// recorder collects the records dispatched to it.
type recorder struct {
	records []map[string]any
}

func (rec *recorder) listener() *fakeListener {
	return &fakeListener{fn: func(record map[string]any) Value {
		rec.records = append(rec.records, record)
		return nil
	}}
}
