// Package luahost hosts a gopher-lua state the way a frame-driven game runtime
// does: a global Runtime event dispatcher, system.newEventDispatcher(), an
// enterFrame event per frame and finalizers run when the runtime shuts down.
// Runtime implements bridge.Runtime.
package luahost

import (
	_ "embed"
	"errors"
	"fmt"
	goruntime "runtime"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/spf13/cast"
	lua "github.com/yuin/gopher-lua"
	"github.com/zot/galaxy-lua/internal/bridge"
)

//go:embed dispatcher.lua
var dispatcherSource string

const (
	registryRuntimeKey = "luahost.runtime"
	registryRefsKey    = "luahost.refs"
)

// ErrClosed is returned when a closed runtime is used.
var ErrClosed = errors.New("lua runtime is closed")

// Option configures a Runtime.
type Option func(*Runtime)

// WithEnvironment sets the value system.getInfo("environment") reports.
func WithEnvironment(env string) Option {
	return func(r *Runtime) {
		r.environment = env
	}
}

// WithLogger sets the runtime's logger.
func WithLogger(log *logiface.Logger[logiface.Event]) Option {
	return func(r *Runtime) {
		r.log = log
	}
}

// WithScriptDir adds dir to package.path.
func WithScriptDir(dir string) Option {
	return func(r *Runtime) {
		r.scriptDir = dir
	}
}

// Runtime is a Lua state with a frame cadence. A Runtime returned by Thread
// is a coroutine handle whose Root is the owning Runtime.
type Runtime struct {
	L    *lua.LState
	main *Runtime

	refs        *lua.LTable
	nextRef     int
	newDispatch *lua.LFunction
	events      lua.LValue
	finalizers  []func()
	environment string
	scriptDir   string
	frame       int
	started     time.Time
	closed      bool
	log         *logiface.Logger[logiface.Event]

	// listener errors raised during the current runtime event
	listenerErrs []error
}

var _ bridge.Runtime = (*Runtime)(nil)

// New creates a Lua state with the host runtime globals installed.
func New(opts ...Option) (*Runtime, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	r := &Runtime{
		L:           L,
		environment: "device",
		started:     time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.OsLibName, lua.OpenOs},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	} {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open %s library: %w", lib.name, err)
		}
	}
	if r.scriptDir != "" {
		pkg := L.GetGlobal("package")
		path := lua.LVAsString(L.GetField(pkg, "path"))
		L.SetField(pkg, "path", lua.LString(r.scriptDir+"/?.lua;"+path))
	}

	ud := L.NewUserData()
	ud.Value = r
	L.G.Registry.RawSetString(registryRuntimeKey, ud)
	r.refs = L.NewTable()
	L.G.Registry.RawSetString(registryRefsKey, r.refs)

	if err := r.installSystem(); err != nil {
		L.Close()
		return nil, err
	}
	return r, nil
}

// installSystem creates the system table and the global Runtime dispatcher.
func (r *Runtime) installSystem() error {
	L := r.L
	fn, err := L.LoadString(dispatcherSource)
	if err != nil {
		return fmt.Errorf("load event dispatcher: %w", err)
	}
	report := L.NewFunction(func(L *lua.LState) int {
		name, msg := L.CheckString(1), L.Get(2).String()
		r.log.Warning().Str("event", name).Str("error", msg).Log("luahost: event listener failed")
		r.listenerErrs = append(r.listenerErrs, fmt.Errorf("%s listener: %s", name, msg))
		return 0
	})
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, report); err != nil {
		return fmt.Errorf("load event dispatcher: %w", err)
	}
	factory, ok := L.Get(-1).(*lua.LFunction)
	L.Pop(1)
	if !ok {
		return errors.New("event dispatcher chunk did not return a function")
	}
	r.newDispatch = factory

	system := L.NewTable()
	L.SetField(system, "newEventDispatcher", factory)
	L.SetField(system, "getInfo", L.NewFunction(func(L *lua.LState) int {
		switch L.CheckString(1) {
		case "environment":
			L.Push(lua.LString(r.environment))
		case "platform":
			L.Push(lua.LString(goruntime.GOOS))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}))
	L.SetField(system, "getTimer", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Since(r.started).Milliseconds()))
		return 1
	}))
	L.SetGlobal("system", system)

	events, err := r.NewDispatcher()
	if err != nil {
		return fmt.Errorf("create Runtime dispatcher: %w", err)
	}
	r.events = events.(lua.LValue)
	L.SetGlobal("Runtime", r.events)
	return nil
}

// FromState returns the Runtime for L. Coroutine states yield a coroutine
// handle whose Root is the owning Runtime.
func FromState(L *lua.LState) (*Runtime, bool) {
	if L == nil || L.G == nil {
		return nil, false
	}
	ud, ok := L.G.Registry.RawGetString(registryRuntimeKey).(*lua.LUserData)
	if !ok {
		return nil, false
	}
	root, ok := ud.Value.(*Runtime)
	if !ok {
		return nil, false
	}
	if L == root.L {
		return root, true
	}
	return &Runtime{L: L, main: root}, true
}

// Thread creates a coroutine handle sharing this runtime's globals.
func (r *Runtime) Thread() *Runtime {
	root := r.root()
	co, _ := root.L.NewThread()
	return &Runtime{L: co, main: root}
}

func (r *Runtime) root() *Runtime {
	if r.main != nil {
		return r.main
	}
	return r
}

// Root implements bridge.Runtime.
func (r *Runtime) Root() bridge.Runtime {
	if r == nil {
		return nil
	}
	root := r.root()
	if root.closed {
		return nil
	}
	return root
}

// Closed reports whether Close has been called.
func (r *Runtime) Closed() bool {
	return r.root().closed
}

// NewDispatcher implements bridge.Runtime by calling system.newEventDispatcher().
func (r *Runtime) NewDispatcher() (bridge.Value, error) {
	root := r.root()
	if root.closed {
		return nil, ErrClosed
	}
	L := root.L
	top := L.GetTop()
	defer L.SetTop(top)

	factory := root.newDispatch
	if system, ok := L.GetGlobal("system").(*lua.LTable); ok {
		if fn, ok := L.GetField(system, "newEventDispatcher").(*lua.LFunction); ok {
			factory = fn
		}
	}
	if factory == nil {
		return nil, errors.New("system.newEventDispatcher is not a function")
	}
	if err := L.CallByParam(lua.P{Fn: factory, NRet: 1, Protect: true}); err != nil {
		return nil, err
	}
	obj, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		return nil, errors.New("system.newEventDispatcher did not return a table")
	}
	return obj, nil
}

// Retain implements bridge.Runtime.
func (r *Runtime) Retain(v bridge.Value) bridge.Ref {
	root := r.root()
	lv, ok := v.(lua.LValue)
	if root.closed || !ok || lv == lua.LNil {
		return bridge.NoRef
	}
	root.nextRef++
	root.refs.RawSetInt(root.nextRef, lv)
	return bridge.Ref(root.nextRef)
}

// Release implements bridge.Runtime.
func (r *Runtime) Release(ref bridge.Ref) {
	root := r.root()
	if root.closed || ref == bridge.NoRef {
		return
	}
	root.refs.RawSetInt(int(ref), lua.LNil)
}

// Lookup implements bridge.Runtime.
func (r *Runtime) Lookup(ref bridge.Ref) (bridge.Value, bool) {
	root := r.root()
	if root.closed || ref == bridge.NoRef {
		return nil, false
	}
	v := root.refs.RawGetInt(int(ref))
	if v == lua.LNil {
		return nil, false
	}
	return v, true
}

// Refs returns the number of live registry references.
func (r *Runtime) Refs() int {
	n := 0
	r.root().refs.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// NewRecord implements bridge.Runtime.
func (r *Runtime) NewRecord(name string) bridge.Value {
	root := r.root()
	if root.closed {
		return nil
	}
	record := root.L.NewTable()
	record.RawSetString("name", lua.LString(name))
	return record
}

// SetField implements bridge.Runtime.
func (r *Runtime) SetField(record bridge.Value, key string, v any) bool {
	tbl, ok := record.(*lua.LTable)
	if !ok {
		return false
	}
	tbl.RawSetString(key, ToLua(v))
	return true
}

// IsListener implements bridge.Runtime: functions, and tables with a method
// named eventName, can listen.
func (r *Runtime) IsListener(v bridge.Value, eventName string) bool {
	switch l := v.(type) {
	case *lua.LFunction:
		return true
	case *lua.LTable:
		_, ok := r.root().L.GetField(l, eventName).(*lua.LFunction)
		return ok
	}
	return false
}

// Truthy implements bridge.Runtime using Lua truthiness.
func (r *Runtime) Truthy(v bridge.Value) bool {
	lv, ok := v.(lua.LValue)
	return ok && lua.LVAsBool(lv)
}

// Call implements bridge.Runtime. The Lua stack is restored before returning.
func (r *Runtime) Call(obj bridge.Value, method string, args ...any) (bridge.Value, error) {
	root := r.root()
	if root.closed {
		return nil, ErrClosed
	}
	target, ok := obj.(lua.LValue)
	if !ok || target == lua.LNil {
		return nil, fmt.Errorf("cannot call %s on %T", method, obj)
	}
	L := root.L
	fn, ok := L.GetField(target, method).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%s is not a function", method)
	}

	top := L.GetTop()
	defer L.SetTop(top)

	largs := make([]lua.LValue, 0, len(args)+1)
	largs = append(largs, target)
	for _, a := range args {
		largs = append(largs, ToLua(a))
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
		return nil, err
	}
	return L.Get(-1), nil
}

// Subscribe implements bridge.Runtime by adding a listener to the global
// Runtime dispatcher.
func (r *Runtime) Subscribe(eventName string, fn func()) (func(), error) {
	root := r.root()
	if root.closed {
		return nil, ErrClosed
	}
	listener := root.L.NewFunction(func(*lua.LState) int {
		fn()
		return 0
	})
	if _, err := root.Call(root.events, "addEventListener", eventName, listener); err != nil {
		return nil, err
	}
	return func() {
		if root.closed {
			return
		}
		if _, err := root.Call(root.events, "removeEventListener", eventName, listener); err != nil {
			root.log.Warning().Str("event", eventName).Err(err).Log("luahost: failed to remove runtime listener")
		}
	}, nil
}

// DispatchRuntimeEvent dispatches {name = name, ...fields} to the global Runtime dispatcher.
// A failing listener does not stop the others; their errors are logged and
// returned together.
func (r *Runtime) DispatchRuntimeEvent(name string, fields map[string]any) error {
	root := r.root()
	if root.closed {
		return ErrClosed
	}
	record := root.NewRecord(name)
	for k, v := range fields {
		root.SetField(record, k, v)
	}
	root.listenerErrs = nil
	_, err := root.Call(root.events, "dispatchEvent", record)
	errs := append([]error{err}, root.listenerErrs...)
	root.listenerErrs = nil
	return errors.Join(errs...)
}

// Frame advances the runtime by one frame and dispatches enterFrame.
func (r *Runtime) Frame() error {
	root := r.root()
	if root.closed {
		return ErrClosed
	}
	root.frame++
	return root.DispatchRuntimeEvent(bridge.FrameEvent, map[string]any{
		"frame": root.frame,
		"time":  time.Since(root.started).Milliseconds(),
	})
}

// FrameCount returns the number of frames dispatched so far.
func (r *Runtime) FrameCount() int {
	return r.root().frame
}

// AddFinalizer registers fn to run when the runtime is closed.
// Finalizers run once, most recent first, while the Lua state is still open.
func (r *Runtime) AddFinalizer(fn func()) {
	root := r.root()
	root.finalizers = append(root.finalizers, fn)
}

// DoString runs Lua source in the runtime.
func (r *Runtime) DoString(source string) error {
	if r.Closed() {
		return ErrClosed
	}
	return r.L.DoString(source)
}

// DoFile runs a Lua file in the runtime.
func (r *Runtime) DoFile(path string) error {
	if r.Closed() {
		return ErrClosed
	}
	return r.L.DoFile(path)
}

// Close runs the finalizers and closes the Lua state.
func (r *Runtime) Close() {
	root := r.root()
	if root.closed {
		return
	}
	for i := len(root.finalizers) - 1; i >= 0; i-- {
		root.runFinalizer(root.finalizers[i])
	}
	root.finalizers = nil
	root.closed = true
	root.L.Close()
}

func (r *Runtime) runFinalizer(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Err().Str("panic", fmt.Sprint(p)).Log("luahost: finalizer panicked")
		}
	}()
	fn()
}

// ToLua converts a Go value to Lua.
func ToLua(v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case string:
		return lua.LString(x)
	case []byte:
		return lua.LString(string(x))
	case bool:
		return lua.LBool(x)
	}
	if f, err := cast.ToFloat64E(v); err == nil {
		return lua.LNumber(f)
	}
	return lua.LString(cast.ToString(v))
}
