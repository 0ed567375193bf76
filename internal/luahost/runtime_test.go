package luahost

import (
	goruntime "runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"github.com/zot/galaxy-lua/internal/bridge"
)

func newTestRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt
}

func TestSystemGlobals(t *testing.T) {
	rt := newTestRuntime(t, WithEnvironment("simulator"))
	require.NoError(t, rt.DoString(`
		env = system.getInfo("environment")
		platform = system.getInfo("platform")
		d = system.newEventDispatcher()
		hasRuntime = type(Runtime) == "table" and type(Runtime.dispatchEvent) == "function"
	`))
	assert.Equal(t, "simulator", lua.LVAsString(rt.L.GetGlobal("env")))
	assert.Equal(t, goruntime.GOOS, lua.LVAsString(rt.L.GetGlobal("platform")))
	assert.IsType(t, &lua.LTable{}, rt.L.GetGlobal("d"))
	assert.Equal(t, lua.LTrue, rt.L.GetGlobal("hasRuntime"))
}

func TestLuaDispatcherOrderAndResult(t *testing.T) {
	rt := newTestRuntime(t)
	require.NoError(t, rt.DoString(`
		calls = {}
		d = system.newEventDispatcher()
		local first = function(e) calls[#calls + 1] = "first"; e.seen = true end
		local second = { custom = function(self, e) calls[#calls + 1] = "second"; return e end }
		d:addEventListener("custom", first)
		d:addEventListener("custom", second)
		dup = d:addEventListener("custom", first)
		result = d:dispatchEvent({ name = "custom" })
		removed = d:removeEventListener("custom", first)
		has = d:hasEventListener("custom")
	`))
	calls := rt.L.GetGlobal("calls").(*lua.LTable)
	assert.Equal(t, 2, calls.Len())
	assert.Equal(t, "first", lua.LVAsString(calls.RawGetInt(1)))
	assert.Equal(t, "second", lua.LVAsString(calls.RawGetInt(2)))
	assert.Equal(t, lua.LFalse, rt.L.GetGlobal("dup"))
	result := rt.L.GetGlobal("result").(*lua.LTable)
	assert.Equal(t, lua.LTrue, result.RawGetString("seen"))
	assert.Equal(t, lua.LTrue, rt.L.GetGlobal("removed"))
	assert.Equal(t, lua.LTrue, rt.L.GetGlobal("has"))
}

func TestRefsRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)
	tbl := rt.L.NewTable()
	ref := rt.Retain(tbl)
	require.NotEqual(t, bridge.NoRef, ref)

	v, ok := rt.Lookup(ref)
	require.True(t, ok)
	assert.Same(t, tbl, v)
	assert.Equal(t, 1, rt.Refs())

	rt.Release(ref)
	_, ok = rt.Lookup(ref)
	assert.False(t, ok)
	assert.Zero(t, rt.Refs())

	assert.Equal(t, bridge.NoRef, rt.Retain(nil))
	assert.Equal(t, bridge.NoRef, rt.Retain(lua.LNil))
}

func TestIsListener(t *testing.T) {
	rt := newTestRuntime(t)
	require.NoError(t, rt.DoString(`
		fn = function() end
		obj = { authResponse = function() end }
		other = { something = 1 }
	`))
	assert.True(t, rt.IsListener(rt.L.GetGlobal("fn"), "authResponse"))
	assert.True(t, rt.IsListener(rt.L.GetGlobal("obj"), "authResponse"))
	assert.False(t, rt.IsListener(rt.L.GetGlobal("obj"), "authLost"))
	assert.False(t, rt.IsListener(rt.L.GetGlobal("other"), "authResponse"))
	assert.False(t, rt.IsListener(lua.LString("fn"), "authResponse"))
	assert.False(t, rt.IsListener(nil, "authResponse"))
}

func TestCallRestoresStack(t *testing.T) {
	rt := newTestRuntime(t)
	require.NoError(t, rt.DoString(`
		obj = { ok = function(self, a) return a * 2 end, fail = function() error("boom") end }
	`))
	obj := rt.L.GetGlobal("obj")
	top := rt.L.GetTop()

	v, err := rt.Call(obj, "ok", 21)
	require.NoError(t, err)
	assert.Equal(t, lua.LNumber(42), v)
	assert.Equal(t, top, rt.L.GetTop())

	_, err = rt.Call(obj, "fail")
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, top, rt.L.GetTop())

	_, err = rt.Call(obj, "missing")
	assert.Error(t, err)
	assert.Equal(t, top, rt.L.GetTop())
}

func TestThreadResolvesToRoot(t *testing.T) {
	rt := newTestRuntime(t)
	co := rt.Thread()
	assert.Same(t, rt, co.Root())
	assert.NotSame(t, rt.L, co.L)

	found, ok := FromState(co.L)
	require.True(t, ok)
	assert.Same(t, rt, found.Root())

	found, ok = FromState(rt.L)
	require.True(t, ok)
	assert.Same(t, rt, found)

	_, ok = FromState(lua.NewState())
	assert.False(t, ok)
}

func TestFrameDispatchesEnterFrame(t *testing.T) {
	rt := newTestRuntime(t)
	require.NoError(t, rt.DoString(`
		frames = {}
		Runtime:addEventListener("enterFrame", function(e) frames[#frames + 1] = e.frame end)
	`))
	require.NoError(t, rt.Frame())
	require.NoError(t, rt.Frame())
	frames := rt.L.GetGlobal("frames").(*lua.LTable)
	assert.Equal(t, 2, frames.Len())
	assert.Equal(t, lua.LNumber(2), frames.RawGetInt(2))
	assert.Equal(t, 2, rt.FrameCount())
}

func TestFrameRunsListenersAfterOneFails(t *testing.T) {
	rt := newTestRuntime(t)
	require.NoError(t, rt.DoString(`
		frames = 0
		Runtime:addEventListener("enterFrame", function() error("boom") end)
		Runtime:addEventListener("enterFrame", { enterFrame = function(self) error("bang") end })
		Runtime:addEventListener("enterFrame", function() frames = frames + 1 end)
	`))
	top := rt.L.GetTop()

	err := rt.Frame()
	require.Error(t, err)
	assert.ErrorContains(t, err, "boom")
	assert.ErrorContains(t, err, "bang")
	assert.Equal(t, lua.LNumber(1), rt.L.GetGlobal("frames"))
	assert.Equal(t, top, rt.L.GetTop())

	require.NoError(t, rt.DoString(`Runtime:removeEventListener("enterFrame", Runtime._listeners.enterFrame[1])`))
	require.NoError(t, rt.DoString(`Runtime:removeEventListener("enterFrame", Runtime._listeners.enterFrame[1])`))
	require.NoError(t, rt.Frame())
	assert.Equal(t, lua.LNumber(2), rt.L.GetGlobal("frames"))
}

func TestTruthy(t *testing.T) {
	rt := newTestRuntime(t)
	assert.True(t, rt.Truthy(lua.LTrue))
	assert.True(t, rt.Truthy(lua.LNumber(0)))
	assert.False(t, rt.Truthy(lua.LFalse))
	assert.False(t, rt.Truthy(lua.LNil))
	assert.False(t, rt.Truthy(nil))
	assert.False(t, rt.Truthy("not a lua value"))
}

func TestSubscribe(t *testing.T) {
	rt := newTestRuntime(t)
	ticks := 0
	cancel, err := rt.Subscribe(bridge.FrameEvent, func() { ticks++ })
	require.NoError(t, err)

	require.NoError(t, rt.Frame())
	cancel()
	require.NoError(t, rt.Frame())
	assert.Equal(t, 1, ticks)
}

func TestCloseRunsFinalizersOnceInReverse(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)

	var order []int
	rt.AddFinalizer(func() { order = append(order, 1) })
	rt.AddFinalizer(func() { panic("finalizer") })
	rt.AddFinalizer(func() {
		order = append(order, 3)
		assert.NoError(t, rt.DoString(`x = 1`), "state stays open while finalizers run")
	})

	rt.Close()
	rt.Close()
	assert.Equal(t, []int{3, 1}, order)
	assert.True(t, rt.Closed())
	assert.Nil(t, rt.Root())
	assert.ErrorIs(t, rt.Frame(), ErrClosed)
}

func TestContextOnLuaRuntime(t *testing.T) {
	rt := newTestRuntime(t)
	set := bridge.NewInstances()
	c, err := bridge.NewContext(rt, set)
	require.NoError(t, err)
	rt.AddFinalizer(c.Close)

	disp, ok := rt.Lookup(bridge.Ref(1))
	require.True(t, ok)
	rt.L.SetGlobal("plugin", disp.(lua.LValue))
	require.NoError(t, rt.DoString(`
		events = {}
		plugin:addEventListener("authResponse", function(e) events[#events + 1] = e end)
	`))

	c.OnAuthResponse(true)
	c.OnNativeEvent(bridge.NewAuthResponse(false, "denied"))
	top := rt.L.GetTop()
	require.NoError(t, rt.Frame())
	assert.Equal(t, top, rt.L.GetTop())

	events := rt.L.GetGlobal("events").(*lua.LTable)
	require.Equal(t, 2, events.Len())
	first := events.RawGetInt(1).(*lua.LTable)
	assert.Equal(t, "authResponse", lua.LVAsString(first.RawGetString("name")))
	assert.Equal(t, lua.LFalse, first.RawGetString("isError"))
	second := events.RawGetInt(2).(*lua.LTable)
	assert.Equal(t, lua.LTrue, second.RawGetString("isError"))
	assert.Equal(t, "denied", lua.LVAsString(second.RawGetString("errorCode")))

	rt.Close()
	assert.Zero(t, set.Count())
}

func TestToLua(t *testing.T) {
	assert.Equal(t, lua.LNil, ToLua(nil))
	assert.Equal(t, lua.LString("x"), ToLua("x"))
	assert.Equal(t, lua.LString("raw"), ToLua([]byte("raw")))
	assert.Equal(t, lua.LTrue, ToLua(true))
	assert.Equal(t, lua.LNumber(7), ToLua(int64(7)))
	assert.Equal(t, lua.LNumber(1.5), ToLua(float32(1.5)))
}
