// Package plugin implements the "plugin.gog" Lua module: sign-in, encrypted
// app tickets and achievements, with platform results delivered to Lua
// listeners on the next frame.
package plugin

import (
	"errors"

	"github.com/joeycumines/logiface"
	lua "github.com/yuin/gopher-lua"
	"github.com/zot/galaxy-lua/internal/bridge"
	"github.com/zot/galaxy-lua/internal/config"
	"github.com/zot/galaxy-lua/internal/galaxy"
	"github.com/zot/galaxy-lua/internal/luahost"
)

// ModuleName is the name scripts require.
const ModuleName = "plugin.gog"

// Loader opens plugin.gog in host runtimes. One Loader serves every runtime
// in the process; the platform is initialized when the first instance opens
// and shut down when the last one closes.
type Loader struct {
	Instances *bridge.Instances
	SDK       galaxy.SDK
	// Config supplies credentials when config.lua has none. May be nil.
	Config *config.Config
	Logger *logiface.Logger[logiface.Event]
}

// Preload makes require("plugin.gog") open the plugin in rt.
func (l *Loader) Preload(rt *luahost.Runtime) {
	rt.L.PreloadModule(ModuleName, l.Open)
}

// Open is the module loader. It leaves the plugin table on the stack.
func (l *Loader) Open(L *lua.LState) int {
	if err := l.Instances.CheckAffinity(); err != nil {
		l.Logger.Err().Err(err).Log("plugin: refused load")
		L.RaiseError("Cannot load another instance of '%s' from another thread.", ModuleName)
		return 0
	}
	rt, ok := luahost.FromState(L)
	if !ok {
		L.RaiseError("'%s' can only be loaded by a host runtime.", ModuleName)
		return 0
	}

	ctx, err := bridge.NewContext(rt, l.Instances, bridge.WithPump(l.SDK.ProcessData), bridge.WithLogger(l.Logger))
	if err != nil {
		if errors.Is(err, bridge.ErrThreadAffinity) {
			L.RaiseError("Cannot load another instance of '%s' from another thread.", ModuleName)
		} else {
			L.RaiseError("Cannot load '%s': %s", ModuleName, err.Error())
		}
		return 0
	}
	p := &Plugin{sdk: l.SDK, rt: rt.Root().(*luahost.Runtime), ctx: ctx, log: l.Logger}
	p.auth = &authListener{p: p}
	p.log.Debug().Str("context", ctx.ID()).Int("instances", ctx.InstanceCount()).Log("plugin: opened")

	L.Push(p.table(L))

	settings, found := LoadSettings(L)
	if !found && l.Config != nil {
		settings.ClientID = l.Config.Galaxy.ClientID
		settings.ClientSecret = l.Config.Galaxy.ClientSecret
	}

	if ctx.InstanceCount() == 1 {
		if err := l.SDK.Init(galaxy.InitOptions{ClientID: settings.ClientID, ClientSecret: settings.ClientSecret}); err != nil {
			p.warn(err)
		}
	}
	if err := l.SDK.SignIn(p.auth); err != nil {
		p.warn(err)
	}

	p.rt.AddFinalizer(func() { p.finalize(l.Instances) })
	return 1
}

// Plugin is one opened instance of plugin.gog.
type Plugin struct {
	sdk  galaxy.SDK
	rt   *luahost.Runtime
	ctx  *bridge.Context
	auth *authListener
	log  *logiface.Logger[logiface.Event]
}

func (p *Plugin) table(L *lua.LState) *lua.LTable {
	tbl := L.NewTable()
	L.SetFuncs(tbl, map[string]lua.LGFunction{
		"addEventListener":          p.addEventListener,
		"removeEventListener":       p.removeEventListener,
		"getEncryptedAppTicket":     p.getEncryptedAppTicket,
		"requestEncryptedAppTicket": p.requestEncryptedAppTicket,
		"setAchievementUnlocked":    p.setAchievementUnlocked,
	})
	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(p.index))
	L.SetField(mt, "__newindex", L.NewFunction(func(*lua.LState) int { return 0 }))
	L.SetMetatable(tbl, mt)
	return tbl
}

func (p *Plugin) finalize(instances *bridge.Instances) {
	p.sdk.RemoveAuthListener(p.auth)
	p.ctx.Close()
	if instances.Count() <= 0 {
		if err := p.sdk.Shutdown(); err != nil {
			p.warn(err)
		}
	}
	p.log.Debug().Str("context", p.ctx.ID()).Log("plugin: finalized")
}

func (p *Plugin) warn(err error) {
	gerr := galaxy.AsError(err)
	p.log.Warning().Logf("[GOG ERROR] %s: %s", gerr.Name, gerr.Msg)
}

func (p *Plugin) loggedOn() bool {
	return p.sdk.SignedIn() && p.sdk.IsLoggedOn()
}

// authListener forwards platform auth results into the context's queue.
type authListener struct {
	p *Plugin
}

func (a *authListener) OnAuthSuccess() {
	if err := a.p.sdk.RequestUserStatsAndAchievements(); err != nil {
		a.p.warn(err)
	}
	a.p.ctx.OnNativeEvent(bridge.NewAuthResponse(true, ""))
}

func (a *authListener) OnAuthFailure(reason galaxy.FailureReason) {
	a.p.ctx.OnNativeEvent(bridge.NewAuthResponse(false, string(reason)))
}

func (a *authListener) OnAuthLost() {
	a.p.ctx.OnNativeEvent(bridge.AuthLost{})
}

// ticketListener queues the outcome of one ticket request.
type ticketListener struct {
	p *Plugin
}

func (t *ticketListener) OnTicketSuccess() {
	ticket, err := t.p.sdk.EncryptedAppTicket()
	if err != nil {
		t.p.warn(err)
		t.p.ctx.OnNativeEvent(bridge.NewEncryptedAppTicketResponse(false, nil))
		return
	}
	t.p.ctx.OnNativeEvent(bridge.NewEncryptedAppTicketResponse(true, ticket))
}

func (t *ticketListener) OnTicketFailure(reason galaxy.FailureReason) {
	t.p.log.Debug().Str("reason", string(reason)).Log("plugin: ticket request failed")
	t.p.ctx.OnNativeEvent(bridge.NewEncryptedAppTicketResponse(false, nil))
}
