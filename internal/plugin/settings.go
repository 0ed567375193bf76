package plugin

import (
	lua "github.com/yuin/gopher-lua"
)

// Settings are the plugin properties read from the application's config.lua:
//
//	application = {
//	    gog = { clientId = "...", clientSecret = "..." },
//	}
type Settings struct {
	ClientID     string
	ClientSecret string
}

// LoadSettings runs config.lua and reads application.gog from it. The
// application global and package.loaded.config are left as they were found.
// It reports whether an application.gog table was present.
func LoadSettings(L *lua.LState) (Settings, bool) {
	var s Settings
	top := L.GetTop()
	defer L.SetTop(top)

	var loaded *lua.LTable
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		loaded, _ = pkg.RawGetString("loaded").(*lua.LTable)
	}
	alreadyLoaded := loaded != nil && loaded.RawGetString("config") != lua.LNil
	previous := L.GetGlobal("application")
	defer L.SetGlobal("application", previous)

	if require, ok := L.GetGlobal("require").(*lua.LFunction); ok {
		// a missing or broken config.lua leaves the settings empty
		_ = L.CallByParam(lua.P{Fn: require, NRet: 1, Protect: true}, lua.LString("config"))
	}

	found := false
	if app, ok := L.GetGlobal("application").(*lua.LTable); ok {
		if gog, ok := app.RawGetString("gog").(*lua.LTable); ok {
			found = true
			if v, ok := gog.RawGetString("clientId").(lua.LString); ok {
				s.ClientID = string(v)
			}
			if v, ok := gog.RawGetString("clientSecret").(lua.LString); ok {
				s.ClientSecret = string(v)
			}
		}
	}

	if !alreadyLoaded && loaded != nil {
		loaded.RawSetString("config", lua.LNil)
	}
	return s, found
}
