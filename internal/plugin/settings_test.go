package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"github.com/zot/galaxy-lua/internal/bridge"
)

func loadedConfig(rt *lua.LState) lua.LValue {
	pkg := rt.GetGlobal("package").(*lua.LTable)
	return pkg.RawGetString("loaded").(*lua.LTable).RawGetString("config")
}

func TestLoadSettingsRestoresGlobals(t *testing.T) {
	h := newHost(t, &fakeSDK{}, bridge.NewInstances())
	h.writeScript(t, "config.lua", `
		application = {
			content = { fps = 60 },
			gog = { clientId = "id", clientSecret = "secret" },
		}
	`)
	h.run(t, `application = "previous"`)
	top := h.rt.L.GetTop()

	s, found := LoadSettings(h.rt.L)
	require.True(t, found)
	assert.Equal(t, Settings{ClientID: "id", ClientSecret: "secret"}, s)
	assert.Equal(t, "previous", lua.LVAsString(h.rt.L.GetGlobal("application")))
	assert.Equal(t, lua.LNil, loadedConfig(h.rt.L), "config is unloaded when it was not loaded before")
	assert.Equal(t, top, h.rt.L.GetTop())
}

func TestLoadSettingsKeepsLoadedConfig(t *testing.T) {
	h := newHost(t, &fakeSDK{}, bridge.NewInstances())
	h.writeScript(t, "config.lua", `application = { gog = { clientId = "id" } }`)
	h.run(t, `require("config")`)

	s, found := LoadSettings(h.rt.L)
	require.True(t, found)
	assert.Equal(t, "id", s.ClientID)
	assert.Empty(t, s.ClientSecret)
	assert.NotEqual(t, lua.LNil, loadedConfig(h.rt.L))
	assert.IsType(t, &lua.LTable{}, h.rt.L.GetGlobal("application"))
}

func TestLoadSettingsWithoutGogTable(t *testing.T) {
	cases := map[string]string{
		"missing file":  "",
		"no gog":        `application = { content = {} }`,
		"syntax error":  `application = {`,
		"runtime error": `error("bad config")`,
	}
	for name, source := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHost(t, &fakeSDK{}, bridge.NewInstances())
			if source != "" {
				h.writeScript(t, "config.lua", source)
			}
			s, found := LoadSettings(h.rt.L)
			assert.False(t, found)
			assert.Equal(t, Settings{}, s)
			assert.Equal(t, lua.LNil, h.rt.L.GetGlobal("application"))
			assert.Equal(t, lua.LNil, loadedConfig(h.rt.L))
		})
	}
}

func TestLoadSettingsIgnoresNonStringValues(t *testing.T) {
	h := newHost(t, &fakeSDK{}, bridge.NewInstances())
	h.writeScript(t, "config.lua", `application = { gog = { clientId = 42, clientSecret = true } }`)

	s, found := LoadSettings(h.rt.L)
	assert.True(t, found)
	assert.Equal(t, Settings{}, s)
}
