package plugin

import (
	lua "github.com/yuin/gopher-lua"
)

// gog.addEventListener(eventName, listener)
func (p *Plugin) addEventListener(L *lua.LState) int {
	name, listener := p.listenerArgs(L)
	p.ctx.Dispatcher().AddListener(name, listener)
	return 0
}

// gog.removeEventListener(eventName, listener)
func (p *Plugin) removeEventListener(L *lua.LState) int {
	name, listener := p.listenerArgs(L)
	p.ctx.Dispatcher().RemoveListener(name, listener)
	return 0
}

func (p *Plugin) listenerArgs(L *lua.LState) (string, lua.LValue) {
	name, ok := L.Get(1).(lua.LString)
	if !ok || name == "" {
		L.RaiseError("1st argument must be set to an event name.")
	}
	listener := L.Get(2)
	if !p.rt.IsListener(listener, string(name)) {
		L.RaiseError("2nd argument must be set to a listener.")
	}
	return string(name), listener
}

// gog.getEncryptedAppTicket() returns the last ticket, or nil when the user
// is not logged on.
func (p *Plugin) getEncryptedAppTicket(L *lua.LState) int {
	if !p.loggedOn() {
		L.Push(lua.LNil)
		return 1
	}
	ticket, err := p.sdk.EncryptedAppTicket()
	if err != nil {
		p.warn(err)
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(ticket))
	return 1
}

// gog.requestEncryptedAppTicket([data]) answers with an
// encryptedAppTicketResponse event.
func (p *Plugin) requestEncryptedAppTicket(L *lua.LState) int {
	if !p.loggedOn() {
		return 0
	}
	var data []byte
	if s, ok := L.Get(1).(lua.LString); ok {
		data = []byte(s)
	}
	if err := p.sdk.RequestEncryptedAppTicket(data, &ticketListener{p: p}); err != nil {
		p.warn(err)
	}
	return 0
}

// gog.setAchievementUnlocked(achievementName) returns true once the unlock
// has been submitted.
func (p *Plugin) setAchievementUnlocked(L *lua.LState) int {
	if !p.sdk.SignedIn() {
		L.Push(lua.LFalse)
		return 1
	}
	name, ok := L.Get(1).(lua.LString)
	if !ok {
		L.RaiseError("1st argument must be set to the achievement's unique name.")
	}
	if err := p.sdk.SetAchievement(string(name)); err != nil {
		p.warn(err)
	}
	if err := p.sdk.StoreStatsAndAchievements(); err != nil {
		p.warn(err)
	}
	L.Push(lua.LTrue)
	return 1
}

// __index serves the read-only property fields.
func (p *Plugin) index(L *lua.LState) int {
	key, ok := L.Get(2).(lua.LString)
	if !ok {
		return 0
	}
	switch key {
	case "isLoggedOn":
		L.Push(lua.LBool(p.loggedOn()))
		return 1
	}
	L.RaiseError("Accessing unknown field: '%s'", string(key))
	return 0
}
