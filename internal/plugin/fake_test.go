package plugin

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zot/galaxy-lua/internal/bridge"
	"github.com/zot/galaxy-lua/internal/config"
	"github.com/zot/galaxy-lua/internal/galaxy"
	"github.com/zot/galaxy-lua/internal/luahost"
)

// fakeSDK records calls and delivers queued results from ProcessData.
type fakeSDK struct {
	initOpts      []galaxy.InitOptions
	shutdowns     int
	initErr       error
	setErr        error
	signedIn      bool
	loggedOn      bool
	auth          []galaxy.AuthListener
	ticket        []byte
	ticketData    [][]byte
	tickets       []galaxy.TicketListener
	achievements  []string
	stores        int
	statsRequests int
	pending       []func()
}

var _ galaxy.SDK = (*fakeSDK)(nil)

func (s *fakeSDK) Init(opts galaxy.InitOptions) error {
	s.initOpts = append(s.initOpts, opts)
	return s.initErr
}

func (s *fakeSDK) Shutdown() error {
	s.shutdowns++
	s.signedIn, s.loggedOn = false, false
	return nil
}

func (s *fakeSDK) ProcessData() {
	pending := s.pending
	s.pending = nil
	for _, fn := range pending {
		fn()
	}
}

func (s *fakeSDK) SignIn(l galaxy.AuthListener) error {
	if s.initErr != nil {
		return galaxy.ErrNotInitialized
	}
	if !slices.Contains(s.auth, l) {
		s.auth = append(s.auth, l)
	}
	return nil
}

func (s *fakeSDK) RemoveAuthListener(l galaxy.AuthListener) {
	s.auth = slices.DeleteFunc(s.auth, func(x galaxy.AuthListener) bool { return x == l })
}

func (s *fakeSDK) SignedIn() bool   { return s.signedIn }
func (s *fakeSDK) IsLoggedOn() bool { return s.loggedOn }

func (s *fakeSDK) EncryptedAppTicket() ([]byte, error) {
	if s.ticket == nil {
		return nil, galaxy.ErrNoTicket
	}
	return s.ticket, nil
}

func (s *fakeSDK) RequestEncryptedAppTicket(data []byte, l galaxy.TicketListener) error {
	s.ticketData = append(s.ticketData, data)
	s.tickets = append(s.tickets, l)
	return nil
}

func (s *fakeSDK) SetAchievement(name string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.achievements = append(s.achievements, name)
	return nil
}

func (s *fakeSDK) StoreStatsAndAchievements() error {
	s.stores++
	return nil
}

func (s *fakeSDK) RequestUserStatsAndAchievements() error {
	s.statsRequests++
	return nil
}

// signIn queues a successful sign-in for the next ProcessData.
func (s *fakeSDK) signIn(online bool) {
	s.pending = append(s.pending, func() {
		s.signedIn, s.loggedOn = true, online
		for _, l := range slices.Clone(s.auth) {
			l.OnAuthSuccess()
		}
	})
}

func (s *fakeSDK) failSignIn(reason galaxy.FailureReason) {
	s.pending = append(s.pending, func() {
		for _, l := range slices.Clone(s.auth) {
			l.OnAuthFailure(reason)
		}
	})
}

func (s *fakeSDK) loseAuth() {
	s.pending = append(s.pending, func() {
		s.signedIn, s.loggedOn = false, false
		for _, l := range slices.Clone(s.auth) {
			l.OnAuthLost()
		}
	})
}

// answerTickets queues ticket delivery to every outstanding request.
func (s *fakeSDK) answerTickets(ticket []byte) {
	s.pending = append(s.pending, func() {
		listeners := s.tickets
		s.tickets = nil
		for _, l := range listeners {
			if ticket == nil {
				l.OnTicketFailure(galaxy.ReasonUndefined)
				continue
			}
			s.ticket = ticket
			l.OnTicketSuccess()
		}
	})
}

type host struct {
	rt   *luahost.Runtime
	dir  string
	logs *bytes.Buffer
}

type hostOption func(*Loader)

func withConfig(cfg *config.Config) hostOption {
	return func(l *Loader) {
		l.Config = cfg
	}
}

func newHost(t *testing.T, sdk *fakeSDK, set *bridge.Instances, opts ...hostOption) *host {
	t.Helper()
	h := &host{dir: t.TempDir(), logs: &bytes.Buffer{}}

	cfg := config.DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.SetOutput(h.logs)

	rt, err := luahost.New(luahost.WithScriptDir(h.dir), luahost.WithLogger(cfg.Logger()))
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	h.rt = rt

	loader := &Loader{Instances: set, SDK: sdk, Logger: cfg.Logger()}
	for _, opt := range opts {
		opt(loader)
	}
	loader.Preload(rt)
	return h
}

func (h *host) writeScript(t *testing.T, name, source string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte(source), 0o644))
}

func (h *host) run(t *testing.T, source string) {
	t.Helper()
	require.NoError(t, h.rt.DoString(source))
}
