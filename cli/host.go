package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/zot/galaxy-lua/internal/bridge"
	"github.com/zot/galaxy-lua/internal/config"
	"github.com/zot/galaxy-lua/internal/galaxy"
	"github.com/zot/galaxy-lua/internal/luahost"
	"github.com/zot/galaxy-lua/internal/plugin"
)

// Host runs the entry script in a runtime on its own loop, with plugin.gog
// available to require.
type Host struct {
	Config *config.Config
	Loop   *luahost.Loop
	Loader *plugin.Loader

	hooks *Hooks
	log   *logiface.Logger[logiface.Event]

	// only touched on the loop goroutine
	runtime *luahost.Runtime
}

// NewHost creates a host talking to the platform through sdk.
func NewHost(cfg *config.Config, sdk galaxy.SDK, hooks *Hooks) *Host {
	log := cfg.Logger()
	return &Host{
		Config: cfg,
		Loop:   luahost.NewLoop(cfg.FrameInterval(), log),
		Loader: &plugin.Loader{
			Instances: bridge.NewInstances(),
			SDK:       sdk,
			Config:    cfg,
			Logger:    log,
		},
		hooks: hooks,
		log:   log,
	}
}

// Log logs a message via the config.
func (h *Host) Log(level int, format string, args ...any) {
	h.Config.Log(level, format, args...)
}

// Start starts the loop and runs the entry script.
func (h *Host) Start() error {
	h.Loop.Start()
	_, err := h.Loop.Do(func() (any, error) {
		return nil, h.load()
	})
	return err
}

// Reload closes the running runtime and runs the entry script in a new one.
func (h *Host) Reload() error {
	_, err := h.Loop.Do(func() (any, error) {
		if h.runtime != nil {
			h.Loop.Detach(h.runtime)
			h.runtime = nil
		}
		return nil, h.load()
	})
	return err
}

// Do runs fn on the loop with the current runtime, which may be nil.
func (h *Host) Do(fn func(rt *luahost.Runtime) (any, error)) (any, error) {
	return h.Loop.Do(func() (any, error) {
		return fn(h.runtime)
	})
}

// Stop closes the runtime and stops the loop.
func (h *Host) Stop() {
	h.Loop.Stop()
}

func (h *Host) load() error {
	cfg := h.Config
	rt, err := luahost.New(
		luahost.WithEnvironment(cfg.Lua.Environment),
		luahost.WithScriptDir(cfg.Lua.Path),
		luahost.WithLogger(h.log),
	)
	if err != nil {
		return err
	}
	h.Loader.Preload(rt)
	if h.hooks != nil && h.hooks.BeforeRun != nil {
		if err := h.hooks.BeforeRun(rt); err != nil {
			rt.Close()
			return err
		}
	}

	main := filepath.Join(cfg.Lua.Path, cfg.Lua.Main)
	if err := rt.DoFile(main); err != nil {
		rt.Close()
		return fmt.Errorf("%s: %w", main, err)
	}
	h.Loop.Attach(rt)
	h.runtime = rt
	h.Log(1, "running %s", main)
	return nil
}

// runHost runs the entry script until interrupted.
func runHost(args []string, hooks *Hooks) int {
	cfg, rest, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	if len(rest) > 0 {
		cfg.Lua.Path = filepath.Dir(rest[0])
		cfg.Lua.Main = filepath.Base(rest[0])
	}
	log := cfg.Logger()

	sdk := galaxy.NewClient(cfg.Galaxy.URL, cfg.Galaxy.Timeout.Duration(), log)
	h := NewHost(cfg, sdk, hooks)
	if err := h.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		h.Stop()
		return 1
	}
	defer h.Stop()

	if cfg.Lua.HotLoad {
		hl, err := luahost.NewHotLoader(cfg.Lua.Path, 0, func(path string) {
			h.Log(1, "reloading after change to %s", path)
			if err := h.Reload(); err != nil {
				log.Err().Err(err).Log("host: reload failed")
			}
		}, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error starting hot loader: %v\n", err)
			return 1
		}
		if err := hl.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting hot loader: %v\n", err)
			return 1
		}
		defer hl.Stop()
	}

	waitForSignal()
	h.Log(1, "shutting down")
	return 0
}

// runMock serves the mock platform until interrupted.
func runMock(args []string) int {
	cfg, _, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	log := cfg.Logger()

	mux := http.NewServeMux()
	mux.Handle("/galaxy", galaxy.NewMockServer(cfg.Galaxy.ClientID, cfg.Galaxy.ClientSecret, log))
	srv := &http.Server{Addr: cfg.Galaxy.MockAddr, Handler: mux}

	go func() {
		waitForSignal()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Info().Str("addr", cfg.Galaxy.MockAddr).Log("mock platform listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	<-sig
}
