// Package cli is the galaxy-lua command line. Wrapper binaries can call
// RunWithHooks to add commands or preload their own Lua modules.
package cli

import (
	"fmt"
	"os"
)

// Hooks lets a wrapper binary customize the command line.
type Hooks struct {
	// BeforeDispatch sees every command first. Returning handled=true
	// exits with exitCode without running the built-in command.
	BeforeDispatch func(command string, args []string) (handled bool, exitCode int)

	// BeforeRun is called with each new runtime before its entry script
	// runs, so wrappers can preload their own modules.
	BeforeRun func(rt *Runtime) error

	// CustomHelp is printed after the built-in help.
	CustomHelp func() string

	// CustomVersion is printed after the version line.
	CustomVersion func() string
}

// Run runs the command line and returns the process exit code.
func Run(args []string) int {
	return RunWithHooks(args, nil)
}

// RunWithHooks is Run with wrapper hooks; hooks may be nil.
func RunWithHooks(args []string, hooks *Hooks) int {
	if len(args) < 1 {
		return runHost(args, hooks)
	}

	command := args[0]
	cmdArgs := args[1:]

	if hooks != nil && hooks.BeforeDispatch != nil {
		if handled, code := hooks.BeforeDispatch(command, cmdArgs); handled {
			return code
		}
	}

	switch command {
	case "run":
		return runHost(cmdArgs, hooks)
	case "mock":
		return runMock(cmdArgs)
	case "help", "-h", "--help":
		printHelp(hooks)
		return 0
	case "version", "--version":
		printVersion(hooks)
		return 0
	default:
		if len(command) > 0 && command[0] == '-' {
			return runHost(args, hooks)
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printHelp(hooks)
		return 1
	}
}

func printHelp(hooks *Hooks) {
	fmt.Println(`galaxy-lua

Usage: galaxy-lua [command] [options] [script]

Commands:
  run             Run a Lua script with plugin.gog available (default)
  mock            Serve a mock Galaxy platform for local testing

Options:
  --dir           Project directory holding config/ and the script directory
  --config        Config file (.toml, .yaml or .yml)
  --url           Platform websocket URL (default: ws://127.0.0.1:8910/galaxy)
  --client-id     Client id used when config.lua has none
  --client-secret Client secret used when config.lua has none
  --timeout       Platform request timeout (default: 5s)
  --mock-addr     Mock platform listen address (default: 127.0.0.1:8910)
  --lua-path      Lua scripts directory (default: lua/)
  --main          Entry script (default: main.lua)
  --environment   Reported environment: device or simulator
  --hotload       Restart the script when a .lua file changes
  --fps           Frames per second (default: 30)
  --log-level     Log level: trace, debug, info, warning, err
  -v, -vv, -vvv   Verbosity

Environment:
  GALAXY_URL, GALAXY_CLIENT_ID, GALAXY_CLIENT_SECRET, GALAXY_TIMEOUT,
  GALAXY_MOCK_ADDR, GALAXY_LUA_PATH, GALAXY_LUA_MAIN, GALAXY_ENVIRONMENT,
  GALAXY_HOTLOAD, GALAXY_FPS, GALAXY_LOG_LEVEL, GALAXY_VERBOSITY

Examples:
  galaxy-lua mock --client-id demo --client-secret s3cret
  galaxy-lua run --lua-path game/ --hotload -vv
  galaxy-lua game/main.lua`)

	if hooks != nil && hooks.CustomHelp != nil {
		fmt.Println(hooks.CustomHelp())
	}
}

func printVersion(hooks *Hooks) {
	fmt.Println("galaxy-lua v0.1.0")
	if hooks != nil && hooks.CustomVersion != nil {
		fmt.Println(hooks.CustomVersion())
	}
}
