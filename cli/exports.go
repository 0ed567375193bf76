// This file re-exports internal packages for wrapper projects.
package cli

import (
	"github.com/zot/galaxy-lua/internal/bridge"
	"github.com/zot/galaxy-lua/internal/galaxy"
	"github.com/zot/galaxy-lua/internal/luahost"
	"github.com/zot/galaxy-lua/internal/plugin"
)

// Re-export runtime and plugin types
type (
	Runtime   = luahost.Runtime
	Loop      = luahost.Loop
	Instances = bridge.Instances
	Loader    = plugin.Loader
	SDK       = galaxy.SDK
	Client    = galaxy.Client
	// MockServer serves the platform protocol in-process.
	MockServer = galaxy.MockServer
)

// Re-export constructors
var (
	NewRuntime    = luahost.New
	NewInstances  = bridge.NewInstances
	NewClient     = galaxy.NewClient
	NewMockServer = galaxy.NewMockServer
)
