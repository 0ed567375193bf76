package cli

import (
	"github.com/zot/galaxy-lua/internal/config"
)

// Host configuration, for wrappers that build a Host themselves.
type (
	Config        = config.Config
	GalaxyConfig  = config.GalaxyConfig
	LuaConfig     = config.LuaConfig
	FrameConfig   = config.FrameConfig
	LoggingConfig = config.LoggingConfig
	Duration      = config.Duration
)

var (
	DefaultConfig = config.DefaultConfig
	LoadConfig    = config.Load
)
