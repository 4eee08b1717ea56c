// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Platform selects the backend a host renders to.
type Platform int

const (
	PlatformDRM      Platform = iota // Direct Rendering Manager, no X/Wayland
	PlatformHeadless                 // No visual output
	PlatformGTK4                     // GTK4 desktop window
	PlatformWayland                  // Native Wayland
	PlatformX11                      // Native X11
	PlatformAuto                     // Use PlatformName, then the default
)

// DefaultPlatformName is used when neither Platform nor PlatformName selects one.
const DefaultPlatformName = "drm"

var platformNames = map[Platform]string{
	PlatformDRM:      "drm",
	PlatformHeadless: "headless",
	PlatformGTK4:     "gtk4",
	PlatformWayland:  "wayland",
	PlatformX11:      "x11",
	PlatformAuto:     "auto",
}

// Platforms lists every concrete platform, in declaration order.
func Platforms() []Platform {
	return []Platform{PlatformDRM, PlatformHeadless, PlatformGTK4, PlatformWayland, PlatformX11}
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePlatform parses a platform name. The empty string parses as PlatformAuto.
func ParsePlatform(name string) (Platform, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return PlatformAuto, nil
	}
	for p, n := range platformNames {
		if n == name {
			return p, nil
		}
	}
	return PlatformAuto, fmt.Errorf("unknown platform %q", name)
}

// Config holds the host configuration. It is passed through to the backend and
// its views; the bridge itself only consults EnableConsole.
type Config struct {
	Width                 int      `json:"width"`                   // Viewport width
	Height                int      `json:"height"`                  // Viewport height
	EnableConsole         bool     `json:"enable_console"`          // Route console messages
	EnableDeveloperExtras bool     `json:"enable_developer_extras"` // Enable developer tools
	CacheDir              string   `json:"cache_dir"`               // Cache directory, empty for default
	DataDir               string   `json:"data_dir"`                // Data directory, empty for default
	UserAgent             string   `json:"user_agent"`              // User agent override, empty for default
	Platform              Platform `json:"platform"`                // Platform backend
	PlatformName          string   `json:"platform_name"`           // Deprecated: use Platform
	ModuleDir             string   `json:"module_dir"`              // Platform module directory override
}

// DefaultConfig returns the default host configuration.
func DefaultConfig() *Config {
	return &Config{
		Width:         1920,
		Height:        1080,
		EnableConsole: true,
		Platform:      PlatformAuto,
	}
}

// ResolvePlatformName returns the platform the host should set up: Platform when
// it is not PlatformAuto, then the deprecated PlatformName, then DefaultPlatformName.
func (c *Config) ResolvePlatformName() string {
	if c.Platform != PlatformAuto {
		if name, ok := platformNames[c.Platform]; ok {
			return name
		}
	}
	if c.PlatformName != "" {
		return c.PlatformName
	}
	return DefaultPlatformName
}

// LoadConfig reads a configuration file (TOML, YAML or JSON, by extension) on top
// of the defaults. Environment variables prefixed with COGBRIDGE_ override both,
// e.g. COGBRIDGE_USER_AGENT. An empty path reads the environment only.
func LoadConfig(path string) (*Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetDefault("width", def.Width)
	v.SetDefault("height", def.Height)
	v.SetDefault("enable_console", def.EnableConsole)
	v.SetDefault("enable_developer_extras", def.EnableDeveloperExtras)
	v.SetDefault("cache_dir", "")
	v.SetDefault("data_dir", "")
	v.SetDefault("user_agent", "")
	v.SetDefault("platform", "")
	v.SetDefault("platform_name", "")
	v.SetDefault("module_dir", "")

	v.SetEnvPrefix("COGBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	platform, err := ParsePlatform(v.GetString("platform"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &Config{
		Width:                 v.GetInt("width"),
		Height:                v.GetInt("height"),
		EnableConsole:         v.GetBool("enable_console"),
		EnableDeveloperExtras: v.GetBool("enable_developer_extras"),
		CacheDir:              v.GetString("cache_dir"),
		DataDir:               v.GetString("data_dir"),
		UserAgent:             v.GetString("user_agent"),
		Platform:              platform,
		PlatformName:          v.GetString("platform_name"),
		ModuleDir:             v.GetString("module_dir"),
	}, nil
}
