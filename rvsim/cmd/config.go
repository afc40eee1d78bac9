package cmd

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/jitvm/rvsim/rvsim/sim"
)

// Config is the optional YAML run configuration, for the knobs that are too
// noisy as CLI flags: simulator construction options plus the debugging
// surface (breakpoints and stop codes).
type Config struct {
	StackSize   uint64 `yaml:"stack-size"`
	StrictAlign bool   `yaml:"strict-align"`

	// Breakpoints are guest addresses, hex or decimal strings.
	Breakpoints []string `yaml:"breakpoints"`
	// DisabledStops are stop codes that count but do not halt.
	DisabledStops []uint32 `yaml:"disabled-stops"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	return &cfg, nil
}

// Apply installs the debugging parts of the config on a constructed instance.
func (c *Config) Apply(s *sim.Simulator) error {
	for _, b := range c.Breakpoints {
		addr, err := strconv.ParseUint(b, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid breakpoint address %q: %w", b, err)
		}
		s.SetBreakpoint(addr, false)
	}
	for _, code := range c.DisabledStops {
		s.DisableStop(code)
	}
	return nil
}
