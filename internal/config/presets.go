package config

import (
	"sort"
	"time"
)

// Presets are named adjustments layered over DefaultConfig.
var Presets = map[string]func(*Config){
	"competition": func(c *Config) {},
	"bench": func(c *Config) {
		c.Plant.TimeConstant = 0
		c.Teleop.Deadband = 0.1
		c.OpenLoopRamp = 0
	},
	"carpet": func(c *Config) {
		c.Plant.TimeConstant = 120 * time.Millisecond
		c.Motion.Straight.CruiseVelocity = 1200
		c.Motion.Straight.Acceleration = 600
		c.Motion.ToleranceTicks = 40
		c.Teleop.Squared = true
	},
}

// GetPreset returns DefaultConfig with the named preset applied, or nil.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
