// Package config handles all the user-configuration. The fields here are
// all in PascalCase but in your actual config.yml they'll be in camelCase.
// You can view the default config with `glider --config`.
package config

// UserConfig holds all of the user-configurable options
type UserConfig struct {
	// Trace determines how much the tracer digs out of the target and how
	// the trace is rendered
	Trace TraceConfig `yaml:"trace,omitempty"`

	// Modules controls discovery of per-executable analysis modules
	Modules ModulesConfig `yaml:"modules,omitempty"`
}

// TraceConfig is for configuring the content of the emitted trace
type TraceConfig struct {
	// MaxFrames caps the number of frames walked per thread. Unwinding a
	// corrupted stack can otherwise wander for a very long time before one
	// of the termination conditions kicks in
	MaxFrames int `yaml:"maxFrames,omitempty"`

	// ShowMemoryMap determines whether the coalesced memory map dump is
	// included at the top of the trace
	ShowMemoryMap bool `yaml:"showMemoryMap,omitempty"`

	// PrintParams determines whether frame parameters are resolved through
	// debug info and pretty-printed under each frame. Turning this off makes
	// traces much shorter and much less useful
	PrintParams bool `yaml:"printParams,omitempty"`

	// MaxStringLength caps how many bytes are chased when rendering char*
	// parameters
	MaxStringLength int `yaml:"maxStringLength,omitempty"`

	// HeartbeatFile is the path of the worker's heartbeat segment. When set,
	// the worker's last known state and tick count are reported in the trace
	// header
	HeartbeatFile string `yaml:"heartbeatFile,omitempty"`
}

// ModulesConfig is for configuring analysis module discovery
type ModulesConfig struct {
	// Disabled turns off module discovery entirely, which is useful when a
	// misbehaving module gets in the way of the trace itself
	Disabled bool `yaml:"disabled,omitempty"`
}

// GetDefaultConfig returns the application default configuration
func GetDefaultConfig() UserConfig {
	return UserConfig{
		Trace: TraceConfig{
			MaxFrames:       256,
			ShowMemoryMap:   true,
			PrintParams:     true,
			MaxStringLength: 128,
		},
		Modules: ModulesConfig{
			Disabled: false,
		},
	}
}
