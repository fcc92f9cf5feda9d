package refpool

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config holds the engine options loadable from a config file. The file is
// JWCC (JSON with comments and trailing commas).
type Config struct {
	MemLimit    uint64 `json:"mem_limit"`    //nolint:tagliatelle // snake_case for config file
	DeviceLimit uint64 `json:"device_limit"` //nolint:tagliatelle // snake_case for config file
	Policy      string `json:"policy,omitempty"`
	Retain      bool   `json:"retain,omitempty"`
	Dir         string `json:"dir"`
	Gzip        bool   `json:"gzip,omitempty"`
}

// DefaultConfig returns the default configuration. Limits and the spill
// directory have no usable defaults and must be set.
func DefaultConfig() Config {
	return Config{
		Policy: "LRU",
	}
}

// LoadConfig reads a JWCC config file and merges it over the defaults.
// Parse failures and precondition violations are [ErrInvalidConfig].
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

func parseConfig(data []byte) (Config, error) {
	// Standardize JWCC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JWCC: %w", err)
	}

	cfg := DefaultConfig()

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.MemLimit == 0 {
		return fmt.Errorf("%w: mem_limit must be positive", ErrInvalidConfig)
	}

	if c.DeviceLimit == 0 {
		return fmt.Errorf("%w: device_limit must be positive", ErrInvalidConfig)
	}

	if c.Dir == "" {
		return fmt.Errorf("%w: dir cannot be empty", ErrInvalidConfig)
	}

	if _, err := ParsePolicy(c.Policy); err != nil {
		return err
	}

	return nil
}

// Build constructs the allocator the config describes: a gzip-filtered (if
// configured) file device under Dir as the lower tier, memory as the
// upper.
func (c Config) Build() (*SimpleRecencyAllocator, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	policy, err := ParsePolicy(c.Policy)
	if err != nil {
		return nil, err
	}

	var fileOpts []FileDeviceOption
	if c.Gzip {
		fileOpts = append(fileOpts, WithFilters(GzipFilter()))
	}

	lower, err := NewSerializationFileDevice(c.Dir, fileOpts...)
	if err != nil {
		return nil, err
	}

	return NewSimpleRecencyAllocator(AllocatorOptions{
		MemLimit:    c.MemLimit,
		DeviceLimit: c.DeviceLimit,
		Lower:       lower,
		Policy:      policy,
		Retain:      c.Retain,
	})
}
