package authgate

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// LoadConfigFile decodes a TOML file over DefaultConfig and validates the
// result. Durations are written as strings such as "1h" or "90s".
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
