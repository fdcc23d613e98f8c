package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mantonx/avrecorder/types"
)

// loadConfigFile reads a types.Config from YAML, matching the teacher's and
// Koodeyo-Media-shaka-streamer-go's yaml.v3-based config loading. Only the
// fields present in the schema table of spec.md §6 are populated; anything
// absent is left to Config.Validate's defaulting.
func loadConfigFile(path string) (types.Config, error) {
	var cfg types.Config
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
