package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/promptseal/internal/flagx"
	"gopkg.in/yaml.v3"
)

// parseFile overlays the JSON or YAML file at path onto cfg. Keys missing
// from the file keep their current value. The format is picked by extension;
// anything other than .yaml/.yml is read as JSON.
func parseFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// parseJson loads the file named by -c or -config in args, if any.
// It panics if the file cannot be read or decoded.
func parseJson(cfg *Config, args []string) {
	path := flagx.ConfigFileFlag(args)

	// nothing to load
	if path == "" {
		return
	}

	if err := parseFile(cfg, path); err != nil {
		panic(err)
	}
}
