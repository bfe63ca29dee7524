package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeFlexible reads path and unmarshals it into v, picking YAML or JSON
// by file extension. StationList and GridFiles entries are flat key-value
// config files with no format opinion of their own; letting an operator
// author either is a small, natural extension.
func DecodeFlexible(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("parse %s as yaml: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("parse %s as json: %w", path, err)
		}
	}
	return nil
}
