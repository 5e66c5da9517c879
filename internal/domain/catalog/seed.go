package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeedEntry is one item of a catalog seed file. Active defaults to true.
type SeedEntry struct {
	Code        string `yaml:"code" json:"code"`
	Description string `yaml:"description" json:"description"`
	Category    string `yaml:"category" json:"category"`
	Active      *bool  `yaml:"active" json:"active"`
}

func (se SeedEntry) Entry() *Entry {
	active := true
	if se.Active != nil {
		active = *se.Active
	}
	return &Entry{
		Code:        se.Code,
		Description: se.Description,
		Category:    Category(se.Category),
		Active:      active,
	}
}

// LoadSeedFile reads a flat list of entries from a .json, .yaml or .yml
// file.
func LoadSeedFile(path string) ([]SeedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(filepath.Ext(path), data)
}

func ParseSeed(ext string, data []byte) ([]SeedEntry, error) {
	var entries []SeedEntry
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse json seed: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse yaml seed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported seed format %q (want .json, .yaml or .yml)", ext)
	}
	return entries, nil
}
