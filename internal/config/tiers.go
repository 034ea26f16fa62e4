package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// TierSeed is one tier definition in a seed file.
type TierSeed struct {
	Name       string  `toml:"name" yaml:"name"`
	Threshold  float64 `toml:"threshold" yaml:"threshold"`
	PointsRate float64 `toml:"points_rate" yaml:"points_rate"`
	SortOrder  int     `toml:"sort_order" yaml:"sort_order"`
}

// TierSeedFile is the document layout of a tier seed file:
//
//	[[tiers]]
//	name = "Bronze"
//	threshold = 0
//	points_rate = 5
type TierSeedFile struct {
	Tiers []TierSeed `toml:"tiers" yaml:"tiers"`
}

// LoadTierSeeds reads tier definitions from a .toml, .yaml or .yml file.
func LoadTierSeeds(path string) ([]TierSeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tier seed file: %w", err)
	}
	defer f.Close()

	var doc TierSeedFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		dec := toml.NewDecoder(f)
		dec.DisallowUnknownFields()
		err = dec.Decode(&doc)
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		err = dec.Decode(&doc)
	default:
		return nil, fmt.Errorf("unsupported tier seed format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode tier seed file: %w", err)
	}

	for i, t := range doc.Tiers {
		if strings.TrimSpace(t.Name) == "" {
			return nil, fmt.Errorf("tier %d: name is required", i)
		}
		if t.Threshold < 0 {
			return nil, fmt.Errorf("tier %q: threshold must not be negative", t.Name)
		}
		if t.PointsRate < 0 {
			return nil, fmt.Errorf("tier %q: points_rate must not be negative", t.Name)
		}
	}
	return doc.Tiers, nil
}
