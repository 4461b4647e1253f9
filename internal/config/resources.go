package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// rootPattern limits resource roots to flat, colon-free namespace labels so
// the dirty/tombstone scan patterns stay unambiguous.
var rootPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Resource defines one cached resource namespace. Per-resource timing
// overrides are optional; zero values fall back to the process defaults.
type Resource struct {
	// Root is the first path segment and hot-tier key prefix, e.g. "posts".
	Root string `yaml:"root"`
	// Table is the database table the default writer/deleter target.
	Table string `yaml:"table"`
	// TTLClean / TTLDeleted / WriteInterval override the process defaults
	// for this resource when non-zero.
	TTLClean      Duration `yaml:"ttl_clean"`
	TTLDeleted    Duration `yaml:"ttl_deleted"`
	WriteInterval Duration `yaml:"write_interval"`
}

type resourcesFile struct {
	Resources []Resource `yaml:"resources"`
}

// LoadResources reads resource definitions from a YAML file. Roots must be
// unique and match the namespace-label pattern.
func LoadResources(path string) ([]Resource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resources: read %s: %w", path, err)
	}
	return ParseResources(raw)
}

// ParseResources decodes and validates resource definitions.
func ParseResources(raw []byte) ([]Resource, error) {
	var f resourcesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("resources: parse: %w", err)
	}
	if len(f.Resources) == 0 {
		return nil, fmt.Errorf("resources: no resources defined")
	}

	seen := make(map[string]bool, len(f.Resources))
	for i, r := range f.Resources {
		if !rootPattern.MatchString(r.Root) {
			return nil, fmt.Errorf("resources[%d]: invalid root %q", i, r.Root)
		}
		if seen[r.Root] {
			return nil, fmt.Errorf("resources: duplicate root %q", r.Root)
		}
		seen[r.Root] = true
		if r.Table == "" {
			f.Resources[i].Table = r.Root
		}
	}
	return f.Resources, nil
}

// CacheConfigFor merges a resource's overrides onto the base timings.
func (r Resource) CacheConfigFor(base CacheConfig) CacheConfig {
	out := base
	if r.WriteInterval.Std() > 0 {
		out.WriteInterval = r.WriteInterval
	}
	if r.TTLClean.Std() > 0 {
		out.TTLClean = r.TTLClean
	}
	if r.TTLDeleted.Std() > 0 {
		out.TTLDeleted = r.TTLDeleted
	}
	return out
}
