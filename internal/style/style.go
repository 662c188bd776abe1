// Package style loads YAML tag-filtering rules applied before a tag bag is
// persisted. Rules are grouped per entity kind.
package style

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Rules defines the tag filter for one entity kind.
type Rules struct {
	// Keep lists tag keys to retain. Empty means keep everything.
	Keep []string `yaml:"keep,omitempty"`
	// Drop lists tag keys to remove, applied after Keep.
	Drop []string `yaml:"drop,omitempty"`
	// RequireAny demands at least one of these keys be present, otherwise
	// the whole tag bag is discarded.
	RequireAny []string `yaml:"require_any,omitempty"`
}

// Config holds the per-kind filter rules.
type Config struct {
	Node     *Rules `yaml:"node,omitempty"`
	Way      *Rules `yaml:"way,omitempty"`
	Relation *Rules `yaml:"relation,omitempty"`
}

// Load reads a style configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}
	return &cfg, nil
}

func (c *Config) rulesFor(kind string) *Rules {
	if c == nil {
		return nil
	}
	switch kind {
	case "node":
		return c.Node
	case "way":
		return c.Way
	case "relation":
		return c.Relation
	}
	return nil
}

// Apply filters a tag bag in place according to the rules for kind. It
// returns the filtered bag, which is empty when RequireAny is not met.
func (c *Config) Apply(kind string, tags map[string]string) map[string]string {
	rules := c.rulesFor(kind)
	if rules == nil || len(tags) == 0 {
		return tags
	}
	if len(rules.RequireAny) > 0 {
		found := false
		for _, key := range rules.RequireAny {
			if _, ok := tags[key]; ok {
				found = true
				break
			}
		}
		if !found {
			return map[string]string{}
		}
	}
	if len(rules.Keep) > 0 {
		keep := make(map[string]bool, len(rules.Keep))
		for _, key := range rules.Keep {
			keep[key] = true
		}
		for key := range tags {
			if !keep[key] {
				delete(tags, key)
			}
		}
	}
	for _, key := range rules.Drop {
		delete(tags, key)
	}
	return tags
}
