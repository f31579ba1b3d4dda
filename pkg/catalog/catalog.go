// Package catalog lists the classes and subjects a fresh grade database is
// seeded with.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Semesters covered by every class/subject pair.
var Semesters = []int{1, 2}

// Catalog is the on-disk YAML schema.
type Catalog struct {
	Classes  []string `yaml:"classes" json:"classes"`
	Subjects []string `yaml:"subjects" json:"subjects"`
}

// Default returns the built-in catalog.
func Default() Catalog {
	return Catalog{
		Classes:  []string{"3T1", "3T2", "3MAB", "3ART", "3MSD", "4T1", "4T2", "4MAB", "4ART", "4MSD"},
		Subjects: []string{"SVT", "PC", "EFS", "TECHNO"},
	}
}

// Load reads a catalog file. An empty path yields the default catalog.
func Load(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and normalises YAML catalog content.
func Parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("catalog: parse: %w", err)
	}
	c.Classes = normalize(c.Classes)
	c.Subjects = normalize(c.Subjects)
	if err := c.validate(); err != nil {
		return Catalog{}, fmt.Errorf("catalog: %w", err)
	}
	return c, nil
}

func (c Catalog) validate() error {
	if len(c.Classes) == 0 {
		return fmt.Errorf("at least one class is required")
	}
	if len(c.Subjects) == 0 {
		return fmt.Errorf("at least one subject is required")
	}
	for _, class := range c.Classes {
		if strings.Contains(class, "_") {
			return fmt.Errorf("class %q must not contain '_'", class)
		}
	}
	return nil
}

func normalize(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
