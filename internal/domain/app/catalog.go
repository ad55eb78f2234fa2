package app

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/appshare/internal/shared/types"
	"github.com/GriffinCanCode/appshare/internal/shared/utils"
)

// LaunchSpec describes how to start one application
type LaunchSpec struct {
	Name        string            `yaml:"name" toml:"name"`
	Program     string            `yaml:"program" toml:"program"`
	Args        []string          `yaml:"args" toml:"args"`
	Env         map[string]string `yaml:"env" toml:"env"`
	DisplayName string            `yaml:"display_name" toml:"display_name"`
	Description string            `yaml:"description" toml:"description"`
}

type catalogFile struct {
	Applications []LaunchSpec `yaml:"applications" toml:"applications"`
}

// Catalog is the launch allow-list plus per-application launch specs.
// Allow-list entries may be glob patterns ("libre*"); a name that matches
// a pattern but has no spec launches the program of the same name.
type Catalog struct {
	patterns []string
	specs    map[string]LaunchSpec
}

// NewCatalog builds a catalog from allow-list entries and explicit specs.
// Every spec's name is allowed implicitly.
func NewCatalog(allowed []string, specs ...LaunchSpec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]LaunchSpec)}

	for _, p := range allowed {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid allow-list pattern %q", p)
		}
		c.patterns = append(c.patterns, p)
	}

	for _, spec := range specs {
		if err := utils.ValidateApplicationName(spec.Name); err != nil {
			return nil, fmt.Errorf("catalog entry: %w", err)
		}
		if spec.Program == "" {
			spec.Program = spec.Name
		}
		if spec.DisplayName == "" {
			spec.DisplayName = spec.Name
		}
		c.specs[spec.Name] = spec
	}

	return c, nil
}

// LoadCatalog builds a catalog from allow-list entries and an optional
// YAML (.yaml, .yml) or TOML (.toml) file of launch specs
func LoadCatalog(allowed []string, path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(allowed)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".toml":
		err = toml.Unmarshal(data, &file)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	return NewCatalog(allowed, file.Applications...)
}

// Allowed reports whether name passes the allow-list
func (c *Catalog) Allowed(name string) bool {
	if utils.ValidateApplicationName(name) != nil {
		return false
	}
	if _, ok := c.specs[name]; ok {
		return true
	}
	for _, p := range c.patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// Resolve returns the launch spec for an allowed name
func (c *Catalog) Resolve(name string) (LaunchSpec, bool) {
	name = strings.TrimSpace(name)
	if !c.Allowed(name) {
		return LaunchSpec{}, false
	}
	if spec, ok := c.specs[name]; ok {
		return spec, true
	}
	return LaunchSpec{Name: name, Program: name, DisplayName: name}, true
}

// Entries lists every concrete (non-glob) catalogue name, sorted
func (c *Catalog) Entries() []types.Application {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, p := range c.patterns {
		if !strings.ContainsAny(p, `*?[{\`) {
			add(p)
		}
	}
	for name := range c.specs {
		add(name)
	}
	sort.Strings(names)

	apps := make([]types.Application, 0, len(names))
	for _, name := range names {
		spec, _ := c.Resolve(name)
		_, err := exec.LookPath(spec.Program)
		apps = append(apps, types.Application{
			Name:        spec.Name,
			DisplayName: spec.DisplayName,
			Description: spec.Description,
			Program:     spec.Program,
			Available:   err == nil,
		})
	}
	return apps
}

// Available lists catalogue entries whose program resolves on PATH
func (c *Catalog) Available() []types.Application {
	var out []types.Application
	for _, a := range c.Entries() {
		if a.Available {
			out = append(out, a)
		}
	}
	return out
}
