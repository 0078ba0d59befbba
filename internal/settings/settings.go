// Package settings manages cfnview's user-scope (global) settings and keeps
// them reconciled with the linter's expectations: the YAML custom-tag list
// used for autocomplete and the overlapping validation toggles.
package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Settings is the persisted user-scope configuration.
type Settings struct {
	Autocomplete AutocompleteSettings `yaml:"autocomplete"`
	Validation   ValidationSettings   `yaml:"validation"`
}

// AutocompleteSettings controls tag completion for CloudFormation templates.
type AutocompleteSettings struct {
	Enabled    bool     `yaml:"enabled"`
	CustomTags []string `yaml:"custom_tags,omitempty"`
}

// ValidationSettings holds the two overlapping validation toggles. Both are
// tri-state: nil means unset at this scope.
type ValidationSettings struct {
	// GenericYAML enables the generic YAML validator.
	GenericYAML *bool `yaml:"generic_yaml,omitempty"`
	// Schema enables the linter's own JSON-schema validation.
	Schema *bool `yaml:"schema,omitempty"`
}

// Store reads and writes the global settings file.
type Store struct {
	path string
}

// NewStore creates a store for an explicit path. Used by tests.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultStore locates the settings file under the XDG config home.
func DefaultStore() (*Store, error) {
	path, err := xdg.ConfigFile("cfnview/settings.yaml")
	if err != nil {
		return nil, fmt.Errorf("locating settings file: %w", err)
	}
	return &Store{path: path}, nil
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Load reads the settings. A missing file yields defaults, not an error.
func (s *Store) Load() (*Settings, error) {
	var st Settings
	st.Autocomplete.Enabled = true

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &st, nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", s.path, err)
	}
	return &st, nil
}

// Save persists the settings at global scope.
func (s *Store) Save(st *Settings) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	return nil
}
