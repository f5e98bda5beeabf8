// Package manifest handles the optional libship.jsonc manifest.
//
// A repository that publishes libraries with libship can check in a
// manifest naming the library set and per-repo overrides (image reference,
// packaging command) so operators don't have to repeat them on the command
// line. The manifest supports JSONC (JSON with Comments), so this package
// uses github.com/tidwall/jsonc to strip comments before parsing with the
// standard encoding/json library.
//
// Precedence: CLI arguments > manifest > config defaults.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/mmr-tortoise/libship/internal/model"
)

// DefaultFileName is the manifest file looked up in the working tree when
// no explicit path is given.
const DefaultFileName = "libship.jsonc"

// Manifest is the parsed libship.jsonc structure. Every field is optional;
// absent fields leave the corresponding config value untouched.
type Manifest struct {
	// Libraries is the ordered library set to publish.
	Libraries []string `json:"libraries,omitempty"`

	// Image overrides the builder image reference.
	Image *ImageOverride `json:"image,omitempty"`

	// Command overrides the packaging command.
	Command []string `json:"command,omitempty"`
}

// ImageOverride overrides parts of the builder image reference.
type ImageOverride struct {
	Name string `json:"name,omitempty"`
	Tag  string `json:"tag,omitempty"`
}

// Load reads and parses a manifest file, stripping JSONC comments first.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// Find looks for the default manifest file in dir. Returns the manifest
// and true if present, or nil and false when the file does not exist.
func Find(dir string) (*Manifest, bool, error) {
	path := filepath.Join(dir, DefaultFileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, false, nil
	}

	m, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// Validate checks library names and override shapes.
func (m *Manifest) Validate() error {
	for _, name := range m.Libraries {
		if err := model.ValidateName(name); err != nil {
			return err
		}
	}
	if m.Image != nil && m.Image.Name == "" && m.Image.Tag == "" {
		return fmt.Errorf("image override must set name or tag")
	}
	return nil
}
