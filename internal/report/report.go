// Package report collects the package artifacts a run produced and writes
// the run report to disk.
//
// The packaging tool writes package files under <library>/target/dist
// inside each library's bind-mounted directory, so after the run they are
// present on the host and can be enumerated without touching Docker.
package report

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/libship/internal/model"
)

// distSubdir is where the packaging tool places finished package files,
// relative to a library directory.
var distSubdir = filepath.Join("target", "dist")

// CollectArtifacts scans each library's target/dist directory under root
// and returns the package files found, in library order. A library with no
// dist directory (failed or skipped build) simply contributes nothing.
func CollectArtifacts(root string, libraries []model.Library) ([]model.Artifact, error) {
	var artifacts []model.Artifact

	for _, lib := range libraries {
		distDir := filepath.Join(root, lib.Name, distSubdir)
		if _, err := os.Stat(distDir); os.IsNotExist(err) {
			continue
		}

		err := filepath.WalkDir(distDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			artifacts = append(artifacts, model.Artifact{
				Library: lib.Name,
				Path:    path,
				Size:    info.Size(),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifacts for %s: %w", lib.Name, err)
		}
	}

	return artifacts, nil
}

// Write serializes the report to path. The format follows the file
// extension: .yaml/.yml produce YAML, anything else JSON.
func Write(path string, report *model.RunReport) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(report)
	default:
		data, err = json.MarshalIndent(report, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize run report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write run report to %s: %w", path, err)
	}
	return nil
}
