package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/libship/internal/config"
	"github.com/mmr-tortoise/libship/internal/manifest"
)

func TestResolveLibraryNames(t *testing.T) {
	cfg := &config.Config{
		Runner: config.RunnerConfig{
			Libraries: []string{"sqllib", "configlib", "cachelib", "apilib"},
		},
	}

	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "no args falls back to configured set",
			args:     nil,
			expected: []string{"sqllib", "configlib", "cachelib", "apilib"},
		},
		{
			name:     "explicit args win over config",
			args:     []string{"sqllib", "cachelib"},
			expected: []string{"sqllib", "cachelib"},
		},
		{
			name:     "single quoted argument is split on whitespace",
			args:     []string{"sqllib cachelib"},
			expected: []string{"sqllib", "cachelib"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, err := resolveLibraryNames(tt.args, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, names)
		})
	}
}

func TestResolveLibraryNamesEmptyConfig(t *testing.T) {
	cfg := &config.Config{}

	_, err := resolveLibraryNames(nil, cfg)
	require.Error(t, err)
}

func TestApplyManifest(t *testing.T) {
	cfg := &config.Config{
		Image: config.ImageConfig{Name: "pylibs-builder", Tag: "latest"},
		Runner: config.RunnerConfig{
			Libraries: []string{"sqllib", "configlib"},
			Command:   []string{"pyb", "install_dependencies", "publish", "-v"},
		},
	}

	applyManifest(cfg, &manifest.Manifest{
		Libraries: []string{"apilib"},
		Image:     &manifest.ImageOverride{Tag: "py311"},
	})

	assert.Equal(t, []string{"apilib"}, cfg.Runner.Libraries)
	assert.Equal(t, "pylibs-builder", cfg.Image.Name, "unset override fields keep config values")
	assert.Equal(t, "py311", cfg.Image.Tag)
	assert.Equal(t, []string{"pyb", "install_dependencies", "publish", "-v"}, cfg.Runner.Command,
		"command untouched when the manifest does not set one")
}

func TestApplyManifestCommandOverride(t *testing.T) {
	cfg := &config.Config{
		Runner: config.RunnerConfig{Command: []string{"pyb", "publish"}},
	}

	applyManifest(cfg, &manifest.Manifest{Command: []string{"pyb", "install_dependencies", "publish"}})

	assert.Equal(t, []string{"pyb", "install_dependencies", "publish"}, cfg.Runner.Command)
}
