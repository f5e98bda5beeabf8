package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeManifest is a test helper that writes content to a manifest file in
// a temp directory and returns the directory.
func writeManifest(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return dir
}

// TestLoad verifies parsing of a manifest with JSONC comments.
func TestLoad(t *testing.T) {
	dir := writeManifest(t, `{
		// libraries are published in this order
		"libraries": ["sqllib", "cachelib"],
		"image": {"name": "custom-builder", "tag": "v3"},
		"command": ["pyb", "publish"], // trailing comment
	}`)

	m, err := Load(filepath.Join(dir, DefaultFileName))
	require.NoError(t, err)

	assert.Equal(t, []string{"sqllib", "cachelib"}, m.Libraries)
	require.NotNil(t, m.Image)
	assert.Equal(t, "custom-builder", m.Image.Name)
	assert.Equal(t, "v3", m.Image.Tag)
	assert.Equal(t, []string{"pyb", "publish"}, m.Command)
}

// TestLoadInvalidLibraryName verifies name validation is applied to the
// manifest's library list.
func TestLoadInvalidLibraryName(t *testing.T) {
	dir := writeManifest(t, `{"libraries": ["../etc"]}`)

	_, err := Load(filepath.Join(dir, DefaultFileName))
	assert.Error(t, err)
}

// TestLoadMalformed verifies a syntax error is reported with the file path.
func TestLoadMalformed(t *testing.T) {
	dir := writeManifest(t, `{"libraries": [`)

	_, err := Load(filepath.Join(dir, DefaultFileName))
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultFileName)
}

// TestFind verifies the optional lookup: present manifests are loaded,
// absent ones are not an error.
func TestFind(t *testing.T) {
	dir := writeManifest(t, `{"libraries": ["sqllib"]}`)

	m, ok, err := Find(dir)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"sqllib"}, m.Libraries)

	m, ok, err = Find(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, m)
}

// TestFindBrokenManifest verifies that a present but unparseable manifest
// is surfaced as an error rather than silently ignored.
func TestFindBrokenManifest(t *testing.T) {
	dir := writeManifest(t, `not json`)

	_, _, err := Find(dir)
	assert.Error(t, err)
}

// TestValidateImageOverride verifies an empty image override is rejected.
func TestValidateImageOverride(t *testing.T) {
	m := &Manifest{Image: &ImageOverride{}}
	assert.Error(t, m.Validate())

	m = &Manifest{Image: &ImageOverride{Tag: "v2"}}
	assert.NoError(t, m.Validate())
}
