package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogAllowList(t *testing.T) {
	catalog, err := NewCatalog([]string{"firefox", " gedit ", "libre*", ""})
	require.NoError(t, err)

	tests := []struct {
		name string
		want bool
	}{
		{"firefox", true},
		{"gedit", true},
		{"libreoffice", true},
		{"libre", true},
		{"xterm", false},
		{"../firefox", false},
		{"bin/firefox", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, catalog.Allowed(tt.name))
		})
	}
}

func TestCatalogRejectsBadPattern(t *testing.T) {
	_, err := NewCatalog([]string{"fire[fox"})
	assert.Error(t, err)
}

func TestCatalogResolveDefaultsProgramToName(t *testing.T) {
	catalog, err := NewCatalog([]string{"gedit"})
	require.NoError(t, err)

	spec, ok := catalog.Resolve("gedit")
	require.True(t, ok)
	assert.Equal(t, "gedit", spec.Program)
	assert.Empty(t, spec.Args)

	_, ok = catalog.Resolve("firefox")
	assert.False(t, ok)
}

func TestLoadCatalogYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
applications:
  - name: code
    program: code
    args: ["--no-sandbox", "--disable-gpu"]
    display_name: VS Code
    env:
      ELECTRON_NO_ATTACH_CONSOLE: "1"
`), 0o644))

	catalog, err := LoadCatalog([]string{"gedit"}, path)
	require.NoError(t, err)

	spec, ok := catalog.Resolve("code")
	require.True(t, ok)
	assert.Equal(t, []string{"--no-sandbox", "--disable-gpu"}, spec.Args)
	assert.Equal(t, "VS Code", spec.DisplayName)
	assert.Equal(t, "1", spec.Env["ELECTRON_NO_ATTACH_CONSOLE"])
	assert.True(t, catalog.Allowed("gedit"))
}

func TestLoadCatalogTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apps.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[applications]]
name = "cursor"
program = "/opt/cursor/cursor"
args = ["--no-sandbox"]
description = "AI editor"
`), 0o644))

	catalog, err := LoadCatalog(nil, path)
	require.NoError(t, err)

	spec, ok := catalog.Resolve("cursor")
	require.True(t, ok)
	assert.Equal(t, "/opt/cursor/cursor", spec.Program)
	assert.Equal(t, "cursor", spec.DisplayName)
	assert.Equal(t, "AI editor", spec.Description)
}

func TestLoadCatalogErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCatalog(nil, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "apps.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{}`), 0o644))
	_, err = LoadCatalog(nil, bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "apps.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("applications:\n  - name: \"bad name!\"\n"), 0o644))
	_, err = LoadCatalog(nil, invalid)
	assert.Error(t, err)
}

func TestCatalogEntriesSkipsGlobs(t *testing.T) {
	catalog, err := NewCatalog([]string{"sh", "libre*", "definitely-not-installed-app"})
	require.NoError(t, err)

	entries := catalog.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "definitely-not-installed-app", entries[0].Name)
	assert.False(t, entries[0].Available)
	assert.Equal(t, "sh", entries[1].Name)

	for _, a := range catalog.Available() {
		assert.NotEqual(t, "definitely-not-installed-app", a.Name)
	}
}
