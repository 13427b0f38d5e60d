package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/bukudoa/internal/release"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(zerolog.Nop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBumpCommand(t *testing.T) {
	out, err := run(t, "bump", "v1.4.9", "--kind", "minor")
	require.NoError(t, err)
	assert.Equal(t, "1.5.0\n", out)

	_, err = run(t, "bump", "banana")
	assert.Error(t, err)
}

func TestCacheVersionCommand(t *testing.T) {
	out, err := run(t, "cache-version", "2.0.1")
	require.NoError(t, err)
	assert.Equal(t, "buku-doa-v2.0.1\n", out)
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "--package-version", "3.1.0")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "v3.1.0-"), out)
}

func TestDescriptorCommand_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "version.json")

	_, err := run(t, "descriptor", "--version", "v9.9.9", "--env", "staging", "-o", path)
	require.NoError(t, err)

	d, err := release.ReadDescriptor(path)
	require.NoError(t, err)
	assert.Equal(t, "v9.9.9", d.Version)
	assert.Equal(t, "staging", d.Environment)
	assert.NotZero(t, d.Timestamp)
}

func TestManifestCommand_Stdout(t *testing.T) {
	dist := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "sw.js"), []byte("self"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "notes.txt"), []byte("x"), 0o644))

	out, err := run(t, "manifest", dist)
	require.NoError(t, err)

	var entries []release.ManifestEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "/index.html", entries[0].URL)
	assert.Len(t, entries[0].Revision, 32)
}
