package release

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultExtensions are the asset types precached from a dist tree
var DefaultExtensions = []string{"js", "css", "html", "ico", "png", "svg", "woff2", "otf", "ttf", "json"}

// DefaultIgnores are never precached; the worker script itself must not be
// served from its own cache
var DefaultIgnores = []string{"node_modules", "sw.js", "workbox-*.js", "version.json"}

// ManifestEntry is one precache manifest item. On the wire it is either a
// plain URL string or an object with url and revision.
type ManifestEntry struct {
	URL      string `json:"url"`
	Revision string `json:"revision,omitempty"`
}

// UnmarshalJSON accepts both entry shapes
func (e *ManifestEntry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = ManifestEntry{URL: s}
		return nil
	}

	type plain ManifestEntry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return fmt.Errorf("manifest entry must be a string or {url, revision}: %w", err)
	}
	*e = ManifestEntry(p)
	return nil
}

// DecodeManifest reads a JSON array of manifest entries
func DecodeManifest(r io.Reader) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode precache manifest: %w", err)
	}
	out := entries[:0]
	for _, e := range entries {
		if e.URL != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

// LoadManifest reads a manifest file. An empty path yields an empty manifest.
func LoadManifest(path string) ([]ManifestEntry, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	return DecodeManifest(f)
}

// WriteManifest writes entries as indented JSON
func WriteManifest(path string, entries []ManifestEntry) error {
	if entries == nil {
		entries = []ManifestEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// URLs returns the entry URLs in manifest order
func URLs(entries []ManifestEntry) []string {
	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.URL
	}
	return urls
}

// BuildManifest walks a dist directory and lists every asset whose extension
// is in exts and whose name matches none of ignores. Revisions are the MD5 of
// the file contents; URLs are root-relative and sorted.
func BuildManifest(dir string, exts, ignores []string) ([]ManifestEntry, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	wanted := make(map[string]bool, len(exts))
	for _, e := range exts {
		wanted["."+strings.TrimPrefix(strings.ToLower(e), ".")] = true
	}

	var entries []ManifestEntry
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == dir {
			return nil
		}
		if ignored(d.Name(), ignores) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !wanted[strings.ToLower(filepath.Ext(p))] {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		sum := md5.Sum(data)
		entries = append(entries, ManifestEntry{
			URL:      path.Join("/", filepath.ToSlash(rel)),
			Revision: hex.EncodeToString(sum[:]),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("build precache manifest from %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
	return entries, nil
}

func ignored(name string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}
