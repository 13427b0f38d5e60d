// Package release produces and reads the artefacts a deployment hands to
// the gateway: the version descriptor and the precache manifest.
package release

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrNoVersion is returned for descriptors without a version field
var ErrNoVersion = errors.New("version descriptor has no version")

// Descriptor is the version.json document served next to the app shell
type Descriptor struct {
	Version     string `json:"version"`
	BuildDate   string `json:"buildDate"`
	Timestamp   int64  `json:"timestamp"`
	Environment string `json:"environment,omitempty"`
}

// NewDescriptor stamps version with the build time
func NewDescriptor(version string, now time.Time) Descriptor {
	now = now.UTC()
	return Descriptor{
		Version:   version,
		BuildDate: now.Format(time.RFC3339Nano),
		Timestamp: now.UnixMilli(),
	}
}

// DecodeDescriptor reads a descriptor and requires a non-empty version.
// The other fields are read when they have a usable shape and left zero
// otherwise; timestamp may be a number or a numeric string.
func DecodeDescriptor(r io.Reader) (Descriptor, error) {
	var raw struct {
		Version     string          `json:"version"`
		BuildDate   json.RawMessage `json:"buildDate"`
		Timestamp   json.RawMessage `json:"timestamp"`
		Environment json.RawMessage `json:"environment"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Descriptor{}, fmt.Errorf("decode version descriptor: %w", err)
	}
	if strings.TrimSpace(raw.Version) == "" {
		return Descriptor{}, ErrNoVersion
	}
	return Descriptor{
		Version:     raw.Version,
		BuildDate:   looseString(raw.BuildDate),
		Timestamp:   looseInt(raw.Timestamp),
		Environment: looseString(raw.Environment),
	}, nil
}

func looseString(b json.RawMessage) string {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return ""
	}
	return s
}

// looseInt accepts a JSON number or a string holding an integer
func looseInt(b json.RawMessage) int64 {
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v
		}
		if f, err := n.Float64(); err == nil {
			return int64(f)
		}
		return 0
	}
	if v, err := strconv.ParseInt(strings.TrimSpace(looseString(b)), 10, 64); err == nil {
		return v
	}
	return 0
}

// ReadDescriptor loads a descriptor from disk
func ReadDescriptor(path string) (Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Descriptor{}, err
	}
	defer f.Close() //nolint:errcheck
	return DecodeDescriptor(f)
}

// WriteDescriptor writes d as indented JSON with a trailing newline
func WriteDescriptor(path string, d Descriptor) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// SameVersion compares two deploy versions, ignoring a leading "v" and
// surrounding whitespace.
func SameVersion(a, b string) bool {
	return NormalizeVersion(a) == NormalizeVersion(b)
}

// NormalizeVersion strips whitespace and a leading "v"
func NormalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}
