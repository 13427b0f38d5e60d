package cache

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"strings"
)

// KeyFor returns the cache key for a request URL. Fragments never reach the
// network, so they are dropped; everything else, query included, is kept.
func KeyFor(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

// KeyForString parses raw and returns its cache key. Unparseable input is
// returned unchanged so it can still serve as a lookup key.
func KeyForString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return KeyFor(u)
}

// fileNameFor makes a cache key safe for use as a file name
func fileNameFor(key string) string {
	// For very long keys, use hash to avoid filesystem limits
	if len(key) > 200 {
		hash := md5.Sum([]byte(key))
		return fmt.Sprintf("hash_%x.json", hash)
	}

	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		"#", "_",
		"&", "_",
		"=", "_",
		" ", "_",
	)
	name := replacer.Replace(key)

	// Distinct keys can collapse to the same sanitized name; the short hash
	// suffix keeps them apart.
	hash := md5.Sum([]byte(key))
	return fmt.Sprintf("%s.%x.json", name, hash[:4])
}
