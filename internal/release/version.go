package release

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Bump kinds
const (
	BumpMajor = "major"
	BumpMinor = "minor"
	BumpPatch = "patch"
)

// GenerateVersion builds the v<version>-<YYYYMMDD>-<HHMMSS> string used as a
// build identifier. An empty pkgVersion falls back to 1.0.0.
func GenerateVersion(pkgVersion string, now time.Time) string {
	if pkgVersion == "" {
		pkgVersion = "1.0.0"
	}
	return fmt.Sprintf("v%s-%s-%s", NormalizeVersion(pkgVersion), now.Format("20060102"), now.Format("150405"))
}

// Bump increments a major.minor.patch version. Unknown kinds bump the patch
// number.
func Bump(version, kind string) (string, error) {
	parts := strings.Split(NormalizeVersion(version), ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("version %q is not major.minor.patch", version)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return "", fmt.Errorf("version %q has a bad component %q", version, p)
		}
		nums[i] = n
	}

	switch kind {
	case BumpMajor:
		nums[0]++
		nums[1], nums[2] = 0, 0
	case BumpMinor:
		nums[1]++
		nums[2] = 0
	default:
		nums[2]++
	}

	return fmt.Sprintf("%d.%d.%d", nums[0], nums[1], nums[2]), nil
}

// CacheVersionFor derives the cache generation token for a deploy version
func CacheVersionFor(namespace, version string) string {
	return namespace + "v" + NormalizeVersion(version)
}
