package offline

import "strings"

// Partition roles, used as name suffixes and metric labels
const (
	RoleStatic  = "static"
	RoleDynamic = "dynamic"
	RoleAPI     = "api"
)

var roles = []string{RoleStatic, RoleDynamic, RoleAPI}

// Generation derives the partition names of one cache version
type Generation struct {
	Version   string
	Namespace string
}

func (g Generation) Static() string  { return g.name(RoleStatic) }
func (g Generation) Dynamic() string { return g.name(RoleDynamic) }
func (g Generation) API() string     { return g.name(RoleAPI) }

func (g Generation) name(role string) string {
	return g.Version + "-" + role
}

// Names returns the current partition names, Static first
func (g Generation) Names() []string {
	return []string{g.Static(), g.Dynamic(), g.API()}
}

// IsStale reports whether a partition belongs to this namespace but not to
// this generation
func (g Generation) IsStale(name string) bool {
	if !strings.HasPrefix(name, g.Namespace) {
		return false
	}
	for _, n := range g.Names() {
		if n == name {
			return false
		}
	}
	return true
}

// BaseVersion strips a partition role suffix, so a partition name given
// where a version was expected still yields the version
func BaseVersion(v string) string {
	for _, r := range roles {
		if b, ok := strings.CutSuffix(v, "-"+r); ok {
			return b
		}
	}
	return v
}
