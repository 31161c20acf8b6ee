// Package hrn resolves (HTTP method, path, tenant) triples into canonical
// hierarchical resource names (spec §4.1), the way an audited application's
// middleware identifies what resource an intercepted request touched.
package hrn

import (
	"fmt"
	"strings"
)

// Name is the parsed form of a canonical resource name.
//
// Rendered grammar: "hrn:" partition ":" service ":" tenant ":" scope ":"
// resource_type "/" resource_id
type Name struct {
	Partition    string
	Service      string
	Tenant       string
	Scope        string
	ResourceType string
	ResourceID   string
}

// Render produces the canonical string form of n.
func (n Name) Render() string {
	return fmt.Sprintf("hrn:%s:%s:%s:%s:%s/%s",
		n.Partition, n.Service, n.Tenant, n.Scope, n.ResourceType, n.ResourceID)
}

// Parse inverts Render. It fails only on malformed input; it does not
// validate individual segment characters beyond the grammar's delimiters.
func Parse(s string) (Name, error) {
	const prefix = "hrn:"
	if !strings.HasPrefix(s, prefix) {
		return Name{}, fmt.Errorf("hrn: missing %q prefix", prefix)
	}
	rest := strings.TrimPrefix(s, prefix)

	parts := strings.SplitN(rest, ":", 5)
	if len(parts) != 5 {
		return Name{}, fmt.Errorf("hrn: expected 5 colon-delimited segments after prefix, got %d", len(parts))
	}
	typeAndID := strings.SplitN(parts[4], "/", 2)
	if len(typeAndID) != 2 {
		return Name{}, fmt.Errorf("hrn: missing resource_type/resource_id separator")
	}

	n := Name{
		Partition:    parts[0],
		Service:      parts[1],
		Tenant:       parts[2],
		Scope:        parts[3],
		ResourceType: typeAndID[0],
		ResourceID:   typeAndID[1],
	}
	for _, seg := range []string{n.Partition, n.Service, n.Tenant, n.Scope, n.ResourceType} {
		if seg == "" {
			return Name{}, fmt.Errorf("hrn: empty segment in %q", s)
		}
	}
	if n.ResourceID == "" {
		return Name{}, fmt.Errorf("hrn: empty resource_id in %q", s)
	}
	return n, nil
}

// Sentinel is returned by Resolve when no pattern matches, so audit capture
// never silently drops a request.
func Sentinel(tenant string) Name {
	if strings.TrimSpace(tenant) == "" {
		tenant = "unknown"
	}
	return Name{
		Partition:    "hodei",
		Service:      "service",
		Tenant:       tenant,
		Scope:        "global",
		ResourceType: "service",
		ResourceID:   "health",
	}
}

// pattern is one entry of the static, startup-compiled routing table.
// Segments are literal path components or "*" wildcards, which bind in
// declaration order into ResourceID (joined by "/" if more than one).
type pattern struct {
	method       string // "*" matches any method
	segments     []string
	service      string
	scope        string
	resourceType string
}

// Table is an ordered set of patterns compiled once at startup. Resolve
// picks the longest pattern that matches a prefix of the path; ties go to
// the earlier entry.
type Table struct {
	patterns []pattern
}

// NewTable returns an empty Table. Entries are application-specific;
// callers embedding ARP register their own routes via Register.
func NewTable() *Table {
	return &Table{}
}

// Register adds one routing entry. pathPattern is a slash-delimited path
// template using "*" for a single wildcard segment, e.g. "/api/users/*".
func (t *Table) Register(method, pathPattern, service, scope, resourceType string) {
	t.patterns = append(t.patterns, pattern{
		method:       method,
		segments:     splitPath(pathPattern),
		service:      service,
		scope:        scope,
		resourceType: resourceType,
	})
}

// Resolve maps (method, path, tenant) to a Name. It never fails: an
// unmatched path yields Sentinel(tenant).
func (t *Table) Resolve(method, path, tenant string) Name {
	if strings.TrimSpace(tenant) == "" {
		tenant = "unknown"
	}
	segs := splitPath(path)

	best := -1
	bestLen := -1
	for i, p := range t.patterns {
		if p.method != "*" && !strings.EqualFold(p.method, method) {
			continue
		}
		if !matches(p.segments, segs) {
			continue
		}
		if len(p.segments) > bestLen {
			bestLen = len(p.segments)
			best = i
		}
	}

	if best == -1 {
		return Sentinel(tenant)
	}

	p := t.patterns[best]
	resourceID := bindWildcards(p.segments, segs)
	if resourceID == "" {
		resourceID = "unknown"
	}

	return Name{
		Partition:    "hodei",
		Service:      p.service,
		Tenant:       tenant,
		Scope:        p.scope,
		ResourceType: p.resourceType,
		ResourceID:   resourceID,
	}
}

func matches(pat, path []string) bool {
	if len(pat) > len(path) {
		return false
	}
	for i, seg := range pat {
		if seg == "*" {
			continue
		}
		if seg != path[i] {
			return false
		}
	}
	return true
}

func bindWildcards(pat, path []string) string {
	var bound []string
	for i, seg := range pat {
		if seg == "*" {
			bound = append(bound, path[i])
		}
	}
	return strings.Join(bound, "/")
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
