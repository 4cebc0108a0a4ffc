package entities

import (
	"fmt"
	"sort"
	"strings"
)

// BaselinePolicyName is the tier every binary satisfies.
const BaselinePolicyName = "linux"

// Policy is one compliance tier: the maximum symbol versions it allows per
// architecture and family, and the system libraries it assumes are present.
type Policy struct {
	Name     string
	Aliases  []string
	Priority int
	// SymbolVersions maps arch -> family -> allowed versions.
	SymbolVersions map[string]map[string][]string
	LibWhitelist   []string
	// Blacklist maps a whitelisted library to symbols that must not be imported from it.
	Blacklist map[string][]string
}

// IsBaseline reports whether p is the no-guarantee tier.
func (p *Policy) IsBaseline() bool {
	return p.Name == BaselinePolicyName
}

// IsMusl reports whether p is a musllinux tier.
func (p *Policy) IsMusl() bool {
	return strings.HasPrefix(p.Name, "musllinux")
}

// Matches reports whether name is the policy name or one of its aliases.
func (p *Policy) Matches(name string) bool {
	if p.Name == name {
		return true
	}
	for _, a := range p.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

// Whitelisted reports whether lib is assumed present by this tier.
func (p *Policy) Whitelisted(lib string) bool {
	for _, w := range p.LibWhitelist {
		if w == lib {
			return true
		}
	}
	return false
}

// Families returns the symbol-version table for arch, or nil when the tier
// has no table for it.
func (p *Policy) Families(arch string) (map[string][]string, bool) {
	t, ok := p.SymbolVersions[arch]
	return t, ok
}

// PlatformTag renders the tag the archive writer embeds in the distributable
// name, e.g. "manylinux_2_17_x86_64.manylinux2014_x86_64".
func (p *Policy) PlatformTag(arch string) string {
	names := append([]string{p.Name}, p.Aliases...)
	tags := make([]string, 0, len(names))
	for _, n := range names {
		tags = append(tags, fmt.Sprintf("%s_%s", n, arch))
	}
	return strings.Join(tags, ".")
}

// Clone returns a deep copy, used when a registry view rewrites the whitelist.
func (p *Policy) Clone() Policy {
	c := Policy{
		Name:           p.Name,
		Aliases:        append([]string(nil), p.Aliases...),
		Priority:       p.Priority,
		SymbolVersions: make(map[string]map[string][]string, len(p.SymbolVersions)),
		LibWhitelist:   append([]string(nil), p.LibWhitelist...),
		Blacklist:      make(map[string][]string, len(p.Blacklist)),
	}
	for arch, fams := range p.SymbolVersions {
		m := make(map[string][]string, len(fams))
		for fam, vs := range fams {
			m[fam] = append([]string(nil), vs...)
		}
		c.SymbolVersions[arch] = m
	}
	for lib, syms := range p.Blacklist {
		c.Blacklist[lib] = append([]string(nil), syms...)
	}
	return c
}

// SortPolicies orders policies by descending priority, then by name.
func SortPolicies(policies []Policy) {
	sort.SliceStable(policies, func(i, j int) bool {
		if policies[i].Priority != policies[j].Priority {
			return policies[i].Priority > policies[j].Priority
		}
		return policies[i].Name < policies[j].Name
	})
}
