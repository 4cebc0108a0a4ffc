package services

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces/services"
)

// TierStatus is the outcome of checking one tier against a binary
type TierStatus string

// Tier check outcomes, in the order they are reported
const (
	TierSatisfied          TierStatus = "satisfied"
	TierUnsupportedArch    TierStatus = "unsupported_architecture"
	TierSymbolTooNew       TierStatus = "symbol_too_new"
	TierBlacklistedSymbols TierStatus = "blacklisted_symbols"
	TierForbiddenLibraries TierStatus = "forbidden_libraries"
)

// TierVerdict records every violation of one tier.
type TierVerdict struct {
	Policy             entities.Policy
	UnsupportedArch    bool
	ForbiddenLibraries []string
	TooNew             []entities.VersionRequirement
	BlacklistedSymbols []string // "library:symbol"
}

// Satisfied reports whether the tier has no violation.
func (v *TierVerdict) Satisfied() bool {
	return !v.UnsupportedArch && len(v.ForbiddenLibraries) == 0 &&
		len(v.TooNew) == 0 && len(v.BlacklistedSymbols) == 0
}

// OnlyForbiddenLibraries reports whether bundling alone would satisfy the tier.
func (v *TierVerdict) OnlyForbiddenLibraries() bool {
	return len(v.ForbiddenLibraries) > 0 && !v.UnsupportedArch &&
		len(v.TooNew) == 0 && len(v.BlacklistedSymbols) == 0
}

// Status returns the most significant violation.
func (v *TierVerdict) Status() TierStatus {
	switch {
	case v.UnsupportedArch:
		return TierUnsupportedArch
	case len(v.TooNew) > 0:
		return TierSymbolTooNew
	case len(v.BlacklistedSymbols) > 0:
		return TierBlacklistedSymbols
	case len(v.ForbiddenLibraries) > 0:
		return TierForbiddenLibraries
	}
	return TierSatisfied
}

// Reason renders the violations for humans.
func (v *TierVerdict) Reason() string {
	var parts []string
	if v.UnsupportedArch {
		parts = append(parts, "no symbol table for this architecture")
	}
	if len(v.TooNew) > 0 {
		syms := make([]string, 0, len(v.TooNew))
		for _, r := range v.TooNew {
			syms = append(syms, fmt.Sprintf("%s (%s)", r.String(), r.Library))
		}
		parts = append(parts, "symbol versions too new: "+strings.Join(syms, ", "))
	}
	if len(v.BlacklistedSymbols) > 0 {
		parts = append(parts, "blacklisted symbols: "+strings.Join(v.BlacklistedSymbols, ", "))
	}
	if len(v.ForbiddenLibraries) > 0 {
		parts = append(parts, "links non-whitelisted libraries: "+strings.Join(v.ForbiddenLibraries, ", "))
	}
	if len(parts) == 0 {
		return "satisfied"
	}
	return strings.Join(parts, "; ")
}

// Assessment is the full classification of one binary.
type Assessment struct {
	Arch     string
	Verdicts []TierVerdict // registry order, highest priority first
	// Strict is the highest tier satisfied as-is.
	Strict entities.Policy
	// RepairTarget is the highest tier above Strict that fails only on
	// non-whitelisted libraries; nil when bundling cannot improve the result.
	RepairTarget *entities.Policy
}

// NeedsRepair reports whether bundling would reach a more portable tier.
func (a *Assessment) NeedsRepair() bool {
	return a.RepairTarget != nil && !a.RepairTarget.IsBaseline()
}

// Verdict returns the verdict for a tier name or alias.
func (a *Assessment) Verdict(name string) (TierVerdict, bool) {
	for _, v := range a.Verdicts {
		if v.Policy.Matches(name) {
			return v, true
		}
	}
	return TierVerdict{}, false
}

// Classifier selects compliance tiers. It is safe for concurrent use.
type Classifier struct {
	registry services.PolicyRegistry
	// constrained maps arch -> families some tier lists for that arch.
	constrained map[string]map[string]bool
}

var _ services.ComplianceClassifier = (*Classifier)(nil)

// NewClassifier creates a classifier over a registry. Which families are
// constrained is derived from the table: a family any tier lists for an
// arch is constrained on that arch for every tier.
func NewClassifier(registry services.PolicyRegistry) *Classifier {
	constrained := make(map[string]map[string]bool)
	for _, p := range registry.Policies() {
		for arch, fams := range p.SymbolVersions {
			if constrained[arch] == nil {
				constrained[arch] = make(map[string]bool)
			}
			for fam := range fams {
				constrained[arch][fam] = true
			}
		}
	}
	return &Classifier{registry: registry, constrained: constrained}
}

// Classify returns the highest-priority tier the binary satisfies. deps is
// the closure carried alongside the binary; the baseline always matches.
func (c *Classifier) Classify(image *entities.BinaryImage, deps []entities.ExternalLibrary) entities.Policy {
	return c.Assess(image, deps).Strict
}

// Assess checks every tier. deps are libraries carried alongside the binary:
// their names are exempt from the whitelist, their own dependencies and
// version requirements are checked as if the binary imported them.
func (c *Classifier) Assess(image *entities.BinaryImage, deps []entities.ExternalLibrary) *Assessment {
	carried := carriedNames(deps)
	names := dependencyNames(image, deps, carried)
	reqs := requirements(image, deps, carried)

	a := &Assessment{Arch: image.Arch, Strict: c.registry.Baseline()}
	strictFound := false
	for _, p := range c.registry.Policies() {
		v := c.check(p, image, names, reqs)
		a.Verdicts = append(a.Verdicts, v)
		if strictFound {
			continue
		}
		switch {
		case v.Satisfied():
			a.Strict = p
			strictFound = true
		case v.OnlyForbiddenLibraries() && a.RepairTarget == nil:
			target := p
			a.RepairTarget = &target
		}
	}
	return a
}

func (c *Classifier) check(p entities.Policy, image *entities.BinaryImage, names []string, reqs []entities.VersionRequirement) TierVerdict {
	v := TierVerdict{Policy: p}
	if p.IsBaseline() {
		return v
	}

	table, ok := p.Families(image.Arch)
	if !ok {
		v.UnsupportedArch = true
	}

	forbidden := make(map[string]bool)
	imported := make(map[string]bool, len(image.ImportedSymbols))
	for _, s := range image.ImportedSymbols {
		imported[s] = true
	}
	for _, name := range names {
		if !p.Whitelisted(name) {
			forbidden[name] = true
			continue
		}
		for _, sym := range p.Blacklist[name] {
			if imported[sym] {
				v.BlacklistedSymbols = append(v.BlacklistedSymbols, name+":"+sym)
			}
		}
	}

	for _, r := range reqs {
		if !p.Whitelisted(r.Library) {
			forbidden[r.Library] = true
			continue
		}
		allowed, listed := table[r.Family]
		if !listed {
			if c.constrained[image.Arch][r.Family] {
				v.TooNew = append(v.TooNew, r)
			}
			continue
		}
		if !SymbolVersionAllowed(r.Version, allowed) {
			v.TooNew = append(v.TooNew, r)
		}
	}

	for name := range forbidden {
		v.ForbiddenLibraries = append(v.ForbiddenLibraries, name)
	}
	sort.Strings(v.ForbiddenLibraries)
	sort.Strings(v.BlacklistedSymbols)
	return v
}

// carriedNames collects every name a carried library can be referenced by.
func carriedNames(deps []entities.ExternalLibrary) map[string]bool {
	carried := make(map[string]bool)
	for _, d := range deps {
		for _, n := range []string{d.Name, d.Soname, filepath.Base(d.Path)} {
			if n != "" && n != "." {
				carried[n] = true
			}
		}
	}
	return carried
}

func dependencyNames(image *entities.BinaryImage, deps []entities.ExternalLibrary, carried map[string]bool) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(needed []string) {
		for _, n := range needed {
			if seen[n] || carried[n] || entities.IsDynamicLoader(n) {
				continue
			}
			seen[n] = true
			names = append(names, n)
		}
	}
	add(image.Needed)
	for _, d := range deps {
		add(d.Needed)
	}
	return names
}

func requirements(image *entities.BinaryImage, deps []entities.ExternalLibrary, carried map[string]bool) []entities.VersionRequirement {
	seen := make(map[entities.VersionRequirement]bool)
	var out []entities.VersionRequirement
	add := func(reqs []entities.VersionRequirement) {
		for _, r := range reqs {
			if seen[r] || carried[r.Library] || entities.IsDynamicLoader(r.Library) {
				continue
			}
			seen[r] = true
			out = append(out, r)
		}
	}
	add(image.Requirements)
	for _, d := range deps {
		add(d.Requirements)
	}
	return out
}
