// Package services implements domain business logic and use cases.
package services

import (
	"context"
	"fmt"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces/repositories"
	"github.com/ochairo/sorepair/internal/domain/interfaces/services"
)

// muslLibcNames maps policy architectures to the musl C library file name.
var muslLibcNames = map[string]string{
	"x86_64":  "libc.musl-x86_64.so.1",
	"i686":    "libc.musl-x86.so.1",
	"aarch64": "libc.musl-aarch64.so.1",
	"armv7l":  "libc.musl-armv7.so.1",
	"ppc64le": "libc.musl-ppc64le.so.1",
	"s390x":   "libc.musl-s390x.so.1",
	"riscv64": "libc.musl-riscv64.so.1",
}

// PolicyRegistry is the ordered, read-only tier table. It is built once and
// shared by reference; nothing mutates it after construction.
type PolicyRegistry struct {
	policies []entities.Policy
	baseline entities.Policy
}

var _ services.PolicyRegistry = (*PolicyRegistry)(nil)

// NewPolicyRegistry validates and orders policies, highest priority first.
// The table must contain the baseline tier with empty tables and the
// lowest priority.
func NewPolicyRegistry(policies []entities.Policy) (*PolicyRegistry, error) {
	if len(policies) == 0 {
		return nil, fmt.Errorf("policy table is empty")
	}

	seen := make(map[string]string)
	ordered := make([]entities.Policy, 0, len(policies))
	var baseline *entities.Policy
	for i := range policies {
		p := policies[i].Clone()
		if p.Name == "" {
			return nil, fmt.Errorf("policy %d has no name", i)
		}
		for _, n := range append([]string{p.Name}, p.Aliases...) {
			if owner, dup := seen[n]; dup {
				return nil, fmt.Errorf("policy name %q is used by both %s and %s", n, owner, p.Name)
			}
			seen[n] = p.Name
		}
		if p.IsBaseline() {
			if len(p.LibWhitelist) > 0 || len(p.SymbolVersions) > 0 {
				return nil, fmt.Errorf("baseline policy %s must have empty tables", p.Name)
			}
			baseline = &p
		}
		ordered = append(ordered, p)
	}
	if baseline == nil {
		return nil, fmt.Errorf("policy table has no %s baseline tier", entities.BaselinePolicyName)
	}
	for _, p := range ordered {
		if !p.IsBaseline() && p.Priority <= baseline.Priority {
			return nil, fmt.Errorf("policy %s priority %d is not above the baseline", p.Name, p.Priority)
		}
	}

	entities.SortPolicies(ordered)
	return &PolicyRegistry{policies: ordered, baseline: *baseline}, nil
}

// LoadPolicyRegistry builds a registry from a repository.
func LoadPolicyRegistry(ctx context.Context, repo repositories.PolicyRepository) (*PolicyRegistry, error) {
	policies, err := repo.LoadPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}
	return NewPolicyRegistry(policies)
}

// Policies returns every tier, highest priority first. The slice is a copy.
func (r *PolicyRegistry) Policies() []entities.Policy {
	out := make([]entities.Policy, len(r.policies))
	copy(out, r.policies)
	return out
}

// Find looks a tier up by name or alias.
func (r *PolicyRegistry) Find(name string) (entities.Policy, bool) {
	for _, p := range r.policies {
		if p.Matches(name) {
			return p, true
		}
	}
	return entities.Policy{}, false
}

// Baseline returns the no-guarantee tier.
func (r *PolicyRegistry) Baseline() entities.Policy {
	return r.baseline
}

// ForLibc returns the view of the registry that applies to a host C runtime:
// on musl, the matching musllinux tier and the baseline; otherwise every
// manylinux tier and the baseline. musl whitelists have their generic
// "libc.so" entry rewritten to the per-arch musl library name.
func (r *PolicyRegistry) ForLibc(kind entities.LibcKind, arch string) *PolicyRegistry {
	view := &PolicyRegistry{baseline: r.baseline}
	want := kind.MuslPolicyName()
	for _, p := range r.policies {
		switch {
		case p.IsBaseline():
		case kind.IsMusl() && p.Name != want:
			continue
		case !kind.IsMusl() && p.IsMusl():
			continue
		}
		view.policies = append(view.policies, fixupMuslLibc(p, arch))
	}
	return view
}

// WithPolicy returns a view restricted to the named tier plus the baseline,
// used to check a requested platform tag.
func (r *PolicyRegistry) WithPolicy(name string) (*PolicyRegistry, error) {
	p, ok := r.Find(name)
	if !ok {
		return nil, fmt.Errorf("unknown policy %q", name)
	}
	view := &PolicyRegistry{baseline: r.baseline}
	if !p.IsBaseline() {
		view.policies = append(view.policies, p)
	}
	view.policies = append(view.policies, r.baseline)
	return view, nil
}

func fixupMuslLibc(p entities.Policy, arch string) entities.Policy {
	if !p.IsMusl() {
		return p
	}
	c := p.Clone()
	for i, lib := range c.LibWhitelist {
		if lib == "libc.so" {
			if name, ok := muslLibcNames[arch]; ok {
				c.LibWhitelist[i] = name
			}
		}
	}
	return c
}
