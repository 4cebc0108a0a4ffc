package services

import (
	"strings"
	"testing"

	"github.com/ochairo/sorepair/internal/domain/entities"
)

func glibc(versions ...string) []entities.VersionRequirement {
	reqs := make([]entities.VersionRequirement, 0, len(versions))
	for _, v := range versions {
		reqs = append(reqs, entities.VersionRequirement{Library: "libc.so.6", Family: "GLIBC", Version: v})
	}
	return reqs
}

func TestClassifier_Classify(t *testing.T) {
	classifier := NewClassifier(newTestRegistry(t).ForLibc(entities.Glibc(), "x86_64"))

	tests := []struct {
		name  string
		image entities.BinaryImage
		want  string
	}{
		{
			name:  "old glibc only",
			image: entities.BinaryImage{Arch: "x86_64", Needed: []string{"libc.so.6"}, Requirements: glibc("2.2.5", "2.5")},
			want:  "tier_a",
		},
		{
			name:  "newer glibc",
			image: entities.BinaryImage{Arch: "x86_64", Needed: []string{"libc.so.6", "libm.so.6"}, Requirements: glibc("2.17")},
			want:  "tier_b",
		},
		{
			name:  "glibc newer than every tier",
			image: entities.BinaryImage{Arch: "x86_64", Needed: []string{"libc.so.6"}, Requirements: glibc("2.18")},
			want:  entities.BaselinePolicyName,
		},
		{
			name:  "non-whitelisted dependency",
			image: entities.BinaryImage{Arch: "x86_64", Needed: []string{"libfoo.so.1", "libc.so.6"}},
			want:  entities.BaselinePolicyName,
		},
		{
			name: "family listed by another tier is disqualifying",
			image: entities.BinaryImage{
				Arch:   "x86_64",
				Needed: []string{"libc.so.6"},
				Requirements: []entities.VersionRequirement{
					{Library: "libc.so.6", Family: "GLIBCXX", Version: "3.4"},
				},
			},
			want: "tier_b",
		},
		{
			name: "family no tier lists is unconstrained",
			image: entities.BinaryImage{
				Arch:   "x86_64",
				Needed: []string{"libc.so.6"},
				Requirements: []entities.VersionRequirement{
					{Library: "libc.so.6", Family: "FOO", Version: "9.0"},
				},
			},
			want: "tier_a",
		},
		{
			name: "blacklisted symbol",
			image: entities.BinaryImage{
				Arch:            "x86_64",
				Needed:          []string{"libz.so.1", "libc.so.6"},
				ImportedSymbols: []string{"gzflags"},
			},
			want: entities.BaselinePolicyName,
		},
		{
			name: "whitelisted library without blacklisted imports",
			image: entities.BinaryImage{
				Arch:            "x86_64",
				Needed:          []string{"libz.so.1"},
				ImportedSymbols: []string{"inflate"},
			},
			want: "tier_b",
		},
		{
			name:  "dynamic loader is ignored",
			image: entities.BinaryImage{Arch: "x86_64", Needed: []string{"libc.so.6", "ld-linux-x86-64.so.2"}},
			want:  "tier_a",
		},
		{
			name:  "architecture without tables",
			image: entities.BinaryImage{Arch: "riscv64", Needed: []string{"libc.so.6"}},
			want:  entities.BaselinePolicyName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifier.Classify(&tt.image, nil); got.Name != tt.want {
				t.Errorf("Classify() = %s, want %s", got.Name, tt.want)
			}
		})
	}
}

func TestClassifier_Assess_RepairTarget(t *testing.T) {
	classifier := NewClassifier(newTestRegistry(t).ForLibc(entities.Glibc(), "x86_64"))

	tests := []struct {
		name        string
		image       entities.BinaryImage
		wantStrict  string
		wantTarget  string
		needsRepair bool
	}{
		{
			name:        "bundling reaches the strictest tier",
			image:       entities.BinaryImage{Arch: "x86_64", Needed: []string{"libfoo.so.1", "libc.so.6"}, Requirements: glibc("2.5")},
			wantStrict:  entities.BaselinePolicyName,
			wantTarget:  "tier_a",
			needsRepair: true,
		},
		{
			name:        "symbols cap the repair target",
			image:       entities.BinaryImage{Arch: "x86_64", Needed: []string{"libfoo.so.1", "libc.so.6"}, Requirements: glibc("2.12")},
			wantStrict:  entities.BaselinePolicyName,
			wantTarget:  "tier_b",
			needsRepair: true,
		},
		{
			name:       "already compliant",
			image:      entities.BinaryImage{Arch: "x86_64", Needed: []string{"libc.so.6"}, Requirements: glibc("2.5")},
			wantStrict: "tier_a",
		},
		{
			name:       "nothing to gain",
			image:      entities.BinaryImage{Arch: "x86_64", Needed: []string{"libfoo.so.1"}, Requirements: glibc("2.30")},
			wantStrict: entities.BaselinePolicyName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := classifier.Assess(&tt.image, nil)
			if a.Strict.Name != tt.wantStrict {
				t.Errorf("Strict = %s, want %s", a.Strict.Name, tt.wantStrict)
			}
			target := ""
			if a.RepairTarget != nil {
				target = a.RepairTarget.Name
			}
			if target != tt.wantTarget {
				t.Errorf("RepairTarget = %q, want %q", target, tt.wantTarget)
			}
			if a.NeedsRepair() != tt.needsRepair {
				t.Errorf("NeedsRepair() = %v, want %v", a.NeedsRepair(), tt.needsRepair)
			}
			if v, ok := a.Verdict(entities.BaselinePolicyName); !ok || !v.Satisfied() {
				t.Error("the baseline must always be satisfied")
			}
		})
	}
}

func TestClassifier_Assess_CarriedDependencies(t *testing.T) {
	classifier := NewClassifier(newTestRegistry(t).ForLibc(entities.Glibc(), "x86_64"))
	image := &entities.BinaryImage{
		Arch:         "x86_64",
		Needed:       []string{"libfoo-0123abcd.so.1", "libc.so.6"},
		Requirements: glibc("2.5"),
	}
	deps := []entities.ExternalLibrary{{
		Name:   "libfoo.so.1",
		Path:   "/out/libfoo-0123abcd.so.1",
		Soname: "libfoo-0123abcd.so.1",
		Needed: []string{"libc.so.6"},
		Requirements: []entities.VersionRequirement{
			{Library: "libc.so.6", Family: "GLIBC", Version: "2.17"},
		},
	}}

	if got := classifier.Classify(image, nil); got.Name != entities.BaselinePolicyName {
		t.Errorf("Classify() without deps = %s, want the baseline", got.Name)
	}
	a := classifier.Assess(image, deps)
	if a.Strict.Name != "tier_b" {
		t.Errorf("Strict = %s, want tier_b: the carried library needs GLIBC_2.17", a.Strict.Name)
	}
	v, _ := a.Verdict("alias_a")
	if len(v.ForbiddenLibraries) != 0 || len(v.TooNew) != 1 || v.TooNew[0].Version != "2.17" {
		t.Errorf("tier_a verdict = %+v", v)
	}

	// a carried library's own non-whitelisted dependency still counts
	deps[0].Needed = append(deps[0].Needed, "libbar.so.2")
	if got := classifier.Classify(image, deps); got.Name != entities.BaselinePolicyName {
		t.Errorf("Classify() = %s, want the baseline while libbar is not carried", got.Name)
	}
}

func TestTierVerdict(t *testing.T) {
	v := TierVerdict{
		Policy:             entities.Policy{Name: "tier_a"},
		ForbiddenLibraries: []string{"libfoo.so.1"},
	}
	if v.Satisfied() || !v.OnlyForbiddenLibraries() || v.Status() != TierForbiddenLibraries {
		t.Errorf("verdict %+v: Satisfied %v OnlyForbidden %v Status %s", v, v.Satisfied(), v.OnlyForbiddenLibraries(), v.Status())
	}

	v.TooNew = glibc("2.17")
	v.BlacklistedSymbols = []string{"libz.so.1:gzflags"}
	if v.OnlyForbiddenLibraries() || v.Status() != TierSymbolTooNew {
		t.Errorf("Status() = %s, want %s", v.Status(), TierSymbolTooNew)
	}
	reason := v.Reason()
	for _, want := range []string{"GLIBC_2.17 (libc.so.6)", "libz.so.1:gzflags", "libfoo.so.1"} {
		if !strings.Contains(reason, want) {
			t.Errorf("Reason() = %q, want it to mention %q", reason, want)
		}
	}

	if (&TierVerdict{}).Reason() != "satisfied" {
		t.Error("an empty verdict should read as satisfied")
	}
}

func TestHostClassifier(t *testing.T) {
	registry := newTestRegistry(t)
	image := &entities.BinaryImage{Arch: "x86_64", Needed: []string{"libc.musl-x86_64.so.1"}}

	musl := NewHostClassifier(registry, entities.Musl(1, 2))
	if got := musl.Classify(image, nil); got.Name != "musllinux_1_2" {
		t.Errorf("musl host Classify() = %s, want musllinux_1_2", got.Name)
	}
	if musl.For("x86_64") != musl.For("x86_64") {
		t.Error("For() should reuse the classifier of an architecture")
	}

	glibcHost := NewHostClassifier(registry, entities.Glibc())
	if got := glibcHost.Classify(&entities.BinaryImage{Arch: "x86_64", Needed: []string{"libc.so.6"}}, nil); got.Name != "tier_a" {
		t.Errorf("glibc host Classify() = %s, want tier_a", got.Name)
	}
}
