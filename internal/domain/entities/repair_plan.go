package entities

import "path/filepath"

// RepairPlan is the outcome of one repair pass over a target binary.
type RepairPlan struct {
	Target     string // input path, never modified
	OutputPath string // the copy written to the output directory
	Arch       string
	// InitialPolicy is the tier the unmodified target satisfied.
	InitialPolicy Policy
	// Policy is the tier achieved after repair.
	Policy    Policy
	Libraries []BundledLibrary
	// Repaired is false for the no-op path: the output is a byte copy of the input.
	Repaired bool
}

// PlatformTag is the platform tag of the achieved tier for the target's arch.
func (p *RepairPlan) PlatformTag() string {
	return p.Policy.PlatformTag(p.Arch)
}

// Files lists every file the repair produced, target first.
func (p *RepairPlan) Files() []string {
	files := []string{p.OutputPath}
	for _, lib := range p.Libraries {
		files = append(files, lib.OutputPath)
	}
	return files
}

// OutputDir is the directory the repair wrote into.
func (p *RepairPlan) OutputDir() string {
	return filepath.Dir(p.OutputPath)
}

// BundledNames maps each original dependency name to its bundled name.
func (p *RepairPlan) BundledNames() map[string]string {
	m := make(map[string]string, len(p.Libraries))
	for _, lib := range p.Libraries {
		m[lib.Name] = lib.BundledName
	}
	return m
}
