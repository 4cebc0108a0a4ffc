// Package orchestrators coordinates complex workflows across multiple domain services.
package orchestrators

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces"
	"github.com/ochairo/sorepair/internal/domain/interfaces/gateways"
	"github.com/ochairo/sorepair/internal/domain/services"
	cp "github.com/otiai10/copy"
)

// originMarker makes the loader search the directory of the binary itself
const originMarker = "$ORIGIN"

// Assessor checks a binary against every tier of a registry
type Assessor interface {
	Assess(image *entities.BinaryImage, deps []entities.ExternalLibrary) *services.Assessment
}

// BundleNamer assigns the name a library is bundled under
type BundleNamer interface {
	Name(lib entities.ExternalLibrary) string
}

// FileVerifier checks a file against a content hash
type FileVerifier interface {
	VerifyFile(path, expected string) error
}

// RepairOrchestratorConfig holds configuration for the orchestrator
type RepairOrchestratorConfig struct {
	// RequestedPolicy is a tier name or alias the result must satisfy.
	// Empty means the most portable tier bundling can reach.
	RequestedPolicy string
}

// RepairOrchestrator bundles the external dependencies of a binary next to
// a copy of it and rewrites the copies to load them from there.
// It is safe for concurrent use when its collaborators are.
type RepairOrchestrator struct {
	inspector gateways.BinaryInspector
	resolver  gateways.DependencyResolver
	patcher   gateways.BinaryPatcher
	assessor  Assessor
	namer     BundleNamer
	verifier  FileVerifier
	logger    interfaces.Logger
	config    RepairOrchestratorConfig
}

// NewRepairOrchestrator creates a new repair orchestrator. verifier may be
// nil, in which case copies are not checked against the resolved hashes.
func NewRepairOrchestrator(
	inspector gateways.BinaryInspector,
	resolver gateways.DependencyResolver,
	patcher gateways.BinaryPatcher,
	assessor Assessor,
	namer BundleNamer,
	verifier FileVerifier,
	logger interfaces.Logger,
	config RepairOrchestratorConfig,
) *RepairOrchestrator {
	return &RepairOrchestrator{
		inspector: inspector,
		resolver:  resolver,
		patcher:   patcher,
		assessor:  assessor,
		namer:     namer,
		verifier:  verifier,
		logger:    interfaces.OrNoOp(logger),
		config:    config,
	}
}

// repairRun tracks the files one repair has written so a failure can undo
// them. Files that existed before the repair, such as libraries bundled
// by an earlier repair into the same directory, are moved aside first and
// put back on failure.
type repairRun struct {
	target    string
	created   []string
	backupDir string
	backups   map[string]string // destination -> saved earlier file
}

func (r *repairRun) fail(step string, err error) error {
	for i := len(r.created) - 1; i >= 0; i-- {
		//nolint:errcheck // Best-effort removal of partial output
		os.Remove(r.created[i])
	}
	for dst, saved := range r.backups {
		//nolint:errcheck // Best-effort restore of the earlier file
		os.Rename(saved, dst)
	}
	r.created, r.backups = nil, nil
	r.done()
	return &entities.RepairError{Target: r.target, Step: step, Err: err}
}

// done drops the saved copies of replaced files
func (r *repairRun) done() {
	if r.backupDir != "" {
		//nolint:errcheck // Best-effort cleanup of the backup directory
		os.RemoveAll(r.backupDir)
		r.backupDir = ""
	}
}

func (r *repairRun) copy(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		if err := r.saveExisting(dst); err != nil {
			return err
		}
	} else if os.IsNotExist(err) {
		r.created = append(r.created, dst)
	} else {
		return fmt.Errorf("failed to stat %s: %w", dst, err)
	}
	return copyFile(src, dst)
}

func (r *repairRun) saveExisting(dst string) error {
	if _, ok := r.backups[dst]; ok {
		return nil
	}
	if r.backupDir == "" {
		dir, err := os.MkdirTemp(filepath.Dir(dst), ".sorepair-backup-")
		if err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
		r.backupDir = dir
		r.backups = make(map[string]string)
	}
	saved := filepath.Join(r.backupDir, strconv.Itoa(len(r.backups))+"-"+filepath.Base(dst))
	if err := os.Rename(dst, saved); err != nil {
		return fmt.Errorf("failed to move aside %s: %w", dst, err)
	}
	r.backups[dst] = saved
	return nil
}

// Repair writes a repaired copy of target into outputDir and returns the
// plan describing it. The target itself is never modified. On failure
// every file written so far is removed and a *entities.RepairError is
// returned. Files an earlier repair left in outputDir are replaced only
// when this repair succeeds.
func (o *RepairOrchestrator) Repair(ctx context.Context, target, outputDir string) (*entities.RepairPlan, error) {
	run := &repairRun{target: target}
	outputPath := filepath.Join(outputDir, filepath.Base(target))

	// Step 1: Parse the target
	image, err := o.inspector.Inspect(target)
	if err != nil {
		return nil, run.fail(entities.StepInspect, err)
	}

	// Step 2: Pick the tier to repair to
	initial := o.assessor.Assess(image, nil)
	repairTo, err := o.selectTarget(initial)
	if err != nil {
		return nil, run.fail(entities.StepClassify, err)
	}

	plan := &entities.RepairPlan{
		Target:        target,
		OutputPath:    outputPath,
		Arch:          image.Arch,
		InitialPolicy: initial.Strict,
		Policy:        initial.Strict,
	}

	if err := os.MkdirAll(outputDir, 0750); err != nil {
		return nil, run.fail(entities.StepCopy, fmt.Errorf("failed to create output directory: %w", err))
	}
	if same, err := samePath(target, outputPath); err != nil || same {
		if err == nil {
			err = fmt.Errorf("output %s would overwrite the input", outputPath)
		}
		return nil, run.fail(entities.StepCopy, err)
	}

	// Step 3: Resolve what has to be bundled
	var closure []entities.ExternalLibrary
	if repairTo != nil {
		closure, err = o.resolver.ResolveClosure(ctx, image, repairTo.LibWhitelist)
		if err != nil {
			return nil, run.fail(entities.StepResolve, err)
		}
	}

	if len(closure) == 0 {
		o.logger.Info("No repair needed",
			interfaces.F("target", target),
			interfaces.F("policy", initial.Strict.Name))
		if err := run.copy(target, outputPath); err != nil {
			return nil, run.fail(entities.StepCopy, err)
		}
		run.done()
		return plan, nil
	}

	o.logger.Info("Repairing binary",
		interfaces.F("target", target),
		interfaces.F("from", initial.Strict.Name),
		interfaces.F("to", repairTo.Name),
		interfaces.F("libraries", len(closure)))

	// Step 4: Name each library. Renames are kept per requesting file
	// since one DT_NEEDED string can resolve to different files for
	// different requesters.
	libs := make([]entities.BundledLibrary, len(closure))
	renames := make(map[string]map[string]string)
	for i, lib := range closure {
		name := o.namer.Name(lib)
		libs[i] = entities.BundledLibrary{
			ExternalLibrary: lib,
			BundledName:     name,
			OutputPath:      filepath.Join(outputDir, name),
		}
		for _, entry := range lib.NeededAs {
			if entry.Name == name {
				continue
			}
			if renames[entry.Requester] == nil {
				renames[entry.Requester] = make(map[string]string)
			}
			renames[entry.Requester][entry.Name] = name
		}
	}

	// Step 5: Copy the target and the libraries
	if err := run.copy(target, outputPath); err != nil {
		return nil, run.fail(entities.StepCopy, err)
	}
	for _, lib := range libs {
		if err := run.copy(lib.Path, lib.OutputPath); err != nil {
			return nil, run.fail(entities.StepCopy, err)
		}
		if o.verifier != nil {
			if err := o.verifier.VerifyFile(lib.OutputPath, lib.Hash); err != nil {
				return nil, run.fail(entities.StepVerify, err)
			}
		}
	}

	// Step 6: Give each copy its bundled SONAME
	for _, lib := range libs {
		if err := o.patcher.SetSoname(ctx, lib.OutputPath, lib.BundledName); err != nil {
			return nil, run.fail(entities.StepSoname, err)
		}
	}

	// Step 7: Point every DT_NEEDED at the bundled names
	files := []patchTarget{{path: outputPath, source: image.Path, needed: image.Needed}}
	for _, lib := range libs {
		files = append(files, patchTarget{path: lib.OutputPath, source: lib.Path, needed: lib.Needed})
	}
	for _, f := range files {
		if err := o.patcher.ReplaceNeeded(ctx, f.path, renamesFor(f.needed, renames[f.source])); err != nil {
			return nil, run.fail(entities.StepRename, err)
		}
	}

	// Step 8: Replace build-machine search paths with $ORIGIN
	for _, f := range files {
		if err := o.patcher.SetSearchPaths(ctx, f.path, []string{originMarker}); err != nil {
			return nil, run.fail(entities.StepRpath, err)
		}
	}

	// Step 9: Re-parse and re-classify with the bundled libraries carried
	repaired, err := o.inspector.Inspect(outputPath)
	if err != nil {
		return nil, run.fail(entities.StepVerify, err)
	}
	carried := make([]entities.ExternalLibrary, 0, len(libs))
	for _, lib := range libs {
		img, err := o.inspector.Inspect(lib.OutputPath)
		if err != nil {
			return nil, run.fail(entities.StepVerify, err)
		}
		if img.Soname != lib.BundledName {
			return nil, run.fail(entities.StepVerify,
				fmt.Errorf("%s has SONAME %q after patching, want %q", lib.OutputPath, img.Soname, lib.BundledName))
		}
		carried = append(carried, entities.ExternalLibrary{
			Name:         lib.Name,
			Path:         lib.OutputPath,
			Soname:       img.Soname,
			Needed:       img.Needed,
			Requirements: img.Requirements,
		})
	}

	final := o.assessor.Assess(repaired, carried)
	if o.config.RequestedPolicy != "" {
		if v, ok := final.Verdict(o.config.RequestedPolicy); ok && !v.Satisfied() {
			return nil, run.fail(entities.StepClassify, &entities.PolicyError{
				Requested: o.config.RequestedPolicy,
				Achieved:  final.Strict.Name,
				Reason:    v.Reason(),
			})
		}
	} else if final.Strict.Priority < repairTo.Priority {
		o.logger.Warn("Bundled libraries lower the achievable policy",
			interfaces.F("target", target),
			interfaces.F("expected", repairTo.Name),
			interfaces.F("achieved", final.Strict.Name))
	}

	plan.Policy = final.Strict
	plan.Libraries = libs
	plan.Repaired = true
	run.done()

	o.logger.Info("Repair complete",
		interfaces.F("target", target),
		interfaces.F("policy", plan.Policy.Name),
		interfaces.F("output", outputPath))
	return plan, nil
}

// selectTarget returns the tier to bundle for, or nil when the target is
// left as it is.
func (o *RepairOrchestrator) selectTarget(a *services.Assessment) (*entities.Policy, error) {
	requested := o.config.RequestedPolicy
	if requested == "" {
		if a.NeedsRepair() {
			return a.RepairTarget, nil
		}
		return nil, nil
	}

	v, ok := a.Verdict(requested)
	if !ok {
		return nil, &entities.PolicyError{
			Requested: requested,
			Achieved:  a.Strict.Name,
			Reason:    "policy is not available for this C library and architecture",
		}
	}
	if a.Strict.Priority > v.Policy.Priority {
		o.logger.Info("A more portable policy is achievable",
			interfaces.F("requested", v.Policy.Name),
			interfaces.F("achievable", a.Strict.Name))
	}
	switch {
	case v.Satisfied():
		return nil, nil
	case v.OnlyForbiddenLibraries():
		p := v.Policy
		return &p, nil
	}
	return nil, &entities.PolicyError{Requested: requested, Achieved: a.Strict.Name, Reason: v.Reason()}
}

// patchTarget is one written file, the file it was copied from and the
// DT_NEEDED list it was copied with
type patchTarget struct {
	path   string
	source string
	needed []string
}

// renamesFor keeps the renames that apply to a file's own DT_NEEDED list
func renamesFor(needed []string, renames map[string]string) []gateways.Rename {
	var out []gateways.Rename
	for _, n := range needed {
		if to, ok := renames[n]; ok {
			out = append(out, gateways.Rename{Old: n, New: to})
		}
	}
	return out
}

func copyFile(src, dst string) error {
	err := cp.Copy(src, dst, cp.Options{
		Sync:              true,
		PermissionControl: cp.AddPermission(0200),
		OnSymlink:         func(string) cp.SymlinkAction { return cp.Deep },
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func samePath(a, b string) (bool, error) {
	ai, err := os.Stat(a)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", a, err)
	}
	bi, err := os.Stat(b)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", b, err)
	}
	return os.SameFile(ai, bi), nil
}
