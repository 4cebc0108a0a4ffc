package gateways

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces"
	"github.com/ochairo/sorepair/internal/domain/interfaces/gateways"
	"golang.org/x/sys/unix"
)

// Minimum patchelf release with reliable --replace-needed on large binaries
const (
	PatchelfMinVersion  = "0.14.0"
	PatchelfInstallHint = "pip install patchelf"
)

// PatchelfPatcher drives the patchelf tool. Each mutating call is one
// invocation; a non-zero exit becomes a *entities.ToolError carrying the
// tool's stderr.
type PatchelfPatcher struct {
	tool      string
	path      string // resolved by VerifyTool
	runner    Runner
	inspector gateways.BinaryInspector
	logger    interfaces.Logger

	// lookPath is replaceable in tests
	lookPath func(string) (string, error)
	access   func(string) error
}

var _ gateways.BinaryPatcher = (*PatchelfPatcher)(nil)

// NewPatchelfPatcher creates a patcher invoking tool (a name on PATH or a path)
func NewPatchelfPatcher(tool string, runner Runner, inspector gateways.BinaryInspector, logger interfaces.Logger) *PatchelfPatcher {
	if tool == "" {
		tool = "patchelf"
	}
	return &PatchelfPatcher{
		tool:      tool,
		path:      tool,
		runner:    runner,
		inspector: inspector,
		logger:    interfaces.OrNoOp(logger),
		lookPath:  exec.LookPath,
		access: func(path string) error {
			return unix.Access(path, unix.X_OK)
		},
	}
}

// VerifyTool checks patchelf is installed, executable and at least PatchelfMinVersion
func (p *PatchelfPatcher) VerifyTool(ctx context.Context) error {
	path, err := p.lookPath(p.tool)
	if err != nil {
		return p.missing(err)
	}
	if err := p.access(path); err != nil {
		return p.missing(fmt.Errorf("%s is not executable: %w", path, err))
	}

	args := []string{"--version"}
	result := p.runner.Run(ctx, RunConfig{Name: path, Args: args})
	if !result.Success {
		return p.invocationError(args, result)
	}

	found := parsePatchelfVersion(result.Stdout)
	version, err := semver.NewVersion(found)
	if err != nil {
		return &entities.ToolError{
			Tool:   p.tool,
			Kind:   entities.ToolInvocationFailed,
			Args:   args,
			Stderr: result.Stdout,
			Err:    fmt.Errorf("failed to parse version %q: %w", found, err),
		}
	}

	constraint, err := semver.NewConstraint(">= " + PatchelfMinVersion)
	if err != nil {
		return fmt.Errorf("failed to parse version constraint: %w", err)
	}
	if !constraint.Check(version) {
		return &entities.ToolError{
			Tool:    p.tool,
			Kind:    entities.ToolVersionTooOld,
			Minimum: PatchelfMinVersion,
			Found:   version.String(),
			Hint:    "pip install -U patchelf",
		}
	}

	p.path = path
	p.logger.Debug("patchelf found", interfaces.F("path", path), interfaces.F("version", version.String()))
	return nil
}

// parsePatchelfVersion takes the last field of "patchelf 0.17.2"
func parsePatchelfVersion(output string) string {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// ReplaceNeeded rewrites every DT_NEEDED pair in one invocation
func (p *PatchelfPatcher) ReplaceNeeded(ctx context.Context, file string, renames []gateways.Rename) error {
	if len(renames) == 0 {
		return nil
	}
	args := make([]string, 0, 3*len(renames)+1)
	for _, r := range renames {
		args = append(args, "--replace-needed", r.Old, r.New)
	}
	args = append(args, file)
	return p.invoke(ctx, args)
}

// SetSoname sets DT_SONAME
func (p *PatchelfPatcher) SetSoname(ctx context.Context, file, soname string) error {
	return p.invoke(ctx, []string{"--set-soname", soname, file})
}

// GetSearchPaths re-parses file; patchelf is not involved
func (p *PatchelfPatcher) GetSearchPaths(_ context.Context, file string) ([]string, error) {
	img, err := p.inspector.Inspect(file)
	if err != nil {
		return nil, err
	}
	return img.SearchPaths(), nil
}

// SetSearchPaths removes any RPATH/RUNPATH, then writes paths as DT_RPATH
func (p *PatchelfPatcher) SetSearchPaths(ctx context.Context, file string, paths []string) error {
	if err := p.ClearSearchPaths(ctx, file); err != nil {
		return err
	}
	return p.invoke(ctx, []string{"--force-rpath", "--set-rpath", strings.Join(paths, ":"), file})
}

// ClearSearchPaths removes RPATH and RUNPATH
func (p *PatchelfPatcher) ClearSearchPaths(ctx context.Context, file string) error {
	return p.invoke(ctx, []string{"--remove-rpath", file})
}

func (p *PatchelfPatcher) invoke(ctx context.Context, args []string) error {
	p.logger.Debug("running patchelf", interfaces.F("args", strings.Join(args, " ")))
	result := p.runner.Run(ctx, RunConfig{Name: p.path, Args: args})
	if !result.Success {
		return p.invocationError(args, result)
	}
	return nil
}

func (p *PatchelfPatcher) invocationError(args []string, result *RunResult) error {
	err := result.Error
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return p.missing(err)
	}
	if err == nil {
		err = fmt.Errorf("exit status %d", result.ExitCode)
	}
	return &entities.ToolError{
		Tool:   p.tool,
		Kind:   entities.ToolInvocationFailed,
		Args:   args,
		Stderr: strings.TrimRight(result.Stderr, "\n"),
		Err:    err,
	}
}

func (p *PatchelfPatcher) missing(err error) error {
	return &entities.ToolError{
		Tool:    p.tool,
		Kind:    entities.ToolMissing,
		Minimum: PatchelfMinVersion,
		Hint:    PatchelfInstallHint,
		Err:     err,
	}
}
