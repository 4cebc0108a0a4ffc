// Package gateways defines the contracts for binary inspection and patching.
package gateways

import (
	"context"

	"github.com/ochairo/sorepair/internal/domain/entities"
)

// BinaryInspector parses a binary into its format-agnostic view.
// ELF is the only implementation today.
type BinaryInspector interface {
	// Inspect fails with *entities.ParseError
	Inspect(path string) (*entities.BinaryImage, error)
}

// Rename is one DT_NEEDED rewrite.
type Rename struct {
	Old string
	New string
}

// BinaryPatcher mutates well-defined dynamic-linking fields of a binary.
// Every mutating call is one external invocation and fails with
// *entities.ToolError on a non-zero exit.
type BinaryPatcher interface {
	// VerifyTool checks the tool is installed and recent enough
	VerifyTool(ctx context.Context) error

	ReplaceNeeded(ctx context.Context, file string, renames []Rename) error
	SetSoname(ctx context.Context, file, soname string) error

	// GetSearchPaths reads RUNPATH (or RPATH) without invoking the tool
	GetSearchPaths(ctx context.Context, file string) ([]string, error)
	// SetSearchPaths clears existing search paths, then sets paths in one call
	SetSearchPaths(ctx context.Context, file string, paths []string) error
	ClearSearchPaths(ctx context.Context, file string) error
}

// LibcDetector reports the C runtime of the build host.
type LibcDetector interface {
	DetectLibc(ctx context.Context) entities.LibcKind
}

// DependencyResolver discovers the non-whitelisted dependency closure of a binary.
type DependencyResolver interface {
	// ResolveClosure fails with *entities.ResolveError when a dependency cannot be located
	ResolveClosure(ctx context.Context, image *entities.BinaryImage, whitelist []string) ([]entities.ExternalLibrary, error)
}
