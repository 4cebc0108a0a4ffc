package gateways

import (
	"context"
	"strings"
	"sync"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces/gateways"
)

// Patch operations recorded by RecordingPatcher, named after the patchelf flags
const (
	OpVerify        = "version"
	OpReplaceNeeded = "replace-needed"
	OpSetSoname     = "set-soname"
	OpRemoveRpath   = "remove-rpath"
	OpSetRpath      = "set-rpath"
)

// PatchCall is one recorded patcher invocation
type PatchCall struct {
	Op   string
	File string
	Args []string
}

// String renders the call as the equivalent patchelf command line
func (c PatchCall) String() string {
	parts := []string{"patchelf"}
	switch c.Op {
	case OpReplaceNeeded:
		for i := 0; i+1 < len(c.Args); i += 2 {
			parts = append(parts, "--replace-needed", c.Args[i], c.Args[i+1])
		}
	case OpSetRpath:
		parts = append(parts, "--force-rpath", "--set-rpath")
		parts = append(parts, c.Args...)
	default:
		parts = append(parts, "--"+c.Op)
		parts = append(parts, c.Args...)
	}
	if c.File != "" {
		parts = append(parts, c.File)
	}
	return strings.Join(parts, " ")
}

type patchState struct {
	renames  map[string]string
	soname   string
	pathsSet bool
	paths    []string
}

// RecordingPatcher is an in-memory BinaryPatcher. It records every call
// and never touches files; Inspector overlays the recorded edits on
// parsed images so a repair can be verified without patchelf.
type RecordingPatcher struct {
	inner gateways.BinaryInspector

	mu    sync.Mutex
	calls []PatchCall
	state map[string]*patchState
	// FailOn makes the named operation fail with the given error
	FailOn map[string]error
}

var _ gateways.BinaryPatcher = (*RecordingPatcher)(nil)

// NewRecordingPatcher creates a patcher whose reads go through inner
func NewRecordingPatcher(inner gateways.BinaryInspector) *RecordingPatcher {
	return &RecordingPatcher{
		inner:  inner,
		state:  make(map[string]*patchState),
		FailOn: make(map[string]error),
	}
}

// Calls returns the recorded calls in order
func (p *RecordingPatcher) Calls() []PatchCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PatchCall(nil), p.calls...)
}

func (p *RecordingPatcher) record(op, file string, args ...string) (*patchState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, PatchCall{Op: op, File: file, Args: args})
	if err := p.FailOn[op]; err != nil {
		return nil, err
	}
	if file == "" {
		return nil, nil
	}
	st, ok := p.state[file]
	if !ok {
		st = &patchState{renames: make(map[string]string)}
		p.state[file] = st
	}
	return st, nil
}

// VerifyTool always succeeds unless FailOn[OpVerify] is set
func (p *RecordingPatcher) VerifyTool(_ context.Context) error {
	_, err := p.record(OpVerify, "")
	return err
}

// ReplaceNeeded records the renames
func (p *RecordingPatcher) ReplaceNeeded(_ context.Context, file string, renames []gateways.Rename) error {
	if len(renames) == 0 {
		return nil
	}
	args := make([]string, 0, 2*len(renames))
	for _, r := range renames {
		args = append(args, r.Old, r.New)
	}
	st, err := p.record(OpReplaceNeeded, file, args...)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range renames {
		st.renames[r.Old] = r.New
	}
	return nil
}

// SetSoname records the new SONAME
func (p *RecordingPatcher) SetSoname(_ context.Context, file, soname string) error {
	st, err := p.record(OpSetSoname, file, soname)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st.soname = soname
	return nil
}

// GetSearchPaths returns the recorded paths, or the file's own
func (p *RecordingPatcher) GetSearchPaths(_ context.Context, file string) ([]string, error) {
	img, err := p.Inspector().Inspect(file)
	if err != nil {
		return nil, err
	}
	return img.SearchPaths(), nil
}

// SetSearchPaths records a removal followed by a set
func (p *RecordingPatcher) SetSearchPaths(ctx context.Context, file string, paths []string) error {
	if err := p.ClearSearchPaths(ctx, file); err != nil {
		return err
	}
	st, err := p.record(OpSetRpath, file, strings.Join(paths, ":"))
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st.pathsSet = true
	st.paths = append([]string(nil), paths...)
	return nil
}

// ClearSearchPaths records a removal
func (p *RecordingPatcher) ClearSearchPaths(_ context.Context, file string) error {
	st, err := p.record(OpRemoveRpath, file)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	st.pathsSet = true
	st.paths = nil
	return nil
}

// Inspector returns an inspector that applies the recorded edits
func (p *RecordingPatcher) Inspector() gateways.BinaryInspector {
	return recordedInspector{p}
}

type recordedInspector struct {
	p *RecordingPatcher
}

func (r recordedInspector) Inspect(path string) (*entities.BinaryImage, error) {
	img, err := r.p.inner.Inspect(path)
	if err != nil {
		return nil, err
	}

	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	st, ok := r.p.state[path]
	if !ok {
		return img, nil
	}

	patched := *img
	if st.soname != "" {
		patched.Soname = st.soname
	}
	if len(st.renames) > 0 {
		patched.Needed = make([]string, len(img.Needed))
		for i, name := range img.Needed {
			if renamed, ok := st.renames[name]; ok {
				name = renamed
			}
			patched.Needed[i] = name
		}
		patched.Requirements = make([]entities.VersionRequirement, len(img.Requirements))
		for i, req := range img.Requirements {
			if renamed, ok := st.renames[req.Library]; ok {
				req.Library = renamed
			}
			patched.Requirements[i] = req
		}
	}
	if st.pathsSet {
		patched.Runpath = nil
		patched.Rpath = append([]string(nil), st.paths...)
	}
	return &patched, nil
}
