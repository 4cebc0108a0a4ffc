package gateways

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// TargetFinder expands command line arguments into repair targets
type TargetFinder struct {
	fs afero.Fs
}

// NewTargetFinder creates a finder reading through fs (the OS when nil)
func NewTargetFinder(fs afero.Fs) *TargetFinder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &TargetFinder{fs: fs}
}

// Expand keeps file arguments as given and replaces each directory with
// the ELF shared objects found under it, in lexical order.
// A file argument is never filtered: inspecting it reports a non-ELF input.
func (f *TargetFinder) Expand(args []string) ([]string, error) {
	var targets []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			targets = append(targets, p)
		}
	}

	for _, arg := range args {
		info, err := f.fs.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to access %s: %w", arg, err)
		}
		if !info.IsDir() {
			add(arg)
			continue
		}

		found, err := f.FindRecursive(arg)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no shared objects found under %s", arg)
		}
		for _, p := range found {
			add(p)
		}
	}
	return targets, nil
}

// FindRecursive lists the ELF shared objects under dir.
// Symlinks are skipped; their targets are found by name.
func (f *TargetFinder) FindRecursive(dir string) ([]string, error) {
	var found []string
	err := afero.Walk(f.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() || !isSharedObjectName(info.Name()) {
			return nil
		}
		ok, err := f.hasELFMagic(path)
		if err != nil {
			return err
		}
		if ok {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	sort.Strings(found)
	return found, nil
}

// isSharedObjectName matches libfoo.so and libfoo.so.1.2
func isSharedObjectName(name string) bool {
	return strings.HasSuffix(name, ".so") || strings.Contains(name, ".so.")
}

func (f *TargetFinder) hasELFMagic(path string) (bool, error) {
	file, err := f.fs.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close() //nolint:errcheck // Read-only file

	head := make([]byte, len(elfMagic))
	if _, err := io.ReadFull(file, head); err != nil {
		// shorter than the magic
		return false, nil
	}
	return bytes.Equal(head, elfMagic), nil
}

