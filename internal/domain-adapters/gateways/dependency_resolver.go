package gateways

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/edwingeng/deque/v2"
	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces"
	"github.com/ochairo/sorepair/internal/domain/interfaces/gateways"
	"github.com/spf13/afero"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// LibraryResolver walks the DT_NEEDED graph of a binary and locates every
// dependency outside the whitelist.
type LibraryResolver struct {
	fs        afero.Fs
	inspector gateways.BinaryInspector
	hasher    *FileHasher
	paths     *searchPaths
	logger    interfaces.Logger
}

var _ gateways.DependencyResolver = (*LibraryResolver)(nil)

// NewLibraryResolver creates a resolver. fs must be the filesystem the
// inspector reads from; nil means the OS.
func NewLibraryResolver(fs afero.Fs, inspector gateways.BinaryInspector, config SearchPathConfig, logger interfaces.Logger) *LibraryResolver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &LibraryResolver{
		fs:        fs,
		inspector: inspector,
		hasher:    NewFileHasher(fs),
		paths:     newSearchPaths(fs, config),
		logger:    interfaces.OrNoOp(logger),
	}
}

type pendingLookup struct {
	requester *entities.BinaryImage
	name      string
}

// ResolveClosure returns the external libraries image depends on,
// directly or transitively, in discovery order. Libraries are identified
// by content, so two paths to the same file are one library, while two
// files sharing a name but not content are two. NeededAs tells which
// entry of which binary picked each one.
func (r *LibraryResolver) ResolveClosure(ctx context.Context, image *entities.BinaryImage, whitelist []string) ([]entities.ExternalLibrary, error) {
	allowed := make(map[string]bool, len(whitelist))
	for _, name := range whitelist {
		allowed[name] = true
	}

	closure := orderedmap.New[string, *entities.ExternalLibrary]()
	// (requester, name) pairs already looked up
	visited := make(map[string]bool)

	queue := deque.NewDeque[pendingLookup]()
	enqueue := func(requester *entities.BinaryImage) {
		for _, name := range requester.Needed {
			if entities.IsDynamicLoader(filepath.Base(name)) || allowed[filepath.Base(name)] {
				continue
			}
			key := requester.Path + "\x00" + name
			if visited[key] {
				continue
			}
			visited[key] = true
			queue.PushBack(pendingLookup{requester: requester, name: name})
		}
	}
	enqueue(image)

	for !queue.IsEmpty() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item := queue.PopFront()

		path, lib, err := r.locate(image, item)
		if err != nil {
			return nil, err
		}

		hash, err := r.hasher.HashFile(path)
		if err != nil {
			return nil, &entities.ParseError{Path: path, Kind: entities.ParseIO, Err: err}
		}
		entry := entities.NeededEntry{Requester: item.requester.Path, Name: item.name}
		if existing, ok := closure.Get(hash); ok {
			existing.RequiredBy = appendUnique(existing.RequiredBy, item.requester.Path)
			existing.NeededAs = append(existing.NeededAs, entry)
			continue
		}

		r.logger.Debug("resolved dependency",
			interfaces.F("name", item.name),
			interfaces.F("path", path),
			interfaces.F("required_by", item.requester.Path))

		closure.Set(hash, &entities.ExternalLibrary{
			Name:         filepath.Base(item.name),
			Path:         path,
			Soname:       lib.Soname,
			Hash:         hash,
			Needed:       lib.Needed,
			Requirements: lib.Requirements,
			RequiredBy:   []string{item.requester.Path},
			NeededAs:     []entities.NeededEntry{entry},
		})
		enqueue(lib)
	}

	libs := make([]entities.ExternalLibrary, 0, closure.Len())
	for pair := closure.Oldest(); pair != nil; pair = pair.Next() {
		libs = append(libs, *pair.Value)
	}
	return libs, nil
}

// locate finds the first candidate for item that is an ELF file of the
// same class and machine as root.
func (r *LibraryResolver) locate(root *entities.BinaryImage, item pendingLookup) (string, *entities.BinaryImage, error) {
	var dirs []string
	var candidates []string
	if strings.Contains(item.name, "/") {
		candidates = []string{item.name}
	} else {
		dirs = r.paths.dirsFor(item.requester.Path, item.requester.Rpath, item.requester.Runpath)
		for _, dir := range dirs {
			candidates = append(candidates, filepath.Join(dir, item.name))
		}
	}

	for _, candidate := range candidates {
		info, err := r.fs.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		lib, err := r.inspector.Inspect(candidate)
		if err != nil {
			var pe *entities.ParseError
			if !errors.As(err, &pe) {
				return "", nil, err
			}
			r.logger.Debug("skipping unreadable candidate", interfaces.F("path", candidate), interfaces.F("error", err))
			continue
		}
		if lib.Class != root.Class || lib.Machine != root.Machine {
			r.logger.Debug("skipping incompatible candidate",
				interfaces.F("path", candidate),
				interfaces.F("arch", lib.Arch),
				interfaces.F("want", root.Arch))
			continue
		}
		return candidate, lib, nil
	}

	if dirs == nil {
		dirs = []string{filepath.Dir(item.name)}
	}
	return "", nil, &entities.ResolveError{
		Name:        item.name,
		RequiredBy:  item.requester.Path,
		SearchPaths: dirs,
	}
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}
