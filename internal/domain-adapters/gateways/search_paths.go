package gateways

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// DefaultLibraryDirs are searched after every configured location
var DefaultLibraryDirs = []string{"/lib64", "/lib", "/usr/lib64", "/usr/lib"}

// SearchPathConfig configures where dependencies are looked up
type SearchPathConfig struct {
	// Sysroot prefixes every absolute search location
	Sysroot string
	// ExtraPaths behave like LD_LIBRARY_PATH
	ExtraPaths []string
	// LdSoConf is the loader configuration file, "/etc/ld.so.conf" when empty
	LdSoConf string
}

// searchPaths computes candidate directories for one requester
type searchPaths struct {
	fs     afero.Fs
	config SearchPathConfig

	once   sync.Once
	system []string
}

func newSearchPaths(fs afero.Fs, config SearchPathConfig) *searchPaths {
	if config.LdSoConf == "" {
		config.LdSoConf = "/etc/ld.so.conf"
	}
	return &searchPaths{fs: fs, config: config}
}

// rooted places an absolute path under the sysroot
func (s *searchPaths) rooted(path string) string {
	if s.config.Sysroot == "" || !filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.config.Sysroot, path)
}

// dirsFor returns the directories to try, in order, for a dependency of
// the binary at requesterPath: RPATH (only without RUNPATH), extra paths,
// RUNPATH, ld.so.conf and the default directories.
func (s *searchPaths) dirsFor(requesterPath string, rpath, runpath []string) []string {
	origin := filepath.Dir(requesterPath)
	var dirs []string
	if len(runpath) == 0 {
		dirs = append(dirs, s.expand(rpath, origin)...)
	}
	for _, p := range s.config.ExtraPaths {
		dirs = append(dirs, s.rooted(p))
	}
	dirs = append(dirs, s.expand(runpath, origin)...)
	dirs = append(dirs, s.systemDirs()...)
	return uniqueStrings(dirs)
}

// expand substitutes $ORIGIN; substituted entries already name a real
// directory and are not rooted again.
func (s *searchPaths) expand(paths []string, origin string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if expanded, ok := expandOrigin(p, origin); ok {
			out = append(out, filepath.Clean(expanded))
			continue
		}
		out = append(out, s.rooted(p))
	}
	return out
}

func expandOrigin(path, origin string) (string, bool) {
	if !strings.Contains(path, "$ORIGIN") && !strings.Contains(path, "${ORIGIN}") {
		return path, false
	}
	path = strings.ReplaceAll(path, "${ORIGIN}", origin)
	return strings.ReplaceAll(path, "$ORIGIN", origin), true
}

// systemDirs returns the ld.so.conf entries followed by the defaults
func (s *searchPaths) systemDirs() []string {
	s.once.Do(func() {
		var dirs []string
		for _, d := range s.parseLdSoConf(s.rooted(s.config.LdSoConf), map[string]bool{}) {
			dirs = append(dirs, s.rooted(d))
		}
		for _, d := range DefaultLibraryDirs {
			dirs = append(dirs, s.rooted(d))
		}
		s.system = uniqueStrings(dirs)
	})
	return s.system
}

// parseLdSoConf reads one configuration file, following include globs.
// A missing file contributes nothing; musl hosts have none.
func (s *searchPaths) parseLdSoConf(realPath string, seen map[string]bool) []string {
	if seen[realPath] {
		return nil
	}
	seen[realPath] = true

	data, err := afero.ReadFile(s.fs, realPath)
	if err != nil {
		return nil
	}

	var dirs []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "include"); ok && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
			for _, pattern := range strings.Fields(rest) {
				if filepath.IsAbs(pattern) {
					pattern = s.rooted(pattern)
				} else {
					pattern = filepath.Join(filepath.Dir(realPath), pattern)
				}
				matches, err := afero.Glob(s.fs, pattern)
				if err != nil {
					continue
				}
				for _, m := range matches {
					dirs = append(dirs, s.parseLdSoConf(m, seen)...)
				}
			}
			continue
		}

		// glibc also accepts ':' and ',' between entries
		for _, dir := range strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ':' || r == ','
		}) {
			if filepath.IsAbs(dir) {
				dirs = append(dirs, filepath.Clean(dir))
			}
		}
	}
	return dirs
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
