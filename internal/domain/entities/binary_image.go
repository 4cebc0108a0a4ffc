// Package entities defines core domain models and data structures.
package entities

import (
	"debug/elf"
	"strings"
)

// BinaryImage is the format-agnostic view of one parsed binary.
// It is immutable; re-inspect the file after patching it.
type BinaryImage struct {
	Path        string
	Arch        string // policy architecture name, e.g. "x86_64"
	Class       elf.Class
	Machine     elf.Machine
	Soname      string
	Interpreter string
	Needed      []string // DT_NEEDED, in file order
	Runpath     []string // DT_RUNPATH entries
	Rpath       []string // DT_RPATH entries

	// Requirements are the versioned imports, normalized to family/version pairs.
	Requirements []VersionRequirement
	// ImportedSymbols holds the names of undefined dynamic symbols.
	ImportedSymbols []string
	// Definitions holds the version nodes the file exports (e.g. "GLIBC_2.17").
	Definitions []string
}

// SearchPaths returns the search paths the dynamic loader honours:
// RUNPATH when present, otherwise RPATH.
func (b *BinaryImage) SearchPaths() []string {
	if len(b.Runpath) > 0 {
		return b.Runpath
	}
	return b.Rpath
}

// Needs reports whether name is one of the image's DT_NEEDED entries.
func (b *BinaryImage) Needs(name string) bool {
	for _, n := range b.Needed {
		if n == name {
			return true
		}
	}
	return false
}

// VersionRequirement is one versioned import: the library providing it and the
// version node split into family and version ("GLIBC_2.17" -> "GLIBC", "2.17").
type VersionRequirement struct {
	Library string
	Family  string
	Version string
}

// String renders the requirement the way it appears in the binary.
func (r VersionRequirement) String() string {
	return r.Family + "_" + r.Version
}

// ParseVersionNode splits a raw version node name at the first underscore.
// Nodes without an underscore carry no family and are rejected.
func ParseVersionNode(library, node string) (VersionRequirement, bool) {
	family, version, ok := strings.Cut(node, "_")
	if !ok || family == "" || version == "" {
		return VersionRequirement{}, false
	}
	return VersionRequirement{Library: library, Family: family, Version: version}, true
}

// IsDynamicLoader reports whether a dependency name refers to the dynamic
// loader or the musl C library, which are provided by every target system.
func IsDynamicLoader(name string) bool {
	switch {
	case strings.HasPrefix(name, "ld-linux"):
		return true
	case name == "ld64.so.1" || name == "ld64.so.2":
		return true
	case strings.HasPrefix(name, "ld-musl-"):
		return true
	case strings.HasPrefix(name, "libc.musl-"):
		return true
	}
	return false
}

// ArchFromMachine maps an ELF machine to the architecture names used by
// the policy table. Unknown machines return an empty string.
func ArchFromMachine(machine elf.Machine, class elf.Class, order elf.Data) string {
	switch machine {
	case elf.EM_X86_64:
		return "x86_64"
	case elf.EM_386:
		return "i686"
	case elf.EM_AARCH64:
		return "aarch64"
	case elf.EM_ARM:
		return "armv7l"
	case elf.EM_PPC64:
		if order == elf.ELFDATA2LSB {
			return "ppc64le"
		}
		return "ppc64"
	case elf.EM_S390:
		if class == elf.ELFCLASS64 {
			return "s390x"
		}
		return "s390"
	case elf.EM_RISCV:
		if class == elf.ELFCLASS64 {
			return "riscv64"
		}
		return "riscv32"
	case elf.EM_LOONGARCH:
		return "loongarch64"
	}
	return ""
}
