package entities

import "fmt"

// LibcFlavor identifies the C runtime family of a host.
type LibcFlavor string

const (
	// LibcGlibc is a GNU C library host
	LibcGlibc LibcFlavor = "glibc"
	// LibcMusl is a musl host; Major and Minor are set
	LibcMusl LibcFlavor = "musl"
	// LibcUnknown means detection failed; musl compliance must not be assumed
	LibcUnknown LibcFlavor = "unknown"
)

// LibcKind is the detected C runtime of the build host.
type LibcKind struct {
	Flavor LibcFlavor
	Major  int
	Minor  int
}

// Glibc returns the glibc kind.
func Glibc() LibcKind { return LibcKind{Flavor: LibcGlibc} }

// Musl returns a musl kind with the given version.
func Musl(major, minor int) LibcKind {
	return LibcKind{Flavor: LibcMusl, Major: major, Minor: minor}
}

// UnknownLibc returns the kind reported when detection fails.
func UnknownLibc() LibcKind { return LibcKind{Flavor: LibcUnknown} }

// IsMusl reports whether the kind is musl.
func (k LibcKind) IsMusl() bool { return k.Flavor == LibcMusl }

func (k LibcKind) String() string {
	if k.Flavor == LibcMusl {
		return fmt.Sprintf("musl %d.%d", k.Major, k.Minor)
	}
	return string(k.Flavor)
}

// MuslPolicyName returns the musllinux tier name for a musl kind,
// e.g. "musllinux_1_2". Empty for non-musl kinds.
func (k LibcKind) MuslPolicyName() string {
	if k.Flavor != LibcMusl {
		return ""
	}
	return fmt.Sprintf("musllinux_%d_%d", k.Major, k.Minor)
}
