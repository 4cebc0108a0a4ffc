package entities

// ExternalLibrary is one dependency resolved to a concrete file outside the
// whitelist of the policy used for resolution.
type ExternalLibrary struct {
	Name         string // the DT_NEEDED entry that led here
	Path         string // resolved path, including any sysroot prefix
	Soname       string
	Hash         string // hex sha256 of the file content
	Needed       []string
	Requirements []VersionRequirement
	// RequiredBy lists the names of the binaries that first asked for this library.
	RequiredBy []string
	// NeededAs records every DT_NEEDED entry that resolved to this file,
	// in lookup order.
	NeededAs []NeededEntry
}

// NeededEntry is one DT_NEEDED entry of a requesting binary.
type NeededEntry struct {
	Requester string // path of the binary holding the entry
	Name      string // the entry as written
}

// BundledLibrary is an ExternalLibrary copied next to the repaired target.
type BundledLibrary struct {
	ExternalLibrary
	BundledName string
	OutputPath  string
}
