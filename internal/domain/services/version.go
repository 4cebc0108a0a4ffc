package services

import (
	goversion "github.com/hashicorp/go-version"
)

// CompareSymbolVersions orders two symbol versions by dotted numeric
// segments, the shorter padded with zeros. ok is false when either side is
// not numeric (e.g. "PRIVATE").
func CompareSymbolVersions(a, b string) (cmp int, ok bool) {
	va, err := goversion.NewVersion(a)
	if err != nil {
		return 0, false
	}
	vb, err := goversion.NewVersion(b)
	if err != nil {
		return 0, false
	}
	return va.Compare(vb), true
}

// MaxSymbolVersion returns the greatest numeric version in versions.
func MaxSymbolVersion(versions []string) (string, bool) {
	var maxRaw string
	var maxV *goversion.Version
	for _, raw := range versions {
		v, err := goversion.NewVersion(raw)
		if err != nil {
			continue
		}
		if maxV == nil || v.GreaterThan(maxV) {
			maxV, maxRaw = v, raw
		}
	}
	return maxRaw, maxV != nil
}

// SymbolVersionAllowed reports whether version is within allowed: listed
// literally, or numerically at most the greatest numeric entry.
func SymbolVersionAllowed(version string, allowed []string) bool {
	for _, a := range allowed {
		if a == version {
			return true
		}
	}
	v, err := goversion.NewVersion(version)
	if err != nil {
		return false
	}
	maxRaw, ok := MaxSymbolVersion(allowed)
	if !ok {
		return false
	}
	limit, err := goversion.NewVersion(maxRaw)
	if err != nil {
		return false
	}
	return v.LessThanOrEqual(limit)
}
