package gateways

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/ochairo/sorepair/internal/domain/entities"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const shortHashLen = 8

var bundledStem = regexp.MustCompile(`-[0-9a-f]{8}$`)

// BundledName returns the name a library is bundled under:
// "libfoo.so.1" with hash "0123abcd..." becomes "libfoo-0123abcd.so.1".
// A stem that already ends in the same short hash is kept.
func BundledName(fileName, hash string) string {
	short := hash
	if len(short) > shortHashLen {
		short = short[:shortHashLen]
	}
	stem, ext, hasExt := strings.Cut(fileName, ".")
	if !strings.HasSuffix(stem, "-"+short) {
		stem += "-" + short
	}
	if !hasExt {
		return stem
	}
	return stem + "." + ext
}

// BundleNameCache hands out bundled names for libraries shared by several
// repairs, so one library content always gets one name. Safe for concurrent use.
type BundleNameCache struct {
	mu    sync.Mutex
	names *orderedmap.OrderedMap[string, string]
}

// NewBundleNameCache creates an empty cache
func NewBundleNameCache() *BundleNameCache {
	return &BundleNameCache{names: orderedmap.New[string, string]()}
}

// Name returns the bundled name for lib, assigning one on first use
func (c *BundleNameCache) Name(lib entities.ExternalLibrary) string {
	fileName := filepath.Base(lib.Name)
	key := lib.Hash + "/" + fileName

	c.mu.Lock()
	defer c.mu.Unlock()
	if name, ok := c.names.Get(key); ok {
		return name
	}
	name := BundledName(fileName, lib.Hash)
	if alreadyBundled(lib, fileName) {
		name = fileName
	}
	c.names.Set(key, name)
	return name
}

// Len returns the number of assigned names
func (c *BundleNameCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.names.Len()
}

// Names returns the assigned names in assignment order
func (c *BundleNameCache) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, c.names.Len())
	for pair := c.names.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// alreadyBundled reports whether lib was written by an earlier repair:
// its SONAME is its file name and the stem carries a short hash. Patching
// changes the content hash, so the suffix no longer matches it.
func alreadyBundled(lib entities.ExternalLibrary, fileName string) bool {
	if lib.Soname != fileName {
		return false
	}
	stem, _, _ := strings.Cut(fileName, ".")
	return bundledStem.MatchString(stem)
}
