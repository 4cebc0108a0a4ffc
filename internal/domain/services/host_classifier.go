package services

import (
	"sync"

	"github.com/ochairo/sorepair/internal/domain/entities"
)

// HostClassifier classifies binaries of any architecture against the tiers
// that apply to the host C library. One classifier per architecture is
// built on first use.
type HostClassifier struct {
	registry *PolicyRegistry
	libc     entities.LibcKind

	mu     sync.Mutex
	byArch map[string]*Classifier
}

// NewHostClassifier creates a classifier over the libc view of registry
func NewHostClassifier(registry *PolicyRegistry, libc entities.LibcKind) *HostClassifier {
	return &HostClassifier{registry: registry, libc: libc, byArch: make(map[string]*Classifier)}
}

// For returns the classifier for one architecture
func (h *HostClassifier) For(arch string) *Classifier {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.byArch[arch]
	if !ok {
		c = NewClassifier(h.registry.ForLibc(h.libc, arch))
		h.byArch[arch] = c
	}
	return c
}

// Assess checks image against the tiers for its architecture
func (h *HostClassifier) Assess(image *entities.BinaryImage, deps []entities.ExternalLibrary) *Assessment {
	return h.For(image.Arch).Assess(image, deps)
}

// Classify returns the highest tier image satisfies on this host
func (h *HostClassifier) Classify(image *entities.BinaryImage, deps []entities.ExternalLibrary) entities.Policy {
	return h.Assess(image, deps).Strict
}
