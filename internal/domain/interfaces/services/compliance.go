// Package services defines interfaces for domain service contracts.
package services

import (
	"github.com/ochairo/sorepair/internal/domain/entities"
)

// PolicyRegistry is the read-only, ordered tier table shared by all components
type PolicyRegistry interface {
	// Policies returns every tier, highest priority first
	Policies() []entities.Policy
	Find(name string) (entities.Policy, bool)
	Baseline() entities.Policy
}

// ComplianceClassifier selects the tier a binary satisfies
type ComplianceClassifier interface {
	Classify(image *entities.BinaryImage, deps []entities.ExternalLibrary) entities.Policy
}
