// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"

	"github.com/ochairo/sorepair/internal/domain/entities"
)

// PolicyRepository loads the compliance tier table
type PolicyRepository interface {
	// LoadPolicies returns every tier in the table, in table order
	LoadPolicies(ctx context.Context) ([]entities.Policy, error)
}
