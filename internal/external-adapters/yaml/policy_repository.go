package yaml

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces/repositories"
)

//go:embed policy.json
var embeddedPolicies []byte

// SignatureVerifier checks a detached signature over signed content
type SignatureVerifier interface {
	ImportKeyFromFile(keyPath string) error
	Verify(signed, signature io.Reader) error
}

// OverlayConfig points at an external policy table that replaces the
// embedded one. The table is only used when its signature verifies.
type OverlayConfig struct {
	TablePath     string
	SignaturePath string
	KeyPath       string
	Verifier      SignatureVerifier
}

// PolicyRepository implements repositories.PolicyRepository over the
// compiled-in table, optionally replaced by a signed overlay
type PolicyRepository struct {
	parser  *PolicyParser
	overlay *OverlayConfig
}

var _ repositories.PolicyRepository = (*PolicyRepository)(nil)

// NewPolicyRepository creates a repository over the embedded table
func NewPolicyRepository() *PolicyRepository {
	return &PolicyRepository{parser: NewPolicyParser()}
}

// NewOverlayPolicyRepository creates a repository over a signed external table
func NewOverlayPolicyRepository(overlay OverlayConfig) *PolicyRepository {
	return &PolicyRepository{parser: NewPolicyParser(), overlay: &overlay}
}

// LoadPolicies returns every tier of the active table
func (r *PolicyRepository) LoadPolicies(_ context.Context) ([]entities.Policy, error) {
	if r.overlay == nil {
		return r.parser.Parse(embeddedPolicies)
	}

	o := r.overlay
	if o.SignaturePath == "" || o.KeyPath == "" || o.Verifier == nil {
		return nil, fmt.Errorf("policy overlay %s requires a signature and a key", o.TablePath)
	}
	if err := o.Verifier.ImportKeyFromFile(o.KeyPath); err != nil {
		return nil, fmt.Errorf("failed to import policy key: %w", err)
	}

	// The bytes that are verified are the bytes that are parsed
	//nolint:gosec // G304: the overlay path comes from the user's config
	data, err := os.ReadFile(o.TablePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy overlay: %w", err)
	}
	//nolint:gosec // G304: the signature path comes from the user's config
	sig, err := os.Open(o.SignaturePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy signature: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer sig.Close()

	if err := o.Verifier.Verify(bytes.NewReader(data), sig); err != nil {
		return nil, fmt.Errorf("policy overlay %s rejected: %w", o.TablePath, err)
	}
	return r.parser.Parse(data)
}

// EmbeddedTable returns the raw compiled-in policy table
func EmbeddedTable() []byte {
	out := make([]byte, len(embeddedPolicies))
	copy(out, embeddedPolicies)
	return out
}
