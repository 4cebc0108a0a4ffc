package gateways

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/spf13/afero"
)

// SBOMFile is where the SBOM is written, relative to a repair output directory
const SBOMFile = "sboms/bundled.cdx.json"

// SBOMGenerator describes the libraries bundled by a repair as a CycloneDX document
type SBOMGenerator struct {
	fs          afero.Fs
	hasher      *FileHasher
	toolVersion string
	now         func() time.Time
}

// NewSBOMGenerator creates a generator writing through fs (the OS when nil)
func NewSBOMGenerator(fs afero.Fs, toolVersion string) *SBOMGenerator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &SBOMGenerator{
		fs:          fs,
		hasher:      NewFileHasher(fs),
		toolVersion: toolVersion,
		now:         time.Now,
	}
}

// Generate builds the SBOM for a repair plan. The repaired target is the
// metadata component; each bundled library is one component.
func (g *SBOMGenerator) Generate(plan *entities.RepairPlan) (*entities.SBOM, error) {
	if plan == nil {
		return nil, fmt.Errorf("repair plan cannot be nil")
	}

	targetHash, err := g.hasher.HashFile(plan.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate target hash: %w", err)
	}

	target := &entities.Component{
		Type:   "library",
		Name:   filepath.Base(plan.OutputPath),
		Hashes: []entities.Hash{{Algorithm: "SHA-256", Value: targetHash}},
		Properties: []entities.Property{
			{Name: "sorepair:platform-tag", Value: plan.PlatformTag()},
		},
	}

	components := make([]entities.Component, 0, len(plan.Libraries))
	for _, lib := range plan.Libraries {
		name, version := parseLibraryNameVersion(lib.Name)
		c := entities.Component{
			Type:    "library",
			Name:    name,
			Version: version,
			// the hash of the original, before patching
			Hashes: []entities.Hash{{Algorithm: "SHA-256", Value: lib.Hash}},
			Properties: []entities.Property{
				{Name: "sorepair:bundled-name", Value: lib.BundledName},
				{Name: "sorepair:source-path", Value: lib.Path},
			},
		}
		if lib.Soname != "" {
			c.Properties = append(c.Properties, entities.Property{Name: "sorepair:soname", Value: lib.Soname})
		}
		if len(lib.RequiredBy) > 0 {
			c.Properties = append(c.Properties, entities.Property{Name: "sorepair:required-by", Value: strings.Join(lib.RequiredBy, ",")})
		}
		components = append(components, c)
	}

	return &entities.SBOM{
		BOMFormat:   "CycloneDX",
		SpecVersion: "1.5",
		Version:     1,
		Components:  components,
		Metadata: entities.Metadata{
			Timestamp: g.now().UTC(),
			Tools:     []entities.Tool{{Name: "sorepair", Version: g.toolVersion}},
			Component: target,
		},
	}, nil
}

// Write generates the SBOM for plan and stores it under the plan's output
// directory. It returns the written path.
func (g *SBOMGenerator) Write(plan *entities.RepairPlan) (string, error) {
	sbom, err := g.Generate(plan)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(sbom, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal SBOM: %w", err)
	}

	path := filepath.Join(plan.OutputDir(), SBOMFile)
	if err := g.fs.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("failed to create SBOM directory: %w", err)
	}
	if err := afero.WriteFile(g.fs, path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write SBOM file: %w", err)
	}
	return path, nil
}

// parseLibraryNameVersion splits a library file name:
//
//	libssl.so.1.1 -> ssl, 1.1
//	libcrypto.so.3 -> crypto, 3
//	libfoo.so -> foo, unknown
func parseLibraryNameVersion(libPath string) (name, version string) {
	base := strings.TrimPrefix(filepath.Base(libPath), "lib")

	stem, rest, found := strings.Cut(base, ".so")
	if !found || stem == "" {
		return base, "unknown"
	}
	rest = strings.TrimPrefix(rest, ".")
	if rest == "" {
		return stem, "unknown"
	}
	for _, part := range strings.Split(rest, ".") {
		if !isNumeric(part) {
			return stem, "unknown"
		}
	}
	return stem, rest
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
