package entities

import "time"

// SBOM represents a CycloneDX Software Bill of Materials describing the
// libraries bundled into a repaired output
type SBOM struct {
	BOMFormat   string      `json:"bomFormat"`   // "CycloneDX"
	SpecVersion string      `json:"specVersion"` // "1.4"
	Version     int         `json:"version"`
	Metadata    Metadata    `json:"metadata"`
	Components  []Component `json:"components"`
}

// Component represents a software component in the SBOM
type Component struct {
	Type       string     `json:"type"` // "application" or "library"
	Name       string     `json:"name"`
	Version    string     `json:"version,omitempty"`
	Hashes     []Hash     `json:"hashes,omitempty"`
	Properties []Property `json:"properties,omitempty"`
}

// Hash represents a cryptographic hash of a component
type Hash struct {
	Algorithm string `json:"alg"` // "SHA-256"
	Value     string `json:"content"`
}

// Property is a free-form name/value pair attached to a component
type Property struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Metadata contains SBOM generation metadata
type Metadata struct {
	Timestamp time.Time  `json:"timestamp"`
	Tools     []Tool     `json:"tools"`
	Component *Component `json:"component,omitempty"`
}

// Tool represents a tool used to generate the SBOM
type Tool struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}
