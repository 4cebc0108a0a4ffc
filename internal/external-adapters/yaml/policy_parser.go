// Package yaml provides YAML-based policy table and configuration loading.
package yaml

import (
	"fmt"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"gopkg.in/yaml.v3"
)

// yamlPolicy is one record of the policy table. JSON documents decode
// through the same structs since JSON is valid YAML.
type yamlPolicy struct {
	Name           string                         `yaml:"name"`
	Aliases        []string                       `yaml:"aliases"`
	Priority       *int                           `yaml:"priority"`
	SymbolVersions map[string]map[string][]string `yaml:"symbol_versions"`
	LibWhitelist   []string                       `yaml:"lib_whitelist"`
	Blacklist      map[string][]string            `yaml:"blacklist"`
}

// PolicyParser parses policy table documents
type PolicyParser struct{}

// NewPolicyParser creates a new policy table parser
func NewPolicyParser() *PolicyParser {
	return &PolicyParser{}
}

// Parse parses a policy table document into Policy entities, in table order
func (p *PolicyParser) Parse(data []byte) ([]entities.Policy, error) {
	var records []yamlPolicy
	if err := yaml.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse policy table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("policy table has no policies")
	}

	policies := make([]entities.Policy, 0, len(records))
	for i, r := range records {
		if r.Name == "" {
			return nil, fmt.Errorf("policy %d must have a name", i)
		}
		if r.Priority == nil {
			return nil, fmt.Errorf("policy %s must have a priority", r.Name)
		}
		policies = append(policies, convertPolicy(r))
	}
	return policies, nil
}

func convertPolicy(r yamlPolicy) entities.Policy {
	symbolVersions := make(map[string]map[string][]string, len(r.SymbolVersions))
	for arch, fams := range r.SymbolVersions {
		table := make(map[string][]string, len(fams))
		for fam, versions := range fams {
			table[fam] = versions
		}
		symbolVersions[arch] = table
	}

	blacklist := make(map[string][]string, len(r.Blacklist))
	for lib, syms := range r.Blacklist {
		blacklist[lib] = syms
	}

	return entities.Policy{
		Name:           r.Name,
		Aliases:        r.Aliases,
		Priority:       *r.Priority,
		SymbolVersions: symbolVersions,
		LibWhitelist:   r.LibWhitelist,
		Blacklist:      blacklist,
	}
}
