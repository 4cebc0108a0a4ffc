package yaml

import (
	"strings"
	"testing"
)

func TestPolicyParser_Parse_Valid(t *testing.T) {
	parser := NewPolicyParser()
	yamlData := []byte(`- name: linux
  priority: 0
- name: manylinux_2_17
  aliases: [manylinux2014]
  priority: 80
  symbol_versions:
    x86_64:
      GLIBC: ["2.2.5", "2.17"]
      CXXABI: ["1.3", "TM_1"]
  lib_whitelist:
    - libc.so.6
    - libz.so.1
  blacklist:
    libz.so.1: [_tr_init]
`)

	policies, err := parser.Parse(yamlData)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("Parse() returned %d policies, want 2", len(policies))
	}

	p := policies[1]
	if p.Name != "manylinux_2_17" {
		t.Errorf("Name = %v, want manylinux_2_17", p.Name)
	}
	if !p.Matches("manylinux2014") {
		t.Error("policy should match its alias manylinux2014")
	}
	if p.Priority != 80 {
		t.Errorf("Priority = %d, want 80", p.Priority)
	}
	if got := p.SymbolVersions["x86_64"]["GLIBC"]; len(got) != 2 || got[1] != "2.17" {
		t.Errorf("GLIBC versions = %v, want [2.2.5 2.17]", got)
	}
	if !p.Whitelisted("libz.so.1") {
		t.Error("libz.so.1 should be whitelisted")
	}
	if got := p.Blacklist["libz.so.1"]; len(got) != 1 || got[0] != "_tr_init" {
		t.Errorf("Blacklist = %v, want [_tr_init]", got)
	}
}

func TestPolicyParser_Parse_JSON(t *testing.T) {
	parser := NewPolicyParser()
	jsonData := []byte(`[{"name": "linux", "priority": 0, "symbol_versions": {}, "lib_whitelist": []}]`)

	policies, err := parser.Parse(jsonData)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(policies) != 1 || !policies[0].IsBaseline() {
		t.Errorf("Parse() = %+v, want the baseline tier", policies)
	}
}

func TestPolicyParser_Parse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"missing name", `[{"priority": 1}]`, "must have a name"},
		{"missing priority", `[{"name": "manylinux_2_5"}]`, "must have a priority"},
		{"empty table", `[]`, "has no policies"},
		{"invalid yaml", "- name: test\n  invalid: [broken", "failed to parse"},
		{"not a list", `name: linux`, "failed to parse"},
	}

	parser := NewPolicyParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("Parse() should return error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Parse() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
