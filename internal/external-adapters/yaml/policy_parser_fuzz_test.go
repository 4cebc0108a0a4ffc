package yaml

import (
	"testing"
)

// FuzzPolicyParser feeds random and malformed tables to the parser to
// detect panics.
//
// Run with: go test -fuzz=FuzzPolicyParser -fuzztime=30s
func FuzzPolicyParser(f *testing.F) {
	f.Add(EmbeddedTable())
	f.Add([]byte(`[{"name": "linux", "priority": 0}]`))
	f.Add([]byte(`- name: manylinux_2_17
  priority: 80
  symbol_versions:
    x86_64:
      GLIBC: ["2.17"]
`))
	f.Add([]byte(`[{"name": "", "priority": null}]`))
	f.Add([]byte(`{`))

	f.Fuzz(func(t *testing.T, data []byte) {
		parser := NewPolicyParser()
		policies, err := parser.Parse(data)
		if err != nil {
			return
		}
		for _, p := range policies {
			if p.Name == "" {
				t.Error("Parse() accepted a policy without a name")
			}
		}
	})
}
