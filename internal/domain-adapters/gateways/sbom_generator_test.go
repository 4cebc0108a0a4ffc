package gateways

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/spf13/afero"
)

func testPlan(t *testing.T, fs afero.Fs) *entities.RepairPlan {
	t.Helper()
	if err := afero.WriteFile(fs, "/out/libtarget.so", []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	return &entities.RepairPlan{
		Target:     "/build/libtarget.so",
		OutputPath: "/out/libtarget.so",
		Arch:       "x86_64",
		Policy:     entities.Policy{Name: "manylinux_2_17", Aliases: []string{"manylinux2014"}, Priority: 80},
		Repaired:   true,
		Libraries: []entities.BundledLibrary{
			{
				ExternalLibrary: entities.ExternalLibrary{
					Name:       "libssl.so.1.1",
					Path:       "/usr/lib/libssl.so.1.1",
					Soname:     "libssl.so.1.1",
					Hash:       "abcdef0123456789",
					RequiredBy: []string{"/build/libtarget.so"},
				},
				BundledName: "libssl-abcdef01.so.1.1",
				OutputPath:  "/out/libssl-abcdef01.so.1.1",
			},
		},
	}
}

func TestSBOMGenerator_Generate(t *testing.T) {
	fs := afero.NewMemMapFs()
	g := NewSBOMGenerator(fs, "1.2.3")
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	g.now = func() time.Time { return fixed }

	sbom, err := g.Generate(testPlan(t, fs))
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if sbom.BOMFormat != "CycloneDX" || sbom.SpecVersion != "1.5" {
		t.Errorf("format = %s %s", sbom.BOMFormat, sbom.SpecVersion)
	}
	if !sbom.Metadata.Timestamp.Equal(fixed) {
		t.Errorf("Timestamp = %v", sbom.Metadata.Timestamp)
	}
	if sbom.Metadata.Tools[0].Version != "1.2.3" {
		t.Errorf("Tools = %+v", sbom.Metadata.Tools)
	}

	target := sbom.Metadata.Component
	if target == nil || target.Name != "libtarget.so" {
		t.Fatalf("Metadata.Component = %+v", target)
	}
	if target.Hashes[0].Value != "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824" {
		t.Errorf("target hash = %s", target.Hashes[0].Value)
	}
	if target.Properties[0].Value != "manylinux_2_17_x86_64.manylinux2014_x86_64" {
		t.Errorf("platform tag property = %s", target.Properties[0].Value)
	}

	if len(sbom.Components) != 1 {
		t.Fatalf("Components = %+v, want 1", sbom.Components)
	}
	c := sbom.Components[0]
	if c.Name != "ssl" || c.Version != "1.1" || c.Hashes[0].Value != "abcdef0123456789" {
		t.Errorf("component = %+v", c)
	}
	props := map[string]string{}
	for _, p := range c.Properties {
		props[p.Name] = p.Value
	}
	if props["sorepair:bundled-name"] != "libssl-abcdef01.so.1.1" || props["sorepair:required-by"] != "/build/libtarget.so" {
		t.Errorf("properties = %v", props)
	}
}

func TestSBOMGenerator_Write(t *testing.T) {
	fs := afero.NewMemMapFs()
	g := NewSBOMGenerator(fs, "dev")

	path, err := g.Write(testPlan(t, fs))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if path != "/out/sboms/bundled.cdx.json" {
		t.Errorf("Write() path = %s", path)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("SBOM is not valid JSON: %v", err)
	}
	if doc["bomFormat"] != "CycloneDX" {
		t.Errorf("bomFormat = %v", doc["bomFormat"])
	}
}

func TestSBOMGenerator_Generate_Errors(t *testing.T) {
	g := NewSBOMGenerator(afero.NewMemMapFs(), "dev")
	if _, err := g.Generate(nil); err == nil {
		t.Error("Generate(nil) should return error")
	}
	if _, err := g.Generate(&entities.RepairPlan{OutputPath: "/missing.so"}); err == nil {
		t.Error("Generate() with a missing output should return error")
	}
}

func TestParseLibraryNameVersion(t *testing.T) {
	tests := []struct {
		path        string
		wantName    string
		wantVersion string
	}{
		{"libssl.so.1.1", "ssl", "1.1"},
		{"/usr/lib/libcrypto.so.3", "crypto", "3"},
		{"libfoo.so", "foo", "unknown"},
		{"libstdc++.so.6.0.28", "stdc++", "6.0.28"},
		{"libweird.so.1a", "weird", "unknown"},
		{"ld-musl-x86_64.so.1", "ld-musl-x86_64", "1"},
		{"noext", "noext", "unknown"},
	}
	for _, tt := range tests {
		name, version := parseLibraryNameVersion(tt.path)
		if name != tt.wantName || version != tt.wantVersion {
			t.Errorf("parseLibraryNameVersion(%q) = %s, %s; want %s, %s", tt.path, name, version, tt.wantName, tt.wantVersion)
		}
	}
}
