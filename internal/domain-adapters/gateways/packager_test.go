package gateways

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

// readTarball returns entry name -> content
func readTarball(t *testing.T, fs afero.Fs, tarballPath string) (map[string]string, map[string]int64) {
	t.Helper()
	f, err := fs.Open(tarballPath)
	if err != nil {
		t.Fatalf("Failed to open tarball: %v", err)
	}
	//nolint:errcheck // Test cleanup
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("Failed to create gzip reader: %v", err)
	}
	tr := tar.NewReader(gz)

	contents := map[string]string{}
	modes := map[string]int64{}
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Failed to read tar entry: %v", err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("Failed to read tar content: %v", err)
		}
		contents[header.Name] = string(data)
		modes[header.Name] = header.Mode
	}
	return contents, modes
}

func TestPackager_PackagePlan(t *testing.T) {
	fs := afero.NewMemMapFs()
	plan := testPlan(t, fs)
	if err := afero.WriteFile(fs, "/out/libssl-abcdef01.so.1.1", []byte("ssl"), 0644); err != nil {
		t.Fatal(err)
	}

	p := NewPackager(fs, "mypkg.libs", "mypkg")
	archive, err := p.PackagePlan(context.Background(), plan, "/dist")
	if err != nil {
		t.Fatalf("PackagePlan() error = %v", err)
	}
	if archive != "/dist/mypkg-manylinux_2_17_x86_64.manylinux2014_x86_64.tar.gz" {
		t.Errorf("PackagePlan() path = %s", archive)
	}

	contents, modes := readTarball(t, fs, archive)
	if len(contents) != 2 {
		t.Fatalf("archive entries = %v, want 2", contents)
	}
	if contents["mypkg.libs/libtarget.so"] != "hello" || contents["mypkg.libs/libssl-abcdef01.so.1.1"] != "ssl" {
		t.Errorf("archive contents = %v", contents)
	}
	if modes["mypkg.libs/libtarget.so"] != 0755 {
		t.Errorf("target mode = %o, want 755", modes["mypkg.libs/libtarget.so"])
	}
}

func TestPackager_PackagePlan_WithSBOM(t *testing.T) {
	fs := afero.NewMemMapFs()
	plan := testPlan(t, fs)
	plan.Libraries = nil
	if _, err := NewSBOMGenerator(fs, "dev").Write(plan); err != nil {
		t.Fatal(err)
	}

	archive, err := NewPackager(fs, "", "").PackagePlan(context.Background(), plan, "/dist")
	if err != nil {
		t.Fatalf("PackagePlan() error = %v", err)
	}
	if !strings.HasPrefix(archive, "/dist/bundle-") {
		t.Errorf("PackagePlan() path = %s, want default package name", archive)
	}

	contents, modes := readTarball(t, fs, archive)
	if _, ok := contents["libs/libtarget.so"]; !ok {
		t.Errorf("archive entries = %v, want libs/libtarget.so", contents)
	}
	if !strings.Contains(contents["sboms/bundled.cdx.json"], "CycloneDX") {
		t.Errorf("archive should carry the SBOM, got entries %v", contents)
	}
	if modes["sboms/bundled.cdx.json"] != 0644 {
		t.Errorf("SBOM mode = %o, want 644", modes["sboms/bundled.cdx.json"])
	}
}

func TestPackager_PackagePlan_MissingFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	plan := testPlan(t, fs)
	// the bundled library was never written

	p := NewPackager(fs, "", "pkg")
	if _, err := p.PackagePlan(context.Background(), plan, "/dist"); err == nil {
		t.Fatal("PackagePlan() should fail when a file is missing")
	}
	if _, err := fs.Stat("/dist/" + p.ArchiveName(plan)); err == nil {
		t.Error("partial archive should be removed")
	}
}

func TestPackager_PackagePlan_Nil(t *testing.T) {
	if _, err := NewPackager(afero.NewMemMapFs(), "", "").PackagePlan(context.Background(), nil, "/dist"); err == nil {
		t.Error("PackagePlan(nil) should return error")
	}
}
