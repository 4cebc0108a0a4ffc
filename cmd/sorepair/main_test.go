package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ochairo/sorepair/internal/elftest"
	"github.com/ochairo/sorepair/internal/external-adapters/yaml"
	"github.com/spf13/afero"
)

// cliFixture is a directory with a config file that pins the libc probe
// to a synthetic glibc executable, so results do not depend on the host.
type cliFixture struct {
	dir    string
	config string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	for _, name := range []string{"SOREPAIR_PATCHELF", "SOREPAIR_LIBRARY_PATH", "TARGET_SYSROOT", "SOREPAIR_JOBS", "SOREPAIR_LOG_LEVEL"} {
		t.Setenv(name, "")
	}

	dir := t.TempDir()
	fs := afero.NewOsFs()
	probe := filepath.Join(dir, "probe")
	elftest.Write(t, fs, probe, elftest.File{
		Interp: "/lib64/ld-linux-x86-64.so.2",
		Needed: []string{"libc.so.6"},
	})

	config := filepath.Join(dir, "sorepair.yaml")
	content := "probe_binary: " + probe + "\nlog_level: error\n"
	if err := os.WriteFile(config, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return &cliFixture{dir: dir, config: config}
}

func (f *cliFixture) path(rel string) string {
	return filepath.Join(f.dir, rel)
}

func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", f.config, "--sysroot", f.path("sysroot")}, args...))
	err := root.Execute()
	return out.String(), err
}

func (f *cliFixture) writeTargets(t *testing.T) {
	t.Helper()
	fs := afero.NewOsFs()
	elftest.Write(t, fs, f.path("libok.so"), elftest.File{
		Soname:  "libok.so",
		Needed:  []string{"libm.so.6", "libc.so.6"},
		VerNeed: []elftest.Need{{File: "libc.so.6", Versions: []string{"GLIBC_2.2.5", "GLIBC_2.12"}}},
	})
	elftest.Write(t, fs, f.path("libext.so"), elftest.File{
		Soname:  "libext.so",
		Needed:  []string{"libfoo.so.1", "libc.so.6"},
		Runpath: "$ORIGIN/deps",
		VerNeed: []elftest.Need{{File: "libc.so.6", Versions: []string{"GLIBC_2.12"}}},
	})
	elftest.Write(t, fs, f.path("deps/libfoo.so.1"), elftest.File{
		Soname:  "libfoo.so.1",
		Needed:  []string{"libc.so.6"},
		VerNeed: []elftest.Need{{File: "libc.so.6", Versions: []string{"GLIBC_2.2.5"}}},
	})
}

func TestCLI_Libc(t *testing.T) {
	f := newCLIFixture(t)
	out, err := f.run(t, "libc")
	if err != nil {
		t.Fatalf("libc error = %v", err)
	}
	if !strings.Contains(out, "C library: glibc") {
		t.Errorf("output = %q, want glibc detected from the probe", out)
	}
	if strings.Contains(out, "musllinux") {
		t.Errorf("output = %q, musl tiers do not apply to a glibc host", out)
	}
}

func TestCLI_Policies(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "policies")
	if err != nil {
		t.Fatalf("policies error = %v", err)
	}
	for _, want := range []string{"manylinux_2_17", "Aliases: manylinux2014", "manylinux_2_17_x86_64.manylinux2014_x86_64"} {
		if !strings.Contains(out, want) {
			t.Errorf("policies output missing %q", want)
		}
	}
	if strings.Contains(out, "musllinux_1_2") {
		t.Error("policies without --all should hide musl tiers on a glibc host")
	}

	out, err = f.run(t, "policies", "--all")
	if err != nil {
		t.Fatalf("policies --all error = %v", err)
	}
	if !strings.Contains(out, "musllinux_1_2") {
		t.Error("policies --all should list musl tiers")
	}
}

func TestCLI_Audit(t *testing.T) {
	f := newCLIFixture(t)
	f.writeTargets(t)

	out, err := f.run(t, "audit", f.path("libok.so"), f.path("libext.so"))
	if err != nil {
		t.Fatalf("audit error = %v", err)
	}
	for _, want := range []string{
		"Tier:        manylinux_2_12",
		"Tier:        linux",
		"Repairable:  manylinux_2_12_x86_64.manylinux2010_x86_64",
		"libfoo.so.1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("audit output missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_AuditPlat(t *testing.T) {
	f := newCLIFixture(t)
	f.writeTargets(t)

	tests := []struct {
		name    string
		plat    string
		file    string
		wantErr bool
	}{
		{name: "satisfied", plat: "manylinux2014", file: "libok.so"},
		{name: "reachable by bundling", plat: "manylinux_2_12", file: "libext.so"},
		{name: "symbols too new", plat: "manylinux1", file: "libok.so", wantErr: true},
		{name: "unknown tier", plat: "manylinux_9_99", file: "libok.so", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.run(t, "audit", "--plat", tt.plat, f.path(tt.file))
			if (err != nil) != tt.wantErr {
				t.Errorf("audit --plat %s error = %v, wantErr %v", tt.plat, err, tt.wantErr)
			}
		})
	}
}

func TestCLI_RepairDryRun(t *testing.T) {
	f := newCLIFixture(t)
	f.writeTargets(t)
	outDir := f.path("dist")

	out, err := f.run(t, "repair", "--dry-run", "--out", outDir, f.path("libext.so"))
	if err != nil {
		t.Fatalf("repair --dry-run error = %v", err)
	}
	for _, want := range []string{
		"Repaired",
		"Dry run",
		"--replace-needed libfoo.so.1 libfoo-",
		filepath.Join(outDir, "libext.so"),
	} {
		if !strings.Contains(out, want) {
			t.Errorf("repair output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "sorepair-dry-run-") {
		t.Errorf("patch commands should show the requested output directory:\n%s", out)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Error("a dry run must not create the output directory")
	}
}

func TestCLI_RepairRequiresOut(t *testing.T) {
	f := newCLIFixture(t)
	f.writeTargets(t)
	if _, err := f.run(t, "repair", f.path("libok.so")); err == nil {
		t.Error("repair without --out should fail")
	}
}

func TestNewApp_SignedPolicyOverlay(t *testing.T) {
	f := newCLIFixture(t)
	f.writeTargets(t)

	signer, err := openpgp.NewEntity("policy signer", "test", "signer@example.com", nil)
	if err != nil {
		t.Fatalf("NewEntity() error = %v", err)
	}
	var pub bytes.Buffer
	if err := signer.Serialize(&pub); err != nil {
		t.Fatal(err)
	}
	table := yaml.EmbeddedTable()
	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(table), nil); err != nil {
		t.Fatalf("ArmoredDetachSign() error = %v", err)
	}
	for name, data := range map[string][]byte{"policy.json": table, "policy.json.asc": sig.Bytes(), "key.pgp": pub.Bytes()} {
		if err := os.WriteFile(f.path(name), data, 0600); err != nil {
			t.Fatal(err)
		}
	}

	probe := f.path("probe")
	config := "probe_binary: " + probe + "\nlog_level: debug\npolicy:\n" +
		"  overlay: " + f.path("policy.json") + "\n" +
		"  signature: " + f.path("policy.json.asc") + "\n" +
		"  key: " + f.path("key.pgp") + "\n"
	if err := os.WriteFile(f.config, []byte(config), 0600); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	ctx := context.Background()
	a, err := newApp(ctx, &globalOptions{configPath: f.config, sysroot: f.path("sysroot")}, &logs)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	if _, ok := a.registry.Find("manylinux2014"); !ok {
		t.Error("the overlay registry should carry manylinux2014")
	}

	img, err := a.inspector.Inspect(f.path("libext.so"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.resolver(a.inspector).ResolveClosure(ctx, img, []string{"libc.so.6"}); err != nil {
		t.Fatalf("ResolveClosure() error = %v", err)
	}

	for _, want := range []string{"Using policy overlay", "keys=1", "component=resolver"} {
		if !strings.Contains(logs.String(), want) {
			t.Errorf("logs missing %q:\n%s", want, logs.String())
		}
	}
}
