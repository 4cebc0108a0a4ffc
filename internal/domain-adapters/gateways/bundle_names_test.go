package gateways

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/spf13/afero"
)

func TestBundledName(t *testing.T) {
	hash := "0123abcd4567ef890123abcd4567ef890123abcd4567ef890123abcd4567ef89"
	tests := []struct {
		fileName string
		want     string
	}{
		{"libfoo.so.1", "libfoo-0123abcd.so.1"},
		{"libstdc++.so.6.0.28", "libstdc++-0123abcd.so.6.0.28"},
		{"libfoo-0123abcd.so.1", "libfoo-0123abcd.so.1"},
		{"libfoo-ffffffff.so.1", "libfoo-ffffffff-0123abcd.so.1"},
		{"plainname", "plainname-0123abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			if got := BundledName(tt.fileName, hash); got != tt.want {
				t.Errorf("BundledName(%q) = %q, want %q", tt.fileName, got, tt.want)
			}
		})
	}
}

func TestBundleNameCache_Name(t *testing.T) {
	cache := NewBundleNameCache()
	a := entities.ExternalLibrary{Name: "libfoo.so.1", Hash: "aaaaaaaa11111111"}
	b := entities.ExternalLibrary{Name: "libfoo.so.1", Hash: "bbbbbbbb22222222"}

	if got := cache.Name(a); got != "libfoo-aaaaaaaa.so.1" {
		t.Errorf("Name(a) = %q", got)
	}
	if got := cache.Name(b); got != "libfoo-bbbbbbbb.so.1" {
		t.Errorf("Name(b) = %q", got)
	}
	if got := cache.Name(a); got != "libfoo-aaaaaaaa.so.1" {
		t.Errorf("second Name(a) = %q, want the cached name", got)
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
	names := cache.Names()
	if len(names) != 2 || names[0] != "libfoo-aaaaaaaa.so.1" {
		t.Errorf("Names() = %v, want assignment order", names)
	}
}

func TestBundleNameCache_Name_AlreadyBundled(t *testing.T) {
	cache := NewBundleNameCache()
	repaired := entities.ExternalLibrary{
		Name:   "libfoo-aaaaaaaa.so.1",
		Soname: "libfoo-aaaaaaaa.so.1",
		Hash:   "cccccccc33333333",
	}
	if got := cache.Name(repaired); got != "libfoo-aaaaaaaa.so.1" {
		t.Errorf("Name() = %q, want the existing bundled name", got)
	}

	// a system library that merely looks hashed keeps getting a suffix
	lookalike := entities.ExternalLibrary{Name: "libfoo-aaaaaaaa.so.1", Soname: "libfoo.so.1", Hash: "dddddddd44444444"}
	if got := cache.Name(lookalike); got != "libfoo-aaaaaaaa-dddddddd.so.1" {
		t.Errorf("Name() = %q", got)
	}
}

func TestBundleNameCache_Concurrent(t *testing.T) {
	cache := NewBundleNameCache()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Name(entities.ExternalLibrary{Name: "libz.so.1", Hash: fmt.Sprintf("%08x", i%4)})
		}(i)
	}
	wg.Wait()
	if cache.Len() != 4 {
		t.Errorf("Len() = %d, want 4", cache.Len())
	}
}

func TestFileHasher(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("hello"), 0600); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	hasher := NewFileHasher(nil)
	sum, err := hasher.HashFile(testFile)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if sum != want {
		t.Errorf("HashFile() = %s, want %s", sum, want)
	}

	t.Run("verify match", func(t *testing.T) {
		if err := hasher.VerifyFile(testFile, want); err != nil {
			t.Errorf("VerifyFile() error = %v", err)
		}
	})
	t.Run("verify mismatch", func(t *testing.T) {
		if err := hasher.VerifyFile(testFile, "00"); err == nil {
			t.Error("VerifyFile() with wrong hash should return error")
		}
	})
	t.Run("missing file", func(t *testing.T) {
		if _, err := hasher.HashFile(filepath.Join(tmpDir, "missing")); err == nil {
			t.Error("HashFile() on missing file should return error")
		}
	})
	t.Run("memory filesystem", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		if err := afero.WriteFile(fs, "/x", []byte("hello"), 0644); err != nil {
			t.Fatal(err)
		}
		got, err := NewFileHasher(fs).HashFile("/x")
		if err != nil || got != want {
			t.Errorf("HashFile() = %s, %v; want %s", got, err, want)
		}
	})
}
