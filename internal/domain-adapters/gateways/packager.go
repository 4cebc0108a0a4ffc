package gateways

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/spf13/afero"
)

// Packager writes the tar.gz hand-off archive of a repair output directory
type Packager struct {
	fs          afero.Fs
	subdir      string
	packageName string
}

// NewPackager creates a packager. Repaired files go under subdir inside
// the archive; packageName prefixes the archive file name.
func NewPackager(fs afero.Fs, subdir, packageName string) *Packager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if subdir == "" {
		subdir = "libs"
	}
	if packageName == "" {
		packageName = "bundle"
	}
	return &Packager{fs: fs, subdir: subdir, packageName: packageName}
}

// ArchiveName returns packagename-platformtag.tar.gz
func (p *Packager) ArchiveName(plan *entities.RepairPlan) string {
	return fmt.Sprintf("%s-%s.tar.gz", p.packageName, plan.PlatformTag())
}

// PackagePlan archives the target and its bundled libraries, plus the SBOM
// when one was written, into destDir. It returns the archive path.
func (p *Packager) PackagePlan(ctx context.Context, plan *entities.RepairPlan, destDir string) (string, error) {
	if plan == nil {
		return "", fmt.Errorf("repair plan cannot be nil")
	}

	type entry struct {
		src, name string
		mode      int64
	}
	entries := make([]entry, 0, len(plan.Files())+1)
	for _, f := range plan.Files() {
		entries = append(entries, entry{src: f, name: path.Join(p.subdir, filepath.Base(f)), mode: 0755})
	}
	sbomPath := filepath.Join(plan.OutputDir(), SBOMFile)
	if _, err := p.fs.Stat(sbomPath); err == nil {
		entries = append(entries, entry{src: sbomPath, name: filepath.ToSlash(SBOMFile), mode: 0644})
	}

	if err := p.fs.MkdirAll(destDir, 0750); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	tarballPath := filepath.Join(destDir, p.ArchiveName(plan))

	file, err := p.fs.Create(tarballPath)
	if err != nil {
		return "", fmt.Errorf("failed to create tarball file: %w", err)
	}

	gzipWriter := gzip.NewWriter(file)
	tarWriter := tar.NewWriter(gzipWriter)

	writeErr := func() error {
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.addFile(tarWriter, e.src, e.name, e.mode); err != nil {
				return err
			}
		}
		if err := tarWriter.Close(); err != nil {
			return fmt.Errorf("failed to finish tar stream: %w", err)
		}
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to finish gzip stream: %w", err)
		}
		return nil
	}()
	closeErr := file.Close()

	if writeErr == nil && closeErr != nil {
		writeErr = fmt.Errorf("failed to close tarball file: %w", closeErr)
	}
	if writeErr != nil {
		//nolint:errcheck // Best-effort removal of a partial archive
		p.fs.Remove(tarballPath)
		return "", writeErr
	}
	return tarballPath, nil
}

func (p *Packager) addFile(tw *tar.Writer, src, name string, mode int64) error {
	f, err := p.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header: %w", err)
	}
	header.Name = name
	header.Mode = mode

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("failed to write file to tar: %w", err)
	}
	return nil
}
