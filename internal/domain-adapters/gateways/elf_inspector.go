// Package gateways provides adapter implementations for external tools and
// binary formats.
package gateways

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ochairo/sorepair/internal/domain/entities"
	"github.com/ochairo/sorepair/internal/domain/interfaces/gateways"
	"github.com/spf13/afero"
)

// ELFInspector parses ELF shared objects and executables using debug/elf.
// The symbol version tables are decoded here, with bounds checks, so that
// malformed input is reported rather than silently ignored.
type ELFInspector struct {
	fs afero.Fs
}

var _ gateways.BinaryInspector = (*ELFInspector)(nil)

// NewELFInspector creates an inspector reading through fs (the OS when nil)
func NewELFInspector(fs afero.Fs) *ELFInspector {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &ELFInspector{fs: fs}
}

// Inspect parses path into a BinaryImage. Failures are *entities.ParseError.
func (i *ELFInspector) Inspect(path string) (img *entities.BinaryImage, err error) {
	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = &entities.ParseError{Path: path, Kind: entities.ParseTruncated, Detail: fmt.Sprintf("malformed ELF: %v", r)}
		}
	}()

	f, err := i.fs.Open(path)
	if err != nil {
		return nil, &entities.ParseError{Path: path, Kind: entities.ParseIO, Err: err}
	}
	//nolint:errcheck // Defer close on read-only file
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &entities.ParseError{Path: path, Kind: entities.ParseIO, Err: err}
	}
	size := info.Size()

	if err := checkELFHeader(path, f, size); err != nil {
		return nil, err
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		return nil, parseError(path, err)
	}
	//nolint:errcheck // Defer close on read-only file
	defer ef.Close()

	if err := checkExtents(path, ef, size); err != nil {
		return nil, err
	}
	return readImage(path, ef)
}

func readImage(path string, ef *elf.File) (*entities.BinaryImage, error) {
	img := &entities.BinaryImage{
		Path:    path,
		Arch:    entities.ArchFromMachine(ef.Machine, ef.Class, ef.Data),
		Class:   ef.Class,
		Machine: ef.Machine,
	}

	var err error
	if img.Needed, err = ef.DynString(elf.DT_NEEDED); err != nil {
		return nil, parseError(path, err)
	}
	sonames, err := ef.DynString(elf.DT_SONAME)
	if err != nil {
		return nil, parseError(path, err)
	}
	if len(sonames) > 0 {
		img.Soname = sonames[0]
	}
	rpath, err := ef.DynString(elf.DT_RPATH)
	if err != nil {
		return nil, parseError(path, err)
	}
	img.Rpath = splitSearchPath(rpath)
	runpath, err := ef.DynString(elf.DT_RUNPATH)
	if err != nil {
		return nil, parseError(path, err)
	}
	img.Runpath = splitSearchPath(runpath)

	if img.Interpreter, err = readInterpreter(ef); err != nil {
		return nil, parseError(path, err)
	}

	data, strtab, count, err := sectionWithStrings(ef, elf.SHT_GNU_VERNEED)
	if err != nil {
		return nil, parseError(path, err)
	}
	if data != nil {
		if img.Requirements, err = parseVersionNeeds(data, strtab, ef.ByteOrder, count); err != nil {
			return nil, parseError(path, err)
		}
	}

	data, strtab, count, err = sectionWithStrings(ef, elf.SHT_GNU_VERDEF)
	if err != nil {
		return nil, parseError(path, err)
	}
	if data != nil {
		if img.Definitions, err = parseVersionDefs(data, strtab, ef.ByteOrder, count); err != nil {
			return nil, parseError(path, err)
		}
	}

	syms, err := ef.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, parseError(path, err)
	}
	for _, s := range syms {
		if s.Section == elf.SHN_UNDEF && s.Name != "" {
			img.ImportedSymbols = append(img.ImportedSymbols, s.Name)
		}
	}
	return img, nil
}

// checkELFHeader validates the identification bytes and that the header,
// program header table and section header table fit in the file.
func checkELFHeader(path string, r io.ReaderAt, size int64) error {
	ident := make([]byte, elf.EI_NIDENT)
	n, err := r.ReadAt(ident, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return &entities.ParseError{Path: path, Kind: entities.ParseIO, Err: err}
	}
	if n < 4 || !bytes.Equal(ident[:4], []byte(elf.ELFMAG)) {
		return &entities.ParseError{Path: path, Kind: entities.ParseNotELF, Detail: "bad magic"}
	}
	if n < elf.EI_NIDENT {
		return &entities.ParseError{Path: path, Kind: entities.ParseTruncated, Detail: "identification"}
	}

	var order binary.ByteOrder
	switch elf.Data(ident[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return &entities.ParseError{Path: path, Kind: entities.ParseNotELF, Detail: "unknown data encoding"}
	}

	var hdrSize int64
	switch elf.Class(ident[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		hdrSize = 52
	case elf.ELFCLASS64:
		hdrSize = 64
	default:
		return &entities.ParseError{Path: path, Kind: entities.ParseNotELF, Detail: "unknown class"}
	}
	if size < hdrSize {
		return &entities.ParseError{Path: path, Kind: entities.ParseTruncated, Detail: "ELF header"}
	}

	hdr := make([]byte, hdrSize)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return &entities.ParseError{Path: path, Kind: entities.ParseIO, Err: err}
	}

	var phoff, shoff uint64
	var phentsize, phnum, shentsize, shnum uint16
	if hdrSize == 52 {
		phoff = uint64(order.Uint32(hdr[28:]))
		shoff = uint64(order.Uint32(hdr[32:]))
		phentsize, phnum = order.Uint16(hdr[42:]), order.Uint16(hdr[44:])
		shentsize, shnum = order.Uint16(hdr[46:]), order.Uint16(hdr[48:])
	} else {
		phoff = order.Uint64(hdr[32:])
		shoff = order.Uint64(hdr[40:])
		phentsize, phnum = order.Uint16(hdr[54:]), order.Uint16(hdr[56:])
		shentsize, shnum = order.Uint16(hdr[58:]), order.Uint16(hdr[60:])
	}

	if !fits(phoff, uint64(phentsize)*uint64(phnum), size) {
		return &entities.ParseError{Path: path, Kind: entities.ParseTruncated, Detail: "program header table"}
	}
	if !fits(shoff, uint64(shentsize)*uint64(shnum), size) {
		return &entities.ParseError{Path: path, Kind: entities.ParseTruncated, Detail: "section header table"}
	}
	return nil
}

// checkExtents verifies that every section and segment lies within the file
func checkExtents(path string, ef *elf.File, size int64) error {
	for _, s := range ef.Sections {
		if s.Type == elf.SHT_NOBITS || s.Type == elf.SHT_NULL {
			continue
		}
		if !fits(s.Offset, s.FileSize, size) {
			return &entities.ParseError{Path: path, Kind: entities.ParseTruncated, Detail: "section " + s.Name}
		}
	}
	for _, p := range ef.Progs {
		if !fits(p.Off, p.Filesz, size) {
			return &entities.ParseError{Path: path, Kind: entities.ParseTruncated, Detail: "segment " + p.Type.String()}
		}
	}
	return nil
}

func fits(off, length uint64, size int64) bool {
	end := off + length
	return end >= off && end <= uint64(size)
}

func readInterpreter(ef *elf.File) (string, error) {
	for _, p := range ef.Progs {
		if p.Type != elf.PT_INTERP {
			continue
		}
		buf := make([]byte, p.Filesz)
		if _, err := p.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(string(buf), "\x00"), nil
	}
	return "", nil
}

func splitSearchPath(values []string) []string {
	var out []string
	for _, v := range values {
		for _, p := range strings.Split(v, ":") {
			if p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// parseError maps a debug/elf or version-table failure to the ParseError taxonomy
func parseError(path string, err error) error {
	var pe *entities.ParseError
	if errors.As(err, &pe) {
		return pe
	}
	var fe *elf.FormatError
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF), errors.Is(err, errVersionTruncated):
		return &entities.ParseError{Path: path, Kind: entities.ParseTruncated, Err: err}
	case errors.As(err, &fe), errors.Is(err, errVersionMalformed):
		return &entities.ParseError{Path: path, Kind: entities.ParseNotELF, Err: err}
	}
	return &entities.ParseError{Path: path, Kind: entities.ParseIO, Err: err}
}
