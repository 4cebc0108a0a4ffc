// Package elftest builds small synthetic ELF64 shared objects for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

// Need is one verneed entry: the library and the version nodes required from it
type Need struct {
	File     string
	Versions []string
}

// Sym is an undefined dynamic symbol, optionally bound to a version node
type Sym struct {
	Name    string
	Version string
}

// File describes a synthetic ELF64 little-endian shared object
type File struct {
	Machine   elf.Machine
	Soname    string
	Needed    []string
	Rpath     string
	Runpath   string
	Interp    string
	VerNeed   []Need
	VerDef    []string
	Undefined []Sym
	Defined   []string
}

// strtab accumulates a NUL-separated string table
type strtab struct {
	buf  bytes.Buffer
	offs map[string]uint32
}

func newStrtab() *strtab {
	s := &strtab{offs: make(map[string]uint32)}
	s.buf.WriteByte(0)
	return s
}

func (s *strtab) add(str string) uint32 {
	if str == "" {
		return 0
	}
	if off, ok := s.offs[str]; ok {
		return off
	}
	off := uint32(s.buf.Len())
	s.buf.WriteString(str)
	s.buf.WriteByte(0)
	s.offs[str] = off
	return off
}

func elfHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
		}
		h &^= 0xf0000000
	}
	return h
}

type section struct {
	name      string
	typ       elf.SectionType
	data      []byte
	link      uint32
	info      uint32
	align     uint64
	entsize   uint64
	offset    uint64
	nameIndex uint32
}

// Build renders spec into the bytes of a shared object debug/elf accepts
func Build(spec File) []byte {
	le := binary.LittleEndian
	if spec.Machine == 0 {
		spec.Machine = elf.EM_X86_64
	}

	dynstr := newStrtab()

	// Version indices: 1 is the verdef base, defs follow, then verneed auxiliaries.
	versionIndex := make(map[string]uint16)
	next := uint16(2)
	if len(spec.VerDef) > 0 {
		next = uint16(len(spec.VerDef) + 2)
	}

	var verdef bytes.Buffer
	if len(spec.VerDef) > 0 {
		names := append([]string{spec.Soname}, spec.VerDef...)
		for i, name := range names {
			flags := uint16(0)
			if i == 0 {
				flags = 1 // VER_FLG_BASE
			}
			nextOff := uint32(28)
			if i == len(names)-1 {
				nextOff = 0
			}
			b := make([]byte, 28)
			le.PutUint16(b[0:], 1)
			le.PutUint16(b[2:], flags)
			le.PutUint16(b[4:], uint16(i+1))
			le.PutUint16(b[6:], 1)
			le.PutUint32(b[8:], elfHash(name))
			le.PutUint32(b[12:], 20)
			le.PutUint32(b[16:], nextOff)
			le.PutUint32(b[20:], dynstr.add(name))
			le.PutUint32(b[24:], 0)
			verdef.Write(b)
		}
	}

	var verneed bytes.Buffer
	for i, need := range spec.VerNeed {
		nextOff := uint32(16 + 16*len(need.Versions))
		if i == len(spec.VerNeed)-1 {
			nextOff = 0
		}
		b := make([]byte, 16)
		le.PutUint16(b[0:], 1)
		le.PutUint16(b[2:], uint16(len(need.Versions)))
		le.PutUint32(b[4:], dynstr.add(need.File))
		le.PutUint32(b[8:], 16)
		le.PutUint32(b[12:], nextOff)
		verneed.Write(b)
		for j, v := range need.Versions {
			idx := next
			next++
			versionIndex[v] = idx
			auxNext := uint32(16)
			if j == len(need.Versions)-1 {
				auxNext = 0
			}
			a := make([]byte, 16)
			le.PutUint32(a[0:], elfHash(v))
			le.PutUint16(a[4:], 0)
			le.PutUint16(a[6:], idx)
			le.PutUint32(a[8:], dynstr.add(v))
			le.PutUint32(a[12:], auxNext)
			verneed.Write(a)
		}
	}

	// Dynamic symbols, null entry first, with the parallel versym table.
	dynsym := make([]byte, 24)
	versym := make([]byte, 2)
	for _, s := range spec.Undefined {
		e := make([]byte, 24)
		le.PutUint32(e[0:], dynstr.add(s.Name))
		e[4] = byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_FUNC)
		dynsym = append(dynsym, e...)
		v := make([]byte, 2)
		if idx, ok := versionIndex[s.Version]; ok {
			le.PutUint16(v, idx)
		} else {
			le.PutUint16(v, 1)
		}
		versym = append(versym, v...)
	}
	for _, name := range spec.Defined {
		e := make([]byte, 24)
		le.PutUint32(e[0:], dynstr.add(name))
		e[4] = byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_FUNC)
		le.PutUint16(e[6:], uint16(elf.SHN_ABS))
		dynsym = append(dynsym, e...)
		v := make([]byte, 2)
		le.PutUint16(v, 1)
		versym = append(versym, v...)
	}

	var dynamic bytes.Buffer
	putDyn := func(tag elf.DynTag, val uint64) {
		b := make([]byte, 16)
		le.PutUint64(b[0:], uint64(tag))
		le.PutUint64(b[8:], val)
		dynamic.Write(b)
	}
	for _, n := range spec.Needed {
		putDyn(elf.DT_NEEDED, uint64(dynstr.add(n)))
	}
	if spec.Soname != "" {
		putDyn(elf.DT_SONAME, uint64(dynstr.add(spec.Soname)))
	}
	if spec.Rpath != "" {
		putDyn(elf.DT_RPATH, uint64(dynstr.add(spec.Rpath)))
	}
	if spec.Runpath != "" {
		putDyn(elf.DT_RUNPATH, uint64(dynstr.add(spec.Runpath)))
	}
	putDyn(elf.DT_NULL, 0)

	// Section 1 is always .dynstr so links can be fixed.
	sections := []*section{
		{name: ".dynstr", typ: elf.SHT_STRTAB, data: dynstr.buf.Bytes(), align: 1},
		{name: ".dynsym", typ: elf.SHT_DYNSYM, data: dynsym, link: 1, info: 1, align: 8, entsize: 24},
		{name: ".gnu.version", typ: elf.SHT_GNU_VERSYM, data: versym, link: 2, align: 2, entsize: 2},
	}
	if len(spec.VerNeed) > 0 {
		sections = append(sections, &section{name: ".gnu.version_r", typ: elf.SHT_GNU_VERNEED,
			data: verneed.Bytes(), link: 1, info: uint32(len(spec.VerNeed)), align: 4})
	}
	if len(spec.VerDef) > 0 {
		sections = append(sections, &section{name: ".gnu.version_d", typ: elf.SHT_GNU_VERDEF,
			data: verdef.Bytes(), link: 1, info: uint32(len(spec.VerDef) + 1), align: 4})
	}
	sections = append(sections, &section{name: ".dynamic", typ: elf.SHT_DYNAMIC,
		data: dynamic.Bytes(), link: 1, align: 8, entsize: 16})

	shstr := newStrtab()
	for _, s := range sections {
		s.nameIndex = shstr.add(s.name)
	}
	shstrIndex := shstr.add(".shstrtab")
	sections = append(sections, &section{name: ".shstrtab", typ: elf.SHT_STRTAB, align: 1, nameIndex: shstrIndex})
	sections[len(sections)-1].data = shstr.buf.Bytes()

	// Layout: header, program headers, interpreter, section data, section headers.
	var out bytes.Buffer
	out.Write(make([]byte, 64))
	phnum := 0
	if spec.Interp != "" {
		phnum = 1
	}
	out.Write(make([]byte, 56*phnum))

	var interpOff uint64
	if spec.Interp != "" {
		interpOff = uint64(out.Len())
		out.WriteString(spec.Interp)
		out.WriteByte(0)
	}

	pad := func(align uint64) {
		for align > 1 && uint64(out.Len())%align != 0 {
			out.WriteByte(0)
		}
	}
	for _, s := range sections {
		pad(s.align)
		s.offset = uint64(out.Len())
		out.Write(s.data)
	}
	pad(8)
	shoff := uint64(out.Len())

	// null section header, then the rest
	out.Write(make([]byte, 64))
	for _, s := range sections {
		h := make([]byte, 64)
		le.PutUint32(h[0:], s.nameIndex)
		le.PutUint32(h[4:], uint32(s.typ))
		le.PutUint64(h[8:], uint64(elf.SHF_ALLOC))
		le.PutUint64(h[24:], s.offset)
		le.PutUint64(h[32:], uint64(len(s.data)))
		le.PutUint32(h[40:], s.link)
		le.PutUint32(h[44:], s.info)
		le.PutUint64(h[48:], s.align)
		le.PutUint64(h[56:], s.entsize)
		out.Write(h)
	}

	b := out.Bytes()
	copy(b[0:], elf.ELFMAG)
	b[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	b[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	b[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	le.PutUint16(b[16:], uint16(elf.ET_DYN))
	le.PutUint16(b[18:], uint16(spec.Machine))
	le.PutUint32(b[20:], uint32(elf.EV_CURRENT))
	if phnum > 0 {
		le.PutUint64(b[32:], 64)
	}
	le.PutUint64(b[40:], shoff)
	le.PutUint16(b[52:], 64)
	le.PutUint16(b[54:], 56)
	le.PutUint16(b[56:], uint16(phnum))
	le.PutUint16(b[58:], 64)
	le.PutUint16(b[60:], uint16(len(sections)+1))
	le.PutUint16(b[62:], uint16(len(sections)))

	if spec.Interp != "" {
		p := b[64:120]
		le.PutUint32(p[0:], uint32(elf.PT_INTERP))
		le.PutUint32(p[4:], uint32(elf.PF_R))
		le.PutUint64(p[8:], interpOff)
		le.PutUint64(p[32:], uint64(len(spec.Interp)+1))
		le.PutUint64(p[40:], uint64(len(spec.Interp)+1))
		le.PutUint64(p[48:], 1)
	}
	return b
}

// Write writes a synthetic shared object to fs, creating parent directories
func Write(t testing.TB, fs afero.Fs, path string, spec File) []byte {
	t.Helper()
	data := Build(spec)
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll(%s) error = %v", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, data, 0755); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
	return data
}
