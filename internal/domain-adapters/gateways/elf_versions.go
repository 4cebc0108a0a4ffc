package gateways

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ochairo/sorepair/internal/domain/entities"
)

var (
	// errVersionTruncated reports a version record that runs past its section
	errVersionTruncated = errors.New("version section is truncated")
	errVersionMalformed = errors.New("version section is malformed")
)

const (
	verneedSize = 16
	vernauxSize = 16
	verdefSize  = 20
	verdauxSize = 8

	verFlagBase = 0x1
)

// parseVersionNeeds walks .gnu.version_r. count is the section's sh_info.
// Every auxiliary entry becomes one requirement against the entry's file.
func parseVersionNeeds(data, strtab []byte, order binary.ByteOrder, count uint32) ([]entities.VersionRequirement, error) {
	var reqs []entities.VersionRequirement
	off := 0
	for n := uint32(0); n < count; n++ {
		if off < 0 || off+verneedSize > len(data) {
			return nil, errVersionTruncated
		}
		rec := data[off : off+verneedSize]
		if v := order.Uint16(rec[0:]); v != 1 {
			return nil, fmt.Errorf("verneed revision %d: %w", v, errVersionMalformed)
		}
		cnt := order.Uint16(rec[2:])
		file, err := cString(strtab, order.Uint32(rec[4:]))
		if err != nil {
			return nil, err
		}
		aux := int(order.Uint32(rec[8:]))
		next := int(order.Uint32(rec[12:]))

		auxOff := off + aux
		for i := uint16(0); i < cnt; i++ {
			if auxOff < 0 || auxOff+vernauxSize > len(data) {
				return nil, errVersionTruncated
			}
			a := data[auxOff : auxOff+vernauxSize]
			name, err := cString(strtab, order.Uint32(a[8:]))
			if err != nil {
				return nil, err
			}
			if req, ok := entities.ParseVersionNode(file, name); ok {
				reqs = append(reqs, req)
			}
			anext := int(order.Uint32(a[12:]))
			if anext == 0 {
				break
			}
			auxOff += anext
		}

		if next == 0 {
			break
		}
		off += next
	}
	return reqs, nil
}

// parseVersionDefs walks .gnu.version_d and returns the defined version
// node names, skipping the base definition (the file's own name).
func parseVersionDefs(data, strtab []byte, order binary.ByteOrder, count uint32) ([]string, error) {
	var defs []string
	off := 0
	for n := uint32(0); n < count; n++ {
		if off < 0 || off+verdefSize > len(data) {
			return nil, errVersionTruncated
		}
		rec := data[off : off+verdefSize]
		if v := order.Uint16(rec[0:]); v != 1 {
			return nil, fmt.Errorf("verdef revision %d: %w", v, errVersionMalformed)
		}
		flags := order.Uint16(rec[2:])
		cnt := order.Uint16(rec[6:])
		aux := int(order.Uint32(rec[12:]))
		next := int(order.Uint32(rec[16:]))

		if flags&verFlagBase == 0 && cnt > 0 {
			auxOff := off + aux
			if auxOff < 0 || auxOff+verdauxSize > len(data) {
				return nil, errVersionTruncated
			}
			name, err := cString(strtab, order.Uint32(data[auxOff:]))
			if err != nil {
				return nil, err
			}
			defs = append(defs, name)
		}

		if next == 0 {
			break
		}
		off += next
	}
	return defs, nil
}

// cString reads the NUL-terminated string at off
func cString(strtab []byte, off uint32) (string, error) {
	if int(off) >= len(strtab) {
		return "", fmt.Errorf("string offset %d outside table of %d bytes: %w", off, len(strtab), errVersionTruncated)
	}
	for i := int(off); i < len(strtab); i++ {
		if strtab[i] == 0 {
			return string(strtab[off:i]), nil
		}
	}
	return "", fmt.Errorf("unterminated string at offset %d: %w", off, errVersionTruncated)
}

// sectionWithStrings returns the data of the first section of type typ and
// of the string table it links to. Both are nil when the section is absent.
func sectionWithStrings(f *elf.File, typ elf.SectionType) (data, strtab []byte, info uint32, err error) {
	s := f.SectionByType(typ)
	if s == nil {
		return nil, nil, 0, nil
	}
	if int(s.Link) >= len(f.Sections) {
		return nil, nil, 0, fmt.Errorf("section %s links to missing section %d: %w", s.Name, s.Link, errVersionMalformed)
	}
	if data, err = s.Data(); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read %s: %w", s.Name, err)
	}
	if strtab, err = f.Sections[s.Link].Data(); err != nil {
		return nil, nil, 0, fmt.Errorf("failed to read strings of %s: %w", s.Name, err)
	}
	return data, strtab, s.Info, nil
}
