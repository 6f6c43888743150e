// Package fsimg implements the kernel's entire filesystem: a fixed-size
// in-memory cache of files, persisted to and loaded from the block device
// as a sequence of ustar tar records. There are no directories, no
// metadata beyond a name and a size, and no partial updates — every
// mutating syscall rewrites the whole disk image from the in-memory cache.
package fsimg

import (
	"fmt"
	"log/slog"

	"github.com/tews-code/operating-system-in-1000-lines/internal/addr"
	"github.com/tews-code/operating-system-in-1000-lines/internal/kernel"
	"github.com/tews-code/operating-system-in-1000-lines/internal/virtioblk"
)

// FilesMax is the fixed capacity of the in-memory file cache.
const FilesMax = 2

// DataMax is the fixed capacity of a single file's contents.
const DataMax = 1024

const (
	nameSize = 100
	headerSize = 512
)

// File is a single fixed-size file record.
type File struct {
	InUse bool
	Name  string // truncated at 100 bytes, NUL-terminated on disk
	Data  [DataMax]byte
	Size  int
}

// Store is the fixed-capacity file cache, mirrored to and from the block
// device as ustar tar records.
type Store struct {
	Files [FilesMax]File
}

// diskBytes is the size of the staging disk image: FilesMax header+data
// records, sector aligned.
func diskBytes() uint32 {
	return addr.AlignUp(uint32((headerSize+DataMax)*FilesMax), virtioblk.SectorSize)
}

// Init reads the entire backing region from dev sector by sector and
// parses it as a sequence of ustar records, stopping at the first
// NUL-named header or when FilesMax records have been loaded. A malformed
// ustar magic is fatal (spec.md §4.5, §7: "malformed tar magic") and halts
// the hart through kernel.Panic rather than returning an error.
func Init(dev *virtioblk.Driver, log *slog.Logger) (*Store, error) {
	buf := make([]byte, diskBytes())

	sector := make([]byte, virtioblk.SectorSize)
	for off := uint32(0); off < uint32(len(buf)); off += virtioblk.SectorSize {
		if err := dev.ReadWrite(sector, uint64(off/virtioblk.SectorSize), false); err != nil {
			return nil, fmt.Errorf("fsimg: init: %w", err)
		}
		copy(buf[off:], sector)
	}

	s := &Store{}

	off := 0
	for fi := 0; fi < FilesMax && off+headerSize <= len(buf); fi++ {
		hdr := buf[off : off+headerSize]
		if hdr[0] == 0 {
			break
		}

		if magic := string(hdr[257:263]); magic != "ustar\x00" && magic != "ustar " {
			kernel.Panic(log, &kernel.Fault{Message: fmt.Sprintf("fsimg: init: bad ustar magic %q at offset %d", magic, off)})
		}

		size, err := oct2int(hdr[124:136])
		if err != nil {
			return nil, fmt.Errorf("fsimg: init: %w", err)
		}

		name := cString(hdr[0:nameSize])

		f := &s.Files[fi]
		f.InUse = true
		f.Name = name
		f.Size = size

		payloadStart := off + headerSize
		n := size
		if n > DataMax {
			n = DataMax
		}
		if payloadStart+n > len(buf) {
			n = len(buf) - payloadStart
		}
		copy(f.Data[:], buf[payloadStart:payloadStart+n])

		off += headerSize + int(addr.AlignUp(uint32(size), virtioblk.SectorSize))
	}

	return s, nil
}

// Flush rebuilds the disk image from scratch out of every in-use file and
// writes it back to dev sector by sector.
func (s *Store) Flush(dev *virtioblk.Driver) error {
	buf := make([]byte, diskBytes())

	off := 0
	for i := range s.Files {
		f := &s.Files[i]
		if !f.InUse {
			continue
		}

		hdr := buf[off : off+headerSize]
		copy(hdr[0:nameSize], f.Name)
		copy(hdr[100:108], "00000644")
		int2oct(hdr[124:136], f.Size)
		copy(hdr[257:263], "ustar\x00")
		copy(hdr[263:265], "00")
		hdr[156] = '0' // typeflag: regular file

		for i := range hdr[148:156] {
			hdr[148+i] = ' '
		}
		checksum := 0
		for _, b := range hdr {
			checksum += int(b)
		}
		int2oct(hdr[148:156], checksum)

		copy(buf[off+headerSize:off+headerSize+f.Size], f.Data[:f.Size])

		off += headerSize + int(addr.AlignUp(uint32(f.Size), virtioblk.SectorSize))
	}

	sector := make([]byte, virtioblk.SectorSize)
	for o := uint32(0); o < uint32(len(buf)); o += virtioblk.SectorSize {
		copy(sector, buf[o:o+virtioblk.SectorSize])
		if err := dev.ReadWrite(sector, uint64(o/virtioblk.SectorSize), true); err != nil {
			return fmt.Errorf("fsimg: flush: %w", err)
		}
	}

	return nil
}

// Lookup returns the first in-use file named name, or nil.
func (s *Store) Lookup(name string) *File {
	for i := range s.Files {
		if s.Files[i].InUse && s.Files[i].Name == name {
			return &s.Files[i]
		}
	}

	return nil
}

// Create installs data under name in the first free (or matching,
// overwriting) slot. It returns an error if the cache is full and no slot
// named name already exists.
func (s *Store) Create(name string, data []byte) (*File, error) {
	if f := s.Lookup(name); f != nil {
		return s.write(f, data), nil
	}

	for i := range s.Files {
		if !s.Files[i].InUse {
			s.Files[i].InUse = true
			s.Files[i].Name = name

			return s.write(&s.Files[i], data), nil
		}
	}

	return nil, fmt.Errorf("fsimg: no free file slots (max %d)", FilesMax)
}

func (s *Store) write(f *File, data []byte) *File {
	n := len(data)
	if n > DataMax {
		n = DataMax
	}

	clear(f.Data[:])
	copy(f.Data[:], data[:n])
	f.Size = n

	return f
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}

	return string(b)
}

// oct2int parses a NUL/space-terminated octal field, the ustar numeric
// field encoding. Leading space padding (as written by int2oct) is skipped.
func oct2int(field []byte) (int, error) {
	n := 0
	digits := 0
	for _, c := range field {
		if c == ' ' && digits == 0 {
			continue
		}
		if c == 0 || c == ' ' {
			break
		}
		digits++
		if c < '0' || c > '7' {
			return 0, fmt.Errorf("fsimg: invalid octal digit %q", c)
		}
		n = n*8 + int(c-'0')
	}

	return n, nil
}

// int2oct encodes v as a space-padded, NUL-terminated octal field of
// len(field) bytes, the inverse of oct2int.
func int2oct(field []byte, v int) {
	for i := range field {
		field[i] = ' '
	}

	digits := len(field) - 1 // leave room for the trailing NUL
	for i := digits - 1; i >= 0 && v > 0; i-- {
		field[i] = byte('0' + v%8)
		v /= 8
	}

	field[len(field)-1] = 0
}
