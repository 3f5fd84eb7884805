package rlm

import (
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// File is a parsed, read-only view of an RLM container. Data is either an
// mmap of the file or a full in-memory copy when mmap is unavailable.
type File struct {
	Data     []byte
	Header   *Header
	Sections []Section
	mmapped  bool
}

// Open maps the file read-only and validates its structure. When mmap is
// unavailable it falls back to reading the whole file into memory. The
// returned File must be closed to release any mapping.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := stat.Size()
	if size < rlmHeaderSize || size > math.MaxInt {
		return nil, fmt.Errorf("%w: implausible file size %d", ErrCorruptFile, size)
	}

	// Prefer mmap for zero-copy section slices.
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		rf, parseErr := parseFile(data, true)
		if parseErr != nil {
			_ = unix.Munmap(data)
			return nil, parseErr
		}
		return rf, nil
	}

	data, err = readAllAt(f, int(size))
	if err != nil {
		return nil, err
	}
	return parseFile(data, false)
}

// OpenReaderAt loads and validates a container from a random-access reader
// without mmap.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < rlmHeaderSize || size > math.MaxInt {
		return nil, fmt.Errorf("%w: implausible file size %d", ErrCorruptFile, size)
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parseFile(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == io.EOF && off == int64(size) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func parseFile(data []byte, mmapped bool) (*File, error) {
	hdr, ok := decodeHeader(data)
	if !ok {
		return nil, fmt.Errorf("%w: short header", ErrCorruptFile)
	}
	if string(hdr.Magic[:]) != Magic {
		return nil, ErrInvalidMagic
	}
	if hdr.Major != CurrentMajor {
		return nil, fmt.Errorf("%w: file is major %d, reader supports %d",
			ErrUnsupportedMajor, hdr.Major, CurrentMajor)
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, fmt.Errorf("%w: header file size %d, actual %d",
			ErrCorruptFile, hdr.FileSize, len(data))
	}
	if hdr.HeaderSize < rlmHeaderSize || uint64(hdr.HeaderSize) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: bad header size %d", ErrCorruptFile, hdr.HeaderSize)
	}
	if hdr.SectionCount == 0 {
		return nil, fmt.Errorf("%w: no sections", ErrCorruptFile)
	}

	dirStart := hdr.SectionDirOffset
	dirEnd := dirStart + uint64(hdr.SectionCount)*rlmSectionSize
	if dirStart < uint64(hdr.HeaderSize) || dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: section directory out of bounds", ErrCorruptFile)
	}

	sections := make([]Section, hdr.SectionCount)
	for i := range sections {
		start := int(dirStart) + i*rlmSectionSize
		sec, ok := decodeSection(data[start : start+rlmSectionSize])
		if !ok {
			return nil, fmt.Errorf("%w: short section entry %d", ErrCorruptFile, i)
		}
		sections[i] = sec
	}

	for i := range sections {
		s := &sections[i]
		end := s.End()
		if end < s.Offset || end > uint64(len(data)) {
			return nil, fmt.Errorf("%w: section %d out of bounds", ErrCorruptFile, i)
		}
		if s.Offset < uint64(hdr.HeaderSize) {
			return nil, fmt.Errorf("%w: section %d overlaps header", ErrCorruptFile, i)
		}
		if rangesOverlap(s.Offset, end, dirStart, dirEnd) {
			return nil, fmt.Errorf("%w: section %d overlaps directory", ErrCorruptFile, i)
		}
		if s.Offset%rlmAlign != 0 {
			return nil, fmt.Errorf("%w: section %d offset not %d-byte aligned", ErrCorruptFile, i, rlmAlign)
		}
	}

	return &File{
		Data:     data,
		Header:   &hdr,
		Sections: sections,
		mmapped:  mmapped,
	}, nil
}

// Close releases the mapping, if any. The File must not be used afterwards.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Header = nil
	f.Sections = nil
	f.mmapped = false
	return err
}

// Section returns the directory entry for the given type, or nil if the
// container does not carry it.
func (f *File) Section(t SectionType) *Section {
	for i := range f.Sections {
		if SectionType(f.Sections[i].Type) == t {
			return &f.Sections[i]
		}
	}
	return nil
}

// SectionData returns a zero-copy slice over the section payload.
// The slice must not be retained after Close.
func (f *File) SectionData(s *Section) []byte {
	if f == nil || s == nil || f.Data == nil {
		return nil
	}
	end := s.End()
	if end < s.Offset || end > uint64(len(f.Data)) {
		return nil
	}
	return f.Data[s.Offset:end]
}
