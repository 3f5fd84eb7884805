package rlm

import (
	"errors"
	"io"
	"os"
	"sort"
	"sync"
)

const writerPadBufSize = 4096

// Writer builds an RLM file in a streaming fashion.
//
// Space for the fixed header is reserved up front and patched during
// Finalise. Small sections are written whole with WriteSection; tensor data,
// whose payload is produced incrementally, streams through BeginSection.
type Writer struct {
	f        *os.File
	sections []Section
	seen     map[SectionType]struct{}
	open     *SectionWriter
	closed   bool

	padBuf []byte

	mu sync.Mutex
}

// SectionWriter streams one section payload directly to the underlying file.
//
// It must be ended (End or Close) before any other section can be written.
// Padding added via Align counts towards the recorded section size.
type SectionWriter struct {
	w       *Writer
	typ     SectionType
	version uint32
	start   int64
	ended   bool
}

// NewWriter creates a writer targeting f. The file is truncated and header
// space is reserved, to be patched in Finalise.
func NewWriter(f *os.File) (*Writer, error) {
	if f == nil {
		return nil, errors.New("rlm: nil file")
	}

	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	w := &Writer{
		f:      f,
		seen:   make(map[SectionType]struct{}),
		padBuf: make([]byte, writerPadBufSize),
	}

	// Reserve actual header bytes, not a seek hole.
	if err := w.writeZeros(rlmHeaderSize); err != nil {
		return nil, err
	}
	if err := w.alignTo(rlmAlign); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) canWrite(typ SectionType) error {
	if w.closed {
		return errors.New("rlm: writer already finalised")
	}
	if w.open != nil {
		return errors.New("rlm: section write in progress")
	}
	if _, ok := w.seen[typ]; ok {
		return errors.New("rlm: duplicate section type")
	}
	return nil
}

// WriteSection writes a section payload and records it in the directory.
// Sections may be written in any order. A type may only be written once.
func (w *Writer) WriteSection(typ SectionType, version uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.canWrite(typ); err != nil {
		return err
	}

	// Align each section start for clean mmapping by consumers.
	if err := w.alignTo(rlmAlign); err != nil {
		return err
	}
	offset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	if len(data) > 0 {
		if err := writeFull(w.f, data); err != nil {
			return err
		}
	}

	w.sections = append(w.sections, Section{
		Type:    uint32(typ),
		Version: version,
		Offset:  uint64(offset),
		Size:    uint64(len(data)),
	})
	w.seen[typ] = struct{}{}
	return nil
}

// BeginSection starts streaming a section payload directly to the file.
// The returned SectionWriter must be ended before any other section is written.
func (w *Writer) BeginSection(typ SectionType, version uint32) (*SectionWriter, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.canWrite(typ); err != nil {
		return nil, err
	}

	if err := w.alignTo(rlmAlign); err != nil {
		return nil, err
	}
	start, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	sw := &SectionWriter{w: w, typ: typ, version: version, start: start}
	w.open = sw
	// Once payload bytes for a type may have hit the file, the type is spent.
	w.seen[typ] = struct{}{}
	return sw, nil
}

func (sw *SectionWriter) active() error {
	if sw.ended {
		return errors.New("rlm: section writer ended")
	}
	if sw.w.open != sw {
		return errors.New("rlm: section writer not active")
	}
	return nil
}

// Write streams p into the section payload.
func (sw *SectionWriter) Write(p []byte) (int, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := writeFull(sw.w.f, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Align pads with zeros until the file position is aligned to n bytes.
// Useful for aligning individual tensor payloads inside a data section.
func (sw *SectionWriter) Align(n int) error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	return sw.w.alignTo(int64(n))
}

// CurrentAbsOffset returns the current absolute file offset. Callers record
// it to know where a tensor payload begins.
func (sw *SectionWriter) CurrentAbsOffset() (uint64, error) {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return 0, err
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return uint64(pos), nil
}

// End finalises the section and records it in the directory.
func (sw *SectionWriter) End() error {
	sw.w.mu.Lock()
	defer sw.w.mu.Unlock()

	if err := sw.active(); err != nil {
		return err
	}
	pos, err := sw.w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if pos < sw.start {
		return errors.New("rlm: invalid file position")
	}

	sw.w.sections = append(sw.w.sections, Section{
		Type:    uint32(sw.typ),
		Version: sw.version,
		Offset:  uint64(sw.start),
		Size:    uint64(pos - sw.start),
	})
	sw.w.open = nil
	sw.ended = true
	return nil
}

// Close is an alias for End so a SectionWriter can be deferred.
func (sw *SectionWriter) Close() error { return sw.End() }

// Finalise writes the section directory and patches the header.
// After Finalise, the writer must not be used again.
func (w *Writer) Finalise() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("rlm: writer already finalised")
	}
	if w.open != nil {
		return errors.New("rlm: section write in progress")
	}
	// Finalise is terminal even when it fails; the file state is unknown.
	w.closed = true
	if len(w.sections) == 0 {
		return errors.New("rlm: no sections written")
	}

	// Deterministic directory ordering.
	sort.Slice(w.sections, func(i, j int) bool {
		return w.sections[i].Type < w.sections[j].Type
	})

	if err := w.alignTo(rlmAlign); err != nil {
		return err
	}
	dirOffset, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	var secBuf [rlmSectionSize]byte
	for i := range w.sections {
		if !encodeSection(secBuf[:], w.sections[i]) {
			return errors.New("rlm: encode section failed")
		}
		if err := writeFull(w.f, secBuf[:]); err != nil {
			return err
		}
	}

	// The target file may have been reused, so pin the size explicitly.
	fileSize, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if err := w.f.Truncate(fileSize); err != nil {
		return err
	}

	var hdr Header
	copy(hdr.Magic[:], Magic)
	hdr.Major = CurrentMajor
	hdr.Minor = CurrentMinor
	hdr.HeaderSize = rlmHeaderSize
	hdr.SectionCount = uint32(len(w.sections))
	hdr.SectionDirOffset = uint64(dirOffset)
	hdr.FileSize = uint64(fileSize)

	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	var hdrBuf [rlmHeaderSize]byte
	if !encodeHeader(hdrBuf[:], hdr) {
		return errors.New("rlm: encode header failed")
	}
	if err := writeFull(w.f, hdrBuf[:]); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *Writer) alignTo(n int64) error {
	if n <= 1 {
		return nil
	}
	pos, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	mod := pos % n
	if mod == 0 {
		return nil
	}
	return w.writeZeros(int(n - mod))
}

func (w *Writer) writeZeros(n int) error {
	buf := w.padBuf
	if len(buf) == 0 {
		buf = make([]byte, writerPadBufSize)
	}
	for n > 0 {
		chunk := min(n, len(buf))
		if err := writeFull(w.f, buf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
