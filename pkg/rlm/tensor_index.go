package rlm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Tensor index payload format (v1), little-endian. Offsets in the section
// header are relative to the start of the section payload:
//
//   [0]   header (48 bytes)
//   [...] entries, 40 bytes each
//   [...] dims table, one u64 per dimension
//   [...] name bytes
//
// Entries are sorted by name so the encoding is deterministic. DataOff fields
// are absolute file offsets, which makes slicing payloads out of the mapped
// file trivial.

// TensorIndexVersion is the on-disk version of the tensor index section payload.
const TensorIndexVersion uint32 = 1

const (
	tensorIndexHeaderSize = 48
	tensorIndexEntrySize  = 40

	tensorIndexFlagSortedByName uint32 = 1 << 0
)

// TensorDType identifies the element encoding of a tensor payload.
// Values are stable; add new ones only.
type TensorDType uint32

const (
	DTypeUnknown TensorDType = iota
	DTypeF32
	DTypeF64
)

// ElemSize returns the byte width of one element, or zero if unknown.
func (t TensorDType) ElemSize() uint64 {
	switch t {
	case DTypeF32:
		return 4
	case DTypeF64:
		return 8
	}
	return 0
}

func (t TensorDType) String() string {
	switch t {
	case DTypeF32:
		return "f32"
	case DTypeF64:
		return "f64"
	}
	return "unknown"
}

// TensorRecord describes one tensor payload in the container.
// DataOff is an absolute file offset, not a section-relative one.
type TensorRecord struct {
	Name     string
	DType    TensorDType
	Shape    []uint64
	DataOff  uint64
	DataSize uint64
}

// Elems returns the number of elements the shape describes.
func (r TensorRecord) Elems() uint64 {
	n := uint64(1)
	for _, d := range r.Shape {
		n *= d
	}
	return n
}

// TensorIndex is a decoded tensor index section.
type TensorIndex struct {
	records []TensorRecord
	byName  map[string]int
}

func (ti *TensorIndex) Count() int { return len(ti.records) }

// At returns the i-th record in index (name-sorted) order.
func (ti *TensorIndex) At(i int) TensorRecord { return ti.records[i] }

// Find returns the record for the given tensor name.
func (ti *TensorIndex) Find(name string) (TensorRecord, bool) {
	i, ok := ti.byName[name]
	if !ok {
		return TensorRecord{}, false
	}
	return ti.records[i], true
}

// Names returns all tensor names in index order.
func (ti *TensorIndex) Names() []string {
	out := make([]string, len(ti.records))
	for i := range ti.records {
		out[i] = ti.records[i].Name
	}
	return out
}

// EncodeTensorIndex builds a tensor index section payload.
// Records are sorted by name before encoding.
func EncodeTensorIndex(records []TensorRecord) ([]byte, error) {
	if len(records) == 0 {
		return nil, errors.New("rlm: tensor index requires at least one record")
	}

	recs := slices.Clone(records)
	slices.SortFunc(recs, func(a, b TensorRecord) int {
		return strings.Compare(a.Name, b.Name)
	})

	var (
		dims  []uint64
		names []byte
	)
	entries := make([]byte, 0, len(recs)*tensorIndexEntrySize)
	var entry [tensorIndexEntrySize]byte
	for i, r := range recs {
		if r.Name == "" {
			return nil, errors.New("rlm: tensor name must be non-empty")
		}
		if i > 0 && recs[i-1].Name == r.Name {
			return nil, fmt.Errorf("rlm: duplicate tensor name %q", r.Name)
		}

		binary.LittleEndian.PutUint32(entry[0:4], uint32(len(names)))
		binary.LittleEndian.PutUint32(entry[4:8], uint32(len(r.Name)))
		binary.LittleEndian.PutUint32(entry[8:12], uint32(r.DType))
		binary.LittleEndian.PutUint32(entry[12:16], uint32(len(r.Shape)))
		binary.LittleEndian.PutUint32(entry[16:20], uint32(len(dims)))
		binary.LittleEndian.PutUint32(entry[20:24], 0) // reserved
		binary.LittleEndian.PutUint64(entry[24:32], r.DataOff)
		binary.LittleEndian.PutUint64(entry[32:40], r.DataSize)
		entries = append(entries, entry[:]...)

		names = append(names, r.Name...)
		dims = append(dims, r.Shape...)
	}

	entriesOff := uint64(tensorIndexHeaderSize)
	dimsOff := entriesOff + uint64(len(entries))
	stringsOff := dimsOff + uint64(len(dims))*8

	out := make([]byte, stringsOff+uint64(len(names)))
	binary.LittleEndian.PutUint32(out[0:4], TensorIndexVersion)
	binary.LittleEndian.PutUint32(out[4:8], tensorIndexFlagSortedByName)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(recs)))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(dims)))
	binary.LittleEndian.PutUint64(out[16:24], entriesOff)
	binary.LittleEndian.PutUint64(out[24:32], dimsOff)
	binary.LittleEndian.PutUint64(out[32:40], stringsOff)
	binary.LittleEndian.PutUint64(out[40:48], uint64(len(names)))

	copy(out[entriesOff:], entries)
	dp := dimsOff
	for _, d := range dims {
		binary.LittleEndian.PutUint64(out[dp:dp+8], d)
		dp += 8
	}
	copy(out[stringsOff:], names)
	return out, nil
}

// ParseTensorIndex validates and decodes a tensor index section payload.
// Pass it File.SectionData(File.Section(SectionTensorIndex)).
func ParseTensorIndex(sec []byte) (*TensorIndex, error) {
	if len(sec) < tensorIndexHeaderSize {
		return nil, fmt.Errorf("%w: tensor index too small", ErrCorruptFile)
	}
	version := binary.LittleEndian.Uint32(sec[0:4])
	if version != TensorIndexVersion {
		return nil, fmt.Errorf("%w: tensor index version %d", ErrUnsupportedMinor, version)
	}
	count := binary.LittleEndian.Uint32(sec[8:12])
	dimsCount := binary.LittleEndian.Uint32(sec[12:16])
	entriesOff := binary.LittleEndian.Uint64(sec[16:24])
	dimsOff := binary.LittleEndian.Uint64(sec[24:32])
	stringsOff := binary.LittleEndian.Uint64(sec[32:40])
	stringsSize := binary.LittleEndian.Uint64(sec[40:48])

	if count == 0 {
		return nil, fmt.Errorf("%w: empty tensor index", ErrCorruptFile)
	}
	secLen := uint64(len(sec))
	entriesEnd := entriesOff + uint64(count)*tensorIndexEntrySize
	dimsEnd := dimsOff + uint64(dimsCount)*8
	stringsEnd := stringsOff + stringsSize
	if entriesEnd < entriesOff || entriesEnd > secLen {
		return nil, fmt.Errorf("%w: tensor entries out of bounds", ErrCorruptFile)
	}
	if dimsEnd < dimsOff || dimsEnd > secLen {
		return nil, fmt.Errorf("%w: dims table out of bounds", ErrCorruptFile)
	}
	if stringsEnd < stringsOff || stringsEnd > secLen {
		return nil, fmt.Errorf("%w: strings table out of bounds", ErrCorruptFile)
	}

	ti := &TensorIndex{
		records: make([]TensorRecord, 0, count),
		byName:  make(map[string]int, count),
	}
	for i := uint64(0); i < uint64(count); i++ {
		e := sec[entriesOff+i*tensorIndexEntrySize:]
		nameOff := binary.LittleEndian.Uint32(e[0:4])
		nameLen := binary.LittleEndian.Uint32(e[4:8])
		dtype := TensorDType(binary.LittleEndian.Uint32(e[8:12]))
		rank := binary.LittleEndian.Uint32(e[12:16])
		dimOff := binary.LittleEndian.Uint32(e[16:20])
		dataOff := binary.LittleEndian.Uint64(e[24:32])
		dataSize := binary.LittleEndian.Uint64(e[32:40])

		if uint64(nameOff)+uint64(nameLen) > stringsSize {
			return nil, fmt.Errorf("%w: tensor %d name out of bounds", ErrCorruptFile, i)
		}
		if uint64(dimOff)+uint64(rank) > uint64(dimsCount) {
			return nil, fmt.Errorf("%w: tensor %d shape out of bounds", ErrCorruptFile, i)
		}

		name := string(sec[stringsOff+uint64(nameOff) : stringsOff+uint64(nameOff)+uint64(nameLen)])
		if name == "" {
			return nil, fmt.Errorf("%w: tensor %d has empty name", ErrCorruptFile, i)
		}
		if _, dup := ti.byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate tensor name %q", ErrCorruptFile, name)
		}

		var shape []uint64
		if rank > 0 {
			shape = make([]uint64, rank)
			for d := uint64(0); d < uint64(rank); d++ {
				shape[d] = binary.LittleEndian.Uint64(sec[dimsOff+(uint64(dimOff)+d)*8:])
			}
		}

		ti.byName[name] = len(ti.records)
		ti.records = append(ti.records, TensorRecord{
			Name:     name,
			DType:    dtype,
			Shape:    shape,
			DataOff:  dataOff,
			DataSize: dataSize,
		})
	}
	return ti, nil
}

// TensorBytes returns a zero-copy view of the tensor payload described by r.
// The slice must not be retained after Close.
func (f *File) TensorBytes(r TensorRecord) ([]byte, error) {
	if f == nil || f.Data == nil {
		return nil, errors.New("rlm: file closed")
	}
	end := r.DataOff + r.DataSize
	if end < r.DataOff || end > uint64(len(f.Data)) {
		return nil, fmt.Errorf("%w: tensor %q data out of bounds", ErrCorruptFile, r.Name)
	}
	return f.Data[r.DataOff:end], nil
}
