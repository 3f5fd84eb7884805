// Package rlm implements the RLM checkpoint container format.
//
// An RLM file is a single memory-mappable container holding everything a
// trained model needs to run: hyperparameters, the character vocabulary and
// the tensor payloads with an index over them. The format describes structure
// and data only and never implies runtime behaviour.
package rlm

import "encoding/binary"

// Format constants. These must never change.
const (
	// Magic is the file magic for all RLM containers, encoded as "RLM\0".
	Magic = "RLM\x00"

	// CurrentMajor changes only on breaking format changes.
	CurrentMajor uint16 = 1

	// CurrentMinor may add new optional sections or fields.
	CurrentMinor uint16 = 0
)

const (
	rlmHeaderSize  = 40
	rlmSectionSize = 24
	rlmAlign       = 8
)

type SectionType uint32

const (
	SectionModelInfo   SectionType = 0x0001
	SectionVocab       SectionType = 0x0002
	SectionTensorIndex SectionType = 0x0003
	SectionTensorData  SectionType = 0x0004
)

// Header is the fixed 40-byte block at the start of every RLM file.
// All integer fields are little-endian on disk.
type Header struct {
	Magic            [4]byte
	Major            uint16
	Minor            uint16
	HeaderSize       uint32
	SectionCount     uint32
	SectionDirOffset uint64
	FileSize         uint64
	Flags            uint64
}

// Section is one 24-byte entry in the section directory.
type Section struct {
	Type    uint32
	Version uint32
	Offset  uint64
	Size    uint64
}

func (s *Section) End() uint64 {
	return s.Offset + s.Size
}

func encodeHeader(dst []byte, h Header) bool {
	if len(dst) < rlmHeaderSize {
		return false
	}
	copy(dst[0:4], h.Magic[:])
	binary.LittleEndian.PutUint16(dst[4:6], h.Major)
	binary.LittleEndian.PutUint16(dst[6:8], h.Minor)
	binary.LittleEndian.PutUint32(dst[8:12], h.HeaderSize)
	binary.LittleEndian.PutUint32(dst[12:16], h.SectionCount)
	binary.LittleEndian.PutUint64(dst[16:24], h.SectionDirOffset)
	binary.LittleEndian.PutUint64(dst[24:32], h.FileSize)
	binary.LittleEndian.PutUint64(dst[32:40], h.Flags)
	return true
}

func decodeHeader(src []byte) (Header, bool) {
	var h Header
	if len(src) < rlmHeaderSize {
		return h, false
	}
	copy(h.Magic[:], src[0:4])
	h.Major = binary.LittleEndian.Uint16(src[4:6])
	h.Minor = binary.LittleEndian.Uint16(src[6:8])
	h.HeaderSize = binary.LittleEndian.Uint32(src[8:12])
	h.SectionCount = binary.LittleEndian.Uint32(src[12:16])
	h.SectionDirOffset = binary.LittleEndian.Uint64(src[16:24])
	h.FileSize = binary.LittleEndian.Uint64(src[24:32])
	h.Flags = binary.LittleEndian.Uint64(src[32:40])
	return h, true
}

func encodeSection(dst []byte, s Section) bool {
	if len(dst) < rlmSectionSize {
		return false
	}
	binary.LittleEndian.PutUint32(dst[0:4], s.Type)
	binary.LittleEndian.PutUint32(dst[4:8], s.Version)
	binary.LittleEndian.PutUint64(dst[8:16], s.Offset)
	binary.LittleEndian.PutUint64(dst[16:24], s.Size)
	return true
}

func decodeSection(src []byte) (Section, bool) {
	var s Section
	if len(src) < rlmSectionSize {
		return s, false
	}
	s.Type = binary.LittleEndian.Uint32(src[0:4])
	s.Version = binary.LittleEndian.Uint32(src[4:8])
	s.Offset = binary.LittleEndian.Uint64(src[8:16])
	s.Size = binary.LittleEndian.Uint64(src[16:24])
	return s, true
}
