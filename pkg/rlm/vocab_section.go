package rlm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Vocab section payload (v1), little-endian:
//
//   u32 version
//   u32 count
//   count * u32 code points, in index order
//
// Index order is the order the model was trained with, so it must survive
// the round trip exactly.

// VocabSectionVersion is the on-disk version of the vocab section payload.
const VocabSectionVersion uint32 = 1

// EncodeVocabSection builds a vocab section payload from runes in index order.
func EncodeVocabSection(runes []rune) ([]byte, error) {
	if len(runes) == 0 {
		return nil, errors.New("rlm: vocab requires at least one rune")
	}

	out := make([]byte, 8+4*len(runes))
	binary.LittleEndian.PutUint32(out[0:4], VocabSectionVersion)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(runes)))
	for i, r := range runes {
		if !utf8.ValidRune(r) {
			return nil, fmt.Errorf("rlm: invalid rune %#x at index %d", r, i)
		}
		binary.LittleEndian.PutUint32(out[8+4*i:], uint32(r))
	}
	return out, nil
}

// ParseVocabSection decodes a vocab section payload back into runes.
func ParseVocabSection(sec []byte) ([]rune, error) {
	if len(sec) < 8 {
		return nil, fmt.Errorf("%w: vocab section too small", ErrCorruptFile)
	}
	version := binary.LittleEndian.Uint32(sec[0:4])
	if version != VocabSectionVersion {
		return nil, fmt.Errorf("%w: vocab section version %d", ErrUnsupportedMinor, version)
	}
	count := binary.LittleEndian.Uint32(sec[4:8])
	if count == 0 {
		return nil, fmt.Errorf("%w: empty vocab section", ErrCorruptFile)
	}
	if want := 8 + 4*uint64(count); uint64(len(sec)) != want {
		return nil, fmt.Errorf("%w: vocab section size %d, want %d", ErrCorruptFile, len(sec), want)
	}

	runes := make([]rune, count)
	for i := range runes {
		r := rune(binary.LittleEndian.Uint32(sec[8+4*i:]))
		if !utf8.ValidRune(r) {
			return nil, fmt.Errorf("%w: invalid code point %#x at index %d", ErrCorruptFile, r, i)
		}
		runes[i] = r
	}
	return runes, nil
}
