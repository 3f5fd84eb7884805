// Package vocab implements the character-level codec: a bidirectional
// mapping between corpus characters and dense integer indices.
package vocab

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrUnknownChar reports a character that is not in the vocabulary.
	ErrUnknownChar = errors.New("vocab: unknown character")

	// ErrIndexOutOfRange reports an index outside [0, Size()).
	ErrIndexOutOfRange = errors.New("vocab: index out of range")
)

// Vocab maps characters to dense indices and back. The mapping is fixed at
// construction: indices are 0..Size()-1 over the distinct code points of the
// source text, sorted ascending, so the same corpus always yields the same
// codec.
type Vocab struct {
	runes []rune
	index map[rune]int
}

// Build derives a codec from corpus text.
func Build(text string) (*Vocab, error) {
	if text == "" {
		return nil, errors.New("vocab: empty corpus text")
	}
	seen := make(map[rune]struct{})
	for _, r := range text {
		seen[r] = struct{}{}
	}
	runes := make([]rune, 0, len(seen))
	for r := range seen {
		runes = append(runes, r)
	}
	slices.Sort(runes)
	return FromRunes(runes)
}

// FromRunes rebuilds a codec from an index-ordered rune table, as stored in
// a checkpoint. The table must be free of duplicates.
func FromRunes(runes []rune) (*Vocab, error) {
	if len(runes) == 0 {
		return nil, errors.New("vocab: empty rune table")
	}
	index := make(map[rune]int, len(runes))
	for i, r := range runes {
		if _, dup := index[r]; dup {
			return nil, fmt.Errorf("vocab: duplicate rune %q in table", r)
		}
		index[r] = i
	}
	return &Vocab{runes: slices.Clone(runes), index: index}, nil
}

// Size returns the number of distinct characters.
func (v *Vocab) Size() int {
	return len(v.runes)
}

// Encode maps every character of s to its index, in order. A character
// outside the vocabulary fails the whole call; there is no skipping and no
// substitute index.
func (v *Vocab) Encode(s string) ([]int, error) {
	ids := make([]int, 0, len(s))
	pos := 0
	for _, r := range s {
		id, ok := v.index[r]
		if !ok {
			return nil, fmt.Errorf("%w: %q at position %d", ErrUnknownChar, r, pos)
		}
		ids = append(ids, id)
		pos++
	}
	return ids, nil
}

// Decode maps every index back to its character. An index outside
// [0, Size()) fails the whole call; there is no clamping.
func (v *Vocab) Decode(ids []int) (string, error) {
	var b strings.Builder
	b.Grow(len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(v.runes) {
			return "", fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, id, len(v.runes))
		}
		b.WriteRune(v.runes[id])
	}
	return b.String(), nil
}

// Rune decodes a single index.
func (v *Vocab) Rune(id int) (rune, error) {
	if id < 0 || id >= len(v.runes) {
		return 0, fmt.Errorf("%w: %d (size %d)", ErrIndexOutOfRange, id, len(v.runes))
	}
	return v.runes[id], nil
}

// ID looks up a single character.
func (v *Vocab) ID(r rune) (int, bool) {
	id, ok := v.index[r]
	return id, ok
}

// Runes returns a copy of the index-ordered character table.
func (v *Vocab) Runes() []rune {
	return slices.Clone(v.runes)
}
