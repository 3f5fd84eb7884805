// Package corpus loads training text and cuts it into batches for
// next-character prediction.
package corpus

import (
	"fmt"
	"os"
	"unicode/utf8"
)

// Load reads an entire corpus file into memory.
func Load(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("corpus: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("corpus: %s is empty", path)
	}
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("corpus: %s is not valid UTF-8", path)
	}
	return string(raw), nil
}

// Split cuts text into a leading training portion and a trailing
// evaluation portion of roughly evalFrac bytes. The cut always lands on
// a rune boundary, so both halves stay valid UTF-8.
func Split(text string, evalFrac float64) (train, eval string) {
	switch {
	case text == "" || evalFrac <= 0:
		return text, ""
	case evalFrac >= 1:
		return "", text
	}
	cut := int(float64(len(text)) * (1 - evalFrac))
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	return text[:cut], text[cut:]
}
