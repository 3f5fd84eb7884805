package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tiny.txt")
	want := "First Citizen:\nBefore we proceed any further, hear me speak.\n"
	if err := os.WriteFile(path, []byte(want), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("Load returned %q, want %q", got, want)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatal("expected error for a missing file")
	}

	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty); err == nil {
		t.Fatal("expected error for an empty file")
	}

	bad := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(bad, []byte{'a', 0xff, 'b'}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("expected error for invalid UTF-8")
	}
}

func TestSplit(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("abcdefghij", 10)

	train, eval := Split(text, 0.1)
	if train+eval != text {
		t.Fatal("split does not partition the text")
	}
	if len(eval) != 10 {
		t.Fatalf("eval length = %d, want 10", len(eval))
	}

	train, eval = Split(text, 0)
	if train != text || eval != "" {
		t.Fatal("evalFrac 0 should keep everything in train")
	}

	train, eval = Split(text, 1)
	if train != "" || eval != text {
		t.Fatal("evalFrac 1 should move everything to eval")
	}
}

func TestSplitRuneBoundarySafe(t *testing.T) {
	t.Parallel()

	// Two-byte runes force the raw byte cut to land mid-rune for odd
	// offsets.
	text := strings.Repeat("é", 50)
	train, eval := Split(text, 0.33)
	if train+eval != text {
		t.Fatal("split does not partition the text")
	}
	if !utf8.ValidString(train) || !utf8.ValidString(eval) {
		t.Fatal("split cut inside a rune")
	}
	if train == "" || eval == "" {
		t.Fatal("expected both portions to be non-empty")
	}
}
