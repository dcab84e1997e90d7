package chunk

import (
	"strings"
	"testing"
)

func TestSplitDeterministic(t *testing.T) {
	t.Parallel()

	s := New(10, 3)
	text := strings.Repeat("abcdefghij", 5)

	first := s.Split(text)
	second := s.Split(text)

	if len(first) == 0 {
		t.Fatal("expected chunks")
	}
	if len(first) != len(second) {
		t.Fatalf("expected identical chunk counts, got %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestSplitGeometry(t *testing.T) {
	t.Parallel()

	s := New(10, 2)
	text := "0123456789abcdefghij"

	chunks := s.Split(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "0123456789" || chunks[0].Start != 0 || chunks[0].End != 10 {
		t.Fatalf("unexpected first chunk: %+v", chunks[0])
	}
	// Second window starts size-overlap runes in.
	if chunks[1].Start != 8 || chunks[1].End != 20 {
		t.Fatalf("unexpected second chunk offsets: %+v", chunks[1])
	}
	if chunks[1].Text != "89abcdefghij" {
		t.Fatalf("unexpected second chunk text: %q", chunks[1].Text)
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d carries index %d", i, c.Index)
		}
	}
}

func TestSplitShortAndEmptyInput(t *testing.T) {
	t.Parallel()

	s := New(100, 20)

	if got := s.Split(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
	if got := s.Split("   \n\t "); got != nil {
		t.Fatalf("expected nil for whitespace input, got %v", got)
	}

	short := s.Split("hello")
	if len(short) != 1 {
		t.Fatalf("expected single chunk for short input, got %d", len(short))
	}
	if short[0].Text != "hello" || short[0].Start != 0 || short[0].End != 5 {
		t.Fatalf("unexpected chunk: %+v", short[0])
	}
}

func TestSplitRuneBoundaries(t *testing.T) {
	t.Parallel()

	s := New(4, 1)
	text := "日本語のテキストです"

	chunks := s.Split(text)
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	var rebuilt []rune
	for i, c := range chunks {
		runes := []rune(c.Text)
		if len(runes) > 4 {
			t.Fatalf("chunk %d longer than window: %q", i, c.Text)
		}
		if c.End-c.Start != len(runes) {
			t.Fatalf("chunk %d offsets disagree with text length: %+v", i, c)
		}
		if i == 0 {
			rebuilt = append(rebuilt, runes...)
		} else {
			rebuilt = append(rebuilt, runes[1:]...)
		}
	}
	if string(rebuilt) != text {
		t.Fatalf("chunks do not reassemble the input: %q", string(rebuilt))
	}
}

func TestNewClampsBadConfig(t *testing.T) {
	t.Parallel()

	s := New(0, -5)
	if s.Size() != DefaultSize || s.Overlap() != 0 {
		t.Fatalf("unexpected defaults: size=%d overlap=%d", s.Size(), s.Overlap())
	}

	s = New(10, 10)
	if s.Overlap() != 5 {
		t.Fatalf("expected overlap clamped below size, got %d", s.Overlap())
	}

	// The window must always advance.
	chunks := s.Split(strings.Repeat("x", 30))
	if len(chunks) == 0 || len(chunks) > 6 {
		t.Fatalf("unexpected chunk count %d", len(chunks))
	}
}
