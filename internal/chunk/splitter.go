// Package chunk splits extracted page text into the fixed-size overlapping
// windows used as embedding units. One canonical splitter configuration is
// shared by every call site so a page always chunks the same way no matter
// which code path processed it.
package chunk

import (
	"strings"

	"github.com/sitechat/ingest/internal/pipeline"
)

// Default window geometry in runes.
const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Splitter implements pipeline.Chunker with a fixed window size and overlap.
type Splitter struct {
	size    int
	overlap int
}

// New builds a Splitter. Non-positive size falls back to DefaultSize; a
// negative overlap or one that does not leave the window moving forward is
// clamped.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &Splitter{size: size, overlap: overlap}
}

// Size returns the window size in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the window overlap in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Split cuts text into the canonical chunk sequence. Identical input yields
// the identical sequence and count. Offsets are rune positions into the
// input. Whitespace-only input yields no chunks.
func (s *Splitter) Split(text string) []pipeline.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	runes := []rune(text)
	step := s.size - s.overlap

	var chunks []pipeline.Chunk
	for start := 0; start < len(runes); start += step {
		end := start + s.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, pipeline.Chunk{
			Index: len(chunks),
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}
