// Package chunk splits page text into fixed-size, overlapping character
// windows suitable for embedding.
package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// Default window parameters, in characters.
const (
	DefaultSize    = 1500
	DefaultOverlap = 200
)

// ErrInvalidWindow is returned by [New] when size and overlap cannot produce
// a forward-moving window.
var ErrInvalidWindow = errors.New("chunk: invalid window")

// Chunker is a stateless sliding-window splitter. It is safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker with the given window size and overlap. Overlap must
// be non-negative and strictly smaller than size.
func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be > 0, got %d", ErrInvalidWindow, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap must be >= 0 and < size (%d), got %d", ErrInvalidWindow, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the window size in characters.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of characters shared by consecutive windows.
func (c *Chunker) Overlap() int { return c.overlap }

// Split trims surrounding whitespace from text and returns its windows in
// order. Window i starts at character i*(size-overlap); windows are emitted
// while the start lies inside the text, so the final window always ends at
// the last character and may be shorter than size. Empty input yields nil.
func (c *Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	step := c.size - c.overlap
	out := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := min(start+c.size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}
