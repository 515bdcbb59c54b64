// Package chunker splits document text into overlapping fixed-size windows.
package chunker

import "strings"

const (
	// DefaultSize is the window length in characters.
	DefaultSize = 500

	// DefaultOverlap is the number of characters shared by consecutive windows.
	DefaultOverlap = 80
)

// Config configures window size and overlap.
type Config struct {
	Size    int `yaml:"chunk_size"`
	Overlap int `yaml:"chunk_overlap"`
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{Size: DefaultSize, Overlap: DefaultOverlap}
}

// Chunk splits text into windows of size characters (Unicode code points),
// advancing max(1, size-overlap) characters per step. Line endings are
// normalized to "\n" first; each window is trimmed and blank windows are
// dropped. A non-positive size selects DefaultSize.
func Chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	step := max(1, size-overlap)

	clean := strings.ReplaceAll(text, "\r\n", "\n")
	clean = strings.ReplaceAll(clean, "\r", "\n")
	runes := []rune(clean)

	var chunks []string
	for i := 0; i < len(runes); i += step {
		end := min(i+size, len(runes))
		chunk := strings.TrimSpace(string(runes[i:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

// Chunk splits text using the receiver's size and overlap.
func (c Config) Chunk(text string) []string {
	return Chunk(text, c.Size, c.Overlap)
}
