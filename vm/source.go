package vm

import (
	"sort"
	"unicode/utf8"
)

// Source is a named program text. Chunks record byte offsets into it;
// line and column are derived on demand.
type Source struct {
	Name string
	Text string

	lineStarts []int
}

// NewSource creates a source and indexes its line starts.
func NewSource(name, text string) *Source {
	s := &Source{Name: name, Text: text, lineStarts: []int{0}}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			s.lineStarts = append(s.lineStarts, i+1)
		}
	}
	return s
}

// Position converts a byte offset to a 1-based line and column. Columns
// count runes. Offsets past the end clamp to the end of the text.
func (s *Source) Position(offset int) (line, col int) {
	if offset < 0 {
		return 0, 0
	}
	if offset > len(s.Text) {
		offset = len(s.Text)
	}
	i := sort.Search(len(s.lineStarts), func(i int) bool {
		return s.lineStarts[i] > offset
	}) - 1
	return i + 1, utf8.RuneCountInString(s.Text[s.lineStarts[i]:offset]) + 1
}

// LineCount returns the number of lines in the text.
func (s *Source) LineCount() int {
	return len(s.lineStarts)
}
