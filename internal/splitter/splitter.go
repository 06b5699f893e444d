// Package splitter cuts document text into overlapping chunks, preferring
// natural boundaries over hard character cuts.
package splitter

import (
	"strings"
	"unicode/utf8"

	"github.com/vectral-ai/corpus-engine/internal/domain"
)

const (
	DefaultChunkSize    = 2000
	DefaultChunkOverlap = 200
)

// defaultSeparators is the boundary preference order: paragraph, line,
// sentence, word, then a raw character cut.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Piece is one chunk of text attributed to the page unit it came from.
type Piece struct {
	Text       string
	PageNumber int
}

// Splitter is a recursive-separator text splitter.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// New creates a splitter. Non-positive size or negative overlap fall back to
// the defaults; overlap is clamped below size.
func New(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split divides text into chunks of at most the configured size, carrying
// overlap between neighbours. Whitespace-only input yields no chunks.
func (s *Splitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(trimmed) <= s.chunkSize {
		return []string{trimmed}
	}
	return s.split(text, s.separators)
}

// SplitUnits splits every page unit independently, so a chunk never spans
// pages. Pieces are returned in document order.
func (s *Splitter) SplitUnits(units []domain.PageUnit) []Piece {
	var pieces []Piece
	for _, unit := range units {
		for _, text := range s.Split(unit.Text) {
			pieces = append(pieces, Piece{Text: text, PageNumber: unit.PageNumber})
		}
	}
	return pieces
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, cand := range separators {
		if cand == "" {
			sep, rest = "", nil
			break
		}
		if strings.Contains(text, cand) {
			sep, rest = cand, separators[i+1:]
			break
		}
	}

	if sep == "" {
		return s.hardCut(text)
	}

	var parts []string
	for _, p := range strings.Split(text, sep) {
		if p != "" {
			parts = append(parts, p)
		}
	}

	var out []string
	var pending []string
	for _, p := range parts {
		if len(p) < s.chunkSize {
			pending = append(pending, p)
			continue
		}
		// oversize part: flush what accumulated, then descend with the
		// finer separators
		if len(pending) > 0 {
			out = append(out, s.merge(pending, sep)...)
			pending = nil
		}
		if len(rest) == 0 {
			out = append(out, s.hardCut(p)...)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(pending) > 0 {
		out = append(out, s.merge(pending, sep)...)
	}
	return out
}

// merge joins parts back together into chunks bounded by chunkSize. When a
// chunk closes, trailing parts up to chunkOverlap are retained to start the
// next one.
func (s *Splitter) merge(parts []string, sep string) []string {
	sepLen := len(sep)

	var chunks []string
	var window []string
	total := 0

	emit := func() {
		joined := strings.TrimSpace(strings.Join(window, sep))
		if joined != "" {
			chunks = append(chunks, joined)
		}
	}

	for _, p := range parts {
		pl := len(p)
		joinLen := 0
		if len(window) > 0 {
			joinLen = sepLen
		}
		if total+pl+joinLen > s.chunkSize && len(window) > 0 {
			emit()
			for total > s.chunkOverlap || (total+pl+sepLen > s.chunkSize && total > 0) {
				total -= len(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
				if len(window) == 0 {
					break
				}
			}
		}
		window = append(window, p)
		total += pl
		if len(window) > 1 {
			total += sepLen
		}
	}
	if len(window) > 0 {
		emit()
	}
	return chunks
}

// hardCut slices text that has no usable boundaries into fixed windows with
// overlap, keeping cut points on rune starts.
func (s *Splitter) hardCut(text string) []string {
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	var out []string
	start := 0
	for start < len(text) {
		end := start + s.chunkSize
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}
		out = append(out, text[start:end])

		next := end - s.chunkOverlap
		if next <= start {
			next = start + 1
		}
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}
	return out
}
