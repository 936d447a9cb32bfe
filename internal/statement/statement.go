// Package statement turns raw bank statement files into normalized lines.
package statement

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/dvloznov/reconciler/internal/domain"
)

// LineReader yields normalized lines in source order. It is single pass: Next returns io.EOF
// once the input is exhausted and the reader cannot be restarted.
type LineReader interface {
	Next() (domain.NormalizedLine, error)
}

// Parser is one statement format.
type Parser interface {
	Format() domain.Format
	// Open validates the envelope of content and returns a reader over its lines.
	// Malformed lines surface from Next as parse errors.
	Open(ctx context.Context, content []byte, cfg domain.FormatConfig) (LineReader, error)
}

// Collect drains r. The first error aborts the whole statement.
func Collect(ctx context.Context, r LineReader) ([]domain.NormalizedLine, error) {
	var lines []domain.NormalizedLine
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := r.Next()
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
}

// Registry dispatches to the parser registered for a format.
type Registry struct {
	parsers map[domain.Format]Parser
}

// NewRegistry registers the given parsers.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{parsers: make(map[domain.Format]Parser)}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// DefaultRegistry holds the formats that need no external service.
func DefaultRegistry() *Registry {
	return NewRegistry(NewDelimitedParser(), NewNorma43Parser(), NewCAMT053Parser())
}

// Register adds or replaces the parser for p.Format().
func (r *Registry) Register(p Parser) {
	r.parsers[p.Format()] = p
}

// Formats lists the registered formats.
func (r *Registry) Formats() []domain.Format {
	out := make([]domain.Format, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	return out
}

var extensionFormats = map[string]domain.Format{
	".csv": domain.FormatDelimited,
	".tsv": domain.FormatDelimited,
	".txt": "",
	".n43": domain.FormatNorma43,
	".aeb": domain.FormatNorma43,
	".q43": domain.FormatNorma43,
	".xml": domain.FormatCAMT053,
	".pdf": domain.FormatPDF,
}

// Detect picks the format: the declared one, then the file extension, then the content.
func (r *Registry) Detect(filename string, content []byte, declared domain.Format) domain.Format {
	if declared != "" {
		return declared
	}
	if f := extensionFormats[strings.ToLower(filepath.Ext(filename))]; f != "" {
		return f
	}
	return sniff(content)
}

func sniff(content []byte) domain.Format {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(content, utf8BOM), " \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("%PDF")):
		return domain.FormatPDF
	case bytes.HasPrefix(trimmed, []byte("<")):
		return domain.FormatCAMT053
	}
	first := trimmed
	if i := bytes.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	first = bytes.TrimRight(first, "\r")
	if bytes.HasPrefix(first, []byte("11")) && len([]rune(string(first))) == norma43RecordLen {
		return domain.FormatNorma43
	}
	return domain.FormatDelimited
}

// Open returns a reader for content in the given format.
func (r *Registry) Open(ctx context.Context, format domain.Format, content []byte, cfg domain.FormatConfig) (LineReader, error) {
	p, ok := r.parsers[format]
	if !ok {
		return nil, domain.ParseErrorf(0, "unsupported statement format %q", format)
	}
	return p.Open(ctx, content, cfg)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// sliceReader serves lines that had to be decoded up front.
type sliceReader struct {
	lines []domain.NormalizedLine
	pos   int
}

func (s *sliceReader) Next() (domain.NormalizedLine, error) {
	if s.pos >= len(s.lines) {
		return domain.NormalizedLine{}, io.EOF
	}
	line := s.lines[s.pos]
	s.pos++
	return line, nil
}
