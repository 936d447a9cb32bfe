package statement

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
)

// DelimitedParser reads separator-delimited text with a configurable column mapping.
type DelimitedParser struct{}

func NewDelimitedParser() *DelimitedParser {
	return &DelimitedParser{}
}

func (p *DelimitedParser) Format() domain.Format {
	return domain.FormatDelimited
}

func (p *DelimitedParser) Open(ctx context.Context, content []byte, cfg domain.FormatConfig) (LineReader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	r.Comma = cfg.SeparatorRune()
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = cfg.Separator != "\t"
	var mark byte
	if cfg.DecimalMark != "" {
		mark = cfg.DecimalMark[0]
	}
	return &delimitedReader{csv: r, cfg: cfg, layout: cfg.DateLayout(), mark: mark}, nil
}

type delimitedReader struct {
	csv        *csv.Reader
	cfg        domain.FormatConfig
	layout     string
	mark       byte
	headerDone bool
	done       bool
}

func (d *delimitedReader) Next() (domain.NormalizedLine, error) {
	if d.done {
		return domain.NormalizedLine{}, io.EOF
	}
	for {
		record, err := d.csv.Read()
		if err == io.EOF {
			d.done = true
			return domain.NormalizedLine{}, io.EOF
		}
		if err != nil {
			d.done = true
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return domain.NormalizedLine{}, domain.ParseErrorf(pe.Line, "%v", pe.Err)
			}
			return domain.NormalizedLine{}, domain.ParseErrorf(0, "read statement: %v", err)
		}
		lineNo, _ := d.csv.FieldPos(0)
		if !d.headerDone {
			d.headerDone = true
			if d.cfg.HasHeaderRow {
				continue
			}
		}
		if blankRecord(record) {
			continue
		}
		line, err := d.row(lineNo, record)
		if err != nil {
			d.done = true
			return domain.NormalizedLine{}, err
		}
		return line, nil
	}
}

func (d *delimitedReader) row(lineNo int, record []string) (domain.NormalizedLine, error) {
	field := func(idx int, name string) (string, error) {
		if idx >= len(record) {
			return "", domain.ParseErrorf(lineNo, "missing %s column %d (row has %d columns)", name, idx, len(record))
		}
		return strings.TrimSpace(record[idx]), nil
	}

	rawDate, err := field(d.cfg.DateColumn, "date")
	if err != nil {
		return domain.NormalizedLine{}, err
	}
	t, err := time.Parse(d.layout, rawDate)
	if err != nil {
		return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "invalid date %q, want %s", rawDate, d.cfg.DateFormat)
	}

	concept, err := field(d.cfg.ConceptColumn, "concept")
	if err != nil {
		return domain.NormalizedLine{}, err
	}
	if concept == "" {
		return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "empty concept")
	}

	rawAmount, err := field(d.cfg.AmountColumn, "amount")
	if err != nil {
		return domain.NormalizedLine{}, err
	}
	amount, err := parseAmount(rawAmount, d.mark)
	if err != nil {
		return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "%v", err)
	}

	line := domain.NormalizedLine{
		LineNo:    lineNo,
		Date:      civil.DateOf(t),
		Concept:   concept,
		Amount:    amount.Abs(),
		Direction: domain.DirectionOf(amount),
	}

	if d.cfg.BalanceColumn != nil && *d.cfg.BalanceColumn < len(record) {
		if raw := strings.TrimSpace(record[*d.cfg.BalanceColumn]); raw != "" {
			balance, err := parseAmount(raw, d.mark)
			if err != nil {
				return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "balance: %v", err)
			}
			line.Balance = &balance
		}
	}
	return line, nil
}

func blankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
