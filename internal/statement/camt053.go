package statement

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// CAMT053Parser reads ISO 20022 camt.053 bank-to-customer statements.
// Entries are decoded one at a time as the document is streamed.
type CAMT053Parser struct{}

func NewCAMT053Parser() *CAMT053Parser {
	return &CAMT053Parser{}
}

func (p *CAMT053Parser) Format() domain.Format {
	return domain.FormatCAMT053
}

func (p *CAMT053Parser) Open(ctx context.Context, content []byte, _ domain.FormatConfig) (LineReader, error) {
	dec := xml.NewDecoder(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "iso-8859-1", "latin1", "latin-1":
			return charmap.ISO8859_1.NewDecoder().Reader(input), nil
		case "windows-1252", "cp1252":
			return charmap.Windows1252.NewDecoder().Reader(input), nil
		}
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return &camtReader{dec: dec}, nil
}

type camtAmount struct {
	Value string `xml:",chardata"`
	Ccy   string `xml:"Ccy,attr"`
}

type camtDate struct {
	Dt   string `xml:"Dt"`
	DtTm string `xml:"DtTm"`
}

type camtEntry struct {
	NtryRef      string     `xml:"NtryRef"`
	Amt          camtAmount `xml:"Amt"`
	CdtDbtInd    string     `xml:"CdtDbtInd"`
	RvslInd      bool       `xml:"RvslInd"`
	BookgDt      camtDate   `xml:"BookgDt"`
	ValDt        camtDate   `xml:"ValDt"`
	AcctSvcrRef  string     `xml:"AcctSvcrRef"`
	AddtlNtryInf string     `xml:"AddtlNtryInf"`
	NtryDtls     struct {
		TxDtls []struct {
			Refs struct {
				EndToEndId string `xml:"EndToEndId"`
			} `xml:"Refs"`
			RltdPties struct {
				Dbtr struct {
					Nm string `xml:"Nm"`
				} `xml:"Dbtr"`
				Cdtr struct {
					Nm string `xml:"Nm"`
				} `xml:"Cdtr"`
			} `xml:"RltdPties"`
			RmtInf struct {
				Ustrd []string `xml:"Ustrd"`
			} `xml:"RmtInf"`
		} `xml:"TxDtls"`
	} `xml:"NtryDtls"`
}

type camtReader struct {
	dec     *xml.Decoder
	index   int
	sawStmt bool
	done    bool
}

func (r *camtReader) Next() (domain.NormalizedLine, error) {
	if r.done {
		return domain.NormalizedLine{}, io.EOF
	}
	line, err := r.next()
	if err != nil {
		r.done = true
	}
	return line, err
}

func (r *camtReader) next() (domain.NormalizedLine, error) {
	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			if !r.sawStmt {
				return domain.NormalizedLine{}, domain.ParseErrorf(0, "not a camt.053 statement: no Stmt element")
			}
			return domain.NormalizedLine{}, io.EOF
		}
		if err != nil {
			return domain.NormalizedLine{}, xmlError(err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "Stmt":
			r.sawStmt = true
		case "Ntry":
			if !r.sawStmt {
				return domain.NormalizedLine{}, domain.ParseErrorf(0, "entry outside a Stmt element")
			}
			r.index++
			var e camtEntry
			if err := r.dec.DecodeElement(&e, &start); err != nil {
				return domain.NormalizedLine{}, xmlError(err)
			}
			return entryToLine(r.index, e)
		}
	}
}

func entryToLine(index int, e camtEntry) (domain.NormalizedLine, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(e.Amt.Value))
	if err != nil {
		return domain.NormalizedLine{}, domain.ParseErrorf(index, "invalid amount %q", e.Amt.Value)
	}
	if amount.IsNegative() {
		return domain.NormalizedLine{}, domain.ParseErrorf(index, "negative amount %s", amount)
	}

	var dir domain.Direction
	switch strings.ToUpper(strings.TrimSpace(e.CdtDbtInd)) {
	case "CRDT":
		dir = domain.DirectionCredit
	case "DBIT":
		dir = domain.DirectionDebit
	default:
		return domain.NormalizedLine{}, domain.ParseErrorf(index, "invalid CdtDbtInd %q", e.CdtDbtInd)
	}
	if e.RvslInd {
		if dir == domain.DirectionCredit {
			dir = domain.DirectionDebit
		} else {
			dir = domain.DirectionCredit
		}
	}

	date, ok := e.BookgDt.date()
	if !ok {
		return domain.NormalizedLine{}, domain.ParseErrorf(index, "missing or invalid booking date")
	}

	line := domain.NormalizedLine{
		LineNo:    index,
		Date:      date,
		Amount:    amount,
		Direction: dir,
		Reference: firstNonEmpty(e.AcctSvcrRef, e.NtryRef),
		Concept:   e.concept(),
	}
	if vd, ok := e.ValDt.date(); ok {
		line.ValueDate = &vd
	}
	return line, nil
}

func (d camtDate) date() (civil.Date, bool) {
	raw := strings.TrimSpace(d.Dt)
	if raw == "" {
		raw = strings.TrimSpace(d.DtTm)
		if len(raw) >= 10 {
			raw = raw[:10]
		}
	}
	if raw == "" {
		return civil.Date{}, false
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return civil.Date{}, false
	}
	return civil.DateOf(t), true
}

func (e camtEntry) concept() string {
	if s := strings.TrimSpace(e.AddtlNtryInf); s != "" {
		return s
	}
	var parts []string
	for _, tx := range e.NtryDtls.TxDtls {
		for _, u := range tx.RmtInf.Ustrd {
			if s := strings.TrimSpace(u); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	for _, tx := range e.NtryDtls.TxDtls {
		if name := firstNonEmpty(tx.RltdPties.Cdtr.Nm, tx.RltdPties.Dbtr.Nm); name != "" {
			return name
		}
	}
	return strings.TrimSpace(e.NtryRef)
}

func xmlError(err error) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return domain.ParseErrorf(se.Line, "malformed XML: %s", se.Msg)
	}
	return domain.ParseErrorf(0, "malformed XML: %v", err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
