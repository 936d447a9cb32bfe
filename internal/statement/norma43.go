package statement

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

const norma43RecordLen = 80

// Minimum record lengths: every mandatory field must be present, trailing blanks may be trimmed.
var norma43MinLen = map[string]int{
	"11": 50,
	"22": 42,
	"23": 4,
	"33": 73,
	"88": 2,
}

// Descriptions of the AEB common concept codes, used when a movement carries no free text.
var norma43Concepts = map[string]string{
	"01": "CHEQUES / WITHDRAWALS",
	"02": "DEPOSITS",
	"03": "DIRECT DEBITS",
	"04": "TRANSFERS",
	"05": "AMORTIZATIONS",
	"06": "REMITTANCES",
	"07": "SUBSCRIPTIONS",
	"08": "DIVIDENDS",
	"09": "SECURITIES",
	"10": "FUEL CHEQUES",
	"11": "ATM",
	"12": "CARDS",
	"13": "FOREIGN OPERATIONS",
	"14": "RETURNS",
	"15": "PAYROLL",
	"16": "STAMP DUTY",
	"17": "INTEREST",
	"18": "FEES",
	"19": "MISCELLANEOUS",
	"98": "CANCELLATIONS",
	"99": "MISCELLANEOUS",
}

// Norma43Parser reads the Spanish AEB "Cuaderno 43" fixed-width account statement format.
type Norma43Parser struct{}

func NewNorma43Parser() *Norma43Parser {
	return &Norma43Parser{}
}

func (p *Norma43Parser) Format() domain.Format {
	return domain.FormatNorma43
}

// Open decodes Latin-1 input when it is not valid UTF-8. Offsets are counted in characters.
func (p *Norma43Parser) Open(ctx context.Context, content []byte, _ domain.FormatConfig) (LineReader, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(content)
		if err != nil {
			return nil, domain.ParseErrorf(0, "decode latin-1 statement: %v", err)
		}
		content = decoded
	}
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 256), 64*1024)
	return &norma43Reader{scanner: sc}, nil
}

type norma43Totals struct {
	debits, credits         int
	debitTotal, creditTotal decimal.Decimal
}

type norma43Reader struct {
	scanner *bufio.Scanner
	lineNo  int
	// peeked holds a record read ahead while collecting concept lines.
	peeked     []rune
	peekedLine int
	inAccount  bool
	ended      bool
	balance    decimal.Decimal
	totals     norma43Totals
	pending    *domain.NormalizedLine
	done       bool
}

func (r *norma43Reader) nextRecord() ([]rune, int, error) {
	if r.peeked != nil {
		rec, line := r.peeked, r.peekedLine
		r.peeked = nil
		return rec, line, nil
	}
	for r.scanner.Scan() {
		r.lineNo++
		text := strings.TrimRight(r.scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		rec := []rune(text)
		if len(rec) > norma43RecordLen {
			return nil, r.lineNo, domain.ParseErrorf(r.lineNo, "record is %d characters, want %d", len(rec), norma43RecordLen)
		}
		code := string(rec[:min(2, len(rec))])
		minLen, ok := norma43MinLen[code]
		if !ok {
			return nil, r.lineNo, domain.ParseErrorf(r.lineNo, "unknown record code %q", code)
		}
		if len(rec) < minLen {
			return nil, r.lineNo, domain.ParseErrorf(r.lineNo, "record %s is too short (%d characters)", code, len(rec))
		}
		for len(rec) < norma43RecordLen {
			rec = append(rec, ' ')
		}
		return rec, r.lineNo, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, r.lineNo, domain.ParseErrorf(r.lineNo+1, "read statement: %v", err)
	}
	return nil, 0, io.EOF
}

func (r *norma43Reader) Next() (domain.NormalizedLine, error) {
	if r.done {
		return domain.NormalizedLine{}, io.EOF
	}
	line, err := r.next()
	if err != nil {
		r.done = true
	}
	return line, err
}

func (r *norma43Reader) next() (domain.NormalizedLine, error) {
	for {
		rec, lineNo, err := r.nextRecord()
		if err == io.EOF {
			if r.pending != nil {
				return r.flush(), nil
			}
			if r.inAccount {
				return domain.NormalizedLine{}, domain.ParseErrorf(r.lineNo, "account block is missing its 33 totals record")
			}
			if !r.ended {
				return domain.NormalizedLine{}, domain.ParseErrorf(r.lineNo, "missing 88 end of file record")
			}
			return domain.NormalizedLine{}, io.EOF
		}
		if err != nil {
			return domain.NormalizedLine{}, err
		}
		code := string(rec[:2])

		if r.ended {
			return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "record %s after end of file record", code)
		}
		if code != "23" && r.pending != nil {
			r.peeked, r.peekedLine = rec, lineNo
			return r.flush(), nil
		}

		switch code {
		case "11":
			if r.inAccount {
				return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "account header before the previous account totals")
			}
			if err := r.header(rec, lineNo); err != nil {
				return domain.NormalizedLine{}, err
			}
		case "22":
			if !r.inAccount {
				return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "movement record outside an account block")
			}
			mv, err := r.movement(rec, lineNo)
			if err != nil {
				return domain.NormalizedLine{}, err
			}
			r.pending = mv
		case "23":
			if r.pending == nil {
				return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "concept record without a preceding movement")
			}
			extra := strings.TrimSpace(field(rec, 5, 42) + " " + field(rec, 43, 80))
			if extra != "" {
				r.pending.Concept = strings.TrimSpace(r.pending.Concept + " " + extra)
			}
		case "33":
			if !r.inAccount {
				return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "totals record outside an account block")
			}
			if err := r.checkTotals(rec, lineNo); err != nil {
				return domain.NormalizedLine{}, err
			}
			r.inAccount = false
		case "88":
			if r.inAccount {
				return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "end of file inside an account block")
			}
			r.ended = true
		}
	}
}

func (r *norma43Reader) flush() domain.NormalizedLine {
	line := *r.pending
	r.pending = nil
	if line.Concept == "" {
		line.Concept = line.Reference
	}
	return line
}

func (r *norma43Reader) header(rec []rune, lineNo int) error {
	balance, err := cents(field(rec, 34, 47))
	if err != nil {
		return domain.ParseErrorf(lineNo, "initial balance: %v", err)
	}
	switch field(rec, 33, 33) {
	case "1":
		balance = balance.Neg()
	case "2":
	default:
		return domain.ParseErrorf(lineNo, "invalid initial balance sign %q", field(rec, 33, 33))
	}
	if _, err := yymmdd(field(rec, 21, 26)); err != nil {
		return domain.ParseErrorf(lineNo, "start date: %v", err)
	}
	r.inAccount = true
	r.balance = balance
	r.totals = norma43Totals{}
	return nil
}

func (r *norma43Reader) movement(rec []rune, lineNo int) (*domain.NormalizedLine, error) {
	opDate, err := yymmdd(field(rec, 11, 16))
	if err != nil {
		return nil, domain.ParseErrorf(lineNo, "operation date: %v", err)
	}
	amount, err := cents(field(rec, 29, 42))
	if err != nil {
		return nil, domain.ParseErrorf(lineNo, "amount: %v", err)
	}

	var dir domain.Direction
	switch field(rec, 28, 28) {
	case "1":
		dir = domain.DirectionDebit
		r.totals.debits++
		r.totals.debitTotal = r.totals.debitTotal.Add(amount)
		r.balance = r.balance.Sub(amount)
	case "2":
		dir = domain.DirectionCredit
		r.totals.credits++
		r.totals.creditTotal = r.totals.creditTotal.Add(amount)
		r.balance = r.balance.Add(amount)
	default:
		return nil, domain.ParseErrorf(lineNo, "invalid debit/credit key %q", field(rec, 28, 28))
	}

	line := &domain.NormalizedLine{
		LineNo:    lineNo,
		Date:      opDate,
		Amount:    amount,
		Direction: dir,
	}
	if valueDate, err := yymmdd(field(rec, 17, 22)); err == nil {
		line.ValueDate = &valueDate
	}
	balance := r.balance
	line.Balance = &balance

	line.Reference = strings.TrimLeft(field(rec, 53, 64), "0")
	if line.Reference == "" {
		line.Reference = strings.TrimLeft(field(rec, 43, 52), "0")
	}
	line.Concept = field(rec, 65, 80)
	if line.Concept == "" {
		line.Concept = norma43Concepts[field(rec, 23, 24)]
	}
	return line, nil
}

func (r *norma43Reader) checkTotals(rec []rune, lineNo int) error {
	var debits, credits int
	if _, err := fmt.Sscanf(field(rec, 21, 25), "%d", &debits); err != nil {
		return domain.ParseErrorf(lineNo, "number of debits: %v", err)
	}
	if _, err := fmt.Sscanf(field(rec, 40, 44), "%d", &credits); err != nil {
		return domain.ParseErrorf(lineNo, "number of credits: %v", err)
	}
	debitTotal, err := cents(field(rec, 26, 39))
	if err != nil {
		return domain.ParseErrorf(lineNo, "debit total: %v", err)
	}
	creditTotal, err := cents(field(rec, 45, 58))
	if err != nil {
		return domain.ParseErrorf(lineNo, "credit total: %v", err)
	}
	if debits != r.totals.debits || credits != r.totals.credits {
		return domain.ParseErrorf(lineNo, "totals record counts %d debits and %d credits, statement has %d and %d",
			debits, credits, r.totals.debits, r.totals.credits)
	}
	if !debitTotal.Equal(r.totals.debitTotal) || !creditTotal.Equal(r.totals.creditTotal) {
		return domain.ParseErrorf(lineNo, "totals record amounts do not match the movements")
	}
	return nil
}

// field returns the trimmed 1-based inclusive column range [from, to].
func field(rec []rune, from, to int) string {
	return strings.TrimSpace(string(rec[from-1 : to]))
}

func cents(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return decimal.Zero, fmt.Errorf("invalid amount %q", s)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-2), nil
}

func yymmdd(s string) (civil.Date, error) {
	t, err := time.Parse("060102", s)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid date %q", s)
	}
	return civil.DateOf(t), nil
}
