package domain

import (
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Direction is the money flow of a movement from the account holder's point of view.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// DirectionOf derives the direction from a signed amount: negative is a debit.
func DirectionOf(amount decimal.Decimal) Direction {
	if amount.IsNegative() {
		return DirectionDebit
	}
	return DirectionCredit
}

// ParseDirection accepts "credit"/"debit" in any case.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionCredit:
		return DirectionCredit, nil
	case DirectionDebit:
		return DirectionDebit, nil
	}
	return "", ValidationErrorf("invalid direction %q, want credit or debit", s)
}

// Format identifies the source layout of a statement file.
type Format string

const (
	FormatDelimited Format = "delimited"
	FormatNorma43   Format = "norma43"
	FormatCAMT053   Format = "camt053"
	FormatPDF       Format = "pdf"
)

// ParseFormat normalizes a declared format name. The empty string means "detect".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "delimited", "csv", "delimited-text":
		return FormatDelimited, nil
	case "norma43", "n43", "aeb43", "fixed-width-national":
		return FormatNorma43, nil
	case "camt053", "camt.053", "xml", "xml-exchange":
		return FormatCAMT053, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", ParseErrorf(0, "unrecognized statement format %q", s)
}

// Date layouts accepted for delimited statements.
const (
	DateFormatDMY = "DD/MM/YYYY"
	DateFormatISO = "YYYY-MM-DD"
	DateFormatMDY = "MM/DD/YYYY"
)

var dateLayouts = map[string]string{
	DateFormatDMY: "02/01/2006",
	DateFormatISO: "2006-01-02",
	DateFormatMDY: "01/02/2006",
}

// FormatConfig describes the column layout of a delimited statement. Column indices are zero-based.
type FormatConfig struct {
	Separator     string `json:"separator"`
	DateFormat    string `json:"date_format"`
	DateColumn    int    `json:"date_column"`
	ConceptColumn int    `json:"concept_column"`
	AmountColumn  int    `json:"amount_column"`
	BalanceColumn *int   `json:"balance_column,omitempty"`
	HasHeaderRow  bool   `json:"has_header_row"`
	// DecimalMark is "." or ","; empty detects it per amount.
	DecimalMark string `json:"decimal_mark,omitempty"`
}

// DefaultFormatConfig is the layout used when the caller supplies none: "date;concept;amount".
func DefaultFormatConfig() FormatConfig {
	return FormatConfig{
		Separator:     ";",
		DateFormat:    DateFormatDMY,
		DateColumn:    0,
		ConceptColumn: 1,
		AmountColumn:  2,
	}
}

// Validate checks the options against the recognized set.
func (c FormatConfig) Validate() error {
	switch c.Separator {
	case ";", ",", "\t":
	default:
		return ValidationErrorf("unsupported separator %q", c.Separator)
	}
	if _, ok := dateLayouts[c.DateFormat]; !ok {
		return ValidationErrorf("unsupported date format %q", c.DateFormat)
	}
	switch c.DecimalMark {
	case "", ".", ",":
	default:
		return ValidationErrorf("unsupported decimal mark %q", c.DecimalMark)
	}
	cols := map[string]int{"date": c.DateColumn, "concept": c.ConceptColumn, "amount": c.AmountColumn}
	if c.BalanceColumn != nil {
		cols["balance"] = *c.BalanceColumn
	}
	seen := make(map[int]string, len(cols))
	for name, idx := range cols {
		if idx < 0 {
			return ValidationErrorf("%s column must be non-negative, got %d", name, idx)
		}
		if other, dup := seen[idx]; dup {
			return ValidationErrorf("%s and %s columns both use index %d", name, other, idx)
		}
		seen[idx] = name
	}
	return nil
}

// SeparatorRune returns the separator as a rune for encoding/csv.
func (c FormatConfig) SeparatorRune() rune {
	return []rune(c.Separator)[0]
}

// DateLayout returns the Go time layout for the configured date format.
func (c FormatConfig) DateLayout() string {
	return dateLayouts[c.DateFormat]
}

// NormalizedLine is one parsed statement line, independent of the source format.
type NormalizedLine struct {
	LineNo    int              `json:"line_no"`
	Date      civil.Date       `json:"date"`
	ValueDate *civil.Date      `json:"value_date,omitempty"`
	Concept   string           `json:"concept"`
	Reference string           `json:"reference,omitempty"`
	Amount    decimal.Decimal  `json:"amount"`
	Direction Direction        `json:"direction"`
	Balance   *decimal.Decimal `json:"balance,omitempty"`
}

// SignedAmount returns the amount with debits negative.
func (l NormalizedLine) SignedAmount() decimal.Decimal {
	if l.Direction == DirectionDebit {
		return l.Amount.Neg()
	}
	return l.Amount
}
