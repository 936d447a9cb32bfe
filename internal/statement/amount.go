package statement

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// parseAmount reads a signed amount with optional thousands grouping: "1.234,56", "1,234.56",
// "-150.00", "150,00-", "(12.50)". mark is the decimal mark ('.' or ','); zero detects it, in
// which case a lone separator followed by exactly three digits is read as grouping.
func parseAmount(raw string, mark byte) (decimal.Decimal, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}

	negative := false
	switch {
	case strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")"):
		negative = true
		s = s[1 : len(s)-1]
	case strings.HasSuffix(s, "-"):
		negative = true
		s = s[:len(s)-1]
	}
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	} else if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	invalid := fmt.Errorf("invalid amount %q", raw)
	if s == "" {
		return decimal.Zero, invalid
	}

	if mark == 0 {
		mark = detectDecimalMark(s)
	}
	whole, frac := s, ""
	if mark != 0 {
		if i := strings.LastIndexByte(s, mark); i >= 0 {
			whole, frac = s[:i], s[i+1:]
			if !isDigits(frac) {
				return decimal.Zero, invalid
			}
		}
	}
	digits, ok := ungroup(whole, groupMark(mark, whole))
	if !ok {
		return decimal.Zero, invalid
	}
	if frac != "" {
		digits += "." + frac
	}

	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// detectDecimalMark returns the decimal mark of s, or zero when every separator is grouping.
func detectDecimalMark(s string) byte {
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastDot > lastComma {
			return '.'
		}
		return ','
	case lastDot >= 0 || lastComma >= 0:
		mark, pos := byte('.'), lastDot
		if lastComma >= 0 {
			mark, pos = ',', lastComma
		}
		if strings.Count(s, string(mark)) == 1 && len(s)-pos-1 != 3 {
			return mark
		}
	}
	return 0
}

func groupMark(decimalMark byte, whole string) byte {
	switch decimalMark {
	case '.':
		return ','
	case ',':
		return '.'
	}
	if strings.IndexByte(whole, ',') >= 0 {
		return ','
	}
	return '.'
}

// ungroup strips thousands separators from the integer part. Once grouped, the first group has
// one to three digits and every later group exactly three.
func ungroup(whole string, sep byte) (string, bool) {
	groups := strings.Split(whole, string(sep))
	for i, g := range groups {
		if !isDigits(g) {
			return "", false
		}
		if len(groups) > 1 && ((i == 0 && len(g) > 3) || (i > 0 && len(g) != 3)) {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
