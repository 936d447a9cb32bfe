package statement

import (
	"context"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const camtStatement = `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.053.001.02">
  <BkToCstmrStmt>
    <GrpHdr><MsgId>MSG-1</MsgId><CreDtTm>2024-03-04T08:00:00</CreDtTm></GrpHdr>
    <Stmt>
      <Id>STMT-1</Id>
      <Acct><Id><IBAN>ES9121000418450200051332</IBAN></Id><Ccy>EUR</Ccy></Acct>
      <Ntry>
        <NtryRef>E1</NtryRef>
        <Amt Ccy="EUR">150.00</Amt>
        <CdtDbtInd>DBIT</CdtDbtInd>
        <Sts>BOOK</Sts>
        <BookgDt><Dt>2024-03-01</Dt></BookgDt>
        <ValDt><Dt>2024-03-02</Dt></ValDt>
        <AcctSvcrRef>BANKREF-1</AcctSvcrRef>
        <NtryDtls><TxDtls><RmtInf><Ustrd>PAYMENT ACME CORP</Ustrd><Ustrd>INV 42</Ustrd></RmtInf></TxDtls></NtryDtls>
      </Ntry>
      <Ntry>
        <NtryRef>E2</NtryRef>
        <Amt Ccy="EUR">500.00</Amt>
        <CdtDbtInd>CRDT</CdtDbtInd>
        <BookgDt><DtTm>2024-03-02T10:15:00</DtTm></BookgDt>
        <AddtlNtryInf>TRANSFER IN</AddtlNtryInf>
      </Ntry>
    </Stmt>
  </BkToCstmrStmt>
</Document>`

func TestCAMT053_ParsesEntries(t *testing.T) {
	r, err := NewCAMT053Parser().Open(context.Background(), []byte(camtStatement), domain.FormatConfig{})
	require.NoError(t, err)
	lines, err := Collect(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, 1, lines[0].LineNo)
	assert.Equal(t, domain.DirectionDebit, lines[0].Direction)
	assert.True(t, decimal.RequireFromString("150").Equal(lines[0].Amount))
	assert.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 1}, lines[0].Date)
	require.NotNil(t, lines[0].ValueDate)
	assert.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 2}, *lines[0].ValueDate)
	assert.Equal(t, "BANKREF-1", lines[0].Reference)
	assert.Equal(t, "PAYMENT ACME CORP INV 42", lines[0].Concept)

	assert.Equal(t, 2, lines[1].LineNo)
	assert.Equal(t, domain.DirectionCredit, lines[1].Direction)
	assert.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 2}, lines[1].Date)
	assert.Equal(t, "E2", lines[1].Reference)
	assert.Equal(t, "TRANSFER IN", lines[1].Concept)
	assert.Nil(t, lines[1].ValueDate)
}

func TestCAMT053_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not a statement", `<Document><Other/></Document>`},
		{"malformed xml", `<Document><BkToCstmrStmt><Stmt><Ntry>`},
		{"bad indicator", `<Document><BkToCstmrStmt><Stmt><Ntry><Amt>1.00</Amt><CdtDbtInd>X</CdtDbtInd><BookgDt><Dt>2024-03-01</Dt></BookgDt></Ntry></Stmt></BkToCstmrStmt></Document>`},
		{"bad amount", `<Document><BkToCstmrStmt><Stmt><Ntry><Amt>1,00</Amt><CdtDbtInd>CRDT</CdtDbtInd><BookgDt><Dt>2024-03-01</Dt></BookgDt></Ntry></Stmt></BkToCstmrStmt></Document>`},
		{"missing booking date", `<Document><BkToCstmrStmt><Stmt><Ntry><Amt>1.00</Amt><CdtDbtInd>CRDT</CdtDbtInd></Ntry></Stmt></BkToCstmrStmt></Document>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewCAMT053Parser().Open(context.Background(), []byte(tt.content), domain.FormatConfig{})
			require.NoError(t, err)
			_, err = Collect(context.Background(), r)
			assert.True(t, domain.IsKind(err, domain.KindParse), "got %v", err)
		})
	}
}
