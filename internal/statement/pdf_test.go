package statement

import (
	"context"
	"errors"
	"testing"

	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	text  string
	err   error
	model string
	parts int
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	if len(contents) > 0 {
		f.parts = len(contents[0].Parts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: f.text}}}},
		},
	}, nil
}

func TestPDFParser_MapsModelOutput(t *testing.T) {
	gen := &fakeGenerator{text: "```json\n[" +
		`{"date":"2024-03-01","description":"PAYMENT ACME CORP","amount":-150.0,"balance_after":850.5,"reference":"R1"},` +
		`{"date":"2024-03-02","description":"TRANSFER IN","amount":500,"balance_after":null}` +
		"]\n```"}
	p := NewPDFParser(gen, "")

	r, err := p.Open(context.Background(), []byte("%PDF"), domain.FormatConfig{})
	require.NoError(t, err)
	lines, err := Collect(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, DefaultModelName, gen.model)
	assert.Equal(t, 2, gen.parts)
	require.Len(t, lines, 2)
	assert.Equal(t, domain.DirectionDebit, lines[0].Direction)
	assert.True(t, decimal.RequireFromString("150").Equal(lines[0].Amount))
	assert.True(t, decimal.RequireFromString("850.5").Equal(*lines[0].Balance))
	assert.Equal(t, "R1", lines[0].Reference)
	assert.Equal(t, domain.DirectionCredit, lines[1].Direction)
	assert.Nil(t, lines[1].Balance)
}

func TestPDFParser_MalformedElement(t *testing.T) {
	gen := &fakeGenerator{text: `[{"date":"2024-03-01","description":"A","amount":1},{"date":"03/2024","description":"B","amount":2}]`}
	_, err := NewPDFParser(gen, "m").Open(context.Background(), nil, domain.FormatConfig{})

	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.KindParse, de.Kind)
	assert.Equal(t, 2, de.Line)
}

func TestPDFParser_ModelFailureIsNotParseError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	_, err := NewPDFParser(gen, "m").Open(context.Background(), nil, domain.FormatConfig{})
	require.Error(t, err)
	assert.Equal(t, domain.Kind(""), domain.KindOf(err))
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `[1,2]`, `[1,2]`},
		{"fenced", "```json\n[1]\n```", `[1]`},
		{"prose", "Here you go: [1] thanks", `[1]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.raw))
		})
	}
}
