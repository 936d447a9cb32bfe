package statement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/genai"
)

// DefaultModelName is the Gemini model used for PDF statements.
const DefaultModelName = "gemini-2.5-flash"

const pdfPrompt = "You are a bank statement parser.\n\n" +
	"Task:\n" +
	"- Extract ALL movements from the attached bank statement, in the order they appear.\n" +
	"- Output STRICT JSON only (no comments, no trailing commas, no extra text).\n" +
	"- Output a JSON array of objects.\n\n" +
	"Each object must have these fields:\n" +
	"- \"date\": string, ISO format \"YYYY-MM-DD\" (booking date)\n" +
	"- \"description\": string\n" +
	"- \"amount\": number (positive for money IN, negative for money OUT)\n" +
	"- \"balance_after\": number or null\n" +
	"- \"reference\": string or null\n\n" +
	"Rules:\n" +
	"- If the statement has separate \"paid out\" / \"paid in\" columns, convert to a single signed \"amount\".\n" +
	"- If the running balance is missing, set \"balance_after\" to null.\n\n" +
	"Return ONLY valid raw JSON.\n" +
	"Do NOT wrap the response in code fences.\n" +
	"Output must begin with \"[\" and end with \"]\".\n"

// ContentGenerator is the part of the Gemini client the parser needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// PDFParser extracts statement lines from PDF files with a Gemini model.
type PDFParser struct {
	gen   ContentGenerator
	model string
}

// NewPDFParser wraps an existing generator, e.g. client.Models.
func NewPDFParser(gen ContentGenerator, model string) *PDFParser {
	if model == "" {
		model = DefaultModelName
	}
	return &PDFParser{gen: gen, model: model}
}

// NewGeminiPDFParser creates a Gemini client from the environment (GOOGLE_API_KEY or Vertex AI settings).
func NewGeminiPDFParser(ctx context.Context, model string) (*PDFParser, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGeminiPDFParser: create genai client: %w", err)
	}
	return NewPDFParser(client.Models, model), nil
}

func (p *PDFParser) Format() domain.Format {
	return domain.FormatPDF
}

// Open sends the whole document to the model, so lines are decoded before the first Next.
func (p *PDFParser) Open(ctx context.Context, content []byte, _ domain.FormatConfig) (LineReader, error) {
	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: pdfPrompt},
				{
					InlineData: &genai.Blob{
						MIMEType: "application/pdf",
						Data:     content,
					},
				},
			},
		},
	}

	resp, err := p.gen.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("PDFParser.Open: generate content: %w", err)
	}
	rawText := resp.Text()
	if rawText == "" {
		return nil, domain.ParseErrorf(0, "empty response from model")
	}

	var parsed []interface{}
	if err := json.Unmarshal([]byte(cleanModelJSON(rawText)), &parsed); err != nil {
		return nil, domain.ParseErrorf(0, "model output is not a JSON array: %v", err)
	}

	lines := make([]domain.NormalizedLine, 0, len(parsed))
	for i, item := range parsed {
		line, err := modelItemToLine(i+1, item)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return &sliceReader{lines: lines}, nil
}

func modelItemToLine(lineNo int, item interface{}) (domain.NormalizedLine, error) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "element is %T, want object", item)
	}
	dateStr, err := getStringField(obj, "date", true)
	if err != nil {
		return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "%v", err)
	}
	desc, err := getStringField(obj, "description", true)
	if err != nil {
		return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "%v", err)
	}
	amount, err := getFloat64Field(obj, "amount", true)
	if err != nil {
		return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "%v", err)
	}
	balance, err := getOptionalFloat64Field(obj, "balance_after")
	if err != nil {
		return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "%v", err)
	}
	ref, err := getOptionalStringField(obj, "reference")
	if err != nil {
		return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "%v", err)
	}

	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return domain.NormalizedLine{}, domain.ParseErrorf(lineNo, "invalid date %q", dateStr)
	}

	signed := decimal.NewFromFloat(amount).Round(2)
	line := domain.NormalizedLine{
		LineNo:    lineNo,
		Date:      civil.DateOf(date),
		Concept:   strings.TrimSpace(desc),
		Amount:    signed.Abs(),
		Direction: domain.DirectionOf(signed),
	}
	if balance != nil {
		b := decimal.NewFromFloat(*balance).Round(2)
		line.Balance = &b
	}
	if ref != nil {
		line.Reference = *ref
	}
	return line, nil
}

func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Handle ```json ... ``` or ``` ... ``` wrappers.
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}

	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}

	s = strings.TrimSpace(s)

	// Keep only the outermost array if the model added prose around it.
	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}

	return s
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getOptionalStringField(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
}

func getFloat64Field(m map[string]interface{}, key string, required bool) (float64, error) {
	v, ok := m[key]
	if !ok {
		if required {
			return 0, fmt.Errorf("missing required field %q", key)
		}
		return 0, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case string:
		d, err := parseAmount(val, 0)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", key, err)
		}
		return d.InexactFloat64(), nil
	default:
		return 0, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}

func getOptionalFloat64Field(m map[string]interface{}, key string) (*float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	f, err := getFloat64Field(m, key, true)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
