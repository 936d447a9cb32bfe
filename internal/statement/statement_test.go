package statement

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/dvloznov/reconciler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Detect(t *testing.T) {
	reg := DefaultRegistry()
	n43 := []byte(n43Header(0) + "\n")

	tests := []struct {
		name     string
		filename string
		content  []byte
		declared domain.Format
		want     domain.Format
	}{
		{"declared wins", "statement.xml", []byte("a;b;c"), domain.FormatDelimited, domain.FormatDelimited},
		{"csv extension", "march.CSV", []byte("<xml/>"), "", domain.FormatDelimited},
		{"n43 extension", "march.n43", nil, "", domain.FormatNorma43},
		{"xml extension", "camt.xml", nil, "", domain.FormatCAMT053},
		{"pdf content", "upload", []byte("%PDF-1.7 ..."), "", domain.FormatPDF},
		{"xml content", "upload.txt", []byte("\n  <?xml version=\"1.0\"?><Document/>"), "", domain.FormatCAMT053},
		{"norma43 content", "upload.txt", n43, "", domain.FormatNorma43},
		{"fallback delimited", "upload", []byte("01/03/2024;A;1"), "", domain.FormatDelimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.Detect(tt.filename, tt.content, tt.declared))
		})
	}
}

func TestRegistry_OpenUnregisteredFormat(t *testing.T) {
	_, err := DefaultRegistry().Open(context.Background(), domain.FormatPDF, []byte("%PDF"), domain.FormatConfig{})
	require.Error(t, err)
	assert.Equal(t, domain.KindParse, domain.KindOf(err))
}

func TestReaderIsSinglePass(t *testing.T) {
	r, err := NewDelimitedParser().Open(context.Background(), []byte("01/03/2024;A;1\n"), domain.DefaultFormatConfig())
	require.NoError(t, err)

	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestCollect_StopsOnCancelledContext(t *testing.T) {
	r, err := NewDelimitedParser().Open(context.Background(), []byte(strings.Repeat("01/03/2024;A;1\n", 10)), domain.DefaultFormatConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Collect(ctx, r)
	assert.True(t, errors.Is(err, context.Canceled))
}
