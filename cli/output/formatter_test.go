package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFormatter(format Format) (*Formatter, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &Formatter{Format: format, Out: &out, Err: &errOut}, &out, &errOut
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatTable},
		{in: "Table", want: FormatTable},
		{in: "json", want: FormatJSON},
		{in: "yml", want: FormatYAML},
		{in: "csv", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.ErrorContains(t, err, "invalid output format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatter_PrintFields(t *testing.T) {
	fields := []Field{{"output", "chart.html"}, {"cache key", "abc"}}

	t.Run("table", func(t *testing.T) {
		f, out, _ := newTestFormatter(FormatTable)
		require.NoError(t, f.PrintFields(fields...))
		assert.Equal(t, "output: chart.html\ncache key: abc\n", out.String())
	})

	t.Run("json", func(t *testing.T) {
		f, out, _ := newTestFormatter(FormatJSON)
		require.NoError(t, f.PrintFields(fields...))
		assert.JSONEq(t, `{"output":"chart.html","cache_key":"abc"}`, out.String())
	})

	t.Run("yaml keeps order", func(t *testing.T) {
		f, out, _ := newTestFormatter(FormatYAML)
		require.NoError(t, f.PrintFields(fields...))
		assert.Equal(t, "output: chart.html\ncache_key: abc\n", out.String())
	})

	t.Run("quiet", func(t *testing.T) {
		f, out, _ := newTestFormatter(FormatTable)
		f.Quiet = true
		require.NoError(t, f.PrintFields(fields...))
		assert.Empty(t, out.String())
	})
}

func TestFormatter_PrintTable(t *testing.T) {
	data := TableData{
		Headers: []string{"SPECIFIER", "PROVIDER"},
		Rows:    [][]string{{"react", "esm.sh"}, {"recharts", "unpkg", "extra"}},
	}

	t.Run("table", func(t *testing.T) {
		f, out, _ := newTestFormatter(FormatTable)
		require.NoError(t, f.PrintTable(data))
		assert.Contains(t, out.String(), "SPECIFIER")
		assert.Contains(t, out.String(), "recharts")
	})

	t.Run("json", func(t *testing.T) {
		f, out, _ := newTestFormatter(FormatJSON)
		require.NoError(t, f.PrintTable(data))
		assert.JSONEq(t, `[{"specifier":"react","provider":"esm.sh"},{"specifier":"recharts","provider":"unpkg"}]`, out.String())
	})
}

func TestFormatter_PrintWarning(t *testing.T) {
	f, out, errOut := newTestFormatter(FormatJSON)
	f.PrintWarning("transpile failed")
	assert.Empty(t, out.String())
	assert.Equal(t, "Warning: transpile failed\n", errOut.String())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KiB", FormatBytes(1536))
	assert.Equal(t, "2.0 MiB", FormatBytes(2*1024*1024))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "https:/...", Truncate("https://esm.sh/react", 10))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
}
