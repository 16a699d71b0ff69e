package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/inbox/internal/model"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 6, "hello…"},
		{"newlines", "a\nb", 10, "a b"},
		{"multibyte", "héllo wörld", 4, "hél…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.n))
		})
	}
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "-", formatMillis(0))
	assert.Equal(t, "2023-11-14T22:13:20Z", formatMillis(1_700_000_000_000))
}

func TestConversationTable(t *testing.T) {
	var buf bytes.Buffer
	conversationTable([]model.ConversationSummary{
		{CounterpartyID: "wa1", DisplayName: "Alice", LastBody: "hi", LastOccurredAtMs: 1_700_000_000_000},
		{CounterpartyID: "wa22", DisplayName: "Bob"},
	}).render(&buf)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "WA_ID")
	assert.True(t, strings.HasPrefix(lines[1], "-----"))
	assert.True(t, strings.HasPrefix(lines[2], "wa1    Alice"))
	assert.Contains(t, lines[3], "-")
}

func TestCheckOutput(t *testing.T) {
	assert.NoError(t, checkOutput("yaml", outputJSON, outputYAML))
	assert.EqualError(t, checkOutput("xml", outputJSON, outputYAML), `unsupported output "xml" (want json, yaml)`)
}
