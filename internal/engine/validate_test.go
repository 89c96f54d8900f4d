package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain title passes through",
			input: "My Favorite Links",
			want:  "My Favorite Links",
		},
		{
			name:  "punctuation is stripped",
			input: "Hello, world! (draft) <b>x</b>",
			want:  "Hello world draft bxb",
		},
		{
			name:  "surrounding whitespace is trimmed",
			input: "   padded   ",
			want:  "padded",
		},
		{
			name:  "cyrillic and digits survive",
			input: "Статья 2024 — тест",
			want:  "Статья 2024  тест",
		},
		{
			name:  "hyphens and underscores survive",
			input: "a-b_c",
			want:  "a-b_c",
		},
		{
			name:  "long input is truncated to 100 runes",
			input: strings.Repeat("я", 150),
			want:  strings.Repeat("я", 100),
		},
		{
			name:  "symbols only collapse to empty",
			input: "!!!///???",
			want:  "",
		},
		{
			name:  "empty input stays empty",
			input: "",
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeTitle(tt.input)
			assert.Equal(t, tt.want, got)
			// Sanitizing is idempotent: a second pass changes nothing.
			assert.Equal(t, got, SanitizeTitle(got))
		})
	}
}

func TestParseDateRange(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "valid range", input: "2024-01-01 2024-01-31"},
		{name: "same day", input: "2024-06-15 2024-06-15"},
		{name: "extra whitespace between tokens", input: "2024-01-01    2024-01-31"},
		{name: "end before start", input: "2024-01-31 2024-01-01", wantErr: true},
		{name: "one date only", input: "2024-01-01", wantErr: true},
		{name: "three tokens", input: "2024-01-01 2024-01-15 2024-01-31", wantErr: true},
		{name: "not dates", input: "yesterday today", wantErr: true},
		{name: "wrong format", input: "01.01.2024 31.01.2024", wantErr: true},
		{name: "empty input", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDateRange(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.False(t, got.From.IsZero())
			assert.False(t, got.To.IsZero())
			assert.False(t, got.To.Before(got.From))
		})
	}
}
