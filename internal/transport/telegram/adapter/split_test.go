package adapter

import (
	"strings"
	"testing"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		limit     int
		parseMode string
		want      []string
	}{
		{"short", "hello", 10, "", []string{"hello"}},
		{"hard cut", "abcdefghij", 4, "", []string{"abcd", "efgh", "ij"}},
		{"newline preferred", "aaaa\nbbbbbb", 8, "", []string{"aaaa", "bbbbbb"}},
		{"html tag kept whole", "abcdef<b>x</b>", 8, "HTML", []string{"abcdef", "<b>x</b>"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitTelegramText(tt.in, tt.limit, tt.parseMode)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("split(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitTelegramTextRunes(t *testing.T) {
	t.Parallel()
	in := strings.Repeat("é", 9)
	got := splitTelegramText(in, 4, "")
	if len(got) != 3 || got[2] != "é" {
		t.Fatalf("got %q", got)
	}
}
