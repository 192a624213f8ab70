package domain

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateStatement(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		wantRunes int
	}{
		{"short unchanged", "SELECT 1", 8},
		{"exactly at cap unchanged", strings.Repeat("a", MaxAuditStatementLen), MaxAuditStatementLen},
		{"one over cap cut", strings.Repeat("a", MaxAuditStatementLen+1), MaxAuditStatementLen},
		{"long statement cut", "DELETE FROM t WHERE " + strings.Repeat("x", 2000), MaxAuditStatementLen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateStatement(tt.in)
			if n := utf8.RuneCountInString(got); n != tt.wantRunes {
				t.Fatalf("rune count = %d, want %d", n, tt.wantRunes)
			}
			if !strings.HasPrefix(tt.in, got) {
				t.Fatalf("result %q is not a prefix of the input", got)
			}
		})
	}
}

func TestTruncateStatement_MultiByteBoundary(t *testing.T) {
	// The 500th and 501st runes are multi-byte; the cut must land between
	// runes, never inside one.
	in := strings.Repeat("a", MaxAuditStatementLen-1) + "日本語"

	got := TruncateStatement(in)

	if !utf8.ValidString(got) {
		t.Fatalf("truncated statement is not valid UTF-8: %q", got[len(got)-8:])
	}
	if n := utf8.RuneCountInString(got); n != MaxAuditStatementLen {
		t.Fatalf("rune count = %d, want %d", n, MaxAuditStatementLen)
	}
	if !strings.HasSuffix(got, "日") {
		t.Fatalf("statement should end with the 500th rune, got %q", got[len(got)-8:])
	}
}
