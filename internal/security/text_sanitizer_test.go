package security

import (
	"strings"
	"testing"
)

func TestTextSanitizer_SanitizeLine(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Home Meter", "Home Meter"},
		{"タグを除去", "<b>Home</b> Meter", "Home Meter"},
		{"scriptを除去", `Home<script>alert("x")</script>`, "Home"},
		{"改行をスペースに畳む", "Home\nMeter", "Home Meter"},
		{"連続空白を畳む", "Home   \t Meter", "Home Meter"},
		{"前後の空白を除去", "  Home  ", "Home"},
		{"空文字列", "", ""},
		{"アンパサンドを保持", "Shop & Home", "Shop & Home"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SanitizeLine(tt.input); got != tt.want {
				t.Errorf("SanitizeLine(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextSanitizer_SanitizeLine_Idempotent(t *testing.T) {
	s := NewTextSanitizer()

	input := "<i>My</i>  Shop & Home\nMeter"
	once := s.SanitizeLine(input)
	twice := s.SanitizeLine(once)
	if once != twice {
		t.Errorf("冪等でない: 1回目 %q, 2回目 %q", once, twice)
	}
}

func TestTextSanitizer_SanitizeNickname_Truncates(t *testing.T) {
	s := NewTextSanitizer()

	long := strings.Repeat("a", 200)
	got := s.SanitizeNickname(long)
	if len(got) > 64 {
		t.Errorf("ニックネームは64文字以内に切り詰められるべき: len = %d", len(got))
	}
}

func TestTextSanitizer_SanitizeNickname_EmptyAfterStrip(t *testing.T) {
	s := NewTextSanitizer()

	if got := s.SanitizeNickname("<script></script>"); got != "" {
		t.Errorf("マークアップのみの入力は空文字列になるべき: got %q", got)
	}
}
