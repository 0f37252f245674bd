package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestDisplayName(t *testing.T) {
	s := NewProfileSanitizer(NewSSRFGuard())

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"通常の名前", "Octo Cat", "Octo Cat"},
		{"日本語", "山田 太郎", "山田 太郎"},
		{"scriptタグ除去", `<script>alert(1)</script>Mallory`, "Mallory"},
		{"タグ除去", `<b>Bold</b> <img src=x onerror=alert(1)>Name`, "Bold Name"},
		{"アンパサンドは元に戻す", "Tom & Jerry", "Tom & Jerry"},
		{"空白の正規化", "  a \n\t b  ", "a b"},
		{"空文字", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.DisplayName(tt.in); got != tt.want {
				t.Errorf("DisplayName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDisplayName_Truncates(t *testing.T) {
	s := NewProfileSanitizer(NewSSRFGuard())

	got := s.DisplayName(strings.Repeat("あ", maxDisplayNameRunes+10))
	if utf8.RuneCountInString(got) != maxDisplayNameRunes {
		t.Errorf("len = %d, want %d", utf8.RuneCountInString(got), maxDisplayNameRunes)
	}
}

func TestAvatarURL(t *testing.T) {
	s := NewProfileSanitizer(NewSSRFGuard())

	if got := s.AvatarURL("https://avatars.githubusercontent.com/u/42?v=4"); got != "https://avatars.githubusercontent.com/u/42?v=4" {
		t.Errorf("public avatar should be kept, got %q", got)
	}
	for _, bad := range []string{"javascript:alert(1)", "http://169.254.169.254/", "http://localhost/a.png", ""} {
		if got := s.AvatarURL(bad); got != "" {
			t.Errorf("AvatarURL(%q) = %q, want empty", bad, got)
		}
	}
}

func TestProfileSanitizerInterface(t *testing.T) {
	var _ ProfileSanitizerService = NewProfileSanitizer(NewSSRFGuard())
}
