package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameRunes は保存する表示名の最大文字数。
const maxDisplayNameRunes = 128

// ProfileSanitizerService はIdPから受け取ったプロフィール値を保存前に正規化する。
type ProfileSanitizerService interface {
	// DisplayName はマークアップを除去し、前後の空白を取り除いた表示名を返す。
	DisplayName(raw string) string
	// AvatarURL は安全なURLであればそのまま返し、そうでなければ空文字を返す。
	AvatarURL(raw string) string
}

// profileSanitizer はProfileSanitizerServiceの実装。
type profileSanitizer struct {
	policy *bluemonday.Policy
	guard  SSRFGuardService
}

// NewProfileSanitizer はタグを一切許可しないポリシーでサニタイザーを生成する。
func NewProfileSanitizer(guard SSRFGuardService) *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
		guard:  guard,
	}
}

// DisplayName はマークアップを除去した表示名を返す。
// StrictPolicyがエスケープした実体参照は元の文字に戻す。
func (s *profileSanitizer) DisplayName(raw string) string {
	name := html.UnescapeString(s.policy.Sanitize(raw))
	name = strings.Join(strings.Fields(name), " ")

	if utf8.RuneCountInString(name) > maxDisplayNameRunes {
		runes := []rune(name)
		name = string(runes[:maxDisplayNameRunes])
	}
	return name
}

// AvatarURL は安全なURLのみを返す。
func (s *profileSanitizer) AvatarURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if err := s.guard.ValidateURL(raw); err != nil {
		return ""
	}
	return raw
}
