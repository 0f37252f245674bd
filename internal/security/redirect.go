package security

import (
	"net/url"
	"strings"
)

// SafeRedirectPath はログイン後・ログアウト後の遷移先として受け付けるローカルパスを検証する。
// "/"で始まる同一オリジン内のパスのみ許可し、"//evil.example" や "/\evil" のような
// プロトコル相対URLは拒否する。
func SafeRedirectPath(raw string) (string, bool) {
	if raw == "" || !strings.HasPrefix(raw, "/") {
		return "", false
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "", false
	}
	if strings.ContainsAny(raw, "\r\n\t") {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "", false
	}
	return raw, true
}
