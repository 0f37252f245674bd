package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewSafeClientTimeout はタイムアウト設定が反映されることをテストする。
func TestNewSafeClientTimeout(t *testing.T) {
	guard := NewSSRFGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout)
	if client.Timeout != timeout {
		t.Errorf("expected timeout %v, got %v", timeout, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// TestNewSafeClientBlocksLoopback はループバック宛てのリクエストがブロックされることをテストする。
// httptestサーバーは127.0.0.1で起動されるため拒否される。
func TestNewSafeClientBlocksLoopback(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(5 * time.Second)

	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

// TestNewSafeClientRejectsPlainHTTP はHTTPスキームが拒否されることをテストする。
func TestNewSafeClientRejectsPlainHTTP(t *testing.T) {
	client := NewSSRFGuard().NewSafeClient(time.Second)

	if _, err := client.Get("http://api.github.com/user"); err == nil {
		t.Fatal("expected error for http scheme, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"GitHubアバター", "https://avatars.githubusercontent.com/u/42?v=4", false},
		{"HTTP公開URL", "http://example.com/a.png", false},
		{"空文字", "", true},
		{"javascriptスキーム", "javascript:alert(1)", true},
		{"dataスキーム", "data:image/png;base64,AAAA", true},
		{"ホストなし", "https:///path", true},
		{"プライベートIP", "https://10.0.0.1/a.png", true},
		{"ループバック", "https://127.0.0.1/a.png", true},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data", true},
		{"IPv6ループバック", "http://[::1]/a.png", true},
		{"IPv4射影IPv6", "http://[::ffff:127.0.0.1]/a.png", true},
		{"CGNAT", "http://100.64.1.1/a.png", true},
		{"公開IP", "https://140.82.112.3/a.png", false},
		{"localhost", "http://localhost:8080/a.png", true},
		{"localhostサブドメイン", "http://api.localhost/a.png", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestSSRFGuardInterface(t *testing.T) {
	var _ SSRFGuardService = NewSSRFGuard()
}
