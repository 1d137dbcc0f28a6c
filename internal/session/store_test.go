package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func writeTokenFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write token file: %v", err)
	}
	return path
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestFileStore_Token(t *testing.T) {
	path := writeTokenFile(t, "  abc123\n")
	store := NewFileStore(path, nil)

	if got := store.Token(); got != "abc123" {
		t.Errorf("Token = %q, want %q (trimmed)", got, "abc123")
	}
}

func TestFileStore_MissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope"), nil)

	if got := store.Token(); got != "" {
		t.Errorf("Token = %q, want empty", got)
	}
	if store.Authenticated() {
		t.Error("Authenticated = true with no token file")
	}
}

func TestFileStore_Authenticated(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"opaque token", "opaque-session-id", true},
		{"empty file", "", false},
		{"whitespace only", "  \n", false},
		{"valid jwt", signedToken(t, time.Now().Add(time.Hour)), true},
		{"expired jwt", signedToken(t, time.Now().Add(-time.Hour)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewFileStore(writeTokenFile(t, tt.content), nil)
			if got := store.Authenticated(); got != tt.want {
				t.Errorf("Authenticated = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFileStore_Logout(t *testing.T) {
	path := writeTokenFile(t, "abc123")
	store := NewFileStore(path, nil)

	store.Logout()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("token file still exists after Logout: %v", err)
	}
	if store.Authenticated() {
		t.Error("Authenticated = true after Logout")
	}

	// Second logout with no file is a no-op
	store.Logout()
}

func TestExpired(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"future exp", signedToken(t, now.Add(time.Hour)), false},
		{"past exp", signedToken(t, now.Add(-time.Minute)), true},
		{"opaque token", "not-a-jwt", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Expired(tt.token, now); got != tt.want {
				t.Errorf("Expired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpired_NoExpClaim(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "operator"})
	s, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if Expired(s, time.Now()) {
		t.Error("JWT without exp should never count as expired")
	}
}

func TestMemStore(t *testing.T) {
	store := NewMemStore("tok")

	if !store.Authenticated() {
		t.Error("Authenticated = false with a token")
	}
	if store.Token() != "tok" {
		t.Errorf("Token = %q", store.Token())
	}

	store.SetToken("tok2")
	if store.Token() != "tok2" {
		t.Errorf("Token after SetToken = %q", store.Token())
	}

	store.Logout()
	if store.Authenticated() {
		t.Error("Authenticated = true after Logout")
	}
	if store.Logouts() != 1 {
		t.Errorf("Logouts = %d, want 1", store.Logouts())
	}
}
