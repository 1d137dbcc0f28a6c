// Package session supplies the authentication gate and bearer credential for
// the realtime connection. The console issues JWTs; this package never
// verifies signatures (that is the server's job), it only inspects expiry so
// the client does not dial with a token the console is guaranteed to reject.
package session

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Store is the session provider contract consumed by the connection manager.
type Store interface {
	// Authenticated reports whether a usable credential is held.
	Authenticated() bool

	// Token returns the current bearer credential, or "" if none.
	Token() string

	// Logout discards the credential. Invoked by the connection manager on a
	// fatal authentication rejection.
	Logout()
}

// FileStore reads the credential from a token file that a login tool or
// operator maintains. Reads are synchronous so the connection manager always
// dials with the freshest token.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store backed by the given token file.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

// Token reads the current credential from the token file.
func (s *FileStore) Token() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Authenticated reports whether a token is present and not expired.
func (s *FileStore) Authenticated() bool {
	tok := s.Token()
	return tok != "" && !Expired(tok, time.Now())
}

// Logout removes the token file so every process sharing it observes the
// revocation.
func (s *FileStore) Logout() {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Error("failed to remove token file", "path", s.path, "error", err)
		return
	}
	s.logger.Info("session logged out", "path", s.path)
}

// Expired reports whether the token carries an exp claim in the past. Opaque
// (non-JWT) tokens and JWTs without exp are treated as unexpired.
func Expired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(now)
}

// MemStore holds the credential in memory. Used by the chattap CLI and by
// tests that need to observe Logout.
type MemStore struct {
	mu      sync.Mutex
	token   string
	logouts int
}

// NewMemStore creates a store holding the given token.
func NewMemStore(token string) *MemStore {
	return &MemStore{token: token}
}

func (s *MemStore) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *MemStore) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

// SetToken replaces the credential.
func (s *MemStore) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *MemStore) Logout() {
	s.mu.Lock()
	s.token = ""
	s.logouts++
	s.mu.Unlock()
}

// Logouts returns how many times Logout has been called.
func (s *MemStore) Logouts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logouts
}
