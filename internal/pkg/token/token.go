package token

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrExpired = errors.New("stored credential has expired")

// Store holds the bearer credential for the active session and persists it so
// an app restart can resume without a fresh login.
type Store struct {
	mu    sync.RWMutex
	path  string
	token string
	now   func() time.Time
}

func NewStore(path string) *Store {
	return &Store{
		path: path,
		now:  time.Now,
	}
}

// Load reads a previously persisted credential from disk. Absence is not an
// error: the session simply starts logged out.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	s.mu.Lock()
	s.token = strings.TrimSpace(string(data))
	s.mu.Unlock()
	return nil
}

// Set stores the credential in memory and persists it to disk.
func (s *Store) Set(token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return os.WriteFile(s.path, []byte(token), 0o600)
}

// Clear discards the credential and removes the persisted copy.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Token implements the REST client's TokenSource. An expired credential is
// reported as an error so callers fail closed instead of issuing requests the
// server will reject.
func (s *Store) Token() (string, error) {
	s.mu.RLock()
	tok := s.token
	s.mu.RUnlock()
	if tok == "" {
		return "", nil
	}
	if s.isExpired(tok) {
		return "", ErrExpired
	}
	return tok, nil
}

// Present reports whether a non-expired credential is held.
func (s *Store) Present() bool {
	tok, err := s.Token()
	return err == nil && tok != ""
}

// isExpired inspects the exp claim without verifying the signature. The
// server remains the authority on validity; this only avoids obviously dead
// tokens. Opaque (non-JWT) tokens are treated as unexpired.
func (s *Store) isExpired(tok string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tok, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.Before(s.now())
}
