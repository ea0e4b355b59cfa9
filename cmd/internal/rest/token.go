package rest

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"lancer/cmd/internal/chat"
)

// ErrNoToken is returned when no bearer token is available.
var ErrNoToken = fmt.Errorf("no bearer token: %w", chat.ErrUnauthorized)

// ErrTokenExpired is returned when the persisted token's exp claim has
// passed. Surfaced before any network call so a stale token never shows
// up as a transport error.
var ErrTokenExpired = fmt.Errorf("bearer token expired: %w", chat.ErrUnauthorized)

// TokenSource yields the bearer token attached to every request.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a fixed token, mostly for tests.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// FileTokenSource reads the token from local persistent storage on every
// request, the only client-side state the app keeps. The file is re-read
// each time so an external re-login takes effect without a restart.
type FileTokenSource struct {
	Path string

	// now is swappable for tests.
	now func() time.Time
}

// NewFileTokenSource constructs a token source over the given path.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{Path: path, now: time.Now}
}

// Token reads, trims and expiry-checks the persisted token.
func (s *FileTokenSource) Token() (string, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file: %w", err)
	}

	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", ErrNoToken
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	if err := checkExpiry(tok, now()); err != nil {
		return "", err
	}
	return tok, nil
}

// checkExpiry parses the token without verifying the signature (the
// client has no key material) and rejects it when exp has passed. Opaque
// non-JWT tokens pass through untouched.
func checkExpiry(token string, now time.Time) error {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		// Not a JWT; let the backend be the judge.
		return nil
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if now.After(exp.Time) {
		return ErrTokenExpired
	}
	return nil
}

// SubjectID extracts the sub claim from a JWT, used as the client's own
// user id. Empty for opaque tokens.
func SubjectID(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}
