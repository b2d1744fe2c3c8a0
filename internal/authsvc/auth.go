// Package authsvc handles account registration, login, and session
// verification. The teacher repo and original_source both skip real
// accounts (the teacher hands out throwaway generated ids, the original
// uses a bare GM-key shared secret), so this package is new: bcrypt for
// password hashing and signed JWTs for session cookies, both drawn from the
// wider example pack rather than the teacher itself.
package authsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const sessionCookieName = "tabletop_session"
const sessionTTL = 30 * 24 * time.Hour

// User is the durable account record.
type User struct {
	UserID      string
	Username    string
	DisplayName string
}

// SessionService issues and verifies session cookies and owns the
// account table.
type SessionService struct {
	db         *sql.DB
	signingKey []byte
}

// NewSessionService returns a SessionService backed by db and signingKey.
func NewSessionService(db *sql.DB, signingKey string) *SessionService {
	return &SessionService{db: db, signingKey: []byte(signingKey)}
}

// EnsureSchema creates the accounts table if it doesn't already exist.
func (s *SessionService) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			display_name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure accounts schema: %w", err)
	}
	return nil
}

// Register creates a new account, hashing the password with bcrypt.
func (s *SessionService) Register(ctx context.Context, username, displayName, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	userID := generateUserID()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, username, display_name, password_hash)
		VALUES ($1, $2, $3, $4)
	`, userID, username, displayName, string(hash))
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", username, err)
	}
	return &User{UserID: userID, Username: username, DisplayName: displayName}, nil
}

// Login verifies credentials and mints a signed session token.
func (s *SessionService) Login(ctx context.Context, username, password string) (*User, string, error) {
	var u User
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, username, display_name, password_hash FROM accounts WHERE username = $1
	`, username).Scan(&u.UserID, &u.Username, &u.DisplayName, &hash)
	if err == sql.ErrNoRows {
		return nil, "", errors.New("invalid credentials")
	}
	if err != nil {
		return nil, "", fmt.Errorf("login lookup %s: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, "", errors.New("invalid credentials")
	}
	token, err := s.mintToken(u.UserID)
	if err != nil {
		return nil, "", err
	}
	return &u, token, nil
}

// LoginAnonymous mints a session for a guest with no account, using a
// generated display name the way the teacher's client generator does for
// sockets that never log in.
func (s *SessionService) LoginAnonymous(ctx context.Context) (*User, string, error) {
	userID := generateUserID()
	name := GenerateDisplayName()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, username, display_name, password_hash)
		VALUES ($1, $1, $2, '')
	`, userID, name)
	if err != nil {
		return nil, "", fmt.Errorf("create anonymous account: %w", err)
	}
	u := &User{UserID: userID, Username: userID, DisplayName: name}
	token, err := s.mintToken(userID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

type claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

func (s *SessionService) mintToken(userID string) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	})
	return tok.SignedString(s.signingKey)
}

// SetSessionCookie writes the signed session token as an HttpOnly cookie.
func (s *SessionService) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(sessionTTL.Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

// UserFromRequest verifies the session cookie on r and loads the account
// it names.
func (s *SessionService) UserFromRequest(r *http.Request) (*User, error) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil, errors.New("missing session cookie")
	}
	var c claims
	_, err = jwt.ParseWithClaims(cookie.Value, &c, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid session: %w", err)
	}

	var u User
	err = s.db.QueryRowContext(r.Context(), `
		SELECT user_id, username, display_name FROM accounts WHERE user_id = $1
	`, c.UserID).Scan(&u.UserID, &u.Username, &u.DisplayName)
	if err != nil {
		return nil, fmt.Errorf("load session user %s: %w", c.UserID, err)
	}
	return &u, nil
}
