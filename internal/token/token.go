// Package token issues and consumes single-use job tokens. A token binds a
// websocket execute frame to a job created over HTTP; consuming it burns its
// ID so a replayed token is refused for as long as it could still verify.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/codrhq/codr/internal/jobstore"
)

var (
	ErrInvalid = errors.New("invalid job token")
	ErrUsed    = errors.New("job token already used")
)

// Manager signs and verifies job tokens with an HMAC secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a token manager. ttl bounds how long an issued token
// stays valid.
func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Issue signs a token for the given job. The token carries a unique ID so
// it can be burned on first use.
func (m *Manager) Issue(jobID string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)

	claims := jwt.MapClaims{
		"sub": jobID,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Consume verifies the token and burns its ID in the store. It returns the
// job ID the token was issued for. A second Consume of the same token fails
// with ErrUsed.
func (m *Manager) Consume(ctx context.Context, store jobstore.Store, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalid
	}
	jobID, _ := claims["sub"].(string)
	jti, _ := claims["jti"].(string)
	expUnix, _ := claims["exp"].(float64)
	if jobID == "" || jti == "" || expUnix == 0 {
		return "", ErrInvalid
	}

	// Burned IDs are stored hashed; the raw jti never hits disk.
	expiresAt := time.Unix(int64(expUnix), 0).UTC()
	if err := store.ConsumeTokenID(ctx, hashTokenID(jti), expiresAt); err != nil {
		if errors.Is(err, jobstore.ErrTokenUsed) {
			return "", ErrUsed
		}
		return "", fmt.Errorf("consume token: %w", err)
	}
	return jobID, nil
}

func hashTokenID(id string) string {
	sum := sha3.Sum256([]byte(id))
	return fmt.Sprintf("%x", sum)
}
