// Package auth issues and verifies the short-lived security tokens that tie a
// payment sheet session to the browser that started it.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTokenInvalid is returned for malformed or tampered tokens.
	ErrTokenInvalid = errors.New("auth: invalid token")
	// ErrTokenExpired is returned when a well-formed token is past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
)

// TokenIssuer mints and checks stateless HMAC tokens of the form
// "<sessionID>.<expiryUnix>.<signature>". The token travels with every form
// post so stolen session identifiers alone cannot drive the checkout flow.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer. The secret must be non-empty and
// ttl positive.
func NewTokenIssuer(secret string, ttl time.Duration, clock func() time.Time) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: token ttl must be positive")
	}
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: clock}, nil
}

// Issue returns a token bound to the session identifier.
func (i *TokenIssuer) Issue(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" || strings.Contains(sessionID, ".") {
		return "", fmt.Errorf("%w: bad session id", ErrTokenInvalid)
	}
	expiry := i.clock().UTC().Add(i.ttl).Unix()
	payload := sessionID + "." + strconv.FormatInt(expiry, 10)
	return payload + "." + i.sign(payload), nil
}

// Verify checks the token signature and expiry and returns the session
// identifier it was issued for.
func (i *TokenIssuer) Verify(token string) (string, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 || parts[0] == "" {
		return "", ErrTokenInvalid
	}
	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(i.sign(payload)), []byte(parts[2])) {
		return "", ErrTokenInvalid
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", ErrTokenInvalid
	}
	if i.clock().UTC().Unix() > expiry {
		return "", ErrTokenExpired
	}
	return parts[0], nil
}

func (i *TokenIssuer) sign(payload string) string {
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
