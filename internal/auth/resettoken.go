// Package auth provides password hashing, server-side sessions, signed
// password-reset links, and the optional GitHub OAuth provider.
//
// PASSWORD RESET LINK OVERVIEW:
//  1. User submits their email on /get-email.
//  2. The service raises the user's single-use reset flag in the DB and emails
//     /change-password/{id}?token=<jwt>.
//  3. On submit, the JWT must be valid for that id AND the DB flag must still be
//     raised. The DB flag is cleared in the same UPDATE that sets the password.
//
// WHY BOTH A JWT AND A DB FLAG?
// The DB flag makes the link single-use (a JWT alone cannot be "used up").
// The JWT makes the link unguessable and time-limited (the user id alone is
// not a secret).
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Payload: {"sub":"<userID>","purpose":"password-reset","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	resetIssuer  = "todo-accounts"
	resetPurpose = "password-reset"

	// DefaultResetTTL is how long an emailed reset link stays valid.
	DefaultResetTTL = 30 * time.Minute
)

// ErrInvalidResetToken covers every way a reset link token can be bad:
// tampered, expired, wrong purpose, or issued for another user.
var ErrInvalidResetToken = errors.New("auth: invalid reset token")

// ResetTokenService signs and verifies password-reset link tokens.
type ResetTokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewResetTokenService creates a ResetTokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
func NewResetTokenService(secret string, ttl time.Duration) (*ResetTokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: reset secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultResetTTL
	}
	return &ResetTokenService{secret: []byte(secret), ttl: ttl}, nil
}

// resetClaims is the JWT payload. Purpose stops a token minted for some other
// use of the same secret from being replayed as a reset link.
type resetClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Issue creates a signed reset token for userID.
func (s *ResetTokenService) Issue(userID string) (string, error) {
	return s.issueWithDuration(userID, s.ttl)
}

// issueWithDuration is Issue with an explicit lifetime. Tests use it to mint
// already-expired tokens.
func (s *ResetTokenService) issueWithDuration(userID string, d time.Duration) (string, error) {
	now := time.Now()

	c := resetClaims{
		Purpose: resetPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    resetIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing reset token: %w", err)
	}
	return signed, nil
}

// Verify checks that tokenStr is a live reset token issued for userID.
//
// ALGORITHM CONFUSION ATTACK:
// Without checking the algorithm, an attacker could send a token signed with
// "none" and the library might accept it. jwt.WithValidMethods prevents this.
func (s *ResetTokenService) Verify(tokenStr, userID string) error {
	if tokenStr == "" {
		return ErrInvalidResetToken
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&resetClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(resetIssuer),
		jwt.WithSubject(userID),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResetToken, err)
	}

	c, ok := token.Claims.(*resetClaims)
	if !ok || !token.Valid || c.Purpose != resetPurpose {
		return ErrInvalidResetToken
	}
	return nil
}
