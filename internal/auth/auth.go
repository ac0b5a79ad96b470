// Package auth validates the access tokens clients present when opening a
// call session or changing voice settings. Tokens are HS256 JWTs issued by
// the backend; the gateway only verifies them and extracts the user identity.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed indicates the credential is not a parseable JWT
	ErrMalformed = errors.New("auth: malformed token")

	// ErrExpired indicates the token was valid but has expired
	ErrExpired = errors.New("auth: token expired")

	// ErrInvalid indicates the token failed signature or claim validation
	ErrInvalid = errors.New("auth: invalid token")
)

// Validator verifies access tokens and resolves them to a user id
type Validator struct {
	secret []byte
}

// NewValidator creates a validator for tokens signed with the given secret
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Validate checks the credential and returns the user id it carries.
// Accepts both a bare token and an "Authorization: Bearer <token>" value.
func (v *Validator) Validate(credential string) (string, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return "", ErrMalformed
	}
	credential = strings.TrimPrefix(credential, "Bearer ")

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", fmt.Errorf("%w: %v", ErrExpired, err)
		default:
			return "", fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalid
	}

	userID := claimString(claims, "user_id")
	if userID == "" {
		// Backend tokens carry the user in the subject claim
		userID = claimString(claims, "sub")
	}
	if userID == "" {
		return "", fmt.Errorf("%w: no user identity claim", ErrInvalid)
	}

	return userID, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
