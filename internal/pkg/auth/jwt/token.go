package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// UserIdentityExpiration defines the duration for general user identity tokens (long-term).
	UserIdentityExpiration = 24 * time.Hour

	// TokenIssuer identifies the issuer of tokens minted by GenerateToken.
	TokenIssuer = "duochat"
)

var (
	// ErrMissingCredential is returned when a request carries no bearer credential.
	ErrMissingCredential = errors.New("missing credential")

	// ErrMissingIdentity is returned when a valid token names no user.
	ErrMissingIdentity = errors.New("token carries no identity")
)

// GenerateToken creates and signs a new JWT Token string based on the provided Payload struct.
// The gateway never issues tokens itself; this is used by tooling and tests.
func GenerateToken(payload *Payload, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload.StandardClaims.ExpiresAt = now.Add(duration).Unix()
	payload.StandardClaims.IssuedAt = now.Unix()
	if payload.StandardClaims.Issuer == "" {
		payload.StandardClaims.Issuer = TokenIssuer
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseToken parses and validates the JWT Token string using the provided secretKey.
func ParseToken(tokenString string, secretKey string) (*Payload, error) {
	claims := &Payload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired token")
	}

	return claims, nil
}

// Verifier turns an opaque bearer credential into a verified identity.
type Verifier struct {
	secretKey string
}

// NewVerifier returns a Verifier for HS256 tokens signed with secretKey.
func NewVerifier(secretKey string) *Verifier {
	return &Verifier{secretKey: secretKey}
}

// Verify validates credential and returns the identity it carries.
func (v *Verifier) Verify(credential string) (*Payload, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}

	payload, err := ParseToken(credential, v.secretKey)
	if err != nil {
		return nil, err
	}

	if payload.Identity() == "" {
		return nil, ErrMissingIdentity
	}

	return payload, nil
}
