package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the structure of the JSON Web Token (JWT) claims accepted by the gateway.
// Tokens are issued elsewhere; the gateway only consumes the verified identity they carry.
type Payload struct {
	// StandardClaims embeds the standard fields such as Exp (Expiration), Iat (Issued At),
	// Iss (Issuer) and Sub (Subject). They are inlined so tokens from common issuers validate.
	jwt.StandardClaims

	// ID is the user identity. When empty, the standard Subject claim is used instead.
	ID string `json:"id,omitempty"`

	// Name and Email are optional display hints; the user directory stays authoritative.
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Identity returns the user identity carried by the token.
func (p *Payload) Identity() string {
	if p.ID != "" {
		return p.ID
	}
	return p.Subject
}
