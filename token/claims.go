package token

import "github.com/golang-jwt/jwt/v5"

// AccessClaims is the payload of an access token. Access tokens are
// stateless: nothing about them is persisted server-side, they prove
// recent authentication until their (short) expiry.
//
// Subject carries the principal ID. Email is only present on tokens
// minted at login; tokens minted during refresh carry the identity
// recoverable from the refresh token (principal ID and username).
type AccessClaims struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token. Refresh tokens are
// single-use: their lifecycle is tracked through credential-family
// membership, not through the claims themselves.
type RefreshClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}
