package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrTokenExpired marks a token that verified cryptographically but is
	// past its expiry. A legitimate prior credential, rejected.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenMalformed marks a token that failed signature or format
	// verification. Untrusted input.
	ErrTokenMalformed = errors.New("token malformed")
)

// Codec encodes and decodes signed, time-bounded access and refresh
// tokens. It is a pure function of its inputs and the signing secrets
// configured at construction; it performs no I/O and is safe for
// concurrent use.
type Codec struct {
	accessSigner  Signer
	refreshSigner Signer
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	issuer        string
	nowFunc       func() time.Time
}

// CodecOption defines a function type to modify the Codec instance.
type CodecOption func(*Codec)

// WithTokenExpiry sets the access and refresh token lifetimes.
func WithTokenExpiry(accessExpiry, refreshExpiry time.Duration) CodecOption {
	return func(c *Codec) {
		c.accessExpiry = accessExpiry
		c.refreshExpiry = refreshExpiry
	}
}

// WithIssuer sets the iss claim on minted tokens.
func WithIssuer(issuer string) CodecOption {
	return func(c *Codec) {
		c.issuer = issuer
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.nowFunc = now
	}
}

// New creates a Codec. Access and refresh tokens are signed with
// separate signers, so a token minted as one kind can never verify as
// the other.
func New(accessSigner, refreshSigner Signer, options ...CodecOption) (*Codec, error) {
	if accessSigner == nil {
		return nil, errors.New("[token.New] access signer is required")
	}
	if refreshSigner == nil {
		return nil, errors.New("[token.New] refresh signer is required")
	}

	c := &Codec{
		accessSigner:  accessSigner,
		refreshSigner: refreshSigner,
		nowFunc:       time.Now,
	}

	for _, opt := range options {
		opt(c)
	}

	if c.accessExpiry == 0 {
		c.accessExpiry = time.Minute
	}
	if c.refreshExpiry == 0 {
		c.refreshExpiry = 24 * time.Hour
	}
	return c, nil
}

// AccessExpiry returns the configured access token lifetime.
func (c *Codec) AccessExpiry() time.Duration { return c.accessExpiry }

// RefreshExpiry returns the configured refresh token lifetime.
func (c *Codec) RefreshExpiry() time.Duration { return c.refreshExpiry }

// IssueAccessToken mints a signed access token for the principal.
func (c *Codec) IssueAccessToken(principalID, username, email string) (string, error) {
	now := c.nowFunc()
	claims := AccessClaims{
		Username: username,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessExpiry)),
			ID:        uuid.New().String(),
		},
	}
	signed, err := c.accessSigner.Sign(claims)
	if err != nil {
		return "", errors.Wrap(err, "[Codec.IssueAccessToken] Sign")
	}
	return signed, nil
}

// IssueRefreshToken mints a signed refresh token for the principal. The
// caller is responsible for adding it to the principal's credential
// family; the codec itself persists nothing.
func (c *Codec) IssueRefreshToken(principalID, username string) (string, error) {
	now := c.nowFunc()
	claims := RefreshClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshExpiry)),
			ID:        uuid.New().String(),
		},
	}
	signed, err := c.refreshSigner.Sign(claims)
	if err != nil {
		return "", errors.Wrap(err, "[Codec.IssueRefreshToken] Sign")
	}
	return signed, nil
}

// VerifyAccess fully verifies an access token (signature and expiry).
func (c *Codec) VerifyAccess(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(raw, c.accessSigner, claims, true); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh fully verifies a refresh token (signature and expiry).
func (c *Codec) VerifyRefresh(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.verify(raw, c.refreshSigner, claims, true); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefreshSignature checks only the signature of a refresh token
// and returns its claims without validating expiry. The rotation engine
// needs the claimed principal of expired and retired tokens; whether the
// token is still acceptable is decided against the stored family, not
// here.
func (c *Codec) VerifyRefreshSignature(raw string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.verify(raw, c.refreshSigner, claims, false); err != nil {
		return nil, err
	}
	if claims.ExpiresAt == nil || claims.Subject == "" {
		return nil, errors.Wrap(ErrTokenMalformed, "[Codec.VerifyRefreshSignature] missing required claims")
	}
	return claims, nil
}

func (c *Codec) verify(raw string, signer Signer, claims jwt.Claims, validateTime bool) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{signer.GetSigningMethod().Alg()}),
		jwt.WithTimeFunc(c.nowFunc),
	}
	if validateTime {
		options = append(options, jwt.WithExpirationRequired())
	} else {
		options = append(options, jwt.WithoutClaimsValidation())
	}
	if c.issuer != "" && validateTime {
		options = append(options, jwt.WithIssuer(c.issuer))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(raw, claims, signer.GetVerificationKey)
	switch {
	case err == nil && parsed.Valid:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.Wrap(ErrTokenExpired, err.Error())
	case err != nil:
		return errors.Wrap(ErrTokenMalformed, err.Error())
	default:
		return ErrTokenMalformed
	}
}
