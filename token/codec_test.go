package token_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-session-server/token"
	"github.com/stretchr/testify/require"
)

const (
	accessSecret  = "access-secret-1234"
	refreshSecret = "refresh-secret-5678"
	testPrincipal = "user-1"
	testUsername  = "johndoe"
	testEmail     = "john.doe@example.com"
)

func newTestCodec(t *testing.T, options ...token.CodecOption) *token.Codec {
	t.Helper()

	accessSigner, err := token.NewHMACSigner(accessSecret)
	require.NoError(t, err)
	refreshSigner, err := token.NewHMACSigner(refreshSecret)
	require.NoError(t, err)

	codec, err := token.New(accessSigner, refreshSigner, options...)
	require.NoError(t, err)
	return codec
}

func TestNewHMACSignerRequiresSecret(t *testing.T) {
	_, err := token.NewHMACSigner("")
	require.Error(t, err)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	raw, err := codec.IssueAccessToken(testPrincipal, testUsername, testEmail)
	require.NoError(t, err)

	claims, err := codec.VerifyAccess(raw)
	require.NoError(t, err)
	require.Equal(t, testPrincipal, claims.Subject)
	require.Equal(t, testUsername, claims.Username)
	require.Equal(t, testEmail, claims.Email)
	require.NotEmpty(t, claims.ID)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	codec := newTestCodec(t)

	raw, err := codec.IssueRefreshToken(testPrincipal, testUsername)
	require.NoError(t, err)

	claims, err := codec.VerifyRefresh(raw)
	require.NoError(t, err)
	require.Equal(t, testPrincipal, claims.Subject)
	require.Equal(t, testUsername, claims.Username)
}

func TestCrossKindVerificationFails(t *testing.T) {
	codec := newTestCodec(t)

	access, err := codec.IssueAccessToken(testPrincipal, testUsername, testEmail)
	require.NoError(t, err)
	refresh, err := codec.IssueRefreshToken(testPrincipal, testUsername)
	require.NoError(t, err)

	// Access and refresh use different secrets, so verification under the
	// other kind must fail as malformed, not succeed.
	_, err = codec.VerifyRefresh(access)
	require.ErrorIs(t, err, token.ErrTokenMalformed)
	_, err = codec.VerifyAccess(refresh)
	require.ErrorIs(t, err, token.ErrTokenMalformed)
}

func TestTamperedTokenIsMalformed(t *testing.T) {
	codec := newTestCodec(t)

	raw, err := codec.IssueRefreshToken(testPrincipal, testUsername)
	require.NoError(t, err)

	tampered := raw[:len(raw)-2] + "xx"
	_, err = codec.VerifyRefresh(tampered)
	require.ErrorIs(t, err, token.ErrTokenMalformed)
}

func TestExpiredTokenClassification(t *testing.T) {
	now := time.Now()
	codec := newTestCodec(t,
		token.WithTokenExpiry(time.Minute, time.Hour),
		token.WithNowFunc(func() time.Time { return now }),
	)

	raw, err := codec.IssueRefreshToken(testPrincipal, testUsername)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = codec.VerifyRefresh(raw)
	require.ErrorIs(t, err, token.ErrTokenExpired)
}

func TestSignatureOnlyVerifyIgnoresExpiry(t *testing.T) {
	now := time.Now()
	codec := newTestCodec(t,
		token.WithTokenExpiry(time.Minute, time.Hour),
		token.WithNowFunc(func() time.Time { return now }),
	)

	raw, err := codec.IssueRefreshToken(testPrincipal, testUsername)
	require.NoError(t, err)

	// Well past expiry the claims must still be recoverable; the rotation
	// engine decides what expiry means, the codec only vouches for the
	// signature.
	now = now.Add(48 * time.Hour)
	claims, err := codec.VerifyRefreshSignature(raw)
	require.NoError(t, err)
	require.Equal(t, testPrincipal, claims.Subject)
	require.Equal(t, testUsername, claims.Username)
	require.True(t, claims.ExpiresAt.Before(now))
}

func TestSignatureOnlyVerifyRejectsTampering(t *testing.T) {
	codec := newTestCodec(t)

	raw, err := codec.IssueRefreshToken(testPrincipal, testUsername)
	require.NoError(t, err)

	tampered := raw[:len(raw)-2] + "xx"
	_, err = codec.VerifyRefreshSignature(tampered)
	require.ErrorIs(t, err, token.ErrTokenMalformed)
}

func TestDefaultExpiries(t *testing.T) {
	codec := newTestCodec(t)
	require.Equal(t, time.Minute, codec.AccessExpiry())
	require.Equal(t, 24*time.Hour, codec.RefreshExpiry())
}
