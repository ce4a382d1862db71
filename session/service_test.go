package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-server/family/repofake"
	interrors "github.com/jrsteele09/go-session-server/internal/errors"
	"github.com/jrsteele09/go-session-server/session"
	"github.com/jrsteele09/go-session-server/token"
	"github.com/jrsteele09/go-session-server/users"
	"github.com/stretchr/testify/require"
)

const (
	accessSecret  = "access-secret-1234"
	refreshSecret = "refresh-secret-5678"
	testUserID    = "user-1"
	testUsername  = "johndoe"
	testUserEmail = "john.doe@example.com"
)

// testFixture holds all test dependencies
type testFixture struct {
	codec    *token.Codec
	families *repofake.FakeFamilyRepo
	service  *session.Service
	now      time.Time
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		families: repofake.NewFakeFamilyRepo(),
		now:      time.Now(),
	}

	accessSigner, err := token.NewHMACSigner(accessSecret)
	require.NoError(t, err)
	refreshSigner, err := token.NewHMACSigner(refreshSecret)
	require.NoError(t, err)

	f.codec, err = token.New(accessSigner, refreshSigner,
		token.WithTokenExpiry(time.Minute, 24*time.Hour),
		token.WithNowFunc(func() time.Time { return f.now }),
	)
	require.NoError(t, err)

	f.service, err = session.NewService(f.codec, f.families,
		session.WithNowTime(func() time.Time { return f.now }),
	)
	require.NoError(t, err)

	return f
}

func (f *testFixture) testUser() *users.User {
	return &users.User{
		ID:       testUserID,
		Username: testUsername,
		Email:    testUserEmail,
	}
}

func (f *testFixture) familyTokens(t *testing.T) []string {
	t.Helper()

	snap, err := f.families.Get(context.Background(), testUserID)
	require.NoError(t, err)
	return snap.Tokens
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	pair, err := f.service.Issue(ctx, f.testUser())
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, time.Minute, pair.AccessExpiresIn)
	require.Equal(t, 24*time.Hour, pair.RefreshExpiresIn)

	claims, err := f.codec.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, testUserID, claims.Subject)
	require.Equal(t, testUsername, claims.Username)
	require.Equal(t, testUserEmail, claims.Email)

	require.Equal(t, []string{pair.RefreshToken}, f.familyTokens(t))
}

func TestIssueRequiresUser(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.Issue(context.Background(), nil)
	require.Error(t, err)
	_, err = f.service.Issue(context.Background(), &users.User{Username: testUsername})
	require.Error(t, err)
}

func TestRefreshRotates(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	issued, err := f.service.Issue(ctx, f.testUser())
	require.NoError(t, err)

	refreshed, err := f.service.Refresh(ctx, issued.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, issued.RefreshToken, refreshed.RefreshToken)
	require.Equal(t, []string{refreshed.RefreshToken}, f.familyTokens(t))
}

func TestRefreshReplayScenario(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	// issue(p) -> {A1, R1}; refresh(R1) -> {A2, R2}; family(p) = {R2};
	// refresh(R1) again -> rejected; family(p) = {}.
	issued, err := f.service.Issue(ctx, f.testUser())
	require.NoError(t, err)

	refreshed, err := f.service.Refresh(ctx, issued.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, []string{refreshed.RefreshToken}, f.familyTokens(t))

	_, err = f.service.Refresh(ctx, issued.RefreshToken)
	require.ErrorIs(t, err, interrors.ErrUnauthorized)
	require.Empty(t, f.familyTokens(t))
}

func TestRefreshErrorsAreOpaque(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	issued, err := f.service.Issue(ctx, f.testUser())
	require.NoError(t, err)

	// Expired, malformed, missing, and replayed tokens all map to the
	// same opaque error.
	f.now = f.now.Add(25 * time.Hour)
	_, err = f.service.Refresh(ctx, issued.RefreshToken)
	require.ErrorIs(t, err, interrors.ErrUnauthorized)

	_, err = f.service.Refresh(ctx, "garbage")
	require.ErrorIs(t, err, interrors.ErrUnauthorized)

	_, err = f.service.Refresh(ctx, "")
	require.ErrorIs(t, err, interrors.ErrUnauthorized)

	_, err = f.service.Refresh(ctx, issued.RefreshToken)
	require.ErrorIs(t, err, interrors.ErrUnauthorized)
}

func TestRefreshExpiredScenario(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	issued, err := f.service.Issue(ctx, f.testUser())
	require.NoError(t, err)

	// Past the refresh ttl the token is rejected but still retired.
	f.now = f.now.Add(25 * time.Hour)
	_, err = f.service.Refresh(ctx, issued.RefreshToken)
	require.ErrorIs(t, err, interrors.ErrUnauthorized)
	require.Empty(t, f.familyTokens(t))
}

func TestRevokeIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	issued, err := f.service.Issue(ctx, f.testUser())
	require.NoError(t, err)

	// revoke(R1): family emptied; revoke(R1) again: still success.
	require.NoError(t, f.service.Revoke(ctx, issued.RefreshToken))
	require.Empty(t, f.familyTokens(t))
	require.NoError(t, f.service.Revoke(ctx, issued.RefreshToken))
	require.Empty(t, f.familyTokens(t))

	// Revoking nothing, or a token no family ever held, is success too.
	require.NoError(t, f.service.Revoke(ctx, ""))
	require.NoError(t, f.service.Revoke(ctx, "never-stored"))
}

func TestRevokeLeavesOtherTokensAlone(t *testing.T) {
	ctx := context.Background()
	f := setupTestFixture(t)

	first, err := f.service.Issue(ctx, f.testUser())
	require.NoError(t, err)
	second, err := f.service.Issue(ctx, f.testUser())
	require.NoError(t, err)

	require.NoError(t, f.service.Revoke(ctx, first.RefreshToken))
	require.Equal(t, []string{second.RefreshToken}, f.familyTokens(t))
}
