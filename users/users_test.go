package users_test

import (
	"testing"

	"github.com/jrsteele09/go-session-server/users"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := users.HashPassword("password123")
	require.NoError(t, err)
	require.NotEqual(t, "password123", hash)

	require.True(t, users.CheckPasswordHash("password123", hash))
	require.False(t, users.CheckPasswordHash("password124", hash))
}

func TestAuthenticatorVerify(t *testing.T) {
	repo := users.NewInMemoryRepo()
	hash, err := users.HashPassword("password123")
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(&users.User{
		Email:        "john.doe@example.com",
		Username:     "johndoe",
		PasswordHash: hash,
	}))

	auth := users.NewAuthenticator(repo)

	user, err := auth.Verify("john.doe@example.com", "password123")
	require.NoError(t, err)
	require.Equal(t, "johndoe", user.Username)
	require.NotEmpty(t, user.ID)

	// Unknown user and wrong password fail identically.
	_, err = auth.Verify("john.doe@example.com", "wrong")
	require.ErrorIs(t, err, users.ErrInvalidCredentials)
	_, err = auth.Verify("nobody@example.com", "password123")
	require.ErrorIs(t, err, users.ErrInvalidCredentials)
}
