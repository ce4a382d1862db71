package redisrepo_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-session-server/family"
	"github.com/jrsteele09/go-session-server/family/redisrepo"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *redisrepo.FamilyRepo {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redisrepo.NewFamilyRepo(client, "sessiontest", time.Hour)
}

func TestRedisAddAndFindByToken(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Add(ctx, "user-1", "token-a"))
	require.NoError(t, repo.Add(ctx, "user-1", "token-b"))

	snap, err := repo.FindByToken(ctx, "token-a")
	require.NoError(t, err)
	require.Equal(t, "user-1", snap.PrincipalID)
	require.ElementsMatch(t, []string{"token-a", "token-b"}, snap.Tokens)

	_, err = repo.FindByToken(ctx, "token-unknown")
	require.ErrorIs(t, err, family.ErrFamilyNotFound)
}

func TestRedisGetUnknownPrincipalIsEmpty(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	snap, err := repo.Get(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, snap.Tokens)
	require.Zero(t, snap.Version)
}

func TestRedisReplaceSwapsFamilyAndIndex(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Add(ctx, "user-1", "token-a"))

	snap, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, repo.Replace(ctx, snap, []string{"token-b"}))

	_, err = repo.FindByToken(ctx, "token-a")
	require.ErrorIs(t, err, family.ErrFamilyNotFound)

	found, err := repo.FindByToken(ctx, "token-b")
	require.NoError(t, err)
	require.Equal(t, []string{"token-b"}, found.Tokens)
	require.Equal(t, snap.Version+1, found.Version)
}

func TestRedisReplaceDetectsConflict(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Add(ctx, "user-1", "token-a"))

	stale, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)

	// Another writer bumps the version behind the snapshot's back.
	require.NoError(t, repo.Add(ctx, "user-1", "token-b"))

	err = repo.Replace(ctx, stale, []string{"token-c"})
	require.ErrorIs(t, err, family.ErrVersionConflict)

	// The family is untouched by the failed swap.
	snap, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"token-a", "token-b"}, snap.Tokens)
}

func TestRedisReplaceToEmptyFamily(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Add(ctx, "user-1", "token-a"))

	snap, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, repo.Replace(ctx, snap, nil))

	after, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, after.Tokens)

	_, err = repo.FindByToken(ctx, "token-a")
	require.ErrorIs(t, err, family.ErrFamilyNotFound)
}

func TestRedisRemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Add(ctx, "user-1", "token-a"))
	require.NoError(t, repo.Remove(ctx, "token-a"))
	require.NoError(t, repo.Remove(ctx, "token-a"))
	require.NoError(t, repo.Remove(ctx, "never-stored"))

	snap, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, snap.Tokens)
}

func TestRedisClearEmptiesFamily(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Add(ctx, "user-1", "token-a"))
	require.NoError(t, repo.Add(ctx, "user-1", "token-b"))

	require.NoError(t, repo.Clear(ctx, "user-1"))
	require.NoError(t, repo.Clear(ctx, "user-1"))

	snap, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, snap.Tokens)

	_, err = repo.FindByToken(ctx, "token-b")
	require.ErrorIs(t, err, family.ErrFamilyNotFound)
}

func TestRedisVersionSurvivesClear(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Add(ctx, "user-1", "token-a"))
	stale, err := repo.Get(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, repo.Clear(ctx, "user-1"))

	err = repo.Replace(ctx, stale, []string{"token-a"})
	require.ErrorIs(t, err, family.ErrVersionConflict)
}

func TestRedisCrossPrincipalIsolation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.Add(ctx, "user-1", "token-a"))
	require.NoError(t, repo.Add(ctx, "user-2", "token-b"))

	require.NoError(t, repo.Clear(ctx, "user-1"))

	snap, err := repo.Get(ctx, "user-2")
	require.NoError(t, err)
	require.Equal(t, []string{"token-b"}, snap.Tokens)
}
