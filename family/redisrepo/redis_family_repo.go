// Package redisrepo is the durable family.Repo backed by Redis. Every
// mutation runs as a single Lua script so the read-modify-write of a
// credential family is atomic per principal; Replace additionally
// compare-and-swaps on a per-principal version counter.
//
// Key layout (all under a configurable prefix):
//
//	<prefix>:fam:<principal>  SET of live refresh tokens
//	<prefix>:ver:<principal>  family version counter
//	<prefix>:own:<token>      reverse index: token -> principal
//
// Family keys derive from values read inside the scripts, so a
// single-node Redis deployment is assumed.
package redisrepo

import (
	"context"
	"strconv"
	"time"

	"github.com/jrsteele09/go-session-server/family"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var _ family.Repo = (*FamilyRepo)(nil)

const getFamilyScript = `
local ver = redis.call("GET", KEYS[2]) or "0"
local out = {ver}
local members = redis.call("SMEMBERS", KEYS[1])
for _, t in ipairs(members) do
  out[#out + 1] = t
end
return out
`

const findOwnerScript = `
local owner = redis.call("GET", KEYS[1])
if not owner or owner ~= ARGV[2] then
  return false
end
if redis.call("SISMEMBER", KEYS[2], ARGV[1]) == 0 then
  return false
end
local ver = redis.call("GET", KEYS[3]) or "0"
local out = {ver}
local members = redis.call("SMEMBERS", KEYS[2])
for _, t in ipairs(members) do
  out[#out + 1] = t
end
return out
`

const replaceFamilyScript = `
local ver = tonumber(redis.call("GET", KEYS[2]) or "0")
if ver ~= tonumber(ARGV[1]) then
  return -1
end
local members = redis.call("SMEMBERS", KEYS[1])
for _, t in ipairs(members) do
  redis.call("DEL", ARGV[3] .. t)
end
redis.call("DEL", KEYS[1])
for i = 5, #ARGV do
  redis.call("SADD", KEYS[1], ARGV[i])
  redis.call("SET", ARGV[3] .. ARGV[i], ARGV[2])
  if tonumber(ARGV[4]) > 0 then
    redis.call("EXPIRE", ARGV[3] .. ARGV[i], ARGV[4])
  end
end
redis.call("INCR", KEYS[2])
if tonumber(ARGV[4]) > 0 then
  if #ARGV >= 5 then
    redis.call("EXPIRE", KEYS[1], ARGV[4])
  end
  redis.call("EXPIRE", KEYS[2], tonumber(ARGV[4]) * 2)
end
return ver + 1
`

const addTokenScript = `
redis.call("SADD", KEYS[1], ARGV[1])
redis.call("INCR", KEYS[2])
redis.call("SET", KEYS[3], ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call("EXPIRE", KEYS[1], ARGV[3])
  redis.call("EXPIRE", KEYS[2], tonumber(ARGV[3]) * 2)
  redis.call("EXPIRE", KEYS[3], ARGV[3])
end
return 1
`

const removeTokenScript = `
local owner = redis.call("GET", KEYS[1])
if not owner then
  return 0
end
redis.call("SREM", ARGV[2] .. owner, ARGV[1])
redis.call("INCR", ARGV[3] .. owner)
redis.call("DEL", KEYS[1])
return 1
`

const clearFamilyScript = `
local members = redis.call("SMEMBERS", KEYS[1])
for _, t in ipairs(members) do
  redis.call("DEL", ARGV[1] .. t)
end
redis.call("DEL", KEYS[1])
redis.call("INCR", KEYS[2])
return #members
`

var (
	getFamilyLua     = redis.NewScript(getFamilyScript)
	findOwnerLua     = redis.NewScript(findOwnerScript)
	replaceFamilyLua = redis.NewScript(replaceFamilyScript)
	addTokenLua      = redis.NewScript(addTokenScript)
	removeTokenLua   = redis.NewScript(removeTokenScript)
	clearFamilyLua   = redis.NewScript(clearFamilyScript)
)

type FamilyRepo struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewFamilyRepo creates a Redis-backed family repo. ttl bounds how long
// retired families and reverse-index entries linger; it should be at
// least the refresh token lifetime.
func NewFamilyRepo(client *redis.Client, keyPrefix string, ttl time.Duration) *FamilyRepo {
	if keyPrefix == "" {
		keyPrefix = "session"
	}
	return &FamilyRepo{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

func (r *FamilyRepo) famKey(principalID string) string { return r.keyPrefix + ":fam:" + principalID }
func (r *FamilyRepo) verKey(principalID string) string { return r.keyPrefix + ":ver:" + principalID }
func (r *FamilyRepo) ownKey(token string) string       { return r.keyPrefix + ":own:" + token }
func (r *FamilyRepo) famPrefix() string                { return r.keyPrefix + ":fam:" }
func (r *FamilyRepo) verPrefix() string                { return r.keyPrefix + ":ver:" }
func (r *FamilyRepo) ownPrefix() string                { return r.keyPrefix + ":own:" }

func (r *FamilyRepo) ttlSeconds() int64 {
	if r.ttl <= 0 {
		return 0
	}
	secs := int64(r.ttl / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (r *FamilyRepo) FindByToken(ctx context.Context, token string) (*family.Snapshot, error) {
	principalID, err := r.client.Get(ctx, r.ownKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, family.ErrFamilyNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[FamilyRepo.FindByToken] owner lookup")
	}

	res, err := findOwnerLua.Run(ctx, r.client,
		[]string{r.ownKey(token), r.famKey(principalID), r.verKey(principalID)},
		token, principalID,
	).Result()
	if errors.Is(err, redis.Nil) {
		// Owner entry or set membership vanished between the two reads:
		// the token is no longer live anywhere.
		return nil, family.ErrFamilyNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[FamilyRepo.FindByToken] script")
	}
	return parseSnapshot(principalID, res)
}

func (r *FamilyRepo) Get(ctx context.Context, principalID string) (*family.Snapshot, error) {
	res, err := getFamilyLua.Run(ctx, r.client,
		[]string{r.famKey(principalID), r.verKey(principalID)},
	).Result()
	if err != nil {
		return nil, errors.Wrap(err, "[FamilyRepo.Get] script")
	}
	return parseSnapshot(principalID, res)
}

func (r *FamilyRepo) Replace(ctx context.Context, snap *family.Snapshot, tokens []string) error {
	args := make([]interface{}, 0, 4+len(tokens))
	args = append(args,
		strconv.FormatUint(snap.Version, 10),
		snap.PrincipalID,
		r.ownPrefix(),
		strconv.FormatInt(r.ttlSeconds(), 10),
	)
	for _, t := range tokens {
		args = append(args, t)
	}

	res, err := replaceFamilyLua.Run(ctx, r.client,
		[]string{r.famKey(snap.PrincipalID), r.verKey(snap.PrincipalID)},
		args...,
	).Int64()
	if err != nil {
		return errors.Wrap(err, "[FamilyRepo.Replace] script")
	}
	if res < 0 {
		return family.ErrVersionConflict
	}
	return nil
}

func (r *FamilyRepo) Add(ctx context.Context, principalID, token string) error {
	err := addTokenLua.Run(ctx, r.client,
		[]string{r.famKey(principalID), r.verKey(principalID), r.ownKey(token)},
		token, principalID, strconv.FormatInt(r.ttlSeconds(), 10),
	).Err()
	return errors.Wrap(err, "[FamilyRepo.Add] script")
}

func (r *FamilyRepo) Remove(ctx context.Context, token string) error {
	err := removeTokenLua.Run(ctx, r.client,
		[]string{r.ownKey(token)},
		token, r.famPrefix(), r.verPrefix(),
	).Err()
	return errors.Wrap(err, "[FamilyRepo.Remove] script")
}

func (r *FamilyRepo) Clear(ctx context.Context, principalID string) error {
	err := clearFamilyLua.Run(ctx, r.client,
		[]string{r.famKey(principalID), r.verKey(principalID)},
		r.ownPrefix(),
	).Err()
	return errors.Wrap(err, "[FamilyRepo.Clear] script")
}

func parseSnapshot(principalID string, res interface{}) (*family.Snapshot, error) {
	items, ok := res.([]interface{})
	if !ok || len(items) == 0 {
		return nil, errors.New("unexpected family script reply")
	}
	verStr, ok := items[0].(string)
	if !ok {
		return nil, errors.New("unexpected family version reply")
	}
	version, err := strconv.ParseUint(verStr, 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "parsing family version")
	}

	snap := &family.Snapshot{
		PrincipalID: principalID,
		Version:     version,
		Tokens:      make([]string, 0, len(items)-1),
	}
	for _, item := range items[1:] {
		t, ok := item.(string)
		if !ok {
			return nil, errors.New("unexpected family member reply")
		}
		snap.Tokens = append(snap.Tokens, t)
	}
	return snap, nil
}
