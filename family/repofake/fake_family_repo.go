package repofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-session-server/family"
)

var _ family.Repo = (*FakeFamilyRepo)(nil)

type familyRecord struct {
	tokens  map[string]struct{}
	version uint64
}

// FakeFamilyRepo is an in-memory family.Repo. The version counter is
// monotonic per principal and survives Clear, so a stale snapshot can
// never pass the Replace compare-and-swap.
type FakeFamilyRepo struct {
	families map[string]*familyRecord
	owners   map[string]string // token to principal id
	lock     sync.RWMutex
}

func NewFakeFamilyRepo() *FakeFamilyRepo {
	return &FakeFamilyRepo{
		families: make(map[string]*familyRecord),
		owners:   make(map[string]string),
	}
}

func (fr *FakeFamilyRepo) FindByToken(_ context.Context, token string) (*family.Snapshot, error) {
	fr.lock.RLock()
	defer fr.lock.RUnlock()

	principalID, ok := fr.owners[token]
	if !ok {
		return nil, family.ErrFamilyNotFound
	}
	return fr.snapshot(principalID), nil
}

func (fr *FakeFamilyRepo) Get(_ context.Context, principalID string) (*family.Snapshot, error) {
	fr.lock.RLock()
	defer fr.lock.RUnlock()
	return fr.snapshot(principalID), nil
}

func (fr *FakeFamilyRepo) Replace(_ context.Context, snap *family.Snapshot, tokens []string) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()

	rec := fr.families[snap.PrincipalID]
	var current uint64
	if rec != nil {
		current = rec.version
	}
	if current != snap.Version {
		return family.ErrVersionConflict
	}

	if rec == nil {
		rec = &familyRecord{tokens: make(map[string]struct{})}
		fr.families[snap.PrincipalID] = rec
	}
	for t := range rec.tokens {
		delete(fr.owners, t)
	}
	rec.tokens = make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		rec.tokens[t] = struct{}{}
		fr.owners[t] = snap.PrincipalID
	}
	rec.version++
	return nil
}

func (fr *FakeFamilyRepo) Add(_ context.Context, principalID, token string) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()

	rec := fr.families[principalID]
	if rec == nil {
		rec = &familyRecord{tokens: make(map[string]struct{})}
		fr.families[principalID] = rec
	}
	rec.tokens[token] = struct{}{}
	rec.version++
	fr.owners[token] = principalID
	return nil
}

func (fr *FakeFamilyRepo) Remove(_ context.Context, token string) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()

	principalID, ok := fr.owners[token]
	if !ok {
		return nil
	}
	delete(fr.owners, token)

	rec := fr.families[principalID]
	if rec == nil {
		return nil
	}
	delete(rec.tokens, token)
	rec.version++
	return nil
}

func (fr *FakeFamilyRepo) Clear(_ context.Context, principalID string) error {
	fr.lock.Lock()
	defer fr.lock.Unlock()

	rec := fr.families[principalID]
	if rec == nil {
		return nil
	}
	for t := range rec.tokens {
		delete(fr.owners, t)
	}
	rec.tokens = make(map[string]struct{})
	rec.version++
	return nil
}

// snapshot must be called with at least a read lock held.
func (fr *FakeFamilyRepo) snapshot(principalID string) *family.Snapshot {
	snap := &family.Snapshot{PrincipalID: principalID}
	rec := fr.families[principalID]
	if rec == nil {
		return snap
	}
	snap.Version = rec.version
	snap.Tokens = make([]string, 0, len(rec.tokens))
	for t := range rec.tokens {
		snap.Tokens = append(snap.Tokens, t)
	}
	return snap
}
