// Package rotation implements the refresh-token rotation state machine:
// exchanging a presented refresh token for a new access/refresh pair,
// retiring the old token atomically, and revoking a principal's whole
// credential family when a retired token is replayed.
package rotation

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/go-session-server/family"
	"github.com/jrsteele09/go-session-server/instrumentation"
	"github.com/jrsteele09/go-session-server/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// maxAttempts bounds how often a rotation re-reads the family after
// losing a compare-and-swap race before giving up as a storage error.
const maxAttempts = 3

// Engine decides acceptance, reuse detection, or rejection for a
// presented refresh token and computes the principal's next credential
// family. It holds no mutable state; per-principal serialization comes
// from the family repo's compare-and-swap.
type Engine struct {
	codec    *token.Codec
	families family.Repo
	metrics  *instrumentation.Metrics
	logger   zerolog.Logger
	nowFunc  func() time.Time
}

// EngineOption defines a function type to modify the Engine instance.
type EngineOption func(*Engine)

// WithLogger sets the logger used for security events.
func WithLogger(logger zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics sink. A nil sink is a no-op.
func WithMetrics(metrics *instrumentation.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithNowFunc sets the now time function (primarily for testing)
func WithNowFunc(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.nowFunc = now
	}
}

// NewEngine initializes an Engine with required dependencies.
func NewEngine(codec *token.Codec, families family.Repo, options ...EngineOption) (*Engine, error) {
	if codec == nil {
		return nil, errors.New("[NewEngine] codec is required")
	}
	if families == nil {
		return nil, errors.New("[NewEngine] family repo is required")
	}

	e := &Engine{
		codec:    codec,
		families: families,
		logger:   zerolog.Nop(),
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(e)
	}
	return e, nil
}

// Rotate runs the rotation state machine for a presented refresh token:
//
//  1. No token: Unauthenticated.
//  2. Signature verification only (expiry deliberately ignored so the
//     claims of expired tokens stay recoverable): Malformed on failure.
//  3. No family owns the token: reuse of a retired or forged token.
//     The claimed principal's whole family is revoked and the attempt
//     terminates ReuseDetected with no tokens issued.
//  4. A family owns it: the token is retired from the family before
//     expiry is even checked, so a presented token is consumed exactly
//     once regardless of outcome. Then Expired, Unauthenticated (claims
//     mismatch), or Accepted with a freshly minted pair.
//
// Every family write is a single compare-and-swap; losing the race
// re-runs the classification against the updated family.
func (e *Engine) Rotate(ctx context.Context, presented string) Result {
	if strings.TrimSpace(presented) == "" {
		return Result{Outcome: OutcomeUnauthenticated}
	}

	claims, err := e.codec.VerifyRefreshSignature(presented)
	if err != nil {
		return Result{Outcome: OutcomeMalformed, Err: err}
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		snap, err := e.families.FindByToken(ctx, presented)
		if errors.Is(err, family.ErrFamilyNotFound) {
			return e.reuseDetected(ctx, claims)
		}
		if err != nil {
			return e.storageError(errors.Wrap(err, "[Engine.Rotate] FindByToken"), claims)
		}

		// Retire the presented token first. Whatever happens next, it must
		// never be accepted again.
		retained := snap.Without(presented)

		if e.nowFunc().After(claims.ExpiresAt.Time) {
			if err := e.families.Replace(ctx, snap, retained); err != nil {
				if e.retryConflict(ctx, err) {
					continue
				}
				return e.storageError(errors.Wrap(err, "[Engine.Rotate] retiring expired token"), claims)
			}
			return Result{
				Outcome:     OutcomeExpired,
				PrincipalID: snap.PrincipalID,
				Username:    claims.Username,
				Err:         token.ErrTokenExpired,
			}
		}

		if claims.Subject != snap.PrincipalID {
			if err := e.families.Replace(ctx, snap, retained); err != nil {
				if e.retryConflict(ctx, err) {
					continue
				}
				return e.storageError(errors.Wrap(err, "[Engine.Rotate] retiring mismatched token"), claims)
			}
			e.logger.Warn().
				Str("principal_id", snap.PrincipalID).
				Str("claimed_principal_id", claims.Subject).
				Msg("refresh token claims do not match owning family")
			return Result{Outcome: OutcomeUnauthenticated, PrincipalID: snap.PrincipalID}
		}

		access, err := e.codec.IssueAccessToken(snap.PrincipalID, claims.Username, "")
		if err != nil {
			return e.storageError(errors.Wrap(err, "[Engine.Rotate] IssueAccessToken"), claims)
		}
		refresh, err := e.codec.IssueRefreshToken(snap.PrincipalID, claims.Username)
		if err != nil {
			return e.storageError(errors.Wrap(err, "[Engine.Rotate] IssueRefreshToken"), claims)
		}

		next := append(retained, refresh)
		if err := e.families.Replace(ctx, snap, next); err != nil {
			if e.retryConflict(ctx, err) {
				continue
			}
			return e.storageError(errors.Wrap(err, "[Engine.Rotate] persisting rotated family"), claims)
		}

		return Result{
			Outcome:      OutcomeAccepted,
			PrincipalID:  snap.PrincipalID,
			Username:     claims.Username,
			AccessToken:  access,
			RefreshToken: refresh,
		}
	}

	return e.storageError(errors.New("[Engine.Rotate] rotation contention not resolved"), claims)
}

// reuseDetected handles presentation of a validly signed token that no
// family owns. The system cannot distinguish a replayed stolen token
// from a token retired by a concurrent legitimate rotation, so it
// treats the event as presumptive compromise and revokes the claimed
// principal's entire family. Strict single-use, no grace window.
func (e *Engine) reuseDetected(ctx context.Context, claims *token.RefreshClaims) Result {
	if err := e.families.Clear(ctx, claims.Subject); err != nil {
		return e.storageError(errors.Wrap(err, "[Engine.reuseDetected] Clear"), claims)
	}
	e.metrics.RecordReuseDetected(ctx)
	e.logger.Warn().
		Str("principal_id", claims.Subject).
		Str("username", claims.Username).
		Msg("refresh token reuse detected, credential family revoked")
	return Result{
		Outcome:     OutcomeReuseDetected,
		PrincipalID: claims.Subject,
		Username:    claims.Username,
	}
}

func (e *Engine) retryConflict(ctx context.Context, err error) bool {
	if !errors.Is(err, family.ErrVersionConflict) {
		return false
	}
	e.metrics.RecordStorageRetry(ctx)
	return true
}

func (e *Engine) storageError(err error, claims *token.RefreshClaims) Result {
	return Result{
		Outcome:     OutcomeStorageError,
		PrincipalID: claims.Subject,
		Username:    claims.Username,
		Err:         err,
	}
}
