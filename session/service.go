// Package session orchestrates the credential codec, the rotation
// engine, and the family store behind the three operations external
// callers see: issue, refresh, revoke.
package session

import (
	"context"
	"strings"
	"time"

	"github.com/jrsteele09/go-session-server/family"
	"github.com/jrsteele09/go-session-server/instrumentation"
	interrors "github.com/jrsteele09/go-session-server/internal/errors"
	"github.com/jrsteele09/go-session-server/rotation"
	"github.com/jrsteele09/go-session-server/token"
	"github.com/jrsteele09/go-session-server/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TokenPair is an issued access/refresh credential pair plus the expiry
// metadata transport layers need (response body and cookie max-age).
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  time.Duration
	RefreshExpiresIn time.Duration
}

// Service implements session issuance, refresh rotation, and
// revocation. Every rotation rejection surfaces as the opaque
// interrors.ErrUnauthorized: callers must not learn whether a token was
// expired, forged, or replayed. The distinction goes to the log and the
// security metrics instead.
type Service struct {
	codec    *token.Codec
	families family.Repo
	engine   *rotation.Engine
	metrics  *instrumentation.Metrics
	logger   zerolog.Logger
	nowFunc  func() time.Time
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink. A nil sink is a no-op.
func WithMetrics(metrics *instrumentation.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowFunc = now
	}
}

// NewService initializes a new Service with required dependencies.
// Optional configuration can be provided via options (e.g., WithNowTime
// for testing).
func NewService(codec *token.Codec, families family.Repo, options ...ServiceOption) (*Service, error) {
	if codec == nil {
		return nil, errors.New("[NewService] codec is required")
	}
	if families == nil {
		return nil, errors.New("[NewService] family repo is required")
	}

	s := &Service{
		codec:    codec,
		families: families,
		logger:   zerolog.Nop(),
		nowFunc:  time.Now,
	}
	for _, opt := range options {
		opt(s)
	}

	engine, err := rotation.NewEngine(codec, families,
		rotation.WithLogger(s.logger),
		rotation.WithMetrics(s.metrics),
		rotation.WithNowFunc(s.nowFunc),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[NewService] NewEngine")
	}
	s.engine = engine

	return s, nil
}

// Issue mints the first access/refresh pair for an externally
// authenticated principal and records the refresh token in the
// principal's credential family.
func (s *Service) Issue(ctx context.Context, user *users.User) (*TokenPair, error) {
	if user == nil || user.ID == "" {
		return nil, errors.New("[Service.Issue] authenticated user is required")
	}

	access, err := s.codec.IssueAccessToken(user.ID, user.Username, user.Email)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Issue] IssueAccessToken")
	}
	refresh, err := s.codec.IssueRefreshToken(user.ID, user.Username)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Issue] IssueRefreshToken")
	}

	if err := s.families.Add(ctx, user.ID, refresh); err != nil {
		return nil, interrors.Wrapf(interrors.ErrStorageUnavailable, "[Service.Issue] Add: %v", err)
	}

	s.metrics.RecordIssued(ctx)
	s.logger.Debug().Str("principal_id", user.ID).Msg("session issued")

	return s.pair(access, refresh), nil
}

// Refresh exchanges a presented refresh token for a new pair. The old
// token is consumed whether or not the exchange succeeds.
func (s *Service) Refresh(ctx context.Context, presented string) (*TokenPair, error) {
	res := s.engine.Rotate(ctx, presented)
	s.metrics.RecordRotation(ctx, res.Outcome.String())

	switch res.Outcome {
	case rotation.OutcomeAccepted:
		return s.pair(res.AccessToken, res.RefreshToken), nil
	case rotation.OutcomeStorageError:
		s.logger.Error().Err(res.Err).Str("principal_id", res.PrincipalID).Msg("refresh failed on storage")
		return nil, interrors.Wrapf(interrors.ErrStorageUnavailable, "[Service.Refresh] rotate: %v", res.Err)
	default:
		// All rejections look alike to the caller.
		s.logger.Debug().
			Str("outcome", res.Outcome.String()).
			Str("principal_id", res.PrincipalID).
			Msg("refresh rejected")
		return nil, interrors.ErrUnauthorized
	}
}

// Revoke retires a presented refresh token from its family. Revoking an
// absent or unknown token succeeds: logout is idempotent.
func (s *Service) Revoke(ctx context.Context, presented string) error {
	if strings.TrimSpace(presented) == "" {
		return nil
	}
	if err := s.families.Remove(ctx, presented); err != nil {
		return interrors.Wrapf(interrors.ErrStorageUnavailable, "[Service.Revoke] Remove: %v", err)
	}
	s.metrics.RecordRevoked(ctx)
	return nil
}

func (s *Service) pair(access, refresh string) *TokenPair {
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresIn:  s.codec.AccessExpiry(),
		RefreshExpiresIn: s.codec.RefreshExpiry(),
	}
}
