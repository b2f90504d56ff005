package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jukebox/auth-backend/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const tracerName = "github.com/jukebox/auth-backend/internal/service"

// SweepResult summarises one refresh pass.
type SweepResult struct {
	Candidates int
	Refreshed  int
	Failed     int
	Skipped    int
}

// RefreshScheduler renews provider tokens that are about to expire, independent of request
// traffic.
type RefreshScheduler struct {
	store    UserStore
	provider ProviderClient
	interval time.Duration
	window   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewRefreshScheduler(store UserStore, provider ProviderClient, cfg config.RefreshConfig, logger *zap.Logger) *RefreshScheduler {
	if logger == nil {
		logger = zap.L()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	window := cfg.Window
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &RefreshScheduler{
		store:    store,
		provider: provider,
		interval: interval,
		window:   window,
		logger:   logger.Named("refresh"),
		now:      time.Now,
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *RefreshScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("token refresh scheduler started",
		zap.Duration("interval", s.interval),
		zap.Duration("window", s.window),
	)
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("token refresh sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("token refresh scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep refreshes every user whose token expires within the window. A failure for one user
// is logged and the sweep moves on; only a failed candidate query is returned as an error.
func (s *RefreshScheduler) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "RefreshScheduler.Sweep")
	defer span.End()

	var result SweepResult
	users, err := s.store.FindExpiringWithin(ctx, s.now(), s.window)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "find expiring users")
		return result, fmt.Errorf("find expiring users: %w", err)
	}
	result.Candidates = len(users)

	for i := range users {
		if ctx.Err() != nil {
			break
		}
		user := &users[i]
		if !user.HasRefreshToken() {
			result.Skipped++
			continue
		}

		next, err := s.provider.Refresh(ctx, user.Token.RefreshToken)
		if err != nil {
			result.Failed++
			s.logger.Warn("token refresh failed",
				zap.String("provider_user_id", user.ProviderUserID),
				zap.Error(err),
			)
			continue
		}

		user.AttachToken(*next)
		if _, err := s.store.Save(ctx, user); err != nil {
			result.Failed++
			s.logger.Warn("token refresh save failed",
				zap.String("provider_user_id", user.ProviderUserID),
				zap.Error(err),
			)
			continue
		}
		result.Refreshed++
	}

	span.SetAttributes(
		attribute.Int("sweep.candidates", result.Candidates),
		attribute.Int("sweep.refreshed", result.Refreshed),
		attribute.Int("sweep.failed", result.Failed),
	)
	if result.Candidates > 0 {
		s.logger.Info("token refresh sweep done",
			zap.Int("candidates", result.Candidates),
			zap.Int("refreshed", result.Refreshed),
			zap.Int("failed", result.Failed),
			zap.Int("skipped", result.Skipped),
		)
	}
	return result, nil
}
