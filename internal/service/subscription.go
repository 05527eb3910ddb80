package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/DukeRupert/shoplocal/internal/domain"
	"github.com/DukeRupert/shoplocal/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SubscriptionService resolves the subscription level that selects a user's
// catalog row.
type SubscriptionService interface {
	// Level returns the user's canonical level. A user without a profile, or
	// with an empty level, is treated as free. An unrecognized level string
	// returns domain.ECONFIG so callers deny instead of guessing.
	Level(ctx context.Context, userID uuid.UUID) (domain.SubscriptionLevel, error)

	// SetLevel creates or updates the user's profile with a level.
	SetLevel(ctx context.Context, params SetLevelParams) error
}

// SetLevelParams contains the fields for SetLevel.
type SetLevelParams struct {
	UserID uuid.UUID `validate:"required"`
	Email  string    `validate:"required,email,max=254"`
	Level  string    `validate:"required"`
}

// =============================================================================
// Implementation
// =============================================================================

type subscriptionService struct {
	store    store.SubscriptionStore
	validate *validator.Validate
	logger   *slog.Logger
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(subs store.SubscriptionStore, logger *slog.Logger) SubscriptionService {
	return &subscriptionService{
		store:    subs,
		validate: validator.New(),
		logger:   logger,
	}
}

func (s *subscriptionService) Level(ctx context.Context, userID uuid.UUID) (domain.SubscriptionLevel, error) {
	const op = "subscription.level"

	raw, err := s.store.GetSubscriptionLevel(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Debug("no profile for user, using free level", "user_id", userID)
		return domain.SubscriptionLevelFree, nil
	}
	if err != nil {
		return "", domain.Unavailable(err, op, "failed to load subscription level")
	}

	if strings.TrimSpace(raw) == "" {
		return domain.SubscriptionLevelFree, nil
	}

	level, ok := domain.ParseSubscriptionLevel(raw)
	if !ok {
		s.logger.Warn("unrecognized subscription level",
			"user_id", userID,
			"level", raw,
		)
		return "", domain.Errorf(domain.ECONFIG, op, "unrecognized subscription level %q", raw)
	}
	return level, nil
}

func (s *subscriptionService) SetLevel(ctx context.Context, params SetLevelParams) error {
	const op = "subscription.set_level"

	if err := s.validate.Struct(params); err != nil {
		return domain.Invalid(op, "user id, a valid email and a level are required")
	}
	level, ok := domain.ParseSubscriptionLevel(params.Level)
	if !ok {
		return domain.Errorf(domain.EINVALID, op, "unknown subscription level %q", params.Level)
	}

	if err := s.store.SetSubscriptionLevel(ctx, params.UserID, params.Email, string(level)); err != nil {
		return domain.Unavailable(err, op, "failed to save subscription level")
	}

	s.logger.Info("subscription level updated",
		"user_id", params.UserID,
		"level", level,
	)
	return nil
}
