// Package service contains the business logic layer.
//
// Services orchestrate interactions between repositories, external APIs,
// and domain logic. They are responsible for:
// - Input validation
// - Business rule enforcement
// - Transaction coordination
// - Error translation (database errors -> domain errors)
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/repository"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UserService defines the interface for user-related operations.
type UserService interface {
	// EnsureUser creates the user on first authentication and refreshes
	// email and verification state afterwards.
	EnsureUser(ctx context.Context, identity domain.Identity) (*domain.User, error)

	// Signup creates or completes an account with a display name.
	// Returns domain.EINVALID for validation errors.
	Signup(ctx context.Context, params domain.SignupParams) (*domain.User, error)

	// GetByID retrieves a user by their ID.
	// Returns domain.ENOTFOUND if user does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByStripeCustomerID retrieves a user by their Stripe customer ID.
	GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*domain.User, error)

	// UpdateStripeCustomer links a Stripe customer to the user.
	// Returns domain.ECONFLICT if the customer belongs to another user.
	UpdateStripeCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error

	// GetAccount returns plan, usage and credits without charging anything.
	GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error)
}

// =============================================================================
// Implementation
// =============================================================================

type userService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewUserService creates a new UserService.
func NewUserService(store repository.Store, logger *slog.Logger) UserService {
	return &userService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (s *userService) EnsureUser(ctx context.Context, identity domain.Identity) (*domain.User, error) {
	const op = "UserService.EnsureUser"

	if identity.ID == uuid.Nil {
		return nil, domain.Unauthorized(op, "Missing subject")
	}

	repoUser, err := s.store.UpsertUserIdentity(ctx, repository.UpsertUserIdentityParams{
		ID:            identity.ID,
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to load user")
	}

	return repoUserToDomain(repoUser), nil
}

func (s *userService) Signup(ctx context.Context, params domain.SignupParams) (*domain.User, error) {
	const op = "UserService.Signup"

	if err := params.Validate(); err != nil {
		return nil, err
	}

	repoUser, err := s.store.CreateUser(ctx, repository.CreateUserParams{
		ID:            params.ID,
		Email:         params.Email,
		EmailVerified: params.EmailVerified,
		DisplayName:   domain.ToNullString(params.DisplayName),
	})
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create user")
	}

	s.logger.Info("user signed up", "user_id", repoUser.ID)
	return repoUserToDomain(repoUser), nil
}

func (s *userService) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	const op = "UserService.GetByID"

	repoUser, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user")
	}

	return repoUserToDomain(repoUser), nil
}

func (s *userService) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*domain.User, error) {
	const op = "UserService.GetByStripeCustomerID"

	repoUser, err := s.store.GetUserByStripeCustomerID(ctx, domain.ToNullString(stripeCustomerID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "user", stripeCustomerID)
		}
		return nil, domain.Internal(err, op, "Failed to retrieve user by Stripe customer ID")
	}

	return repoUserToDomain(repoUser), nil
}

func (s *userService) UpdateStripeCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) error {
	const op = "UserService.UpdateStripeCustomer"

	err := s.store.UpdateUserStripeCustomer(ctx, repository.UpdateUserStripeCustomerParams{
		ID:               userID,
		StripeCustomerID: domain.ToNullString(stripeCustomerID),
	})
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return domain.Conflict(op, "Billing customer is linked to another account")
		}
		return domain.Internal(err, op, "Failed to update Stripe customer ID")
	}

	s.logger.Info("stripe customer ID updated", "user_id", userID, "stripe_customer_id", stripeCustomerID)
	return nil
}

func (s *userService) GetAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	const op = "UserService.GetAccount"

	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	credits, err := creditBalance(ctx, s.store, userID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to load credit balance")
	}

	used := user.MonthlyScanCount
	if monthRolledOver(user.MonthlyResetAt, s.now()) {
		used = 0
	}

	limit := user.PlanType.MonthlyLimit()
	planRemaining := max(limit-used, 0)

	return &domain.Account{
		User:           user,
		Credits:        credits,
		MonthlyLimit:   limit,
		PlanRemaining:  planRemaining,
		ScansRemaining: planRemaining + credits,
	}, nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// repoUserToDomain converts a repository.User to domain.User.
func repoUserToDomain(u repository.User) *domain.User {
	return &domain.User{
		ID:               u.ID,
		Email:            u.Email,
		EmailVerified:    u.EmailVerified,
		DisplayName:      domain.NullStringValue(u.DisplayName),
		PlanType:         domain.ParsePlanType(u.PlanType),
		MonthlyScanCount: int(u.MonthlyScanCount),
		MonthlyResetAt:   u.MonthlyResetAt,
		StripeCustomerID: domain.NullStringValue(u.StripeCustomerID),
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// creditBalance treats a missing balance row as zero.
func creditBalance(ctx context.Context, q repository.Querier, userID uuid.UUID) (int, error) {
	balance, err := q.GetCreditBalance(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return int(balance), nil
}

// monthRolledOver reports whether now falls in a later UTC calendar month
// than the last reset.
func monthRolledOver(lastReset, now time.Time) bool {
	ly, lm, _ := lastReset.UTC().Date()
	ny, nm, _ := now.UTC().Date()
	return ny > ly || (ny == ly && nm > lm)
}

// =============================================================================
// Compile-time interface check
// =============================================================================

var _ UserService = (*userService)(nil)
