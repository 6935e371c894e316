// Package handler contains the HTTP handlers of the scan API.
//
// This file implements account creation and the account snapshot.
//
// Routes handled:
//   - POST /signup -> Signup (bearer identity, rate limited)
//   - GET  /me     -> Me     (bearer auth)
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DukeRupert/aiscan/internal/auth"
	"github.com/DukeRupert/aiscan/internal/domain"
	"github.com/DukeRupert/aiscan/internal/service"
)

// maxJSONBody caps small JSON request bodies.
const maxJSONBody = 64 << 10

// AccountHandler handles signup and account lookups.
type AccountHandler struct {
	users  service.UserService
	logger *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(users service.UserService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		users:  users,
		logger: logger,
	}
}

// RegisterRoutes registers account routes. Signup only needs a verified
// token; /me needs the user row.
func (h *AccountHandler) RegisterRoutes(mux *http.ServeMux, signup, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /signup", signup(http.HandlerFunc(h.Signup)))
	mux.Handle("GET /me", requireUser(http.HandlerFunc(h.Me)))
}

// SignupRequest carries the profile fields.
type SignupRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	DisplayName   string `json:"displayName,omitempty"`
	PlanType      string `json:"planType"`
}

// AccountResponse is the entitlement snapshot returned by GET /me.
type AccountResponse struct {
	User           UserResponse `json:"user"`
	PlanName       string       `json:"planName"`
	MonthlyLimit   int          `json:"monthlyLimit"`
	PlanRemaining  int          `json:"planRemaining"`
	Credits        int          `json:"credits"`
	ScansRemaining int          `json:"scansRemaining"`
	MonthlyResetAt time.Time    `json:"monthlyResetAt"`
	BillingLinked  bool         `json:"billingLinked"`
}

// Signup creates the user for the bearer identity, or completes its profile.
func (h *AccountHandler) Signup(w http.ResponseWriter, r *http.Request) {
	const op = "handler.Signup"

	identity := auth.GetIdentity(r.Context())
	if identity == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	var req SignupRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Request body must be valid JSON"))
		return
	}

	// The token is authoritative for the address it carries
	email := strings.TrimSpace(req.Email)
	if identity.Email != "" {
		if email != "" && !strings.EqualFold(email, identity.Email) {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "Email does not match the authenticated account"))
			return
		}
		email = identity.Email
	}

	user, err := h.users.Signup(r.Context(), domain.SignupParams{
		ID:            identity.ID,
		Email:         email,
		EmailVerified: identity.EmailVerified,
		DisplayName:   req.DisplayName,
	})
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// Me returns plan, usage and credit state without charging anything.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())
	if user == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	account, err := h.users.GetAccount(r.Context(), user.ID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountResponse{
		User:           toUserResponse(account.User),
		PlanName:       account.User.PlanType.DisplayName(),
		MonthlyLimit:   account.MonthlyLimit,
		PlanRemaining:  account.PlanRemaining,
		Credits:        account.Credits,
		ScansRemaining: account.ScansRemaining,
		MonthlyResetAt: account.User.MonthlyResetAt,
		BillingLinked:  account.User.HasBillingCustomer(),
	})
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		DisplayName:   u.DisplayName,
		PlanType:      string(u.PlanType),
	}
}
