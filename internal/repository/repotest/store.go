// Package repotest provides an in-memory repository.Store for service and
// handler tests.
package repotest

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/aiscan/internal/repository"
	"github.com/google/uuid"
)

// Store is an in-memory repository.Store. Transactions are serialized and
// roll back by restoring a snapshot.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex

	Users         map[uuid.UUID]repository.User
	Credits       map[uuid.UUID]int32
	Scans         []repository.Scan
	Windows       []repository.RateLimitWindow
	BillingEvents map[string]repository.BillingEvent

	// Errors forces the named method to fail, e.g. Errors["GetUser"].
	Errors map[string]error

	// Now stamps created rows. Defaults to time.Now.
	Now func() time.Time

	nextWindowID int64
}

// errForeignKey mirrors the credit_balances -> users constraint.
var errForeignKey = errors.New(`insert or update on table "credit_balances" violates foreign key constraint "credit_balances_user_id_fkey"`)

func New() *Store {
	return &Store{
		Users:         make(map[uuid.UUID]repository.User),
		Credits:       make(map[uuid.UUID]int32),
		BillingEvents: make(map[string]repository.BillingEvent),
		Errors:        make(map[string]error),
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Store) fail(method string) error {
	return s.Errors[method]
}

// PutUser inserts or replaces a user row directly.
func (s *Store) PutUser(u repository.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Users[u.ID] = u
}

// User returns a copy of the stored row.
func (s *Store) User(id uuid.UUID) (repository.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	return u, ok
}

// CreditBalance returns the stored balance, zero when absent.
func (s *Store) CreditBalance(id uuid.UUID) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Credits[id]
}

// ScanCount returns the number of recorded scans.
func (s *Store) ScanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Scans)
}

func (s *Store) ExecTx(ctx context.Context, fn func(q repository.Querier) error) error {
	if err := s.fail("ExecTx"); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.fail("Ping")
}

type snapshot struct {
	users   map[uuid.UUID]repository.User
	credits map[uuid.UUID]int32
	scans   []repository.Scan
	windows []repository.RateLimitWindow
	events  map[string]repository.BillingEvent
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := snapshot{
		users:   make(map[uuid.UUID]repository.User, len(s.Users)),
		credits: make(map[uuid.UUID]int32, len(s.Credits)),
		scans:   append([]repository.Scan(nil), s.Scans...),
		windows: append([]repository.RateLimitWindow(nil), s.Windows...),
		events:  make(map[string]repository.BillingEvent, len(s.BillingEvents)),
	}
	for k, v := range s.Users {
		snap.users[k] = v
	}
	for k, v := range s.Credits {
		snap.credits[k] = v
	}
	for k, v := range s.BillingEvents {
		snap.events[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Users = snap.users
	s.Credits = snap.credits
	s.Scans = snap.scans
	s.Windows = snap.windows
	s.BillingEvents = snap.events
}

// =============================================================================
// Users
// =============================================================================

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (repository.User, error) {
	if err := s.fail("GetUser"); err != nil {
		return repository.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok {
		return repository.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *Store) GetUserByStripeCustomerID(ctx context.Context, stripeCustomerID sql.NullString) (repository.User, error) {
	if err := s.fail("GetUserByStripeCustomerID"); err != nil {
		return repository.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.Users {
		if u.StripeCustomerID.Valid && u.StripeCustomerID == stripeCustomerID {
			return u, nil
		}
	}
	return repository.User{}, sql.ErrNoRows
}

func (s *Store) UpsertUserIdentity(ctx context.Context, arg repository.UpsertUserIdentityParams) (repository.User, error) {
	if err := s.fail("UpsertUserIdentity"); err != nil {
		return repository.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	u, ok := s.Users[arg.ID]
	if !ok {
		u = repository.User{
			ID:             arg.ID,
			PlanType:       "free",
			MonthlyResetAt: now,
			CreatedAt:      now,
		}
	}
	u.Email = arg.Email
	u.EmailVerified = arg.EmailVerified
	u.UpdatedAt = now
	s.Users[arg.ID] = u
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, arg repository.CreateUserParams) (repository.User, error) {
	if err := s.fail("CreateUser"); err != nil {
		return repository.User{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	u, ok := s.Users[arg.ID]
	if !ok {
		u = repository.User{
			ID:             arg.ID,
			PlanType:       "free",
			MonthlyResetAt: now,
			CreatedAt:      now,
		}
	}
	u.Email = arg.Email
	u.EmailVerified = arg.EmailVerified
	if arg.DisplayName.Valid {
		u.DisplayName = arg.DisplayName
	}
	u.UpdatedAt = now
	s.Users[arg.ID] = u
	return u, nil
}

func (s *Store) ResetMonthlyUsage(ctx context.Context, arg repository.ResetMonthlyUsageParams) (int64, error) {
	if err := s.fail("ResetMonthlyUsage"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[arg.ID]
	if !ok || !u.MonthlyResetAt.Equal(arg.PreviousResetAt) {
		return 0, nil
	}
	u.MonthlyScanCount = 0
	u.MonthlyResetAt = arg.ResetAt
	u.UpdatedAt = s.now()
	s.Users[arg.ID] = u
	return 1, nil
}

func (s *Store) IncrementMonthlyUsage(ctx context.Context, id uuid.UUID) (int64, error) {
	if err := s.fail("IncrementMonthlyUsage"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[id]
	if !ok {
		return 0, nil
	}
	u.MonthlyScanCount++
	u.UpdatedAt = s.now()
	s.Users[id] = u
	return 1, nil
}

func (s *Store) SetUserPlan(ctx context.Context, arg repository.SetUserPlanParams) (int64, error) {
	if err := s.fail("SetUserPlan"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[arg.ID]
	if !ok {
		return 0, nil
	}
	u.PlanType = arg.PlanType
	u.MonthlyScanCount = 0
	u.MonthlyResetAt = arg.ResetAt
	u.UpdatedAt = s.now()
	s.Users[arg.ID] = u
	return 1, nil
}

func (s *Store) UpdateUserPlanType(ctx context.Context, arg repository.UpdateUserPlanTypeParams) (int64, error) {
	if err := s.fail("UpdateUserPlanType"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[arg.ID]
	if !ok {
		return 0, nil
	}
	u.PlanType = arg.PlanType
	u.UpdatedAt = s.now()
	s.Users[arg.ID] = u
	return 1, nil
}

func (s *Store) UpdateUserStripeCustomer(ctx context.Context, arg repository.UpdateUserStripeCustomerParams) error {
	if err := s.fail("UpdateUserStripeCustomer"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.Users[arg.ID]
	if !ok {
		return nil
	}
	u.StripeCustomerID = arg.StripeCustomerID
	u.UpdatedAt = s.now()
	s.Users[arg.ID] = u
	return nil
}

// =============================================================================
// Credits
// =============================================================================

func (s *Store) GetCreditBalance(ctx context.Context, userID uuid.UUID) (int32, error) {
	if err := s.fail("GetCreditBalance"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	balance, ok := s.Credits[userID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	return balance, nil
}

func (s *Store) AddCredits(ctx context.Context, arg repository.AddCreditsParams) (int32, error) {
	if err := s.fail("AddCredits"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Users[arg.UserID]; !ok {
		return 0, errForeignKey
	}
	s.Credits[arg.UserID] += arg.Amount
	return s.Credits[arg.UserID], nil
}

func (s *Store) ConsumeCredit(ctx context.Context, userID uuid.UUID) (int64, error) {
	if err := s.fail("ConsumeCredit"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Credits[userID] <= 0 {
		return 0, nil
	}
	s.Credits[userID]--
	return 1, nil
}

// =============================================================================
// Scans
// =============================================================================

func (s *Store) CreateScan(ctx context.Context, arg repository.CreateScanParams) (repository.Scan, error) {
	if err := s.fail("CreateScan"); err != nil {
		return repository.Scan{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	scan := repository.Scan{
		ID:        uuid.New(),
		UserID:    arg.UserID,
		Score:     arg.Score,
		IsAi:      arg.IsAi,
		SourceIp:  arg.SourceIp,
		Allowance: arg.Allowance,
		ImageKey:  arg.ImageKey,
		CreatedAt: s.now(),
	}
	s.Scans = append(s.Scans, scan)
	return scan, nil
}

func (s *Store) CountScansByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	if err := s.fail("CountScansByUser"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, scan := range s.Scans {
		if scan.UserID == userID {
			n++
		}
	}
	return n, nil
}

// =============================================================================
// Rate limit windows
// =============================================================================

func (s *Store) GetLatestRateLimitWindow(ctx context.Context, arg repository.GetLatestRateLimitWindowParams) (repository.RateLimitWindow, error) {
	if err := s.fail("GetLatestRateLimitWindow"); err != nil {
		return repository.RateLimitWindow{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var matches []repository.RateLimitWindow
	for _, w := range s.Windows {
		if w.Ip == arg.Ip && w.Endpoint == arg.Endpoint && !w.WindowStart.Before(arg.WindowStart) {
			matches = append(matches, w)
		}
	}
	if len(matches) == 0 {
		return repository.RateLimitWindow{}, sql.ErrNoRows
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].WindowStart.After(matches[j].WindowStart)
	})
	return matches[0], nil
}

func (s *Store) CreateRateLimitWindow(ctx context.Context, arg repository.CreateRateLimitWindowParams) (repository.RateLimitWindow, error) {
	if err := s.fail("CreateRateLimitWindow"); err != nil {
		return repository.RateLimitWindow{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWindowID++
	w := repository.RateLimitWindow{
		ID:           s.nextWindowID,
		Ip:           arg.Ip,
		Endpoint:     arg.Endpoint,
		RequestCount: 1,
		WindowStart:  arg.WindowStart,
	}
	s.Windows = append(s.Windows, w)
	return w, nil
}

func (s *Store) IncrementRateLimitWindow(ctx context.Context, arg repository.IncrementRateLimitWindowParams) (int32, error) {
	if err := s.fail("IncrementRateLimitWindow"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Windows {
		if s.Windows[i].ID != arg.ID {
			continue
		}
		if s.Windows[i].RequestCount >= arg.MaxRequests {
			return 0, sql.ErrNoRows
		}
		s.Windows[i].RequestCount++
		return s.Windows[i].RequestCount, nil
	}
	return 0, sql.ErrNoRows
}

func (s *Store) DeleteRateLimitWindowsBefore(ctx context.Context, arg repository.DeleteRateLimitWindowsBeforeParams) error {
	if err := s.fail("DeleteRateLimitWindowsBefore"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.Windows[:0]
	for _, w := range s.Windows {
		if w.Ip == arg.Ip && w.Endpoint == arg.Endpoint && w.WindowStart.Before(arg.WindowStart) {
			continue
		}
		kept = append(kept, w)
	}
	s.Windows = kept
	return nil
}

// =============================================================================
// Billing events
// =============================================================================

func (s *Store) InsertBillingEvent(ctx context.Context, arg repository.InsertBillingEventParams) (int64, error) {
	if err := s.fail("InsertBillingEvent"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.BillingEvents[arg.ID]; ok {
		return 0, nil
	}
	s.BillingEvents[arg.ID] = repository.BillingEvent{
		ID:          arg.ID,
		Type:        arg.Type,
		Payload:     arg.Payload,
		ProcessedAt: s.now(),
	}
	return 1, nil
}
