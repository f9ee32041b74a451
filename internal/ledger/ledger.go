// Package ledger is the single funnel for every balance mutation in the
// system. Trade escrow, swaps, deposits, withdrawals, fees and rewards all
// go through Service.Mutate; no other code path may write the balances or
// balance_ledger tables. That discipline is what keeps every balance
// reconstructable by replaying its ledger entries.
package ledger

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/peerex/peerex-core/internal/events"
)

func init() {
	// Money math needs at least 18 fractional digits before rounding.
	if decimal.DivisionPrecision < 18 {
		decimal.DivisionPrecision = 18
	}
}

// Mutation describes one balance change request.
type Mutation struct {
	UserID    string
	Asset     string
	Field     Field
	Amount    decimal.Decimal // signed
	EntryType string

	// IdempotencyKey must be unique per logical mutation; retrying with
	// the same key is a safe no-op.
	IdempotencyKey string

	// At most one foreign reference may be set.
	TradeID      string
	DepositID    string
	WithdrawalID string

	Note string

	// AllowNegative is honored only for the platform counterparty user;
	// for everyone else it is downgraded and logged.
	AllowNegative bool
}

func (m *Mutation) validate() error {
	if m.UserID == "" || m.Asset == "" {
		return fmt.Errorf("%w: missing user or asset", ErrInvalidMutation)
	}
	if !m.Field.Valid() {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidMutation, m.Field)
	}
	if m.EntryType == "" {
		return fmt.Errorf("%w: missing entry type", ErrInvalidMutation)
	}
	if m.IdempotencyKey == "" {
		return fmt.Errorf("%w: missing idempotency key", ErrInvalidMutation)
	}

	refs := 0
	for _, ref := range []string{m.TradeID, m.DepositID, m.WithdrawalID} {
		if ref != "" {
			refs++
		}
	}
	if refs > 1 {
		return fmt.Errorf("%w: more than one foreign reference", ErrInvalidMutation)
	}
	return nil
}

// Result reports an applied mutation. A nil *Result with a nil error means
// the idempotency key was already processed and nothing changed.
type Result struct {
	NewValue decimal.Decimal
	Event    events.BalanceChanged
}

// Service validates, locks, applies, records and notifies every balance
// change. It holds an injected storage handle and publisher; per-call
// transactions come from the caller.
type Service struct {
	db             *Database
	publisher      events.Publisher
	platformUserID string
}

func NewService(gormDB *gorm.DB, publisher events.Publisher, platformUserID string) *Service {
	return &Service{
		db:             NewDatabase(gormDB),
		publisher:      publisher,
		platformUserID: platformUserID,
	}
}

// Database exposes the ledger store for read-side collaborators.
func (s *Service) Database() *Database {
	return s.db
}

// Mutate applies one balance mutation inside the caller-supplied
// transaction. It acquires the (user, asset) row lock, checks the
// idempotency key under that lock, computes the new value with decimal
// arithmetic, enforces non-negativity for non-exempt users, persists the
// balance and exactly one ledger entry.
//
// The returned Result's Event must be published by the caller only after
// the transaction commits; NotifyApplied does that.
func (s *Service) Mutate(tx *gorm.DB, m Mutation) (*Result, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("service", "ledger").
		Str("user_id", m.UserID).
		Str("asset", m.Asset).
		Str("field", string(m.Field)).
		Str("entry_type", m.EntryType).
		Logger()

	allowNegative := m.AllowNegative
	if allowNegative && m.UserID != s.platformUserID {
		// Only the platform counterparty may run negative; a caller
		// asking for it on behalf of anyone else is a bug worth seeing.
		logger.Warn().Msg("allow_negative requested for non-platform user, ignoring")
		allowNegative = false
	}

	bal, err := s.db.LockBalance(tx, m.UserID, m.Asset)
	if err != nil {
		return nil, err
	}

	// Safe under the row lock: a concurrent mutation with the same key is
	// blocked until this transaction resolves.
	exists, err := s.db.EntryExists(tx, m.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Debug().Str("idempotency_key", m.IdempotencyKey).Msg("duplicate idempotency key, no-op")
		return nil, nil
	}

	current := bal.Get(m.Field)
	newValue := current.Add(m.Amount)

	if newValue.IsNegative() && !allowNegative {
		return nil, &InsufficientBalanceError{
			UserID:  m.UserID,
			Asset:   m.Asset,
			Field:   m.Field,
			Current: current,
			Delta:   m.Amount,
			Result:  newValue,
		}
	}

	if err := s.db.UpdateBalanceField(tx, bal, m.Field, newValue); err != nil {
		return nil, err
	}

	entry := &Entry{
		UserID:         m.UserID,
		Asset:          m.Asset,
		EntryType:      m.EntryType,
		Field:          string(m.Field),
		Amount:         m.Amount,
		BalanceAfter:   newValue,
		TradeID:        m.TradeID,
		DepositID:      m.DepositID,
		WithdrawalID:   m.WithdrawalID,
		IdempotencyKey: m.IdempotencyKey,
		Note:           m.Note,
	}
	if err := s.db.InsertEntry(tx, entry); err != nil {
		return nil, err
	}

	logger.Info().
		Str("amount", m.Amount.String()).
		Str("balance_after", newValue.String()).
		Msg("balance mutated")

	return &Result{
		NewValue: newValue,
		Event: events.BalanceChanged{
			UserID:    m.UserID,
			Asset:     m.Asset,
			Field:     string(m.Field),
			EntryType: m.EntryType,
		},
	}, nil
}

// NotifyApplied publishes balance-changed events for committed results.
// Nil results (idempotent no-ops) are skipped. Best effort only.
func (s *Service) NotifyApplied(results ...*Result) {
	for _, res := range results {
		if res == nil {
			continue
		}
		s.publisher.Publish(events.ChannelBalanceChanged, res.Event)
	}
}

// Apply runs one mutation in its own transaction and publishes the event
// after commit. This is the entry point for collaborators that have no
// surrounding transaction (deposit credit, withdrawal debit, rewards).
func (s *Service) Apply(m Mutation) (*Result, error) {
	var res *Result
	err := s.db.DB().Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = s.Mutate(tx, m)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.NotifyApplied(res)
	return res, nil
}

// EnsureBalances creates zero-value balance rows for the user, one per
// supported asset. Called at registration; repeat calls are no-ops.
func (s *Service) EnsureBalances(userID string, assets []string) error {
	for _, asset := range assets {
		if err := s.db.CreateBalanceRow(userID, asset); err != nil {
			return fmt.Errorf("failed to create balance row for %s/%s: %w", userID, asset, err)
		}
	}
	return nil
}

// GetBalance returns the balance row for one (user, asset).
func (s *Service) GetBalance(userID, asset string) (*Balance, error) {
	return s.db.GetBalance(userID, asset)
}

// GetBalances returns all balance rows for a user.
func (s *Service) GetBalances(userID string) ([]Balance, error) {
	return s.db.GetBalances(userID)
}

// GetHistory returns the ledger entries for a (user, asset) in creation
// order.
func (s *Service) GetHistory(userID, asset string) ([]Entry, error) {
	return s.db.GetEntries(userID, asset)
}
