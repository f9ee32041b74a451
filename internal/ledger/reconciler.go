package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reconciler periodically re-derives every balance field from its ledger
// entries and compares against the stored value. It never mutates anything:
// the hot path trusts the single-writer funnel, and drift here means a bug
// that needs a human, not an automatic correction.
type Reconciler struct {
	db       *Database
	interval time.Duration
}

func NewReconciler(db *Database, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Reconciler{db: db, interval: interval}
}

// Start begins the reconciliation loop and blocks until ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	logger := log.With().Str("component", "ledger_reconciler").Logger()
	logger.Info().Dur("interval", r.interval).Msg("starting ledger reconciler")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down ledger reconciler")
			return
		case <-ticker.C:
			if err := r.ReconcileAll(); err != nil {
				logger.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

// ReconcileAll checks every balance row. Returns the first storage error;
// drift is logged per row, not returned, so one bad row cannot hide others.
func (r *Reconciler) ReconcileAll() error {
	logger := log.With().Str("component", "ledger_reconciler").Logger()

	balances, err := r.db.AllBalances()
	if err != nil {
		return err
	}

	drifted := 0
	for _, bal := range balances {
		for _, field := range []Field{FieldAvailable, FieldLocked, FieldPendingDeposit} {
			sum, err := r.db.SumEntries(bal.UserID, bal.Asset, field)
			if err != nil {
				return err
			}
			stored := bal.Get(field)
			if !sum.Equal(stored) {
				drifted++
				logger.Error().
					Str("user_id", bal.UserID).
					Str("asset", bal.Asset).
					Str("field", string(field)).
					Str("stored", stored.String()).
					Str("replayed", sum.String()).
					Msg("ledger replay drift detected")
			}
		}
	}

	logger.Info().Int("balances_checked", len(balances)).Int("drifted", drifted).
		Msg("reconciliation pass complete")
	return nil
}
