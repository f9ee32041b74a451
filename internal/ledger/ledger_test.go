package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/peerex/peerex-core/internal/database"
	"github.com/peerex/peerex-core/internal/events"
	"github.com/peerex/peerex-core/internal/ledger"
)

const platformUser = "platform"

func newTestService(t *testing.T) *ledger.Service {
	t.Helper()

	db, err := database.NewTestDatabase()
	require.NoError(t, err)

	return ledger.NewService(db, events.NewLogPublisher(), platformUser)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestApplyCreditsBalance(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.EnsureBalances("alice", []string{"BTC"}))

	res, err := svc.Apply(ledger.Mutation{
		UserID:         "alice",
		Asset:          "BTC",
		Field:          ledger.FieldAvailable,
		Amount:         d("1.5"),
		EntryType:      ledger.EntryDepositCredit,
		IdempotencyKey: "deposit:1:credit",
		DepositID:      "1",
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.True(t, res.NewValue.Equal(d("1.5")))

	bal, err := svc.GetBalance("alice", "BTC")
	require.NoError(t, err)
	require.True(t, bal.Available.Equal(d("1.5")))
	require.True(t, bal.Locked.IsZero())

	entries, err := svc.GetHistory("alice", "BTC")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, ledger.EntryDepositCredit, entries[0].EntryType)
	require.True(t, entries[0].BalanceAfter.Equal(d("1.5")))
	require.Equal(t, "1", entries[0].DepositID)
}

func TestApplyIdempotentReplay(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.EnsureBalances("alice", []string{"BTC"}))

	m := ledger.Mutation{
		UserID:         "alice",
		Asset:          "BTC",
		Field:          ledger.FieldAvailable,
		Amount:         d("2"),
		EntryType:      ledger.EntryDepositCredit,
		IdempotencyKey: "deposit:2:credit",
	}

	res, err := svc.Apply(m)
	require.NoError(t, err)
	require.NotNil(t, res)

	// Retrying the same logical mutation must change nothing.
	res, err = svc.Apply(m)
	require.NoError(t, err)
	require.Nil(t, res)

	bal, err := svc.GetBalance("alice", "BTC")
	require.NoError(t, err)
	require.True(t, bal.Available.Equal(d("2")))

	entries, err := svc.GetHistory("alice", "BTC")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestApplyInsufficientBalance(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.EnsureBalances("alice", []string{"BTC"}))

	_, err := svc.Apply(ledger.Mutation{
		UserID:         "alice",
		Asset:          "BTC",
		Field:          ledger.FieldAvailable,
		Amount:         d("-0.1"),
		EntryType:      ledger.EntryWithdrawalDebit,
		IdempotencyKey: "withdrawal:1:debit",
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	var insufficient *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	require.True(t, insufficient.Result.Equal(d("-0.1")))

	// The failed mutation must leave no trace.
	bal, err := svc.GetBalance("alice", "BTC")
	require.NoError(t, err)
	require.True(t, bal.Available.IsZero())

	entries, err := svc.GetHistory("alice", "BTC")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestAllowNegativePlatformOnly(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.EnsureBalances(platformUser, []string{"BTC"}))
	require.NoError(t, svc.EnsureBalances("alice", []string{"BTC"}))

	res, err := svc.Apply(ledger.Mutation{
		UserID:         platformUser,
		Asset:          "BTC",
		Field:          ledger.FieldAvailable,
		Amount:         d("-3"),
		EntryType:      ledger.EntryAdjustment,
		IdempotencyKey: "adjust:platform:1",
		AllowNegative:  true,
	})
	require.NoError(t, err)
	require.True(t, res.NewValue.Equal(d("-3")))

	// For anyone else the flag is downgraded and the debit still fails.
	_, err = svc.Apply(ledger.Mutation{
		UserID:         "alice",
		Asset:          "BTC",
		Field:          ledger.FieldAvailable,
		Amount:         d("-3"),
		EntryType:      ledger.EntryAdjustment,
		IdempotencyKey: "adjust:alice:1",
		AllowNegative:  true,
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

func TestApplyWithoutBalanceRow(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Apply(ledger.Mutation{
		UserID:         "nobody",
		Asset:          "BTC",
		Field:          ledger.FieldAvailable,
		Amount:         d("1"),
		EntryType:      ledger.EntryDepositCredit,
		IdempotencyKey: "deposit:3:credit",
	})
	require.ErrorIs(t, err, ledger.ErrNoBalanceRow)
}

func TestApplyValidation(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.EnsureBalances("alice", []string{"BTC"}))

	cases := []struct {
		name string
		m    ledger.Mutation
	}{
		{
			name: "missing idempotency key",
			m: ledger.Mutation{
				UserID: "alice", Asset: "BTC", Field: ledger.FieldAvailable,
				Amount: d("1"), EntryType: ledger.EntryDepositCredit,
			},
		},
		{
			name: "unknown field",
			m: ledger.Mutation{
				UserID: "alice", Asset: "BTC", Field: "bogus",
				Amount: d("1"), EntryType: ledger.EntryDepositCredit,
				IdempotencyKey: "k1",
			},
		},
		{
			name: "two foreign references",
			m: ledger.Mutation{
				UserID: "alice", Asset: "BTC", Field: ledger.FieldAvailable,
				Amount: d("1"), EntryType: ledger.EntryDepositCredit,
				IdempotencyKey: "k2", TradeID: "t1", DepositID: "d1",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Apply(tc.m)
			require.ErrorIs(t, err, ledger.ErrInvalidMutation)
		})
	}
}

func TestEnsureBalancesIdempotent(t *testing.T) {
	svc := newTestService(t)
	assets := []string{"BTC", "ETH", "LTC"}

	require.NoError(t, svc.EnsureBalances("alice", assets))
	require.NoError(t, svc.EnsureBalances("alice", assets))

	balances, err := svc.GetBalances("alice")
	require.NoError(t, err)
	require.Len(t, balances, len(assets))
	for _, bal := range balances {
		require.True(t, bal.Available.IsZero())
	}
}

func TestReplayMatchesStoredBalances(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.EnsureBalances("alice", []string{"BTC"}))

	mutations := []ledger.Mutation{
		{UserID: "alice", Asset: "BTC", Field: ledger.FieldAvailable, Amount: d("5"),
			EntryType: ledger.EntryDepositCredit, IdempotencyKey: "r1"},
		{UserID: "alice", Asset: "BTC", Field: ledger.FieldAvailable, Amount: d("-1.25"),
			EntryType: ledger.EntryTradeEscrowLock, IdempotencyKey: "r2"},
		{UserID: "alice", Asset: "BTC", Field: ledger.FieldLocked, Amount: d("1.25"),
			EntryType: ledger.EntryTradeEscrowLock, IdempotencyKey: "r3"},
		{UserID: "alice", Asset: "BTC", Field: ledger.FieldAvailable, Amount: d("-0.5"),
			EntryType: ledger.EntryWithdrawalDebit, IdempotencyKey: "r4"},
	}
	for _, m := range mutations {
		_, err := svc.Apply(m)
		require.NoError(t, err)
	}

	bal, err := svc.GetBalance("alice", "BTC")
	require.NoError(t, err)

	for _, field := range []ledger.Field{ledger.FieldAvailable, ledger.FieldLocked, ledger.FieldPendingDeposit} {
		sum, err := svc.Database().SumEntries("alice", "BTC", field)
		require.NoError(t, err)
		require.True(t, sum.Equal(bal.Get(field)),
			"field %s: replayed %s, stored %s", field, sum, bal.Get(field))
	}
}

func TestReconcileAllCleanLedger(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.EnsureBalances("alice", []string{"BTC", "ETH"}))

	_, err := svc.Apply(ledger.Mutation{
		UserID: "alice", Asset: "BTC", Field: ledger.FieldAvailable, Amount: d("2"),
		EntryType: ledger.EntryDepositCredit, IdempotencyKey: "rec1",
	})
	require.NoError(t, err)

	reconciler := ledger.NewReconciler(svc.Database(), 0)
	require.NoError(t, reconciler.ReconcileAll())
}
