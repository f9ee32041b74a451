package swap_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/peerex/peerex-core/internal/database"
	"github.com/peerex/peerex-core/internal/events"
	"github.com/peerex/peerex-core/internal/ledger"
	"github.com/peerex/peerex-core/internal/pricing"
	"github.com/peerex/peerex-core/internal/swap"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T) (*swap.Service, *ledger.Service) {
	t.Helper()

	db, err := database.NewTestDatabase()
	require.NoError(t, err)

	publisher := events.NewLogPublisher()
	ledgerSvc := ledger.NewService(db, publisher, "platform")
	resolver := pricing.NewResolver(
		pricing.NewFixedSource(map[string]decimal.Decimal{
			"BTC": d("85000"),
			"ETH": d("4250"),
		}),
		d("1.5"),
	)

	return swap.NewService(db, ledgerSvc, resolver), ledgerSvc
}

func fund(t *testing.T, svc *ledger.Service, userID, asset, amount string) {
	t.Helper()
	require.NoError(t, svc.EnsureBalances(userID, []string{asset}))
	_, err := svc.Apply(ledger.Mutation{
		UserID:         userID,
		Asset:          asset,
		Field:          ledger.FieldAvailable,
		Amount:         d(amount),
		EntryType:      ledger.EntryDepositCredit,
		IdempotencyKey: "fund:" + userID + ":" + asset,
	})
	require.NoError(t, err)
}

func TestSwapConvertsAtOraclePrices(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	fund(t, ledgerSvc, "alice", "BTC", "1")
	require.NoError(t, ledgerSvc.EnsureBalances("alice", []string{"ETH"}))

	// 85000 / 4250 = 20 ETH per BTC.
	resp, err := svc.Swap("alice", "BTC", "ETH", d("0.5"), "")
	require.NoError(t, err)
	require.True(t, resp.Rate.Equal(d("20")))
	require.True(t, resp.ToAmount.Equal(d("10")))

	btc, err := ledgerSvc.GetBalance("alice", "BTC")
	require.NoError(t, err)
	require.True(t, btc.Available.Equal(d("0.5")))

	eth, err := ledgerSvc.GetBalance("alice", "ETH")
	require.NoError(t, err)
	require.True(t, eth.Available.Equal(d("10")))

	// One debit and one credit entry, through the funnel.
	outEntries, err := ledgerSvc.GetHistory("alice", "BTC")
	require.NoError(t, err)
	require.Equal(t, ledger.EntrySwapOut, outEntries[len(outEntries)-1].EntryType)

	inEntries, err := ledgerSvc.GetHistory("alice", "ETH")
	require.NoError(t, err)
	require.Len(t, inEntries, 1)
	require.Equal(t, ledger.EntrySwapIn, inEntries[0].EntryType)
}

func TestSwapInsufficientBalanceIsAtomic(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	fund(t, ledgerSvc, "alice", "BTC", "0.1")
	require.NoError(t, ledgerSvc.EnsureBalances("alice", []string{"ETH"}))

	_, err := svc.Swap("alice", "BTC", "ETH", d("0.5"), "")
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	btc, err := ledgerSvc.GetBalance("alice", "BTC")
	require.NoError(t, err)
	require.True(t, btc.Available.Equal(d("0.1")))

	eth, err := ledgerSvc.GetBalance("alice", "ETH")
	require.NoError(t, err)
	require.True(t, eth.Available.IsZero())

	inEntries, err := ledgerSvc.GetHistory("alice", "ETH")
	require.NoError(t, err)
	require.Empty(t, inEntries)
}

func TestSwapValidation(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	fund(t, ledgerSvc, "alice", "BTC", "1")

	_, err := svc.Swap("alice", "BTC", "BTC", d("0.5"), "")
	require.ErrorIs(t, err, swap.ErrInvalidSwap)

	_, err = svc.Swap("alice", "BTC", "ETH", decimal.Zero, "")
	require.ErrorIs(t, err, swap.ErrInvalidSwap)

	_, err = svc.Swap("alice", "BTC", "DOGE", d("0.5"), "")
	require.ErrorIs(t, err, pricing.ErrPriceUnavailable)
}

func TestSwapRetryWithSameKeyIsNoOp(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	fund(t, ledgerSvc, "alice", "BTC", "1")
	require.NoError(t, ledgerSvc.EnsureBalances("alice", []string{"ETH"}))

	_, err := svc.Swap("alice", "BTC", "ETH", d("0.5"), "client-key-1")
	require.NoError(t, err)

	// A client retry after a lost response must not apply twice.
	resp, err := svc.Swap("alice", "BTC", "ETH", d("0.5"), "client-key-1")
	require.NoError(t, err)
	require.Equal(t, "client-key-1", resp.SwapID)

	btc, err := ledgerSvc.GetBalance("alice", "BTC")
	require.NoError(t, err)
	require.True(t, btc.Available.Equal(d("0.5")))

	eth, err := ledgerSvc.GetBalance("alice", "ETH")
	require.NoError(t, err)
	require.True(t, eth.Available.Equal(d("10")))

	inEntries, err := ledgerSvc.GetHistory("alice", "ETH")
	require.NoError(t, err)
	require.Len(t, inEntries, 1)
}

func TestSwapDistinctKeysApplyTwice(t *testing.T) {
	svc, ledgerSvc := newTestService(t)
	fund(t, ledgerSvc, "alice", "BTC", "1")
	require.NoError(t, ledgerSvc.EnsureBalances("alice", []string{"ETH"}))

	_, err := svc.Swap("alice", "BTC", "ETH", d("0.25"), "client-key-1")
	require.NoError(t, err)
	_, err = svc.Swap("alice", "BTC", "ETH", d("0.25"), "client-key-2")
	require.NoError(t, err)

	eth, err := ledgerSvc.GetBalance("alice", "ETH")
	require.NoError(t, err)
	require.True(t, eth.Available.Equal(d("10")))
}
