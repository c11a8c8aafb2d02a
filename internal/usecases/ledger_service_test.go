package usecases

import (
	"context"
	"testing"
	"time"

	"ledgerbot/internal/entities"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testTenant int64 = 1
	testChat   int64 = -1001
)

func newTestLedger(t *testing.T) (*LedgerService, *mapCache, *fakeClock) {
	t.Helper()
	cache := newMapCache()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, shanghai)}
	svc := NewLedgerService(newTestStore(t), cache, shanghai, zap.NewNop(), nil)
	svc.now = clock.Now
	return svc, cache, clock
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLedgerService_RejectsWhileInactive(t *testing.T) {
	svc, cache, _ := newTestLedger(t)
	ctx := context.Background()

	rec, err := svc.RecordTransaction(ctx, testTenant, testChat, entities.KindDeposit, dec("100"), 7, "alice", "+100")
	assert.ErrorIs(t, err, entities.ErrNotRecording)
	assert.Nil(t, rec)

	sum, err := svc.GetDailySummary(ctx, testTenant, testChat)
	require.NoError(t, err)
	assert.Zero(t, sum.CountDeposit)

	// The default row was created on first access and its cache entry dropped.
	assert.Equal(t, 1, cache.Invalidations(testTenant, testChat))
	recording, err := svc.IsRecording(ctx, testTenant, testChat)
	require.NoError(t, err)
	assert.False(t, recording)
}

func TestLedgerService_RecordAndSummarize(t *testing.T) {
	svc, _, clock := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, svc.StartRecording(ctx, testTenant, testChat))

	_, err := svc.RecordTransaction(ctx, testTenant, testChat, entities.KindDeposit, dec("100.00"), 7, "alice", "+100")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.RecordTransaction(ctx, testTenant, testChat, entities.KindDeposit, dec("250.50"), 7, "alice", "+250.50")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.RecordTransaction(ctx, testTenant, testChat, entities.KindPayout, dec("80"), 8, "bob", "下发80")
	require.NoError(t, err)

	sum, err := svc.GetDailySummary(ctx, testTenant, testChat)
	require.NoError(t, err)
	assert.True(t, dec("350.50").Equal(sum.TotalDeposit), sum.TotalDeposit.String())
	assert.Equal(t, 2, sum.CountDeposit)
	assert.True(t, dec("80").Equal(sum.TotalPayout))
	assert.Equal(t, 1, sum.CountPayout)

	recent, err := svc.GetRecentRecords(ctx, testTenant, testChat, 0, "")
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, entities.KindPayout, recent[0].Kind, "newest first")
	assert.Equal(t, "bob", recent[0].OperatorName)

	deposits, err := svc.GetRecentRecords(ctx, testTenant, testChat, 5, entities.KindDeposit)
	require.NoError(t, err)
	assert.Len(t, deposits, 2)
}

func TestLedgerService_InvalidInput(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, svc.StartRecording(ctx, testTenant, testChat))

	tests := []struct {
		name   string
		kind   entities.RecordKind
		amount string
		want   error
	}{
		{"unknown kind", entities.RecordKind("refund"), "10", entities.ErrInvalidKind},
		{"zero", entities.KindDeposit, "0", entities.ErrInvalidAmount},
		{"rounds to zero", entities.KindDeposit, "0.001", entities.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordTransaction(ctx, testTenant, testChat, tt.kind, dec(tt.amount), 1, "x", "")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLedgerService_FeeIsSnapshotted(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, svc.StartRecording(ctx, testTenant, testChat))
	require.NoError(t, svc.SetFeePercent(ctx, testTenant, testChat, dec("5")))
	require.NoError(t, svc.SetExchangeRate(ctx, testTenant, testChat, entities.CurrencyUSD, dec("7.2")))

	rec, err := svc.RecordTransaction(ctx, testTenant, testChat, entities.KindDeposit, dec("1000"), 1, "x", "+1000")
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(rec.FeeApplied))
	assert.True(t, dec("7.2").Equal(rec.RateSnapshot))

	require.NoError(t, svc.SetFeePercent(ctx, testTenant, testChat, dec("10")))

	recent, err := svc.GetRecentRecords(ctx, testTenant, testChat, 1, entities.KindDeposit)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, dec("50").Equal(recent[0].FeeApplied), recent[0].FeeApplied.String())

	payout, err := svc.RecordTransaction(ctx, testTenant, testChat, entities.KindPayout, dec("100"), 1, "x", "下发100")
	require.NoError(t, err)
	assert.True(t, payout.FeeApplied.IsZero(), "payouts carry no fee")
}

func TestLedgerService_SetFeePercentBounds(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.SetFeePercent(ctx, testTenant, testChat, dec("-1")), entities.ErrInvalidAmount)
	assert.ErrorIs(t, svc.SetFeePercent(ctx, testTenant, testChat, dec("100.01")), entities.ErrInvalidAmount)
	assert.NoError(t, svc.SetFeePercent(ctx, testTenant, testChat, dec("100")))
	assert.ErrorIs(t, svc.SetExchangeRate(ctx, testTenant, testChat, entities.Currency("eur"), dec("1")), entities.ErrUnknownRate)
}

func TestLedgerService_WindowBoundaries(t *testing.T) {
	svc, _, clock := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, svc.StartRecording(ctx, testTenant, testChat))

	clock.Set(time.Date(2024, 5, 1, 3, 59, 59, 0, shanghai))
	_, err := svc.RecordTransaction(ctx, testTenant, testChat, entities.KindDeposit, dec("10"), 1, "x", "")
	require.NoError(t, err)

	clock.Set(time.Date(2024, 5, 1, 4, 0, 0, 0, shanghai))
	_, err = svc.RecordTransaction(ctx, testTenant, testChat, entities.KindDeposit, dec("20"), 1, "x", "")
	require.NoError(t, err)

	sum, err := svc.GetDailySummary(ctx, testTenant, testChat)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CountDeposit, "04:00 opens a new window")
	assert.True(t, dec("20").Equal(sum.TotalDeposit))

	n, err := svc.ClearToday(ctx, testTenant, testChat)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	clock.Set(time.Date(2024, 5, 1, 3, 0, 0, 0, shanghai))
	sum, err = svc.GetDailySummary(ctx, testTenant, testChat)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CountDeposit, "previous window survives the clear")
	assert.True(t, dec("10").Equal(sum.TotalDeposit))
}

func TestLedgerService_RecordListsStayInWindow(t *testing.T) {
	svc, _, clock := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, svc.StartRecording(ctx, testTenant, testChat))

	_, err := svc.RecordTransaction(ctx, testTenant, testChat, entities.KindDeposit, dec("100"), 1, "x", "+100")
	require.NoError(t, err)
	_, err = svc.RecordTransaction(ctx, testTenant, testChat, entities.KindPayout, dec("40"), 1, "x", "下发40")
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)

	recent, err := svc.GetRecentRecords(ctx, testTenant, testChat, 10, "")
	require.NoError(t, err)
	assert.Empty(t, recent)

	bill, err := svc.LoadBill(ctx, testTenant, testChat, 50)
	require.NoError(t, err)
	assert.Zero(t, bill.Summary.CountDeposit)
	assert.Empty(t, bill.Deposits, "yesterday's deposits are not listed under today's header")
	assert.Empty(t, bill.Payouts)

	_, err = svc.RecordTransaction(ctx, testTenant, testChat, entities.KindDeposit, dec("7"), 1, "x", "+7")
	require.NoError(t, err)
	bill, err = svc.LoadBill(ctx, testTenant, testChat, 50)
	require.NoError(t, err)
	require.Len(t, bill.Deposits, 1)
	assert.True(t, dec("7").Equal(bill.Deposits[0].Amount))
}

func TestLedgerService_BillUsesSnapshottedFees(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, svc.StartRecording(ctx, testTenant, testChat))

	require.NoError(t, svc.SetFeePercent(ctx, testTenant, testChat, dec("5")))
	_, err := svc.RecordTransaction(ctx, testTenant, testChat, entities.KindDeposit, dec("1000"), 1, "x", "+1000")
	require.NoError(t, err)
	require.NoError(t, svc.SetFeePercent(ctx, testTenant, testChat, dec("10")))
	_, err = svc.RecordTransaction(ctx, testTenant, testChat, entities.KindDeposit, dec("1000"), 1, "x", "+1000")
	require.NoError(t, err)

	bill, err := svc.LoadBill(ctx, testTenant, testChat, 50)
	require.NoError(t, err)
	assert.True(t, dec("150").Equal(bill.Summary.TotalFee), bill.Summary.TotalFee.String())

	totals := bill.Totals()
	assert.True(t, dec("150").Equal(totals.Fee))
	assert.True(t, dec("1850").Equal(totals.Net), totals.Net.String())
}

func TestLedgerService_MutationsInvalidateCache(t *testing.T) {
	svc, cache, _ := newTestLedger(t)
	ctx := context.Background()

	snap, err := svc.GetOrCreateConfiguration(ctx, testTenant, testChat, "ops")
	require.NoError(t, err)
	assert.False(t, snap.IsActive)
	assert.False(t, cache.Cached(testTenant, testChat), "creating the row invalidates instead of filling")

	_, err = svc.GetOrCreateConfiguration(ctx, testTenant, testChat, "")
	require.NoError(t, err)
	assert.True(t, cache.Cached(testTenant, testChat))

	require.NoError(t, svc.StartRecording(ctx, testTenant, testChat))
	assert.False(t, cache.Cached(testTenant, testChat), "start drops the cached snapshot")

	snap, err = svc.GetOrCreateConfiguration(ctx, testTenant, testChat, "")
	require.NoError(t, err)
	assert.True(t, snap.IsActive)
	assert.Equal(t, "ops", snap.ChatName)
	require.NotNil(t, snap.ActiveStartTime)

	require.NoError(t, svc.StopRecording(ctx, testTenant, testChat))
	recording, err := svc.IsRecording(ctx, testTenant, testChat)
	require.NoError(t, err)
	assert.False(t, recording)
}

func TestLedgerService_DisplayNameRefresh(t *testing.T) {
	svc, cache, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := svc.GetOrCreateConfiguration(ctx, testTenant, testChat, "old")
	require.NoError(t, err)
	before := cache.Invalidations(testTenant, testChat)

	snap, err := svc.GetOrCreateConfiguration(ctx, testTenant, testChat, "old")
	require.NoError(t, err)
	assert.Equal(t, before, cache.Invalidations(testTenant, testChat), "hit with same name")
	assert.Equal(t, "old", snap.ChatName)

	snap, err = svc.GetOrCreateConfiguration(ctx, testTenant, testChat, "new")
	require.NoError(t, err)
	assert.Equal(t, "new", snap.ChatName)
	assert.Equal(t, before+1, cache.Invalidations(testTenant, testChat))
}

func TestLedgerService_DisplayModes(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		mode        entities.DisplayMode
		wantDecimal bool
		wantSimple  bool
	}{
		{entities.ModeNoDecimals, false, false},
		{entities.ModeCount, false, true},
		{entities.ModeOriginal, true, false},
	}
	for _, tt := range tests {
		require.NoError(t, svc.SetDisplayMode(ctx, testTenant, testChat, tt.mode))
		snap, err := svc.GetOrCreateConfiguration(ctx, testTenant, testChat, "")
		require.NoError(t, err)
		assert.Equal(t, tt.wantDecimal, snap.DecimalMode, string(tt.mode))
		assert.Equal(t, tt.wantSimple, snap.SimpleMode, string(tt.mode))
	}
	assert.ErrorIs(t, svc.SetDisplayMode(ctx, testTenant, testChat, "fancy"), entities.ErrInvalidKind)
}

func TestLedgerService_ListActiveChats(t *testing.T) {
	svc, _, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, svc.StartRecording(ctx, testTenant, -1))
	require.NoError(t, svc.StartRecording(ctx, 2, -2))
	require.NoError(t, svc.StopRecording(ctx, 2, -2))
	_, err := svc.GetOrCreateConfiguration(ctx, testTenant, -3, "")
	require.NoError(t, err)

	active, err := svc.ListActiveChats(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(-1), active[0].ChatID)
}
