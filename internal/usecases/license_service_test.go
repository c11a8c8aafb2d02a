package usecases

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"ledgerbot/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLicenses(t *testing.T) (*LicenseService, *LedgerService, *mapCache, *fakeClock) {
	t.Helper()
	store := newTestStore(t)
	cache := newMapCache()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}

	lic := NewLicenseService(store, cache, zap.NewNop())
	lic.now = clock.Now
	ledger := NewLedgerService(store, cache, time.UTC, zap.NewNop(), nil)
	ledger.now = clock.Now
	return lic, ledger, cache, clock
}

var codePattern = regexp.MustCompile(`^HY-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

func TestLicenseService_GenerateCode(t *testing.T) {
	lic, _, _, _ := newTestLicenses(t)
	ctx := context.Background()

	_, err := lic.GenerateCode(ctx, 0)
	assert.ErrorIs(t, err, entities.ErrInvalidDays)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		lc, err := lic.GenerateCode(ctx, 30)
		require.NoError(t, err)
		assert.Regexp(t, codePattern, lc.Code)
		assert.Equal(t, 30, lc.Days)
		assert.False(t, lc.IsUsed)
		assert.False(t, seen[lc.Code])
		seen[lc.Code] = true
	}
}

func TestLicenseService_RedeemGroup(t *testing.T) {
	lic, _, cache, clock := newTestLicenses(t)
	ctx := context.Background()
	group := entities.GroupSubject(testChat)

	ok, err := lic.Check(ctx, testTenant, testChat, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	lc, err := lic.GenerateCode(ctx, 30)
	require.NoError(t, err)

	red, err := lic.Redeem(ctx, testTenant, lc.Code, group)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().AddDate(0, 0, 30), red.ExpireAt)
	assert.Equal(t, 1, cache.Invalidations(testTenant, testChat))

	ok, err = lic.Check(ctx, testTenant, testChat, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := lic.Info(ctx, testTenant, group)
	require.NoError(t, err)
	assert.True(t, info.Valid)
	assert.Equal(t, lc.Code, info.LicenseKey)

	_, err = lic.Redeem(ctx, testTenant, lc.Code, group)
	assert.ErrorIs(t, err, entities.ErrLicenseCodeUsed)

	_, err = lic.Redeem(ctx, testTenant, "HY-NOPE-NOPE-NOPE", group)
	assert.ErrorIs(t, err, entities.ErrLicenseCodeNotFound)
}

func TestLicenseService_RedeemExtendsFromLaterOfNowAndExpiry(t *testing.T) {
	lic, _, _, clock := newTestLicenses(t)
	ctx := context.Background()
	group := entities.GroupSubject(testChat)
	start := clock.Now()

	first, err := lic.GenerateCode(ctx, 10)
	require.NoError(t, err)
	_, err = lic.Redeem(ctx, testTenant, first.Code, group)
	require.NoError(t, err)

	// Still valid: the new code stacks on the current expiry.
	clock.Advance(24 * time.Hour)
	second, err := lic.GenerateCode(ctx, 5)
	require.NoError(t, err)
	red, err := lic.Redeem(ctx, testTenant, second.Code, group)
	require.NoError(t, err)
	assert.True(t, red.ExpireAt.Equal(start.AddDate(0, 0, 15)), red.ExpireAt.String())

	// Lapsed: counting restarts from now.
	clock.Advance(60 * 24 * time.Hour)
	third, err := lic.GenerateCode(ctx, 7)
	require.NoError(t, err)
	red, err = lic.Redeem(ctx, testTenant, " "+strings.ToLower(third.Code), group)
	require.NoError(t, err)
	assert.True(t, red.ExpireAt.Equal(clock.Now().AddDate(0, 0, 7)))
}

func TestLicenseService_ExpiryIsStrict(t *testing.T) {
	lic, _, _, clock := newTestLicenses(t)
	ctx := context.Background()

	lc, err := lic.GenerateCode(ctx, 1)
	require.NoError(t, err)
	red, err := lic.Redeem(ctx, testTenant, lc.Code, entities.GroupSubject(testChat))
	require.NoError(t, err)

	clock.Set(red.ExpireAt.Add(-time.Nanosecond))
	ok, err := lic.Check(ctx, testTenant, testChat, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Set(red.ExpireAt)
	ok, err = lic.Check(ctx, testTenant, testChat, 0)
	require.NoError(t, err)
	assert.False(t, ok, "expiry equal to now is expired")
}

func TestLicenseService_UserLicenseCoversAnyChat(t *testing.T) {
	lic, _, _, _ := newTestLicenses(t)
	ctx := context.Background()
	const user int64 = 555

	lc, err := lic.GenerateCode(ctx, 3)
	require.NoError(t, err)
	_, err = lic.Redeem(ctx, testTenant, lc.Code, entities.UserSubject(user))
	require.NoError(t, err)

	ok, err := lic.Check(ctx, testTenant, -2002, user)
	require.NoError(t, err)
	assert.True(t, ok, "personal license applies in an unlicensed group")

	ok, err = lic.Check(ctx, testTenant, -2002, 777)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = lic.Check(ctx, 2, -2002, user)
	require.NoError(t, err)
	assert.False(t, ok, "licenses are tenant scoped")
}

func TestLicenseService_CheckDoesNotCreateRows(t *testing.T) {
	lic, ledger, cache, _ := newTestLicenses(t)
	ctx := context.Background()

	ok, err := lic.Check(ctx, testTenant, testChat, 9)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, cache.Cached(testTenant, testChat))

	active, err := ledger.ListActiveChats(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	cfg, err := lic.store.GetChatConfig(ctx, testTenant, testChat, false)
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLicenseService_RedeemKeepsLedgerState(t *testing.T) {
	lic, ledger, _, _ := newTestLicenses(t)
	ctx := context.Background()

	require.NoError(t, ledger.StartRecording(ctx, testTenant, testChat))
	require.NoError(t, ledger.SetFeePercent(ctx, testTenant, testChat, dec("3")))

	lc, err := lic.GenerateCode(ctx, 30)
	require.NoError(t, err)
	_, err = lic.Redeem(ctx, testTenant, lc.Code, entities.GroupSubject(testChat))
	require.NoError(t, err)

	snap, err := ledger.GetOrCreateConfiguration(ctx, testTenant, testChat, "")
	require.NoError(t, err)
	assert.True(t, snap.IsActive)
	assert.True(t, dec("3").Equal(snap.FeePercent))
	assert.Equal(t, lc.Code, snap.LicenseKey)
}
