package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/edubot/internal/apperr"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGrantSetsTierExpiryAndHistory(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(fixedClock(now)))

	res, err := l.Grant(42, TierPremium, 30, 777)
	require.NoError(t, err)
	assert.Equal(t, TierPremium, res.Tier)
	assert.Equal(t, now.AddDate(0, 0, 30), res.ExpiresAt)
	assert.False(t, res.Lifetime)

	sub := l.Get(42)
	require.NotNil(t, sub.ExpiresAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *sub.ExpiresAt)
	require.Len(t, sub.Transactions, 1)
	tx := sub.Transactions[0]
	assert.Equal(t, "admin_gift", tx.ProductID)
	assert.Zero(t, tx.Amount)
	assert.Equal(t, int64(777), tx.GrantedBy)
}

func TestGrantLifetimeMapsToProWithFarFutureExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(fixedClock(now)))

	res, err := l.Grant(42, TierPremium, 9999, 777)
	require.NoError(t, err)
	assert.True(t, res.Lifetime)
	assert.Equal(t, TierPro, res.Tier)
	assert.Equal(t, now.AddDate(0, 0, LifetimeDays), res.ExpiresAt)
}

func TestGrantEnsuresActivityRecord(t *testing.T) {
	var ensured []int64
	l := New(WithActivityEnsure(func(id int64) { ensured = append(ensured, id) }))

	_, err := l.Grant(1001, TierPremium, 30, 777)
	require.NoError(t, err)
	assert.Equal(t, []int64{1001}, ensured)
}

func TestGrantRejectsBadInput(t *testing.T) {
	l := New()
	_, err := l.Grant(1, TierPremium, 0, 777)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = l.Grant(1, TierFree, 30, 777)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestIsActiveBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.AddDate(0, 0, 30)

	sub := &Subscription{Tier: TierPremium, ExpiresAt: &expires}
	assert.True(t, sub.IsActiveAt(now))
	assert.True(t, sub.IsActiveAt(expires.Add(-time.Second)))
	// Expiry is exclusive: at the exact timestamp access is gone.
	assert.False(t, sub.IsActiveAt(expires))
	assert.False(t, sub.IsActiveAt(expires.Add(time.Second)))

	free := &Subscription{Tier: TierFree}
	assert.False(t, free.IsActiveAt(now))

	noExpiry := &Subscription{Tier: TierPremium}
	assert.False(t, noExpiry.IsActiveAt(now))
}

func TestRevokeWithoutActiveSubscription(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(fixedClock(now)))

	// Unknown user.
	assert.ErrorIs(t, l.Revoke(5), apperr.ErrNoActiveSubscription)

	// Expired tier reads as FREE.
	_, err := l.Grant(5, TierPremium, 30, 777)
	require.NoError(t, err)
	clock := now.AddDate(0, 0, 31)
	l.now = fixedClock(clock)
	assert.ErrorIs(t, l.Revoke(5), apperr.ErrNoActiveSubscription)

	// No mutation happened: history unchanged.
	assert.Len(t, l.Get(5).Transactions, 1)
}

func TestGrantRevokeRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(fixedClock(now)))

	_, err := l.Grant(42, TierPremium, 30, 777)
	require.NoError(t, err)
	assert.True(t, l.IsActive(42))

	sub := l.Get(42)
	require.NotNil(t, sub.ExpiresAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *sub.ExpiresAt)

	require.NoError(t, l.Revoke(42))
	assert.False(t, l.IsActive(42))

	sub = l.Get(42)
	assert.Equal(t, TierFree, sub.Tier)
	assert.Nil(t, sub.ExpiresAt)
	assert.Len(t, sub.Transactions, 1)
}

func TestAggregates(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(fixedClock(now)))

	_, err := l.Grant(1, TierPremium, 30, 777)
	require.NoError(t, err)
	_, err = l.Grant(2, TierPro, 90, 777)
	require.NoError(t, err)
	require.NoError(t, l.Record(3, TierPremium, 30, "premium_month", 299))

	assert.Equal(t, 3, l.ActiveCount())
	assert.InDelta(t, 299, l.Revenue(), 0.001)

	counts := l.ActiveTierCounts()
	assert.Equal(t, 2, counts[TierPremium])
	assert.Equal(t, 1, counts[TierPro])
}

func TestRestoreStateRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(WithClock(fixedClock(now)))
	_, err := l.Grant(42, TierPremium, 30, 777)
	require.NoError(t, err)

	other := New(WithClock(fixedClock(now)))
	other.RestoreState(l.ExportState())
	assert.True(t, other.IsActive(42))
	assert.Len(t, other.Get(42).Transactions, 1)
}
