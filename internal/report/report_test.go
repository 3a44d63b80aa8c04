package report

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/edubot/internal/activity"
	"github.com/m3rciful/edubot/internal/apperr"
	"github.com/m3rciful/edubot/internal/arena"
	"github.com/m3rciful/edubot/internal/catalog"
	"github.com/m3rciful/edubot/internal/ledger"
)

func newReporter(t *testing.T) (*Reporter, *ledger.Ledger, *catalog.Store, *arena.Registry, *activity.Store) {
	t.Helper()
	l := ledger.New()
	c := catalog.NewStore()
	a := arena.NewRegistry()
	act := activity.NewStore()
	return New(l, c, a, act), l, c, a, act
}

func TestStatsOnEmptyStores(t *testing.T) {
	r, _, _, _, _ := newReporter(t)

	s := r.Stats()
	assert.Zero(t, s.Users)
	assert.Zero(t, s.PremiumActive)
	assert.Zero(t, s.Revenue)
	assert.Zero(t, s.Topics)
	assert.Zero(t, s.DuelsInProgress)
	assert.Zero(t, s.DuelsWaiting)
	// No answered questions means no accuracy, not a division by zero.
	assert.Zero(t, s.AvgAccuracy)
	assert.Zero(t, s.BannedUsers)
}

func TestStatsAggregates(t *testing.T) {
	r, l, c, a, act := newReporter(t)

	_, err := l.Grant(1, ledger.TierPremium, 30, 777)
	require.NoError(t, err)
	require.NoError(t, l.Record(2, ledger.TierPro, 90, "pro_quarter", 899))

	_, err = c.Upload(&catalog.Topic{
		Name:  "Nouns",
		Order: -1,
		Questions: []catalog.Question{
			{Question: "q", Options: []string{"a", "b"}, Correct: 0},
		},
	}, false)
	require.NoError(t, err)

	_, err = a.CreateWaiting(5, nil)
	require.NoError(t, err)

	act.Ban(9, "spam")

	s := r.Stats()
	// The ledger ensured records for 1 and 2 only when wired; here the
	// activity store saw just the banned user.
	assert.Equal(t, 1, s.Users)
	assert.Equal(t, 2, s.PremiumActive)
	assert.Equal(t, 1, s.PremiumByTier[string(ledger.TierPremium)])
	assert.Equal(t, 1, s.PremiumByTier[string(ledger.TierPro)])
	assert.InDelta(t, 899, s.Revenue, 0.001)
	assert.Equal(t, 1, s.Topics)
	assert.Zero(t, s.DuelsInProgress)
	assert.Equal(t, 1, s.DuelsWaiting)
	assert.Equal(t, 1, s.BannedUsers)
}

func TestStatsServesCachedCopy(t *testing.T) {
	r, _, _, _, act := newReporter(t)

	first := r.Stats()
	assert.Zero(t, first.Users)

	// A mutation inside the cache window is not visible yet.
	act.Ensure(1)
	cached := r.Stats()
	assert.Zero(t, cached.Users)

	r.cache.Delete(statsCacheKey)
	fresh := r.Stats()
	assert.Equal(t, 1, fresh.Users)
}

func TestUsersCSV(t *testing.T) {
	r, l, _, _, act := newReporter(t)
	act.SetRating(42, 120)
	_, err := l.Grant(42, ledger.TierPremium, 30, 777)
	require.NoError(t, err)

	data, err := r.UsersCSV()
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, userCSVHeader, rows[0])
	assert.Equal(t, "42", rows[1][0])
	assert.Equal(t, "120", rows[1][1])
	assert.Equal(t, "0.0", rows[1][5])
	assert.Equal(t, "true", rows[1][11])
}

func TestTransactionsCSV(t *testing.T) {
	r, l, _, _, _ := newReporter(t)
	_, err := l.Grant(1, ledger.TierPremium, 30, 777)
	require.NoError(t, err)
	require.NoError(t, l.Record(2, ledger.TierPremium, 30, "premium_month", 299))

	data, err := r.TransactionsCSV()
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, txCSVHeader, rows[0])

	byUser := map[string][]string{rows[1][0]: rows[1], rows[2][0]: rows[2]}
	gift := byUser["1"]
	require.NotNil(t, gift)
	assert.Equal(t, "admin_gift", gift[1])
	assert.Equal(t, "0.00", gift[2])
	assert.Equal(t, "777", gift[5])

	paid := byUser["2"]
	require.NotNil(t, paid)
	assert.Equal(t, "premium_month", paid[1])
	assert.Equal(t, "299.00", paid[2])
	assert.Empty(t, paid[5])
}

func TestUserJSON(t *testing.T) {
	r, l, _, _, act := newReporter(t)

	_, err := r.UserJSON(1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	act.Ensure(1)
	_, err = l.Grant(1, ledger.TierPremium, 30, 777)
	require.NoError(t, err)

	data, err := r.UserJSON(1)
	require.NoError(t, err)

	var doc struct {
		Activity     *activity.Record     `json:"activity"`
		Subscription *ledger.Subscription `json:"subscription"`
		Active       bool                 `json:"subscription_active"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, int64(1), doc.Activity.UserID)
	assert.True(t, doc.Active)
}

func TestDuelJSON(t *testing.T) {
	r, _, _, a, _ := newReporter(t)

	_, err := r.DuelJSON("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	d, err := a.CreateWaiting(1, nil)
	require.NoError(t, err)

	data, err := r.DuelJSON(d.ID)
	require.NoError(t, err)

	var doc arena.Duel
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, d.ID, doc.ID)
	assert.Equal(t, arena.StatusWaiting, doc.Status)
	assert.Equal(t, int64(1), doc.Player1)
}

func TestExportName(t *testing.T) {
	a := ExportName("users", "csv")
	b := ExportName("users", "csv")
	assert.True(t, strings.HasPrefix(a, "users_"))
	assert.True(t, strings.HasSuffix(a, ".csv"))
	assert.NotEqual(t, a, b)
}
