package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/edubot/internal/apperr"
)

func TestEnsureDefaults(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	rec := s.Ensure(42)
	assert.Equal(t, int64(42), rec.UserID)
	assert.Zero(t, rec.Rating)
	assert.Equal(t, 1000, rec.ELO)
	assert.Equal(t, now, rec.FirstSeen)
	assert.Equal(t, now, rec.LastActivity)

	// Ensure is idempotent.
	s.SetRating(42, 50)
	again := s.Ensure(42)
	assert.Equal(t, 50, again.Rating)
	assert.Equal(t, 1, s.Count())
}

func TestGetUnknown(t *testing.T) {
	s := NewStore()
	_, err := s.Get(99)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.False(t, s.Has(99))
}

func TestRatingFloorsAtZero(t *testing.T) {
	s := NewStore()

	assert.Equal(t, 0, s.SetRating(1, -10))
	assert.Equal(t, 40, s.SetRating(1, 40))
	assert.Equal(t, 0, s.AdjustRating(1, -100))
	assert.Equal(t, 25, s.AdjustRating(1, 25))
	assert.Equal(t, 500, s.SetRating(1, 500))
}

func TestBanUnban(t *testing.T) {
	s := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	// Ban creates the record when missing.
	s.Ban(7, "spam")
	rec, err := s.Get(7)
	require.NoError(t, err)
	assert.True(t, rec.Banned)
	assert.Equal(t, "spam", rec.BanReason)
	assert.Equal(t, now, rec.BannedAt)

	require.NoError(t, s.Unban(7))
	rec, err = s.Get(7)
	require.NoError(t, err)
	assert.False(t, rec.Banned)
	assert.Empty(t, rec.BanReason)
	assert.True(t, rec.BannedAt.IsZero())

	assert.ErrorIs(t, s.Unban(8), apperr.ErrNotFound)
}

func TestPruneTopicTouchesOnlyHolders(t *testing.T) {
	s := NewStore()
	s.GrantTopic(1, "nouns")
	s.GrantTopic(1, "verbs")
	s.MarkCompleted(2, "nouns")
	s.GrantTopic(3, "verbs")

	assert.Equal(t, 2, s.PruneTopic("nouns"))

	one, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"verbs"}, one.AvailableTopics)
	two, err := s.Get(2)
	require.NoError(t, err)
	assert.Empty(t, two.CompletedTopics)
	three, err := s.Get(3)
	require.NoError(t, err)
	assert.Equal(t, []string{"verbs"}, three.AvailableTopics)

	// Nothing holds the key anymore.
	assert.Zero(t, s.PruneTopic("nouns"))
}

func TestGrantAndCompleteAreIdempotent(t *testing.T) {
	s := NewStore()
	s.GrantTopic(1, "nouns")
	s.GrantTopic(1, "nouns")
	s.MarkCompleted(1, "nouns")
	s.MarkCompleted(1, "nouns")

	rec, err := s.Get(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"nouns"}, rec.AvailableTopics)
	assert.Equal(t, []string{"nouns"}, rec.CompletedTopics)
	assert.Equal(t, 1, rec.LessonsCompleted)
}

func TestTopOrdering(t *testing.T) {
	s := NewStore()
	s.SetRating(3, 100)
	s.SetRating(1, 250)
	s.SetRating(2, 100)
	s.SetRating(4, 5)

	top := s.Top(3)
	require.Len(t, top, 3)
	assert.Equal(t, int64(1), top[0].UserID)
	// Equal ratings break ties by user id.
	assert.Equal(t, int64(2), top[1].UserID)
	assert.Equal(t, int64(3), top[2].UserID)

	assert.Len(t, s.Top(0), 4)
}

func TestAccuracy(t *testing.T) {
	rec := &Record{}
	assert.Zero(t, rec.Accuracy())
	rec.QuestionsAnswered = 8
	rec.CorrectAnswers = 6
	assert.InDelta(t, 75.0, rec.Accuracy(), 0.001)
}

func TestRestoreStateRoundTrip(t *testing.T) {
	s := NewStore()
	s.SetRating(1, 10)
	s.Ban(2, "abuse")

	fresh := NewStore()
	fresh.RestoreState(s.ExportState())
	assert.Equal(t, 2, fresh.Count())
	rec, err := fresh.Get(2)
	require.NoError(t, err)
	assert.True(t, rec.Banned)
}
