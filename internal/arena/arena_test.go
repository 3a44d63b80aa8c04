package arena

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/edubot/internal/apperr"
	"github.com/m3rciful/edubot/internal/catalog"
)

func sampleQuestions() []catalog.Question {
	return []catalog.Question{
		{Question: "q1", Options: []string{"a", "b"}, Correct: 0},
	}
}

func TestCreateWaitingAndJoin(t *testing.T) {
	r := NewRegistry()

	d, err := r.CreateWaiting(1, sampleQuestions())
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, d.Status)
	assert.Equal(t, int64(1), d.Player1)

	// Player1 cannot queue twice.
	_, err = r.CreateWaiting(1, sampleQuestions())
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// Player1 cannot join their own waiting duel.
	_, err = r.Join(1)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	joined, err := r.Join(2)
	require.NoError(t, err)
	assert.Equal(t, d.ID, joined.ID)
	assert.Equal(t, StatusInProgress, joined.Status)
	assert.Equal(t, int64(2), joined.Player2)

	inProgress, waiting := r.Counts()
	assert.Equal(t, 1, inProgress)
	assert.Zero(t, waiting)

	id, ok := r.ActiveDuelOf(2)
	assert.True(t, ok)
	assert.Equal(t, d.ID, id)
}

func TestJoinEmptyQueue(t *testing.T) {
	r := NewRegistry()
	_, err := r.Join(2)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestForceCompleteAllCountsAndClearsBackrefs(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateWaiting(1, sampleQuestions())
	require.NoError(t, err)
	_, err = r.Join(2)
	require.NoError(t, err)
	_, err = r.CreateWaiting(3, sampleQuestions())
	require.NoError(t, err)

	// One in progress, one still waiting.
	assert.Equal(t, 1, r.ForceCompleteAll())

	_, ok := r.ActiveDuelOf(1)
	assert.False(t, ok)
	_, ok = r.ActiveDuelOf(2)
	assert.False(t, ok)
	// The waiting duel is untouched.
	_, ok = r.ActiveDuelOf(3)
	assert.True(t, ok)

	inProgress, waiting := r.Counts()
	assert.Zero(t, inProgress)
	assert.Equal(t, 1, waiting)

	// Nothing left to complete.
	assert.Zero(t, r.ForceCompleteAll())
}

func TestPurgeWaitingIsIdempotent(t *testing.T) {
	r := NewRegistry()
	d1, err := r.CreateWaiting(1, sampleQuestions())
	require.NoError(t, err)
	_, err = r.CreateWaiting(2, sampleQuestions())
	require.NoError(t, err)

	assert.Equal(t, 2, r.PurgeWaiting())

	_, err = r.Get(d1.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, ok := r.ActiveDuelOf(1)
	assert.False(t, ok)
	_, ok = r.ActiveDuelOf(2)
	assert.False(t, ok)

	// Second purge finds nothing.
	assert.Zero(t, r.PurgeWaiting())

	// Both players can queue again.
	_, err = r.CreateWaiting(1, sampleQuestions())
	assert.NoError(t, err)
}

func TestEvictUserFromWaitingDuel(t *testing.T) {
	r := NewRegistry()
	d, err := r.CreateWaiting(1, sampleQuestions())
	require.NoError(t, err)

	id, ok := r.EvictUser(1)
	require.True(t, ok)
	assert.Equal(t, d.ID, id)

	_, err = r.Get(d.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, waiting := r.Counts()
	assert.Zero(t, waiting)
	_, ok = r.ActiveDuelOf(1)
	assert.False(t, ok)
}

func TestEvictUserFromRunningDuelFreesOpponent(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateWaiting(1, sampleQuestions())
	require.NoError(t, err)
	d, err := r.Join(2)
	require.NoError(t, err)

	id, ok := r.EvictUser(2)
	require.True(t, ok)
	assert.Equal(t, d.ID, id)

	// The opponent's back-reference is cleared too so they can re-queue.
	_, ok = r.ActiveDuelOf(1)
	assert.False(t, ok)
	_, err = r.CreateWaiting(1, sampleQuestions())
	assert.NoError(t, err)
}

func TestEvictUnknownUser(t *testing.T) {
	r := NewRegistry()
	_, ok := r.EvictUser(99)
	assert.False(t, ok)
}

func TestSweepStale(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	_, err := r.CreateWaiting(1, sampleQuestions())
	require.NoError(t, err)
	_, err = r.Join(2)
	require.NoError(t, err)
	_, err = r.CreateWaiting(3, sampleQuestions())
	require.NoError(t, err)

	// Nothing is stale yet.
	assert.Zero(t, r.SweepStale(30*time.Minute))

	r.now = func() time.Time { return base.Add(time.Hour) }
	assert.Equal(t, 2, r.SweepStale(30*time.Minute))

	inProgress, waiting := r.Counts()
	assert.Zero(t, inProgress)
	assert.Zero(t, waiting)
	_, ok := r.ActiveDuelOf(3)
	assert.False(t, ok)
}

func TestForceCompleteAllKeepsNewerBackref(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := &Duel{ID: "old", Player1: 1, Player2: 2, Status: StatusInProgress, StartTime: base}
	requeued := &Duel{ID: "requeued", Player1: 2, Status: StatusWaiting, StartTime: base}

	r := NewRegistry()
	r.RestoreState(State{
		Duels:   []*Duel{old, requeued},
		Waiting: []string{"requeued"},
		UserDuels: map[int64]string{
			1: "old",
			// Player 2 already re-queued into a newer duel.
			2: "requeued",
		},
	})

	assert.Equal(t, 1, r.ForceCompleteAll())

	_, ok := r.ActiveDuelOf(1)
	assert.False(t, ok)
	id, ok := r.ActiveDuelOf(2)
	assert.True(t, ok, "the newer binding must survive completing the old duel")
	assert.Equal(t, "requeued", id)
}

func TestSweepStaleKeepsNewerBackref(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := &Duel{ID: "old", Player1: 1, Player2: 2, Status: StatusInProgress, StartTime: base}
	requeued := &Duel{ID: "requeued", Player1: 2, Status: StatusWaiting, StartTime: base.Add(time.Hour)}

	r := NewRegistry()
	r.RestoreState(State{
		Duels:     []*Duel{old, requeued},
		Waiting:   []string{"requeued"},
		UserDuels: map[int64]string{1: "old", 2: "requeued"},
	})
	r.now = func() time.Time { return base.Add(45 * time.Minute) }

	assert.Equal(t, 1, r.SweepStale(30*time.Minute))
	id, ok := r.ActiveDuelOf(2)
	assert.True(t, ok)
	assert.Equal(t, "requeued", id)
}

func TestRestoreStateRoundTrip(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateWaiting(1, sampleQuestions())
	require.NoError(t, err)
	_, err = r.Join(2)
	require.NoError(t, err)

	fresh := NewRegistry()
	fresh.RestoreState(r.ExportState())

	inProgress, waiting := fresh.Counts()
	assert.Equal(t, 1, inProgress)
	assert.Zero(t, waiting)
	id, ok := fresh.ActiveDuelOf(2)
	assert.True(t, ok)
	got, err := fresh.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}
