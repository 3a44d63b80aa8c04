package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/edubot/internal/activity"
	"github.com/m3rciful/edubot/internal/apperr"
	"github.com/m3rciful/edubot/internal/arena"
	"github.com/m3rciful/edubot/internal/catalog"
	"github.com/m3rciful/edubot/internal/ledger"
)

func populatedStores(t *testing.T) Stores {
	t.Helper()
	s := Stores{
		Ledger:   ledger.New(),
		Catalog:  catalog.NewStore(),
		Arena:    arena.NewRegistry(),
		Activity: activity.NewStore(),
	}

	_, err := s.Ledger.Grant(42, ledger.TierPremium, 30, 777)
	require.NoError(t, err)

	_, err = s.Catalog.Upload(&catalog.Topic{
		Name:  "Nouns",
		Order: -1,
		Questions: []catalog.Question{
			{Question: "q", Options: []string{"a", "b"}, Correct: 1},
		},
	}, false)
	require.NoError(t, err)

	_, err = s.Arena.CreateWaiting(1, nil)
	require.NoError(t, err)
	_, err = s.Arena.Join(2)
	require.NoError(t, err)

	s.Activity.SetRating(42, 100)
	s.Activity.Ban(9, "spam")
	return s
}

func TestExportEncodeDecodeRestoreRoundTrip(t *testing.T) {
	src := populatedStores(t)

	data, err := Encode(src.Export())
	require.NoError(t, err)

	doc, err := Decode(data)
	require.NoError(t, err)
	assert.False(t, doc.SavedAt.IsZero())

	dst := Stores{
		Ledger:   ledger.New(),
		Catalog:  catalog.NewStore(),
		Arena:    arena.NewRegistry(),
		Activity: activity.NewStore(),
	}
	dst.Restore(doc)

	assert.True(t, dst.Ledger.IsActive(42))
	assert.Equal(t, []string{"nouns"}, dst.Catalog.Order())

	inProgress, waiting := dst.Arena.Counts()
	assert.Equal(t, 1, inProgress)
	assert.Zero(t, waiting)
	_, ok := dst.Arena.ActiveDuelOf(2)
	assert.True(t, ok)

	assert.Equal(t, 2, dst.Activity.Count())
	rec, err := dst.Activity.Get(9)
	require.NoError(t, err)
	assert.True(t, rec.Banned)
}

func TestDecodeCorruptPayload(t *testing.T) {
	_, err := Decode([]byte("{not json"))
	assert.ErrorIs(t, err, apperr.ErrPersistence)
}
