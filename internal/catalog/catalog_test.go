package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/edubot/internal/apperr"
)

func validTopic(name string) *Topic {
	return &Topic{
		Name:  name,
		Order: -1,
		Questions: []Question{
			{Question: "2+2?", Options: []string{"3", "4"}, Correct: 1},
		},
	}
}

func TestDeriveKey(t *testing.T) {
	assert.Equal(t, "test_topic", DeriveKey("Test Topic!"))
	assert.Equal(t, "nouns_101", DeriveKey("Nouns 101"))
	assert.Equal(t, "a_b_c", DeriveKey("  a  b  c  "))
}

func TestUploadValidationRejectsBeforeWrite(t *testing.T) {
	s := NewStore()

	cases := []*Topic{
		nil,
		{Name: "", Order: -1, Questions: []Question{{Question: "q", Options: []string{"a", "b"}, Correct: 0}}},
		{Name: "No questions", Order: -1},
		{Name: "One option", Order: -1, Questions: []Question{{Question: "q", Options: []string{"a"}, Correct: 0}}},
		// correct == len(options) is out of bounds.
		{Name: "Bad index", Order: -1, Questions: []Question{{Question: "q", Options: []string{"a", "b", "c", "d"}, Correct: 4}}},
		{Name: "Negative index", Order: -1, Questions: []Question{{Question: "q", Options: []string{"a", "b"}, Correct: -1}}},
	}
	for i, doc := range cases {
		_, err := s.Upload(doc, false)
		assert.ErrorIs(t, err, apperr.ErrValidation, "case %d", i)
	}
	assert.Zero(t, s.Count(), "a rejected upload must not write")
	assert.Empty(t, s.Order())
}

func TestUploadDefaultsAndOrderAppend(t *testing.T) {
	s := NewStore()

	first, err := s.Upload(validTopic("First"), false)
	require.NoError(t, err)
	assert.Equal(t, "first", first.Key)
	assert.Equal(t, "📝", first.Emoji)
	assert.False(t, first.Premium)
	assert.Empty(t, first.Theory)
	assert.Equal(t, 0, first.Order)

	second, err := s.Upload(validTopic("Test Topic!"), false)
	require.NoError(t, err)
	assert.Equal(t, "test_topic", second.Key)
	assert.Equal(t, 1, second.Order)
	assert.Equal(t, []string{"first", "test_topic"}, s.Order())
}

func TestUploadExistingKeyNeedsForce(t *testing.T) {
	s := NewStore()
	_, err := s.Upload(validTopic("Dup"), false)
	require.NoError(t, err)

	_, err = s.Upload(validTopic("Dup"), false)
	require.ErrorIs(t, err, ErrTopicExists)
	var exists *ExistsError
	require.True(t, errors.As(err, &exists))
	assert.Equal(t, "dup", exists.Key)

	overwrite := validTopic("Dup")
	overwrite.Questions = append(overwrite.Questions, Question{
		Question: "3+3?", Options: []string{"5", "6"}, Correct: 1,
	})
	got, err := s.Upload(overwrite, true)
	require.NoError(t, err)
	assert.Len(t, got.Questions, 2)
	assert.Equal(t, 1, s.Count())
}

func TestSetOrderStableResort(t *testing.T) {
	s := NewStore()
	for _, name := range []string{"A", "B", "C", "D"} {
		_, err := s.Upload(validTopic(name), false)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, s.Order())

	// Give A the same order value as C; the tie keeps their previous
	// relative sequence.
	require.NoError(t, s.SetOrder("a", 2))
	assert.Equal(t, []string{"b", "a", "c", "d"}, s.Order())

	require.NoError(t, s.SetOrder("d", -1))
	assert.Equal(t, []string{"d", "b", "a", "c"}, s.Order())

	assert.ErrorIs(t, s.SetOrder("missing", 1), apperr.ErrNotFound)
}

func TestSetTheorySplitAndClear(t *testing.T) {
	s := NewStore()
	_, err := s.Upload(validTopic("Theory"), false)
	require.NoError(t, err)

	require.NoError(t, s.SetTheory("theory", "First block\n\n  Second block  \n\nThird"))
	topic, err := s.Get("theory")
	require.NoError(t, err)
	assert.Equal(t, []string{"First block", "Second block", "Third"}, topic.Theory)

	require.NoError(t, s.SetTheory("theory", "clear"))
	topic, err = s.Get("theory")
	require.NoError(t, err)
	assert.Empty(t, topic.Theory)
}

func TestAppendQuestionValidation(t *testing.T) {
	s := NewStore()
	_, err := s.Upload(validTopic("Quiz"), false)
	require.NoError(t, err)

	err = s.AppendQuestion("quiz", Question{Question: "q", Options: []string{"a"}, Correct: 0})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = s.AppendQuestion("quiz", Question{Question: "q", Options: []string{"a", "b"}, Correct: 2})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = s.AppendQuestion("quiz", Question{Question: "q", Options: []string{"a", "b"}, Correct: 1})
	require.NoError(t, err)
	topic, err := s.Get("quiz")
	require.NoError(t, err)
	assert.Len(t, topic.Questions, 2)
}

type fakePruner struct{ pruned []string }

func (p *fakePruner) PruneTopic(key string) int {
	p.pruned = append(p.pruned, key)
	return 3
}

type failingArtifacts struct{}

func (failingArtifacts) Remove(string) error { return errors.New("artifact store offline") }

func TestDeleteCascades(t *testing.T) {
	s := NewStore()
	_, err := s.Upload(validTopic("Doomed"), false)
	require.NoError(t, err)
	_, err = s.Upload(validTopic("Keeper"), false)
	require.NoError(t, err)

	pruner := &fakePruner{}
	pruned, artifactErr, err := s.Delete("doomed", pruner, failingArtifacts{})
	require.NoError(t, err)
	assert.Equal(t, 3, pruned)
	assert.Error(t, artifactErr, "artifact failure is reported but tolerated")
	assert.Equal(t, []string{"doomed"}, pruner.pruned)

	_, err = s.Get("doomed")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{"keeper"}, s.Order())

	// Deleting again is NotFound, not a crash.
	_, _, err = s.Delete("doomed", pruner, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRestoreStateRebuildsOrder(t *testing.T) {
	s := NewStore()
	_, err := s.Upload(validTopic("One"), false)
	require.NoError(t, err)
	_, err = s.Upload(validTopic("Two"), false)
	require.NoError(t, err)

	st := s.ExportState()
	fresh := NewStore()
	fresh.RestoreState(st)
	assert.Equal(t, s.Order(), fresh.Order())
	assert.Equal(t, 2, fresh.Count())
}
