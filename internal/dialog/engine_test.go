package dialog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/edubot/internal/activity"
	"github.com/m3rciful/edubot/internal/apperr"
	"github.com/m3rciful/edubot/internal/arena"
	"github.com/m3rciful/edubot/internal/catalog"
	"github.com/m3rciful/edubot/internal/ledger"
	"github.com/m3rciful/edubot/internal/notify"
)

type fakeCommitter struct {
	commits int
	err     error
}

func (f *fakeCommitter) Commit(context.Context) error {
	f.commits++
	return f.err
}

type fakeNotifier struct {
	sent []int64
	err  error
}

func (f *fakeNotifier) Notify(userID int64, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, userID)
	return nil
}

type memArtifacts struct {
	saved   map[string][]byte
	saveErr error
}

func (m *memArtifacts) Save(key string, data []byte) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	if m.saved == nil {
		m.saved = make(map[string][]byte)
	}
	m.saved[key] = data
	return nil
}

func (m *memArtifacts) Remove(key string) error {
	delete(m.saved, key)
	return nil
}

func newEngine() (*Engine, *fakeCommitter, *fakeNotifier) {
	committer := &fakeCommitter{}
	notifier := &fakeNotifier{}
	act := activity.NewStore()
	e := &Engine{
		AdminID:   777,
		Ledger:    ledger.New(ledger.WithActivityEnsure(func(id int64) { act.Ensure(id) })),
		Catalog:   catalog.NewStore(),
		Arena:     arena.NewRegistry(),
		Activity:  act,
		Committer: committer,
		Notifier:  notifier,
		Artifacts: &memArtifacts{},
	}
	return e, committer, notifier
}

const topicDoc = `{
  "name": "Nouns",
  "questions": [
    {"question": "Pick a noun", "options": ["run", "cat"], "correct": 1}
  ]
}`

func TestGivePremiumCommitsAndNotifies(t *testing.T) {
	e, committer, notifier := newEngine()

	summary, err := e.GivePremium(context.Background(), 42, Duration{Days: 30})
	require.NoError(t, err)
	assert.Contains(t, summary, "PREMIUM")
	assert.NotContains(t, summary, "Saving failed")
	assert.Equal(t, 1, committer.commits)
	assert.Equal(t, []int64{42}, notifier.sent)
	assert.True(t, e.Activity.Has(42))
}

func TestCommitFailureKeepsMutationAndWarns(t *testing.T) {
	e, committer, _ := newEngine()
	committer.err = errors.New("connection refused")

	summary, err := e.GivePremium(context.Background(), 42, Duration{Days: 30})
	require.NoError(t, err, "a persistence failure is not a workflow failure")
	assert.Contains(t, summary, "Saving failed")
	assert.Contains(t, summary, "connection refused")
	// The grant stands in memory.
	assert.True(t, e.Ledger.IsActive(42))
}

func TestNotifyFailureIsSwallowedWithWarning(t *testing.T) {
	e, _, notifier := newEngine()
	notifier.err = errors.New("blocked by user")

	summary, err := e.GivePremium(context.Background(), 42, Duration{Days: 30})
	require.NoError(t, err)
	assert.Contains(t, summary, "could not be notified")
	assert.True(t, e.Ledger.IsActive(42))
}

func TestNopNotifierKeepsSummaryClean(t *testing.T) {
	e, _, _ := newEngine()
	e.Notifier = notify.Nop{}

	summary, err := e.GivePremium(context.Background(), 42, Duration{Days: 30})
	require.NoError(t, err)
	assert.NotContains(t, summary, "could not be notified")
}

func TestRemovePremiumWithoutActiveSubscription(t *testing.T) {
	e, committer, _ := newEngine()

	_, err := e.RemovePremium(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.ErrNoActiveSubscription)
	assert.Zero(t, committer.commits, "a rejected revoke must not commit")
}

func TestEditPoints(t *testing.T) {
	e, _, _ := newEngine()
	e.Activity.SetRating(42, 100)

	edit, err := ParsePoints("-30")
	require.NoError(t, err)
	summary, err := e.EditPoints(context.Background(), 42, edit)
	require.NoError(t, err)
	assert.Contains(t, summary, "*70*")

	set, err := ParsePoints("500")
	require.NoError(t, err)
	summary, err = e.EditPoints(context.Background(), 42, set)
	require.NoError(t, err)
	assert.Contains(t, summary, "*500*")
}

func TestBanCascadesIntoDuels(t *testing.T) {
	e, committer, _ := newEngine()
	_, err := e.Arena.CreateWaiting(42, nil)
	require.NoError(t, err)

	summary, err := e.Ban(context.Background(), 42, "cheating")
	require.NoError(t, err)
	assert.Contains(t, summary, "banned")
	assert.Contains(t, summary, "duel was removed")
	assert.Equal(t, 1, committer.commits)

	rec, err := e.Activity.Get(42)
	require.NoError(t, err)
	assert.True(t, rec.Banned)
	_, ok := e.Arena.ActiveDuelOf(42)
	assert.False(t, ok)

	_, err = e.Ban(context.Background(), 43, "   ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUnban(t *testing.T) {
	e, _, _ := newEngine()
	e.Activity.Ban(42, "spam")

	_, err := e.Unban(context.Background(), 42)
	require.NoError(t, err)
	rec, err := e.Activity.Get(42)
	require.NoError(t, err)
	assert.False(t, rec.Banned)

	_, err = e.Unban(context.Background(), 99)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUploadTopicSavesArtifact(t *testing.T) {
	e, committer, _ := newEngine()

	topic, summary, err := e.UploadTopic(context.Background(), []byte(topicDoc), false)
	require.NoError(t, err)
	assert.Equal(t, "nouns", topic.Key)
	assert.Contains(t, summary, "`nouns`")
	assert.Equal(t, 1, committer.commits)

	artifacts := e.Artifacts.(*memArtifacts)
	assert.Equal(t, []byte(topicDoc), artifacts.saved["nouns"])
}

func TestUploadTopicOverwriteFlow(t *testing.T) {
	e, _, _ := newEngine()

	_, _, err := e.UploadTopic(context.Background(), []byte(topicDoc), false)
	require.NoError(t, err)

	_, _, err = e.UploadTopic(context.Background(), []byte(topicDoc), false)
	require.ErrorIs(t, err, catalog.ErrTopicExists)
	var exists *catalog.ExistsError
	require.True(t, errors.As(err, &exists))
	assert.Equal(t, "nouns", exists.Key)

	topic, _, err := e.UploadTopic(context.Background(), []byte(topicDoc), true)
	require.NoError(t, err)
	assert.Equal(t, "nouns", topic.Key)
	assert.Equal(t, 1, e.Catalog.Count())
}

func TestUploadTopicToleratesArtifactFailure(t *testing.T) {
	e, _, _ := newEngine()
	e.Artifacts.(*memArtifacts).saveErr = errors.New("disk full")

	topic, _, err := e.UploadTopic(context.Background(), []byte(topicDoc), false)
	require.NoError(t, err, "artifact persistence is best-effort")
	assert.Equal(t, "nouns", topic.Key)
}

func TestEditTopicFieldPaths(t *testing.T) {
	e, _, _ := newEngine()
	_, _, err := e.UploadTopic(context.Background(), []byte(topicDoc), false)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = e.EditTopicField(ctx, "nouns", "name", "Common Nouns")
	require.NoError(t, err)
	_, err = e.EditTopicField(ctx, "nouns", "emoji", "📚")
	require.NoError(t, err)
	_, err = e.EditTopicField(ctx, "nouns", "premium", "yes")
	require.NoError(t, err)
	_, err = e.EditTopicField(ctx, "nouns", "order", "5")
	require.NoError(t, err)
	_, err = e.EditTopicField(ctx, "nouns", "theory", "Block one\n\nBlock two")
	require.NoError(t, err)
	_, err = e.EditTopicField(ctx, "nouns", "questions", "Pick one|a|b|c|d|2")
	require.NoError(t, err)

	topic, err := e.Catalog.Get("nouns")
	require.NoError(t, err)
	// The key never follows a rename.
	assert.Equal(t, "nouns", topic.Key)
	assert.Equal(t, "Common Nouns", topic.Name)
	assert.True(t, topic.Premium)
	assert.Equal(t, 5, topic.Order)
	assert.Len(t, topic.Theory, 2)
	assert.Len(t, topic.Questions, 2)

	_, err = e.EditTopicField(ctx, "nouns", "order", "abc")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = e.EditTopicField(ctx, "nouns", "premium", "maybe")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = e.EditTopicField(ctx, "nouns", "color", "red")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = e.EditTopicField(ctx, "missing", "name", "X")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteTopicCascades(t *testing.T) {
	e, committer, _ := newEngine()
	_, _, err := e.UploadTopic(context.Background(), []byte(topicDoc), false)
	require.NoError(t, err)
	e.Activity.GrantTopic(1, "nouns")
	e.Activity.MarkCompleted(2, "nouns")

	summary, err := e.DeleteTopic(context.Background(), "nouns")
	require.NoError(t, err)
	assert.Contains(t, summary, "2 user records")
	assert.Equal(t, 2, committer.commits)

	_, err = e.Catalog.Get("nouns")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	artifacts := e.Artifacts.(*memArtifacts)
	assert.NotContains(t, artifacts.saved, "nouns")

	_, err = e.DeleteTopic(context.Background(), "nouns")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDuelMaintenance(t *testing.T) {
	e, _, _ := newEngine()
	_, err := e.Arena.CreateWaiting(1, nil)
	require.NoError(t, err)
	_, err = e.Arena.Join(2)
	require.NoError(t, err)
	_, err = e.Arena.CreateWaiting(3, nil)
	require.NoError(t, err)

	summary, err := e.DuelsEndAll(context.Background())
	require.NoError(t, err)
	assert.Contains(t, summary, "1 duels")

	summary, err = e.DuelsClearWaiting(context.Background())
	require.NoError(t, err)
	assert.Contains(t, summary, "1 waiting")

	// Both operations are safe to repeat.
	summary, err = e.DuelsClearWaiting(context.Background())
	require.NoError(t, err)
	assert.Contains(t, summary, "0 waiting")
}

func TestBroadcastAudiences(t *testing.T) {
	e, _, notifier := newEngine()
	e.Activity.Ensure(1)
	e.Activity.Ensure(2)
	e.Activity.Ensure(3)
	_, err := e.Ledger.Grant(2, ledger.TierPremium, 30, e.AdminID)
	require.NoError(t, err)

	summary, err := e.Broadcast(context.Background(), "hello", AudienceAll)
	require.NoError(t, err)
	assert.Contains(t, summary, "3 delivered")

	notifier.sent = nil
	summary, err = e.Broadcast(context.Background(), "hello", AudiencePremium)
	require.NoError(t, err)
	assert.Contains(t, summary, "1 delivered")
	assert.Equal(t, []int64{2}, notifier.sent)

	notifier.sent = nil
	_, err = e.Broadcast(context.Background(), "hello", AudienceTest)
	require.NoError(t, err)
	assert.Equal(t, []int64{e.AdminID}, notifier.sent)

	_, err = e.Broadcast(context.Background(), "  ", AudienceAll)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestBroadcastCountsFailures(t *testing.T) {
	e, _, notifier := newEngine()
	e.Activity.Ensure(1)
	e.Activity.Ensure(2)
	notifier.err = errors.New("blocked")

	summary, err := e.Broadcast(context.Background(), "hello", AudienceAll)
	require.NoError(t, err)
	assert.Contains(t, summary, "0 delivered, 2 failed")
}

func TestParseQuestionLine(t *testing.T) {
	q, err := catalog.ParseQuestionLine(" Pick one | a | b | c | d | 2 ")
	require.NoError(t, err)
	assert.Equal(t, "Pick one", q.Question)
	assert.Equal(t, []string{"a", "b", "c", "d"}, q.Options)
	assert.Equal(t, 2, q.Correct)

	bad := []string{
		"too|few|fields",
		"q|a|b|c|d|4",
		"q|a|b|c|d|-1",
		"q|a|b|c|d|x",
		"|a|b|c|d|0",
		"q||b|c|d|0",
		"q|a|b|c|d|0|extra",
	}
	for _, line := range bad {
		_, err := catalog.ParseQuestionLine(line)
		assert.ErrorIs(t, err, apperr.ErrValidation, "line %q", line)
	}
}

func TestSummariesAvoidLeadingWhitespace(t *testing.T) {
	e, _, _ := newEngine()
	summary, err := e.GivePremium(context.Background(), 42, Duration{Days: 30})
	require.NoError(t, err)
	assert.Equal(t, summary, strings.TrimSpace(summary))
}
