package dialog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"log/slog"

	"github.com/m3rciful/edubot/core/logger"
	"github.com/m3rciful/edubot/core/telegram/format"
	"github.com/m3rciful/edubot/internal/activity"
	"github.com/m3rciful/edubot/internal/apperr"
	"github.com/m3rciful/edubot/internal/arena"
	"github.com/m3rciful/edubot/internal/catalog"
	"github.com/m3rciful/edubot/internal/ledger"
	"github.com/m3rciful/edubot/internal/notify"
	"github.com/m3rciful/edubot/internal/snapshot"
)

// ArtifactSaver persists the raw uploaded document alongside the
// catalog write so a deleted topic has an artifact to cascade onto.
type ArtifactSaver interface {
	catalog.ArtifactStore
	Save(key string, data []byte) error
}

// Engine executes the terminal step of every admin workflow: exactly
// one store mutation, then a durability commit, then a best-effort
// notification. Commit and notification failures never revert the
// mutation; they surface as suffixes on the admin-facing summary.
type Engine struct {
	AdminID   int64
	Ledger    *ledger.Ledger
	Catalog   *catalog.Store
	Arena     *arena.Registry
	Activity  *activity.Store
	Committer snapshot.Committer
	Notifier  notify.Notifier
	Artifacts ArtifactSaver
}

func (e *Engine) commitSuffix(ctx context.Context) string {
	if e.Committer == nil {
		return ""
	}
	if err := e.Committer.Commit(ctx); err != nil {
		logger.SVCFlow.Error("commit failed",
			slog.String("event", "flow.commit"),
			slog.String("err", err.Error()),
		)
		return fmt.Sprintf("\n\n⚠️ Saving failed: %v\nChanges are applied in memory and will persist on the next successful save.", err)
	}
	return ""
}

func (e *Engine) notifySuffix(userID int64, text string) string {
	if e.Notifier == nil {
		return ""
	}
	if err := e.Notifier.Notify(userID, text); err != nil {
		return "\n\nℹ️ The user could not be notified."
	}
	return ""
}

// GivePremium grants a paid tier for the parsed duration. Unknown users
// get a zero-rating activity record first; a grant never fails for a
// brand-new identity.
func (e *Engine) GivePremium(ctx context.Context, userID int64, dur Duration) (string, error) {
	res, err := e.Ledger.Grant(userID, ledger.TierPremium, dur.Days, e.AdminID)
	if err != nil {
		return "", err
	}

	logger.SVCLedger.Info("premium granted",
		slog.String("event", "ledger.grant"),
		slog.Int64("user_id", userID),
		slog.String("tier", string(res.Tier)),
		slog.Int("days", dur.Days),
		slog.Bool("lifetime", res.Lifetime),
	)

	var summary string
	if res.Lifetime {
		summary = fmt.Sprintf("✅ Lifetime %s granted to user `%d` (valid until %s).",
			res.Tier, userID, res.ExpiresAt.Format("02.01.2006"))
	} else {
		summary = fmt.Sprintf("✅ %s granted to user `%d` for %d days (until %s).",
			res.Tier, userID, dur.Days, res.ExpiresAt.Format("02.01.2006"))
	}

	summary += e.commitSuffix(ctx)
	summary += e.notifySuffix(userID, fmt.Sprintf(
		"🎉 You have been granted %s access until %s. Enjoy!",
		res.Tier, res.ExpiresAt.Format("02.01.2006")))
	return summary, nil
}

// RemovePremium revokes the user's active paid tier. History stays.
func (e *Engine) RemovePremium(ctx context.Context, userID int64) (string, error) {
	if err := e.Ledger.Revoke(userID); err != nil {
		return "", err
	}

	logger.SVCLedger.Info("premium revoked",
		slog.String("event", "ledger.revoke"),
		slog.Int64("user_id", userID),
	)

	summary := fmt.Sprintf("✅ Premium revoked from user `%d`.", userID)
	summary += e.commitSuffix(ctx)
	summary += e.notifySuffix(userID, "ℹ️ Your premium access has been revoked.")
	return summary, nil
}

// EditPoints applies a parsed points edit and reports the new balance.
func (e *Engine) EditPoints(ctx context.Context, userID int64, edit PointsEdit) (string, error) {
	var balance int
	if delta, ok := edit.Delta(); ok {
		balance = e.Activity.AdjustRating(userID, delta)
	} else {
		balance = e.Activity.SetRating(userID, edit.Value)
	}

	logger.SVCFlow.Info("points edited",
		slog.String("event", "flow.points"),
		slog.Int64("user_id", userID),
		slog.Int("balance", balance),
	)

	summary := fmt.Sprintf("✅ Points updated for user `%d`. New balance: *%d*.", userID, balance)
	summary += e.commitSuffix(ctx)
	return summary, nil
}

// Ban marks the user banned and evicts any duel they are part of from
// the registry, the waiting queue, and the back-reference map. The two
// store mutations form one logical step executed before persistence.
func (e *Engine) Ban(ctx context.Context, userID int64, reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", fmt.Errorf("%w: ban reason is required", apperr.ErrValidation)
	}

	e.Activity.Ban(userID, reason)
	duelID, evicted := e.Arena.EvictUser(userID)

	logger.SVCDuels.Info("user banned",
		slog.String("event", "duels.ban"),
		slog.Int64("user_id", userID),
		slog.Bool("duel_evicted", evicted),
		slog.String("duel_id", duelID),
	)

	summary := fmt.Sprintf("🚫 User `%d` banned.\nReason: %s", userID, mdSafe(reason))
	if evicted {
		summary += "\nTheir active duel was removed."
	}
	summary += e.commitSuffix(ctx)
	summary += e.notifySuffix(userID, fmt.Sprintf("🚫 You have been banned. Reason: %s", reason))
	return summary, nil
}

// Unban lifts a ban.
func (e *Engine) Unban(ctx context.Context, userID int64) (string, error) {
	if err := e.Activity.Unban(userID); err != nil {
		return "", err
	}
	summary := fmt.Sprintf("✅ User `%d` unbanned.", userID)
	summary += e.commitSuffix(ctx)
	summary += e.notifySuffix(userID, "✅ Your ban has been lifted.")
	return summary, nil
}

// UploadTopic validates and writes an uploaded topic document. When the
// derived key is already taken and force is false, ErrTopicExists comes
// back so the handler can stage the payload and ask for an explicit
// overwrite confirmation. Nothing is written in that case.
func (e *Engine) UploadTopic(ctx context.Context, data []byte, force bool) (*catalog.Topic, string, error) {
	doc, err := catalog.ParseDocument(data)
	if err != nil {
		return nil, "", err
	}
	topic, err := e.Catalog.Upload(doc, force)
	if err != nil {
		return nil, "", err
	}

	if e.Artifacts != nil {
		if err := e.Artifacts.Save(topic.Key, data); err != nil {
			logger.SVCCatalog.Warn("artifact save failed",
				slog.String("event", "catalog.artifact"),
				slog.String("key", topic.Key),
				slog.String("err", err.Error()),
			)
		}
	}

	logger.SVCCatalog.Info("topic uploaded",
		slog.String("event", "catalog.upload"),
		slog.String("key", topic.Key),
		slog.Int("questions", len(topic.Questions)),
		slog.Bool("overwrite", force),
	)

	summary := fmt.Sprintf("✅ Topic *%s* saved as `%s` (%d questions).",
		mdSafe(topic.Name), topic.Key, len(topic.Questions))
	summary += e.commitSuffix(ctx)
	return topic, summary, nil
}

// EditTopicField applies a single-field edit. The value syntax depends
// on the field; parsing failures re-prompt without mutating.
func (e *Engine) EditTopicField(ctx context.Context, key, field, value string) (string, error) {
	var err error
	switch field {
	case "name":
		err = e.Catalog.SetName(key, value)
	case "emoji":
		err = e.Catalog.SetEmoji(key, value)
	case "order":
		var order int
		order, err = parseOrder(value)
		if err == nil {
			err = e.Catalog.SetOrder(key, order)
		}
	case "premium":
		var premium bool
		premium, err = parseBool(value)
		if err == nil {
			err = e.Catalog.SetPremium(key, premium)
		}
	case "theory":
		err = e.Catalog.SetTheory(key, value)
	case "questions":
		var q catalog.Question
		q, err = catalog.ParseQuestionLine(value)
		if err == nil {
			err = e.Catalog.AppendQuestion(key, q)
		}
	default:
		return "", fmt.Errorf("%w: unknown field %q", apperr.ErrValidation, field)
	}
	if err != nil {
		return "", err
	}

	logger.SVCCatalog.Info("topic field edited",
		slog.String("event", "catalog.edit"),
		slog.String("key", key),
		slog.String("field", field),
	)

	summary := fmt.Sprintf("✅ Topic `%s`: field *%s* updated.", key, field)
	summary += e.commitSuffix(ctx)
	return summary, nil
}

// DeleteTopic removes the topic, cascading across the Topic Order,
// every user's topic sets, and the backing artifact. An artifact
// failure is logged and tolerated.
func (e *Engine) DeleteTopic(ctx context.Context, key string) (string, error) {
	pruned, artifactErr, err := e.Catalog.Delete(key, e.Activity, e.Artifacts)
	if err != nil {
		return "", err
	}
	if artifactErr != nil {
		logger.SVCCatalog.Warn("artifact delete failed",
			slog.String("event", "catalog.delete"),
			slog.String("key", key),
			slog.String("err", artifactErr.Error()),
		)
	}

	logger.SVCCatalog.Info("topic deleted",
		slog.String("event", "catalog.delete"),
		slog.String("key", key),
		slog.Int("users_pruned", pruned),
	)

	summary := fmt.Sprintf("🗑 Topic `%s` deleted. Cleared from %d user records.", key, pruned)
	summary += e.commitSuffix(ctx)
	return summary, nil
}

// DuelsEndAll force-completes every in-progress duel.
func (e *Engine) DuelsEndAll(ctx context.Context) (string, error) {
	n := e.Arena.ForceCompleteAll()
	logger.SVCDuels.Info("duels force-completed",
		slog.String("event", "duels.end_all"),
		slog.Int("count", n),
	)
	summary := fmt.Sprintf("✅ Force-completed %d duels.", n)
	summary += e.commitSuffix(ctx)
	return summary, nil
}

// DuelsClearWaiting purges the waiting queue. Idempotent.
func (e *Engine) DuelsClearWaiting(ctx context.Context) (string, error) {
	n := e.Arena.PurgeWaiting()
	logger.SVCDuels.Info("waiting queue purged",
		slog.String("event", "duels.clear_waiting"),
		slog.Int("count", n),
	)
	summary := fmt.Sprintf("✅ Removed %d waiting duels.", n)
	summary += e.commitSuffix(ctx)
	return summary, nil
}

// Audience selects broadcast recipients.
type Audience int

const (
	// AudienceAll targets every known user.
	AudienceAll Audience = iota
	// AudiencePremium targets users with an active paid tier.
	AudiencePremium
	// AudienceTest targets only the administrator.
	AudienceTest
)

// Broadcast delivers the composed message to the selected audience.
// Per-recipient failures are counted, never fatal.
func (e *Engine) Broadcast(ctx context.Context, text string, audience Audience) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty broadcast text", apperr.ErrValidation)
	}

	var targets []int64
	switch audience {
	case AudienceTest:
		targets = []int64{e.AdminID}
	case AudiencePremium:
		for _, rec := range e.Activity.All() {
			if e.Ledger.IsActive(rec.UserID) {
				targets = append(targets, rec.UserID)
			}
		}
	default:
		for _, rec := range e.Activity.All() {
			targets = append(targets, rec.UserID)
		}
	}

	sent, failed := 0, 0
	for _, id := range targets {
		if e.Notifier == nil {
			break
		}
		if err := e.Notifier.Notify(id, text); err != nil {
			failed++
			continue
		}
		sent++
	}

	logger.SVCFlow.Info("broadcast finished",
		slog.String("event", "flow.broadcast"),
		slog.Int("sent", sent),
		slog.Int("failed", failed),
	)

	return fmt.Sprintf("📣 Broadcast finished: %d delivered, %d failed.", sent, failed), nil
}

// mdSafe escapes admin-provided text embedded into Markdown replies.
func mdSafe(s string) string {
	escaped, err := format.EscapeMarkdown(s, format.MarkdownV1, "")
	if err != nil {
		return s
	}
	return escaped
}

func parseOrder(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a valid order value", apperr.ErrValidation, value)
	}
	return n, nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a valid boolean", apperr.ErrValidation, value)
}

// IsValidation reports whether the error re-prompts the current step.
func IsValidation(err error) bool {
	return errors.Is(err, apperr.ErrValidation)
}
