package dialog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/edubot/core/telegram"
	"github.com/m3rciful/edubot/core/telegram/callbacks"
	"github.com/m3rciful/edubot/core/telegram/commands"
	tghelpers "github.com/m3rciful/edubot/core/telegram/helpers"
	"github.com/m3rciful/edubot/core/telegram/keyboard"
	"github.com/m3rciful/edubot/core/telegram/state"
	"github.com/m3rciful/edubot/core/telegram/ui"
	"github.com/m3rciful/edubot/internal/apperr"
	"github.com/m3rciful/edubot/internal/catalog"
	"github.com/m3rciful/edubot/internal/report"
)

const cbCancel = "admin_cancel"

// Handlers wires the admin command, callbacks, and FSM step handlers
// into the registry.
type Handlers struct {
	Engine   *Engine
	Reporter *report.Reporter
	FSM      state.Manager
}

// Register binds everything. The /admin command carries AdminOnly so
// the command router gates it; callbacks and FSM steps carry their own
// identity guard since they bypass that middleware.
func (h *Handlers) Register(reg *tg.Registry) {
	reg.RegisterCommand("/admin", commands.Command{
		Handler:     h.Panel,
		Description: "Admin panel",
		AdminOnly:   true,
		Hidden:      true,
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     h.guard(h.cancel),
		Description: "Cancel the current operation",
		AdminOnly:   true,
		Hidden:      true,
	})

	cbs := map[string]tele.HandlerFunc{
		cbCancel:                  h.cancel,
		"admin_panel":             h.Panel,
		"admin_give":              h.startGive,
		"admin_give_days":         h.giveDays,
		"admin_remove":            h.startRemove,
		"admin_points":            h.startPoints,
		"admin_ban":               h.startBan,
		"admin_unban":             h.startUnban,
		"admin_topics":            h.listTopics,
		"admin_topic":             h.topicDetail,
		"admin_topic_field":       h.startTopicEdit,
		"admin_topic_export":      h.exportTopic,
		"admin_topic_delete":      h.confirmTopicDelete,
		"admin_topic_delete_yes":  h.deleteTopic,
		"admin_upload":            h.startUpload,
		"admin_upload_overwrite":  h.overwriteUpload,
		"admin_broadcast":         h.startBroadcast,
		"admin_broadcast_all":     h.broadcastAll,
		"admin_broadcast_premium": h.broadcastPremium,
		"admin_broadcast_test":    h.broadcastTest,
		"admin_broadcast_edit":    h.startBroadcast,
		"admin_duels":             h.duelsView,
		"admin_duels_end_all":     h.duelsEndAll,
		"admin_duels_clear":       h.duelsClearWaiting,
		"admin_stats":             h.statsView,
		"admin_top":               h.topView,
		"admin_user":              h.userDetail,
		"admin_user_give":         h.seedGive,
		"admin_user_points":       h.seedPoints,
		"admin_user_ban":          h.seedBan,
		"admin_user_export":       h.exportUserJSON,
		"admin_duel_export":       h.exportDuelJSON,
		"admin_export_csv":        h.exportUsersCSV,
		"admin_export_tx":         h.exportTransactionsCSV,
		"admin_export_stats":      h.exportStatsJSON,
	}
	for key, handler := range cbs {
		_ = reg.RegisterCallback(key, h.guard(handler))
	}

	steps := map[state.State]tele.HandlerFunc{
		StateGivePremiumUser:     h.stepGiveUser,
		StateGivePremiumDuration: h.stepGiveDuration,
		StateRemovePremiumUser:   h.stepRemoveUser,
		StateEditPointsUser:      h.stepPointsUser,
		StateEditPointsValue:     h.stepPointsValue,
		StateBanUser:             h.stepBanUser,
		StateBanReason:           h.stepBanReason,
		StateUnbanUser:           h.stepUnbanUser,
		StateUploadTopic:         h.stepUpload,
		StateEditTopicValue:      h.stepTopicValue,
		StateBroadcastCompose:    h.stepBroadcastCompose,
	}
	for st, handler := range steps {
		state.RegisterHandler(st, h.guard(handler))
	}
}

// Handlers also serves as the fallback provider for updates that match
// no command, callback, or dialog step.
var _ ui.FallbackProvider = (*Handlers)(nil)

// UnknownText answers stray text outside any dialog step.
func (h *Handlers) UnknownText() tele.HandlerFunc {
	return h.guard(func(c tele.Context) error {
		return tghelpers.SendMD(c, "ℹ️ No operation in progress. Open the panel with /admin.")
	})
}

// UnknownDocument answers a document sent outside the upload step.
func (h *Handlers) UnknownDocument() tele.HandlerFunc {
	return h.guard(func(c tele.Context) error {
		return tghelpers.SendMD(c, "ℹ️ To upload a topic, start from /admin first.")
	})
}

// UnknownCallback answers taps on buttons from stale messages.
func (h *Handlers) UnknownCallback() tele.HandlerFunc {
	return h.guard(func(c tele.Context) error {
		return tghelpers.EditOrSendMD(c, "⚠️ This button is no longer valid. Open /admin again.")
	})
}

// guard drops updates from anyone but the configured administrator
// before any state is read. The sender gets no reply.
func (h *Handlers) guard(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil {
			return nil
		}
		if err := h.authorize(c.Sender().ID); err != nil {
			return nil
		}
		return next(c)
	}
}

// authorize reports ErrUnauthorized for any identity but the
// administrator's.
func (h *Handlers) authorize(userID int64) error {
	if userID != h.Engine.AdminID {
		return fmt.Errorf("%w: user %d", apperr.ErrUnauthorized, userID)
	}
	return nil
}

func (h *Handlers) ctx(c tele.Context) context.Context {
	return tghelpers.BuildContext(c)
}

func cancelMarkup() *tele.ReplyMarkup {
	return keyboard.SingleCancelMarkup(cbCancel)
}

// Panel renders the admin entry view with aggregate counters.
func (h *Handlers) Panel(c tele.Context) error {
	s := h.Reporter.Stats()
	text := fmt.Sprintf(
		"🛠 *Admin panel*\n\n"+
			"👥 Users: %d\n"+
			"💎 Active premium: %d\n"+
			"📚 Topics: %d\n"+
			"⚔️ Duels: %d in progress, %d waiting\n"+
			"💰 Revenue: %.2f",
		s.Users, s.PremiumActive, s.Topics, s.DuelsInProgress, s.DuelsWaiting, s.Revenue,
	)
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{
			{Text: "💎 Grant premium", Unique: "admin_give"},
			{Text: "💔 Revoke premium", Unique: "admin_remove"},
		},
		[]keyboard.InlineBtn{
			{Text: "⭐ Edit points", Unique: "admin_points"},
			{Text: "🚫 Ban user", Unique: "admin_ban"},
		},
		[]keyboard.InlineBtn{
			{Text: "📚 Topics", Unique: "admin_topics"},
			{Text: "📤 Upload topic", Unique: "admin_upload"},
		},
		[]keyboard.InlineBtn{
			{Text: "⚔️ Duels", Unique: "admin_duels"},
			{Text: "📣 Broadcast", Unique: "admin_broadcast"},
		},
		[]keyboard.InlineBtn{
			{Text: "📊 Stats", Unique: "admin_stats"},
			{Text: "🏆 Top 100", Unique: "admin_top"},
		},
		[]keyboard.InlineBtn{
			{Text: "📄 Users CSV", Unique: "admin_export_csv"},
			{Text: "💳 Transactions CSV", Unique: "admin_export_tx"},
		},
	)
	return tghelpers.EditOrSendMD(c, text, markup)
}

func (h *Handlers) cancel(c tele.Context) error {
	h.FSM.Clear(c.Sender().ID)
	return tghelpers.EditOrSendMD(c, "❌ Operation cancelled.")
}

// --- premium grant -------------------------------------------------

func (h *Handlers) startGive(c tele.Context) error {
	h.FSM.SetState(c.Sender().ID, StateGivePremiumUser)
	return tghelpers.EditOrSendMD(c, "💎 Send the *user id* to grant premium to:", cancelMarkup())
}

func (h *Handlers) stepGiveUser(c tele.Context) error {
	userID, err := ParseUserID(c.Text())
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ That is not a valid user id. Send a number:", cancelMarkup())
	}
	adminID := c.Sender().ID
	h.FSM.SetTemp(adminID, tempTargetUser, userID)
	h.FSM.SetState(adminID, StateGivePremiumDuration)
	return h.promptDuration(c)
}

func (h *Handlers) promptDuration(c tele.Context) error {
	rows := [][]keyboard.InlineBtn{}
	for _, days := range DurationPresets {
		rows = append(rows, []keyboard.InlineBtn{{
			Text:   fmt.Sprintf("%d days", days),
			Unique: "admin_give_days",
			Data:   fmt.Sprintf("%d", days),
		}})
	}
	rows = append(rows, []keyboard.InlineBtn{{Text: "❌ Cancel", Unique: cbCancel, Data: "cancel"}})
	markup := keyboard.InlineButtonsRows(rows...)
	return tghelpers.SendMD(c,
		"⏳ Pick a duration, send the number of days (9999 = lifetime), or an end date like `31.12.2026`:", markup)
}

func (h *Handlers) stepGiveDuration(c tele.Context) error {
	dur, err := ParseDuration(c.Text())
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ Send a positive number of days (9999 = lifetime) or a future date like `31.12.2026`:", cancelMarkup())
	}
	return h.finishGive(c, dur)
}

func (h *Handlers) giveDays(c tele.Context) error {
	days, err := callbacks.PayloadInt(c)
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ Unknown duration.")
	}
	return h.finishGive(c, Duration{Days: days, Lifetime: days >= lifetimeThresholdDays})
}

func (h *Handlers) finishGive(c tele.Context, dur Duration) error {
	adminID := c.Sender().ID
	userID, ok := h.FSM.GetTempInt64(adminID, tempTargetUser)
	if !ok {
		h.FSM.Clear(adminID)
		return tghelpers.SendMD(c, "⚠️ Session expired, start over with /admin.")
	}
	summary, err := h.Engine.GivePremium(h.ctx(c), userID, dur)
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ "+err.Error(), cancelMarkup())
	}
	h.FSM.Clear(adminID)
	return tghelpers.SendMD(c, summary)
}

// --- premium revoke ------------------------------------------------

func (h *Handlers) startRemove(c tele.Context) error {
	h.FSM.SetState(c.Sender().ID, StateRemovePremiumUser)
	return tghelpers.EditOrSendMD(c, "💔 Send the *user id* to revoke premium from:", cancelMarkup())
}

func (h *Handlers) stepRemoveUser(c tele.Context) error {
	userID, err := ParseUserID(c.Text())
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ That is not a valid user id. Send a number:", cancelMarkup())
	}
	adminID := c.Sender().ID
	summary, err := h.Engine.RemovePremium(h.ctx(c), userID)
	if errors.Is(err, apperr.ErrNoActiveSubscription) {
		h.FSM.Clear(adminID)
		return tghelpers.SendMD(c, fmt.Sprintf("ℹ️ User `%d` has no active subscription, nothing to revoke.", userID))
	}
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ "+err.Error(), cancelMarkup())
	}
	h.FSM.Clear(adminID)
	return tghelpers.SendMD(c, summary)
}

// --- points --------------------------------------------------------

func (h *Handlers) startPoints(c tele.Context) error {
	h.FSM.SetState(c.Sender().ID, StateEditPointsUser)
	return tghelpers.EditOrSendMD(c, "⭐ Send the *user id* whose points to edit:", cancelMarkup())
}

func (h *Handlers) stepPointsUser(c tele.Context) error {
	userID, err := ParseUserID(c.Text())
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ That is not a valid user id. Send a number:", cancelMarkup())
	}
	adminID := c.Sender().ID
	h.FSM.SetTemp(adminID, tempTargetUser, userID)
	h.FSM.SetState(adminID, StateEditPointsValue)
	return tghelpers.SendMD(c,
		"Send the adjustment: `+N` to add, `-N` to subtract, or `N` to set the exact balance:",
		cancelMarkup())
}

func (h *Handlers) stepPointsValue(c tele.Context) error {
	edit, err := ParsePoints(c.Text())
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ Use `+N`, `-N`, or a bare number:", cancelMarkup())
	}
	adminID := c.Sender().ID
	userID, ok := h.FSM.GetTempInt64(adminID, tempTargetUser)
	if !ok {
		h.FSM.Clear(adminID)
		return tghelpers.SendMD(c, "⚠️ Session expired, start over with /admin.")
	}
	summary, err := h.Engine.EditPoints(h.ctx(c), userID, edit)
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ "+err.Error(), cancelMarkup())
	}
	h.FSM.Clear(adminID)
	return tghelpers.SendMD(c, summary)
}

// --- ban / unban ---------------------------------------------------

func (h *Handlers) startBan(c tele.Context) error {
	h.FSM.SetState(c.Sender().ID, StateBanUser)
	return tghelpers.EditOrSendMD(c, "🚫 Send the *user id* to ban:", cancelMarkup())
}

func (h *Handlers) stepBanUser(c tele.Context) error {
	userID, err := ParseUserID(c.Text())
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ That is not a valid user id. Send a number:", cancelMarkup())
	}
	adminID := c.Sender().ID
	h.FSM.SetTemp(adminID, tempTargetUser, userID)
	h.FSM.SetState(adminID, StateBanReason)
	return tghelpers.SendMD(c, "Send the *ban reason*:", cancelMarkup())
}

func (h *Handlers) stepBanReason(c tele.Context) error {
	adminID := c.Sender().ID
	userID, ok := h.FSM.GetTempInt64(adminID, tempTargetUser)
	if !ok {
		h.FSM.Clear(adminID)
		return tghelpers.SendMD(c, "⚠️ Session expired, start over with /admin.")
	}
	summary, err := h.Engine.Ban(h.ctx(c), userID, c.Text())
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ The reason cannot be empty. Send the ban reason:", cancelMarkup())
	}
	h.FSM.Clear(adminID)
	return tghelpers.SendMD(c, summary)
}

func (h *Handlers) startUnban(c tele.Context) error {
	h.FSM.SetState(c.Sender().ID, StateUnbanUser)
	return tghelpers.EditOrSendMD(c, "✅ Send the *user id* to unban:", cancelMarkup())
}

func (h *Handlers) stepUnbanUser(c tele.Context) error {
	userID, err := ParseUserID(c.Text())
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ That is not a valid user id. Send a number:", cancelMarkup())
	}
	adminID := c.Sender().ID
	summary, err := h.Engine.Unban(h.ctx(c), userID)
	if errors.Is(err, apperr.ErrNotFound) {
		h.FSM.Clear(adminID)
		return tghelpers.SendMD(c, fmt.Sprintf("ℹ️ User `%d` is not known.", userID))
	}
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ "+err.Error(), cancelMarkup())
	}
	h.FSM.Clear(adminID)
	return tghelpers.SendMD(c, summary)
}

// --- seeded workflows from the user detail view --------------------

func (h *Handlers) seedGive(c tele.Context) error {
	userID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return nil
	}
	adminID := c.Sender().ID
	h.FSM.SetTemp(adminID, tempTargetUser, userID)
	h.FSM.SetState(adminID, StateGivePremiumDuration)
	return h.promptDuration(c)
}

func (h *Handlers) seedPoints(c tele.Context) error {
	userID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return nil
	}
	adminID := c.Sender().ID
	h.FSM.SetTemp(adminID, tempTargetUser, userID)
	h.FSM.SetState(adminID, StateEditPointsValue)
	return tghelpers.SendMD(c,
		"Send the adjustment: `+N` to add, `-N` to subtract, or `N` to set the exact balance:",
		cancelMarkup())
}

func (h *Handlers) seedBan(c tele.Context) error {
	userID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return nil
	}
	adminID := c.Sender().ID
	h.FSM.SetTemp(adminID, tempTargetUser, userID)
	h.FSM.SetState(adminID, StateBanReason)
	return tghelpers.SendMD(c, "Send the *ban reason*:", cancelMarkup())
}

func (h *Handlers) userDetail(c tele.Context) error {
	userID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return nil
	}
	rec, err := h.Engine.Activity.Get(userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return tghelpers.EditOrSendMD(c, fmt.Sprintf("ℹ️ User `%d` is not known.", userID))
	}
	if err != nil {
		return err
	}
	sub := h.Engine.Ledger.Get(userID)
	status := "FREE"
	if h.Engine.Ledger.IsActive(userID) {
		status = fmt.Sprintf("%s until %s", sub.Tier, sub.ExpiresAt.Format("02.01.2006"))
	}
	banLine := ""
	if rec.Banned {
		banLine = fmt.Sprintf("\n🚫 Banned: %s", mdSafe(rec.BanReason))
	}
	text := fmt.Sprintf(
		"👤 *User* `%d`\n\n⭐ Rating: %d\n🎯 Accuracy: %.1f%%\n⚔️ Duels: %dW / %dL / %dD\n💎 Subscription: %s%s",
		rec.UserID, rec.Rating, rec.Accuracy(),
		rec.DuelWins, rec.DuelLosses, rec.DuelDraws, status, banLine,
	)
	payload := fmt.Sprintf("%d", userID)
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{
			{Text: "💎 Grant premium", Unique: "admin_user_give", Data: payload},
			{Text: "⭐ Edit points", Unique: "admin_user_points", Data: payload},
		},
		[]keyboard.InlineBtn{
			{Text: "🚫 Ban", Unique: "admin_user_ban", Data: payload},
			{Text: "📥 Export JSON", Unique: "admin_user_export", Data: payload},
		},
		[]keyboard.InlineBtn{{Text: "⬅️ Back", Unique: "admin_top"}},
	)
	return tghelpers.EditOrSendMD(c, text, markup)
}

func (h *Handlers) exportUserJSON(c tele.Context) error {
	userID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return nil
	}
	data, err := h.Reporter.UserJSON(userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return tghelpers.SendMD(c, fmt.Sprintf("ℹ️ User `%d` is not known.", userID))
	}
	if err != nil {
		return err
	}
	return h.sendDocument(c, data, report.ExportName("user", "json"))
}

// --- topics --------------------------------------------------------

func (h *Handlers) listTopics(c tele.Context) error {
	topics := h.Engine.Catalog.All()
	if len(topics) == 0 {
		return tghelpers.EditOrSendMD(c, "📚 The catalog is empty. Upload a topic first.",
			keyboard.InlineButtonsRows([]keyboard.InlineBtn{{Text: "📤 Upload topic", Unique: "admin_upload"}}))
	}
	buttons := make([]keyboard.InlineBtn, 0, len(topics))
	for _, t := range topics {
		label := fmt.Sprintf("%s %s (%d)", t.Emoji, t.Name, len(t.Questions))
		buttons = append(buttons, keyboard.InlineBtn{Text: label, Unique: "admin_topic", Data: t.Key})
	}
	markup := keyboard.InlineButtons(buttons)
	return tghelpers.EditOrSendMD(c, fmt.Sprintf("📚 *Topics* (%d):", len(topics)), markup)
}

func (h *Handlers) topicDetail(c tele.Context) error {
	key := callbacks.CallbackPayload(c)
	t, err := h.Engine.Catalog.Get(key)
	if errors.Is(err, apperr.ErrNotFound) {
		return tghelpers.EditOrSendMD(c, fmt.Sprintf("ℹ️ Topic `%s` no longer exists.", key))
	}
	if err != nil {
		return err
	}
	premium := "no"
	if t.Premium {
		premium = "yes"
	}
	text := fmt.Sprintf(
		"%s *%s* (`%s`)\n\nOrder: %d\nPremium: %s\nTheory blocks: %d\nQuestions: %d",
		t.Emoji, mdSafe(t.Name), t.Key, t.Order, premium, len(t.Theory), len(t.Questions),
	)
	fieldBtn := func(label, field string) keyboard.InlineBtn {
		return keyboard.InlineBtn{Text: label, Unique: "admin_topic_field", Data: key + "|" + field}
	}
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{fieldBtn("✏️ Name", "name"), fieldBtn("🔢 Order", "order")},
		[]keyboard.InlineBtn{fieldBtn("😀 Emoji", "emoji"), fieldBtn("💎 Premium", "premium")},
		[]keyboard.InlineBtn{fieldBtn("📖 Theory", "theory"), fieldBtn("❓ Add question", "questions")},
		[]keyboard.InlineBtn{
			{Text: "📥 Export JSON", Unique: "admin_topic_export", Data: key},
			{Text: "🗑 Delete", Unique: "admin_topic_delete", Data: key},
		},
		[]keyboard.InlineBtn{{Text: "⬅️ Back", Unique: "admin_topics"}},
	)
	return tghelpers.EditOrSendMD(c, text, markup)
}

var fieldPrompts = map[string]string{
	"name":      "Send the new *name*:",
	"emoji":     "Send the new *emoji*:",
	"order":     "Send the new *order* number:",
	"premium":   "Send `true` or `false`:",
	"theory":    "Send the theory text, one block per line. Send `clear` to empty it:",
	"questions": "Send one question as `question|opt1|opt2|opt3|opt4|correctIndex`:",
}

func (h *Handlers) startTopicEdit(c tele.Context) error {
	parts, err := callbacks.PayloadParts(c, "|")
	if err != nil || len(parts) != 2 {
		return nil
	}
	key, field := parts[0], parts[1]
	prompt, ok := fieldPrompts[field]
	if !ok {
		return nil
	}
	adminID := c.Sender().ID
	h.FSM.SetTemp(adminID, tempTopicKey, key)
	h.FSM.SetTemp(adminID, tempTopicField, field)
	h.FSM.SetState(adminID, StateEditTopicValue)
	return tghelpers.SendMD(c, prompt, cancelMarkup())
}

func (h *Handlers) stepTopicValue(c tele.Context) error {
	adminID := c.Sender().ID
	key, kok := h.FSM.GetTemp(adminID, tempTopicKey)
	field, fok := h.FSM.GetTemp(adminID, tempTopicField)
	if !kok || !fok {
		h.FSM.Clear(adminID)
		return tghelpers.SendMD(c, "⚠️ Session expired, start over with /admin.")
	}
	summary, err := h.Engine.EditTopicField(h.ctx(c), key.(string), field.(string), c.Text())
	if IsValidation(err) {
		return tghelpers.SendMD(c, "⚠️ "+err.Error(), cancelMarkup())
	}
	if errors.Is(err, apperr.ErrNotFound) {
		h.FSM.Clear(adminID)
		return tghelpers.SendMD(c, "ℹ️ The topic no longer exists.")
	}
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ "+err.Error(), cancelMarkup())
	}
	h.FSM.Clear(adminID)
	return tghelpers.SendMD(c, summary)
}

func (h *Handlers) exportTopic(c tele.Context) error {
	key := callbacks.CallbackPayload(c)
	data, err := h.Reporter.TopicJSON(key)
	if errors.Is(err, apperr.ErrNotFound) {
		return tghelpers.SendMD(c, fmt.Sprintf("ℹ️ Topic `%s` no longer exists.", key))
	}
	if err != nil {
		return err
	}
	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(data)),
		FileName: key + ".json",
	}
	return c.Send(doc)
}

func (h *Handlers) confirmTopicDelete(c tele.Context) error {
	key := callbacks.CallbackPayload(c)
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{
			{Text: "🗑 Yes, delete", Unique: "admin_topic_delete_yes", Data: key},
			{Text: "❌ Cancel", Unique: "admin_topic", Data: key},
		},
	)
	return tghelpers.EditOrSendMD(c, fmt.Sprintf(
		"⚠️ Delete topic `%s`?\nThis removes it for every user and cannot be undone.", key), markup)
}

func (h *Handlers) deleteTopic(c tele.Context) error {
	key := callbacks.CallbackPayload(c)
	summary, err := h.Engine.DeleteTopic(h.ctx(c), key)
	if errors.Is(err, apperr.ErrNotFound) {
		return tghelpers.EditOrSendMD(c, fmt.Sprintf("ℹ️ Topic `%s` no longer exists.", key))
	}
	if err != nil {
		return err
	}
	return tghelpers.EditOrSendMD(c, summary)
}

// --- upload --------------------------------------------------------

func (h *Handlers) startUpload(c tele.Context) error {
	h.FSM.SetState(c.Sender().ID, StateUploadTopic)
	return tghelpers.EditOrSendMD(c,
		"📤 Send the topic as a *JSON document* (file or message text).\n\n"+
			"Required: `name`, `questions` (each with 2+ `options` and a `correct` index).\n"+
			"Optional: `emoji`, `order`, `premium`, `theory`.",
		cancelMarkup())
}

func (h *Handlers) stepUpload(c tele.Context) error {
	data, err := h.uploadPayload(c)
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ Could not read the document. Send a JSON file or message:", cancelMarkup())
	}
	return h.handleUpload(c, data, false)
}

func (h *Handlers) uploadPayload(c tele.Context) ([]byte, error) {
	if doc := c.Message().Document; doc != nil {
		rc, err := c.Bot().File(&doc.File)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(io.LimitReader(rc, 1<<20))
	}
	text := strings.TrimSpace(c.Text())
	if text == "" {
		return nil, fmt.Errorf("%w: empty upload", apperr.ErrValidation)
	}
	return []byte(text), nil
}

func (h *Handlers) handleUpload(c tele.Context, data []byte, force bool) error {
	adminID := c.Sender().ID
	_, summary, err := h.Engine.UploadTopic(h.ctx(c), data, force)
	if err != nil {
		var exists *catalog.ExistsError
		if errors.As(err, &exists) {
			key := exists.Key
			h.FSM.SetTemp(adminID, tempPendingUpload, data)
			h.FSM.SetTemp(adminID, tempPendingKey, key)
			markup := keyboard.InlineButtonsRows(
				[]keyboard.InlineBtn{
					{Text: "♻️ Overwrite", Unique: "admin_upload_overwrite", Data: key},
					{Text: "❌ Cancel", Unique: cbCancel, Data: "cancel"},
				},
			)
			return tghelpers.SendMD(c, fmt.Sprintf(
				"⚠️ Topic `%s` already exists. Overwrite it?", key), markup)
		}
		if IsValidation(err) {
			return tghelpers.SendMD(c, "⚠️ "+err.Error()+"\n\nFix the document and send it again:", cancelMarkup())
		}
		return tghelpers.SendMD(c, "⚠️ "+err.Error(), cancelMarkup())
	}
	h.FSM.Clear(adminID)
	return tghelpers.SendMD(c, summary)
}

func (h *Handlers) overwriteUpload(c tele.Context) error {
	adminID := c.Sender().ID
	raw, ok := h.FSM.GetTemp(adminID, tempPendingUpload)
	keyVal, kok := h.FSM.GetTemp(adminID, tempPendingKey)
	if !ok || !kok {
		h.FSM.Clear(adminID)
		return tghelpers.EditOrSendMD(c, "⚠️ Nothing staged, upload the document again.")
	}
	confirmed := callbacks.CallbackPayload(c)
	if confirmed != keyVal.(string) {
		return tghelpers.EditOrSendMD(c, "⚠️ Confirmation does not match the staged topic.")
	}
	data, ok := raw.([]byte)
	if !ok {
		h.FSM.Clear(adminID)
		return tghelpers.EditOrSendMD(c, "⚠️ Staged upload was lost, send the document again.")
	}
	return h.handleUpload(c, data, true)
}

// --- broadcast -----------------------------------------------------

func (h *Handlers) startBroadcast(c tele.Context) error {
	h.FSM.SetState(c.Sender().ID, StateBroadcastCompose)
	return tghelpers.EditOrSendMD(c, "📣 Send the broadcast message text:", cancelMarkup())
}

func (h *Handlers) stepBroadcastCompose(c tele.Context) error {
	text := strings.TrimSpace(c.Text())
	if text == "" {
		return tghelpers.SendMD(c, "⚠️ The message cannot be empty. Send the text:", cancelMarkup())
	}
	adminID := c.Sender().ID
	h.FSM.SetTemp(adminID, tempBroadcastText, text)
	h.FSM.SetState(adminID, state.StateIdle)
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{
			{Text: "📤 Send to all", Unique: "admin_broadcast_all"},
			{Text: "💎 Premium only", Unique: "admin_broadcast_premium"},
		},
		[]keyboard.InlineBtn{
			{Text: "🧪 Test (to me)", Unique: "admin_broadcast_test"},
			{Text: "✏️ Edit", Unique: "admin_broadcast_edit"},
		},
		[]keyboard.InlineBtn{{Text: "❌ Cancel", Unique: cbCancel, Data: "cancel"}},
	)
	return tghelpers.SendMD(c, "*Preview:*\n\n"+text, markup)
}

func (h *Handlers) broadcastAll(c tele.Context) error {
	return h.finishBroadcast(c, AudienceAll)
}

func (h *Handlers) broadcastPremium(c tele.Context) error {
	return h.finishBroadcast(c, AudiencePremium)
}

func (h *Handlers) broadcastTest(c tele.Context) error {
	adminID := c.Sender().ID
	text, ok := h.FSM.GetTemp(adminID, tempBroadcastText)
	if !ok {
		return tghelpers.EditOrSendMD(c, "⚠️ Nothing composed, start over.")
	}
	summary, err := h.Engine.Broadcast(h.ctx(c), text.(string), AudienceTest)
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ "+err.Error())
	}
	// The staged text survives a test send so the admin can still
	// broadcast it for real.
	return tghelpers.SendMD(c, summary)
}

func (h *Handlers) finishBroadcast(c tele.Context, audience Audience) error {
	adminID := c.Sender().ID
	text, ok := h.FSM.GetTemp(adminID, tempBroadcastText)
	if !ok {
		return tghelpers.EditOrSendMD(c, "⚠️ Nothing composed, start over.")
	}
	summary, err := h.Engine.Broadcast(h.ctx(c), text.(string), audience)
	if err != nil {
		return tghelpers.SendMD(c, "⚠️ "+err.Error())
	}
	h.FSM.Clear(adminID)
	return tghelpers.EditOrSendMD(c, summary)
}

// --- duels ---------------------------------------------------------

func (h *Handlers) duelsView(c tele.Context) error {
	inProgress, waiting := h.Engine.Arena.Counts()
	text := fmt.Sprintf("⚔️ *Duels*\n\nIn progress: %d\nWaiting: %d", inProgress, waiting)

	rows := [][]keyboard.InlineBtn{
		{{Text: "🏁 Force-complete all", Unique: "admin_duels_end_all"}},
		{{Text: "🧹 Clear waiting queue", Unique: "admin_duels_clear"}},
	}
	active := make([]keyboard.InlineBtn, 0, 8)
	for _, d := range h.Engine.Arena.All() {
		if !d.Active() || len(active) == 8 {
			continue
		}
		active = append(active, keyboard.InlineBtn{
			Text:   fmt.Sprintf("📥 %.8s", d.ID),
			Unique: "admin_duel_export",
			Data:   d.ID,
		})
	}
	if len(active) > 0 {
		text += "\n\nActive duels export as JSON:"
		for i := 0; i < len(active); i += 2 {
			end := i + 2
			if end > len(active) {
				end = len(active)
			}
			rows = append(rows, active[i:end])
		}
	}
	rows = append(rows, []keyboard.InlineBtn{{Text: "⬅️ Back", Unique: "admin_panel"}})
	return tghelpers.EditOrSendMD(c, text, keyboard.InlineButtonsRows(rows...))
}

func (h *Handlers) exportDuelJSON(c tele.Context) error {
	id := callbacks.CallbackPayload(c)
	data, err := h.Reporter.DuelJSON(id)
	if errors.Is(err, apperr.ErrNotFound) {
		return tghelpers.EditOrSendMD(c, "ℹ️ That duel no longer exists.")
	}
	if err != nil {
		return err
	}
	return h.sendDocument(c, data, report.ExportName("duel", "json"))
}

func (h *Handlers) duelsEndAll(c tele.Context) error {
	summary, err := h.Engine.DuelsEndAll(h.ctx(c))
	if err != nil {
		return err
	}
	return tghelpers.EditOrSendMD(c, summary)
}

func (h *Handlers) duelsClearWaiting(c tele.Context) error {
	summary, err := h.Engine.DuelsClearWaiting(h.ctx(c))
	if err != nil {
		return err
	}
	return tghelpers.EditOrSendMD(c, summary)
}

// --- reporting -----------------------------------------------------

func (h *Handlers) statsView(c tele.Context) error {
	s := h.Reporter.Stats()
	text := fmt.Sprintf(
		"📊 *Full statistics*\n\n"+
			"👥 Users: %d (banned: %d)\n"+
			"💎 Active premium: %d\n"+
			"💰 Revenue: %.2f\n"+
			"📚 Topics: %d\n"+
			"⚔️ Duels: %d in progress, %d waiting\n"+
			"🎯 Average accuracy: %.1f%%",
		s.Users, s.BannedUsers, s.PremiumActive, s.Revenue,
		s.Topics, s.DuelsInProgress, s.DuelsWaiting, s.AvgAccuracy,
	)
	markup := keyboard.InlineButtonsRows(
		[]keyboard.InlineBtn{{Text: "🧾 Export JSON", Unique: "admin_export_stats"}},
		[]keyboard.InlineBtn{{Text: "⬅️ Back", Unique: "admin_panel"}},
	)
	return tghelpers.EditOrSendMD(c, text, markup)
}

func (h *Handlers) topView(c tele.Context) error {
	top := h.Reporter.Top(100)
	if len(top) == 0 {
		return tghelpers.EditOrSendMD(c, "🏆 No users yet.")
	}
	var b strings.Builder
	b.WriteString("🏆 *Top users*\n\n")
	limit := len(top)
	if limit > 20 {
		limit = 20
	}
	for i := 0; i < limit; i++ {
		fmt.Fprintf(&b, "%d. `%d` — %d pts\n", i+1, top[i].UserID, top[i].Rating)
	}
	buttons := make([]keyboard.InlineBtn, 0, limit)
	for i := 0; i < limit; i++ {
		buttons = append(buttons, keyboard.InlineBtn{
			Text:   fmt.Sprintf("👤 %d", top[i].UserID),
			Unique: "admin_user",
			Data:   fmt.Sprintf("%d", top[i].UserID),
		})
	}
	markup := keyboard.InlineButtonsNPerRow(buttons, 4)
	return tghelpers.EditOrSendMD(c, b.String(), markup)
}

func (h *Handlers) exportUsersCSV(c tele.Context) error {
	data, err := h.Reporter.UsersCSV()
	if err != nil {
		return err
	}
	return h.sendDocument(c, data, report.ExportName("users", "csv"))
}

func (h *Handlers) exportTransactionsCSV(c tele.Context) error {
	data, err := h.Reporter.TransactionsCSV()
	if err != nil {
		return err
	}
	return h.sendDocument(c, data, report.ExportName("transactions", "csv"))
}

func (h *Handlers) exportStatsJSON(c tele.Context) error {
	data, err := h.Reporter.StatsJSON()
	if err != nil {
		return err
	}
	return h.sendDocument(c, data, report.ExportName("stats", "json"))
}

func (h *Handlers) sendDocument(c tele.Context, data []byte, name string) error {
	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(data)),
		FileName: name,
	}
	return c.Send(doc)
}
