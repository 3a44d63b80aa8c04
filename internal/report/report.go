// Package report is the read-only aggregation facade over the ledger,
// catalog, duel, and activity stores. It never mutates; exports are
// best-effort snapshots and zero denominators render as zero.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/m3rciful/edubot/core/logger"
	"github.com/m3rciful/edubot/internal/activity"
	"github.com/m3rciful/edubot/internal/apperr"
	"github.com/m3rciful/edubot/internal/arena"
	"github.com/m3rciful/edubot/internal/catalog"
	"github.com/m3rciful/edubot/internal/ledger"
)

const (
	statsCacheKey = "full_stats"
	statsCacheTTL = time.Minute
)

// Reporter renders exports and aggregate views.
type Reporter struct {
	ledger   *ledger.Ledger
	catalog  *catalog.Store
	arena    *arena.Registry
	activity *activity.Store
	cache    *gocache.Cache
}

// New wires a reporter over the four stores.
func New(l *ledger.Ledger, c *catalog.Store, a *arena.Registry, act *activity.Store) *Reporter {
	return &Reporter{
		ledger:   l,
		catalog:  c,
		arena:    a,
		activity: act,
		cache:    gocache.New(statsCacheTTL, 5*time.Minute),
	}
}

// ExportName builds a unique download file name for an export kind.
func ExportName(kind, ext string) string {
	return fmt.Sprintf("%s_%s_%s.%s",
		kind, time.Now().Format("20060102_150405"), uuid.NewString()[:8], ext)
}

var userCSVHeader = []string{
	"id", "rating", "lessons_completed", "questions_answered", "correct_answers",
	"accuracy_pct", "streak", "elo", "duel_wins", "duel_losses", "duel_draws",
	"premium", "first_seen", "last_activity",
}

// UsersCSV renders the tabular per-user snapshot.
func (r *Reporter) UsersCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(userCSVHeader); err != nil {
		return nil, err
	}
	records := r.activity.All()
	for _, rec := range records {
		row := []string{
			strconv.FormatInt(rec.UserID, 10),
			strconv.Itoa(rec.Rating),
			strconv.Itoa(rec.LessonsCompleted),
			strconv.Itoa(rec.QuestionsAnswered),
			strconv.Itoa(rec.CorrectAnswers),
			strconv.FormatFloat(rec.Accuracy(), 'f', 1, 64),
			strconv.Itoa(rec.Streak),
			strconv.Itoa(rec.ELO),
			strconv.Itoa(rec.DuelWins),
			strconv.Itoa(rec.DuelLosses),
			strconv.Itoa(rec.DuelDraws),
			strconv.FormatBool(r.ledger.IsActive(rec.UserID)),
			rec.FirstSeen.Format(time.RFC3339),
			rec.LastActivity.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	logger.SVCReport.Info("users export rendered",
		slog.String("event", "report.users_csv"),
		slog.Int("rows", len(records)),
		slog.Int("bytes", buf.Len()),
	)
	return buf.Bytes(), nil
}

var txCSVHeader = []string{
	"user_id", "product_id", "amount", "purchased_at", "expires_at", "granted_by",
}

// TransactionsCSV renders the full append-only transaction history.
func (r *Reporter) TransactionsCSV() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(txCSVHeader); err != nil {
		return nil, err
	}
	rows := 0
	for _, sub := range r.ledger.All() {
		for _, tx := range sub.Transactions {
			grantedBy := ""
			if tx.GrantedBy != 0 {
				grantedBy = strconv.FormatInt(tx.GrantedBy, 10)
			}
			row := []string{
				strconv.FormatInt(sub.UserID, 10),
				tx.ProductID,
				strconv.FormatFloat(tx.Amount, 'f', 2, 64),
				tx.PurchasedAt.Format(time.RFC3339),
				tx.ExpiresAt.Format(time.RFC3339),
				grantedBy,
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
			rows++
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	logger.SVCReport.Info("transactions export rendered",
		slog.String("event", "report.tx_csv"),
		slog.Int("rows", rows),
		slog.Int("bytes", buf.Len()),
	)
	return buf.Bytes(), nil
}

// UserJSON renders the full nested snapshot for one user.
func (r *Reporter) UserJSON(userID int64) ([]byte, error) {
	rec, err := r.activity.Get(userID)
	if err != nil {
		return nil, apperr.ErrNotFound
	}
	sub := r.ledger.Get(userID)
	doc := struct {
		Activity     *activity.Record     `json:"activity"`
		Subscription *ledger.Subscription `json:"subscription"`
		Active       bool                 `json:"subscription_active"`
	}{rec, sub, r.ledger.IsActive(userID)}
	return json.MarshalIndent(doc, "", "  ")
}

// TopicJSON serializes one topic unchanged for download.
func (r *Reporter) TopicJSON(key string) ([]byte, error) {
	t, err := r.catalog.Get(key)
	if err != nil {
		return nil, err
	}
	return catalog.ExportJSON(t)
}

// DuelJSON renders one duel.
func (r *Reporter) DuelJSON(id string) ([]byte, error) {
	d, err := r.arena.Get(id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(d, "", "  ")
}

// FullStats is the aggregate document shown on the admin panel and
// exported as JSON.
type FullStats struct {
	GeneratedAt     time.Time      `json:"generated_at"`
	Users           int            `json:"users"`
	PremiumActive   int            `json:"premium_active"`
	PremiumByTier   map[string]int `json:"premium_by_tier"`
	Revenue         float64        `json:"revenue"`
	Topics          int            `json:"topics"`
	DuelsInProgress int            `json:"duels_in_progress"`
	DuelsWaiting    int            `json:"duels_waiting"`
	AvgAccuracy     float64        `json:"avg_accuracy_pct"`
	BannedUsers     int            `json:"banned_users"`
}

// Stats computes the aggregate, serving a cached copy for up to a
// minute between recomputations.
func (r *Reporter) Stats() FullStats {
	if v, ok := r.cache.Get(statsCacheKey); ok {
		if s, ok := v.(FullStats); ok {
			return s
		}
	}
	s := r.computeStats()
	r.cache.Set(statsCacheKey, s, statsCacheTTL)
	return s
}

func (r *Reporter) computeStats() FullStats {
	records := r.activity.All()
	inProgress, waiting := r.arena.Counts()

	var accSum float64
	var accUsers, banned int
	for _, rec := range records {
		if rec.QuestionsAnswered > 0 {
			accSum += rec.Accuracy()
			accUsers++
		}
		if rec.Banned {
			banned++
		}
	}
	avgAcc := 0.0
	if accUsers > 0 {
		avgAcc = accSum / float64(accUsers)
	}

	byTier := make(map[string]int)
	for tier, n := range r.ledger.ActiveTierCounts() {
		byTier[string(tier)] = n
	}

	return FullStats{
		GeneratedAt:     time.Now(),
		Users:           len(records),
		PremiumActive:   r.ledger.ActiveCount(),
		PremiumByTier:   byTier,
		Revenue:         r.ledger.Revenue(),
		Topics:          r.catalog.Count(),
		DuelsInProgress: inProgress,
		DuelsWaiting:    waiting,
		AvgAccuracy:     avgAcc,
		BannedUsers:     banned,
	}
}

// StatsJSON renders the aggregate document.
func (r *Reporter) StatsJSON() ([]byte, error) {
	return json.MarshalIndent(r.Stats(), "", "  ")
}

// Top returns up to n users by rating for the leaderboard view.
func (r *Reporter) Top(n int) []*activity.Record {
	return r.activity.Top(n)
}
