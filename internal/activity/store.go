// Package activity keeps per-user learning progress, rating, and ban state.
// The store is the single join target for the ledger, catalog, and duel
// stores: a user exists once a record is ensured here.
package activity

import (
	"sort"
	"sync"
	"time"

	"github.com/m3rciful/edubot/internal/apperr"
)

// Record holds everything tracked per user outside of subscriptions and duels.
type Record struct {
	UserID            int64     `json:"user_id"`
	Rating            int       `json:"rating"`
	LessonsCompleted  int       `json:"lessons_completed"`
	QuestionsAnswered int       `json:"questions_answered"`
	CorrectAnswers    int       `json:"correct_answers"`
	Streak            int       `json:"streak"`
	ELO               int       `json:"elo"`
	DuelWins          int       `json:"duel_wins"`
	DuelLosses        int       `json:"duel_losses"`
	DuelDraws         int       `json:"duel_draws"`
	CompletedTopics   []string  `json:"completed_topics"`
	AvailableTopics   []string  `json:"available_topics"`
	Banned            bool      `json:"banned"`
	BanReason         string    `json:"ban_reason,omitempty"`
	BannedAt          time.Time `json:"banned_at,omitempty"`
	FirstSeen         time.Time `json:"first_seen"`
	LastActivity      time.Time `json:"last_activity"`
}

func (r *Record) clone() *Record {
	cp := *r
	cp.CompletedTopics = append([]string(nil), r.CompletedTopics...)
	cp.AvailableTopics = append([]string(nil), r.AvailableTopics...)
	return &cp
}

// Accuracy returns the answer accuracy in percent, zero on an empty history.
func (r *Record) Accuracy() float64 {
	if r.QuestionsAnswered == 0 {
		return 0
	}
	return float64(r.CorrectAnswers) / float64(r.QuestionsAnswered) * 100
}

// Store is the process-wide user activity map. All mutation goes through
// its methods so cascades stay consistent.
type Store struct {
	mu      sync.RWMutex
	records map[int64]*Record
	now     func() time.Time
}

// NewStore returns an empty activity store.
func NewStore() *Store {
	return &Store{
		records: make(map[int64]*Record),
		now:     time.Now,
	}
}

// Ensure returns the record for the user, creating a zero-valued one on
// first appearance.
func (s *Store) Ensure(userID int64) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(userID).clone()
}

func (s *Store) ensureLocked(userID int64) *Record {
	rec, ok := s.records[userID]
	if !ok {
		now := s.now()
		rec = &Record{
			UserID:       userID,
			ELO:          defaultELO,
			FirstSeen:    now,
			LastActivity: now,
		}
		s.records[userID] = rec
	}
	return rec
}

const defaultELO = 1000

// Get returns a copy of the user's record or ErrNotFound.
func (s *Store) Get(userID int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return rec.clone(), nil
}

// Has reports whether a record exists for the user.
func (s *Store) Has(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[userID]
	return ok
}

// Count returns the number of known users.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SetRating sets the user's rating to an absolute value and returns the
// new balance. The record is created if missing.
func (s *Store) SetRating(userID int64, value int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(userID)
	if value < 0 {
		value = 0
	}
	rec.Rating = value
	return rec.Rating
}

// AdjustRating applies a signed delta to the user's rating. The result is
// floored at zero, never negative. Returns the new balance.
func (s *Store) AdjustRating(userID int64, delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(userID)
	rec.Rating += delta
	if rec.Rating < 0 {
		rec.Rating = 0
	}
	return rec.Rating
}

// Ban marks the user banned with a reason and timestamp. The record is
// created if missing so a ban always sticks.
func (s *Store) Ban(userID int64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(userID)
	rec.Banned = true
	rec.BanReason = reason
	rec.BannedAt = s.now()
}

// Unban clears the ban flag and reason.
func (s *Store) Unban(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		return apperr.ErrNotFound
	}
	rec.Banned = false
	rec.BanReason = ""
	rec.BannedAt = time.Time{}
	return nil
}

// PruneTopic removes a topic key from every user's completed and available
// sets. Returns the number of records touched.
func (s *Store) PruneTopic(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := 0
	for _, rec := range s.records {
		before := len(rec.CompletedTopics) + len(rec.AvailableTopics)
		rec.CompletedTopics = removeKey(rec.CompletedTopics, key)
		rec.AvailableTopics = removeKey(rec.AvailableTopics, key)
		if len(rec.CompletedTopics)+len(rec.AvailableTopics) != before {
			touched++
		}
	}
	return touched
}

func removeKey(keys []string, key string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}

// GrantTopic appends a topic key to the user's available set if absent.
func (s *Store) GrantTopic(userID int64, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(userID)
	for _, k := range rec.AvailableTopics {
		if k == key {
			return
		}
	}
	rec.AvailableTopics = append(rec.AvailableTopics, key)
}

// MarkCompleted records topic completion for the user.
func (s *Store) MarkCompleted(userID int64, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.ensureLocked(userID)
	for _, k := range rec.CompletedTopics {
		if k == key {
			return
		}
	}
	rec.CompletedTopics = append(rec.CompletedTopics, key)
	rec.LessonsCompleted++
	rec.LastActivity = s.now()
}

// Touch refreshes the user's last-activity timestamp.
func (s *Store) Touch(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(userID).LastActivity = s.now()
}

// Top returns up to n records sorted by rating descending. Ties keep a
// stable user-id order so repeated snapshots agree.
func (s *Store) Top(n int) []*Record {
	all := s.All()
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Rating != all[j].Rating {
			return all[i].Rating > all[j].Rating
		}
		return all[i].UserID < all[j].UserID
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// All returns a copied snapshot of every record. Readers get a consistent
// view of each record but not of the store as a whole.
func (s *Store) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.clone())
	}
	return out
}

// ExportState returns the serializable form used by the snapshot committer.
func (s *Store) ExportState() []*Record {
	return s.All()
}

// RestoreState replaces the store contents from a loaded snapshot.
func (s *Store) RestoreState(records []*Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[int64]*Record, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		s.records[rec.UserID] = rec.clone()
	}
}
