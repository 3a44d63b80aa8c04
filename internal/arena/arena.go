// Package arena owns the duel registry, the waiting queue, and the
// user-to-duel back-reference map.
package arena

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m3rciful/edubot/internal/apperr"
	"github.com/m3rciful/edubot/internal/catalog"
)

// Status is a duel lifecycle stage.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Duel is one head-to-head match. A waiting duel has no second player.
type Duel struct {
	ID              string             `json:"id"`
	Player1         int64              `json:"player1"`
	Player2         int64              `json:"player2,omitempty"`
	Status          Status             `json:"status"`
	Questions       []catalog.Question `json:"questions"`
	CurrentQuestion int                `json:"current_question"`
	Player1Score    int                `json:"player1_score"`
	Player2Score    int                `json:"player2_score"`
	StartTime       time.Time          `json:"start_time"`
	EndTime         time.Time          `json:"end_time,omitempty"`
}

func (d *Duel) clone() *Duel {
	cp := *d
	cp.Questions = make([]catalog.Question, len(d.Questions))
	for i, q := range d.Questions {
		cp.Questions[i] = q
		cp.Questions[i].Options = append([]string(nil), q.Options...)
	}
	return &cp
}

// Active reports whether the duel still binds its players.
func (d *Duel) Active() bool {
	return d.Status == StatusWaiting || d.Status == StatusInProgress
}

// Registry is the process-wide duel state. A user is referenced by at
// most one active duel, tracked in userDuels.
type Registry struct {
	mu        sync.RWMutex
	duels     map[string]*Duel
	waiting   []string
	userDuels map[int64]string
	now       func() time.Time
}

// NewRegistry returns an empty duel registry.
func NewRegistry() *Registry {
	return &Registry{
		duels:     make(map[string]*Duel),
		userDuels: make(map[int64]string),
		now:       time.Now,
	}
}

// CreateWaiting places a new duel for player1 into the waiting queue.
// Fails if the player already has an active duel.
func (r *Registry) CreateWaiting(player1 int64, questions []catalog.Question) (*Duel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.userDuels[player1]; ok {
		if d, exists := r.duels[id]; exists && d.Active() {
			return nil, apperr.ErrValidation
		}
		delete(r.userDuels, player1)
	}

	d := &Duel{
		ID:        uuid.NewString(),
		Player1:   player1,
		Status:    StatusWaiting,
		Questions: questions,
		StartTime: r.now(),
	}
	r.duels[d.ID] = d
	r.waiting = append(r.waiting, d.ID)
	r.userDuels[player1] = d.ID
	return d.clone(), nil
}

// Join matches player2 into the oldest waiting duel not owned by them
// and starts it. Returns ErrNotFound when nothing is waiting.
func (r *Registry) Join(player2 int64) (*Duel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.userDuels[player2]; ok {
		if d, exists := r.duels[id]; exists && d.Active() {
			return nil, apperr.ErrValidation
		}
		delete(r.userDuels, player2)
	}

	for i, id := range r.waiting {
		d, ok := r.duels[id]
		if !ok || d.Player1 == player2 {
			continue
		}
		d.Player2 = player2
		d.Status = StatusInProgress
		d.StartTime = r.now()
		r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
		r.userDuels[player2] = d.ID
		return d.clone(), nil
	}
	return nil, apperr.ErrNotFound
}

// Get returns a copy of the duel or ErrNotFound.
func (r *Registry) Get(id string) (*Duel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.duels[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return d.clone(), nil
}

// Counts returns the number of in-progress and waiting duels.
func (r *Registry) Counts() (inProgress, waiting int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.duels {
		if d.Status == StatusInProgress {
			inProgress++
		}
	}
	return inProgress, len(r.waiting)
}

// ForceCompleteAll marks every IN_PROGRESS duel COMPLETED without touching
// scores or ratings. Administrative override, not a gameplay result.
// Returns the number of duels affected.
func (r *Registry) ForceCompleteAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	n := 0
	for _, d := range r.duels {
		if d.Status != StatusInProgress {
			continue
		}
		d.Status = StatusCompleted
		d.EndTime = now
		r.dropBackrefLocked(d.Player1, d.ID)
		r.dropBackrefLocked(d.Player2, d.ID)
		n++
	}
	return n
}

// dropBackrefLocked clears a player's back-reference only when it still
// points at the given duel, so a newer binding survives.
func (r *Registry) dropBackrefLocked(userID int64, duelID string) {
	if r.userDuels[userID] == duelID {
		delete(r.userDuels, userID)
	}
}

// PurgeWaiting drops every queued duel: the duel leaves the registry
// and player1's back-reference is cleared (a waiting duel has no second
// player). Idempotent; an empty queue purges to zero affected.
func (r *Registry) PurgeWaiting() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.waiting {
		d, ok := r.duels[id]
		if !ok {
			continue
		}
		delete(r.duels, id)
		r.dropBackrefLocked(d.Player1, id)
		n++
	}
	r.waiting = r.waiting[:0]
	return n
}

// EvictUser removes any duel the user is part of from the registry and
// the waiting queue and clears the back-references of both players.
// Used by the ban cascade. Returns the removed duel id, if any.
func (r *Registry) EvictUser(userID int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.userDuels[userID]
	if !ok {
		return "", false
	}
	d, exists := r.duels[id]
	delete(r.userDuels, userID)
	if !exists {
		return "", false
	}

	delete(r.duels, id)
	r.waiting = removeID(r.waiting, id)
	r.dropBackrefLocked(d.Player1, id)
	if d.Player2 != 0 {
		r.dropBackrefLocked(d.Player2, id)
	}
	return id, true
}

// ActiveDuelOf returns the id of the user's active duel, if any.
func (r *Registry) ActiveDuelOf(userID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.userDuels[userID]
	return id, ok
}

// SweepStale force-completes in-progress duels that started before the
// cutoff and purges waiting duels older than the cutoff. Returns the
// number of duels touched.
func (r *Registry) SweepStale(olderThan time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-olderThan)
	n := 0
	for _, d := range r.duels {
		if d.Status == StatusInProgress && d.StartTime.Before(cutoff) {
			d.Status = StatusCompleted
			d.EndTime = r.now()
			r.dropBackrefLocked(d.Player1, d.ID)
			r.dropBackrefLocked(d.Player2, d.ID)
			n++
		}
	}
	kept := r.waiting[:0]
	for _, id := range r.waiting {
		d, ok := r.duels[id]
		if ok && d.StartTime.Before(cutoff) {
			delete(r.duels, id)
			r.dropBackrefLocked(d.Player1, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	r.waiting = kept
	return n
}

// All returns a copied snapshot of every duel.
func (r *Registry) All() []*Duel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Duel, 0, len(r.duels))
	for _, d := range r.duels {
		out = append(out, d.clone())
	}
	return out
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// State is the serializable form used by the snapshot committer.
type State struct {
	Duels     []*Duel          `json:"duels"`
	Waiting   []string         `json:"waiting"`
	UserDuels map[int64]string `json:"user_duels"`
}

// ExportState snapshots the registry, queue, and back-references together.
func (r *Registry) ExportState() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	duels := make([]*Duel, 0, len(r.duels))
	for _, d := range r.duels {
		duels = append(duels, d.clone())
	}
	userDuels := make(map[int64]string, len(r.userDuels))
	for k, v := range r.userDuels {
		userDuels[k] = v
	}
	return State{
		Duels:     duels,
		Waiting:   append([]string(nil), r.waiting...),
		UserDuels: userDuels,
	}
}

// RestoreState replaces the registry contents from a loaded snapshot.
func (r *Registry) RestoreState(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duels = make(map[string]*Duel, len(st.Duels))
	for _, d := range st.Duels {
		if d == nil || d.ID == "" {
			continue
		}
		r.duels[d.ID] = d.clone()
	}
	r.waiting = r.waiting[:0]
	for _, id := range st.Waiting {
		if _, ok := r.duels[id]; ok {
			r.waiting = append(r.waiting, id)
		}
	}
	r.userDuels = make(map[int64]string, len(st.UserDuels))
	for uid, id := range st.UserDuels {
		if _, ok := r.duels[id]; ok {
			r.userDuels[uid] = id
		}
	}
}
