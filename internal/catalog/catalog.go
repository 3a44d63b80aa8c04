// Package catalog owns the topic store and the global Topic Order.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gosimple/slug"

	"github.com/m3rciful/edubot/internal/apperr"
)

// ErrTopicExists signals that an upload derived a key that is already
// taken. The caller stages the payload and asks for an explicit
// overwrite confirmation before retrying with force.
var ErrTopicExists = errors.New("topic already exists")

// ExistsError carries the colliding key alongside ErrTopicExists so
// the overwrite confirmation can name it.
type ExistsError struct {
	Key string
}

func (e *ExistsError) Error() string { return "topic already exists: " + e.Key }

// Unwrap lets errors.Is match ErrTopicExists.
func (e *ExistsError) Unwrap() error { return ErrTopicExists }

// Question is one quiz item. Correct indexes into Options.
type Question struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Correct     int      `json:"correct"`
	Explanation string   `json:"explanation,omitempty"`
}

// Topic is a content unit: theory pages plus a question bank.
// Key is derived from Name once at creation and stays stable even if
// Name changes later.
type Topic struct {
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Emoji     string     `json:"emoji"`
	Order     int        `json:"order"`
	Premium   bool       `json:"premium"`
	Theory    []string   `json:"theory"`
	Questions []Question `json:"questions"`
}

func (t *Topic) clone() *Topic {
	cp := *t
	cp.Theory = append([]string(nil), t.Theory...)
	cp.Questions = make([]Question, len(t.Questions))
	for i, q := range t.Questions {
		cp.Questions[i] = q
		cp.Questions[i].Options = append([]string(nil), q.Options...)
	}
	return &cp
}

const defaultEmoji = "📝"

// DeriveKey produces the stable topic key from a display name:
// lowercased, non-word characters stripped, whitespace to underscores.
func DeriveKey(name string) string {
	s := slug.Make(name)
	return strings.ReplaceAll(s, "-", "_")
}

// Validate checks a topic document before any catalog write. Optional
// fields are defaulted by the store, not here.
func Validate(t *Topic) error {
	if t == nil {
		return fmt.Errorf("%w: empty document", apperr.ErrValidation)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: topic name is required", apperr.ErrValidation)
	}
	if len(t.Questions) == 0 {
		return fmt.Errorf("%w: topic has no questions", apperr.ErrValidation)
	}
	for i, q := range t.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return fmt.Errorf("%w: question %d has no text", apperr.ErrValidation, i+1)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: question %d has fewer than 2 options", apperr.ErrValidation, i+1)
		}
		if q.Correct < 0 || q.Correct >= len(q.Options) {
			return fmt.Errorf("%w: question %d correct index %d out of range [0, %d)",
				apperr.ErrValidation, i+1, q.Correct, len(q.Options))
		}
	}
	return nil
}

// ArtifactStore deletes the backing content artifact of a removed topic.
// A delete failure is tolerated; the in-memory catalog stays
// authoritative for serving.
type ArtifactStore interface {
	Remove(key string) error
}

// UserTopicPruner removes a topic key from every user's completed and
// available sets during a cascading delete.
type UserTopicPruner interface {
	PruneTopic(key string) int
}

// Store is the process-wide topic catalog plus the global Topic Order.
type Store struct {
	mu     sync.RWMutex
	topics map[string]*Topic
	order  []string
}

// NewStore returns an empty catalog.
func NewStore() *Store {
	return &Store{topics: make(map[string]*Topic)}
}

// Upload validates and inserts a topic. The key is derived from the
// name. When the key is already taken and force is false the upload is
// rejected with ErrTopicExists so the caller can stage an overwrite
// confirmation; nothing is written in that case.
func (s *Store) Upload(t *Topic, force bool) (*Topic, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}

	doc := t.clone()
	doc.Key = DeriveKey(doc.Name)
	if doc.Key == "" {
		return nil, fmt.Errorf("%w: name %q yields an empty key", apperr.ErrValidation, doc.Name)
	}
	if doc.Emoji == "" {
		doc.Emoji = defaultEmoji
	}
	if doc.Theory == nil {
		doc.Theory = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.topics[doc.Key]
	if exists && !force {
		return nil, &ExistsError{Key: doc.Key}
	}
	// A negative order means the document did not carry one.
	if doc.Order < 0 {
		if exists {
			doc.Order = prev.Order
		} else {
			doc.Order = len(s.topics)
		}
	}

	s.topics[doc.Key] = doc
	if !exists {
		s.order = append(s.order, doc.Key)
	}
	s.resortLocked()
	return doc.clone(), nil
}

// Get returns a copy of the topic or ErrNotFound.
func (s *Store) Get(key string) (*Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return t.clone(), nil
}

// Count returns the number of topics.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.topics)
}

// Order returns the current Topic Order as a copy.
func (s *Store) Order() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// All returns copies of every topic in Topic Order sequence.
func (s *Store) All() []*Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Topic, 0, len(s.order))
	for _, key := range s.order {
		if t, ok := s.topics[key]; ok {
			out = append(out, t.clone())
		}
	}
	return out
}

// SetName renames the topic. The key does not change.
func (s *Store) SetName(key, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", apperr.ErrValidation)
	}
	return s.mutate(key, func(t *Topic) { t.Name = strings.TrimSpace(name) })
}

// SetEmoji replaces the topic emoji.
func (s *Store) SetEmoji(key, emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return fmt.Errorf("%w: empty emoji", apperr.ErrValidation)
	}
	return s.mutate(key, func(t *Topic) { t.Emoji = strings.TrimSpace(emoji) })
}

// SetPremium toggles the premium flag.
func (s *Store) SetPremium(key string, premium bool) error {
	return s.mutate(key, func(t *Topic) { t.Premium = premium })
}

// SetOrder changes the topic's order value and re-sorts the Topic Order.
// The sort is stable: topics with equal order values keep their previous
// relative sequence.
func (s *Store) SetOrder(key string, order int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[key]
	if !ok {
		return apperr.ErrNotFound
	}
	t.Order = order
	s.resortLocked()
	return nil
}

// SetTheory replaces the whole theory list from raw text: split on line
// breaks, blank lines discarded. The sentinel "clear" empties the list.
func (s *Store) SetTheory(key, raw string) error {
	blocks := SplitTheory(raw)
	return s.mutate(key, func(t *Topic) { t.Theory = blocks })
}

// TheoryClearSentinel empties the theory list when given as the value.
const TheoryClearSentinel = "clear"

// SplitTheory converts raw edit input into theory blocks.
func SplitTheory(raw string) []string {
	if strings.EqualFold(strings.TrimSpace(raw), TheoryClearSentinel) {
		return []string{}
	}
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// AppendQuestion validates and appends a single question to the topic.
func (s *Store) AppendQuestion(key string, q Question) error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("%w: question text is required", apperr.ErrValidation)
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("%w: fewer than 2 options", apperr.ErrValidation)
	}
	if q.Correct < 0 || q.Correct >= len(q.Options) {
		return fmt.Errorf("%w: correct index %d out of range [0, %d)",
			apperr.ErrValidation, q.Correct, len(q.Options))
	}
	return s.mutate(key, func(t *Topic) { t.Questions = append(t.Questions, q) })
}

// Delete removes the topic from the catalog and the Topic Order, prunes
// the key from every user's topic sets, and removes the backing
// artifact. The first three effects happen under one lock so no reader
// observes a half-removed topic; an artifact failure is returned for
// logging but the delete still counts as done.
func (s *Store) Delete(key string, pruner UserTopicPruner, artifacts ArtifactStore) (pruned int, artifactErr error, err error) {
	s.mu.Lock()
	if _, ok := s.topics[key]; !ok {
		s.mu.Unlock()
		return 0, nil, apperr.ErrNotFound
	}
	delete(s.topics, key)
	s.order = removeKey(s.order, key)
	s.mu.Unlock()

	if pruner != nil {
		pruned = pruner.PruneTopic(key)
	}
	if artifacts != nil {
		artifactErr = artifacts.Remove(key)
	}
	return pruned, artifactErr, nil
}

func (s *Store) mutate(key string, fn func(*Topic)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[key]
	if !ok {
		return apperr.ErrNotFound
	}
	fn(t)
	return nil
}

func (s *Store) resortLocked() {
	sort.SliceStable(s.order, func(i, j int) bool {
		ti, iok := s.topics[s.order[i]]
		tj, jok := s.topics[s.order[j]]
		if !iok || !jok {
			return iok
		}
		return ti.Order < tj.Order
	})
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

// State is the serializable form used by the snapshot committer.
type State struct {
	Topics []*Topic `json:"topics"`
	Order  []string `json:"order"`
}

// ExportState snapshots the catalog and the Topic Order together.
func (s *Store) ExportState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topics := make([]*Topic, 0, len(s.topics))
	for _, key := range s.order {
		if t, ok := s.topics[key]; ok {
			topics = append(topics, t.clone())
		}
	}
	return State{Topics: topics, Order: append([]string(nil), s.order...)}
}

// RestoreState replaces the catalog contents from a loaded snapshot.
func (s *Store) RestoreState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = make(map[string]*Topic, len(st.Topics))
	for _, t := range st.Topics {
		if t == nil || t.Key == "" {
			continue
		}
		s.topics[t.Key] = t.clone()
	}
	s.order = s.order[:0]
	for _, key := range st.Order {
		if _, ok := s.topics[key]; ok {
			s.order = append(s.order, key)
		}
	}
	for key := range s.topics {
		found := false
		for _, k := range s.order {
			if k == key {
				found = true
				break
			}
		}
		if !found {
			s.order = append(s.order, key)
		}
	}
	s.resortLocked()
}
