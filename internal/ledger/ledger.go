// Package ledger owns subscription tiers, expiries, and the append-only
// transaction history.
package ledger

import (
	"sync"
	"time"

	"github.com/m3rciful/edubot/internal/apperr"
)

// Tier is a subscription level gating content access.
type Tier string

const (
	TierFree    Tier = "FREE"
	TierPremium Tier = "PREMIUM"
	TierPro     Tier = "PRO"
)

// Duration values of this many days and above are treated as a lifetime
// grant: highest tier with a far-future expiry, kept expressible as a
// timestamp.
const (
	LifetimeThresholdDays = 9999
	LifetimeDays          = 3650
)

// Transaction is one immutable history entry. Admin grants carry a zero
// amount and the granting admin's identity.
type Transaction struct {
	ProductID   string    `json:"product_id"`
	Amount      float64   `json:"amount"`
	PurchasedAt time.Time `json:"purchased_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	GrantedBy   int64     `json:"granted_by,omitempty"`
}

// Subscription is the per-user ledger entry. ExpiresAt is nil for users
// that never held a paid tier or were revoked.
type Subscription struct {
	UserID       int64         `json:"user_id"`
	Tier         Tier          `json:"tier"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	Transactions []Transaction `json:"transactions"`
}

func (s *Subscription) clone() *Subscription {
	cp := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		cp.ExpiresAt = &t
	}
	cp.Transactions = append([]Transaction(nil), s.Transactions...)
	return &cp
}

// IsActiveAt reports whether the subscription grants paid access at t.
// An expired paid tier counts as FREE everywhere; no eager downgrade
// write is performed.
func (s *Subscription) IsActiveAt(t time.Time) bool {
	if s == nil || s.Tier == TierFree || s.Tier == "" {
		return false
	}
	return s.ExpiresAt != nil && s.ExpiresAt.After(t)
}

// Ledger is the process-wide subscription store.
type Ledger struct {
	mu     sync.RWMutex
	subs   map[int64]*Subscription
	ensure func(userID int64)
	now    func() time.Time
}

// Option customises Ledger construction.
type Option func(*Ledger)

// WithActivityEnsure wires the side effect that creates a zero-rating
// activity record when granting to an unknown user.
func WithActivityEnsure(fn func(userID int64)) Option {
	return func(l *Ledger) { l.ensure = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New returns an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		subs: make(map[int64]*Subscription),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GrantResult reports the outcome of a grant for admin-facing rendering.
type GrantResult struct {
	Tier      Tier
	ExpiresAt time.Time
	Lifetime  bool
}

// Grant sets the user's tier and expiry and appends one zero-amount
// transaction attributed to the granting admin. Days at or above the
// lifetime threshold grant the highest tier with a ten-year expiry.
func (l *Ledger) Grant(userID int64, tier Tier, days int, adminID int64) (GrantResult, error) {
	if days <= 0 {
		return GrantResult{}, apperr.ErrValidation
	}
	if tier != TierPremium && tier != TierPro {
		return GrantResult{}, apperr.ErrValidation
	}

	lifetime := days >= LifetimeThresholdDays
	if lifetime {
		tier = TierPro
		days = LifetimeDays
	}

	if l.ensure != nil {
		l.ensure(userID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	expires := now.AddDate(0, 0, days)

	sub, ok := l.subs[userID]
	if !ok {
		sub = &Subscription{UserID: userID, Tier: TierFree}
		l.subs[userID] = sub
	}
	sub.Tier = tier
	sub.ExpiresAt = &expires
	sub.Transactions = append(sub.Transactions, Transaction{
		ProductID:   "admin_gift",
		Amount:      0,
		PurchasedAt: now,
		ExpiresAt:   expires,
		GrantedBy:   adminID,
	})

	return GrantResult{Tier: tier, ExpiresAt: expires, Lifetime: lifetime}, nil
}

// Record appends a paid transaction and applies the purchased tier.
// Used by the payment webhook path, not by admin grants.
func (l *Ledger) Record(userID int64, tier Tier, days int, productID string, amount float64) error {
	if days <= 0 || productID == "" {
		return apperr.ErrValidation
	}
	if l.ensure != nil {
		l.ensure(userID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	expires := now.AddDate(0, 0, days)
	sub, ok := l.subs[userID]
	if !ok {
		sub = &Subscription{UserID: userID, Tier: TierFree}
		l.subs[userID] = sub
	}
	sub.Tier = tier
	sub.ExpiresAt = &expires
	sub.Transactions = append(sub.Transactions, Transaction{
		ProductID:   productID,
		Amount:      amount,
		PurchasedAt: now,
		ExpiresAt:   expires,
	})
	return nil
}

// Revoke resets the user to FREE and clears the expiry. History is
// append-only and survives the revoke. Returns ErrNoActiveSubscription
// when the user holds no active paid tier.
func (l *Ledger) Revoke(userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub, ok := l.subs[userID]
	if !ok || !sub.IsActiveAt(l.now()) {
		return apperr.ErrNoActiveSubscription
	}
	sub.Tier = TierFree
	sub.ExpiresAt = nil
	return nil
}

// Get returns a copy of the user's subscription. Users never seen by the
// ledger read as FREE with no history.
func (l *Ledger) Get(userID int64) *Subscription {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if sub, ok := l.subs[userID]; ok {
		return sub.clone()
	}
	return &Subscription{UserID: userID, Tier: TierFree}
}

// IsActive reports whether the user holds an active paid tier right now.
func (l *Ledger) IsActive(userID int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sub, ok := l.subs[userID]
	return ok && sub.IsActiveAt(l.now())
}

// ActiveCount returns how many users hold an active paid tier.
func (l *Ledger) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.now()
	n := 0
	for _, sub := range l.subs {
		if sub.IsActiveAt(now) {
			n++
		}
	}
	return n
}

// ActiveTierCounts returns the number of active subscriptions per tier.
func (l *Ledger) ActiveTierCounts() map[Tier]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.now()
	out := make(map[Tier]int)
	for _, sub := range l.subs {
		if sub.IsActiveAt(now) {
			out[sub.Tier]++
		}
	}
	return out
}

// Revenue sums all transaction amounts across all users.
func (l *Ledger) Revenue() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total float64
	for _, sub := range l.subs {
		for _, tx := range sub.Transactions {
			total += tx.Amount
		}
	}
	return total
}

// All returns a copied snapshot of every subscription.
func (l *Ledger) All() []*Subscription {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Subscription, 0, len(l.subs))
	for _, sub := range l.subs {
		out = append(out, sub.clone())
	}
	return out
}

// ExportState returns the serializable form used by the snapshot committer.
func (l *Ledger) ExportState() []*Subscription {
	return l.All()
}

// RestoreState replaces the ledger contents from a loaded snapshot.
func (l *Ledger) RestoreState(subs []*Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = make(map[int64]*Subscription, len(subs))
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		l.subs[sub.UserID] = sub.clone()
	}
}
