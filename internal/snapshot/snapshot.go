// Package snapshot is the persistence boundary: it serializes the
// in-memory stores into one durable document per commit. Commit
// failures never roll back in-memory state; the divergence is surfaced
// to the administrator and reconciles on the next successful commit.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/m3rciful/edubot/internal/activity"
	"github.com/m3rciful/edubot/internal/apperr"
	"github.com/m3rciful/edubot/internal/arena"
	"github.com/m3rciful/edubot/internal/catalog"
	"github.com/m3rciful/edubot/internal/ledger"
)

// Committer durably writes the current in-memory state of all stores.
type Committer interface {
	Commit(ctx context.Context) error
}

// Document is the full serialized state of the admin core.
type Document struct {
	SavedAt       time.Time              `json:"saved_at"`
	Subscriptions []*ledger.Subscription `json:"subscriptions"`
	Catalog       catalog.State          `json:"catalog"`
	Duels         arena.State            `json:"duels"`
	Activity      []*activity.Record     `json:"activity"`
}

// Stores groups the exporters serialized by a commit.
type Stores struct {
	Ledger   *ledger.Ledger
	Catalog  *catalog.Store
	Arena    *arena.Registry
	Activity *activity.Store
}

// Export collects the current state of every store. Concurrent mutation
// during export is reflected best-effort per store, not transactionally.
func (s Stores) Export() Document {
	return Document{
		SavedAt:       time.Now(),
		Subscriptions: s.Ledger.ExportState(),
		Catalog:       s.Catalog.ExportState(),
		Duels:         s.Arena.ExportState(),
		Activity:      s.Activity.ExportState(),
	}
}

// Restore pushes a loaded document back into the stores.
func (s Stores) Restore(doc Document) {
	s.Ledger.RestoreState(doc.Subscriptions)
	s.Catalog.RestoreState(doc.Catalog)
	s.Arena.RestoreState(doc.Duels)
	s.Activity.RestoreState(doc.Activity)
}

// Encode marshals a document for storage.
func Encode(doc Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", apperr.ErrPersistence, err)
	}
	return data, nil
}

// Decode unmarshals a stored document.
func Decode(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: decode: %v", apperr.ErrPersistence, err)
	}
	return doc, nil
}
