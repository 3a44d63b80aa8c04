package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"log/slog"

	"github.com/m3rciful/edubot/core/logger"
	"github.com/m3rciful/edubot/internal/apperr"
)

const snapshotSlot = "primary"

// PostgresCommitter persists snapshot documents into the state_snapshots
// table, one row per slot, newest state wins.
type PostgresCommitter struct {
	db     *sqlx.DB
	stores Stores
}

// NewPostgresCommitter wires a committer over an open database handle.
func NewPostgresCommitter(db *sqlx.DB, stores Stores) *PostgresCommitter {
	return &PostgresCommitter{db: db, stores: stores}
}

// Commit serializes the stores and upserts the document.
func (p *PostgresCommitter) Commit(ctx context.Context) error {
	start := time.Now()
	doc := p.stores.Export()
	data, err := Encode(doc)
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO state_snapshots (slot, payload, saved_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (slot) DO UPDATE
		SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`
	if _, err := p.db.ExecContext(ctx, q, snapshotSlot, data, doc.SavedAt); err != nil {
		logger.DB.Error("snapshot commit failed",
			slog.String("event", "snapshot.commit"),
			slog.Int("bytes", len(data)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	logger.DB.Debug("snapshot committed",
		slog.String("event", "snapshot.commit"),
		slog.Int("bytes", len(data)),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
	return nil
}

// Load restores the stores from the last committed document. A missing
// snapshot is a clean start, not an error.
func (p *PostgresCommitter) Load(ctx context.Context) error {
	var data []byte
	const q = `SELECT payload FROM state_snapshots WHERE slot = $1`
	if err := p.db.GetContext(ctx, &data, q, snapshotSlot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			logger.DB.Info("no snapshot found, starting clean",
				slog.String("event", "snapshot.load"),
			)
			return nil
		}
		return fmt.Errorf("%w: %v", apperr.ErrPersistence, err)
	}

	doc, err := Decode(data)
	if err != nil {
		return err
	}
	p.stores.Restore(doc)
	logger.DB.Info("snapshot loaded",
		slog.String("event", "snapshot.load"),
		slog.Int("bytes", len(data)),
		slog.Int("users", len(doc.Activity)),
		slog.Int("topics", len(doc.Catalog.Topics)),
		slog.Int("duels", len(doc.Duels.Duels)),
	)
	return nil
}
