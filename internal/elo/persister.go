package elo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/playrank/playrank/internal/changelog"
	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

// maxVersionRetries bounds optimistic-concurrency retries before the
// transaction fails ConcurrentRatingUpdate.
const maxVersionRetries = 3

// Persister applies engine deltas atomically: rating upserts, change
// log rows and the status flip commit in one transaction or not at all.
type Persister struct {
	store  *store.Store
	log    *changelog.Writer
	locks  *LockManager
	logger *slog.Logger
}

// NewPersister creates the delta persister.
func NewPersister(st *store.Store, log *changelog.Writer, locks *LockManager, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		store:  st,
		log:    log,
		locks:  locks,
		logger: logger.With("component", "elo.persister"),
	}
}

// Apply persists the deltas for one activity. Retries the whole
// transaction on a version conflict up to maxVersionRetries times.
func (p *Persister) Apply(ctx context.Context, activityID, activityTypeID string, deltas []Delta) error {
	var lastErr error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err := p.applyOnce(ctx, activityID, activityTypeID, deltas)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errVersionConflict) {
			return err
		}
		lastErr = err
		p.logger.Debug("version conflict, retrying", "activity_id", activityID, "attempt", attempt+1)
	}
	return &types.Error{
		Kind:    types.KindConcurrentRatingUpdate,
		Message: fmt.Sprintf("rating update for activity %s conflicted after %d attempts", activityID, maxVersionRetries),
		Err:     lastErr,
	}
}

var errVersionConflict = errors.New("elo: rating row version conflict")

func (p *Persister) applyOnce(ctx context.Context, activityID, activityTypeID string, deltas []Delta) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := store.Now()
		for _, d := range deltas {
			var version int64
			err := tx.QueryRowContext(ctx,
				`SELECT version FROM user_activity_type_elo WHERE user_id = ? AND activity_type_id = ?`,
				d.UserID, activityTypeID,
			).Scan(&version)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				_, err = tx.ExecContext(ctx, `
					INSERT INTO user_activity_type_elo(
						user_id, activity_type_id, elo_score, games_played,
						peak_elo, volatility, last_updated, version
					) VALUES(?, ?, ?, 1, ?, ?, ?, 1)`,
					d.UserID, activityTypeID, d.NewELO, d.NewELO, DefaultVolatility, now,
				)
				if err != nil {
					return fmt.Errorf("elo: insert rating row: %w", err)
				}
			case err != nil:
				return fmt.Errorf("elo: read rating version: %w", err)
			default:
				res, err := tx.ExecContext(ctx, `
					UPDATE user_activity_type_elo
					SET elo_score = ?, games_played = games_played + 1,
					    peak_elo = MAX(peak_elo, ?), last_updated = ?, version = version + 1
					WHERE user_id = ? AND activity_type_id = ? AND version = ?`,
					d.NewELO, d.NewELO, now, d.UserID, activityTypeID, version,
				)
				if err != nil {
					return fmt.Errorf("elo: update rating row: %w", err)
				}
				if n, _ := res.RowsAffected(); n == 0 {
					return errVersionConflict
				}
			}

			prev, _ := json.Marshal(map[string]any{"eloScore": d.OldELO})
			next, _ := json.Marshal(map[string]any{
				"eloScore":       d.NewELO,
				"change":         d.NewELO - d.OldELO,
				"activityTypeId": activityTypeID,
			})
			change := &types.EntityChange{
				EntityType:      types.EntityELO,
				EntityID:        d.UserID,
				ChangeType:      types.ChangeUpdate,
				AffectedUserID:  d.UserID,
				RelatedEntityID: activityID,
				PreviousData:    prev,
				NewData:         next,
				ChangeSource:    types.SourceSystem,
			}
			if err := p.log.Record(ctx, tx, change); err != nil {
				return err
			}
		}

		return p.locks.ReleaseCompletedTx(ctx, tx, activityID)
	})
}
