package elo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

// LockTTL is how long a calculating row stays exclusive before another
// server may take it over.
const LockTTL = 5 * time.Minute

// LockManager serializes ELO processing per activity across servers via
// conditional updates on the activity_elo_status row. Each operation is
// a single atomic statement so two servers never both win.
type LockManager struct {
	store    *store.Store
	serverID string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewLockManager creates a lock manager identifying this server.
func NewLockManager(st *store.Store, serverID string, logger *slog.Logger) *LockManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockManager{
		store:    st,
		serverID: serverID,
		ttl:      LockTTL,
		logger:   logger.With("component", "elo.lock", "server_id", serverID),
	}
}

// ServerID returns the lock-holder identity.
func (lm *LockManager) ServerID() string { return lm.serverID }

// Acquire claims exclusive processing of an activity. It succeeds when
// no status row exists, when the row is pending, completed or errored
// (reprocess), or when a calculating row's lock is older than the TTL
// (takeover, which bumps retry_count). A live calculating row fails
// with ConcurrentCalculation.
func (lm *LockManager) Acquire(ctx context.Context, activityID string) error {
	now := store.Now()
	stale := now.Add(-lm.ttl)

	res, err := lm.store.DB().ExecContext(ctx, `
		UPDATE activity_elo_status
		SET status = ?, locked_by = ?, locked_at = ?,
		    retry_count = retry_count + (CASE WHEN status = ? THEN 1 ELSE 0 END)
		WHERE activity_id = ?
		  AND (status IN (?, ?, ?) OR (status = ? AND locked_at < ?))`,
		string(types.ELOStatusCalculating), lm.serverID, now,
		string(types.ELOStatusCalculating),
		activityID,
		string(types.ELOStatusPending), string(types.ELOStatusCompleted), string(types.ELOStatusError),
		string(types.ELOStatusCalculating), stale,
	)
	if err != nil {
		return fmt.Errorf("elo: acquire lock: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	res, err = lm.store.DB().ExecContext(ctx, `
		INSERT INTO activity_elo_status(activity_id, status, locked_by, locked_at)
		VALUES(?, ?, ?, ?)
		ON CONFLICT(activity_id) DO NOTHING`,
		activityID, string(types.ELOStatusCalculating), lm.serverID, now,
	)
	if err != nil {
		return fmt.Errorf("elo: acquire lock insert: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}

	return types.E(types.KindConcurrentCalculation,
		"elo calculation for activity %s is already in progress", activityID)
}

// ReleaseCompleted transitions the row this server holds to completed.
func (lm *LockManager) ReleaseCompleted(ctx context.Context, activityID string) error {
	return lm.releaseCompleted(ctx, lm.store.DB(), activityID)
}

// ReleaseCompletedTx is ReleaseCompleted inside a caller transaction,
// letting the persister commit the status flip atomically with the
// rating updates.
func (lm *LockManager) ReleaseCompletedTx(ctx context.Context, tx *sql.Tx, activityID string) error {
	return lm.releaseCompleted(ctx, tx, activityID)
}

func (lm *LockManager) releaseCompleted(ctx context.Context, q store.Querier, activityID string) error {
	res, err := q.ExecContext(ctx, `
		UPDATE activity_elo_status
		SET status = ?, completed_at = ?, error_message = ''
		WHERE activity_id = ? AND status = ? AND locked_by = ?`,
		string(types.ELOStatusCompleted), store.Now(),
		activityID, string(types.ELOStatusCalculating), lm.serverID,
	)
	if err != nil {
		return fmt.Errorf("elo: release lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lock was taken over after the TTL; forfeit quietly.
		lm.logger.Warn("release skipped, lock no longer held", "activity_id", activityID)
	}
	return nil
}

// ReleaseError flips the row to error, records the message and bumps
// retry_count so a background drain can retry later.
func (lm *LockManager) ReleaseError(ctx context.Context, activityID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := lm.store.DB().ExecContext(ctx, `
		UPDATE activity_elo_status
		SET status = ?, error_message = ?, retry_count = retry_count + 1
		WHERE activity_id = ? AND status = ? AND locked_by = ?`,
		string(types.ELOStatusError), msg,
		activityID, string(types.ELOStatusCalculating), lm.serverID,
	)
	if err != nil {
		return fmt.Errorf("elo: release lock with error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		lm.logger.Warn("error release skipped, lock no longer held", "activity_id", activityID)
	}
	return nil
}

// MarkPending upserts the status row to pending for deferred or
// re-queued processing.
func (lm *LockManager) MarkPending(ctx context.Context, activityID string) error {
	_, err := lm.store.DB().ExecContext(ctx, `
		INSERT INTO activity_elo_status(activity_id, status)
		VALUES(?, ?)
		ON CONFLICT(activity_id) DO UPDATE SET status = excluded.status`,
		activityID, string(types.ELOStatusPending),
	)
	if err != nil {
		return fmt.Errorf("elo: mark pending: %w", err)
	}
	return nil
}

// Get loads the status row for an activity.
func (lm *LockManager) Get(ctx context.Context, activityID string) (*types.ActivityELOStatus, error) {
	s := &types.ActivityELOStatus{}
	var lockedAt, completedAt sql.NullTime
	err := lm.store.DB().QueryRowContext(ctx, `
		SELECT activity_id, status, locked_by, locked_at, completed_at, error_message, retry_count
		FROM activity_elo_status WHERE activity_id = ?`, activityID,
	).Scan(&s.ActivityID, &s.Status, &s.LockedBy, &lockedAt, &completedAt, &s.ErrorMessage, &s.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFoundf("elo status for activity %s not found", activityID)
	}
	if err != nil {
		return nil, fmt.Errorf("elo: get status: %w", err)
	}
	if lockedAt.Valid {
		s.LockedAt = lockedAt.Time.UTC()
	}
	if completedAt.Valid {
		s.CompletedAt = completedAt.Time.UTC()
	}
	return s, nil
}

// ListDrainable returns activity ids whose status is pending or whose
// calculating lock has gone stale; the background worker feeds these
// back through the orchestrator.
func (lm *LockManager) ListDrainable(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	stale := store.Now().Add(-lm.ttl)
	rows, err := lm.store.DB().QueryContext(ctx, `
		SELECT activity_id FROM activity_elo_status
		WHERE status = ? OR (status = ? AND locked_at < ?)
		ORDER BY activity_id LIMIT ?`,
		string(types.ELOStatusPending), string(types.ELOStatusCalculating), stale, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("elo: list drainable: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
