// Package delta implements the long-poll change stream: per-user
// per-entity-class cursors, filtered incremental retrieval from the
// change log, and the adaptive poll-interval recommendation.
package delta

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

// CursorStore manages user_delta_cursors rows. The five per-class
// cursors are independent so a slow consumer for one class does not
// starve the others.
type CursorStore struct {
	store  *store.Store
	logger *slog.Logger
}

// NewCursorStore creates a cursor store.
func NewCursorStore(st *store.Store, logger *slog.Logger) *CursorStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CursorStore{
		store:  st,
		logger: logger.With("component", "delta.cursors"),
	}
}

// GetOrCreate returns the user's cursor row, inserting one with all
// five sync timestamps set to now when absent (new users see no
// pre-existing history). Every read touches last_active_at and the
// client type.
func (cs *CursorStore) GetOrCreate(ctx context.Context, userID string, clientType types.ClientType) (*types.UserDeltaCursor, error) {
	if clientType == "" {
		clientType = types.ClientWeb
	}
	now := store.Now()

	c, err := cs.get(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		c = &types.UserDeltaCursor{
			UserID:                userID,
			LastELOSync:           now,
			LastActivitySync:      now,
			LastSkillRatingSync:   now,
			LastConnectionSync:    now,
			LastMatchmakingSync:   now,
			ClientType:            clientType,
			LastActiveAt:          now,
			PreferredPollInterval: basePollInterval(clientType),
			UpdatedAt:             now,
		}
		_, err = cs.store.DB().ExecContext(ctx, `
			INSERT INTO user_delta_cursors(
				user_id, last_elo_sync, last_activity_sync, last_skill_rating_sync,
				last_connection_sync, last_matchmaking_sync, client_type,
				last_active_at, preferred_poll_interval, updated_at
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.UserID, c.LastELOSync, c.LastActivitySync, c.LastSkillRatingSync,
			c.LastConnectionSync, c.LastMatchmakingSync, string(c.ClientType),
			c.LastActiveAt, c.PreferredPollInterval, c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("delta: create cursor: %w", err)
		}
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delta: get cursor: %w", err)
	}

	// Touch activity metadata on every read. The returned LastActiveAt
	// keeps the pre-touch value so callers can tell how long the user
	// had been idle before this poll.
	_, err = cs.store.DB().ExecContext(ctx,
		`UPDATE user_delta_cursors SET last_active_at = ?, client_type = ? WHERE user_id = ?`,
		now, string(clientType), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("delta: touch cursor: %w", err)
	}
	c.ClientType = clientType
	return c, nil
}

func (cs *CursorStore) get(ctx context.Context, userID string) (*types.UserDeltaCursor, error) {
	c := &types.UserDeltaCursor{}
	err := cs.store.DB().QueryRowContext(ctx, `
		SELECT user_id, last_elo_sync, last_activity_sync, last_skill_rating_sync,
		       last_connection_sync, last_matchmaking_sync, client_type,
		       last_active_at, preferred_poll_interval, updated_at
		FROM user_delta_cursors WHERE user_id = ?`, userID,
	).Scan(
		&c.UserID, &c.LastELOSync, &c.LastActivitySync, &c.LastSkillRatingSync,
		&c.LastConnectionSync, &c.LastMatchmakingSync, &c.ClientType,
		&c.LastActiveAt, &c.PreferredPollInterval, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	for _, ts := range []*time.Time{
		&c.LastELOSync, &c.LastActivitySync, &c.LastSkillRatingSync,
		&c.LastConnectionSync, &c.LastMatchmakingSync, &c.LastActiveAt, &c.UpdatedAt,
	} {
		*ts = ts.UTC()
	}
	return c, nil
}

// UpdateSyncTimes sets the provided per-class cursor timestamps and
// touches updated_at / last_active_at. Last writer wins per user.
func (cs *CursorStore) UpdateSyncTimes(ctx context.Context, userID string, times map[types.EntityClass]time.Time, clientType types.ClientType) error {
	if len(times) == 0 {
		return nil
	}
	now := store.Now()
	query := `UPDATE user_delta_cursors SET updated_at = ?, last_active_at = ?`
	args := []any{now, now}
	if clientType != "" {
		query += `, client_type = ?`
		args = append(args, string(clientType))
	}
	for class, ts := range times {
		col, ok := cursorColumn(class)
		if !ok {
			return types.Validationf("entityType", "unknown entity class %q", class)
		}
		query += `, ` + col + ` = ?`
		args = append(args, ts)
	}
	query += ` WHERE user_id = ?`
	args = append(args, userID)

	res, err := cs.store.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delta: update sync times: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NotFoundf("cursor for user %s not found", userID)
	}
	return nil
}

// ResetCursor advances the given cursor (or all five when class is
// "all") to now: catch up and discard prior history, not rewind.
func (cs *CursorStore) ResetCursor(ctx context.Context, userID string, class string, clientType types.ClientType) (*types.UserDeltaCursor, error) {
	if _, err := cs.GetOrCreate(ctx, userID, clientType); err != nil {
		return nil, err
	}

	now := store.Now()
	times := make(map[types.EntityClass]time.Time)
	if class == "all" {
		for _, c := range types.TrackedClasses {
			times[c] = now
		}
	} else {
		ec := types.EntityClass(class)
		if _, ok := cursorColumn(ec); !ok {
			return nil, types.Validationf("entityType", "unknown entity class %q", class)
		}
		times[ec] = now
	}
	if err := cs.UpdateSyncTimes(ctx, userID, times, clientType); err != nil {
		return nil, err
	}
	c, err := cs.get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("delta: reload cursor: %w", err)
	}
	return c, nil
}

func cursorColumn(class types.EntityClass) (string, bool) {
	switch class {
	case types.EntityELO:
		return "last_elo_sync", true
	case types.EntityActivity:
		return "last_activity_sync", true
	case types.EntitySkillRating:
		return "last_skill_rating_sync", true
	case types.EntityConnection:
		return "last_connection_sync", true
	case types.EntityMatchmaking:
		return "last_matchmaking_sync", true
	}
	return "", false
}
