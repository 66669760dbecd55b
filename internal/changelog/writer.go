// Package changelog is the append-only record of entity mutations that
// feeds the delta polling surface. One row per affected user per logical
// event; consumers filter by affected_user_id alone.
package changelog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

// Writer appends change rows. Inserts assign created_at server-side so
// consumers can rely on per-row monotonicity (ties broken by row id).
type Writer struct {
	store  *store.Store
	logger *slog.Logger
}

// NewWriter creates a change-log writer.
func NewWriter(st *store.Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:  st,
		logger: logger.With("component", "changelog"),
	}
}

const insertSQL = `
	INSERT INTO entity_change_log(
		entity_type, entity_id, change_type, affected_user_id,
		related_entity_id, previous_data, new_data, change_details,
		triggered_by, change_source, created_at
	) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Record inserts one change row using q (a *sql.Tx when the caller wants
// the row committed atomically with the business mutation, or the bare
// DB handle otherwise).
func (w *Writer) Record(ctx context.Context, q store.Querier, c *types.EntityChange) error {
	if c.ChangeSource == "" {
		c.ChangeSource = types.SourceSystem
	}
	c.CreatedAt = store.Now()

	var prev, next any
	if len(c.PreviousData) > 0 {
		prev = string(c.PreviousData)
	}
	if len(c.NewData) > 0 {
		next = string(c.NewData)
	}

	res, err := q.ExecContext(ctx, insertSQL,
		string(c.EntityType), c.EntityID, string(c.ChangeType), c.AffectedUserID,
		c.RelatedEntityID, prev, next, c.ChangeDetails,
		c.TriggeredBy, string(c.ChangeSource), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("changelog: insert: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

// RecordBestEffort inserts a change row outside any transaction. A
// failure is logged and swallowed; it must not abort the business
// mutation that produced the change.
func (w *Writer) RecordBestEffort(ctx context.Context, c *types.EntityChange) {
	if err := w.Record(ctx, w.store.DB(), c); err != nil {
		w.logger.Warn("change log write failed",
			"entity_type", c.EntityType,
			"entity_id", c.EntityID,
			"affected_user", c.AffectedUserID,
			"error", err)
	}
}

// FanOut records one row per affected user for a single logical event.
// Best-effort like RecordBestEffort.
func (w *Writer) FanOut(ctx context.Context, template *types.EntityChange, userIDs []string) {
	for _, uid := range userIDs {
		c := *template
		c.AffectedUserID = uid
		w.RecordBestEffort(ctx, &c)
	}
}

// FetchForUser returns change rows for one user newer than since,
// optionally filtered to the given entity classes, newest first (row id
// breaks created_at ties), capped at limit.
func (w *Writer) FetchForUser(ctx context.Context, userID string, since time.Time, classes []types.EntityClass, limit int) ([]*types.EntityChange, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, entity_type, entity_id, change_type, affected_user_id,
		       related_entity_id, previous_data, new_data, change_details,
		       triggered_by, change_source, created_at
		FROM entity_change_log
		WHERE affected_user_id = ? AND created_at > ?`)
	args := []any{userID, since}

	if len(classes) > 0 {
		sb.WriteString(` AND entity_type IN (?` + strings.Repeat(",?", len(classes)-1) + `)`)
		for _, c := range classes {
			args = append(args, string(c))
		}
	}
	sb.WriteString(` ORDER BY created_at DESC, id DESC LIMIT ?`)
	args = append(args, limit)

	rows, err := w.store.DB().QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("changelog: fetch: %w", err)
	}
	defer rows.Close()

	var out []*types.EntityChange
	for rows.Next() {
		c := &types.EntityChange{}
		var prev, next *string
		if err := rows.Scan(
			&c.ID, &c.EntityType, &c.EntityID, &c.ChangeType, &c.AffectedUserID,
			&c.RelatedEntityID, &prev, &next, &c.ChangeDetails,
			&c.TriggeredBy, &c.ChangeSource, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		if prev != nil {
			c.PreviousData = []byte(*prev)
		}
		if next != nil {
			c.NewData = []byte(*next)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// PendingCount returns the number of rows for userID in class newer
// than since.
func (w *Writer) PendingCount(ctx context.Context, userID string, class types.EntityClass, since time.Time) (int, error) {
	var n int
	err := w.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_change_log
		 WHERE affected_user_id = ? AND entity_type = ? AND created_at > ?`,
		userID, string(class), since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("changelog: pending count: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes change rows older than the cutoff and returns
// the number deleted. Used by the retention sweep.
func (w *Writer) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := w.store.DB().ExecContext(ctx,
		`DELETE FROM entity_change_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("changelog: delete older than: %w", err)
	}
	return res.RowsAffected()
}
