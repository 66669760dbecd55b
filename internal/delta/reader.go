package delta

import (
	"context"
	"log/slog"
	"time"

	"github.com/playrank/playrank/internal/changelog"
	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

// MaxFetchLimit caps one poll's batch size.
const MaxFetchLimit = 100

// FetchRequest is one poll from a client.
type FetchRequest struct {
	UserID        string
	Since         time.Time // optional; zero means cursor-only
	EntityClasses []types.EntityClass
	ClientType    types.ClientType
	Limit         int
}

// FetchResult is the poll response.
type FetchResult struct {
	Changes                 []*types.EntityChange           `json:"changes"`
	HasChanges              bool                            `json:"hasChanges"`
	NewCursors              map[types.EntityClass]time.Time `json:"newCursors"`
	Metadata                FetchMetadata                   `json:"metadata"`
	RecommendedPollInterval int                             `json:"recommendedPollInterval"`
}

// FetchMetadata carries batch statistics.
type FetchMetadata struct {
	TotalChanges   int                       `json:"totalChanges"`
	CountsByEntity map[types.EntityClass]int `json:"countsByEntity"`
	PolledAt       time.Time                 `json:"polledAt"`
}

// Reader serves filtered incremental retrieval over the change log.
type Reader struct {
	cursors *CursorStore
	log     *changelog.Writer
	logger  *slog.Logger
}

// NewReader creates a delta reader.
func NewReader(cursors *CursorStore, log *changelog.Writer, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		cursors: cursors,
		log:     log,
		logger:  logger.With("component", "delta.reader"),
	}
}

// FetchDeltas returns the change rows a user has not yet observed.
//
// The SQL WHERE uses the oldest of the per-class effective bounds for
// cheap index use; a second in-memory pass drops rows older than their
// own class bound. Only cursors whose class appeared in the returned
// batch advance, so classes with no new rows keep at-least-once
// delivery across concurrent writes.
func (r *Reader) FetchDeltas(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	limit := req.Limit
	if limit <= 0 || limit > MaxFetchLimit {
		limit = MaxFetchLimit
	}

	cursor, err := r.cursors.GetOrCreate(ctx, req.UserID, req.ClientType)
	if err != nil {
		return nil, err
	}

	classes := req.EntityClasses
	if len(classes) == 0 {
		classes = types.TrackedClasses
	}

	polledAt := store.Now()

	// Effective lower bound per class = max(since arg, class cursor).
	bounds := make(map[types.EntityClass]time.Time, len(classes))
	var oldest time.Time
	for i, class := range classes {
		b := cursor.SyncTime(class)
		if !req.Since.IsZero() && req.Since.After(b) {
			b = req.Since
		}
		bounds[class] = b
		if i == 0 || b.Before(oldest) {
			oldest = b
		}
	}

	rows, err := r.log.FetchForUser(ctx, req.UserID, oldest, classes, limit)
	if err != nil {
		return nil, err
	}

	// Second pass: enforce each row's own class bound.
	changes := rows[:0]
	counts := make(map[types.EntityClass]int)
	for _, c := range rows {
		if bound, ok := bounds[c.EntityType]; ok && !c.CreatedAt.After(bound) {
			continue
		}
		changes = append(changes, c)
		counts[c.EntityType]++
	}

	// Advance only the cursors whose class produced rows.
	newCursors := make(map[types.EntityClass]time.Time)
	advance := make(map[types.EntityClass]time.Time)
	for _, class := range types.TrackedClasses {
		newCursors[class] = cursor.SyncTime(class)
	}
	for class, n := range counts {
		if n == 0 {
			continue
		}
		advance[class] = polledAt
		newCursors[class] = polledAt
	}
	if len(advance) > 0 {
		if err := r.cursors.UpdateSyncTimes(ctx, req.UserID, advance, req.ClientType); err != nil {
			return nil, err
		}
	}

	interval := RecommendPollInterval(len(changes), cursor.ClientType, cursor.LastActiveAt, polledAt)

	if len(changes) == 0 {
		changes = []*types.EntityChange{}
	}
	return &FetchResult{
		Changes:    changes,
		HasChanges: len(changes) > 0,
		NewCursors: newCursors,
		Metadata: FetchMetadata{
			TotalChanges:   len(changes),
			CountsByEntity: counts,
			PolledAt:       polledAt,
		},
		RecommendedPollInterval: interval,
	}, nil
}

// Status reports the cursor row plus per-class pending counts for the
// /delta/status surface.
type Status struct {
	Cursor       *types.UserDeltaCursor    `json:"cursor"`
	PendingCount map[types.EntityClass]int `json:"pendingCount"`
}

// FetchStatus loads the user's cursor and counts unobserved rows per
// tracked class.
func (r *Reader) FetchStatus(ctx context.Context, userID string, clientType types.ClientType) (*Status, error) {
	cursor, err := r.cursors.GetOrCreate(ctx, userID, clientType)
	if err != nil {
		return nil, err
	}

	pending := make(map[types.EntityClass]int, len(types.TrackedClasses))
	for _, class := range types.TrackedClasses {
		n, err := r.log.PendingCount(ctx, userID, class, cursor.SyncTime(class))
		if err != nil {
			return nil, err
		}
		pending[class] = n
	}

	return &Status{Cursor: cursor, PendingCount: pending}, nil
}
