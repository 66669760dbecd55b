package elo

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/playrank/playrank/internal/changelog"
	"github.com/playrank/playrank/internal/skills"
	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// fixture seeds an activity type, users and one completed ELO-rated
// activity with accepted participants carrying final results.
type fixture struct {
	st         *store.Store
	locks      *LockManager
	orch       *Orchestrator
	typeID     string
	activityID string
	creatorID  string
}

func newFixture(t *testing.T, serverID string) *fixture {
	t.Helper()
	st := newTestStore(t)
	return wireFixture(t, st, serverID)
}

func wireFixture(t *testing.T, st *store.Store, serverID string) *fixture {
	t.Helper()
	logger := testLogger()
	log := changelog.NewWriter(st, logger)
	agg := skills.NewAggregator(st, logger)
	locks := NewLockManager(st, serverID, logger)
	persister := NewPersister(st, log, locks, logger)
	orch := NewOrchestrator(st, locks, persister, log, agg, logger)

	f := &fixture{
		st:         st,
		locks:      locks,
		orch:       orch,
		typeID:     "type-tennis",
		activityID: "act-1",
		creatorID:  "user-a",
	}
	return f
}

func (f *fixture) seed(t *testing.T, completed bool, results map[string]types.FinalResult) {
	t.Helper()
	ctx := context.Background()
	db := f.st.DB()
	now := store.Now()

	settings, _ := json.Marshal(types.ELOSettings{
		StartingELO:         1200,
		KFactor:             types.KFactorConfig{New: 40, Established: 32, Expert: 16},
		ProvisionalGames:    10,
		MinimumParticipants: 2,
		AllowDraws:          true,
		SkillInfluence:      0.3,
	})
	mustExec(t, ctx, db,
		`INSERT INTO activity_types(id, name, elo_settings) VALUES(?, ?, ?)`,
		f.typeID, "Tennis", string(settings))

	for userID := range results {
		mustExec(t, ctx, db,
			`INSERT INTO users(id, username) VALUES(?, ?)`, userID, userID)
	}

	status := types.ActivityScheduled
	if completed {
		status = types.ActivityCompleted
	}
	mustExec(t, ctx, db, `
		INSERT INTO activities(id, activity_type_id, creator_id, date_time, is_elo_rated,
		                       completion_status, created_at, updated_at)
		VALUES(?, ?, ?, ?, 1, ?, ?, ?)`,
		f.activityID, f.typeID, f.creatorID, now, string(status), now, now)

	for userID, result := range results {
		mustExec(t, ctx, db, `
			INSERT INTO activity_participants(activity_id, user_id, status, final_result, joined_at)
			VALUES(?, ?, ?, ?, ?)`,
			f.activityID, userID, string(types.ParticipantAccepted), string(result), now)
	}
}

func (f *fixture) rating(t *testing.T, userID string) *types.UserActivityTypeELO {
	t.Helper()
	r := &types.UserActivityTypeELO{}
	err := f.st.DB().QueryRowContext(context.Background(), `
		SELECT user_id, activity_type_id, elo_score, games_played, peak_elo, volatility, version
		FROM user_activity_type_elo WHERE user_id = ? AND activity_type_id = ?`,
		userID, f.typeID,
	).Scan(&r.UserID, &r.ActivityTypeID, &r.ELOScore, &r.GamesPlayed, &r.PeakELO, &r.Volatility, &r.Version)
	if err != nil {
		t.Fatalf("load rating for %s: %v", userID, err)
	}
	return r
}

func mustExec(t *testing.T, ctx context.Context, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		t.Fatalf("seed: %v", err)
	}
}
