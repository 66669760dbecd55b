package skills

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/playrank/playrank/internal/changelog"
	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type skillsFixture struct {
	st      *store.Store
	svc     *Service
	agg     *Aggregator
	typeID  string
	skillID string
}

func newSkillsFixture(t *testing.T) *skillsFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := testLogger()
	agg := NewAggregator(st, logger)
	f := &skillsFixture{
		st:      st,
		agg:     agg,
		svc:     NewService(st, changelog.NewWriter(st, logger), agg, logger),
		typeID:  "type-soccer",
		skillID: "skill-teamwork",
	}

	ctx := context.Background()
	db := st.DB()
	exec(t, ctx, db, `INSERT INTO activity_types(id, name, elo_settings) VALUES(?, ?, '{}')`,
		f.typeID, "Soccer")
	exec(t, ctx, db, `INSERT INTO skill_definitions(id, name, skill_type, is_general) VALUES(?, ?, 'mental', 1)`,
		f.skillID, "Teamwork")
	exec(t, ctx, db, `INSERT INTO activity_type_skills(activity_type_id, skill_definition_id) VALUES(?, ?)`,
		f.typeID, f.skillID)
	for _, u := range []string{"rated", "rater1", "rater2", "outsider"} {
		exec(t, ctx, db, `INSERT INTO users(id, username) VALUES(?, ?)`, u, u)
	}
	f.addActivity(t, "act-1", f.typeID, types.ActivityCompleted, "rated", "rater1", "rater2")
	return f
}

// addActivity seeds one activity with the given accepted participants.
func (f *skillsFixture) addActivity(t *testing.T, id, typeID string, status types.CompletionStatus, participants ...string) {
	t.Helper()
	ctx := context.Background()
	now := store.Now()
	exec(t, ctx, f.st.DB(), `
		INSERT INTO activities(id, activity_type_id, creator_id, date_time,
		                       completion_status, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)`,
		id, typeID, participants[0], now, string(status), now, now)
	for _, u := range participants {
		exec(t, ctx, f.st.DB(), `
			INSERT INTO activity_participants(activity_id, user_id, status, joined_at)
			VALUES(?, ?, ?, ?)`,
			id, u, string(types.ParticipantAccepted), now)
	}
}

func (f *skillsFixture) submit(t *testing.T, activityID, rater, rated string, value, confidence int) *types.UserActivitySkillRating {
	t.Helper()
	rating, err := f.svc.Submit(context.Background(), SubmitRequest{
		ActivityID:        activityID,
		RatedUserID:       rated,
		RatingUserID:      rater,
		SkillDefinitionID: f.skillID,
		RatingValue:       value,
		Confidence:        confidence,
	})
	if err != nil {
		t.Fatalf("submit %s->%s: %v", rater, rated, err)
	}
	return rating
}

func (f *skillsFixture) summary(t *testing.T, userID, typeID string) (avg, total int, trend types.Trend, ok bool) {
	t.Helper()
	err := f.st.DB().QueryRowContext(context.Background(), `
		SELECT average_rating, total_ratings, trend FROM user_activity_type_skill_summaries
		WHERE user_id = ? AND activity_type_id = ? AND skill_definition_id = ?`,
		userID, typeID, f.skillID,
	).Scan(&avg, &total, &trend)
	if err == sql.ErrNoRows {
		return 0, 0, "", false
	}
	if err != nil {
		t.Fatalf("load summary: %v", err)
	}
	return avg, total, trend, true
}

func exec(t *testing.T, ctx context.Context, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		t.Fatalf("seed: %v", err)
	}
}
