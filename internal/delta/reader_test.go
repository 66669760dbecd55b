package delta

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/playrank/playrank/internal/changelog"
	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type readerFixture struct {
	st      *store.Store
	log     *changelog.Writer
	cursors *CursorStore
	reader  *Reader
	userID  string
}

func newReaderFixture(t *testing.T) *readerFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	f := &readerFixture{
		st:      st,
		log:     changelog.NewWriter(st, testLogger()),
		cursors: NewCursorStore(st, testLogger()),
		userID:  "user-1",
	}
	f.reader = NewReader(f.cursors, f.log, testLogger())

	if _, err := st.DB().ExecContext(context.Background(),
		`INSERT INTO users(id, username) VALUES(?, ?)`, f.userID, "user-1"); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return f
}

func (f *readerFixture) record(t *testing.T, class types.EntityClass, entityID string) {
	t.Helper()
	err := f.log.Record(context.Background(), f.st.DB(), &types.EntityChange{
		EntityType:     class,
		EntityID:       entityID,
		ChangeType:     types.ChangeUpdate,
		AffectedUserID: f.userID,
		ChangeSource:   types.SourceSystem,
	})
	if err != nil {
		t.Fatalf("record change: %v", err)
	}
}

func TestPollLoopAdvancesCursors(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()

	// Establish the cursor row before any changes exist.
	if _, err := f.cursors.GetOrCreate(ctx, f.userID, types.ClientWeb); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	f.record(t, types.EntityELO, "elo-1")
	f.record(t, types.EntityELO, "elo-2")
	f.record(t, types.EntityActivity, "act-1")

	result, err := f.reader.FetchDeltas(ctx, FetchRequest{UserID: f.userID, ClientType: types.ClientWeb})
	if err != nil {
		t.Fatalf("FetchDeltas: %v", err)
	}
	if !result.HasChanges || result.Metadata.TotalChanges != 3 {
		t.Fatalf("got %d changes, want 3", result.Metadata.TotalChanges)
	}
	if result.Metadata.CountsByEntity[types.EntityELO] != 2 {
		t.Errorf("elo count = %d, want 2", result.Metadata.CountsByEntity[types.EntityELO])
	}
	if result.Metadata.CountsByEntity[types.EntityActivity] != 1 {
		t.Errorf("activity count = %d, want 1", result.Metadata.CountsByEntity[types.EntityActivity])
	}
	// Classes that produced rows advance to the poll time; others hold.
	if !result.NewCursors[types.EntityELO].Equal(result.Metadata.PolledAt) {
		t.Errorf("elo cursor = %v, want polledAt %v", result.NewCursors[types.EntityELO], result.Metadata.PolledAt)
	}
	if result.NewCursors[types.EntitySkillRating].Equal(result.Metadata.PolledAt) {
		t.Error("skill_rating cursor advanced without rows")
	}

	// A second poll with no new writes observes nothing.
	second, err := f.reader.FetchDeltas(ctx, FetchRequest{UserID: f.userID, ClientType: types.ClientWeb})
	if err != nil {
		t.Fatalf("second FetchDeltas: %v", err)
	}
	if second.HasChanges || len(second.Changes) != 0 {
		t.Fatalf("second poll returned %d changes, want 0", len(second.Changes))
	}
}

func TestClassFilter(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()

	if _, err := f.cursors.GetOrCreate(ctx, f.userID, types.ClientWeb); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	f.record(t, types.EntityELO, "elo-1")
	f.record(t, types.EntityActivity, "act-1")

	result, err := f.reader.FetchDeltas(ctx, FetchRequest{
		UserID:        f.userID,
		EntityClasses: []types.EntityClass{types.EntityELO},
		ClientType:    types.ClientWeb,
	})
	if err != nil {
		t.Fatalf("FetchDeltas: %v", err)
	}
	if len(result.Changes) != 1 || result.Changes[0].EntityType != types.EntityELO {
		t.Fatalf("filtered poll returned %+v, want one elo row", result.Changes)
	}

	// The activity row is still pending for a later unfiltered poll.
	rest, err := f.reader.FetchDeltas(ctx, FetchRequest{UserID: f.userID, ClientType: types.ClientWeb})
	if err != nil {
		t.Fatalf("unfiltered FetchDeltas: %v", err)
	}
	if len(rest.Changes) != 1 || rest.Changes[0].EntityType != types.EntityActivity {
		t.Fatalf("followup poll returned %+v, want one activity row", rest.Changes)
	}
}

func TestSinceOverridesOlderCursor(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()

	if _, err := f.cursors.GetOrCreate(ctx, f.userID, types.ClientWeb); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	f.record(t, types.EntityELO, "elo-1")
	time.Sleep(5 * time.Millisecond)

	// since after the write hides it even though the cursor is older.
	result, err := f.reader.FetchDeltas(ctx, FetchRequest{
		UserID:     f.userID,
		Since:      store.Now(),
		ClientType: types.ClientWeb,
	})
	if err != nil {
		t.Fatalf("FetchDeltas: %v", err)
	}
	if result.HasChanges {
		t.Fatalf("since bound ignored, got %d changes", len(result.Changes))
	}
}

func TestCursorReset(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()

	if _, err := f.cursors.GetOrCreate(ctx, f.userID, types.ClientWeb); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	f.record(t, types.EntityELO, "elo-1")
	time.Sleep(5 * time.Millisecond)

	if _, err := f.cursors.ResetCursor(ctx, f.userID, "all", types.ClientWeb); err != nil {
		t.Fatalf("ResetCursor: %v", err)
	}

	result, err := f.reader.FetchDeltas(ctx, FetchRequest{UserID: f.userID, ClientType: types.ClientWeb})
	if err != nil {
		t.Fatalf("FetchDeltas: %v", err)
	}
	if result.HasChanges {
		t.Fatalf("reset cursor still returned %d changes", len(result.Changes))
	}
}

func TestResetSingleClass(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()

	cursor, err := f.cursors.GetOrCreate(ctx, f.userID, types.ClientWeb)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	before := cursor.SyncTime(types.EntityActivity)
	time.Sleep(5 * time.Millisecond)

	updated, err := f.cursors.ResetCursor(ctx, f.userID, string(types.EntityELO), types.ClientWeb)
	if err != nil {
		t.Fatalf("ResetCursor: %v", err)
	}
	if !updated.SyncTime(types.EntityELO).After(before) {
		t.Error("elo cursor did not advance")
	}
	if !updated.SyncTime(types.EntityActivity).Equal(before) {
		t.Error("activity cursor moved on a single-class reset")
	}
}

func TestFetchStatusCountsPending(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()

	if _, err := f.cursors.GetOrCreate(ctx, f.userID, types.ClientWeb); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	f.record(t, types.EntityELO, "elo-1")
	f.record(t, types.EntityELO, "elo-2")
	f.record(t, types.EntitySkillRating, "sr-1")

	status, err := f.reader.FetchStatus(ctx, f.userID, types.ClientWeb)
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if status.PendingCount[types.EntityELO] != 2 {
		t.Errorf("elo pending = %d, want 2", status.PendingCount[types.EntityELO])
	}
	if status.PendingCount[types.EntitySkillRating] != 1 {
		t.Errorf("skill_rating pending = %d, want 1", status.PendingCount[types.EntitySkillRating])
	}
	if status.PendingCount[types.EntityMatchmaking] != 0 {
		t.Errorf("matchmaking pending = %d, want 0", status.PendingCount[types.EntityMatchmaking])
	}
}

func TestNewUserCursorStartsAtNow(t *testing.T) {
	f := newReaderFixture(t)
	ctx := context.Background()

	// A change written before the user's first poll predates the cursor.
	f.record(t, types.EntityELO, "elo-old")
	time.Sleep(5 * time.Millisecond)

	result, err := f.reader.FetchDeltas(ctx, FetchRequest{UserID: f.userID, ClientType: types.ClientWeb})
	if err != nil {
		t.Fatalf("FetchDeltas: %v", err)
	}
	if result.HasChanges {
		t.Fatalf("first poll surfaced pre-cursor history: %d changes", len(result.Changes))
	}
}
