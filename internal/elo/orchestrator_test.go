package elo

import (
	"context"
	"testing"

	"github.com/playrank/playrank/internal/types"
)

func TestCompleteProcessesELO(t *testing.T) {
	f := newFixture(t, "server-1")
	f.seed(t, false, map[string]types.FinalResult{
		"user-a": types.ResultWin,
		"user-b": types.ResultLoss,
	})
	ctx := context.Background()

	result, err := f.orch.Complete(ctx, f.activityID, f.creatorID, types.RoleRegular, CompleteRequest{
		ParticipantResults: []ParticipantResult{
			{UserID: "user-a", FinalResult: types.ResultWin},
			{UserID: "user-b", FinalResult: types.ResultLoss},
		},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !result.ELOProcessed {
		t.Fatalf("ELOProcessed = false, error = %q", result.ELOError)
	}
	if result.Activity.CompletionStatus != types.ActivityCompleted {
		t.Errorf("activity status = %s, want completed", result.Activity.CompletionStatus)
	}

	// Both start at 1200 with provisional K=40: winner +20, loser -20.
	winner := f.rating(t, "user-a")
	if winner.ELOScore != 1220 || winner.GamesPlayed != 1 || winner.PeakELO != 1220 || winner.Version != 1 {
		t.Errorf("winner row = %+v, want 1220/1 games/peak 1220/v1", winner)
	}
	loser := f.rating(t, "user-b")
	if loser.ELOScore != 1180 || loser.GamesPlayed != 1 {
		t.Errorf("loser row = %+v, want 1180/1 games", loser)
	}

	status, err := f.locks.Get(ctx, f.activityID)
	if err != nil {
		t.Fatalf("Get status: %v", err)
	}
	if status.Status != types.ELOStatusCompleted {
		t.Errorf("elo status = %s, want completed", status.Status)
	}

	// Each participant gets an elo change-log row.
	var eloRows int
	if err := f.st.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_change_log WHERE entity_type = ? AND related_entity_id = ?`,
		string(types.EntityELO), f.activityID,
	).Scan(&eloRows); err != nil {
		t.Fatalf("count change log: %v", err)
	}
	if eloRows != 2 {
		t.Errorf("elo change-log rows = %d, want 2", eloRows)
	}
}

func TestCompleteRequiresCreatorOrAdmin(t *testing.T) {
	f := newFixture(t, "server-1")
	f.seed(t, false, map[string]types.FinalResult{
		"user-a": types.ResultWin,
		"user-b": types.ResultLoss,
	})
	req := CompleteRequest{ParticipantResults: []ParticipantResult{
		{UserID: "user-a", FinalResult: types.ResultWin},
		{UserID: "user-b", FinalResult: types.ResultLoss},
	}}

	_, err := f.orch.Complete(context.Background(), f.activityID, "user-b", types.RoleRegular, req)
	if types.KindOf(err) != types.KindUnauthorized {
		t.Fatalf("expected Unauthorized for non-creator, got %v", err)
	}

	// Admin may complete on the creator's behalf.
	if _, err := f.orch.Complete(context.Background(), f.activityID, "user-b", types.RoleAdmin, req); err != nil {
		t.Fatalf("admin Complete: %v", err)
	}
}

func TestCompleteValidatesResults(t *testing.T) {
	f := newFixture(t, "server-1")
	f.seed(t, false, map[string]types.FinalResult{
		"user-a": types.ResultWin,
		"user-b": types.ResultLoss,
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		results []ParticipantResult
	}{
		{"missing participant", []ParticipantResult{
			{UserID: "user-a", FinalResult: types.ResultWin},
		}},
		{"unknown result value", []ParticipantResult{
			{UserID: "user-a", FinalResult: "forfeit"},
			{UserID: "user-b", FinalResult: types.ResultLoss},
		}},
		{"duplicate result", []ParticipantResult{
			{UserID: "user-a", FinalResult: types.ResultWin},
			{UserID: "user-a", FinalResult: types.ResultLoss},
		}},
		{"result for non-participant", []ParticipantResult{
			{UserID: "user-a", FinalResult: types.ResultWin},
			{UserID: "user-b", FinalResult: types.ResultLoss},
			{UserID: "user-c", FinalResult: types.ResultLoss},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Complete(ctx, f.activityID, f.creatorID, types.RoleRegular,
				CompleteRequest{ParticipantResults: tt.results})
			if types.KindOf(err) != types.KindValidation {
				t.Fatalf("expected Validation, got %v", err)
			}
		})
	}
}

func TestCompleteTwiceConflicts(t *testing.T) {
	f := newFixture(t, "server-1")
	f.seed(t, false, map[string]types.FinalResult{
		"user-a": types.ResultWin,
		"user-b": types.ResultLoss,
	})
	ctx := context.Background()
	req := CompleteRequest{ParticipantResults: []ParticipantResult{
		{UserID: "user-a", FinalResult: types.ResultWin},
		{UserID: "user-b", FinalResult: types.ResultLoss},
	}}

	if _, err := f.orch.Complete(ctx, f.activityID, f.creatorID, types.RoleRegular, req); err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	_, err := f.orch.Complete(ctx, f.activityID, f.creatorID, types.RoleRegular, req)
	if types.KindOf(err) != types.KindConflict {
		t.Fatalf("expected Conflict on second completion, got %v", err)
	}
}

func TestDeferredProcessingDrains(t *testing.T) {
	f := newFixture(t, "server-1")
	f.seed(t, false, map[string]types.FinalResult{
		"user-a": types.ResultWin,
		"user-b": types.ResultLoss,
	})
	ctx := context.Background()

	later := false
	result, err := f.orch.Complete(ctx, f.activityID, f.creatorID, types.RoleRegular, CompleteRequest{
		ParticipantResults: []ParticipantResult{
			{UserID: "user-a", FinalResult: types.ResultWin},
			{UserID: "user-b", FinalResult: types.ResultLoss},
		},
		ProcessImmediately: &later,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if !result.ELODeferred || result.ELOProcessed {
		t.Fatalf("expected deferred, got %+v", result)
	}
	status, _ := f.locks.Get(ctx, f.activityID)
	if status.Status != types.ELOStatusPending {
		t.Fatalf("status = %s, want pending", status.Status)
	}

	worker := NewWorker(f.orch, f.locks, testLogger())
	processed, failed := worker.Drain(ctx)
	if processed != 1 || failed != 0 {
		t.Fatalf("Drain = (%d, %d), want (1, 0)", processed, failed)
	}
	status, _ = f.locks.Get(ctx, f.activityID)
	if status.Status != types.ELOStatusCompleted {
		t.Errorf("status after drain = %s, want completed", status.Status)
	}
	if f.rating(t, "user-a").ELOScore != 1220 {
		t.Errorf("winner rating = %d, want 1220", f.rating(t, "user-a").ELOScore)
	}
}

func TestReprocessBumpsVersion(t *testing.T) {
	f := newFixture(t, "server-1")
	f.seed(t, false, map[string]types.FinalResult{
		"user-a": types.ResultWin,
		"user-b": types.ResultLoss,
	})
	ctx := context.Background()
	req := CompleteRequest{ParticipantResults: []ParticipantResult{
		{UserID: "user-a", FinalResult: types.ResultWin},
		{UserID: "user-b", FinalResult: types.ResultLoss},
	}}
	if _, err := f.orch.Complete(ctx, f.activityID, f.creatorID, types.RoleRegular, req); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if err := f.orch.Reprocess(ctx, f.activityID, f.creatorID, types.RoleRegular); err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	r := f.rating(t, "user-a")
	if r.Version != 2 || r.GamesPlayed != 2 {
		t.Errorf("after reprocess: version=%d games=%d, want 2/2", r.Version, r.GamesPlayed)
	}
	status, _ := f.locks.Get(ctx, f.activityID)
	if status.Status != types.ELOStatusCompleted {
		t.Errorf("status = %s, want completed", status.Status)
	}
}
