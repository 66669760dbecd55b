package skills

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

func TestSubmitCreatesRatingAndSummary(t *testing.T) {
	f := newSkillsFixture(t)

	rating := f.submit(t, "act-1", "rater1", "rated", 7, 4)
	if rating.ID == "" || rating.CreatedAt.IsZero() {
		t.Fatalf("rating missing server-side fields: %+v", rating)
	}

	avg, total, trend, ok := f.summary(t, "rated", f.typeID)
	if !ok {
		t.Fatal("summary row not created")
	}
	if avg != 700 || total != 1 || trend != types.TrendStable {
		t.Errorf("summary = %d/%d/%s, want 700/1/stable", avg, total, trend)
	}

	var changes int
	if err := f.st.DB().QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM entity_change_log WHERE entity_type = ? AND affected_user_id = ?`,
		string(types.EntitySkillRating), "rated",
	).Scan(&changes); err != nil {
		t.Fatalf("count changes: %v", err)
	}
	if changes != 1 {
		t.Errorf("change-log rows = %d, want 1", changes)
	}
}

func TestSubmitRejections(t *testing.T) {
	f := newSkillsFixture(t)
	f.addActivity(t, "act-open", f.typeID, types.ActivityScheduled, "rated", "rater1")

	base := SubmitRequest{
		ActivityID:        "act-1",
		RatedUserID:       "rated",
		RatingUserID:      "rater1",
		SkillDefinitionID: f.skillID,
		RatingValue:       7,
		Confidence:        4,
	}

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		kind   types.Kind
	}{
		{"unknown activity", func(r *SubmitRequest) { r.ActivityID = "nope" }, types.KindNotFound},
		{"activity not completed", func(r *SubmitRequest) { r.ActivityID = "act-open" }, types.KindConflict},
		{"rater not a participant", func(r *SubmitRequest) { r.RatingUserID = "outsider" }, types.KindUnauthorized},
		{"rated not a participant", func(r *SubmitRequest) { r.RatedUserID = "outsider" }, types.KindUnauthorized},
		{"self rating", func(r *SubmitRequest) { r.RatedUserID = "rater1" }, types.KindValidation},
		{"value below range", func(r *SubmitRequest) { r.RatingValue = 0 }, types.KindValidation},
		{"value above range", func(r *SubmitRequest) { r.RatingValue = 11 }, types.KindValidation},
		{"confidence below range", func(r *SubmitRequest) { r.Confidence = 0 }, types.KindValidation},
		{"confidence above range", func(r *SubmitRequest) { r.Confidence = 6 }, types.KindValidation},
		{"comment too long", func(r *SubmitRequest) { r.Comment = strings.Repeat("x", MaxCommentLength+1) }, types.KindValidation},
		{"skill not ratable for type", func(r *SubmitRequest) { r.SkillDefinitionID = "skill-unknown" }, types.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := f.svc.Submit(context.Background(), req)
			if types.KindOf(err) != tt.kind {
				t.Fatalf("got %v, want kind %s", err, tt.kind)
			}
		})
	}
}

func TestSubmitBoundaryValuesAccepted(t *testing.T) {
	f := newSkillsFixture(t)

	r1 := f.submit(t, "act-1", "rater1", "rated", 1, 1)
	if r1.RatingValue != 1 {
		t.Errorf("min value rating = %d", r1.RatingValue)
	}
	r2 := f.submit(t, "act-1", "rater2", "rated", 10, 5)
	if r2.RatingValue != 10 {
		t.Errorf("max value rating = %d", r2.RatingValue)
	}

	// A comment of exactly the limit passes.
	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		ActivityID:        "act-1",
		RatedUserID:       "rater2",
		RatingUserID:      "rater1",
		SkillDefinitionID: f.skillID,
		RatingValue:       5,
		Confidence:        3,
		Comment:           strings.Repeat("x", MaxCommentLength),
	})
	if err != nil {
		t.Fatalf("limit-length comment rejected: %v", err)
	}
}

func TestSubmitDuplicateRejected(t *testing.T) {
	f := newSkillsFixture(t)
	f.submit(t, "act-1", "rater1", "rated", 7, 4)

	_, err := f.svc.Submit(context.Background(), SubmitRequest{
		ActivityID:        "act-1",
		RatedUserID:       "rated",
		RatingUserID:      "rater1",
		SkillDefinitionID: f.skillID,
		RatingValue:       9,
		Confidence:        5,
	})
	if types.KindOf(err) != types.KindValidation {
		t.Fatalf("expected Validation for duplicate, got %v", err)
	}
}

func TestUpdateWithinWindow(t *testing.T) {
	f := newSkillsFixture(t)
	rating := f.submit(t, "act-1", "rater1", "rated", 7, 4)
	ctx := context.Background()

	v, c := 9, 5
	updated, err := f.svc.Update(ctx, rating.ID, "rater1", UpdateRequest{RatingValue: &v, Confidence: &c})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.RatingValue != 9 || updated.Confidence != 5 {
		t.Errorf("updated = %d/%d, want 9/5", updated.RatingValue, updated.Confidence)
	}

	avg, _, _, _ := f.summary(t, "rated", f.typeID)
	if avg != 900 {
		t.Errorf("summary avg after update = %d, want 900", avg)
	}

	if _, err := f.svc.Update(ctx, rating.ID, "rater2", UpdateRequest{RatingValue: &v}); types.KindOf(err) != types.KindUnauthorized {
		t.Errorf("non-author update: got %v, want Unauthorized", err)
	}
}

func TestUpdateWindowExpires(t *testing.T) {
	f := newSkillsFixture(t)
	rating := f.submit(t, "act-1", "rater1", "rated", 7, 4)

	old := store.Now().Add(-2 * time.Hour)
	if _, err := f.st.DB().ExecContext(context.Background(),
		`UPDATE user_activity_skill_ratings SET created_at = ? WHERE id = ?`, old, rating.ID,
	); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	v := 9
	_, err := f.svc.Update(context.Background(), rating.ID, "rater1", UpdateRequest{RatingValue: &v})
	if types.KindOf(err) != types.KindConflict {
		t.Fatalf("expected Conflict after window, got %v", err)
	}
}

func TestDeleteRules(t *testing.T) {
	f := newSkillsFixture(t)
	ctx := context.Background()
	rating := f.submit(t, "act-1", "rater1", "rated", 7, 4)

	// Author deletes within 24h; the summary row disappears with the
	// last rating.
	if err := f.svc.Delete(ctx, rating.ID, "rater1", types.RoleRegular); err != nil {
		t.Fatalf("author delete: %v", err)
	}
	if _, _, _, ok := f.summary(t, "rated", f.typeID); ok {
		t.Error("summary row survived deletion of the only rating")
	}

	// Past the window only an admin may delete.
	rating = f.submit(t, "act-1", "rater1", "rated", 7, 4)
	old := store.Now().Add(-25 * time.Hour)
	if _, err := f.st.DB().ExecContext(ctx,
		`UPDATE user_activity_skill_ratings SET created_at = ? WHERE id = ?`, old, rating.ID,
	); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := f.svc.Delete(ctx, rating.ID, "rater1", types.RoleRegular); types.KindOf(err) != types.KindConflict {
		t.Fatalf("late author delete: got %v, want Conflict", err)
	}
	if err := f.svc.Delete(ctx, rating.ID, "admin-1", types.RoleAdmin); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
}
