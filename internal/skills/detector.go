package skills

import (
	"context"
	"fmt"

	"github.com/playrank/playrank/internal/types"
)

// Finding is one suspicious-pattern observation. The detector surfaces
// findings without acting on them; moderation stays human.
type Finding struct {
	Kind        string `json:"kind"`
	RaterUserID string `json:"raterUserId,omitempty"`
	Detail      string `json:"detail"`
	Count       int    `json:"count"`
}

const (
	// repeatRaterThreshold flags a single rater responsible for too
	// many of one user's received ratings.
	repeatRaterThreshold = 5
	// extremeBiasThreshold flags a rater who only ever hands out
	// extreme values (<=2 or >=9) to one user.
	extremeBiasThreshold = 3
)

// DetectSuspiciousPatterns scans a user's received ratings for
// same-rater repetition and extreme-value bias.
func (s *Service) DetectSuspiciousPatterns(ctx context.Context, ratedUserID string) ([]Finding, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT rating_user_id, rating_value
		FROM user_activity_skill_ratings
		WHERE rated_user_id = ?`,
		ratedUserID)
	if err != nil {
		return nil, fmt.Errorf("skills: detector scan: %w", err)
	}
	defer rows.Close()

	total := 0
	perRater := make(map[string]int)
	extremePerRater := make(map[string]int)
	for rows.Next() {
		var rater string
		var value int
		if err := rows.Scan(&rater, &value); err != nil {
			return nil, err
		}
		total++
		perRater[rater]++
		if value <= 2 || value >= 9 {
			extremePerRater[rater]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var findings []Finding
	for rater, n := range perRater {
		if n >= repeatRaterThreshold && total > 0 && n*2 > total {
			findings = append(findings, Finding{
				Kind:        "repeat_rater",
				RaterUserID: rater,
				Detail:      fmt.Sprintf("rater accounts for %d of %d received ratings", n, total),
				Count:       n,
			})
		}
		if extreme := extremePerRater[rater]; extreme >= extremeBiasThreshold && extreme == n {
			findings = append(findings, Finding{
				Kind:        "extreme_value_bias",
				RaterUserID: rater,
				Detail:      fmt.Sprintf("all %d ratings from this rater are extreme values", n),
				Count:       extreme,
			})
		}
	}
	return findings, nil
}

// ActivityRatings returns all ratings submitted for one activity.
// Access control (participants and creator only) is enforced by the
// caller, which knows the requesting identity.
func (s *Service) ActivityRatings(ctx context.Context, activityID string) ([]*types.UserActivitySkillRating, error) {
	return s.listRatings(ctx, `WHERE activity_id = ?`, activityID)
}

// RecentCommentedRatings returns a user's newest received ratings that
// carry a comment, anonymised where requested.
func (s *Service) RecentCommentedRatings(ctx context.Context, ratedUserID string, limit int) ([]*types.UserActivitySkillRating, error) {
	if limit <= 0 {
		limit = 10
	}
	ratings, err := s.listRatings(ctx,
		`WHERE rated_user_id = ? AND comment != '' ORDER BY created_at DESC LIMIT ?`,
		ratedUserID, limit)
	if err != nil {
		return nil, err
	}
	for _, r := range ratings {
		if r.IsAnonymous {
			r.RatingUserID = ""
		}
	}
	return ratings, nil
}

func (s *Service) listRatings(ctx context.Context, where string, args ...any) ([]*types.UserActivitySkillRating, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT id, activity_id, rated_user_id, rating_user_id, skill_definition_id,
		       rating_value, confidence, comment, is_anonymous, created_at
		FROM user_activity_skill_ratings `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("skills: list ratings: %w", err)
	}
	defer rows.Close()

	var out []*types.UserActivitySkillRating
	for rows.Next() {
		r := &types.UserActivitySkillRating{}
		if err := rows.Scan(
			&r.ID, &r.ActivityID, &r.RatedUserID, &r.RatingUserID, &r.SkillDefinitionID,
			&r.RatingValue, &r.Confidence, &r.Comment, &r.IsAnonymous, &r.CreatedAt,
		); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
