package skills

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

// Aggregator recomputes (user, activity-type, skill) summary rows from
// the raw rating stream. Recomputation is idempotent: repeated runs
// over the same data produce identical rows.
type Aggregator struct {
	store  *store.Store
	logger *slog.Logger
}

// NewAggregator creates a summary aggregator.
func NewAggregator(st *store.Store, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		store:  st,
		logger: logger.With("component", "skills.aggregator"),
	}
}

// Recompute rebuilds the summaries for one (user, skill) pair across
// every activity type that lists the skill, then refreshes the general
// rollup when the skill is marked general.
func (a *Aggregator) Recompute(ctx context.Context, userID, skillID string) error {
	db := a.store.DB()

	typeRows, err := db.QueryContext(ctx,
		`SELECT activity_type_id FROM activity_type_skills WHERE skill_definition_id = ?`,
		skillID)
	if err != nil {
		return fmt.Errorf("skills: list types for skill: %w", err)
	}
	var typeIDs []string
	for typeRows.Next() {
		var id string
		if err := typeRows.Scan(&id); err != nil {
			typeRows.Close()
			return err
		}
		typeIDs = append(typeIDs, id)
	}
	typeRows.Close()
	if err := typeRows.Err(); err != nil {
		return err
	}

	now := store.Now()
	for _, typeID := range typeIDs {
		if err := a.recomputeType(ctx, userID, skillID, typeID, now); err != nil {
			return err
		}
	}

	var isGeneral bool
	err = db.QueryRowContext(ctx,
		`SELECT is_general FROM skill_definitions WHERE id = ?`, skillID,
	).Scan(&isGeneral)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NotFoundf("skill %s not found", skillID)
	}
	if err != nil {
		return fmt.Errorf("skills: load skill: %w", err)
	}
	if isGeneral {
		return a.recomputeGeneral(ctx, userID, skillID, now)
	}
	return nil
}

// recomputeType rebuilds one (user, activityType, skill) summary row.
func (a *Aggregator) recomputeType(ctx context.Context, userID, skillID, typeID string, now time.Time) error {
	db := a.store.DB()

	rows, err := db.QueryContext(ctx, `
		SELECT r.rating_value
		FROM user_activity_skill_ratings r
		JOIN activities a ON a.id = r.activity_id
		WHERE r.rated_user_id = ? AND r.skill_definition_id = ? AND a.activity_type_id = ?
		ORDER BY r.created_at ASC, r.id ASC`,
		userID, skillID, typeID)
	if err != nil {
		return fmt.Errorf("skills: load ratings: %w", err)
	}
	var values []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		values = append(values, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if len(values) == 0 {
		_, err := db.ExecContext(ctx, `
			DELETE FROM user_activity_type_skill_summaries
			WHERE user_id = ? AND activity_type_id = ? AND skill_definition_id = ?`,
			userID, typeID, skillID)
		if err != nil {
			return fmt.Errorf("skills: clear summary: %w", err)
		}
		return nil
	}

	sum := 0
	for _, v := range values {
		sum += v
	}
	avg := float64(sum) / float64(len(values))
	scaled := int(math.Round(avg * 100))
	trend := computeTrend(values)

	_, err = db.ExecContext(ctx, `
		INSERT INTO user_activity_type_skill_summaries(
			user_id, activity_type_id, skill_definition_id,
			average_rating, total_ratings, trend, last_calculated_at
		) VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, activity_type_id, skill_definition_id) DO UPDATE SET
			average_rating = excluded.average_rating,
			total_ratings = excluded.total_ratings,
			trend = excluded.trend,
			last_calculated_at = excluded.last_calculated_at`,
		userID, typeID, skillID, scaled, len(values), string(trend), now,
	)
	if err != nil {
		return fmt.Errorf("skills: upsert summary: %w", err)
	}
	return nil
}

// computeTrend compares the mean of the newest floor(n/2) ratings
// against the oldest ceil(n/2). Fewer than three ratings is stable.
func computeTrend(ordered []int) types.Trend {
	n := len(ordered)
	if n < 3 {
		return types.TrendStable
	}
	oldCount := (n + 1) / 2
	oldMean := mean(ordered[:oldCount])
	newMean := mean(ordered[oldCount:])

	diff := newMean - oldMean
	switch {
	case diff > 0.5:
		return types.TrendImproving
	case diff < -0.5:
		return types.TrendDeclining
	default:
		return types.TrendStable
	}
}

func mean(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// recomputeGeneral refreshes the cross-activity-type weighted rollup,
// weight = per-type total ratings.
func (a *Aggregator) recomputeGeneral(ctx context.Context, userID, skillID string, now time.Time) error {
	db := a.store.DB()

	rows, err := db.QueryContext(ctx, `
		SELECT average_rating, total_ratings
		FROM user_activity_type_skill_summaries
		WHERE user_id = ? AND skill_definition_id = ?`,
		userID, skillID)
	if err != nil {
		return fmt.Errorf("skills: load type summaries: %w", err)
	}
	var weightedSum float64
	var totalWeight int
	for rows.Next() {
		var avg, count int
		if err := rows.Scan(&avg, &count); err != nil {
			rows.Close()
			return err
		}
		weightedSum += float64(avg) * float64(count)
		totalWeight += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if totalWeight == 0 {
		_, err := db.ExecContext(ctx,
			`DELETE FROM user_general_skill_summaries WHERE user_id = ? AND skill_definition_id = ?`,
			userID, skillID)
		if err != nil {
			return fmt.Errorf("skills: clear general summary: %w", err)
		}
		return nil
	}

	scaled := int(math.Round(weightedSum / float64(totalWeight)))
	_, err = db.ExecContext(ctx, `
		INSERT INTO user_general_skill_summaries(
			user_id, skill_definition_id, average_rating, total_ratings, last_calculated_at
		) VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(user_id, skill_definition_id) DO UPDATE SET
			average_rating = excluded.average_rating,
			total_ratings = excluded.total_ratings,
			last_calculated_at = excluded.last_calculated_at`,
		userID, skillID, scaled, totalWeight, now,
	)
	if err != nil {
		return fmt.Errorf("skills: upsert general summary: %w", err)
	}
	return nil
}

// HistoricalMean returns the unscaled mean of a user's summary averages
// across all activity types and skills, and whether any exist. The ELO
// skill bonus falls back to 5 when a user has no rating history.
func (a *Aggregator) HistoricalMean(ctx context.Context, userID string) (float64, bool, error) {
	var avg sql.NullFloat64
	err := a.store.DB().QueryRowContext(ctx,
		`SELECT AVG(average_rating) FROM user_activity_type_skill_summaries WHERE user_id = ?`,
		userID,
	).Scan(&avg)
	if err != nil {
		return 0, false, fmt.Errorf("skills: historical mean: %w", err)
	}
	if !avg.Valid {
		return 0, false, nil
	}
	return avg.Float64 / 100, true, nil
}

// Summaries returns a user's per-type summary rows, newest first.
func (a *Aggregator) Summaries(ctx context.Context, userID string) ([]*types.UserActivityTypeSkillSummary, error) {
	rows, err := a.store.DB().QueryContext(ctx, `
		SELECT user_id, activity_type_id, skill_definition_id,
		       average_rating, total_ratings, trend, last_calculated_at
		FROM user_activity_type_skill_summaries
		WHERE user_id = ?
		ORDER BY last_calculated_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("skills: list summaries: %w", err)
	}
	defer rows.Close()

	var out []*types.UserActivityTypeSkillSummary
	for rows.Next() {
		s := &types.UserActivityTypeSkillSummary{}
		if err := rows.Scan(
			&s.UserID, &s.ActivityTypeID, &s.SkillDefinitionID,
			&s.AverageRating, &s.TotalRatings, &s.Trend, &s.LastCalculatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
