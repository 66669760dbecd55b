package skills

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/playrank/playrank/internal/changelog"
	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

// MaxCommentLength bounds the optional free-text comment.
const MaxCommentLength = 500

const (
	updateWindow = time.Hour
	deleteWindow = 24 * time.Hour
)

// Service validates and persists peer skill ratings and keeps the
// summaries they roll up into current.
type Service struct {
	store      *store.Store
	log        *changelog.Writer
	aggregator *Aggregator
	logger     *slog.Logger
}

// NewService creates the skill-rating service.
func NewService(st *store.Store, log *changelog.Writer, agg *Aggregator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		log:        log,
		aggregator: agg,
		logger:     logger.With("component", "skills"),
	}
}

// SubmitRequest is one peer rating submission.
type SubmitRequest struct {
	ActivityID        string `json:"activityId"`
	RatedUserID       string `json:"ratedUserId"`
	RatingUserID      string `json:"ratingUserId"`
	SkillDefinitionID string `json:"skillDefinitionId"`
	RatingValue       int    `json:"ratingValue"`
	Confidence        int    `json:"confidence"`
	Comment           string `json:"comment,omitempty"`
	IsAnonymous       bool   `json:"isAnonymous"`
}

// Submit validates and persists a peer rating, emits the change-log row
// and recomputes the affected summaries.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*types.UserActivitySkillRating, error) {
	db := s.store.DB()

	// 1. Activity exists and is completed.
	var activityTypeID string
	var status types.CompletionStatus
	err := db.QueryRowContext(ctx,
		`SELECT activity_type_id, completion_status FROM activities WHERE id = ?`,
		req.ActivityID,
	).Scan(&activityTypeID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFoundf("activity %s not found", req.ActivityID)
	}
	if err != nil {
		return nil, fmt.Errorf("skills: load activity: %w", err)
	}
	if status != types.ActivityCompleted {
		return nil, types.Conflictf("activity %s is not completed", req.ActivityID)
	}

	// 2. Both users are accepted participants.
	for _, uid := range []string{req.RatedUserID, req.RatingUserID} {
		accepted, err := s.isAcceptedParticipant(ctx, req.ActivityID, uid)
		if err != nil {
			return nil, err
		}
		if !accepted {
			return nil, types.Unauthorizedf("user %s is not an accepted participant", uid)
		}
	}

	// 3. No self-rating.
	if req.RatedUserID == req.RatingUserID {
		return nil, types.Validationf("ratedUserId", "cannot rate yourself")
	}

	// 4. Value ranges.
	if req.RatingValue < 1 || req.RatingValue > 10 {
		return nil, types.Validationf("ratingValue", "must be between 1 and 10, got %d", req.RatingValue)
	}
	if req.Confidence < 1 || req.Confidence > 5 {
		return nil, types.Validationf("confidence", "must be between 1 and 5, got %d", req.Confidence)
	}
	if len(req.Comment) > MaxCommentLength {
		return nil, types.Validationf("comment", "exceeds %d characters", MaxCommentLength)
	}

	// 5. Skill is ratable for the activity's type.
	ratable, err := s.isRatableSkill(ctx, activityTypeID, req.SkillDefinitionID)
	if err != nil {
		return nil, err
	}
	if !ratable {
		return nil, types.Validationf("skillDefinitionId",
			"skill %s is not ratable for activity type %s", req.SkillDefinitionID, activityTypeID)
	}

	// 6. No duplicate rating.
	var dup int
	err = db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_activity_skill_ratings
		WHERE activity_id = ? AND rated_user_id = ? AND rating_user_id = ? AND skill_definition_id = ?`,
		req.ActivityID, req.RatedUserID, req.RatingUserID, req.SkillDefinitionID,
	).Scan(&dup)
	if err != nil {
		return nil, fmt.Errorf("skills: duplicate check: %w", err)
	}
	if dup > 0 {
		return nil, types.Validationf("skillDefinitionId", "rating already submitted for this skill")
	}

	rating := &types.UserActivitySkillRating{
		ID:                uuid.NewString(),
		ActivityID:        req.ActivityID,
		RatedUserID:       req.RatedUserID,
		RatingUserID:      req.RatingUserID,
		SkillDefinitionID: req.SkillDefinitionID,
		RatingValue:       req.RatingValue,
		Confidence:        req.Confidence,
		Comment:           req.Comment,
		IsAnonymous:       req.IsAnonymous,
		CreatedAt:         store.Now(),
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO user_activity_skill_ratings(
			id, activity_id, rated_user_id, rating_user_id, skill_definition_id,
			rating_value, confidence, comment, is_anonymous, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rating.ID, rating.ActivityID, rating.RatedUserID, rating.RatingUserID,
		rating.SkillDefinitionID, rating.RatingValue, rating.Confidence,
		rating.Comment, rating.IsAnonymous, rating.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("skills: insert rating: %w", err)
	}

	s.emitChange(ctx, rating, types.ChangeCreate, req.RatingUserID, nil)

	if err := s.aggregator.Recompute(ctx, rating.RatedUserID, rating.SkillDefinitionID); err != nil {
		return nil, fmt.Errorf("skills: recompute summaries: %w", err)
	}
	return rating, nil
}

// UpdateRequest patches a rating's mutable fields. Nil means unchanged.
type UpdateRequest struct {
	RatingValue *int    `json:"ratingValue,omitempty"`
	Confidence  *int    `json:"confidence,omitempty"`
	Comment     *string `json:"comment,omitempty"`
}

// Update lets the author adjust ratingValue, confidence or comment
// within one hour of submission.
func (s *Service) Update(ctx context.Context, ratingID, callerID string, req UpdateRequest) (*types.UserActivitySkillRating, error) {
	rating, err := s.getRating(ctx, ratingID)
	if err != nil {
		return nil, err
	}
	if rating.RatingUserID != callerID {
		return nil, types.Unauthorizedf("only the rating author may update it")
	}
	if store.Now().Sub(rating.CreatedAt) > updateWindow {
		return nil, types.Conflictf("rating is older than %s and can no longer be updated", updateWindow)
	}

	prev := *rating
	if req.RatingValue != nil {
		if *req.RatingValue < 1 || *req.RatingValue > 10 {
			return nil, types.Validationf("ratingValue", "must be between 1 and 10, got %d", *req.RatingValue)
		}
		rating.RatingValue = *req.RatingValue
	}
	if req.Confidence != nil {
		if *req.Confidence < 1 || *req.Confidence > 5 {
			return nil, types.Validationf("confidence", "must be between 1 and 5, got %d", *req.Confidence)
		}
		rating.Confidence = *req.Confidence
	}
	if req.Comment != nil {
		if len(*req.Comment) > MaxCommentLength {
			return nil, types.Validationf("comment", "exceeds %d characters", MaxCommentLength)
		}
		rating.Comment = *req.Comment
	}

	_, err = s.store.DB().ExecContext(ctx,
		`UPDATE user_activity_skill_ratings SET rating_value = ?, confidence = ?, comment = ? WHERE id = ?`,
		rating.RatingValue, rating.Confidence, rating.Comment, rating.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("skills: update rating: %w", err)
	}

	s.emitChange(ctx, rating, types.ChangeUpdate, callerID, &prev)

	if err := s.aggregator.Recompute(ctx, rating.RatedUserID, rating.SkillDefinitionID); err != nil {
		return nil, fmt.Errorf("skills: recompute summaries: %w", err)
	}
	return rating, nil
}

// Delete removes a rating: the author within 24 hours, an admin anytime.
// Every deletion emits a change-log row and resummarises.
func (s *Service) Delete(ctx context.Context, ratingID, callerID string, callerRole types.Role) error {
	rating, err := s.getRating(ctx, ratingID)
	if err != nil {
		return err
	}
	if callerRole != types.RoleAdmin {
		if rating.RatingUserID != callerID {
			return types.Unauthorizedf("only the rating author or an admin may delete it")
		}
		if store.Now().Sub(rating.CreatedAt) > deleteWindow {
			return types.Conflictf("rating is older than %s and can only be deleted by an admin", deleteWindow)
		}
	}

	_, err = s.store.DB().ExecContext(ctx,
		`DELETE FROM user_activity_skill_ratings WHERE id = ?`, rating.ID)
	if err != nil {
		return fmt.Errorf("skills: delete rating: %w", err)
	}

	s.emitChange(ctx, rating, types.ChangeDelete, callerID, rating)

	if err := s.aggregator.Recompute(ctx, rating.RatedUserID, rating.SkillDefinitionID); err != nil {
		return fmt.Errorf("skills: recompute summaries: %w", err)
	}
	return nil
}

func (s *Service) emitChange(ctx context.Context, rating *types.UserActivitySkillRating, kind types.ChangeType, triggeredBy string, prev *types.UserActivitySkillRating) {
	change := &types.EntityChange{
		EntityType:      types.EntitySkillRating,
		EntityID:        rating.ID,
		ChangeType:      kind,
		AffectedUserID:  rating.RatedUserID,
		RelatedEntityID: rating.ActivityID,
		TriggeredBy:     triggeredBy,
		ChangeSource:    types.SourceUserAction,
	}
	if kind != types.ChangeDelete {
		if data, err := json.Marshal(rating); err == nil {
			change.NewData = data
		}
	}
	if prev != nil {
		if data, err := json.Marshal(prev); err == nil {
			change.PreviousData = data
		}
	}
	s.log.RecordBestEffort(ctx, change)
}

func (s *Service) getRating(ctx context.Context, id string) (*types.UserActivitySkillRating, error) {
	r := &types.UserActivitySkillRating{}
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT id, activity_id, rated_user_id, rating_user_id, skill_definition_id,
		       rating_value, confidence, comment, is_anonymous, created_at
		FROM user_activity_skill_ratings WHERE id = ?`, id,
	).Scan(
		&r.ID, &r.ActivityID, &r.RatedUserID, &r.RatingUserID, &r.SkillDefinitionID,
		&r.RatingValue, &r.Confidence, &r.Comment, &r.IsAnonymous, &r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFoundf("skill rating %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("skills: get rating: %w", err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (s *Service) isAcceptedParticipant(ctx context.Context, activityID, userID string) (bool, error) {
	var n int
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activity_participants
		WHERE activity_id = ? AND user_id = ? AND status = ?`,
		activityID, userID, string(types.ParticipantAccepted),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("skills: participant check: %w", err)
	}
	return n > 0, nil
}

func (s *Service) isRatableSkill(ctx context.Context, activityTypeID, skillID string) (bool, error) {
	var n int
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM activity_type_skills
		WHERE activity_type_id = ? AND skill_definition_id = ?`,
		activityTypeID, skillID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("skills: ratable check: %w", err)
	}
	return n > 0, nil
}
