// Package activities manages the activity lifecycle up to completion:
// creation, joining, leaving and the creator's participant decisions.
// Completion itself is owned by the elo orchestrator.
package activities

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
	"github.com/playrank/playrank/internal/elo"
	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

// ELOBandWidth is how far a joiner's rating may sit from an activity's
// eloLevel when the activity is ELO rated and a level is set.
const ELOBandWidth = 300

// Service implements activity CRUD and participation.
type Service struct {
	store  *store.Store
	log    *changelog.Writer
	logger *slog.Logger
}

// NewService creates the activity service.
func NewService(st *store.Store, log *changelog.Writer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		log:    log,
		logger: logger.With("component", "activities"),
	}
}

// CreateRequest is the payload for a new scheduled activity.
type CreateRequest struct {
	ActivityTypeID  string    `json:"activityTypeId"`
	Description     string    `json:"description"`
	DateTime        time.Time `json:"dateTime"`
	MaxParticipants int       `json:"maxParticipants,omitempty"`
	ELOLevel        int       `json:"eloLevel,omitempty"`
	IsELORated      bool      `json:"isELORated"`
}

// Create inserts a scheduled activity; the creator joins as an accepted
// participant immediately.
func (s *Service) Create(ctx context.Context, creatorID string, req CreateRequest) (*types.Activity, error) {
	if req.ActivityTypeID == "" {
		return nil, types.Validationf("activityTypeId", "required")
	}
	if req.DateTime.IsZero() {
		return nil, types.Validationf("dateTime", "required")
	}
	if _, err := s.store.GetActivityType(ctx, req.ActivityTypeID); err != nil {
		return nil, err
	}

	now := store.Now()
	activity := &types.Activity{
		ID:               uuid.NewString(),
		ActivityTypeID:   req.ActivityTypeID,
		CreatorID:        creatorID,
		Description:      req.Description,
		DateTime:         req.DateTime.UTC(),
		MaxParticipants:  req.MaxParticipants,
		ELOLevel:         req.ELOLevel,
		IsELORated:       req.IsELORated,
		CompletionStatus: types.ActivityScheduled,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activities(
				id, activity_type_id, creator_id, description, date_time,
				max_participants, elo_level, is_elo_rated, completion_status,
				created_at, updated_at
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			activity.ID, activity.ActivityTypeID, activity.CreatorID,
			activity.Description, activity.DateTime, activity.MaxParticipants,
			activity.ELOLevel, activity.IsELORated, string(activity.CompletionStatus),
			activity.CreatedAt, activity.UpdatedAt,
		); err != nil {
			return fmt.Errorf("activities: insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activity_participants(activity_id, user_id, status, joined_at)
			VALUES(?, ?, ?, ?)`,
			activity.ID, creatorID, string(types.ParticipantAccepted), now,
		); err != nil {
			return fmt.Errorf("activities: insert creator participant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	newData, _ := json.Marshal(activity)
	s.log.RecordBestEffort(ctx, &types.EntityChange{
		EntityType:     types.EntityActivity,
		EntityID:       activity.ID,
		ChangeType:     types.ChangeCreate,
		AffectedUserID: creatorID,
		NewData:        newData,
		TriggeredBy:    creatorID,
		ChangeSource:   types.SourceUserAction,
	})
	return activity, nil
}

// Get loads one activity.
func (s *Service) Get(ctx context.Context, id string) (*types.Activity, error) {
	a := &types.Activity{}
	err := s.store.DB().QueryRowContext(ctx, `
		SELECT id, activity_type_id, creator_id, description, date_time,
		       max_participants, elo_level, is_elo_rated, completion_status,
		       created_at, updated_at
		FROM activities WHERE id = ?`, id,
	).Scan(
		&a.ID, &a.ActivityTypeID, &a.CreatorID, &a.Description, &a.DateTime,
		&a.MaxParticipants, &a.ELOLevel, &a.IsELORated, &a.CompletionStatus,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NotFoundf("activity %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("activities: get: %w", err)
	}
	for _, ts := range []*time.Time{&a.DateTime, &a.CreatedAt, &a.UpdatedAt} {
		*ts = ts.UTC()
	}
	return a, nil
}

// UpdateRequest patches a scheduled activity. Nil means unchanged.
type UpdateRequest struct {
	Description     *string    `json:"description,omitempty"`
	DateTime        *time.Time `json:"dateTime,omitempty"`
	MaxParticipants *int       `json:"maxParticipants,omitempty"`
	ELOLevel        *int       `json:"eloLevel,omitempty"`
}

// Update mutates a scheduled activity (creator only) and fans the
// change out to every accepted participant.
func (s *Service) Update(ctx context.Context, activityID, callerID string, req UpdateRequest) (*types.Activity, error) {
	activity, err := s.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity.CreatorID != callerID {
		return nil, types.Unauthorizedf("only the creator may update activity %s", activityID)
	}
	if activity.CompletionStatus != types.ActivityScheduled {
		return nil, types.Conflictf("activity %s is %s and can no longer be updated", activityID, activity.CompletionStatus)
	}

	prev, _ := json.Marshal(activity)
	if req.Description != nil {
		activity.Description = *req.Description
	}
	if req.DateTime != nil {
		activity.DateTime = req.DateTime.UTC()
	}
	if req.MaxParticipants != nil {
		activity.MaxParticipants = *req.MaxParticipants
	}
	if req.ELOLevel != nil {
		activity.ELOLevel = *req.ELOLevel
	}
	activity.UpdatedAt = store.Now()

	_, err = s.store.DB().ExecContext(ctx, `
		UPDATE activities SET description = ?, date_time = ?, max_participants = ?,
		       elo_level = ?, updated_at = ?
		WHERE id = ?`,
		activity.Description, activity.DateTime, activity.MaxParticipants,
		activity.ELOLevel, activity.UpdatedAt, activityID,
	)
	if err != nil {
		return nil, fmt.Errorf("activities: update: %w", err)
	}

	s.fanOutToParticipants(ctx, activity, types.ChangeUpdate, callerID, prev)
	return activity, nil
}

// Cancel marks a non-completed activity cancelled; no ELO ever runs.
func (s *Service) Cancel(ctx context.Context, activityID, callerID string, callerRole types.Role) error {
	activity, err := s.Get(ctx, activityID)
	if err != nil {
		return err
	}
	if activity.CreatorID != callerID && callerRole != types.RoleAdmin {
		return types.Unauthorizedf("only the creator or an admin may cancel activity %s", activityID)
	}
	if activity.CompletionStatus == types.ActivityCompleted {
		return types.Conflictf("activity %s is completed and cannot be cancelled", activityID)
	}

	prev, _ := json.Marshal(activity)
	activity.CompletionStatus = types.ActivityCancelled
	activity.UpdatedAt = store.Now()
	_, err = s.store.DB().ExecContext(ctx,
		`UPDATE activities SET completion_status = ?, updated_at = ? WHERE id = ?`,
		string(types.ActivityCancelled), activity.UpdatedAt, activityID,
	)
	if err != nil {
		return fmt.Errorf("activities: cancel: %w", err)
	}

	s.fanOutToParticipants(ctx, activity, types.ChangeUpdate, callerID, prev)
	return nil
}

// Join adds the caller as a pending participant after capacity and
// ELO-band checks.
func (s *Service) Join(ctx context.Context, activityID, userID string) (*types.ActivityParticipant, error) {
	activity, err := s.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity.CompletionStatus != types.ActivityScheduled {
		return nil, types.Conflictf("activity %s is %s and cannot be joined", activityID, activity.CompletionStatus)
	}

	var existing int
	if err := s.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_participants WHERE activity_id = ? AND user_id = ?`,
		activityID, userID,
	).Scan(&existing); err != nil {
		return nil, fmt.Errorf("activities: membership check: %w", err)
	}
	if existing > 0 {
		return nil, types.Conflictf("user %s already joined activity %s", userID, activityID)
	}

	if activity.MaxParticipants > 0 {
		var accepted int
		if err := s.store.DB().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activity_participants WHERE activity_id = ? AND status = ?`,
			activityID, string(types.ParticipantAccepted),
		).Scan(&accepted); err != nil {
			return nil, fmt.Errorf("activities: capacity check: %w", err)
		}
		if accepted >= activity.MaxParticipants {
			return nil, types.Conflictf("activity %s is full", activityID)
		}
	}

	if activity.IsELORated && activity.ELOLevel > 0 {
		activityType, err := s.store.GetActivityType(ctx, activity.ActivityTypeID)
		if err != nil {
			return nil, err
		}
		settings := elo.Normalize(activityType.ELOSettings)
		current := settings.StartingELO
		err = s.store.DB().QueryRowContext(ctx,
			`SELECT elo_score FROM user_activity_type_elo WHERE user_id = ? AND activity_type_id = ?`,
			userID, activity.ActivityTypeID,
		).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("activities: elo band check: %w", err)
		}
		if current < activity.ELOLevel-ELOBandWidth || current > activity.ELOLevel+ELOBandWidth {
			return nil, types.Validationf("eloLevel",
				"rating %d is outside the activity band %d±%d", current, activity.ELOLevel, ELOBandWidth)
		}
	}

	p := &types.ActivityParticipant{
		ActivityID: activityID,
		UserID:     userID,
		Status:     types.ParticipantPending,
		JoinedAt:   store.Now(),
	}
	_, err = s.store.DB().ExecContext(ctx, `
		INSERT INTO activity_participants(activity_id, user_id, status, joined_at)
		VALUES(?, ?, ?, ?)`,
		p.ActivityID, p.UserID, string(p.Status), p.JoinedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("activities: join: %w", err)
	}

	newData, _ := json.Marshal(p)
	s.log.FanOut(ctx, &types.EntityChange{
		EntityType:      types.EntityActivity,
		EntityID:        activityID,
		ChangeType:      types.ChangeUpdate,
		RelatedEntityID: userID,
		NewData:         newData,
		ChangeDetails:   "participant_joined",
		TriggeredBy:     userID,
		ChangeSource:    types.SourceUserAction,
	}, []string{activity.CreatorID, userID})
	return p, nil
}

// Leave removes the caller from a non-completed activity.
func (s *Service) Leave(ctx context.Context, activityID, userID string) error {
	activity, err := s.Get(ctx, activityID)
	if err != nil {
		return err
	}
	if activity.CompletionStatus == types.ActivityCompleted {
		return types.Conflictf("activity %s is completed and cannot be left", activityID)
	}
	if activity.CreatorID == userID {
		return types.Conflictf("the creator cannot leave their own activity")
	}

	res, err := s.store.DB().ExecContext(ctx,
		`DELETE FROM activity_participants WHERE activity_id = ? AND user_id = ?`,
		activityID, userID,
	)
	if err != nil {
		return fmt.Errorf("activities: leave: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NotFoundf("user %s is not a participant of activity %s", userID, activityID)
	}

	s.log.RecordBestEffort(ctx, &types.EntityChange{
		EntityType:      types.EntityActivity,
		EntityID:        activityID,
		ChangeType:      types.ChangeUpdate,
		AffectedUserID:  activity.CreatorID,
		RelatedEntityID: userID,
		ChangeDetails:   "participant_left",
		TriggeredBy:     userID,
		ChangeSource:    types.SourceUserAction,
	})
	return nil
}

// RespondAction is the creator's decision on a join request.
type RespondAction string

const (
	RespondApprove RespondAction = "approve"
	RespondReject  RespondAction = "reject"
	RespondRemove  RespondAction = "remove"
)

// Respond lets the creator approve, reject or remove a participant.
func (s *Service) Respond(ctx context.Context, activityID, participantID, callerID string, action RespondAction) error {
	activity, err := s.Get(ctx, activityID)
	if err != nil {
		return err
	}
	if activity.CreatorID != callerID {
		return types.Unauthorizedf("only the creator may respond to join requests")
	}
	if activity.CompletionStatus != types.ActivityScheduled {
		return types.Conflictf("activity %s is %s", activityID, activity.CompletionStatus)
	}

	var res sql.Result
	switch action {
	case RespondApprove:
		res, err = s.store.DB().ExecContext(ctx,
			`UPDATE activity_participants SET status = ? WHERE activity_id = ? AND user_id = ?`,
			string(types.ParticipantAccepted), activityID, participantID)
	case RespondReject:
		res, err = s.store.DB().ExecContext(ctx,
			`UPDATE activity_participants SET status = ? WHERE activity_id = ? AND user_id = ?`,
			string(types.ParticipantDeclined), activityID, participantID)
	case RespondRemove:
		res, err = s.store.DB().ExecContext(ctx,
			`DELETE FROM activity_participants WHERE activity_id = ? AND user_id = ?`,
			activityID, participantID)
	default:
		return types.Validationf("action", "unknown action %q", action)
	}
	if err != nil {
		return fmt.Errorf("activities: respond: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NotFoundf("user %s is not a participant of activity %s", participantID, activityID)
	}

	s.log.RecordBestEffort(ctx, &types.EntityChange{
		EntityType:      types.EntityActivity,
		EntityID:        activityID,
		ChangeType:      types.ChangeUpdate,
		AffectedUserID:  participantID,
		RelatedEntityID: activityID,
		ChangeDetails:   "participant_" + string(action),
		TriggeredBy:     callerID,
		ChangeSource:    types.SourceUserAction,
	})
	return nil
}

// Participants lists an activity's participant rows.
func (s *Service) Participants(ctx context.Context, activityID string) ([]*types.ActivityParticipant, error) {
	rows, err := s.store.DB().QueryContext(ctx, `
		SELECT activity_id, user_id, status, team, final_result, performance_notes, joined_at
		FROM activity_participants WHERE activity_id = ? ORDER BY joined_at, user_id`,
		activityID,
	)
	if err != nil {
		return nil, fmt.Errorf("activities: list participants: %w", err)
	}
	defer rows.Close()

	var out []*types.ActivityParticipant
	for rows.Next() {
		p := &types.ActivityParticipant{}
		if err := rows.Scan(&p.ActivityID, &p.UserID, &p.Status, &p.Team, &p.FinalResult, &p.PerformanceNotes, &p.JoinedAt); err != nil {
			return nil, err
		}
		p.JoinedAt = p.JoinedAt.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

// IsParticipantOrCreator reports whether userID may read an activity's
// restricted surfaces.
func (s *Service) IsParticipantOrCreator(ctx context.Context, activityID, userID string) (bool, error) {
	activity, err := s.Get(ctx, activityID)
	if err != nil {
		return false, err
	}
	if activity.CreatorID == userID {
		return true, nil
	}
	var n int
	if err := s.store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_participants WHERE activity_id = ? AND user_id = ?`,
		activityID, userID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("activities: participant check: %w", err)
	}
	return n > 0, nil
}

func (s *Service) fanOutToParticipants(ctx context.Context, activity *types.Activity, kind types.ChangeType, triggeredBy string, prev []byte) {
	participants, err := s.Participants(ctx, activity.ID)
	if err != nil {
		s.logger.Warn("fan-out participant lookup failed", "activity_id", activity.ID, "error", err)
		return
	}
	newData, _ := json.Marshal(activity)
	var affected []string
	for _, p := range participants {
		if p.Status != types.ParticipantAccepted {
			continue
		}
		affected = append(affected, p.UserID)
	}
	s.log.FanOut(ctx, &types.EntityChange{
		EntityType:      types.EntityActivity,
		EntityID:        activity.ID,
		ChangeType:      kind,
		RelatedEntityID: activity.ActivityTypeID,
		PreviousData:    prev,
		NewData:         newData,
		TriggeredBy:     triggeredBy,
		ChangeSource:    types.SourceUserAction,
	}, affected)
}
