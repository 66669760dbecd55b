package elo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/playrank/playrank/internal/changelog"
	"github.com/playrank/playrank/internal/skills"
	"github.com/playrank/playrank/internal/store"
	"github.com/playrank/playrank/internal/types"
)

// Orchestrator drives activity completion: result validation, the
// completed-state commit, change-log fan-out and the serialized ELO
// batch behind the per-activity lock.
type Orchestrator struct {
	store      *store.Store
	locks      *LockManager
	persister  *Persister
	log        *changelog.Writer
	aggregator *skills.Aggregator
	logger     *slog.Logger
}

// NewOrchestrator wires the completion pipeline.
func NewOrchestrator(st *store.Store, locks *LockManager, persister *Persister, log *changelog.Writer, agg *skills.Aggregator, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      st,
		locks:      locks,
		persister:  persister,
		log:        log,
		aggregator: agg,
		logger:     logger.With("component", "elo.orchestrator"),
	}
}

// ParticipantResult is one participant's recorded outcome.
type ParticipantResult struct {
	UserID           string            `json:"userId"`
	FinalResult      types.FinalResult `json:"finalResult"`
	PerformanceNotes string            `json:"performanceNotes,omitempty"`
}

// CompleteRequest carries the completion payload.
type CompleteRequest struct {
	ParticipantResults []ParticipantResult `json:"participantResults"`
	ProcessImmediately *bool               `json:"processImmediately,omitempty"` // default true
}

// CompleteResult reports what the completion did. The activity state
// transition stands even when ELO processing fails; the failure is
// captured on the status row.
type CompleteResult struct {
	Activity     *types.Activity `json:"activity"`
	ELOProcessed bool            `json:"eloProcessed"`
	ELODeferred  bool            `json:"eloDeferred,omitempty"`
	ELOError     string          `json:"eloError,omitempty"`
}

// Complete validates and records results, marks the activity completed,
// fans out change-log rows and runs (or defers) the ELO batch.
func (o *Orchestrator) Complete(ctx context.Context, activityID, invokerID string, invokerRole types.Role, req CompleteRequest) (*CompleteResult, error) {
	activity, err := o.getActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity.CreatorID != invokerID && invokerRole != types.RoleAdmin {
		return nil, types.Unauthorizedf("only the creator or an admin may complete activity %s", activityID)
	}
	if activity.CompletionStatus != types.ActivityScheduled {
		return nil, types.Conflictf("activity %s is %s, not scheduled", activityID, activity.CompletionStatus)
	}

	activityType, err := o.store.GetActivityType(ctx, activity.ActivityTypeID)
	if err != nil {
		return nil, err
	}
	settings := Normalize(activityType.ELOSettings)

	accepted, err := o.acceptedParticipants(ctx, activityID)
	if err != nil {
		return nil, err
	}

	results := make(map[string]ParticipantResult, len(req.ParticipantResults))
	for _, r := range req.ParticipantResults {
		switch r.FinalResult {
		case types.ResultWin, types.ResultLoss:
		case types.ResultDraw:
			if !settings.AllowDraws {
				return nil, types.Validationf("finalResult", "activity type %s does not allow draws", activityType.ID)
			}
		default:
			return nil, types.Validationf("finalResult", "invalid result %q for user %s", r.FinalResult, r.UserID)
		}
		if _, dup := results[r.UserID]; dup {
			return nil, types.Validationf("participantResults", "duplicate result for user %s", r.UserID)
		}
		results[r.UserID] = r
	}

	// Every accepted participant needs exactly one result.
	for _, p := range accepted {
		if _, ok := results[p.UserID]; !ok {
			return nil, types.Validationf("participantResults", "missing result for participant %s", p.UserID)
		}
	}
	if len(results) != len(accepted) {
		return nil, types.Validationf("participantResults", "results for non-participants supplied")
	}

	if settings.TeamBased && activity.IsELORated {
		if err := validateTeamResults(accepted, results); err != nil {
			return nil, err
		}
	}

	// Commit the state transition first so clients observe completion
	// even if ELO processing errors afterwards.
	now := store.Now()
	err = o.store.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE activities SET completion_status = ?, updated_at = ? WHERE id = ? AND completion_status = ?`,
			string(types.ActivityCompleted), now, activityID, string(types.ActivityScheduled),
		)
		if err != nil {
			return fmt.Errorf("elo: mark completed: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return types.Conflictf("activity %s was completed concurrently", activityID)
		}
		for _, r := range req.ParticipantResults {
			if _, err := tx.ExecContext(ctx,
				`UPDATE activity_participants SET final_result = ?, performance_notes = ? WHERE activity_id = ? AND user_id = ?`,
				string(r.FinalResult), r.PerformanceNotes, activityID, r.UserID,
			); err != nil {
				return fmt.Errorf("elo: record result: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	activity.CompletionStatus = types.ActivityCompleted
	activity.UpdatedAt = now

	newData, _ := json.Marshal(map[string]any{"completionStatus": types.ActivityCompleted})
	var affected []string
	for _, p := range accepted {
		if p.UserID == invokerID {
			continue
		}
		affected = append(affected, p.UserID)
	}
	o.log.FanOut(ctx, &types.EntityChange{
		EntityType:      types.EntityActivity,
		EntityID:        activityID,
		ChangeType:      types.ChangeUpdate,
		RelatedEntityID: activity.ActivityTypeID,
		NewData:         newData,
		TriggeredBy:     invokerID,
		ChangeSource:    types.SourceUserAction,
	}, affected)

	out := &CompleteResult{Activity: activity}
	if !activity.IsELORated {
		return out, nil
	}

	processImmediately := req.ProcessImmediately == nil || *req.ProcessImmediately
	if !processImmediately {
		if err := o.locks.MarkPending(ctx, activityID); err != nil {
			return nil, err
		}
		out.ELODeferred = true
		return out, nil
	}

	if err := o.Process(ctx, activityID); err != nil {
		// The completion stands; surface the processing failure.
		out.ELOError = err.Error()
		return out, nil
	}
	out.ELOProcessed = true
	return out, nil
}

// Process runs the serialized ELO batch for one completed activity:
// acquire the lock, load the snapshot, compute and persist. Both the
// foreground path and the background drain enter here.
func (o *Orchestrator) Process(ctx context.Context, activityID string) error {
	if err := o.locks.Acquire(ctx, activityID); err != nil {
		return err
	}

	err := o.process(ctx, activityID)
	if err != nil {
		if relErr := o.locks.ReleaseError(ctx, activityID, err); relErr != nil {
			o.logger.Error("failed to record elo error state", "activity_id", activityID, "error", relErr)
		}
		if types.KindOf(err) == types.KindInternal {
			return &types.Error{Kind: types.KindELOProcessing, Message: "elo processing failed", Err: err}
		}
		return err
	}
	return nil
}

func (o *Orchestrator) process(ctx context.Context, activityID string) error {
	activity, err := o.getActivity(ctx, activityID)
	if err != nil {
		return err
	}
	if activity.CompletionStatus != types.ActivityCompleted {
		return types.Conflictf("activity %s is not completed", activityID)
	}
	if !activity.IsELORated {
		return types.Conflictf("activity %s is not ELO rated", activityID)
	}

	snap, err := o.LoadSnapshot(ctx, activity)
	if err != nil {
		return err
	}

	deltas, err := ComputeDeltas(*snap)
	if err != nil {
		return err
	}

	if err := o.persister.Apply(ctx, activityID, activity.ActivityTypeID, deltas); err != nil {
		return err
	}

	o.logger.Info("elo batch persisted",
		"activity_id", activityID,
		"participants", len(deltas))
	return nil
}

// Reprocess resets the status row to pending and reruns the batch.
// Creator or admin only.
func (o *Orchestrator) Reprocess(ctx context.Context, activityID, callerID string, callerRole types.Role) error {
	activity, err := o.getActivity(ctx, activityID)
	if err != nil {
		return err
	}
	if activity.CreatorID != callerID && callerRole != types.RoleAdmin {
		return types.Unauthorizedf("only the creator or an admin may reprocess activity %s", activityID)
	}
	if err := o.locks.MarkPending(ctx, activityID); err != nil {
		return err
	}
	return o.Process(ctx, activityID)
}

// LoadSnapshot assembles the engine input: accepted participants with
// their current ratings and the skill bonus derived from peer ratings
// received in this activity.
func (o *Orchestrator) LoadSnapshot(ctx context.Context, activity *types.Activity) (*Snapshot, error) {
	activityType, err := o.store.GetActivityType(ctx, activity.ActivityTypeID)
	if err != nil {
		return nil, err
	}
	settings := Normalize(activityType.ELOSettings)

	accepted, err := o.acceptedParticipants(ctx, activity.ID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Settings: settings}
	for _, p := range accepted {
		current, games, volatility, err := o.currentRating(ctx, p.UserID, activity.ActivityTypeID, settings)
		if err != nil {
			return nil, err
		}

		bonus, err := o.skillBonus(ctx, activity.ID, p.UserID, settings)
		if err != nil {
			return nil, err
		}

		snap.Participants = append(snap.Participants, Participant{
			UserID:      p.UserID,
			CurrentELO:  current,
			GamesPlayed: games,
			Volatility:  volatility,
			Team:        p.Team,
			FinalResult: p.FinalResult,
			SkillBonus:  bonus,
		})
	}
	return snap, nil
}

func (o *Orchestrator) currentRating(ctx context.Context, userID, activityTypeID string, settings types.ELOSettings) (elo, games, volatility int, err error) {
	err = o.store.DB().QueryRowContext(ctx,
		`SELECT elo_score, games_played, volatility FROM user_activity_type_elo
		 WHERE user_id = ? AND activity_type_id = ?`,
		userID, activityTypeID,
	).Scan(&elo, &games, &volatility)
	if errors.Is(err, sql.ErrNoRows) {
		return settings.StartingELO, 0, DefaultVolatility, nil
	}
	if err != nil {
		return 0, 0, 0, fmt.Errorf("elo: load rating: %w", err)
	}
	return elo, games, volatility, nil
}

func (o *Orchestrator) skillBonus(ctx context.Context, activityID, userID string, settings types.ELOSettings) (int, error) {
	rows, err := o.store.DB().QueryContext(ctx,
		`SELECT rating_value, confidence FROM user_activity_skill_ratings
		 WHERE activity_id = ? AND rated_user_id = ?`,
		activityID, userID,
	)
	if err != nil {
		return 0, fmt.Errorf("elo: load activity ratings: %w", err)
	}
	var values, confidences []int
	for rows.Next() {
		var v, c int
		if err := rows.Scan(&v, &c); err != nil {
			rows.Close()
			return 0, err
		}
		values = append(values, v)
		confidences = append(confidences, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	received, hasReceived := WeightedRatingMean(values, confidences)
	if !hasReceived {
		return 0, nil
	}

	historical, hasHistory, err := o.aggregator.HistoricalMean(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !hasHistory {
		historical = 5
	}
	return SkillBonus(received, true, historical, settings.SkillInfluence), nil
}

func (o *Orchestrator) getActivity(ctx context.Context, id string) (*types.Activity, error) {
	a := &types.Activity{}
	err := o.store.DB().QueryRowContext(ctx, `
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
		return nil, fmt.Errorf("elo: get activity: %w", err)
	}
	return a, nil
}

func (o *Orchestrator) acceptedParticipants(ctx context.Context, activityID string) ([]*types.ActivityParticipant, error) {
	rows, err := o.store.DB().QueryContext(ctx, `
		SELECT activity_id, user_id, status, team, final_result, performance_notes, joined_at
		FROM activity_participants
		WHERE activity_id = ? AND status = ?
		ORDER BY user_id`,
		activityID, string(types.ParticipantAccepted),
	)
	if err != nil {
		return nil, fmt.Errorf("elo: list participants: %w", err)
	}
	defer rows.Close()

	var out []*types.ActivityParticipant
	for rows.Next() {
		p := &types.ActivityParticipant{}
		if err := rows.Scan(&p.ActivityID, &p.UserID, &p.Status, &p.Team, &p.FinalResult, &p.PerformanceNotes, &p.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// validateTeamResults requires a team label for every participant and a
// single shared result per team.
func validateTeamResults(accepted []*types.ActivityParticipant, results map[string]ParticipantResult) error {
	teamResult := make(map[string]types.FinalResult)
	for _, p := range accepted {
		if p.Team == "" {
			return types.Validationf("team", "participant %s has no team assignment", p.UserID)
		}
		r := results[p.UserID].FinalResult
		if prev, ok := teamResult[p.Team]; ok && prev != r {
			return types.Validationf("participantResults",
				"team %s has conflicting results %s and %s", p.Team, prev, r)
		}
		teamResult[p.Team] = r
	}
	return nil
}
