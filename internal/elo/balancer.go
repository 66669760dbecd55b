package elo

import (
	"context"
	"fmt"
	"sort"

	"github.com/playrank/playrank/internal/types"
)

// TeamAssignment is the balancer's output: user to team label.
type TeamAssignment struct {
	Teams    map[string][]string `json:"teams"`
	TeamELO  map[string]int      `json:"teamELO"`
	Assigned int                 `json:"assigned"`
}

// BalanceTeams partitions the accepted participants of a scheduled
// activity into two near-equal-sum-of-ELO teams via greedy
// largest-first assignment and writes the labels back. Creator only.
func (o *Orchestrator) BalanceTeams(ctx context.Context, activityID, callerID string) (*TeamAssignment, error) {
	activity, err := o.getActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity.CreatorID != callerID {
		return nil, types.Unauthorizedf("only the creator may balance teams for activity %s", activityID)
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
	if len(accepted) < 2 {
		return nil, types.E(types.KindInsufficientParticipants,
			"elo: need at least 2 accepted participants to balance, got %d", len(accepted))
	}

	type rated struct {
		userID string
		elo    int
	}
	players := make([]rated, 0, len(accepted))
	for _, p := range accepted {
		current, _, _, err := o.currentRating(ctx, p.UserID, activity.ActivityTypeID, settings)
		if err != nil {
			return nil, err
		}
		players = append(players, rated{userID: p.UserID, elo: current})
	}

	// Greedy largest-first: strongest player to the currently weaker
	// team. User id breaks ELO ties for determinism.
	sort.Slice(players, func(i, j int) bool {
		if players[i].elo != players[j].elo {
			return players[i].elo > players[j].elo
		}
		return players[i].userID < players[j].userID
	})

	assignment := &TeamAssignment{
		Teams:   map[string][]string{"A": {}, "B": {}},
		TeamELO: map[string]int{"A": 0, "B": 0},
	}
	for _, pl := range players {
		team := "A"
		if assignment.TeamELO["B"] < assignment.TeamELO["A"] ||
			(assignment.TeamELO["B"] == assignment.TeamELO["A"] && len(assignment.Teams["B"]) < len(assignment.Teams["A"])) {
			team = "B"
		}
		assignment.Teams[team] = append(assignment.Teams[team], pl.userID)
		assignment.TeamELO[team] += pl.elo
		assignment.Assigned++
	}

	for team, members := range assignment.Teams {
		for _, uid := range members {
			if _, err := o.store.DB().ExecContext(ctx,
				`UPDATE activity_participants SET team = ? WHERE activity_id = ? AND user_id = ?`,
				team, activityID, uid,
			); err != nil {
				return nil, fmt.Errorf("elo: write team label: %w", err)
			}
		}
	}

	o.logger.Info("teams balanced",
		"activity_id", activityID,
		"team_a_elo", assignment.TeamELO["A"],
		"team_b_elo", assignment.TeamELO["B"])
	return assignment, nil
}
