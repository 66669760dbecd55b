// Package elo implements the rating pipeline: the pure delta engine,
// the per-activity distributed lock, idempotent persistence and the
// completion orchestrator that ties them together.
package elo

import (
	"math"
	"sort"

	"github.com/playrank/playrank/internal/types"
)

// MinELO is the floor below which no rating can fall.
const MinELO = 100

// DefaultVolatility is the baseline volatility for new rating rows.
const DefaultVolatility = 300

// Participant is one player's input to the engine.
type Participant struct {
	UserID      string
	CurrentELO  int
	GamesPlayed int
	Volatility  int
	Team        string
	FinalResult types.FinalResult
	SkillBonus  int
}

// Snapshot is the complete, immutable input of one calculation.
type Snapshot struct {
	Settings     types.ELOSettings
	Participants []Participant
}

// Delta is one participant's computed rating change.
type Delta struct {
	UserID  string
	OldELO  int
	NewELO  int
	Change  int
	KFactor float64
}

// ComputeDeltas computes per-participant rating deltas for a completed
// activity. The function is pure: identical inputs produce identical
// outputs regardless of wall time.
func ComputeDeltas(snap Snapshot) ([]Delta, error) {
	minParticipants := snap.Settings.MinimumParticipants
	if minParticipants < 2 {
		minParticipants = 2
	}
	if len(snap.Participants) < minParticipants {
		return nil, types.E(types.KindInsufficientParticipants,
			"elo: need at least %d participants, got %d", minParticipants, len(snap.Participants))
	}

	var deltas []Delta
	var err error
	if snap.Settings.TeamBased {
		deltas, err = computeTeamDeltas(snap)
	} else {
		deltas, err = computeIndividualDeltas(snap)
	}
	if err != nil {
		return nil, err
	}
	return deltas, nil
}

// kFactor selects the update multiplier by experience. Provisional
// players get the elevated K plus a volatility boost above baseline.
func kFactor(settings types.ELOSettings, p Participant) float64 {
	switch {
	case p.GamesPlayed < settings.ProvisionalGames:
		boost := float64(p.Volatility-DefaultVolatility) / 10
		if boost < 0 {
			boost = 0
		}
		return float64(settings.KFactor.New) + boost
	case p.GamesPlayed < 100:
		return float64(settings.KFactor.Established)
	default:
		return float64(settings.KFactor.Expert)
	}
}

// expectedScore is the 400-based logistic expectation of A against B.
func expectedScore(eloA, eloB float64) float64 {
	return 1 / (1 + math.Pow(10, (eloB-eloA)/400))
}

// resultRank orders outcomes so any two results compare pairwise:
// win beats draw beats loss. Ranking-style activities where several
// participants share a result fall out of the same rule.
func resultRank(r types.FinalResult) int {
	switch r {
	case types.ResultWin:
		return 2
	case types.ResultDraw:
		return 1
	default:
		return 0
	}
}

// actualScore is 1 if a beat b, 0 if b beat a, 0.5 on equal results.
func actualScore(a, b types.FinalResult) float64 {
	ra, rb := resultRank(a), resultRank(b)
	switch {
	case ra > rb:
		return 1
	case ra < rb:
		return 0
	default:
		return 0.5
	}
}

// computeIndividualDeltas scores every participant pairwise against
// every other and averages the per-pair deltas.
func computeIndividualDeltas(snap Snapshot) ([]Delta, error) {
	ps := snap.Participants
	deltas := make([]Delta, 0, len(ps))
	for i, p := range ps {
		k := kFactor(snap.Settings, p)
		var sum float64
		for j, opp := range ps {
			if i == j {
				continue
			}
			e := expectedScore(float64(p.CurrentELO), float64(opp.CurrentELO))
			actual := actualScore(p.FinalResult, opp.FinalResult)
			sum += k * (actual - e)
		}
		change := sum / float64(len(ps)-1)
		deltas = append(deltas, finishDelta(p, change, k))
	}
	return deltas, nil
}

// computeTeamDeltas groups participants by team, scores every unordered
// team pair on mean ELO, and applies each pair delta with the member's
// own K. Members receive the sum of their team-pair contributions.
func computeTeamDeltas(snap Snapshot) ([]Delta, error) {
	teams := make(map[string][]Participant)
	for _, p := range snap.Participants {
		teams[p.Team] = append(teams[p.Team], p)
	}
	if len(teams) < 2 {
		return nil, types.E(types.KindInsufficientTeams,
			"elo: team mode needs at least 2 teams, got %d", len(teams))
	}

	names := make([]string, 0, len(teams))
	for name := range teams {
		names = append(names, name)
	}
	sort.Strings(names)

	means := make(map[string]float64, len(teams))
	results := make(map[string]types.FinalResult, len(teams))
	for name, members := range teams {
		var sum int
		for _, m := range members {
			sum += m.CurrentELO
		}
		means[name] = float64(sum) / float64(len(members))
		// Orchestrator guarantees a team shares one result.
		results[name] = members[0].FinalResult
	}

	changes := make(map[string]float64, len(snap.Participants))
	kByUser := make(map[string]float64, len(snap.Participants))
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := names[i], names[j]
			eA := expectedScore(means[a], means[b])
			actualA := actualScore(results[a], results[b])
			for _, m := range teams[a] {
				k := kFactor(snap.Settings, m)
				kByUser[m.UserID] = k
				changes[m.UserID] += k * (actualA - eA)
			}
			for _, m := range teams[b] {
				k := kFactor(snap.Settings, m)
				kByUser[m.UserID] = k
				changes[m.UserID] += k * ((1 - actualA) - (1 - eA))
			}
		}
	}

	deltas := make([]Delta, 0, len(snap.Participants))
	for _, p := range snap.Participants {
		deltas = append(deltas, finishDelta(p, changes[p.UserID], kByUser[p.UserID]))
	}
	return deltas, nil
}

// finishDelta applies the skill bonus, rounds and floors the rating.
func finishDelta(p Participant, change float64, k float64) Delta {
	newELO := int(math.Round(float64(p.CurrentELO) + change + float64(p.SkillBonus)))
	if newELO < MinELO {
		newELO = MinELO
	}
	return Delta{
		UserID:  p.UserID,
		OldELO:  p.CurrentELO,
		NewELO:  newELO,
		Change:  newELO - p.CurrentELO,
		KFactor: k,
	}
}

// SkillBonus converts peer ratings received in the activity into an ELO
// adjustment. received is the confidence-weighted mean of in-activity
// ratings (weight = confidence/5); historical is the participant's
// prior summary mean, 5 when they have no history. The result is
// bounded by its inputs to roughly ±20 × skillInfluence.
func SkillBonus(received float64, hasReceived bool, historical float64, skillInfluence float64) int {
	if !hasReceived || skillInfluence == 0 {
		return 0
	}
	return int(math.Round(((received - historical) / 5) * 20 * skillInfluence))
}

// WeightedRatingMean computes the confidence-weighted mean of rating
// values, weight = confidence/5. Returns false when there are none.
func WeightedRatingMean(values []int, confidences []int) (float64, bool) {
	var num, den float64
	for i, v := range values {
		w := float64(confidences[i]) / 5
		num += float64(v) * w
		den += w
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}
