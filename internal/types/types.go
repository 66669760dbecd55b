// Package types holds the shared domain entities of the PlayRank platform:
// activities, participants, ELO records, skill ratings and the change log.
package types

import (
	"encoding/json"
	"time"
)

// Role is a platform user role.
type Role string

const (
	RoleRegular     Role = "regular"
	RoleAdmin       Role = "admin"
	RoleDeactivated Role = "deactivated"
)

// User is the minimal identity projection the core needs. Authentication
// and profile management live outside this service.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// KFactorConfig selects the ELO K-factor by player experience.
type KFactorConfig struct {
	New         int `json:"new" yaml:"new"`
	Established int `json:"established" yaml:"established"`
	Expert      int `json:"expert" yaml:"expert"`
}

// ELOSettings is the per-activity-type rating configuration.
type ELOSettings struct {
	StartingELO         int           `json:"startingELO" yaml:"startingELO"`
	KFactor             KFactorConfig `json:"kFactor" yaml:"kFactor"`
	ProvisionalGames    int           `json:"provisionalGames" yaml:"provisionalGames"`
	MinimumParticipants int           `json:"minimumParticipants" yaml:"minimumParticipants"`
	TeamBased           bool          `json:"teamBased" yaml:"teamBased"`
	AllowDraws          bool          `json:"allowDraws" yaml:"allowDraws"`
	SkillInfluence      float64       `json:"skillInfluence" yaml:"skillInfluence"`
}

// ActivityType describes a kind of activity (e.g. basketball, running).
type ActivityType struct {
	ID                string      `json:"id"`
	Name              string      `json:"name"`
	Category          string      `json:"category"`
	IsSoloPerformable bool        `json:"isSoloPerformable"`
	ELOSettings       ELOSettings `json:"eloSettings"`
}

// CompletionStatus is the lifecycle state of an activity.
type CompletionStatus string

const (
	ActivityScheduled CompletionStatus = "scheduled"
	ActivityCompleted CompletionStatus = "completed"
	ActivityCancelled CompletionStatus = "cancelled"
)

// Activity is an organised event users join and complete.
type Activity struct {
	ID               string           `json:"id"`
	ActivityTypeID   string           `json:"activityTypeId"`
	CreatorID        string           `json:"creatorId"`
	Description      string           `json:"description"`
	DateTime         time.Time        `json:"dateTime"`
	MaxParticipants  int              `json:"maxParticipants,omitempty"` // 0 = unlimited
	ELOLevel         int              `json:"eloLevel,omitempty"`        // 0 = open
	IsELORated       bool             `json:"isELORated"`
	CompletionStatus CompletionStatus `json:"completionStatus"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ParticipantStatus is the join-request state of a participant.
type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantDeclined ParticipantStatus = "declined"
)

// FinalResult is a participant's recorded outcome.
type FinalResult string

const (
	ResultWin  FinalResult = "win"
	ResultLoss FinalResult = "loss"
	ResultDraw FinalResult = "draw"
	ResultNone FinalResult = ""
)

// ActivityParticipant links a user to an activity.
type ActivityParticipant struct {
	ActivityID       string            `json:"activityId"`
	UserID           string            `json:"userId"`
	Status           ParticipantStatus `json:"status"`
	Team             string            `json:"team,omitempty"`
	FinalResult      FinalResult       `json:"finalResult,omitempty"`
	PerformanceNotes string            `json:"performanceNotes,omitempty"`
	JoinedAt         time.Time         `json:"joinedAt"`
}

// UserActivityTypeELO is a user's rating for one activity type.
type UserActivityTypeELO struct {
	UserID         string    `json:"userId"`
	ActivityTypeID string    `json:"activityTypeId"`
	ELOScore       int       `json:"eloScore"`
	GamesPlayed    int       `json:"gamesPlayed"`
	PeakELO        int       `json:"peakELO"`
	Volatility     int       `json:"volatility"`
	LastUpdated    time.Time `json:"lastUpdated"`
	Version        int64     `json:"version"`
}

// ELOStatusValue is the processing state of an activity's ELO batch.
type ELOStatusValue string

const (
	ELOStatusPending     ELOStatusValue = "pending"
	ELOStatusCalculating ELOStatusValue = "calculating"
	ELOStatusCompleted   ELOStatusValue = "completed"
	ELOStatusError       ELOStatusValue = "error"
)

// ActivityELOStatus is the per-activity lock and outcome row.
type ActivityELOStatus struct {
	ActivityID   string         `json:"activityId"`
	Status       ELOStatusValue `json:"status"`
	LockedBy     string         `json:"lockedBy,omitempty"`
	LockedAt     time.Time      `json:"lockedAt,omitempty"`
	CompletedAt  time.Time      `json:"completedAt,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	RetryCount   int            `json:"retryCount"`
}

// SkillType categorises a skill definition.
type SkillType string

const (
	SkillPhysical  SkillType = "physical"
	SkillTechnical SkillType = "technical"
	SkillMental    SkillType = "mental"
	SkillTactical  SkillType = "tactical"
)

// SkillDefinition is a ratable skill.
type SkillDefinition struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SkillType SkillType `json:"skillType"`
	IsGeneral bool      `json:"isGeneral"`
}

// ActivityTypeSkill declares a skill as ratable for an activity type.
type ActivityTypeSkill struct {
	ActivityTypeID    string  `json:"activityTypeId"`
	SkillDefinitionID string  `json:"skillDefinitionId"`
	Weight            float64 `json:"weight"`
	DisplayOrder      int     `json:"displayOrder"`
}

// UserActivitySkillRating is one peer rating given in one activity.
type UserActivitySkillRating struct {
	ID                string    `json:"id"`
	ActivityID        string    `json:"activityId"`
	RatedUserID       string    `json:"ratedUserId"`
	RatingUserID      string    `json:"ratingUserId"`
	SkillDefinitionID string    `json:"skillDefinitionId"`
	RatingValue       int       `json:"ratingValue"` // 1..10
	Confidence        int       `json:"confidence"`  // 1..5
	Comment           string    `json:"comment,omitempty"`
	IsAnonymous       bool      `json:"isAnonymous"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Trend is the direction of a user's recent skill ratings.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// UserActivityTypeSkillSummary is the rollup of ratings for one
// (user, activity type, skill). AverageRating is stored scaled by 100.
type UserActivityTypeSkillSummary struct {
	UserID            string    `json:"userId"`
	ActivityTypeID    string    `json:"activityTypeId"`
	SkillDefinitionID string    `json:"skillDefinitionId"`
	AverageRating     int       `json:"averageRating"` // round(avg*100)
	TotalRatings      int       `json:"totalRatings"`
	Trend             Trend     `json:"trend"`
	LastCalculatedAt  time.Time `json:"lastCalculatedAt"`
}

// UserGeneralSkillSummary is the cross-activity-type weighted rollup for
// skills marked isGeneral.
type UserGeneralSkillSummary struct {
	UserID            string    `json:"userId"`
	SkillDefinitionID string    `json:"skillDefinitionId"`
	AverageRating     int       `json:"averageRating"` // round(weighted avg*100)
	TotalRatings      int       `json:"totalRatings"`
	LastCalculatedAt  time.Time `json:"lastCalculatedAt"`
}

// EntityClass partitions change-log rows for cursor tracking.
type EntityClass string

const (
	EntityELO         EntityClass = "elo"
	EntityActivity    EntityClass = "activity"
	EntitySkillRating EntityClass = "skill_rating"
	EntityConnection  EntityClass = "connection"
	EntityMatchmaking EntityClass = "matchmaking"
	EntityTeam        EntityClass = "team"
	EntityTeamMember  EntityClass = "team_member"
)

// TrackedClasses are the entity classes with a per-user cursor.
var TrackedClasses = []EntityClass{
	EntityELO, EntityActivity, EntitySkillRating, EntityConnection, EntityMatchmaking,
}

// ChangeType is the kind of mutation a change-log row records.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeSource identifies who triggered a mutation.
type ChangeSource string

const (
	SourceUserAction ChangeSource = "user_action"
	SourceSystem     ChangeSource = "system"
	SourceAdmin      ChangeSource = "admin"
)

// EntityChange is one change-log row: a single mutation affecting one
// user's view of the platform.
type EntityChange struct {
	ID              int64           `json:"id"`
	EntityType      EntityClass     `json:"entityType"`
	EntityID        string          `json:"entityId"`
	ChangeType      ChangeType      `json:"changeType"`
	AffectedUserID  string          `json:"affectedUserId"`
	RelatedEntityID string          `json:"relatedEntityId,omitempty"`
	PreviousData    json.RawMessage `json:"previousData,omitempty"`
	NewData         json.RawMessage `json:"newData,omitempty"`
	ChangeDetails   string          `json:"changeDetails,omitempty"`
	TriggeredBy     string          `json:"triggeredBy,omitempty"`
	ChangeSource    ChangeSource    `json:"changeSource"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// ClientType distinguishes polling clients for interval tuning.
type ClientType string

const (
	ClientWeb    ClientType = "web"
	ClientMobile ClientType = "mobile"
)

// UserDeltaCursor tracks a user's last-seen timestamp per entity class.
type UserDeltaCursor struct {
	UserID                string     `json:"userId"`
	LastELOSync           time.Time  `json:"lastELOSync"`
	LastActivitySync      time.Time  `json:"lastActivitySync"`
	LastSkillRatingSync   time.Time  `json:"lastSkillRatingSync"`
	LastConnectionSync    time.Time  `json:"lastConnectionSync"`
	LastMatchmakingSync   time.Time  `json:"lastMatchmakingSync"`
	ClientType            ClientType `json:"clientType"`
	LastActiveAt          time.Time  `json:"lastActiveAt"`
	PreferredPollInterval int        `json:"preferredPollInterval"` // ms
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// SyncTime returns the cursor timestamp for the given class.
func (c *UserDeltaCursor) SyncTime(class EntityClass) time.Time {
	switch class {
	case EntityELO:
		return c.LastELOSync
	case EntityActivity:
		return c.LastActivitySync
	case EntitySkillRating:
		return c.LastSkillRatingSync
	case EntityConnection:
		return c.LastConnectionSync
	case EntityMatchmaking:
		return c.LastMatchmakingSync
	}
	return time.Time{}
}

// SetSyncTime sets the cursor timestamp for the given class.
func (c *UserDeltaCursor) SetSyncTime(class EntityClass, ts time.Time) {
	switch class {
	case EntityELO:
		c.LastELOSync = ts
	case EntityActivity:
		c.LastActivitySync = ts
	case EntitySkillRating:
		c.LastSkillRatingSync = ts
	case EntityConnection:
		c.LastConnectionSync = ts
	case EntityMatchmaking:
		c.LastMatchmakingSync = ts
	}
}
