package database

import (
	"database/sql"
	"time"

	"github.com/hangout-app/hangout-server/internal/timeline"
)

type Account struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Guest struct {
	Id          string
	DisplayName string
	CreatedAt   time.Time
}

type Hangout struct {
	Id             string
	Title          string
	PasswordHash   sql.NullString
	Capacity       int
	AvailabilityMs int64
	SuggestionsMs  int64
	VotingMs       int64
	CurrentStage   timeline.Stage
	StageAnchor    time.Time
	Conclusion     time.Time
	IsConcluded    bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (h Hangout) Durations() timeline.Durations {
	return timeline.Durations{
		Availability: time.Duration(h.AvailabilityMs) * time.Millisecond,
		Suggestions:  time.Duration(h.SuggestionsMs) * time.Millisecond,
		Voting:       time.Duration(h.VotingMs) * time.Millisecond,
	}
}

// StageState projects the hangout onto the fields the transition engine
// reads and writes.
func (h Hangout) StageState() HangoutStageState {
	return HangoutStageState{
		HangoutId:      h.Id,
		CurrentStage:   h.CurrentStage,
		StageAnchor:    h.StageAnchor,
		Conclusion:     h.Conclusion,
		AvailabilityMs: h.AvailabilityMs,
		SuggestionsMs:  h.SuggestionsMs,
		VotingMs:       h.VotingMs,
		IsConcluded:    h.IsConcluded,
	}
}

// HangoutStageState is the persisted stage-machine state of one hangout. It
// is loaded under a row lock inside InHangoutTx so concurrent transitions
// for the same hangout serialize.
type HangoutStageState struct {
	HangoutId      string
	CurrentStage   timeline.Stage
	StageAnchor    time.Time
	Conclusion     time.Time
	AvailabilityMs int64
	SuggestionsMs  int64
	VotingMs       int64
	IsConcluded    bool
}

func (s HangoutStageState) Durations() timeline.Durations {
	return timeline.Durations{
		Availability: time.Duration(s.AvailabilityMs) * time.Millisecond,
		Suggestions:  time.Duration(s.SuggestionsMs) * time.Millisecond,
		Voting:       time.Duration(s.VotingMs) * time.Millisecond,
	}
}

// SetDurations overwrites the stage durations, truncating to whole
// milliseconds.
func (s *HangoutStageState) SetDurations(d timeline.Durations) {
	s.AvailabilityMs = d.Availability.Milliseconds()
	s.SuggestionsMs = d.Suggestions.Milliseconds()
	s.VotingMs = d.Voting.Milliseconds()
}

type Member struct {
	Id          string
	HangoutId   string
	AccountId   sql.NullInt64
	GuestId     sql.NullString
	DisplayName string
	IsLeader    bool
	CreatedAt   time.Time
}

type AvailabilitySlot struct {
	Id        int
	HangoutId string
	MemberId  string
	StartsAt  time.Time
	EndsAt    time.Time
	CreatedAt time.Time
}

type Suggestion struct {
	Id        int
	HangoutId string
	MemberId  string
	Title     string
	Location  string
	StartsAt  time.Time
	EndsAt    time.Time
	Votes     int
	CreatedAt time.Time
}

type Vote struct {
	Id           int
	SuggestionId int
	MemberId     string
	CreatedAt    time.Time
}

type HangoutEvent struct {
	Id        int
	HangoutId string
	Body      string
	CreatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateHangoutParams struct {
	Id             string
	Title          string
	PasswordHash   sql.NullString
	Capacity       int
	AvailabilityMs int64
	SuggestionsMs  int64
	VotingMs       int64
	StageAnchor    time.Time
	Conclusion     time.Time
}

type CreateMemberParams struct {
	Id          string
	HangoutId   string
	AccountId   sql.NullInt64
	GuestId     sql.NullString
	DisplayName string
	IsLeader    bool
}

type CreateSlotParams struct {
	HangoutId string
	MemberId  string
	StartsAt  time.Time
	EndsAt    time.Time
}

type CreateSuggestionParams struct {
	HangoutId string
	MemberId  string
	Title     string
	Location  string
	StartsAt  time.Time
	EndsAt    time.Time
}
