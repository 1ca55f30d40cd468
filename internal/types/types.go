package types

import (
	"time"

	"github.com/hangout-app/hangout-server/internal/timeline"
)

// UserKind distinguishes registered accounts from guest users. A member is
// owned by exactly one of the two.
type UserKind string

const (
	UserKindAccount UserKind = "account"
	UserKindGuest   UserKind = "guest"
)

type Account struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Guest struct {
	Id          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type Member struct {
	Id          string    `json:"id"`
	HangoutId   string    `json:"hangout_id"`
	UserKind    UserKind  `json:"user_kind"`
	DisplayName string    `json:"display_name"`
	IsLeader    bool      `json:"is_leader"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

type Hangout struct {
	Id             string    `json:"id"`
	Title          string    `json:"title"`
	Protected      bool      `json:"protected"`
	Capacity       int       `json:"capacity"`
	AvailabilityMs int64     `json:"availability_ms"`
	SuggestionsMs  int64     `json:"suggestions_ms"`
	VotingMs       int64     `json:"voting_ms"`
	Stage          string    `json:"stage"`
	StageAnchor    time.Time `json:"stage_anchor"`
	Conclusion     time.Time `json:"conclusion"`
	IsConcluded    bool      `json:"is_concluded"`
	Members        []Member  `json:"members,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// Durations converts the wire-format millisecond counts to stage durations.
func (h Hangout) Durations() timeline.Durations {
	return timeline.Durations{
		Availability: time.Duration(h.AvailabilityMs) * time.Millisecond,
		Suggestions:  time.Duration(h.SuggestionsMs) * time.Millisecond,
		Voting:       time.Duration(h.VotingMs) * time.Millisecond,
	}
}

type AvailabilitySlot struct {
	Id        int       `json:"id"`
	HangoutId string    `json:"hangout_id"`
	MemberId  string    `json:"member_id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type Suggestion struct {
	Id        int       `json:"id"`
	HangoutId string    `json:"hangout_id"`
	MemberId  string    `json:"member_id"`
	Title     string    `json:"title"`
	Location  string    `json:"location,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Votes     int       `json:"votes"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type HangoutEvent struct {
	Id        int       `json:"id"`
	HangoutId string    `json:"hangout_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
