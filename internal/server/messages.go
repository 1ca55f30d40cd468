package server

import (
	"encoding/json"
	"time"

	"github.com/hangout-app/hangout-server/internal/database"
	"github.com/hangout-app/hangout-server/internal/types"
)

// Frame decode failure reasons reported back on the connection.
const (
	ReasonInvalidJson = "invalidJson"
	ReasonNotBuffer   = "notBuffer"
)

// ClientFrame is a single inbound message. The realtime channel is primarily
// server-to-client push; the only inbound command handled here is "ping".
type ClientFrame struct {
	Id   int             `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ServerMessage struct {
	Id           int           `json:"id,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	Success      *bool         `json:"success,omitempty"`
	Message      string        `json:"message,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type Notification struct {
	StageChanged    *StageChanged    `json:"stage_changed,omitempty"`
	TimelineChanged *TimelineChanged `json:"timeline_changed,omitempty"`
	SuggestionAdded *SuggestionAdded `json:"suggestion_added,omitempty"`
	SlotAdded       *SlotAdded       `json:"slot_added,omitempty"`
	VoteCast        *VoteCast        `json:"vote_cast,omitempty"`
	MemberChange    *MemberChange    `json:"member_change,omitempty"`
	HangoutDeleted  *HangoutDeleted  `json:"hangout_deleted,omitempty"`
}

type StageChanged struct {
	HangoutId   string    `json:"hangout_id"`
	Stage       string    `json:"stage"`
	StageAnchor time.Time `json:"stage_anchor"`
	Conclusion  time.Time `json:"conclusion"`
	IsConcluded bool      `json:"is_concluded"`
}

type TimelineChanged struct {
	HangoutId      string    `json:"hangout_id"`
	AvailabilityMs int64     `json:"availability_ms"`
	SuggestionsMs  int64     `json:"suggestions_ms"`
	VotingMs       int64     `json:"voting_ms"`
	Conclusion     time.Time `json:"conclusion"`
	RemovedItems   int64     `json:"removed_items"`
}

type SuggestionAdded struct {
	HangoutId  string           `json:"hangout_id"`
	Suggestion types.Suggestion `json:"suggestion"`
}

type SlotAdded struct {
	HangoutId string                 `json:"hangout_id"`
	Slot      types.AvailabilitySlot `json:"slot"`
}

type VoteCast struct {
	HangoutId    string `json:"hangout_id"`
	SuggestionId int    `json:"suggestion_id"`
	MemberId     string `json:"member_id"`
}

type MemberChange struct {
	HangoutId string       `json:"hangout_id"`
	Member    types.Member `json:"member"`
	Joined    bool         `json:"joined"`
}

type HangoutDeleted struct {
	HangoutId string `json:"hangout_id"`
}

func boolPtr(b bool) *bool { return &b }

func Ack(id int) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Timestamp: Now(),
		Success:   boolPtr(true),
	}
}

func ErrInvalidJson(id int) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Timestamp: Now(),
		Success:   boolPtr(false),
		Message:   "message is not valid JSON",
		Reason:    ReasonInvalidJson,
	}
}

func ErrNotBuffer(id int) *ServerMessage {
	return &ServerMessage{
		Id:        id,
		Timestamp: Now(),
		Success:   boolPtr(false),
		Message:   "message is not a text frame",
		Reason:    ReasonNotBuffer,
	}
}

// StageChangedMessage builds the broadcast for a persisted stage transition.
func StageChangedMessage(state database.HangoutStageState) *ServerMessage {
	return &ServerMessage{
		Timestamp: Now(),
		Notification: &Notification{
			StageChanged: &StageChanged{
				HangoutId:   state.HangoutId,
				Stage:       state.CurrentStage.String(),
				StageAnchor: state.StageAnchor,
				Conclusion:  state.Conclusion,
				IsConcluded: state.IsConcluded,
			},
		},
	}
}

// TimelineChangedMessage builds the broadcast for a duration reconfiguration.
func TimelineChangedMessage(state database.HangoutStageState, removed int64) *ServerMessage {
	return &ServerMessage{
		Timestamp: Now(),
		Notification: &Notification{
			TimelineChanged: &TimelineChanged{
				HangoutId:      state.HangoutId,
				AvailabilityMs: state.AvailabilityMs,
				SuggestionsMs:  state.SuggestionsMs,
				VotingMs:       state.VotingMs,
				Conclusion:     state.Conclusion,
				RemovedItems:   removed,
			},
		},
	}
}

func SuggestionAddedMessage(s types.Suggestion) *ServerMessage {
	return &ServerMessage{
		Timestamp: Now(),
		Notification: &Notification{
			SuggestionAdded: &SuggestionAdded{HangoutId: s.HangoutId, Suggestion: s},
		},
	}
}

func SlotAddedMessage(s types.AvailabilitySlot) *ServerMessage {
	return &ServerMessage{
		Timestamp: Now(),
		Notification: &Notification{
			SlotAdded: &SlotAdded{HangoutId: s.HangoutId, Slot: s},
		},
	}
}

func VoteCastMessage(hangoutId string, suggestionId int, memberId string) *ServerMessage {
	return &ServerMessage{
		Timestamp: Now(),
		Notification: &Notification{
			VoteCast: &VoteCast{HangoutId: hangoutId, SuggestionId: suggestionId, MemberId: memberId},
		},
	}
}

func MemberChangeMessage(m types.Member, joined bool) *ServerMessage {
	return &ServerMessage{
		Timestamp: Now(),
		Notification: &Notification{
			MemberChange: &MemberChange{HangoutId: m.HangoutId, Member: m, Joined: joined},
		},
	}
}

func HangoutDeletedMessage(hangoutId string) *ServerMessage {
	return &ServerMessage{
		Timestamp: Now(),
		Notification: &Notification{
			HangoutDeleted: &HangoutDeleted{HangoutId: hangoutId},
		},
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
