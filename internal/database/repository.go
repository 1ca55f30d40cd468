package database

import "time"

// HangoutRepository is the persistence surface of the application. The
// Postgres implementation lives in this package; tests use the testify mock.
type HangoutRepository interface {
	Ping() error

	CreateAccount(params CreateAccountParams) (Account, error)
	GetAccountById(accountId int) (Account, error)
	GetAccountByEmail(email string) (Account, error)

	CreateGuest(id, displayName string) (Guest, error)
	GetGuestById(id string) (Guest, error)

	CreateHangout(params CreateHangoutParams) (Hangout, error)
	GetHangoutById(id string) (Hangout, error)
	DeleteHangout(id string) error

	CreateMember(params CreateMemberParams) (Member, error)
	GetMemberById(id string) (Member, error)
	ListMembers(hangoutId string) ([]Member, error)
	CountMembers(hangoutId string) (int, error)
	DeleteMember(id string) error
	SetMemberLeader(id string, isLeader bool) error

	CreateSlot(params CreateSlotParams) (AvailabilitySlot, error)
	ListSlots(hangoutId string) ([]AvailabilitySlot, error)

	CreateSuggestion(params CreateSuggestionParams) (Suggestion, error)
	ListSuggestions(hangoutId string) ([]Suggestion, error)

	// CreateVote records memberId's vote on a suggestion, refusing
	// suggestions that do not belong to hangoutId.
	CreateVote(hangoutId string, suggestionId int, memberId string) (Vote, error)

	AppendHangoutEvent(hangoutId, body string) error
	ListHangoutEvents(hangoutId string) ([]HangoutEvent, error)

	// InHangoutTx runs fn inside a single transaction holding a row lock on
	// the hangout, so stage mutations for one hangout serialize. fn's error
	// aborts the transaction; nothing is partially applied.
	InHangoutTx(hangoutId string, fn func(StageStore) error) error
}

// StageStore is the unit-of-work port the stage transition engine operates
// against while holding the hangout row lock.
type StageStore interface {
	HangoutStageState(hangoutId string) (HangoutStageState, error)
	SaveHangoutStageState(state HangoutStageState) error
	CountSuggestions(hangoutId string) (int, error)
	// DeleteExpiredSlotsAndSuggestions removes every slot and suggestion
	// whose start falls outside [validFrom, validUntil] and returns how many
	// rows were deleted.
	DeleteExpiredSlotsAndSuggestions(hangoutId string, validFrom, validUntil time.Time) (int64, error)
	AppendHangoutEvent(hangoutId, body string) error
	Member(memberId string) (Member, error)
}
