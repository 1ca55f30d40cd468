package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockHangoutRepository struct {
	mock.Mock

	// Store is handed to the InHangoutTx callback so engine tests can set
	// expectations on the unit of work.
	Store StageStore
}

func (m *MockHangoutRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockHangoutRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockHangoutRepository) GetAccountById(accountId int) (Account, error) {
	args := m.Called(accountId)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockHangoutRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}
func (m *MockHangoutRepository) CreateGuest(id, displayName string) (Guest, error) {
	args := m.Called(id, displayName)
	return args.Get(0).(Guest), args.Error(1)
}
func (m *MockHangoutRepository) GetGuestById(id string) (Guest, error) {
	args := m.Called(id)
	return args.Get(0).(Guest), args.Error(1)
}
func (m *MockHangoutRepository) CreateHangout(params CreateHangoutParams) (Hangout, error) {
	args := m.Called(params)
	return args.Get(0).(Hangout), args.Error(1)
}
func (m *MockHangoutRepository) GetHangoutById(id string) (Hangout, error) {
	args := m.Called(id)
	return args.Get(0).(Hangout), args.Error(1)
}
func (m *MockHangoutRepository) DeleteHangout(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockHangoutRepository) CreateMember(params CreateMemberParams) (Member, error) {
	args := m.Called(params)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockHangoutRepository) GetMemberById(id string) (Member, error) {
	args := m.Called(id)
	return args.Get(0).(Member), args.Error(1)
}
func (m *MockHangoutRepository) ListMembers(hangoutId string) ([]Member, error) {
	args := m.Called(hangoutId)
	return args.Get(0).([]Member), args.Error(1)
}
func (m *MockHangoutRepository) CountMembers(hangoutId string) (int, error) {
	args := m.Called(hangoutId)
	return args.Int(0), args.Error(1)
}
func (m *MockHangoutRepository) DeleteMember(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockHangoutRepository) SetMemberLeader(id string, isLeader bool) error {
	args := m.Called(id, isLeader)
	return args.Error(0)
}
func (m *MockHangoutRepository) CreateSlot(params CreateSlotParams) (AvailabilitySlot, error) {
	args := m.Called(params)
	return args.Get(0).(AvailabilitySlot), args.Error(1)
}
func (m *MockHangoutRepository) ListSlots(hangoutId string) ([]AvailabilitySlot, error) {
	args := m.Called(hangoutId)
	return args.Get(0).([]AvailabilitySlot), args.Error(1)
}
func (m *MockHangoutRepository) CreateSuggestion(params CreateSuggestionParams) (Suggestion, error) {
	args := m.Called(params)
	return args.Get(0).(Suggestion), args.Error(1)
}
func (m *MockHangoutRepository) ListSuggestions(hangoutId string) ([]Suggestion, error) {
	args := m.Called(hangoutId)
	return args.Get(0).([]Suggestion), args.Error(1)
}
func (m *MockHangoutRepository) CreateVote(hangoutId string, suggestionId int, memberId string) (Vote, error) {
	args := m.Called(hangoutId, suggestionId, memberId)
	return args.Get(0).(Vote), args.Error(1)
}
func (m *MockHangoutRepository) AppendHangoutEvent(hangoutId, body string) error {
	args := m.Called(hangoutId, body)
	return args.Error(0)
}
func (m *MockHangoutRepository) ListHangoutEvents(hangoutId string) ([]HangoutEvent, error) {
	args := m.Called(hangoutId)
	return args.Get(0).([]HangoutEvent), args.Error(1)
}

// InHangoutTx runs fn against the mock's Store unless an error expectation
// is set on the call itself.
func (m *MockHangoutRepository) InHangoutTx(hangoutId string, fn func(StageStore) error) error {
	args := m.Called(hangoutId)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m.Store)
}

type MockStageStore struct {
	mock.Mock
}

func (m *MockStageStore) HangoutStageState(hangoutId string) (HangoutStageState, error) {
	args := m.Called(hangoutId)
	return args.Get(0).(HangoutStageState), args.Error(1)
}
func (m *MockStageStore) SaveHangoutStageState(state HangoutStageState) error {
	args := m.Called(state)
	return args.Error(0)
}
func (m *MockStageStore) CountSuggestions(hangoutId string) (int, error) {
	args := m.Called(hangoutId)
	return args.Int(0), args.Error(1)
}
func (m *MockStageStore) DeleteExpiredSlotsAndSuggestions(hangoutId string, validFrom, validUntil time.Time) (int64, error) {
	args := m.Called(hangoutId, validFrom, validUntil)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockStageStore) AppendHangoutEvent(hangoutId, body string) error {
	args := m.Called(hangoutId, body)
	return args.Error(0)
}
func (m *MockStageStore) Member(memberId string) (Member, error) {
	args := m.Called(memberId)
	return args.Get(0).(Member), args.Error(1)
}
