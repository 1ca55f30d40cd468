package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hangout-app/hangout-server/internal/database"
	"github.com/hangout-app/hangout-server/internal/engine"
	"github.com/hangout-app/hangout-server/internal/server"
	"github.com/hangout-app/hangout-server/internal/timeline"
	"github.com/hangout-app/hangout-server/internal/types"
	"github.com/lib/pq"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type GuestRequest struct {
	DisplayName string `json:"display_name"`
}

type CreateHangoutRequest struct {
	Title          string `json:"title"`
	Password       string `json:"password"`
	Capacity       int    `json:"capacity"`
	AvailabilityMs int64  `json:"availability_ms"`
	SuggestionsMs  int64  `json:"suggestions_ms"`
	VotingMs       int64  `json:"voting_ms"`
	DisplayName    string `json:"display_name"`
}

type JoinHangoutRequest struct {
	HangoutId   string `json:"hangout_id"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LeaveHangoutRequest struct {
	HangoutId string `json:"hangout_id"`
}

type UpdateDurationsRequest struct {
	HangoutId      string `json:"hangout_id"`
	AvailabilityMs int64  `json:"availability_ms"`
	SuggestionsMs  int64  `json:"suggestions_ms"`
	VotingMs       int64  `json:"voting_ms"`
}

type ProgressStageRequest struct {
	HangoutId string `json:"hangout_id"`
}

type CreateSlotRequest struct {
	HangoutId string    `json:"hangout_id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
}

type CreateSuggestionRequest struct {
	HangoutId string    `json:"hangout_id"`
	Title     string    `json:"title"`
	Location  string    `json:"location"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
}

type CreateVoteRequest struct {
	HangoutId    string `json:"hangout_id"`
	SuggestionId int    `json:"suggestion_id"`
}

type SessionResponse struct {
	Kind    types.UserKind `json:"kind"`
	Account *types.Account `json:"account,omitempty"`
	Guest   *types.Guest   `json:"guest,omitempty"`
}

type CreateHangoutResponse struct {
	Hangout types.Hangout `json:"hangout"`
	Member  types.Member  `json:"member"`
}

// StageStateResponse is the timeline snapshot returned by the stage
// mutation endpoints.
type StageStateResponse struct {
	HangoutId      string    `json:"hangout_id"`
	Stage          string    `json:"stage"`
	StageAnchor    time.Time `json:"stage_anchor"`
	Conclusion     time.Time `json:"conclusion"`
	AvailabilityMs int64     `json:"availability_ms"`
	SuggestionsMs  int64     `json:"suggestions_ms"`
	VotingMs       int64     `json:"voting_ms"`
	IsConcluded    bool      `json:"is_concluded"`
}

func stageStateResponse(state database.HangoutStageState) StageStateResponse {
	return StageStateResponse{
		HangoutId:      state.HangoutId,
		Stage:          state.CurrentStage.String(),
		StageAnchor:    state.StageAnchor,
		Conclusion:     state.Conclusion,
		AvailabilityMs: state.AvailabilityMs,
		SuggestionsMs:  state.SuggestionsMs,
		VotingMs:       state.VotingMs,
		IsConcluded:    state.IsConcluded,
	}
}

func (s *HangoutApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// apiErrorFor translates engine and storage errors into HTTP responses.
func apiErrorFor(err error) *ApiError {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return NewNotFoundError()
	case errors.Is(err, engine.ErrNotLeader):
		return NewForbiddenError()
	case errors.Is(err, engine.ErrHangoutConcluded):
		return NewConflictError(ReasonHangoutConcluded)
	case errors.Is(err, engine.ErrNoSuggestions):
		return NewConflictError(ReasonNoSuggestions)
	case errors.Is(err, timeline.ErrElapsedStageChanged),
		errors.Is(err, timeline.ErrCurrentStageTooShort):
		return NewConflictError(ReasonStageElapsed)
	case errors.Is(err, timeline.ErrInvalidDuration),
		errors.Is(err, timeline.ErrFractionalDuration):
		return NewInvalidDurationsError()
	}

	return NewInternalServerError(err)
}

func apiMember(m database.Member) types.Member {
	kind := types.UserKindAccount
	if m.GuestId.Valid {
		kind = types.UserKindGuest
	}

	return types.Member{
		Id:          m.Id,
		HangoutId:   m.HangoutId,
		UserKind:    kind,
		DisplayName: m.DisplayName,
		IsLeader:    m.IsLeader,
		CreatedAt:   m.CreatedAt,
	}
}

// memberForCaller resolves the caller's membership row in a hangout.
// Returns sql.ErrNoRows when the caller is not a member.
func (s *HangoutApp) memberForCaller(hangoutId string, c Caller) (database.Member, error) {
	members, err := s.db.ListMembers(hangoutId)
	if err != nil {
		return database.Member{}, err
	}

	for _, m := range members {
		if callerOwnsMember(c, m) {
			return m, nil
		}
	}

	return database.Member{}, sql.ErrNoRows
}

// hangoutStage returns the hangout's current stage state, first applying
// any transitions the clock has already passed.
func (s *HangoutApp) hangoutStage(hangoutId string) (database.HangoutStageState, *ApiError) {
	state, _, err := s.engine.AutoProgress(hangoutId)
	if err != nil {
		return database.HangoutStageState{}, apiErrorFor(err)
	}

	return state, nil
}

func (s *HangoutApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Account{
		Id:           newUser.Id,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
		CreatedAt:    newUser.CreatedAt,
		UpdatedAt:    newUser.UpdatedAt,
	})
}

func (s *HangoutApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller := Caller{Kind: types.UserKindAccount, AccountId: dbUser.Id}
	token, err := createJwtForSession(caller, s.signingKey, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, types.Account{
		Id:           dbUser.Id,
		Username:     dbUser.Username,
		EmailAddress: dbUser.EmailAddress,
		CreatedAt:    dbUser.CreatedAt,
		UpdatedAt:    dbUser.UpdatedAt,
	})
}

// createGuest mints an ephemeral identity so invitees can participate
// without registering.
func (s *HangoutApp) createGuest(w http.ResponseWriter, r *http.Request) {
	var req GuestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.DisplayName == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	guest, err := s.db.CreateGuest(uuid.NewString(), req.DisplayName)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller := Caller{Kind: types.UserKindGuest, GuestId: guest.Id}
	token, err := createJwtForSession(caller, s.signingKey, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusCreated, types.Guest{
		Id:          guest.Id,
		DisplayName: guest.DisplayName,
		CreatedAt:   guest.CreatedAt,
	})
}

func (s *HangoutApp) session(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := SessionResponse{Kind: caller.Kind}

	switch caller.Kind {
	case types.UserKindAccount:
		user, err := s.db.GetAccountById(caller.AccountId)
		if err != nil {
			errResp := apiErrorFor(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		resp.Account = &types.Account{
			Id:           user.Id,
			Username:     user.Username,
			EmailAddress: user.EmailAddress,
			CreatedAt:    user.CreatedAt,
			UpdatedAt:    user.UpdatedAt,
		}
	case types.UserKindGuest:
		guest, err := s.db.GetGuestById(caller.GuestId)
		if err != nil {
			errResp := apiErrorFor(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		resp.Guest = &types.Guest{
			Id:          guest.Id,
			DisplayName: guest.DisplayName,
			CreatedAt:   guest.CreatedAt,
		}
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *HangoutApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *HangoutApp) createHangout(w http.ResponseWriter, r *http.Request) {
	var req CreateHangoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Title == "" || req.DisplayName == "" || req.Capacity < 2 || req.Capacity > 20 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	durs := timeline.Durations{
		Availability: time.Duration(req.AvailabilityMs) * time.Millisecond,
		Suggestions:  time.Duration(req.SuggestionsMs) * time.Millisecond,
		Voting:       time.Duration(req.VotingMs) * time.Millisecond,
	}
	if err := durs.Validate(); err != nil {
		errResp := NewInvalidDurationsError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	hangoutId, err := s.generateHangoutId()
	if err != nil {
		s.log.Print("generateHangoutId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var pwdHash sql.NullString
	if req.Password != "" {
		hash, err := hashPassword(req.Password)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		pwdHash = sql.NullString{String: hash, Valid: true}
	}

	anchor := s.now()
	params := database.CreateHangoutParams{
		Id:             hangoutId,
		Title:          req.Title,
		PasswordHash:   pwdHash,
		Capacity:       req.Capacity,
		AvailabilityMs: req.AvailabilityMs,
		SuggestionsMs:  req.SuggestionsMs,
		VotingMs:       req.VotingMs,
		StageAnchor:    anchor,
		Conclusion:     timeline.Conclusion(anchor, durs),
	}

	newHangout, err := s.db.CreateHangout(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.db.CreateMember(memberParams(newHangout.Id, caller, req.DisplayName, true))
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.AppendHangoutEvent(newHangout.Id, req.DisplayName+" created the hangout."); err != nil {
		s.log.Printf("append hangout event: %v", err)
	}

	s.stats.Incr("HangoutsCreated")
	s.writeJson(w, http.StatusCreated, CreateHangoutResponse{
		Hangout: apiHangout(newHangout, []database.Member{member}),
		Member:  apiMember(member),
	})
}

func memberParams(hangoutId string, c Caller, displayName string, isLeader bool) database.CreateMemberParams {
	params := database.CreateMemberParams{
		Id:          uuid.NewString(),
		HangoutId:   hangoutId,
		DisplayName: displayName,
		IsLeader:    isLeader,
	}

	switch c.Kind {
	case types.UserKindAccount:
		params.AccountId = sql.NullInt64{Int64: int64(c.AccountId), Valid: true}
	case types.UserKindGuest:
		params.GuestId = sql.NullString{String: c.GuestId, Valid: true}
	}

	return params
}

func apiHangout(h database.Hangout, members []database.Member) types.Hangout {
	out := types.Hangout{
		Id:             h.Id,
		Title:          h.Title,
		Protected:      h.PasswordHash.Valid,
		Capacity:       h.Capacity,
		AvailabilityMs: h.AvailabilityMs,
		SuggestionsMs:  h.SuggestionsMs,
		VotingMs:       h.VotingMs,
		Stage:          h.CurrentStage.String(),
		StageAnchor:    h.StageAnchor,
		Conclusion:     h.Conclusion,
		IsConcluded:    h.IsConcluded,
		CreatedAt:      h.CreatedAt,
		UpdatedAt:      h.UpdatedAt,
	}

	for _, m := range members {
		out.Members = append(out.Members, apiMember(m))
	}

	return out
}

func (s *HangoutApp) getHangout(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	hangoutId := r.URL.Query().Get("id")
	if hangoutId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, errResp := s.hangoutStage(hangoutId); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	hangout, err := s.db.GetHangoutById(hangoutId)
	if err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	members, err := s.db.ListMembers(hangoutId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	isMember := false
	for _, m := range members {
		if callerOwnsMember(caller, m) {
			isMember = true
			break
		}
	}

	// non-members see the public shell only, enough to decide to join
	if !isMember {
		members = nil
	}

	s.writeJson(w, http.StatusOK, apiHangout(hangout, members))
}

func (s *HangoutApp) deleteHangout(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	hangoutId := r.URL.Query().Get("id")
	if hangoutId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.memberForCaller(hangoutId, caller)
	if err != nil || !member.IsLeader {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteHangout(hangoutId); err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.hs.NotifyHangout(hangoutId, server.HangoutDeletedMessage(hangoutId))
	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *HangoutApp) joinHangout(w http.ResponseWriter, r *http.Request) {
	var req JoinHangoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.HangoutId == "" || req.DisplayName == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	state, errResp := s.hangoutStage(req.HangoutId)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if state.IsConcluded {
		errResp := NewConflictError(ReasonHangoutConcluded)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	hangout, err := s.db.GetHangoutById(req.HangoutId)
	if err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// joining twice is a no-op returning the existing membership
	if existing, err := s.memberForCaller(req.HangoutId, caller); err == nil {
		s.writeJson(w, http.StatusOK, apiMember(existing))
		return
	}

	if hangout.PasswordHash.Valid && !verifyPassword(hangout.PasswordHash.String, req.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	count, err := s.db.CountMembers(req.HangoutId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if count >= hangout.Capacity {
		errResp := NewConflictError(ReasonHangoutFull)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.db.CreateMember(memberParams(req.HangoutId, caller, req.DisplayName, false))
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.AppendHangoutEvent(req.HangoutId, req.DisplayName+" joined the hangout."); err != nil {
		s.log.Printf("append hangout event: %v", err)
	}

	s.stats.Incr("MembersJoined")
	s.hs.NotifyHangout(req.HangoutId, server.MemberChangeMessage(apiMember(member), true))
	s.writeJson(w, http.StatusCreated, apiMember(member))
}

func (s *HangoutApp) leaveHangout(w http.ResponseWriter, r *http.Request) {
	var req LeaveHangoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.memberForCaller(req.HangoutId, caller)
	if err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteMember(member.Id); err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// leadership passes to the longest-standing remaining member
	if member.IsLeader {
		remaining, err := s.db.ListMembers(req.HangoutId)
		if err != nil {
			s.log.Printf("list members: %v", err)
		} else if len(remaining) > 0 {
			if err := s.db.SetMemberLeader(remaining[0].Id, true); err != nil {
				s.log.Printf("transfer leadership: %v", err)
			}
		}
	}

	if err := s.db.AppendHangoutEvent(req.HangoutId, member.DisplayName+" left the hangout."); err != nil {
		s.log.Printf("append hangout event: %v", err)
	}

	s.hs.NotifyHangout(req.HangoutId, server.MemberChangeMessage(apiMember(member), false))
	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *HangoutApp) updateStageDurations(w http.ResponseWriter, r *http.Request) {
	var req UpdateDurationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.memberForCaller(req.HangoutId, caller)
	if err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	durs := timeline.Durations{
		Availability: time.Duration(req.AvailabilityMs) * time.Millisecond,
		Suggestions:  time.Duration(req.SuggestionsMs) * time.Millisecond,
		Voting:       time.Duration(req.VotingMs) * time.Millisecond,
	}

	state, err := s.engine.UpdateDurations(req.HangoutId, member.Id, durs)
	if err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, stageStateResponse(state))
}

func (s *HangoutApp) progressStage(w http.ResponseWriter, r *http.Request) {
	var req ProgressStageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.memberForCaller(req.HangoutId, caller)
	if err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	state, err := s.engine.ProgressStage(req.HangoutId, member.Id)
	if err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, stageStateResponse(state))
}

// validateWindow checks a proposed slot or suggestion window against the
// hangout's scheduling horizon.
func (s *HangoutApp) validateWindow(state database.HangoutStageState, startsAt, endsAt time.Time) bool {
	now := s.now()
	horizon := state.Conclusion.Add(timeline.SchedulingHorizon)

	return !startsAt.Before(now) && endsAt.After(startsAt) && !startsAt.After(horizon)
}

func (s *HangoutApp) createSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.memberForCaller(req.HangoutId, caller)
	if err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	state, errResp := s.hangoutStage(req.HangoutId)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if state.IsConcluded {
		errResp := NewConflictError(ReasonHangoutConcluded)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if state.CurrentStage != timeline.StageAvailability {
		errResp := NewConflictError(ReasonWrongStage)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.validateWindow(state, req.StartsAt, req.EndsAt) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	slot, err := s.db.CreateSlot(database.CreateSlotParams{
		HangoutId: req.HangoutId,
		MemberId:  member.Id,
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	apiSlot := types.AvailabilitySlot{
		Id:        slot.Id,
		HangoutId: slot.HangoutId,
		MemberId:  slot.MemberId,
		StartsAt:  slot.StartsAt,
		EndsAt:    slot.EndsAt,
		CreatedAt: slot.CreatedAt,
	}

	s.hs.NotifyHangout(req.HangoutId, server.SlotAddedMessage(apiSlot))
	s.writeJson(w, http.StatusCreated, apiSlot)
}

func (s *HangoutApp) listSlots(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	hangoutId := r.URL.Query().Get("hangout_id")
	if hangoutId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.memberForCaller(hangoutId, caller); err != nil {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, errResp := s.hangoutStage(hangoutId); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbSlots, err := s.db.ListSlots(hangoutId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var slots []types.AvailabilitySlot
	for _, slot := range dbSlots {
		slots = append(slots, types.AvailabilitySlot{
			Id:        slot.Id,
			HangoutId: slot.HangoutId,
			MemberId:  slot.MemberId,
			StartsAt:  slot.StartsAt,
			EndsAt:    slot.EndsAt,
			CreatedAt: slot.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, slots)
}

func (s *HangoutApp) createSuggestion(w http.ResponseWriter, r *http.Request) {
	var req CreateSuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Title == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.memberForCaller(req.HangoutId, caller)
	if err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	state, errResp := s.hangoutStage(req.HangoutId)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if state.IsConcluded {
		errResp := NewConflictError(ReasonHangoutConcluded)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if state.CurrentStage != timeline.StageSuggestions {
		errResp := NewConflictError(ReasonWrongStage)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.validateWindow(state, req.StartsAt, req.EndsAt) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	suggestion, err := s.db.CreateSuggestion(database.CreateSuggestionParams{
		HangoutId: req.HangoutId,
		MemberId:  member.Id,
		Title:     req.Title,
		Location:  req.Location,
		StartsAt:  req.StartsAt,
		EndsAt:    req.EndsAt,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	apiSuggestion := types.Suggestion{
		Id:        suggestion.Id,
		HangoutId: suggestion.HangoutId,
		MemberId:  suggestion.MemberId,
		Title:     suggestion.Title,
		Location:  suggestion.Location,
		StartsAt:  suggestion.StartsAt,
		EndsAt:    suggestion.EndsAt,
		CreatedAt: suggestion.CreatedAt,
	}

	s.hs.NotifyHangout(req.HangoutId, server.SuggestionAddedMessage(apiSuggestion))
	s.writeJson(w, http.StatusCreated, apiSuggestion)
}

func (s *HangoutApp) listSuggestions(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	hangoutId := r.URL.Query().Get("hangout_id")
	if hangoutId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.memberForCaller(hangoutId, caller); err != nil {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, errResp := s.hangoutStage(hangoutId); errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbSuggestions, err := s.db.ListSuggestions(hangoutId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var suggestions []types.Suggestion
	for _, sg := range dbSuggestions {
		suggestions = append(suggestions, types.Suggestion{
			Id:        sg.Id,
			HangoutId: sg.HangoutId,
			MemberId:  sg.MemberId,
			Title:     sg.Title,
			Location:  sg.Location,
			StartsAt:  sg.StartsAt,
			EndsAt:    sg.EndsAt,
			Votes:     sg.Votes,
			CreatedAt: sg.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, suggestions)
}

func (s *HangoutApp) createVote(w http.ResponseWriter, r *http.Request) {
	var req CreateVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	member, err := s.memberForCaller(req.HangoutId, caller)
	if err != nil {
		errResp := apiErrorFor(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	state, errResp := s.hangoutStage(req.HangoutId)
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if state.IsConcluded {
		errResp := NewConflictError(ReasonHangoutConcluded)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if state.CurrentStage != timeline.StageVoting {
		errResp := NewConflictError(ReasonWrongStage)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	vote, err := s.db.CreateVote(req.HangoutId, req.SuggestionId, member.Id)
	if err != nil {
		var pqErr *pq.Error
		var errResp *ApiError
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			errResp = NewConflictError(ReasonAlreadyVoted)
		} else {
			errResp = apiErrorFor(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.hs.NotifyHangout(req.HangoutId, server.VoteCastMessage(req.HangoutId, vote.SuggestionId, vote.MemberId))
	s.writeJson(w, http.StatusCreated, map[string]int{"suggestion_id": vote.SuggestionId})
}

func (s *HangoutApp) getEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	hangoutId := r.URL.Query().Get("hangout_id")
	if hangoutId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.memberForCaller(hangoutId, caller); err != nil {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbEvents, err := s.db.ListHangoutEvents(hangoutId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var events []types.HangoutEvent
	for _, e := range dbEvents {
		events = append(events, types.HangoutEvent{
			Id:        e.Id,
			HangoutId: e.HangoutId,
			Body:      e.Body,
			CreatedAt: e.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, events)
}

func (s *HangoutApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Printf("health check: %v", err)
		s.writeJson(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}
