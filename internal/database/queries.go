package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hangout-app/hangout-server/internal/timeline"
)

const memberColumns = "id, hangout_id, account_id, guest_id, display_name, is_leader, created_at"

func (db *PgHangoutRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
		now,
	)

	var a Account
	err := res.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgHangoutRepository) GetAccountById(accountId int) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.PasswordHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgHangoutRepository) GetAccountByEmail(email string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.PasswordHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgHangoutRepository) CreateGuest(id, displayName string) (Guest, error) {
	res := db.conn.QueryRow(
		"INSERT INTO guests (id, display_name, created_at) VALUES ($1, $2, $3) "+
			"RETURNING id, display_name, created_at",
		id,
		displayName,
		time.Now().UTC(),
	)

	var g Guest
	err := res.Scan(&g.Id, &g.DisplayName, &g.CreatedAt)

	return g, err
}

func (db *PgHangoutRepository) GetGuestById(id string) (Guest, error) {
	row := db.conn.QueryRow(
		"SELECT id, display_name, created_at FROM guests WHERE id = $1 LIMIT 1",
		id,
	)

	var g Guest
	err := row.Scan(&g.Id, &g.DisplayName, &g.CreatedAt)

	return g, err
}

func (db *PgHangoutRepository) CreateHangout(params CreateHangoutParams) (Hangout, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO hangouts (id, title, password_hash, capacity, availability_ms, suggestions_ms, voting_ms, "+
			"stage_anchor, conclusion, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) "+
			"RETURNING id, title, password_hash, capacity, availability_ms, suggestions_ms, voting_ms, "+
			"current_stage, stage_anchor, conclusion, is_concluded, created_at, updated_at",
		params.Id,
		params.Title,
		params.PasswordHash,
		params.Capacity,
		params.AvailabilityMs,
		params.SuggestionsMs,
		params.VotingMs,
		params.StageAnchor,
		params.Conclusion,
		now,
		now,
	)

	return scanHangout(res)
}

func (db *PgHangoutRepository) GetHangoutById(id string) (Hangout, error) {
	row := db.conn.QueryRow(
		"SELECT id, title, password_hash, capacity, availability_ms, suggestions_ms, voting_ms, "+
			"current_stage, stage_anchor, conclusion, is_concluded, created_at, updated_at "+
			"FROM hangouts WHERE id = $1 LIMIT 1",
		id,
	)

	return scanHangout(row)
}

func scanHangout(row *sql.Row) (Hangout, error) {
	var (
		h     Hangout
		stage string
	)
	err := row.Scan(
		&h.Id,
		&h.Title,
		&h.PasswordHash,
		&h.Capacity,
		&h.AvailabilityMs,
		&h.SuggestionsMs,
		&h.VotingMs,
		&stage,
		&h.StageAnchor,
		&h.Conclusion,
		&h.IsConcluded,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		return Hangout{}, err
	}

	h.CurrentStage, err = parseStoredStage(stage)
	return h, err
}

func (db *PgHangoutRepository) DeleteHangout(id string) error {
	res, err := db.conn.Exec("DELETE FROM hangouts WHERE id = $1", id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgHangoutRepository) CreateMember(params CreateMemberParams) (Member, error) {
	res := db.conn.QueryRow(
		"INSERT INTO hangout_members (id, hangout_id, account_id, guest_id, display_name, is_leader, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING "+memberColumns,
		params.Id,
		params.HangoutId,
		params.AccountId,
		params.GuestId,
		params.DisplayName,
		params.IsLeader,
		time.Now().UTC(),
	)

	var m Member
	err := res.Scan(
		&m.Id,
		&m.HangoutId,
		&m.AccountId,
		&m.GuestId,
		&m.DisplayName,
		&m.IsLeader,
		&m.CreatedAt,
	)

	return m, err
}

func (db *PgHangoutRepository) GetMemberById(id string) (Member, error) {
	row := db.conn.QueryRow(
		"SELECT "+memberColumns+" FROM hangout_members WHERE id = $1 LIMIT 1",
		id,
	)

	var m Member
	err := row.Scan(
		&m.Id,
		&m.HangoutId,
		&m.AccountId,
		&m.GuestId,
		&m.DisplayName,
		&m.IsLeader,
		&m.CreatedAt,
	)

	return m, err
}

func (db *PgHangoutRepository) ListMembers(hangoutId string) ([]Member, error) {
	rows, err := db.conn.Query(
		"SELECT "+memberColumns+" FROM hangout_members WHERE hangout_id = $1 ORDER BY created_at",
		hangoutId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(
			&m.Id,
			&m.HangoutId,
			&m.AccountId,
			&m.GuestId,
			&m.DisplayName,
			&m.IsLeader,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}

		members = append(members, m)
	}

	return members, rows.Err()
}

func (db *PgHangoutRepository) CountMembers(hangoutId string) (int, error) {
	row := db.conn.QueryRow(
		"SELECT COUNT(*) FROM hangout_members WHERE hangout_id = $1",
		hangoutId,
	)

	var n int
	err := row.Scan(&n)

	return n, err
}

func (db *PgHangoutRepository) SetMemberLeader(id string, isLeader bool) error {
	res, err := db.conn.Exec("UPDATE hangout_members SET is_leader = $2 WHERE id = $1", id, isLeader)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgHangoutRepository) DeleteMember(id string) error {
	res, err := db.conn.Exec("DELETE FROM hangout_members WHERE id = $1", id)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (db *PgHangoutRepository) CreateSlot(params CreateSlotParams) (AvailabilitySlot, error) {
	res := db.conn.QueryRow(
		"INSERT INTO availability_slots (hangout_id, member_id, starts_at, ends_at, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, hangout_id, member_id, starts_at, ends_at, created_at",
		params.HangoutId,
		params.MemberId,
		params.StartsAt,
		params.EndsAt,
		time.Now().UTC(),
	)

	var s AvailabilitySlot
	err := res.Scan(&s.Id, &s.HangoutId, &s.MemberId, &s.StartsAt, &s.EndsAt, &s.CreatedAt)

	return s, err
}

func (db *PgHangoutRepository) ListSlots(hangoutId string) ([]AvailabilitySlot, error) {
	rows, err := db.conn.Query(
		"SELECT id, hangout_id, member_id, starts_at, ends_at, created_at "+
			"FROM availability_slots WHERE hangout_id = $1 ORDER BY starts_at",
		hangoutId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []AvailabilitySlot
	for rows.Next() {
		var s AvailabilitySlot
		if err := rows.Scan(&s.Id, &s.HangoutId, &s.MemberId, &s.StartsAt, &s.EndsAt, &s.CreatedAt); err != nil {
			return nil, err
		}

		slots = append(slots, s)
	}

	return slots, rows.Err()
}

func (db *PgHangoutRepository) CreateSuggestion(params CreateSuggestionParams) (Suggestion, error) {
	res := db.conn.QueryRow(
		"INSERT INTO suggestions (hangout_id, member_id, title, location, starts_at, ends_at, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7) "+
			"RETURNING id, hangout_id, member_id, title, location, starts_at, ends_at, created_at",
		params.HangoutId,
		params.MemberId,
		params.Title,
		params.Location,
		params.StartsAt,
		params.EndsAt,
		time.Now().UTC(),
	)

	var s Suggestion
	err := res.Scan(&s.Id, &s.HangoutId, &s.MemberId, &s.Title, &s.Location, &s.StartsAt, &s.EndsAt, &s.CreatedAt)

	return s, err
}

func (db *PgHangoutRepository) ListSuggestions(hangoutId string) ([]Suggestion, error) {
	rows, err := db.conn.Query(
		"SELECT s.id, s.hangout_id, s.member_id, s.title, s.location, s.starts_at, s.ends_at, s.created_at, "+
			"COUNT(v.id) FROM suggestions s LEFT JOIN votes v ON v.suggestion_id = s.id "+
			"WHERE s.hangout_id = $1 GROUP BY s.id ORDER BY s.starts_at",
		hangoutId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suggestions []Suggestion
	for rows.Next() {
		var s Suggestion
		if err := rows.Scan(
			&s.Id,
			&s.HangoutId,
			&s.MemberId,
			&s.Title,
			&s.Location,
			&s.StartsAt,
			&s.EndsAt,
			&s.CreatedAt,
			&s.Votes,
		); err != nil {
			return nil, err
		}

		suggestions = append(suggestions, s)
	}

	return suggestions, rows.Err()
}

func (db *PgHangoutRepository) CreateVote(hangoutId string, suggestionId int, memberId string) (Vote, error) {
	// The INSERT..SELECT yields no row when the suggestion is missing or
	// belongs to another hangout, which Scan surfaces as sql.ErrNoRows.
	res := db.conn.QueryRow(
		"INSERT INTO votes (suggestion_id, member_id, created_at) "+
			"SELECT s.id, $3, $4 FROM suggestions s WHERE s.id = $1 AND s.hangout_id = $2 "+
			"RETURNING id, suggestion_id, member_id, created_at",
		suggestionId,
		hangoutId,
		memberId,
		time.Now().UTC(),
	)

	var v Vote
	err := res.Scan(&v.Id, &v.SuggestionId, &v.MemberId, &v.CreatedAt)

	return v, err
}

func (db *PgHangoutRepository) AppendHangoutEvent(hangoutId, body string) error {
	_, err := db.conn.Exec(
		"INSERT INTO hangout_events (hangout_id, body, created_at) VALUES ($1, $2, $3)",
		hangoutId,
		body,
		time.Now().UTC(),
	)

	return err
}

func (db *PgHangoutRepository) ListHangoutEvents(hangoutId string) ([]HangoutEvent, error) {
	rows, err := db.conn.Query(
		"SELECT id, hangout_id, body, created_at FROM hangout_events "+
			"WHERE hangout_id = $1 ORDER BY created_at",
		hangoutId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []HangoutEvent
	for rows.Next() {
		var e HangoutEvent
		if err := rows.Scan(&e.Id, &e.HangoutId, &e.Body, &e.CreatedAt); err != nil {
			return nil, err
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// InHangoutTx serializes stage mutations per hangout: the StageStore it
// passes to fn reads the hangout row with FOR UPDATE, so a concurrent
// transition for the same hangout blocks until this transaction commits.
func (db *PgHangoutRepository) InHangoutTx(hangoutId string, fn func(StageStore) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}

	if err := fn(&pgStageStore{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

type pgStageStore struct {
	tx *sql.Tx
}

func (s *pgStageStore) HangoutStageState(hangoutId string) (HangoutStageState, error) {
	row := s.tx.QueryRow(
		"SELECT id, current_stage, stage_anchor, conclusion, availability_ms, suggestions_ms, voting_ms, is_concluded "+
			"FROM hangouts WHERE id = $1 FOR UPDATE",
		hangoutId,
	)

	var (
		state HangoutStageState
		stage string
	)
	err := row.Scan(
		&state.HangoutId,
		&stage,
		&state.StageAnchor,
		&state.Conclusion,
		&state.AvailabilityMs,
		&state.SuggestionsMs,
		&state.VotingMs,
		&state.IsConcluded,
	)
	if err != nil {
		return HangoutStageState{}, err
	}

	state.CurrentStage, err = parseStoredStage(stage)
	return state, err
}

func (s *pgStageStore) SaveHangoutStageState(state HangoutStageState) error {
	res, err := s.tx.Exec(
		"UPDATE hangouts SET current_stage = $2, stage_anchor = $3, conclusion = $4, "+
			"availability_ms = $5, suggestions_ms = $6, voting_ms = $7, is_concluded = $8, updated_at = $9 "+
			"WHERE id = $1",
		state.HangoutId,
		state.CurrentStage.String(),
		state.StageAnchor,
		state.Conclusion,
		state.AvailabilityMs,
		state.SuggestionsMs,
		state.VotingMs,
		state.IsConcluded,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}

func (s *pgStageStore) CountSuggestions(hangoutId string) (int, error) {
	row := s.tx.QueryRow("SELECT COUNT(*) FROM suggestions WHERE hangout_id = $1", hangoutId)

	var n int
	err := row.Scan(&n)

	return n, err
}

func (s *pgStageStore) DeleteExpiredSlotsAndSuggestions(hangoutId string, validFrom, validUntil time.Time) (int64, error) {
	var deleted int64

	res, err := s.tx.Exec(
		"DELETE FROM availability_slots WHERE hangout_id = $1 AND (starts_at < $2 OR starts_at > $3)",
		hangoutId,
		validFrom,
		validUntil,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	deleted += n

	res, err = s.tx.Exec(
		"DELETE FROM suggestions WHERE hangout_id = $1 AND (starts_at < $2 OR starts_at > $3)",
		hangoutId,
		validFrom,
		validUntil,
	)
	if err != nil {
		return 0, err
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, err
	}
	deleted += n

	return deleted, nil
}

func (s *pgStageStore) AppendHangoutEvent(hangoutId, body string) error {
	_, err := s.tx.Exec(
		"INSERT INTO hangout_events (hangout_id, body, created_at) VALUES ($1, $2, $3)",
		hangoutId,
		body,
		time.Now().UTC(),
	)

	return err
}

func (s *pgStageStore) Member(memberId string) (Member, error) {
	row := s.tx.QueryRow(
		"SELECT "+memberColumns+" FROM hangout_members WHERE id = $1 LIMIT 1",
		memberId,
	)

	var m Member
	err := row.Scan(
		&m.Id,
		&m.HangoutId,
		&m.AccountId,
		&m.GuestId,
		&m.DisplayName,
		&m.IsLeader,
		&m.CreatedAt,
	)

	return m, err
}

func parseStoredStage(stage string) (timeline.Stage, error) {
	st, err := timeline.ParseStage(stage)
	if err != nil {
		return st, fmt.Errorf("corrupt stage column: %w", err)
	}
	return st, nil
}
