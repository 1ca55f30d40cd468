// Package engine applies the stage timeline to persisted hangout state. All
// mutations run inside a per-hangout transaction and the corresponding
// realtime broadcast is sent strictly after the transaction commits.
package engine

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hangout-app/hangout-server/internal/database"
	"github.com/hangout-app/hangout-server/internal/server"
	"github.com/hangout-app/hangout-server/internal/stats"
	"github.com/hangout-app/hangout-server/internal/timeline"
)

var (
	ErrNotLeader        = errors.New("requester is not the hangout leader")
	ErrHangoutConcluded = errors.New("hangout has concluded")
	ErrNoSuggestions    = errors.New("cannot enter voting with no suggestions")
)

// Notifier is the realtime fan-out port. The HangoutServer implements it.
type Notifier interface {
	NotifyHangout(hangoutId string, msg *server.ServerMessage)
}

type Engine struct {
	log      *log.Logger
	db       database.HangoutRepository
	notifier Notifier
	stats    stats.StatsProvider
	now      func() time.Time
}

func New(logger *log.Logger, db database.HangoutRepository, notifier Notifier, statsProvider stats.StatsProvider) *Engine {
	statsProvider.RegisterMetric("StageTransitions")
	statsProvider.RegisterMetric("TimelineCleanups")

	return &Engine{
		log:      logger,
		db:       db,
		notifier: notifier,
		stats:    statsProvider,
		now:      func() time.Time { return time.Now().UTC().Round(time.Millisecond) },
	}
}

// ProgressStage advances the hangout to the next stage immediately,
// discarding the remaining time in the current one. Only the leader may do
// this, and Suggestions cannot be left while the ballot would be empty.
func (e *Engine) ProgressStage(hangoutId, requesterMemberId string) (database.HangoutStageState, error) {
	var state database.HangoutStageState

	err := e.db.InHangoutTx(hangoutId, func(tx database.StageStore) error {
		s, err := tx.HangoutStageState(hangoutId)
		if err != nil {
			return err
		}

		if err := requireLeader(tx, requesterMemberId, hangoutId); err != nil {
			return err
		}

		if s.IsConcluded {
			return ErrHangoutConcluded
		}

		durs := s.Durations()
		now := e.now()

		// Advance from the stage the clock says we are in, not the
		// possibly stale persisted one.
		cur := timeline.StageAt(s.StageAnchor, durs, now)
		if cur == timeline.StageConcluded {
			return ErrHangoutConcluded
		}

		if cur == timeline.StageSuggestions {
			n, err := tx.CountSuggestions(hangoutId)
			if err != nil {
				return err
			}
			if n == 0 {
				return ErrNoSuggestions
			}
		}

		next, _ := cur.Next()
		anchor := timeline.AnchorForAdvance(durs, next, now)

		s.CurrentStage = next
		s.StageAnchor = anchor
		s.Conclusion = timeline.Conclusion(anchor, durs)
		s.IsConcluded = next == timeline.StageConcluded

		if err := tx.SaveHangoutStageState(s); err != nil {
			return err
		}

		if err := tx.AppendHangoutEvent(hangoutId, fmt.Sprintf("The leader moved the hangout to the %s stage.", next)); err != nil {
			return err
		}

		state = s
		return nil
	})
	if err != nil {
		return database.HangoutStageState{}, err
	}

	e.stats.Incr("StageTransitions")
	e.notifier.NotifyHangout(hangoutId, server.StageChangedMessage(state))

	return state, nil
}

// UpdateDurations reconfigures the stage durations. Slots and suggestions
// whose start no longer falls inside the hangout's lifetime window are
// deleted in the same transaction.
func (e *Engine) UpdateDurations(hangoutId, requesterMemberId string, durs timeline.Durations) (database.HangoutStageState, error) {
	if err := durs.Validate(); err != nil {
		return database.HangoutStageState{}, err
	}

	var (
		state   database.HangoutStageState
		removed int64
	)

	err := e.db.InHangoutTx(hangoutId, func(tx database.StageStore) error {
		s, err := tx.HangoutStageState(hangoutId)
		if err != nil {
			return err
		}

		if err := requireLeader(tx, requesterMemberId, hangoutId); err != nil {
			return err
		}

		if s.IsConcluded {
			return ErrHangoutConcluded
		}

		now := e.now()
		old := s.Durations()

		conclusion, err := timeline.RecomputeAfterChange(s.StageAnchor, old, durs, now)
		if err != nil {
			if errors.Is(err, timeline.ErrConcluded) {
				return ErrHangoutConcluded
			}
			return err
		}

		s.SetDurations(durs)
		s.Conclusion = conclusion
		s.CurrentStage = timeline.StageAt(s.StageAnchor, durs, now)
		s.IsConcluded = s.CurrentStage == timeline.StageConcluded

		if err := tx.SaveHangoutStageState(s); err != nil {
			return err
		}

		removed, err = tx.DeleteExpiredSlotsAndSuggestions(hangoutId, now, conclusion)
		if err != nil {
			return err
		}

		if err := tx.AppendHangoutEvent(hangoutId, fmt.Sprintf("The planning timeline changed; the hangout now concludes on %s.",
			conclusion.Format(time.RFC1123))); err != nil {
			return err
		}

		state = s
		return nil
	})
	if err != nil {
		return database.HangoutStageState{}, err
	}

	if removed > 0 {
		e.stats.Incr("TimelineCleanups")
		e.log.Printf("removed %d slots/suggestions outside the new timeline of hangout %q", removed, hangoutId)
	}
	e.notifier.NotifyHangout(hangoutId, server.TimelineChangedMessage(state, removed))

	return state, nil
}

// AutoProgress reconciles the persisted stage with the stage the clock says
// the hangout is in. It is safe to call redundantly; when nothing changed no
// write and no broadcast happens.
func (e *Engine) AutoProgress(hangoutId string) (database.HangoutStageState, bool, error) {
	var (
		state   database.HangoutStageState
		changed bool
	)

	err := e.db.InHangoutTx(hangoutId, func(tx database.StageStore) error {
		s, err := tx.HangoutStageState(hangoutId)
		if err != nil {
			return err
		}

		if s.IsConcluded {
			state = s
			return nil
		}

		cur := timeline.StageAt(s.StageAnchor, s.Durations(), e.now())
		if cur == s.CurrentStage && s.IsConcluded == (cur == timeline.StageConcluded) {
			state = s
			return nil
		}

		s.CurrentStage = cur
		s.IsConcluded = cur == timeline.StageConcluded

		if err := tx.SaveHangoutStageState(s); err != nil {
			return err
		}

		state = s
		changed = true
		return nil
	})
	if err != nil {
		return database.HangoutStageState{}, false, err
	}

	if changed {
		e.stats.Incr("StageTransitions")
		e.notifier.NotifyHangout(hangoutId, server.StageChangedMessage(state))
	}

	return state, changed, nil
}

func requireLeader(tx database.StageStore, memberId, hangoutId string) error {
	member, err := tx.Member(memberId)
	if err != nil {
		return err
	}

	if member.HangoutId != hangoutId || !member.IsLeader {
		return ErrNotLeader
	}

	return nil
}
