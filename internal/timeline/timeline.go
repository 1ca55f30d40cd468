// Package timeline implements the stage arithmetic for a hangout's planning
// lifecycle. All computations are pure functions of the stage anchor, the
// configured stage durations and a caller-supplied "now", so both the
// transition engine and its tests share a single source of truth for stage
// boundaries.
package timeline

import (
	"errors"
	"fmt"
	"time"
)

// Stage is one of the ordered planning phases of a hangout.
type Stage int

const (
	StageAvailability Stage = iota
	StageSuggestions
	StageVoting
	StageConcluded
)

const (
	// MinStageDuration and MaxStageDuration bound each stage duration
	// individually; there is no relational constraint between stages.
	MinStageDuration = time.Hour
	MaxStageDuration = 30 * 24 * time.Hour

	// SchedulingHorizon is the furthest a slot or suggestion may be
	// scheduled past the hangout's conclusion.
	SchedulingHorizon = 183 * 24 * time.Hour
)

var (
	ErrInvalidDuration      = errors.New("stage duration out of bounds")
	ErrFractionalDuration   = errors.New("stage duration must be whole milliseconds")
	ErrElapsedStageChanged  = errors.New("cannot change the duration of an elapsed stage")
	ErrCurrentStageTooShort = errors.New("current stage duration shorter than time already elapsed")
	ErrConcluded            = errors.New("hangout has concluded")
)

func (s Stage) String() string {
	switch s {
	case StageAvailability:
		return "availability"
	case StageSuggestions:
		return "suggestions"
	case StageVoting:
		return "voting"
	case StageConcluded:
		return "concluded"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseStage converts a stored stage name back to a Stage.
func ParseStage(s string) (Stage, error) {
	switch s {
	case "availability":
		return StageAvailability, nil
	case "suggestions":
		return StageSuggestions, nil
	case "voting":
		return StageVoting, nil
	case "concluded":
		return StageConcluded, nil
	default:
		return 0, fmt.Errorf("unknown stage %q", s)
	}
}

// Next returns the stage following s. The second return value is false when
// s is already the terminal stage.
func (s Stage) Next() (Stage, bool) {
	if s >= StageConcluded {
		return StageConcluded, false
	}
	return s + 1, true
}

// Durations holds the configured length of each timed stage.
type Durations struct {
	Availability time.Duration
	Suggestions  time.Duration
	Voting       time.Duration
}

// Of returns the configured duration of a timed stage. The concluded stage
// has no duration.
func (d Durations) Of(s Stage) time.Duration {
	switch s {
	case StageAvailability:
		return d.Availability
	case StageSuggestions:
		return d.Suggestions
	case StageVoting:
		return d.Voting
	default:
		return 0
	}
}

func (d Durations) Total() time.Duration {
	return d.Availability + d.Suggestions + d.Voting
}

// Validate checks each duration against the per-stage bounds and rejects
// durations with a sub-millisecond component.
func (d Durations) Validate() error {
	for _, dur := range []time.Duration{d.Availability, d.Suggestions, d.Voting} {
		if dur%time.Millisecond != 0 {
			return ErrFractionalDuration
		}
		if dur < MinStageDuration || dur > MaxStageDuration {
			return ErrInvalidDuration
		}
	}
	return nil
}

// Windows holds the derived stage boundaries for a given anchor and set of
// durations. Each stage's window is half-open: [start, end).
type Windows struct {
	AvailabilityStart time.Time
	SuggestionsStart  time.Time
	VotingStart       time.Time
	Conclusion        time.Time
}

// Boundaries computes every stage boundary from the anchor.
func Boundaries(anchor time.Time, d Durations) Windows {
	suggestionsStart := anchor.Add(d.Availability)
	votingStart := suggestionsStart.Add(d.Suggestions)
	return Windows{
		AvailabilityStart: anchor,
		SuggestionsStart:  suggestionsStart,
		VotingStart:       votingStart,
		Conclusion:        votingStart.Add(d.Voting),
	}
}

// Start returns the instant stage s opens.
func (w Windows) Start(s Stage) time.Time {
	switch s {
	case StageAvailability:
		return w.AvailabilityStart
	case StageSuggestions:
		return w.SuggestionsStart
	case StageVoting:
		return w.VotingStart
	default:
		return w.Conclusion
	}
}

// StageAt returns the stage whose window contains now.
func StageAt(anchor time.Time, d Durations, now time.Time) Stage {
	w := Boundaries(anchor, d)
	switch {
	case now.Before(w.SuggestionsStart):
		return StageAvailability
	case now.Before(w.VotingStart):
		return StageSuggestions
	case now.Before(w.Conclusion):
		return StageVoting
	default:
		return StageConcluded
	}
}

// Conclusion returns the instant the hangout's planning ends.
func Conclusion(anchor time.Time, d Durations) time.Time {
	return anchor.Add(d.Total())
}

// RecomputeAfterChange validates a duration reconfiguration against the time
// already spent in the hangout and returns the new conclusion timestamp.
//
// A stage whose window has fully elapsed can no longer be altered, and the
// current stage cannot be made shorter than the time already spent in it.
// The anchor is unchanged by a reconfiguration, so on success the conclusion
// is simply anchor + the new total.
func RecomputeAfterChange(anchor time.Time, old, updated Durations, now time.Time) (time.Time, error) {
	if err := updated.Validate(); err != nil {
		return time.Time{}, err
	}

	cur := StageAt(anchor, old, now)
	if cur == StageConcluded {
		return time.Time{}, ErrConcluded
	}

	for s := StageAvailability; s < cur; s++ {
		if old.Of(s) != updated.Of(s) {
			return time.Time{}, ErrElapsedStageChanged
		}
	}

	elapsed := now.Sub(Boundaries(anchor, old).Start(cur))
	if updated.Of(cur) < elapsed {
		return time.Time{}, ErrCurrentStageTooShort
	}

	return Conclusion(anchor, updated), nil
}

// AnchorForAdvance computes the anchor that makes now the boundary into
// next, preserving the configured durations of the remaining stages. The
// durations of the skipped stages are not prorated; the original configured
// values are subtracted wholesale.
func AnchorForAdvance(d Durations, next Stage, now time.Time) time.Time {
	anchor := now
	for s := StageAvailability; s < next; s++ {
		anchor = anchor.Add(-d.Of(s))
	}
	return anchor
}
