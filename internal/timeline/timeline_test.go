package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	day   = 24 * time.Hour
	start = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
)

func TestStageAt(t *testing.T) {
	durs := Durations{Availability: day, Suggestions: day, Voting: day}

	tcases := []struct {
		name     string
		now      time.Time
		expected Stage
	}{
		{
			name:     "midway through availability",
			now:      start.Add(12 * time.Hour),
			expected: StageAvailability,
		},
		{
			name:     "midway through suggestions",
			now:      start.Add(36 * time.Hour),
			expected: StageSuggestions,
		},
		{
			name:     "midway through voting",
			now:      start.Add(60 * time.Hour),
			expected: StageVoting,
		},
		{
			name:     "after conclusion",
			now:      start.Add(84 * time.Hour),
			expected: StageConcluded,
		},
		{
			name:     "exactly at anchor",
			now:      start,
			expected: StageAvailability,
		},
		{
			name:     "exactly at suggestions boundary",
			now:      start.Add(day),
			expected: StageSuggestions,
		},
		{
			name:     "exactly at voting boundary",
			now:      start.Add(2 * day),
			expected: StageVoting,
		},
		{
			name:     "exactly at conclusion",
			now:      start.Add(3 * day),
			expected: StageConcluded,
		},
		{
			name:     "one millisecond before conclusion",
			now:      start.Add(3*day - time.Millisecond),
			expected: StageVoting,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, StageAt(start, durs, tc.now), "expected stage %s at %s", tc.expected, tc.now)
		})
	}
}

func TestStageAt_Monotonic(t *testing.T) {
	durs := Durations{Availability: 2 * time.Hour, Suggestions: 5 * time.Hour, Voting: time.Hour}

	prev := StageAvailability
	for now := start; now.Before(start.Add(10 * time.Hour)); now = now.Add(7 * time.Minute) {
		cur := StageAt(start, durs, now)
		assert.GreaterOrEqual(t, cur, prev, "stage regressed at %s", now)
		prev = cur
	}
	assert.Equal(t, StageConcluded, prev, "expected the sweep to end concluded")
}

func TestBoundaries(t *testing.T) {
	durs := Durations{Availability: day, Suggestions: 2 * day, Voting: 3 * day}
	w := Boundaries(start, durs)

	assert.Equal(t, start, w.AvailabilityStart)
	assert.Equal(t, start.Add(day), w.SuggestionsStart)
	assert.Equal(t, start.Add(3*day), w.VotingStart)
	assert.Equal(t, start.Add(6*day), w.Conclusion)
	assert.Equal(t, Conclusion(start, durs), w.Conclusion, "expected Conclusion to agree with Boundaries")
}

func TestValidateDurations(t *testing.T) {
	tcases := []struct {
		name string
		durs Durations
		err  error
	}{
		{
			name: "valid",
			durs: Durations{Availability: day, Suggestions: day, Voting: day},
			err:  nil,
		},
		{
			name: "at minimum",
			durs: Durations{Availability: MinStageDuration, Suggestions: MinStageDuration, Voting: MinStageDuration},
			err:  nil,
		},
		{
			name: "at maximum",
			durs: Durations{Availability: MaxStageDuration, Suggestions: MaxStageDuration, Voting: MaxStageDuration},
			err:  nil,
		},
		{
			name: "below minimum",
			durs: Durations{Availability: 30 * time.Minute, Suggestions: day, Voting: day},
			err:  ErrInvalidDuration,
		},
		{
			name: "above maximum",
			durs: Durations{Availability: day, Suggestions: MaxStageDuration + time.Millisecond, Voting: day},
			err:  ErrInvalidDuration,
		},
		{
			name: "fractional milliseconds",
			durs: Durations{Availability: day + 500*time.Microsecond, Suggestions: day, Voting: day},
			err:  ErrFractionalDuration,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.durs.Validate()
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRecomputeAfterChange(t *testing.T) {
	old := Durations{Availability: day, Suggestions: day, Voting: day}

	tcases := []struct {
		name     string
		updated  Durations
		now      time.Time
		expected time.Time
		err      error
	}{
		{
			name:     "extend future stage during availability",
			updated:  Durations{Availability: day, Suggestions: 2 * day, Voting: day},
			now:      start.Add(12 * time.Hour),
			expected: start.Add(4 * day),
		},
		{
			name:     "shrink current stage above elapsed",
			updated:  Durations{Availability: 18 * time.Hour, Suggestions: day, Voting: day},
			now:      start.Add(12 * time.Hour),
			expected: start.Add(18*time.Hour + 2*day),
		},
		{
			name:    "shrink current stage below elapsed",
			updated: Durations{Availability: 6 * time.Hour, Suggestions: day, Voting: day},
			now:     start.Add(12 * time.Hour),
			err:     ErrCurrentStageTooShort,
		},
		{
			name:    "alter elapsed stage during suggestions",
			updated: Durations{Availability: 2 * day, Suggestions: day, Voting: day},
			now:     start.Add(36 * time.Hour),
			err:     ErrElapsedStageChanged,
		},
		{
			name:     "shrink voting from suggestions",
			updated:  Durations{Availability: day, Suggestions: day, Voting: 2 * time.Hour},
			now:      start.Add(36 * time.Hour),
			expected: start.Add(2*day + 2*time.Hour),
		},
		{
			name:    "already concluded",
			updated: Durations{Availability: day, Suggestions: day, Voting: day},
			now:     start.Add(4 * day),
			err:     ErrConcluded,
		},
		{
			name:    "invalid new duration",
			updated: Durations{Availability: time.Minute, Suggestions: day, Voting: day},
			now:     start.Add(time.Hour),
			err:     ErrInvalidDuration,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			conclusion, err := RecomputeAfterChange(start, old, tc.updated, tc.now)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, conclusion)
			assert.Equal(t, Conclusion(start, tc.updated), conclusion, "conclusion must equal anchor plus total durations")
		})
	}
}

func TestAnchorForAdvance(t *testing.T) {
	durs := Durations{Availability: day, Suggestions: day, Voting: day}
	now := start.Add(100 * time.Hour)

	tcases := []struct {
		name string
		next Stage
	}{
		{name: "into suggestions", next: StageSuggestions},
		{name: "into voting", next: StageVoting},
		{name: "into concluded", next: StageConcluded},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			anchor := AnchorForAdvance(durs, tc.next, now)
			w := Boundaries(anchor, durs)
			assert.Equal(t, now, w.Start(tc.next), "expected now to be the boundary into %s", tc.next)
			if tc.next != StageConcluded {
				assert.Equal(t, tc.next, StageAt(anchor, durs, now), "expected the recomputed anchor to place now in %s", tc.next)
			}
		})
	}
}

func TestParseStage(t *testing.T) {
	for _, s := range []Stage{StageAvailability, StageSuggestions, StageVoting, StageConcluded} {
		parsed, err := ParseStage(s.String())
		assert.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseStage("intermission")
	assert.Error(t, err, "expected unknown stage to be rejected")
}

func TestStageNext(t *testing.T) {
	next, ok := StageAvailability.Next()
	assert.True(t, ok)
	assert.Equal(t, StageSuggestions, next)

	next, ok = StageVoting.Next()
	assert.True(t, ok)
	assert.Equal(t, StageConcluded, next)

	_, ok = StageConcluded.Next()
	assert.False(t, ok, "expected concluded to be terminal")
}
