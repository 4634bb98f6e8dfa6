package shutter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mj41/ha-modbus-windows-shutter/internal/bridges/modbus"
)

// EventKind discriminates timeline events.
type EventKind uint8

// Timeline event kinds.
const (
	// KindSetState replaces the set of energised relays.
	KindSetState EventKind = iota

	// KindDelay holds the current state for a duration.
	KindDelay
)

// Event is one entry of a compiled timeline: either a relay state change
// or a wait.
type Event struct {
	Kind EventKind

	// Relays is the sorted set of energised relays. KindSetState only.
	Relays []int

	// Duration is the wait length. KindDelay only.
	Duration time.Duration
}

// SetState builds a state-change event. The relay set is copied and sorted
// so timelines compare deterministically.
func SetState(relays ...int) Event {
	sorted := make([]int, len(relays))
	copy(sorted, relays)
	sort.Ints(sorted)
	return Event{Kind: KindSetState, Relays: sorted}
}

// Delay builds a wait event.
func Delay(d time.Duration) Event {
	return Event{Kind: KindDelay, Duration: d}
}

// String renders an event for logs.
func (e Event) String() string {
	if e.Kind == KindDelay {
		return fmt.Sprintf("delay(%s)", e.Duration)
	}
	if len(e.Relays) == 0 {
		return "set()"
	}
	parts := make([]string, len(e.Relays))
	for i, r := range e.Relays {
		parts[i] = fmt.Sprintf("%d", r)
	}
	return fmt.Sprintf("set(%s)", strings.Join(parts, ","))
}

// Timeline is the compiled, minimal ordered sequence of events realising
// one action across one or more shutters.
//
// Invariants maintained by Compile:
//   - never starts with a delay
//   - no two consecutive state changes
//   - no zero-length delays
//   - if any relay was energised, the final event returns all relays to off
type Timeline []Event

// Total returns the summed delay time — the horizon of the timeline.
func (t Timeline) Total() time.Duration {
	var total time.Duration
	for _, e := range t {
		if e.Kind == KindDelay {
			total += e.Duration
		}
	}
	return total
}

// String renders the timeline for logs.
func (t Timeline) String() string {
	parts := make([]string, len(t))
	for i, e := range t {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// interval is one relay activation window on the shared global clock.
// Half-open: the relay is energised for start <= t < end.
type interval struct {
	start, end time.Duration
	relay      int
}

// Compile merges the given sequences into a single minimal timeline.
//
// All sequences start simultaneously at time zero; this is what lets the
// shutters of a group move in parallel within one compiled action. The
// sweep works on the union of all interval boundaries, so the result
// reconstructs, at every instant, exactly the union of relays that should
// be energised.
//
// Compile is pure: no I/O, no logging, same inputs always yield the same
// timeline. Steps with out-of-range relay numbers or negative durations
// are dropped defensively; their time still elapses so later steps of the
// same sequence keep their offsets.
//
// An empty input (or one with zero total activity) yields an empty
// timeline.
func Compile(seqs []Sequence) Timeline {
	intervals, horizon := expand(seqs)
	if horizon == 0 {
		return Timeline{}
	}

	points := breakpoints(intervals, horizon)

	var timeline Timeline
	var lastState []int
	haveState := false

	for i := 0; i+1 < len(points); i++ {
		span := points[i+1] - points[i]
		if span <= 0 {
			continue
		}

		active := activeAt(intervals, points[i])
		if !haveState || !sameRelays(active, lastState) {
			timeline = append(timeline, SetState(active...), Delay(span))
			lastState = active
			haveState = true
			continue
		}

		// Same state as already emitted: extend the previous delay
		// instead of re-emitting an identical state change.
		timeline[len(timeline)-1].Duration += span
	}

	// Guarantee every relay ends de-energised.
	if len(timeline) > 0 && len(lastState) > 0 {
		timeline = append(timeline, SetState())
	}

	return timeline
}

// expand converts sequences into activation intervals on the global clock
// and returns the horizon (the longest sequence's total duration).
func expand(seqs []Sequence) ([]interval, time.Duration) {
	var intervals []interval
	var horizon time.Duration

	for _, seq := range seqs {
		var offset time.Duration
		for _, step := range seq {
			d := step.Duration
			if d < 0 {
				d = 0
			}
			if d > 0 && step.Relay >= modbus.MinRelay && step.Relay <= modbus.MaxRelay {
				intervals = append(intervals, interval{
					start: offset,
					end:   offset + d,
					relay: step.Relay,
				})
			}
			offset += d
		}
		if offset > horizon {
			horizon = offset
		}
	}

	return intervals, horizon
}

// breakpoints returns the sorted, deduplicated union of interval
// boundaries, always including zero and the horizon.
func breakpoints(intervals []interval, horizon time.Duration) []time.Duration {
	seen := map[time.Duration]struct{}{
		0:       {},
		horizon: {},
	}
	for _, iv := range intervals {
		seen[iv.start] = struct{}{}
		seen[iv.end] = struct{}{}
	}

	points := make([]time.Duration, 0, len(seen))
	for p := range seen {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	return points
}

// activeAt returns the sorted set of relays energised at instant t.
// Half-open membership: a relay deactivates exactly at its end time, so
// back-to-back steps on the same relay never double-activate at the
// shared boundary.
func activeAt(intervals []interval, t time.Duration) []int {
	set := make(map[int]struct{})
	for _, iv := range intervals {
		if iv.start <= t && t < iv.end {
			set[iv.relay] = struct{}{}
		}
	}

	active := make([]int, 0, len(set))
	for relay := range set {
		active = append(active, relay)
	}
	sort.Ints(active)
	return active
}

// sameRelays compares two sorted relay sets.
func sameRelays(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
