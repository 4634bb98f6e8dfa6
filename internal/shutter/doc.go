// Package shutter contains the core of the window shutter controller: the
// timeline compiler, the timeline executor and the command orchestration.
//
// # Model
//
// Each shutter owns named actions ("up", "down", ...), and each action is a
// sequence of steps "energise relay R for duration D" running back-to-back
// on the shutter's own clock. A command targets one shutter or a named group;
// all targeted sequences start simultaneously at time zero.
//
// # Pipeline
//
//	Controller ──resolve──► Compile ──timeline──► Executor ──coils──► relay bus
//
// Compile is a pure interval sweep: it expands every sequence into half-open
// activation intervals, collects the union of boundary instants, and emits
// the minimal alternation of state changes and delays that reproduces the
// union of energised relays at every instant. Because it is pure it is
// exercised by tests without a live bus.
//
// The Executor is the only place the process suspends: it writes whole-board
// coil states through the Bus capability and sleeps between them, with an
// unconditional all-off reset before the first event and a final safety
// reset on every exit path.
//
// All times are integer millisecond quantities carried as time.Duration;
// comparisons are exact. The seconds-to-milliseconds conversion happens once
// at configuration load and floating point never enters this package.
package shutter
