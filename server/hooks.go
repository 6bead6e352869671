package server

import "time"

// Settings controls the timing of one lobby type's worker loop.
type Settings struct {
	// TickNoAction is the longest the worker waits for an event before
	// forcing a tick with an empty action batch. Keeps wall-clock
	// simulations advancing while nobody is sending input.
	TickNoAction time.Duration
	// Tick is the batching window: once an action arrives, the worker
	// collects further actions for up to this long before delivering the
	// batch to OnTick in arrival order.
	Tick time.Duration
}

const (
	defaultTickNoAction = 500 * time.Millisecond
	defaultTick         = 50 * time.Millisecond
)

func (s Settings) withDefaults() Settings {
	if s.TickNoAction <= 0 {
		s.TickNoAction = defaultTickNoAction
	}
	if s.Tick <= 0 {
		s.Tick = defaultTick
	}
	return s
}

// PlayerAction pairs a decoded action with the player who sent it.
type PlayerAction[A any] struct {
	PlayerID uint64
	Action   A
}

// GameHooks is the authoritative simulation for one lobby. The worker
// invokes every method from a single goroutine, so implementations need no
// internal locking; they own their state outright.
//
// Hooks return diffs describing what changed; the worker fans each diff
// out to its recipients. A nil slice or pointer means nothing to emit.
type GameHooks[A, D any] interface {
	// OnJoin runs when a player enters the lobby, including the creator.
	OnJoin(player *PlayerContext) []Diff[D]
	// OnLeave runs when a player departs or disconnects.
	OnLeave(player *PlayerContext) *Diff[D]
	// OnTick advances the simulation. actions holds the batched inputs in
	// arrival order; it is empty when the idle timeout forced the tick.
	// players is the live member set and must not be retained or mutated.
	OnTick(players map[uint64]*PlayerContext, actions []PlayerAction[A]) []Diff[D]
	// Finished reports whether the lobby is over, with an optional
	// terminal delta broadcast before the finished notice.
	Finished() (bool, *Diff[D])
}

type fanout int

const (
	fanoutAll fanout = iota
	fanoutOne
	fanoutList
)

// Diff is a state delta plus its recipient set. Construct with All,
// TargetOne or TargetList.
type Diff[D any] struct {
	mode    fanout
	target  uint64
	targets []uint64
	delta   D
}

// All addresses the delta to every current lobby member.
func All[D any](delta D) Diff[D] {
	return Diff[D]{mode: fanoutAll, delta: delta}
}

// TargetOne addresses the delta to a single player.
func TargetOne[D any](playerID uint64, delta D) Diff[D] {
	return Diff[D]{mode: fanoutOne, target: playerID, delta: delta}
}

// TargetList addresses the delta to an explicit set of players.
func TargetList[D any](playerIDs []uint64, delta D) Diff[D] {
	return Diff[D]{mode: fanoutList, targets: playerIDs, delta: delta}
}
