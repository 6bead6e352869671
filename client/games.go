package client

import (
	"sync"

	"github.com/manuelgdlvh/thunders/wire"
)

// GameState mirrors one lobby on the client. The run loop invokes
// OnChange and OnFinish from its dispatch goroutine, and Action applies
// OnAction from the caller's goroutine; implementations that are also
// read through State must synchronize internally.
type GameState[C, A any] interface {
	// OnChange applies an authoritative delta from the server.
	OnChange(change C)
	// OnAction applies a locally issued action optimistically.
	OnAction(action A)
	// OnFinish runs once when the server reports the lobby finished.
	OnFinish()
}

// gameEntry erases a typed GameState behind decode-and-dispatch closures
// so the run loop can route frames without knowing the type parameters.
type gameEntry struct {
	state       any
	applyChange func(data []byte) error
	applyAction func(action any) bool
	finish      func()
}

func newGameEntry[C, A any](schema wire.Schema, state GameState[C, A]) *gameEntry {
	return &gameEntry{
		state: state,
		applyChange: func(data []byte) error {
			var change C
			if err := schema.UnmarshalPayload(data, &change); err != nil {
				return err
			}
			state.OnChange(change)
			return nil
		},
		applyAction: func(action any) bool {
			a, ok := action.(A)
			if !ok {
				return false
			}
			state.OnAction(a)
			return true
		},
		finish: func() { state.OnFinish() },
	}
}

// activeGames tracks the lobbies this client currently mirrors, keyed by
// lobby type and id.
type activeGames struct {
	mu     sync.RWMutex
	byType map[string]*gameSet
}

type gameSet struct {
	mu   sync.RWMutex
	byID map[string]*gameEntry
}

func newActiveGames() *activeGames {
	return &activeGames{byType: make(map[string]*gameSet)}
}

func (g *activeGames) set(lobbyType string) *gameSet {
	g.mu.RLock()
	s := g.byType[lobbyType]
	g.mu.RUnlock()
	if s != nil {
		return s
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if s = g.byType[lobbyType]; s == nil {
		s = &gameSet{byID: make(map[string]*gameEntry)}
		g.byType[lobbyType] = s
	}
	return s
}

// put inserts the entry unless the lobby is already tracked.
func (g *activeGames) put(lobbyType, lobbyID string, e *gameEntry) bool {
	s := g.set(lobbyType)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[lobbyID]; dup {
		return false
	}
	s.byID[lobbyID] = e
	return true
}

func (g *activeGames) get(lobbyType, lobbyID string) *gameEntry {
	g.mu.RLock()
	s := g.byType[lobbyType]
	g.mu.RUnlock()
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[lobbyID]
}

// remove drops and returns the entry, if tracked.
func (g *activeGames) remove(lobbyType, lobbyID string) *gameEntry {
	g.mu.RLock()
	s := g.byType[lobbyType]
	g.mu.RUnlock()
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.byID[lobbyID]
	delete(s.byID, lobbyID)
	return e
}

// State returns the typed mirror of a tracked lobby, for reading game
// state outside the callbacks.
func State[G any](c *Client, lobbyType, lobbyID string) (G, bool) {
	var zero G
	e := c.games.get(lobbyType, lobbyID)
	if e == nil {
		return zero, false
	}
	g, ok := e.state.(G)
	if !ok {
		return zero, false
	}
	return g, true
}
