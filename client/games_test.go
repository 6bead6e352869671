package client

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuelgdlvh/thunders/wire"
)

type testChange struct {
	V int `json:"v"`
}

type testMove struct {
	Dir string `json:"dir"`
}

// stubState records the callbacks a mirror receives.
type stubState struct {
	mu       sync.Mutex
	changes  []testChange
	moves    []testMove
	finished bool
}

func (s *stubState) OnChange(c testChange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
}

func (s *stubState) OnAction(m testMove) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moves = append(s.moves, m)
}

func (s *stubState) OnFinish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
}

func (s *stubState) snapshot() ([]testChange, []testMove, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]testChange(nil), s.changes...), append([]testMove(nil), s.moves...), s.finished
}

// TestGameEntryDispatch checks the erased entry decodes changes, guards
// action types and forwards finish.
func TestGameEntryDispatch(t *testing.T) {
	state := &stubState{}
	e := newGameEntry[testChange, testMove](wire.JSON{}, state)

	require.NoError(t, e.applyChange([]byte(`{"v":41}`)))
	require.Error(t, e.applyChange([]byte(`{"v":`)), "malformed change must surface")

	assert.True(t, e.applyAction(testMove{Dir: "up"}))
	assert.False(t, e.applyAction("wrong type"))

	e.finish()

	changes, moves, finished := state.snapshot()
	assert.Equal(t, []testChange{{V: 41}}, changes)
	assert.Equal(t, []testMove{{Dir: "up"}}, moves)
	assert.True(t, finished)
}

// TestActiveGamesTracking covers insertion, duplicate refusal, lookup
// and removal across lobby types.
func TestActiveGamesTracking(t *testing.T) {
	g := newActiveGames()
	a := newGameEntry[testChange, testMove](wire.JSON{}, &stubState{})
	b := newGameEntry[testChange, testMove](wire.JSON{}, &stubState{})

	require.True(t, g.put("chess", "c-1", a))
	assert.False(t, g.put("chess", "c-1", b), "same lobby twice must be refused")
	require.True(t, g.put("poker", "c-1", b), "same id under another type is distinct")

	assert.Same(t, a, g.get("chess", "c-1"))
	assert.Same(t, b, g.get("poker", "c-1"))
	assert.Nil(t, g.get("chess", "ghost"))
	assert.Nil(t, g.get("ghost", "c-1"))

	assert.Same(t, a, g.remove("chess", "c-1"))
	assert.Nil(t, g.get("chess", "c-1"))
	assert.Nil(t, g.remove("chess", "c-1"))
}

// TestStateTypedAccess checks the typed lookup returns the live mirror
// and refuses wrong types or untracked lobbies.
func TestStateTypedAccess(t *testing.T) {
	c := &Client{games: newActiveGames()}
	state := &stubState{}
	require.True(t, c.games.put("chess", "c-1", newGameEntry[testChange, testMove](wire.JSON{}, state)))

	got, ok := State[*stubState](c, "chess", "c-1")
	require.True(t, ok)
	assert.Same(t, state, got)

	_, ok = State[*Client](c, "chess", "c-1")
	assert.False(t, ok, "wrong type must not match")
	_, ok = State[*stubState](c, "chess", "ghost")
	assert.False(t, ok)

	c.games.remove("chess", "c-1")
	_, ok = State[*stubState](c, "chess", "c-1")
	assert.False(t, ok)
}
