package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuelgdlvh/thunders/wire"
)

type arenaOptions struct {
	Cap int `json:"cap"`
}

func fastSettings() Settings {
	return Settings{TickNoAction: 20 * time.Millisecond, Tick: 10 * time.Millisecond}
}

// lobbyGone polls until the handle has forgotten the lobby id.
func lobbyGone(gh *gameHandle[arenaOptions, testAction, testDelta], lobbyID string) func() bool {
	return func() bool {
		gh.mu.RLock()
		_, live := gh.workers[lobbyID]
		gh.mu.RUnlock()
		return !live
	}
}

// TestRegistryCreateDecodesOptions checks creation options reach the
// builder typed, and a finished lobby is forgotten by its handle.
func TestRegistryCreateDecodesOptions(t *testing.T) {
	srv := New(Config{Logger: testLogger()}, wire.JSON{})
	hooks := &recorderHooks{}
	var gotCap int
	Register(srv, "arena", fastSettings(), func(o arenaOptions) GameHooks[testAction, testDelta] {
		gotCap = o.Cap
		return hooks
	})

	h, ok := srv.registry.lookup("arena")
	require.True(t, ok)
	_, ok = srv.registry.lookup("nope")
	assert.False(t, ok)

	require.NoError(t, h.Create(NewPlayerContext(1), "a-1", []byte(`{"cap":4}`)))
	assert.Equal(t, 4, gotCap)

	require.Eventually(t, func() bool {
		return len(hooks.joinIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond, "creator never joined its lobby")

	hooks.finish(nil)
	gh := h.(*gameHandle[arenaOptions, testAction, testDelta])
	require.Eventually(t, lobbyGone(gh, "a-1"), 2*time.Second, 10*time.Millisecond,
		"finished lobby still registered")
}

// TestRegistryDuplicateCreate checks a second create for a live lobby id
// is refused without touching the running lobby.
func TestRegistryDuplicateCreate(t *testing.T) {
	srv := New(Config{Logger: testLogger()}, wire.JSON{})
	hooks := &recorderHooks{}
	builds := 0
	Register(srv, "arena", fastSettings(), func(arenaOptions) GameHooks[testAction, testDelta] {
		builds++
		return hooks
	})
	h, _ := srv.registry.lookup("arena")

	require.NoError(t, h.Create(NewPlayerContext(1), "a-1", nil))
	err := h.Create(NewPlayerContext(2), "a-1", nil)
	require.ErrorIs(t, err, ErrLobbyExists)
	assert.Equal(t, 1, builds, "refused create must not build hooks")

	hooks.finish(nil)
}

// TestRegistryCreateBadOptions checks malformed options refuse the
// create and leave no lobby behind.
func TestRegistryCreateBadOptions(t *testing.T) {
	srv := New(Config{Logger: testLogger()}, wire.JSON{})
	Register(srv, "arena", fastSettings(), func(arenaOptions) GameHooks[testAction, testDelta] {
		return &recorderHooks{}
	})
	h, _ := srv.registry.lookup("arena")

	err := h.Create(NewPlayerContext(1), "bad", []byte(`{"cap":`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLobbyExists)
	assert.False(t, h.Join(NewPlayerContext(2), "bad"))
}

// TestRegistryJoinAndLeaveUnknown checks joins report false and leaves
// no-op for lobby ids that were never created.
func TestRegistryJoinAndLeaveUnknown(t *testing.T) {
	srv := New(Config{Logger: testLogger()}, wire.JSON{})
	Register(srv, "arena", fastSettings(), func(arenaOptions) GameHooks[testAction, testDelta] {
		return &recorderHooks{}
	})
	h, _ := srv.registry.lookup("arena")

	assert.False(t, h.Join(NewPlayerContext(2), "ghost"))
	h.Leave(2, "ghost")
}

// TestRegistryActionRouting checks action payload decoding at the
// boundary: bad payloads error, good ones reach the worker, unknown
// lobby ids are dropped silently.
func TestRegistryActionRouting(t *testing.T) {
	srv := New(Config{Logger: testLogger()}, wire.JSON{})
	hooks := &recorderHooks{}
	Register(srv, "arena", fastSettings(), func(arenaOptions) GameHooks[testAction, testDelta] {
		return hooks
	})
	h, _ := srv.registry.lookup("arena")
	require.NoError(t, h.Create(NewPlayerContext(1), "a-1", nil))

	require.Error(t, h.Action(1, "a-1", []byte(`"not an object"`)))
	require.NoError(t, h.Action(1, "ghost", []byte(`{"n":1}`)))
	require.NoError(t, h.Action(1, "a-1", []byte(`{"n":2}`)))

	require.Eventually(t, func() bool {
		for _, batch := range hooks.batchList() {
			for _, pa := range batch {
				if pa.PlayerID == 1 && pa.Action.N == 2 {
					return true
				}
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "valid action never reached OnTick")

	hooks.finish(nil)
}

// TestRegisterTwiceReplaces checks re-registering a lobby type swaps the
// binding in place.
func TestRegisterTwiceReplaces(t *testing.T) {
	srv := New(Config{Logger: testLogger()}, wire.JSON{})
	Register(srv, "arena", fastSettings(), func(arenaOptions) GameHooks[testAction, testDelta] {
		t.Fatal("replaced builder must not run")
		return nil
	})
	hooks := &recorderHooks{}
	Register(srv, "arena", fastSettings(), func(arenaOptions) GameHooks[testAction, testDelta] {
		return hooks
	})

	h, _ := srv.registry.lookup("arena")
	require.NoError(t, h.Create(NewPlayerContext(1), "a-1", nil))
	hooks.finish(nil)
}
