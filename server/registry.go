package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/manuelgdlvh/thunders/wire"
)

// ErrLobbyExists is returned when a create names a lobby id that is
// already live for that type. The caller answers with a failed ack; the
// existing lobby is untouched.
var ErrLobbyExists = errors.New("server: lobby id already live")

// lobbyHandle is the type-erased face of one registered lobby type. The
// transport router speaks to it in bytes; the generic implementation
// decodes them at this boundary and everything past it is typed.
type lobbyHandle interface {
	Create(player *PlayerContext, lobbyID string, options []byte) error
	Join(player *PlayerContext, lobbyID string) bool
	Leave(playerID uint64, lobbyID string)
	Action(playerID uint64, lobbyID string, data []byte) error
}

// registry maps lobby type names to their erased handles. Populated
// during setup via Register, read by the router afterwards.
type registry struct {
	mu    sync.RWMutex
	types map[string]lobbyHandle
}

func newRegistry() *registry {
	return &registry{types: make(map[string]lobbyHandle)}
}

func (r *registry) add(lobbyType string, h lobbyHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[lobbyType] = h
}

func (r *registry) lookup(lobbyType string) (lobbyHandle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.types[lobbyType]
	return h, ok
}

// Register binds a lobby type to its hook implementation. build runs once
// per created lobby with the decoded creation options. Registering the
// same type twice replaces the previous binding.
func Register[O, A, D any](s *Server, lobbyType string, settings Settings, build func(options O) GameHooks[A, D]) {
	h := &gameHandle[O, A, D]{
		lobbyType: lobbyType,
		settings:  settings.withDefaults(),
		build:     build,
		schema:    s.schema,
		sessions:  s.sessions,
		log:       s.log,
		metrics:   s.metrics,
		workers:   make(map[string]*worker[A, D]),
	}
	if _, dup := s.registry.lookup(lobbyType); dup {
		s.log.Warnf("lobby type %q registered twice, replacing", lobbyType)
	}
	s.registry.add(lobbyType, h)
}

// gameHandle is the typed side of the erasure: it owns every live worker
// of one lobby type. Create and leave take the write lock, join and
// action the read lock.
type gameHandle[O, A, D any] struct {
	lobbyType string
	settings  Settings
	build     func(O) GameHooks[A, D]
	schema    wire.Schema
	sessions  *Sessions
	log       *logrus.Logger
	metrics   *metrics

	mu      sync.RWMutex
	workers map[string]*worker[A, D]
}

// Create decodes the options, refuses duplicates, builds the hooks and
// starts the worker with the creator as its first member.
func (h *gameHandle[O, A, D]) Create(player *PlayerContext, lobbyID string, options []byte) error {
	var opts O
	if err := h.schema.UnmarshalPayload(options, &opts); err != nil {
		return fmt.Errorf("decode %s options: %w", h.lobbyType, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.workers[lobbyID]; live {
		return ErrLobbyExists
	}
	w := newWorker(h.lobbyType, lobbyID, h.settings, h.build(opts),
		h.schema, h.sessions, h.log, h.metrics, func() { h.forget(lobbyID) })
	h.workers[lobbyID] = w
	h.metrics.lobbiesActive.Inc()
	// Fresh queue, cannot block: the creator joins before anyone can race.
	w.enqueue(workerEvent[A]{kind: eventJoin, player: player})
	return nil
}

// Join reports false for an unknown lobby id.
func (h *gameHandle[O, A, D]) Join(player *PlayerContext, lobbyID string) bool {
	h.mu.RLock()
	w := h.workers[lobbyID]
	h.mu.RUnlock()
	if w == nil {
		return false
	}
	w.enqueue(workerEvent[A]{kind: eventJoin, player: player})
	return true
}

// Leave forwards a departure. Unknown lobby ids are a silent no-op.
func (h *gameHandle[O, A, D]) Leave(playerID uint64, lobbyID string) {
	h.mu.Lock()
	w := h.workers[lobbyID]
	h.mu.Unlock()
	if w == nil {
		return
	}
	w.enqueue(workerEvent[A]{kind: eventLeave, playerID: playerID})
}

// Action decodes the payload and forwards it. Unknown lobby ids are a
// silent no-op; a decode failure is reported to the caller so the router
// can answer the sender alone.
func (h *gameHandle[O, A, D]) Action(playerID uint64, lobbyID string, data []byte) error {
	var act A
	if err := h.schema.UnmarshalPayload(data, &act); err != nil {
		return fmt.Errorf("decode %s action: %w", h.lobbyType, err)
	}
	h.mu.RLock()
	w := h.workers[lobbyID]
	h.mu.RUnlock()
	if w == nil {
		return nil
	}
	w.enqueue(workerEvent[A]{kind: eventAction, playerID: playerID, action: act})
	return nil
}

// forget drops a finished lobby from the map; the worker calls it on the
// way out.
func (h *gameHandle[O, A, D]) forget(lobbyID string) {
	h.mu.Lock()
	delete(h.workers, lobbyID)
	h.mu.Unlock()
	h.metrics.lobbiesActive.Dec()
}
