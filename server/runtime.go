package server

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/manuelgdlvh/thunders/wire"
)

type eventKind int

const (
	eventJoin eventKind = iota
	eventLeave
	eventAction
)

func (k eventKind) String() string {
	switch k {
	case eventJoin:
		return "join"
	case eventLeave:
		return "leave"
	default:
		return "action"
	}
}

// workerEvent is one unit of input for a lobby worker.
type workerEvent[A any] struct {
	kind     eventKind
	player   *PlayerContext // join
	playerID uint64         // leave, action
	action   A              // action
}

// workerQueueDepth bounds each lobby's event channel. Senders block when
// the worker falls behind, which backpressures the connection readers.
const workerQueueDepth = 256

// worker drives one lobby: a dedicated goroutine consuming events and
// invoking the hooks. All hook calls happen on this goroutine, so the
// simulation has exactly one writer.
type worker[A, D any] struct {
	lobbyType string
	lobbyID   string
	settings  Settings
	hooks     GameHooks[A, D]
	schema    wire.Schema
	sessions  *Sessions
	log       *logrus.Logger
	metrics   *metrics
	onFinish  func()

	events chan workerEvent[A]
	done   chan struct{}

	// worker goroutine only
	players map[uint64]*PlayerContext
}

func newWorker[A, D any](lobbyType, lobbyID string, settings Settings, hooks GameHooks[A, D],
	schema wire.Schema, sessions *Sessions, log *logrus.Logger, m *metrics, onFinish func()) *worker[A, D] {
	w := &worker[A, D]{
		lobbyType: lobbyType,
		lobbyID:   lobbyID,
		settings:  settings,
		hooks:     hooks,
		schema:    schema,
		sessions:  sessions,
		log:       log,
		metrics:   m,
		onFinish:  onFinish,
		events:    make(chan workerEvent[A], workerQueueDepth),
		done:      make(chan struct{}),
		players:   make(map[uint64]*PlayerContext),
	}
	go w.run()
	return w
}

// enqueue delivers an event to the worker, blocking while its queue is
// full. Events sent after the lobby finished are dropped.
func (w *worker[A, D]) enqueue(ev workerEvent[A]) {
	select {
	case w.events <- ev:
	case <-w.done:
		w.log.Warnf("lobby %s/%s stopped, dropping %s event", w.lobbyType, w.lobbyID, ev.kind)
	}
}

func (w *worker[A, D]) run() {
	defer w.onFinish()
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("lobby %s/%s: hooks panicked: %v", w.lobbyType, w.lobbyID, r)
			w.sessions.SendAll(w.memberIDs(), wire.Diff{LobbyType: w.lobbyType, LobbyID: w.lobbyID, Finished: true})
		}
	}()

	w.log.Infof("lobby %s/%s started", w.lobbyType, w.lobbyID)
	idle := time.NewTimer(w.settings.TickNoAction)
	defer idle.Stop()

	for {
		if w.finishIfOver() {
			return
		}
		idle.Reset(w.settings.TickNoAction)
		select {
		case ev := <-w.events:
			switch ev.kind {
			case eventJoin:
				w.handleJoin(ev.player)
			case eventLeave:
				w.handleLeave(ev.playerID)
			case eventAction:
				batch := w.collect([]PlayerAction[A]{{PlayerID: ev.playerID, Action: ev.action}})
				w.tick(batch)
			}
		case <-idle.C:
			// Nobody spoke up: tick anyway so wall-clock simulations advance.
			w.tick(nil)
		}
	}
}

// collect accumulates actions for up to the batching window. Joins and
// leaves arriving mid-window are processed immediately; actions are
// appended in arrival order.
func (w *worker[A, D]) collect(batch []PlayerAction[A]) []PlayerAction[A] {
	deadline := time.Now().Add(w.settings.Tick)
	window := time.NewTimer(w.settings.Tick)
	defer window.Stop()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return batch
		}
		window.Reset(remaining)
		select {
		case ev := <-w.events:
			switch ev.kind {
			case eventJoin:
				w.handleJoin(ev.player)
			case eventLeave:
				w.handleLeave(ev.playerID)
			case eventAction:
				batch = append(batch, PlayerAction[A]{PlayerID: ev.playerID, Action: ev.action})
			}
		case <-window.C:
			return batch
		}
	}
}

func (w *worker[A, D]) tick(batch []PlayerAction[A]) {
	start := time.Now()
	diffs := w.hooks.OnTick(w.players, batch)
	w.metrics.observeTick(time.Since(start))
	w.emitAll(diffs)
}

func (w *worker[A, D]) handleJoin(p *PlayerContext) {
	w.players[p.ID()] = p
	w.emitAll(w.hooks.OnJoin(p))
}

func (w *worker[A, D]) handleLeave(id uint64) {
	p, ok := w.players[id]
	if !ok {
		// A subscription can outlive a refused registration; nothing to do.
		return
	}
	delete(w.players, id)
	if d := w.hooks.OnLeave(p); d != nil {
		w.emit(*d)
	}
}

// finishIfOver asks the hooks whether the lobby is done and, if so, emits
// the optional terminal delta followed by the finished notice to every
// current member, then reports true so the worker exits.
func (w *worker[A, D]) finishIfOver() bool {
	over, terminal := w.hooks.Finished()
	if !over {
		return false
	}
	if terminal != nil {
		w.emit(*terminal)
	}
	w.sessions.SendAll(w.memberIDs(), wire.Diff{LobbyType: w.lobbyType, LobbyID: w.lobbyID, Finished: true})
	w.log.Infof("lobby %s/%s finished with %d members", w.lobbyType, w.lobbyID, len(w.players))
	return true
}

func (w *worker[A, D]) emitAll(diffs []Diff[D]) {
	for _, d := range diffs {
		w.emit(d)
	}
}

func (w *worker[A, D]) emit(d Diff[D]) {
	data, err := w.schema.MarshalPayload(d.delta)
	if err != nil {
		w.log.Errorf("lobby %s/%s: encode delta: %v", w.lobbyType, w.lobbyID, err)
		return
	}
	out := wire.Diff{LobbyType: w.lobbyType, LobbyID: w.lobbyID, Data: data}
	switch d.mode {
	case fanoutAll:
		w.sessions.SendAll(w.memberIDs(), out)
	case fanoutOne:
		w.sessions.Send(d.target, out)
	case fanoutList:
		w.sessions.SendAll(d.targets, out)
	}
}

func (w *worker[A, D]) memberIDs() []uint64 {
	ids := make([]uint64, 0, len(w.players))
	for id := range w.players {
		ids = append(ids, id)
	}
	return ids
}
