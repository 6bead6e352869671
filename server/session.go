package server

import (
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/manuelgdlvh/thunders/wire"
)

// Sessions is the fabric joining player ids to live connections. It owns
// the outbound queue per player and the subscription index consulted by
// the disconnect sweep. Lobby workers push diffs through it; the
// transport registers and removes sessions.
type Sessions struct {
	schema  wire.Schema
	log     *logrus.Logger
	metrics *metrics

	mu     sync.RWMutex
	queues map[uint64]*outQueue

	subMu sync.RWMutex
	subs  map[uint64]map[string][]string
}

func newSessions(schema wire.Schema, log *logrus.Logger, m *metrics) *Sessions {
	return &Sessions{
		schema:  schema,
		log:     log,
		metrics: m,
		queues:  make(map[uint64]*outQueue),
		subs:    make(map[uint64]map[string][]string),
	}
}

// Connect registers a session for playerID and returns its outbound
// queue. The encoded ConnectAck is enqueued before the session becomes
// visible, so it is always the first frame the writer delivers. A second
// live session for the same id is refused.
func (s *Sessions) Connect(playerID uint64, correlationID string) (*outQueue, bool) {
	ack, err := s.schema.EncodeOutput(wire.ConnectAck{CorrelationID: correlationID, Success: true})
	if err != nil {
		s.log.Errorf("encode connect ack for %d: %v", playerID, err)
		return nil, false
	}
	q := newOutQueue()
	q.Push(ack)

	s.mu.Lock()
	if _, live := s.queues[playerID]; live {
		s.mu.Unlock()
		q.Close()
		return nil, false
	}
	s.queues[playerID] = q
	s.mu.Unlock()

	s.metrics.sessionsActive.Inc()
	return q, true
}

// Send encodes out and enqueues it for one player. Unknown players are a
// silent no-op.
func (s *Sessions) Send(playerID uint64, out wire.Output) {
	frame, err := s.schema.EncodeOutput(out)
	if err != nil {
		s.log.Errorf("encode %T for %d: %v", out, playerID, err)
		return
	}
	s.sendFrame(playerID, frame)
}

// SendAll encodes out once and enqueues the same frame for every listed
// player. Unknown players are skipped.
func (s *Sessions) SendAll(playerIDs []uint64, out wire.Output) {
	if len(playerIDs) == 0 {
		return
	}
	frame, err := s.schema.EncodeOutput(out)
	if err != nil {
		s.log.Errorf("encode %T: %v", out, err)
		return
	}
	for _, id := range playerIDs {
		s.sendFrame(id, frame)
	}
}

func (s *Sessions) sendFrame(playerID uint64, frame []byte) {
	s.mu.RLock()
	q := s.queues[playerID]
	s.mu.RUnlock()
	if q == nil {
		return
	}
	if q.Push(frame) {
		s.metrics.messagesOut.Inc()
	}
}

// Subscribe records that playerID belongs to the lobby and reports
// whether this call inserted the triple. Repeating a live triple is a
// no-op that reports false.
func (s *Sessions) Subscribe(playerID uint64, lobbyType, lobbyID string) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	byType := s.subs[playerID]
	if byType == nil {
		byType = make(map[string][]string)
		s.subs[playerID] = byType
	}
	if slices.Contains(byType[lobbyType], lobbyID) {
		return false
	}
	byType[lobbyType] = append(byType[lobbyType], lobbyID)
	return true
}

// Unsubscribe removes one lobby from the player's subscription set. Used
// to roll back a refused create or join; callers must remove only a
// triple their own Subscribe inserted, or a refused duplicate would
// erase a live membership.
func (s *Sessions) Unsubscribe(playerID uint64, lobbyType, lobbyID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	byType := s.subs[playerID]
	if byType == nil {
		return
	}
	ids := slices.DeleteFunc(byType[lobbyType], func(id string) bool { return id == lobbyID })
	if len(ids) == 0 {
		delete(byType, lobbyType)
	} else {
		byType[lobbyType] = ids
	}
	if len(byType) == 0 {
		delete(s.subs, playerID)
	}
}

// DrainSubscriptions atomically removes and returns the player's whole
// subscription set. The disconnect sweep turns each entry into exactly
// one Leave.
func (s *Sessions) DrainSubscriptions(playerID uint64) map[string][]string {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	subs := s.subs[playerID]
	delete(s.subs, playerID)
	return subs
}

// Remove tears the session down and closes its queue, releasing the
// connection writer.
func (s *Sessions) Remove(playerID uint64) {
	s.mu.Lock()
	q := s.queues[playerID]
	delete(s.queues, playerID)
	s.mu.Unlock()
	if q != nil {
		q.Close()
		s.metrics.sessionsActive.Dec()
	}
}
