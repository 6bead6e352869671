package server

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuelgdlvh/thunders/wire"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testSessions() *Sessions {
	return newSessions(wire.JSON{}, testLogger(), newMetrics())
}

// nextOutput pops and decodes the next frame from a session queue.
func nextOutput(t *testing.T, q *outQueue) wire.Output {
	t.Helper()
	select {
	case frame, ok := <-q.out:
		require.True(t, ok, "queue closed while a frame was expected")
		out, err := wire.JSON{}.DecodeOutput(frame)
		require.NoError(t, err)
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

// countingSchema counts output encodings so tests can prove fan-out
// shares one frame.
type countingSchema struct {
	wire.Schema
	mu      sync.Mutex
	outputs int
}

func (s *countingSchema) EncodeOutput(out wire.Output) ([]byte, error) {
	s.mu.Lock()
	s.outputs++
	s.mu.Unlock()
	return s.Schema.EncodeOutput(out)
}

func (s *countingSchema) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs
}

// TestSessionsConnectAckFirst checks the ack is the first frame on a new
// session even when other traffic lands right behind it.
func TestSessionsConnectAckFirst(t *testing.T) {
	s := testSessions()
	q, ok := s.Connect(7, "corr-7")
	require.True(t, ok)
	defer s.Remove(7)

	s.Send(7, wire.GenericError{Description: "right behind"})

	ack, isAck := nextOutput(t, q).(wire.ConnectAck)
	require.True(t, isAck, "first frame must be the connect ack")
	assert.Equal(t, "corr-7", ack.CorrelationID)
	assert.True(t, ack.Success)
}

// TestSessionsConnectRefusesDuplicate checks a second live session for
// the same player id is refused and the first is untouched.
func TestSessionsConnectRefusesDuplicate(t *testing.T) {
	s := testSessions()
	q, ok := s.Connect(7, "first")
	require.True(t, ok)
	defer s.Remove(7)

	dup, ok := s.Connect(7, "second")
	assert.False(t, ok)
	assert.Nil(t, dup)

	// The original session still delivers.
	_, isAck := nextOutput(t, q).(wire.ConnectAck)
	require.True(t, isAck)
	s.Send(7, wire.GenericError{Description: "still alive"})
	ge, isErr := nextOutput(t, q).(wire.GenericError)
	require.True(t, isErr)
	assert.Equal(t, "still alive", ge.Description)
}

// TestSessionsSendAllEncodesOnce fans one output to three sessions and
// checks the schema ran exactly once for it.
func TestSessionsSendAllEncodesOnce(t *testing.T) {
	schema := &countingSchema{Schema: wire.JSON{}}
	s := newSessions(schema, testLogger(), newMetrics())

	queues := make(map[uint64]*outQueue)
	for id := uint64(1); id <= 3; id++ {
		q, ok := s.Connect(id, "c")
		require.True(t, ok)
		queues[id] = q
		defer s.Remove(id)
	}
	before := schema.count()

	s.SendAll([]uint64{1, 2, 3}, wire.Diff{LobbyType: "arena", LobbyID: "a-1"})
	assert.Equal(t, before+1, schema.count())

	for id, q := range queues {
		_, isAck := nextOutput(t, q).(wire.ConnectAck)
		require.True(t, isAck, "player %d", id)
		d, isDiff := nextOutput(t, q).(wire.Diff)
		require.True(t, isDiff, "player %d", id)
		assert.Equal(t, "a-1", d.LobbyID)
	}
}

// TestSessionsSendUnknownPlayer checks sends to never-connected and
// removed players are silent no-ops.
func TestSessionsSendUnknownPlayer(t *testing.T) {
	s := testSessions()
	s.Send(99, wire.GenericError{Description: "nobody home"})
	s.SendAll([]uint64{98, 99}, wire.GenericError{Description: "nobody home"})

	_, ok := s.Connect(7, "c")
	require.True(t, ok)
	s.Remove(7)
	s.Send(7, wire.GenericError{Description: "too late"})
}

// TestSessionsSubscriptions covers idempotent subscribe with its
// insertion report, rollback via unsubscribe and the atomic drain used
// by the disconnect sweep.
func TestSessionsSubscriptions(t *testing.T) {
	s := testSessions()

	assert.True(t, s.Subscribe(7, "chess", "c-1"))
	assert.False(t, s.Subscribe(7, "chess", "c-1"), "same triple again must report no insert")
	assert.True(t, s.Subscribe(7, "chess", "c-2"))
	assert.True(t, s.Subscribe(7, "poker", "p-1"))

	subs := s.DrainSubscriptions(7)
	require.Len(t, subs, 2)
	assert.ElementsMatch(t, []string{"c-1", "c-2"}, subs["chess"])
	assert.ElementsMatch(t, []string{"p-1"}, subs["poker"])

	// Drained: a second sweep finds nothing.
	assert.Empty(t, s.DrainSubscriptions(7))

	require.True(t, s.Subscribe(8, "chess", "c-1"))
	s.Unsubscribe(8, "chess", "c-1")
	assert.True(t, s.Subscribe(8, "chess", "c-1"), "removed triple inserts fresh")
	s.Unsubscribe(8, "chess", "c-1")
	assert.Empty(t, s.DrainSubscriptions(8))

	// Unsubscribing what was never subscribed is harmless.
	s.Unsubscribe(9, "chess", "c-1")
}

// TestSessionsRemoveClosesQueue checks removal releases the writer and
// later pushes are refused.
func TestSessionsRemoveClosesQueue(t *testing.T) {
	s := testSessions()
	q, ok := s.Connect(7, "c")
	require.True(t, ok)

	s.Remove(7)
	assert.False(t, q.Push([]byte("late")))

	// The queued ack may still be delivered; after it the channel closes.
	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case _, open = <-q.out:
		case <-deadline:
			t.Fatal("queue reader not released after Remove")
		}
	}

	// Removing twice is harmless.
	s.Remove(7)
}
