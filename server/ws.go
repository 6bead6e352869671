package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/manuelgdlvh/thunders/internal/middleware"
	"github.com/manuelgdlvh/thunders/wire"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// wsHandler upgrades connections and runs the session protocol: one
// handshake message, then a reader routing envelopes and a writer
// draining the session's outbound queue. The handshake binds a single
// PlayerContext to the connection; every later input is attributed to
// it, and lobbies the player joins all share that one instance.
type wsHandler struct {
	schema   wire.Schema
	sessions *Sessions
	registry *registry
	log      *logrus.Logger
	metrics  *metrics
	origins  []string
	limit    rate.Limit
	burst    int
}

func (h *wsHandler) frameType() websocket.MessageType {
	if h.schema.Form() == wire.Binary {
		return websocket.MessageBinary
	}
	return websocket.MessageText
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.log.Warnf("websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()
	middleware.LogWebSocketConnect(h.log, r.RemoteAddr, r.URL.Path)

	ctx := r.Context()
	player, q, ok := h.handshake(ctx, conn)
	if !ok {
		middleware.LogWebSocketDisconnect(h.log, r.RemoteAddr, r.URL.Path, nil)
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ctx, conn, q)
	}()

	readErr := h.readPump(ctx, conn, player)

	// Teardown: stop both pumps, then sweep one Leave into every lobby the
	// player was subscribed to, then drop the session.
	q.Close()
	<-writerDone
	for lobbyType, ids := range h.sessions.DrainSubscriptions(player.ID()) {
		handle, ok := h.registry.lookup(lobbyType)
		if !ok {
			continue
		}
		for _, lobbyID := range ids {
			handle.Leave(player.ID(), lobbyID)
		}
	}
	h.sessions.Remove(player.ID())

	conn.Close(websocket.StatusNormalClosure, "")
	middleware.LogWebSocketDisconnect(h.log, r.RemoteAddr, r.URL.Path, readErr)
}

// handshake awaits the single Connect that must open every connection and
// registers the session. Anything else is answered with a generic error
// and the connection is closed. On success it returns the PlayerContext
// bound to the connection for the rest of its life.
func (h *wsHandler) handshake(ctx context.Context, conn *websocket.Conn) (*PlayerContext, *outQueue, bool) {
	_, raw, err := conn.Read(ctx)
	if err != nil {
		return nil, nil, false
	}
	in, err := h.schema.DecodeInput(raw)
	if err != nil {
		h.metrics.decodeErrors.Inc()
		h.writeDirect(ctx, conn, wire.GenericError{Description: "first message must be connect"})
		conn.Close(websocket.StatusProtocolError, "connect required")
		return nil, nil, false
	}
	connect, ok := in.(wire.Connect)
	if !ok {
		h.writeDirect(ctx, conn, wire.GenericError{Description: "first message must be connect"})
		conn.Close(websocket.StatusProtocolError, "connect required")
		return nil, nil, false
	}
	q, ok := h.sessions.Connect(connect.PlayerID, connect.CorrelationID)
	if !ok {
		h.writeDirect(ctx, conn, wire.ConnectAck{CorrelationID: connect.CorrelationID, Success: false})
		conn.Close(websocket.StatusPolicyViolation, "player already connected")
		return nil, nil, false
	}
	h.log.Infof("player %d connected", connect.PlayerID)
	return NewPlayerContext(connect.PlayerID), q, true
}

// writeDirect encodes and writes one message outside the session queue,
// for answers to connections that never earned a session.
func (h *wsHandler) writeDirect(ctx context.Context, conn *websocket.Conn, out wire.Output) {
	frame, err := h.schema.EncodeOutput(out)
	if err != nil {
		h.log.Errorf("encode %T: %v", out, err)
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(wctx, h.frameType(), frame); err != nil {
		h.log.Debugf("direct write: %v", err)
	}
}

func (h *wsHandler) readPump(ctx context.Context, conn *websocket.Conn, player *PlayerContext) error {
	var lim *rate.Limiter
	if h.limit > 0 {
		lim = rate.NewLimiter(h.limit, h.burst)
	}
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			h.log.Debugf("player %d read loop ended: %v", player.ID(), err)
			return err
		}
		h.metrics.messagesIn.Inc()
		if lim != nil && !lim.Allow() {
			h.sessions.Send(player.ID(), wire.GenericError{Description: "rate limit exceeded"})
			continue
		}
		h.route(player, raw)
	}
}

// route decodes one envelope and dispatches it on behalf of the
// connection's player. Envelope decode failures answer with a generic
// error and keep the session alive.
func (h *wsHandler) route(player *PlayerContext, raw []byte) {
	in, err := h.schema.DecodeInput(raw)
	if err != nil {
		h.metrics.decodeErrors.Inc()
		h.log.Debugf("player %d sent malformed envelope: %v", player.ID(), err)
		h.sessions.Send(player.ID(), wire.GenericError{Description: "malformed message"})
		return
	}
	switch m := in.(type) {
	case wire.Connect:
		h.sessions.Send(player.ID(), wire.GenericError{Description: "session already connected"})
	case wire.Create:
		h.handleCreate(player, m)
	case wire.Join:
		h.handleJoin(player, m)
	case wire.Action:
		h.handleAction(player.ID(), m)
	}
}

// handleCreate subscribes before registering so diffs emitted during the
// creator's OnJoin already find the subscription. A refusal rolls back
// only a subscription this request inserted: a duplicate create for a
// lobby the player already belongs to must not erase that membership,
// or the disconnect sweep would never deliver its Leave.
func (h *wsHandler) handleCreate(player *PlayerContext, m wire.Create) {
	handle, ok := h.registry.lookup(m.LobbyType)
	if !ok {
		h.sessions.Send(player.ID(), wire.CreateAck{CorrelationID: m.CorrelationID, Success: false})
		return
	}
	inserted := h.sessions.Subscribe(player.ID(), m.LobbyType, m.LobbyID)
	if err := handle.Create(player, m.LobbyID, m.Options); err != nil {
		if inserted {
			h.sessions.Unsubscribe(player.ID(), m.LobbyType, m.LobbyID)
		}
		h.log.Warnf("create %s/%s by %d refused: %v", m.LobbyType, m.LobbyID, player.ID(), err)
		h.sessions.Send(player.ID(), wire.CreateAck{CorrelationID: m.CorrelationID, Success: false})
		return
	}
	h.sessions.Send(player.ID(), wire.CreateAck{CorrelationID: m.CorrelationID, Success: true})
}

func (h *wsHandler) handleJoin(player *PlayerContext, m wire.Join) {
	handle, ok := h.registry.lookup(m.LobbyType)
	if !ok {
		h.sessions.Send(player.ID(), wire.JoinAck{CorrelationID: m.CorrelationID, Success: false})
		return
	}
	inserted := h.sessions.Subscribe(player.ID(), m.LobbyType, m.LobbyID)
	if !handle.Join(player, m.LobbyID) {
		if inserted {
			h.sessions.Unsubscribe(player.ID(), m.LobbyType, m.LobbyID)
		}
		h.sessions.Send(player.ID(), wire.JoinAck{CorrelationID: m.CorrelationID, Success: false})
		return
	}
	h.sessions.Send(player.ID(), wire.JoinAck{CorrelationID: m.CorrelationID, Success: true})
}

// handleAction forwards a decoded action; a payload the lobby type cannot
// decode is reported to the sender alone.
func (h *wsHandler) handleAction(playerID uint64, m wire.Action) {
	handle, ok := h.registry.lookup(m.LobbyType)
	if !ok {
		return
	}
	if err := handle.Action(playerID, m.LobbyID, m.Data); err != nil {
		h.metrics.decodeErrors.Inc()
		h.log.Debugf("action by %d for %s/%s: %v", playerID, m.LobbyType, m.LobbyID, err)
		h.sessions.Send(playerID, wire.GenericError{Description: "malformed action"})
	}
}

// writePump drains the session queue onto the socket, pinging on an
// interval so intermediaries keep the connection alive. Exits when the
// queue closes or a write fails.
func (h *wsHandler) writePump(ctx context.Context, conn *websocket.Conn, q *outQueue) {
	pings := time.NewTicker(pingInterval)
	defer pings.Stop()
	for {
		select {
		case frame, ok := <-q.out:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, h.frameType(), frame)
			cancel()
			if err != nil {
				h.log.Debugf("session write: %v", err)
				return
			}
		case <-pings.C:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(wctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
