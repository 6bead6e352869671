// Package client connects players to a lobby server: it correlates
// request/reply exchanges (connect, create, join), keeps typed local
// mirrors of the lobbies the player is in, and applies authoritative
// diffs as they arrive.
package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/manuelgdlvh/thunders/wire"
)

const (
	writeTimeout          = 5 * time.Second
	defaultVacuumInterval = time.Second
	defaultReplyTimeout   = 30 * time.Second
)

// Config tunes one client. Zero values fall back to the noted defaults.
type Config struct {
	// URL of the server's WebSocket endpoint, e.g. "ws://host:8080/ws".
	URL string
	// VacuumInterval is how often expired pending replies are collected.
	// Default 1s.
	VacuumInterval time.Duration
	// ReplyTimeout bounds a pending reply when the caller's context has
	// no deadline. Default 30s.
	ReplyTimeout time.Duration
	// Logger defaults to a fresh logrus logger.
	Logger *logrus.Logger
}

// Client is one player's connection to a lobby server. Connect must
// succeed before lobby operations.
type Client struct {
	cfg    Config
	schema wire.Schema
	log    *logrus.Logger
	conn   *websocket.Conn

	replies *replyManager
	games   *activeGames

	out    chan []byte
	cancel context.CancelFunc
	done   chan struct{}

	playerID  atomic.Uint64
	connected atomic.Bool
}

// Dial opens the connection and starts the client's read and write loops.
// Close releases them.
func Dial(ctx context.Context, cfg Config, schema wire.Schema) (*Client, error) {
	if cfg.VacuumInterval <= 0 {
		cfg.VacuumInterval = defaultVacuumInterval
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = defaultReplyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	conn, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		schema:  schema,
		log:     cfg.Logger,
		conn:    conn,
		replies: newReplyManager(),
		games:   newActiveGames(),
		out:     make(chan []byte, 256),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go c.readLoop(runCtx)
	go c.writeLoop(runCtx)
	return c, nil
}

// Connect opens the session for playerID. It must be the first call on a
// fresh client; the server refuses ids that are already live.
func (c *Client) Connect(ctx context.Context, playerID uint64) error {
	correlationID := uuid.NewString()
	ch := c.replies.register(correlationID, c.expiry(ctx))
	frame, err := c.schema.EncodeInput(wire.Connect{CorrelationID: correlationID, PlayerID: playerID})
	if err != nil {
		c.replies.forget(correlationID)
		return fmt.Errorf("encode connect: %w", err)
	}
	if err := c.send(ctx, frame); err != nil {
		c.replies.forget(correlationID)
		return err
	}
	if err := c.await(ctx, correlationID, ch, ErrConnectRefused); err != nil {
		return err
	}
	c.playerID.Store(playerID)
	c.connected.Store(true)
	c.log.Infof("connected as player %d", playerID)
	return nil
}

// PlayerID reports the id the session was opened with, zero before
// Connect succeeds. The server attributes every message on the
// connection to this id, so it never travels on later frames.
func (c *Client) PlayerID() uint64 {
	return c.playerID.Load()
}

// Create asks the server to start a lobby and optimistically installs the
// local mirror built from the same options. The mirror is rolled back
// when the server refuses or the reply times out.
func Create[O, C, A any](ctx context.Context, c *Client, lobbyType, lobbyID string, options O, build func(O) GameState[C, A]) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	data, err := c.schema.MarshalPayload(options)
	if err != nil {
		return fmt.Errorf("marshal %s options: %w", lobbyType, err)
	}
	if !c.games.put(lobbyType, lobbyID, newGameEntry(c.schema, build(options))) {
		return ErrLobbyTracked
	}
	correlationID := uuid.NewString()
	ch := c.replies.register(correlationID, c.expiry(ctx))
	frame, err := c.schema.EncodeInput(wire.Create{
		CorrelationID: correlationID,
		LobbyType:     lobbyType,
		LobbyID:       lobbyID,
		Options:       data,
	})
	if err != nil {
		c.replies.forget(correlationID)
		c.games.remove(lobbyType, lobbyID)
		return fmt.Errorf("encode create: %w", err)
	}
	if err := c.send(ctx, frame); err != nil {
		c.replies.forget(correlationID)
		c.games.remove(lobbyType, lobbyID)
		return err
	}
	if err := c.await(ctx, correlationID, ch, ErrCreateRefused); err != nil {
		c.games.remove(lobbyType, lobbyID)
		return err
	}
	return nil
}

// Join subscribes to an existing lobby, mirroring it locally with a state
// built from zero-value options. Rolled back like Create on refusal.
func Join[O, C, A any](ctx context.Context, c *Client, lobbyType, lobbyID string, build func(O) GameState[C, A]) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	var options O
	if !c.games.put(lobbyType, lobbyID, newGameEntry(c.schema, build(options))) {
		return ErrLobbyTracked
	}
	correlationID := uuid.NewString()
	ch := c.replies.register(correlationID, c.expiry(ctx))
	frame, err := c.schema.EncodeInput(wire.Join{
		CorrelationID: correlationID,
		LobbyType:     lobbyType,
		LobbyID:       lobbyID,
	})
	if err != nil {
		c.replies.forget(correlationID)
		c.games.remove(lobbyType, lobbyID)
		return fmt.Errorf("encode join: %w", err)
	}
	if err := c.send(ctx, frame); err != nil {
		c.replies.forget(correlationID)
		c.games.remove(lobbyType, lobbyID)
		return err
	}
	if err := c.await(ctx, correlationID, ch, ErrJoinRefused); err != nil {
		c.games.remove(lobbyType, lobbyID)
		return err
	}
	return nil
}

// Action sends a player input to its lobby and applies it to the local
// mirror optimistically. Fire-and-forget: the server never acks actions.
func Action[A any](c *Client, lobbyType, lobbyID string, action A) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	data, err := c.schema.MarshalPayload(action)
	if err != nil {
		return fmt.Errorf("marshal %s action: %w", lobbyType, err)
	}
	frame, err := c.schema.EncodeInput(wire.Action{
		LobbyType: lobbyType,
		LobbyID:   lobbyID,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	if err := c.send(context.Background(), frame); err != nil {
		return err
	}
	if e := c.games.get(lobbyType, lobbyID); e != nil {
		e.applyAction(action)
	}
	return nil
}

// Close tears the connection down. In-flight waits resolve with
// ErrClosed.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) frameType() websocket.MessageType {
	if c.schema.Form() == wire.Binary {
		return websocket.MessageBinary
	}
	return websocket.MessageText
}

// expiry derives the pending-reply deadline from the caller's context.
func (c *Client) expiry(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(c.cfg.ReplyTimeout)
}

func (c *Client) send(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// await blocks for the correlated reply. A failed ack maps to refusal;
// context expiry abandons the pending entry and reports ErrTimeout.
func (c *Client) await(ctx context.Context, correlationID string, ch <-chan replyResult, refusal error) error {
	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if !res.success {
			return refusal
		}
		return nil
	case <-ctx.Done():
		c.replies.forget(correlationID)
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	case <-c.done:
		c.replies.forget(correlationID)
		return ErrClosed
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			c.log.Debugf("read loop ended: %v", err)
			c.cancel()
			return
		}
		c.dispatch(raw)
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	defer close(c.done)
	vacuum := time.NewTicker(c.cfg.VacuumInterval)
	defer vacuum.Stop()
	for {
		select {
		case frame := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, c.frameType(), frame)
			cancel()
			if err != nil {
				c.log.Debugf("write loop ended: %v", err)
				c.cancel()
				return
			}
		case <-vacuum.C:
			if n := c.replies.vacuum(time.Now()); n > 0 {
				c.log.Debugf("expired %d pending replies", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// dispatch routes one inbound frame: acks resolve their pending reply,
// diffs flow into the mirrored lobby state.
func (c *Client) dispatch(raw []byte) {
	out, err := c.schema.DecodeOutput(raw)
	if err != nil {
		c.log.Warnf("malformed server frame: %v", err)
		return
	}
	switch m := out.(type) {
	case wire.ConnectAck:
		c.replies.resolve(m.CorrelationID, replyResult{success: m.Success})
	case wire.CreateAck:
		c.replies.resolve(m.CorrelationID, replyResult{success: m.Success})
	case wire.JoinAck:
		c.replies.resolve(m.CorrelationID, replyResult{success: m.Success})
	case wire.Diff:
		c.applyDiff(m)
	case wire.GenericError:
		c.log.Warnf("server error: %s", m.Description)
	}
}

func (c *Client) applyDiff(d wire.Diff) {
	if d.Finished {
		if e := c.games.remove(d.LobbyType, d.LobbyID); e != nil {
			e.finish()
		} else {
			c.log.Debugf("finish for untracked lobby %s/%s", d.LobbyType, d.LobbyID)
		}
		return
	}
	e := c.games.get(d.LobbyType, d.LobbyID)
	if e == nil {
		c.log.Debugf("diff for untracked lobby %s/%s", d.LobbyType, d.LobbyID)
		return
	}
	if err := e.applyChange(d.Data); err != nil {
		c.log.Warnf("apply diff for %s/%s: %v", d.LobbyType, d.LobbyID, err)
	}
}
