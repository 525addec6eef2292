package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
)

// Dial connects to the relay server if not already connected
func (c *Client) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialLocked(ctx)
}

func (c *Client) dialLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	d := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.opts.ServerAddr)
	if err != nil {
		return fmt.Errorf("dial relay server %s: %w", c.opts.ServerAddr, err)
	}

	c.conn = conn
	log.Info().Str("server", c.opts.ServerAddr).Str("local", conn.LocalAddr().String()).Msg("Connected to relay server")

	go c.readLoop(conn)
	return nil
}

// Send writes one message line. A missing connection is dialed first; a
// write error drops the message and closes the socket so that the next Send
// redials.
func (c *Client) Send(msg protocol.Message) error {
	line, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.dialLocked(context.Background()); err != nil {
		c.socketFailed.Add(1)
		log.Warn().Err(err).Str("type", string(msg.Type())).Msg("Relay server unreachable, event not sent")
		return err
	}

	conn := c.conn
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if _, err := conn.Write(line); err != nil {
		c.socketFailed.Add(1)
		log.Warn().Err(err).Str("type", string(msg.Type())).Msg("Socket send failed, dropping event")
		conn.Close()
		c.conn = nil
		return fmt.Errorf("send %s: %w", msg.Type(), err)
	}

	c.socketSent.Add(1)
	return nil
}

// Close closes the relay connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) dropConn(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// readLoop answers pings and executes commands pushed by the server
func (c *Client) readLoop(conn net.Conn) {
	defer c.dropConn(conn)

	lines := protocol.NewLineBuffer(protocol.DefaultMaxBuffer)
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			complete, _ := lines.Feed(buf[:n])
			for _, line := range complete {
				c.handleInbound(line)
			}
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Warn().Err(err).Msg("Relay connection closed")
			}
			return
		}
	}
}

func (c *Client) handleInbound(line []byte) {
	msg, err := protocol.Decode(line)
	if err != nil {
		log.Warn().Err(err).Msg("Malformed message from relay server")
		return
	}

	switch m := msg.(type) {
	case protocol.Ping:
		if err := c.Send(protocol.Pong{Timestamp: protocol.Now()}); err != nil {
			log.Warn().Err(err).Msg("Failed to answer ping")
		}
	case protocol.Command:
		c.executeCommand(m)
	case protocol.Pong, protocol.Heartbeat:
	default:
		log.Debug().Str("type", string(msg.Type())).Msg("Ignoring message from relay server")
	}
}

// executeCommand drives the adapter. Null parameters fall back to the
// configured vote type and configuration.
func (c *Client) executeCommand(cmd protocol.Command) {
	c.commands.Add(1)

	if cmd.Action.IsParam() {
		c.executeParamCommand(cmd)
		return
	}

	baseID := cmd.Params.BaseID
	voteType := c.opts.VoteType
	if cmd.Params.VoteType != nil {
		voteType = *cmd.Params.VoteType
	}
	cfg := c.opts.VoteConfig
	if cmd.Params.Config != nil {
		cfg = *cmd.Params.Config
	}

	log.Info().Str("action", string(cmd.Action)).Int("base_id", baseID).Msg("Command received")

	switch cmd.Action {
	case protocol.ActionStartVote:
		c.dev.StartVote(baseID, voteType, cfg)
	case protocol.ActionStopVote:
		c.dev.StopVote(baseID)
	case protocol.ActionResetVote:
		c.dev.StopVote(baseID)
		c.dev.StartVote(baseID, voteType, cfg)
	default:
		log.Warn().Str("action", string(cmd.Action)).Msg("Unknown command action")
	}
}

// executeParamCommand reads or writes a device parameter. The answer comes
// back through the param callbacks and is forwarded like any other event.
func (c *Client) executeParamCommand(cmd protocol.Command) {
	p := cmd.Params
	if p.Mode == nil {
		log.Warn().Str("action", string(cmd.Action)).Msg("Param command without mode, ignoring")
		return
	}
	var keyID int
	var keySN, value string
	if p.KeyID != nil {
		keyID = *p.KeyID
	}
	if p.KeySN != nil {
		keySN = *p.KeySN
	}
	if p.Value != nil {
		value = *p.Value
	}

	log.Info().
		Str("action", string(cmd.Action)).
		Int("base_id", p.BaseID).
		Int("mode", *p.Mode).
		Msg("Param command received")

	switch cmd.Action {
	case protocol.ActionReadHDParam:
		c.dev.ReadHDParam(p.BaseID, *p.Mode)
	case protocol.ActionWriteHDParam:
		c.dev.WriteHDParam(p.BaseID, *p.Mode, value)
	case protocol.ActionReadKeypadParam:
		c.dev.ReadKeypadParam(p.BaseID, keyID, keySN, *p.Mode)
	case protocol.ActionWriteKeypadParam:
		c.dev.WriteKeypadParam(p.BaseID, keyID, keySN, *p.Mode, value)
	}
}
