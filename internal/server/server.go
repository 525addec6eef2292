// Package server implements the relay server: a multi-client TCP listener
// speaking newline-delimited JSON, persisting real hardware key events.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/config"
	"github.com/keypad-relay/keypad-relay-server/internal/models"
	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
	"github.com/keypad-relay/keypad-relay-server/internal/storage"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrInvalidAction  = errors.New("invalid command action")
	ErrServerStopped  = errors.New("server stopped")
)

// ValidationRejected reports a key event that must not be persisted
type ValidationRejected struct {
	Field  string
	Reason string
}

func (e *ValidationRejected) Error() string {
	return fmt.Sprintf("key event rejected: %s %s", e.Field, e.Reason)
}

// Publisher forwards relayed events to the event bus
type Publisher interface {
	Publish(kind protocol.MessageType, baseID int, payload interface{}) error
}

// Options configure a Server
type Options struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	AcceptPoll      time.Duration
	MaxBuffer       int
	MaxMalformed    int
	RealHardwareTag string
	VoteType        int
	VoteConfig      string
}

// OptionsFromConfig maps the relay configuration section onto Options
func OptionsFromConfig(cfg config.RelayConfig) Options {
	return Options{
		Listen:          cfg.Listen,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		AcceptPoll:      cfg.AcceptPoll,
		MaxBuffer:       cfg.MaxBuffer,
		MaxMalformed:    cfg.MaxMalformed,
		RealHardwareTag: cfg.RealHardwareTag,
		VoteType:        cfg.VoteType,
		VoteConfig:      cfg.VoteConfig,
	}
}

func (o *Options) setDefaults() {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.AcceptPoll <= 0 {
		o.AcceptPoll = time.Second
	}
	if o.MaxBuffer <= 0 {
		o.MaxBuffer = protocol.DefaultMaxBuffer
	}
	if o.RealHardwareTag == "" {
		o.RealHardwareTag = models.EventTypeRealHardware
	}
	if o.VoteType == 0 {
		o.VoteType = 10
	}
	if o.VoteConfig == "" {
		o.VoteConfig = "1,1,0,0,4,1"
	}
}

// Server 中继服务器
type Server struct {
	opts      Options
	store     storage.KeyEventStore
	clients   *ConnectionManager
	publisher Publisher

	listener net.Listener
	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// serializes every storage write across connections
	storeMu sync.Mutex

	startedAt        time.Time
	totalConnections atomic.Int64
	stored           atomic.Int64
	dropped          atomic.Int64
	rejected         atomic.Int64
	malformedLines   atomic.Int64
	storageErrors    atomic.Int64
}

// NewServer creates a relay server. publisher may be nil.
func NewServer(opts Options, store storage.KeyEventStore, clients *ConnectionManager, publisher Publisher) *Server {
	opts.setDefaults()
	if clients == nil {
		clients = NewConnectionManager()
	}
	return &Server{
		opts:      opts,
		store:     store,
		clients:   clients,
		publisher: publisher,
		done:      make(chan struct{}),
	}
}

// Listen binds the listening socket
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Listen, err)
	}
	s.listener = ln
	s.startedAt = time.Now()
	s.running.Store(true)
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start runs the accept loop until ctx is cancelled or Stop is called.
// It returns after every connection goroutine has exited.
func (s *Server) Start(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	log.Info().Str("addr", s.listener.Addr().String()).Msg("Relay server started")

	tcp, _ := s.listener.(*net.TCPListener)
	for s.running.Load() {
		// 定时唤醒 accept，以便及时感知停止信号
		if tcp != nil {
			tcp.SetDeadline(time.Now().Add(s.opts.AcceptPoll))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !s.running.Load() {
				break
			}
			log.Error().Err(err).Msg("Accept failed")
			time.Sleep(s.opts.AcceptPoll / 10)
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}

	s.wg.Wait()
	log.Info().Msg("Relay server accept loop exited")
	return nil
}

// handleConn 处理单个客户端连接
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	sess := newClientSession(conn, s.opts.WriteTimeout)
	if !s.running.Load() {
		conn.Close()
		return
	}
	if err := s.clients.Add(sess); err != nil {
		conn.Close()
		return
	}
	s.totalConnections.Add(1)

	log.Info().Str("client", sess.ID).Int("active", s.clients.Len()).Msg("Client connected")

	reason := "closed"
	defer func() {
		s.clients.Remove(sess.ID)
		log.Info().
			Str("client", sess.ID).
			Str("reason", reason).
			Int64("key_events", sess.KeyEventCount()).
			Dur("duration", time.Since(sess.ConnectedAt)).
			Msg("Client disconnected")
	}()

	lines := protocol.NewLineBuffer(s.opts.MaxBuffer)
	buf := make([]byte, 4096)

	for s.running.Load() {
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		n, err := conn.Read(buf)

		if n > 0 {
			complete, discarded := lines.Feed(buf[:n])
			if discarded > 0 {
				log.Warn().Str("client", sess.ID).Int("bytes", discarded).Msg("Buffer overflow without delimiter, discarding")
			}
			for _, line := range complete {
				if !s.processLine(sess, line) {
					reason = "too many malformed messages"
					return
				}
			}
		}

		if err == nil {
			continue
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			// 读超时：发送 ping 探测客户端是否存活
			if perr := sess.Send(protocol.Ping{Timestamp: protocol.Now()}); perr != nil {
				reason = "liveness ping failed"
				return
			}
			log.Debug().Str("client", sess.ID).Msg("Idle timeout, ping sent")
			continue
		}

		if errors.Is(err, io.EOF) {
			reason = "peer closed"
		} else if s.running.Load() {
			reason = err.Error()
		} else {
			reason = "server stopping"
		}
		return
	}
	reason = "server stopping"
}

// processLine decodes and dispatches one line. It returns false when the
// connection should be closed.
func (s *Server) processLine(sess *ClientSession, line []byte) bool {
	msg, err := protocol.Decode(line)
	if err != nil {
		s.malformedLines.Add(1)
		run := sess.markMalformed()
		log.Warn().Err(err).Str("client", sess.ID).Int("consecutive", run).Msg("Dropping malformed message")
		if s.opts.MaxMalformed > 0 && run >= s.opts.MaxMalformed {
			return false
		}
		return true
	}

	sess.resetMalformed()
	sess.Touch()
	s.dispatch(sess, msg)
	return true
}

// dispatch 按消息类型分发
func (s *Server) dispatch(sess *ClientSession, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.KeyEvent:
		s.handleKeyEvent(sess, m.Data)

	case protocol.ConnectEvent:
		log.Info().Str("client", sess.ID).Int("base_id", m.Data.BaseID).Int("mode", m.Data.Mode).Str("info", m.Data.Info).Msg("Device connect event")
		s.publish(m.Type(), m.Data.BaseID, m.Data)

	case protocol.VoteEvent:
		log.Info().Str("client", sess.ID).Int("base_id", m.Data.BaseID).Str("info", m.Data.Info).Msg("Vote event")
		s.publish(m.Type(), m.Data.BaseID, m.Data)

	case protocol.HDParamEvent:
		log.Debug().Str("client", sess.ID).Int("base_id", m.Data.BaseID).Str("info", m.Data.Info).Msg("Hardware parameter event")
		s.publish(m.Type(), m.Data.BaseID, m.Data)

	case protocol.KeypadParamEvent:
		log.Debug().Str("client", sess.ID).Int("base_id", m.Data.BaseID).Str("key_sn", m.Data.KeySN).Msg("Keypad parameter event")
		s.publish(m.Type(), m.Data.BaseID, m.Data)

	case protocol.Heartbeat:
		log.Debug().Str("client", sess.ID).Msg("Heartbeat")

	case protocol.Pong:
		log.Debug().Str("client", sess.ID).Msg("Pong")

	case protocol.Ping:
		if err := sess.Send(protocol.Pong{Timestamp: protocol.Now()}); err != nil {
			log.Warn().Err(err).Str("client", sess.ID).Msg("Failed to answer ping")
		}

	case protocol.Command:
		log.Warn().Str("client", sess.ID).Str("action", string(m.Action)).Msg("Ignoring command sent by client")

	case protocol.Unknown:
		log.Warn().Str("client", sess.ID).Str("type", string(m.Kind)).Msg("Unknown message type")
	}
}

func (s *Server) validateKeyEvent(ev *models.KeypadEvent) error {
	if ev.EventType != s.opts.RealHardwareTag {
		return &ValidationRejected{Field: "event_type", Reason: fmt.Sprintf("is %q", ev.EventType)}
	}
	if ev.KeyID == nil {
		return &ValidationRejected{Field: "key_id", Reason: "is missing"}
	}
	return nil
}

// handleKeyEvent 校验并持久化按键事件
func (s *Server) handleKeyEvent(sess *ClientSession, ev models.KeypadEvent) {
	if err := s.validateKeyEvent(&ev); err != nil {
		s.rejected.Add(1)
		log.Warn().Err(err).Str("client", sess.ID).Int("base_id", ev.BaseID).Msg("Key event not persisted")
		return
	}
	if ev.KeySN == "" {
		log.Warn().Str("client", sess.ID).Int("key_id", *ev.KeyID).Msg("Key event without serial number")
	}

	seq := sess.nextSequence()
	rec := models.NewKeyEventRecord(sess.ID, seq, &ev)

	if err := s.persist(rec); err != nil {
		return
	}

	log.Info().
		Str("client", sess.ID).
		Int64("seq", seq).
		Int("base_id", rec.BaseID).
		Int("key_id", rec.RemoteID).
		Str("key_sn", rec.KeySN).
		Str("info", rec.ResponseInfo).
		Msg("Key event stored")

	s.publish(protocol.TypeKeyEvent, ev.BaseID, ev)
}

// persist writes rec under the store mutex. On a storage error the handle is
// reconnected once and the event is dropped.
func (s *Server) persist(rec *models.KeyEventRecord) error {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	if !s.running.Load() {
		s.dropped.Add(1)
		return ErrServerStopped
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec.ReceivedAt = time.Now()
	err := s.store.InsertKeyEvent(ctx, rec)
	if err == nil {
		s.stored.Add(1)
		return nil
	}

	s.storageErrors.Add(1)
	s.dropped.Add(1)
	log.Error().Err(err).Str("client", rec.ClientID).Int64("seq", rec.Sequence).Msg("Failed to store key event, reconnecting storage")

	if rerr := s.store.Reconnect(ctx); rerr != nil {
		log.Error().Err(rerr).Msg("Storage reconnect failed")
	}
	return err
}

func (s *Server) publish(kind protocol.MessageType, baseID int, payload interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(kind, baseID, payload); err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Int("base_id", baseID).Msg("Failed to publish event")
	}
}

// SendCommand pushes a vote command to one client. A failed send disconnects that client.
func (s *Server) SendCommand(clientID string, action protocol.Action, baseID int) error {
	if !action.IsVote() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	return s.deliver(clientID, protocol.NewCommand(action, baseID, s.opts.VoteType, s.opts.VoteConfig))
}

// SendParamCommand pushes a parameter read or write to one client
func (s *Server) SendParamCommand(clientID string, action protocol.Action, baseID int, req protocol.ParamRequest) error {
	if !action.IsParam() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	return s.deliver(clientID, protocol.NewParamCommand(action, baseID, req))
}

func (s *Server) deliver(clientID string, cmd protocol.Command) error {
	sess, ok := s.clients.Get(clientID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	if err := sess.Send(cmd); err != nil {
		log.Warn().Err(err).Str("client", clientID).Msg("Command delivery failed, disconnecting client")
		s.clients.Remove(clientID)
		return err
	}

	log.Info().Str("client", clientID).Str("action", string(cmd.Action)).Int("base_id", cmd.Params.BaseID).Msg("Command sent")
	return nil
}

// Broadcast pushes a vote command to every client and returns how many received it
func (s *Server) Broadcast(action protocol.Action, baseID int) int {
	if !action.IsVote() {
		log.Warn().Str("action", string(action)).Msg("Refusing to broadcast invalid action")
		return 0
	}
	return s.broadcast(protocol.NewCommand(action, baseID, s.opts.VoteType, s.opts.VoteConfig))
}

// BroadcastParam pushes a parameter read or write to every client
func (s *Server) BroadcastParam(action protocol.Action, baseID int, req protocol.ParamRequest) int {
	if !action.IsParam() {
		log.Warn().Str("action", string(action)).Msg("Refusing to broadcast invalid action")
		return 0
	}
	return s.broadcast(protocol.NewParamCommand(action, baseID, req))
}

func (s *Server) broadcast(cmd protocol.Command) int {
	delivered := 0
	for _, sess := range s.clients.Snapshot() {
		if err := s.deliver(sess.ID, cmd); err == nil {
			delivered++
		}
	}

	log.Info().Str("action", string(cmd.Action)).Int("delivered", delivered).Msg("Command broadcast")
	return delivered
}

// Clients returns a snapshot of every connected client
func (s *Server) Clients() []models.ClientStats {
	sessions := s.clients.Snapshot()
	out := make([]models.ClientStats, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Stats())
	}
	return out
}

// Stats returns server counters
func (s *Server) Stats() models.ServerStats {
	st := models.ServerStats{
		Running:          s.running.Load(),
		Listen:           s.opts.Listen,
		ActiveClients:    s.clients.Len(),
		TotalConnections: s.totalConnections.Load(),
		KeyEventsStored:  s.stored.Load(),
		KeyEventsDropped: s.dropped.Load(),
		RejectedEvents:   s.rejected.Load(),
		MalformedLines:   s.malformedLines.Load(),
		StorageErrors:    s.storageErrors.Load(),
	}
	if s.listener != nil {
		st.Listen = s.listener.Addr().String()
	}
	if !s.startedAt.IsZero() {
		st.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	return st
}

// Stop closes all client sockets, the store and the listener, in that order
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.done)

		for _, sess := range s.clients.CloseAll() {
			st := sess.Stats()
			log.Info().
				Str("client", st.ClientID).
				Int64("key_events", st.KeyEventCount).
				Int64("messages", st.Messages).
				Msg("Closing client")
		}

		s.storeMu.Lock()
		if err := s.store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close store")
		}
		s.storeMu.Unlock()

		if s.listener != nil {
			s.listener.Close()
		}

		st := s.Stats()
		log.Info().
			Int64("connections", st.TotalConnections).
			Int64("stored", st.KeyEventsStored).
			Int64("dropped", st.KeyEventsDropped).
			Int64("rejected", st.RejectedEvents).
			Int64("malformed", st.MalformedLines).
			Msg("Relay server stopped")
	})
}
