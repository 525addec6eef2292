// Package relay forwards adapter events to the relay server over a socket,
// with an HTTP fallback into the backend ingestion API.
package relay

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/config"
	"github.com/keypad-relay/keypad-relay-server/internal/models"
	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
	"github.com/keypad-relay/keypad-relay-server/internal/sdk"
)

// ResultAlreadyConnecting is returned by ConnectDevice instead of issuing a
// duplicate native connect. It is outside the range of vendor result codes,
// so callers can tell it apart from an accepted request (0).
const ResultAlreadyConnecting = -100

// Device is the part of the SDK adapter driven by the client
type Device interface {
	Connect(connType int, connStr string) int
	Disconnect(baseID int) int
	StartVote(baseID, voteType int, config string) int
	StopVote(baseID int) int
	ReadHDParam(baseID, mode int) int
	WriteHDParam(baseID, mode int, value string) int
	ReadKeypadParam(baseID, keyID int, keySN string, mode int) int
	WriteKeypadParam(baseID, keyID int, keySN string, mode int, value string) int
	Events() <-chan sdk.Event
	Connected() bool
}

// Mode selects the outbound path
type Mode string

const (
	ModeSocket Mode = "socket"
	ModeHTTP   Mode = "http"
	ModeBoth   Mode = "both"
)

// TransientConnectionError reports one failed device connect attempt
type TransientConnectionError struct {
	Attempt  int
	ConnType int
	Code     int
}

func (e *TransientConnectionError) Error() string {
	return fmt.Sprintf("device connect attempt %d (type %d) failed with code %d", e.Attempt, e.ConnType, e.Code)
}

// Options configure a Client
type Options struct {
	ServerAddr        string
	BackendURL        string
	Mode              Mode
	HTTPFallback      bool
	DialTimeout       time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	PostAttempts      int
	PostBackoff       time.Duration
	PostTimeout       time.Duration
	EventType         string

	// used when a command arrives with null parameters
	VoteType   int
	VoteConfig string

	HTTPClient *http.Client
	Sleep      func(ctx context.Context, d time.Duration) error
}

// OptionsFromConfig maps the client configuration section onto Options
func OptionsFromConfig(cfg config.ClientConfig) Options {
	return Options{
		ServerAddr:        cfg.ServerAddr,
		BackendURL:        cfg.BackendURL,
		Mode:              Mode(cfg.Mode),
		HTTPFallback:      cfg.HTTPFallback,
		DialTimeout:       cfg.DialTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PostAttempts:      cfg.PostAttempts,
		PostBackoff:       cfg.PostBackoff,
		PostTimeout:       cfg.PostTimeout,
		EventType:         cfg.EventType,
		VoteType:          cfg.AutoStart.VoteType,
		VoteConfig:        cfg.AutoStart.Config,
	}
}

func (o *Options) setDefaults() {
	if o.Mode == "" {
		o.Mode = ModeSocket
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PostAttempts <= 0 {
		o.PostAttempts = 3
	}
	if o.PostBackoff <= 0 {
		o.PostBackoff = time.Second
	}
	if o.PostTimeout <= 0 {
		o.PostTimeout = 5 * time.Second
	}
	if o.EventType == "" {
		o.EventType = models.EventTypeRealHardware
	}
	if o.VoteType == 0 {
		o.VoteType = 10
	}
	if o.VoteConfig == "" {
		o.VoteConfig = "1,1,0,0,4,1"
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.PostTimeout}
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
}

// Counters are the client's delivery statistics
type Counters struct {
	Forwarded    int64 `json:"forwarded"`
	SocketSent   int64 `json:"socket_sent"`
	SocketFailed int64 `json:"socket_failed"`
	Posted       int64 `json:"posted"`
	PostFailed   int64 `json:"post_failed"`
	Commands     int64 `json:"commands"`
}

// Client 设备侧中继客户端
type Client struct {
	dev  Device
	opts Options

	connecting atomic.Bool

	mu   sync.Mutex
	conn net.Conn

	forwarded    atomic.Int64
	socketSent   atomic.Int64
	socketFailed atomic.Int64
	posted       atomic.Int64
	postFailed   atomic.Int64
	commands     atomic.Int64
}

// NewClient creates a relay client driving dev
func NewClient(dev Device, opts Options) *Client {
	opts.setDefaults()
	return &Client{dev: dev, opts: opts}
}

// ConnectDevice requests a device connection unless one is already in
// progress or established, in which case it returns ResultAlreadyConnecting.
func (c *Client) ConnectDevice(connType int, connStr string) int {
	if c.dev.Connected() {
		log.Warn().Msg("Device already connected, skipping connect")
		return ResultAlreadyConnecting
	}
	if !c.connecting.CompareAndSwap(false, true) {
		log.Warn().Msg("Device connection already in progress")
		return ResultAlreadyConnecting
	}

	code := c.dev.Connect(connType, connStr)
	if code != 0 {
		c.connecting.Store(false)
	}
	log.Info().Int("conn_type", connType).Int("result", code).Msg("Device connect requested")
	return code
}

// Connecting reports whether a connect request is awaiting its callback
func (c *Client) Connecting() bool {
	return c.connecting.Load()
}

// ConnectWithRetry calls ConnectDevice up to maxAttempts times, sleeping
// backoff between attempts. It reports whether a request was accepted or a
// connection is already in progress or established.
func (c *Client) ConnectWithRetry(ctx context.Context, connType int, connStr string, maxAttempts int, backoff time.Duration) bool {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code := c.ConnectDevice(connType, connStr)
		if code == ResultAlreadyConnecting {
			log.Info().Int("attempt", attempt).Msg("Device connection already in progress, not retrying")
			return true
		}
		if code == 0 {
			log.Info().Int("attempt", attempt).Int("conn_type", connType).Msg("Device connect accepted")
			return true
		}

		err := &TransientConnectionError{Attempt: attempt, ConnType: connType, Code: code}
		log.Warn().Err(err).Int("max_attempts", maxAttempts).Msg("Device connect failed")

		if attempt == maxAttempts {
			break
		}
		if err := c.opts.Sleep(ctx, backoff); err != nil {
			log.Warn().Err(err).Msg("Connect retry cancelled")
			return false
		}
	}

	log.Error().Int("attempts", maxAttempts).Int("conn_type", connType).Msg("Giving up on device connect")
	return false
}

// Run forwards adapter events until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	if c.opts.HeartbeatInterval > 0 && c.opts.Mode != ModeHTTP {
		go c.heartbeatLoop(ctx)
	}

	events := c.dev.Events()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case ev := <-events:
			c.forward(ctx, ev)
		}
	}
}

func (c *Client) forward(ctx context.Context, ev sdk.Event) {
	if _, ok := ev.(sdk.ConnectEvent); ok {
		c.connecting.Store(false)
	}

	msg := c.toMessage(ev)
	if msg == nil {
		return
	}
	c.forwarded.Add(1)

	sent := false
	if c.opts.Mode == ModeSocket || c.opts.Mode == ModeBoth {
		sent = c.Send(msg) == nil
	}

	post := c.opts.Mode == ModeHTTP || c.opts.Mode == ModeBoth ||
		(!sent && c.opts.HTTPFallback)
	if post {
		c.PostEvent(ctx, protocol.EndpointFor(msg.Type()), protocol.Payload(msg))
	}
}

// toMessage stamps an adapter event with the relay-side timestamp
func (c *Client) toMessage(ev sdk.Event) protocol.Message {
	switch e := ev.(type) {
	case sdk.KeyEvent:
		keyID := e.KeyID
		return protocol.KeyEvent{Data: models.KeypadEvent{
			BaseID:          e.BaseID,
			KeyID:           &keyID,
			KeySN:           e.KeySN,
			Mode:            e.Mode,
			SDKTimestamp:    e.Timestamp,
			Info:            e.Info,
			ClientTimestamp: models.FormatTimestamp(time.Now()),
			EventType:       c.opts.EventType,
		}}
	case sdk.ConnectEvent:
		return protocol.ConnectEvent{Data: models.ConnectEvent{
			BaseID: e.BaseID, Mode: e.Mode, Info: e.Info, Timestamp: models.FormatTimestamp(e.At()),
		}}
	case sdk.VoteEvent:
		return protocol.VoteEvent{Data: models.VoteEvent{
			BaseID: e.BaseID, Mode: e.Mode, Info: e.Info, Timestamp: models.FormatTimestamp(e.At()),
		}}
	case sdk.HDParamEvent:
		return protocol.HDParamEvent{Data: models.HDParamEvent{
			BaseID: e.BaseID, Mode: e.Mode, Info: e.Info, Timestamp: models.FormatTimestamp(e.At()),
		}}
	case sdk.KeypadParamEvent:
		keyID := e.KeyID
		return protocol.KeypadParamEvent{Data: models.KeypadParamEvent{
			BaseID: e.BaseID, KeyID: &keyID, KeySN: e.KeySN, Mode: e.Mode, Info: e.Info,
			Timestamp: models.FormatTimestamp(e.At()),
		}}
	}
	log.Warn().Str("kind", string(ev.Kind())).Msg("Unsupported adapter event")
	return nil
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Send(protocol.Heartbeat{Timestamp: protocol.Now()})
		}
	}
}

// Stats returns delivery counters
func (c *Client) Stats() Counters {
	return Counters{
		Forwarded:    c.forwarded.Load(),
		SocketSent:   c.socketSent.Load(),
		SocketFailed: c.socketFailed.Load(),
		Posted:       c.posted.Load(),
		PostFailed:   c.postFailed.Load(),
		Commands:     c.commands.Load(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
