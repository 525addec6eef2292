// Package sdk wraps the vendor keypad SDK. Native callbacks are decoded into
// typed events and handed to a bounded queue; they never block and never
// panic back into vendor code.
package sdk

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
)

// AutoStart configures the vote session started when a base reports ready
type AutoStart struct {
	Enabled     bool
	TriggerInfo string
	BaseID      int
	VoteType    int
	Config      string
}

// DefaultAutoStart matches the vendor convention: info "1" means ready
func DefaultAutoStart() AutoStart {
	return AutoStart{
		Enabled:     true,
		TriggerInfo: "1",
		BaseID:      0,
		VoteType:    10,
		Config:      "1,1,0,0,4,1",
	}
}

// Options configure an Adapter
type Options struct {
	QueueSize          int
	LicenseKind        int
	InitialConnType    int
	InitialConnString  string
	SkipInitialConnect bool
	AutoStart          AutoStart
}

// Adapter presents the vendor library as a typed event source
type Adapter struct {
	lib    Library
	opts   Options
	events chan Event

	connected  atomic.Bool
	closed     atomic.Bool
	dropped    atomic.Uint64
	malformed  atomic.Uint64
	autoStarts atomic.Uint64
}

// NewAdapter creates an adapter around lib. Callbacks are not registered
// until Initialize.
func NewAdapter(lib Library, opts Options) *Adapter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.LicenseKind == 0 {
		opts.LicenseKind = 1
	}
	if opts.InitialConnType == 0 {
		opts.InitialConnType = ConnTypeNetwork
	}
	if opts.AutoStart.TriggerInfo == "" {
		opts.AutoStart.TriggerInfo = "1"
	}

	return &Adapter{
		lib:    lib,
		opts:   opts,
		events: make(chan Event, opts.QueueSize),
	}
}

// Initialize registers the five callbacks, activates the license, sets the
// vendor log level and issues the initial connect.
func (a *Adapter) Initialize(licenseKey string, logLevel int) error {
	a.lib.RegisterCallbacks(Callbacks{
		Connect:     a.onConnect,
		Vote:        a.onVote,
		Key:         a.onKey,
		HDParam:     a.onHDParam,
		KeypadParam: a.onKeypadParam,
	})

	if code := a.lib.License(a.opts.LicenseKind, licenseKey); code != 0 {
		return &AdapterInitError{Op: "license", Code: code}
	}

	a.lib.SetLogOn(logLevel)

	if !a.opts.SkipInitialConnect {
		code := a.lib.Connect(a.opts.InitialConnType, a.opts.InitialConnString)
		log.Info().
			Int("conn_type", a.opts.InitialConnType).
			Int("result", code).
			Msg("Initial device connect requested")
	}

	log.Info().Int("log_level", logLevel).Msg("SDK initialized")
	return nil
}

// Connect requests a connection; the outcome arrives via the connect callback
func (a *Adapter) Connect(connType int, connStr string) int {
	return a.lib.Connect(connType, connStr)
}

// Disconnect releases the native connection of a base
func (a *Adapter) Disconnect(baseID int) int {
	a.connected.Store(false)
	return a.lib.Disconnect(baseID)
}

// StartVote starts a vote session; config is passed through verbatim
func (a *Adapter) StartVote(baseID, voteType int, config string) int {
	code := a.lib.VoteStart(baseID, voteType, config)
	log.Info().
		Int("base_id", baseID).
		Int("vote_type", voteType).
		Str("config", config).
		Int("result", code).
		Msg("Vote start requested")
	return code
}

// StopVote stops the vote session of a base
func (a *Adapter) StopVote(baseID int) int {
	code := a.lib.VoteStop(baseID)
	log.Info().Int("base_id", baseID).Int("result", code).Msg("Vote stop requested")
	return code
}

// ReadHDParam asks the base for a parameter; the value arrives as an
// HDParamEvent
func (a *Adapter) ReadHDParam(baseID, mode int) int {
	code := a.lib.ReadHDParam(baseID, mode)
	log.Info().Int("base_id", baseID).Int("mode", mode).Int("result", code).Msg("Base param read requested")
	return code
}

// WriteHDParam writes a base parameter
func (a *Adapter) WriteHDParam(baseID, mode int, value string) int {
	code := a.lib.WriteHDParam(baseID, mode, value)
	log.Info().
		Int("base_id", baseID).
		Int("mode", mode).
		Str("value", value).
		Int("result", code).
		Msg("Base param write requested")
	return code
}

// ReadKeypadParam asks a keypad for a parameter; the value arrives as a
// KeypadParamEvent
func (a *Adapter) ReadKeypadParam(baseID, keyID int, keySN string, mode int) int {
	code := a.lib.ReadKeypadParam(baseID, keyID, keySN, mode, "")
	log.Info().
		Int("base_id", baseID).
		Int("key_id", keyID).
		Str("key_sn", keySN).
		Int("mode", mode).
		Int("result", code).
		Msg("Keypad param read requested")
	return code
}

// WriteKeypadParam writes a keypad parameter
func (a *Adapter) WriteKeypadParam(baseID, keyID int, keySN string, mode int, value string) int {
	code := a.lib.WriteKeypadParam(baseID, keyID, keySN, mode, value)
	log.Info().
		Int("base_id", baseID).
		Int("key_id", keyID).
		Str("key_sn", keySN).
		Int("mode", mode).
		Str("value", value).
		Int("result", code).
		Msg("Keypad param write requested")
	return code
}

// Events returns the queue fed by native callbacks
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Connected reports whether the last connect callback reported a ready base
func (a *Adapter) Connected() bool {
	return a.connected.Load()
}

// Dropped returns the number of events lost to a full queue
func (a *Adapter) Dropped() uint64 {
	return a.dropped.Load()
}

// Malformed returns the number of callbacks dropped for undecodable text
func (a *Adapter) Malformed() uint64 {
	return a.malformed.Load()
}

// AutoStarts returns how many vote sessions were started by ready callbacks
func (a *Adapter) AutoStarts() uint64 {
	return a.autoStarts.Load()
}

// Close stops accepting callbacks and unloads the library
func (a *Adapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.lib.Close()
}

func (a *Adapter) enqueue(ev Event) {
	if a.closed.Load() {
		return
	}
	select {
	case a.events <- ev:
	default:
		n := a.dropped.Add(1)
		log.Warn().
			Str("kind", string(ev.Kind())).
			Uint64("dropped", n).
			Msg("Event queue full, dropping event")
	}
}

func (a *Adapter) guard(callback string) {
	if r := recover(); r != nil {
		log.Error().Str("callback", callback).Interface("panic", r).Msg("Recovered panic in SDK callback")
	}
}

func (a *Adapter) malformedEvent(err error) {
	a.malformed.Add(1)
	log.Warn().Err(err).Msg("Dropping malformed SDK callback")
}

func (a *Adapter) onConnect(baseID, mode int, info []byte) {
	defer a.guard("connect")

	ev, err := DecodeConnect(baseID, mode, info)
	if err != nil {
		a.malformedEvent(err)
		return
	}

	log.Info().Int("base_id", ev.BaseID).Int("mode", ev.Mode).Str("info", ev.Info).Msg("Device connect callback")

	conn := models.DeviceConnection{BaseID: ev.BaseID, Mode: ev.Mode, Info: ev.Info}
	a.connected.Store(models.StatusFromInfo(conn.Info) == models.DeviceStatusConnected)

	// queue first so the relay sees the connect before any vote callback
	a.enqueue(ev)

	if as := a.opts.AutoStart; as.Enabled && conn.Ready(as.TriggerInfo) {
		a.autoStarts.Add(1)
		log.Info().Int("base_id", as.BaseID).Msg("Base ready, auto-starting vote session")
		a.StartVote(as.BaseID, as.VoteType, as.Config)
	}
}

func (a *Adapter) onVote(baseID, mode int, info []byte) {
	defer a.guard("vote")

	ev, err := DecodeVote(baseID, mode, info)
	if err != nil {
		a.malformedEvent(err)
		return
	}
	log.Debug().Int("base_id", ev.BaseID).Int("mode", ev.Mode).Str("info", ev.Info).Msg("Vote callback")
	a.enqueue(ev)
}

func (a *Adapter) onKey(baseID, keyID int, keySN []byte, mode int, ts float64, info []byte) {
	defer a.guard("key")

	ev, err := DecodeKey(baseID, keyID, keySN, mode, ts, info)
	if err != nil {
		a.malformedEvent(err)
		return
	}
	log.Debug().
		Int("base_id", ev.BaseID).
		Int("key_id", ev.KeyID).
		Str("key_sn", ev.KeySN).
		Float64("ts", ev.Timestamp).
		Str("info", ev.Info).
		Msg("Key callback")
	a.enqueue(ev)
}

func (a *Adapter) onHDParam(baseID, mode int, info []byte) {
	defer a.guard("hd_param")

	ev, err := DecodeHDParam(baseID, mode, info)
	if err != nil {
		a.malformedEvent(err)
		return
	}
	a.enqueue(ev)
}

func (a *Adapter) onKeypadParam(baseID, keyID int, keySN []byte, mode int, info []byte) {
	defer a.guard("keypad_param")

	ev, err := DecodeKeypadParam(baseID, keyID, keySN, mode, info)
	if err != nil {
		a.malformedEvent(err)
		return
	}
	a.enqueue(ev)
}
