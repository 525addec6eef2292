package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keypad-relay/keypad-relay-server/internal/models"
	"github.com/keypad-relay/keypad-relay-server/internal/protocol"
	"github.com/keypad-relay/keypad-relay-server/internal/sdk"
)

type fakeDevice struct {
	mu        sync.Mutex
	codes     []int
	calls     []time.Time
	connected bool
	votes     []string
	params    []string
	events    chan sdk.Event
}

func newFakeDevice(codes ...int) *fakeDevice {
	return &fakeDevice{codes: codes, events: make(chan sdk.Event, 8)}
}

func (d *fakeDevice) Connect(connType int, connStr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, time.Now())
	if len(d.codes) == 0 {
		return 0
	}
	code := d.codes[0]
	if len(d.codes) > 1 {
		d.codes = d.codes[1:]
	}
	return code
}

func (d *fakeDevice) Disconnect(baseID int) int { return 0 }

func (d *fakeDevice) StartVote(baseID, voteType int, config string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.votes = append(d.votes, "start:"+config)
	return 0
}

func (d *fakeDevice) StopVote(baseID int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.votes = append(d.votes, "stop")
	return 0
}

func (d *fakeDevice) recordParam(call string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = append(d.params, call)
	return 0
}

func (d *fakeDevice) ReadHDParam(baseID, mode int) int {
	return d.recordParam(fmt.Sprintf("read_hd:%d,%d", baseID, mode))
}

func (d *fakeDevice) WriteHDParam(baseID, mode int, value string) int {
	return d.recordParam(fmt.Sprintf("write_hd:%d,%d,%s", baseID, mode, value))
}

func (d *fakeDevice) ReadKeypadParam(baseID, keyID int, keySN string, mode int) int {
	return d.recordParam(fmt.Sprintf("read_keypad:%d,%d,%s,%d", baseID, keyID, keySN, mode))
}

func (d *fakeDevice) WriteKeypadParam(baseID, keyID int, keySN string, mode int, value string) int {
	return d.recordParam(fmt.Sprintf("write_keypad:%d,%d,%s,%d,%s", baseID, keyID, keySN, mode, value))
}

func (d *fakeDevice) paramLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.params...)
}

func (d *fakeDevice) Events() <-chan sdk.Event { return d.events }

func (d *fakeDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDevice) callTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.calls...)
}

func (d *fakeDevice) voteLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.votes...)
}

func noSleep(context.Context, time.Duration) error { return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectWithRetry_StopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(-1)
	c := NewClient(dev, Options{})

	backoff := 30 * time.Millisecond
	if c.ConnectWithRetry(context.Background(), 2, "", 5, backoff) {
		t.Fatal("expected ConnectWithRetry to fail")
	}

	calls := dev.callTimes()
	if len(calls) != 5 {
		t.Fatalf("expected 5 connect attempts, got %d", len(calls))
	}
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].Sub(calls[i-1]); gap < backoff {
			t.Fatalf("attempts %d and %d only %v apart", i, i+1, gap)
		}
	}
	if c.Connecting() {
		t.Fatal("in-progress flag should be cleared after failures")
	}
}

func TestConnectWithRetry_SucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	var slept []time.Duration
	dev := newFakeDevice(-1, -1, 0)
	c := NewClient(dev, Options{Sleep: func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}})

	if !c.ConnectWithRetry(context.Background(), 2, "", 5, 2*time.Second) {
		t.Fatal("expected ConnectWithRetry to succeed")
	}
	if n := len(dev.callTimes()); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
	if len(slept) != 2 || slept[0] != 2*time.Second {
		t.Fatalf("unexpected backoff sleeps %v", slept)
	}
}

func TestConnectWithRetry_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dev := newFakeDevice(-1)
	c := NewClient(dev, Options{})
	if c.ConnectWithRetry(ctx, 2, "", 5, time.Hour) {
		t.Fatal("expected cancelled retry to fail")
	}
	if n := len(dev.callTimes()); n != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", n)
	}
}

func TestConnectDevice_GuardsInProgress(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(0)
	c := NewClient(dev, Options{Mode: ModeHTTP, BackendURL: "http://127.0.0.1:1", PostAttempts: 1, Sleep: noSleep})

	if code := c.ConnectDevice(2, ""); code != 0 {
		t.Fatalf("expected first connect to be accepted, got %d", code)
	}
	if !c.Connecting() {
		t.Fatal("expected in-progress flag after accepted connect")
	}
	if code := c.ConnectDevice(2, ""); code != ResultAlreadyConnecting {
		t.Fatalf("expected already-connecting result, got %d", code)
	}
	if n := len(dev.callTimes()); n != 1 {
		t.Fatalf("expected one native connect, got %d", n)
	}

	c.forward(context.Background(), sdk.ConnectEvent{BaseID: 1, Info: "1", ReceivedAt: time.Now()})
	if c.Connecting() {
		t.Fatal("connect event should clear the in-progress flag")
	}
}

func TestConnectDevice_AlreadyConnected(t *testing.T) {
	t.Parallel()

	dev := newFakeDevice(0)
	dev.connected = true
	c := NewClient(dev, Options{})

	if code := c.ConnectDevice(2, ""); code != ResultAlreadyConnecting {
		t.Fatalf("expected already-connecting result, got %d", code)
	}
	if n := len(dev.callTimes()); n != 0 {
		t.Fatalf("expected no native connect, got %d", n)
	}
}

func TestPostEvent_RetriesUntilCreated(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	var path string
	var body map[string]interface{}
	var mu sync.Mutex

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		mu.Lock()
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	c := NewClient(newFakeDevice(), Options{BackendURL: backend.URL + "/", Sleep: noSleep})
	keyID := 7
	payload := map[string]interface{}{"base_id": 1, "key_id": keyID, "info": "A"}

	if !c.PostEvent(context.Background(), "key-events", payload) {
		t.Fatal("expected post to succeed on third attempt")
	}
	if n := hits.Load(); n != 3 {
		t.Fatalf("expected 3 requests, got %d", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/api/key-events/create/" {
		t.Fatalf("unexpected path %q", path)
	}
	if body["key_id"] != float64(7) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestPostEvent_OnlyCreatedCountsAsSuccess(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	c := NewClient(newFakeDevice(), Options{BackendURL: backend.URL, Sleep: noSleep})
	if c.PostEvent(context.Background(), "vote-events", map[string]int{"base_id": 1}) {
		t.Fatal("expected 200 to be treated as failure")
	}
	if n := hits.Load(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
	if s := c.Stats(); s.PostFailed != 1 || s.Posted != 0 {
		t.Fatalf("unexpected counters %+v", s)
	}
}

// relayPeer accepts one client connection and exposes it line by line
type relayPeer struct {
	ln   net.Listener
	conn chan net.Conn
}

func newRelayPeer(t *testing.T) *relayPeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &relayPeer{ln: ln, conn: make(chan net.Conn, 1)}
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			p.conn <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return p
}

func (p *relayPeer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-p.conn:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("client never connected")
	}
	return nil
}

func TestClient_AnswersPingAndRunsCommands(t *testing.T) {
	t.Parallel()

	peer := newRelayPeer(t)
	dev := newFakeDevice()
	c := NewClient(dev, Options{ServerAddr: peer.ln.Addr().String(), VoteConfig: "3,1,0,0,4,1"})
	defer c.Close()

	if err := c.Dial(context.Background()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := peer.accept(t)

	conn.Write([]byte("{\"type\":\"ping\",\"timestamp\":1}\n"))
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	msg, err := protocol.Decode(line)
	if err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if _, ok := msg.(protocol.Pong); !ok {
		t.Fatalf("expected pong, got %T", msg)
	}

	for _, cmd := range []protocol.Command{
		protocol.NewCommand(protocol.ActionStartVote, 0, 10, "1,1,0,0,4,1"),
		protocol.NewCommand(protocol.ActionStopVote, 0, 0, ""),
		protocol.NewCommand(protocol.ActionResetVote, 0, 10, "2,1,0,0,4,1"),
	} {
		out, err := protocol.Encode(cmd)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		conn.Write(out)
	}

	// reset_vote arrives with null params and restarts with the client's own config
	waitFor(t, "commands", func() bool { return len(dev.voteLog()) == 4 })
	want := []string{"start:1,1,0,0,4,1", "stop", "stop", "start:3,1,0,0,4,1"}
	for i, got := range dev.voteLog() {
		if got != want[i] {
			t.Fatalf("vote call %d: got %q, want %q", i, got, want[i])
		}
	}
}

func TestRun_StampsKeyEventsOverSocket(t *testing.T) {
	t.Parallel()

	peer := newRelayPeer(t)
	dev := newFakeDevice()
	c := NewClient(dev, Options{ServerAddr: peer.ln.Addr().String()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	dev.events <- sdk.KeyEvent{BaseID: 1, KeyID: 12, KeySN: "SN12", Mode: 1, Timestamp: 99.5, Info: "A", ReceivedAt: time.Now()}

	conn := peer.accept(t)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	msg, err := protocol.Decode(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ev, ok := msg.(protocol.KeyEvent)
	if !ok {
		t.Fatalf("expected key event, got %T", msg)
	}
	if ev.Data.EventType != "real_hardware" || ev.Data.ClientTimestamp == "" {
		t.Fatalf("event not stamped: %+v", ev.Data)
	}
	if ev.Data.KeyID == nil || *ev.Data.KeyID != 12 || ev.Data.SDKTimestamp != 99.5 {
		t.Fatalf("unexpected event data %+v", ev.Data)
	}
}

func TestRun_FallsBackToHTTPWhenRelayDown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadAddr := ln.Addr().String()
	ln.Close()

	var paths sync.Map
	var hits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths.Store(r.URL.Path, true)
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer backend.Close()

	dev := newFakeDevice()
	c := NewClient(dev, Options{
		ServerAddr:   deadAddr,
		BackendURL:   backend.URL,
		HTTPFallback: true,
		DialTimeout:  time.Second,
		Sleep:        noSleep,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	dev.events <- sdk.VoteEvent{BaseID: 1, Mode: 1, Info: "started", ReceivedAt: time.Now()}

	waitFor(t, "fallback post", func() bool { return c.Stats().Posted == 1 })
	if _, ok := paths.Load("/api/vote-events/create/"); !ok {
		t.Fatal("expected post to vote-events endpoint")
	}
	if s := c.Stats(); s.SocketFailed != 1 || hits.Load() != 1 {
		t.Fatalf("unexpected counters %+v", s)
	}
}

func TestConnectWithRetry_AlreadyConnectingIsNotRetried(t *testing.T) {
	t.Parallel()

	var slept int
	dev := newFakeDevice(0)
	c := NewClient(dev, Options{Sleep: func(context.Context, time.Duration) error {
		slept++
		return nil
	}})

	if code := c.ConnectDevice(2, ""); code != 0 {
		t.Fatalf("expected first connect to be accepted, got %d", code)
	}
	if !c.ConnectWithRetry(context.Background(), 2, "", 5, time.Second) {
		t.Fatal("a connect in progress should count as success")
	}
	if n := len(dev.callTimes()); n != 1 {
		t.Fatalf("expected one native connect, got %d", n)
	}
	if slept != 0 {
		t.Fatalf("expected no backoff, slept %d times", slept)
	}
	if ResultAlreadyConnecting == 0 {
		t.Fatal("already-connecting result must differ from an accepted connect")
	}
}

func TestToMessage_UsesCallbackTime(t *testing.T) {
	t.Parallel()

	c := NewClient(newFakeDevice(), Options{})
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	want := models.FormatTimestamp(at)

	if m, ok := c.toMessage(sdk.ConnectEvent{BaseID: 1, Info: "1", ReceivedAt: at}).(protocol.ConnectEvent); !ok || m.Data.Timestamp != want {
		t.Fatalf("connect event stamped %+v, want %s", m, want)
	}
	if m, ok := c.toMessage(sdk.VoteEvent{BaseID: 1, ReceivedAt: at}).(protocol.VoteEvent); !ok || m.Data.Timestamp != want {
		t.Fatalf("vote event stamped %+v, want %s", m, want)
	}
	if m, ok := c.toMessage(sdk.HDParamEvent{BaseID: 1, ReceivedAt: at}).(protocol.HDParamEvent); !ok || m.Data.Timestamp != want {
		t.Fatalf("hd param event stamped %+v, want %s", m, want)
	}
	if m, ok := c.toMessage(sdk.KeypadParamEvent{BaseID: 1, KeyID: 4, ReceivedAt: at}).(protocol.KeypadParamEvent); !ok || m.Data.Timestamp != want {
		t.Fatalf("keypad param event stamped %+v, want %s", m, want)
	}
}

func TestClient_RunsParamCommands(t *testing.T) {
	t.Parallel()

	peer := newRelayPeer(t)
	dev := newFakeDevice()
	c := NewClient(dev, Options{ServerAddr: peer.ln.Addr().String()})
	defer c.Close()

	if err := c.Dial(context.Background()); err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn := peer.accept(t)

	for _, cmd := range []protocol.Command{
		protocol.NewParamCommand(protocol.ActionReadHDParam, 1, protocol.ParamRequest{Mode: 5}),
		protocol.NewParamCommand(protocol.ActionWriteHDParam, 1, protocol.ParamRequest{Mode: 5, Value: "42"}),
		protocol.NewParamCommand(protocol.ActionReadKeypadParam, 1, protocol.ParamRequest{Mode: 2, KeyID: 7, KeySN: "SN7"}),
		protocol.NewParamCommand(protocol.ActionWriteKeypadParam, 1, protocol.ParamRequest{Mode: 2, KeyID: 7, KeySN: "SN7", Value: "on"}),
	} {
		out, err := protocol.Encode(cmd)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		conn.Write(out)
	}

	waitFor(t, "param commands", func() bool { return len(dev.paramLog()) == 4 })
	want := []string{"read_hd:1,5", "write_hd:1,5,42", "read_keypad:1,7,SN7,2", "write_keypad:1,7,SN7,2,on"}
	for i, got := range dev.paramLog() {
		if got != want[i] {
			t.Fatalf("param call %d: got %q, want %q", i, got, want[i])
		}
	}
	if n := len(dev.voteLog()); n != 0 {
		t.Fatalf("param commands should not touch the vote session, got %d calls", n)
	}
	if c.Stats().Commands != 4 {
		t.Fatalf("Commands=%d want 4", c.Stats().Commands)
	}
}
