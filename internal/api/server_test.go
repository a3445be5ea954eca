package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/filaman/spoolscale/internal/credential"
	"github.com/filaman/spoolscale/internal/device"
	"github.com/filaman/spoolscale/internal/dispatch"
	"github.com/filaman/spoolscale/internal/infrastructure/config"
	"github.com/filaman/spoolscale/internal/infrastructure/logging"
	"github.com/filaman/spoolscale/internal/orchestrator"
	"github.com/filaman/spoolscale/internal/printer"
	"github.com/filaman/spoolscale/internal/tag"
)

type fakeTags struct {
	mu      sync.Mutex
	writing bool
	err     error
	reqs    []tag.WriteRequest
}

func (f *fakeTags) BeginWrite(req tag.WriteRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.reqs = append(f.reqs, req)
	return nil
}

func (f *fakeTags) Writing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writing
}

type fakeIntents struct {
	mu     sync.Mutex
	got    []orchestrator.Intent
	refuse bool
}

func (f *fakeIntents) Submit(i orchestrator.Intent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refuse {
		return false
	}
	f.got = append(f.got, i)
	return true
}

func (f *fakeIntents) intents() []orchestrator.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.Intent(nil), f.got...)
}

type fakePrinter struct {
	got []printer.SpoolSetting
	err error
}

func (f *fakePrinter) SetSpool(s printer.SpoolSetting) error {
	f.got = append(f.got, s)
	return f.err
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	reg     *device.Registry
	queue   *dispatch.Queue
	tags    *fakeTags
	intents *fakeIntents
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	reg := device.NewRegistry(device.State{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go reg.Run(ctx) //nolint:errcheck // Stopped at cleanup

	env := &testEnv{
		reg:     reg,
		queue:   dispatch.NewQueue(4, 10*time.Millisecond),
		tags:    &fakeTags{},
		intents: &fakeIntents{},
	}
	deps := Deps{
		Logger:      logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard),
		State:       reg,
		Credentials: credential.NewHolder(nil, credential.Credential{BackendURL: "http://filaman.local", DeviceToken: "tok", Registered: true}),
		Queue:       env.queue,
		Tags:        env.tags,
		Intents:     env.intents,
		Version:     "1.2.0",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	env.srv = srv
	env.handler = srv.buildRouter()
	return env
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) error = nil, want error")
	}
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	rec = env.do(http.MethodGet, "/api/version", "")
	if got := decode[map[string]string](t, rec)["version"]; got != "1.2.0" {
		t.Errorf("version = %q, want 1.2.0", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestGetConfig(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/config", "")
	got := decode[ConfigResponse](t, rec)
	want := ConfigResponse{URL: "http://filaman.local", Registered: true}
	if got != want {
		t.Errorf("config = %+v, want %+v", got, want)
	}
}

// replyNext claims the next queued request and answers it with err.
func replyNext(t *testing.T, q *dispatch.Queue, err error) <-chan dispatch.Request {
	t.Helper()
	out := make(chan dispatch.Request, 1)
	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if r, ok := q.Claim(10 * time.Millisecond); ok {
				r.Reply <- err
				out <- r
				return
			}
			time.Sleep(time.Millisecond)
		}
		close(out)
	}()
	return out
}

func TestRegister(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t, nil)
		claimed := replyNext(t, env.queue, nil)

		rec := env.do(http.MethodPost, "/api/register", `{"url":"http://new.local","code":"ABC123"}`)
		if rec.Code != http.StatusOK || !decode[ResultResponse](t, rec).Success {
			t.Fatalf("register = %d %s, want 200 success", rec.Code, rec.Body.String())
		}
		r := <-claimed
		if r.Kind != dispatch.KindRegister || r.BackendURL != "http://new.local" || r.DeviceCode != "ABC123" {
			t.Errorf("queued request = %+v", r)
		}
	})

	t.Run("backend rejects code", func(t *testing.T) {
		env := newTestEnv(t, nil)
		replyNext(t, env.queue, errors.New("backend: request failed"))

		rec := env.do(http.MethodPost, "/api/register", `{"url":"http://new.local","code":"BAD"}`)
		got := decode[ResultResponse](t, rec)
		if rec.Code != http.StatusBadRequest || got.Success {
			t.Errorf("register = %d %+v, want 400 failure", rec.Code, got)
		}
	})

	t.Run("dispatcher never answers", func(t *testing.T) {
		env := newTestEnv(t, func(d *Deps) { d.RegisterTimeout = 20 * time.Millisecond })

		rec := env.do(http.MethodPost, "/api/register", `{"code":"ABC123"}`)
		if rec.Code != http.StatusGatewayTimeout {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusGatewayTimeout)
		}
	})

	t.Run("queue full", func(t *testing.T) {
		env := newTestEnv(t, nil)
		for i := 0; i < env.queue.Cap(); i++ {
			env.queue.Enqueue(dispatch.WeightUpdate("1", "", float64(i)))
		}

		rec := env.do(http.MethodPost, "/api/register", `{"code":"ABC123"}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("bad input", func(t *testing.T) {
		env := newTestEnv(t, nil)
		for _, body := range []string{`{`, `{"url":"http://x"}`} {
			rec := env.do(http.MethodPost, "/api/register", body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("register(%s) status = %d, want 400", body, rec.Code)
			}
		}
		if env.queue.Len() != 0 {
			t.Errorf("queue length = %d, want 0", env.queue.Len())
		}
	})
}

func TestRfidWrite(t *testing.T) {
	t.Run("spool tag", func(t *testing.T) {
		env := newTestEnv(t, nil)

		rec := env.do(http.MethodPost, "/api/v1/rfid/write", `{"spool_id":12,"sm_id":12,"type":"PLA"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		req := env.tags.reqs[0]
		if !req.SpoolTag || req.SpoolID != "12" || !req.ReportResult {
			t.Errorf("write request = %+v", req)
		}
	})

	t.Run("location tag", func(t *testing.T) {
		env := newTestEnv(t, nil)

		env.do(http.MethodPost, "/api/v1/rfid/write", `{"location_id":"4"}`)
		req := env.tags.reqs[0]
		if req.SpoolTag || req.LocationID != "4" {
			t.Errorf("write request = %+v", req)
		}
	})

	t.Run("write in progress", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.tags.writing = true

		rec := env.do(http.MethodPost, "/api/v1/rfid/write", `{"spool_id":1}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
		if got := decode[Error](t, rec).Detail; got != "NFC busy" {
			t.Errorf("error = %q, want %q", got, "NFC busy")
		}
	})

	t.Run("coordinator refuses", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.tags.err = tag.ErrTagBusy

		rec := env.do(http.MethodPost, "/api/v1/rfid/write", `{"spool_id":1}`)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("not an object", func(t *testing.T) {
		env := newTestEnv(t, nil)
		for _, body := range []string{`[1,2]`, `nope`} {
			if rec := env.do(http.MethodPost, "/api/v1/rfid/write", body); rec.Code != http.StatusBadRequest {
				t.Errorf("write(%s) status = %d, want 400", body, rec.Code)
			}
		}
	})
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}
	})

	if rec := env.do(http.MethodPost, "/api/v1/rfid/write", `{"spool_id":1}`); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", rec.Code)
	}
	if rec := env.do(http.MethodPost, "/api/v1/rfid/write", `{"spool_id":1}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/config", ""); rec.Code != http.StatusOK {
		t.Errorf("read status = %d, want 200", rec.Code)
	}
}

func TestOnWriteOutcome(t *testing.T) {
	env := newTestEnv(t, nil)

	env.srv.OnWriteOutcome(tag.WriteOutcome{Request: tag.WriteRequest{SpoolTag: true}})
	if env.queue.Len() != 0 {
		t.Fatalf("UI write queued a result")
	}

	env.srv.OnWriteOutcome(tag.WriteOutcome{
		Request: tag.WriteRequest{SpoolID: "12", ReportResult: true},
		TagUUID: "04AA",
	})
	env.srv.OnWriteOutcome(tag.WriteOutcome{
		Request: tag.WriteRequest{LocationID: "3", ReportResult: true},
		Err:     errors.New("tag lost"),
	})

	first, _ := env.queue.Claim(time.Millisecond)
	if first.Kind != dispatch.KindRfidResult || !first.Success || first.TagUUID != "04AA" || first.SpoolID != "12" {
		t.Errorf("first result = %+v", first)
	}
	failed, _ := env.queue.Claim(time.Millisecond)
	if failed.Success || failed.ErrorMessage != "tag lost" || failed.LocationID != "3" {
		t.Errorf("second result = %+v", failed)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.MQTTConnected = func() bool { return true } })
	env.queue.Enqueue(dispatch.Heartbeat())

	rec := env.do(http.MethodGet, "/api/v1/metrics", "")
	m := decode[SystemMetrics](t, rec)
	if m.Queue.Pending != 1 || m.Queue.Enqueued != 1 {
		t.Errorf("queue metrics = %+v", m.Queue)
	}
	if !m.MQTT.Connected || m.Version != "1.2.0" {
		t.Errorf("metrics = %+v", m)
	}
}

func TestNfcDataFor(t *testing.T) {
	tests := []struct {
		state device.TagState
		want  string
	}{
		{device.TagIdle, `{"type":"nfcData","payload":{}}`},
		{device.TagReadSuccess, `{"type":"nfcData","payload":{"sm_id":1}}`},
		{device.TagReadError, `{"type":"nfcData","payload":{"error":"Read Error"}}`},
		{device.TagWriting, `{"type":"nfcData","payload":{"info":"Writing..."}}`},
		{device.TagWriteSuccess, `{"type":"nfcData","payload":{"info":"Success"}}`},
		{device.TagWriteError, `{"type":"nfcData","payload":{"error":"Write Error"}}`},
	}
	for _, tt := range tests {
		msg := nfcDataFor(tt.state, json.RawMessage(`{"sm_id":1}`))
		got, err := json.Marshal(msg)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("nfcDataFor(%v) = %s, want %s", tt.state, got, tt.want)
		}
	}
	if msg := nfcDataFor(device.TagReading, nil); msg != nil {
		t.Errorf("nfcDataFor(reading) = %+v, want nil", msg)
	}
}

// listen registers a connectionless client on the hub.
func listen(env *testEnv) *WSClient {
	c := &WSClient{hub: env.srv.hub, server: env.srv, send: make(chan []byte, 32)}
	env.srv.hub.Register(c)
	return c
}

func drain(c *WSClient) []string {
	var out []string
	for {
		select {
		case m := <-c.send:
			out = append(out, string(m))
		default:
			return out
		}
	}
}

func TestRelay(t *testing.T) {
	env := newTestEnv(t, nil)
	c := listen(env)

	env.srv.relay(device.Change{Fields: device.FieldWeight, State: device.State{Weight: 812}})
	env.srv.relay(device.Change{Fields: device.FieldTag, State: device.State{
		TagState:   device.TagReadSuccess,
		TagPayload: json.RawMessage(`{"sm_id":5}`),
	}})
	// Same tag state again: only TagProcessed changed.
	env.srv.relay(device.Change{Fields: device.FieldTag, State: device.State{
		TagState:     device.TagReadSuccess,
		TagPayload:   json.RawMessage(`{"sm_id":5}`),
		TagProcessed: true,
	}})

	want := []string{
		`{"type":"weight","value":812}`,
		`{"type":"nfcData","payload":{"sm_id":5}}`,
		`{"type":"nfcTag","payload":{"found":1}}`,
	}
	got := drain(c)
	if len(got) != len(want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestClientMessages(t *testing.T) {
	t.Run("scale commands", func(t *testing.T) {
		env := newTestEnv(t, nil)
		c := listen(env)

		env.srv.handleClientMessage(c, []byte(`{"type":"scale","payload":"tare"}`))
		env.srv.handleClientMessage(c, []byte(`{"type":"scale","payload":"setAutoTare","enabled":true}`))
		env.srv.handleClientMessage(c, []byte(`{"type":"reconnect","payload":"filaman"}`))

		want := []orchestrator.Intent{
			{Kind: orchestrator.IntentTare},
			{Kind: orchestrator.IntentSetAutoTare, Enabled: true},
			{Kind: orchestrator.IntentReconnect},
		}
		got := env.intents.intents()
		if len(got) != len(want) {
			t.Fatalf("intents = %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("intent %d = %+v, want %+v", i, got[i], want[i])
			}
		}
		msgs := drain(c)
		if len(msgs) != 2 || msgs[0] != `{"type":"scale","payload":"success"}` {
			t.Errorf("replies = %v", msgs)
		}
	})

	t.Run("unknown scale command", func(t *testing.T) {
		env := newTestEnv(t, nil)
		c := listen(env)
		env.srv.handleClientMessage(c, []byte(`{"type":"scale","payload":"explode"}`))
		if msgs := drain(c); len(msgs) != 1 || msgs[0] != `{"type":"scale","payload":"error"}` {
			t.Errorf("replies = %v", msgs)
		}
	})

	t.Run("write from UI", func(t *testing.T) {
		env := newTestEnv(t, nil)
		c := listen(env)
		env.srv.handleClientMessage(c, []byte(`{"type":"writeNfcTag","tagType":"spool","payload":{"sm_id":7}}`))

		if len(env.tags.reqs) != 1 || !env.tags.reqs[0].SpoolTag || env.tags.reqs[0].ReportResult {
			t.Errorf("write requests = %+v", env.tags.reqs)
		}

		env.tags.err = tag.ErrTagBusy
		env.srv.handleClientMessage(c, []byte(`{"type":"writeNfcTag","tagType":"spool","payload":{"sm_id":7}}`))
		if msgs := drain(c); len(msgs) != 1 || msgs[0] != `{"type":"writeNfcTag","success":0}` {
			t.Errorf("replies = %v", msgs)
		}
	})

	t.Run("printer spool", func(t *testing.T) {
		fp := &fakePrinter{}
		env := newTestEnv(t, func(d *Deps) { d.Printer = fp })
		c := listen(env)
		env.srv.handleClientMessage(c, []byte(`{"type":"setBambuSpool","payload":{"amsId":0,"trayId":2,"type":"PLA","color":"FF0000"}}`))

		if len(fp.got) != 1 || fp.got[0].TrayID != 2 || fp.got[0].Type != "PLA" {
			t.Errorf("SetSpool calls = %+v", fp.got)
		}
		if msgs := drain(c); len(msgs) != 1 || msgs[0] != `{"type":"setBambuSpool","payload":"success"}` {
			t.Errorf("replies = %v", msgs)
		}
	})

	t.Run("printer not configured", func(t *testing.T) {
		env := newTestEnv(t, nil)
		c := listen(env)
		env.srv.handleClientMessage(c, []byte(`{"type":"setBambuSpool","payload":{}}`))
		if msgs := drain(c); len(msgs) != 1 || msgs[0] != `{"type":"setBambuSpool","payload":"error"}` {
			t.Errorf("replies = %v", msgs)
		}
	})
}

func TestWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.reg.SetBackendConnected(true); err != nil {
		t.Fatalf("SetBackendConnected() error = %v", err)
	}

	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	read := func() map[string]any {
		t.Helper()
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage() error = %v", err)
		}
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		return m
	}

	if m := read(); m["type"] != WSTypeNfcData {
		t.Errorf("first message = %v, want nfcData", m)
	}
	if m := read(); m["type"] != WSTypeNfcTag {
		t.Errorf("second message = %v, want nfcTag", m)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	hb := read()
	if hb["type"] != WSTypeHeartbeat || hb["filaman_connected"] != true || hb["registered"] != false {
		t.Errorf("heartbeat reply = %v", hb)
	}
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(60, 2)
	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatal("burst not allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Error("third request allowed within burst window")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("other client limited")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil))
	r.RemoteAddr = "192.168.1.20:51234"
	if got := clientIP(r); got != "192.168.1.20" {
		t.Errorf("clientIP() = %q, want 192.168.1.20", got)
	}
	r.RemoteAddr = "garbage"
	if got := clientIP(r); got != "garbage" {
		t.Errorf("clientIP() = %q, want garbage", got)
	}
}

func TestWebPages(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Spool Scale") {
		t.Errorf("GET / = %d %q, want built-in page", rec.Code, rec.Body.String())
	}
	if rec := env.do(http.MethodGet, "/api/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /api/nope = %d, want 404", rec.Code)
	}
}
