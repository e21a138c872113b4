package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-feature/flagwatch/pkg/model"
	"github.com/open-feature/flagwatch/pkg/telemetry"
	"github.com/open-feature/flagwatch/pkg/watch"
)

type stubProvider struct {
	mu           sync.Mutex
	boolValue    bool
	stringValue  string
	numberValue  float64
	err          error
	flagErrs     map[string]error
	panicFlag    string
	reauthErr    error
	reauthCalls  int
	lastTarget   model.Target
	lastFlagKeys []string
}

func (s *stubProvider) Initialize() error { return nil }
func (s *stubProvider) Close() error      { return nil }

func (s *stubProvider) Reauthenticate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reauthCalls++
	return s.reauthErr
}

func (s *stubProvider) record(flagKey string, target model.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTarget = target
	s.lastFlagKeys = append(s.lastFlagKeys, flagKey)
	if flagKey == s.panicFlag {
		panic("provider exploded")
	}
	if err, ok := s.flagErrs[flagKey]; ok {
		return err
	}
	return s.err
}

func (s *stubProvider) evaluatedFlags() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lastFlagKeys...)
}

func (s *stubProvider) ResolveBooleanValue(flagKey string, defaultValue bool, target model.Target) (bool, error) {
	if err := s.record(flagKey, target); err != nil {
		return defaultValue, err
	}
	return s.boolValue, nil
}

func (s *stubProvider) ResolveStringValue(flagKey string, defaultValue string, target model.Target) (string, error) {
	if err := s.record(flagKey, target); err != nil {
		return defaultValue, err
	}
	return s.stringValue, nil
}

func (s *stubProvider) ResolveNumberValue(flagKey string, defaultValue float64, target model.Target) (float64, error) {
	if err := s.record(flagKey, target); err != nil {
		return defaultValue, err
	}
	return s.numberValue, nil
}

func testWatchConfig() watch.Config {
	return watch.Config{
		MaxConnectionTime: 4,
		PingSeconds:       2,
		Tick:              10 * time.Millisecond,
		HandshakeTimeout:  time.Second,
	}
}

func newTestServer(t *testing.T, p *stubProvider) *httptest.Server {
	t.Helper()
	return newTestServerWithConfig(t, p, testWatchConfig())
}

func newTestServerWithConfig(t *testing.T, p *stubProvider, config watch.Config) *httptest.Server {
	t.Helper()
	metrics := telemetry.New()
	registry := NewSessionRegistry()
	metrics.TrackActiveSessions(registry.Len)
	watchHandler := NewWatchHandler(p, config, registry, metrics, []string{"*"})
	srv := httptest.NewServer(NewRouter(NewServer(p, watchHandler, metrics), metrics, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body map[string]interface{}
	decode(t, resp, &body)
	assert.Empty(t, body)
}

func TestGetFlag_EvaluatesAsString(t *testing.T) {
	p := &stubProvider{stringValue: "blue"}
	srv := newTestServer(t, p)

	resp, err := http.Get(srv.URL + "/f1/t1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body model.FlagValueResponse
	decode(t, resp, &body)
	assert.Equal(t, model.FlagValueResponse{FlagID: "f1", FlagValue: "blue", TargetID: "t1"}, body)
	assert.Equal(t, "t1", p.lastTarget.Name)
}

func TestGetFlag_UnescapesPathParameters(t *testing.T) {
	p := &stubProvider{stringValue: "blue"}
	srv := newTestServer(t, p)

	resp, err := http.Get(srv.URL + "/my%20flag/t1")
	require.NoError(t, err)

	var body model.FlagValueResponse
	decode(t, resp, &body)
	assert.Equal(t, "my flag", body.FlagID)
}

func TestPostFlag_UsesRequestDetails(t *testing.T) {
	p := &stubProvider{boolValue: true}
	srv := newTestServer(t, p)

	resp, err := http.Post(srv.URL+"/f1/t1", "application/json", strings.NewReader(
		`{"name": "Jane", "variation_type": "boolean", "target_attributes": {"plan": "pro"}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body model.FlagValueResponse
	decode(t, resp, &body)
	assert.Equal(t, true, body.FlagValue)
	assert.Equal(t, "Jane", p.lastTarget.Name)
	assert.Equal(t, map[string]interface{}{"plan": "pro"}, p.lastTarget.Attributes)
}

func TestPostFlag_EmptyBody(t *testing.T) {
	p := &stubProvider{stringValue: "blue"}
	srv := newTestServer(t, p)

	resp, err := http.Post(srv.URL+"/f1/t1", "application/json", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body model.FlagValueResponse
	decode(t, resp, &body)
	assert.Equal(t, "blue", body.FlagValue)
}

func TestPostFlag_MalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})

	resp, err := http.Post(srv.URL+"/f1/t1", "application/json", strings.NewReader(`{"target_attributes": 5}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body model.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, model.ParseErrorCode, body.ErrorCode)
}

func TestPostFlag_BodyTooLarge(t *testing.T) {
	p := &stubProvider{}
	srv := newTestServer(t, p)

	attrs := `{"target_attributes": {"blob": "` + strings.Repeat("x", maxRequestBody) + `"}}`
	resp, err := http.Post(srv.URL+"/f1/t1", "application/json", strings.NewReader(attrs))
	require.NoError(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	var body model.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, model.ParseErrorCode, body.ErrorCode)
	assert.Empty(t, p.evaluatedFlags())
}

func TestGetFlag_ProviderFaults(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{model.ErrProviderNotReady, http.StatusServiceUnavailable, model.ProviderNotReadyErrorCode},
		{errors.New("relay unreachable"), http.StatusInternalServerError, model.GeneralErrorCode},
	}
	for _, tt := range tests {
		srv := newTestServer(t, &stubProvider{err: tt.err})

		resp, err := http.Get(srv.URL + "/f1/t1")
		require.NoError(t, err)
		assert.Equal(t, tt.status, resp.StatusCode)

		var body model.ErrorResponse
		decode(t, resp, &body)
		assert.Equal(t, tt.code, body.ErrorCode)
	}
}

func TestGetFlag_MissingFlagYieldsDefault(t *testing.T) {
	srv := newTestServer(t, &stubProvider{err: model.ErrFlagNotFound})

	resp, err := http.Get(srv.URL + "/missing/t1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body model.FlagValueResponse
	decode(t, resp, &body)
	assert.Equal(t, "", body.FlagValue)
}

func TestReauthenticate(t *testing.T) {
	p := &stubProvider{}
	srv := newTestServer(t, p)

	resp, err := http.Post(srv.URL+"/reauthenticate", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, p.reauthCalls)

	p.reauthErr = errors.New("bad api key")
	resp, err = http.Post(srv.URL+"/reauthenticate", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubProvider{stringValue: "blue"})

	resp, err := http.Get(srv.URL + "/f1/t1")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `flagwatch_evaluations_total{result="success",type="string"} 1`)
	assert.Contains(t, string(body), "flagwatch_watch_sessions_active 0")
}

func dialWatch(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	return c
}

func TestWatch_RunsUntilTimeout(t *testing.T) {
	p := &stubProvider{boolValue: true}
	srv := newTestServer(t, p)
	c := dialWatch(t, srv, "/f1/t1/watch")

	require.NoError(t, c.WriteJSON(map[string]interface{}{
		"variation_type":    "boolean",
		"target_attributes": map[string]interface{}{"plan": "pro"},
	}))

	var start map[string]interface{}
	require.NoError(t, c.ReadJSON(&start))
	assert.Equal(t, model.MessageInitiated, start["message"])
	assert.NotEmpty(t, start["connection_id"])
	assert.NotContains(t, start, "previous_state")
	assert.Equal(t, map[string]interface{}{
		"flag_id":           "f1",
		"flag_value":        true,
		"target_id":         "t1",
		"target_attributes": map[string]interface{}{"plan": "pro"},
	}, start["state"])

	for i := 0; i < 2; i++ {
		var ping map[string]interface{}
		require.NoError(t, c.ReadJSON(&ping))
		assert.Equal(t, map[string]interface{}{"type": "ping"}, ping)
	}

	_, _, err := c.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, watch.TimeoutReason, closeErr.Text)
}

func TestWatch_MalformedHandshake(t *testing.T) {
	srv := newTestServer(t, &stubProvider{})
	c := dialWatch(t, srv, "/f1/t1/watch")

	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(`{"target_attributes": 1}`)))

	_, _, err := c.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, websocket.CloseUnsupportedData, closeErr.Code)
	assert.Equal(t, watch.HandshakeReason, closeErr.Text)
}

func TestWatch_OversizedHandshake(t *testing.T) {
	p := &stubProvider{stringValue: "blue"}
	srv := newTestServer(t, p)
	c := dialWatch(t, srv, "/f1/t1/watch")

	handshake := `{"target_attributes": {"blob": "` + strings.Repeat("x", maxRequestBody) + `"}}`
	go func() {
		// the server stops reading mid-message, so the write may fail
		_ = c.WriteMessage(websocket.TextMessage, []byte(handshake))
	}()

	_, _, err := c.ReadMessage()
	require.Error(t, err, "session must not start")
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseMessageTooBig, closeErr.Code)
	}
	assert.Empty(t, p.evaluatedFlags())
}

func TestWatch_FaultingSessionsDoNotAffectOthers(t *testing.T) {
	p := &stubProvider{
		stringValue: "blue",
		flagErrs:    map[string]error{"broken": errors.New("relay unreachable")},
		panicFlag:   "explosive",
	}
	config := testWatchConfig()
	config.MaxConnectionTime = 20
	srv := newTestServerWithConfig(t, p, config)

	healthy := dialWatch(t, srv, "/f1/t1/watch")
	require.NoError(t, healthy.WriteJSON(map[string]interface{}{}))
	var start map[string]interface{}
	require.NoError(t, healthy.ReadJSON(&start))
	assert.Equal(t, model.MessageInitiated, start["message"])

	for _, flag := range []string{"broken", "explosive"} {
		c := dialWatch(t, srv, "/"+flag+"/t2/watch")
		require.NoError(t, c.WriteJSON(map[string]interface{}{}))
		_, _, err := c.ReadMessage()
		require.Error(t, err, flag)
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code, flag)
		}
	}

	pings := 0
	for {
		var msg map[string]interface{}
		err := healthy.ReadJSON(&msg)
		if err != nil {
			var closeErr *websocket.CloseError
			require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			assert.Equal(t, watch.TimeoutReason, closeErr.Text)
			break
		}
		assert.Equal(t, map[string]interface{}{"type": "ping"}, msg)
		pings++
	}
	assert.Equal(t, config.MaxConnectionTime/config.PingSeconds, pings)
}

func TestWatchHandler_WaitTracksOpenSessions(t *testing.T) {
	p := &stubProvider{stringValue: "blue"}
	config := testWatchConfig()
	config.MaxConnectionTime = 100000
	handler := NewWatchHandler(p, config, NewSessionRegistry(), nil, []string{"*"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Watch(w, r, "f1", "t1")
	}))
	t.Cleanup(srv.Close)

	c := dialWatch(t, srv, "/")
	require.NoError(t, c.WriteJSON(map[string]interface{}{}))
	var start map[string]interface{}
	require.NoError(t, c.ReadJSON(&start))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, handler.Wait(ctx), context.DeadlineExceeded)

	require.NoError(t, c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, handler.Wait(ctx))
}

func TestWatch_ProviderFaultClosesAbruptly(t *testing.T) {
	srv := newTestServer(t, &stubProvider{err: errors.New("relay unreachable")})
	c := dialWatch(t, srv, "/f1/t1/watch")

	require.NoError(t, c.WriteJSON(map[string]interface{}{}))

	_, _, err := c.ReadMessage()
	assert.Error(t, err)
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)
	}
}

func TestWatch_ClientDisconnect(t *testing.T) {
	p := &stubProvider{stringValue: "blue"}
	srv := newTestServer(t, p)
	c := dialWatch(t, srv, "/f1/t1/watch")

	require.NoError(t, c.WriteJSON(map[string]interface{}{}))
	var start map[string]interface{}
	require.NoError(t, c.ReadJSON(&start))

	require.NoError(t, c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_, _, err := c.ReadMessage()
	assert.Error(t, err)
}

func TestHTTPService_ServeStopsOnCancel(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	svc := &HTTPService{HTTPServiceConfiguration: &HTTPServiceConfiguration{
		Watch:   testWatchConfig(),
		Metrics: true,
	}}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- svc.serve(ctx, listener, &stubProvider{}) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + listener.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestHTTPService_NoConfiguration(t *testing.T) {
	svc := &HTTPService{}
	assert.Error(t, svc.Serve(context.Background(), &stubProvider{}))
}

func TestSessionRegistry(t *testing.T) {
	r := NewSessionRegistry()
	a, b := new(int), new(int)

	r.Register(a, "f1", "t1")
	r.Register(b, "f1", "t2")
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, map[string]int{"f1": 2}, r.Flags())

	r.Unregister(a)
	assert.Equal(t, 1, r.Len())
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(&websocket.CloseError{Code: websocket.CloseGoingAway}), watch.ErrDisconnected)
	assert.ErrorIs(t, classify(websocket.ErrCloseSent), watch.ErrDisconnected)
	assert.ErrorIs(t, classify(io.EOF), watch.ErrDisconnected)

	boom := errors.New("boom")
	assert.Equal(t, boom, classify(boom))
}
