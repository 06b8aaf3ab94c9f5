package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AxelAdjami/Projet-SIR/internal/adapter/driven/gateway/ws"
	"github.com/AxelAdjami/Projet-SIR/internal/core/service"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

type testServer struct {
	hub *ws.Hub
	ts  *httptest.Server
}

func defaultTestOptions() Options {
	return Options{
		MaxMessageBytes: 64 * 1024,
		SendQueue:       16,
		PingInterval:    time.Second,
		PongWait:        5 * time.Second,
		WriteWait:       time.Second,
	}
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()

	hub := ws.NewHub()
	go hub.Run()

	relay := service.NewRelayService(hub, []webrtc.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}, nil)
	ts := httptest.NewServer(NewHandler(relay, opts).NewRouter())

	t.Cleanup(func() {
		ts.Close()
		hub.Stop()
	})
	return &testServer{hub: hub, ts: ts}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// waitForPeers polls until the routing table holds n peers.
func (s *testServer) waitForPeers(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.hub.Len() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("routing table size = %d, want %d", s.hub.Len(), n)
}

func readMsg(t *testing.T, c *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	if err := c.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return msg
}

func str(t *testing.T, msg map[string]json.RawMessage, field string) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(msg[field], &s); err != nil {
		t.Fatalf("field %q = %s: %v", field, msg[field], err)
	}
	return s
}

func send(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	if err := c.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// handshake reads the two relay messages every connection starts with and
// returns the assigned id.
func handshake(t *testing.T, c *websocket.Conn) string {
	t.Helper()
	hello := readMsg(t, c)
	if got := str(t, hello, "type"); got != "hello" {
		t.Fatalf("first message type = %q, want hello", got)
	}
	id := str(t, hello, "id")

	ice := readMsg(t, c)
	if got := str(t, ice, "type"); got != "iceServers" {
		t.Fatalf("second message type = %q, want iceServers", got)
	}
	var servers []struct {
		URLs []string `json:"urls"`
	}
	if err := json.Unmarshal(ice["iceServers"], &servers); err != nil {
		t.Fatalf("iceServers = %s: %v", ice["iceServers"], err)
	}
	if len(servers) != 1 || len(servers[0].URLs) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("iceServers = %s", ice["iceServers"])
	}
	return id
}

// expectNothingPending sends a marker to the connection's own id and checks
// it is the next thing delivered.
func expectNothingPending(t *testing.T, c *websocket.Conn, self string) {
	t.Helper()
	send(t, c, map[string]string{"type": "marker", "id": self})
	msg := readMsg(t, c)
	if got := str(t, msg, "type"); got != "marker" {
		t.Fatalf("unexpected delivery before marker: %v", msg)
	}
}

func TestWebSocketRelayScenario(t *testing.T) {
	s := newTestServer(t, defaultTestOptions())

	a := s.dial(t)
	idA := handshake(t, a)
	b := s.dial(t)
	idB := handshake(t, b)
	if idA == idB {
		t.Fatalf("both clients got id %s", idA)
	}

	send(t, a, map[string]string{"type": "offer", "id": idB, "sdp": "sdp-x"})
	offer := readMsg(t, b)
	if str(t, offer, "type") != "offer" || str(t, offer, "id") != idA || str(t, offer, "sdp") != "sdp-x" {
		t.Fatalf("B received %v", offer)
	}

	send(t, b, map[string]string{"type": "answer", "id": idA, "sdp": "sdp-y"})
	answer := readMsg(t, a)
	if str(t, answer, "type") != "answer" || str(t, answer, "id") != idB || str(t, answer, "sdp") != "sdp-y" {
		t.Fatalf("A received %v", answer)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("close B: %v", err)
	}
	s.waitForPeers(t, 1)

	send(t, a, map[string]any{
		"type":      "candidate",
		"id":        idB,
		"candidate": map[string]any{"candidate": "candidate:1 1 udp 1 10.0.0.1 9 typ host", "sdpMid": "0"},
	})
	expectNothingPending(t, a, idA)
}

func TestWebSocketCandidateFieldsPreserved(t *testing.T) {
	s := newTestServer(t, defaultTestOptions())
	a := s.dial(t)
	idA := handshake(t, a)
	b := s.dial(t)
	idB := handshake(t, b)

	raw := `{"type":"candidate","id":"` + idB + `","candidate":{"candidate":"candidate:842163049 1 udp 1677729535 203.0.113.7 46154 typ srflx","sdpMid":"0","sdpMLineIndex":0,"usernameFragment":"a1b2"}}`
	if err := a.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := readMsg(t, b)
	if str(t, got, "id") != idA {
		t.Fatalf("id = %s, want %s", got["id"], idA)
	}
	want := `{"candidate":"candidate:842163049 1 udp 1677729535 203.0.113.7 46154 typ srflx","sdpMid":"0","sdpMLineIndex":0,"usernameFragment":"a1b2"}`
	if string(got["candidate"]) != want {
		t.Fatalf("candidate = %s, want %s", got["candidate"], want)
	}
}

func TestWebSocketRelayKeepsSenderBytes(t *testing.T) {
	s := newTestServer(t, defaultTestOptions())
	a := s.dial(t)
	idA := handshake(t, a)
	b := s.dial(t)
	idB := handshake(t, b)

	raw := `{"type":"candidate","id":"` + idB + `","zeta":1,"candidate":{"b": 1, "a": 2}}`
	if err := a.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := b.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	mt, data, err := b.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := `{"type":"candidate","id":"` + idA + `","zeta":1,"candidate":{"b": 1, "a": 2}}`
	if mt != websocket.TextMessage || string(data) != want {
		t.Fatalf("B received type=%d %s, want %s", mt, data, want)
	}
}

func TestWebSocketIgnoresBinaryFrames(t *testing.T) {
	s := newTestServer(t, defaultTestOptions())
	a := s.dial(t)
	idA := handshake(t, a)
	b := s.dial(t)
	idB := handshake(t, b)

	raw := `{"type":"offer","id":"` + idB + `","sdp":"bin"}`
	if err := a.WriteMessage(websocket.BinaryMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}

	expectNothingPending(t, b, idB)
	// The sender stays connected and can still relay text.
	send(t, a, map[string]string{"type": "offer", "id": idB, "sdp": "text"})
	offer := readMsg(t, b)
	if str(t, offer, "sdp") != "text" || str(t, offer, "id") != idA {
		t.Fatalf("B received %v", offer)
	}
}

func TestWebSocketByeAndUnknownKindsAreForwarded(t *testing.T) {
	s := newTestServer(t, defaultTestOptions())
	a := s.dial(t)
	idA := handshake(t, a)
	b := s.dial(t)
	idB := handshake(t, b)

	send(t, a, map[string]string{"type": "bye", "id": idB})
	bye := readMsg(t, b)
	if str(t, bye, "type") != "bye" || str(t, bye, "id") != idA {
		t.Fatalf("B received %v", bye)
	}

	// bye has no effect on the routing table.
	s.waitForPeers(t, 2)
	send(t, b, map[string]string{"type": "custom", "id": idA, "note": "still here"})
	custom := readMsg(t, a)
	if str(t, custom, "type") != "custom" || str(t, custom, "id") != idB || str(t, custom, "note") != "still here" {
		t.Fatalf("A received %v", custom)
	}
}

func TestWebSocketDropsBadInputAndKeepsConnection(t *testing.T) {
	s := newTestServer(t, defaultTestOptions())
	a := s.dial(t)
	idA := handshake(t, a)

	for _, raw := range []string{
		`not json`,
		`[]`,
		`{"type":"offer"}`,
		`{"type":"offer","id":"someone"}`,
		`{"type":"offer","id":"00000000-0000-4000-8000-000000000000","sdp":"x"}`,
	} {
		if err := a.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write %s: %v", raw, err)
		}
	}

	expectNothingPending(t, a, idA)
	if n := s.hub.Len(); n != 1 {
		t.Fatalf("routing table size = %d, want 1", n)
	}
}

func TestWebSocketOversizeMessageClosesOnlySender(t *testing.T) {
	opts := defaultTestOptions()
	opts.MaxMessageBytes = 512
	s := newTestServer(t, opts)

	a := s.dial(t)
	handshake(t, a)
	b := s.dial(t)
	idB := handshake(t, b)

	big := map[string]string{"type": "offer", "id": idB, "sdp": strings.Repeat("x", 1024)}
	send(t, a, big)

	s.waitForPeers(t, 1)
	expectNothingPending(t, b, idB)
}

func TestWebSocketConcurrentConnectsGetDistinctIDs(t *testing.T) {
	s := newTestServer(t, defaultTestOptions())

	const n = 20
	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conns[i] = s.dial(t)
	}

	ids := make([]string, n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []string
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *websocket.Conn) {
			defer wg.Done()
			c.SetReadDeadline(time.Now().Add(2 * time.Second))
			var hello struct {
				Type string `json:"type"`
				ID   string `json:"id"`
			}
			if err := c.ReadJSON(&hello); err != nil || hello.Type != "hello" {
				mu.Lock()
				failures = append(failures, "bad hello")
				mu.Unlock()
				return
			}
			ids[i] = hello.ID
		}(i, c)
	}
	wg.Wait()
	if len(failures) > 0 {
		t.Fatalf("handshake failures: %v", failures)
	}

	seen := make(map[string]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("id %s assigned twice", id)
		}
		seen[id] = true
	}
	s.waitForPeers(t, n)
}

func TestWebSocketServerClosesClientsOnHubStop(t *testing.T) {
	s := newTestServer(t, defaultTestOptions())
	a := s.dial(t)
	handshake(t, a)

	s.hub.Stop()

	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := a.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read error = %v, want normal closure", err)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, defaultTestOptions())
	resp, err := http.Get(s.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestStaticAssets(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>call</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "assets"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "assets", "main.js"), []byte("start()"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := defaultTestOptions()
	opts.StaticDir = dir
	opts.HSTS = true
	s := newTestServer(t, opts)

	tests := []struct {
		path   string
		status int
	}{
		{"/", http.StatusOK},
		{"/index.html", http.StatusMovedPermanently},
		{"/favicon.ico", http.StatusNoContent},
		{"/missing.js", http.StatusNotFound},
		{"/assets/main.js", http.StatusOK},
		{"/assets/", http.StatusNotFound},
		{"/assets", http.StatusMovedPermanently},
	}

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	for _, tt := range tests {
		resp, err := client.Get(s.ts.URL + tt.path)
		if err != nil {
			t.Fatalf("get %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.status)
		}
		if hsts := resp.Header.Get("Strict-Transport-Security"); hsts == "" {
			t.Errorf("GET %s missing HSTS header", tt.path)
		}
	}
}
