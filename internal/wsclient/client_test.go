package wsclient

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/doyler/faraday-agent-dispatcher/internal/protocol"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

type fakeRouter struct {
	mu      sync.Mutex
	handled []map[string]json.RawMessage
	emit    func(emitStatus func(protocol.StatusFrame))
}

func (r *fakeRouter) Handle(msg map[string]json.RawMessage, emitStatus func(protocol.StatusFrame), emitRaw func(map[string]interface{})) {
	r.mu.Lock()
	r.handled = append(r.handled, msg)
	r.mu.Unlock()
	if r.emit != nil {
		r.emit(emitStatus)
	}
}

// newEchoServer starts a test WebSocket server that captures the first
// frame it receives (the join handshake) and otherwise forwards whatever
// serverSend supplies down to the client.
func newEchoServer(t *testing.T, joinFrame chan<- []byte, serverSend <-chan []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		joinFrame <- data

		for data := range serverSend {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	return srv
}

func wsURL(t *testing.T, httpURL string) (host string, port int) {
	t.Helper()
	u, err := url.Parse(httpURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return u.Hostname(), p
}

func TestDialSendsJoinFrame(t *testing.T) {
	joinFrame := make(chan []byte, 1)
	serverSend := make(chan []byte)
	srv := newEchoServer(t, joinFrame, serverSend)
	defer srv.Close()
	defer close(serverSend)

	host, port := wsURL(t, srv.URL)
	executors := []protocol.ExecutorAdvertisement{{ExecutorName: "ex1", Args: map[string]bool{"out": true}}}

	c, err := Dial(host, port, false, "ws1", "tok-abc", executors, &fakeRouter{}, testLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	select {
	case data := <-joinFrame:
		var got protocol.JoinFrame
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal join frame: %v", err)
		}
		if got.Action != "JOIN_AGENT" || got.Workspace != "ws1" || got.Token != "tok-abc" {
			t.Errorf("join frame = %+v", got)
		}
		if len(got.Executors) != 1 || got.Executors[0].ExecutorName != "ex1" {
			t.Errorf("executors = %+v", got.Executors)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for join frame")
	}
}

func TestServeDispatchesInboundFrames(t *testing.T) {
	joinFrame := make(chan []byte, 1)
	serverSend := make(chan []byte, 1)
	srv := newEchoServer(t, joinFrame, serverSend)
	defer srv.Close()

	host, port := wsURL(t, srv.URL)
	router := &fakeRouter{}
	c, err := Dial(host, port, false, "ws1", "tok", nil, router, testLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	<-joinFrame

	serverSend <- []byte(`{"action":"RUN","agent_id":1}`)
	close(serverSend)

	if err := c.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	router.mu.Lock()
	defer router.mu.Unlock()
	if len(router.handled) != 1 {
		t.Fatalf("expected 1 handled frame, got %d", len(router.handled))
	}
	var action string
	json.Unmarshal(router.handled[0]["action"], &action)
	if action != "RUN" {
		t.Errorf("action = %q", action)
	}
}

func TestServeDispatchesFramesConcurrently(t *testing.T) {
	joinFrame := make(chan []byte, 1)
	serverSend := make(chan []byte, 2)
	srv := newEchoServer(t, joinFrame, serverSend)
	defer srv.Close()

	host, port := wsURL(t, srv.URL)
	started := make(chan string, 2)
	release := make(chan struct{})
	blockingRouter := &blockingFakeRouter{started: started, release: release}

	c, err := Dial(host, port, false, "ws1", "tok", nil, blockingRouter, testLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	<-joinFrame

	serverSend <- []byte(`{"action":"RUN","executor":"one"}`)
	serverSend <- []byte(`{"action":"RUN","executor":"two"}`)
	close(serverSend)

	done := make(chan error, 1)
	go func() { done <- c.Serve() }()

	// Both handlers must start before either is allowed to finish —
	// proof the read loop dispatched the second frame without waiting
	// for the first handler to return.
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-started:
			seen[name] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for concurrent handler to start, seen so far: %v", seen)
		}
	}
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if !seen["one"] || !seen["two"] {
		t.Fatalf("expected both executors dispatched concurrently, seen = %v", seen)
	}
}

// blockingFakeRouter reports the executor name it was asked to run on
// started, then blocks until release is closed, so a test can assert
// that the read loop dispatched a second frame before the first
// handler returned.
type blockingFakeRouter struct {
	started chan<- string
	release <-chan struct{}
}

func (r *blockingFakeRouter) Handle(msg map[string]json.RawMessage, emitStatus func(protocol.StatusFrame), emitRaw func(map[string]interface{})) {
	var executor string
	json.Unmarshal(msg["executor"], &executor)
	r.started <- executor
	<-r.release
}

func TestServeDoesNotRouteUndecodableFrame(t *testing.T) {
	joinFrame := make(chan []byte, 1)
	serverSend := make(chan []byte, 1)
	srv := newEchoServer(t, joinFrame, serverSend)
	defer srv.Close()

	host, port := wsURL(t, srv.URL)
	router := &fakeRouter{}
	c, err := Dial(host, port, false, "ws1", "tok", nil, router, testLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	<-joinFrame

	serverSend <- []byte(`not-json`)
	close(serverSend)

	if err := c.Serve(); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if len(router.handled) != 0 {
		t.Errorf("router should not have been invoked on decode failure, got %d calls", len(router.handled))
	}
}

func TestEmitStatusSerializesWrites(t *testing.T) {
	joinFrame := make(chan []byte, 1)
	serverSend := make(chan []byte, 1)
	srv := newEchoServer(t, joinFrame, serverSend)
	defer srv.Close()
	defer close(serverSend)

	host, port := wsURL(t, srv.URL)
	c, err := Dial(host, port, false, "ws1", "tok", nil, &fakeRouter{}, testLogger())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	<-joinFrame

	go c.Serve()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.EmitStatus(protocol.NewRunStatus("ex1", nil, protocol.Successful(true), "done"))
		}(i)
	}
	wg.Wait()
	c.Close()
}
