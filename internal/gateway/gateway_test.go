package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"ex-mirror/internal/router"
	"ex-mirror/pkg/mirror"
)

// TestDecodeFrame verifies discriminant extraction and malformed frames.
func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frame    string
		wantType string
		wantErr  bool
	}{
		{name: "typed frame", frame: `{"type":"Message","_id":"m1"}`, wantType: "Message"},
		{name: "bulk frame", frame: `{"type":"Bulk","v":[]}`, wantType: "Bulk"},
		{name: "invalid json", frame: `{"type":`, wantErr: true},
		{name: "missing type", frame: `{"_id":"m1"}`, wantErr: true},
		{name: "numeric type", frame: `{"type":7}`, wantErr: true},
		{name: "empty type", frame: `{"type":""}`, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			envelope, err := DecodeFrame([]byte(testCase.frame))
			if testCase.wantErr {
				if !errors.Is(err, mirror.ErrMalformedEvent) {
					t.Fatalf("error = %v, want ErrMalformedEvent", err)
				}
				var protocolErr *mirror.ProtocolError
				if !errors.As(err, &protocolErr) {
					t.Fatalf("error = %T, want *mirror.ProtocolError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if envelope.Type != testCase.wantType {
				t.Fatalf("type = %q, want %q", envelope.Type, testCase.wantType)
			}
			if string(envelope.Data) != testCase.frame {
				t.Fatalf("data = %s, want whole frame", envelope.Data)
			}
		})
	}
}

// TestChannelSourceStopsOnHandlerError verifies handler failures end the loop.
func TestChannelSourceStopsOnHandlerError(t *testing.T) {
	t.Parallel()

	frames := make(chan []byte, 3)
	frames <- []byte("a")
	frames <- []byte("b")
	frames <- []byte("c")
	close(frames)

	var seen []string
	failure := errors.New("stop")
	err := ChannelSource{Frames: frames}.Consume(context.Background(), func(_ context.Context, frame []byte) error {
		seen = append(seen, string(frame))
		if string(frame) == "b" {
			return failure
		}
		return nil
	})

	if !errors.Is(err, failure) {
		t.Fatalf("error = %v, want handler failure", err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, seen); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
}

// TestNoopSourceBlocksUntilCancel verifies the passive source honors cancellation.
func TestNoopSourceBlocksUntilCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := (NoopSource{}).Consume(ctx, nil); err != nil {
		t.Fatalf("consume: %v", err)
	}
}

type fakeRouter struct {
	mu     sync.Mutex
	routed []string
	errs   map[string]error
}

func (f *fakeRouter) Route(_ context.Context, envelope mirror.Envelope) (*router.Dispatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.routed = append(f.routed, envelope.Type)

	return nil, f.errs[envelope.Type]
}

// TestDriverRun verifies frames are routed in order, recoverable failures
// are skipped and fatal session errors stop the loop.
func TestDriverRun(t *testing.T) {
	t.Parallel()

	fatal := fmt.Errorf("route error: %w", mirror.NewSessionError("InvalidSession"))
	tests := []struct {
		name       string
		frames     []string
		errs       map[string]error
		wantRouted []string
		wantFatal  bool
	}{
		{
			name:       "routes in order and skips garbage",
			frames:     []string{`{"type":"Authenticated"}`, `not json`, `{"type":"Message"}`, `{"type":"Pong"}`},
			wantRouted: []string{"Authenticated", "Message", "Pong"},
		},
		{
			name:   "recoverable errors continue",
			frames: []string{`{"type":"Mystery"}`, `{"type":"Error","error":"InternalError"}`, `{"type":"Message"}`},
			errs: map[string]error{
				"Mystery": &mirror.ProtocolError{Type: "Mystery", Err: mirror.ErrUnknownEvent},
				"Error":   mirror.NewSessionError("InternalError"),
			},
			wantRouted: []string{"Mystery", "Error", "Message"},
		},
		{
			name:       "fatal session error stops",
			frames:     []string{`{"type":"Error","error":"InvalidSession"}`, `{"type":"Message"}`},
			errs:       map[string]error{"Error": fatal},
			wantRouted: []string{"Error"},
			wantFatal:  true,
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			frames := make(chan []byte, len(testCase.frames))
			for _, frame := range testCase.frames {
				frames <- []byte(frame)
			}
			close(frames)

			sink := &fakeRouter{errs: testCase.errs}
			driver, err := NewDriver(ChannelSource{Frames: frames}, sink)
			if err != nil {
				t.Fatalf("new driver: %v", err)
			}

			err = driver.Run(context.Background())
			if testCase.wantFatal != (err != nil) {
				t.Fatalf("run error = %v, want fatal %v", err, testCase.wantFatal)
			}
			if testCase.wantFatal && !errors.Is(err, mirror.ErrInvalidSession) {
				t.Fatalf("run error = %v, want ErrInvalidSession", err)
			}
			if diff := cmp.Diff(testCase.wantRouted, sink.routed); diff != "" {
				t.Fatalf("routed mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestNewDriverRejectsNil verifies constructor validation.
func TestNewDriverRejectsNil(t *testing.T) {
	t.Parallel()

	if _, err := NewDriver(nil, &fakeRouter{}); err == nil {
		t.Fatal("expected nil source error")
	}
	if _, err := NewDriver(NoopSource{}, nil); err == nil {
		t.Fatal("expected nil router error")
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// TestWebsocketSourceSession verifies authentication, frame delivery,
// heartbeats and clean server close.
func TestWebsocketSourceSession(t *testing.T) {
	t.Parallel()

	type observed struct {
		token   string
		query   string
		gotPing bool
	}
	results := make(chan observed, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var seen observed
		seen.query = request.URL.RawQuery
		var auth authenticateFrame
		if err := conn.ReadJSON(&auth); err != nil || auth.Type != "Authenticate" {
			results <- seen
			return
		}
		seen.token = auth.Token

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Authenticated"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Pong","data":0}`))

		for {
			var ping pingFrame
			if err := conn.ReadJSON(&ping); err != nil {
				break
			}
			if ping.Type == "Ping" && ping.Data > 0 {
				seen.gotPing = true
				break
			}
		}
		results <- seen

		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	source := WebsocketSource{
		URL:               wsURL(server),
		Token:             "secret",
		HeartbeatInterval: 10 * time.Millisecond,
	}
	var mu sync.Mutex
	var frames []string
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := source.Consume(ctx, func(_ context.Context, frame []byte) error {
		mu.Lock()
		frames = append(frames, string(frame))
		mu.Unlock()
		return nil
	})
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("consume error = %v, want ErrConnectionClosed", err)
	}

	seen := <-results
	if seen.token != "secret" {
		t.Fatalf("token = %q", seen.token)
	}
	if !seen.gotPing {
		t.Fatal("no heartbeat observed")
	}
	if !strings.Contains(seen.query, "version=1") || !strings.Contains(seen.query, "format=json") {
		t.Fatalf("query = %q", seen.query)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{`{"type":"Authenticated"}`, `{"type":"Pong","data":0}`}
	if diff := cmp.Diff(want, frames); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}
}

// TestWebsocketSourceCancel verifies cancellation closes the socket and
// returns without error.
func TestWebsocketSourceCancel(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	connected := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := upgrader.Upgrade(writer, request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		close(connected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- WebsocketSource{URL: wsURL(server), Token: "t"}.Consume(ctx, func(context.Context, []byte) error {
			return nil
		})
	}()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("source never connected")
	}
	cancel()

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("consume error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consume did not return after cancel")
	}
}

// TestWebsocketSourceRejectsBadURL verifies endpoint validation.
func TestWebsocketSourceRejectsBadURL(t *testing.T) {
	t.Parallel()

	tests := []string{"", "https://gateway.example.test", "://bad"}
	for _, rawURL := range tests {
		rawURL := rawURL
		t.Run(rawURL, func(t *testing.T) {
			t.Parallel()

			err := WebsocketSource{URL: rawURL}.Consume(context.Background(), func(context.Context, []byte) error {
				return nil
			})
			if err == nil {
				t.Fatal("expected url error")
			}
		})
	}
}
