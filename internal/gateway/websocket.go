package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// ErrConnectionClosed indicates the gateway closed the socket cleanly.
var ErrConnectionClosed = errors.New("gateway: connection closed")

const (
	defaultHeartbeatInterval = 20 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultProtocolVersion   = "1"
)

// WebsocketSource dials the gateway, authenticates and streams text frames.
type WebsocketSource struct {
	// URL is the gateway endpoint, for example wss://ws.example.chat.
	URL string
	// Token authenticates the session.
	Token string
	// Dialer overrides websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// HeartbeatInterval spaces Ping frames. Zero uses the default.
	HeartbeatInterval time.Duration
	// WriteTimeout bounds each outbound frame. Zero uses the default.
	WriteTimeout time.Duration
	// Logger receives connection lifecycle logs.
	Logger *slog.Logger
}

type authenticateFrame struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type pingFrame struct {
	Type string `json:"type"`
	Data int64  `json:"data"`
}

// connWriter serializes writes; gorilla connections allow one concurrent writer.
type connWriter struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (w *connWriter) writeJSON(payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	return w.conn.WriteJSON(payload)
}

// Consume dials the gateway and forwards frames until cancellation, a
// transport failure or a handler error.
func (s WebsocketSource) Consume(ctx context.Context, handler FrameHandler) error {
	if handler == nil {
		return fmt.Errorf("websocket source: nil handler")
	}

	endpoint, err := s.endpoint()
	if err != nil {
		return fmt.Errorf("websocket source: %w", err)
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, response, err := dialer.DialContext(ctx, endpoint, nil)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("websocket source dial: %w", err)
	}
	defer conn.Close()

	writer := &connWriter{conn: conn, timeout: s.writeTimeout()}
	if err := writer.writeJSON(authenticateFrame{Type: "Authenticate", Token: s.Token}); err != nil {
		return fmt.Errorf("websocket source authenticate: %w", err)
	}
	logger.InfoContext(ctx, "gateway connected", "url", s.URL)

	group, groupCtx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	group.Go(func() error {
		// Closing the socket unblocks ReadMessage on cancellation.
		select {
		case <-groupCtx.Done():
		case <-done:
		}
		_ = conn.Close()
		return nil
	})
	group.Go(func() error {
		return s.heartbeat(groupCtx, writer, done)
	})
	group.Go(func() error {
		defer close(done)
		return s.read(groupCtx, conn, handler)
	})

	err = group.Wait()
	if ctx.Err() != nil {
		logger.InfoContext(ctx, "gateway disconnected")
		return nil
	}

	return err
}

func (s WebsocketSource) read(ctx context.Context, conn *websocket.Conn, handler FrameHandler) error {
	for {
		messageType, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrConnectionClosed
			}
			return fmt.Errorf("websocket source read: %w", err)
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		if err := handler(ctx, frame); err != nil {
			return fmt.Errorf("websocket source handle frame: %w", err)
		}
	}
}

func (s WebsocketSource) heartbeat(ctx context.Context, writer *connWriter, done <-chan struct{}) error {
	ticker := time.NewTicker(s.heartbeatInterval())
	defer ticker.Stop()

	var sequence int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-ticker.C:
			sequence++
			if err := writer.writeJSON(pingFrame{Type: "Ping", Data: sequence}); err != nil {
				if ctx.Err() != nil || errors.Is(err, websocket.ErrCloseSent) {
					return nil
				}
				select {
				case <-done:
					return nil
				default:
				}
				return fmt.Errorf("websocket source heartbeat: %w", err)
			}
		}
	}
}

func (s WebsocketSource) endpoint() (string, error) {
	if s.URL == "" {
		return "", fmt.Errorf("empty url")
	}
	parsed, err := url.Parse(s.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("url %q must be ws or wss", s.URL)
	}

	query := parsed.Query()
	if query.Get("version") == "" {
		query.Set("version", defaultProtocolVersion)
	}
	if query.Get("format") == "" {
		query.Set("format", "json")
	}
	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

func (s WebsocketSource) heartbeatInterval() time.Duration {
	if s.HeartbeatInterval <= 0 {
		return defaultHeartbeatInterval
	}

	return s.HeartbeatInterval
}

func (s WebsocketSource) writeTimeout() time.Duration {
	if s.WriteTimeout <= 0 {
		return defaultWriteTimeout
	}

	return s.WriteTimeout
}
