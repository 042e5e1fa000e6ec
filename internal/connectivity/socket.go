package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is a Source backed by the real-time socket layer. It reports online
// while a websocket to url is established and offline otherwise, redialling
// with exponential backoff. Messages received on the socket are discarded;
// only the connection's liveness matters here.
type Socket struct {
	edge

	url        string
	header     http.Header
	dialer     *websocket.Dialer
	logger     *slog.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	pongWait   time.Duration
}

var _ Source = (*Socket)(nil)

// SocketOption configures a Socket.
type SocketOption func(*Socket)

// WithHeader sets headers sent on every dial (auth, user agent).
func WithHeader(h http.Header) SocketOption {
	return func(s *Socket) { s.header = h }
}

// WithBackoff sets the redial backoff bounds.
func WithBackoff(min, max time.Duration) SocketOption {
	return func(s *Socket) { s.minBackoff, s.maxBackoff = min, max }
}

// WithPongWait sets how long the socket may stay silent before it is
// considered dead. Pings are sent at 9/10 of this interval.
func WithPongWait(d time.Duration) SocketOption {
	return func(s *Socket) { s.pongWait = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SocketOption {
	return func(s *Socket) { s.logger = l }
}

// NewSocket returns an offline Socket for url. Call Run to start dialling.
func NewSocket(url string, opts ...SocketOption) *Socket {
	s := &Socket{
		url:        url,
		dialer:     websocket.DefaultDialer,
		logger:     slog.Default(),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		pongWait:   60 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run dials and watches the socket until ctx is cancelled. It returns
// ctx.Err() and leaves the source offline.
func (s *Socket) Run(ctx context.Context) error {
	backoff := s.minBackoff
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
		if err != nil {
			if ctx.Err() != nil {
				s.set(Offline)
				return ctx.Err()
			}
			s.logger.Debug("socket dial failed", "url", s.url, "error", err, "retry_in", backoff)
		} else {
			backoff = s.minBackoff
			s.set(Online)
			err = s.watch(ctx, conn)
			s.set(Offline)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Info("socket disconnected", "url", s.url, "error", err, "retry_in", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

// watch reads from conn until it fails or ctx ends.
func (s *Socket) watch(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(s.pongWait * 9 / 10)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("closed by peer")
			}
			return err
		}
	}
}
