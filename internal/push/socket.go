// Package push keeps the websocket push channel open and feeds every
// received envelope into the dispatch registry.
package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/skyportal/client/internal/auth"
	"github.com/MarcoPoloResearchLab/skyportal/client/internal/dispatch"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultAuthTimeout    = 5 * time.Second
	defaultReadTimeout    = 60 * time.Second
	defaultRefreshWindow  = 30 * time.Second
)

var (
	// ErrInvalidConfig indicates a socket constructed without its collaborators.
	ErrInvalidConfig = errors.New("push: invalid config")
	// ErrAuthRejected indicates the server refused the authentication frame.
	ErrAuthRejected = errors.New("push: authentication rejected")
)

// TokenSource hands out push channel tokens.
type TokenSource interface {
	SocketToken(ctx context.Context) (string, error)
}

// Dispatcher receives every decoded envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, notification dispatch.Notification) dispatch.Report
}

// Config describes how to reach and authenticate the push channel.
type Config struct {
	URL        string
	Tokens     TokenSource
	Dispatcher Dispatcher
	Logger     *zap.Logger
	Dialer     *websocket.Dialer

	ReconnectDelay time.Duration
	AuthTimeout    time.Duration
	// ReadTimeout bounds the silence tolerated between frames; server pings
	// extend it.
	ReadTimeout time.Duration
	// RefreshWindow is how close to expiry a cached token may get before a new
	// one is requested.
	RefreshWindow time.Duration
	Clock         func() time.Time
}

// Socket is a reconnecting push channel client.
type Socket struct {
	url        string
	tokens     TokenSource
	dispatcher Dispatcher
	logger     *zap.Logger
	dialer     *websocket.Dialer

	reconnectDelay time.Duration
	authTimeout    time.Duration
	readTimeout    time.Duration
	refreshWindow  time.Duration
	clock          func() time.Time

	tokenMu sync.Mutex
	token   string

	connected atomic.Bool
	delivered atomic.Int64
}

// New validates cfg and constructs a socket. Nothing is dialled until Run.
func New(cfg Config) (*Socket, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: url required", ErrInvalidConfig)
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("%w: token source required", ErrInvalidConfig)
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("%w: dispatcher required", ErrInvalidConfig)
	}
	socket := &Socket{
		url:            url,
		tokens:         cfg.Tokens,
		dispatcher:     cfg.Dispatcher,
		logger:         cfg.Logger,
		dialer:         cfg.Dialer,
		reconnectDelay: cfg.ReconnectDelay,
		authTimeout:    cfg.AuthTimeout,
		readTimeout:    cfg.ReadTimeout,
		refreshWindow:  cfg.RefreshWindow,
		clock:          cfg.Clock,
	}
	if socket.logger == nil {
		socket.logger = zap.NewNop()
	}
	if socket.dialer == nil {
		socket.dialer = websocket.DefaultDialer
	}
	if socket.reconnectDelay <= 0 {
		socket.reconnectDelay = defaultReconnectDelay
	}
	if socket.authTimeout <= 0 {
		socket.authTimeout = defaultAuthTimeout
	}
	if socket.readTimeout <= 0 {
		socket.readTimeout = defaultReadTimeout
	}
	if socket.refreshWindow <= 0 {
		socket.refreshWindow = defaultRefreshWindow
	}
	if socket.clock == nil {
		socket.clock = time.Now
	}
	return socket, nil
}

// Connected reports whether an authenticated connection is currently open.
func (s *Socket) Connected() bool {
	return s.connected.Load()
}

// Delivered counts the envelopes handed to the dispatcher.
func (s *Socket) Delivered() int64 {
	return s.delivered.Load()
}

// Run connects and reconnects until ctx is done. It always returns ctx.Err().
func (s *Socket) Run(ctx context.Context) error {
	for {
		err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrAuthRejected) {
			s.forgetToken()
		}
		s.logger.Info("push channel disconnected", zap.String("url", s.url), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

// session runs one authenticated connection until it fails.
func (s *Socket) session(ctx context.Context) error {
	token, err := s.currentToken(ctx)
	if err != nil {
		return err
	}
	ws, err := s.connect(ctx, token)
	if err != nil {
		return err
	}
	defer ws.Close()

	s.connected.Store(true)
	defer s.connected.Store(false)
	s.logger.Info("push channel connected", zap.String("url", s.url))

	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()
	go func() {
		<-handleCtx.Done()
		// Unblocks the pending read.
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = ws.SetReadDeadline(time.Now())
	}()

	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(s.readTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_ = ws.SetReadDeadline(time.Now().Add(s.readTimeout))
		messageType, message, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		notification, err := dispatch.DecodeNotification(message)
		if err != nil {
			s.logger.Warn("dropping malformed push frame", zap.Error(err))
			continue
		}
		report := s.dispatcher.Dispatch(ctx, notification)
		s.delivered.Add(1)
		s.logger.Debug("push notification dispatched",
			zap.String("action_type", notification.ActionType),
			zap.Int("delivered", report.Delivered),
			zap.Int("failures", len(report.Failures)))
	}
}

// connect dials the channel, sends the auth frame and waits for the ack.
func (s *Socket) connect(ctx context.Context, token string) (*websocket.Conn, error) {
	ws, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("push: dial %s: %w", s.url, err)
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	_ = ws.SetWriteDeadline(time.Now().Add(s.authTimeout))
	if err := ws.WriteJSON(dispatch.SocketAuth{AuthToken: token}); err != nil {
		return nil, fmt.Errorf("push: send auth frame: %w", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(s.authTimeout))
	_, message, err := ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			return nil, fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		return nil, fmt.Errorf("push: read auth ack: %w", err)
	}
	ack, err := dispatch.DecodeNotification(message)
	if err != nil || ack.ActionType != dispatch.ActionSocketAuthenticated {
		return nil, fmt.Errorf("%w: unexpected ack %q", ErrAuthRejected, message)
	}
	_ = ws.SetWriteDeadline(time.Time{})

	success = true
	return ws, nil
}

// currentToken reuses the cached token until it nears expiry.
func (s *Socket) currentToken(ctx context.Context) (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	if s.token != "" {
		claims, err := auth.InspectToken(s.token)
		if err == nil && !claims.ExpiresWithin(s.clock(), s.refreshWindow) {
			return s.token, nil
		}
	}
	token, err := s.tokens.SocketToken(ctx)
	if err != nil {
		return "", fmt.Errorf("push: request socket token: %w", err)
	}
	s.token = token
	return token, nil
}

func (s *Socket) forgetToken() {
	s.tokenMu.Lock()
	s.token = ""
	s.tokenMu.Unlock()
}
