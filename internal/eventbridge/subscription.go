package eventbridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"botdash/internal/liveness"
	"botdash/pkg/retry"
)

// Config - параметры push-канала бота
type Config struct {
	// Таймаут установки соединения (handshake)
	ConnectTimeout time.Duration
	// Интервал ping для проверки соединения
	PingInterval time.Duration
	// Таймаут ожидания pong
	PongTimeout time.Duration
	// Переподключение: задержки и число попыток
	Reconnect retry.Config
	// Категории событий для подписки
	Categories []string
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	categories := make([]string, 0, len(liveness.DefaultEventCategories))
	for _, c := range liveness.DefaultEventCategories {
		categories = append(categories, string(c))
	}
	return Config{
		ConnectTimeout: 10 * time.Second,
		PingInterval:   30 * time.Second,
		PongTimeout:    10 * time.Second,
		Reconnect:      retry.ReconnectConfig(),
		Categories:     categories,
	}
}

// ConnectionState - состояние push-канала
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler получает события бота (реализуется liveness.Engine)
type Handler interface {
	HandleEvent(ev liveness.Event)
}

// ErrClosed - подписка закрыта
var ErrClosed = errors.New("subscription closed")

// subscribeMessage - первый кадр после подключения
type subscribeMessage struct {
	Type string   `json:"type"`
	Data []string `json:"data"`
}

// PushURL собирает адрес push-канала бота
//
// https://eu.example.com -> wss://eu.example.com/user/{strategy}/api/v1/message/ws?token={user}
func PushURL(ep liveness.Endpoint) (string, error) {
	u, err := url.Parse(ep.Domain)
	if err != nil {
		return "", fmt.Errorf("parse domain: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/user/" + ep.Strategy + "/api/v1/message/ws"
	u.RawQuery = url.Values{"token": {ep.UserID}}.Encode()
	return u.String(), nil
}

// Subscription - push-канал одного бота с автоматическим переподключением
//
// Назначение:
// Доставляет события бота в Handler между опросами движка сверки.
// Разрыв канала не влияет на статус: опрос продолжается независимо.
//
// Функции:
// - Подписка на категории сразу после подключения (и после каждого переподключения)
// - Ping/Pong для проверки живости соединения
// - Переподключение с exponential backoff (retry.Config)
type Subscription struct {
	endpoint liveness.Endpoint
	wsURL    string
	config   Config
	handler  Handler
	logger   *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	state      int32 // atomic ConnectionState
	retryCount int32 // atomic
	received   int64 // atomic

	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// Subscribe подключается к push-каналу бота и начинает доставку событий
//
// Первая попытка подключения синхронная: ошибка возвращается вызывающему.
// Отмена ctx закрывает подписку.
func Subscribe(ctx context.Context, ep liveness.Endpoint, handler Handler, config Config, logger *zap.Logger) (*Subscription, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wsURL, err := PushURL(ep)
	if err != nil {
		return nil, err
	}

	s := &Subscription{
		endpoint: ep,
		wsURL:    wsURL,
		config:   config,
		handler:  handler,
		logger: logger.With(
			zap.String("component", "eventbridge"),
			zap.String("strategy", ep.Strategy),
			zap.String("domain", ep.Domain)),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}

	atomic.StoreInt32(&s.state, int32(StateConnecting))
	conn, err := s.dial(ctx)
	if err != nil {
		atomic.StoreInt32(&s.state, int32(StateClosed))
		return nil, err
	}
	atomic.StoreInt32(&s.state, int32(StateConnected))

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	go func() {
		defer stop()
		s.run(conn)
	}()

	s.logger.Info("push channel connected")
	return s, nil
}

// State возвращает текущее состояние канала
func (s *Subscription) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&s.state))
}

// Received возвращает число принятых событий
func (s *Subscription) Received() int64 {
	return atomic.LoadInt64(&s.received)
}

// Done закрывается, когда канал окончательно остановлен
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close закрывает канал и останавливает переподключение
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		atomic.StoreInt32(&s.state, int32(StateClosed))

		s.connMu.Lock()
		if s.conn != nil {
			err = s.conn.Close()
			s.conn = nil
		}
		s.connMu.Unlock()
	})
	return err
}

func (s *Subscription) closed() bool {
	select {
	case <-s.closeCh:
		return true
	default:
		return false
	}
}

// dial подключается и отправляет подписку на категории
func (s *Subscription) dial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: s.config.ConnectTimeout}
	conn, _, err := dialer.DialContext(dctx, s.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial push channel: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(s.config.PongTimeout))
	if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Data: s.config.Categories}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	s.connMu.Lock()
	if s.closed() {
		s.connMu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	s.conn = conn
	s.connMu.Unlock()

	return conn, nil
}

// run читает канал и переподключается до закрытия подписки
func (s *Subscription) run(conn *websocket.Conn) {
	defer close(s.done)

	for conn != nil {
		err := s.readLoop(conn)
		if s.closed() {
			return
		}

		s.logger.Warn("push channel disconnected", zap.Error(err))
		atomic.StoreInt32(&s.state, int32(StateReconnecting))
		conn = s.reconnect()
	}
}

// readLoop читает сообщения до ошибки соединения
func (s *Subscription) readLoop(conn *websocket.Conn) error {
	readWait := s.config.PingInterval + s.config.PongTimeout
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(conn, stopPing)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		ev, err := liveness.DecodeEvent(frame)
		if err != nil {
			s.logger.Debug("push frame skipped", zap.Error(err))
			continue
		}
		atomic.AddInt64(&s.received, 1)
		s.handler.HandleEvent(ev)
	}
}

// pingLoop отправляет ping для проверки соединения
func (s *Subscription) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.closeCh:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.config.PongTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// reconnect выполняет переподключение с exponential backoff
//
// Возвращает nil, если попытки исчерпаны или подписка закрыта.
func (s *Subscription) reconnect() *websocket.Conn {
	cfg := s.config.Reconnect

	for attempt := 0; cfg.MaxRetries <= 0 || attempt < cfg.MaxRetries; attempt++ {
		delay := cfg.Backoff(attempt)
		atomic.StoreInt32(&s.retryCount, int32(attempt+1))

		s.logger.Info("reconnecting push channel",
			zap.Duration("delay", delay),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.MaxRetries))

		timer := time.NewTimer(delay)
		select {
		case <-s.closeCh:
			timer.Stop()
			return nil
		case <-timer.C:
		}

		// Close прерывает и зависший handshake
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-s.closeCh:
				cancel()
			case <-ctx.Done():
			}
		}()
		conn, err := s.dial(ctx)
		cancel()

		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			s.logger.Warn("push channel reconnect failed", zap.Error(err))
			continue
		}

		atomic.StoreInt32(&s.state, int32(StateConnected))
		atomic.StoreInt32(&s.retryCount, 0)
		s.logger.Info("push channel reconnected")
		return conn
	}

	s.logger.Warn("push channel reconnect attempts exhausted, relying on polling",
		zap.Int("max_attempts", cfg.MaxRetries))
	atomic.StoreInt32(&s.state, int32(StateClosed))
	return nil
}

// RetryCount возвращает номер текущей попытки переподключения
func (s *Subscription) RetryCount() int {
	return int(atomic.LoadInt32(&s.retryCount))
}
