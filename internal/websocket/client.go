package websocket

import (
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал отправки ping сообщений (должен быть меньше pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер входящего сообщения (команды watch/unwatch)
	maxMessageSize = 4096

	// Размер буфера отправки клиента
	clientSendBufferSize = 512
)

// OriginChecker проверяет Origin с O(1) lookup через map
// Потокобезопасен для чтения после инициализации
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// originChecker - глобальный экземпляр, инициализируется один раз
var originChecker = newOriginChecker(os.Getenv("ALLOWED_ORIGINS"))

// newOriginChecker разбирает список origin через запятую
//
// Пусто или "*" - разрешены все (development).
// Пример: ALLOWED_ORIGINS=http://localhost:3000,https://app.10xtraders.ai
func newOriginChecker(origins string) *OriginChecker {
	checker := &OriginChecker{
		allowedOrigins: make(map[string]struct{}),
	}

	if origins == "" || origins == "*" {
		checker.allowAll = true
		return checker
	}

	for _, origin := range strings.Split(origins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	return checker
}

// Check проверяет origin за O(1)
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" {
		return true // не браузерные клиенты (curl, botctl)
	}
	if oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return originChecker.Check(r.Header.Get("Origin"))
	},
	EnableCompression: true,
}

// Client представляет одно WebSocket соединение dashboard
//
// Каждый клиент имеет две горутины:
// 1. readPump - читает команды watch/unwatch
// 2. writePump - пишет сообщения клиенту
//
// watching хранит release для каждого бота, на которого подписан клиент.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	userID string

	// Буферизованный канал исходящих сообщений
	send chan []byte

	mu       sync.Mutex
	watching map[string]func()
	closed   bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		conn:     conn,
		hub:      hub,
		userID:   userID,
		send:     make(chan []byte, clientSendBufferSize),
		watching: make(map[string]func()),
	}
}

func (c *Client) isWatching(botID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.watching[botID]
	return ok
}

// addWatch запоминает подписку; false если клиент уже отключен
func (c *Client) addWatch(botID string, release func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, ok := c.watching[botID]; ok {
		return false
	}
	c.watching[botID] = release
	return true
}

func (c *Client) removeWatch(botID string) {
	c.mu.Lock()
	release, ok := c.watching[botID]
	delete(c.watching, botID)
	c.mu.Unlock()

	if ok {
		release()
	}
}

// releaseAll снимает все подписки; после вызова новые не принимаются
func (c *Client) releaseAll() {
	c.mu.Lock()
	c.closed = true
	releases := make([]func(), 0, len(c.watching))
	for _, release := range c.watching {
		releases = append(releases, release)
	}
	c.watching = make(map[string]func())
	c.mu.Unlock()

	for _, release := range releases {
		release()
	}
}

// readPump читает команды клиента
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var cmd ClientCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.hub.sendTo(c, NewErrorMessage("", "malformed command"))
			continue
		}
		c.hub.handleCommand(c, cmd)
	}
}

// writePump отправляет сообщения клиенту
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// каждое сообщение - отдельный кадр: UI разбирает кадр как один JSON
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP соединение до WebSocket и регистрирует клиента
//
// userID - пользователь сессии; подписки проверяются от его имени.
func ServeWS(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(hub, conn, userID)

	select {
	case hub.register <- client:
	case <-hub.stop:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
