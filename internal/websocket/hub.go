package websocket

import (
	"bytes"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"botdash/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ sync.Pool для JSON буферов ============
// Убирает аллокации при каждом Broadcast

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

// hubBroadcastBuffer - размер очереди broadcast; при переполнении сообщения отбрасываются
const hubBroadcastBuffer = 256

// Watcher монтирует движок сверки бота для WebSocket клиента
//
// Возвращает текущий снимок и release, который нужно вызвать ровно один раз
// при unwatch или отключении клиента.
type Watcher interface {
	Watch(userID, botID string) (models.ReconciledBotState, func(), error)
}

// envelope - сериализованное сообщение с адресатом
//
// botID != "" - только клиентам, подписанным на этого бота.
type envelope struct {
	botID string
	data  []byte
}

// directMessage - сообщение одному клиенту
type directMessage struct {
	client *Client
	data   []byte
}

// Hub управляет всеми активными WebSocket соединениями
//
// Назначение:
// Центральный менеджер real-time обновлений dashboard. Клиент подписывается
// на ботов командой watch; каждая подписка - одна ссылка на общий движок
// сверки в реестре. Пока хотя бы один экран смотрит на бота, движок живет.
//
// Функции:
// - Регистрация и отмена регистрации клиентов
// - Доставка botStatus только подписанным клиентам
// - Broadcast уведомлений всем клиентам
// - Снятие подписок (release движков) при отключении
// - Отбрасывание сообщений при переполнении вместо блокировки движков
//
// Использование:
// 1. hub := NewHub(logger); hub.SetWatcher(botService)
// 2. go hub.Run()
// 3. engine.Subscribe(hub.BroadcastBotStatus)
type Hub struct {
	clients map[*Client]bool

	broadcast  chan envelope
	direct     chan directMessage
	register   chan *Client
	unregister chan *Client

	stop     chan struct{}
	stopOnce sync.Once

	watcher Watcher
	logger  *zap.Logger

	dropped int64

	mu sync.RWMutex
}

// NewHub создает новый Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, hubBroadcastBuffer),
		direct:     make(chan directMessage, hubBroadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger.With(zap.String("component", "ws_hub")),
	}
}

// SetWatcher задает источник состояний ботов (вызывается до Run)
func (h *Hub) SetWatcher(w Watcher) {
	h.watcher = w
}

// Run запускает главный цикл Hub
//
// Должен запускаться в отдельной горутине: go hub.Run()
// Список клиентов копируется под коротким RLock, отправка идет без блокировки.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.releaseAll()
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.removeClient(client)
			h.logger.Debug("client disconnected", zap.Int("total", h.ClientCount()))

		case msg := <-h.direct:
			h.mu.RLock()
			_, ok := h.clients[msg.client]
			h.mu.RUnlock()
			if !ok {
				continue
			}
			select {
			case msg.client.send <- msg.data:
			default:
				h.removeClient(msg.client)
			}

		case env := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				if env.botID == "" || client.isWatching(env.botID) {
					clients = append(clients, client)
				}
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- env.data:
				default:
					// клиент не успевает читать
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				for _, client := range toRemove {
					h.removeClient(client)
				}
				h.logger.Warn("removed slow clients",
					zap.Int("removed", len(toRemove)),
					zap.Int("total", h.ClientCount()))
			}
		}
	}
}

// removeClient удаляет клиента и снимает его подписки на ботов
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	h.mu.Unlock()

	if ok {
		client.releaseAll()
		close(client.send)
	}
}

// Stop останавливает Run и отключает всех клиентов
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// encode сериализует сообщение через пул буферов
func (h *Hub) encode(message interface{}) ([]byte, bool) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer jsonBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.logger.Error("failed to marshal ws message", zap.Error(err))
		return nil, false
	}

	// Encode добавляет trailing newline
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}

	// буфер вернется в пул, копируем
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// enqueue ставит сообщение в очередь, не блокируя отправителя
func (h *Hub) enqueue(env envelope) {
	select {
	case h.broadcast <- env:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
}

// Broadcast отправляет сообщение всем подключенным клиентам
func (h *Hub) Broadcast(message interface{}) {
	if data, ok := h.encode(message); ok {
		h.enqueue(envelope{data: data})
	}
}

// BroadcastRaw отправляет уже сериализованное сообщение всем клиентам
func (h *Hub) BroadcastRaw(data []byte) {
	h.enqueue(envelope{data: data})
}

// BroadcastBotStatus отправляет состояние бота подписанным клиентам
//
// Сигнатура совпадает с получателем Engine.Subscribe.
func (h *Hub) BroadcastBotStatus(state models.ReconciledBotState) {
	if data, ok := h.encode(NewBotStatusMessage(state)); ok {
		h.enqueue(envelope{botID: state.BotID, data: data})
	}
}

// BroadcastNotification отправляет новое уведомление всем клиентам
func (h *Hub) BroadcastNotification(notif *models.Notification) {
	h.Broadcast(NewNotificationMessage(notif))
}

// sendTo отправляет сообщение одному клиенту через цикл Run
func (h *Hub) sendTo(client *Client, message interface{}) {
	data, ok := h.encode(message)
	if !ok {
		return
	}
	select {
	case h.direct <- directMessage{client: client, data: data}:
	case <-h.stop:
	}
}

// handleCommand обрабатывает команду watch/unwatch клиента
func (h *Hub) handleCommand(client *Client, cmd ClientCommand) {
	if cmd.BotID == "" {
		h.sendTo(client, NewErrorMessage("", "bot_id is required"))
		return
	}

	switch cmd.Action {
	case ActionWatch:
		if client.isWatching(cmd.BotID) {
			return
		}
		if h.watcher == nil {
			h.sendTo(client, NewErrorMessage(cmd.BotID, "status updates unavailable"))
			return
		}
		state, release, err := h.watcher.Watch(client.userID, cmd.BotID)
		if err != nil {
			h.sendTo(client, NewErrorMessage(cmd.BotID, err.Error()))
			return
		}
		if !client.addWatch(cmd.BotID, release) {
			release()
			return
		}
		h.sendTo(client, NewBotStatusMessage(state))

	case ActionUnwatch:
		client.removeWatch(cmd.BotID)

	default:
		h.sendTo(client, NewErrorMessage(cmd.BotID, "unknown action: "+cmd.Action))
	}
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages возвращает число отброшенных при переполнении сообщений
func (h *Hub) DroppedMessages() int64 {
	return atomic.LoadInt64(&h.dropped)
}
