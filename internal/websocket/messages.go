package websocket

import (
	"time"

	"botdash/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы исходящих сообщений
const (
	// MessageTypeBotStatus - новое согласованное состояние бота
	// Отправляется только клиентам, подписанным на этого бота
	MessageTypeBotStatus MessageType = "botStatus"

	// MessageTypeNotification - новое уведомление (всем клиентам)
	// warning от бота, неудачный start/stop, переход в failed/error
	MessageTypeNotification MessageType = "notification"

	// MessageTypeError - ошибка обработки команды клиента
	MessageTypeError MessageType = "error"
)

// Команды клиента
const (
	ActionWatch   = "watch"
	ActionUnwatch = "unwatch"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// BotStatusMessage - сообщение с состоянием бота
//
// Data - полный снимок ReconciledBotState: UI не склеивает частичные
// обновления, а заменяет карточку целиком.
type BotStatusMessage struct {
	BaseMessage
	BotID string                     `json:"bot_id"`
	Data  *models.ReconciledBotState `json:"data"`
}

// NotificationMessage - сообщение о новом уведомлении
type NotificationMessage struct {
	BaseMessage
	Data *NotificationData `json:"data"`
}

// NotificationData - данные уведомления
type NotificationData struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	BotID     *string                `json:"bot_id,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ErrorMessage - ответ на некорректную команду клиента
type ErrorMessage struct {
	BaseMessage
	BotID   string `json:"bot_id,omitempty"`
	Message string `json:"message"`
}

// ClientCommand - входящая команда клиента
//
// {"action":"watch","bot_id":"..."} монтирует движок сверки бота для этого
// соединения, "unwatch" - размонтирует.
type ClientCommand struct {
	Action string `json:"action"`
	BotID  string `json:"bot_id"`
}

// ============ Фабричные функции для создания сообщений ============

// NewBotStatusMessage создает сообщение состояния бота
func NewBotStatusMessage(state models.ReconciledBotState) *BotStatusMessage {
	return &BotStatusMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeBotStatus,
			Timestamp: time.Now(),
		},
		BotID: state.BotID,
		Data:  &state,
	}
}

// NewNotificationMessage создает сообщение уведомления
func NewNotificationMessage(notif *models.Notification) *NotificationMessage {
	return &NotificationMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeNotification,
			Timestamp: time.Now(),
		},
		Data: &NotificationData{
			ID:        notif.ID,
			Type:      notif.Type,
			Severity:  notif.Severity,
			BotID:     notif.BotID,
			Message:   notif.Message,
			Meta:      notif.Meta,
			Timestamp: notif.Timestamp,
		},
	}
}

// NewErrorMessage создает сообщение об ошибке команды
func NewErrorMessage(botID, message string) *ErrorMessage {
	return &ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeError,
			Timestamp: time.Now(),
		},
		BotID:   botID,
		Message: message,
	}
}
