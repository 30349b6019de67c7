package models

import "time"

// Notification представляет уведомление о событии бота
//
// Источники: warning-события EventBridge, ошибки ручного start/stop,
// переход бота в failed/error. Для UI это аналог toast/banner.
type Notification struct {
	ID        int                    `json:"id" db:"id"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`         // WARNING, ACTION_FAILED, STATUS, DEPLOY
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	BotID     *string                `json:"bot_id,omitempty" db:"bot_id"`
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // дополнительные данные (JSON в БД)
}

// Типы уведомлений
const (
	NotificationTypeWarning      = "WARNING"       // warning от самого бота (push)
	NotificationTypeActionFailed = "ACTION_FAILED" // не удалось выполнить start/stop
	NotificationTypeStatus       = "STATUS"        // бот перешел в failed/error
	NotificationTypeDeploy       = "DEPLOY"        // деплой инициирован/не удался
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
