package models

import (
	"strings"
	"time"
)

// BotIdentity идентифицирует бота для сверки живости
//
// ExchangeBinding не конфигурируется, а обнаруживается (ExchangeRouter)
// и кешируется на время жизни движка. Может быть пустым до первого успеха.
type BotIdentity struct {
	BotID              string `json:"bot_id"`
	UserID             string `json:"user_id"`
	StrategyIdentifier string `json:"strategy"`
	ExchangeBinding    string `json:"exchange_binding,omitempty"`
}

// LiveStatus - текущее представление о состоянии бота
type LiveStatus string

// Значения LiveStatus
const (
	LiveStatusUnknown     LiveStatus = "unknown"
	LiveStatusNotDeployed LiveStatus = "not_deployed"
	LiveStatusDeploying   LiveStatus = "deploying"
	LiveStatusRunning     LiveStatus = "running"
	LiveStatusStopped     LiveStatus = "stopped"
	LiveStatusFailed      LiveStatus = "failed"
	LiveStatusError       LiveStatus = "error"
)

// ParseLiveStatus разбирает статус из хранилища или push-события.
// Неизвестные значения дают LiveStatusUnknown и false.
func ParseLiveStatus(s string) (LiveStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running", "run":
		return LiveStatusRunning, true
	case "stopped", "stop", "paused":
		return LiveStatusStopped, true
	case "deploying", "pending", "starting":
		return LiveStatusDeploying, true
	case "not_deployed", "notdeployed", "notfound":
		return LiveStatusNotDeployed, true
	case "failed":
		return LiveStatusFailed, true
	case "error":
		return LiveStatusError, true
	case "unknown":
		return LiveStatusUnknown, true
	default:
		return LiveStatusUnknown, false
	}
}

// DeploymentPhase - фаза жизненного цикла процесса в оркестраторе
type DeploymentPhase string

// Значения DeploymentPhase
const (
	PhasePending  DeploymentPhase = "Pending"
	PhaseRunning  DeploymentPhase = "Running"
	PhaseFailed   DeploymentPhase = "Failed"
	PhaseNotFound DeploymentPhase = "NotFound"
	PhaseUnknown  DeploymentPhase = "Unknown"
)

// DeploymentSignal - нормализованный ответ DeploymentProbe
type DeploymentSignal struct {
	Phase  DeploymentPhase `json:"phase"`
	Ready  bool            `json:"ready"`
	Reason string          `json:"reason,omitempty"` // причина Failed от оркестратора
}

// HeartbeatSample - результат HeartbeatProbe
type HeartbeatSample struct {
	LastProcessedAt time.Time `json:"last_processed_at"`
	ObservedAt      time.Time `json:"observed_at"`
}

// Age возвращает возраст heartbeat
func (h HeartbeatSample) Age() time.Duration {
	return h.ObservedAt.Sub(h.LastProcessedAt)
}

// Fresh - true если age < threshold (граница исключается)
func (h HeartbeatSample) Fresh(threshold time.Duration) bool {
	return h.Age() < threshold
}

// OverrideReason - причина ручного переопределения
type OverrideReason string

// Значения OverrideReason
const (
	OverrideNone  OverrideReason = ""
	OverrideStart OverrideReason = "start"
	OverrideStop  OverrideReason = "stop"
)

// ManualOverride - короткоживущий флаг приоритета действия пользователя
type ManualOverride struct {
	Active bool           `json:"active"`
	Reason OverrideReason `json:"reason,omitempty"`
	SetAt  time.Time      `json:"set_at,omitempty"`
}

// ReconciledBotState - агрегированное состояние бота для UI
//
// OpenTradeCount == nil означает "неизвестно" (ошибка запроса),
// 0 - подтвержденное отсутствие открытых сделок.
type ReconciledBotState struct {
	BotID               string          `json:"bot_id"`
	LiveStatus          LiveStatus      `json:"live_status"`
	DeploymentPhase     DeploymentPhase `json:"deployment_phase"`
	Ready               bool            `json:"ready"`
	HeartbeatAgeSeconds *int64          `json:"heartbeat_age_seconds,omitempty"`
	OpenTradeCount      *int            `json:"open_trade_count,omitempty"`
	ManualOverride      ManualOverride  `json:"manual_override"`
	ExchangeBinding     string          `json:"exchange_binding,omitempty"`
	LastCheckedAt       time.Time       `json:"last_checked_at"`
	LastError           string          `json:"last_error,omitempty"`
}
