package service

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"botdash/internal/models"
)

// Лимиты журнала уведомлений
const (
	defaultNotificationLimit = 100
	maxNotificationLimit     = 500

	// DefaultNotificationKeep - сколько последних событий хранится в журнале
	DefaultNotificationKeep = 1000
)

// NotificationService предоставляет бизнес-логику для журнала уведомлений.
//
// Отвечает за:
// - Создание уведомлений и broadcast через WebSocket
// - Получение списка уведомлений с фильтрацией
// - Очистку журнала
//
// Типы уведомлений:
// - WARNING: warning-событие от самого бота (push канал)
// - ACTION_FAILED: не удалось выполнить start/stop/stopbuy
// - STATUS: бот перешел в failed или error
// - DEPLOY: деплой инициирован или не удался
type NotificationService struct {
	notificationRepo NotificationRepositoryInterface
	wsHub            WebSocketBroadcaster
	logger           *zap.Logger

	// последний статус, о котором уже уведомили (на бота)
	statusMu   sync.Mutex
	lastStatus map[string]models.LiveStatus
}

// NewNotificationService создает новый экземпляр NotificationService.
func NewNotificationService(notificationRepo NotificationRepositoryInterface, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		notificationRepo: notificationRepo,
		logger:           logger.With(zap.String("component", "notifications")),
		lastStatus:       make(map[string]models.LiveStatus),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
//
// Вызывается после инициализации Hub в main.go:
//
//	notifService := service.NewNotificationService(notifRepo, logger)
//	notifService.SetWebSocketHub(wsHub)
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// CreateNotification сохраняет уведомление и рассылает его клиентам
func (s *NotificationService) CreateNotification(notif *models.Notification) error {
	if err := s.notificationRepo.Create(notif); err != nil {
		return err
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(notif)
	}

	return nil
}

// GetNotifications возвращает список уведомлений с фильтрацией по типам.
//
// Пустой types - все типы. limit приводится к 1..500 (по умолчанию 100).
func (s *NotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	limit = clampLimit(limit)

	normalizedTypes := make([]string, 0, len(types))
	for _, t := range types {
		normalized := strings.ToUpper(strings.TrimSpace(t))
		if normalized != "" && isValidNotificationType(normalized) {
			normalizedTypes = append(normalizedTypes, normalized)
		}
	}

	if len(normalizedTypes) > 0 {
		return s.notificationRepo.GetByTypes(normalizedTypes, limit)
	}

	return s.notificationRepo.GetRecent(limit)
}

// GetBotNotifications возвращает уведомления одного бота
func (s *NotificationService) GetBotNotifications(botID string, limit int) ([]*models.Notification, error) {
	return s.notificationRepo.GetByBotID(botID, clampLimit(limit))
}

// ClearNotifications очищает журнал уведомлений.
func (s *NotificationService) ClearNotifications() error {
	return s.notificationRepo.DeleteAll()
}

// ClearBotNotifications удаляет уведомления бота (при удалении конфигурации)
func (s *NotificationService) ClearBotNotifications(botID string) error {
	s.statusMu.Lock()
	delete(s.lastStatus, botID)
	s.statusMu.Unlock()
	return s.notificationRepo.DeleteByBotID(botID)
}

// GetNotificationCount возвращает общее количество уведомлений.
func (s *NotificationService) GetNotificationCount() (int, error) {
	return s.notificationRepo.Count()
}

// CleanupOld удаляет уведомления, оставляя только последние keepCount записей.
func (s *NotificationService) CleanupOld(keepCount int) (int64, error) {
	if keepCount <= 0 {
		keepCount = DefaultNotificationKeep
	}
	return s.notificationRepo.KeepRecent(keepCount)
}

// ============ События движков сверки ============

// BotWarning записывает warning, пришедший по push каналу бота
//
// Сигнатура совпадает с liveness.Dependencies.OnWarning.
func (s *NotificationService) BotWarning(botID, message string) {
	s.record(&models.Notification{
		Type:     models.NotificationTypeWarning,
		Severity: models.SeverityWarn,
		BotID:    &botID,
		Message:  message,
	})
}

// NotifyActionFailed записывает неудачный start/stop ("toast" в UI)
func (s *NotificationService) NotifyActionFailed(botID, action string, err error) {
	s.record(&models.Notification{
		Type:     models.NotificationTypeActionFailed,
		Severity: models.SeverityError,
		BotID:    &botID,
		Message:  action + " failed: " + err.Error(),
		Meta:     map[string]interface{}{"action": action},
	})
}

// NotifyDeploy записывает результат запроса на деплой
func (s *NotificationService) NotifyDeploy(botID, message string, failed bool) {
	severity := models.SeverityInfo
	if failed {
		severity = models.SeverityError
	}
	s.record(&models.Notification{
		Type:     models.NotificationTypeDeploy,
		Severity: severity,
		BotID:    &botID,
		Message:  message,
	})
}

// NotifyStatus записывает переход бота в failed или error
//
// Повторные снимки с тем же статусом не дублируют уведомление.
func (s *NotificationService) NotifyStatus(state models.ReconciledBotState) {
	s.statusMu.Lock()
	prev := s.lastStatus[state.BotID]
	s.lastStatus[state.BotID] = state.LiveStatus
	s.statusMu.Unlock()

	if prev == state.LiveStatus {
		return
	}
	if state.LiveStatus != models.LiveStatusFailed && state.LiveStatus != models.LiveStatusError {
		return
	}

	message := "bot is " + string(state.LiveStatus)
	if state.LastError != "" {
		message += ": " + state.LastError
	}

	botID := state.BotID
	s.record(&models.Notification{
		Type:     models.NotificationTypeStatus,
		Severity: models.SeverityError,
		BotID:    &botID,
		Message:  message,
		Meta: map[string]interface{}{
			"status": string(state.LiveStatus),
			"phase":  string(state.DeploymentPhase),
		},
	})
}

// record создает уведомление; ошибка хранилища только логируется
func (s *NotificationService) record(notif *models.Notification) {
	if err := s.CreateNotification(notif); err != nil {
		s.logger.Error("failed to store notification",
			zap.String("type", notif.Type),
			zap.Error(err))
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		return maxNotificationLimit
	}
	return limit
}

// isValidNotificationType проверяет, является ли тип допустимым.
func isValidNotificationType(notifType string) bool {
	switch notifType {
	case models.NotificationTypeWarning,
		models.NotificationTypeActionFailed,
		models.NotificationTypeStatus,
		models.NotificationTypeDeploy:
		return true
	default:
		return false
	}
}
