package service

import (
	"context"
	"encoding/json"

	"botdash/internal/liveness"
	"botdash/internal/models"
	"botdash/internal/repository"
)

// BotRepositoryInterface определяет интерфейс репозитория конфигураций ботов
type BotRepositoryInterface interface {
	Create(bot *models.BotConfig) error
	GetByID(id string) (*models.BotConfig, error)
	GetByUser(userID string) ([]*models.BotConfig, error)
	Update(bot *models.BotConfig) error
	Delete(id string) error
	CountByUser(userID string) (int, error)
}

// NotificationRepositoryInterface определяет интерфейс репозитория уведомлений
type NotificationRepositoryInterface interface {
	Create(notif *models.Notification) error
	GetRecent(limit int) ([]*models.Notification, error)
	GetByTypes(types []string, limit int) ([]*models.Notification, error)
	GetByBotID(botID string, limit int) ([]*models.Notification, error)
	DeleteAll() error
	DeleteByBotID(botID string) error
	Count() (int, error)
	KeepRecent(keep int) (int64, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ BotRepositoryInterface = (*repository.BotRepository)(nil)
var _ NotificationRepositoryInterface = (*repository.NotificationRepository)(nil)
var _ liveness.ConfigStore = (*repository.BotRepository)(nil)

// EngineRegistry - реестр движков сверки (liveness.Registry)
type EngineRegistry interface {
	Acquire(id models.BotIdentity) (*liveness.Engine, func())
	Get(botID string) (*liveness.Engine, bool)
}

var _ EngineRegistry = (*liveness.Registry)(nil)

// Deployer отправляет конфигурацию бота в оркестратор
type Deployer interface {
	Deploy(ctx context.Context, userID, strategy string, config json.RawMessage) (string, error)
}

var _ Deployer = (*liveness.OrchestratorClient)(nil)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
	BroadcastBotStatus(state models.ReconciledBotState)
}

// ActionNotifier записывает события ботов в журнал уведомлений
type ActionNotifier interface {
	NotifyActionFailed(botID, action string, err error)
	NotifyDeploy(botID, message string, failed bool)
	NotifyStatus(state models.ReconciledBotState)
	BotWarning(botID, message string)
}

var _ ActionNotifier = (*NotificationService)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// BotServiceInterface определяет интерфейс сервиса ботов
type BotServiceInterface interface {
	CreateBot(userID string, req *CreateBotRequest) (*models.BotConfig, error)
	ListBots(userID string) ([]*models.BotConfig, error)
	GetBot(userID, botID string) (*models.BotConfig, error)
	UpdateBot(userID, botID string, req *UpdateBotRequest) (*models.BotConfig, error)
	DeleteBot(userID, botID string) error

	GetStatus(ctx context.Context, userID, botID string) (models.ReconciledBotState, error)
	ListStatuses(ctx context.Context, userID string) ([]models.ReconciledBotState, error)
	ReleaseStatus(userID, botID string) error
	StartBot(ctx context.Context, userID, botID string) (models.ReconciledBotState, error)
	StopBot(ctx context.Context, userID, botID string) (models.ReconciledBotState, error)
	StopBuy(ctx context.Context, userID, botID string) (models.ReconciledBotState, error)
	DeployBot(ctx context.Context, userID, botID string) (models.ReconciledBotState, error)

	GetBalance(ctx context.Context, userID, botID string) (models.BotBalance, error)
	GetProfit(ctx context.Context, userID, botID string) (models.BotProfit, error)
	GetLogs(ctx context.Context, userID, botID string, limit int) (models.BotLogs, error)
}

// NotificationServiceInterface определяет интерфейс сервиса уведомлений
type NotificationServiceInterface interface {
	GetNotifications(types []string, limit int) ([]*models.Notification, error)
	GetBotNotifications(botID string, limit int) ([]*models.Notification, error)
	ClearNotifications() error
	GetNotificationCount() (int, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ BotServiceInterface = (*BotService)(nil)
var _ NotificationServiceInterface = (*NotificationService)(nil)
