package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"botdash/internal/liveness"
	"botdash/internal/models"
	"botdash/internal/repository"
	"botdash/pkg/utils"
)

// Ошибки сервиса ботов
var (
	ErrBotNotFound        = errors.New("bot not found")
	ErrBotAlreadyExists   = errors.New("bot with this strategy already exists")
	ErrInvalidBot         = errors.New("invalid bot configuration")
	ErrMaxBotsReached     = errors.New("maximum number of bots reached")
	ErrDeployUnavailable  = errors.New("orchestrator is not configured")
	ErrSecretsUnavailable = errors.New("exchange secret encryption is not configured")
)

// MaxBotsPerUser - максимальное количество конфигураций на пользователя
const MaxBotsPerUser = 50

// Действия пользователя (для журнала уведомлений)
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionStopBuy = "stopbuy"
	ActionDeploy  = "deploy"
)

// newBotID генерирует id конфигурации бота
var newBotID = uuid.NewString

// SecretSealer шифрует exchange secret бота (crypto.SecretBox)
type SecretSealer interface {
	Seal(botID, secret string) (string, error)
}

// CreateBotRequest - запрос на создание конфигурации бота
type CreateBotRequest struct {
	Name           string          `json:"name"`
	StrategySlug   string          `json:"strategy_slug"`
	Strategy       string          `json:"strategy"`
	Exchange       string          `json:"exchange"`
	Config         json.RawMessage `json:"config,omitempty"`
	ExchangeSecret string          `json:"exchange_secret,omitempty"`
}

// UpdateBotRequest - частичное обновление конфигурации (nil = не менять)
//
// Strategy не редактируется: это идентификатор бота в API и оркестраторе.
type UpdateBotRequest struct {
	Name           *string         `json:"name,omitempty"`
	StrategySlug   *string         `json:"strategy_slug,omitempty"`
	Exchange       *string         `json:"exchange,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
	ExchangeSecret *string         `json:"exchange_secret,omitempty"`
}

// BotService - бизнес-логика конфигураций ботов и их live-статуса
//
// Назначение:
// Связывает сохраненные конфигурации с движками сверки. REST-представление
// бота (GET /status) держит одну ссылку на общий движок в реестре до
// DELETE /status или удаления бота; WebSocket клиенты берут свои ссылки
// через Watch. Ручные действия выполняются через тот же движок, поэтому
// manual override виден всем экранам.
type BotService struct {
	botRepo  BotRepositoryInterface
	registry EngineRegistry
	deployer Deployer
	notifier ActionNotifier
	secrets  SecretSealer
	logger   *zap.Logger

	mu    sync.Mutex
	views map[string]func() // botID -> release REST-представления
}

// NewBotService создает новый экземпляр сервиса ботов
func NewBotService(
	botRepo BotRepositoryInterface,
	registry EngineRegistry,
	deployer Deployer,
	secrets SecretSealer,
	logger *zap.Logger,
) *BotService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BotService{
		botRepo:  botRepo,
		registry: registry,
		deployer: deployer,
		secrets:  secrets,
		logger:   logger.With(zap.String("component", "bot_service")),
		views:    make(map[string]func()),
	}
}

// SetNotifier устанавливает журнал уведомлений для неудачных действий
func (s *BotService) SetNotifier(notifier ActionNotifier) {
	s.notifier = notifier
}

// ============================================================
// CRUD конфигураций
// ============================================================

// CreateBot создает конфигурацию бота
// Выполняет:
// 1. Валидацию имени, стратегии, биржи и config
// 2. Проверку лимита ботов пользователя
// 3. Шифрование exchange secret
// 4. Сохранение в БД
func (s *BotService) CreateBot(userID string, req *CreateBotRequest) (*models.BotConfig, error) {
	if err := utils.ValidateUserID(userID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBot, err)
	}
	if err := validateBotFields(req.Name, req.Strategy, req.Exchange, req.Config); err != nil {
		return nil, err
	}

	count, err := s.botRepo.CountByUser(userID)
	if err != nil {
		return nil, err
	}
	if count >= MaxBotsPerUser {
		return nil, ErrMaxBotsReached
	}

	bot := &models.BotConfig{
		UserID:       userID,
		Name:         strings.TrimSpace(req.Name),
		StrategySlug: strings.TrimSpace(req.StrategySlug),
		Strategy:     req.Strategy,
		Exchange:     utils.NormalizeExchange(req.Exchange),
		Config:       req.Config,
	}

	// id нужен заранее: secret шифруется с привязкой к боту
	bot.ID = newBotID()
	if err := s.sealSecret(bot, req.ExchangeSecret); err != nil {
		return nil, err
	}

	if err := s.botRepo.Create(bot); err != nil {
		if errors.Is(err, repository.ErrBotExists) {
			return nil, ErrBotAlreadyExists
		}
		return nil, err
	}

	s.logger.Info("bot created",
		utils.BotID(bot.ID),
		utils.UserID(userID),
		utils.Strategy(bot.Strategy))
	return bot, nil
}

// ListBots возвращает конфигурации ботов пользователя
func (s *BotService) ListBots(userID string) ([]*models.BotConfig, error) {
	bots, err := s.botRepo.GetByUser(userID)
	if err != nil {
		return nil, err
	}
	if bots == nil {
		bots = []*models.BotConfig{}
	}
	return bots, nil
}

// GetBot возвращает конфигурацию бота пользователя
func (s *BotService) GetBot(userID, botID string) (*models.BotConfig, error) {
	return s.ownedBot(userID, botID)
}

// UpdateBot обновляет редактируемые поля конфигурации
func (s *BotService) UpdateBot(userID, botID string, req *UpdateBotRequest) (*models.BotConfig, error) {
	bot, err := s.ownedBot(userID, botID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		bot.Name = strings.TrimSpace(*req.Name)
	}
	if req.StrategySlug != nil {
		bot.StrategySlug = strings.TrimSpace(*req.StrategySlug)
	}
	if req.Exchange != nil {
		bot.Exchange = utils.NormalizeExchange(*req.Exchange)
	}
	if len(req.Config) > 0 {
		bot.Config = req.Config
	}

	if err := validateBotFields(bot.Name, bot.Strategy, bot.Exchange, bot.Config); err != nil {
		return nil, err
	}

	if req.ExchangeSecret != nil {
		if err := s.sealSecret(bot, *req.ExchangeSecret); err != nil {
			return nil, err
		}
	}

	if err := s.botRepo.Update(bot); err != nil {
		if errors.Is(err, repository.ErrBotNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, err
	}

	return bot, nil
}

// DeleteBot удаляет конфигурацию и размонтирует REST-представление
func (s *BotService) DeleteBot(userID, botID string) error {
	if _, err := s.ownedBot(userID, botID); err != nil {
		return err
	}

	s.unmount(botID)

	if err := s.botRepo.Delete(botID); err != nil {
		if errors.Is(err, repository.ErrBotNotFound) {
			return ErrBotNotFound
		}
		return err
	}

	s.logger.Info("bot deleted", utils.BotID(botID), utils.UserID(userID))
	return nil
}

// ============================================================
// Live-статус
// ============================================================

// GetStatus монтирует движок бота (если еще нет) и возвращает его состояние
//
// Ждет начального разрешения, но не дольше ctx: при отмене возвращается
// текущий снимок (обычно unknown).
func (s *BotService) GetStatus(ctx context.Context, userID, botID string) (models.ReconciledBotState, error) {
	bot, err := s.ownedBot(userID, botID)
	if err != nil {
		return models.ReconciledBotState{}, err
	}

	engine := s.mount(bot)
	waitResolved(ctx, engine)
	return engine.Snapshot(), nil
}

// ListStatuses возвращает состояния всех ботов пользователя
//
// Движки разрешаются параллельно: каждый стартует в своей горутине.
func (s *BotService) ListStatuses(ctx context.Context, userID string) ([]models.ReconciledBotState, error) {
	bots, err := s.botRepo.GetByUser(userID)
	if err != nil {
		return nil, err
	}

	engines := make([]*liveness.Engine, 0, len(bots))
	for _, bot := range bots {
		engines = append(engines, s.mount(bot))
	}

	states := make([]models.ReconciledBotState, 0, len(engines))
	for _, engine := range engines {
		waitResolved(ctx, engine)
		states = append(states, engine.Snapshot())
	}
	return states, nil
}

// ReleaseStatus размонтирует REST-представление бота
//
// Движок останавливается, если его больше никто не смотрит.
func (s *BotService) ReleaseStatus(userID, botID string) error {
	if _, err := s.ownedBot(userID, botID); err != nil {
		return err
	}
	s.unmount(botID)
	return nil
}

// Watch монтирует движок для WebSocket клиента (websocket.Watcher)
func (s *BotService) Watch(userID, botID string) (models.ReconciledBotState, func(), error) {
	bot, err := s.ownedBot(userID, botID)
	if err != nil {
		return models.ReconciledBotState{}, nil, err
	}

	engine, release := s.registry.Acquire(bot.Identity())
	return engine.Snapshot(), release, nil
}

// ============================================================
// Ручные действия
// ============================================================

// StartBot запускает бота через его API
func (s *BotService) StartBot(ctx context.Context, userID, botID string) (models.ReconciledBotState, error) {
	return s.runAction(ctx, userID, botID, ActionStart, (*liveness.Engine).StartBot)
}

// StopBot останавливает бота через его API
func (s *BotService) StopBot(ctx context.Context, userID, botID string) (models.ReconciledBotState, error) {
	return s.runAction(ctx, userID, botID, ActionStop, (*liveness.Engine).StopBot)
}

// StopBuy запрещает боту новые входы
func (s *BotService) StopBuy(ctx context.Context, userID, botID string) (models.ReconciledBotState, error) {
	return s.runAction(ctx, userID, botID, ActionStopBuy, (*liveness.Engine).StopBuy)
}

func (s *BotService) runAction(
	ctx context.Context,
	userID, botID, action string,
	fn func(*liveness.Engine, context.Context) error,
) (models.ReconciledBotState, error) {
	bot, err := s.ownedBot(userID, botID)
	if err != nil {
		return models.ReconciledBotState{}, err
	}

	engine := s.mount(bot)

	// иначе начальное разрешение перезапишет оптимистичный статус
	if !waitResolved(ctx, engine) {
		return engine.Snapshot(), ctx.Err()
	}

	if err := fn(engine, ctx); err != nil {
		s.logger.Warn("bot action failed",
			utils.BotID(botID),
			zap.String("action", action),
			zap.Error(err))
		if s.notifier != nil {
			s.notifier.NotifyActionFailed(botID, action, err)
		}
		return engine.Snapshot(), err
	}

	return engine.Snapshot(), nil
}

// ============================================================
// Данные аккаунта бота
// ============================================================

// GetBalance возвращает баланс бота с его API
func (s *BotService) GetBalance(ctx context.Context, userID, botID string) (models.BotBalance, error) {
	engine, err := s.resolvedEngine(ctx, userID, botID)
	if err != nil {
		return models.BotBalance{}, err
	}
	return engine.Balance(ctx)
}

// GetProfit возвращает сводку прибыли бота
func (s *BotService) GetProfit(ctx context.Context, userID, botID string) (models.BotProfit, error) {
	engine, err := s.resolvedEngine(ctx, userID, botID)
	if err != nil {
		return models.BotProfit{}, err
	}
	return engine.Profit(ctx)
}

// GetLogs возвращает последние строки журнала бота
func (s *BotService) GetLogs(ctx context.Context, userID, botID string, limit int) (models.BotLogs, error) {
	engine, err := s.resolvedEngine(ctx, userID, botID)
	if err != nil {
		return models.BotLogs{}, err
	}
	return engine.Logs(ctx, limit)
}

// resolvedEngine монтирует движок и ждет, пока станет известен домен бота
func (s *BotService) resolvedEngine(ctx context.Context, userID, botID string) (*liveness.Engine, error) {
	bot, err := s.ownedBot(userID, botID)
	if err != nil {
		return nil, err
	}

	engine := s.mount(bot)
	if !waitResolved(ctx, engine) {
		return nil, ctx.Err()
	}
	return engine, nil
}

// DeployBot отправляет конфигурацию в оркестратор
//
// После успешного запроса движок удерживает статус deploying: оркестратор
// еще некоторое время отвечает NotFound, пока pod не создан.
func (s *BotService) DeployBot(ctx context.Context, userID, botID string) (models.ReconciledBotState, error) {
	bot, err := s.ownedBot(userID, botID)
	if err != nil {
		return models.ReconciledBotState{}, err
	}
	if s.deployer == nil {
		return models.ReconciledBotState{}, ErrDeployUnavailable
	}

	status, err := s.deployer.Deploy(ctx, bot.UserID, bot.Strategy, bot.Config)
	if err != nil {
		if s.notifier != nil {
			s.notifier.NotifyDeploy(botID, "deployment failed: "+err.Error(), true)
		}
		return models.ReconciledBotState{}, err
	}

	engine := s.mount(bot)
	// начальное разрешение не должно перетереть deploying
	waitResolved(ctx, engine)
	engine.MarkDeploying()

	if s.notifier != nil {
		msg := "deployment requested"
		if status != "" {
			msg += ": " + status
		}
		s.notifier.NotifyDeploy(botID, msg, false)
	}

	return engine.Snapshot(), nil
}

// Close размонтирует все REST-представления
func (s *BotService) Close() {
	s.mu.Lock()
	views := s.views
	s.views = make(map[string]func())
	s.mu.Unlock()

	for _, release := range views {
		release()
	}
}

// ============================================================
// Вспомогательные методы
// ============================================================

// ownedBot возвращает бота, только если он принадлежит пользователю
//
// Чужой бот неотличим от несуществующего.
func (s *BotService) ownedBot(userID, botID string) (*models.BotConfig, error) {
	bot, err := s.botRepo.GetByID(botID)
	if err != nil {
		if errors.Is(err, repository.ErrBotNotFound) {
			return nil, ErrBotNotFound
		}
		return nil, err
	}
	if bot.UserID != userID {
		return nil, ErrBotNotFound
	}
	return bot, nil
}

// mount возвращает движок REST-представления, монтируя его при необходимости
func (s *BotService) mount(bot *models.BotConfig) *liveness.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()

	if release, ok := s.views[bot.ID]; ok {
		if engine, ok := s.registry.Get(bot.ID); ok && !engine.Disposed() {
			return engine
		}
		// движок остановлен извне (закрытие реестра): монтируем заново
		release()
		delete(s.views, bot.ID)
	}

	engine, release := s.registry.Acquire(bot.Identity())
	s.views[bot.ID] = release
	return engine
}

func (s *BotService) unmount(botID string) {
	s.mu.Lock()
	release, ok := s.views[botID]
	delete(s.views, botID)
	s.mu.Unlock()

	if ok {
		release()
	}
}

func (s *BotService) sealSecret(bot *models.BotConfig, secret string) error {
	if secret == "" {
		bot.ExchangeSecret = ""
		return nil
	}
	if s.secrets == nil {
		return ErrSecretsUnavailable
	}
	sealed, err := s.secrets.Seal(bot.ID, secret)
	if err != nil {
		return fmt.Errorf("encrypt exchange secret: %w", err)
	}
	bot.ExchangeSecret = sealed
	return nil
}

// validateBotFields проверяет поля, попадающие в URL и в оркестратор
func validateBotFields(name, strategy, exchange string, config json.RawMessage) error {
	if err := utils.ValidateBotName(name); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBot, err)
	}
	if err := utils.ValidateStrategyName(strategy); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBot, err)
	}
	if err := utils.ValidateExchange(exchange); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBot, err)
	}
	if len(config) > 0 && jsoniter.Get(config).ValueType() != jsoniter.ObjectValue {
		return fmt.Errorf("%w: config must be a JSON object", ErrInvalidBot)
	}
	return nil
}

// waitResolved ждет начального разрешения движка; false если ctx отменен раньше
func waitResolved(ctx context.Context, engine *liveness.Engine) bool {
	select {
	case <-engine.Resolved():
		return true
	case <-ctx.Done():
		return false
	}
}
