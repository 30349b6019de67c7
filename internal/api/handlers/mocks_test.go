package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"botdash/internal/api/middleware"
	"botdash/internal/models"
	"botdash/internal/service"
)

// ============ Mock Bot Service ============

// MockBotService мок для BotServiceInterface
type MockBotService struct {
	mu     sync.Mutex
	bots   map[string]*models.BotConfig
	states map[string]models.ReconciledBotState

	createErr  error
	actionErr  error
	deployErr  error
	accountErr error

	released  []string
	actions   []string
	logsLimit int
}

// NewMockBotService создает новый мок сервиса ботов
func NewMockBotService() *MockBotService {
	return &MockBotService{
		bots:   make(map[string]*models.BotConfig),
		states: make(map[string]models.ReconciledBotState),
	}
}

// AddBot добавляет бота пользователю
func (m *MockBotService) AddBot(id, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bots[id] = &models.BotConfig{
		ID:        id,
		UserID:    userID,
		Name:      "Bot " + id,
		Strategy:  "SampleStrategy",
		Exchange:  "binance",
		CreatedAt: time.Now(),
	}
	m.states[id] = models.ReconciledBotState{
		BotID:           id,
		LiveStatus:      models.LiveStatusRunning,
		DeploymentPhase: models.PhaseRunning,
		Ready:           true,
	}
}

func (m *MockBotService) owned(userID, botID string) (*models.BotConfig, error) {
	bot, ok := m.bots[botID]
	if !ok || bot.UserID != userID {
		return nil, service.ErrBotNotFound
	}
	return bot, nil
}

func (m *MockBotService) CreateBot(userID string, req *service.CreateBotRequest) (*models.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	if req.Name == "" {
		return nil, service.ErrInvalidBot
	}
	bot := &models.BotConfig{
		ID:       "new-bot",
		UserID:   userID,
		Name:     req.Name,
		Strategy: req.Strategy,
		Exchange: req.Exchange,
	}
	m.bots[bot.ID] = bot
	return bot, nil
}

func (m *MockBotService) ListBots(userID string) ([]*models.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []*models.BotConfig{}
	for _, b := range m.bots {
		if b.UserID == userID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (m *MockBotService) GetBot(userID, botID string) (*models.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owned(userID, botID)
}

func (m *MockBotService) UpdateBot(userID, botID string, req *service.UpdateBotRequest) (*models.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bot, err := m.owned(userID, botID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		bot.Name = *req.Name
	}
	return bot, nil
}

func (m *MockBotService) DeleteBot(userID, botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(userID, botID); err != nil {
		return err
	}
	delete(m.bots, botID)
	return nil
}

func (m *MockBotService) GetStatus(_ context.Context, userID, botID string) (models.ReconciledBotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(userID, botID); err != nil {
		return models.ReconciledBotState{}, err
	}
	return m.states[botID], nil
}

func (m *MockBotService) ListStatuses(_ context.Context, userID string) ([]models.ReconciledBotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []models.ReconciledBotState{}
	for id, b := range m.bots {
		if b.UserID == userID {
			result = append(result, m.states[id])
		}
	}
	return result, nil
}

func (m *MockBotService) ReleaseStatus(userID, botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(userID, botID); err != nil {
		return err
	}
	m.released = append(m.released, botID)
	return nil
}

func (m *MockBotService) StartBot(ctx context.Context, userID, botID string) (models.ReconciledBotState, error) {
	return m.action(userID, botID, "start", models.LiveStatusRunning)
}

func (m *MockBotService) StopBot(ctx context.Context, userID, botID string) (models.ReconciledBotState, error) {
	return m.action(userID, botID, "stop", models.LiveStatusStopped)
}

func (m *MockBotService) StopBuy(ctx context.Context, userID, botID string) (models.ReconciledBotState, error) {
	return m.action(userID, botID, "stopbuy", "")
}

func (m *MockBotService) DeployBot(_ context.Context, userID, botID string) (models.ReconciledBotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(userID, botID); err != nil {
		return models.ReconciledBotState{}, err
	}
	if m.deployErr != nil {
		return models.ReconciledBotState{}, m.deployErr
	}
	st := m.states[botID]
	st.LiveStatus = models.LiveStatusDeploying
	st.DeploymentPhase = models.PhasePending
	m.states[botID] = st
	return st, nil
}

func (m *MockBotService) GetBalance(_ context.Context, userID, botID string) (models.BotBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(userID, botID); err != nil {
		return models.BotBalance{}, err
	}
	if m.accountErr != nil {
		return models.BotBalance{}, m.accountErr
	}
	return models.BotBalance{
		Currencies: []models.CurrencyBalance{{Currency: "USDT", Free: 900, Used: 100, Total: 1000}},
		Total:      1000,
		Stake:      "USDT",
	}, nil
}

func (m *MockBotService) GetProfit(_ context.Context, userID, botID string) (models.BotProfit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(userID, botID); err != nil {
		return models.BotProfit{}, err
	}
	if m.accountErr != nil {
		return models.BotProfit{}, m.accountErr
	}
	return models.BotProfit{TotalClosedTrades: 4, WinningTrades: 3, LosingTrades: 1, WinRatePct: 75}, nil
}

func (m *MockBotService) GetLogs(_ context.Context, userID, botID string, limit int) (models.BotLogs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(userID, botID); err != nil {
		return models.BotLogs{}, err
	}
	if m.accountErr != nil {
		return models.BotLogs{}, m.accountErr
	}
	m.logsLimit = limit
	return models.BotLogs{Lines: []string{"bot heartbeat"}}, nil
}

// action: при ошибке состояние не меняется (как откат движка)
func (m *MockBotService) action(userID, botID, name string, target models.LiveStatus) (models.ReconciledBotState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(userID, botID); err != nil {
		return models.ReconciledBotState{}, err
	}
	m.actions = append(m.actions, name+":"+botID)
	st := m.states[botID]
	if m.actionErr != nil {
		return st, m.actionErr
	}
	if target != "" {
		st.LiveStatus = target
		m.states[botID] = st
	}
	return st, nil
}

// ============ Mock Notification Service ============

// MockNotificationService мок для NotificationServiceInterface
type MockNotificationService struct {
	mu            sync.RWMutex
	notifications []*models.Notification
	nextID        int
	getErr        error
	clearErr      error
}

// NewMockNotificationService создает новый мок сервиса уведомлений
func NewMockNotificationService() *MockNotificationService {
	return &MockNotificationService{nextID: 1}
}

// AddNotification добавляет уведомление в мок
func (m *MockNotificationService) AddNotification(notifType, severity, botID, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := &models.Notification{
		ID:        m.nextID,
		Timestamp: time.Now(),
		Type:      notifType,
		Severity:  severity,
		Message:   message,
	}
	if botID != "" {
		n.BotID = &botID
	}
	m.nextID++
	m.notifications = append(m.notifications, n)
}

func (m *MockNotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.filter(limit, func(n *models.Notification) bool {
		if len(types) == 0 {
			return true
		}
		for _, t := range types {
			if n.Type == t {
				return true
			}
		}
		return false
	}), nil
}

func (m *MockNotificationService) GetBotNotifications(botID string, limit int) ([]*models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.filter(limit, func(n *models.Notification) bool {
		return n.BotID != nil && *n.BotID == botID
	}), nil
}

func (m *MockNotificationService) ClearNotifications() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clearErr != nil {
		return m.clearErr
	}
	m.notifications = nil
	return nil
}

func (m *MockNotificationService) GetNotificationCount() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notifications), nil
}

func (m *MockNotificationService) filter(limit int, keep func(*models.Notification) bool) []*models.Notification {
	var result []*models.Notification
	for _, n := range m.notifications {
		if len(result) >= limit {
			break
		}
		if keep(n) {
			result = append(result, n)
		}
	}
	return result
}

// ============ Хелперы ============

const (
	testUser  = "user-1"
	otherUser = "user-2"
)

// withUser кладет пользователя сессии в context запроса
func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.WithUserID(r.Context(), userID))
}

// withVars выставляет переменные маршрута mux
func withVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}
