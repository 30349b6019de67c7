package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"botdash/internal/liveness"
	"botdash/internal/models"
	"botdash/internal/repository"
)

// ============ Mock BotRepository ============

type MockBotRepository struct {
	mu        sync.Mutex
	bots      map[string]*models.BotConfig
	createErr error
	getErr    error
	updateErr error
	deleteErr error
	countErr  error
}

func NewMockBotRepository() *MockBotRepository {
	return &MockBotRepository{bots: make(map[string]*models.BotConfig)}
}

func (m *MockBotRepository) Create(bot *models.BotConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, b := range m.bots {
		if b.UserID == bot.UserID && b.Strategy == bot.Strategy {
			return repository.ErrBotExists
		}
	}
	bot.CreatedAt = time.Now()
	bot.UpdatedAt = bot.CreatedAt
	copied := *bot
	m.bots[bot.ID] = &copied
	return nil
}

func (m *MockBotRepository) GetByID(id string) (*models.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	bot, ok := m.bots[id]
	if !ok {
		return nil, repository.ErrBotNotFound
	}
	copied := *bot
	return &copied, nil
}

func (m *MockBotRepository) GetByUser(userID string) ([]*models.BotConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	var result []*models.BotConfig
	for _, b := range m.bots {
		if b.UserID == userID {
			copied := *b
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockBotRepository) Update(bot *models.BotConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.bots[bot.ID]; !ok {
		return repository.ErrBotNotFound
	}
	copied := *bot
	m.bots[bot.ID] = &copied
	return nil
}

func (m *MockBotRepository) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.bots[id]; !ok {
		return repository.ErrBotNotFound
	}
	delete(m.bots, id)
	return nil
}

func (m *MockBotRepository) CountByUser(userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	n := 0
	for _, b := range m.bots {
		if b.UserID == userID {
			n++
		}
	}
	return n, nil
}

// AddBot кладет бота в хранилище напрямую
func (m *MockBotRepository) AddBot(bot *models.BotConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *bot
	m.bots[bot.ID] = &copied
}

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu            sync.Mutex
	notifications []*models.Notification
	nextID        int
	createErr     error
	getErr        error
	deleteErr     error
	countErr      error
	lastTypes     []string
	lastLimit     int
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{nextID: 1}
}

func (m *MockNotificationRepository) Create(notif *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	notif.ID = m.nextID
	m.nextID++
	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}
	m.notifications = append(m.notifications, notif)
	return nil
}

func (m *MockNotificationRepository) GetRecent(limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.lastTypes = nil
	m.lastLimit = limit
	return m.recent(limit, func(*models.Notification) bool { return true }), nil
}

func (m *MockNotificationRepository) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.lastTypes = types
	m.lastLimit = limit
	return m.recent(limit, func(n *models.Notification) bool {
		for _, t := range types {
			if n.Type == t {
				return true
			}
		}
		return false
	}), nil
}

func (m *MockNotificationRepository) GetByBotID(botID string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.lastLimit = limit
	return m.recent(limit, func(n *models.Notification) bool {
		return n.BotID != nil && *n.BotID == botID
	}), nil
}

func (m *MockNotificationRepository) DeleteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.notifications = nil
	return nil
}

func (m *MockNotificationRepository) DeleteByBotID(botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	kept := m.notifications[:0]
	for _, n := range m.notifications {
		if n.BotID == nil || *n.BotID != botID {
			kept = append(kept, n)
		}
	}
	m.notifications = kept
	return nil
}

func (m *MockNotificationRepository) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.notifications), nil
}

func (m *MockNotificationRepository) KeepRecent(keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	if len(m.notifications) <= keep {
		return 0, nil
	}
	removed := len(m.notifications) - keep
	m.notifications = append([]*models.Notification(nil), m.notifications[removed:]...)
	return int64(removed), nil
}

// All возвращает копию журнала в порядке создания
func (m *MockNotificationRepository) All() []*models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Notification(nil), m.notifications...)
}

// recent - последние limit записей, новые первыми (под mu)
func (m *MockNotificationRepository) recent(limit int, keep func(*models.Notification) bool) []*models.Notification {
	var result []*models.Notification
	for i := len(m.notifications) - 1; i >= 0 && len(result) < limit; i-- {
		if keep(m.notifications[i]) {
			result = append(result, m.notifications[i])
		}
	}
	return result
}

// ============ Mock WebSocketBroadcaster ============

type MockBroadcaster struct {
	mu            sync.Mutex
	notifications []*models.Notification
	states        []models.ReconciledBotState
}

func (m *MockBroadcaster) BroadcastNotification(notif *models.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, notif)
}

func (m *MockBroadcaster) BroadcastBotStatus(state models.ReconciledBotState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}

func (m *MockBroadcaster) NotificationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.notifications)
}

func (m *MockBroadcaster) States() []models.ReconciledBotState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ReconciledBotState(nil), m.states...)
}

// ============ Mock ActionNotifier ============

type notifierCall struct {
	kind    string
	botID   string
	action  string
	message string
	failed  bool
}

type MockNotifier struct {
	mu    sync.Mutex
	calls []notifierCall
}

func (m *MockNotifier) NotifyActionFailed(botID, action string, err error) {
	m.add(notifierCall{kind: "action_failed", botID: botID, action: action, message: err.Error()})
}

func (m *MockNotifier) NotifyDeploy(botID, message string, failed bool) {
	m.add(notifierCall{kind: "deploy", botID: botID, message: message, failed: failed})
}

func (m *MockNotifier) NotifyStatus(state models.ReconciledBotState) {
	m.add(notifierCall{kind: "status", botID: state.BotID, message: string(state.LiveStatus)})
}

func (m *MockNotifier) BotWarning(botID, message string) {
	m.add(notifierCall{kind: "warning", botID: botID, message: message})
}

func (m *MockNotifier) add(c notifierCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Calls возвращает вызовы указанного вида
func (m *MockNotifier) Calls(kind string) []notifierCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notifierCall
	for _, c := range m.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// ============ Mock Deployer ============

type MockDeployer struct {
	mu       sync.Mutex
	status   string
	err      error
	requests []string // userID/strategy
	configs  []json.RawMessage
}

func (m *MockDeployer) Deploy(_ context.Context, userID, strategy string, config json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, userID+"/"+strategy)
	m.configs = append(m.configs, config)
	return m.status, m.err
}

// ============ Mock SecretSealer ============

type MockSealer struct {
	err error
}

func (m *MockSealer) Seal(botID, secret string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "sealed:" + botID + ":" + secret, nil
}

// ============ Сигналы движка ============

// MockProbe - heartbeat по доменам; домен без записи не отвечает
type MockProbe struct {
	mu      sync.Mutex
	samples map[string]time.Duration // domain -> возраст heartbeat
	err     error
}

func NewMockProbe() *MockProbe {
	return &MockProbe{samples: make(map[string]time.Duration)}
}

func (m *MockProbe) SetAge(domain string, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[domain] = age
}

func (m *MockProbe) FetchHeartbeat(_ context.Context, ep liveness.Endpoint) (models.HeartbeatSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.HeartbeatSample{}, m.err
	}
	age, ok := m.samples[ep.Domain]
	if !ok {
		return models.HeartbeatSample{}, errors.New("connection refused")
	}
	now := time.Now()
	return models.HeartbeatSample{LastProcessedAt: now.Add(-age), ObservedAt: now}, nil
}

// MockController записывает вызовы start/stop/stopbuy
type MockController struct {
	mu    sync.Mutex
	err   error
	calls []string // action@domain
}

func (m *MockController) Start(_ context.Context, ep liveness.Endpoint) error {
	return m.record("start", ep)
}

func (m *MockController) Stop(_ context.Context, ep liveness.Endpoint) error {
	return m.record("stop", ep)
}

func (m *MockController) StopBuy(_ context.Context, ep liveness.Endpoint) error {
	return m.record("stopbuy", ep)
}

func (m *MockController) record(action string, ep liveness.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, action+"@"+ep.Domain)
	return m.err
}

func (m *MockController) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockAccount отдает фиксированные данные аккаунта и пишет домены запросов
type MockAccount struct {
	mu    sync.Mutex
	calls []string // kind@domain
}

func (m *MockAccount) record(kind string, ep liveness.Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, kind+"@"+ep.Domain)
}

func (m *MockAccount) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockAccount) FetchBalance(_ context.Context, ep liveness.Endpoint) (models.BotBalance, error) {
	m.record("balance", ep)
	return models.BotBalance{Total: 1000, Stake: "USDT"}, nil
}

func (m *MockAccount) FetchProfit(_ context.Context, ep liveness.Endpoint) (models.BotProfit, error) {
	m.record("profit", ep)
	return models.BotProfit{WinningTrades: 2, TotalClosedTrades: 2, WinRatePct: 100}, nil
}

func (m *MockAccount) FetchLogs(_ context.Context, ep liveness.Endpoint, limit int) (models.BotLogs, error) {
	m.record("logs", ep)
	return models.BotLogs{Lines: []string{"started"}}, nil
}

// MockDeploymentProbe возвращает фиксированную фазу
type MockDeploymentProbe struct {
	signal models.DeploymentSignal
}

func (m *MockDeploymentProbe) FetchPhase(_ context.Context, _ models.BotIdentity) (models.DeploymentSignal, error) {
	return m.signal, nil
}

// ============ Хелперы ============

const (
	testUser  = "user-1"
	otherUser = "user-2"
)

// testOptions - тайминги, при которых фоновый опрос не мешает тестам
func testOptions() liveness.Options {
	return liveness.Options{
		Threshold:    2 * time.Minute,
		PollInterval: time.Hour,
		StopGrace:    time.Minute,
		DeployHold:   time.Minute,
	}
}

// testEnv - сервис ботов поверх настоящего реестра движков
type testEnv struct {
	repo     *MockBotRepository
	probe    *MockProbe
	control  *MockController
	account  *MockAccount
	deployer *MockDeployer
	notifier *MockNotifier
	hub      *MockBroadcaster
	registry *liveness.Registry
	service  *BotService
	cancel   context.CancelFunc
}

func newTestEnv() *testEnv {
	env := &testEnv{
		repo:     NewMockBotRepository(),
		probe:    NewMockProbe(),
		control:  &MockController{},
		account:  &MockAccount{},
		deployer: &MockDeployer{status: "created"},
		notifier: &MockNotifier{},
		hub:      &MockBroadcaster{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	env.cancel = cancel

	opts := testOptions()
	factory := NewEngineFactory(EngineWiring{
		Deps: liveness.Dependencies{
			Router:  liveness.NewExchangeRouter(env.probe, []string{"binance", "kraken"}, opts.Threshold, time.Second, nil),
			Control: env.control,
			Account: env.account,
		},
		Options:  opts,
		Hub:      env.hub,
		Notifier: env.notifier,
	})
	env.registry = liveness.NewRegistry(ctx, factory, nil)

	env.service = NewBotService(env.repo, env.registry, env.deployer, &MockSealer{}, nil)
	env.service.SetNotifier(env.notifier)
	return env
}

func (env *testEnv) Close() {
	env.service.Close()
	env.registry.Close()
	env.cancel()
}

func (env *testEnv) addBot(id, userID, strategy string) *models.BotConfig {
	bot := &models.BotConfig{
		ID:       id,
		UserID:   userID,
		Name:     "Bot " + id,
		Strategy: strategy,
		Exchange: "binance",
		Config:   json.RawMessage(`{"stake_amount":100}`),
	}
	env.repo.AddBot(bot)
	return bot
}
