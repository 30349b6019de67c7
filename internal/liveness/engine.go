package liveness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"botdash/internal/models"
	"botdash/pkg/retry"
)

// ConfigStore - сохраненная запись о боте (только last-known подсказка)
//
// GetLastKnown для отсутствующей записи возвращает пустой LastKnown и nil.
type ConfigStore interface {
	GetLastKnown(ctx context.Context, botID string) (models.LastKnown, error)
	UpdateLastKnown(ctx context.Context, botID string, lk models.LastKnown) error
}

// Dependencies - источники сигналов и исполнители для Engine
type Dependencies struct {
	Router     *ExchangeRouter
	Deployment DeploymentProbe
	Trades     TradeFetcher
	Control    Controller
	Account    AccountFetcher
	Store      ConfigStore

	// OnWarning получает warning-события бота (опционально)
	OnWarning func(botID, message string)
}

// Options - тайминги сверки
type Options struct {
	Threshold    time.Duration // порог свежести heartbeat (2 × heartbeat interval)
	PollInterval time.Duration // период фоновой проверки
	StopGrace    time.Duration // сколько держится ручное действие без подтверждения
	DeployHold   time.Duration // сколько после деплоя игнорируется NotFound
}

// DefaultOptions возвращает тайминги по умолчанию
func DefaultOptions() Options {
	return Options{
		Threshold:    120 * time.Second,
		PollInterval: 30 * time.Second,
		StopGrace:    60 * time.Second,
		DeployHold:   90 * time.Second,
	}
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.Threshold <= 0 {
		o.Threshold = def.Threshold
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.StopGrace <= 0 {
		o.StopGrace = 2 * o.PollInterval
	}
	if o.DeployHold < 0 {
		o.DeployHold = 0
	}
}

// EngineOption - опция конструктора Engine
type EngineOption func(*Engine)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// persistTimeout - граница записи last-known статуса
const persistTimeout = 5 * time.Second

// Engine владеет LiveStatus одного бота
//
// Назначение:
// Сводит heartbeat, фазу деплоя, last-known статус и push-события
// в одно значение ReconciledBotState и не дает ему "мигать" во время
// ручных действий пользователя.
//
// Жизненный цикл:
// - Start: начальное разрешение, затем периодический poll в той же горутине
// - HandleEvent: push-события между опросами
// - StartBot/StopBot: оптимистичное обновление + manual override
// - Dispose: остановка; поздние ответы probe становятся no-op
//
// Все изменения состояния идут под mu; probes выполняются без блокировки.
type Engine struct {
	botID      string
	userID     string
	strategy   string
	generation string

	deps   Dependencies
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	resolved chan struct{}
	once     sync.Once

	mu        sync.Mutex
	state     models.ReconciledBotState
	halted    bool // после 401: опрос приостановлен до следующего действия
	disposed  bool
	started   bool
	holdUntil time.Time
	tradeSeq  uint64
	persisted models.LastKnown
	subs      map[uint64]func(models.ReconciledBotState)
	nextSub   uint64

	// доставка подписчикам строго по возрастанию LastCheckedAt
	notifyMu  sync.Mutex
	delivered time.Time
}

// NewEngine создает движок для идентичности бота
//
// generation различает повторные монтирования одного botID.
func NewEngine(id models.BotIdentity, generation string, deps Dependencies, opts Options, logger *zap.Logger, options ...EngineOption) *Engine {
	opts.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		botID:      id.BotID,
		userID:     id.UserID,
		strategy:   id.StrategyIdentifier,
		generation: generation,
		deps:       deps,
		opts:       opts,
		logger: logger.With(
			zap.String("bot_id", id.BotID),
			zap.String("strategy", id.StrategyIdentifier),
			zap.String("generation", generation)),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		resolved: make(chan struct{}),
		state: models.ReconciledBotState{
			BotID:           id.BotID,
			LiveStatus:      models.LiveStatusUnknown,
			DeploymentPhase: models.PhaseUnknown,
			ExchangeBinding: id.ExchangeBinding,
		},
		subs: make(map[uint64]func(models.ReconciledBotState)),
	}

	for _, o := range options {
		o(e)
	}
	return e
}

// BotID возвращает id бота
func (e *Engine) BotID() string { return e.botID }

// Generation возвращает id монтирования
func (e *Engine) Generation() string { return e.generation }

// Done закрывается при Dispose
func (e *Engine) Done() <-chan struct{} { return e.ctx.Done() }

// Resolved закрывается после завершения начального разрешения
func (e *Engine) Resolved() <-chan struct{} { return e.resolved }

// Snapshot возвращает текущее состояние
func (e *Engine) Snapshot() models.ReconciledBotState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Identity возвращает идентичность с текущей привязкой к домену
func (e *Engine) Identity() models.BotIdentity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.BotIdentity{
		BotID:              e.botID,
		UserID:             e.userID,
		StrategyIdentifier: e.strategy,
		ExchangeBinding:    e.state.ExchangeBinding,
	}
}

// Subscribe регистрирует получателя изменений состояния
func (e *Engine) Subscribe(fn func(models.ReconciledBotState)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// Start запускает начальное разрешение и затем периодический опрос
//
// Опрос взводится только после возврата начального разрешения, поэтому
// они никогда не выполняются параллельно. Отмена ctx равносильна Dispose.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started || e.disposed {
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, e.Dispose)
	go func() {
		defer stop()
		e.run()
	}()
}

func (e *Engine) run() {
	e.Resolve(e.ctx)

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.poll(e.ctx)
		}
	}
}

// Dispose останавливает движок
//
// Ответы probe, пришедшие позже, не меняют состояние.
func (e *Engine) Dispose() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	e.disposed = true
	e.subs = nil
	e.mu.Unlock()

	e.cancel()
	e.logger.Debug("engine disposed")
}

// Disposed сообщает, остановлен ли движок
func (e *Engine) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// ============================================================
// Сверка
// ============================================================

// observation - сигналы одного прохода сверки
type observation struct {
	initial bool

	// heartbeat
	fresh      bool
	hbAnswered bool
	sample     *models.HeartbeatSample
	domain     string // домен, который ответил

	deployment *models.DeploymentSignal // nil: не спрашивали или нет сигнала
	store      *models.LastKnown        // nil: не спрашивали или ошибка

	unauthorized bool
}

// Resolve выполняет начальное разрешение и возвращает итоговое состояние
//
// Быстрый путь: если heartbeat свежий, оркестратор и хранилище не опрашиваются.
func (e *Engine) Resolve(ctx context.Context) models.ReconciledBotState {
	defer e.once.Do(func() { close(e.resolved) })
	e.commit(e.observe(ctx, true))
	return e.Snapshot()
}

// poll - периодическая проверка по известной привязке, без новой гонки
func (e *Engine) poll(ctx context.Context) {
	e.mu.Lock()
	skip := e.disposed || e.halted
	e.mu.Unlock()
	if skip {
		return
	}
	e.commit(e.observe(ctx, false))
}

func (e *Engine) observe(ctx context.Context, initial bool) observation {
	obs := observation{initial: initial}

	e.mu.Lock()
	binding := e.state.ExchangeBinding
	e.mu.Unlock()

	router := e.deps.Router
	if router != nil {
		if binding != "" {
			sample, err := router.Verify(ctx, e.endpoint(binding))
			switch {
			case err == nil:
				obs.hbAnswered = true
				obs.sample = &sample
				obs.domain = binding
				obs.fresh = sample.Fresh(e.opts.Threshold)
			case errors.Is(err, ErrUnauthorized):
				obs.unauthorized = true
			default:
				// привязка не ответила дважды: только теперь новая гонка
				e.logger.Info("cached binding unreachable, re-racing candidates",
					zap.String("domain", binding), zap.Error(err))
				e.applyRace(&obs, router.Resolve(ctx, e.strategy, e.userID))
			}
		} else {
			e.applyRace(&obs, router.Resolve(ctx, e.strategy, e.userID))
		}
	}

	if obs.unauthorized || obs.fresh {
		return obs
	}

	needDeployment := e.deps.Deployment != nil && (initial || !obs.hbAnswered)
	needStore := e.deps.Store != nil && initial

	var wg sync.WaitGroup
	var deployUnauthorized bool
	if needDeployment {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig, err := e.deps.Deployment.FetchPhase(ctx, e.identityWith(binding))
			switch {
			case err == nil:
				obs.deployment = &sig
			case errors.Is(err, ErrUnauthorized):
				deployUnauthorized = true
			}
		}()
	}
	if needStore {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lk, err := e.deps.Store.GetLastKnown(ctx, e.botID)
			if err != nil {
				e.logger.Warn("config store read failed", zap.Error(err))
				return
			}
			obs.store = &lk
		}()
	}
	wg.Wait()

	obs.unauthorized = deployUnauthorized
	return obs
}

func (e *Engine) applyRace(obs *observation, res RaceResult) {
	if res.Answered > 0 && res.Unauthorized {
		// другой кандидат ответил: статус берется с него, отказ только в журнал
		e.logger.Warn("candidate rejected the session",
			zap.Strings("domains", res.Rejected),
			zap.String("selected", res.Route.Domain))
	}
	if res.Answered > 0 {
		sample := res.Route.Sample
		obs.hbAnswered = true
		obs.sample = &sample
		obs.domain = res.Route.Domain
		obs.fresh = res.Found
		return
	}
	obs.unauthorized = res.Unauthorized
}

// commit применяет результат прохода к состоянию
func (e *Engine) commit(obs observation) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}

	now := e.now()
	prev := e.state.LiveStatus

	if obs.store != nil {
		e.persisted = *obs.store
	}

	status, lastErr := e.derive(obs, prev, now)
	status = e.applyOverride(status, obs, now)

	switch {
	case obs.domain != "" && obs.domain != e.state.ExchangeBinding:
		if e.state.ExchangeBinding != "" {
			e.logger.Warn("exchange binding changed",
				zap.String("from", e.state.ExchangeBinding),
				zap.String("to", obs.domain))
		}
		e.state.ExchangeBinding = obs.domain
	case e.state.ExchangeBinding == "" && obs.store != nil && obs.store.ExchangeBinding != "":
		e.state.ExchangeBinding = obs.store.ExchangeBinding
	}

	if d := obs.deployment; d != nil {
		e.state.DeploymentPhase = d.Phase
		e.state.Ready = d.Ready
		if d.Phase != models.PhaseNotFound && d.Phase != models.PhaseUnknown {
			e.holdUntil = time.Time{}
		}
	}
	if obs.fresh {
		e.state.Ready = true
		e.holdUntil = time.Time{}
	}
	if obs.sample != nil {
		age := int64(obs.sample.Age() / time.Second)
		e.state.HeartbeatAgeSeconds = &age
	}
	if obs.unauthorized {
		e.halted = true
		e.logger.Warn("session rejected by bot API, polling paused until next action")
	}

	e.state.LastError = lastErr
	e.setStatus(status)
	e.touch(now)

	snap := e.state
	var lk *models.LastKnown
	if !(obs.initial && obs.fresh) {
		// быстрый путь не трогает хранилище: запись сделает первый опрос
		lk = e.persistCandidate()
	}
	e.mu.Unlock()

	e.publish(snap)
	if status == models.LiveStatusRunning {
		e.refreshTrades()
	}
	if lk != nil {
		e.persist(*lk)
	}
}

// derive вычисляет LiveStatus из сигналов прохода (без учета override)
func (e *Engine) derive(obs observation, prev models.LiveStatus, now time.Time) (models.LiveStatus, string) {
	if obs.unauthorized {
		return models.LiveStatusError, "unauthorized"
	}
	if obs.fresh {
		return models.LiveStatusRunning, ""
	}

	held := now.Before(e.holdUntil)

	if d := obs.deployment; d != nil {
		switch {
		case d.Ready && obs.hbAnswered:
			// процесс готов, API отвечает, но бот ничего не обрабатывает
			return models.LiveStatusStopped, ""
		case d.Ready:
			return models.LiveStatusRunning, ""
		case d.Phase == models.PhaseRunning, d.Phase == models.PhasePending:
			return models.LiveStatusDeploying, ""
		case d.Phase == models.PhaseFailed:
			return models.LiveStatusFailed, d.Reason
		case d.Phase == models.PhaseNotFound && !obs.hbAnswered:
			// ответ API бота важнее: процесс существует, оркестратор отстает
			if held {
				return models.LiveStatusDeploying, ""
			}
			return models.LiveStatusNotDeployed, ""
		}
	}

	if obs.hbAnswered {
		if held {
			return models.LiveStatusDeploying, ""
		}
		return models.LiveStatusStopped, ""
	}

	// дальше ни готовности, ни свежего heartbeat: running не подтвержден
	if obs.store != nil {
		if st, ok := models.ParseLiveStatus(string(obs.store.Status)); ok &&
			st != models.LiveStatusUnknown && st != models.LiveStatusError {
			return unconfirmed(st), ""
		}
		return models.LiveStatusNotDeployed, ""
	}

	if obs.deployment != nil {
		// фаза Unknown и хранилище не спрашивали: остаемся на прежнем
		if prev == models.LiveStatusUnknown || prev == models.LiveStatusError {
			return models.LiveStatusNotDeployed, ""
		}
		return unconfirmed(prev), ""
	}

	return models.LiveStatusError, "all signals unreachable"
}

// unconfirmed понижает running без подтверждающего сигнала до stopped
func unconfirmed(st models.LiveStatus) models.LiveStatus {
	if st == models.LiveStatusRunning {
		return models.LiveStatusStopped
	}
	return st
}

// applyOverride накладывает ручное действие поверх результата опроса
func (e *Engine) applyOverride(status models.LiveStatus, obs observation, now time.Time) models.LiveStatus {
	ov := e.state.ManualOverride
	if !ov.Active {
		return status
	}
	if obs.unauthorized {
		e.clearOverride("unauthorized")
		return status
	}

	graceLeft := now.Sub(ov.SetAt) < e.opts.StopGrace

	switch ov.Reason {
	case models.OverrideStop:
		if obs.fresh {
			if graceLeft {
				overrideSuppressions.Inc()
				e.logger.Debug("fresh heartbeat suppressed by manual stop")
				return models.LiveStatusStopped
			}
			e.clearOverride("grace period elapsed")
			return status
		}
		e.clearOverride("stop confirmed")
		if status == models.LiveStatusRunning || status == models.LiveStatusDeploying {
			return models.LiveStatusStopped
		}
		return status

	case models.OverrideStart:
		if obs.fresh {
			e.clearOverride("start confirmed")
			return models.LiveStatusRunning
		}
		if graceLeft {
			return models.LiveStatusRunning
		}
		e.clearOverride("grace period elapsed")
		return status
	}

	return status
}

func (e *Engine) clearOverride(reason string) {
	e.logger.Debug("manual override cleared",
		zap.String("override", string(e.state.ManualOverride.Reason)),
		zap.String("reason", reason))
	e.state.ManualOverride = models.ManualOverride{}
}

// ============================================================
// Push-события
// ============================================================

// HandleEvent обрабатывает push-событие бота
//
// status применяется сразу (с учетом ручного stop), события сделок
// только обновляют число открытых позиций.
func (e *Engine) HandleEvent(ev Event) {
	if e.Disposed() {
		return
	}
	pushEvents.WithLabelValues(string(ev.Type)).Inc()

	switch {
	case ev.Type == EventStatus:
		e.applyPushedStatus(ev)
	case ev.Type.IsTradeLifecycle():
		e.refreshTrades()
	case ev.Type == EventWarning:
		if e.deps.OnWarning != nil {
			e.deps.OnWarning(e.botID, ev.Text())
		}
	default:
		e.logger.Debug("push event ignored", zap.String("type", string(ev.Type)))
	}
}

func (e *Engine) applyPushedStatus(ev Event) {
	text := ev.Text()
	st, ok := models.ParseLiveStatus(text)
	if !ok || st == models.LiveStatusUnknown {
		e.logger.Debug("unrecognized pushed status", zap.String("status", text))
		return
	}

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}

	now := e.now()
	ov := e.state.ManualOverride
	if ov.Active && ov.Reason == models.OverrideStop && st == models.LiveStatusRunning &&
		now.Sub(ov.SetAt) < e.opts.StopGrace {
		overrideSuppressions.Inc()
		e.mu.Unlock()
		e.logger.Debug("pushed running suppressed by manual stop")
		return
	}
	if ov.Active {
		e.clearOverride("pushed status")
	}

	if st == models.LiveStatusRunning {
		e.state.Ready = true
		e.holdUntil = time.Time{}
	}
	e.state.LastError = ""
	e.setStatus(st)
	e.touch(now)

	snap := e.state
	lk := e.persistCandidate()
	e.mu.Unlock()

	e.publish(snap)
	if st == models.LiveStatusRunning {
		e.refreshTrades()
	}
	if lk != nil {
		e.persist(*lk)
	}
}

// ============================================================
// Ручные действия
// ============================================================

// StartBot запускает бота: статус сразу Running, откат при ошибке
func (e *Engine) StartBot(ctx context.Context) error {
	return e.manualAction(ctx, models.OverrideStart)
}

// StopBot останавливает бота: статус сразу Stopped, откат при ошибке
//
// Повторный stop не ошибка: бот отвечает "already stopped".
func (e *Engine) StopBot(ctx context.Context) error {
	return e.manualAction(ctx, models.OverrideStop)
}

// StopBuy запрещает боту открывать новые сделки; LiveStatus не меняется
func (e *Engine) StopBuy(ctx context.Context) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	binding := e.state.ExchangeBinding
	e.mu.Unlock()

	if binding == "" {
		return ErrNoBinding
	}
	return e.deps.Control.StopBuy(ctx, e.endpoint(binding))
}

func (e *Engine) manualAction(ctx context.Context, reason models.OverrideReason) error {
	target := models.LiveStatusStopped
	if reason == models.OverrideStart {
		target = models.LiveStatusRunning
	}

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return ErrDisposed
	}
	binding := e.state.ExchangeBinding
	if binding == "" {
		e.mu.Unlock()
		return ErrNoBinding
	}

	prev := e.state.LiveStatus
	setAt := e.now()
	e.state.ManualOverride = models.ManualOverride{Active: true, Reason: reason, SetAt: setAt}
	e.state.LastError = ""
	e.halted = false
	if target != models.LiveStatusRunning {
		e.state.OpenTradeCount = nil
	}
	e.setStatus(target)
	e.touch(setAt)
	snap := e.state
	e.mu.Unlock()

	e.publish(snap)

	ep := e.endpoint(binding)
	var err error
	if reason == models.OverrideStart {
		err = e.deps.Control.Start(ctx, ep)
	} else {
		err = e.deps.Control.Stop(ctx, ep)
	}

	if err == nil {
		if reason == models.OverrideStart {
			e.refreshTrades()
		}
		return nil
	}

	e.logger.Warn("manual action failed, rolling back",
		zap.String("action", string(reason)),
		zap.String("rollback_to", string(prev)),
		zap.Error(err))

	e.mu.Lock()
	ov := e.state.ManualOverride
	if e.disposed || !ov.Active || ov.Reason != reason || !ov.SetAt.Equal(setAt) {
		// состояние уже изменено другим действием или событием
		e.mu.Unlock()
		return err
	}
	e.state.ManualOverride = models.ManualOverride{}
	e.state.LastError = err.Error()
	if errors.Is(err, ErrUnauthorized) {
		e.state.LastError = "unauthorized"
		e.halted = true
		e.setStatus(models.LiveStatusError)
	} else {
		e.setStatus(prev)
	}
	e.touch(e.now())
	snap = e.state
	e.mu.Unlock()

	e.publish(snap)
	return err
}

// MarkDeploying переводит бота в Deploying после запроса деплоя
//
// В течение DeployHold фаза NotFound от оркестратора игнорируется.
func (e *Engine) MarkDeploying() {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	now := e.now()
	e.holdUntil = now.Add(e.opts.DeployHold)
	e.halted = false
	e.state.ManualOverride = models.ManualOverride{}
	e.state.DeploymentPhase = models.PhasePending
	e.state.Ready = false
	e.state.OpenTradeCount = nil
	e.state.LastError = ""
	e.setStatus(models.LiveStatusDeploying)
	e.touch(now)
	snap := e.state
	e.mu.Unlock()

	e.publish(snap)
}

// ============================================================
// Данные аккаунта
// ============================================================

// Balance читает баланс бота по текущей привязке
func (e *Engine) Balance(ctx context.Context) (models.BotBalance, error) {
	ep, err := e.accountEndpoint()
	if err != nil {
		return models.BotBalance{}, err
	}
	return e.deps.Account.FetchBalance(ctx, ep)
}

// Profit читает сводку прибыли бота по текущей привязке
func (e *Engine) Profit(ctx context.Context) (models.BotProfit, error) {
	ep, err := e.accountEndpoint()
	if err != nil {
		return models.BotProfit{}, err
	}
	return e.deps.Account.FetchProfit(ctx, ep)
}

// Logs читает последние limit строк журнала бота
func (e *Engine) Logs(ctx context.Context, limit int) (models.BotLogs, error) {
	ep, err := e.accountEndpoint()
	if err != nil {
		return models.BotLogs{}, err
	}
	return e.deps.Account.FetchLogs(ctx, ep, limit)
}

// accountEndpoint - адрес API бота; без привязки запросы не отправляются
func (e *Engine) accountEndpoint() (Endpoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.disposed:
		return Endpoint{}, ErrDisposed
	case e.deps.Account == nil:
		return Endpoint{}, fmt.Errorf("%w: account source not configured", ErrUnreachable)
	case e.state.ExchangeBinding == "":
		return Endpoint{}, ErrNoBinding
	}
	return e.endpoint(e.state.ExchangeBinding), nil
}

// ============================================================
// Вспомогательное
// ============================================================

func (e *Engine) endpoint(domain string) Endpoint {
	return Endpoint{Domain: domain, Strategy: e.strategy, UserID: e.userID}
}

func (e *Engine) identityWith(binding string) models.BotIdentity {
	return models.BotIdentity{
		BotID:              e.botID,
		UserID:             e.userID,
		StrategyIdentifier: e.strategy,
		ExchangeBinding:    binding,
	}
}

// setStatus меняет статус с записью перехода (под mu)
func (e *Engine) setStatus(st models.LiveStatus) {
	prev := e.state.LiveStatus
	if prev == st {
		return
	}
	e.state.LiveStatus = st
	if st != models.LiveStatusRunning {
		e.state.OpenTradeCount = nil
	}
	statusTransitions.WithLabelValues(string(prev), string(st)).Inc()
	e.logger.Info("bot status changed",
		zap.String("from", string(prev)),
		zap.String("to", string(st)))
}

// touch выставляет строго возрастающий LastCheckedAt (под mu)
func (e *Engine) touch(now time.Time) {
	if !now.After(e.state.LastCheckedAt) {
		now = e.state.LastCheckedAt.Add(time.Microsecond)
	}
	e.state.LastCheckedAt = now
}

// publish доставляет снимок подписчикам, отбрасывая устаревшие
func (e *Engine) publish(snap models.ReconciledBotState) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	if !snap.LastCheckedAt.After(e.delivered) {
		return
	}
	e.delivered = snap.LastCheckedAt

	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	subs := make([]func(models.ReconciledBotState), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// refreshTrades асинхронно обновляет число открытых сделок
//
// Результат применяется, только если бот все еще Running и за это время
// не был запущен более новый запрос.
func (e *Engine) refreshTrades() {
	e.mu.Lock()
	if e.disposed || e.deps.Trades == nil ||
		e.state.LiveStatus != models.LiveStatusRunning || e.state.ExchangeBinding == "" {
		e.mu.Unlock()
		return
	}
	e.tradeSeq++
	seq := e.tradeSeq
	ep := e.endpoint(e.state.ExchangeBinding)
	e.mu.Unlock()

	go func() {
		count, err := e.deps.Trades.FetchOpenTradeCount(e.ctx, ep)
		if err != nil {
			count = nil
		}

		e.mu.Lock()
		if e.disposed || seq != e.tradeSeq || e.state.LiveStatus != models.LiveStatusRunning {
			e.mu.Unlock()
			return
		}
		e.state.OpenTradeCount = count
		e.touch(e.now())
		snap := e.state
		e.mu.Unlock()

		e.publish(snap)
	}()
}

// persistCandidate возвращает запись для ConfigStore, если она изменилась (под mu)
func (e *Engine) persistCandidate() *models.LastKnown {
	st := e.state.LiveStatus
	if e.deps.Store == nil || st == models.LiveStatusUnknown || st == models.LiveStatusError {
		return nil
	}
	lk := models.LastKnown{ExchangeBinding: e.state.ExchangeBinding, Status: st}
	if lk == e.persisted {
		return nil
	}
	e.persisted = lk
	return &lk
}

// persist записывает last-known статус в фоне (best effort)
func (e *Engine) persist(lk models.LastKnown) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		err := retry.Do(ctx, func() error {
			return e.deps.Store.UpdateLastKnown(ctx, e.botID, lk)
		}, retry.StoreConfig())
		if err != nil {
			e.logger.Warn("failed to persist last known status",
				zap.String("status", string(lk.Status)),
				zap.Error(err))
		}
	}()
}
