package eventbridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"botdash/internal/liveness"
	"botdash/internal/models"
)

// Bridge подключает push-каналы к движкам сверки
//
// Канал открывается, когда движок узнал домен бота, и переоткрывается при
// смене домена или после окончательного обрыва. Пока домен неизвестен,
// бот обслуживается только опросом.
type Bridge struct {
	ctx    context.Context
	config Config
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*liveness.Engine]*Subscription
}

// NewBridge создает мост; отмена ctx закрывает все подписки
func NewBridge(ctx context.Context, config Config, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		ctx:    ctx,
		config: config,
		logger: logger.With(zap.String("component", "eventbridge")),
		subs:   make(map[*liveness.Engine]*Subscription),
	}
}

// Attach подписывает движок на push-события его бота
//
// Подключение выполняется в фоне после начального разрешения и следует
// за привязкой движка к домену. detach закрывает канал; Dispose движка
// вызывает detach автоматически.
func (b *Bridge) Attach(engine *liveness.Engine) (detach func()) {
	ctx, cancel := context.WithCancel(b.ctx)

	// каждый новый снимок движка: проверить, не сменился ли домен
	changed := make(chan struct{}, 1)
	unsubscribe := engine.Subscribe(func(models.ReconciledBotState) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})

	go b.follow(ctx, engine, changed)

	var once sync.Once
	detach = func() {
		once.Do(func() {
			cancel()
			unsubscribe()
			b.drop(engine)
		})
	}

	// остановленный движок больше не принимает события
	go func() {
		select {
		case <-engine.Done():
			detach()
		case <-ctx.Done():
		}
	}()

	return detach
}

// follow держит канал открытым на текущем домене движка
func (b *Bridge) follow(ctx context.Context, engine *liveness.Engine, changed <-chan struct{}) {
	select {
	case <-engine.Resolved():
	case <-ctx.Done():
		return
	}

	var domain string
	for {
		id := engine.Identity()
		if id.ExchangeBinding == "" {
			b.logger.Debug("bot domain unknown, push channel deferred", zap.String("bot_id", id.BotID))
		} else if id.ExchangeBinding != domain || !b.alive(engine) {
			if domain != "" && id.ExchangeBinding != domain {
				b.logger.Info("bot domain changed, reopening push channel",
					zap.String("bot_id", id.BotID),
					zap.String("from", domain),
					zap.String("to", id.ExchangeBinding))
			}
			domain = id.ExchangeBinding
			b.open(ctx, engine, id)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return
		}
	}
}

// open заменяет канал движка новым на домене id.ExchangeBinding
func (b *Bridge) open(ctx context.Context, engine *liveness.Engine, id models.BotIdentity) {
	b.drop(engine)

	ep := liveness.Endpoint{Domain: id.ExchangeBinding, Strategy: id.StrategyIdentifier, UserID: id.UserID}
	sub, err := Subscribe(ctx, ep, engine, b.config, b.logger)
	if err != nil {
		b.logger.Warn("push channel unavailable, relying on polling",
			zap.String("bot_id", id.BotID),
			zap.String("domain", id.ExchangeBinding),
			zap.Error(err))
		return
	}

	b.mu.Lock()
	if ctx.Err() != nil {
		b.mu.Unlock()
		_ = sub.Close()
		return
	}
	b.subs[engine] = sub
	b.mu.Unlock()
}

// alive сообщает, есть ли у движка канал, который еще не сдался
func (b *Bridge) alive(engine *liveness.Engine) bool {
	b.mu.Lock()
	sub := b.subs[engine]
	b.mu.Unlock()
	if sub == nil {
		return false
	}
	select {
	case <-sub.Done():
		return false
	default:
		return true
	}
}

func (b *Bridge) drop(engine *liveness.Engine) {
	b.mu.Lock()
	sub := b.subs[engine]
	delete(b.subs, engine)
	b.mu.Unlock()
	if sub != nil {
		_ = sub.Close()
	}
}

// Active возвращает число открытых каналов
func (b *Bridge) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close закрывает все каналы
func (b *Bridge) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*liveness.Engine]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
}
