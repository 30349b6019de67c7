package service

import (
	"go.uber.org/zap"

	"botdash/internal/liveness"
	"botdash/internal/models"
)

// EventAttacher подключает push канал бота к движку (eventbridge.Bridge)
type EventAttacher interface {
	Attach(engine *liveness.Engine) (detach func())
}

// EngineWiring - все, что нужно движку сверки помимо идентичности бота
type EngineWiring struct {
	Deps     liveness.Dependencies
	Options  liveness.Options
	Events   EventAttacher        // nil: только опрос
	Hub      WebSocketBroadcaster // nil: без real-time рассылки
	Notifier ActionNotifier       // nil: warning и failed не журналируются
	Logger   *zap.Logger
}

// NewEngineFactory собирает фабрику движков для liveness.Registry
//
// Каждый новый движок:
// - пишет warning-события бота в журнал уведомлений
// - рассылает снимки состояния подписанным WebSocket клиентам
// - журналирует переходы в failed/error
// - подписывается на push канал после начального разрешения
//
// Подписки снимаются Dispose движка, поэтому release в реестре их не трогает.
func NewEngineFactory(w EngineWiring) liveness.EngineFactory {
	return func(id models.BotIdentity, generation string) *liveness.Engine {
		deps := w.Deps
		if w.Notifier != nil {
			deps.OnWarning = w.Notifier.BotWarning
		}

		engine := liveness.NewEngine(id, generation, deps, w.Options, w.Logger)

		if w.Hub != nil || w.Notifier != nil {
			engine.Subscribe(func(state models.ReconciledBotState) {
				if w.Hub != nil {
					w.Hub.BroadcastBotStatus(state)
				}
				if w.Notifier != nil {
					w.Notifier.NotifyStatus(state)
				}
			})
		}

		if w.Events != nil {
			w.Events.Attach(engine)
		}

		return engine
	}
}
