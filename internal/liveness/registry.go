package liveness

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"botdash/internal/models"
)

// EngineFactory создает движок для идентичности и поколения монтирования
type EngineFactory func(id models.BotIdentity, generation string) *Engine

// Registry хранит по одному движку на botID
//
// Все представления одного бота (список, карточка, WebSocket клиенты)
// делят один Engine: один опрос на бота вместо одного на экран.
// Движок живет, пока на него есть хотя бы одна ссылка.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	factory EngineFactory
	baseCtx context.Context
	logger  *zap.Logger
}

type registryEntry struct {
	engine *Engine
	refs   int
}

// NewRegistry создает реестр движков
//
// Отмена baseCtx останавливает все движки.
func NewRegistry(baseCtx context.Context, factory EngineFactory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		factory: factory,
		baseCtx: baseCtx,
		logger:  logger.With(zap.String("component", "liveness_registry")),
	}
}

// Acquire возвращает общий движок бота, создавая и запуская его при первом обращении
//
// release нужно вызвать ровно один раз; повторные вызовы игнорируются.
func (r *Registry) Acquire(id models.BotIdentity) (*Engine, func()) {
	r.mu.Lock()
	entry, ok := r.entries[id.BotID]
	if !ok || entry.engine.Disposed() {
		if ok {
			activeEngines.Dec()
		}
		generation := uuid.NewString()
		entry = &registryEntry{engine: r.factory(id, generation)}
		r.entries[id.BotID] = entry
		entry.engine.Start(r.baseCtx)
		activeEngines.Inc()
		r.logger.Debug("engine mounted",
			zap.String("bot_id", id.BotID),
			zap.String("generation", generation))
	}
	entry.refs++
	engine := entry.engine
	r.mu.Unlock()

	var once sync.Once
	return engine, func() {
		once.Do(func() { r.release(id.BotID, engine) })
	}
}

// release уменьшает счетчик ссылок; последняя ссылка останавливает движок
func (r *Registry) release(botID string, engine *Engine) {
	r.mu.Lock()
	entry, ok := r.entries[botID]
	// движок уже заменен новым поколением: старое поколение не трогает новое
	if !ok || entry.engine != engine {
		r.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.entries, botID)
	r.mu.Unlock()

	engine.Dispose()
	activeEngines.Dec()
	r.logger.Debug("engine unmounted",
		zap.String("bot_id", botID),
		zap.String("generation", engine.Generation()))
}

// Get возвращает смонтированный движок бота
func (r *Registry) Get(botID string) (*Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[botID]
	if !ok {
		return nil, false
	}
	return entry.engine, true
}

// Len возвращает число смонтированных движков
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close останавливает все движки
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.engine.Dispose()
		activeEngines.Dec()
	}
}
