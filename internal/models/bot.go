package models

import (
	"encoding/json"
	"time"
)

// BotConfig представляет сохраненную конфигурацию бота (таблица bot_configurations)
//
// Хранит идентичность бота, стратегию, биржу и последний известный статус.
// Live-статус здесь НЕ хранится: last_known_status - только подсказка
// для движка сверки, когда живые сигналы недоступны.
type BotConfig struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	Name            string          `json:"name" db:"name"`
	StrategySlug    string          `json:"strategy_slug" db:"strategy_slug"`
	Strategy        string          `json:"strategy" db:"strategy"` // имя стратегии = идентификатор бота в API
	Exchange        string          `json:"exchange" db:"exchange"` // binance, binanceus, kraken...
	ExchangeBinding string          `json:"exchange_binding,omitempty" db:"exchange_binding"`
	LastKnownStatus string          `json:"last_known_status,omitempty" db:"last_known_status"`
	Config          json.RawMessage `json:"config,omitempty" db:"config"`
	ExchangeSecret  string          `json:"-" db:"exchange_secret"` // зашифрован, не возвращается в JSON
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// Identity возвращает идентичность бота для движка сверки
func (b *BotConfig) Identity() BotIdentity {
	return BotIdentity{
		BotID:              b.ID,
		UserID:             b.UserID,
		StrategyIdentifier: b.Strategy,
		ExchangeBinding:    b.ExchangeBinding,
	}
}

// LastKnown - то, что ConfigStore помнит о боте
type LastKnown struct {
	ExchangeBinding string
	Status          LiveStatus // пусто, если записи нет
}
