package utils

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

// validator.go - валидация данных
//
// Назначение:
// Проверка входных данных конфигурации бота до записи в БД и до того,
// как имя стратегии попадет в URL удаленного API.
//
// Возвращает error с описанием проблемы или nil

// Ошибки валидации
var (
	ErrEmptyValue          = errors.New("value is required")
	ErrInvalidBotName      = errors.New("invalid bot name")
	ErrInvalidStrategy     = errors.New("invalid strategy name")
	ErrUnsupportedExchange = errors.New("unsupported exchange")
	ErrInvalidDomain       = errors.New("invalid domain")
	ErrInvalidUserID       = errors.New("invalid user id")
)

const maxBotNameLength = 100

// Имя стратегии подставляется в путь /user/{strategy}/api/v1/...
var strategyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// Пользовательский id подставляется в query и путь оркестратора
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// SupportedExchanges - биржи, для которых есть воркеры
var SupportedExchanges = []string{
	"binance", "binanceus", "bybit", "kraken", "kucoin", "okx", "bitget", "coinbase", "hyperliquid",
}

// ValidateBotName проверяет отображаемое имя бота
func ValidateBotName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: %v", ErrInvalidBotName, ErrEmptyValue)
	}
	if utf8.RuneCountInString(name) > maxBotNameLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidBotName, maxBotNameLength)
	}
	return nil
}

// ValidateStrategyName проверяет имя стратегии (имя класса стратегии бота)
func ValidateStrategyName(strategy string) error {
	if strategy == "" {
		return fmt.Errorf("%w: %v", ErrInvalidStrategy, ErrEmptyValue)
	}
	if !strategyPattern.MatchString(strategy) {
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	return nil
}

// ValidateExchange проверяет, что биржа поддерживается (регистр не важен)
func ValidateExchange(exchange string) error {
	n := NormalizeExchange(exchange)
	if n == "" {
		return fmt.Errorf("%w: %v", ErrUnsupportedExchange, ErrEmptyValue)
	}
	for _, e := range SupportedExchanges {
		if e == n {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedExchange, exchange)
}

// NormalizeExchange приводит имя биржи к каноничному виду
func NormalizeExchange(exchange string) string {
	return strings.ToLower(strings.TrimSpace(exchange))
}

// ValidateDomain проверяет базовый URL домена (схема http/https, без пути)
func ValidateDomain(domain string) error {
	u, err := url.Parse(domain)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: scheme must be http or https, got %q", ErrInvalidDomain, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidDomain)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("%w: unexpected path %q", ErrInvalidDomain, u.Path)
	}
	return nil
}

// ValidateUserID проверяет id пользователя сессии
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: %v", ErrInvalidUserID, ErrEmptyValue)
	}
	if !userIDPattern.MatchString(userID) {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return nil
}
