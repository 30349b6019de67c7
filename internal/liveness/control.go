package liveness

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Controller выполняет ручные действия над ботом
//
// Идемпотентен с точки зрения вызывающего: "already stopped" - успех.
type Controller interface {
	Start(ctx context.Context, ep Endpoint) error
	Stop(ctx context.Context, ep Endpoint) error
	StopBuy(ctx context.Context, ep Endpoint) error
}

// Действия API бота
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionStopBuy = "stopbuy"
)

// actionTimeout - действие не probe: бот может отвечать дольше
const actionTimeout = 15 * time.Second

// Start - POST /api/v1/start
func (c *BotAPIClient) Start(ctx context.Context, ep Endpoint) error {
	return c.action(ctx, ep, ActionStart)
}

// Stop - POST /api/v1/stop
func (c *BotAPIClient) Stop(ctx context.Context, ep Endpoint) error {
	return c.action(ctx, ep, ActionStop)
}

// StopBuy - POST /api/v1/stopbuy: бот перестает открывать новые сделки
func (c *BotAPIClient) StopBuy(ctx context.Context, ep Endpoint) error {
	return c.action(ctx, ep, ActionStopBuy)
}

func (c *BotAPIClient) action(ctx context.Context, ep Endpoint, action string) error {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	body, code, err := c.do(ctx, http.MethodPost, ep, action)
	msg := responseMessage(body)

	switch {
	case err == nil:
	case errors.Is(err, ErrUnauthorized):
		actionsTotal.WithLabelValues(action, "unauthorized").Inc()
		return err
	case code != 0:
		actionsTotal.WithLabelValues(action, "error").Inc()
		return &RemoteActionError{Action: action, StatusCode: code, Message: msg}
	default:
		actionsTotal.WithLabelValues(action, "error").Inc()
		return &RemoteActionError{Action: action, Message: err.Error()}
	}

	result := "ok"
	if isAlreadyInState(msg) {
		result = "noop"
	}
	actionsTotal.WithLabelValues(action, result).Inc()

	c.logger.Info("bot action executed",
		zap.String("action", action),
		zap.String("strategy", ep.Strategy),
		zap.String("domain", ep.Domain),
		zap.String("response", msg))
	return nil
}

// responseMessage достает текст ответа: {"status": "..."} или {"detail"/"error": "..."}
func responseMessage(body []byte) string {
	for _, key := range []string{"status", "detail", "error", "message"} {
		v := jsoniter.Get(body, key)
		if v.ValueType() == jsoniter.StringValue {
			return v.ToString()
		}
	}
	return strings.TrimSpace(string(body))
}
