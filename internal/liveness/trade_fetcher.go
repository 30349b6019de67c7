package liveness

import (
	"context"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// TradeFetcher возвращает число открытых позиций бота
//
// nil - количество неизвестно (ошибка запроса); 0 - открытых сделок нет.
type TradeFetcher interface {
	FetchOpenTradeCount(ctx context.Context, ep Endpoint) (*int, error)
}

// FetchOpenTradeCount - GET /api/v1/status
//
// Ответ бывает массивом сделок либо объектом с полем open_trades.
func (c *BotAPIClient) FetchOpenTradeCount(ctx context.Context, ep Endpoint) (*int, error) {
	ctx, cancel := withTimeout(ctx, c.probeTimeout)
	defer cancel()

	start := time.Now()
	body, _, err := c.do(ctx, http.MethodGet, ep, "status")
	observeProbe("trades", start, err)
	if err != nil {
		c.logger.Debug("open trades fetch failed",
			zap.String("domain", ep.Domain),
			zap.String("strategy", ep.Strategy),
			zap.Error(err))
		return nil, err
	}

	n, err := countOpenTrades(body)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// countOpenTrades нормализует разнородный ответ /status в одно число
func countOpenTrades(body []byte) (int, error) {
	root := jsoniter.Get(body)
	switch root.ValueType() {
	case jsoniter.ArrayValue:
		return root.Size(), nil
	case jsoniter.ObjectValue:
		trades := root.Get("open_trades")
		if trades.ValueType() == jsoniter.ArrayValue {
			return trades.Size(), nil
		}
		return 0, nil
	case jsoniter.InvalidValue:
		return 0, fmt.Errorf("%w: malformed status response", ErrUnreachable)
	default:
		// валидный JSON другой формы: сделок нет
		return 0, nil
	}
}
