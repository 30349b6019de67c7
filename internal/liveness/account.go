package liveness

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"botdash/internal/models"
)

// AccountFetcher читает с API бота данные для дашборда
type AccountFetcher interface {
	FetchBalance(ctx context.Context, ep Endpoint) (models.BotBalance, error)
	FetchProfit(ctx context.Context, ep Endpoint) (models.BotProfit, error)
	FetchLogs(ctx context.Context, ep Endpoint, limit int) (models.BotLogs, error)
}

// Границы запроса журнала
const (
	DefaultLogLimit = 100
	MaxLogLimit     = 500
)

type balanceResponse struct {
	Currencies []struct {
		Currency string   `json:"currency"`
		Free     float64  `json:"free"`
		Used     float64  `json:"used"`
		Balance  float64  `json:"balance"`
		Total    *float64 `json:"total"`
	} `json:"currencies"`
	Total float64 `json:"total"`
	Stake string  `json:"stake"`
}

// FetchBalance - GET /api/v1/balance
func (c *BotAPIClient) FetchBalance(ctx context.Context, ep Endpoint) (models.BotBalance, error) {
	body, err := c.get(ctx, ep, "balance", "balance")
	if err != nil {
		return models.BotBalance{}, err
	}

	var resp balanceResponse
	if err := jsoniter.Unmarshal(body, &resp); err != nil {
		return models.BotBalance{}, fmt.Errorf("%w: malformed balance response: %v", ErrUnreachable, err)
	}

	balance := models.BotBalance{
		Currencies: make([]models.CurrencyBalance, 0, len(resp.Currencies)),
		Total:      resp.Total,
		Stake:      resp.Stake,
	}
	for _, cur := range resp.Currencies {
		// freqtrade отдает полный остаток в balance, прокси - в total
		total := cur.Balance
		if cur.Total != nil {
			total = *cur.Total
		}
		balance.Currencies = append(balance.Currencies, models.CurrencyBalance{
			Currency: cur.Currency,
			Free:     cur.Free,
			Used:     cur.Used,
			Total:    total,
		})
	}
	return balance, nil
}

type profitResponse struct {
	ProfitAllFiat    *float64 `json:"profit_all_fiat"`
	ProfitAllCoin    float64  `json:"profit_all_coin"`
	ProfitAllPercent float64  `json:"profit_all_percent"`
	WinningTrades    int      `json:"winning_trades"`
	LosingTrades     int      `json:"losing_trades"`
	Winrate          float64  `json:"winrate"`
}

// FetchProfit - GET /api/v1/profit
func (c *BotAPIClient) FetchProfit(ctx context.Context, ep Endpoint) (models.BotProfit, error) {
	body, err := c.get(ctx, ep, "profit", "profit")
	if err != nil {
		return models.BotProfit{}, err
	}

	var resp profitResponse
	if err := jsoniter.Unmarshal(body, &resp); err != nil {
		return models.BotProfit{}, fmt.Errorf("%w: malformed profit response: %v", ErrUnreachable, err)
	}

	abs := resp.ProfitAllCoin
	if resp.ProfitAllFiat != nil {
		abs = *resp.ProfitAllFiat
	}
	return models.BotProfit{
		TotalClosedTrades: resp.WinningTrades + resp.LosingTrades,
		OverallProfitAbs:  abs,
		OverallProfitPct:  resp.ProfitAllPercent,
		WinningTrades:     resp.WinningTrades,
		LosingTrades:      resp.LosingTrades,
		WinRatePct:        resp.Winrate * 100,
	}, nil
}

// FetchLogs - GET /api/v1/logs?limit=N
//
// limit вне (0, MaxLogLimit] заменяется на DefaultLogLimit или MaxLogLimit.
func (c *BotAPIClient) FetchLogs(ctx context.Context, ep Endpoint, limit int) (models.BotLogs, error) {
	switch {
	case limit <= 0:
		limit = DefaultLogLimit
	case limit > MaxLogLimit:
		limit = MaxLogLimit
	}

	body, err := c.get(ctx, ep, "logs", "logs?limit="+strconv.Itoa(limit))
	if err != nil {
		return models.BotLogs{}, err
	}

	lines, err := parseLogs(body)
	if err != nil {
		return models.BotLogs{}, err
	}
	return models.BotLogs{Lines: lines}, nil
}

// get - GET к API бота с таймаутом опроса и метрикой
func (c *BotAPIClient) get(ctx context.Context, ep Endpoint, kind, path string) ([]byte, error) {
	ctx, cancel := withTimeout(ctx, c.probeTimeout)
	defer cancel()

	start := time.Now()
	body, _, err := c.do(ctx, http.MethodGet, ep, path)
	observeProbe(kind, start, err)
	if err != nil {
		c.logger.Debug("bot API request failed",
			zap.String("kind", kind),
			zap.String("domain", ep.Domain),
			zap.String("strategy", ep.Strategy),
			zap.Error(err))
		return nil, err
	}
	return body, nil
}

// parseLogs принимает {"logs": [[date, ts, logger, level, message], ...]}
// либо простой массив строк
func parseLogs(body []byte) ([]string, error) {
	root := jsoniter.Get(body)
	if root.ValueType() == jsoniter.ObjectValue {
		root = root.Get("logs")
	}
	if root.ValueType() != jsoniter.ArrayValue {
		return nil, fmt.Errorf("%w: malformed logs response", ErrUnreachable)
	}

	lines := make([]string, 0, root.Size())
	for i := 0; i < root.Size(); i++ {
		entry := root.Get(i)
		switch entry.ValueType() {
		case jsoniter.StringValue:
			lines = append(lines, entry.ToString())
		case jsoniter.ArrayValue:
			lines = append(lines, formatLogEntry(entry))
		}
	}
	return lines, nil
}

func formatLogEntry(entry jsoniter.Any) string {
	if entry.Size() >= 5 {
		return fmt.Sprintf("%s - %s - %s - %s",
			entry.Get(0).ToString(), entry.Get(2).ToString(),
			entry.Get(3).ToString(), entry.Get(4).ToString())
	}
	parts := make([]string, 0, entry.Size())
	for i := 0; i < entry.Size(); i++ {
		parts = append(parts, entry.Get(i).ToString())
	}
	return strings.Join(parts, " - ")
}
