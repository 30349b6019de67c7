package liveness

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"botdash/internal/models"
	"botdash/pkg/utils"
)

// HeartbeatProbe запрашивает у бота время последней обработки
//
// Timeout и Unreachable означают "на этом домене бот не ответил",
// а не "бот остановлен".
type HeartbeatProbe interface {
	FetchHeartbeat(ctx context.Context, ep Endpoint) (models.HeartbeatSample, error)
}

// FetchHeartbeat - GET /api/v1/health
//
// Ответ freqtrade: {"last_process": "...", "last_process_ts": 1700000000}.
// Граница probeTimeout действует независимо от таймаутов транспорта.
func (c *BotAPIClient) FetchHeartbeat(ctx context.Context, ep Endpoint) (models.HeartbeatSample, error) {
	ctx, cancel := withTimeout(ctx, c.probeTimeout)
	defer cancel()

	start := time.Now()
	body, _, err := c.do(ctx, http.MethodGet, ep, "health")
	observeProbe("heartbeat", start, err)
	if err != nil {
		c.logger.Debug("heartbeat probe failed",
			zap.String("domain", ep.Domain),
			zap.String("strategy", ep.Strategy),
			zap.Error(err))
		return models.HeartbeatSample{}, err
	}

	last, err := parseLastProcess(body)
	if err != nil {
		return models.HeartbeatSample{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return models.HeartbeatSample{
		LastProcessedAt: last,
		ObservedAt:      c.now().UTC(),
	}, nil
}

// parseLastProcess извлекает время последней обработки из ответа /health
//
// last_process_ts бывает числом или строкой; при его отсутствии
// используется ISO-поле last_process.
func parseLastProcess(body []byte) (time.Time, error) {
	ts := jsoniter.Get(body, "last_process_ts")
	switch ts.ValueType() {
	case jsoniter.NumberValue:
		return utils.FromUnixSeconds(ts.ToFloat64())
	case jsoniter.StringValue:
		f, err := strconv.ParseFloat(ts.ToString(), 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("last_process_ts: %v", err)
		}
		return utils.FromUnixSeconds(f)
	}

	iso := jsoniter.Get(body, "last_process")
	if iso.ValueType() == jsoniter.StringValue {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999-07:00", "2006-01-02 15:04:05-07:00"} {
			if t, err := time.Parse(layout, iso.ToString()); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("last_process: unrecognized time %q", iso.ToString())
	}

	return time.Time{}, fmt.Errorf("health response has no last_process_ts")
}
