package liveness

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxBodySize - ответы API бота маленькие; больше - признак ошибки прокси
const maxBodySize = 1 << 20

// Endpoint адресует API конкретного бота на конкретном домене
type Endpoint struct {
	Domain   string // https://eu.10xtraders.ai
	Strategy string // идентификатор стратегии = путь /user/{strategy}
	UserID   string // id пользователя сессии, пароль Basic auth
}

// URL собирает {domain}/user/{strategy}/api/v1/{path}
func (e Endpoint) URL(path string) string {
	return strings.TrimRight(e.Domain, "/") + "/user/" + url.PathEscape(e.Strategy) + "/api/v1/" + path
}

// BotAPIClient ходит в API самого бота (freqtrade REST)
//
// Реализует HeartbeatProbe, TradeFetcher и Controller.
type BotAPIClient struct {
	http         *HTTPClient
	username     string
	probeTimeout time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewBotAPIClient создает клиент API ботов
//
// username - логин Basic auth (пароль = id пользователя сессии),
// probeTimeout - жесткая граница одного probe.
func NewBotAPIClient(hc *HTTPClient, username string, probeTimeout time.Duration, logger *zap.Logger) *BotAPIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BotAPIClient{
		http:         hc,
		username:     username,
		probeTimeout: probeTimeout,
		now:          time.Now,
		logger:       logger.With(zap.String("component", "bot_api")),
	}
}

// do выполняет запрос к API бота и возвращает тело ответа
//
// Возвращает тело и для не-2xx ответов: control.go разбирает из него причину.
func (c *BotAPIClient) do(ctx context.Context, method string, ep Endpoint, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, ep.URL(path), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request: %v", ErrUnreachable, err)
	}
	req.SetBasicAuth(c.username, ep.UserID)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, resp.StatusCode, classifyTransport(ctx, err)
	}

	return body, resp.StatusCode, classifyStatus(resp.StatusCode)
}
