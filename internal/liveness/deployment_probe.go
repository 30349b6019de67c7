package liveness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"botdash/internal/models"
)

// DeploymentProbe запрашивает у оркестратора фазу процесса бота
//
// Ошибка означает "нет сигнала", а не "бот остановлен": вместе с ней
// всегда возвращается {Unknown, false}.
type DeploymentProbe interface {
	FetchPhase(ctx context.Context, id models.BotIdentity) (models.DeploymentSignal, error)
}

// OrchestratorClient - клиент /apa оркестратора воркеров
type OrchestratorClient struct {
	http         *HTTPClient
	baseURL      string
	token        string
	probeTimeout time.Duration
	logger       *zap.Logger
}

// NewOrchestratorClient создает клиент оркестратора
//
// token опционален: при пустом значении заголовок Authorization не ставится.
func NewOrchestratorClient(hc *HTTPClient, baseURL, token string, probeTimeout time.Duration, logger *zap.Logger) *OrchestratorClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrchestratorClient{
		http:         hc,
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		probeTimeout: probeTimeout,
		logger:       logger.With(zap.String("component", "orchestrator")),
	}
}

// podStatus - ответ /apa/podstatus
type podStatus struct {
	Phase    string `json:"phase"`
	Ready    bool   `json:"ready"`
	HasError bool   `json:"hasError"`
	Reason   string `json:"reason"`
}

var unknownSignal = models.DeploymentSignal{Phase: models.PhaseUnknown}

// FetchPhase - GET /apa/podstatus?botName={strategy}&userId={user}
func (c *OrchestratorClient) FetchPhase(ctx context.Context, id models.BotIdentity) (models.DeploymentSignal, error) {
	ctx, cancel := withTimeout(ctx, c.probeTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("botName", id.StrategyIdentifier)
	q.Set("userId", id.UserID)

	start := time.Now()
	body, err := c.request(ctx, http.MethodGet, "/apa/podstatus?"+q.Encode(), nil)
	observeProbe("deployment", start, err)
	if err != nil {
		c.logger.Debug("deployment probe failed",
			zap.String("bot_id", id.BotID),
			zap.Error(err))
		return unknownSignal, err
	}

	var ps podStatus
	if err := jsoniter.Unmarshal(body, &ps); err != nil {
		return unknownSignal, fmt.Errorf("%w: malformed podstatus: %v", ErrUnreachable, err)
	}

	return normalizeSignal(ps), nil
}

// normalizeSignal приводит ответ оркестратора к DeploymentSignal
//
// Отсутствующая фаза означает NotFound. hasError при фазе, отличной
// от Running, трактуется как Failed.
func normalizeSignal(ps podStatus) models.DeploymentSignal {
	phase := normalizePhase(ps.Phase)
	if ps.HasError && phase != models.PhaseRunning && phase != models.PhaseNotFound {
		phase = models.PhaseFailed
	}
	sig := models.DeploymentSignal{Phase: phase, Ready: ps.Ready}
	if phase == models.PhaseFailed {
		sig.Ready = false
		sig.Reason = ps.Reason
	}
	return sig
}

func normalizePhase(raw string) models.DeploymentPhase {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "notfound", "not_found":
		return models.PhaseNotFound
	case "pending", "deploying", "containercreating":
		return models.PhasePending
	case "running":
		return models.PhaseRunning
	case "failed", "crashloopbackoff", "error":
		return models.PhaseFailed
	default:
		return models.PhaseUnknown
	}
}

// Deploy - POST /apa/user/kubecheck/{user}/{strategy} с конфигурацией бота
//
// Возвращает статус из ответа оркестратора ("deploying" при успешном старте).
func (c *OrchestratorClient) Deploy(ctx context.Context, userID, strategy string, config json.RawMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()

	if len(config) == 0 {
		config = json.RawMessage("{}")
	}

	path := "/apa/user/kubecheck/" + url.PathEscape(userID) + "/" + url.PathEscape(strategy)
	body, err := c.request(ctx, http.MethodPost, path, config)
	if err != nil {
		msg := responseMessage(body)
		if msg != "" {
			return "", fmt.Errorf("deploy: %w: %s", err, msg)
		}
		return "", fmt.Errorf("deploy: %w", err)
	}

	status := jsoniter.Get(body, "status").ToString()
	c.logger.Info("deployment requested",
		zap.String("user_id", userID),
		zap.String("strategy", strategy),
		zap.String("status", status))
	return status, nil
}

func (c *OrchestratorClient) request(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	return body, classifyStatus(resp.StatusCode)
}
