package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"botdash/internal/models"
	"botdash/internal/service"
)

// statusWaitTimeout - сколько GET /status ждет начального разрешения движка
//
// Разрешение ограничено таймаутом probe, но оркестратор и БД опрашиваются
// параллельно; по истечении отдается текущий снимок (unknown).
const statusWaitTimeout = 10 * time.Second

// actionTimeout - граница ручного действия вместе с ожиданием разрешения
const actionTimeout = 30 * time.Second

// BotHandler отвечает за конфигурации ботов и их live-статус
//
// Endpoints:
// - GET    /api/v1/bots              - список конфигураций пользователя
// - POST   /api/v1/bots              - создать конфигурацию
// - GET    /api/v1/bots/statuses     - live-статусы всех ботов пользователя
// - GET    /api/v1/bots/{id}         - получить конфигурацию
// - PATCH  /api/v1/bots/{id}         - обновить конфигурацию
// - DELETE /api/v1/bots/{id}         - удалить конфигурацию
// - GET    /api/v1/bots/{id}/status  - live-статус (монтирует движок)
// - DELETE /api/v1/bots/{id}/status  - размонтировать представление
// - POST   /api/v1/bots/{id}/start   - запустить бота
// - POST   /api/v1/bots/{id}/stop    - остановить бота
// - POST   /api/v1/bots/{id}/stopbuy - запретить новые входы
// - POST   /api/v1/bots/{id}/deploy  - отправить конфигурацию в оркестратор
// - GET    /api/v1/bots/{id}/balance - баланс аккаунта бота
// - GET    /api/v1/bots/{id}/profit  - сводка прибыли
// - GET    /api/v1/bots/{id}/logs    - журнал бота (?limit=N)
type BotHandler struct {
	botService service.BotServiceInterface
}

// NewBotHandler создает новый BotHandler
func NewBotHandler(botService service.BotServiceInterface) *BotHandler {
	return &BotHandler{botService: botService}
}

// ActionResponse - результат ручного действия
//
// State возвращается и при ошибке: после отката UI должен показать
// восстановленный статус, а не оптимистичный.
type ActionResponse struct {
	State models.ReconciledBotState `json:"state"`
	Error *ErrorResponse            `json:"error,omitempty"`
}

// ListBots возвращает конфигурации ботов пользователя
// GET /api/v1/bots
func (h *BotHandler) ListBots(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	bots, err := h.botService.ListBots(userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bots)
}

// CreateBot создает конфигурацию бота
// POST /api/v1/bots
//
// HTTP коды:
// - 201 Created: конфигурация создана
// - 400 Bad Request: невалидные поля
// - 409 Conflict: стратегия уже используется или достигнут лимит
func (h *BotHandler) CreateBot(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	var req service.CreateBotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body", err.Error())
		return
	}

	bot, err := h.botService.CreateBot(userID, &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, bot)
}

// GetBot возвращает конфигурацию бота
// GET /api/v1/bots/{id}
func (h *BotHandler) GetBot(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	bot, err := h.botService.GetBot(userID, mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bot)
}

// UpdateBot обновляет конфигурацию бота
// PATCH /api/v1/bots/{id}
func (h *BotHandler) UpdateBot(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	var req service.UpdateBotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body", err.Error())
		return
	}

	bot, err := h.botService.UpdateBot(userID, mux.Vars(r)["id"], &req)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, bot)
}

// DeleteBot удаляет конфигурацию бота
// DELETE /api/v1/bots/{id}
func (h *BotHandler) DeleteBot(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	if err := h.botService.DeleteBot(userID, mux.Vars(r)["id"]); err != nil {
		respondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStatus возвращает согласованное состояние бота
// GET /api/v1/bots/{id}/status
//
// Первый запрос монтирует движок сверки; пока представление не
// размонтировано, движок продолжает фоновый опрос.
func (h *BotHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statusWaitTimeout)
	defer cancel()

	state, err := h.botService.GetStatus(ctx, userID, mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, state)
}

// ListStatuses возвращает состояния всех ботов пользователя
// GET /api/v1/bots/statuses
func (h *BotHandler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statusWaitTimeout)
	defer cancel()

	states, err := h.botService.ListStatuses(ctx, userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, states)
}

// ReleaseStatus размонтирует представление бота
// DELETE /api/v1/bots/{id}/status
func (h *BotHandler) ReleaseStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	if err := h.botService.ReleaseStatus(userID, mux.Vars(r)["id"]); err != nil {
		respondWithServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StartBot - POST /api/v1/bots/{id}/start
func (h *BotHandler) StartBot(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.botService.StartBot)
}

// StopBot - POST /api/v1/bots/{id}/stop
func (h *BotHandler) StopBot(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.botService.StopBot)
}

// StopBuy - POST /api/v1/bots/{id}/stopbuy
func (h *BotHandler) StopBuy(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.botService.StopBuy)
}

// DeployBot - POST /api/v1/bots/{id}/deploy
//
// 202 Accepted: оркестратор принял конфигурацию, движок в статусе deploying.
func (h *BotHandler) DeployBot(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
	defer cancel()

	state, err := h.botService.DeployBot(ctx, userID, mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, ActionResponse{State: state})
}

type botAction func(ctx context.Context, userID, botID string) (models.ReconciledBotState, error)

// runAction выполняет ручное действие
//
// HTTP коды:
// - 200 OK: бот принял команду
// - 401 Unauthorized: API бота отверг сессию
// - 404 Not Found: бота нет
// - 409 Conflict: домен бота еще не найден
// - 502 Bad Gateway: бот ответил ошибкой (текст в error.details)
func (h *BotHandler) runAction(w http.ResponseWriter, r *http.Request, action botAction) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
	defer cancel()

	state, err := action(ctx, userID, mux.Vars(r)["id"])
	if err == nil {
		respondWithJSON(w, http.StatusOK, ActionResponse{State: state})
		return
	}

	status, body := classifyServiceError(err)
	if status == http.StatusNotFound {
		respondWithJSON(w, status, body)
		return
	}
	respondWithJSON(w, status, ActionResponse{State: state, Error: &body})
}

// GetBalance - GET /api/v1/bots/{id}/balance
func (h *BotHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	h.readAccount(w, r, func(ctx context.Context, userID, botID string) (interface{}, error) {
		return h.botService.GetBalance(ctx, userID, botID)
	})
}

// GetProfit - GET /api/v1/bots/{id}/profit
func (h *BotHandler) GetProfit(w http.ResponseWriter, r *http.Request) {
	h.readAccount(w, r, func(ctx context.Context, userID, botID string) (interface{}, error) {
		return h.botService.GetProfit(ctx, userID, botID)
	})
}

// GetLogs - GET /api/v1/bots/{id}/logs?limit=N
func (h *BotHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	h.readAccount(w, r, func(ctx context.Context, userID, botID string) (interface{}, error) {
		return h.botService.GetLogs(ctx, userID, botID, limit)
	})
}

// readAccount проксирует чтение с API бота
//
// HTTP коды:
// - 409 Conflict: домен бота еще не найден
// - 401/502/504: отказ, ошибка или таймаут API бота
func (h *BotHandler) readAccount(w http.ResponseWriter, r *http.Request, read func(ctx context.Context, userID, botID string) (interface{}, error)) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statusWaitTimeout)
	defer cancel()

	data, err := read(ctx, userID, mux.Vars(r)["id"])
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, data)
}
