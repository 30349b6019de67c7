package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"botdash/internal/models"
	"botdash/internal/service"
)

// NotificationHandler отвечает за журнал уведомлений
//
// Endpoints:
// - GET /api/v1/notifications - получение списка уведомлений
// - GET /api/v1/notifications?types=warning,action_failed - с фильтрацией по типам
// - GET /api/v1/notifications?limit=50 - с ограничением количества
// - DELETE /api/v1/notifications - очистка журнала уведомлений
// - GET /api/v1/bots/{id}/notifications - уведомления одного бота
//
// Назначение:
// Журнал - это история toast/banner сообщений дашборда: warning-события
// ботов, неудачные start/stop, переходы в failed/error, запросы деплоя.
type NotificationHandler struct {
	notificationService service.NotificationServiceInterface
	botService          service.BotServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
//
// botService используется для проверки владельца бота; nil - без проверки.
func NewNotificationHandler(notificationService service.NotificationServiceInterface, botService service.BotServiceInterface) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		botService:          botService,
	}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []NotificationDTO `json:"notifications"`
	Total         int               `json:"total"`
}

// NotificationDTO представляет уведомление в API
type NotificationDTO struct {
	ID        int                    `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	BotID     *string                `json:"bot_id,omitempty"`
	Message   string                 `json:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// GetNotifications возвращает список уведомлений с фильтрацией
//
// GET /api/v1/notifications
//
// Query параметры:
// - types (string): фильтр по типам через запятую (warning,action_failed,status,deploy)
// - limit (int): количество записей (по умолчанию 100, максимум 500)
//
// HTTP коды:
// - 200 OK: успешно, возвращает массив уведомлений
// - 500 Internal Server Error: ошибка сервера
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	var types []string
	if typesParam := r.URL.Query().Get("types"); typesParam != "" {
		for _, part := range strings.Split(typesParam, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				types = append(types, strings.ToUpper(trimmed))
			}
		}
	}

	notifications, err := h.notificationService.GetNotifications(types, parseLimit(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to get notifications", "")
		return
	}

	respondWithJSON(w, http.StatusOK, toNotificationsResponse(notifications))
}

// GetBotNotifications возвращает уведомления одного бота
//
// GET /api/v1/bots/{id}/notifications?limit=50
func (h *NotificationHandler) GetBotNotifications(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["id"]

	if h.botService != nil {
		userID, ok := sessionUser(w, r)
		if !ok {
			return
		}
		if _, err := h.botService.GetBot(userID, botID); err != nil {
			respondWithServiceError(w, err)
			return
		}
	}

	notifications, err := h.notificationService.GetBotNotifications(botID, parseLimit(r))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to get notifications", "")
		return
	}

	respondWithJSON(w, http.StatusOK, toNotificationsResponse(notifications))
}

// ClearNotifications очищает журнал уведомлений
//
// DELETE /api/v1/notifications
//
// HTTP коды:
// - 200 OK: журнал успешно очищен
// - 500 Internal Server Error: ошибка при очистке
func (h *NotificationHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.notificationService.ClearNotifications(); err != nil {
		respondWithError(w, http.StatusInternalServerError, CodeInternal, "failed to clear notifications", "")
		return
	}

	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Notifications cleared successfully"})
}

// parseLimit читает limit из query; невалидное значение - по умолчанию
func parseLimit(r *http.Request) int {
	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		if parsed, err := strconv.Atoi(limitParam); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return limit
}

func toNotificationsResponse(notifications []*models.Notification) GetNotificationsResponse {
	dtos := make([]NotificationDTO, 0, len(notifications))
	for _, n := range notifications {
		dtos = append(dtos, NotificationDTO{
			ID:        n.ID,
			Timestamp: n.Timestamp.Format(time.RFC3339),
			Type:      n.Type,
			Severity:  n.Severity,
			BotID:     n.BotID,
			Message:   n.Message,
			Meta:      n.Meta,
		})
	}
	return GetNotificationsResponse{
		Notifications: dtos,
		Total:         len(dtos),
	}
}
