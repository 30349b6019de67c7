package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"botdash/internal/api/middleware"
	"botdash/internal/liveness"
	"botdash/internal/service"
)

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Коды ошибок API
const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeLimitReached   = "LIMIT_REACHED"
	CodeNoBinding      = "BOT_UNREACHABLE"
	CodeRemoteAction   = "REMOTE_ACTION_FAILED"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternal       = "INTERNAL"
	CodeRequestTimeout = "TIMEOUT"
)

// maxBodySize - ограничение тела запроса (config бота - небольшой JSON)
const maxBodySize = 1 << 20

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// respondWithError отправляет ErrorResponse
func respondWithError(w http.ResponseWriter, status int, code, message, details string) {
	respondWithJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

// respondWithServiceError переводит ошибку сервиса в HTTP ответ
func respondWithServiceError(w http.ResponseWriter, err error) {
	status, body := classifyServiceError(err)
	respondWithJSON(w, status, body)
}

// classifyServiceError сопоставляет ошибку сервиса HTTP статусу
//
// Удаленные отказы бота отдаются как 502 с текстом ответа бота в details:
// UI показывает его в toast.
func classifyServiceError(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, service.ErrBotNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "bot not found", Code: CodeNotFound}
	case errors.Is(err, service.ErrInvalidBot):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid bot configuration", Code: CodeBadRequest, Details: err.Error()}
	case errors.Is(err, service.ErrBotAlreadyExists):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeConflict}
	case errors.Is(err, service.ErrMaxBotsReached):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: CodeLimitReached}
	case errors.Is(err, liveness.ErrUnauthorized):
		return http.StatusUnauthorized, ErrorResponse{Error: "bot API rejected the session", Code: CodeUnauthorized, Details: err.Error()}
	case errors.Is(err, liveness.ErrNoBinding):
		return http.StatusConflict, ErrorResponse{Error: "bot API is not reachable yet", Code: CodeNoBinding, Details: err.Error()}
	case errors.Is(err, liveness.ErrRemoteAction), errors.Is(err, liveness.ErrUnreachable):
		return http.StatusBadGateway, ErrorResponse{Error: "bot action failed", Code: CodeRemoteAction, Details: err.Error()}
	case errors.Is(err, liveness.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "bot did not answer in time", Code: CodeRequestTimeout, Details: err.Error()}
	case errors.Is(err, service.ErrDeployUnavailable),
		errors.Is(err, service.ErrSecretsUnavailable),
		errors.Is(err, liveness.ErrDisposed):
		return http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: CodeUnavailable}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal}
	}
}

// decodeJSON читает тело запроса с ограничением размера
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// sessionUser возвращает id пользователя; false - ответ 401 уже отправлен
func sessionUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, CodeUnauthorized, "missing session", "")
		return "", false
	}
	return userID, true
}
