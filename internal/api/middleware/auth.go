package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"botdash/pkg/crypto"
	"botdash/pkg/utils"
)

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID кладет id пользователя сессии в context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext возвращает id пользователя, выставленный Auth
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDKey).(string)
	return userID, ok && userID != ""
}

// Auth - middleware аутентификации запросов к API
//
// Сессия ведется внешним сервисом; сюда приходит уже выданный id пользователя:
//
//	Authorization: Bearer <user id>
//
// Браузер не умеет ставить заголовки на WebSocket handshake, поэтому
// для /ws/stream id можно передать query параметром token.
//
// Тот же id служит паролем Basic auth к API бота, поэтому он проверяется
// по формату до попадания в context.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := bearerToken(r.Header.Get("Authorization"))
		if userID == "" && isWebSocketUpgrade(r) {
			userID = r.URL.Query().Get("token")
		}

		if userID == "" {
			unauthorized(w, "missing session")
			return
		}
		if err := utils.ValidateUserID(userID); err != nil {
			unauthorized(w, "invalid session")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// MetricsAuth - Basic auth для /metrics
//
// Пароль хранится только как bcrypt hash (METRICS_PASSWORD_HASH).
// Если учетные данные не настроены, доступ открыт лишь в development.
func MetricsAuth(verifier *crypto.BasicAuthVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				if env := os.Getenv("ENV"); env == "development" || env == "" {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "Metrics disabled. Set METRICS_USER and METRICS_PASSWORD_HASH.", http.StatusForbidden)
				return
			}

			user, pass, ok := r.BasicAuth()
			if !ok || !verifier.Verify(user, pass) {
				w.Header().Set("WWW-Authenticate", `Basic realm="metrics"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  "UNAUTHORIZED",
	})
}
