package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botdash/internal/api/handlers"
	"botdash/internal/api/middleware"
	"botdash/internal/service"
	"botdash/internal/websocket"
	"botdash/pkg/crypto"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	BotService          service.BotServiceInterface
	NotificationService service.NotificationServiceInterface
	Hub                 *websocket.Hub

	// MetricsAuth - учетные данные /metrics (nil: только development)
	MetricsAuth *crypto.BasicAuthVerifier

	// AllowedOrigins - origins дашборда для CORS
	AllowedOrigins []string

	// HealthCheck проверяет хранилище (nil: всегда OK)
	HealthCheck func(ctx context.Context) error
}

// healthTimeout - граница проверки хранилища в /health
const healthTimeout = 2 * time.Second

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/ (Auth)
//
//	├── /bots/
//	│   ├── GET / - список конфигураций
//	│   ├── POST / - создать конфигурацию
//	│   ├── GET /statuses - live-статусы всех ботов
//	│   ├── GET /{id} - получить конфигурацию
//	│   ├── PATCH /{id} - обновить конфигурацию
//	│   ├── DELETE /{id} - удалить конфигурацию
//	│   ├── GET /{id}/status - live-статус
//	│   ├── DELETE /{id}/status - размонтировать представление
//	│   ├── POST /{id}/start|stop|stopbuy - ручные действия
//	│   ├── POST /{id}/deploy - деплой через оркестратор
//	│   ├── GET /{id}/balance|profit|logs - данные с API бота
//	│   └── GET /{id}/notifications - уведомления бота
//	└── /notifications/
//	    ├── GET / - получить уведомления
//	    └── DELETE / - очистить журнал
//
// /ws/stream - WebSocket для real-time обновлений (Auth)
// /metrics - Prometheus (MetricsAuth)
// /health - проверка живости сервиса
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только для API и WebSocket)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery)
	router.Use(middleware.Logging)
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth)

	if deps.BotService != nil {
		botHandler := handlers.NewBotHandler(deps.BotService)

		api.HandleFunc("/bots", botHandler.ListBots).Methods("GET")
		api.HandleFunc("/bots", botHandler.CreateBot).Methods("POST")
		api.HandleFunc("/bots/statuses", botHandler.ListStatuses).Methods("GET")
		api.HandleFunc("/bots/{id}", botHandler.GetBot).Methods("GET")
		api.HandleFunc("/bots/{id}", botHandler.UpdateBot).Methods("PATCH")
		api.HandleFunc("/bots/{id}", botHandler.DeleteBot).Methods("DELETE")
		api.HandleFunc("/bots/{id}/status", botHandler.GetStatus).Methods("GET")
		api.HandleFunc("/bots/{id}/status", botHandler.ReleaseStatus).Methods("DELETE")
		api.HandleFunc("/bots/{id}/start", botHandler.StartBot).Methods("POST")
		api.HandleFunc("/bots/{id}/stop", botHandler.StopBot).Methods("POST")
		api.HandleFunc("/bots/{id}/stopbuy", botHandler.StopBuy).Methods("POST")
		api.HandleFunc("/bots/{id}/deploy", botHandler.DeployBot).Methods("POST")
		api.HandleFunc("/bots/{id}/balance", botHandler.GetBalance).Methods("GET")
		api.HandleFunc("/bots/{id}/profit", botHandler.GetProfit).Methods("GET")
		api.HandleFunc("/bots/{id}/logs", botHandler.GetLogs).Methods("GET")
	}

	if deps.NotificationService != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.NotificationService, deps.BotService)

		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
		api.HandleFunc("/notifications", notificationHandler.ClearNotifications).Methods("DELETE")
		api.HandleFunc("/bots/{id}/notifications", notificationHandler.GetBotNotifications).Methods("GET")
	}

	if deps.Hub != nil {
		wsHandler := handlers.NewWebSocketHandler(deps.Hub)
		ws := router.PathPrefix("/ws").Subrouter()
		ws.Use(middleware.Auth)
		ws.HandleFunc("/stream", wsHandler.ServeWS).Methods("GET")
	}

	router.Handle("/metrics", middleware.MetricsAuth(deps.MetricsAuth)(promhttp.Handler())).Methods("GET")

	router.HandleFunc("/health", healthHandler(deps)).Methods("GET")

	return router
}

func healthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{"status": "ok"}
		code := http.StatusOK

		if deps.HealthCheck != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := deps.HealthCheck(ctx); err != nil {
				resp["status"] = "degraded"
				resp["database"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		if deps.Hub != nil {
			resp["ws_clients"] = deps.Hub.ClientCount()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}
