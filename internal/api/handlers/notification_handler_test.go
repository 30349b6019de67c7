package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"botdash/internal/models"
)

// ============ NotificationHandler Tests ============

func TestNotificationHandler_GetNotifications(t *testing.T) {
	t.Run("returns empty list when no notifications", func(t *testing.T) {
		handler := NewNotificationHandler(NewMockNotificationService(), nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 0 || response.Notifications == nil {
			t.Errorf("expected empty non-null list, got %+v", response)
		}
	})

	t.Run("filters by types", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		handler := NewNotificationHandler(mockSvc, nil)

		mockSvc.AddNotification(models.NotificationTypeWarning, models.SeverityWarn, "b1", "low balance")
		mockSvc.AddNotification(models.NotificationTypeActionFailed, models.SeverityError, "b1", "stop failed")
		mockSvc.AddNotification(models.NotificationTypeDeploy, models.SeverityInfo, "b2", "deployment requested")

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?types=warning,action_failed", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		var response GetNotificationsResponse
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Total != 2 {
			t.Errorf("expected total 2 (filtered), got %d", response.Total)
		}
		if response.Notifications[0].BotID == nil || *response.Notifications[0].BotID != "b1" {
			t.Errorf("expected bot_id in DTO, got %+v", response.Notifications[0])
		}
	})

	t.Run("respects limit parameter", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		handler := NewNotificationHandler(mockSvc, nil)

		for i := 0; i < 10; i++ {
			mockSvc.AddNotification(models.NotificationTypeWarning, models.SeverityWarn, "", "warning")
		}

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications?limit=5", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		var response GetNotificationsResponse
		json.NewDecoder(w.Body).Decode(&response)
		if response.Total != 5 {
			t.Errorf("expected total 5 (limited), got %d", response.Total)
		}
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		mockSvc.getErr = errors.New("db down")
		handler := NewNotificationHandler(mockSvc, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()

		handler.GetNotifications(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestNotificationHandler_GetBotNotifications(t *testing.T) {
	notifSvc := NewMockNotificationService()
	notifSvc.AddNotification(models.NotificationTypeWarning, models.SeverityWarn, "b1", "low balance")
	notifSvc.AddNotification(models.NotificationTypeWarning, models.SeverityWarn, "b2", "other bot")

	botSvc := NewMockBotService()
	botSvc.AddBot("b1", testUser)
	handler := NewNotificationHandler(notifSvc, botSvc)

	t.Run("own bot", func(t *testing.T) {
		req := withVars(withUser(httptest.NewRequest(http.MethodGet, "/api/v1/bots/b1/notifications", nil), testUser), map[string]string{"id": "b1"})
		w := httptest.NewRecorder()
		handler.GetBotNotifications(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		var response GetNotificationsResponse
		json.NewDecoder(w.Body).Decode(&response)
		if response.Total != 1 {
			t.Errorf("expected 1 notification, got %d", response.Total)
		}
	})

	t.Run("foreign bot", func(t *testing.T) {
		req := withVars(withUser(httptest.NewRequest(http.MethodGet, "/api/v1/bots/b1/notifications", nil), otherUser), map[string]string{"id": "b1"})
		w := httptest.NewRecorder()
		handler.GetBotNotifications(w, req)

		if w.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
		}
	})
}

func TestNotificationHandler_ClearNotifications(t *testing.T) {
	t.Run("clears journal", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		mockSvc.AddNotification(models.NotificationTypeStatus, models.SeverityError, "b1", "bot is failed")
		handler := NewNotificationHandler(mockSvc, nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()
		handler.ClearNotifications(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if count, _ := mockSvc.GetNotificationCount(); count != 0 {
			t.Errorf("expected empty journal, got %d", count)
		}
	})

	t.Run("service error", func(t *testing.T) {
		mockSvc := NewMockNotificationService()
		mockSvc.clearErr = errors.New("db down")
		handler := NewNotificationHandler(mockSvc, nil)

		req := httptest.NewRequest(http.MethodDelete, "/api/v1/notifications", nil)
		w := httptest.NewRecorder()
		handler.ClearNotifications(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 100},
		{"?limit=20", 20},
		{"?limit=-1", 100},
		{"?limit=abc", 100},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications"+tt.query, nil)
		if got := parseLimit(req); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
