package handlers

import (
	"net/http"

	"spottrader/internal/models"
)

// NotificationServiceInterface - журнал уведомлений владельца
type NotificationServiceInterface interface {
	GetNotifications(owner string, limit int) ([]*models.Notification, error)
	ClearNotifications(owner string) error
}

// NotificationHandler отвечает за журнал уведомлений
//
// Endpoints:
// - GET /api/notifications?limit=50 - последние уведомления
// - DELETE /api/notifications - очистка журнала владельца
type NotificationHandler struct {
	notificationService NotificationServiceInterface
}

// NewNotificationHandler создает новый NotificationHandler с внедрением зависимости
func NewNotificationHandler(notificationService NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{notificationService: notificationService}
}

// GetNotificationsResponse представляет ответ списка уведомлений
type GetNotificationsResponse struct {
	Notifications []*models.Notification `json:"notifications"`
	Total         int                    `json:"total"`
}

// GetNotifications возвращает последние уведомления владельца
//
// GET /api/notifications
//
// Query параметры:
// - limit (int): количество записей (по умолчанию 100)
func (h *NotificationHandler) GetNotifications(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	limit := queryLimit(r)
	if limit == 0 {
		limit = 100
	}

	notifications, err := h.notificationService.GetNotifications(owner, limit)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to get notifications: "+err.Error())
		return
	}
	if notifications == nil {
		notifications = []*models.Notification{}
	}
	respondWithJSON(w, http.StatusOK, GetNotificationsResponse{Notifications: notifications, Total: len(notifications)})
}

// ClearNotifications очищает журнал владельца. Действие необратимо.
//
// DELETE /api/notifications
func (h *NotificationHandler) ClearNotifications(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	if err := h.notificationService.ClearNotifications(owner); err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to clear notifications: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "Notifications cleared successfully"})
}
