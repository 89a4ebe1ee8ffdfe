package websocket

import (
	"time"

	"spottrader/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeGateState - новое решение сигнального фильтра.
	// Рассылается всем клиентам после каждого тика и смены режима.
	MessageTypeGateState MessageType = "gateState"

	// MessageTypeNotification - новое уведомление владельца.
	// Доставляется только клиентам этого владельца.
	MessageTypeNotification MessageType = "notification"
)

// Message - конверт всех сообщений сервера
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// GateStateData - состояние фильтра для UI
type GateStateData struct {
	models.GateState
	Description string `json:"description,omitempty"`
}

// NewGateStateMessage создает сообщение о состоянии фильтра
func NewGateStateMessage(state models.GateState, description string) *Message {
	return &Message{
		Type:      MessageTypeGateState,
		Timestamp: time.Now(),
		Data:      &GateStateData{GateState: state, Description: description},
	}
}

// NewNotificationMessage создает сообщение с уведомлением
func NewNotificationMessage(notif *models.Notification) *Message {
	return &Message{
		Type:      MessageTypeNotification,
		Timestamp: time.Now(),
		Data:      notif,
	}
}
