package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"

	"spottrader/internal/models"
)

func TestBuildMessage(t *testing.T) {
	notif := &models.Notification{
		Owner:     "alice",
		Timestamp: time.Unix(1700000000, 0),
		Type:      models.NotificationTypeClose,
		Severity:  models.SeverityInfo,
		Message:   "BTC/USDT закрыта, PnL 39.00",
		Meta:      map[string]interface{}{"net_pnl": 39.0, "exchange": "binance"},
	}

	msg := BuildMessage("owner_", notif)

	if msg.Topic != "owner_alice" {
		t.Errorf("неверный топик: %s", msg.Topic)
	}
	if msg.Notification.Title != "Позиция закрыта" || msg.Notification.Body != notif.Message {
		t.Errorf("неверный заголовок или текст: %+v", msg.Notification)
	}
	if msg.Data["meta_net_pnl"] != "39" || msg.Data["meta_exchange"] != "binance" {
		t.Errorf("meta не перенесена в data: %v", msg.Data)
	}
	if msg.Data["timestamp"] != "1700000000" {
		t.Errorf("неверная метка времени: %s", msg.Data["timestamp"])
	}
	if msg.Android.Notification.Priority != messaging.PriorityHigh {
		t.Error("закрытие позиции должно доставляться с высоким приоритетом")
	}
}

func TestBuildMessagePriority(t *testing.T) {
	tests := []struct {
		name     string
		notif    *models.Notification
		priority messaging.AndroidNotificationPriority
	}{
		{
			name:     "error is high",
			notif:    &models.Notification{Owner: "a", Type: models.NotificationTypeError, Severity: models.SeverityError},
			priority: messaging.PriorityHigh,
		},
		{
			name:     "fill is default",
			notif:    &models.Notification{Owner: "a", Type: models.NotificationTypeFill, Severity: models.SeverityInfo},
			priority: messaging.PriorityDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := BuildMessage("p_", tt.notif)
			if msg.Android.Notification.Priority != tt.priority {
				t.Errorf("ожидался приоритет %v, получен %v", tt.priority, msg.Android.Notification.Priority)
			}
		})
	}
}

func TestPushWithoutClient(t *testing.T) {
	var p *FCMPusher
	err := p.Push(context.Background(), &models.Notification{Owner: "a"})
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("ожидалась ErrNotInitialized, получено %v", err)
	}
}
