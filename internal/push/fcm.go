package push

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

// ErrNotInitialized - клиент FCM не создан (push выключен)
var ErrNotInitialized = errors.New("FCM client not initialized")

// androidChannel - канал уведомлений мобильного клиента
const androidChannel = "trade_events"

// FCMPusher доставляет уведомления через Firebase Cloud Messaging.
// Каждый владелец подписан на собственный топик: prefix + owner.
type FCMPusher struct {
	client      *messaging.Client
	topicPrefix string
	log         *utils.Logger
}

// NewFCMPusher инициализирует Firebase приложение по файлу сервисного аккаунта
func NewFCMPusher(ctx context.Context, credentialsFile, topicPrefix string) (*FCMPusher, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	p := &FCMPusher{
		client:      client,
		topicPrefix: topicPrefix,
		log:         utils.L().WithComponent("fcm"),
	}
	p.log.Info("firebase cloud messaging initialized", utils.String("topic_prefix", topicPrefix))
	return p, nil
}

// Push отправляет уведомление в топик владельца
func (p *FCMPusher) Push(ctx context.Context, notif *models.Notification) error {
	if p == nil || p.client == nil {
		return ErrNotInitialized
	}

	msg := BuildMessage(p.topicPrefix, notif)
	id, err := p.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}

	p.log.Debug("push sent", utils.Owner(notif.Owner), utils.String("message_id", id))
	return nil
}

// Topic возвращает топик владельца
func Topic(prefix, owner string) string {
	return prefix + owner
}

// BuildMessage собирает FCM сообщение. Ошибки доставляются с высоким приоритетом.
func BuildMessage(topicPrefix string, notif *models.Notification) *messaging.Message {
	data := map[string]string{
		"type":      notif.Type,
		"severity":  notif.Severity,
		"owner":     notif.Owner,
		"timestamp": strconv.FormatInt(notif.Timestamp.Unix(), 10),
	}
	for k, v := range notif.Meta {
		data["meta_"+k] = fmt.Sprint(v)
	}

	priority := messaging.PriorityDefault
	androidPriority := "normal"
	if notif.Severity == models.SeverityError || notif.Type == models.NotificationTypeClose {
		priority = messaging.PriorityHigh
		androidPriority = "high"
	}

	return &messaging.Message{
		Topic: Topic(topicPrefix, notif.Owner),
		Notification: &messaging.Notification{
			Title: title(notif),
			Body:  notif.Message,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: androidPriority,
			Notification: &messaging.AndroidNotification{
				ChannelID: androidChannel,
				Priority:  priority,
			},
		},
	}
}

func title(notif *models.Notification) string {
	switch notif.Type {
	case models.NotificationTypeFill:
		return "Ордер исполнен"
	case models.NotificationTypeClose:
		return "Позиция закрыта"
	case models.NotificationTypeBlocked:
		return "Вход заблокирован"
	case models.NotificationTypeDeferred:
		return "Продажа отложена"
	case models.NotificationTypeError:
		return "Ошибка"
	default:
		return strings.ToUpper(notif.Type)
	}
}
