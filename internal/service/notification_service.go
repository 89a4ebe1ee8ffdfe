package service

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"spottrader/internal/models"
	"spottrader/pkg/utils"
)

// WebSocketBroadcaster - интерфейс для отправки WebSocket сообщений
//
// Позволяет избежать циклических зависимостей между пакетами
// и упрощает тестирование (можно подставить mock)
type WebSocketBroadcaster interface {
	BroadcastNotification(notif *models.Notification)
}

// Pusher - внешняя доставка уведомлений (мобильный push)
type Pusher interface {
	Push(ctx context.Context, notif *models.Notification) error
}

var notificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spottrader",
		Subsystem: "notifications",
		Name:      "total",
		Help:      "Notifications by delivery result",
	},
	[]string{"result"}, // delivered, dropped, store_failed, push_failed
)

// pushTimeout - ограничение на одну внешнюю доставку
const pushTimeout = 10 * time.Second

// NotificationService - журнал уведомлений владельцев.
//
// Notify никогда не блокирует торговый путь: событие кладётся в буферную
// очередь, при переполнении отбрасывается с предупреждением в лог.
// Фоновый обработчик сохраняет событие, рассылает его в WebSocket и push.
type NotificationService struct {
	notificationRepo NotificationRepositoryInterface
	wsHub            WebSocketBroadcaster
	pusher           Pusher
	queue            chan *models.Notification
	now              func() time.Time
	log              *utils.Logger
}

// NewNotificationService создает новый экземпляр NotificationService
func NewNotificationService(notificationRepo NotificationRepositoryInterface, queueSize int) *NotificationService {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &NotificationService{
		notificationRepo: notificationRepo,
		queue:            make(chan *models.Notification, queueSize),
		now:              time.Now,
		log:              utils.L().WithComponent("notifications"),
	}
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast уведомлений.
//
// Вызывается после инициализации Hub в main.go:
//
//	notifService := service.NewNotificationService(notifRepo, cfg.Notify.QueueSize)
//	notifService.SetWebSocketHub(wsHub)
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// SetPusher включает внешнюю доставку
func (s *NotificationService) SetPusher(p Pusher) {
	s.pusher = p
}

// Notify ставит уведомление в очередь доставки
func (s *NotificationService) Notify(owner, notifType, severity, message string, meta map[string]interface{}) {
	notif := &models.Notification{
		Owner:     owner,
		Timestamp: s.now(),
		Type:      notifType,
		Severity:  severity,
		Message:   message,
		Meta:      meta,
	}
	select {
	case s.queue <- notif:
	default:
		notificationsTotal.WithLabelValues("dropped").Inc()
		s.log.Warn("notification queue full, event dropped",
			utils.Owner(owner), utils.String("type", notifType), utils.String("message", message))
	}
}

// Run обрабатывает очередь до отмены контекста, затем дорабатывает остаток
func (s *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case notif := <-s.queue:
			s.deliver(ctx, notif)
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

// drain сохраняет уже поставленные в очередь события без внешней доставки
func (s *NotificationService) drain() {
	for {
		select {
		case notif := <-s.queue:
			if err := s.notificationRepo.Create(notif); err != nil {
				s.log.Warn("failed to store notification on shutdown", utils.Owner(notif.Owner), utils.Err(err))
			}
		default:
			return
		}
	}
}

func (s *NotificationService) deliver(ctx context.Context, notif *models.Notification) {
	if err := s.notificationRepo.Create(notif); err != nil {
		notificationsTotal.WithLabelValues("store_failed").Inc()
		s.log.Error("failed to store notification", utils.Owner(notif.Owner), utils.Err(err))
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(notif)
	}

	if s.pusher != nil {
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		err := s.pusher.Push(pushCtx, notif)
		cancel()
		if err != nil {
			notificationsTotal.WithLabelValues("push_failed").Inc()
			s.log.Warn("push delivery failed", utils.Owner(notif.Owner), utils.Err(err))
			return
		}
	}
	notificationsTotal.WithLabelValues("delivered").Inc()
}

// GetNotifications возвращает последние уведомления владельца (новые сверху)
func (s *NotificationService) GetNotifications(owner string, limit int) ([]*models.Notification, error) {
	return s.notificationRepo.GetRecent(owner, clampLimit(limit))
}

// ClearNotifications очищает журнал владельца
func (s *NotificationService) ClearNotifications(owner string) error {
	return s.notificationRepo.DeleteByOwner(owner)
}

// Cleanup оставляет у каждого владельца keep последних уведомлений
func (s *NotificationService) Cleanup(keep int) (int64, error) {
	deleted, err := s.notificationRepo.KeepRecent(keep)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Debug("old notifications removed", utils.Int64("deleted", deleted))
	}
	return deleted, nil
}

// Pending - число событий в очереди
func (s *NotificationService) Pending() int {
	return len(s.queue)
}
