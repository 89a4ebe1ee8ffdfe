package models

import "time"

// Notification - уведомление владельцу о торговом событии
type Notification struct {
	ID        int64                  `json:"id" db:"id"`
	Owner     string                 `json:"owner" db:"owner"`
	Timestamp time.Time              `json:"timestamp" db:"timestamp"`
	Type      string                 `json:"type" db:"type"`
	Severity  string                 `json:"severity" db:"severity"` // info, warn, error
	Message   string                 `json:"message" db:"message"`
	Meta      map[string]interface{} `json:"meta,omitempty" db:"meta"` // JSON в БД
}

// Типы уведомлений
const (
	NotificationTypeFill     = "FILL"     // ордер исполнен
	NotificationTypeClose    = "CLOSE"    // группа лотов закрыта
	NotificationTypeBlocked  = "BLOCKED"  // автоматический вход запрещён фильтром
	NotificationTypeDeferred = "DEFERRED" // продажа отложена
	NotificationTypeError    = "ERROR"    // ошибка биржи/ордера
)

// Уровни важности
const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)
