package repository

import (
	"database/sql"
	"time"

	jsoniter "github.com/json-iterator/go"

	"spottrader/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NotificationRepository - работа с таблицей notifications
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository создает новый экземпляр репозитория
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create сохраняет уведомление. Meta хранится как JSONB.
func (r *NotificationRepository) Create(notif *models.Notification) error {
	var metaJSON []byte
	if len(notif.Meta) > 0 {
		var err error
		metaJSON, err = json.Marshal(notif.Meta)
		if err != nil {
			return err
		}
	}

	if notif.Timestamp.IsZero() {
		notif.Timestamp = time.Now()
	}

	query := `
		INSERT INTO notifications (owner, timestamp, type, severity, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return r.db.QueryRow(
		query,
		notif.Owner,
		notif.Timestamp,
		notif.Type,
		notif.Severity,
		notif.Message,
		metaJSON,
	).Scan(&notif.ID)
}

// GetRecent возвращает последние уведомления владельца, новые первыми
func (r *NotificationRepository) GetRecent(owner string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, owner, timestamp, type, severity, message, meta
		FROM notifications
		WHERE owner = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2`

	rows, err := r.db.Query(query, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		notif := &models.Notification{}
		var metaJSON []byte
		err := rows.Scan(
			&notif.ID,
			&notif.Owner,
			&notif.Timestamp,
			&notif.Type,
			&notif.Severity,
			&notif.Message,
			&metaJSON,
		)
		if err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &notif.Meta); err != nil {
				return nil, err
			}
		}
		notifications = append(notifications, notif)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return notifications, nil
}

// DeleteByOwner очищает журнал уведомлений владельца
func (r *NotificationRepository) DeleteByOwner(owner string) error {
	_, err := r.db.Exec(`DELETE FROM notifications WHERE owner = $1`, owner)
	return err
}

// KeepRecent оставляет у каждого владельца только keepCount последних уведомлений
func (r *NotificationRepository) KeepRecent(keepCount int) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY owner ORDER BY timestamp DESC, id DESC) AS rn
				FROM notifications
			) ranked
			WHERE rn > $1
		)`

	result, err := r.db.Exec(query, keepCount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
