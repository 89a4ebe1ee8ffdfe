package repository

import (
	"database/sql"
	"errors"
	"time"

	"spottrader/internal/models"
)

// Ошибки репозитория настроек
var (
	ErrSettingsNotFound = errors.New("settings not found")
)

// SettingsRepository - работа с таблицей settings
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository создает новый экземпляр репозитория
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get возвращает глобальные настройки (всегда id=1, одна запись)
func (r *SettingsRepository) Get() (*models.Settings, error) {
	query := `
		SELECT id, gate_mode, updated_at
		FROM settings
		WHERE id = 1`

	settings := &models.Settings{}
	var mode string
	err := r.db.QueryRow(query).Scan(
		&settings.ID,
		&mode,
		&settings.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Если записи нет, создаем ее с дефолтными значениями
			return r.createDefault()
		}
		return nil, err
	}

	settings.GateMode = models.GateMode(mode)
	if settings.GateMode == "" {
		settings.GateMode = models.GateModeNormal
	}

	return settings, nil
}

// UpdateGateMode сохраняет режим сигнального фильтра
func (r *SettingsRepository) UpdateGateMode(mode models.GateMode) error {
	query := `
		UPDATE settings
		SET gate_mode = $1, updated_at = $2
		WHERE id = 1`

	result, err := r.db.Exec(query, string(mode), time.Now())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrSettingsNotFound
	}

	return nil
}

// createDefault создает запись настроек с дефолтными значениями
func (r *SettingsRepository) createDefault() (*models.Settings, error) {
	settings := &models.Settings{
		ID:        1,
		GateMode:  models.GateModeNormal,
		UpdatedAt: time.Now(),
	}

	query := `
		INSERT INTO settings (id, gate_mode, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.db.Exec(query, string(settings.GateMode), settings.UpdatedAt)
	if err != nil {
		return nil, err
	}

	return settings, nil
}
