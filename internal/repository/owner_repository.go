package repository

import (
	"database/sql"
	"errors"
	"time"

	"spottrader/internal/models"
)

// Ошибки репозитория владельцев
var (
	ErrOwnerNotFound = errors.New("owner not found")
	ErrOwnerExists   = errors.New("owner already exists")
)

// OwnerRepository - работа с таблицей owners
type OwnerRepository struct {
	db *sql.DB
}

// NewOwnerRepository создает новый экземпляр репозитория
func NewOwnerRepository(db *sql.DB) *OwnerRepository {
	return &OwnerRepository{db: db}
}

// GetOwner возвращает владельца по id. Неизвестный владелец - (nil, nil).
func (r *OwnerRepository) GetOwner(id string) (*models.Owner, error) {
	query := `
		SELECT id, webhook_secret_hash, paper_mode, created_at
		FROM owners
		WHERE id = $1`

	owner := &models.Owner{}
	err := r.db.QueryRow(query, id).Scan(
		&owner.ID,
		&owner.WebhookSecretHash,
		&owner.PaperMode,
		&owner.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return owner, nil
}

// Create регистрирует владельца
func (r *OwnerRepository) Create(owner *models.Owner) error {
	query := `
		INSERT INTO owners (id, webhook_secret_hash, paper_mode, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`

	if owner.CreatedAt.IsZero() {
		owner.CreatedAt = time.Now()
	}

	result, err := r.db.Exec(query, owner.ID, owner.WebhookSecretHash, owner.PaperMode, owner.CreatedAt)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrOwnerExists
	}

	return nil
}

// UpdateSecretHash заменяет хеш секрета вебхука
func (r *OwnerRepository) UpdateSecretHash(id, hash string) error {
	return r.execOne(`UPDATE owners SET webhook_secret_hash = $1 WHERE id = $2`, hash, id)
}

// SetPaperMode переключает демо-режим владельца
func (r *OwnerRepository) SetPaperMode(id string, paper bool) error {
	return r.execOne(`UPDATE owners SET paper_mode = $1 WHERE id = $2`, paper, id)
}

func (r *OwnerRepository) execOne(query string, args ...interface{}) error {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrOwnerNotFound
	}

	return nil
}
