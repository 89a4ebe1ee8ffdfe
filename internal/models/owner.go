package models

import "time"

// Owner - владелец торгового счёта (пользователь платформы)
type Owner struct {
	ID                string    `json:"id" db:"id"`
	WebhookSecretHash string    `json:"-" db:"webhook_secret_hash"` // bcrypt
	PaperMode         bool      `json:"paper_mode" db:"paper_mode"` // демо-режим
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
