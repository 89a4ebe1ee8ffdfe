package models

import "time"

// Settings - глобальные настройки (одна запись, id=1)
type Settings struct {
	ID        int       `json:"id" db:"id"`
	GateMode  GateMode  `json:"gate_mode" db:"gate_mode"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
