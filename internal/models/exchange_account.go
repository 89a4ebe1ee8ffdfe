package models

import "time"

// ExchangeAccount - API ключи владельца на конкретной бирже
type ExchangeAccount struct {
	ID         int64     `json:"id" db:"id"`
	Owner      string    `json:"owner" db:"owner"`
	Exchange   string    `json:"exchange" db:"exchange"` // binance, bybit, okx, gate
	APIKey     string    `json:"-" db:"api_key"`         // зашифрован, не возвращается в JSON
	SecretKey  string    `json:"-" db:"secret_key"`      // зашифрован
	Passphrase string    `json:"-" db:"passphrase"`      // для OKX, зашифрован
	LastError  string    `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
