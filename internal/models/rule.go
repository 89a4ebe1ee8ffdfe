package models

import "time"

// AmountFullBalance - сентинел суммы правила: использовать весь доступный баланс
const AmountFullBalance = -1.0

// AutomationRule - правило автоматической покупки по сигналу вебхука
type AutomationRule struct {
	ID        int64     `json:"id" db:"id"`
	Owner     string    `json:"owner" db:"owner"`
	Exchange  string    `json:"exchange" db:"exchange"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Amount    float64   `json:"amount" db:"amount"` // в котируемой валюте или AmountFullBalance
	Enabled   bool      `json:"enabled" db:"enabled"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// UsesFullBalance - покупать на весь доступный баланс котируемой валюты
func (r *AutomationRule) UsesFullBalance() bool {
	return r.Amount == AmountFullBalance
}
