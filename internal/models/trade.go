package models

import "time"

// ClosedTrade - запись о закрытой сделке (append-only).
// Используется только для отчётности, торговым ядром обратно не читается.
type ClosedTrade struct {
	ID        int64     `json:"id" db:"id"`
	Owner     string    `json:"owner" db:"owner"`
	Exchange  string    `json:"exchange" db:"exchange"`
	Symbol    string    `json:"symbol" db:"symbol"`
	Action    string    `json:"action" db:"action"`
	Amount    float64   `json:"amount" db:"amount"`   // валовая выручка (SELL) или стоимость
	NetPnl    float64   `json:"net_pnl" db:"net_pnl"` // реализованный чистый P&L
	IsPaper   bool      `json:"is_paper" db:"is_paper"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TradeSummary - агрегаты закрытых сделок за период
type TradeSummary struct {
	Period   string  `json:"period"`
	Trades   int     `json:"trades"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnl float64 `json:"total_pnl"`
	Volume   float64 `json:"volume"`
}

// WinRate возвращает долю прибыльных сделок в процентах
func (s *TradeSummary) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}
