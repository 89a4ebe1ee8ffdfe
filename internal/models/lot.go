package models

import (
	"fmt"
	"time"
)

// Действия торговых намерений
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
)

// Lot - открытый лот: одна строка на каждый исполненный BUY.
//
// После создания не изменяется, только удаляется целой группой при закрытии.
// Несколько лотов одного инструмента объединяются ("стекуются") на чтении.
type Lot struct {
	ID             int64     `json:"id" db:"id"`
	Owner          string    `json:"owner" db:"owner"`
	Exchange       string    `json:"exchange" db:"exchange"`
	Symbol         string    `json:"symbol" db:"symbol"`                     // BASE/QUOTE
	Quantity       float64   `json:"quantity" db:"quantity"`                 // в базовой валюте
	EntryPrice     float64   `json:"entry_price" db:"entry_price"`
	EntryNotional  float64   `json:"entry_notional" db:"entry_notional"`     // стоимость в котируемой валюте
	BuyFeeQuote    float64   `json:"buy_fee_quote" db:"buy_fee_quote"`       // комиссия в котируемой валюте
	BuyFeeBase     float64   `json:"buy_fee_base" db:"buy_fee_base"`         // комиссия в иной валюте
	BuyFeeCurrency string    `json:"buy_fee_currency" db:"buy_fee_currency"` // валюта BuyFeeBase
	OrderID        string    `json:"order_id" db:"order_id"`
	IsPaper        bool      `json:"is_paper" db:"is_paper"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// IsActive - лот учитывается планировщиками только с положительными количеством и стоимостью
func (l *Lot) IsActive() bool {
	return l.Quantity > 0 && l.EntryNotional > 0
}

// GroupKey возвращает ключ группы, в которую попадает лот
func (l *Lot) GroupKey() LotGroupKey {
	return LotGroupKey{Owner: l.Owner, Exchange: l.Exchange, Symbol: l.Symbol, IsPaper: l.IsPaper}
}

// LotGroupKey - ключ стека лотов (владелец, биржа, инструмент, paper/live)
type LotGroupKey struct {
	Owner    string `json:"owner"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	IsPaper  bool   `json:"is_paper"`
}

func (k LotGroupKey) String() string {
	mode := "live"
	if k.IsPaper {
		mode = "paper"
	}
	return fmt.Sprintf("%s:%s:%s:%s", k.Owner, k.Exchange, k.Symbol, mode)
}

// StackedPosition - логическая позиция: агрегат всех лотов одной группы
type StackedPosition struct {
	Key           LotGroupKey `json:"key"`
	Quantity      float64     `json:"quantity"`
	AvgEntryPrice float64     `json:"avg_entry_price"`
	EntryNotional float64     `json:"entry_notional"`
	BuyFeesQuote  float64     `json:"buy_fees_quote"` // только комиссии в котируемой валюте
	LotCount      int         `json:"lot_count"`
	OpenedAt      time.Time   `json:"opened_at"`      // самый старый лот
	LastBuyAt     time.Time   `json:"last_buy_at"`    // самый новый лот
	Lots          []*Lot      `json:"lots,omitempty"`
}
