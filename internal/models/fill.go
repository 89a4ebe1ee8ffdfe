package models

// Источник данных о комиссии
const (
	FeeSourceNone         = "none"          // paper или комиссия отсутствует
	FeeSourceReport       = "report"        // из отчёта об исполнении биржи
	FeeSourceBalanceDelta = "balance_delta" // выведена из разницы балансов
)

// FillResult - нормализованный результат исполнения ордера.
//
// Не сохраняется как есть: вызывающий строит из него Lot или ClosedTrade.
type FillResult struct {
	OK          bool    `json:"ok"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`     // в базовой валюте
	Gross       float64 `json:"gross"`        // в котируемой валюте
	FeeQuote    float64 `json:"fee_quote"`    // комиссия в котируемой валюте
	FeeBase     float64 `json:"fee_base"`     // комиссия в FeeCurrency (не котируемой)
	FeeCurrency string  `json:"fee_currency"`
	FeeSource   string  `json:"fee_source"`
	OrderID     string  `json:"order_id"`
	Reason      string  `json:"reason,omitempty"`
	IsPaper     bool    `json:"is_paper"`
}

// Failed создаёт неуспешный результат с причиной
func Failed(reason string) FillResult {
	return FillResult{OK: false, Reason: reason}
}
