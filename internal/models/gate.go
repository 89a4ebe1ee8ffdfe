package models

import "time"

// GateMode - профиль работы сигнального фильтра
type GateMode string

const (
	GateModeConservative GateMode = "conservative"
	GateModeNormal       GateMode = "normal"
	GateModeAggressive   GateMode = "aggressive"
)

// GateState - снимок состояния фильтра автоматических входов.
//
// Заменяется целиком на каждом успешном тике, читатели получают копию.
type GateState struct {
	Allow     bool      `json:"allow"`
	Mode      GateMode  `json:"mode"`
	Reason    string    `json:"reason"`
	RSI       float64   `json:"rsi"`
	EMA       float64   `json:"ema"`
	EMAPrev   float64   `json:"ema_prev"`
	Momentum  float64   `json:"momentum"` // диапазон последних свечей, %
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeferredKey - ключ отложенного выхода
type DeferredKey struct {
	Owner    string `json:"owner"`
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
}

// DeferredExit - отложенная продажа, живёт только в памяти
type DeferredExit struct {
	Key         DeferredKey   `json:"key"`
	IsPaper     bool          `json:"is_paper"`
	CreatedAt   time.Time     `json:"created_at"`
	LastCheckAt time.Time     `json:"last_check_at"`
	MaxHold     time.Duration `json:"max_hold"`
	Reason      string        `json:"reason"`
}

// GroupKey - ключ группы лотов, которую закроет эта отложенная продажа
func (d *DeferredExit) GroupKey() LotGroupKey {
	return LotGroupKey{Owner: d.Key.Owner, Exchange: d.Key.Exchange, Symbol: d.Key.Symbol, IsPaper: d.IsPaper}
}

// Expired - истекло ли максимальное время удержания
func (d *DeferredExit) Expired(now time.Time) bool {
	return now.Sub(d.CreatedAt) >= d.MaxHold
}
