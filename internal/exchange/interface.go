package exchange

import (
	"context"
	"errors"
	"time"
)

// Exchange - вариант конкретной биржи для спотовой торговли.
//
// Закрытый набор реализаций (binance, bybit, okx, gate): у каждой своя схема
// подписи, свой формат отчёта об исполнении и своя форма ошибок. Наружу всё
// приводится к Fill / ExchangeError.
//
// Символы во всех методах передаются в каноничном виде BASE/QUOTE,
// перевод в нативный формат биржи - забота реализации.
type Exchange interface {
	// GetName возвращает имя биржи
	GetName() string

	// Sign подписывает запрос по схеме биржи
	Sign(req SignRequest) SignedRequest

	// SubmitOrder размещает рыночный ордер.
	// Для BUY используется QuoteAmount, для SELL - Quantity.
	// Fill заполнен настолько, насколько это позволяет ответ биржи (минимум OrderID).
	SubmitOrder(ctx context.Context, req OrderRequest) (*Fill, error)

	// ReadFill читает фактическое исполнение ордера из истории сделок
	ReadFill(ctx context.Context, symbol, orderID string) (*Fill, error)

	// GetBalance возвращает доступный баланс актива
	GetBalance(ctx context.Context, asset string) (float64, error)

	// GetPrice возвращает последнюю цену (публичный тикер)
	GetPrice(ctx context.Context, symbol string) (float64, error)

	// GetCandles возвращает свечи от старых к новым (публичная история)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// Credentials - API ключи владельца
type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string // только OKX
}

// Empty - ключи не заданы (публичный клиент)
func (c Credentials) Empty() bool {
	return c.APIKey == "" || c.SecretKey == ""
}

// SignRequest - данные запроса, участвующие в подписи
type SignRequest struct {
	Method    string
	Path      string
	Query     string // уже закодированная строка запроса без '?'
	Body      string
	Timestamp time.Time
}

// SignedRequest - результат подписи: итоговая строка запроса и заголовки
type SignedRequest struct {
	Query   string
	Headers map[string]string
}

// OrderRequest - рыночный ордер
type OrderRequest struct {
	Symbol      string
	Side        string  // SideBuy / SideSell
	QuoteAmount float64 // BUY: сумма в котируемой валюте
	Quantity    float64 // SELL: количество базовой валюты
}

// Fill - исполнение ордера в терминах биржи
type Fill struct {
	OrderID     string  `json:"order_id"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Gross       float64 `json:"gross"`
	Fee         float64 `json:"fee"`
	FeeCurrency string  `json:"fee_currency"`
	// OtherFees - комиссии частичных исполнений в валютах, отличных от FeeCurrency
	OtherFees map[string]float64 `json:"other_fees,omitempty"`
}

// Complete - известны цена и количество
func (f *Fill) Complete() bool {
	return f != nil && f.Price > 0 && f.Quantity > 0
}

// Candle - OHLC свеча
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	if e.Code != "" {
		return e.Exchange + ": [" + e.Code + "] " + e.Message
	}
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Стороны ордера
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

var (
	ErrNoCredentials       = errors.New("exchange credentials are not configured")
	ErrUnsupportedExchange = errors.New("exchange is not supported")
	ErrUnsupportedInterval = errors.New("candle interval is not supported")
	ErrFillNotFound        = errors.New("no executions found for order")
	ErrEmptyResponse       = errors.New("empty response from exchange")
	ErrInvalidOrder        = errors.New("invalid order request")
)
