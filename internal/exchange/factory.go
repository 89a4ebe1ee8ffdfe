package exchange

import (
	"fmt"
	"strings"

	"spottrader/pkg/ratelimit"
)

// SupportedExchanges - список поддерживаемых бирж
var SupportedExchanges = []string{
	"binance",
	"bybit",
	"okx",
	"gate",
}

// Лимиты публичных REST API (запросов в секунду, burst)
var exchangeLimits = map[string][2]float64{
	"binance": {20, 40},
	"bybit":   {10, 20},
	"okx":     {20, 40},
	"gate":    {10, 20},
}

var limiters = func() *ratelimit.MultiLimiter {
	ml := ratelimit.NewMultiLimiter()
	for name, l := range exchangeLimits {
		ml.Add(name, l[0], l[1])
	}
	return ml
}()

// limiterFor возвращает общий для всех клиентов биржи limiter
func limiterFor(name string) *ratelimit.RateLimiter {
	return limiters.Get(name)
}

// NewExchange создает клиент биржи по имени
func NewExchange(name string, creds Credentials, opts ...Option) (Exchange, error) {
	name = strings.ToLower(name)

	switch name {
	case "binance":
		return NewBinance(creds, opts...), nil
	case "bybit":
		return NewBybit(creds, opts...), nil
	case "okx":
		return NewOKX(creds, opts...), nil
	case "gate":
		return NewGate(creds, opts...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExchange, name)
	}
}

// NewClient - NewExchange с настройками по умолчанию
func NewClient(name string, creds Credentials) (Exchange, error) {
	return NewExchange(name, creds)
}

// IsSupported проверяет, поддерживается ли биржа
func IsSupported(name string) bool {
	name = strings.ToLower(name)
	for _, supported := range SupportedExchanges {
		if name == supported {
			return true
		}
	}
	return false
}

// RequiresPassphrase - биржа требует третий секрет (OKX)
func RequiresPassphrase(name string) bool {
	return strings.ToLower(name) == "okx"
}
