package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"spottrader/internal/exchange"
	"spottrader/pkg/utils"
)

// ErrNoPrice - цена недоступна ни с биржи, ни из последнего известного значения
var ErrNoPrice = errors.New("price is not available")

// PriceSource - источник цен для исполнения и оценки позиций
type PriceSource interface {
	Price(ctx context.Context, exchangeName, symbol string) (float64, error)
	// FeePriceInQuote - цена валюты комиссии в котируемой валюте, 0 если недоступна
	FeePriceInQuote(ctx context.Context, exchangeName, feeCurrency, quote string) float64
}

// CandleSource - источник свечей для сигнального фильтра
type CandleSource interface {
	Candles(ctx context.Context, exchangeName, symbol, interval string, limit int) ([]exchange.Candle, error)
}

type priceEntry struct {
	price     float64
	fetchedAt time.Time
}

type candleEntry struct {
	candles   []exchange.Candle
	limit     int
	fetchedAt time.Time
}

// MarketData - адаптер публичных рыночных данных.
//
// Цены и свечи кэшируются на ttl; при ошибке биржи цена берётся из последнего
// известного значения независимо от возраста. Ключи не нужны: используются
// публичные клиенты.
type MarketData struct {
	clients map[string]exchange.Exchange
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	cache   map[string]priceEntry
	candles map[string]candleEntry
}

// NewMarketData создаёт адаптер поверх публичных клиентов бирж
func NewMarketData(clients map[string]exchange.Exchange, ttl time.Duration) *MarketData {
	return &MarketData{
		clients: clients,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[string]priceEntry),
		candles: make(map[string]candleEntry),
	}
}

func priceKey(exchangeName, symbol string) string {
	return exchangeName + "|" + symbol
}

func (m *MarketData) client(exchangeName string) (exchange.Exchange, error) {
	c, ok := m.clients[strings.ToLower(exchangeName)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", exchange.ErrUnsupportedExchange, exchangeName)
	}
	return c, nil
}

// Price возвращает последнюю цену инструмента
func (m *MarketData) Price(ctx context.Context, exchangeName, symbol string) (float64, error) {
	symbol, err := utils.NormalizeSymbol(symbol)
	if err != nil {
		return 0, err
	}
	key := priceKey(exchangeName, symbol)

	m.mu.RLock()
	entry, cached := m.cache[key]
	m.mu.RUnlock()
	if cached && m.ttl > 0 && m.now().Sub(entry.fetchedAt) < m.ttl {
		return entry.price, nil
	}

	c, err := m.client(exchangeName)
	if err != nil {
		return 0, err
	}

	price, err := c.GetPrice(ctx, symbol)
	if err != nil || price <= 0 {
		if cached {
			utils.L().Debug("using last known price",
				utils.Exchange(exchangeName), utils.Symbol(symbol), utils.Price(entry.price), utils.Err(err))
			return entry.price, nil
		}
		if err == nil {
			err = ErrNoPrice
		}
		return 0, err
	}

	m.SetPrice(exchangeName, symbol, price)
	return price, nil
}

// SetPrice сохраняет цену в кэш
func (m *MarketData) SetPrice(exchangeName, symbol string, price float64) {
	m.mu.Lock()
	m.cache[priceKey(exchangeName, symbol)] = priceEntry{price: price, fetchedAt: m.now()}
	m.mu.Unlock()
}

// FeePriceInQuote переводит валюту комиссии в котируемую валюту.
// Недоступная цена даёт 0: комиссия в этой валюте не учитывается.
func (m *MarketData) FeePriceInQuote(ctx context.Context, exchangeName, feeCurrency, quote string) float64 {
	feeCurrency = strings.ToUpper(strings.TrimSpace(feeCurrency))
	quote = strings.ToUpper(quote)
	if feeCurrency == "" {
		return 0
	}
	if feeCurrency == quote {
		return 1
	}

	price, err := m.Price(ctx, exchangeName, feeCurrency+"/"+quote)
	if err != nil {
		utils.L().Warn("fee currency price unavailable, fee treated as zero",
			utils.Exchange(exchangeName), utils.String("fee_currency", feeCurrency), utils.Err(err))
		return 0
	}
	return price
}

// Candles возвращает свечи от старых к новым. Ответ кэшируется на ttl по
// (биржа, инструмент, интервал); запрос большего limit идёт на биржу.
func (m *MarketData) Candles(ctx context.Context, exchangeName, symbol, interval string, limit int) ([]exchange.Candle, error) {
	symbol, err := utils.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	key := priceKey(exchangeName, symbol) + "|" + interval

	m.mu.RLock()
	entry, cached := m.candles[key]
	m.mu.RUnlock()
	if cached && m.ttl > 0 && m.now().Sub(entry.fetchedAt) < m.ttl && entry.limit >= limit {
		return tailCandles(entry.candles, limit), nil
	}

	c, err := m.client(exchangeName)
	if err != nil {
		return nil, err
	}

	candles, err := c.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.candles[key] = candleEntry{candles: candles, limit: limit, fetchedAt: m.now()}
	m.mu.Unlock()

	if n := len(candles); n > 0 && candles[n-1].Close > 0 {
		m.SetPrice(exchangeName, symbol, candles[n-1].Close)
	}
	return tailCandles(candles, limit), nil
}

// tailCandles - копия последних limit свечей; limit <= 0 - все
func tailCandles(candles []exchange.Candle, limit int) []exchange.Candle {
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]exchange.Candle, len(candles))
	copy(out, candles)
	return out
}
