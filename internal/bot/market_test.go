package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"spottrader/internal/exchange"
)

func newTestMarket(ex *fakeExchange, clock *fakeClock) *MarketData {
	m := NewMarketData(map[string]exchange.Exchange{"binance": ex}, 5*time.Second)
	m.now = clock.Now
	return m
}

func TestMarketData_PriceCacheAndFallback(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchange{price: 100}
	m := newTestMarket(ex, clock)
	ctx := context.Background()

	if p, err := m.Price(ctx, "binance", "btcusdt"); err != nil || p != 100 {
		t.Fatalf("ожидали 100, получили %v, %v", p, err)
	}

	ex.price = 110
	if p, _ := m.Price(ctx, "binance", "BTC/USDT"); p != 100 {
		t.Errorf("в пределах TTL ожидали кэш 100, получили %v", p)
	}

	clock.Advance(6 * time.Second)
	if p, _ := m.Price(ctx, "binance", "BTC/USDT"); p != 110 {
		t.Errorf("после TTL ожидали 110, получили %v", p)
	}

	ex.price = 0
	clock.Advance(time.Hour)
	if p, err := m.Price(ctx, "binance", "BTC/USDT"); err != nil || p != 110 {
		t.Errorf("при ошибке биржи ожидали последнюю цену 110, получили %v, %v", p, err)
	}

	if _, err := m.Price(ctx, "binance", "ETH/USDT"); err == nil {
		t.Error("без цены и без кэша ожидали ошибку")
	}
	if _, err := m.Price(ctx, "kraken", "BTC/USDT"); !errors.Is(err, exchange.ErrUnsupportedExchange) {
		t.Errorf("ожидали ErrUnsupportedExchange, получили %v", err)
	}
}

func TestMarketData_FeePriceInQuote(t *testing.T) {
	clock := newFakeClock()
	m := newTestMarket(&fakeExchange{}, clock)
	ctx := context.Background()

	if got := m.FeePriceInQuote(ctx, "binance", "usdt", "USDT"); got != 1 {
		t.Errorf("комиссия в котируемой валюте: ожидали 1, получили %v", got)
	}
	if got := m.FeePriceInQuote(ctx, "binance", "BNB", "USDT"); got != 0 {
		t.Errorf("без цены комиссия не учитывается: ожидали 0, получили %v", got)
	}

	m.SetPrice("binance", "BNB/USDT", 300)
	if got := m.FeePriceInQuote(ctx, "binance", "bnb", "USDT"); got != 300 {
		t.Errorf("ожидали 300, получили %v", got)
	}
	if got := m.FeePriceInQuote(ctx, "binance", "", "USDT"); got != 0 {
		t.Errorf("пустая валюта: ожидали 0, получили %v", got)
	}
}

func TestMarketData_CandlesUpdatePrice(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchange{candles: trendCandles(5, 10, 1)}
	m := newTestMarket(ex, clock)

	candles, err := m.Candles(context.Background(), "binance", "BTC/USDT", "1h", 5)
	if err != nil || len(candles) != 5 {
		t.Fatalf("Candles: %d, %v", len(candles), err)
	}
	if p, err := m.Price(context.Background(), "binance", "BTC/USDT"); err != nil || p != 14 {
		t.Errorf("цена должна обновиться последним закрытием: %v, %v", p, err)
	}
}

func TestMarketData_CandlesCached(t *testing.T) {
	clock := newFakeClock()
	ex := &fakeExchange{candles: trendCandles(10, 10, 1)}
	m := newTestMarket(ex, clock)
	ctx := context.Background()

	if _, err := m.Candles(ctx, "binance", "BTC/USDT", "1h", 10); err != nil {
		t.Fatal(err)
	}
	candles, err := m.Candles(ctx, "binance", "btcusdt", "1h", 4)
	if err != nil {
		t.Fatal(err)
	}
	if ex.candleCalls != 1 {
		t.Errorf("в пределах TTL ожидали один запрос свечей, получили %d", ex.candleCalls)
	}
	if len(candles) != 4 || candles[3].Close != 19 {
		t.Errorf("ожидали последние 4 свечи, получили %+v", candles)
	}

	// изменение копии не портит кэш
	candles[3].Close = 0
	if again, _ := m.Candles(ctx, "binance", "BTC/USDT", "1h", 10); again[9].Close != 19 {
		t.Error("кэш свечей изменён через возвращённый срез")
	}

	if _, err := m.Candles(ctx, "binance", "BTC/USDT", "4h", 10); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Candles(ctx, "binance", "BTC/USDT", "1h", 20); err != nil {
		t.Fatal(err)
	}
	if ex.candleCalls != 3 {
		t.Errorf("другой интервал и больший limit идут на биржу: ожидали 3 запроса, получили %d", ex.candleCalls)
	}

	clock.Advance(6 * time.Second)
	if _, err := m.Candles(ctx, "binance", "BTC/USDT", "1h", 10); err != nil {
		t.Fatal(err)
	}
	if ex.candleCalls != 4 {
		t.Errorf("после TTL ожидали новый запрос, получили %d", ex.candleCalls)
	}
}
