package bot

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"spottrader/internal/config"
	"spottrader/internal/exchange"
	"spottrader/internal/models"
)

// ============ Биржа ============

type fakeExchange struct {
	mu sync.Mutex

	name      string
	price     float64
	candles   []exchange.Candle
	balances  map[string]float64
	submit    *exchange.Fill
	submitErr error
	read      *exchange.Fill
	readErr   error
	balErr    error

	// после SubmitOrder балансы заменяются на afterBalances
	afterBalances map[string]float64

	submitted   []exchange.OrderRequest
	calls       int
	candleCalls int
}

func (f *fakeExchange) GetName() string { return f.name }

func (f *fakeExchange) Sign(req exchange.SignRequest) exchange.SignedRequest {
	return exchange.SignedRequest{Query: req.Query}
}

func (f *fakeExchange) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.afterBalances != nil {
		f.balances = f.afterBalances
	}
	fill := *f.submit
	return &fill, nil
}

func (f *fakeExchange) ReadFill(ctx context.Context, symbol, orderID string) (*exchange.Fill, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.read == nil {
		return nil, exchange.ErrFillNotFound
	}
	fill := *f.read
	return &fill, nil
}

func (f *fakeExchange) GetBalance(ctx context.Context, asset string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.balErr != nil {
		return 0, f.balErr
	}
	return f.balances[asset], nil
}

func (f *fakeExchange) GetPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.price <= 0 {
		return 0, errors.New("ticker unavailable")
	}
	return f.price, nil
}

func (f *fakeExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]exchange.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candleCalls++
	if f.candles == nil {
		return nil, errors.New("klines unavailable")
	}
	return f.candles, nil
}

func factoryFor(ex *fakeExchange) ClientFactory {
	return func(name string, creds exchange.Credentials) (exchange.Exchange, error) {
		return ex, nil
	}
}

// ============ Рыночные данные ============

type fakePrices struct {
	prices    map[string]float64 // symbol -> price
	feePrices map[string]float64 // currency -> price in quote
}

func (f *fakePrices) Price(ctx context.Context, exchangeName, symbol string) (float64, error) {
	if p, ok := f.prices[symbol]; ok {
		return p, nil
	}
	return 0, ErrNoPrice
}

func (f *fakePrices) FeePriceInQuote(ctx context.Context, exchangeName, feeCurrency, quote string) float64 {
	if strings.EqualFold(feeCurrency, quote) {
		return 1
	}
	return f.feePrices[feeCurrency]
}

type fakeCandles struct {
	bySymbol map[string][]exchange.Candle
	err      error
}

func (f *fakeCandles) Candles(ctx context.Context, exchangeName, symbol, interval string, limit int) ([]exchange.Candle, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bySymbol[symbol], nil
}

// trendCandles строит n свечей с шагом step от start и размахом ±0.5%
func trendCandles(n int, start, step float64) []exchange.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]exchange.Candle, n)
	for i := 0; i < n; i++ {
		c := start + step*float64(i)
		candles[i] = exchange.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     c - step,
			High:     c * 1.005,
			Low:      c * 0.995,
			Close:    c,
		}
	}
	return candles
}

// ============ Хранилища ============

type memLotStore struct {
	mu      sync.Mutex
	nextID  int64
	lots    map[int64]*models.Lot
	err     error
	delErr  error
	deleted []int64
}

func newMemLotStore() *memLotStore {
	return &memLotStore{lots: make(map[int64]*models.Lot)}
}

func (s *memLotStore) Create(lot *models.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.nextID++
	lot.ID = s.nextID
	cp := *lot
	s.lots[lot.ID] = &cp
	return nil
}

func (s *memLotStore) filter(match func(*models.Lot) bool) []*models.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []*models.Lot
	for _, lot := range s.lots {
		if match(lot) {
			cp := *lot
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *memLotStore) GetByOwner(owner string) ([]*models.Lot, error) {
	return s.filter(func(l *models.Lot) bool { return l.Owner == owner }), nil
}

func (s *memLotStore) GetByOwnerSymbol(owner, symbol string) ([]*models.Lot, error) {
	return s.filter(func(l *models.Lot) bool { return l.Owner == owner && l.Symbol == symbol }), nil
}

func (s *memLotStore) GetByGroup(key models.LotGroupKey) ([]*models.Lot, error) {
	return s.filter(func(l *models.Lot) bool { return l.GroupKey() == key }), nil
}

func (s *memLotStore) GetAll() ([]*models.Lot, error) {
	return s.filter(func(*models.Lot) bool { return true }), nil
}

func (s *memLotStore) DeleteByIDs(ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return 0, s.delErr
	}
	var n int64
	for _, id := range ids {
		if _, ok := s.lots[id]; ok {
			delete(s.lots, id)
			s.deleted = append(s.deleted, id)
			n++
		}
	}
	return n, nil
}

func (s *memLotStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lots)
}

type memTradeStore struct {
	mu     sync.Mutex
	trades []*models.ClosedTrade
}

func (s *memTradeStore) Create(trade *models.ClosedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	trade.ID = int64(len(s.trades) + 1)
	s.trades = append(s.trades, trade)
	return nil
}

func (s *memTradeStore) all() []*models.ClosedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.ClosedTrade(nil), s.trades...)
}

type fakeCreds struct {
	creds exchange.Credentials
	err   error
}

func (f *fakeCreds) GetCredentials(owner, exchangeName string) (exchange.Credentials, error) {
	return f.creds, f.err
}

// ============ Исполнение и закрытие ============

type fakeOrders struct {
	mu       sync.Mutex
	result   func(req OrderRequest) models.FillResult
	requests []OrderRequest
	at       []time.Time
	clock    func() time.Time
	// entered получает сигнал при входе, block задерживает ответ до закрытия
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeOrders) PlaceOrder(ctx context.Context, req OrderRequest) models.FillResult {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	if f.clock != nil {
		f.at = append(f.at, f.clock())
	}
	f.mu.Unlock()
	return f.result(req)
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// filledAt - исполнение по фиксированной цене без комиссии
func filledAt(price float64) func(req OrderRequest) models.FillResult {
	return func(req OrderRequest) models.FillResult {
		r := models.FillResult{OK: true, Price: price, OrderID: "o-1", IsPaper: req.IsPaper}
		if req.Action == models.ActionBuy {
			r.Gross = req.Amount
			r.Quantity = req.Amount / price
		} else {
			r.Quantity = req.Amount
			r.Gross = req.Amount * price
		}
		return r
	}
}

type fakeCloser struct {
	mu     sync.Mutex
	closed []models.LotGroupKey
	trig   []string
	err    error
}

func (f *fakeCloser) CloseGroup(ctx context.Context, key models.LotGroupKey, trigger string) (*CloseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.closed = append(f.closed, key)
	f.trig = append(f.trig, trigger)
	return &CloseResult{Closed: true, NetPnl: 1}, nil
}

func (f *fakeCloser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.closed)
}

type fakeStrength struct {
	allowed bool
	strong  bool
	err     error
	profile config.ModeProfile
}

func (f *fakeStrength) Allowed() bool { return f.allowed }

func (f *fakeStrength) IsStrong(ctx context.Context, exchangeName, symbol string) (bool, error) {
	return f.strong, f.err
}

func (f *fakeStrength) Profile() config.ModeProfile { return f.profile }

// ============ Уведомления и справочники ============

type sentNotification struct {
	owner, notifType, severity, message string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (f *fakeNotifier) Notify(owner, notifType, severity, message string, meta map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotification{owner, notifType, severity, message})
}

func (f *fakeNotifier) ofType(notifType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sent {
		if s.notifType == notifType {
			n++
		}
	}
	return n
}

type fakeOwners map[string]*models.Owner

func (f fakeOwners) GetOwner(id string) (*models.Owner, error) {
	return f[id], nil
}

type fakeRules map[string]*models.AutomationRule

func (f fakeRules) Get(owner, exchangeName, symbol string) (*models.AutomationRule, error) {
	return f[owner+"|"+exchangeName+"|"+symbol], nil
}

type fakeBalances struct {
	balance float64
	err     error
}

func (f *fakeBalances) Balance(ctx context.Context, exchangeName string, creds exchange.Credentials, currency string) (float64, error) {
	return f.balance, f.err
}

type fakeGate struct {
	state models.GateState
}

func (f *fakeGate) State() models.GateState { return f.state }

type fakeExits struct {
	mu       sync.Mutex
	decision *ExitDecision
	err      error
	requests []models.DeferredKey
	removed  []models.DeferredKey
}

func (f *fakeExits) RequestExit(ctx context.Context, key models.DeferredKey, isPaper bool, reason string) (*ExitDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, key)
	return f.decision, f.err
}

func (f *fakeExits) Remove(key models.DeferredKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
}

// ============ Часы ============

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sleep продвигает часы вместо ожидания
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.Advance(d)
	return ctx.Err()
}
