package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"spottrader/internal/bot"
	"spottrader/internal/exchange"
	"spottrader/internal/models"
	"spottrader/internal/service"
)

// ErrMockDatabase - ошибка хранилища в моках
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Intent Router ============

type MockRouter struct {
	result *bot.IntentResult
	err    error

	mu       sync.Mutex
	webhooks []bot.WebhookIntent
	buys     []string
	sells    []string
	amount   float64
}

func (m *MockRouter) HandleWebhook(ctx context.Context, w bot.WebhookIntent) (*bot.IntentResult, error) {
	m.mu.Lock()
	m.webhooks = append(m.webhooks, w)
	m.mu.Unlock()
	return m.result, m.err
}

func (m *MockRouter) ManualBuy(ctx context.Context, ownerID, exchangeName, symbol string, amount float64) (*bot.IntentResult, error) {
	m.mu.Lock()
	m.buys = append(m.buys, ownerID+"|"+exchangeName+"|"+symbol)
	m.amount = amount
	m.mu.Unlock()
	return m.result, m.err
}

func (m *MockRouter) ManualSell(ctx context.Context, ownerID, exchangeName, symbol string) (*bot.IntentResult, error) {
	m.mu.Lock()
	m.sells = append(m.sells, ownerID+"|"+exchangeName+"|"+symbol)
	m.mu.Unlock()
	return m.result, m.err
}

// ============ Mock Positions ============

type MockPositions struct {
	positions map[string][]*models.StackedPosition
	err       error
}

func (m *MockPositions) Positions(owner string) ([]*models.StackedPosition, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.positions[owner], nil
}

type MockPending struct {
	pending map[string][]models.DeferredExit
}

func (m *MockPending) Pending(owner string) []models.DeferredExit {
	return m.pending[owner]
}

type MockPrices struct {
	prices    map[string]float64
	feePrices map[string]float64 // currency -> price in quote
}

func (m *MockPrices) Price(ctx context.Context, exchangeName, symbol string) (float64, error) {
	p, ok := m.prices[exchangeName+"|"+symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return p, nil
}

func (m *MockPrices) FeePriceInQuote(ctx context.Context, exchangeName, feeCurrency, quote string) float64 {
	if strings.EqualFold(feeCurrency, quote) {
		return 1
	}
	return m.feePrices[feeCurrency]
}

// ============ Mock Rule Service ============

type MockRuleService struct {
	rules     map[string]*models.AutomationRule
	saveErr   error
	listErr   error
	deleteErr error
}

func NewMockRuleService() *MockRuleService {
	return &MockRuleService{rules: make(map[string]*models.AutomationRule)}
}

func (m *MockRuleService) List(owner string) ([]*models.AutomationRule, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*models.AutomationRule
	for _, r := range m.rules {
		if r.Owner == owner {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockRuleService) Save(owner, exchangeName, symbol string, amount float64, enabled bool) (*models.AutomationRule, error) {
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	rule := &models.AutomationRule{
		ID: int64(len(m.rules) + 1), Owner: owner, Exchange: exchangeName,
		Symbol: symbol, Amount: amount, Enabled: enabled, UpdatedAt: time.Now(),
	}
	m.rules[owner+"|"+exchangeName+"|"+symbol] = rule
	return rule, nil
}

func (m *MockRuleService) Delete(owner, exchangeName, symbol string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	key := owner + "|" + exchangeName + "|" + symbol
	if _, ok := m.rules[key]; !ok {
		return service.ErrRuleNotFound
	}
	delete(m.rules, key)
	return nil
}

// ============ Mock Exchange Service ============

type MockExchangeService struct {
	accounts   map[string]*models.ExchangeAccount
	connectErr error
	credsErr   error
	lastErrors map[string]string
}

func NewMockExchangeService() *MockExchangeService {
	return &MockExchangeService{
		accounts:   make(map[string]*models.ExchangeAccount),
		lastErrors: make(map[string]string),
	}
}

func (m *MockExchangeService) ConnectExchange(ctx context.Context, owner, name, apiKey, secretKey, passphrase string) (*models.ExchangeAccount, error) {
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	account := &models.ExchangeAccount{ID: 1, Owner: owner, Exchange: name, APIKey: apiKey, SecretKey: secretKey}
	m.accounts[owner+"|"+name] = account
	return account, nil
}

func (m *MockExchangeService) DisconnectExchange(owner, name string) error {
	if _, ok := m.accounts[owner+"|"+name]; !ok {
		return service.ErrExchangeNotConnected
	}
	delete(m.accounts, owner+"|"+name)
	return nil
}

func (m *MockExchangeService) GetAccounts(owner string) ([]*models.ExchangeAccount, error) {
	var out []*models.ExchangeAccount
	for _, a := range m.accounts {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MockExchangeService) GetCredentials(owner, name string) (exchange.Credentials, error) {
	if m.credsErr != nil {
		return exchange.Credentials{}, m.credsErr
	}
	a, ok := m.accounts[owner+"|"+name]
	if !ok {
		return exchange.Credentials{}, service.ErrExchangeNotConnected
	}
	return exchange.Credentials{APIKey: a.APIKey, SecretKey: a.SecretKey}, nil
}

func (m *MockExchangeService) RecordError(owner, name string, cause error) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	m.lastErrors[owner+"|"+name] = msg
}

type MockBalances struct {
	balance  float64
	err      error
	currency string
}

func (m *MockBalances) Balance(ctx context.Context, exchangeName string, creds exchange.Credentials, currency string) (float64, error) {
	m.currency = currency
	return m.balance, m.err
}

// ============ Mock Settings Service ============

type MockSettingsService struct {
	settings *models.Settings
	state    models.GateState
	getErr   error
	setErr   error
}

func NewMockSettingsService() *MockSettingsService {
	return &MockSettingsService{
		settings: &models.Settings{ID: 1, GateMode: models.GateModeNormal},
		state:    models.GateState{Allow: true, Mode: models.GateModeNormal, Reason: "trend confirmed"},
	}
}

func (m *MockSettingsService) GetSettings() (*models.Settings, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.settings, nil
}

func (m *MockSettingsService) GateState() models.GateState {
	return m.state
}

func (m *MockSettingsService) SetGateMode(mode string) (models.GateState, error) {
	if m.setErr != nil {
		return models.GateState{}, m.setErr
	}
	parsed, err := bot.ParseMode(mode)
	if err != nil {
		return models.GateState{}, err
	}
	m.settings.GateMode = parsed
	m.state = models.GateState{Allow: false, Mode: parsed, Reason: "mode changed, waiting for evaluation"}
	return m.state, nil
}

// ============ Mock Stats Service ============

type MockStatsService struct {
	trades    []*models.ClosedTrade
	summaries []*models.TradeSummary
	err       error
	lastLimit int
}

func (m *MockStatsService) GetSummaries(owner string) ([]*models.TradeSummary, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.summaries, nil
}

func (m *MockStatsService) GetTrades(owner string, limit int) ([]*models.ClosedTrade, error) {
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.trades, nil
}

// ============ Mock Notification Service ============

type MockNotificationService struct {
	notifications []*models.Notification
	getErr        error
	clearErr      error
	lastLimit     int
	cleared       []string
}

func (m *MockNotificationService) GetNotifications(owner string, limit int) ([]*models.Notification, error) {
	m.lastLimit = limit
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []*models.Notification
	for _, n := range m.notifications {
		if n.Owner == owner {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *MockNotificationService) ClearNotifications(owner string) error {
	if m.clearErr != nil {
		return m.clearErr
	}
	m.cleared = append(m.cleared, owner)
	return nil
}

// ============ Mock Owner Service ============

type MockOwnerService struct {
	owners      map[string]*models.Owner
	registerErr error
	rotateErr   error
}

func NewMockOwnerService() *MockOwnerService {
	return &MockOwnerService{owners: make(map[string]*models.Owner)}
}

func (m *MockOwnerService) Register(id, secret string, paper bool) (*models.Owner, error) {
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	owner := &models.Owner{ID: id, PaperMode: paper, WebhookSecretHash: "hash-" + secret, CreatedAt: time.Now()}
	m.owners[id] = owner
	return owner, nil
}

func (m *MockOwnerService) GetOwner(id string) (*models.Owner, error) {
	return m.owners[id], nil
}

func (m *MockOwnerService) RotateSecret(id, secret string) error {
	if m.rotateErr != nil {
		return m.rotateErr
	}
	owner, ok := m.owners[id]
	if !ok {
		return service.ErrOwnerNotFound
	}
	owner.WebhookSecretHash = "hash-" + secret
	return nil
}

func (m *MockOwnerService) SetPaperMode(id string, paper bool) error {
	owner, ok := m.owners[id]
	if !ok {
		return service.ErrOwnerNotFound
	}
	owner.PaperMode = paper
	return nil
}

// Проверка соответствия интерфейсам
var (
	_ IntentHandler                = (*MockRouter)(nil)
	_ PositionLister               = (*MockPositions)(nil)
	_ PendingLister                = (*MockPending)(nil)
	_ PriceReader                  = (*MockPrices)(nil)
	_ RuleServiceInterface         = (*MockRuleService)(nil)
	_ ExchangeServiceInterface     = (*MockExchangeService)(nil)
	_ bot.BalanceReader            = (*MockBalances)(nil)
	_ SettingsServiceInterface     = (*MockSettingsService)(nil)
	_ StatsServiceInterface        = (*MockStatsService)(nil)
	_ NotificationServiceInterface = (*MockNotificationService)(nil)
	_ OwnerServiceInterface        = (*MockOwnerService)(nil)
)
