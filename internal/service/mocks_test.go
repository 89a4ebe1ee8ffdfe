package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"spottrader/internal/exchange"
	"spottrader/internal/models"
	"spottrader/internal/repository"
)

// ============ Mock OwnerRepository ============

type MockOwnerRepository struct {
	owners    map[string]*models.Owner
	createErr error
	getErr    error
}

func NewMockOwnerRepository() *MockOwnerRepository {
	return &MockOwnerRepository{owners: make(map[string]*models.Owner)}
}

func (m *MockOwnerRepository) GetOwner(id string) (*models.Owner, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.owners[id], nil
}

func (m *MockOwnerRepository) Create(owner *models.Owner) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.owners[owner.ID]; exists {
		return repository.ErrOwnerExists
	}
	owner.CreatedAt = time.Now()
	m.owners[owner.ID] = owner
	return nil
}

func (m *MockOwnerRepository) UpdateSecretHash(id, hash string) error {
	owner, ok := m.owners[id]
	if !ok {
		return repository.ErrOwnerNotFound
	}
	owner.WebhookSecretHash = hash
	return nil
}

func (m *MockOwnerRepository) SetPaperMode(id string, paper bool) error {
	owner, ok := m.owners[id]
	if !ok {
		return repository.ErrOwnerNotFound
	}
	owner.PaperMode = paper
	return nil
}

// ============ Mock ExchangeRepository ============

type MockExchangeRepository struct {
	accounts  map[string]*models.ExchangeAccount
	upsertErr error
	getCalls  int
	lastError map[string]string
	nextID    int64
}

func NewMockExchangeRepository() *MockExchangeRepository {
	return &MockExchangeRepository{
		accounts:  make(map[string]*models.ExchangeAccount),
		lastError: make(map[string]string),
		nextID:    1,
	}
}

func (m *MockExchangeRepository) Upsert(account *models.ExchangeAccount) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	stored := *account
	if prev, ok := m.accounts[credsKey(account.Owner, account.Exchange)]; ok {
		stored.ID = prev.ID
	} else {
		stored.ID = m.nextID
		m.nextID++
	}
	account.ID = stored.ID
	m.accounts[credsKey(account.Owner, account.Exchange)] = &stored
	return nil
}

func (m *MockExchangeRepository) Get(owner, name string) (*models.ExchangeAccount, error) {
	m.getCalls++
	account, ok := m.accounts[credsKey(owner, name)]
	if !ok {
		return nil, repository.ErrExchangeNotFound
	}
	copied := *account
	return &copied, nil
}

func (m *MockExchangeRepository) GetByOwner(owner string) ([]*models.ExchangeAccount, error) {
	var result []*models.ExchangeAccount
	for _, a := range m.accounts {
		if a.Owner == owner {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Exchange < result[j].Exchange })
	return result, nil
}

func (m *MockExchangeRepository) Delete(owner, name string) error {
	key := credsKey(owner, name)
	if _, ok := m.accounts[key]; !ok {
		return repository.ErrExchangeNotFound
	}
	delete(m.accounts, key)
	return nil
}

func (m *MockExchangeRepository) UpdateLastError(owner, name, errMsg string) error {
	m.lastError[credsKey(owner, name)] = errMsg
	return nil
}

// ============ Mock RuleRepository ============

type MockRuleRepository struct {
	rules     map[string]*models.AutomationRule
	upsertErr error
}

func NewMockRuleRepository() *MockRuleRepository {
	return &MockRuleRepository{rules: make(map[string]*models.AutomationRule)}
}

func ruleKey(owner, exchangeName, symbol string) string {
	return owner + "|" + exchangeName + "|" + symbol
}

func (m *MockRuleRepository) Get(owner, exchangeName, symbol string) (*models.AutomationRule, error) {
	return m.rules[ruleKey(owner, exchangeName, symbol)], nil
}

func (m *MockRuleRepository) GetByOwner(owner string) ([]*models.AutomationRule, error) {
	var result []*models.AutomationRule
	for _, r := range m.rules {
		if r.Owner == owner {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *MockRuleRepository) Upsert(rule *models.AutomationRule) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.rules[ruleKey(rule.Owner, rule.Exchange, rule.Symbol)] = rule
	return nil
}

func (m *MockRuleRepository) Delete(owner, exchangeName, symbol string) error {
	key := ruleKey(owner, exchangeName, symbol)
	if _, ok := m.rules[key]; !ok {
		return repository.ErrRuleNotFound
	}
	delete(m.rules, key)
	return nil
}

// ============ Mock NotificationRepository ============

type MockNotificationRepository struct {
	mu        sync.Mutex
	items     []*models.Notification
	createErr error
	created   chan *models.Notification
}

func NewMockNotificationRepository() *MockNotificationRepository {
	return &MockNotificationRepository{created: make(chan *models.Notification, 64)}
}

func (m *MockNotificationRepository) Create(notif *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		m.created <- notif
		return m.createErr
	}
	notif.ID = int64(len(m.items) + 1)
	m.items = append(m.items, notif)
	m.created <- notif
	return nil
}

func (m *MockNotificationRepository) GetRecent(owner string, limit int) ([]*models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Notification
	for i := len(m.items) - 1; i >= 0 && len(result) < limit; i-- {
		if m.items[i].Owner == owner {
			result = append(result, m.items[i])
		}
	}
	return result, nil
}

func (m *MockNotificationRepository) DeleteByOwner(owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	for _, n := range m.items {
		if n.Owner != owner {
			kept = append(kept, n)
		}
	}
	m.items = kept
	return nil
}

func (m *MockNotificationRepository) KeepRecent(keepCount int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.items) <= keepCount {
		return 0, nil
	}
	deleted := int64(len(m.items) - keepCount)
	m.items = m.items[len(m.items)-keepCount:]
	return deleted, nil
}

func (m *MockNotificationRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// ============ Mock SettingsRepository ============

type MockSettingsRepository struct {
	settings  *models.Settings
	getErr    error
	updateErr error
}

func NewMockSettingsRepository(mode models.GateMode) *MockSettingsRepository {
	return &MockSettingsRepository{settings: &models.Settings{ID: 1, GateMode: mode}}
}

func (m *MockSettingsRepository) Get() (*models.Settings, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	copied := *m.settings
	return &copied, nil
}

func (m *MockSettingsRepository) UpdateGateMode(mode models.GateMode) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.settings.GateMode = mode
	return nil
}

// ============ Mock TradeRepository ============

type MockTradeRepository struct {
	trades     []*models.ClosedTrade
	sinceCalls []time.Time
	summaryErr error
	lastLimit  int
}

func (m *MockTradeRepository) GetByOwner(owner string, limit int) ([]*models.ClosedTrade, error) {
	m.lastLimit = limit
	var result []*models.ClosedTrade
	for _, t := range m.trades {
		if t.Owner == owner && len(result) < limit {
			result = append(result, t)
		}
	}
	return result, nil
}

func (m *MockTradeRepository) Summary(owner string, since time.Time) (*models.TradeSummary, error) {
	if m.summaryErr != nil {
		return nil, m.summaryErr
	}
	m.sinceCalls = append(m.sinceCalls, since)
	s := &models.TradeSummary{}
	for _, t := range m.trades {
		if t.Owner != owner || t.CreatedAt.Before(since) {
			continue
		}
		s.Trades++
		if t.NetPnl > 0 {
			s.Wins++
		} else if t.NetPnl < 0 {
			s.Losses++
		}
		s.TotalPnl += t.NetPnl
		s.Volume += t.Amount
	}
	return s, nil
}

// ============ Mock Gate ============

type MockGate struct {
	mode  models.GateMode
	state models.GateState
	sets  []string
}

func (g *MockGate) SetMode(mode string) error {
	switch models.GateMode(mode) {
	case models.GateModeConservative, models.GateModeNormal, models.GateModeAggressive:
	default:
		return errors.New("unknown mode")
	}
	g.sets = append(g.sets, mode)
	g.mode = models.GateMode(mode)
	g.state = models.GateState{Allow: false, Mode: g.mode, Reason: "mode changed"}
	return nil
}

func (g *MockGate) Mode() models.GateMode   { return g.mode }
func (g *MockGate) State() models.GateState { return g.state }

// ============ Mock exchange client ============

type mockExchange struct {
	exchange.Exchange
	balanceErr error
}

func (e *mockExchange) GetBalance(ctx context.Context, asset string) (float64, error) {
	if e.balanceErr != nil {
		return 0, e.balanceErr
	}
	return 100, nil
}

// ============ Mock broadcaster / pusher ============

type mockBroadcaster struct {
	mu    sync.Mutex
	notes []*models.Notification
}

func (b *mockBroadcaster) BroadcastNotification(notif *models.Notification) {
	b.mu.Lock()
	b.notes = append(b.notes, notif)
	b.mu.Unlock()
}

func (b *mockBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.notes)
}

type mockPusher struct {
	mu     sync.Mutex
	pushed []*models.Notification
	err    error
}

func (p *mockPusher) Push(ctx context.Context, notif *models.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, notif)
	return p.err
}
