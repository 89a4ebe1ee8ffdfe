package bot

import (
	"context"
	"errors"
	"testing"

	"spottrader/internal/models"
	"spottrader/pkg/crypto"
)

const (
	ownerSecret  = "owner-webhook-secret"
	globalSecret = "global-webhook-secret"
)

type routerFixture struct {
	router   *IntentRouter
	orders   *fakeOrders
	lots     *memLotStore
	trades   *memTradeStore
	exits    *fakeExits
	gate     *fakeGate
	rules    fakeRules
	balances *fakeBalances
	notifier *fakeNotifier
	clock    *fakeClock
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	hash, err := crypto.HashSecretWithCost(ownerSecret, 4)
	if err != nil {
		t.Fatal(err)
	}

	clock := newFakeClock()
	f := &routerFixture{
		orders:   &fakeOrders{result: filledAt(25), clock: clock.Now},
		lots:     newMemLotStore(),
		trades:   &memTradeStore{},
		exits:    &fakeExits{decision: &ExitDecision{Outcome: ExitDeferred}},
		gate:     &fakeGate{state: models.GateState{Allow: true, Reason: "trend confirmed"}},
		rules:    fakeRules{},
		balances: &fakeBalances{balance: 250},
		notifier: &fakeNotifier{},
		clock:    clock,
	}

	ledger := NewPositionLedger(f.lots, f.trades, f.orders, &fakeCreds{creds: liveCreds}, &fakePrices{}, f.notifier)
	ledger.now = clock.Now

	owners := fakeOwners{
		"paper": {ID: "paper", WebhookSecretHash: hash, PaperMode: true},
		"live":  {ID: "live", PaperMode: false},
	}

	f.router = NewIntentRouter(RouterDeps{
		Owners:       owners,
		Rules:        f.rules,
		Credentials:  &fakeCreds{creds: liveCreds},
		Balances:     f.balances,
		Orders:       f.orders,
		Ledger:       ledger,
		Exits:        f.exits,
		Gate:         f.gate,
		Notifier:     f.notifier,
		GlobalSecret: globalSecret,
	}, testTradingConfig())
	f.router.now = clock.Now
	f.router.sleep = clock.Sleep
	return f
}

func TestHandleWebhook_Authorization(t *testing.T) {
	f := newRouterFixture(t)
	f.rules["paper|binance|BTC/USDT"] = &models.AutomationRule{Amount: 50, Enabled: true}
	f.rules["live|binance|BTC/USDT"] = &models.AutomationRule{Amount: 50, Enabled: true}
	ctx := context.Background()

	tests := []struct {
		name    string
		intent  WebhookIntent
		wantErr error
	}{
		{"unknown owner", WebhookIntent{Owner: "ghost", Action: "BUY", Instrument: "BTCUSDT", Secret: globalSecret}, ErrUnknownOwner},
		{"missing owner", WebhookIntent{Action: "BUY", Instrument: "BTCUSDT", Secret: globalSecret}, ErrInvalidIntent},
		{"wrong secret", WebhookIntent{Owner: "paper", Action: "BUY", Instrument: "BTCUSDT", Secret: "nope"}, ErrUnauthorized},
		{"empty secret", WebhookIntent{Owner: "live", Action: "BUY", Instrument: "BTCUSDT"}, ErrUnauthorized},
		{"bad action", WebhookIntent{Owner: "paper", Action: "HOLD", Instrument: "BTCUSDT", Secret: ownerSecret}, ErrInvalidIntent},
		{"bad instrument", WebhookIntent{Owner: "paper", Action: "BUY", Instrument: "??", Secret: ownerSecret}, ErrInvalidIntent},
		{"bad exchange", WebhookIntent{Owner: "paper", Action: "BUY", Instrument: "BTCUSDT", Exchange: "kraken", Secret: ownerSecret}, ErrInvalidIntent},
		{"owner secret", WebhookIntent{Owner: "paper", Action: "BUY", Instrument: "BTCUSDT", Secret: ownerSecret}, nil},
		{"global secret", WebhookIntent{Owner: "live", Action: "buy", Instrument: "BTC/USDT", Secret: globalSecret}, nil},
		{"global secret for owner with own hash", WebhookIntent{Owner: "paper", Action: "BUY", Instrument: "BTC-USDT", Secret: globalSecret}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.router.HandleWebhook(ctx, tt.intent)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ожидали %v, получили %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if !res.OK {
				t.Errorf("ожидали успех: %+v", res)
			}
		})
	}
}

func TestHandleWebhook_BuyBlockedByGate(t *testing.T) {
	f := newRouterFixture(t)
	f.rules["paper|binance|BTC/USDT"] = &models.AutomationRule{Amount: 50, Enabled: true}
	f.gate.state = models.GateState{Allow: false, Reason: "RSI 40.0 below 50.0"}

	res, err := f.router.HandleWebhook(context.Background(), WebhookIntent{
		Owner: "paper", Action: "BUY", Instrument: "BTCUSDT", Secret: ownerSecret,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || !res.Blocked || res.Reason != "RSI 40.0 below 50.0" {
		t.Errorf("ожидали blocked с причиной фильтра: %+v", res)
	}
	if f.orders.count() != 0 {
		t.Error("заблокированная покупка не отправляет ордер")
	}
	if f.notifier.ofType(models.NotificationTypeBlocked) != 1 {
		t.Error("ожидали уведомление BLOCKED")
	}
}

func TestHandleWebhook_BuyUsesRule(t *testing.T) {
	f := newRouterFixture(t)
	f.rules["paper|binance|BTC/USDT"] = &models.AutomationRule{Amount: 50, Enabled: true}

	res, err := f.router.HandleWebhook(context.Background(), WebhookIntent{
		Owner: "paper", Action: "BUY", Instrument: "BTCUSDT", Secret: ownerSecret,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Fill == nil || res.Fill.Quantity != 2 {
		t.Fatalf("ожидали покупку 2 BTC по 25: %+v", res)
	}

	req := f.orders.requests[0]
	if req.Amount != 50 || !req.IsPaper || req.Exchange != "binance" || req.Symbol != "BTC/USDT" {
		t.Errorf("неверный ордер: %+v", req)
	}
	if f.lots.count() != 1 {
		t.Errorf("ожидали один лот, получили %d", f.lots.count())
	}
	if f.notifier.ofType(models.NotificationTypeFill) != 1 {
		t.Error("ожидали уведомление FILL")
	}
}

func TestHandleWebhook_BuyRuleVariants(t *testing.T) {
	tests := []struct {
		name       string
		owner      string
		secret     string
		rule       *models.AutomationRule
		wantOK     bool
		wantAmount float64
	}{
		{"no rule", "paper", ownerSecret, nil, false, 0},
		{"disabled rule", "paper", ownerSecret, &models.AutomationRule{Amount: 50, Enabled: false}, false, 0},
		{"paper full balance", "paper", ownerSecret, &models.AutomationRule{Amount: models.AmountFullBalance, Enabled: true}, true, 1000},
		{"live full balance", "live", globalSecret, &models.AutomationRule{Amount: models.AmountFullBalance, Enabled: true}, true, 250},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			if tt.rule != nil {
				f.rules[tt.owner+"|binance|ETH/USDT"] = tt.rule
			}

			res, err := f.router.HandleWebhook(context.Background(), WebhookIntent{
				Owner: tt.owner, Action: "BUY", Instrument: "ETHUSDT", Secret: tt.secret,
			})
			if err != nil {
				t.Fatal(err)
			}
			if res.OK != tt.wantOK {
				t.Fatalf("OK: ожидали %v, получили %+v", tt.wantOK, res)
			}
			if !tt.wantOK {
				if f.orders.count() != 0 {
					t.Error("без правила ордер не отправляется")
				}
				return
			}
			if got := f.orders.requests[0].Amount; got != tt.wantAmount {
				t.Errorf("сумма: ожидали %v, получили %v", tt.wantAmount, got)
			}
		})
	}
}

func TestHandleWebhook_SellIsDeferred(t *testing.T) {
	f := newRouterFixture(t)

	res, err := f.router.HandleWebhook(context.Background(), WebhookIntent{
		Owner: "paper", Action: "SELL", Instrument: "BTCUSDT", Secret: ownerSecret,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || !res.Deferred || res.Outcome != ExitDeferred {
		t.Errorf("ожидали отложенную продажу: %+v", res)
	}
	if len(f.exits.requests) != 1 {
		t.Fatal("продажа по вебхуку идёт через очередь отложенных продаж")
	}
	want := models.DeferredKey{Owner: "paper", Exchange: "binance", Symbol: "BTC/USDT"}
	if f.exits.requests[0] != want {
		t.Errorf("неверный ключ: %+v", f.exits.requests[0])
	}
}

func TestHandleWebhook_SellInstantReportsPnl(t *testing.T) {
	f := newRouterFixture(t)
	f.exits.decision = &ExitDecision{
		Outcome: ExitInstant,
		Close:   &CloseResult{Closed: true, NetPnl: 39, Fill: &models.FillResult{OK: true}},
	}

	res, err := f.router.HandleWebhook(context.Background(), WebhookIntent{
		Owner: "paper", Action: "SELL", Instrument: "BTCUSDT", Secret: ownerSecret,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK || res.Deferred || res.Pnl == nil || *res.Pnl != 39 {
		t.Errorf("ожидали мгновенную продажу с P&L: %+v", res)
	}

	f.exits.decision = &ExitDecision{Outcome: ExitInstant, Close: &CloseResult{Closed: false, Reason: ReasonNothingToClose}}
	res, err = f.router.HandleWebhook(context.Background(), WebhookIntent{
		Owner: "paper", Action: "SELL", Instrument: "BTCUSDT", Secret: ownerSecret,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Reason != ReasonNothingToClose {
		t.Errorf("пустая группа: %+v", res)
	}
}

func TestManualBuyThenSell_Debounce(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	buy, err := f.router.ManualBuy(ctx, "paper", "binance", "BTC/USDT", 50)
	if err != nil || !buy.OK {
		t.Fatalf("ManualBuy: %+v, %v", buy, err)
	}

	sell, err := f.router.ManualSell(ctx, "paper", "binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("ManualSell: %v", err)
	}
	if !sell.OK || sell.Pnl == nil {
		t.Fatalf("ожидали закрытие группы: %+v", sell)
	}

	if len(f.orders.at) != 2 {
		t.Fatalf("ожидали 2 ордера, получили %d", len(f.orders.at))
	}
	if gap := f.orders.at[1].Sub(f.orders.at[0]); gap < testTradingConfig().DebounceWindow {
		t.Errorf("SELL должен идти не раньше окна debounce после BUY, прошло %v", gap)
	}
	if len(f.exits.removed) != 1 {
		t.Error("ручная продажа убирает отложенную запись")
	}
	if len(f.trades.all()) != 1 || f.lots.count() != 0 {
		t.Error("ожидали одну закрытую сделку и пустой учёт")
	}
}

func TestManualSell_NoDebounceWithoutRecentBuy(t *testing.T) {
	f := newRouterFixture(t)
	start := f.clock.Now()

	res, err := f.router.ManualSell(context.Background(), "paper", "binance", "BTC/USDT")
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Reason != ReasonNothingToClose {
		t.Errorf("пустая группа: %+v", res)
	}
	if !f.clock.Now().Equal(start) {
		t.Error("без недавней покупки ожидания нет")
	}
}

func TestManualBuy_Validation(t *testing.T) {
	f := newRouterFixture(t)

	if _, err := f.router.ManualBuy(context.Background(), "paper", "binance", "BTC/USDT", 0); !errors.Is(err, ErrInvalidIntent) {
		t.Errorf("нулевая сумма: ожидали ErrInvalidIntent, получили %v", err)
	}
	if _, err := f.router.ManualBuy(context.Background(), "ghost", "binance", "BTC/USDT", 10); !errors.Is(err, ErrUnknownOwner) {
		t.Errorf("ожидали ErrUnknownOwner, получили %v", err)
	}

	// ручная покупка не проходит через фильтр
	f.gate.state = models.GateState{Allow: false}
	res, err := f.router.ManualBuy(context.Background(), "paper", "", "BTC/USDT", 10)
	if err != nil || !res.OK {
		t.Errorf("ручная покупка при запрете фильтра: %+v, %v", res, err)
	}
	if f.orders.requests[0].Exchange != "binance" {
		t.Errorf("ожидали биржу по умолчанию, получили %s", f.orders.requests[0].Exchange)
	}
}

func TestManualBuy_OrderFailureNotifies(t *testing.T) {
	f := newRouterFixture(t)
	f.orders.result = func(OrderRequest) models.FillResult { return models.Failed("insufficient balance") }

	res, err := f.router.ManualBuy(context.Background(), "live", "bybit", "BTC/USDT", 10)
	if err != nil {
		t.Fatal(err)
	}
	if res.OK || res.Reason != "insufficient balance" {
		t.Errorf("ожидали отказ с причиной: %+v", res)
	}
	if f.lots.count() != 0 {
		t.Error("неисполненная покупка не создаёт лот")
	}
	if f.notifier.ofType(models.NotificationTypeError) != 1 {
		t.Error("ожидали уведомление об ошибке")
	}
}
