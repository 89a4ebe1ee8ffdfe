package bot

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spottrader/internal/models"
)

const floatEpsilon = 1e-9

// newTestLedger собирает реестр на фейках; nil notifier заменяется пустым,
// чтобы в интерфейс не попал типизированный nil
func newTestLedger(lots *memLotStore, trades *memTradeStore, orders *fakeOrders, prices *fakePrices, notifier *fakeNotifier) *PositionLedger {
	if notifier == nil {
		notifier = &fakeNotifier{}
	}
	l := NewPositionLedger(lots, trades, orders, &fakeCreds{}, prices, notifier)
	clock := newFakeClock()
	l.now = clock.Now
	return l
}

func seedLot(t *testing.T, store *memLotStore, lot models.Lot) {
	t.Helper()
	if lot.Owner == "" {
		lot.Owner = "o1"
	}
	if lot.Exchange == "" {
		lot.Exchange = "binance"
	}
	if lot.Symbol == "" {
		lot.Symbol = "BTC/USDT"
	}
	if err := store.Create(&lot); err != nil {
		t.Fatal(err)
	}
}

// ============ Stacking ============

func TestStackLots_SumsAndWeightedAverage(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lots := []*models.Lot{
		{ID: 1, Owner: "o1", Exchange: "binance", Symbol: "BTC/USDT", Quantity: 1, EntryPrice: 100, EntryNotional: 100, BuyFeeQuote: 0.1, CreatedAt: base.Add(time.Hour)},
		{ID: 2, Owner: "o1", Exchange: "binance", Symbol: "BTC/USDT", Quantity: 3, EntryPrice: 200, EntryNotional: 600, BuyFeeQuote: 0.6, CreatedAt: base},
		// без цены: входит в сумму количества, но не в среднюю
		{ID: 3, Owner: "o1", Exchange: "binance", Symbol: "BTC/USDT", Quantity: 2, EntryPrice: 0, EntryNotional: 10, CreatedAt: base.Add(2 * time.Hour)},
		// другая группа (paper)
		{ID: 4, Owner: "o1", Exchange: "binance", Symbol: "BTC/USDT", Quantity: 5, EntryPrice: 50, EntryNotional: 250, IsPaper: true, CreatedAt: base.Add(3 * time.Hour)},
	}

	stacks := StackLots(lots)
	if len(stacks) != 2 {
		t.Fatalf("ожидали 2 группы, получили %d", len(stacks))
	}

	live := stacks[0]
	if live.Key.IsPaper {
		t.Fatal("первой должна идти более старая live группа")
	}
	if live.Quantity != 6 {
		t.Errorf("Quantity: ожидали 6, получили %v", live.Quantity)
	}
	if live.EntryNotional != 710 {
		t.Errorf("EntryNotional: ожидали 710, получили %v", live.EntryNotional)
	}
	if math.Abs(live.AvgEntryPrice-175) > floatEpsilon {
		t.Errorf("AvgEntryPrice: ожидали 175, получили %v", live.AvgEntryPrice)
	}
	if live.AvgEntryPrice < 100 || live.AvgEntryPrice > 200 {
		t.Errorf("средняя %v вне диапазона цен членов", live.AvgEntryPrice)
	}
	if math.Abs(live.BuyFeesQuote-0.7) > floatEpsilon {
		t.Errorf("BuyFeesQuote: ожидали 0.7, получили %v", live.BuyFeesQuote)
	}
	if live.LotCount != 3 {
		t.Errorf("LotCount: ожидали 3, получили %d", live.LotCount)
	}
	if !live.OpenedAt.Equal(base) || !live.LastBuyAt.Equal(base.Add(2*time.Hour)) {
		t.Errorf("неверные границы времени: %v .. %v", live.OpenedAt, live.LastBuyAt)
	}

	if stacks[1].Quantity != 5 || stacks[1].AvgEntryPrice != 50 {
		t.Errorf("paper группа: %+v", stacks[1])
	}
}

func TestStackLots_Empty(t *testing.T) {
	if got := StackLots(nil); len(got) != 0 {
		t.Errorf("ожидали пустой результат, получили %d", len(got))
	}
}

// ============ P&L ============

func TestRealizedPnl(t *testing.T) {
	tests := []struct {
		name      string
		gross     float64
		sellFee   float64
		lots      []*models.Lot
		feePrices map[string]float64
		wantNet   float64
		wantFees  float64
	}{
		{
			name:    "quote fees",
			gross:   250,
			sellFee: 1,
			lots:    []*models.Lot{{EntryNotional: 210}},
			wantNet: 39, wantFees: 1,
		},
		{
			name:    "stacked lots with buy fees",
			gross:   250,
			sellFee: 1,
			lots:    []*models.Lot{{EntryNotional: 100, BuyFeeQuote: 0.5}, {EntryNotional: 110, BuyFeeQuote: 0.5}},
			wantNet: 38, wantFees: 2,
		},
		{
			name:      "base fee converted",
			gross:     250,
			sellFee:   0,
			lots:      []*models.Lot{{EntryNotional: 210, BuyFeeBase: 0.002, BuyFeeCurrency: "BNB"}},
			feePrices: map[string]float64{"BNB": 300},
			wantNet:   39.4, wantFees: 0.6,
		},
		{
			name:    "base fee without price is ignored",
			gross:   250,
			sellFee: 1,
			lots:    []*models.Lot{{EntryNotional: 210, BuyFeeBase: 0.002, BuyFeeCurrency: "BNB"}},
			wantNet: 39, wantFees: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feePrice := func(c string) float64 { return tt.feePrices[c] }
			net, fees := RealizedPnl(decimal.NewFromFloat(tt.gross), decimal.NewFromFloat(tt.sellFee), tt.lots, feePrice)
			if math.Abs(net.InexactFloat64()-tt.wantNet) > floatEpsilon {
				t.Errorf("net: ожидали %v, получили %v", tt.wantNet, net)
			}
			if math.Abs(fees.InexactFloat64()-tt.wantFees) > floatEpsilon {
				t.Errorf("fees: ожидали %v, получили %v", tt.wantFees, fees)
			}
		})
	}
}

// ============ AddLot ============

func TestAddLot(t *testing.T) {
	lots := newMemLotStore()
	ledger := newTestLedger(lots, &memTradeStore{}, &fakeOrders{}, &fakePrices{}, nil)

	fill := models.FillResult{OK: true, Price: 25, Quantity: 2, Gross: 50, OrderID: "paper-1", IsPaper: true}
	lot, err := ledger.AddLot("o1", "binance", "btc-usdt", fill)
	if err != nil {
		t.Fatalf("AddLot: %v", err)
	}
	if lot.Symbol != "BTC/USDT" || lot.EntryNotional != 50 || !lot.IsPaper {
		t.Errorf("неверный лот: %+v", lot)
	}

	// второй BUY не сливается с первым
	if _, err := ledger.AddLot("o1", "binance", "BTC/USDT", fill); err != nil {
		t.Fatal(err)
	}
	if lots.count() != 2 {
		t.Errorf("ожидали 2 лота, получили %d", lots.count())
	}
}

func TestAddLot_RejectsFailedFill(t *testing.T) {
	ledger := newTestLedger(newMemLotStore(), &memTradeStore{}, &fakeOrders{}, &fakePrices{}, nil)

	for _, fill := range []models.FillResult{
		models.Failed("boom"),
		{OK: true, Price: 10, Quantity: 0},
		{OK: true, Price: 0, Quantity: 1},
	} {
		if _, err := ledger.AddLot("o1", "binance", "BTC/USDT", fill); !errors.Is(err, ErrInvalidFill) {
			t.Errorf("fill %+v: ожидали ErrInvalidFill, получили %v", fill, err)
		}
	}
}

// ============ CloseGroup ============

func TestCloseGroup_NetPnlAndIdempotency(t *testing.T) {
	lots := newMemLotStore()
	trades := &memTradeStore{}
	seedLot(t, lots, models.Lot{Quantity: 1, EntryPrice: 100, EntryNotional: 100})
	seedLot(t, lots, models.Lot{Quantity: 1, EntryPrice: 110, EntryNotional: 110})
	// чужая группа не затрагивается
	seedLot(t, lots, models.Lot{Symbol: "ETH/USDT", Quantity: 1, EntryPrice: 10, EntryNotional: 10})

	orders := &fakeOrders{result: func(req OrderRequest) models.FillResult {
		return models.FillResult{OK: true, Price: 125, Quantity: req.Amount, Gross: 250, FeeQuote: 1, OrderID: "s-1"}
	}}
	notifier := &fakeNotifier{}
	ledger := newTestLedger(lots, trades, orders, &fakePrices{}, notifier)
	ledger.creds = &fakeCreds{}

	key := models.LotGroupKey{Owner: "o1", Exchange: "binance", Symbol: "BTC/USDT"}
	res, err := ledger.CloseGroup(context.Background(), key, TriggerManual)
	if err != nil {
		t.Fatalf("CloseGroup: %v", err)
	}
	if !res.Closed {
		t.Fatalf("группа должна быть закрыта: %+v", res)
	}
	if math.Abs(res.NetPnl-39) > floatEpsilon {
		t.Errorf("NetPnl: ожидали 39, получили %v", res.NetPnl)
	}
	if res.Gross != 250 || res.TotalFees != 1 || res.LotCount != 2 {
		t.Errorf("неверный результат: %+v", res)
	}

	if orders.requests[0].Amount != 2 || orders.requests[0].Action != models.ActionSell {
		t.Errorf("продажа должна идти на всё количество группы: %+v", orders.requests[0])
	}
	if lots.count() != 1 {
		t.Errorf("должен остаться только лот другой группы, осталось %d", lots.count())
	}

	recorded := trades.all()
	if len(recorded) != 1 {
		t.Fatalf("ожидали одну закрытую сделку, получили %d", len(recorded))
	}
	if recorded[0].Amount != 250 || math.Abs(recorded[0].NetPnl-39) > floatEpsilon || recorded[0].Action != models.ActionSell {
		t.Errorf("неверная сделка: %+v", recorded[0])
	}
	if notifier.ofType(models.NotificationTypeClose) != 1 {
		t.Error("ожидали уведомление CLOSE")
	}

	// повторное закрытие - нечего закрывать, ордера нет
	again, err := ledger.CloseGroup(context.Background(), key, TriggerManual)
	if err != nil {
		t.Fatalf("повторный CloseGroup: %v", err)
	}
	if again.Closed || again.Reason != ReasonNothingToClose {
		t.Errorf("ожидали nothing to close, получили %+v", again)
	}
	if orders.count() != 1 {
		t.Errorf("повторное закрытие не должно отправлять ордер, отправлено %d", orders.count())
	}
	if len(trades.all()) != 1 {
		t.Error("повторное закрытие не должно добавлять сделку")
	}
}

func TestCloseGroup_ConcurrentCallerSeesNothingToClose(t *testing.T) {
	lots := newMemLotStore()
	seedLot(t, lots, models.Lot{Quantity: 1, EntryPrice: 100, EntryNotional: 100, IsPaper: true})

	orders := &fakeOrders{
		result:  filledAt(120),
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	ledger := newTestLedger(lots, &memTradeStore{}, orders, &fakePrices{}, nil)
	key := models.LotGroupKey{Owner: "o1", Exchange: "binance", Symbol: "BTC/USDT", IsPaper: true}

	type outcome struct {
		res *CloseResult
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		res, err := ledger.CloseGroup(context.Background(), key, TriggerManual)
		first <- outcome{res, err}
	}()

	<-orders.entered
	second, err := ledger.CloseGroup(context.Background(), key, TriggerTarget)
	if err != nil {
		t.Fatalf("второй вызов: %v", err)
	}
	if second.Closed || second.Reason != ReasonNothingToClose {
		t.Errorf("второй вызов должен увидеть nothing to close, получили %+v", second)
	}

	close(orders.block)
	got := <-first
	if got.err != nil || !got.res.Closed {
		t.Fatalf("первый вызов должен закрыть группу: %+v, %v", got.res, got.err)
	}
	if orders.count() != 1 {
		t.Errorf("ожидали ровно один ордер, получили %d", orders.count())
	}
}

func TestCloseGroup_OrderFailureKeepsLots(t *testing.T) {
	lots := newMemLotStore()
	trades := &memTradeStore{}
	seedLot(t, lots, models.Lot{Quantity: 1, EntryPrice: 100, EntryNotional: 100, IsPaper: true})

	orders := &fakeOrders{result: func(OrderRequest) models.FillResult { return models.Failed("insufficient balance") }}
	notifier := &fakeNotifier{}
	ledger := newTestLedger(lots, trades, orders, &fakePrices{}, notifier)

	key := models.LotGroupKey{Owner: "o1", Exchange: "binance", Symbol: "BTC/USDT", IsPaper: true}
	_, err := ledger.CloseGroup(context.Background(), key, TriggerManual)
	if !errors.Is(err, ErrCloseFailed) {
		t.Fatalf("ожидали ErrCloseFailed, получили %v", err)
	}
	if lots.count() != 1 {
		t.Error("лоты должны остаться после неудачной продажи")
	}
	if len(trades.all()) != 0 {
		t.Error("сделка не должна записываться")
	}
	if notifier.ofType(models.NotificationTypeError) != 1 {
		t.Error("ожидали уведомление об ошибке")
	}
}

func TestCloseGroup_SellFeeInBaseCurrency(t *testing.T) {
	lots := newMemLotStore()
	seedLot(t, lots, models.Lot{Quantity: 2, EntryPrice: 105, EntryNotional: 210, IsPaper: true})

	orders := &fakeOrders{result: func(req OrderRequest) models.FillResult {
		return models.FillResult{OK: true, Price: 125, Quantity: 2, Gross: 250, FeeBase: 0.01, FeeCurrency: "BNB"}
	}}
	prices := &fakePrices{feePrices: map[string]float64{"BNB": 100}}
	ledger := newTestLedger(lots, &memTradeStore{}, orders, prices, nil)

	key := models.LotGroupKey{Owner: "o1", Exchange: "binance", Symbol: "BTC/USDT", IsPaper: true}
	res, err := ledger.CloseGroup(context.Background(), key, TriggerManual)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.NetPnl-39) > floatEpsilon {
		t.Errorf("NetPnl: ожидали 39, получили %v", res.NetPnl)
	}
}

func TestCloseGroup_LiveNeedsCredentials(t *testing.T) {
	lots := newMemLotStore()
	seedLot(t, lots, models.Lot{Quantity: 1, EntryPrice: 100, EntryNotional: 100})

	orders := &fakeOrders{result: filledAt(100)}
	ledger := newTestLedger(lots, &memTradeStore{}, orders, &fakePrices{}, nil)
	ledger.creds = &fakeCreds{err: errors.New("exchange not connected")}

	key := models.LotGroupKey{Owner: "o1", Exchange: "binance", Symbol: "BTC/USDT"}
	if _, err := ledger.CloseGroup(context.Background(), key, TriggerManual); err == nil {
		t.Fatal("ожидали ошибку ключей")
	}
	if orders.count() != 0 {
		t.Error("без ключей ордер не отправляется")
	}
}

func TestPositions_SkipsInactiveLots(t *testing.T) {
	lots := newMemLotStore()
	seedLot(t, lots, models.Lot{Quantity: 1, EntryPrice: 100, EntryNotional: 100})
	seedLot(t, lots, models.Lot{Quantity: 0, EntryPrice: 100, EntryNotional: 0})
	seedLot(t, lots, models.Lot{Owner: "o2", Quantity: 1, EntryPrice: 100, EntryNotional: 100})

	ledger := newTestLedger(lots, &memTradeStore{}, &fakeOrders{}, &fakePrices{}, nil)

	positions, err := ledger.Positions("o1")
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 || positions[0].LotCount != 1 {
		t.Fatalf("ожидали один стек из одного лота: %+v", positions)
	}

	all, err := ledger.AllPositions()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("ожидали 2 стека всех владельцев, получили %d", len(all))
	}
}
